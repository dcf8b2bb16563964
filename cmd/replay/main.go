// Command replay re-reads a match journal, verifies the recorded frames
// against the race invariants, and can re-render the boards.
package main

import (
	"flag"
	"fmt"
	"os"

	persistlog "looneyrace.ai/internal/persistence/log"
	"looneyrace.ai/internal/protocol"
	"looneyrace.ai/internal/render"
)

func main() {
	var (
		journalPath = flag.String("journal", "", "path to frames.jsonl.zst")
		doRender    = flag.Bool("render", false, "re-render each board frame")
		fromStep    = flag.Uint64("from_step", 0, "start rendering from step (inclusive)")
		toStep      = flag.Uint64("to_step", 0, "stop at step (inclusive, 0 = end)")
	)
	flag.Parse()

	if *journalPath == "" {
		fmt.Fprintln(os.Stderr, "missing -journal")
		os.Exit(2)
	}

	var (
		frames        int
		lastDelivered int
		sawGameOver   bool
		last          protocol.Snapshot
	)
	err := persistlog.ReadFrames(*journalPath, func(snap protocol.Snapshot) error {
		frames++
		if snap.CarrotsDelivered < lastDelivered {
			return fmt.Errorf("step %d: carrots_delivered went %d -> %d", snap.Step, lastDelivered, snap.CarrotsDelivered)
		}
		lastDelivered = snap.CarrotsDelivered
		if sawGameOver && !snap.GameOver {
			return fmt.Errorf("step %d: game_over reverted", snap.Step)
		}
		sawGameOver = snap.GameOver
		if err := checkBoard(snap); err != nil {
			return err
		}
		if *doRender && snap.Step >= *fromStep && (*toStep == 0 || snap.Step <= *toStep) {
			render.Frame(os.Stdout, snap)
		}
		last = snap
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	if frames == 0 {
		fmt.Fprintln(os.Stderr, "empty journal")
		os.Exit(1)
	}

	fmt.Printf("replay ok: match=%s frames=%d final_step=%d carrots=%d game_over=%v",
		last.MatchID, frames, last.Step, last.CarrotsDelivered, last.GameOver)
	if last.Winner != "" {
		fmt.Printf(" winner=%s", last.Winner)
	}
	fmt.Println()
}

// checkBoard re-asserts the recorded frame's board consistency: runner
// marks are exactly the alive runners' positions, with one mountain.
func checkBoard(snap protocol.Snapshot) error {
	type pos struct{ row, col int }
	marks := map[string]pos{}
	goals := 0
	for row, line := range snap.Rows {
		for col, c := range line {
			switch c {
			case '.', 'C':
			case 'F':
				goals++
			default:
				sym := string(c)
				if _, dup := marks[sym]; dup {
					return fmt.Errorf("step %d: duplicate mark %s", snap.Step, sym)
				}
				marks[sym] = pos{row, col}
			}
		}
	}
	if goals != 1 {
		return fmt.Errorf("step %d: %d mountain cells", snap.Step, goals)
	}
	alive := 0
	for _, r := range snap.Runners {
		if !r.Alive {
			continue
		}
		alive++
		p, ok := marks[r.Symbol]
		if !ok || p != (pos{r.Row, r.Col}) {
			return fmt.Errorf("step %d: runner %s at (%d,%d) not on board", snap.Step, r.Symbol, r.Row, r.Col)
		}
	}
	if len(marks) != alive {
		return fmt.Errorf("step %d: %d marks for %d alive runners", snap.Step, len(marks), alive)
	}
	return nil
}
