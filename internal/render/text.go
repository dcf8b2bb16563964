// Package render turns race snapshots into human-readable board dumps. It
// only ever sees published frames, so it never contends with the race loop.
package render

import (
	"fmt"
	"io"
	"strings"

	"looneyrace.ai/internal/protocol"
)

// Board formats one frame. Runners holding a carrot render as "X(C)",
// matching the classic console output.
func Board(snap protocol.Snapshot) string {
	carrying := map[string]bool{}
	for _, r := range snap.Runners {
		if r.Alive && r.Carrying {
			carrying[r.Symbol] = true
		}
	}

	var b strings.Builder
	for _, row := range snap.Rows {
		for _, c := range row {
			cell := string(c)
			if carrying[cell] {
				cell += "(C)"
			}
			fmt.Fprintf(&b, "%-4s ", cell)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Frame writes the board preceded by a one-line header, and one line per
// event in the frame.
func Frame(w io.Writer, snap protocol.Snapshot) {
	fmt.Fprintf(w, "step %d  carrots %d", snap.Step, snap.CarrotsDelivered)
	if snap.GameOver {
		fmt.Fprintf(w, "  winner %s", snap.Winner)
	}
	fmt.Fprintln(w)
	for _, e := range snap.Events {
		fmt.Fprintln(w, eventLine(e))
	}
	fmt.Fprint(w, Board(snap))
	fmt.Fprintln(w)
}

func eventLine(e protocol.Event) string {
	at := fmt.Sprintf("(%d,%d)", e.Row, e.Col)
	switch e.Kind {
	case protocol.EventMoved:
		return fmt.Sprintf("%s moved to %s", e.Runner, at)
	case protocol.EventBlocked:
		return fmt.Sprintf("%s is blocked at %s", e.Runner, at)
	case protocol.EventPickup:
		return fmt.Sprintf("%s picked up a carrot at %s", e.Runner, at)
	case protocol.EventDeposit:
		return fmt.Sprintf("%s placed a carrot on the mountain! Total: %d", e.Runner, e.Delivered)
	case protocol.EventEliminated:
		return fmt.Sprintf("%s eliminated %s at %s", e.Runner, e.Victim, at)
	case protocol.EventCarrotStolen:
		return fmt.Sprintf("%s stole a carrot from %s!", e.Runner, e.Victim)
	case protocol.EventMountainMoved:
		return fmt.Sprintf("%s activated the time machine! Mountain moved to %s", e.Runner, at)
	case protocol.EventWin:
		return fmt.Sprintf("%s wins the race!", e.Runner)
	case protocol.EventStepCapWin:
		return fmt.Sprintf("Max steps reached! %s is declared the winner!", e.Runner)
	default:
		return fmt.Sprintf("%s: %s at %s", e.Runner, e.Kind, at)
	}
}
