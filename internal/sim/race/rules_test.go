package race

import (
	"log"
	"testing"

	"looneyrace.ai/internal/protocol"
	"looneyrace.ai/internal/sim/tuning"
)

// scriptRand replays a fixed sequence of draws; direction indices are
// 0 right, 1 left, 2 down, 3 up.
type scriptRand struct {
	vals []int
}

func (s *scriptRand) Intn(n int) int {
	if len(s.vals) == 0 {
		return 0
	}
	v := s.vals[0]
	s.vals = s.vals[1:]
	return v % n
}

const (
	dirRight = 0
	dirLeft  = 1
	dirDown  = 2
	dirUp    = 3
)

// newBareRace builds a race with an empty board and no placement so tests
// can lay out exact positions.
func newBareRace(t *testing.T, size int, script ...int) *Race {
	t.Helper()
	cfg := tuning.Default()
	cfg.GridSize = size
	return &Race{
		cfg:    cfg,
		rng:    &scriptRand{vals: script},
		logger: log.New(discard{}, "", 0),
		grid:   NewGrid(size),
		turns:  make(chan turnReq),
		stop:   make(chan struct{}),
	}
}

func (ra *Race) placeRunner(sym Cell, predator bool, at Pos) *Runner {
	r := newRunner(len(ra.runners), sym, sym.String(), predator, at)
	ra.grid.SetCell(at, r.Symbol)
	ra.runners = append(ra.runners, r)
	return r
}

func (ra *Race) placeGoal(at Pos) {
	ra.goalPos = at
	ra.grid.SetCell(at, CellGoal)
}

func mustCell(t *testing.T, g *Grid, p Pos) Cell {
	t.Helper()
	c, err := g.CellAt(p)
	if err != nil {
		t.Fatalf("CellAt(%v): %v", p, err)
	}
	return c
}

func TestDeposit_FirstCarrot(t *testing.T) {
	ra := newBareRace(t, 5, dirRight)
	ra.placeGoal(Pos{Row: 2, Col: 2})
	b := ra.placeRunner('B', false, Pos{Row: 2, Col: 1})
	ra.placeRunner('M', true, Pos{Row: 0, Col: 0})
	b.Carrying = true

	if done := ra.serveTurn(b.Index); done {
		t.Fatalf("first deposit should not terminate the runner")
	}
	if ra.carrotsDelivered != 1 {
		t.Fatalf("carrotsDelivered = %d, want 1", ra.carrotsDelivered)
	}
	if b.Carrying {
		t.Fatalf("carrying flag should clear on deposit")
	}
	if ra.gameOver {
		t.Fatalf("game should continue at 1 of 2 carrots")
	}
	// The mountain is not entered; the runner stays put.
	if b.Pos != (Pos{Row: 2, Col: 1}) {
		t.Fatalf("runner moved to %v, want to stay", b.Pos)
	}
	if mustCell(t, ra.grid, ra.goalPos) != CellGoal {
		t.Fatalf("mountain mark lost after deposit")
	}
}

func TestDeposit_SecondCarrotEndsGame(t *testing.T) {
	ra := newBareRace(t, 5, dirRight, dirRight)
	ra.placeGoal(Pos{Row: 2, Col: 2})
	b := ra.placeRunner('B', false, Pos{Row: 2, Col: 1})
	d := ra.placeRunner('D', false, Pos{Row: 4, Col: 4})
	ra.carrotsDelivered = 1
	b.Carrying = true

	if done := ra.serveTurn(b.Index); !done {
		t.Fatalf("winning deposit should terminate the runner")
	}
	if !ra.gameOver {
		t.Fatalf("game over should be set at %d carrots", ra.cfg.CarrotsRequired)
	}
	if ra.winner != b {
		t.Fatalf("winner = %v, want B", ra.winner)
	}

	// No further moves are resolved for anyone.
	steps := ra.stepCount
	if done := ra.serveTurn(d.Index); !done {
		t.Fatalf("turn after game over should terminate")
	}
	if ra.stepCount != steps || d.Pos != (Pos{Row: 4, Col: 4}) {
		t.Fatalf("moves resolved after game over")
	}
}

func TestPredator_EliminatesAndSteals(t *testing.T) {
	ra := newBareRace(t, 5, dirDown)
	ra.placeGoal(Pos{Row: 4, Col: 4})
	m := ra.placeRunner('M', true, Pos{Row: 1, Col: 3})
	tw := ra.placeRunner('T', false, Pos{Row: 2, Col: 3})
	tw.Carrying = true

	ra.serveTurn(m.Index)

	if tw.Alive {
		t.Fatalf("victim should be eliminated")
	}
	if tw.Carrying || !m.Carrying {
		t.Fatalf("carried carrot should transfer to the predator")
	}
	if m.Pos != (Pos{Row: 2, Col: 3}) {
		t.Fatalf("predator at %v, want the victim's cell", m.Pos)
	}
	if mustCell(t, ra.grid, Pos{Row: 2, Col: 3}) != 'M' {
		t.Fatalf("victim's cell should now carry the predator's mark")
	}
	if mustCell(t, ra.grid, Pos{Row: 1, Col: 3}) != CellEmpty {
		t.Fatalf("predator's old cell should be empty")
	}
}

func TestGoalEntry_WithoutCargoBlocked(t *testing.T) {
	ra := newBareRace(t, 5, dirLeft)
	ra.placeGoal(Pos{Row: 3, Col: 1})
	b := ra.placeRunner('B', false, Pos{Row: 3, Col: 2})
	before := ra.grid.Rows()

	ra.serveTurn(b.Index)

	if b.Pos != (Pos{Row: 3, Col: 2}) {
		t.Fatalf("runner at %v, want to be blocked in place", b.Pos)
	}
	after := ra.grid.Rows()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("row %d changed: %q -> %q", i, before[i], after[i])
		}
	}
}

func TestMove_OutOfBoundsBlocked(t *testing.T) {
	ra := newBareRace(t, 5, dirUp)
	ra.placeGoal(Pos{Row: 4, Col: 4})
	b := ra.placeRunner('B', false, Pos{Row: 0, Col: 2})

	ra.serveTurn(b.Index)

	if b.Pos != (Pos{Row: 0, Col: 2}) {
		t.Fatalf("runner at %v, want to stay at the edge", b.Pos)
	}
}

func TestMove_OccupiedCellBlocksNonPredator(t *testing.T) {
	ra := newBareRace(t, 5, dirRight)
	ra.placeGoal(Pos{Row: 4, Col: 4})
	b := ra.placeRunner('B', false, Pos{Row: 1, Col: 1})
	d := ra.placeRunner('D', false, Pos{Row: 1, Col: 2})

	ra.serveTurn(b.Index)

	if b.Pos != (Pos{Row: 1, Col: 1}) {
		t.Fatalf("runner should not contest an occupied cell")
	}
	if !d.Alive || mustCell(t, ra.grid, d.Pos) != 'D' {
		t.Fatalf("occupant must be untouched")
	}
}

func TestPickup_SetsCarrying(t *testing.T) {
	ra := newBareRace(t, 5, dirDown)
	ra.placeGoal(Pos{Row: 4, Col: 4})
	b := ra.placeRunner('B', false, Pos{Row: 0, Col: 0})
	ra.grid.SetCell(Pos{Row: 1, Col: 0}, CellCarrot)

	ra.serveTurn(b.Index)

	if !b.Carrying {
		t.Fatalf("pickup should set carrying")
	}
	if b.Pos != (Pos{Row: 1, Col: 0}) {
		t.Fatalf("runner at %v, want the carrot cell", b.Pos)
	}
	if mustCell(t, ra.grid, b.Pos) != 'B' {
		t.Fatalf("carrot cell should carry the runner's mark after pickup")
	}
}

func TestPickup_SecondCarrotBlocked(t *testing.T) {
	ra := newBareRace(t, 5, dirDown)
	ra.placeGoal(Pos{Row: 4, Col: 4})
	b := ra.placeRunner('B', false, Pos{Row: 0, Col: 0})
	b.Carrying = true
	ra.grid.SetCell(Pos{Row: 1, Col: 0}, CellCarrot)

	ra.serveTurn(b.Index)

	if b.Pos != (Pos{Row: 0, Col: 0}) {
		t.Fatalf("carrying runner should be blocked by a carrot cell")
	}
	if mustCell(t, ra.grid, Pos{Row: 1, Col: 0}) != CellCarrot {
		t.Fatalf("carrot cell must survive a blocked move")
	}
}

func TestTimeMachine_RelocatesMountain(t *testing.T) {
	// Predator draws: move up (blocked at edge), then relocation draws
	// land on (3,3) after retrying occupied (0,0).
	ra := newBareRace(t, 5, dirUp, 0, 0, 3, 3)
	ra.placeGoal(Pos{Row: 4, Col: 0})
	m := ra.placeRunner('M', true, Pos{Row: 0, Col: 0})
	ra.cycleCount = ra.cfg.CyclesPerTimeMachine - 1

	ra.serveTurn(m.Index)

	if ra.goalPos != (Pos{Row: 3, Col: 3}) {
		t.Fatalf("mountain at %v, want (3,3)", ra.goalPos)
	}
	if mustCell(t, ra.grid, Pos{Row: 4, Col: 0}) != CellEmpty {
		t.Fatalf("old mountain cell should be empty")
	}
	if mustCell(t, ra.grid, Pos{Row: 3, Col: 3}) != CellGoal {
		t.Fatalf("new mountain cell should hold the mountain")
	}
}

func TestTimeMachine_OnlyPredatorCycles(t *testing.T) {
	ra := newBareRace(t, 5, dirRight, dirRight, dirRight)
	ra.placeGoal(Pos{Row: 4, Col: 4})
	b := ra.placeRunner('B', false, Pos{Row: 0, Col: 0})

	for i := 0; i < 3; i++ {
		ra.serveTurn(b.Index)
	}
	if ra.cycleCount != 0 {
		t.Fatalf("cycleCount = %d after non-predator turns, want 0", ra.cycleCount)
	}
	if ra.goalPos != (Pos{Row: 4, Col: 4}) {
		t.Fatalf("mountain moved without the predator acting")
	}
}

func TestStepCap_FirstAliveIndexWins(t *testing.T) {
	sink := make(chan protocol.Snapshot, 8)
	ra := newBareRace(t, 5)
	ra.snapshotSink = sink
	ra.placeGoal(Pos{Row: 4, Col: 4})
	r0 := ra.placeRunner('B', false, Pos{Row: 0, Col: 0})
	r1 := ra.placeRunner('D', false, Pos{Row: 0, Col: 2})
	r2 := ra.placeRunner('T', false, Pos{Row: 2, Col: 0})
	r3 := ra.placeRunner('M', true, Pos{Row: 2, Col: 2})

	// Indices 0 and 2 are out; 1 and 3 remain.
	r0.eliminate()
	ra.grid.SetCell(r0.Pos, CellEmpty)
	r2.eliminate()
	ra.grid.SetCell(r2.Pos, CellEmpty)

	ra.stepCount = uint64(ra.cfg.MaxSteps) - 1
	if done := ra.serveTurn(r3.Index); !done {
		t.Fatalf("hitting the step cap should terminate the runner")
	}
	if !ra.gameOver || ra.winner != r1 {
		t.Fatalf("winner = %+v, want the lowest alive index (D)", ra.winner)
	}
	if ra.result().Reason != "step_cap" {
		t.Fatalf("reason = %q, want step_cap", ra.result().Reason)
	}

	var sawCap bool
	for len(sink) > 0 {
		snap := <-sink
		for _, e := range snap.Events {
			if e.Kind == protocol.EventStepCapWin && e.Runner == "D" {
				sawCap = true
			}
		}
	}
	if !sawCap {
		t.Fatalf("expected a STEP_CAP_WIN event for D")
	}
}
