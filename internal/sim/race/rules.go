package race

import "looneyrace.ai/internal/protocol"

// Cardinal directions: right, left, down, up.
var (
	dRow = [4]int{0, 0, 1, -1}
	dCol = [4]int{1, -1, 0, 0}
)

// resolveMove plays one turn for a live runner. It runs only on the race
// loop goroutine, so every read and write here is serialized. Rule
// conflicts never produce errors: a blocked move resolves to staying in
// place.
func (ra *Race) resolveMove(r *Runner) []protocol.Event {
	var events []protocol.Event

	dir := ra.rng.Intn(4)
	cand := Pos{Row: r.Pos.Row + dRow[dir], Col: r.Pos.Col + dCol[dir]}
	oob := false
	if !ra.grid.InBounds(cand) {
		cand = r.Pos
		oob = true
	}

	// Predator elimination happens before any blocking rule; victims at the
	// candidate cell are removed even if the mover ends up staying. Victim
	// order is irrelevant: each is handled independently.
	if r.Predator {
		for _, other := range ra.runners {
			if other.Index == r.Index || !other.Alive || other.Pos != cand {
				continue
			}
			if other.Carrying {
				r.Carrying = true
				other.Carrying = false
				events = append(events, ra.event(protocol.EventCarrotStolen, r, cand, withVictim(other)))
			}
			other.eliminate()
			ra.grid.SetCell(other.Pos, CellEmpty)
			events = append(events, ra.event(protocol.EventEliminated, r, cand, withVictim(other)))
		}
	}

	target, err := ra.grid.CellAt(cand)
	if err != nil {
		panic(invariantf("candidate cell: %v", err))
	}

	blocked := oob
	switch {
	case target == CellGoal && !r.Carrying:
		// Mountain entry needs cargo.
		blocked = true
	case target == CellCarrot && r.Carrying:
		// A runner can hold one carrot; walking over a second would wipe
		// its cell on commit, so the move is refused instead.
		blocked = true
	case target != CellEmpty && target != CellGoal && target != CellCarrot && cand != r.Pos:
		// Another runner's mark. Only the predator may contest an occupied
		// cell, and it has already cleared any victims above; whoever is
		// still marked there is not ours to overwrite.
		blocked = true
	}
	if blocked {
		cand = r.Pos
		events = append(events, ra.event(protocol.EventBlocked, r, cand))
	}

	if target, err = ra.grid.CellAt(cand); err != nil {
		panic(invariantf("resolved cell: %v", err))
	}

	if target == CellCarrot && !r.Carrying {
		r.Carrying = true
		events = append(events, ra.event(protocol.EventPickup, r, cand))
	}

	if target == CellGoal && r.Carrying {
		ra.carrotsDelivered++
		r.Carrying = false
		events = append(events, ra.event(protocol.EventDeposit, r, cand))
		if ra.carrotsDelivered >= ra.cfg.CarrotsRequired {
			ra.declareWinner(r)
			events = append(events, ra.event(protocol.EventWin, r, cand))
		}
		// The mountain is not entered; the runner stays put.
		cand = r.Pos
	}

	// Commit. The old cell must still carry the mover's mark: no other
	// runner may write it.
	if cur, _ := ra.grid.CellAt(r.Pos); cur != r.Symbol {
		panic(invariantf("runner %c expected own mark at (%d,%d), found %c",
			r.Symbol, r.Pos.Row, r.Pos.Col, cur))
	}
	if cand != r.Pos {
		ra.grid.SetCell(r.Pos, CellEmpty)
		ra.grid.SetCell(cand, r.Symbol)
		r.Pos = cand
		events = append(events, ra.event(protocol.EventMoved, r, cand))
	}

	return events
}

// maybeTimeMachine fires after each completed predator turn. The cycle
// counter belongs to the predator alone; other runners' turns do not
// advance it.
func (ra *Race) maybeTimeMachine(r *Runner) []protocol.Event {
	if !r.Predator {
		return nil
	}
	ra.cycleCount++
	if ra.cycleCount%ra.cfg.CyclesPerTimeMachine != 0 {
		return nil
	}
	old := ra.goalPos
	next := ra.randomEmptyCell()
	ra.grid.SetCell(old, CellEmpty)
	ra.grid.SetCell(next, CellGoal)
	ra.goalPos = next
	return []protocol.Event{ra.event(protocol.EventMountainMoved, r, next)}
}

// randomEmptyCell draws positions until one is empty. Tuning validation
// guarantees a spare empty cell, so exhaustion means the board was
// corrupted.
func (ra *Race) randomEmptyCell() Pos {
	if ra.grid.countEmpty() == 0 {
		panic(invariantf("no empty cell on %dx%d board", ra.grid.Size(), ra.grid.Size()))
	}
	for {
		p := Pos{Row: ra.rng.Intn(ra.grid.Size()), Col: ra.rng.Intn(ra.grid.Size())}
		if c, _ := ra.grid.CellAt(p); c == CellEmpty {
			return p
		}
	}
}

type eventOpt func(*protocol.Event)

func withVictim(v *Runner) eventOpt {
	return func(e *protocol.Event) { e.Victim = v.Symbol.String() }
}

func (ra *Race) event(kind string, r *Runner, at Pos, opts ...eventOpt) protocol.Event {
	e := protocol.Event{
		Step:      ra.stepCount,
		Kind:      kind,
		Runner:    r.Symbol.String(),
		Row:       at.Row,
		Col:       at.Col,
		Delivered: ra.carrotsDelivered,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}
