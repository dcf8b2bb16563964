package race

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"looneyrace.ai/internal/protocol"
	"looneyrace.ai/internal/sim/tuning"
)

// Rand supplies uniform integers for direction draws and cell placement.
// It is called only from the race loop goroutine.
type Rand interface {
	Intn(n int) int
}

type Config struct {
	MatchID string
	Seed    int64
	Tuning  tuning.Tuning

	// Rand overrides the seeded default; used by tests to script moves.
	Rand Rand
	// SnapshotSink receives one frame per committed turn plus the opening
	// frame. Sends never block the loop: when the sink is full the oldest
	// frame is dropped.
	SnapshotSink chan protocol.Snapshot
	Logger       *log.Logger
}

// Race is a single-goroutine authoritative simulation: the loop goroutine
// owns the grid, the runner records and all counters, and runner goroutines
// propose turns over the turns channel. Applying rules serially makes the
// one-mutator-at-a-time guarantee structural.
type Race struct {
	cfg     tuning.Tuning
	matchID string
	seed    int64
	rng     Rand
	logger  *log.Logger

	grid    *Grid
	runners []*Runner
	goalPos Pos

	stepCount        uint64
	cycleCount       int
	carrotsDelivered int
	gameOver         bool
	winner           *Runner
	winByStepCap     bool

	turns chan turnReq
	stop  chan struct{}

	snapshotSink chan protocol.Snapshot
}

type turnReq struct {
	index int
	// resp carries whether the runner should terminate its loop.
	resp chan bool
}

type Result struct {
	Winner           string
	WinnerName       string
	Steps            uint64
	CarrotsDelivered int
	// Reason is "carrots_delivered" on a normal win, "step_cap" when the
	// step budget ran out.
	Reason string
}

func New(cfg Config) (*Race, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(discard{}, "", 0)
	}
	ra := &Race{
		cfg:          cfg.Tuning,
		matchID:      cfg.MatchID,
		seed:         cfg.Seed,
		rng:          rng,
		logger:       logger,
		grid:         NewGrid(cfg.Tuning.GridSize),
		turns:        make(chan turnReq),
		stop:         make(chan struct{}),
		snapshotSink: cfg.SnapshotSink,
	}
	ra.setup()
	return ra, nil
}

// setup places the mountain, the carrots and the runners at distinct random
// empty cells, in that order.
func (ra *Race) setup() {
	ra.goalPos = ra.randomEmptyCell()
	ra.grid.SetCell(ra.goalPos, CellGoal)
	for i := 0; i < ra.cfg.CarrotsRequired; i++ {
		ra.grid.SetCell(ra.randomEmptyCell(), CellCarrot)
	}
	for i, def := range ra.cfg.Runners {
		at := ra.randomEmptyCell()
		r := newRunner(i, Cell(def.Symbol[0]), def.Name, def.Predator, at)
		ra.grid.SetCell(at, r.Symbol)
		ra.runners = append(ra.runners, r)
	}
}

func (ra *Race) MatchID() string { return ra.matchID }

func (ra *Race) Params() protocol.RaceParams {
	return protocol.RaceParams{
		GridSize:             ra.cfg.GridSize,
		CarrotsRequired:      ra.cfg.CarrotsRequired,
		CyclesPerTimeMachine: ra.cfg.CyclesPerTimeMachine,
		MaxSteps:             ra.cfg.MaxSteps,
		Seed:                 ra.seed,
	}
}

// Run starts the race loop and one goroutine per runner, then joins them
// all. It returns once every runner has observed a terminal condition
// (elimination, game over, or the step cap) or the context is canceled.
func (ra *Race) Run(ctx context.Context) (Result, error) {
	ra.publish(nil) // opening frame

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		ra.loop(ctx)
	}()

	var wg sync.WaitGroup
	for _, r := range ra.runners {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			ra.runnerLoop(ctx, r)
		}(r)
	}
	wg.Wait()
	close(ra.stop)
	<-loopDone

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return ra.result(), nil
}

func (ra *Race) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ra.stop:
			return
		case req := <-ra.turns:
			req.resp <- ra.serveTurn(req.index)
		}
	}
}

// serveTurn applies one proposed turn. Liveness and game over are
// re-checked here rather than trusted from the proposer: both may have
// changed while the proposal sat in the channel.
func (ra *Race) serveTurn(index int) (terminated bool) {
	r := ra.runners[index]
	if ra.gameOver || !r.Alive {
		return true
	}

	ra.stepCount++
	if ra.stepCount >= uint64(ra.cfg.MaxSteps) {
		ra.declareStepCapWinner()
		return true
	}

	events := ra.resolveMove(r)
	events = append(events, ra.maybeTimeMachine(r)...)
	ra.assertConsistent()
	ra.publish(events)
	return ra.gameOver
}

func (ra *Race) runnerLoop(ctx context.Context, r *Runner) {
	think := time.Duration(ra.cfg.ThinkTimeMs) * time.Millisecond
	timer := time.NewTimer(think)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		req := turnReq{index: r.Index, resp: make(chan bool, 1)}
		select {
		case ra.turns <- req:
		case <-ctx.Done():
			return
		}
		select {
		case terminated := <-req.resp:
			if terminated {
				return
			}
		case <-ctx.Done():
			return
		}
		timer.Reset(think)
	}
}

func (ra *Race) declareWinner(r *Runner) {
	if ra.gameOver {
		return
	}
	ra.gameOver = true
	ra.winner = r
	ra.logger.Printf("%s (%c) wins the race with %d carrots delivered",
		r.Name, r.Symbol, ra.carrotsDelivered)
}

// declareStepCapWinner resolves the step-budget fallback: the first alive
// runner in index order wins. Deterministic by definition, not a random
// pick.
func (ra *Race) declareStepCapWinner() {
	for _, r := range ra.runners {
		if !r.Alive {
			continue
		}
		ra.declareWinner(r)
		ra.winByStepCap = true
		ra.logger.Printf("step cap %d reached, %s (%c) declared winner", ra.cfg.MaxSteps, r.Name, r.Symbol)
		ra.publish([]protocol.Event{ra.event(protocol.EventStepCapWin, r, r.Pos)})
		return
	}
	// All runners dead with no winner: the predator was eliminated too,
	// which no rule permits.
	panic(invariantf("step cap reached with no alive runner"))
}

func (ra *Race) result() Result {
	res := Result{
		Steps:            ra.stepCount,
		CarrotsDelivered: ra.carrotsDelivered,
	}
	if ra.winner != nil {
		res.Winner = ra.winner.Symbol.String()
		res.WinnerName = ra.winner.Name
		res.Reason = "carrots_delivered"
		if ra.winByStepCap {
			res.Reason = "step_cap"
		}
	}
	return res
}

// assertConsistent verifies that the runner-marked cells are exactly the
// alive runners' positions. It runs after every committed turn, at a point
// where a viewer could observe the board.
func (ra *Race) assertConsistent() {
	marks := map[Pos]Cell{}
	size := ra.grid.Size()
	goals := 0
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			p := Pos{Row: row, Col: col}
			c, _ := ra.grid.CellAt(p)
			switch c {
			case CellEmpty, CellCarrot:
			case CellGoal:
				goals++
			default:
				marks[p] = c
			}
		}
	}
	if goals != 1 {
		panic(invariantf("expected exactly one mountain cell, found %d", goals))
	}
	alive := 0
	for _, r := range ra.runners {
		if !r.Alive {
			continue
		}
		alive++
		if got, ok := marks[r.Pos]; !ok || got != r.Symbol {
			panic(invariantf("runner %c at (%d,%d) not marked on board", r.Symbol, r.Pos.Row, r.Pos.Col))
		}
	}
	if len(marks) != alive {
		panic(invariantf("%d runner marks on board, %d alive runners", len(marks), alive))
	}
}

func (ra *Race) publish(events []protocol.Event) {
	if ra.snapshotSink == nil {
		return
	}
	snap := ra.snapshot(events)
	select {
	case ra.snapshotSink <- snap:
		return
	default:
	}
	// Full sink: drop the oldest frame to keep the loop from blocking.
	select {
	case <-ra.snapshotSink:
	default:
	}
	select {
	case ra.snapshotSink <- snap:
	default:
	}
}

func (ra *Race) snapshot(events []protocol.Event) protocol.Snapshot {
	runners := make([]protocol.RunnerState, 0, len(ra.runners))
	for _, r := range ra.runners {
		runners = append(runners, protocol.RunnerState{
			Symbol:   r.Symbol.String(),
			Name:     r.Name,
			Row:      r.Pos.Row,
			Col:      r.Pos.Col,
			Carrying: r.Carrying,
			Alive:    r.Alive,
		})
	}
	snap := protocol.Snapshot{
		Type:             protocol.TypeSnapshot,
		ProtocolVersion:  protocol.Version,
		MatchID:          ra.matchID,
		Step:             ra.stepCount,
		Rows:             ra.grid.Rows(),
		Runners:          runners,
		CarrotsDelivered: ra.carrotsDelivered,
		GameOver:         ra.gameOver,
		Events:           events,
	}
	if ra.winner != nil {
		snap.Winner = ra.winner.Symbol.String()
	}
	return snap
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
