package race

// Runner is one contender's mutable record. It has no goroutine of its own
// beyond the proposal loop; all fields are mutated only on the race loop
// goroutine.
type Runner struct {
	Symbol   Cell
	Name     string
	Index    int
	Pos      Pos
	Carrying bool
	Alive    bool
	Predator bool
}

func newRunner(index int, symbol Cell, name string, predator bool, at Pos) *Runner {
	return &Runner{
		Symbol:   symbol,
		Name:     name,
		Index:    index,
		Pos:      at,
		Alive:    true,
		Predator: predator,
	}
}

// eliminate is idempotent; Alive never flips back.
func (r *Runner) eliminate() {
	r.Alive = false
}
