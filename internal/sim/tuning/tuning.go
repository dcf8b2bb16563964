package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds everything a race needs besides its seed and identity.
type Tuning struct {
	GridSize             int `yaml:"grid_size"`
	CarrotsRequired      int `yaml:"carrots_required"`
	CyclesPerTimeMachine int `yaml:"cycles_per_time_machine"`
	MaxSteps             int `yaml:"max_steps"`
	ThinkTimeMs          int `yaml:"think_time_ms"`
	SnapshotBuffer       int `yaml:"snapshot_buffer"`

	Runners []RunnerDef `yaml:"runners"`
}

type RunnerDef struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Predator bool   `yaml:"predator"`
}

// Default mirrors the classic setup: four runners on a 5x5 board,
// two carrots to win, the time machine every third predator cycle.
func Default() Tuning {
	return Tuning{
		GridSize:             5,
		CarrotsRequired:      2,
		CyclesPerTimeMachine: 3,
		MaxSteps:             100,
		ThinkTimeMs:          200,
		SnapshotBuffer:       64,
		Runners: []RunnerDef{
			{Symbol: "B", Name: "Bugs Bunny"},
			{Symbol: "D", Name: "Daffy Duck"},
			{Symbol: "T", Name: "Tweety"},
			{Symbol: "M", Name: "Marvin", Predator: true},
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("race.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("race.yaml: %w", err)
	}
	return t, nil
}

// Validate rejects configurations that could not be placed on the board.
// Placement needs one mountain, CarrotsRequired carrot cells and one cell
// per runner, all distinct; relocation additionally needs a spare empty
// cell at all times.
func (t Tuning) Validate() error {
	if t.GridSize < 2 {
		return fmt.Errorf("grid_size %d too small", t.GridSize)
	}
	if t.CarrotsRequired < 1 {
		return fmt.Errorf("carrots_required must be >= 1, got %d", t.CarrotsRequired)
	}
	if t.CyclesPerTimeMachine < 1 {
		return fmt.Errorf("cycles_per_time_machine must be >= 1, got %d", t.CyclesPerTimeMachine)
	}
	if t.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be >= 1, got %d", t.MaxSteps)
	}
	if t.ThinkTimeMs < 0 {
		return fmt.Errorf("think_time_ms must be >= 0, got %d", t.ThinkTimeMs)
	}
	if len(t.Runners) == 0 {
		return fmt.Errorf("no runners configured")
	}
	seen := map[string]bool{}
	predators := 0
	for _, r := range t.Runners {
		if len(r.Symbol) != 1 {
			return fmt.Errorf("runner symbol %q must be a single character", r.Symbol)
		}
		switch r.Symbol {
		case ".", "F", "C":
			return fmt.Errorf("runner symbol %q collides with a board cell", r.Symbol)
		}
		if seen[r.Symbol] {
			return fmt.Errorf("duplicate runner symbol %q", r.Symbol)
		}
		seen[r.Symbol] = true
		if r.Predator {
			predators++
		}
	}
	if predators > 1 {
		return fmt.Errorf("at most one predator allowed, got %d", predators)
	}
	occupied := 1 + t.CarrotsRequired + len(t.Runners)
	if t.GridSize*t.GridSize < occupied+1 {
		return fmt.Errorf("grid %dx%d cannot hold %d occupied cells plus a spare empty cell",
			t.GridSize, t.GridSize, occupied)
	}
	return nil
}
