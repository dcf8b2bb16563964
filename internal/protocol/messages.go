package protocol

// SUBSCRIBE (viewer -> server)
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// FromStep lets a late viewer declare where it joined; the server only
	// streams forward from the live step either way.
	FromStep uint64 `json:"from_step,omitempty"`
}

// WELCOME (server -> viewer)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	MatchID         string     `json:"match_id"`
	RaceParams      RaceParams `json:"race_params"`
}

type RaceParams struct {
	GridSize             int   `json:"grid_size"`
	CarrotsRequired      int   `json:"carrots_required"`
	CyclesPerTimeMachine int   `json:"cycles_per_time_machine"`
	MaxSteps             int   `json:"max_steps"`
	Seed                 int64 `json:"seed"`
}

// SNAPSHOT (server -> viewer): one frame per committed turn.
type Snapshot struct {
	Type             string        `json:"type"`
	ProtocolVersion  string        `json:"protocol_version"`
	MatchID          string        `json:"match_id"`
	Step             uint64        `json:"step"`
	Rows             []string      `json:"rows"`
	Runners          []RunnerState `json:"runners"`
	CarrotsDelivered int           `json:"carrots_delivered"`
	GameOver         bool          `json:"game_over"`
	Winner           string        `json:"winner,omitempty"`
	Events           []Event       `json:"events,omitempty"`
}

type RunnerState struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	Carrying bool   `json:"carrying"`
	Alive    bool   `json:"alive"`
}

// Event kinds emitted by the move resolver.
const (
	EventMoved         = "MOVED"
	EventBlocked       = "BLOCKED"
	EventPickup        = "PICKUP"
	EventDeposit       = "DEPOSIT"
	EventEliminated    = "ELIMINATED"
	EventCarrotStolen  = "CARROT_STOLEN"
	EventMountainMoved = "MOUNTAIN_MOVED"
	EventWin           = "WIN"
	EventStepCapWin    = "STEP_CAP_WIN"
)

type Event struct {
	Step   uint64 `json:"step"`
	Kind   string `json:"kind"`
	Runner string `json:"runner,omitempty"`
	// Victim is set on ELIMINATED and CARROT_STOLEN.
	Victim    string `json:"victim,omitempty"`
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	Delivered int    `json:"delivered,omitempty"`
}
