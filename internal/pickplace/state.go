package pickplace

import (
	"fmt"
	"time"

	"github.com/banshee-data/pickplace/internal/geom"
)

// State is a phase of the pick-and-place cycle.
type State int

const (
	Idle State = iota
	Observing
	AwaitingInput
	Approaching
	Grasping
	Transporting
	Releasing
)

var stateNames = [...]string{
	Idle:          "idle",
	Observing:     "observing",
	AwaitingInput: "awaiting_input",
	Approaching:   "approaching",
	Grasping:      "grasping",
	Transporting:  "transporting",
	Releasing:     "releasing",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown state %q", name)
}

// Session is the orchestrator's view of the current run. Per-cycle fields
// are reset when a new pick cycle begins.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Cycle     int       `json:"cycle"`
	State     State     `json:"state"`

	ActiveObject string     `json:"active_object,omitempty"`
	LastPlan     string     `json:"last_plan,omitempty"`
	LastFraction float64    `json:"last_fraction"`
	LastTarget   *geom.Pose `json:"last_target,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (s *Session) resetCycle() {
	s.LastPlan = ""
	s.LastFraction = 0
	s.LastTarget = nil
	s.LastError = ""
}

func (s Session) clone() Session {
	if s.LastTarget != nil {
		t := *s.LastTarget
		s.LastTarget = &t
	}
	return s
}

// Transition is one journaled state change.
type Transition struct {
	SessionID string
	Cycle     int
	From      State
	To        State
	// Event names what caused the transition, e.g. "attached" or "abort".
	Event    string
	Target   *geom.Pose
	Fraction float64
	Err      string
	At       time.Time
}
