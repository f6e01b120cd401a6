package materialize

import "fmt"

// State is where a unit is in its per-run lifecycle
type State string

const (
	StatePending    State = "pending"
	StateScoring    State = "scoring"
	StateScored     State = "scored"
	StateNormalized State = "normalized"
	StateError      State = "error"
	StateWritten    State = "written"
)

var transitions = map[State][]State{
	StatePending:    {StateScoring, StateError},
	StateScoring:    {StateScored, StateError},
	StateScored:     {StateNormalized, StateError},
	StateNormalized: {StateWritten, StateError},
	StateError:      {StateWritten},
}

// Lifecycle tracks one unit through its states. Not safe for concurrent use;
// each unit is owned by a single worker.
type Lifecycle struct {
	unitID  string
	state   State
	history []State
}

// NewLifecycle starts a unit in the pending state
func NewLifecycle(unitID string) *Lifecycle {
	return &Lifecycle{unitID: unitID, state: StatePending, history: []State{StatePending}}
}

// State returns the current state
func (l *Lifecycle) State() State {
	return l.state
}

// History returns the states visited so far
func (l *Lifecycle) History() []State {
	return append([]State(nil), l.history...)
}

// Transition moves to the next state, rejecting moves the lifecycle does
// not allow. Written is terminal.
func (l *Lifecycle) Transition(to State) error {
	for _, allowed := range transitions[l.state] {
		if allowed == to {
			l.state = to
			l.history = append(l.history, to)
			return nil
		}
	}
	return fmt.Errorf("work unit %s: invalid transition %s -> %s", l.unitID, l.state, to)
}

// Fail moves to the error state from any non-terminal state
func (l *Lifecycle) Fail() error {
	if l.state == StateError {
		return nil
	}
	return l.Transition(StateError)
}
