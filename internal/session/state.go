package session

// State is the lifecycle state of a session's engine handle.
type State int

const (
	// StateUninitialized means no handle has been started yet.
	StateUninitialized State = iota
	// StateReady means a handle is live and idle.
	StateReady
	// StateSynthesizing means a request is in flight.
	StateSynthesizing
	// StateFaulted means the handle's state can no longer be trusted. The
	// only way out is shutdown.
	StateFaulted
	// StateShuttingDown means teardown is in progress.
	StateShuttingDown
	// StateClosed means the handle was released.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateSynthesizing:
		return "synthesizing"
	case StateFaulted:
		return "faulted"
	case StateShuttingDown:
		return "shutting down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// HasHandle reports whether a live handle exists in this state.
func (s State) HasHandle() bool {
	switch s {
	case StateReady, StateSynthesizing, StateFaulted, StateShuttingDown:
		return true
	default:
		return false
	}
}

// stateMachine guards the session's state transitions.
type stateMachine struct {
	current     State
	transitions map[State][]State
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		current: StateUninitialized,
		transitions: map[State][]State{
			StateUninitialized: {StateReady},
			StateReady:         {StateSynthesizing, StateShuttingDown},
			StateSynthesizing:  {StateReady, StateFaulted},
			StateFaulted:       {StateShuttingDown},
			StateShuttingDown:  {StateClosed},
			StateClosed:        {StateReady},
		},
	}
}

// can reports whether moving to the given state is allowed.
func (sm *stateMachine) can(to State) bool {
	for _, s := range sm.transitions[sm.current] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves to the given state if allowed.
func (sm *stateMachine) transition(to State) bool {
	if !sm.can(to) {
		return false
	}
	sm.current = to
	return true
}
