package phone

import "fmt"

// CallState is the phone's position in the call lifecycle. Idle is both the
// initial and the terminal state.
type CallState uint32

const (
	// StateIdle means no call, dial or listener is in progress.
	StateIdle CallState = iota
	// StateDialing means an outgoing DIAL is waiting for its answer.
	StateDialing
	// StateListening means a listener is waiting for an incoming DIAL.
	StateListening
	// StateConnected means a call is up and media is flowing.
	StateConnected
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("CallState(%d)", uint32(s))
	}
}

// legalTransitions lists every allowed move; anything else is rejected.
var legalTransitions = map[CallState][]CallState{
	StateIdle:      {StateDialing, StateListening},
	StateDialing:   {StateConnected, StateIdle},
	StateListening: {StateConnected, StateIdle},
	StateConnected: {StateIdle},
}

// canTransition reports whether from→to is a legal move.
func canTransition(from, to CallState) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
