package session

// State is a call lifecycle state. Transitions only move forward; the two
// terminal states absorb every further transition attempt.
type State string

const (
	StatePending    State = "pending"
	StateRinging    State = "ringing"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateEnding     State = "ending"
	StateEnded      State = "ended"
	StateFailed     State = "failed"
)

// allowedTransitions is the forward edge set of the lifecycle graph.
// StateEnding is reachable from every pre-ending state because a termination
// webhook can land before streaming ever starts. StateFailed is reachable
// from any non-terminal state, handled in allowed().
var allowedTransitions = map[State]map[State]bool{
	StatePending:    {StateRinging: true, StateEnding: true},
	StateRinging:    {StateConnecting: true, StateEnding: true},
	StateConnecting: {StateStreaming: true, StateEnding: true},
	StateStreaming:  {StateEnding: true},
	StateEnding:     {StateEnded: true},
}

// Terminal reports whether s absorbs all further transitions.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// allowed reports whether a transition from s to next is legal.
func (s State) allowed(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	return allowedTransitions[s][next]
}

func (s State) String() string {
	return string(s)
}
