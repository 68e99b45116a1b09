package transport

// State represents the lifecycle state of a chat session link.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed // Terminal
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// isValidTransition checks if a state transition is valid
func isValidTransition(from, to State) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateReconnecting || to == StateFailed || to == StateDisconnected
	case StateConnected:
		return to == StateDisconnected || to == StateReconnecting
	case StateReconnecting:
		return to == StateConnecting || to == StateFailed || to == StateDisconnected
	case StateFailed:
		return false
	}
	return false
}
