package bridge

// State is the bridge connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateStopped
	// StateStoppedFatal means the server refused the token; the bridge must re-pair.
	StateStoppedFatal
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
	case StateStopped:
		return "stopped"
	case StateStoppedFatal:
		return "stopped_fatal"
	default:
		return "unknown"
	}
}

// Terminal reports whether the client will never connect again.
func (s State) Terminal() bool { return s == StateStopped || s == StateStoppedFatal }
