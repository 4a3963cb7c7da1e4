package lifecycle

// State is a lifecycle phase.
type State int32

const (
	StateBooting State = iota
	StateReady
	StateClosing
	StateFinalizing
	StateTerminated
	// StateFailed shows a boot failure until the user dismisses it.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "BOOTING"
	case StateReady:
		return "READY"
	case StateClosing:
		return "CLOSING"
	case StateFinalizing:
		return "FINALIZING"
	case StateTerminated:
		return "TERMINATED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
