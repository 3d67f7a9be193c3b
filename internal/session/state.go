package session

// State tracks one session's lifecycle. Transitions only move forward:
// Idle → Running → Draining → Stopped. A fatal abort skips Draining and
// lands on Stopped directly.
type State uint32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
