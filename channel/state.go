package channel

// State is a Channel's position in its lifecycle state machine: IDLE →
// REGISTERED → {BOUND|CONNECTED} → ACTIVE → INACTIVE → UNREGISTERED →
// CLOSED. Transitions are irreversible except re-registration from
// UNREGISTERED back to REGISTERED on a different loop.
type State int32

const (
	StateIdle State = iota
	StateRegistered
	StateBound
	StateConnected
	StateActive
	StateInactive
	StateUnregistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRegistered:
		return "registered"
	case StateBound:
		return "bound"
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateUnregistered:
		return "unregistered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
