package channel

// State is one of the eight states from spec §4.3's transition table.
// kWaitingAck and kSending collapse into one state here, StateSending:
// nothing observable distinguishes "request written, ack not yet read" from
// "ack read, still formally awaiting" once the FSM is a single serialized
// goroutine, since both only ever transition on the same events
// (DiagnosticMessagePositiveAck/NegativeAck or the ack timer).
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateConnectedNotActivated
	StateActivating
	StateActive
	StateSending
	StateWaitingResponse
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateConnecting:
		return "Connecting"
	case StateConnectedNotActivated:
		return "ConnectedNotActivated"
	case StateActivating:
		return "Activating"
	case StateActive:
		return "Active"
	case StateSending:
		return "Sending"
	case StateWaitingResponse:
		return "WaitingResponse"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// isActiveLike reports whether the channel can receive AliveCheckRequest
// and diagnostic traffic, i.e. any state from spec's "any(active)" row.
func (s State) isActiveLike() bool {
	switch s {
	case StateActive, StateSending, StateWaitingResponse:
		return true
	default:
		return false
	}
}
