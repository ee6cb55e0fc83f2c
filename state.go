package x402

import "fmt"

// HandshakeState is the state of one payment handshake.
type HandshakeState int

const (
	StateIdle HandshakeState = iota
	StateAwaitingInitialResponse
	StateRequirementsReceived
	StateProofConstructed
	StateAwaitingRetryResponse
	StateSettled
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                    "idle",
	StateAwaitingInitialResponse: "awaiting-initial-response",
	StateRequirementsReceived:    "requirements-received",
	StateProofConstructed:        "proof-constructed",
	StateAwaitingRetryResponse:   "awaiting-retry-response",
	StateSettled:                 "settled",
	StateFailed:                  "failed",
}

func (s HandshakeState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further event is accepted in s.
func (s HandshakeState) Terminal() bool {
	return s == StateSettled || s == StateFailed
}

// HandshakeEvent drives the handshake state machine.
type HandshakeEvent int

const (
	// EventRequestSent: the unpaid request was issued.
	EventRequestSent HandshakeEvent = iota
	// EventRequirementsDecoded: a 402 with a decodable PAYMENT-REQUIRED arrived.
	EventRequirementsDecoded
	// EventProofSigned: a requirement was selected and signed.
	EventProofSigned
	// EventRetrySent: the paid retry was issued.
	EventRetrySent
	// EventPaid: the retry was answered with 200.
	EventPaid
	// EventFailed: any step failed.
	EventFailed
)

var eventNames = [...]string{
	EventRequestSent:         "request-sent",
	EventRequirementsDecoded: "requirements-decoded",
	EventProofSigned:         "proof-signed",
	EventRetrySent:           "retry-sent",
	EventPaid:                "paid",
	EventFailed:              "failed",
}

func (e HandshakeEvent) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}

// transitions lists the single legal successor for each (state, event) pair.
// EventFailed is legal from every non-terminal state and handled separately.
var transitions = map[HandshakeState]map[HandshakeEvent]HandshakeState{
	StateIdle:                    {EventRequestSent: StateAwaitingInitialResponse},
	StateAwaitingInitialResponse: {EventRequirementsDecoded: StateRequirementsReceived},
	StateRequirementsReceived:    {EventProofSigned: StateProofConstructed},
	StateProofConstructed:        {EventRetrySent: StateAwaitingRetryResponse},
	StateAwaitingRetryResponse:   {EventPaid: StateSettled},
}

// Next is the pure transition function of the handshake.
// It returns ErrInvalidTransition for any event not legal in state.
func Next(state HandshakeState, event HandshakeEvent) (HandshakeState, error) {
	if state.Terminal() {
		return state, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, state)
	}
	if event == EventFailed {
		return StateFailed, nil
	}
	if next, ok := transitions[state][event]; ok {
		return next, nil
	}
	return state, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, state)
}
