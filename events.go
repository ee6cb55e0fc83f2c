package x402

import "time"

// PaymentEventType represents the type of payment event.
type PaymentEventType string

const (
	// PaymentEventAttempt indicates a signed payment is about to be sent.
	PaymentEventAttempt PaymentEventType = "attempt"

	// PaymentEventSuccess indicates the paid retry was accepted.
	PaymentEventSuccess PaymentEventType = "success"

	// PaymentEventFailure indicates the handshake failed.
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent represents a payment lifecycle event.
type PaymentEvent struct {
	Type      PaymentEventType
	Timestamp time.Time

	// Method is the transport that ran the handshake ("HTTP").
	Method string
	URL    string

	Amount    string
	Asset     string
	Network   string
	Scheme    string
	Recipient string

	// Payer and Transaction are available on success when a receipt was returned.
	Payer       string
	Transaction string

	// Error is set on failure.
	Error error

	Duration time.Duration
}

// PaymentCallback handles payment events. Callbacks run synchronously
// inside the handshake and should return quickly.
type PaymentCallback func(PaymentEvent)
