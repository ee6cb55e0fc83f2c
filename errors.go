package x402

import (
	"errors"
	"fmt"
	"strings"
)

// Handshake error kinds. Every failure surfaced by the payment client
// wraps exactly one of these, so callers can classify with errors.Is.
var (
	// ErrNetwork indicates no response reached the client (includes suspected cross-origin blocking).
	ErrNetwork = errors.New("x402: network error")

	// ErrUnexpectedStatus indicates the initial response was neither 402 nor a payment challenge.
	ErrUnexpectedStatus = errors.New("x402: unexpected status")

	// ErrMissingRequirementHeader indicates a 402 response without a PAYMENT-REQUIRED header.
	ErrMissingRequirementHeader = errors.New("x402: missing PAYMENT-REQUIRED header")

	// ErrMalformedHeader indicates a payment header that is not valid structured data.
	ErrMalformedHeader = errors.New("x402: malformed payment header")

	// ErrEmptyRequirements indicates a PAYMENT-REQUIRED header with no payment options.
	ErrEmptyRequirements = errors.New("x402: no payment requirements offered")

	// ErrNoAcceptablePaymentOption indicates no offered requirement can be paid.
	ErrNoAcceptablePaymentOption = errors.New("x402: no acceptable payment option")

	// ErrSignerUnavailable indicates no signer is configured or connected.
	ErrSignerUnavailable = errors.New("x402: signer unavailable")

	// ErrSigningRejected indicates the key holder declined to sign.
	ErrSigningRejected = errors.New("x402: signing rejected")

	// ErrUnsupportedNetwork indicates the requirement's network has no registered capability.
	ErrUnsupportedNetwork = errors.New("x402: unsupported network")

	// ErrPaymentRejected indicates the paid retry was not answered with 200.
	ErrPaymentRejected = errors.New("x402: payment rejected")

	// ErrSettlementMissing indicates a paid response without a usable settlement header (strict mode).
	ErrSettlementMissing = errors.New("x402: settlement receipt missing")
)

// Configuration and signing errors.
var (
	ErrInvalidAmount      = errors.New("x402: invalid amount")
	ErrAmountExceeded     = errors.New("x402: payment amount exceeds per-call limit")
	ErrInvalidKey         = errors.New("x402: invalid private key")
	ErrInvalidNetwork     = errors.New("x402: invalid or unsupported network")
	ErrInvalidKeystore    = errors.New("x402: invalid keystore file")
	ErrInvalidMnemonic    = errors.New("x402: invalid mnemonic phrase")
	ErrNoTokens           = errors.New("x402: no tokens configured")
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")

	// ErrInvalidTransition indicates an event that is not legal in the current handshake state.
	ErrInvalidTransition = errors.New("x402: invalid handshake transition")
)

// Facilitator errors, used by the sandbox resource server.
var (
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")
	ErrVerificationFailed     = errors.New("x402: payment verification failed")
	ErrSettlementFailed       = errors.New("x402: payment settlement failed")
)

// ErrorCode identifies the kind of a PaymentError.
type ErrorCode string

const (
	ErrCodeNetwork                   ErrorCode = "NETWORK_ERROR"
	ErrCodeUnexpectedStatus          ErrorCode = "UNEXPECTED_STATUS"
	ErrCodeMissingRequirementHeader  ErrorCode = "MISSING_REQUIREMENT_HEADER"
	ErrCodeMalformedHeader           ErrorCode = "MALFORMED_HEADER"
	ErrCodeEmptyRequirements         ErrorCode = "EMPTY_REQUIREMENTS"
	ErrCodeNoAcceptablePaymentOption ErrorCode = "NO_ACCEPTABLE_PAYMENT_OPTION"
	ErrCodeSignerUnavailable         ErrorCode = "SIGNER_UNAVAILABLE"
	ErrCodeSigningRejected           ErrorCode = "SIGNING_REJECTED"
	ErrCodeUnsupportedNetwork        ErrorCode = "UNSUPPORTED_NETWORK"
	ErrCodePaymentRejected           ErrorCode = "PAYMENT_REJECTED"
	ErrCodeSettlementMissing         ErrorCode = "SETTLEMENT_MISSING"
	ErrCodeSigningFailed             ErrorCode = "SIGNING_FAILED"
)

// PaymentError is the error returned for every failed handshake.
// It records which step failed and, for HTTP-level failures, the
// response status and body so an operator can debug their endpoint.
type PaymentError struct {
	Code    ErrorCode
	Message string
	Err     error

	// Step is the handshake state in which the failure happened.
	Step HandshakeState

	// StatusCode and Body are set for UNEXPECTED_STATUS and PAYMENT_REJECTED.
	StatusCode int
	Body       []byte

	Details map[string]interface{}
}

// NewPaymentError creates a PaymentError with an initialized Details map.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails records a diagnostic key/value pair and returns the error for chaining.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	e.Details[key] = value
	return e
}

// WithStep records the handshake state the error belongs to.
func (e *PaymentError) WithStep(step HandshakeState) *PaymentError {
	e.Step = step
	return e
}

// WithResponse records the HTTP status and body of the offending response.
func (e *PaymentError) WithResponse(status int, body []byte) *PaymentError {
	e.StatusCode = status
	e.Body = body
	return e
}

func (e *PaymentError) Error() string {
	var b strings.Builder
	if e.Step != StateIdle {
		fmt.Fprintf(&b, "[%s] ", e.Step)
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	return b.String()
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// sentinelCodes maps each sentinel to its error code.
var sentinelCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrNetwork, ErrCodeNetwork},
	{ErrUnexpectedStatus, ErrCodeUnexpectedStatus},
	{ErrMissingRequirementHeader, ErrCodeMissingRequirementHeader},
	{ErrMalformedHeader, ErrCodeMalformedHeader},
	{ErrEmptyRequirements, ErrCodeEmptyRequirements},
	{ErrNoAcceptablePaymentOption, ErrCodeNoAcceptablePaymentOption},
	{ErrSignerUnavailable, ErrCodeSignerUnavailable},
	{ErrSigningRejected, ErrCodeSigningRejected},
	{ErrUnsupportedNetwork, ErrCodeUnsupportedNetwork},
	{ErrPaymentRejected, ErrCodePaymentRejected},
	{ErrSettlementMissing, ErrCodeSettlementMissing},
}

// Classify returns the error code of err: the code of the outermost
// PaymentError, else the code of the first handshake sentinel in err's
// chain, else ErrCodeSigningFailed.
func Classify(err error) ErrorCode {
	var pe *PaymentError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	return ErrCodeSigningFailed
}
