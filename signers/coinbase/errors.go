package coinbase

import (
	"fmt"
	"net/http"

	"github.com/Gate402/gate-fe-sub000/wallet"
)

// Error kinds of an APIError.
const (
	ErrorTypeRateLimit   = "rate_limit"
	ErrorTypeServerError = "server_error"
	ErrorTypeAuthError   = "auth_error"
	ErrorTypeClientError = "client_error"
)

// APIError is a non-2xx answer from the CDP API.
type APIError struct {
	StatusCode int
	ErrorType  string
	Message    string
	RequestID  string
	Method     string
	Path       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("CDP API error [%d]: %s", e.StatusCode, e.Message)
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (request %s)", e.RequestID)
	}
	if e.Method != "" {
		msg += fmt.Sprintf(" [%s %s]", e.Method, e.Path)
	}
	return msg
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.ErrorType == ErrorTypeRateLimit || e.ErrorType == ErrorTypeServerError
}

// ErrorCode maps the failure onto an EIP-1193 provider code so the wallet
// signer reports credential problems as an unavailable signer.
func (e *APIError) ErrorCode() int {
	if e.ErrorType == ErrorTypeAuthError {
		return wallet.CodeUnauthorized
	}
	return 0
}

func newAPIError(status int, body []byte, requestID, method, path string) *APIError {
	e := &APIError{
		StatusCode: status,
		Message:    string(body),
		RequestID:  requestID,
		Method:     method,
		Path:       path,
	}
	switch {
	case status == http.StatusTooManyRequests:
		e.ErrorType = ErrorTypeRateLimit
	case status >= 500:
		e.ErrorType = ErrorTypeServerError
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.ErrorType = ErrorTypeAuthError
	default:
		e.ErrorType = ErrorTypeClientError
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
