// Package helpers provides shared helper functions for x402 HTTP middleware implementations.
// These helpers are used by the stdlib, Gin and Chi middleware to ensure consistent behavior.
package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/Gate402/gate-fe-sub000/encoding"
	"github.com/Gate402/gate-fe-sub000/validation"
)

// ParsePaymentHeader parses the PAYMENT-SIGNATURE header of a request.
//
// Returns x402.ErrMalformedHeader if the header is missing or not base64 JSON,
// and x402.ErrUnsupportedVersion if the proof is not for protocol version 2.
func ParsePaymentHeader(r *http.Request) (x402.PaymentPayload, error) {
	raw := r.Header.Get(x402.HeaderPaymentSignature)
	if raw == "" {
		return x402.PaymentPayload{}, x402.ErrMalformedHeader
	}

	payment, err := encoding.DecodePayment(raw)
	if err != nil {
		return payment, err
	}
	if err := validation.ValidatePaymentPayload(payment); err != nil {
		return payment, fmt.Errorf("%w: %w", x402.ErrMalformedHeader, err)
	}
	return payment, nil
}

// ResourceURL builds the absolute URL of the requested resource.
func ResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}

// SendPaymentRequired sends a 402 Payment Required response. The document
// is carried in the PAYMENT-REQUIRED header and repeated as the JSON body.
func SendPaymentRequired(w http.ResponseWriter, required x402.PaymentRequired) {
	header, err := encoding.EncodeRequired(required)
	if err != nil {
		SendError(w, http.StatusInternalServerError, "failed to encode payment requirements")
		return
	}

	w.Header().Set(x402.HeaderPaymentRequired, header)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	// Ignore encoding errors - the header already carries the requirements
	_ = json.NewEncoder(w).Encode(required)
}

// SendError sends a JSON error response with the x402Version field.
func SendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"x402Version": x402.X402Version,
		"error":       message,
	})
}

// AddPaymentResponseHeader adds the PAYMENT-RESPONSE header with the settlement receipt.
func AddPaymentResponseHeader(w http.ResponseWriter, settlement *x402.SettleResponse) error {
	encoded, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		return err
	}
	w.Header().Set(x402.HeaderPaymentResponse, encoded)
	return nil
}
