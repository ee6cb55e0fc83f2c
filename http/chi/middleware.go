// Package chi provides Chi-compatible middleware for x402 payment gating.
// This package is a thin adapter over the stdlib http.Handler interface
// and delegates payment verification and settlement to httpx402.Gate.
package chi

import (
	"context"
	"net/http"

	httpx402 "github.com/Gate402/gate-fe-sub000/http"
)

// NewChiX402Middleware creates a new x402 payment middleware for Chi.
//
// The middleware:
//   - Bypasses OPTIONS requests for CORS preflight support
//   - Returns 402 Payment Required with PAYMENT-REQUIRED if the proof is missing or invalid
//   - Verifies payments with the facilitator
//   - Settles payments before calling the handler (unless VerifyOnly=true)
//   - Stores the *httpx402.Payment in the request context via httpx402.PaymentContextKey
//
// Example usage:
//
//	mw, err := NewChiX402Middleware(&httpx402.Config{
//	    Facilitator:         facilitator.NewLocal(),
//	    PaymentRequirements: []x402.PaymentRequirement{requirement},
//	})
//	r := chi.NewRouter()
//	r.Use(mw)
//	r.Get("/protected", func(w http.ResponseWriter, r *http.Request) {
//	    payment, _ := httpx402.PaymentFromContext(r.Context())
//	    w.Write([]byte("Access granted! Payer: " + payment.Verification.Payer))
//	})
func NewChiX402Middleware(config *httpx402.Config) (func(http.Handler) http.Handler, error) {
	gate, err := httpx402.NewGate(config)
	if err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			payment, ok := gate.Verify(w, r)
			if !ok {
				return
			}
			if !gate.Settle(w, r, payment) {
				return
			}

			ctx := context.WithValue(r.Context(), httpx402.PaymentContextKey, payment)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}
