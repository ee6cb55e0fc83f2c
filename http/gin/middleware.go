// Package gin provides Gin-compatible middleware for x402 payment gating.
// This package is a thin adapter that translates gin.Context to stdlib http patterns
// and delegates payment verification and settlement to httpx402.Gate.
package gin

import (
	"context"
	"net/http"

	httpx402 "github.com/Gate402/gate-fe-sub000/http"
	"github.com/gin-gonic/gin"
)

// PaymentKey is the gin.Context key holding the *httpx402.Payment.
const PaymentKey = "x402_payment"

// NewGinX402Middleware creates a new x402 payment middleware for Gin.
//
// The middleware:
//   - Returns 402 Payment Required with PAYMENT-REQUIRED if the proof is missing or invalid
//   - Verifies payments with the facilitator
//   - Settles payments (unless VerifyOnly=true)
//   - Stores the payment in the Gin context via c.Set(PaymentKey, payment)
//   - Calls c.Abort() on payment failure to stop the handler chain
//   - Calls c.Next() on payment success to proceed to the protected handler
//
// Example usage:
//
//	mw, err := NewGinX402Middleware(config)
//	r := gin.Default()
//	r.Use(mw)
//	r.GET("/protected", func(c *gin.Context) {
//	    payment := c.MustGet(PaymentKey).(*httpx402.Payment)
//	    c.JSON(200, gin.H{"payer": payment.Verification.Payer})
//	})
func NewGinX402Middleware(config *httpx402.Config) (gin.HandlerFunc, error) {
	gate, err := httpx402.NewGate(config)
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		payment, ok := gate.Verify(c.Writer, c.Request)
		if !ok {
			c.Abort()
			return
		}
		if !gate.Settle(c.Writer, c.Request, payment) {
			c.Abort()
			return
		}

		c.Set(PaymentKey, payment)

		// Also store in stdlib context for handlers using httpx402.PaymentFromContext
		ctx := context.WithValue(c.Request.Context(), httpx402.PaymentContextKey, payment)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}, nil
}
