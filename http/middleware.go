package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/Gate402/gate-fe-sub000/facilitator"
	"github.com/Gate402/gate-fe-sub000/http/internal/helpers"
	"github.com/Gate402/gate-fe-sub000/validation"
	"go.uber.org/zap"
)

// Config holds the configuration for the x402 middleware.
type Config struct {
	// Facilitator verifies and settles proofs. When nil, a remote
	// facilitator client for FacilitatorURL is used.
	Facilitator facilitator.Interface

	// FacilitatorURL is the primary facilitator endpoint
	FacilitatorURL string

	// FallbackFacilitatorURL is the optional backup facilitator
	FallbackFacilitatorURL string

	// PaymentRequirements defines the accepted payment methods, in order of preference
	PaymentRequirements []x402.PaymentRequirement

	// Description and MimeType describe the protected resource
	Description string
	MimeType    string

	// VerifyOnly skips settlement if true (only verifies payments)
	VerifyOnly bool

	// Timeouts bounds facilitator calls. The zero value means x402.DefaultTimeouts.
	Timeouts x402.TimeoutConfig

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key for storing the verified *Payment.
const PaymentContextKey = contextKey("x402_payment")

// Payment is what the gate learned about an accepted proof.
type Payment struct {
	Payload      x402.PaymentPayload
	Requirement  x402.PaymentRequirement
	Verification *facilitator.VerifyResponse

	// Settlement is nil in verify-only mode and until settlement ran.
	Settlement *x402.SettleResponse
}

// PaymentFromContext returns the payment stored by the gate.
func PaymentFromContext(ctx context.Context) (*Payment, bool) {
	p, ok := ctx.Value(PaymentContextKey).(*Payment)
	return p, ok
}

// Gate is the payment check shared by the stdlib, Chi and Gin middleware.
type Gate struct {
	primary      facilitator.Interface
	fallback     facilitator.Interface
	requirements []x402.PaymentRequirement
	description  string
	mimeType     string
	verifyOnly   bool
	logger       *zap.Logger
}

// NewGate validates config and enriches its requirements with facilitator
// data (like feePayer for Solana). Enrichment failures are logged and the
// configured requirements are used as-is.
func NewGate(config *Config) (*Gate, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if len(config.PaymentRequirements) == 0 {
		return nil, x402.ErrEmptyRequirements
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeouts := config.Timeouts
	if timeouts == (x402.TimeoutConfig{}) {
		timeouts = x402.DefaultTimeouts
	}
	if err := timeouts.Validate(); err != nil {
		return nil, err
	}

	g := &Gate{
		primary:     config.Facilitator,
		description: config.Description,
		mimeType:    config.MimeType,
		verifyOnly:  config.VerifyOnly,
		logger:      logger,
	}
	if g.primary == nil {
		if config.FacilitatorURL == "" {
			return nil, fmt.Errorf("facilitator or facilitator url is required")
		}
		g.primary = facilitator.NewClient(config.FacilitatorURL,
			facilitator.WithTimeouts(timeouts), facilitator.WithClientLogger(logger))
	}
	if config.FallbackFacilitatorURL != "" {
		g.fallback = facilitator.NewClient(config.FallbackFacilitatorURL,
			facilitator.WithTimeouts(timeouts), facilitator.WithClientLogger(logger))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.RequestTimeout)
	defer cancel()
	enriched, err := facilitator.EnrichRequirements(ctx, g.primary, config.PaymentRequirements)
	if err != nil {
		logger.Warn("failed to enrich payment requirements from facilitator", zap.Error(err))
		enriched = config.PaymentRequirements
	} else {
		logger.Info("payment requirements enriched from facilitator", zap.Int("count", len(enriched)))
	}

	for i, req := range enriched {
		if err := validation.ValidatePaymentRequirement(req); err != nil {
			return nil, fmt.Errorf("paymentRequirements[%d]: %w", i, err)
		}
	}
	g.requirements = enriched
	return g, nil
}

// Required builds the PAYMENT-REQUIRED document for r.
func (g *Gate) Required(r *http.Request, reason string) x402.PaymentRequired {
	description := g.description
	if description == "" {
		description = "Payment required for " + r.URL.Path
	}
	accepts := make([]x402.PaymentRequirement, len(g.requirements))
	copy(accepts, g.requirements)

	return x402.PaymentRequired{
		X402Version: x402.X402Version,
		Error:       reason,
		Resource: x402.ResourceInfo{
			URL:         helpers.ResourceURL(r),
			Description: description,
			MimeType:    g.mimeType,
		},
		Accepts: accepts,
	}
}

// Verify checks the request's proof. When it returns false the response
// has been written: 402 for a missing, malformed, unmatched or invalid
// proof and 503 when no facilitator could be reached.
func (g *Gate) Verify(w http.ResponseWriter, r *http.Request) (*Payment, bool) {
	if r.Header.Get(x402.HeaderPaymentSignature) == "" {
		g.logger.Info("no payment header provided", zap.String("path", r.URL.Path))
		helpers.SendPaymentRequired(w, g.Required(r, "payment required"))
		return nil, false
	}

	payload, err := helpers.ParsePaymentHeader(r)
	if err != nil {
		g.logger.Warn("invalid payment header", zap.Error(err))
		helpers.SendPaymentRequired(w, g.Required(r, "invalid payment header"))
		return nil, false
	}

	requirement, err := x402.FindMatchingRequirement(payload, g.requirements)
	if err != nil {
		g.logger.Warn("no matching requirement", zap.Error(err))
		helpers.SendPaymentRequired(w, g.Required(r, "payment does not match any offered requirement"))
		return nil, false
	}

	g.logger.Info("verifying payment",
		zap.String("scheme", requirement.Scheme),
		zap.String("network", requirement.Network),
		zap.String("payer", helpers.GetPayer(payload, g.logger)))

	verifyResp, err := g.primary.Verify(r.Context(), payload, *requirement)
	if err != nil && g.fallback != nil {
		g.logger.Warn("primary facilitator failed, trying fallback", zap.Error(err))
		verifyResp, err = g.fallback.Verify(r.Context(), payload, *requirement)
	}
	if err != nil {
		g.logger.Error("facilitator verification failed", zap.Error(err))
		helpers.SendError(w, http.StatusServiceUnavailable, "payment verification failed")
		return nil, false
	}
	if !verifyResp.IsValid {
		g.logger.Warn("payment verification failed", zap.String("reason", verifyResp.InvalidReason))
		helpers.SendPaymentRequired(w, g.Required(r, verifyResp.InvalidReason))
		return nil, false
	}
	if verifyResp.Payer == "" {
		verifyResp.Payer = helpers.GetPayer(payload, g.logger)
	}

	g.logger.Info("payment verified", zap.String("payer", verifyResp.Payer))
	return &Payment{Payload: payload, Requirement: *requirement, Verification: verifyResp}, true
}

// Settle settles p and adds the PAYMENT-RESPONSE header. When it returns
// false the error response has been written. In verify-only mode it does
// nothing and reports success.
func (g *Gate) Settle(w http.ResponseWriter, r *http.Request, p *Payment) bool {
	if g.verifyOnly {
		return true
	}

	g.logger.Info("settling payment", zap.String("payer", p.Verification.Payer))
	settlement, err := g.primary.Settle(r.Context(), p.Payload, p.Requirement)
	if err != nil && g.fallback != nil {
		g.logger.Warn("primary facilitator settlement failed, trying fallback", zap.Error(err))
		settlement, err = g.fallback.Settle(r.Context(), p.Payload, p.Requirement)
	}
	if err != nil {
		g.logger.Error("settlement failed", zap.Error(err))
		helpers.SendError(w, http.StatusServiceUnavailable, "payment settlement failed")
		return false
	}
	if !settlement.Success {
		g.logger.Warn("settlement unsuccessful", zap.String("reason", settlement.ErrorReason))
		helpers.SendPaymentRequired(w, g.Required(r, settlement.ErrorReason))
		return false
	}

	g.logger.Info("payment settled", zap.String("transaction", settlement.Transaction))
	p.Settlement = settlement
	if err := helpers.AddPaymentResponseHeader(w, settlement); err != nil {
		g.logger.Warn("failed to add payment response header", zap.Error(err))
	}
	return true
}

// Handler wraps next with payment gating. The payment is settled when the
// handler commits a non-error response; handler errors skip settlement.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// OPTIONS request bypass for CORS preflight support
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		payment, ok := g.Verify(w, r)
		if !ok {
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), PaymentContextKey, payment))

		interceptor := &settlementInterceptor{
			w: w,
			settleFunc: func() bool {
				return g.Settle(w, r, payment)
			},
			onFailure: func(statusCode int) {
				g.logger.Warn("handler returned non-success, skipping payment settlement", zap.Int("status", statusCode))
			},
		}
		next.ServeHTTP(interceptor, r)
	})
}

// NewX402Middleware creates a new x402 payment middleware.
// It returns a middleware function that wraps HTTP handlers with payment gating.
func NewX402Middleware(config *Config) (func(http.Handler) http.Handler, error) {
	gate, err := NewGate(config)
	if err != nil {
		return nil, err
	}
	return gate.Handler, nil
}

// settlementInterceptor wraps the ResponseWriter to intercept the moment of commitment.
type settlementInterceptor struct {
	w http.ResponseWriter
	// settleFunc performs settlement and writes the error response on failure
	settleFunc func() bool
	// onFailure is an internal logging callback
	onFailure func(statusCode int)
	committed bool
	hijacked  bool
}

func (i *settlementInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *settlementInterceptor) Write(b []byte) (int, error) {
	// Write without WriteHeader implies 200 OK.
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}

	// Settlement failed and an error response was sent; drop the handler's payload.
	if i.hijacked {
		return len(b), nil
	}
	return i.w.Write(b)
}

func (i *settlementInterceptor) WriteHeader(statusCode int) {
	if i.committed {
		return
	}
	i.committed = true

	if statusCode >= 400 {
		if i.onFailure != nil {
			i.onFailure(statusCode)
		}
		i.w.WriteHeader(statusCode)
		return
	}

	if !i.settleFunc() {
		i.hijacked = true
		return
	}
	i.w.WriteHeader(statusCode)
}

// Flush implements http.Flusher to support streaming responses.
func (i *settlementInterceptor) Flush() {
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
	if flusher, ok := i.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker to support connection hijacking.
func (i *settlementInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := i.w.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

// Push implements http.Pusher to support HTTP/2 server push.
func (i *settlementInterceptor) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := i.w.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}
