// Package http runs the client side of the x402 handshake over net/http
// and provides payment-gating middleware for sandbox resource servers.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/Gate402/gate-fe-sub000"
	"go.uber.org/zap"
)

// Client runs x402 handshakes. It holds only configuration, so one Client
// is safe for concurrent use; every Execute call starts a fresh handshake.
type Client struct {
	transport        http.RoundTripper
	signers          []x402.Signer
	selector         x402.PaymentSelector
	logger           *zap.Logger
	requestTimeout   time.Duration
	signingTimeout   time.Duration
	strictSettlement bool

	onAttempt x402.PaymentCallback
	onSuccess x402.PaymentCallback
	onFailure x402.PaymentCallback
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a payment client. Without WithTransport it uses
// http.DefaultTransport; without WithSelector the DefaultPaymentSelector.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		transport:      http.DefaultTransport,
		selector:       x402.NewDefaultPaymentSelector(),
		logger:         zap.NewNop(),
		requestTimeout: x402.DefaultTimeouts.RequestTimeout,
		signingTimeout: x402.DefaultTimeouts.SigningTimeout,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// WithTransport sets the RoundTripper both handshake requests go through.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) error {
		if rt == nil {
			return fmt.Errorf("transport cannot be nil")
		}
		c.transport = rt
		return nil
	}
}

// WithSigner registers a payment signer. Multiple signers can be added;
// the selector chooses among them per requirement.
func WithSigner(signer x402.Signer) ClientOption {
	return func(c *Client) error {
		if signer == nil {
			return fmt.Errorf("signer cannot be nil")
		}
		c.signers = append(c.signers, signer)
		return nil
	}
}

// WithSelector sets the payment selection policy.
func WithSelector(selector x402.PaymentSelector) ClientOption {
	return func(c *Client) error {
		if selector == nil {
			return fmt.Errorf("selector cannot be nil")
		}
		c.selector = selector
		return nil
	}
}

// WithLogger sets the logger. Handshake steps log at debug level.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = zap.NewNop()
		}
		c.logger = logger
		return nil
	}
}

// WithRequestTimeout bounds each of the two HTTP calls. Zero disables the bound.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("request timeout must not be negative")
		}
		c.requestTimeout = d
		return nil
	}
}

// WithSigningTimeout bounds proof construction. Zero disables the bound.
func WithSigningTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("signing timeout must not be negative")
		}
		c.signingTimeout = d
		return nil
	}
}

// WithTimeouts applies the request and signing timeouts of cfg.
func WithTimeouts(cfg x402.TimeoutConfig) ClientOption {
	return func(c *Client) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.requestTimeout = cfg.RequestTimeout
		c.signingTimeout = cfg.SigningTimeout
		return nil
	}
}

// WithStrictSettlement makes a paid response without a decodable
// PAYMENT-RESPONSE header fail with x402.ErrSettlementMissing.
func WithStrictSettlement() ClientOption {
	return func(c *Client) error {
		c.strictSettlement = true
		return nil
	}
}

// WithPaymentCallback sets a callback for a specific payment event type.
func WithPaymentCallback(eventType x402.PaymentEventType, callback x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		switch eventType {
		case x402.PaymentEventAttempt:
			c.onAttempt = callback
		case x402.PaymentEventSuccess:
			c.onSuccess = callback
		case x402.PaymentEventFailure:
			c.onFailure = callback
		default:
			return fmt.Errorf("unknown payment event type: %s", eventType)
		}
		return nil
	}
}

// WithPaymentCallbacks sets all payment callbacks at once.
// Pass nil for any callback you don't want to set.
func WithPaymentCallbacks(onAttempt, onSuccess, onFailure x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		if onAttempt != nil {
			c.onAttempt = onAttempt
		}
		if onSuccess != nil {
			c.onSuccess = onSuccess
		}
		if onFailure != nil {
			c.onFailure = onFailure
		}
		return nil
	}
}

// Get runs a handshake for a GET of url.
func (c *Client) Get(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.Execute(ctx, req)
}

// Execute runs one handshake for req: send it, and if the server answers
// 402 with PAYMENT-REQUIRED, select a requirement, sign it and resend req
// once with PAYMENT-SIGNATURE.
//
// On success the Result is Settled and Result.Response is the paid response,
// whose body the caller must close. On failure the returned error is a
// *x402.PaymentError and the Result still carries the step log.
func (c *Client) Execute(ctx context.Context, req *http.Request) (*Result, error) {
	h, err := c.newHandshake(ctx, req, false)
	if err != nil {
		return nil, err
	}
	return h.run()
}

// HTTPClient returns a standard *http.Client whose transport pays for
// 402 responses with this Client's configuration.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: &X402Transport{client: c}}
}

// GetSettlement decodes the PAYMENT-RESPONSE header of a response.
// It returns nil when the header is absent or cannot be decoded.
func GetSettlement(resp *http.Response) *x402.SettleResponse {
	raw := resp.Header.Get(x402.HeaderPaymentResponse)
	if raw == "" {
		return nil
	}
	settlement, err := decodeSettlement(raw)
	if err != nil {
		return nil
	}
	return settlement
}

// cancelOnClose releases a request context when the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
