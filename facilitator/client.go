package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	x402 "github.com/Gate402/gate-fe-sub000"
	"go.uber.org/zap"
)

// maxErrorBody bounds how much of a failed facilitator response is kept.
const maxErrorBody = 4 << 10

// Client talks to a remote x402 facilitator service.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	verifyTimeout time.Duration
	settleTimeout time.Duration
	logger        *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for facilitator calls.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(fc *Client) {
		fc.httpClient = c
	}
}

// WithTimeouts sets the verify and settle timeouts.
func WithTimeouts(t x402.TimeoutConfig) ClientOption {
	return func(fc *Client) {
		fc.verifyTimeout = t.VerifyTimeout
		fc.settleTimeout = t.SettleTimeout
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(fc *Client) {
		fc.logger = logger
	}
}

// NewClient creates a client for the facilitator at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    http.DefaultClient,
		verifyTimeout: x402.DefaultTimeouts.VerifyTimeout,
		settleTimeout: x402.DefaultTimeouts.SettleTimeout,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify implements Interface.
func (c *Client) Verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.post(ctx, "/verify", c.verifyTimeout, payment, requirement, &resp, x402.ErrVerificationFailed); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settle implements Interface.
func (c *Client) Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettleResponse, error) {
	var resp x402.SettleResponse
	if err := c.post(ctx, "/settle", c.settleTimeout, payment, requirement, &resp, x402.ErrSettlementFailed); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Supported implements Interface.
func (c *Client) Supported(ctx context.Context) (*SupportedResponse, error) {
	ctx, cancel := withTimeout(ctx, c.verifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp SupportedResponse
	if err := c.do(req, &resp, x402.ErrFacilitatorUnavailable); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, timeout time.Duration, payment x402.PaymentPayload, requirement x402.PaymentRequirement, out interface{}, failure error) error {
	body, err := json.Marshal(Request{
		X402Version:         x402.X402Version,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out, failure)
}

func (c *Client) do(req *http.Request, out interface{}, failure error) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("facilitator unreachable", zap.String("url", req.URL.String()), zap.Error(err))
		return fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("facilitator response",
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: status %d: %s", failure, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", failure, err)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
