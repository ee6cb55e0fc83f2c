// Package coinbase connects the wallet signer to accounts held by the
// Coinbase Developer Platform (CDP). Keys never leave CDP: every EIP-712
// signature is requested over its REST API.
package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Gate402/gate-fe-sub000/retry"
	"go.uber.org/zap"
)

// DefaultBaseURL is the production CDP API.
const DefaultBaseURL = "https://api.cdp.coinbase.com"

const accountsPath = "/platform/v2/evm/accounts"

// Client calls the CDP API, retrying rate limits and server errors.
type Client struct {
	baseURL    string
	host       string
	httpClient *http.Client
	auth       *Auth
	retry      retry.Config
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API host.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryConfig sets the backoff for transient API failures.
func WithRetryConfig(config retry.Config) Option {
	return func(c *Client) {
		c.retry = config
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a CDP API client.
func NewClient(auth *Auth, opts ...Option) (*Client, error) {
	if auth == nil {
		return nil, errors.New("coinbase: credentials are required")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		auth:       auth,
		retry: retry.Config{
			MaxAttempts:  5,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("coinbase: invalid base URL %q", c.baseURL)
	}
	c.host = u.Host
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}, walletAuth bool) error {
	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("CDP request failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	_, err := retry.WithRetry(ctx, cfg, isRetryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.doOnce(ctx, method, path, body, result, walletAuth)
	})
	return err
}

func isRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, result interface{}, walletAuth bool) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	token, err := c.auth.BearerToken(c.host, method, path)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if walletAuth {
		walletToken, err := c.auth.WalletToken(c.host, method, path, payload)
		if err != nil {
			return err
		}
		req.Header.Set("X-Wallet-Auth", walletToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("CDP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read CDP response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, data, resp.Header.Get("X-Request-ID"), method, path)
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode CDP response: %w", err)
		}
	}
	return nil
}
