package x402

import (
	"errors"
	"time"
)

// TimeoutConfig bounds the suspension points of a handshake and of
// facilitator calls made by the sandbox resource server.
type TimeoutConfig struct {
	// RequestTimeout bounds each of the two HTTP calls of a handshake.
	RequestTimeout time.Duration

	// SigningTimeout bounds proof construction; connected wallets may wait on a human.
	SigningTimeout time.Duration

	// VerifyTimeout bounds a facilitator /verify call.
	VerifyTimeout time.Duration

	// SettleTimeout bounds a facilitator /settle call (longer due to blockchain tx).
	SettleTimeout time.Duration
}

// DefaultTimeouts are applied when no explicit timeouts are configured.
var DefaultTimeouts = TimeoutConfig{
	RequestTimeout: 30 * time.Second,
	SigningTimeout: 120 * time.Second,
	VerifyTimeout:  5 * time.Second,
	SettleTimeout:  60 * time.Second,
}

// Validate rejects negative durations. Zero means "no timeout".
func (c TimeoutConfig) Validate() error {
	if c.RequestTimeout < 0 {
		return errors.New("request timeout must not be negative")
	}
	if c.SigningTimeout < 0 {
		return errors.New("signing timeout must not be negative")
	}
	if c.VerifyTimeout < 0 {
		return errors.New("verify timeout must not be negative")
	}
	if c.SettleTimeout < 0 {
		return errors.New("settle timeout must not be negative")
	}
	return nil
}
