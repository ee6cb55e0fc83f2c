package x402

import (
	"context"
	"math/big"
)

// Signer produces a payment proof for a requirement.
// Implementations are either local-key signers (evm, svm) or a
// connected-wallet signer (wallet); the payment client only ever calls
// the methods below and never changes signer state.
type Signer interface {
	// Network returns the CAIP-2 network identifier (e.g., "eip155:8453").
	Network() string

	// Scheme returns the payment scheme identifier (currently "exact").
	Scheme() string

	// Address returns the payer identity the signer signs for.
	Address() string

	// CanSign checks if this signer can satisfy the given payment requirement.
	CanSign(requirement *PaymentRequirement) bool

	// Sign creates a signed payment payload bound to exactly this requirement.
	// It may block on user interaction (connected wallets) until ctx is done.
	Sign(ctx context.Context, requirement *PaymentRequirement) (*PaymentPayload, error)

	// GetPriority returns the signer's priority level.
	// Lower numbers indicate higher priority (1 > 2 > 3).
	GetPriority() int

	// GetTokens returns the list of tokens supported by this signer.
	GetTokens() []TokenConfig

	// GetMaxAmount returns the per-call spending limit, or nil if no limit is set.
	GetMaxAmount() *big.Int
}
