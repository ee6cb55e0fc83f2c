// Package evm provides a local-key x402 signer for EVM chains that pays
// with EIP-3009 transferWithAuthorization signed under EIP-712.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer implements x402.Signer for EVM-compatible chains.
// It is immutable after construction and safe for concurrent use.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	network    string
	chainID    *big.Int
	tokens     []x402.TokenConfig
	priority   int
	maxAmount  *big.Int
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a new EVM signer with the given options.
// A key source (WithPrivateKey, WithKeystore or WithMnemonic), a network and
// at least one token are required.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.privateKey == nil {
		return nil, x402.ErrInvalidKey
	}
	if s.network == "" {
		return nil, x402.ErrInvalidNetwork
	}
	if len(s.tokens) == 0 {
		return nil, x402.ErrNoTokens
	}

	chainID, err := x402.ChainID(s.network)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidNetwork, err)
	}
	for _, token := range s.tokens {
		if err := x402.ValidateTokenAddress(s.network, token.Address); err != nil {
			return nil, err
		}
	}

	s.chainID = chainID
	s.address = crypto.PubkeyToAddress(s.privateKey.PublicKey)
	return s, nil
}

// WithPrivateKey sets the private key from a hex string, with or without 0x.
func WithPrivateKey(hexKey string) SignerOption {
	return func(s *Signer) error {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return x402.ErrInvalidKey
		}
		s.privateKey = privateKey
		return nil
	}
}

// WithNetwork sets the network, as a CAIP-2 identifier or a known short name like "base".
func WithNetwork(network string) SignerOption {
	return func(s *Signer) error {
		s.network = x402.NormalizeNetwork(network)
		return nil
	}
}

// WithToken adds a token configuration.
func WithToken(address, symbol string, decimals int) SignerOption {
	return WithTokenPriority(address, symbol, decimals, 0)
}

// WithTokenPriority adds a token configuration with a priority.
func WithTokenPriority(address, symbol string, decimals, priority int) SignerOption {
	return func(s *Signer) error {
		s.tokens = append(s.tokens, x402.TokenConfig{
			Address:  address,
			Symbol:   symbol,
			Decimals: decimals,
			Priority: priority,
		})
		return nil
	}
}

// WithUSDC adds the chain table's USDC token for the signer's network.
// It must follow WithNetwork.
func WithUSDC(priority int) SignerOption {
	return func(s *Signer) error {
		chain, ok := x402.LookupChain(s.network)
		if !ok || chain.Type() != x402.NetworkTypeEVM {
			return fmt.Errorf("%w: no USDC deployment known for %q", x402.ErrInvalidNetwork, s.network)
		}
		s.tokens = append(s.tokens, x402.NewUSDCTokenConfig(chain, priority))
		return nil
	}
}

// WithPriority sets the signer priority.
func WithPriority(priority int) SignerOption {
	return func(s *Signer) error {
		s.priority = priority
		return nil
	}
}

// WithMaxAmountPerCall sets the maximum atomic amount per payment call.
func WithMaxAmountPerCall(amount string) SignerOption {
	return func(s *Signer) error {
		maxAmount, ok := new(big.Int).SetString(amount, 10)
		if !ok || maxAmount.Sign() < 0 {
			return x402.ErrInvalidAmount
		}
		s.maxAmount = maxAmount
		return nil
	}
}

// Network implements x402.Signer.
func (s *Signer) Network() string {
	return s.network
}

// Scheme implements x402.Signer.
func (s *Signer) Scheme() string {
	return x402.SchemeExact
}

// Address implements x402.Signer.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// CanSign implements x402.Signer.
func (s *Signer) CanSign(requirement *x402.PaymentRequirement) bool {
	if requirement.Network != s.network || requirement.Scheme != x402.SchemeExact {
		return false
	}
	return s.hasToken(requirement.Asset)
}

// Sign implements x402.Signer. The authorization binds the requirement's
// payTo, amount, asset and network, a fresh nonce and a validity window of
// maxTimeoutSeconds.
func (s *Signer) Sign(ctx context.Context, requirement *x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSignerUnavailable, "signing cancelled", x402.ErrSignerUnavailable)
	}
	if !s.CanSign(requirement) {
		return nil, x402.NewPaymentError(x402.ErrCodeUnsupportedNetwork, "signer cannot pay requirement", x402.ErrUnsupportedNetwork).
			WithDetails("network", requirement.Network).
			WithDetails("asset", requirement.Asset)
	}

	amount, ok := new(big.Int).SetString(requirement.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", x402.ErrInvalidAmount, requirement.Amount)
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, x402.ErrAmountExceeded
	}
	if !common.IsHexAddress(requirement.PayTo) {
		return nil, fmt.Errorf("payTo %q is not an EVM address", requirement.PayTo)
	}

	domain, err := DomainFor(requirement)
	if err != nil {
		return nil, err
	}

	auth, err := NewAuthorization(s.address, common.HexToAddress(requirement.PayTo), amount, requirement.MaxTimeoutSeconds)
	if err != nil {
		return nil, err
	}

	signature, err := SignAuthorization(s.privateKey, domain, auth)
	if err != nil {
		return nil, err
	}

	return &x402.PaymentPayload{
		X402Version: x402.X402Version,
		Accepted:    *requirement,
		Payload: x402.EVMPayload{
			Signature:     signature,
			Authorization: auth.ToPayload(),
		},
	}, nil
}

// GetPriority implements x402.Signer.
func (s *Signer) GetPriority() int {
	return s.priority
}

// GetTokens implements x402.Signer.
func (s *Signer) GetTokens() []x402.TokenConfig {
	return s.tokens
}

// GetMaxAmount implements x402.Signer.
func (s *Signer) GetMaxAmount() *big.Int {
	return s.maxAmount
}

// ChainID returns the EIP-155 chain ID of the signer's network.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

func (s *Signer) hasToken(asset string) bool {
	for _, token := range s.tokens {
		if strings.EqualFold(token.Address, asset) {
			return true
		}
	}
	return false
}
