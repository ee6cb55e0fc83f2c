// Package wallet provides an x402 signer backed by a connected wallet:
// the key lives outside the process and every signature is requested over
// an EIP-1193 style interface, possibly waiting on a human to approve it.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/Gate402/gate-fe-sub000/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
)

// Wallet is a connected wallet.
type Wallet interface {
	// Accounts returns the accounts the wallet currently exposes. An empty
	// list means the wallet is locked or not connected.
	Accounts(ctx context.Context) ([]common.Address, error)

	// SignTypedData asks the wallet to sign EIP-712 typed data with account
	// (eth_signTypedData_v4) and returns the 65-byte signature.
	SignTypedData(ctx context.Context, account common.Address, data apitypes.TypedData) ([]byte, error)
}

// Signer implements x402.Signer over a connected Wallet for EVM chains.
// It holds no key material and never changes the wallet's state.
type Signer struct {
	wallet    Wallet
	account   common.Address
	network   string
	chainID   *big.Int
	tokens    []x402.TokenConfig
	priority  int
	maxAmount *big.Int
	logger    *zap.Logger
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a connected-wallet signer. Without WithAccount the
// wallet's first exposed account is used; a wallet exposing none is
// reported as x402.ErrSignerUnavailable.
func NewSigner(ctx context.Context, w Wallet, opts ...SignerOption) (*Signer, error) {
	if w == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSignerUnavailable, "no wallet connected", x402.ErrSignerUnavailable)
	}
	s := &Signer{wallet: w, logger: zap.NewNop()}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
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

	if s.account == (common.Address{}) {
		accounts, err := w.Accounts(ctx)
		if err != nil {
			return nil, walletError(ctx, "failed to list wallet accounts", err)
		}
		if len(accounts) == 0 {
			return nil, x402.NewPaymentError(x402.ErrCodeSignerUnavailable, "wallet exposes no accounts", x402.ErrSignerUnavailable)
		}
		s.account = accounts[0]
	}
	return s, nil
}

// WithAccount pins the account to sign with.
func WithAccount(address string) SignerOption {
	return func(s *Signer) error {
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid account address %q", address)
		}
		s.account = common.HexToAddress(address)
		return nil
	}
}

// WithNetwork sets the network by CAIP-2 identifier or short name (e.g., "base").
func WithNetwork(network string) SignerOption {
	return func(s *Signer) error {
		s.network = x402.NormalizeNetwork(network)
		return nil
	}
}

// WithToken adds a token with the default priority.
func WithToken(address, symbol string, decimals int) SignerOption {
	return WithTokenPriority(address, symbol, decimals, 0)
}

// WithTokenPriority adds a token with a priority.
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

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) SignerOption {
	return func(s *Signer) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// Network implements x402.Signer.
func (s *Signer) Network() string { return s.network }

// Scheme implements x402.Signer.
func (s *Signer) Scheme() string { return x402.SchemeExact }

// Address implements x402.Signer.
func (s *Signer) Address() string { return s.account.Hex() }

// GetPriority implements x402.Signer.
func (s *Signer) GetPriority() int { return s.priority }

// GetTokens implements x402.Signer.
func (s *Signer) GetTokens() []x402.TokenConfig { return s.tokens }

// GetMaxAmount implements x402.Signer.
func (s *Signer) GetMaxAmount() *big.Int { return s.maxAmount }

// CanSign implements x402.Signer.
func (s *Signer) CanSign(requirement *x402.PaymentRequirement) bool {
	if requirement.Network != s.network || requirement.Scheme != x402.SchemeExact {
		return false
	}
	for _, token := range s.tokens {
		if strings.EqualFold(token.Address, requirement.Asset) {
			return true
		}
	}
	return false
}

// Sign implements x402.Signer. It asks the wallet to sign the same EIP-3009
// authorization a local evm.Signer would produce, and blocks until the
// wallet answers or ctx is done.
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

	accounts, err := s.wallet.Accounts(ctx)
	if err != nil {
		return nil, walletError(ctx, "failed to list wallet accounts", err)
	}
	if !containsAccount(accounts, s.account) {
		return nil, x402.NewPaymentError(x402.ErrCodeSignerUnavailable, "wallet no longer exposes the signing account", x402.ErrSignerUnavailable).
			WithDetails("account", s.account.Hex())
	}

	domain, err := evm.DomainFor(requirement)
	if err != nil {
		return nil, err
	}
	auth, err := evm.NewAuthorization(s.account, common.HexToAddress(requirement.PayTo), amount, requirement.MaxTimeoutSeconds)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("requesting wallet signature",
		zap.String("account", s.account.Hex()),
		zap.String("network", requirement.Network),
		zap.String("amount", requirement.Amount),
		zap.String("payTo", requirement.PayTo))

	sig, err := s.wallet.SignTypedData(ctx, s.account, evm.TypedData(domain, auth))
	if err != nil {
		return nil, walletError(ctx, "wallet failed to sign", err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, fmt.Sprintf("wallet returned a %d-byte signature", len(sig)), nil)
	}
	sig = append([]byte(nil), sig...)
	if sig[64] < 27 {
		sig[64] += 27
	}
	signature := "0x" + common.Bytes2Hex(sig)

	recovered, err := evm.RecoverSigner(domain, auth, signature)
	if err != nil || recovered != s.account {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "wallet signature does not recover to the signing account", err).
			WithDetails("account", s.account.Hex()).
			WithDetails("recovered", recovered.Hex())
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

func containsAccount(accounts []common.Address, account common.Address) bool {
	for _, a := range accounts {
		if a == account {
			return true
		}
	}
	return false
}

// codedError is implemented by JSON-RPC errors carrying a provider error code.
type codedError interface {
	error
	ErrorCode() int
}

// walletError maps a wallet failure onto the handshake error kinds.
func walletError(ctx context.Context, message string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return x402.NewPaymentError(x402.ErrCodeSignerUnavailable, message+": no answer from wallet", fmt.Errorf("%w: %w", x402.ErrSignerUnavailable, err))
	}

	var coded codedError
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case CodeUserRejected:
			return x402.NewPaymentError(x402.ErrCodeSigningRejected, "user rejected the request", fmt.Errorf("%w: %w", x402.ErrSigningRejected, err))
		case CodeUnauthorized, CodeDisconnected, CodeChainDisconnected:
			return x402.NewPaymentError(x402.ErrCodeSignerUnavailable, message, fmt.Errorf("%w: %w", x402.ErrSignerUnavailable, err)).
				WithDetails("code", coded.ErrorCode())
		}
	}
	if errors.Is(err, x402.ErrSigningRejected) || errors.Is(err, x402.ErrSignerUnavailable) {
		return x402.NewPaymentError(x402.Classify(err), message, err)
	}
	return x402.NewPaymentError(x402.ErrCodeSigningFailed, message, err)
}
