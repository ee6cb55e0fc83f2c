// Package svm provides a local-key x402 signer for Solana that pays with a
// partially signed SPL TransferChecked transaction. The facilitator named
// in the requirement's extra.feePayer completes and submits it.
package svm

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/gagliardetto/solana-go"
)

// transferCheckedInstruction is the SPL Token instruction discriminator for TransferChecked.
const transferCheckedInstruction = 12

// Signer implements x402.Signer for Solana.
type Signer struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	network    string
	tokens     []x402.TokenConfig
	priority   int
	maxAmount  *big.Int
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a new Solana signer with the given options.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if len(s.privateKey) == 0 {
		return nil, x402.ErrInvalidKey
	}
	if s.network == "" {
		return nil, x402.ErrInvalidNetwork
	}
	if t, err := x402.ValidateNetwork(s.network); err != nil || t != x402.NetworkTypeSVM {
		return nil, fmt.Errorf("%w: %q is not a Solana network", x402.ErrInvalidNetwork, s.network)
	}
	if len(s.tokens) == 0 {
		return nil, x402.ErrNoTokens
	}

	s.publicKey = s.privateKey.PublicKey()
	return s, nil
}

// WithPrivateKey sets the private key from a base58 string.
func WithPrivateKey(base58Key string) SignerOption {
	return func(s *Signer) error {
		privateKey, err := solana.PrivateKeyFromBase58(base58Key)
		if err != nil || len(privateKey) != 64 {
			return x402.ErrInvalidKey
		}
		s.privateKey = privateKey
		return nil
	}
}

// WithKeygenFile loads the private key from a solana-keygen JSON byte array file.
func WithKeygenFile(path string) SignerOption {
	return func(s *Signer) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", x402.ErrInvalidKeystore, err)
		}

		var keyBytes []byte
		if err := json.Unmarshal(data, &keyBytes); err != nil {
			return fmt.Errorf("%w: invalid JSON format", x402.ErrInvalidKeystore)
		}
		if len(keyBytes) != 64 {
			return fmt.Errorf("%w: expected 64 key bytes, got %d", x402.ErrInvalidKeystore, len(keyBytes))
		}

		s.privateKey = solana.PrivateKey(keyBytes)
		return nil
	}
}

// WithNetwork sets the network, as a CAIP-2 identifier or a known short name like "solana-devnet".
func WithNetwork(network string) SignerOption {
	return func(s *Signer) error {
		s.network = x402.NormalizeNetwork(network)
		return nil
	}
}

// WithToken adds a token mint.
func WithToken(mintAddress, symbol string, decimals int) SignerOption {
	return WithTokenPriority(mintAddress, symbol, decimals, 0)
}

// WithTokenPriority adds a token mint with a priority.
func WithTokenPriority(mintAddress, symbol string, decimals, priority int) SignerOption {
	return func(s *Signer) error {
		if _, err := solana.PublicKeyFromBase58(mintAddress); err != nil {
			return fmt.Errorf("invalid mint address %q: %w", mintAddress, err)
		}
		s.tokens = append(s.tokens, x402.TokenConfig{
			Address:  mintAddress,
			Symbol:   symbol,
			Decimals: decimals,
			Priority: priority,
		})
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
	return s.publicKey.String()
}

// CanSign implements x402.Signer.
func (s *Signer) CanSign(requirement *x402.PaymentRequirement) bool {
	if requirement.Network != s.network || requirement.Scheme != x402.SchemeExact {
		return false
	}
	_, ok := s.token(requirement.Asset)
	return ok
}

// Sign implements x402.Signer.
func (s *Signer) Sign(ctx context.Context, requirement *x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSignerUnavailable, "signing cancelled", x402.ErrSignerUnavailable)
	}

	token, ok := s.token(requirement.Asset)
	if !ok || requirement.Network != s.network || requirement.Scheme != x402.SchemeExact {
		return nil, x402.NewPaymentError(x402.ErrCodeUnsupportedNetwork, "signer cannot pay requirement", x402.ErrUnsupportedNetwork).
			WithDetails("network", requirement.Network).
			WithDetails("asset", requirement.Asset)
	}

	amount, ok := new(big.Int).SetString(requirement.Amount, 10)
	if !ok || amount.Sign() < 0 || !amount.IsUint64() {
		return nil, fmt.Errorf("%w: %q", x402.ErrInvalidAmount, requirement.Amount)
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, x402.ErrAmountExceeded
	}

	mint, err := solana.PublicKeyFromBase58(requirement.Asset)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}
	recipient, err := solana.PublicKeyFromBase58(requirement.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	feePayer := s.publicKey
	if fp, _ := requirement.Extra["feePayer"].(string); fp != "" {
		feePayer, err = solana.PublicKeyFromBase58(fp)
		if err != nil {
			return nil, fmt.Errorf("invalid feePayer: %w", err)
		}
	}

	tx, err := BuildPartiallySignedTransfer(s.privateKey, feePayer, mint, recipient, amount.Uint64(), uint8(token.Decimals))
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to build transaction", err)
	}

	return &x402.PaymentPayload{
		X402Version: x402.X402Version,
		Accepted:    *requirement,
		Payload:     x402.SVMPayload{Transaction: tx},
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

func (s *Signer) token(mint string) (x402.TokenConfig, bool) {
	for _, t := range s.tokens {
		if strings.EqualFold(t.Address, mint) {
			return t, true
		}
	}
	return x402.TokenConfig{}, false
}

// BuildPartiallySignedTransfer builds a TransferChecked of amount from the
// owner's associated token account to the recipient's, paid for by feePayer,
// and signs it with the owner key only. The blockhash is left zero for the
// facilitator to replace. Returns the base64 wire transaction.
func BuildPartiallySignedTransfer(
	owner solana.PrivateKey,
	feePayer solana.PublicKey,
	mint solana.PublicKey,
	recipient solana.PublicKey,
	amount uint64,
	decimals uint8,
) (string, error) {
	ownerKey := owner.PublicKey()

	sourceATA, _, err := solana.FindAssociatedTokenAddress(ownerKey, mint)
	if err != nil {
		return "", fmt.Errorf("failed to find source ATA: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return "", fmt.Errorf("failed to find destination ATA: %w", err)
	}

	transfer := solana.NewInstruction(
		solana.TokenProgramID,
		solana.AccountMetaSlice{
			solana.Meta(sourceATA).WRITE(),
			solana.Meta(mint),
			solana.Meta(destATA).WRITE(),
			solana.Meta(ownerKey).SIGNER(),
		},
		transferCheckedData(amount, decimals),
	)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{transfer},
		solana.Hash{},
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	signature, err := owner.Sign(message)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	// Signature slots follow the order of the first NumRequiredSignatures
	// account keys; the fee payer slot stays empty.
	required := int(tx.Message.Header.NumRequiredSignatures)
	tx.Signatures = make([]solana.Signature, required)
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(ownerKey) {
			tx.Signatures[i] = signature
		}
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// transferCheckedData encodes [12, amount (u64 LE), decimals].
func transferCheckedData(amount uint64, decimals uint8) []byte {
	data := make([]byte, 10)
	data[0] = transferCheckedInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return data
}
