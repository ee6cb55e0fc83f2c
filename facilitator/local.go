package facilitator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/Gate402/gate-fe-sub000/encoding"
	"github.com/Gate402/gate-fe-sub000/evm"
	"github.com/Gate402/gate-fe-sub000/validation"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"go.uber.org/zap"
)

// Local verifies EIP-3009 payment proofs in-process and "settles" them by
// consuming the authorization nonce. It never touches a chain: the
// transaction hash it reports is the keccak256 of the signature.
//
// Local is safe for concurrent use.
type Local struct {
	nonces datastore.Datastore
	now    func() time.Time
	logger *zap.Logger

	// mu serializes settlement so a nonce is consumed at most once.
	mu sync.Mutex
}

// LocalOption configures a Local facilitator.
type LocalOption func(*Local)

// WithClock overrides the time source used for validity windows.
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) {
		l.now = now
	}
}

// WithNonceStore sets the store that records consumed nonces.
// Defaults to an in-memory store.
func WithNonceStore(store datastore.Datastore) LocalOption {
	return func(l *Local) {
		l.nonces = store
	}
}

// WithLocalLogger sets the logger.
func WithLocalLogger(logger *zap.Logger) LocalOption {
	return func(l *Local) {
		l.logger = logger
	}
}

// NewLocal creates an in-process facilitator.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		nonces: dssync.MutexWrap(datastore.NewMapDatastore()),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// verified is a proof that passed every check.
type verified struct {
	auth      *evm.Authorization
	signature string
	nonceKey  datastore.Key
}

// Verify implements Interface.
func (l *Local) Verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*VerifyResponse, error) {
	resp, _, err := l.verify(ctx, payment, requirement)
	return resp, err
}

// Settle implements Interface. An invalid proof yields a receipt with
// Success false and the reason in ErrorReason.
func (l *Local) Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettleResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	resp, proof, err := l.verify(ctx, payment, requirement)
	if err != nil {
		return nil, err
	}
	if !resp.IsValid {
		return &x402.SettleResponse{
			Success:     false,
			ErrorReason: resp.InvalidReason,
			Network:     requirement.Network,
			Payer:       resp.Payer,
		}, nil
	}

	if err := l.nonces.Put(ctx, proof.nonceKey, []byte(proof.signature)); err != nil {
		return nil, fmt.Errorf("%w: failed to record nonce: %v", x402.ErrSettlementFailed, err)
	}

	sig, err := hexutil.Decode(proof.signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrSettlementFailed, err)
	}
	tx := crypto.Keccak256Hash(sig).Hex()

	l.logger.Debug("payment settled",
		zap.String("network", requirement.Network),
		zap.String("payer", resp.Payer),
		zap.String("amount", requirement.Amount),
		zap.String("transaction", tx))

	return &x402.SettleResponse{
		Success:     true,
		Transaction: tx,
		Network:     requirement.Network,
		Payer:       resp.Payer,
	}, nil
}

// Supported implements Interface. Every EVM chain of the chain table is supported.
func (l *Local) Supported(ctx context.Context) (*SupportedResponse, error) {
	var kinds []SupportedKind
	for _, chain := range x402.KnownChains {
		if chain.Type() != x402.NetworkTypeEVM {
			continue
		}
		kinds = append(kinds, SupportedKind{
			X402Version: x402.X402Version,
			Scheme:      x402.SchemeExact,
			Network:     chain.NetworkID,
		})
	}
	return &SupportedResponse{Kinds: kinds}, nil
}

func (l *Local) verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*VerifyResponse, *verified, error) {
	invalid := func(reason, payer string, args ...interface{}) (*VerifyResponse, *verified, error) {
		l.logger.Debug("payment invalid", append([]zap.Field{zap.String("reason", reason)}, fields(args...)...)...)
		return &VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}, nil, nil
	}

	if err := validation.ValidatePaymentPayload(payment); err != nil {
		return invalid(ReasonInvalidPayload, "", "error", err)
	}
	if _, err := x402.FindMatchingRequirement(payment, []x402.PaymentRequirement{requirement}); err != nil {
		return invalid(ReasonRequirementMismatch, "")
	}
	if t, err := x402.ValidateNetwork(requirement.Network); err != nil || t != x402.NetworkTypeEVM {
		return invalid(ReasonUnsupportedNetwork, "", "network", requirement.Network)
	}

	evmPayload, err := encoding.DecodeEVMPayload(payment.Payload)
	if err != nil {
		return invalid(ReasonInvalidPayload, "", "error", err)
	}
	auth, err := evm.ParseAuthorization(evmPayload.Authorization)
	if err != nil {
		return invalid(ReasonInvalidPayload, "", "error", err)
	}
	payer := auth.From.Hex()

	domain, err := evm.DomainFor(&requirement)
	if err != nil {
		return invalid(ReasonUnsupportedNetwork, payer, "error", err)
	}

	signer, err := evm.RecoverSigner(domain, auth, evmPayload.Signature)
	if err != nil || signer != auth.From {
		return invalid(ReasonInvalidSignature, payer)
	}

	if !common.IsHexAddress(requirement.PayTo) || auth.To != common.HexToAddress(requirement.PayTo) {
		return invalid(ReasonRecipientMismatch, payer, "to", auth.To.Hex())
	}
	if auth.Value.String() != requirement.Amount {
		return invalid(ReasonValueMismatch, payer, "value", auth.Value.String())
	}

	now := l.now().Unix()
	if now < auth.ValidAfter.Int64() {
		return invalid(ReasonNotYetValid, payer)
	}
	if now >= auth.ValidBefore.Int64() {
		return invalid(ReasonExpired, payer)
	}

	key := datastore.NewKey(strings.ToLower(requirement.Network + "/" + requirement.Asset + "/" + payer + "/" + auth.Nonce.Hex()))
	used, err := l.nonces.Has(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nonce lookup failed: %v", x402.ErrVerificationFailed, err)
	}
	if used {
		return invalid(ReasonNonceUsed, payer)
	}

	return &VerifyResponse{IsValid: true, Payer: payer}, &verified{auth: auth, signature: evmPayload.Signature, nonceKey: key}, nil
}

// fields converts alternating key/value pairs into zap fields.
func fields(args ...interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		out = append(out, zap.Any(key, args[i+1]))
	}
	return out
}
