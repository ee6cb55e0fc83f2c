package svm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/gagliardetto/solana-go"
)

var devnetUSDC = x402.SolanaDevnet.USDCAddress

func newTestSigner(t *testing.T, opts ...SignerOption) (*Signer, *solana.Wallet) {
	t.Helper()
	wallet := solana.NewWallet()
	base := []SignerOption{
		WithPrivateKey(wallet.PrivateKey.String()),
		WithNetwork("solana-devnet"),
		WithToken(devnetUSDC, "USDC", 6),
	}
	signer, err := NewSigner(append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return signer, wallet
}

func TestNewSigner(t *testing.T) {
	key := solana.NewWallet().PrivateKey.String()

	tests := []struct {
		name    string
		opts    []SignerOption
		wantErr error
	}{
		{
			name: "valid",
			opts: []SignerOption{WithPrivateKey(key), WithNetwork("solana"), WithToken(x402.SolanaMainnet.USDCAddress, "USDC", 6)},
		},
		{
			name:    "missing key",
			opts:    []SignerOption{WithNetwork("solana"), WithToken(devnetUSDC, "USDC", 6)},
			wantErr: x402.ErrInvalidKey,
		},
		{
			name:    "invalid key",
			opts:    []SignerOption{WithPrivateKey("invalid"), WithNetwork("solana"), WithToken(devnetUSDC, "USDC", 6)},
			wantErr: x402.ErrInvalidKey,
		},
		{
			name:    "missing network",
			opts:    []SignerOption{WithPrivateKey(key), WithToken(devnetUSDC, "USDC", 6)},
			wantErr: x402.ErrInvalidNetwork,
		},
		{
			name:    "evm network",
			opts:    []SignerOption{WithPrivateKey(key), WithNetwork("base"), WithToken(devnetUSDC, "USDC", 6)},
			wantErr: x402.ErrInvalidNetwork,
		},
		{
			name:    "missing tokens",
			opts:    []SignerOption{WithPrivateKey(key), WithNetwork("solana")},
			wantErr: x402.ErrNoTokens,
		},
		{
			name:    "invalid max amount",
			opts:    []SignerOption{WithPrivateKey(key), WithNetwork("solana"), WithToken(devnetUSDC, "USDC", 6), WithMaxAmountPerCall("invalid")},
			wantErr: x402.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.opts...)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSignerInterface(t *testing.T) {
	var _ x402.Signer = (*Signer)(nil)

	signer, wallet := newTestSigner(t, WithPriority(5))
	if signer.Network() != x402.SolanaDevnet.NetworkID {
		t.Errorf("expected normalized network, got %s", signer.Network())
	}
	if signer.Address() != wallet.PublicKey().String() {
		t.Errorf("expected address %s, got %s", wallet.PublicKey(), signer.Address())
	}
	if signer.GetPriority() != 5 {
		t.Errorf("expected priority 5, got %d", signer.GetPriority())
	}
}

func TestCanSign(t *testing.T) {
	signer, _ := newTestSigner(t)

	tests := []struct {
		name        string
		requirement x402.PaymentRequirement
		want        bool
	}{
		{"match", x402.PaymentRequirement{Scheme: "exact", Network: x402.SolanaDevnet.NetworkID, Asset: devnetUSDC}, true},
		{"mainnet", x402.PaymentRequirement{Scheme: "exact", Network: x402.SolanaMainnet.NetworkID, Asset: devnetUSDC}, false},
		{"other mint", x402.PaymentRequirement{Scheme: "exact", Network: x402.SolanaDevnet.NetworkID, Asset: x402.SolanaMainnet.USDCAddress}, false},
		{"other scheme", x402.PaymentRequirement{Scheme: "upto", Network: x402.SolanaDevnet.NetworkID, Asset: devnetUSDC}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := signer.CanSign(&tt.requirement); got != tt.want {
				t.Errorf("CanSign = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSign(t *testing.T) {
	signer, wallet := newTestSigner(t, WithMaxAmountPerCall("1000000"))
	feePayer := solana.NewWallet().PublicKey()

	requirement := &x402.PaymentRequirement{
		Scheme:  "exact",
		Network: x402.SolanaDevnet.NetworkID,
		Asset:   devnetUSDC,
		Amount:  "10000",
		PayTo:   solana.NewWallet().PublicKey().String(),
		Extra:   map[string]interface{}{"feePayer": feePayer.String()},
	}

	payment, err := signer.Sign(context.Background(), requirement)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.Accepted.Amount != "10000" {
		t.Errorf("expected accepted amount 10000, got %s", payment.Accepted.Amount)
	}

	svmPayload, ok := payment.Payload.(x402.SVMPayload)
	if !ok {
		t.Fatalf("expected SVMPayload, got %T", payment.Payload)
	}
	raw, err := base64.StdEncoding.DecodeString(svmPayload.Transaction)
	if err != nil {
		t.Fatalf("transaction is not base64: %v", err)
	}
	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		t.Fatalf("failed to decode transaction: %v", err)
	}

	if !tx.Message.AccountKeys[0].Equals(feePayer) {
		t.Errorf("expected fee payer %s first, got %s", feePayer, tx.Message.AccountKeys[0])
	}
	if len(tx.Signatures) != 2 {
		t.Fatalf("expected 2 signature slots, got %d", len(tx.Signatures))
	}
	if !tx.Signatures[0].IsZero() {
		t.Error("expected fee payer slot to be empty")
	}

	message, _ := tx.Message.MarshalBinary()
	if !tx.Signatures[1].Verify(wallet.PublicKey(), message) {
		t.Error("owner signature does not verify")
	}
}

func TestSign_Errors(t *testing.T) {
	signer, _ := newTestSigner(t, WithMaxAmountPerCall("1000"))
	valid := x402.PaymentRequirement{
		Scheme:  "exact",
		Network: x402.SolanaDevnet.NetworkID,
		Asset:   devnetUSDC,
		Amount:  "10",
		PayTo:   solana.NewWallet().PublicKey().String(),
	}

	tests := []struct {
		name    string
		mutate  func(r *x402.PaymentRequirement)
		wantErr error
	}{
		{"exceeds max", func(r *x402.PaymentRequirement) { r.Amount = "5000" }, x402.ErrAmountExceeded},
		{"negative", func(r *x402.PaymentRequirement) { r.Amount = "-1" }, x402.ErrInvalidAmount},
		{"other network", func(r *x402.PaymentRequirement) { r.Network = x402.SolanaMainnet.NetworkID }, x402.ErrUnsupportedNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if _, err := signer.Sign(context.Background(), &r); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestWithKeygenFile(t *testing.T) {
	tmpDir := t.TempDir()

	wallet := solana.NewWallet()
	validPath := filepath.Join(tmpDir, "valid.json")
	keyData, _ := json.Marshal(toInts(wallet.PrivateKey))
	if err := os.WriteFile(validPath, keyData, 0o600); err != nil {
		t.Fatalf("failed to write keyfile: %v", err)
	}

	shortPath := filepath.Join(tmpDir, "short.json")
	shortData, _ := json.Marshal(make([]int, 32))
	if err := os.WriteFile(shortPath, shortData, 0o600); err != nil {
		t.Fatalf("failed to write keyfile: %v", err)
	}

	garbagePath := filepath.Join(tmpDir, "garbage.json")
	if err := os.WriteFile(garbagePath, []byte("not valid json"), 0o600); err != nil {
		t.Fatalf("failed to write keyfile: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"valid", validPath, nil},
		{"missing", filepath.Join(tmpDir, "nope.json"), x402.ErrInvalidKeystore},
		{"short key", shortPath, x402.ErrInvalidKeystore},
		{"invalid json", garbagePath, x402.ErrInvalidKeystore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewSigner(WithKeygenFile(tt.path), WithNetwork("solana"), WithToken(devnetUSDC, "USDC", 6))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if signer.Address() != wallet.PublicKey().String() {
				t.Errorf("expected %s, got %s", wallet.PublicKey(), signer.Address())
			}
		})
	}
}

func TestTransferCheckedData(t *testing.T) {
	data := transferCheckedData(0x0102, 6)
	want := []byte{12, 0x02, 0x01, 0, 0, 0, 0, 0, 0, 6}
	if string(data) != string(want) {
		t.Errorf("expected %v, got %v", want, data)
	}
}

// toInts renders key bytes the way solana-keygen writes them.
func toInts(key solana.PrivateKey) []int {
	out := make([]int, len(key))
	for i, b := range key {
		out[i] = int(b)
	}
	return out
}
