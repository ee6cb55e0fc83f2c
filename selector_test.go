package x402

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"strings"
	"testing"
)

// mockSignerForSelector implements Signer for selector testing
type mockSignerForSelector struct {
	name      string
	network   string
	tokens    []TokenConfig
	priority  int
	maxAmount *big.Int
}

func (m *mockSignerForSelector) Network() string          { return m.network }
func (m *mockSignerForSelector) Scheme() string           { return SchemeExact }
func (m *mockSignerForSelector) Address() string          { return m.name }
func (m *mockSignerForSelector) GetPriority() int         { return m.priority }
func (m *mockSignerForSelector) GetTokens() []TokenConfig { return m.tokens }
func (m *mockSignerForSelector) GetMaxAmount() *big.Int   { return m.maxAmount }

func (m *mockSignerForSelector) CanSign(req *PaymentRequirement) bool {
	if m.network != req.Network || req.Scheme != SchemeExact {
		return false
	}
	for _, token := range m.tokens {
		if strings.EqualFold(token.Address, req.Asset) {
			return true
		}
	}
	return false
}

func (m *mockSignerForSelector) Sign(_ context.Context, req *PaymentRequirement) (*PaymentPayload, error) {
	return &PaymentPayload{X402Version: X402Version, Accepted: *req}, nil
}

const (
	testUSDC = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testDAI  = "0x1111111111111111111111111111111111111111"
	testPay  = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
)

func requirement(network, asset, amount string) PaymentRequirement {
	return PaymentRequirement{
		Scheme:  SchemeExact,
		Network: network,
		Amount:  amount,
		Asset:   asset,
		PayTo:   testPay,
	}
}

func signerOn(name, network string, priority int, assets ...string) *mockSignerForSelector {
	s := &mockSignerForSelector{name: name, network: network, priority: priority}
	for i, a := range assets {
		s.tokens = append(s.tokens, TokenConfig{Address: a, Symbol: "T", Decimals: 6, Priority: i + 1})
	}
	return s
}

func TestSelectFirst(t *testing.T) {
	single := PaymentRequirement{Network: "eip155:8453", Scheme: "exact", Amount: "1000"}
	got, err := SelectFirst([]PaymentRequirement{single})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, single) {
		t.Errorf("expected the requirement unchanged, got %+v", got)
	}

	reqs := []PaymentRequirement{
		requirement("eip155:8453", testUSDC, "100"),
		requirement("eip155:84532", testUSDC, "1"),
	}
	reqs[0].Extra = map[string]interface{}{"name": "USD Coin", "version": "2"}
	got, err = SelectFirst(reqs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, reqs[0]) {
		t.Errorf("expected first requirement, got %+v", got)
	}

	_, err = SelectFirst(nil)
	if !errors.Is(err, ErrNoAcceptablePaymentOption) {
		t.Errorf("expected ErrNoAcceptablePaymentOption, got %v", err)
	}
}

func TestDefaultPaymentSelector_NoSigners(t *testing.T) {
	_, _, err := NewDefaultPaymentSelector().Select([]PaymentRequirement{requirement("eip155:8453", testUSDC, "1")}, nil)
	var pe *PaymentError
	if !errors.As(err, &pe) || pe.Code != ErrCodeSignerUnavailable {
		t.Fatalf("expected %s, got %v", ErrCodeSignerUnavailable, err)
	}
}

func TestDefaultPaymentSelector_NoRequirements(t *testing.T) {
	_, _, err := NewDefaultPaymentSelector().Select(nil, []Signer{signerOn("a", "eip155:8453", 1, testUSDC)})
	if !errors.Is(err, ErrNoAcceptablePaymentOption) {
		t.Fatalf("expected ErrNoAcceptablePaymentOption, got %v", err)
	}
}

func TestDefaultPaymentSelector_ServerOrderWins(t *testing.T) {
	base := signerOn("base", "eip155:8453", 2, testUSDC)
	sepolia := signerOn("sepolia", "eip155:84532", 1, testUSDC)
	reqs := []PaymentRequirement{
		requirement("eip155:1", testUSDC, "1"),
		requirement("eip155:8453", testUSDC, "500"),
		requirement("eip155:84532", testUSDC, "1"),
	}

	req, signer, err := NewDefaultPaymentSelector().Select(reqs, []Signer{sepolia, base})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Network != "eip155:8453" || signer.Address() != "base" {
		t.Errorf("expected the first payable requirement in server order, got %s via %s", req.Network, signer.Address())
	}
}

func TestDefaultPaymentSelector_SignerPriority(t *testing.T) {
	tests := []struct {
		name    string
		signers []Signer
		want    string
	}{
		{
			name:    "lower number wins",
			signers: []Signer{signerOn("p2", "eip155:8453", 2, testUSDC), signerOn("p1", "eip155:8453", 1, testUSDC)},
			want:    "p1",
		},
		{
			name:    "registration order breaks ties",
			signers: []Signer{signerOn("first", "eip155:8453", 1, testUSDC), signerOn("second", "eip155:8453", 1, testUSDC)},
			want:    "first",
		},
		{
			name:    "token priority breaks signer ties",
			signers: []Signer{signerOn("dai-first", "eip155:8453", 1, testDAI, testUSDC), signerOn("usdc-first", "eip155:8453", 1, testUSDC)},
			want:    "usdc-first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, signer, err := NewDefaultPaymentSelector().Select([]PaymentRequirement{requirement("eip155:8453", testUSDC, "1")}, tt.signers)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if signer.Address() != tt.want {
				t.Errorf("selected %s, want %s", signer.Address(), tt.want)
			}
		})
	}
}

func TestDefaultPaymentSelector_MaxAmountFiltering(t *testing.T) {
	capped := signerOn("capped", "eip155:8453", 1, testUSDC)
	capped.maxAmount = big.NewInt(100)
	uncapped := signerOn("uncapped", "eip155:8453", 2, testUSDC)

	_, signer, err := NewDefaultPaymentSelector().Select([]PaymentRequirement{requirement("eip155:8453", testUSDC, "101")}, []Signer{capped, uncapped})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signer.Address() != "uncapped" {
		t.Errorf("expected the capped signer to be skipped, got %s", signer.Address())
	}

	_, signer, err = NewDefaultPaymentSelector().Select([]PaymentRequirement{requirement("eip155:8453", testUSDC, "100")}, []Signer{capped, uncapped})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signer.Address() != "capped" {
		t.Errorf("expected the capped signer at its limit, got %s", signer.Address())
	}
}

func TestDefaultPaymentSelector_NoAcceptableOption(t *testing.T) {
	tests := []struct {
		name string
		req  PaymentRequirement
	}{
		{"wrong network", requirement("eip155:137", testUSDC, "1")},
		{"wrong asset", requirement("eip155:8453", testDAI, "1")},
		{"invalid amount", requirement("eip155:8453", testUSDC, "1.5")},
		{"negative amount", requirement("eip155:8453", testUSDC, "-1")},
		{"missing payTo", func() PaymentRequirement {
			r := requirement("eip155:8453", testUSDC, "1")
			r.PayTo = ""
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewDefaultPaymentSelector().Select([]PaymentRequirement{tt.req}, []Signer{signerOn("a", "eip155:8453", 1, testUSDC)})
			var pe *PaymentError
			if !errors.As(err, &pe) || pe.Code != ErrCodeNoAcceptablePaymentOption {
				t.Fatalf("expected %s, got %v", ErrCodeNoAcceptablePaymentOption, err)
			}
			if pe.Details["offered"] != 1 {
				t.Errorf("expected offered detail, got %v", pe.Details)
			}
		})
	}
}

func TestDefaultPaymentSelector_Deterministic(t *testing.T) {
	signers := []Signer{
		signerOn("a", "eip155:8453", 1, testUSDC),
		signerOn("b", "eip155:8453", 1, testUSDC),
		signerOn("c", "eip155:84532", 1, testUSDC),
	}
	reqs := []PaymentRequirement{requirement("eip155:84532", testUSDC, "1"), requirement("eip155:8453", testUSDC, "1")}

	for i := 0; i < 20; i++ {
		req, signer, err := NewDefaultPaymentSelector().Select(reqs, signers)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.Network != "eip155:84532" || signer.Address() != "c" {
			t.Fatalf("iteration %d selected %s via %s", i, req.Network, signer.Address())
		}
	}
}

func TestCheapestPaymentSelector(t *testing.T) {
	signers := []Signer{
		signerOn("base", "eip155:8453", 1, testUSDC),
		signerOn("sepolia", "eip155:84532", 1, testUSDC),
	}
	reqs := []PaymentRequirement{
		requirement("eip155:8453", testUSDC, "500"),
		requirement("eip155:137", testUSDC, "1"),
		requirement("eip155:84532", testUSDC, "20"),
		requirement("eip155:8453", testUSDC, "20"),
	}

	req, signer, err := (&CheapestPaymentSelector{}).Select(reqs, signers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Amount != "20" || req.Network != "eip155:84532" || signer.Address() != "sepolia" {
		t.Errorf("expected the cheapest payable option in server order, got %s on %s", req.Amount, req.Network)
	}

	_, _, err = (&CheapestPaymentSelector{}).Select([]PaymentRequirement{requirement("eip155:137", testUSDC, "1")}, signers)
	if !errors.Is(err, ErrNoAcceptablePaymentOption) {
		t.Errorf("expected ErrNoAcceptablePaymentOption, got %v", err)
	}
}
