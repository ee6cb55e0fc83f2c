package facilitator

import (
	"context"
	"testing"
	"time"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/Gate402/gate-fe-sub000/evm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testRequirement() x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           x402.BaseSepolia.NetworkID,
		Amount:            "10000",
		Asset:             x402.BaseSepolia.USDCAddress,
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 60,
		Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
	}
}

func signPayment(t *testing.T, req x402.PaymentRequirement) (x402.PaymentPayload, *evm.Signer) {
	t.Helper()
	signer, err := evm.NewSigner(
		evm.WithPrivateKey(testKey),
		evm.WithNetwork(req.Network),
		evm.WithUSDC(1),
	)
	require.NoError(t, err)

	payment, err := signer.Sign(context.Background(), &req)
	require.NoError(t, err)
	return *payment, signer
}

func TestLocal_VerifyAndSettle(t *testing.T) {
	ctx := context.Background()
	req := testRequirement()
	payment, signer := signPayment(t, req)
	local := NewLocal()

	verify, err := local.Verify(ctx, payment, req)
	require.NoError(t, err)
	assert.True(t, verify.IsValid, verify.InvalidReason)
	assert.Equal(t, signer.Address(), verify.Payer)

	receipt, err := local.Settle(ctx, payment, req)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, req.Network, receipt.Network)
	assert.Equal(t, signer.Address(), receipt.Payer)
	assert.Len(t, receipt.Transaction, 66)

	// the nonce is consumed by the first settlement
	again, err := local.Settle(ctx, payment, req)
	require.NoError(t, err)
	assert.False(t, again.Success)
	assert.Equal(t, ReasonNonceUsed, again.ErrorReason)

	verify, err = local.Verify(ctx, payment, req)
	require.NoError(t, err)
	assert.False(t, verify.IsValid)
	assert.Equal(t, ReasonNonceUsed, verify.InvalidReason)
}

func TestLocal_VerifyRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		prepare    func(p *x402.PaymentPayload, r *x402.PaymentRequirement)
		local      *Local
		wantReason string
	}{
		{
			name: "requirement mismatch",
			prepare: func(p *x402.PaymentPayload, r *x402.PaymentRequirement) {
				r.Amount = "20000"
			},
			wantReason: ReasonRequirementMismatch,
		},
		{
			name: "tampered value",
			prepare: func(p *x402.PaymentPayload, r *x402.PaymentRequirement) {
				payload := p.Payload.(x402.EVMPayload)
				payload.Authorization.Value = "1"
				p.Payload = payload
			},
			wantReason: ReasonInvalidSignature,
		},
		{
			name: "wrong version",
			prepare: func(p *x402.PaymentPayload, r *x402.PaymentRequirement) {
				p.X402Version = 1
			},
			wantReason: ReasonInvalidPayload,
		},
		{
			name: "garbage payload",
			prepare: func(p *x402.PaymentPayload, r *x402.PaymentRequirement) {
				p.Payload = map[string]interface{}{"transaction": "abc"}
			},
			wantReason: ReasonInvalidPayload,
		},
		{
			name:       "expired",
			local:      NewLocal(WithClock(func() time.Time { return time.Now().Add(time.Hour) })),
			wantReason: ReasonExpired,
		},
		{
			name:       "not yet valid",
			local:      NewLocal(WithClock(func() time.Time { return time.Now().Add(-time.Hour) })),
			wantReason: ReasonNotYetValid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequirement()
			payment, _ := signPayment(t, req)
			if tt.prepare != nil {
				tt.prepare(&payment, &req)
			}
			local := tt.local
			if local == nil {
				local = NewLocal()
			}

			resp, err := local.Verify(ctx, payment, req)
			require.NoError(t, err)
			assert.False(t, resp.IsValid)
			assert.Equal(t, tt.wantReason, resp.InvalidReason)
		})
	}
}

func TestLocal_SolanaUnsupported(t *testing.T) {
	req := x402.PaymentRequirement{
		Scheme:  "exact",
		Network: x402.SolanaDevnet.NetworkID,
		Amount:  "10",
		Asset:   x402.SolanaDevnet.USDCAddress,
		PayTo:   "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
	}
	payment := x402.PaymentPayload{
		X402Version: x402.X402Version,
		Accepted:    req,
		Payload:     x402.SVMPayload{Transaction: "AAAA"},
	}

	resp, err := NewLocal().Verify(context.Background(), payment, req)
	require.NoError(t, err)
	assert.Equal(t, ReasonUnsupportedNetwork, resp.InvalidReason)
}

func TestLocal_Supported(t *testing.T) {
	resp, err := NewLocal().Supported(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, resp.Kinds)

	networks := make(map[string]bool)
	for _, k := range resp.Kinds {
		assert.Equal(t, x402.X402Version, k.X402Version)
		assert.Equal(t, "exact", k.Scheme)
		networks[k.Network] = true
	}
	assert.True(t, networks[x402.BaseSepolia.NetworkID])
	assert.False(t, networks[x402.SolanaDevnet.NetworkID])
}

type staticFacilitator struct {
	supported *SupportedResponse
}

func (s staticFacilitator) Verify(context.Context, x402.PaymentPayload, x402.PaymentRequirement) (*VerifyResponse, error) {
	return &VerifyResponse{IsValid: true}, nil
}

func (s staticFacilitator) Settle(context.Context, x402.PaymentPayload, x402.PaymentRequirement) (*x402.SettleResponse, error) {
	return &x402.SettleResponse{Success: true}, nil
}

func (s staticFacilitator) Supported(context.Context) (*SupportedResponse, error) {
	return s.supported, nil
}

func TestEnrichRequirements(t *testing.T) {
	f := staticFacilitator{supported: &SupportedResponse{Kinds: []SupportedKind{
		{X402Version: 2, Scheme: "exact", Network: x402.SolanaDevnet.NetworkID, Extra: map[string]interface{}{"feePayer": "FEE", "name": "ignored"}},
	}}}

	reqs := []x402.PaymentRequirement{
		{Scheme: "exact", Network: x402.SolanaDevnet.NetworkID, Extra: map[string]interface{}{"name": "kept"}},
		{Scheme: "exact", Network: x402.BaseSepolia.NetworkID},
	}

	enriched, err := EnrichRequirements(context.Background(), f, reqs)
	require.NoError(t, err)
	assert.Equal(t, "FEE", enriched[0].Extra["feePayer"])
	assert.Equal(t, "kept", enriched[0].Extra["name"])
	assert.Nil(t, enriched[1].Extra)
	// inputs are not mutated
	assert.NotContains(t, reqs[0].Extra, "feePayer")
}
