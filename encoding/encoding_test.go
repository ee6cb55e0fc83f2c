package encoding

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/Gate402/gate-fe-sub000/evm"
)

const testPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func sampleRequired() x402.PaymentRequired {
	return x402.PaymentRequired{
		X402Version: x402.X402Version,
		Resource: x402.ResourceInfo{
			URL:         "https://api.example.com/weather",
			Description: "Weather report",
			MimeType:    "application/json",
		},
		Accepts: []x402.PaymentRequirement{
			{
				Scheme:            "exact",
				Network:           "eip155:84532",
				Amount:            "10000",
				Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				MaxTimeoutSeconds: 60,
				Extra:             map[string]interface{}{"name": "USDC", "version": "2", "decimals": json.Number("6")},
			},
			{
				Scheme:  "exact",
				Network: "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
				Amount:  "10000",
				Asset:   "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
				PayTo:   "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
			},
		},
	}
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestRequiredRoundTrip(t *testing.T) {
	original := sampleRequired()

	encoded, err := EncodeRequired(original)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := DecodeRequired(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestDecodeRequired_NumericExtraIsLossless(t *testing.T) {
	raw := b64(`{"x402Version":2,"resource":{"url":"https://x"},"accepts":[{"scheme":"exact","network":"eip155:8453","amount":"1","asset":"0xa","payTo":"0xb","extra":{"decimals":6,"cap":18446744073709551617}}]}`)

	decoded, err := DecodeRequired(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	extra := decoded.Accepts[0].Extra
	if extra["decimals"] != json.Number("6") {
		t.Errorf("decimals = %#v", extra["decimals"])
	}
	if extra["cap"] != json.Number("18446744073709551617") {
		t.Errorf("cap = %#v", extra["cap"])
	}

	reencoded, err := EncodeRequired(decoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := DecodeRequired(reencoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(decoded, again) {
		t.Errorf("re-encoding changed the requirements:\n got %+v\nwant %+v", again, decoded)
	}
}

func TestDecodeRequired_SingleAcceptsObject(t *testing.T) {
	raw := b64(`{"x402Version":2,"resource":{"url":"https://x"},"accepts":{"scheme":"exact","network":"eip155:8453","amount":"1","asset":"0xa","payTo":"0xb"}}`)

	decoded, err := DecodeRequired(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded.Accepts) != 1 {
		t.Fatalf("expected 1 requirement, got %d", len(decoded.Accepts))
	}
	if decoded.Accepts[0].Network != "eip155:8453" {
		t.Errorf("network = %s", decoded.Accepts[0].Network)
	}
	if decoded.Resource.URL != "https://x" {
		t.Errorf("resource url = %s", decoded.Resource.URL)
	}
}

func TestDecodeRequired_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"not base64", "not-valid-data", x402.ErrMalformedHeader},
		{"empty value", "   ", x402.ErrMalformedHeader},
		{"not json", b64("hello"), x402.ErrMalformedHeader},
		{"trailing data", b64(`{"x402Version":2,"resource":{"url":"u"},"accepts":[]} {}`), x402.ErrMalformedHeader},
		{"missing resource", b64(`{"x402Version":2,"accepts":[]}`), x402.ErrMalformedHeader},
		{"missing accepts", b64(`{"x402Version":2,"resource":{"url":"u"}}`), x402.ErrMalformedHeader},
		{"accepts wrong type", b64(`{"x402Version":2,"resource":{"url":"u"},"accepts":"exact"}`), x402.ErrMalformedHeader},
		{"empty accepts", b64(`{"x402Version":2,"resource":{"url":"u"},"accepts":[]}`), x402.ErrEmptyRequirements},
		{"null accepts", b64(`{"x402Version":2,"resource":{"url":"u"},"accepts":null}`), x402.ErrEmptyRequirements},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequired(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPaymentRoundTrip_SignedEVMProof(t *testing.T) {
	signer, err := evm.NewSigner(
		evm.WithPrivateKey(testPrivateKeyHex),
		evm.WithNetwork("base-sepolia"),
		evm.WithUSDC(1),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	required := sampleRequired()
	requirement := required.Accepts[0]
	original, err := signer.Sign(context.Background(), &requirement)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	original.Resource = &required.Resource

	encoded, err := EncodePayment(*original)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := DecodePayment(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(*original, decoded) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", decoded, *original)
	}

	evmPayload, ok := decoded.Payload.(x402.EVMPayload)
	if !ok {
		t.Fatalf("payload decoded as %T", decoded.Payload)
	}
	if evmPayload.Authorization.Value != "10000" || evmPayload.Signature == "" {
		t.Errorf("unexpected payload %+v", evmPayload)
	}
}

func TestPaymentRoundTrip_PayloadTypes(t *testing.T) {
	required := sampleRequired()
	custom := x402.PaymentRequirement{Scheme: "exact", Network: "cosmos:cosmoshub-4", Amount: "1", Asset: "uatom", PayTo: "cosmos1x"}

	tests := []struct {
		name    string
		payment x402.PaymentPayload
	}{
		{"solana", x402.PaymentPayload{
			X402Version: x402.X402Version,
			Accepted:    required.Accepts[1],
			Payload:     x402.SVMPayload{Transaction: "AQID"},
		}},
		{"unknown family", x402.PaymentPayload{
			X402Version: x402.X402Version,
			Accepted:    custom,
			Payload:     map[string]interface{}{"memo": "hi", "gas": json.Number("200000")},
		}},
		{"no payload", x402.PaymentPayload{
			X402Version: x402.X402Version,
			Accepted:    required.Accepts[0],
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodePayment(tt.payment)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			decoded, err := DecodePayment(encoded)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(tt.payment, decoded) {
				t.Errorf("round trip mismatch:\n got %#v\nwant %#v", decoded, tt.payment)
			}
		})
	}
}

func TestDecodePayment_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not base64", "not-valid-data"},
		{"missing accepted", b64(`{"x402Version":2,"payload":{}}`)},
		{"evm payload not an object", b64(`{"x402Version":2,"accepted":{"scheme":"exact","network":"eip155:8453"},"payload":"0xdead"}`)},
		{"evm signature wrong type", b64(`{"x402Version":2,"accepted":{"scheme":"exact","network":"eip155:8453"},"payload":{"signature":7}}`)},
		{"svm payload not an object", b64(`{"x402Version":2,"accepted":{"scheme":"exact","network":"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"},"payload":[1]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayment(tt.raw)
			if !errors.Is(err, x402.ErrMalformedHeader) {
				t.Errorf("expected ErrMalformedHeader, got %v", err)
			}
		})
	}
}

func TestSettlementRoundTrip(t *testing.T) {
	original := x402.SettleResponse{
		Success:     true,
		Transaction: "0xbeef",
		Network:     "eip155:84532",
		Payer:       "0x857b06519E91e3A54538791bDbb0E22373e36b66",
	}

	encoded, err := EncodeSettlement(original)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := DecodeSettlement(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestDecodeSettlement(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want x402.SettleResponse
	}{
		{
			"receipt without success",
			b64(`{"transaction":"0xabc","network":"eip155:8453","payer":"0x1"}`),
			x402.SettleResponse{Success: true, Transaction: "0xabc", Network: "eip155:8453", Payer: "0x1"},
		},
		{
			"explicit success",
			b64(`{"success":true,"transaction":"0xabc"}`),
			x402.SettleResponse{Success: true, Transaction: "0xabc"},
		},
		{
			"failed settlement",
			b64(`{"success":false,"errorReason":"insufficient_funds","network":"eip155:8453"}`),
			x402.SettleResponse{ErrorReason: "insufficient_funds", Network: "eip155:8453"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSettlement(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeSettlement_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not base64", "not-valid-data"},
		{"empty object", b64(`{}`)},
		{"success without transaction", b64(`{"success":true,"network":"eip155:8453"}`)},
		{"array", b64(`[1,2]`)},
		{"transaction wrong type", b64(`{"transaction":42}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSettlement(tt.raw)
			if !errors.Is(err, x402.ErrMalformedHeader) {
				t.Errorf("expected ErrMalformedHeader, got %v", err)
			}
		})
	}
}

func TestDecodeEVMPayload(t *testing.T) {
	typed := x402.EVMPayload{Signature: "0x01"}

	got, err := DecodeEVMPayload(typed)
	if err != nil || got != typed {
		t.Errorf("typed value: got %+v, %v", got, err)
	}
	got, err = DecodeEVMPayload(&typed)
	if err != nil || got != typed {
		t.Errorf("pointer: got %+v, %v", got, err)
	}
	got, err = DecodeEVMPayload(map[string]interface{}{"signature": "0x01"})
	if err != nil || got != typed {
		t.Errorf("map: got %+v, %v", got, err)
	}

	_, err = DecodeEVMPayload(map[string]interface{}{"authorization": map[string]interface{}{}})
	if !errors.Is(err, x402.ErrMalformedHeader) {
		t.Errorf("expected ErrMalformedHeader, got %v", err)
	}
}
