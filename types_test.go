package x402

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestFindMatchingRequirement(t *testing.T) {
	offered := []PaymentRequirement{
		requirement("eip155:8453", testUSDC, "1000"),
		requirement("eip155:84532", testUSDC, "10"),
	}

	tests := []struct {
		name     string
		accepted PaymentRequirement
		wantIdx  int
	}{
		{"first", offered[0], 0},
		{"second", offered[1], 1},
		{"amount differs", requirement("eip155:8453", testUSDC, "999"), -1},
		{"asset differs", requirement("eip155:8453", testDAI, "1000"), -1},
		{"network differs", requirement("eip155:1", testUSDC, "1000"), -1},
		{"payTo differs", func() PaymentRequirement {
			r := offered[0]
			r.PayTo = testDAI
			return r
		}(), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindMatchingRequirement(PaymentPayload{Accepted: tt.accepted}, offered)
			if tt.wantIdx < 0 {
				if !errors.Is(err, ErrNoAcceptablePaymentOption) {
					t.Fatalf("expected ErrNoAcceptablePaymentOption, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != &offered[tt.wantIdx] {
				t.Errorf("expected offered[%d]", tt.wantIdx)
			}
		})
	}
}

func TestPaymentRequired_JSON(t *testing.T) {
	required := PaymentRequired{
		X402Version: X402Version,
		Resource:    ResourceInfo{URL: "https://api.example.com/data"},
		Accepts:     []PaymentRequirement{requirement("eip155:8453", testUSDC, "1000")},
	}

	data, err := json.Marshal(required)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	for _, field := range []string{`"x402Version":2`, `"resource":{"url":"https://api.example.com/data"}`, `"payTo":`, `"amount":"1000"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("expected %s in %s", field, data)
		}
	}
	if strings.Contains(string(data), `"error"`) || strings.Contains(string(data), `"extra"`) {
		t.Errorf("empty optional fields should be omitted: %s", data)
	}
}

func TestPaymentPayload_JSON(t *testing.T) {
	payload := PaymentPayload{
		X402Version: X402Version,
		Accepted:    requirement("eip155:8453", testUSDC, "1000"),
		Payload: EVMPayload{
			Signature: "0xsig",
			Authorization: EVMAuthorization{
				From: testDAI, To: testPay, Value: "1000",
				ValidAfter: "0", ValidBefore: "100", Nonce: "0x01",
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := decoded["resource"]; ok {
		t.Error("nil resource should be omitted")
	}
	inner, ok := decoded["payload"].(map[string]interface{})
	if !ok {
		t.Fatalf("payload should be an object, got %T", decoded["payload"])
	}
	auth, ok := inner["authorization"].(map[string]interface{})
	if !ok || auth["validBefore"] != "100" {
		t.Errorf("unexpected authorization %v", inner["authorization"])
	}
}
