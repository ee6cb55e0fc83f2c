// Package facilitator verifies and settles x402 payment proofs on behalf
// of a resource server. Local does it in-process for the sandbox; Client
// delegates to a remote facilitator service.
package facilitator

import (
	"context"

	x402 "github.com/Gate402/gate-fe-sub000"
)

// Interface defines the facilitator contract for payment verification and settlement.
type Interface interface {
	// Verify checks a payment authorization without executing it.
	Verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*VerifyResponse, error)

	// Settle executes a verified payment.
	Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettleResponse, error)

	// Supported lists the payment kinds the facilitator handles.
	Supported(ctx context.Context) (*SupportedResponse, error)
}

// VerifyResponse contains the payment verification result.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer"`
}

// SupportedKind describes a supported payment type with its configuration.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse lists all payment types supported by the facilitator.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// Request is the body of /verify and /settle calls.
type Request struct {
	X402Version         int                     `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}

// Invalid reasons reported in VerifyResponse.InvalidReason.
const (
	ReasonInvalidPayload      = "invalid_payload"
	ReasonRequirementMismatch = "requirement_mismatch"
	ReasonUnsupportedNetwork  = "unsupported_network"
	ReasonInvalidSignature    = "invalid_signature"
	ReasonRecipientMismatch   = "recipient_mismatch"
	ReasonValueMismatch       = "value_mismatch"
	ReasonNotYetValid         = "authorization_not_yet_valid"
	ReasonExpired             = "authorization_expired"
	ReasonNonceUsed           = "nonce_already_used"
)

// EnrichRequirements merges the Extra of matching supported kinds into
// requirements, without overriding keys the requirement already sets.
// Solana requirements get their feePayer this way.
func EnrichRequirements(ctx context.Context, f Interface, requirements []x402.PaymentRequirement) ([]x402.PaymentRequirement, error) {
	supported, err := f.Supported(ctx)
	if err != nil {
		return requirements, err
	}

	kinds := make(map[string]SupportedKind, len(supported.Kinds))
	for _, kind := range supported.Kinds {
		kinds[kind.Network+"/"+kind.Scheme] = kind
	}

	enriched := make([]x402.PaymentRequirement, len(requirements))
	for i, req := range requirements {
		enriched[i] = req
		kind, ok := kinds[req.Network+"/"+req.Scheme]
		if !ok || len(kind.Extra) == 0 {
			continue
		}

		extra := make(map[string]interface{}, len(req.Extra)+len(kind.Extra))
		for k, v := range kind.Extra {
			extra[k] = v
		}
		for k, v := range req.Extra {
			extra[k] = v
		}
		enriched[i].Extra = extra
	}
	return enriched, nil
}
