package x402

import (
	"math/big"
	"sort"
	"strings"
)

// PaymentSelector chooses which offered requirement to pay and which signer pays it.
// Implementations must be deterministic: the same requirements and signers
// always yield the same choice.
type PaymentSelector interface {
	Select(requirements []PaymentRequirement, signers []Signer) (PaymentRequirement, Signer, error)
}

// SelectFirst is the default selection policy in its pure form: the
// server-declared order is authoritative, so the first requirement wins.
func SelectFirst(requirements []PaymentRequirement) (PaymentRequirement, error) {
	if len(requirements) == 0 {
		return PaymentRequirement{}, NewPaymentError(ErrCodeNoAcceptablePaymentOption, "no payment requirements to select from", ErrNoAcceptablePaymentOption)
	}
	return requirements[0], nil
}

// DefaultPaymentSelector picks the first requirement, in server order, that
// at least one signer can pay. Among the signers able to pay it, the winner
// is chosen by:
// 1. Signer priority (lower number = higher priority)
// 2. Token priority within the signer
// 3. Registration order (for ties)
type DefaultPaymentSelector struct{}

// NewDefaultPaymentSelector creates a new DefaultPaymentSelector.
func NewDefaultPaymentSelector() *DefaultPaymentSelector {
	return &DefaultPaymentSelector{}
}

// Select implements PaymentSelector.
func (s *DefaultPaymentSelector) Select(requirements []PaymentRequirement, signers []Signer) (PaymentRequirement, Signer, error) {
	if len(requirements) == 0 {
		return PaymentRequirement{}, nil, NewPaymentError(ErrCodeNoAcceptablePaymentOption, "no payment requirements to select from", ErrNoAcceptablePaymentOption)
	}
	if len(signers) == 0 {
		return PaymentRequirement{}, nil, NewPaymentError(ErrCodeSignerUnavailable, "no signers configured", ErrSignerUnavailable)
	}

	for i := range requirements {
		if signer := bestSigner(&requirements[i], signers); signer != nil {
			return requirements[i], signer, nil
		}
	}

	return PaymentRequirement{}, nil, noAcceptableOption(requirements)
}

// CheapestPaymentSelector pays the requirement with the lowest atomic amount
// that some signer can pay; ties keep server order.
type CheapestPaymentSelector struct{}

// Select implements PaymentSelector.
func (s *CheapestPaymentSelector) Select(requirements []PaymentRequirement, signers []Signer) (PaymentRequirement, Signer, error) {
	if len(requirements) == 0 {
		return PaymentRequirement{}, nil, NewPaymentError(ErrCodeNoAcceptablePaymentOption, "no payment requirements to select from", ErrNoAcceptablePaymentOption)
	}
	if len(signers) == 0 {
		return PaymentRequirement{}, nil, NewPaymentError(ErrCodeSignerUnavailable, "no signers configured", ErrSignerUnavailable)
	}

	order := make([]int, len(requirements))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		x, okx := parseAmount(requirements[order[a]].Amount)
		y, oky := parseAmount(requirements[order[b]].Amount)
		if !okx || !oky {
			return okx && !oky
		}
		return x.Cmp(y) < 0
	})

	for _, i := range order {
		if signer := bestSigner(&requirements[i], signers); signer != nil {
			return requirements[i], signer, nil
		}
	}

	return PaymentRequirement{}, nil, noAcceptableOption(requirements)
}

// bestSigner returns the highest priority signer able to pay requirement, or nil.
func bestSigner(requirement *PaymentRequirement, signers []Signer) Signer {
	amount, ok := parseAmount(requirement.Amount)
	if !ok || requirement.PayTo == "" {
		return nil
	}

	var candidates []signerCandidate
	for _, signer := range signers {
		if !signer.CanSign(requirement) {
			continue
		}

		maxAmount := signer.GetMaxAmount()
		if maxAmount != nil && amount.Cmp(maxAmount) > 0 {
			continue
		}

		tokenPriority := 0
		for _, token := range signer.GetTokens() {
			if strings.EqualFold(token.Address, requirement.Asset) {
				tokenPriority = token.Priority
				break
			}
		}

		candidates = append(candidates, signerCandidate{
			signer:         signer,
			signerPriority: signer.GetPriority(),
			tokenPriority:  tokenPriority,
		})
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].signerPriority != candidates[j].signerPriority {
			return candidates[i].signerPriority < candidates[j].signerPriority
		}
		return candidates[i].tokenPriority < candidates[j].tokenPriority
	})
	return candidates[0].signer
}

func noAcceptableOption(requirements []PaymentRequirement) *PaymentError {
	networks := make([]string, 0, len(requirements))
	for _, r := range requirements {
		networks = append(networks, r.Network)
	}
	return NewPaymentError(ErrCodeNoAcceptablePaymentOption, "no signer can satisfy any offered requirement", ErrNoAcceptablePaymentOption).
		WithDetails("networks", networks).
		WithDetails("offered", len(requirements))
}

// parseAmount parses a non-negative atomic amount.
func parseAmount(s string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() < 0 {
		return nil, false
	}
	return amount, true
}

// signerCandidate represents a signer that can satisfy the payment requirement.
type signerCandidate struct {
	signer         Signer
	signerPriority int
	tokenPriority  int
}
