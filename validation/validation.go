// Package validation checks payment requirements and payloads for
// structural validity before they are served or verified.
package validation

import (
	"fmt"
	"math/big"
	"regexp"

	x402 "github.com/Gate402/gate-fe-sub000"
)

var (
	evmAddressRegex    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// ValidateAmount validates that an amount is a positive integer in atomic units.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}
	if amt.Sign() <= 0 {
		return fmt.Errorf("amount must be greater than 0, got: %s", amount)
	}
	return nil
}

// ValidateAddress validates an address for the network's VM type.
func ValidateAddress(address string, network string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	networkType, err := x402.ValidateNetwork(network)
	if err != nil {
		return fmt.Errorf("cannot validate address: %w", err)
	}

	switch networkType {
	case x402.NetworkTypeEVM:
		if !evmAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
		}
	case x402.NetworkTypeSVM:
		if !solanaAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid Solana address format: %s (expected base58 string 32-44 chars)", address)
		}
	default:
		return fmt.Errorf("unsupported network type for address validation: %d", networkType)
	}
	return nil
}

// ValidatePaymentRequirement validates a single payment option.
func ValidatePaymentRequirement(req x402.PaymentRequirement) error {
	if req.Scheme == "" {
		return fmt.Errorf("invalid requirement: scheme cannot be empty")
	}
	if req.Scheme != x402.SchemeExact {
		return fmt.Errorf("invalid requirement: unsupported scheme %s", req.Scheme)
	}

	if err := ValidateAmount(req.Amount); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	networkType, err := x402.ValidateNetwork(req.Network)
	if err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if err := ValidateAddress(req.PayTo, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}
	if err := ValidateAddress(req.Asset, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}

	if req.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("invalid requirement: timeout cannot be negative: %d", req.MaxTimeoutSeconds)
	}

	if networkType == x402.NetworkTypeEVM {
		for _, key := range []string{"name", "version"} {
			if v, ok := req.Extra[key]; ok {
				if s, _ := v.(string); s == "" {
					return fmt.Errorf("invalid requirement: EIP-712 domain %s must be a non-empty string", key)
				}
			}
		}
	}
	if networkType == x402.NetworkTypeSVM {
		if fp, ok := req.Extra["feePayer"]; ok {
			s, _ := fp.(string)
			if err := ValidateAddress(s, req.Network); err != nil {
				return fmt.Errorf("invalid requirement: feePayer %w", err)
			}
		}
	}

	return nil
}

// ValidateVersion reports x402.ErrUnsupportedVersion for any protocol
// version other than x402.X402Version.
func ValidateVersion(version int) error {
	if version != x402.X402Version {
		return fmt.Errorf("%w: %d", x402.ErrUnsupportedVersion, version)
	}
	return nil
}

// ValidatePaymentPayload validates the structure of a payment proof.
func ValidatePaymentPayload(payment x402.PaymentPayload) error {
	if err := ValidateVersion(payment.X402Version); err != nil {
		return err
	}
	if payment.Accepted.Scheme == "" {
		return fmt.Errorf("scheme cannot be empty")
	}
	if payment.Accepted.Network == "" {
		return fmt.Errorf("network cannot be empty")
	}
	if _, err := x402.ValidateNetwork(payment.Accepted.Network); err != nil {
		return fmt.Errorf("invalid network: %w", err)
	}
	if payment.Payload == nil {
		return fmt.Errorf("payload cannot be nil")
	}
	return nil
}
