// Package x402 implements the client side of the x402 pay-per-request
// handshake: wire types, error taxonomy, the handshake state machine,
// signer and selector contracts, and a CAIP-2 network table with USDC
// helpers for building requirements and token configurations.
package x402

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// NetworkType represents the blockchain virtual machine type.
type NetworkType int

const (
	// NetworkTypeUnknown represents an unrecognized network.
	NetworkTypeUnknown NetworkType = iota
	// NetworkTypeEVM represents Ethereum Virtual Machine chains.
	NetworkTypeEVM
	// NetworkTypeSVM represents Solana Virtual Machine chains.
	NetworkTypeSVM
)

// ChainConfig contains chain-specific configuration for USDC tokens and payment requirements.
type ChainConfig struct {
	// NetworkID is the CAIP-2 network identifier (e.g., "eip155:8453").
	NetworkID string

	// Name is a short human name (e.g., "base").
	Name string

	// ChainID is the EIP-155 chain ID (zero for non-EVM chains).
	ChainID int64

	// USDCAddress is the official Circle USDC contract address or mint address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// EIP3009Name is the EIP-712 domain "name" of the token (empty for non-EVM chains).
	EIP3009Name string

	// EIP3009Version is the EIP-712 domain "version" of the token (empty for non-EVM chains).
	EIP3009Version string
}

// Type returns the virtual machine type of the chain.
func (c ChainConfig) Type() NetworkType {
	t, _ := ValidateNetwork(c.NetworkID)
	return t
}

// Mainnet chain configurations
var (
	BaseMainnet = ChainConfig{
		NetworkID:      "eip155:8453",
		Name:           "base",
		ChainID:        8453,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	PolygonMainnet = ChainConfig{
		NetworkID:      "eip155:137",
		Name:           "polygon",
		ChainID:        137,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	AvalancheMainnet = ChainConfig{
		NetworkID:      "eip155:43114",
		Name:           "avalanche",
		ChainID:        43114,
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	SolanaMainnet = ChainConfig{
		NetworkID:   "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		Name:        "solana",
		USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals:    6,
	}
)

// Testnet chain configurations
var (
	BaseSepolia = ChainConfig{
		NetworkID:      "eip155:84532",
		Name:           "base-sepolia",
		ChainID:        84532,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	PolygonAmoy = ChainConfig{
		NetworkID:      "eip155:80002",
		Name:           "polygon-amoy",
		ChainID:        80002,
		USDCAddress:    "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	AvalancheFuji = ChainConfig{
		NetworkID:      "eip155:43113",
		Name:           "avalanche-fuji",
		ChainID:        43113,
		USDCAddress:    "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	SolanaDevnet = ChainConfig{
		NetworkID:   "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
		Name:        "solana-devnet",
		USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Decimals:    6,
	}
)

// KnownChains lists every chain in the table.
var KnownChains = []ChainConfig{
	BaseMainnet, PolygonMainnet, AvalancheMainnet, SolanaMainnet,
	BaseSepolia, PolygonAmoy, AvalancheFuji, SolanaDevnet,
}

// LookupChain finds a chain by CAIP-2 identifier or short name.
func LookupChain(network string) (ChainConfig, bool) {
	for _, c := range KnownChains {
		if c.NetworkID == network || strings.EqualFold(c.Name, network) {
			return c, true
		}
	}
	return ChainConfig{}, false
}

// NormalizeNetwork maps a short name like "base" to its CAIP-2 identifier.
// CAIP-2 identifiers and unknown names are returned unchanged.
func NormalizeNetwork(network string) string {
	if c, ok := LookupChain(network); ok {
		return c.NetworkID
	}
	return network
}

var caip2Pattern = regexp.MustCompile(`^([-a-z0-9]{3,8}):([-_a-zA-Z0-9]{1,32})$`)

// ValidateNetwork validates a CAIP-2 network identifier and returns its type.
// Any eip155:<chainId> is accepted as EVM and any solana:<genesis> as SVM,
// so requirements for chains outside the table still classify correctly.
func ValidateNetwork(networkID string) (NetworkType, error) {
	if networkID == "" {
		return NetworkTypeUnknown, fmt.Errorf("networkID: cannot be empty")
	}

	m := caip2Pattern.FindStringSubmatch(networkID)
	if m == nil {
		return NetworkTypeUnknown, fmt.Errorf("networkID: %q is not a CAIP-2 identifier", networkID)
	}

	switch m[1] {
	case "eip155":
		if _, ok := new(big.Int).SetString(m[2], 10); !ok {
			return NetworkTypeUnknown, fmt.Errorf("networkID: invalid eip155 chain id %q", m[2])
		}
		return NetworkTypeEVM, nil
	case "solana":
		return NetworkTypeSVM, nil
	default:
		return NetworkTypeUnknown, fmt.Errorf("networkID: unsupported namespace %q", m[1])
	}
}

// ChainID returns the EIP-155 chain ID encoded in an eip155 network identifier.
func ChainID(networkID string) (*big.Int, error) {
	netType, err := ValidateNetwork(networkID)
	if err != nil {
		return nil, err
	}
	if netType != NetworkTypeEVM {
		return nil, fmt.Errorf("%w: %s is not an EVM network", ErrInvalidNetwork, networkID)
	}
	id, _ := new(big.Int).SetString(strings.TrimPrefix(networkID, "eip155:"), 10)
	return id, nil
}

var (
	evmAddressPattern    = regexp.MustCompile(`^0[xX][a-fA-F0-9]{40}$`)
	solanaAddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// ValidateTokenAddress validates that a token address matches the network type.
func ValidateTokenAddress(networkID, address string) error {
	if address == "" {
		return fmt.Errorf("token address cannot be empty")
	}

	netType, err := ValidateNetwork(networkID)
	if err != nil {
		return err
	}

	switch netType {
	case NetworkTypeEVM:
		if !evmAddressPattern.MatchString(address) {
			return fmt.Errorf("token address '%s' is invalid for EVM network '%s', expected 0x-prefixed hex address (42 chars)", address, networkID)
		}
	case NetworkTypeSVM:
		if !solanaAddressPattern.MatchString(address) {
			return fmt.Errorf("token address '%s' is invalid for Solana network '%s', expected base58 address (32-44 chars)", address, networkID)
		}
	}
	return nil
}

// USDCRequirementConfig is the configuration for creating a USDC PaymentRequirement.
type USDCRequirementConfig struct {
	// Chain is the chain configuration with USDC details (required).
	Chain ChainConfig

	// Amount is the human-readable USDC amount (e.g., "1.5" = 1.5 USDC).
	Amount string

	// RecipientAddress is the payment recipient address (required).
	RecipientAddress string

	// Scheme is the payment scheme (optional, defaults to "exact").
	Scheme string

	// MaxTimeoutSeconds is the maximum payment timeout (optional, defaults to 300).
	MaxTimeoutSeconds uint32
}

// NewUSDCTokenConfig creates a TokenConfig for USDC on the given chain with the specified priority.
func NewUSDCTokenConfig(chain ChainConfig, priority int) TokenConfig {
	return TokenConfig{
		Address:  chain.USDCAddress,
		Symbol:   "USDC",
		Decimals: int(chain.Decimals),
		Priority: priority,
		Name:     chain.EIP3009Name,
	}
}

// NewUSDCPaymentRequirement creates a PaymentRequirement for USDC from the given configuration.
// The amount is converted to atomic units exactly; amounts with more precision
// than the token supports are rejected. Errors have the form "parameterName: reason".
func NewUSDCPaymentRequirement(config USDCRequirementConfig) (PaymentRequirement, error) {
	if config.RecipientAddress == "" {
		return PaymentRequirement{}, fmt.Errorf("recipientAddress: cannot be empty")
	}

	atomic, err := AmountToBigInt(config.Amount, int(config.Chain.Decimals))
	if err != nil {
		return PaymentRequirement{}, fmt.Errorf("amount: %w", err)
	}

	scheme := config.Scheme
	if scheme == "" {
		scheme = SchemeExact
	}

	maxTimeout := config.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = 300
	}

	req := PaymentRequirement{
		Scheme:            scheme,
		Network:           config.Chain.NetworkID,
		Amount:            atomic.String(),
		Asset:             config.Chain.USDCAddress,
		PayTo:             config.RecipientAddress,
		MaxTimeoutSeconds: int(maxTimeout),
	}

	if config.Chain.EIP3009Name != "" {
		req.Extra = map[string]interface{}{
			"name":    config.Chain.EIP3009Name,
			"version": config.Chain.EIP3009Version,
		}
	}

	return req, nil
}
