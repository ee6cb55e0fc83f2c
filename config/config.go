// Package config loads the YAML configuration of the x402sandbox CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for a configuration file.
const DefaultPath = "~/.x402sandbox/config.yaml"

// Signer kinds.
const (
	SignerEVM    = "evm"
	SignerSVM    = "svm"
	SignerWallet = "wallet"
	SignerCDP    = "cdp"
)

// Environment variables holding CDP credentials when the config file
// names none.
const (
	DefaultCDPKeyNameEnv      = "CDP_API_KEY_NAME"
	DefaultCDPKeySecretEnv    = "CDP_API_KEY_SECRET"
	DefaultCDPWalletSecretEnv = "CDP_WALLET_SECRET"
)

// Routers the sandbox server can run on.
const (
	RouterChi = "chi"
	RouterGin = "gin"
)

// Selector policies.
const (
	SelectorFirst    = "first"
	SelectorCheapest = "cheapest"
)

// Config is the root of the configuration file.
type Config struct {
	Client  ClientConfig   `yaml:"client"`
	Signers []SignerConfig `yaml:"signers"`
	Serve   ServeConfig    `yaml:"serve"`
	MCP     MCPConfig      `yaml:"mcp"`
}

// ClientConfig configures the payment client.
type ClientConfig struct {
	Selector         string   `yaml:"selector"`
	StrictSettlement bool     `yaml:"strictSettlement"`
	Timeouts         Timeouts `yaml:"timeouts"`
}

// Timeouts mirrors x402.TimeoutConfig with YAML durations such as "30s".
type Timeouts struct {
	Request time.Duration `yaml:"request"`
	Signing time.Duration `yaml:"signing"`
	Verify  time.Duration `yaml:"verify"`
	Settle  time.Duration `yaml:"settle"`
}

// SignerConfig describes one signer. Exactly one key source must be set
// for evm signers; svm signers take privateKey or keygenFile; wallet
// signers take walletURL; cdp signers read API credentials from the
// environment.
type SignerConfig struct {
	Type    string `yaml:"type"`
	Network string `yaml:"network"`

	PrivateKey    string `yaml:"privateKey"`
	PrivateKeyEnv string `yaml:"privateKeyEnv"`

	Keystore         string `yaml:"keystore"`
	KeystorePassword string `yaml:"keystorePassword"`
	PasswordEnv      string `yaml:"keystorePasswordEnv"`

	Mnemonic     string `yaml:"mnemonic"`
	AccountIndex uint32 `yaml:"accountIndex"`

	KeygenFile string `yaml:"keygenFile"`

	WalletURL string `yaml:"walletURL"`
	Account   string `yaml:"account"`
	// RequestAccounts asks the wallet to expose its accounts at startup,
	// which may prompt the user.
	RequestAccounts bool `yaml:"requestAccounts"`

	CDP CDPConfig `yaml:"cdp"`

	Priority         int           `yaml:"priority"`
	MaxAmountPerCall string        `yaml:"maxAmountPerCall"`
	Tokens           []TokenConfig `yaml:"tokens"`
}

// CDPConfig locates Coinbase Developer Platform credentials. Secrets are
// only ever read from the environment.
type CDPConfig struct {
	AccountName     string `yaml:"accountName"`
	BaseURL         string `yaml:"baseURL"`
	KeyNameEnv      string `yaml:"apiKeyNameEnv"`
	KeySecretEnv    string `yaml:"apiKeySecretEnv"`
	WalletSecretEnv string `yaml:"walletSecretEnv"`
}

// Credentials returns the API key name, API key secret and wallet secret.
func (c *CDPConfig) Credentials() (keyName, keySecret, walletSecret string, err error) {
	keyName = os.Getenv(c.KeyNameEnv)
	keySecret = os.Getenv(c.KeySecretEnv)
	walletSecret = os.Getenv(c.WalletSecretEnv)
	if keyName == "" || keySecret == "" || walletSecret == "" {
		return "", "", "", fmt.Errorf("%w: set %s, %s and %s", x402.ErrInvalidKey, c.KeyNameEnv, c.KeySecretEnv, c.WalletSecretEnv)
	}
	return keyName, keySecret, walletSecret, nil
}

// TokenConfig is an extra token a signer may pay with. Signers on
// networks in the chain table also accept the chain's USDC.
type TokenConfig struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals int    `yaml:"decimals"`
	Priority int    `yaml:"priority"`
}

// ServeConfig configures the sandbox resource server.
type ServeConfig struct {
	Addr           string `yaml:"addr"`
	Network        string `yaml:"network"`
	PayTo          string `yaml:"payTo"`
	Amount         string `yaml:"amount"`
	Description    string `yaml:"description"`
	FacilitatorURL string `yaml:"facilitatorURL"`
	VerifyOnly     bool   `yaml:"verifyOnly"`
	Router         string `yaml:"router"`
}

// MCPConfig configures the MCP tool server. An empty Addr serves stdio.
type MCPConfig struct {
	Addr         string `yaml:"addr"`
	MaxBodyBytes int    `yaml:"maxBodyBytes"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads and validates the file at path. A missing file at the
// default path yields the defaults.
func Load(path string) (*Config, error) {
	usingDefault := path == ""
	if usingDefault {
		path = DefaultPath
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path: %w", err)
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		if usingDefault && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", expanded, err)
	}
	c.resolvePaths(filepath.Dir(expanded))
	return c, nil
}

// Parse decodes YAML and validates the result.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate applies defaults and checks the configuration.
func (c *Config) Validate() error {
	c.applyDefaults()

	switch c.Client.Selector {
	case SelectorFirst, SelectorCheapest:
	default:
		return fmt.Errorf("client.selector: unknown policy %q", c.Client.Selector)
	}
	if err := c.Client.Timeouts.TimeoutConfig().Validate(); err != nil {
		return fmt.Errorf("client.timeouts: %w", err)
	}

	for i := range c.Signers {
		if err := c.Signers[i].validate(); err != nil {
			return fmt.Errorf("signers[%d]: %w", i, err)
		}
	}

	if err := c.Serve.validate(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	if c.MCP.MaxBodyBytes < 0 {
		return fmt.Errorf("mcp.maxBodyBytes: must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Client.Selector == "" {
		c.Client.Selector = SelectorFirst
	}
	t := &c.Client.Timeouts
	if t.Request == 0 {
		t.Request = x402.DefaultTimeouts.RequestTimeout
	}
	if t.Signing == 0 {
		t.Signing = x402.DefaultTimeouts.SigningTimeout
	}
	if t.Verify == 0 {
		t.Verify = x402.DefaultTimeouts.VerifyTimeout
	}
	if t.Settle == 0 {
		t.Settle = x402.DefaultTimeouts.SettleTimeout
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = ":8402"
	}
	if c.Serve.Network == "" {
		c.Serve.Network = x402.BaseSepolia.Name
	}
	if c.Serve.Amount == "" {
		c.Serve.Amount = "0.01"
	}
	if c.Serve.Router == "" {
		c.Serve.Router = RouterChi
	}
	for i := range c.Signers {
		if c.Signers[i].Type == "" {
			c.Signers[i].Type = SignerEVM
		}
	}
}

// resolvePaths expands ~ and makes file paths relative to the config file.
func (c *Config) resolvePaths(dir string) {
	for i := range c.Signers {
		s := &c.Signers[i]
		s.Keystore = resolvePath(dir, s.Keystore)
		s.KeygenFile = resolvePath(dir, s.KeygenFile)
	}
}

func resolvePath(dir, path string) string {
	if path == "" {
		return ""
	}
	if expanded, err := homedir.Expand(path); err == nil {
		path = expanded
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return path
}

// TimeoutConfig converts to the library type.
func (t Timeouts) TimeoutConfig() x402.TimeoutConfig {
	return x402.TimeoutConfig{
		RequestTimeout: t.Request,
		SigningTimeout: t.Signing,
		VerifyTimeout:  t.Verify,
		SettleTimeout:  t.Settle,
	}
}

func (s *SignerConfig) validate() error {
	if s.Network == "" {
		return fmt.Errorf("network: cannot be empty")
	}
	network := x402.NormalizeNetwork(s.Network)
	netType, err := x402.ValidateNetwork(network)
	if err != nil {
		return fmt.Errorf("%w: %v", x402.ErrInvalidNetwork, err)
	}

	switch s.Type {
	case SignerEVM:
		if netType != x402.NetworkTypeEVM {
			return fmt.Errorf("%w: %s is not an EVM network", x402.ErrInvalidNetwork, s.Network)
		}
		if n := countSet(s.privateKeySet(), s.Keystore != "", s.Mnemonic != ""); n != 1 {
			return fmt.Errorf("%w: evm signer needs exactly one of privateKey, keystore or mnemonic", x402.ErrInvalidKey)
		}
	case SignerSVM:
		if netType != x402.NetworkTypeSVM {
			return fmt.Errorf("%w: %s is not a Solana network", x402.ErrInvalidNetwork, s.Network)
		}
		if n := countSet(s.privateKeySet(), s.KeygenFile != ""); n != 1 {
			return fmt.Errorf("%w: svm signer needs exactly one of privateKey or keygenFile", x402.ErrInvalidKey)
		}
	case SignerWallet:
		if netType != x402.NetworkTypeEVM {
			return fmt.Errorf("%w: wallet signers support EVM networks only", x402.ErrInvalidNetwork)
		}
		if s.WalletURL == "" {
			return fmt.Errorf("walletURL: cannot be empty")
		}
	case SignerCDP:
		if netType != x402.NetworkTypeEVM {
			return fmt.Errorf("%w: cdp signers support EVM networks only", x402.ErrInvalidNetwork)
		}
		if s.CDP.KeyNameEnv == "" {
			s.CDP.KeyNameEnv = DefaultCDPKeyNameEnv
		}
		if s.CDP.KeySecretEnv == "" {
			s.CDP.KeySecretEnv = DefaultCDPKeySecretEnv
		}
		if s.CDP.WalletSecretEnv == "" {
			s.CDP.WalletSecretEnv = DefaultCDPWalletSecretEnv
		}
	default:
		return fmt.Errorf("type: unknown signer type %q", s.Type)
	}

	if s.MaxAmountPerCall != "" {
		if _, err := x402.AmountToBigInt(s.MaxAmountPerCall, 0); err != nil {
			return fmt.Errorf("maxAmountPerCall: %w", err)
		}
	}
	for j, t := range s.Tokens {
		if err := x402.ValidateTokenAddress(network, t.Address); err != nil {
			return fmt.Errorf("tokens[%d]: %w", j, err)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			return fmt.Errorf("tokens[%d]: decimals out of range", j)
		}
	}
	return nil
}

func (s *SignerConfig) privateKeySet() bool {
	return s.PrivateKey != "" || s.PrivateKeyEnv != ""
}

// ResolvePrivateKey returns the inline key or the value of PrivateKeyEnv.
func (s *SignerConfig) ResolvePrivateKey() (string, error) {
	if s.PrivateKey != "" {
		return s.PrivateKey, nil
	}
	if s.PrivateKeyEnv == "" {
		return "", nil
	}
	key := os.Getenv(s.PrivateKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: environment variable %s is empty", x402.ErrInvalidKey, s.PrivateKeyEnv)
	}
	return key, nil
}

// ResolveKeystorePassword returns the inline password or the value of PasswordEnv.
func (s *SignerConfig) ResolveKeystorePassword() string {
	if s.KeystorePassword != "" {
		return s.KeystorePassword
	}
	if s.PasswordEnv != "" {
		return os.Getenv(s.PasswordEnv)
	}
	return ""
}

func (s *ServeConfig) validate() error {
	if s.Router != RouterChi && s.Router != RouterGin {
		return fmt.Errorf("router: unknown router %q", s.Router)
	}
	chain, ok := x402.LookupChain(s.Network)
	if !ok {
		return fmt.Errorf("%w: unknown network %q", x402.ErrInvalidNetwork, s.Network)
	}
	if _, err := x402.AmountToBigInt(s.Amount, int(chain.Decimals)); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	if s.PayTo != "" {
		if err := x402.ValidateTokenAddress(chain.NetworkID, s.PayTo); err != nil {
			return fmt.Errorf("payTo: %w", err)
		}
	}
	return nil
}

// Requirement builds the USDC requirement the sandbox server offers.
func (s *ServeConfig) Requirement() (x402.PaymentRequirement, error) {
	chain, ok := x402.LookupChain(s.Network)
	if !ok {
		return x402.PaymentRequirement{}, fmt.Errorf("%w: unknown network %q", x402.ErrInvalidNetwork, s.Network)
	}
	if s.PayTo == "" {
		return x402.PaymentRequirement{}, fmt.Errorf("serve.payTo: cannot be empty")
	}
	return x402.NewUSDCPaymentRequirement(x402.USDCRequirementConfig{
		Chain:            chain,
		Amount:           s.Amount,
		RecipientAddress: s.PayTo,
	})
}

func countSet(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
