package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
client:
  selector: cheapest
  strictSettlement: true
  timeouts:
    request: 10s
    signing: 2m
signers:
  - network: base-sepolia
    privateKeyEnv: X402_TEST_KEY
    priority: 1
    maxAmountPerCall: "50000"
  - type: svm
    network: solana-devnet
    keygenFile: keys/devnet.json
  - type: wallet
    network: eip155:84532
    walletURL: http://127.0.0.1:8545
serve:
  addr: 127.0.0.1:9000
  payTo: "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
  amount: "0.05"
mcp:
  maxBodyBytes: 1024
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, SelectorCheapest, c.Client.Selector)
	assert.True(t, c.Client.StrictSettlement)
	assert.Equal(t, 10*time.Second, c.Client.Timeouts.Request)
	assert.Equal(t, 2*time.Minute, c.Client.Timeouts.Signing)
	assert.Equal(t, x402.DefaultTimeouts.VerifyTimeout, c.Client.Timeouts.Verify)
	assert.Equal(t, x402.DefaultTimeouts.SettleTimeout, c.Client.Timeouts.Settle)

	require.Len(t, c.Signers, 3)
	assert.Equal(t, SignerEVM, c.Signers[0].Type)
	assert.Equal(t, SignerSVM, c.Signers[1].Type)
	assert.Equal(t, SignerWallet, c.Signers[2].Type)

	assert.Equal(t, "127.0.0.1:9000", c.Serve.Addr)
	assert.Equal(t, "base-sepolia", c.Serve.Network)
	assert.Equal(t, 1024, c.MCP.MaxBodyBytes)
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, SelectorFirst, c.Client.Selector)
	assert.Equal(t, x402.DefaultTimeouts, c.Client.Timeouts.TimeoutConfig())
	assert.Equal(t, ":8402", c.Serve.Addr)
	assert.Equal(t, "0.01", c.Serve.Amount)
	assert.Equal(t, RouterChi, c.Serve.Router)
	assert.Empty(t, c.Signers)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
		want    string
	}{
		{name: "unknown field", yaml: "clientt: {}", want: "failed to parse config"},
		{name: "unknown selector", yaml: "client: {selector: random}", want: "client.selector"},
		{name: "negative timeout", yaml: "client: {timeouts: {request: -1s}}", want: "client.timeouts"},
		{name: "signer without network", yaml: "signers: [{privateKey: abc}]", want: "network"},
		{name: "evm signer without key", yaml: "signers: [{network: base}]", wantErr: x402.ErrInvalidKey},
		{name: "evm signer with two keys", yaml: "signers: [{network: base, privateKey: a, mnemonic: b}]", wantErr: x402.ErrInvalidKey},
		{name: "evm signer on solana", yaml: "signers: [{network: solana, privateKey: a}]", wantErr: x402.ErrInvalidNetwork},
		{name: "svm signer on base", yaml: "signers: [{type: svm, network: base, privateKey: a}]", wantErr: x402.ErrInvalidNetwork},
		{name: "wallet without url", yaml: "signers: [{type: wallet, network: base}]", want: "walletURL"},
		{name: "cdp signer on solana", yaml: "signers: [{type: cdp, network: solana}]", wantErr: x402.ErrInvalidNetwork},
		{name: "unknown signer type", yaml: "signers: [{type: hsm, network: base}]", want: "unknown signer type"},
		{name: "bad network", yaml: "signers: [{network: 'not a network', privateKey: a}]", wantErr: x402.ErrInvalidNetwork},
		{name: "bad max amount", yaml: "signers: [{network: base, privateKey: a, maxAmountPerCall: '1.5'}]", wantErr: x402.ErrInvalidAmount},
		{name: "bad token", yaml: "signers: [{network: base, privateKey: a, tokens: [{address: nope}]}]", want: "tokens[0]"},
		{name: "unknown serve network", yaml: "serve: {network: mars}", wantErr: x402.ErrInvalidNetwork},
		{name: "bad serve amount", yaml: "serve: {amount: '0.0000001'}", wantErr: x402.ErrInvalidAmount},
		{name: "bad payTo", yaml: "serve: {payTo: nope}", want: "payTo"},
		{name: "unknown router", yaml: "serve: {router: echo}", want: "unknown router"},
		{name: "negative mcp body", yaml: "mcp: {maxBodyBytes: -1}", want: "maxBodyBytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "keys", "devnet.json"), c.Signers[1].KeygenFile)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCDPConfig_Credentials(t *testing.T) {
	c, err := Parse([]byte("signers: [{type: cdp, network: base-sepolia, cdp: {accountName: x402}}]"))
	require.NoError(t, err)
	cdp := c.Signers[0].CDP
	assert.Equal(t, DefaultCDPKeyNameEnv, cdp.KeyNameEnv)
	assert.Equal(t, DefaultCDPWalletSecretEnv, cdp.WalletSecretEnv)

	t.Setenv(DefaultCDPKeyNameEnv, "organizations/o/apiKeys/k")
	t.Setenv(DefaultCDPKeySecretEnv, "")
	t.Setenv(DefaultCDPWalletSecretEnv, "secret")
	_, _, _, err = cdp.Credentials()
	assert.ErrorIs(t, err, x402.ErrInvalidKey)

	t.Setenv(DefaultCDPKeySecretEnv, "pem")
	name, secret, walletSecret, err := cdp.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "organizations/o/apiKeys/k", name)
	assert.Equal(t, "pem", secret)
	assert.Equal(t, "secret", walletSecret)
}

func TestSignerConfig_ResolvePrivateKey(t *testing.T) {
	t.Setenv("X402_TEST_KEY", "0xabc")

	s := SignerConfig{PrivateKeyEnv: "X402_TEST_KEY"}
	key, err := s.ResolvePrivateKey()
	require.NoError(t, err)
	assert.Equal(t, "0xabc", key)

	s = SignerConfig{PrivateKey: "inline", PrivateKeyEnv: "X402_TEST_KEY"}
	key, err = s.ResolvePrivateKey()
	require.NoError(t, err)
	assert.Equal(t, "inline", key)

	s = SignerConfig{PrivateKeyEnv: "X402_TEST_KEY_UNSET"}
	_, err = s.ResolvePrivateKey()
	assert.ErrorIs(t, err, x402.ErrInvalidKey)

	t.Setenv("X402_TEST_PASSWORD", "secret")
	s = SignerConfig{PasswordEnv: "X402_TEST_PASSWORD"}
	assert.Equal(t, "secret", s.ResolveKeystorePassword())
}

func TestServeConfig_Requirement(t *testing.T) {
	c, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	req, err := c.Serve.Requirement()
	require.NoError(t, err)
	assert.Equal(t, x402.BaseSepolia.NetworkID, req.Network)
	assert.Equal(t, "50000", req.Amount)
	assert.Equal(t, x402.BaseSepolia.USDCAddress, req.Asset)

	empty := Default()
	_, err = empty.Serve.Requirement()
	assert.Error(t, err)
}
