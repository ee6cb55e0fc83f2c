package coinbase

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

const (
	bearerTokenTTL = 2 * time.Minute
	walletTokenTTL = time.Minute
)

// Auth signs the JWTs the CDP API expects. It is immutable after
// construction and safe for concurrent use.
type Auth struct {
	keyName      string
	walletSecret string
	key          interface{}
	alg          jose.SignatureAlgorithm
}

// Claims are the JWT claims of a CDP request token.
type Claims struct {
	*jwt.Claims
	// URI is "{METHOD} {host}{path}".
	URI string `json:"uri"`
	// ReqHash is the hex SHA-256 of the request body, wallet tokens only.
	ReqHash string `json:"reqHash,omitempty"`
}

// NewAuth parses a PEM-encoded ECDSA (SEC1 or PKCS8) or Ed25519 (PKCS8)
// API key. walletSecret may be empty when no signing calls are made.
func NewAuth(keyName, keySecret, walletSecret string) (*Auth, error) {
	if keyName == "" {
		return nil, errors.New("coinbase: API key name must not be empty")
	}

	block, _ := pem.Decode([]byte(keySecret))
	if block == nil {
		return nil, errors.New("coinbase: API key secret is not PEM encoded")
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err == nil {
		return &Auth{keyName: keyName, walletSecret: walletSecret, key: key, alg: jose.ES256}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("coinbase: failed to parse API key: %w", err)
	}

	a := &Auth{keyName: keyName, walletSecret: walletSecret, key: parsed}
	switch parsed.(type) {
	case *ecdsa.PrivateKey:
		a.alg = jose.ES256
	case crypto.Signer:
		a.alg = jose.EdDSA
	default:
		return nil, errors.New("coinbase: API key must be ECDSA or Ed25519")
	}
	return a, nil
}

// KeyName returns the API key identifier used as the JWT subject.
func (a *Auth) KeyName() string { return a.keyName }

// BearerToken returns the Authorization token for one request.
func (a *Auth) BearerToken(host, method, path string) (string, error) {
	return a.token(host, method, path, nil, bearerTokenTTL)
}

// WalletToken returns the X-Wallet-Auth token for a signing request. The
// token binds the SHA-256 of body.
func (a *Auth) WalletToken(host, method, path string, body []byte) (string, error) {
	if a.walletSecret == "" {
		return "", errors.New("coinbase: wallet secret is required for signing")
	}
	return a.token(host, method, path, body, walletTokenTTL)
}

func (a *Auth) token(host, method, path string, body []byte, ttl time.Duration) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: a.alg, Key: a.key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", a.keyName),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}

	now := time.Now()
	claims := &Claims{
		Claims: &jwt.Claims{
			Subject:   a.keyName,
			Issuer:    "cdp",
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(ttl)),
		},
		URI: fmt.Sprintf("%s %s%s", method, host, path),
	}
	if body != nil {
		h := sha256.Sum256(body)
		claims.ReqHash = hex.EncodeToString(h[:])
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWT: %w", err)
	}
	return token, nil
}
