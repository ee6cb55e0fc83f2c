package evm

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// clockSkew is subtracted from validAfter so a payer clock that runs ahead
// of the facilitator does not produce a not-yet-valid authorization.
const clockSkew = 10

// defaultValiditySeconds is used when a requirement carries no maxTimeoutSeconds.
const defaultValiditySeconds = 300

// Authorization holds the parameters of an EIP-3009 transferWithAuthorization.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       common.Hash
}

// Domain is the EIP-712 domain of a token contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewAuthorization creates an authorization with a fresh random nonce,
// valid from slightly before now until now+timeoutSeconds.
func NewAuthorization(from, to common.Address, value *big.Int, timeoutSeconds int) (*Authorization, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultValiditySeconds
	}

	now := time.Now().Unix()
	return &Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  big.NewInt(now - clockSkew),
		ValidBefore: big.NewInt(now + int64(timeoutSeconds)),
		Nonce:       nonce,
	}, nil
}

// DomainFor builds the token domain a requirement must be signed under.
// Name and version come from requirement.Extra and fall back to the chain table.
func DomainFor(requirement *x402.PaymentRequirement) (Domain, error) {
	chainID, err := x402.ChainID(requirement.Network)
	if err != nil {
		return Domain{}, x402.NewPaymentError(x402.ErrCodeUnsupportedNetwork, "requirement is not on an EVM network", x402.ErrUnsupportedNetwork).
			WithDetails("network", requirement.Network)
	}
	if !common.IsHexAddress(requirement.Asset) {
		return Domain{}, fmt.Errorf("asset %q is not an EVM address", requirement.Asset)
	}

	name, _ := requirement.Extra["name"].(string)
	version, _ := requirement.Extra["version"].(string)
	if name == "" || version == "" {
		chain, ok := x402.LookupChain(requirement.Network)
		if !ok || !strings.EqualFold(chain.USDCAddress, requirement.Asset) {
			return Domain{}, x402.NewPaymentError(x402.ErrCodeUnsupportedNetwork, "token domain unknown for asset", x402.ErrUnsupportedNetwork).
				WithDetails("network", requirement.Network).
				WithDetails("asset", requirement.Asset)
		}
		if name == "" {
			name = chain.EIP3009Name
		}
		if version == "" {
			version = chain.EIP3009Version
		}
	}

	return Domain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(requirement.Asset),
	}, nil
}

// TypedData returns the EIP-712 typed data for auth under domain. Its JSON
// form is what eth_signTypedData_v4 expects.
func TypedData(domain Domain, auth *Authorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       auth.Nonce.Hex(),
		},
	}
}

// Digest computes keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func Digest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// SignAuthorization signs auth under domain and returns a 0x-prefixed
// 65-byte signature with v in {27, 28}.
func SignAuthorization(privateKey *ecdsa.PrivateKey, domain Domain, auth *Authorization) (string, error) {
	digest, err := Digest(TypedData(domain, auth))
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to sign authorization", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// RecoverSigner returns the address that produced signature over auth under domain.
func RecoverSigner(domain Domain, auth *Authorization, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest, err := Digest(TypedData(domain, auth))
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ToPayload converts auth to its wire form.
func (a *Authorization) ToPayload() x402.EVMAuthorization {
	return x402.EVMAuthorization{
		From:        a.From.Hex(),
		To:          a.To.Hex(),
		Value:       a.Value.String(),
		ValidAfter:  a.ValidAfter.String(),
		ValidBefore: a.ValidBefore.String(),
		Nonce:       a.Nonce.Hex(),
	}
}

// ParseAuthorization converts the wire form of an authorization back into an Authorization.
func ParseAuthorization(p x402.EVMAuthorization) (*Authorization, error) {
	if !common.IsHexAddress(p.From) || !common.IsHexAddress(p.To) {
		return nil, fmt.Errorf("authorization has invalid from/to address")
	}

	value, ok := new(big.Int).SetString(p.Value, 10)
	if !ok {
		return nil, fmt.Errorf("%w: authorization value %q", x402.ErrInvalidAmount, p.Value)
	}
	validAfter, ok := new(big.Int).SetString(p.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("authorization validAfter %q is not an integer", p.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(p.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("authorization validBefore %q is not an integer", p.ValidBefore)
	}

	nonce, err := hex.DecodeString(strings.TrimPrefix(p.Nonce, "0x"))
	if err != nil || len(nonce) != common.HashLength {
		return nil, fmt.Errorf("authorization nonce %q is not 32 bytes of hex", p.Nonce)
	}

	return &Authorization{
		From:        common.HexToAddress(p.From),
		To:          common.HexToAddress(p.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       common.BytesToHash(nonce),
	}, nil
}

func generateNonce() (common.Hash, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(nonce[:]), nil
}
