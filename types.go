package x402

// X402Version is the protocol version spoken by this module.
const X402Version = 2

// Header names used by the handshake.
const (
	// HeaderPaymentRequired carries the encoded PaymentRequired on a 402 response.
	HeaderPaymentRequired = "PAYMENT-REQUIRED"

	// HeaderPaymentSignature carries the encoded PaymentPayload on the paid retry.
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"

	// HeaderPaymentResponse carries the encoded SettleResponse on a paid 200 response.
	HeaderPaymentResponse = "PAYMENT-RESPONSE"
)

// SchemeExact is the only payment scheme the bundled signers produce.
const SchemeExact = "exact"

// PaymentRequirement represents a single payment option from a 402 response.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the CAIP-2 network identifier (e.g., "eip155:8453").
	Network string `json:"network"`

	// Amount is the payment amount in atomic units, as a decimal string.
	Amount string `json:"amount"`

	// Asset is the token contract address (EVM) or mint address (Solana).
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Extra contains scheme-specific additional data (EIP-712 domain name/version, feePayer, ...).
	// Decoded values keep their JSON types; numbers decode as json.Number.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// ResourceInfo describes the protected resource a PaymentRequired refers to.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequired is the decoded content of the PAYMENT-REQUIRED header.
type PaymentRequired struct {
	// X402Version is the protocol version.
	X402Version int `json:"x402Version"`

	// Error is an optional human-readable reason the server asked for payment.
	Error string `json:"error,omitempty"`

	// Resource identifies the protected resource.
	Resource ResourceInfo `json:"resource"`

	// Accepts lists the payment options in the server's order of preference.
	Accepts []PaymentRequirement `json:"accepts"`
}

// PaymentPayload is the signed proof sent in the PAYMENT-SIGNATURE header.
type PaymentPayload struct {
	// X402Version is the protocol version.
	X402Version int `json:"x402Version"`

	// Resource echoes the resource the proof was built for.
	Resource *ResourceInfo `json:"resource,omitempty"`

	// Accepted is the requirement this proof commits to.
	Accepted PaymentRequirement `json:"accepted"`

	// Payload contains the scheme-specific signed data.
	// For EVM: EVMPayload with signature and authorization
	// For Solana: SVMPayload with a partially signed transaction
	Payload interface{} `json:"payload"`
}

// TokenConfig represents configuration for a supported token.
type TokenConfig struct {
	// Address is the token contract address (EVM) or mint address (Solana).
	Address string

	// Symbol is the token symbol (e.g., "USDC").
	Symbol string

	// Decimals is the number of decimal places for the token.
	Decimals int

	// Priority is the token's priority level within the signer.
	// Lower numbers indicate higher priority (1 > 2 > 3).
	Priority int

	// Name is an optional human-readable token name.
	Name string
}

// EVMPayload represents an EVM payment with EIP-3009 authorization.
type EVMPayload struct {
	// Signature is the hex-encoded ECDSA signature.
	Signature string `json:"signature"`

	// Authorization contains the EIP-3009 transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization represents EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SVMPayload represents a Solana payment with a partially signed transaction.
type SVMPayload struct {
	// Transaction is the base64-encoded partially signed Solana transaction.
	Transaction string `json:"transaction"`
}

// SettleResponse is the decoded content of the PAYMENT-RESPONSE header.
type SettleResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides details if the payment failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the on-chain transaction identifier.
	Transaction string `json:"transaction"`

	// Network is the CAIP-2 network where the payment was settled.
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer"`
}

// FindMatchingRequirement returns the requirement a payment commits to.
// The accepted requirement must match one of the offered requirements on
// scheme, network, asset, payTo and amount.
func FindMatchingRequirement(payment PaymentPayload, requirements []PaymentRequirement) (*PaymentRequirement, error) {
	for i := range requirements {
		r := &requirements[i]
		if r.Scheme == payment.Accepted.Scheme &&
			r.Network == payment.Accepted.Network &&
			r.Asset == payment.Accepted.Asset &&
			r.PayTo == payment.Accepted.PayTo &&
			r.Amount == payment.Accepted.Amount {
			return r, nil
		}
	}
	return nil, NewPaymentError(ErrCodeNoAcceptablePaymentOption, "payment does not match any offered requirement", ErrNoAcceptablePaymentOption).
		WithDetails("network", payment.Accepted.Network).
		WithDetails("scheme", payment.Accepted.Scheme)
}
