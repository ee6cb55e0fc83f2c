// Package encoding encodes and decodes the three x402 header values:
// PAYMENT-REQUIRED, PAYMENT-SIGNATURE and PAYMENT-RESPONSE.
// Every value is standard base64 of compact JSON.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	x402 "github.com/Gate402/gate-fe-sub000"
)

// EncodeRequired converts a PaymentRequired to a PAYMENT-REQUIRED header value.
func EncodeRequired(required x402.PaymentRequired) (string, error) {
	return encode(required, "requirements")
}

// DecodeRequired converts a PAYMENT-REQUIRED header value to a PaymentRequired.
//
// The accepts field may be a single object or an array; either way the
// result holds at least one requirement. Returns x402.ErrMalformedHeader when
// the value is not base64 JSON or lacks resource/accepts, and
// x402.ErrEmptyRequirements when accepts is empty.
func DecodeRequired(raw string) (x402.PaymentRequired, error) {
	var required x402.PaymentRequired

	data, err := decodeBase64(raw)
	if err != nil {
		return required, err
	}

	var wire struct {
		X402Version int              `json:"x402Version"`
		Error       string           `json:"error,omitempty"`
		Resource    *json.RawMessage `json:"resource"`
		Accepts     json.RawMessage  `json:"accepts"`
	}
	if err := unmarshal(data, &wire); err != nil {
		return required, malformed("failed to unmarshal requirements", err)
	}
	if wire.Resource == nil {
		return required, malformed("requirements missing resource", nil)
	}
	if len(wire.Accepts) == 0 {
		return required, malformed("requirements missing accepts", nil)
	}

	var resource x402.ResourceInfo
	if err := unmarshal(*wire.Resource, &resource); err != nil {
		return required, malformed("failed to unmarshal resource", err)
	}

	accepts, err := decodeAccepts(wire.Accepts)
	if err != nil {
		return required, err
	}

	required = x402.PaymentRequired{
		X402Version: wire.X402Version,
		Error:       wire.Error,
		Resource:    resource,
		Accepts:     accepts,
	}
	return required, nil
}

// decodeAccepts normalizes a single requirement object or an array of them.
func decodeAccepts(raw json.RawMessage) ([]x402.PaymentRequirement, error) {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, x402.NewPaymentError(x402.ErrCodeEmptyRequirements, "accepts is null", x402.ErrEmptyRequirements)
	}

	var accepts []x402.PaymentRequirement
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var single x402.PaymentRequirement
		if err := unmarshal(trimmed, &single); err != nil {
			return nil, malformed("failed to unmarshal accepts", err)
		}
		accepts = []x402.PaymentRequirement{single}
	} else if err := unmarshal(trimmed, &accepts); err != nil {
		return nil, malformed("failed to unmarshal accepts", err)
	}

	if len(accepts) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeEmptyRequirements, "accepts is empty", x402.ErrEmptyRequirements)
	}
	return accepts, nil
}

// EncodePayment converts a PaymentPayload to a PAYMENT-SIGNATURE header value.
func EncodePayment(payment x402.PaymentPayload) (string, error) {
	return encode(payment, "payment")
}

// DecodePayment converts a PAYMENT-SIGNATURE header value to a PaymentPayload.
//
// The scheme-specific payload is decoded into the type the accepted
// network's family uses: x402.EVMPayload for eip155 networks and
// x402.SVMPayload for solana networks. Payloads for other networks are kept
// as generic JSON values.
func DecodePayment(raw string) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload

	data, err := decodeBase64(raw)
	if err != nil {
		return payment, err
	}

	var wire struct {
		X402Version int                     `json:"x402Version"`
		Resource    *x402.ResourceInfo      `json:"resource,omitempty"`
		Accepted    x402.PaymentRequirement `json:"accepted"`
		Payload     json.RawMessage         `json:"payload"`
	}
	if err := unmarshal(data, &wire); err != nil {
		return payment, malformed("failed to unmarshal payment", err)
	}
	if wire.Accepted.Scheme == "" || wire.Accepted.Network == "" {
		return payment, malformed("payment missing accepted requirement", nil)
	}

	payload, err := decodeSchemePayload(wire.Accepted.Network, wire.Payload)
	if err != nil {
		return payment, err
	}

	payment = x402.PaymentPayload{
		X402Version: wire.X402Version,
		Resource:    wire.Resource,
		Accepted:    wire.Accepted,
		Payload:     payload,
	}
	return payment, nil
}

func decodeSchemePayload(network string, raw json.RawMessage) (interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	netType, _ := x402.ValidateNetwork(network)
	switch netType {
	case x402.NetworkTypeEVM:
		var p x402.EVMPayload
		if err := unmarshal(trimmed, &p); err != nil {
			return nil, malformed("failed to unmarshal EVM payload", err)
		}
		return p, nil
	case x402.NetworkTypeSVM:
		var p x402.SVMPayload
		if err := unmarshal(trimmed, &p); err != nil {
			return nil, malformed("failed to unmarshal SVM payload", err)
		}
		return p, nil
	default:
		var p interface{}
		if err := unmarshal(trimmed, &p); err != nil {
			return nil, malformed("failed to unmarshal payload", err)
		}
		return p, nil
	}
}

// EncodeSettlement converts a SettleResponse to a PAYMENT-RESPONSE header value.
func EncodeSettlement(settlement x402.SettleResponse) (string, error) {
	return encode(settlement, "settlement")
}

// DecodeSettlement converts a PAYMENT-RESPONSE header value to a SettleResponse.
//
// The value must be a JSON object. A receipt without a success field is a
// successful settlement, and a successful settlement must name its
// transaction.
func DecodeSettlement(raw string) (x402.SettleResponse, error) {
	var settlement x402.SettleResponse

	data, err := decodeBase64(raw)
	if err != nil {
		return settlement, err
	}

	var wire struct {
		Success     *bool  `json:"success"`
		ErrorReason string `json:"errorReason"`
		Transaction string `json:"transaction"`
		Network     string `json:"network"`
		Payer       string `json:"payer"`
	}
	if err := unmarshal(data, &wire); err != nil {
		return settlement, malformed("failed to unmarshal settlement", err)
	}

	settlement = x402.SettleResponse{
		Success:     wire.Success == nil || *wire.Success,
		ErrorReason: wire.ErrorReason,
		Transaction: wire.Transaction,
		Network:     wire.Network,
		Payer:       wire.Payer,
	}
	if settlement.Success && settlement.Transaction == "" {
		return x402.SettleResponse{}, malformed("settlement missing transaction", nil)
	}
	return settlement, nil
}

// DecodeEVMPayload converts the scheme-specific payload of an EVM payment
// into an EVMPayload, whether it is already typed or a decoded JSON map.
func DecodeEVMPayload(payload interface{}) (x402.EVMPayload, error) {
	var evmPayload x402.EVMPayload
	switch p := payload.(type) {
	case x402.EVMPayload:
		return p, nil
	case *x402.EVMPayload:
		return *p, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return evmPayload, malformed("failed to marshal evm payload", err)
	}
	if err := json.Unmarshal(data, &evmPayload); err != nil {
		return evmPayload, malformed("failed to unmarshal evm payload", err)
	}
	if evmPayload.Signature == "" {
		return evmPayload, malformed("evm payload missing signature", nil)
	}
	return evmPayload, nil
}

func encode(v interface{}, what string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// unmarshal decodes JSON keeping numbers as json.Number, so numeric Extra
// values survive a decode and re-encode unchanged.
func unmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func decodeBase64(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, malformed("empty header value", nil)
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, malformed("failed to decode base64", err)
	}
	return data, nil
}

func malformed(message string, err error) *x402.PaymentError {
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	return x402.NewPaymentError(x402.ErrCodeMalformedHeader, message, x402.ErrMalformedHeader)
}
