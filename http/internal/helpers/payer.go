package helpers

import (
	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/Gate402/gate-fe-sub000/encoding"
	"go.uber.org/zap"
)

// GetPayer extracts the paying address from a proof without verifying it.
// It returns "" when the payload does not name a payer.
func GetPayer(payment x402.PaymentPayload, logger *zap.Logger) string {
	netType, err := x402.ValidateNetwork(payment.Accepted.Network)
	if err != nil {
		return ""
	}

	switch netType {
	case x402.NetworkTypeEVM:
		evmPayload, err := encoding.DecodeEVMPayload(payment.Payload)
		if err != nil {
			logger.Debug("failed to decode evm payload", zap.Error(err))
			return ""
		}
		return evmPayload.Authorization.From
	case x402.NetworkTypeSVM:
		payer, err := getPayerWithSolana(payment, logger)
		if err != nil {
			logger.Debug("failed to get payer with solana", zap.Error(err))
			return ""
		}
		return payer
	default:
		return ""
	}
}
