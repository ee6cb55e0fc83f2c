package helpers

import (
	"fmt"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"go.uber.org/zap"
)

func getPayerWithSolana(payment x402.PaymentPayload, logger *zap.Logger) (string, error) {
	var encoded string
	switch p := payment.Payload.(type) {
	case x402.SVMPayload:
		encoded = p.Transaction
	case *x402.SVMPayload:
		encoded = p.Transaction
	case map[string]interface{}:
		s, ok := p["transaction"].(string)
		if !ok {
			return "", fmt.Errorf("transaction not found in payload")
		}
		encoded = s
	default:
		return "", fmt.Errorf("invalid payload type %T", payment.Payload)
	}

	tx, err := solana.TransactionFromBase64(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode transaction: %w", err)
	}

	for _, inst := range tx.Message.Instructions {
		prog, err := tx.Message.ResolveProgramIDIndex(inst.ProgramIDIndex)
		if err != nil {
			logger.Debug("failed to resolve program ID index", zap.Uint16("index", inst.ProgramIDIndex), zap.Error(err))
			continue
		}
		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			logger.Debug("failed to resolve instruction accounts", zap.Uint16("index", inst.ProgramIDIndex), zap.Error(err))
			continue
		}

		switch {
		case prog.Equals(solana.SystemProgramID):
			ix, err := system.DecodeInstruction(accounts, inst.Data)
			if err != nil {
				continue
			}
			if t, ok := ix.Impl.(*system.Transfer); ok {
				return t.GetFundingAccount().PublicKey.String(), nil
			}
		case prog.Equals(solana.TokenProgramID):
			ix, err := token.DecodeInstruction(accounts, inst.Data)
			if err != nil {
				logger.Debug("failed to decode token instruction", zap.Error(err))
				continue
			}
			switch t := ix.Impl.(type) {
			case *token.Transfer:
				return t.GetOwnerAccount().PublicKey.String(), nil
			case *token.TransferChecked:
				return t.GetOwnerAccount().PublicKey.String(), nil
			}
		}
	}
	return "", nil
}
