package coinbase

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
)

// Wallet implements wallet.Wallet over one CDP account.
type Wallet struct {
	client  *Client
	account common.Address
}

// NewWallet resolves the CDP account called name (see EnsureAccount) and
// returns a wallet exposing it.
func NewWallet(ctx context.Context, client *Client, name string) (*Wallet, error) {
	account, err := client.EnsureAccount(ctx, name)
	if err != nil {
		return nil, err
	}
	client.logger.Debug("CDP account ready", zap.String("address", account.Address))
	return &Wallet{client: client, account: common.HexToAddress(account.Address)}, nil
}

// Accounts implements wallet.Wallet.
func (w *Wallet) Accounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{w.account}, nil
}

type signatureResponse struct {
	Signature string `json:"signature"`
}

// SignTypedData implements wallet.Wallet.
func (w *Wallet) SignTypedData(ctx context.Context, account common.Address, data apitypes.TypedData) ([]byte, error) {
	if account != w.account {
		return nil, fmt.Errorf("CDP wallet does not hold %s", account.Hex())
	}
	path := fmt.Sprintf("%s/%s/sign/typed-data", accountsPath, account.Hex())

	var resp signatureResponse
	if err := w.client.do(ctx, "POST", path, data, &resp, true); err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(resp.Signature)
	if err != nil {
		return nil, fmt.Errorf("CDP returned malformed signature: %w", err)
	}
	return sig, nil
}
