package wallet

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/Gate402/gate-fe-sub000/retry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
)

// RPCWallet is a Wallet reached over Ethereum JSON-RPC, e.g. a local
// signer daemon or a wallet bridge exposing eth_accounts and
// eth_signTypedData_v4.
type RPCWallet struct {
	client *rpc.Client
	url    string
	logger *zap.Logger
}

// RPCOption configures Dial.
type RPCOption func(*rpcOptions)

type rpcOptions struct {
	retry  retry.Config
	logger *zap.Logger
}

// WithRetryConfig sets the backoff used while dialing.
func WithRetryConfig(config retry.Config) RPCOption {
	return func(o *rpcOptions) {
		o.retry = config
	}
}

// WithRPCLogger sets the logger.
func WithRPCLogger(logger *zap.Logger) RPCOption {
	return func(o *rpcOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Dial connects to the wallet endpoint at url (http, https, ws, wss or an
// IPC path), retrying transient failures.
func Dial(ctx context.Context, url string, opts ...RPCOption) (*RPCWallet, error) {
	o := rpcOptions{retry: retry.DefaultConfig, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With(zap.String("url", url))
	cfg := o.retry
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("wallet dial failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}

	client, err := retry.WithRetry(ctx, cfg, retry.Always, func(ctx context.Context) (*rpc.Client, error) {
		return rpc.DialContext(ctx, url)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial wallet at %s: %w", url, err)
	}

	logger.Debug("wallet connected")
	return &RPCWallet{client: client, url: url, logger: logger}, nil
}

// Accounts implements Wallet using eth_accounts.
func (w *RPCWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := w.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Connect asks the wallet to expose its accounts (eth_requestAccounts),
// which may prompt the user. Only the CLI calls it; the payment client
// never changes wallet state.
func (w *RPCWallet) Connect(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := w.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, err
	}
	w.logger.Info("wallet accounts connected", zap.Int("count", len(accounts)))
	return accounts, nil
}

// ChainID returns the chain the wallet is currently on (eth_chainId).
func (w *RPCWallet) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := w.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

// SignTypedData implements Wallet using eth_signTypedData_v4.
func (w *RPCWallet) SignTypedData(ctx context.Context, account common.Address, data apitypes.TypedData) ([]byte, error) {
	var sig hexutil.Bytes
	if err := w.client.CallContext(ctx, &sig, "eth_signTypedData_v4", account, data); err != nil {
		return nil, err
	}
	return sig, nil
}

// Close closes the underlying connection.
func (w *RPCWallet) Close() {
	w.client.Close()
}
