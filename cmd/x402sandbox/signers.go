package main

import (
	"context"
	"fmt"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/Gate402/gate-fe-sub000/config"
	"github.com/Gate402/gate-fe-sub000/evm"
	"github.com/Gate402/gate-fe-sub000/signers/coinbase"
	"github.com/Gate402/gate-fe-sub000/svm"
	"github.com/Gate402/gate-fe-sub000/wallet"
	"go.uber.org/zap"
)

// buildSigners constructs every configured signer. The returned close
// function releases wallet connections.
func buildSigners(ctx context.Context, cfgs []config.SignerConfig, logger *zap.Logger) ([]x402.Signer, func(), error) {
	var (
		signers []x402.Signer
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for i := range cfgs {
		cfg := &cfgs[i]
		var (
			signer x402.Signer
			err    error
		)
		switch cfg.Type {
		case config.SignerEVM:
			signer, err = buildEVMSigner(cfg)
		case config.SignerSVM:
			signer, err = buildSVMSigner(cfg)
		case config.SignerWallet:
			var w *wallet.RPCWallet
			w, err = wallet.Dial(ctx, cfg.WalletURL, wallet.WithRPCLogger(logger))
			if err == nil {
				closers = append(closers, w.Close)
				if cfg.RequestAccounts {
					_, err = w.Connect(ctx)
				}
			}
			if err == nil {
				signer, err = buildWalletSigner(ctx, w, cfg, logger)
			}
		case config.SignerCDP:
			var w *coinbase.Wallet
			w, err = dialCDP(ctx, cfg, logger)
			if err == nil {
				signer, err = buildWalletSigner(ctx, w, cfg, logger)
			}
		default:
			err = fmt.Errorf("unknown signer type %q", cfg.Type)
		}
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("signers[%d] (%s on %s): %w", i, cfg.Type, cfg.Network, err)
		}

		logger.Info("signer ready",
			zap.String("type", cfg.Type),
			zap.String("network", signer.Network()),
			zap.String("address", signer.Address()),
			zap.Int("priority", signer.GetPriority()))
		signers = append(signers, signer)
	}
	return signers, closeAll, nil
}

func buildEVMSigner(cfg *config.SignerConfig) (*evm.Signer, error) {
	opts := []evm.SignerOption{evm.WithNetwork(cfg.Network), evm.WithPriority(cfg.Priority)}

	key, err := cfg.ResolvePrivateKey()
	if err != nil {
		return nil, err
	}
	switch {
	case key != "":
		opts = append(opts, evm.WithPrivateKey(key))
	case cfg.Keystore != "":
		opts = append(opts, evm.WithKeystore(cfg.Keystore, cfg.ResolveKeystorePassword()))
	case cfg.Mnemonic != "":
		opts = append(opts, evm.WithMnemonic(cfg.Mnemonic, cfg.AccountIndex))
	}

	if _, ok := x402.LookupChain(cfg.Network); ok {
		opts = append(opts, evm.WithUSDC(1))
	}
	for _, t := range cfg.Tokens {
		opts = append(opts, evm.WithTokenPriority(t.Address, t.Symbol, t.Decimals, t.Priority))
	}
	if cfg.MaxAmountPerCall != "" {
		opts = append(opts, evm.WithMaxAmountPerCall(cfg.MaxAmountPerCall))
	}
	return evm.NewSigner(opts...)
}

func buildSVMSigner(cfg *config.SignerConfig) (*svm.Signer, error) {
	opts := []svm.SignerOption{svm.WithNetwork(cfg.Network), svm.WithPriority(cfg.Priority)}

	key, err := cfg.ResolvePrivateKey()
	if err != nil {
		return nil, err
	}
	if key != "" {
		opts = append(opts, svm.WithPrivateKey(key))
	} else {
		opts = append(opts, svm.WithKeygenFile(cfg.KeygenFile))
	}

	if chain, ok := x402.LookupChain(cfg.Network); ok {
		opts = append(opts, svm.WithTokenPriority(chain.USDCAddress, "USDC", int(chain.Decimals), 1))
	}
	for _, t := range cfg.Tokens {
		opts = append(opts, svm.WithTokenPriority(t.Address, t.Symbol, t.Decimals, t.Priority))
	}
	if cfg.MaxAmountPerCall != "" {
		opts = append(opts, svm.WithMaxAmountPerCall(cfg.MaxAmountPerCall))
	}
	return svm.NewSigner(opts...)
}

func buildWalletSigner(ctx context.Context, w wallet.Wallet, cfg *config.SignerConfig, logger *zap.Logger) (*wallet.Signer, error) {
	opts := []wallet.SignerOption{
		wallet.WithNetwork(cfg.Network),
		wallet.WithPriority(cfg.Priority),
		wallet.WithLogger(logger),
	}
	if cfg.Account != "" {
		opts = append(opts, wallet.WithAccount(cfg.Account))
	}
	if _, ok := x402.LookupChain(cfg.Network); ok {
		opts = append(opts, wallet.WithUSDC(1))
	}
	for _, t := range cfg.Tokens {
		opts = append(opts, wallet.WithTokenPriority(t.Address, t.Symbol, t.Decimals, t.Priority))
	}
	if cfg.MaxAmountPerCall != "" {
		opts = append(opts, wallet.WithMaxAmountPerCall(cfg.MaxAmountPerCall))
	}
	return wallet.NewSigner(ctx, w, opts...)
}

func dialCDP(ctx context.Context, cfg *config.SignerConfig, logger *zap.Logger) (*coinbase.Wallet, error) {
	keyName, keySecret, walletSecret, err := cfg.CDP.Credentials()
	if err != nil {
		return nil, err
	}
	auth, err := coinbase.NewAuth(keyName, keySecret, walletSecret)
	if err != nil {
		return nil, err
	}
	opts := []coinbase.Option{coinbase.WithLogger(logger)}
	if cfg.CDP.BaseURL != "" {
		opts = append(opts, coinbase.WithBaseURL(cfg.CDP.BaseURL))
	}
	client, err := coinbase.NewClient(auth, opts...)
	if err != nil {
		return nil, err
	}
	return coinbase.NewWallet(ctx, client, cfg.CDP.AccountName)
}
