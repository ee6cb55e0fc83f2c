package main

import (
	"context"
	"errors"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/Gate402/gate-fe-sub000/config"
	httpx402 "github.com/Gate402/gate-fe-sub000/http"
)

// keyFlags adds an ad-hoc signer on top of the configured ones.
type keyFlags struct {
	key     string
	network string
}

func (f keyFlags) signer() (config.SignerConfig, bool) {
	if f.key == "" {
		return config.SignerConfig{}, false
	}
	s := config.SignerConfig{Type: config.SignerEVM, Network: f.network, PrivateKey: f.key}
	if t, err := x402.ValidateNetwork(x402.NormalizeNetwork(f.network)); err == nil && t == x402.NetworkTypeSVM {
		s.Type = config.SignerSVM
	}
	return s, true
}

// newClient builds a payment client from the configuration plus flags.
func (a *app) newClient(ctx context.Context, keys keyFlags, opts ...httpx402.ClientOption) (*httpx402.Client, func(), error) {
	cfgs := append([]config.SignerConfig(nil), a.cfg.Signers...)
	if s, ok := keys.signer(); ok {
		cfgs = append(cfgs, s)
	}
	if len(cfgs) == 0 {
		return nil, nil, errors.New("no signers configured: add signers to the config file or pass --key")
	}

	signers, closeSigners, err := buildSigners(ctx, cfgs, a.logger)
	if err != nil {
		return nil, nil, err
	}

	base := []httpx402.ClientOption{
		httpx402.WithLogger(a.logger),
		httpx402.WithTimeouts(a.cfg.Client.Timeouts.TimeoutConfig()),
	}
	if a.cfg.Client.Selector == config.SelectorCheapest {
		base = append(base, httpx402.WithSelector(&x402.CheapestPaymentSelector{}))
	}
	if a.cfg.Client.StrictSettlement {
		base = append(base, httpx402.WithStrictSettlement())
	}
	for _, s := range signers {
		base = append(base, httpx402.WithSigner(s))
	}

	client, err := httpx402.NewClient(append(base, opts...)...)
	if err != nil {
		closeSigners()
		return nil, nil, err
	}
	return client, closeSigners, nil
}
