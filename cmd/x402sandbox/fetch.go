package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	x402 "github.com/Gate402/gate-fe-sub000"
	httpx402 "github.com/Gate402/gate-fe-sub000/http"
	"github.com/spf13/cobra"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		keys    keyFlags
		method  string
		data    string
		headers []string
		strict  bool
	)

	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Request a resource, paying for it if the server answers 402",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strict {
				a.cfg.Client.StrictSettlement = true
			}

			req, err := newFetchRequest(cmd, args[0], method, data, headers)
			if err != nil {
				return err
			}

			client, closeSigners, err := a.newClient(cmd.Context(), keys, httpx402.WithPaymentCallback(x402.PaymentEventAttempt, func(e x402.PaymentEvent) {
				fmt.Fprintf(cmd.ErrOrStderr(), "paying %s on %s to %s\n", describeAmount(e.Amount, e.Asset, e.Network), e.Network, e.Recipient)
			}))
			if err != nil {
				return err
			}
			defer closeSigners()

			result, err := client.Execute(cmd.Context(), req)
			printSteps(cmd.ErrOrStderr(), result)
			if err != nil {
				var pe *x402.PaymentError
				if errors.As(err, &pe) && len(pe.Body) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "response body:\n%s\n", pe.Body)
				}
				return err
			}
			defer result.Response.Body.Close()

			if s := result.Settlement; s != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "settled: transaction=%s network=%s payer=%s\n", s.Transaction, s.Network, s.Payer)
			} else if result.SettlementErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", result.SettlementErr)
			}

			_, err = io.Copy(cmd.OutOrStdout(), result.Response.Body)
			return err
		},
	}

	cmd.Flags().StringVarP(&method, "request", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `extra header as "Name: value" (repeatable)`)
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when the settlement header is missing or invalid")
	cmd.Flags().StringVar(&keys.key, "key", "", "private key for an ad-hoc signer (hex for EVM, base58 for Solana)")
	cmd.Flags().StringVar(&keys.network, "network", "base-sepolia", "network of the ad-hoc signer")
	return cmd
}

func newFetchRequest(cmd *cobra.Command, url, method, data string, headers []string) (*http.Request, error) {
	var body io.Reader
	if data != "" {
		body = strings.NewReader(data)
	}
	req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(method), url, body)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return req, nil
}

func printSteps(w io.Writer, result *httpx402.Result) {
	if result == nil {
		return
	}
	for _, step := range result.Steps {
		fmt.Fprintf(w, "%s  %-26s %s\n", step.At.Format("15:04:05.000"), step.State, step.Message)
	}
}

// describeAmount renders USDC amounts in whole units and anything else in
// atomic units of the asset.
func describeAmount(amount, asset, network string) string {
	if chain, ok := x402.LookupChain(network); ok && strings.EqualFold(chain.USDCAddress, asset) {
		return fmt.Sprintf("%s USDC (%s atomic units)", x402.FormatAmount(amount, int(chain.Decimals)), amount)
	}
	return fmt.Sprintf("%s atomic units of %s", amount, asset)
}
