package main

import (
	"fmt"
	"net/http"
	"os"

	httpx402 "github.com/Gate402/gate-fe-sub000/http"
	"github.com/Gate402/gate-fe-sub000/mcp"
	"github.com/Gate402/gate-fe-sub000/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMCPCmd(a *app) *cobra.Command {
	var (
		keys keyFlags
		addr string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the x402_fetch tool over MCP",
		Long: `Serve an MCP server with one tool, x402_fetch, which requests a URL and
pays for it with the configured signers. Without --addr the server speaks MCP
over stdin/stdout; with --addr it serves streamable HTTP on /mcp and
Prometheus metrics on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.MCP.Addr = addr
			}

			collector, err := metrics.New()
			if err != nil {
				return fmt.Errorf("failed to create metrics: %w", err)
			}

			client, closeSigners, err := a.newClient(cmd.Context(), keys, httpx402.WithPaymentCallbacks(collector.Callbacks()))
			if err != nil {
				return err
			}
			defer closeSigners()

			srv, err := mcp.NewServer("x402sandbox", version, client,
				mcp.WithLogger(a.logger),
				mcp.WithMaxBodyBytes(a.cfg.MCP.MaxBodyBytes))
			if err != nil {
				return err
			}

			if a.cfg.MCP.Addr == "" {
				a.logger.Info("serving MCP over stdio")
				return srv.ServeStdio(cmd.Context(), os.Stdin, os.Stdout)
			}

			mux := http.NewServeMux()
			mux.Handle("/mcp", srv.Handler())
			mux.Handle("/metrics", collector.Handler())
			a.logger.Info("serving MCP over HTTP", zap.String("addr", a.cfg.MCP.Addr))
			return listenAndServe(cmd.Context(), a.cfg.MCP.Addr, mux, a.logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "serve streamable HTTP on this address instead of stdio")
	cmd.Flags().StringVar(&keys.key, "key", "", "private key for an ad-hoc signer (hex for EVM, base58 for Solana)")
	cmd.Flags().StringVar(&keys.network, "network", "base-sepolia", "network of the ad-hoc signer")
	return cmd
}
