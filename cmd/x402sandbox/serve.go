package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/Gate402/gate-fe-sub000/config"
	"github.com/Gate402/gate-fe-sub000/facilitator"
	httpx402 "github.com/Gate402/gate-fe-sub000/http"
	chix402 "github.com/Gate402/gate-fe-sub000/http/chi"
	ginx402 "github.com/Gate402/gate-fe-sub000/http/gin"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// serveFlags override the serve section of the config file.
type serveFlags struct {
	addr           string
	payTo          string
	amount         string
	network        string
	router         string
	facilitatorURL string
	verifyOnly     bool
}

func (o serveFlags) apply(cmd *cobra.Command, cfg config.ServeConfig) config.ServeConfig {
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("addr", &cfg.Addr, o.addr)
	set("pay-to", &cfg.PayTo, o.payTo)
	set("amount", &cfg.Amount, o.amount)
	set("network", &cfg.Network, o.network)
	set("router", &cfg.Router, o.router)
	set("facilitator", &cfg.FacilitatorURL, o.facilitatorURL)
	if cmd.Flags().Changed("verify-only") {
		cfg.VerifyOnly = o.verifyOnly
	}
	return cfg
}

func newServeCmd(a *app) *cobra.Command {
	var o serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a sandbox resource server that demands x402 payment",
		Long: `Run a sandbox resource server. GET /health is free; GET /paid costs the
configured amount of USDC. Without a facilitator URL proofs are verified and
settled in-process, so no funds move.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serve := o.apply(cmd, a.cfg.Serve)
			if serve.PayTo == "" {
				payTo, err := ephemeralPayee(serve.Network)
				if err != nil {
					return err
				}
				serve.PayTo = payTo
				a.logger.Warn("no payTo configured, using an ephemeral address", zap.String("payTo", payTo))
			}

			handler, req, err := newSandboxHandler(serve, a.cfg.Client.Timeouts.TimeoutConfig(), a.logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "serving on %s (%s router): /paid costs %s USDC on %s, payTo %s\n",
				serve.Addr, serve.Router, serve.Amount, req.Network, req.PayTo)
			return listenAndServe(cmd.Context(), serve.Addr, handler, a.logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", "", "listen address")
	f.StringVar(&o.payTo, "pay-to", "", "recipient address")
	f.StringVar(&o.amount, "amount", "", "price in USDC, e.g. 0.01")
	f.StringVar(&o.network, "network", "", "network short name, e.g. base-sepolia")
	f.StringVar(&o.router, "router", "", "router to serve with: chi or gin")
	f.StringVar(&o.facilitatorURL, "facilitator", "", "remote facilitator URL (default in-process)")
	f.BoolVar(&o.verifyOnly, "verify-only", false, "verify proofs without settling")
	return cmd
}

// newSandboxHandler builds the sandbox router for cfg.
func newSandboxHandler(cfg config.ServeConfig, timeouts x402.TimeoutConfig, logger *zap.Logger) (http.Handler, x402.PaymentRequirement, error) {
	req, err := cfg.Requirement()
	if err != nil {
		return nil, x402.PaymentRequirement{}, err
	}

	gateConfig := &httpx402.Config{
		PaymentRequirements: []x402.PaymentRequirement{req},
		Description:         cfg.Description,
		MimeType:            "application/json",
		VerifyOnly:          cfg.VerifyOnly,
		Timeouts:            timeouts,
		Logger:              logger,
	}
	if cfg.FacilitatorURL != "" {
		gateConfig.FacilitatorURL = cfg.FacilitatorURL
	} else {
		gateConfig.Facilitator = facilitator.NewLocal(facilitator.WithLocalLogger(logger))
	}

	switch cfg.Router {
	case config.RouterGin:
		h, err := ginRouter(gateConfig)
		return h, req, err
	default:
		h, err := chiRouter(gateConfig)
		return h, req, err
	}
}

func chiRouter(gateConfig *httpx402.Config) (http.Handler, error) {
	mw, err := chix402.NewChiX402Middleware(gateConfig)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Group(func(r chi.Router) {
		r.Use(mw)
		r.Get("/paid", func(w http.ResponseWriter, r *http.Request) {
			payment, _ := httpx402.PaymentFromContext(r.Context())
			writeJSON(w, paidBody(payment))
		})
	})
	return r, nil
}

func ginRouter(gateConfig *httpx402.Config) (http.Handler, error) {
	mw, err := ginx402.NewGinX402Middleware(gateConfig)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/paid", mw, func(c *gin.Context) {
		payment, _ := c.MustGet(ginx402.PaymentKey).(*httpx402.Payment)
		c.JSON(http.StatusOK, paidBody(payment))
	})
	return r, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func paidBody(payment *httpx402.Payment) map[string]string {
	body := map[string]string{"message": "paid content"}
	if payment != nil && payment.Verification != nil {
		body["payer"] = payment.Verification.Payer
	}
	return body
}

// ephemeralPayee generates a throwaway recipient for EVM networks.
func ephemeralPayee(network string) (string, error) {
	chain, ok := x402.LookupChain(network)
	if !ok || chain.Type() != x402.NetworkTypeEVM {
		return "", fmt.Errorf("serve.payTo is required on %s", network)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate payee: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// listenAndServe serves handler until ctx is done, then shuts down gracefully.
func listenAndServe(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
