package chi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	x402 "github.com/Gate402/gate-fe-sub000"
	"github.com/Gate402/gate-fe-sub000/encoding"
	"github.com/Gate402/gate-fe-sub000/evm"
	"github.com/Gate402/gate-fe-sub000/facilitator"
	httpx402 "github.com/Gate402/gate-fe-sub000/http"
	"github.com/go-chi/chi/v5"
)

func testConfig(t *testing.T) *httpx402.Config {
	t.Helper()
	req, err := x402.NewUSDCPaymentRequirement(x402.USDCRequirementConfig{
		Chain:            x402.BaseSepolia,
		Amount:           "0.01",
		RecipientAddress: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
	})
	if err != nil {
		t.Fatalf("failed to build requirement: %v", err)
	}
	return &httpx402.Config{
		Facilitator:         facilitator.NewLocal(),
		PaymentRequirements: []x402.PaymentRequirement{req},
	}
}

func newRouter(t *testing.T, config *httpx402.Config) *chi.Mux {
	t.Helper()
	mw, err := NewChiX402Middleware(config)
	if err != nil {
		t.Fatalf("failed to create middleware: %v", err)
	}
	r := chi.NewRouter()
	r.Use(mw)
	r.Get("/protected", func(w http.ResponseWriter, r *http.Request) {
		payment, ok := httpx402.PaymentFromContext(r.Context())
		if !ok {
			t.Error("expected payment in context")
			return
		}
		w.Write([]byte(payment.Verification.Payer))
	})
	return r
}

func TestNewChiX402Middleware_InvalidConfig(t *testing.T) {
	if _, err := NewChiX402Middleware(&httpx402.Config{}); err == nil {
		t.Fatal("expected error for config without requirements")
	}
}

func TestChiMiddleware_MissingPayment(t *testing.T) {
	r := newRouter(t, testConfig(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/protected", nil))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if _, err := encoding.DecodeRequired(rec.Header().Get(x402.HeaderPaymentRequired)); err != nil {
		t.Errorf("PAYMENT-REQUIRED does not decode: %v", err)
	}
}

func TestChiMiddleware_OptionsBypass(t *testing.T) {
	mw, err := NewChiX402Middleware(testConfig(t))
	if err != nil {
		t.Fatalf("failed to create middleware: %v", err)
	}
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("OPTIONS", "/protected", nil))
	if !called {
		t.Error("expected OPTIONS to bypass the gate")
	}
}

func TestChiMiddleware_PaidRequest(t *testing.T) {
	srv := httptest.NewServer(newRouter(t, testConfig(t)))
	defer srv.Close()

	signer, err := evm.NewSigner(
		evm.WithPrivateKey("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"),
		evm.WithNetwork("base-sepolia"),
		evm.WithUSDC(1),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	c, err := httpx402.NewClient(httpx402.WithSigner(signer))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	result, err := c.Get(context.Background(), srv.URL+"/protected")
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	defer result.Response.Body.Close()

	if result.Settlement == nil || !result.Settlement.Success {
		t.Errorf("expected settlement, got %+v", result.Settlement)
	}
	body, _ := io.ReadAll(result.Response.Body)
	if string(body) != signer.Address() {
		t.Errorf("expected payer %s in body, got %q", signer.Address(), body)
	}
}
