// Package metrics records payment handshake outcomes as Prometheus metrics.
package metrics

import (
	"net/http"

	x402 "github.com/Gate402/gate-fe-sub000"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "x402"

// Collector counts handshake events reported through payment callbacks.
type Collector struct {
	registry *prom.Registry

	attempts  *prom.CounterVec
	successes *prom.CounterVec
	failures  *prom.CounterVec
	duration  *prom.HistogramVec
}

// New creates a Collector with its own registry, which also carries the
// Go runtime and process collectors.
func New() (*Collector, error) {
	c := &Collector{
		registry: prom.NewRegistry(),
		attempts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "payment_attempts_total",
			Help:      "Signed payments sent, by network and scheme.",
		}, []string{"network", "scheme"}),
		successes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "payment_successes_total",
			Help:      "Paid requests accepted by the resource server.",
		}, []string{"network", "scheme"}),
		failures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "payment_failures_total",
			Help:      "Failed handshakes after requirements were received, by error code.",
		}, []string{"network", "code"}),
		duration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from the unpaid request to the final outcome.",
			Buckets:   prom.DefBuckets,
		}, []string{"outcome"}),
	}

	for _, collector := range []prom.Collector{
		c.attempts, c.successes, c.failures, c.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Callbacks returns attempt, success and failure callbacks in the order
// http.WithPaymentCallbacks takes them.
func (c *Collector) Callbacks() (onAttempt, onSuccess, onFailure x402.PaymentCallback) {
	onAttempt = func(e x402.PaymentEvent) {
		c.attempts.WithLabelValues(e.Network, e.Scheme).Inc()
	}
	onSuccess = func(e x402.PaymentEvent) {
		c.successes.WithLabelValues(e.Network, e.Scheme).Inc()
		c.duration.WithLabelValues("success").Observe(e.Duration.Seconds())
	}
	onFailure = func(e x402.PaymentEvent) {
		code := "UNKNOWN"
		if e.Error != nil {
			code = string(x402.Classify(e.Error))
		}
		c.failures.WithLabelValues(e.Network, code).Inc()
		c.duration.WithLabelValues("failure").Observe(e.Duration.Seconds())
	}
	return onAttempt, onSuccess, onFailure
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prom.Registry {
	return c.registry
}
