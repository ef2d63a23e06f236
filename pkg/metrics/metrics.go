package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/prolessons/pkg/billing"
)

const namespace = "billing"

// Metrics holds the billing collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	checkouts *prometheus.CounterVec
	webhooks  *prometheus.CounterVec
	revenue   *prometheus.CounterVec
	breaker   *prometheus.GaugeVec
}

// New registers the billing collectors with reg. A nil reg uses a fresh
// registry that also carries the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		gatherer: reg,
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout lifecycle transitions by provider, payment kind and stage.",
		}, []string{"provider", "kind", "stage"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by provider and outcome (applied/ignored/rejected).",
		}, []string{"provider", "outcome"}),
		revenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revenue_minor_units_total",
			Help:      "Amount of payments that granted PRO access, in minor units, by currency.",
		}, []string{"currency"}),
		breaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_breaker_open",
			Help:      "1 when the provider circuit breaker is open, 0.5 when half-open, 0 when closed.",
		}, []string{"provider"}),
	}
	reg.MustRegister(m.checkouts, m.webhooks, m.revenue, m.breaker)
	return m
}

// Observer records checkout and webhook lifecycle points.
func (m *Metrics) Observer() billing.Observer {
	return func(_ context.Context, l billing.Lifecycle) {
		provider := norm(string(l.Provider))
		switch l.Stage {
		case billing.StageCheckoutOpened, billing.StageCheckoutInProgress,
			billing.StageCheckoutSucceeded, billing.StageCheckoutFailed:
			m.checkouts.WithLabelValues(provider, norm(string(l.Kind)), string(l.Stage)).Inc()
		case billing.StageWebhookApplied:
			m.webhooks.WithLabelValues(provider, "applied").Inc()
			if l.Amount > 0 {
				m.revenue.WithLabelValues(norm(l.Currency)).Add(float64(l.Amount))
			}
		case billing.StageWebhookIgnored:
			m.webhooks.WithLabelValues(provider, "ignored").Inc()
		case billing.StageWebhookRejected:
			m.webhooks.WithLabelValues(provider, "rejected").Inc()
		}
	}
}

// BreakerStateChanged records a provider circuit breaker transition.
func (m *Metrics) BreakerStateChanged(provider billing.ProviderName, state string) {
	v := 0.0
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 0.5
	}
	m.breaker.WithLabelValues(norm(string(provider))).Set(v)
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func norm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
