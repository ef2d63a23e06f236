// Package metrics exports billing checkout, webhook and circuit breaker
// metrics to Prometheus.
package metrics
