// Package redis connects go-redis clients with retries and exposes a
// readiness probe.
package redis
