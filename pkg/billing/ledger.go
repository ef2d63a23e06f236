package billing

import (
	"context"
	"sync"
	"time"
)

// EventLedger remembers which webhook events were already processed.
type EventLedger interface {
	// Claim records the event and reports whether this is its first delivery.
	Claim(ctx context.Context, provider ProviderName, eventID string) (bool, error)
	// Release forgets a claim so a redelivery is processed again.
	Release(ctx context.Context, provider ProviderName, eventID string) error
}

// MemoryLedger is an in-process EventLedger with per-entry expiry.
type MemoryLedger struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryLedger creates a MemoryLedger. A non-positive ttl keeps entries forever.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryLedger) Claim(ctx context.Context, provider ProviderName, eventID string) (bool, error) {
	key := LedgerKey(provider, eventID)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if exp, ok := l.entries[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}
	var exp time.Time
	if l.ttl > 0 {
		exp = now.Add(l.ttl)
	}
	l.entries[key] = exp
	return true, nil
}

func (l *MemoryLedger) Release(ctx context.Context, provider ProviderName, eventID string) error {
	l.mu.Lock()
	delete(l.entries, LedgerKey(provider, eventID))
	l.mu.Unlock()
	return nil
}

// LedgerKey is the storage key of a processed event.
func LedgerKey(provider ProviderName, eventID string) string {
	return "billing:webhook:" + string(provider) + ":" + eventID
}
