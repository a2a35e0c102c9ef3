package ledger

import (
	"context"
	"sync"
)

// InMemoryLedger is a thread-safe, process-local Ledger.
type InMemoryLedger struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewInMemoryLedger creates an empty in-memory ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{counts: make(map[string]int64)}
}

// Record increments the delivery count of a message.
func (l *InMemoryLedger) Record(_ context.Context, subscription, messageID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(subscription, messageID)
	l.counts[k]++
	return l.counts[k], nil
}

// Count returns the delivery count of a message.
func (l *InMemoryLedger) Count(_ context.Context, subscription, messageID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[key(subscription, messageID)], nil
}

// Close is a no-op.
func (l *InMemoryLedger) Close() error { return nil }
