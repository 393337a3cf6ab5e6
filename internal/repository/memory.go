package repository

import (
	"context"
	"sync"
	"time"

	"gearshare/internal/domain"
)

type ledgerEntry struct {
	done      bool
	expiresAt time.Time
}

// MemoryOperationLedger is the single-process ledger used when Redis is not
// configured. Keys do not survive a restart.
type MemoryOperationLedger struct {
	mu      sync.Mutex
	entries map[string]ledgerEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryOperationLedger(ttl time.Duration) *MemoryOperationLedger {
	return &MemoryOperationLedger{
		entries: make(map[string]ledgerEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (l *MemoryOperationLedger) Acquire(ctx context.Context, key string) (domain.LedgerState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.entries[key]; ok && (l.ttl <= 0 || now.Before(e.expiresAt)) {
		if e.done {
			return domain.LedgerDone, nil
		}
		return domain.LedgerInFlight, nil
	}
	l.entries[key] = ledgerEntry{expiresAt: now.Add(l.ttl)}
	return domain.LedgerAcquired, nil
}

func (l *MemoryOperationLedger) Peek(ctx context.Context, key string) (domain.LedgerState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	switch {
	case !ok || (l.ttl > 0 && !l.now().Before(e.expiresAt)):
		return domain.LedgerAbsent, nil
	case e.done:
		return domain.LedgerDone, nil
	default:
		return domain.LedgerInFlight, nil
	}
}

func (l *MemoryOperationLedger) Complete(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = ledgerEntry{done: true, expiresAt: l.now().Add(l.ttl)}
	return nil
}

func (l *MemoryOperationLedger) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}
