// Package memory keeps the leak ledger in process memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// Ledger is an in-memory contentasset.LeakLedger
type Ledger struct {
	mu    sync.Mutex
	leaks map[string]contentasset.Leak
}

var _ contentasset.LeakLedger = (*Ledger)(nil)

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{leaks: make(map[string]contentasset.Leak)}
}

func (l *Ledger) Record(ctx context.Context, leak contentasset.Leak) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.leaks[leak.Reference]; ok {
		leak = contentasset.MergeLeak(existing, leak)
	}
	l.leaks[leak.Reference] = leak
	return nil
}

func (l *Ledger) Pending(ctx context.Context, limit int) ([]contentasset.Leak, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]contentasset.Leak, 0, len(l.leaks))
	for _, leak := range l.leaks {
		out = append(out, leak)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].Reference < out[j].Reference
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) Resolve(ctx context.Context, reference string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.leaks, reference)
	return nil
}

// Len returns the number of recorded leaks
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.leaks)
}
