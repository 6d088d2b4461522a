package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/MrEthical07/goIdentity/audit"
)

// AuditLog is an append-only audit.Sink that also answers queries.
type AuditLog struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

var (
	_ audit.Sink   = (*AuditLog)(nil)
	_ audit.Reader = (*AuditLog)(nil)
)

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) Write(_ context.Context, entry audit.Entry) error {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return nil
}

// Query returns matching entries, newest first.
func (l *AuditLog) Query(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	f = f.Normalized()

	l.mu.RLock()
	out := make([]audit.Entry, 0)
	for _, e := range l.entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Len returns the number of recorded entries.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
