package memory

import (
	"context"
	"sync"
	"time"

	"github.com/roma-frontend/fitauth/internal/audit"
)

// AuditLog is an append-only entry list with a per-identity index.
type AuditLog struct {
	mu      sync.RWMutex
	entries []audit.Entry
	byUser  map[string][]int
}

func NewAuditLog() *AuditLog {
	return &AuditLog{byUser: make(map[string][]int)}
}

func (l *AuditLog) Create(_ context.Context, e audit.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byUser[e.UserID] = append(l.byUser[e.UserID], len(l.entries))
	l.entries = append(l.entries, e)
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *AuditLog) Recent(_ context.Context, limit int) ([]audit.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]audit.Entry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

func (l *AuditLog) ByUserID(_ context.Context, userID string, since time.Time) ([]audit.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := l.byUser[userID]
	out := make([]audit.Entry, 0, len(idx))
	for _, i := range idx {
		if e := l.entries[i]; !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *AuditLog) Since(_ context.Context, from time.Time) ([]audit.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []audit.Entry
	for _, e := range l.entries {
		if !e.Timestamp.Before(from) {
			out = append(out, e)
		}
	}
	return out, nil
}

// DeleteBefore drops entries older than cutoff and rebuilds the index.
func (l *AuditLog) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	var n int64
	for _, e := range l.entries {
		if e.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	l.byUser = make(map[string][]int)
	for i, e := range l.entries {
		l.byUser[e.UserID] = append(l.byUser[e.UserID], i)
	}
	return n, nil
}

// Len returns the number of stored entries.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
