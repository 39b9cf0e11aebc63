package events

import (
	"context"
	"sync"

	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

// Feed keeps the most recent events of each account in a fixed-size ring.
// It backs the dashboard's activity view.
type Feed struct {
	size  int
	mu    sync.RWMutex
	rings map[string]*ring
}

type ring struct {
	mu   sync.Mutex
	buf  []models.Event
	next int
	full bool
}

// NewFeed creates a Feed holding up to size events per account.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 100
	}
	return &Feed{size: size, rings: make(map[string]*ring)}
}

// Ship records ev in its account's ring.
func (f *Feed) Ship(_ context.Context, ev *models.Event) error {
	r := f.ring(ev.AccountID)
	r.mu.Lock()
	r.buf[r.next] = *ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	return nil
}

// Close implements Sink.
func (f *Feed) Close() error { return nil }

// Recent returns up to limit events of accountID, newest first. A limit of
// zero or less returns everything retained.
func (f *Feed) Recent(accountID string, limit int) []models.Event {
	f.mu.RLock()
	r, ok := f.rings[accountID]
	f.mu.RUnlock()
	if !ok {
		return []models.Event{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

func (f *Feed) ring(accountID string) *ring {
	f.mu.RLock()
	r, ok := f.rings[accountID]
	f.mu.RUnlock()
	if ok {
		return r
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok = f.rings[accountID]; !ok {
		r = &ring{buf: make([]models.Event, f.size)}
		f.rings[accountID] = r
	}
	return r
}

// ListRecentEvents adapts Recent to the event log interface shared with the
// Postgres repository.
func (f *Feed) ListRecentEvents(_ context.Context, accountID string, limit int) ([]models.Event, error) {
	return f.Recent(accountID, limit), nil
}
