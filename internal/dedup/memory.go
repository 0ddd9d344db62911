package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is an in-process ContactLog used when redis is disabled. Entries
// expire lazily on read.
type MemoryLog struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryLog(window time.Duration) *MemoryLog {
	return &MemoryLog{
		window:  window,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (l *MemoryLog) MarkContacted(ctx context.Context, customerID, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[customerID] = entry{ContactedAt: l.now(), Status: status}
	return nil
}

func (l *MemoryLog) RecentlyContacted(ctx context.Context, customerID string) (bool, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[customerID]
	if !ok {
		return false, time.Time{}, nil
	}
	if l.now().Sub(e.ContactedAt) >= l.window {
		delete(l.entries, customerID)
		return false, time.Time{}, nil
	}
	return true, e.ContactedAt, nil
}
