package task

import (
	"context"
	"sync"
	"time"
)

// Sink accepts finalized tasks for durable storage.
type Sink interface {
	SaveTask(ctx context.Context, s Snapshot) error
}

// History is the append-only record of completed tasks, ordered by
// insertion. Each task id may be appended once.
type History struct {
	mu      sync.RWMutex
	entries []Snapshot
	seen    map[string]struct{}
}

// NewHistory creates a history seeded with previously stored entries.
func NewHistory(seed ...Snapshot) *History {
	h := &History{seen: make(map[string]struct{})}
	for _, s := range seed {
		_ = h.Append(s)
	}
	return h
}

// Append records a finalized task.
func (h *History) Append(s Snapshot) error {
	if s.CompletedAt == nil {
		return ErrIllegalTransition
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.seen[s.ID]; ok {
		return ErrAlreadyRecorded
	}
	h.seen[s.ID] = struct{}{}
	h.entries = append(h.entries, s.Clone())
	return nil
}

// Len returns the number of recorded tasks.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Range returns tasks whose completion time falls within [from, to].
// A zero bound is open.
func (h *History) Range(from, to time.Time) []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Snapshot, 0, len(h.entries))
	for _, s := range h.entries {
		at := *s.CompletedAt
		if !from.IsZero() && at.Before(from) {
			continue
		}
		if !to.IsZero() && at.After(to) {
			continue
		}
		out = append(out, s.Clone())
	}
	return out
}
