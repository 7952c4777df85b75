package presence

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how many writes happen between full expiry sweeps.
const sweepEvery = 256

// MemoryTracker keeps markers in a process-local map. It is the default
// backend for a single instance deployment.
type MemoryTracker struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
	ttls      TTLs
	now       func() time.Time
	writes    int
}

func NewMemoryTracker(ttls TTLs) *MemoryTracker {
	return &MemoryTracker{
		deadlines: make(map[string]time.Time),
		ttls:      ttls.withDefaults(),
		now:       time.Now,
	}
}

// WithClock swaps the time source. Used by tests.
func (t *MemoryTracker) WithClock(now func() time.Time) *MemoryTracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
	return t
}

func (t *MemoryTracker) TouchPresence(_ context.Context, userID int64) error {
	t.set(presenceKey(userID), t.ttls.Presence)
	return nil
}

func (t *MemoryTracker) IsOnline(_ context.Context, userID int64) (bool, error) {
	return t.alive(presenceKey(userID)), nil
}

func (t *MemoryTracker) SetTyping(_ context.Context, conversationID, userID int64) error {
	t.set(typingKey(conversationID, userID), t.ttls.Typing)
	return nil
}

func (t *MemoryTracker) IsTyping(_ context.Context, conversationID, userID int64) (bool, error) {
	return t.alive(typingKey(conversationID, userID)), nil
}

// Len reports how many markers are stored, expired or not.
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.deadlines)
}

func (t *MemoryTracker) set(key string, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.deadlines[key] = now.Add(ttl)

	t.writes++
	if t.writes >= sweepEvery {
		t.writes = 0
		t.sweepLocked(now)
	}
}

func (t *MemoryTracker) alive(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline, ok := t.deadlines[key]
	if !ok {
		return false
	}
	if !t.now().Before(deadline) {
		delete(t.deadlines, key)
		return false
	}
	return true
}

func (t *MemoryTracker) sweepLocked(now time.Time) {
	for key, deadline := range t.deadlines {
		if !now.Before(deadline) {
			delete(t.deadlines, key)
		}
	}
}
