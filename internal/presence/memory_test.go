package presence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker() (*MemoryTracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewMemoryTracker(TTLs{}).WithClock(clock.Now)
	return tracker, clock
}

func TestMemoryTrackerPresenceWindow(t *testing.T) {
	ctx := context.Background()
	tracker, clock := newTestTracker()

	online, err := tracker.IsOnline(ctx, 1)
	require.NoError(t, err)
	assert.False(t, online, "never seen users are offline")

	require.NoError(t, tracker.TouchPresence(ctx, 1))

	// Refreshing every 5s keeps the user online across several windows.
	for i := 0; i < 5; i++ {
		clock.Advance(5 * time.Second)
		online, err = tracker.IsOnline(ctx, 1)
		require.NoError(t, err)
		assert.True(t, online, "refresh %d", i)
		require.NoError(t, tracker.TouchPresence(ctx, 1))
	}

	clock.Advance(DefaultPresenceTTL)
	online, err = tracker.IsOnline(ctx, 1)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestMemoryTrackerTypingIsScopedToConversation(t *testing.T) {
	ctx := context.Background()
	tracker, clock := newTestTracker()

	require.NoError(t, tracker.SetTyping(ctx, 10, 1))

	typing, err := tracker.IsTyping(ctx, 10, 1)
	require.NoError(t, err)
	assert.True(t, typing)

	typing, err = tracker.IsTyping(ctx, 11, 1)
	require.NoError(t, err)
	assert.False(t, typing)

	typing, err = tracker.IsTyping(ctx, 10, 2)
	require.NoError(t, err)
	assert.False(t, typing)

	clock.Advance(2 * time.Second)
	typing, err = tracker.IsTyping(ctx, 10, 1)
	require.NoError(t, err)
	assert.True(t, typing)

	clock.Advance(time.Second)
	typing, err = tracker.IsTyping(ctx, 10, 1)
	require.NoError(t, err)
	assert.False(t, typing)
}

func TestMemoryTrackerTypingDoesNotMarkOnline(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker()

	require.NoError(t, tracker.SetTyping(ctx, 10, 1))

	online, err := tracker.IsOnline(ctx, 1)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestMemoryTrackerSweepsExpiredMarkers(t *testing.T) {
	ctx := context.Background()
	tracker, clock := newTestTracker()

	for i := 0; i < sweepEvery-1; i++ {
		require.NoError(t, tracker.TouchPresence(ctx, int64(i)))
	}
	assert.Equal(t, sweepEvery-1, tracker.Len())

	clock.Advance(time.Minute)
	require.NoError(t, tracker.TouchPresence(ctx, 9999))

	assert.Equal(t, 1, tracker.Len())
}

func TestMemoryTrackerCustomTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewMemoryTracker(TTLs{Presence: time.Minute, Typing: time.Second}).WithClock(clock.Now)

	require.NoError(t, tracker.TouchPresence(ctx, 7))
	clock.Advance(30 * time.Second)

	online, err := tracker.IsOnline(ctx, 7)
	require.NoError(t, err)
	assert.True(t, online)
}

func TestMemoryTrackerConcurrentUse(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker(TTLs{})

	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 500; i++ {
				_ = tracker.TouchPresence(ctx, int64(i%20))
				_ = tracker.SetTyping(ctx, int64(w), int64(i%20))
				_, _ = tracker.IsOnline(ctx, int64(i%20))
				_, _ = tracker.IsTyping(ctx, int64(w), int64(i%20))
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		<-done
	}

	online, err := tracker.IsOnline(ctx, 3)
	require.NoError(t, err)
	assert.True(t, online, fmt.Sprintf("markers=%d", tracker.Len()))
}
