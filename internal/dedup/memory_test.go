package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLogWindow(t *testing.T) {
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log := NewMemoryLog(24 * time.Hour)
	log.now = func() time.Time { return now }

	contacted, _, err := log.RecentlyContacted(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, contacted, "unknown customer must not read as contacted")

	require.NoError(t, log.MarkContacted(ctx, "C1", "sent"))

	contacted, at, err := log.RecentlyContacted(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, contacted)
	assert.Equal(t, now, at)

	// Just inside the window.
	now = now.Add(24*time.Hour - time.Minute)
	contacted, _, err = log.RecentlyContacted(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, contacted)

	// Past the window the entry expires.
	now = now.Add(2 * time.Minute)
	contacted, _, err = log.RecentlyContacted(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, contacted)
}

func TestMemoryLogIsolatesCustomers(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog(24 * time.Hour)

	require.NoError(t, log.MarkContacted(ctx, "C1", "sent"))

	contacted, _, err := log.RecentlyContacted(ctx, "C2")
	require.NoError(t, err)
	assert.False(t, contacted)
}
