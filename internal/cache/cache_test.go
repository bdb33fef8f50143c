package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsFreshValue(t *testing.T) {
	c := New(0)
	defer c.Stop()

	c.Set("repo", "payload", time.Minute)

	got, ok := c.Get("repo")
	require.True(t, ok)
	assert.Equal(t, "payload", got)
}

func TestGetMissesUnknownKey(t *testing.T) {
	c := New(0)
	defer c.Stop()

	got, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := New(0)
	defer c.Stop()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Set("repo", "payload", time.Minute)

	// 61 seconds later the one-minute entry must be gone
	c.now = func() time.Time { return base.Add(61 * time.Second) }

	got, ok := c.Get("repo")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, 0, c.Len(), "expired entry should be evicted on read")
}

func TestEntryFreshJustBeforeTTL(t *testing.T) {
	c := New(0)
	defer c.Stop()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Set("repo", "payload", time.Minute)

	c.now = func() time.Time { return base.Add(59 * time.Second) }

	got, ok := c.Get("repo")
	require.True(t, ok)
	assert.Equal(t, "payload", got)
}

func TestSetOverwritesExistingEntry(t *testing.T) {
	c := New(0)
	defer c.Stop()

	c.Set("repo", "old", time.Minute)
	c.Set("repo", "new", time.Minute)

	got, ok := c.Get("repo")
	require.True(t, ok)
	assert.Equal(t, "new", got)
	assert.Equal(t, 1, c.Len())
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := New(0)
	defer c.Stop()

	c.Set("repo", "payload", time.Minute)
	c.Delete("repo")

	_, ok := c.Get("repo")
	assert.False(t, ok)
}

func TestCleanupSweepsOnlyExpiredEntries(t *testing.T) {
	c := New(0)
	defer c.Stop()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Set("short", 1, time.Minute)
	c.Set("long", 2, time.Hour)

	c.now = func() time.Time { return base.Add(5 * time.Minute) }
	c.Cleanup()

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("short")
	assert.False(t, ok)
	got, ok := c.Get("long")
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestJanitorSweepsInBackground(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Stop()

	c.Set("ephemeral", "x", time.Millisecond)

	assert.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Stop()
	c.Stop()
}
