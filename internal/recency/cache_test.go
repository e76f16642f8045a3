package recency

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(id string, viewedAt time.Time) Entry {
	return Entry{
		ConversationID: id,
		Type:           ConversationDirect,
		Name:           "chat " + id,
		LastViewed:     viewedAt,
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c, err := New("u1", 2, NewMemoryStore(), discardLogger())
	require.NoError(t, err)

	c.Put(entry("a", base))
	c.Put(entry("b", base.Add(time.Minute)))
	c.Put(entry("c", base.Add(2*time.Minute)))

	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Contains("a"), "oldest entry evicted")
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

func TestCacheGetPromotes(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c, err := New("u1", 2, NewMemoryStore(), discardLogger())
	require.NoError(t, err)

	c.Put(entry("a", base))
	c.Put(entry("b", base.Add(time.Minute)))

	// Reading "a" makes "b" the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put(entry("c", base.Add(2*time.Minute)))

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

func TestCacheGetMiss(t *testing.T) {
	c, err := New("u1", 2, NewMemoryStore(), discardLogger())
	require.NoError(t, err)

	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestCachePutReplacesInPlace(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c, err := New("u1", 3, NewMemoryStore(), discardLogger())
	require.NoError(t, err)

	c.Put(entry("a", base))
	updated := entry("a", base.Add(time.Hour))
	updated.UnreadCount = 5
	c.Put(updated)

	assert.Equal(t, 1, c.Len())
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 5, got.UnreadCount)
}

func TestCacheAllSortedByLastViewedDescending(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c, err := New("u1", 5, NewMemoryStore(), discardLogger())
	require.NoError(t, err)

	// Insertion order deliberately disagrees with view times: All must
	// sort by the data, not the list structure.
	c.Put(entry("mid", base.Add(time.Minute)))
	c.Put(entry("newest", base.Add(time.Hour)))
	c.Put(entry("oldest", base))

	all := c.All()
	require.Len(t, all, 3)
	assert.Equal(t, "newest", all[0].ConversationID)
	assert.Equal(t, "mid", all[1].ConversationID)
	assert.Equal(t, "oldest", all[2].ConversationID)
}

func TestCachePersistsEveryMutation(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	c, err := New("u1", 3, store, discardLogger())
	require.NoError(t, err)

	c.Put(entry("a", base))
	saved, err := store.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, saved, 1)

	c.Put(entry("b", base.Add(time.Minute)))
	saved, err = store.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, saved, 2)
}

func TestCacheRehydratesWithSameRecencyOrder(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()

	first, err := New("u1", 2, store, discardLogger())
	require.NoError(t, err)
	first.Put(entry("a", base))
	first.Put(entry("b", base.Add(time.Minute)))
	_, _ = first.Get("a") // "b" is now least recently used

	second, err := New("u1", 2, store, discardLogger())
	require.NoError(t, err)

	second.Put(entry("c", base.Add(2*time.Minute)))
	assert.True(t, second.Contains("a"), "promotion survived the reload")
	assert.False(t, second.Contains("b"))
}

func TestCacheRequiresUserID(t *testing.T) {
	_, err := New("", 2, NewMemoryStore(), discardLogger())
	assert.Error(t, err)
}
