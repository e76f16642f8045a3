package recency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStoreRoundTrip(t *testing.T) {
	store, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		entry("a", base),
		entry("b", base.Add(time.Minute)),
	}

	require.NoError(t, store.Save(context.Background(), "u1", entries))

	loaded, err := store.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, entries, loaded)
}

func TestBadgerStoreMissingUser(t *testing.T) {
	store, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerStoreIsolatesUsers(t *testing.T) {
	store, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(context.Background(), "u1", []Entry{entry("a", base)}))
	require.NoError(t, store.Save(context.Background(), "u2", []Entry{entry("b", base)}))

	loaded, err := store.Load(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "a", loaded[0].ConversationID)
}

func TestCacheWithBadgerStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store, err := OpenBadgerStore(dir)
	require.NoError(t, err)

	c, err := New("u1", 3, store, discardLogger())
	require.NoError(t, err)
	c.Put(entry("a", base))
	c.Put(entry("b", base.Add(time.Minute)))
	require.NoError(t, store.Close())

	reopened, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	c2, err := New("u1", 3, reopened, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, c2.Len())
	assert.True(t, c2.Contains("a"))
	assert.True(t, c2.Contains("b"))
}
