// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the recency index

package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sattisatya/search-service/datatypes"
	storage "github.com/sattisatya/search-service/storage/badger"
)

func newTestIndex(t *testing.T) (*Store, *RecencyIndex) {
	t.Helper()
	db, err := storage.OpenInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	index, err := NewRecencyIndex(db, store)
	require.NoError(t, err)
	return store, index
}

// giveConversation makes the id non-orphaned so listing keeps it.
func giveConversation(t *testing.T, store *Store, kind datatypes.ChatKind, id string) {
	t.Helper()
	require.NoError(t, store.AppendTurn(context.Background(), kind, id, datatypes.Turn{
		Question: "q", Answer: "a", Ts: "2026-08-29T10:00:00Z",
	}))
}

func TestListNewestFirst(t *testing.T) {
	store, index := newTestIndex(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		giveConversation(t, store, datatypes.ChatKindQuestion, id)
	}
	require.NoError(t, index.insertWithScore(ctx, datatypes.ChatKindQuestion, "a", 100))
	require.NoError(t, index.insertWithScore(ctx, datatypes.ChatKindQuestion, "b", 300))
	require.NoError(t, index.insertWithScore(ctx, datatypes.ChatKindQuestion, "c", 200))

	entries, err := index.ListNewestFirst(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "b", entries[0].ChatID)
	assert.Equal(t, "c", entries[1].ChatID)
	assert.Equal(t, "a", entries[2].ChatID)
}

func TestTouch_MovesToFront(t *testing.T) {
	store, index := newTestIndex(t)
	ctx := context.Background()

	giveConversation(t, store, datatypes.ChatKindQuestion, "a")
	giveConversation(t, store, datatypes.ChatKindQuestion, "b")

	require.NoError(t, index.insertWithScore(ctx, datatypes.ChatKindQuestion, "a", 100))
	require.NoError(t, index.insertWithScore(ctx, datatypes.ChatKindQuestion, "b", 200))
	// re-touch "a" with a newer score; the old entry must not linger
	require.NoError(t, index.insertWithScore(ctx, datatypes.ChatKindQuestion, "a", 300))

	entries, err := index.ListNewestFirst(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ChatID)
	assert.Equal(t, "b", entries[1].ChatID)
}

func TestListNewestFirst_FiltersKinds(t *testing.T) {
	store, index := newTestIndex(t)
	ctx := context.Background()

	giveConversation(t, store, datatypes.ChatKindQuestion, "q1")
	giveConversation(t, store, datatypes.ChatKindInsight, "i1")
	require.NoError(t, index.insertWithScore(ctx, datatypes.ChatKindQuestion, "q1", 100))
	require.NoError(t, index.insertWithScore(ctx, datatypes.ChatKindInsight, "i1", 200))

	entries, err := index.ListNewestFirst(ctx, []datatypes.ChatKind{datatypes.ChatKindQuestion})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "q1", entries[0].ChatID)
}

func TestListNewestFirst_PrunesOrphans(t *testing.T) {
	store, index := newTestIndex(t)
	ctx := context.Background()

	giveConversation(t, store, datatypes.ChatKindQuestion, "alive")
	require.NoError(t, index.insertWithScore(ctx, datatypes.ChatKindQuestion, "alive", 100))
	// indexed but never written to the store
	require.NoError(t, index.insertWithScore(ctx, datatypes.ChatKindQuestion, "ghost", 200))

	entries, err := index.ListNewestFirst(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alive", entries[0].ChatID)

	// pruned for good, not just filtered
	indexed, err := index.Contains(ctx, datatypes.ChatKindQuestion, "ghost")
	require.NoError(t, err)
	assert.False(t, indexed)
}

func TestRemove(t *testing.T) {
	store, index := newTestIndex(t)
	ctx := context.Background()

	giveConversation(t, store, datatypes.ChatKindQuestion, "a")
	require.NoError(t, index.Touch(ctx, datatypes.ChatKindQuestion, "a"))

	removed, err := index.Remove(ctx, datatypes.ChatKindQuestion, "a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = index.Remove(ctx, datatypes.ChatKindQuestion, "a")
	require.NoError(t, err)
	assert.False(t, removed, "removing an absent member is a no-op")

	entries, err := index.ListNewestFirst(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMigrateUnindexed(t *testing.T) {
	store, index := newTestIndex(t)
	ctx := context.Background()

	// older conversation, by last-turn timestamp
	require.NoError(t, store.AppendTurn(ctx, datatypes.ChatKindQuestion, "old", datatypes.Turn{
		Question: "q", Answer: "a", Ts: "2026-01-01T00:00:00Z",
	}))
	require.NoError(t, store.AppendTurn(ctx, datatypes.ChatKindQuestion, "new", datatypes.Turn{
		Question: "q", Answer: "a", Ts: "2026-06-01T00:00:00Z",
	}))
	// meta-only conversation with no turns scores as now
	require.NoError(t, store.PutMeta(ctx, datatypes.ChatKindQuestion, "meta-only", datatypes.NowISO(), "t", nil))

	migrated, err := index.MigrateUnindexed(ctx, datatypes.ChatKindQuestion)
	require.NoError(t, err)
	assert.Equal(t, 3, migrated)

	entries, err := index.ListNewestFirst(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "meta-only", entries[0].ChatID)
	assert.Equal(t, "new", entries[1].ChatID)
	assert.Equal(t, "old", entries[2].ChatID)

	// already-indexed conversations are not rescored
	migrated, err = index.MigrateUnindexed(ctx, datatypes.ChatKindQuestion)
	require.NoError(t, err)
	assert.Zero(t, migrated)
}

func TestClear(t *testing.T) {
	store, index := newTestIndex(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		giveConversation(t, store, datatypes.ChatKindQuestion, id)
		require.NoError(t, index.Touch(ctx, datatypes.ChatKindQuestion, id))
	}

	removed, err := index.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := index.ListNewestFirst(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
