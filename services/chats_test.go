// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the chat read and delete service

package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sattisatya/search-service/datatypes"
	"github.com/sattisatya/search-service/session"
	storage "github.com/sattisatya/search-service/storage/badger"
)

func newChatFixture(t *testing.T) (*ChatService, *session.Store, *session.RecencyIndex) {
	t.Helper()
	db, err := storage.OpenInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := session.NewStore(db)
	require.NoError(t, err)
	recency, err := session.NewRecencyIndex(db, store)
	require.NoError(t, err)
	svc, err := NewChatService(store, recency)
	require.NoError(t, err)
	return svc, store, recency
}

func appendTurn(t *testing.T, store *session.Store, kind datatypes.ChatKind, id, q, a, ts string) {
	t.Helper()
	require.NoError(t, store.AppendTurn(context.Background(), kind, id, datatypes.Turn{
		Question: q, Answer: a, Ts: ts,
	}))
}

// =============================================================================
// History
// =============================================================================

func TestHistory_ReturnsTurnsOldestFirst(t *testing.T) {
	svc, store, _ := newChatFixture(t)
	ctx := context.Background()

	appendTurn(t, store, datatypes.ChatKindQuestion, "c1", "q1", "a1", "2026-08-29T10:00:00Z")
	appendTurn(t, store, datatypes.ChatKindQuestion, "c1", "q2", "a2", "2026-08-29T10:05:00Z")
	require.NoError(t, store.PutMeta(ctx, datatypes.ChatKindQuestion, "c1", "2026-08-29T10:00:00Z", "My Title", []string{"d1"}))

	resp, err := svc.History(ctx, datatypes.ChatKindQuestion, "c1")
	require.NoError(t, err)

	assert.Equal(t, "c1", resp.ChatID)
	assert.Equal(t, "question", resp.ChatKind)
	assert.Equal(t, "My Title", resp.Title)
	assert.Equal(t, []string{"d1"}, resp.DocumentIDs)
	require.Len(t, resp.History, 2)
	assert.Equal(t, "q1", resp.History[0].Question)
	assert.Equal(t, "q2", resp.History[1].Question)
}

func TestHistory_BackfillsMissingMeta(t *testing.T) {
	svc, store, _ := newChatFixture(t)
	ctx := context.Background()

	appendTurn(t, store, datatypes.ChatKindQuestion, "legacy", "how do refunds work?", "a", "2026-08-29T10:00:00Z")

	resp, err := svc.History(ctx, datatypes.ChatKindQuestion, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "how do refunds work?", resp.Title, "title derives from the first question")

	meta, err := store.GetMeta(ctx, datatypes.ChatKindQuestion, "legacy")
	require.NoError(t, err)
	require.NotNil(t, meta, "meta is backfilled when history exists")
	assert.Equal(t, "how do refunds work?", meta.Title)
}

func TestHistory_UnknownIDCreatesNoState(t *testing.T) {
	svc, store, _ := newChatFixture(t)
	ctx := context.Background()

	resp, err := svc.History(ctx, datatypes.ChatKindQuestion, "never-seen")
	require.NoError(t, err)
	assert.Empty(t, resp.History)
	assert.Equal(t, datatypes.DefaultTitle, resp.Title)

	meta, err := store.GetMeta(ctx, datatypes.ChatKindQuestion, "never-seen")
	require.NoError(t, err)
	assert.Nil(t, meta, "reading an unknown id must not backfill meta")
}

func TestHistory_SanitizesBadTimestamps(t *testing.T) {
	svc, store, _ := newChatFixture(t)

	appendTurn(t, store, datatypes.ChatKindQuestion, "c1", "q", "a", "not-a-timestamp")

	resp, err := svc.History(context.Background(), datatypes.ChatKindQuestion, "c1")
	require.NoError(t, err)
	require.Len(t, resp.History, 1)
	_, parseErr := datatypes.ParseISO(resp.History[0].Ts)
	assert.NoError(t, parseErr, "unparseable timestamps are replaced, not surfaced")
}

// =============================================================================
// List
// =============================================================================

func TestList_NewestFirstWithEnrichment(t *testing.T) {
	svc, store, recency := newChatFixture(t)
	ctx := context.Background()

	appendTurn(t, store, datatypes.ChatKindQuestion, "older", "old question", "old answer", "2026-08-29T09:00:00Z")
	appendTurn(t, store, datatypes.ChatKindQuestion, "newer", "new question", "new answer", "2026-08-29T11:00:00Z")
	require.NoError(t, store.PutMeta(ctx, datatypes.ChatKindQuestion, "newer", "2026-08-29T11:00:00Z", "Titled Chat", nil))
	require.NoError(t, recency.Touch(ctx, datatypes.ChatKindQuestion, "older"))
	require.NoError(t, recency.Touch(ctx, datatypes.ChatKindQuestion, "newer"))

	items, err := svc.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "newer", items[0].ChatID)
	assert.Equal(t, "Titled Chat", items[0].Title)
	assert.Equal(t, "2026-08-29T11:00:00Z", items[0].LastActivity, "meta activity wins over index score")
	assert.Equal(t, "new answer", items[0].LastAnswer)

	assert.Equal(t, "older", items[1].ChatID)
	assert.Equal(t, "old question", items[1].Title, "untitled chats derive from their question")
	assert.Equal(t, "old answer", items[1].LastAnswer)
}

func TestList_BackfillsUnindexedConversations(t *testing.T) {
	svc, store, recency := newChatFixture(t)
	ctx := context.Background()

	// written before the index existed
	appendTurn(t, store, datatypes.ChatKindQuestion, "unindexed", "q", "a", "2026-08-29T10:00:00Z")

	indexed, err := recency.Contains(ctx, datatypes.ChatKindQuestion, "unindexed")
	require.NoError(t, err)
	require.False(t, indexed)

	items, err := svc.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "unindexed", items[0].ChatID)
}

func TestList_DerivedTitleUsesFirstQuestion(t *testing.T) {
	svc, store, recency := newChatFixture(t)
	ctx := context.Background()

	// untitled multi-turn conversation: the listing derives from the
	// first question, same as History
	appendTurn(t, store, datatypes.ChatKindQuestion, "c1", "original question", "a1", "2026-08-29T10:00:00Z")
	appendTurn(t, store, datatypes.ChatKindQuestion, "c1", "follow-up question", "a2", "2026-08-29T10:05:00Z")
	require.NoError(t, recency.Touch(ctx, datatypes.ChatKindQuestion, "c1"))

	items, err := svc.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "original question", items[0].Title)
	assert.Equal(t, "a2", items[0].LastAnswer)
}

func TestList_FiltersByKind(t *testing.T) {
	svc, store, recency := newChatFixture(t)
	ctx := context.Background()

	appendTurn(t, store, datatypes.ChatKindQuestion, "q1", "q", "a", "2026-08-29T10:00:00Z")
	appendTurn(t, store, datatypes.ChatKindInsight, "i1", "q", "a", "2026-08-29T10:00:00Z")
	require.NoError(t, recency.Touch(ctx, datatypes.ChatKindQuestion, "q1"))
	require.NoError(t, recency.Touch(ctx, datatypes.ChatKindInsight, "i1"))

	items, err := svc.List(ctx, []datatypes.ChatKind{datatypes.ChatKindInsight})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "i1", items[0].ChatID)
	assert.Equal(t, "insight", items[0].ChatKind)
}

func TestList_EmptyStore(t *testing.T) {
	svc, _, _ := newChatFixture(t)

	items, err := svc.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

// =============================================================================
// Delete
// =============================================================================

func TestDelete_SingleKind(t *testing.T) {
	svc, store, recency := newChatFixture(t)
	ctx := context.Background()

	appendTurn(t, store, datatypes.ChatKindQuestion, "c1", "q1", "a1", "2026-08-29T10:00:00Z")
	appendTurn(t, store, datatypes.ChatKindQuestion, "c1", "q2", "a2", "2026-08-29T10:05:00Z")
	require.NoError(t, store.PutMeta(ctx, datatypes.ChatKindQuestion, "c1", datatypes.NowISO(), "T", nil))
	require.NoError(t, recency.Touch(ctx, datatypes.ChatKindQuestion, "c1"))

	kind := datatypes.ChatKindQuestion
	resp, err := svc.Delete(ctx, &kind, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.DeletedHistories)
	assert.Equal(t, 1, resp.DeletedMetas)
	assert.Equal(t, 1, resp.DeletedIndex)

	count, err := store.TurnCount(ctx, datatypes.ChatKindQuestion, "c1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDelete_AcrossDefaultKinds(t *testing.T) {
	svc, store, recency := newChatFixture(t)
	ctx := context.Background()

	appendTurn(t, store, datatypes.ChatKindQuestion, "shared", "q", "a", "2026-08-29T10:00:00Z")
	appendTurn(t, store, datatypes.ChatKindInsight, "shared", "q", "a", "2026-08-29T10:00:00Z")
	require.NoError(t, recency.Touch(ctx, datatypes.ChatKindQuestion, "shared"))
	require.NoError(t, recency.Touch(ctx, datatypes.ChatKindInsight, "shared"))

	resp, err := svc.Delete(ctx, nil, "shared")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.DeletedHistories)
	assert.Equal(t, 2, resp.DeletedIndex)
}

func TestDelete_UnknownIDReturnsNotFound(t *testing.T) {
	svc, _, _ := newChatFixture(t)

	_, err := svc.Delete(context.Background(), nil, "never-existed")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_KindScoped(t *testing.T) {
	svc, store, _ := newChatFixture(t)
	ctx := context.Background()

	appendTurn(t, store, datatypes.ChatKindQuestion, "c1", "q", "a", "2026-08-29T10:00:00Z")
	appendTurn(t, store, datatypes.ChatKindInsight, "c1", "q", "a", "2026-08-29T10:00:00Z")

	kind := datatypes.ChatKindInsight
	_, err := svc.Delete(ctx, &kind, "c1")
	require.NoError(t, err)

	count, err := store.TurnCount(ctx, datatypes.ChatKindQuestion, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "other kinds are untouched")
}

func TestDeleteAll(t *testing.T) {
	svc, store, recency := newChatFixture(t)
	ctx := context.Background()

	appendTurn(t, store, datatypes.ChatKindQuestion, "q1", "q", "a", "2026-08-29T10:00:00Z")
	appendTurn(t, store, datatypes.ChatKindInsight, "i1", "q", "a", "2026-08-29T10:00:00Z")
	appendTurn(t, store, datatypes.ChatKindDocumentQnA, "d1", "q", "a", "2026-08-29T10:00:00Z")
	require.NoError(t, store.PutMeta(ctx, datatypes.ChatKindQuestion, "q1", datatypes.NowISO(), "T", nil))
	require.NoError(t, recency.Touch(ctx, datatypes.ChatKindQuestion, "q1"))

	resp, err := svc.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.DeletedHistories)
	assert.Equal(t, 1, resp.DeletedMetas)
	assert.Equal(t, 1, resp.DeletedIndex)

	items, err := svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}
