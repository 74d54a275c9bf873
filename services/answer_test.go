// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the answer routing service

package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sattisatya/search-service/datatypes"
	"github.com/sattisatya/search-service/session"
	storage "github.com/sattisatya/search-service/storage/badger"
)

// =============================================================================
// Mocks
// =============================================================================

type mockEmbedder struct {
	calls int
	vec   []float32
	err   error
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.vec, nil
}

type mockSearcher struct {
	calls  int
	match  *datatypes.KnowledgeMatch
	err    error
	gotMin float64
}

func (m *mockSearcher) TopMatch(ctx context.Context, vector []float32, minCertainty float64) (*datatypes.KnowledgeMatch, error) {
	m.calls++
	m.gotMin = minCertainty
	if m.err != nil {
		return nil, m.err
	}
	return m.match, nil
}

type mockDocStore struct {
	fetchCalls int
	gotIDs     []string
	docs       []datatypes.UploadedDocument
	err        error
}

func (m *mockDocStore) FetchByIDs(ctx context.Context, ids []string) ([]datatypes.UploadedDocument, error) {
	m.fetchCalls++
	m.gotIDs = ids
	if m.err != nil {
		return nil, m.err
	}
	return m.docs, nil
}

func (m *mockDocStore) Put(ctx context.Context, doc datatypes.UploadedDocument) error { return nil }
func (m *mockDocStore) Delete(ctx context.Context, id string) error                   { return nil }

type answerFixture struct {
	svc      *AnswerService
	store    *session.Store
	recency  *session.RecencyIndex
	llm      *mockLLM
	embedder *mockEmbedder
	searcher *mockSearcher
	docs     *mockDocStore
}

func newAnswerFixture(t *testing.T) *answerFixture {
	t.Helper()
	db, err := storage.OpenInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := session.NewStore(db)
	require.NoError(t, err)
	recency, err := session.NewRecencyIndex(db, store)
	require.NoError(t, err)

	f := &answerFixture{
		store:    store,
		recency:  recency,
		llm:      &mockLLM{},
		embedder: &mockEmbedder{vec: []float32{0.1, 0.2}},
		searcher: &mockSearcher{},
		docs:     &mockDocStore{},
	}
	titles, err := NewTitleResolver(f.llm)
	require.NoError(t, err)
	f.svc, err = NewAnswerService(AnswerServiceConfig{
		Store:     store,
		Recency:   recency,
		Titles:    titles,
		LLMClient: f.llm,
		Embedder:  f.embedder,
		Searcher:  f.searcher,
		Documents: f.docs,
	})
	require.NoError(t, err)
	return f
}

// =============================================================================
// Vector Path
// =============================================================================

func TestAnswer_VectorPathGrounded(t *testing.T) {
	f := newAnswerFixture(t)
	f.searcher.match = &datatypes.KnowledgeMatch{
		Question:          "refund policy?",
		Answer:            "Refunds within 30 days.",
		Tags:              []string{"billing"},
		FileURL:           "https://kb/refunds",
		FollowUpQuestions: []string{"What about exchanges?"},
		Certainty:         0.91,
	}
	// answer synthesis, then first-turn title
	f.llm.responses = []string{"1. Refunds are accepted within 30 days.", "Refund Policy"}

	resp, err := f.svc.Answer(context.Background(), datatypes.SearchRequest{Question: "what is the refund policy?"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.embedder.calls)
	assert.Equal(t, 1, f.searcher.calls)
	assert.Equal(t, DefaultMinCertainty, f.searcher.gotMin)
	assert.Equal(t, "question", resp.ChatKind)
	assert.NotEmpty(t, resp.ChatID, "a new conversation id is assigned")
	assert.False(t, resp.Fallback)
	assert.Equal(t, "1. Refunds are accepted within 30 days.", resp.Answer)
	assert.Equal(t, "Refund Policy", resp.Title)
	assert.Equal(t, "https://kb/refunds", resp.FileURL)
	require.Len(t, resp.Tags, 1)
	assert.Equal(t, "billing", resp.Tags[0].Name)
	assert.Equal(t, []string{"What about exchanges?"}, resp.FollowUpQuestions)

	// exactly one turn persisted, with the full answer
	turns, err := f.store.ReadHistory(context.Background(), datatypes.ChatKindQuestion, resp.ChatID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, resp.Answer, turns[0].Answer)
	require.Len(t, turns[0].Tags, 1)

	meta, err := f.store.GetMeta(context.Background(), datatypes.ChatKindQuestion, resp.ChatID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "Refund Policy", meta.Title)
	assert.NotEmpty(t, meta.Created)

	indexed, err := f.recency.Contains(context.Background(), datatypes.ChatKindQuestion, resp.ChatID)
	require.NoError(t, err)
	assert.True(t, indexed)
}

func TestAnswer_VectorPathThresholdMiss(t *testing.T) {
	f := newAnswerFixture(t)
	f.searcher.match = nil
	// only the title call reaches the model
	f.llm.responses = []string{"Unanswerable Question"}

	resp, err := f.svc.Answer(context.Background(), datatypes.SearchRequest{Question: "completely unknown topic"})
	require.NoError(t, err)

	assert.True(t, resp.Fallback)
	assert.Equal(t, NoIndexedMatchAnswer, resp.Answer)
	assert.Empty(t, resp.Tags)
	assert.Empty(t, resp.FollowUpQuestions)
	assert.Empty(t, resp.FileURL)
	assert.Equal(t, 1, f.llm.calls, "a miss must not spend a model call deciding")

	// the fallback turn still persists, with empty source claims
	turns, err := f.store.ReadHistory(context.Background(), datatypes.ChatKindQuestion, resp.ChatID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, NoIndexedMatchAnswer, turns[0].Answer)
	assert.Empty(t, turns[0].Tags)
	assert.Empty(t, turns[0].DocumentIDs)
}

func TestAnswer_EmbedderFailure(t *testing.T) {
	f := newAnswerFixture(t)
	f.embedder.err = errors.New("embedding service down")

	_, err := f.svc.Answer(context.Background(), datatypes.SearchRequest{Question: "anything", ChatID: "c1"})
	require.Error(t, err)
	assert.True(t, IsUpstreamModelError(err))

	// nothing persisted when the turn could not be answered
	count, err := f.store.TurnCount(context.Background(), datatypes.ChatKindQuestion, "c1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAnswer_SearcherFailure(t *testing.T) {
	f := newAnswerFixture(t)
	f.searcher.err = errors.New("weaviate unreachable")

	_, err := f.svc.Answer(context.Background(), datatypes.SearchRequest{Question: "anything"})
	require.Error(t, err)
	assert.True(t, IsUpstreamStoreError(err))
}

// =============================================================================
// Document Path
// =============================================================================

const docAnswerJSON = `{
  "HAS_ANSWER": true,
  "ANSWER": ["1. The contract term is two years.", "2. Renewal is automatic."],
  "FOLLOW_UP_QUESTIONS": ["What is the cancellation window?"]
}`

func TestAnswer_DocumentPathGrounded(t *testing.T) {
	f := newAnswerFixture(t)
	f.docs.docs = []datatypes.UploadedDocument{
		{DocumentID: "d1", FileName: "contract.pdf", Text: "The contract term is two years. Renewal is automatic."},
	}
	f.llm.responses = []string{docAnswerJSON, "Contract Terms"}

	resp, err := f.svc.Answer(context.Background(), datatypes.SearchRequest{
		Question:    "how long is the contract?",
		DocumentIDs: []string{"d1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.docs.fetchCalls)
	assert.Equal(t, []string{"d1"}, f.docs.gotIDs)
	assert.Zero(t, f.embedder.calls, "document path must not embed")
	assert.Zero(t, f.searcher.calls, "document path must not search the knowledge base")

	assert.False(t, resp.Fallback)
	assert.Equal(t, "1. The contract term is two years.\n2. Renewal is automatic.", resp.Answer)
	require.Len(t, resp.Tags, 1)
	assert.Equal(t, "contract.pdf", resp.Tags[0].Name)
	assert.Equal(t, []string{"d1"}, resp.DocumentIDs)
	assert.Equal(t, []string{"What is the cancellation window?"}, resp.FollowUpQuestions)

	// document ids merged into the conversation's bound set
	meta, err := f.store.GetMeta(context.Background(), datatypes.ChatKindQuestion, resp.ChatID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, []string{"d1"}, meta.DocumentIDs)
}

func TestAnswer_BoundDocumentsSelectDocumentPath(t *testing.T) {
	f := newAnswerFixture(t)
	ctx := context.Background()

	// conversation already bound to d9
	require.NoError(t, f.store.PutMeta(ctx, datatypes.ChatKindQuestion, "c1", datatypes.NowISO(), "T", []string{"d9"}))
	f.docs.docs = []datatypes.UploadedDocument{{DocumentID: "d9", FileName: "notes.txt", Text: "some text"}}
	f.llm.responses = []string{docAnswerJSON}

	resp, err := f.svc.Answer(ctx, datatypes.SearchRequest{Question: "what do my notes say?", ChatID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"d9"}, f.docs.gotIDs)
	assert.Zero(t, f.searcher.calls)
	assert.Equal(t, []string{"d9"}, resp.DocumentIDs)
}

func TestAnswer_ExplicitIDsTakePrecedenceOverBound(t *testing.T) {
	f := newAnswerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.PutMeta(ctx, datatypes.ChatKindQuestion, "c1", datatypes.NowISO(), "T", []string{"bound-doc"}))
	f.docs.docs = []datatypes.UploadedDocument{{DocumentID: "explicit-doc", FileName: "new.pdf", Text: "text"}}
	f.llm.responses = []string{docAnswerJSON}

	_, err := f.svc.Answer(ctx, datatypes.SearchRequest{
		Question:    "q",
		ChatID:      "c1",
		DocumentIDs: []string{"explicit-doc"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"explicit-doc"}, f.docs.gotIDs)
}

func TestAnswer_DocumentPathNoEvidenceStaysOnDocumentPath(t *testing.T) {
	f := newAnswerFixture(t)
	f.docs.docs = []datatypes.UploadedDocument{{DocumentID: "d1", FileName: "contract.pdf", Text: "irrelevant"}}
	noEvidence := `{"HAS_ANSWER": false, "ANSWER": "I cannot answer based on the provided documents.", "FOLLOW_UP_QUESTIONS": []}`
	f.llm.responses = []string{noEvidence, "Some Title"}

	resp, err := f.svc.Answer(context.Background(), datatypes.SearchRequest{
		Question:    "what is the capital of France?",
		DocumentIDs: []string{"d1"},
	})
	require.NoError(t, err)

	assert.True(t, resp.Fallback)
	assert.Equal(t, NoDocumentAnswer, resp.Answer)
	assert.Empty(t, resp.Tags, "fallback drops source claims")
	assert.Empty(t, resp.DocumentIDs)
	assert.Empty(t, resp.FollowUpQuestions)
	assert.Zero(t, f.searcher.calls, "no-evidence must not retry the knowledge base")
	assert.Zero(t, f.embedder.calls)

	// no doc binding happens on a fallback turn
	meta, err := f.store.GetMeta(context.Background(), datatypes.ChatKindQuestion, resp.ChatID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Empty(t, meta.DocumentIDs)
}

func TestAnswer_DocumentFetchFailure(t *testing.T) {
	f := newAnswerFixture(t)
	f.docs.err = errors.New("weaviate down")

	_, err := f.svc.Answer(context.Background(), datatypes.SearchRequest{
		Question:    "q",
		DocumentIDs: []string{"d1"},
	})
	require.Error(t, err)
	assert.True(t, IsUpstreamStoreError(err))
}

// =============================================================================
// Validation and Titles
// =============================================================================

func TestAnswer_EmptyQuestion(t *testing.T) {
	f := newAnswerFixture(t)

	_, err := f.svc.Answer(context.Background(), datatypes.SearchRequest{Question: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Zero(t, f.llm.calls)
	assert.Zero(t, f.embedder.calls)
}

func TestAnswer_SecondTurnReusesStoredTitle(t *testing.T) {
	f := newAnswerFixture(t)
	ctx := context.Background()
	f.searcher.match = &datatypes.KnowledgeMatch{Answer: "stored answer", Certainty: 0.9}

	// first turn: synthesis + title
	f.llm.responses = []string{"first answer", "Generated Title"}
	first, err := f.svc.Answer(ctx, datatypes.SearchRequest{Question: "first question"})
	require.NoError(t, err)
	require.Equal(t, 2, f.llm.calls)

	// second turn: synthesis only
	f.llm.responses = []string{"second answer"}
	second, err := f.svc.Answer(ctx, datatypes.SearchRequest{Question: "second question", ChatID: first.ChatID})
	require.NoError(t, err)

	assert.Equal(t, 3, f.llm.calls, "later turns must not regenerate the title")
	assert.Equal(t, "Generated Title", second.Title)

	turns, err := f.store.ReadHistory(ctx, datatypes.ChatKindQuestion, first.ChatID, 0)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

// =============================================================================
// JSON Extraction
// =============================================================================

func TestParseDocumentAnswer_CodeFences(t *testing.T) {
	raw := "```json\n" + docAnswerJSON + "\n```"
	parsed, ok := parseDocumentAnswer(raw)
	require.True(t, ok)
	assert.True(t, parsed.HasAnswer)
}

func TestParseDocumentAnswer_SurroundingProse(t *testing.T) {
	raw := "Here is the JSON you asked for:\n" + docAnswerJSON + "\nHope that helps!"
	parsed, ok := parseDocumentAnswer(raw)
	require.True(t, ok)
	assert.True(t, parsed.HasAnswer)
}

func TestParseDocumentAnswer_TrailingCommas(t *testing.T) {
	raw := `{"HAS_ANSWER": true, "ANSWER": ["1. Point one",], "FOLLOW_UP_QUESTIONS": [],}`
	parsed, ok := parseDocumentAnswer(raw)
	require.True(t, ok)
	assert.True(t, parsed.HasAnswer)
}

func TestParseDocumentAnswer_Garbage(t *testing.T) {
	_, ok := parseDocumentAnswer("I refuse to emit JSON today.")
	assert.False(t, ok)
}

func TestFlattenAnswerField(t *testing.T) {
	assert.Equal(t, "plain answer", flattenAnswerField([]byte(`"plain answer"`)))
	assert.Equal(t, "1. a\n2. b", flattenAnswerField([]byte(`["1. a", "  2. b  ", ""]`)))
	assert.Equal(t, "", flattenAnswerField(nil))
	assert.Equal(t, "", flattenAnswerField([]byte(`42`)))
}
