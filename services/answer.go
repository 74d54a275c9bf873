// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sattisatya/search-service/datatypes"
	"github.com/sattisatya/search-service/knowledge"
	"github.com/sattisatya/search-service/llm"
	"github.com/sattisatya/search-service/observability"
	"github.com/sattisatya/search-service/session"
)

var tracer = otel.Tracer("search-service.services")

const (
	// ContextMaxTurns bounds how many prior turns enter the prompt.
	ContextMaxTurns = 3

	// ContextMaxChars bounds the prompt-context size in characters.
	ContextMaxChars = 3000

	// DefaultMinCertainty is the knowledge-base similarity threshold.
	// A top hit below it is a miss, answered with the canonical fallback.
	DefaultMinCertainty = 0.75

	vectorAnswerMaxTokens   = 600
	documentAnswerMaxTokens = 900
)

// MinCertaintyFromEnv reads SEARCH_MIN_CERTAINTY, falling back to the
// default on absence or garbage.
func MinCertaintyFromEnv() float64 {
	raw := os.Getenv("SEARCH_MIN_CERTAINTY")
	if raw == "" {
		return DefaultMinCertainty
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 || v > 1 {
		slog.Warn("Invalid SEARCH_MIN_CERTAINTY, using default",
			"value", raw, "default", DefaultMinCertainty)
		return DefaultMinCertainty
	}
	return v
}

// AnswerService routes a question to the document-grounded path or the
// knowledge-base vector path, classifies the result, and persists the turn.
type AnswerService struct {
	store        *session.Store
	recency      *session.RecencyIndex
	titles       *TitleResolver
	llmClient    llm.LLMClient
	embedder     llm.Embedder
	searcher     knowledge.Searcher
	docs         knowledge.DocumentStore
	metrics      *observability.Metrics
	minCertainty float64
}

// AnswerServiceConfig carries the service's dependencies.
type AnswerServiceConfig struct {
	Store        *session.Store
	Recency      *session.RecencyIndex
	Titles       *TitleResolver
	LLMClient    llm.LLMClient
	Embedder     llm.Embedder
	Searcher     knowledge.Searcher
	Documents    knowledge.DocumentStore
	Metrics      *observability.Metrics
	MinCertainty float64
}

// NewAnswerService validates the wiring and builds the service.
func NewAnswerService(cfg AnswerServiceConfig) (*AnswerService, error) {
	if cfg.Store == nil {
		return nil, errors.New("store must not be nil")
	}
	if cfg.Recency == nil {
		return nil, errors.New("recency index must not be nil")
	}
	if cfg.Titles == nil {
		return nil, errors.New("title resolver must not be nil")
	}
	if cfg.LLMClient == nil {
		return nil, errors.New("llm client must not be nil")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedder must not be nil")
	}
	if cfg.Searcher == nil {
		return nil, errors.New("searcher must not be nil")
	}
	if cfg.Documents == nil {
		return nil, errors.New("document store must not be nil")
	}
	minCertainty := cfg.MinCertainty
	if minCertainty == 0 {
		minCertainty = DefaultMinCertainty
	}
	return &AnswerService{
		store:        cfg.Store,
		recency:      cfg.Recency,
		titles:       cfg.Titles,
		llmClient:    cfg.LLMClient,
		embedder:     cfg.Embedder,
		searcher:     cfg.Searcher,
		docs:         cfg.Documents,
		metrics:      cfg.Metrics,
		minCertainty: minCertainty,
	}, nil
}

// Answer handles one conversation turn.
//
// # Description
//
// The turn is routed to exactly one retrieval path. Documents bound to the
// conversation (or named explicitly on the request, which takes precedence)
// select the document path; otherwise the question is embedded and matched
// against the knowledge base. The final text is classified, and exactly one
// history append happens after the answer is fully known. Bookkeeping
// writes (append, metadata, recency) never fail the turn; their losses are
// counted and logged.
//
// # Outputs
//
//   - *datatypes.SearchResponse: the answered turn.
//   - error: ErrEmptyQuestion, *UpstreamModelError, or *UpstreamStoreError.
func (s *AnswerService) Answer(ctx context.Context, req datatypes.SearchRequest) (*datatypes.SearchResponse, error) {
	ctx, span := tracer.Start(ctx, "AnswerService.Answer")
	defer span.End()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	kind, err := datatypes.ParseChatKind(req.ChatKind)
	if err != nil {
		return nil, err
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = uuid.NewString()
	}
	if err := session.ValidateChatID(chatID); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("chat.kind", string(kind)),
		attribute.String("chat.id", chatID),
	)

	// History and context are best-effort reads: a degraded store answers
	// the question without continuity rather than failing the turn.
	history, err := s.store.ReadHistory(ctx, kind, chatID, 0)
	if err != nil {
		slog.Warn("History read failed, answering without context",
			"chat_id", chatID, "error", err)
		history = nil
	}
	chatContext := session.BuildContext(history, ContextMaxTurns, ContextMaxChars)
	isFirstTurn := len(history) == 0

	// Explicit per-turn ids take precedence over the conversation's bound
	// set; bound ids come from metadata.
	docIDs := req.DocumentIDs
	if len(docIDs) == 0 {
		if meta, err := s.store.GetMeta(ctx, kind, chatID); err != nil {
			slog.Warn("Meta read failed, treating conversation as unbound",
				"chat_id", chatID, "error", err)
		} else if meta != nil {
			docIDs = meta.DocumentIDs
		}
	}

	var (
		answer    string
		followUps []string
		tags      []datatypes.Tag
		fileURL   string
		hasAnswer bool
		path      string
	)

	if len(docIDs) > 0 {
		// Bound documents pin the turn to the document path. A no-evidence
		// result stays a document-path fallback; it does not retry the
		// knowledge base.
		path = "document"
		answer, followUps, tags, hasAnswer, err = s.documentSearch(ctx, docIDs, question, chatContext)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "document path failed")
			return nil, err
		}
	} else {
		path = "vector"
		answer, followUps, tags, fileURL, err = s.vectorSearch(ctx, question, chatContext)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "vector path failed")
			return nil, err
		}
		hasAnswer = true
	}

	fallback := !hasAnswer || IsFallbackAnswer(answer)
	span.SetAttributes(
		attribute.String("search.path", path),
		attribute.Bool("search.fallback", fallback),
	)

	groundedDocIDs := docIDs
	if fallback {
		// Fallback turns persist the verbatim answer but carry no source
		// claims: tags, follow-ups, and document grounding are dropped.
		tags = nil
		followUps = nil
		groundedDocIDs = nil
		fileURL = ""
		s.recordTurn(path, "fallback")
	} else {
		s.recordTurn(path, "answered")
	}

	title := s.resolveTitle(ctx, kind, chatID, question, history, isFirstTurn)

	// The answer is final; everything below is bookkeeping and must not
	// fail the turn.
	ts := datatypes.NowISO()
	turn := datatypes.Turn{
		Question:          question,
		Answer:            answer,
		Ts:                ts,
		Tags:              tags,
		DocumentIDs:       groundedDocIDs,
		FollowUpQuestions: followUps,
	}
	if err := s.store.AppendTurn(ctx, kind, chatID, turn); err != nil {
		slog.Error("Failed to persist turn", "chat_id", chatID, "error", err)
		s.metrics.RecordBookkeepingFailure("append_turn")
	}
	if err := s.store.PutMeta(ctx, kind, chatID, ts, title, groundedDocIDs); err != nil {
		slog.Error("Failed to persist chat meta", "chat_id", chatID, "error", err)
		s.metrics.RecordBookkeepingFailure("put_meta")
	}
	if err := s.recency.Touch(ctx, kind, chatID); err != nil {
		slog.Error("Failed to touch recency index", "chat_id", chatID, "error", err)
		s.metrics.RecordBookkeepingFailure("recency_touch")
	}

	return &datatypes.SearchResponse{
		ChatID:            chatID,
		ChatKind:          string(kind),
		Question:          question,
		Answer:            answer,
		Title:             title,
		Fallback:          fallback,
		Tags:              tags,
		DocumentIDs:       groundedDocIDs,
		FollowUpQuestions: followUps,
		FileURL:           fileURL,
	}, nil
}

func (s *AnswerService) recordTurn(path, outcome string) {
	s.metrics.RecordTurn(path, outcome)
}

// resolveTitle picks the question the title derives from: the current one
// on a first turn, the conversation's first question afterwards.
func (s *AnswerService) resolveTitle(ctx context.Context, kind datatypes.ChatKind, chatID, question string, history []datatypes.Turn, isFirstTurn bool) string {
	storedTitle := ""
	if meta, err := s.store.GetMeta(ctx, kind, chatID); err == nil && meta != nil {
		storedTitle = meta.Title
	}

	titleQuestion := question
	if !isFirstTurn && len(history) > 0 {
		titleQuestion = history[0].Question
	}
	return s.titles.Resolve(ctx, storedTitle, titleQuestion, isFirstTurn)
}

// =============================================================================
// Vector Path
// =============================================================================

const vectorPromptTemplate = `You are acting as a conversational agent for a high-value client demonstration.
Your goal is to synthesize the provided context into a detailed and professional answer.

### Instructions:
1. **Content Source Priority:**
   - The response MUST be generated directly and entirely from the 'Retrieved answer (context)' provided below.
   - Treat this as the sole authoritative source. Do NOT use outside knowledge or inference.
2. **Formatting Requirement:**
   - The final answer MUST be structured as a comprehensive numbered list.
   - Each distinct fact, step, or component of the answer MUST be its own numbered point.
   - Use professional, precise wording; avoid fluff or repetition.
3. **Previous Conversation Usage:**
   - Use the 'Previous conversation' only to maintain conversational continuity or flow.
   - Do NOT add new content from it; only minor adjustments for tone or context.

---

**Previous conversation:**
%s

**Current user question:**
%s

**Retrieved answer (context):**
%s

---

**Your detailed, numbered answer:**`

// vectorSearch embeds the question, takes the single best knowledge entry
// at or above the certainty threshold, and synthesizes the final answer
// from its stored text. A threshold miss returns the canonical fallback
// without any model call; nothing decides a miss except the threshold.
func (s *AnswerService) vectorSearch(ctx context.Context, question, chatContext string) (answer string, followUps []string, tags []datatypes.Tag, fileURL string, err error) {
	ctx, span := tracer.Start(ctx, "AnswerService.vectorSearch")
	defer span.End()

	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		s.metrics.RecordUpstreamError("embedder")
		return "", nil, nil, "", &UpstreamModelError{Operation: "embed", Err: err}
	}

	match, err := s.searcher.TopMatch(ctx, vector, s.minCertainty)
	if err != nil {
		s.metrics.RecordUpstreamError("weaviate")
		return "", nil, nil, "", &UpstreamStoreError{Operation: "knowledge_search", Err: err}
	}
	if match == nil {
		return NoIndexedMatchAnswer, nil, nil, "", nil
	}
	span.SetAttributes(attribute.Float64("search.certainty", match.Certainty))

	prevConv := chatContext
	if prevConv == "" {
		prevConv = "None"
	}
	prompt := fmt.Sprintf(vectorPromptTemplate, prevConv, question, match.Answer)

	temp := float32(0.7)
	maxTokens := vectorAnswerMaxTokens
	raw, err := s.llmClient.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		s.metrics.RecordUpstreamError("llm")
		return "", nil, nil, "", &UpstreamModelError{Operation: "generate", Err: err}
	}

	for _, name := range match.Tags {
		if name == "" {
			continue
		}
		tags = append(tags, datatypes.Tag{Name: name, SourceRef: match.FileURL})
	}
	return strings.TrimSpace(raw), match.FollowUpQuestions, tags, match.FileURL, nil
}

// =============================================================================
// Document Path
// =============================================================================

const documentPromptTemplate = `You are an AI assistant that MUST rely ONLY on the provided reference documents below.
They are presented as blocks beginning with lines like:
[DOC <id> | <filename>]

QUESTION TYPES YOU MUST HANDLE:

Type A: Content Question
 - User asks for facts explicitly present inside the document texts.
 - Respond only if the facts are explicitly stated (no outside inference).
 - If any required fact is missing -> HAS_ANSWER = false.

Type B: Document Metadata / Introspection Question
 - User asks ABOUT the uploaded documents themselves (e.g. "what did I upload", "list the documents", "how many documents").
 - Treat these as answerable IF there is at least one document.
 - Derive answers ONLY from the [DOC id | filename] headers you see.
 - If there are no documents (empty block), HAS_ANSWER = false.

HAS_ANSWER must be true ONLY when:
  (Type A) All needed facts are explicitly present in document text, OR
  (Type B) At least one document exists and the question is metadata-oriented.

Output MUST be STRICT JSON. NO extra text.

If HAS_ANSWER is false:
{
  "HAS_ANSWER": false,
  "ANSWER": "I cannot answer based on the provided documents.",
  "FOLLOW_UP_QUESTIONS": []
}

If HAS_ANSWER is true:
{
  "HAS_ANSWER": true,
  "ANSWER": [
    "1. First strictly evidence-grounded point",
    "2. Second strictly evidence-grounded point"
  ],
  "FOLLOW_UP_QUESTIONS": [
    "Question 1",
    "Question 2",
    "Question 3"
  ]
}

PREVIOUS CONVERSATION (for continuity only, never a fact source):
%s

REFERENCE DOCUMENTS (may be truncated):
%s

USER QUESTION:
%s`

// documentAnswer is the JSON shape the document prompt demands.
type documentAnswer struct {
	HasAnswer         bool            `json:"HAS_ANSWER"`
	Answer            json.RawMessage `json:"ANSWER"`
	FollowUpQuestions []string        `json:"FOLLOW_UP_QUESTIONS"`
}

var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

// documentSearch answers from the referenced documents only. The model
// declares whether the documents held evidence; that flag is trusted.
// Tags are the referenced documents' display names.
func (s *AnswerService) documentSearch(ctx context.Context, docIDs []string, question, chatContext string) (answer string, followUps []string, tags []datatypes.Tag, hasAnswer bool, err error) {
	ctx, span := tracer.Start(ctx, "AnswerService.documentSearch")
	defer span.End()
	span.SetAttributes(attribute.Int("documents.referenced", len(docIDs)))

	docs, err := s.docs.FetchByIDs(ctx, docIDs)
	if err != nil {
		s.metrics.RecordUpstreamError("weaviate")
		return "", nil, nil, false, &UpstreamStoreError{Operation: "document_fetch", Err: err}
	}

	docBlock := "No referenced documents."
	if len(docs) > 0 {
		var snippets []string
		seenNames := make(map[string]struct{})
		for _, d := range docs {
			name := d.FileName
			if name == "" {
				name = "Unnamed"
			}
			if _, ok := seenNames[name]; !ok {
				seenNames[name] = struct{}{}
				tags = append(tags, datatypes.Tag{Name: name, SourceRef: d.DocumentID})
			}
			snippets = append(snippets, fmt.Sprintf("[DOC %s | %s]\n%s", d.DocumentID, name, strings.TrimSpace(d.Text)))
		}
		docBlock = strings.Join(snippets, "\n\n")
	}

	prevConv := chatContext
	if prevConv == "" {
		prevConv = "None"
	}
	prompt := fmt.Sprintf(documentPromptTemplate, prevConv, docBlock, question)

	temp := float32(0.4)
	maxTokens := documentAnswerMaxTokens
	raw, err := s.llmClient.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		s.metrics.RecordUpstreamError("llm")
		return "", nil, nil, false, &UpstreamModelError{Operation: "generate", Err: err}
	}

	parsed, ok := parseDocumentAnswer(raw)
	if !ok {
		// Unparseable model output is a no-evidence result, answered with
		// the canonical document fallback.
		return NoDocumentAnswer, nil, tags, false, nil
	}

	answer = flattenAnswerField(parsed.Answer)
	followUps = parsed.FollowUpQuestions
	if len(followUps) > 3 {
		followUps = followUps[:3]
	}
	if !parsed.HasAnswer {
		followUps = nil
	}
	if answer == "" {
		answer = NoDocumentAnswer
		parsed.HasAnswer = false
	}
	return answer, followUps, tags, parsed.HasAnswer, nil
}

// parseDocumentAnswer extracts the strict-JSON payload from model output,
// tolerating code fences, surrounding prose, and trailing commas.
func parseDocumentAnswer(raw string) (documentAnswer, bool) {
	txt := strings.TrimSpace(raw)
	if strings.HasPrefix(txt, "```") {
		var kept []string
		for _, line := range strings.Split(txt, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			kept = append(kept, line)
		}
		txt = strings.TrimSpace(strings.Join(kept, "\n"))
	}
	if start, end := strings.Index(txt, "{"), strings.LastIndex(txt, "}"); start >= 0 && end > start {
		txt = txt[start : end+1]
	}

	var parsed documentAnswer
	if err := json.Unmarshal([]byte(txt), &parsed); err == nil {
		return parsed, true
	}
	fixed := trailingCommaRe.ReplaceAllString(txt, "$1")
	if err := json.Unmarshal([]byte(fixed), &parsed); err == nil {
		return parsed, true
	}
	return documentAnswer{}, false
}

// flattenAnswerField accepts the ANSWER field as either a string or a list
// of points joined by newlines.
func flattenAnswerField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		var parts []string
		for _, p := range asList {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}
