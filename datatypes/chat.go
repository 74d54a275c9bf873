// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared record and wire types for the
// search service: conversation turns, chat metadata, request/response
// payloads, and the Weaviate class schemas the retrieval layer depends on.
package datatypes

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// Chat Kinds
// =============================================================================

// ChatKind namespaces conversation ids. Two conversations with the same id
// but different kinds are distinct conversations.
type ChatKind string

const (
	ChatKindQuestion    ChatKind = "question"
	ChatKindInsight     ChatKind = "insight"
	ChatKindDocumentQnA ChatKind = "document-qna"
)

// DefaultChatKinds are the kinds scanned when a caller does not narrow the
// kind, e.g. listing all conversations or deleting by bare id.
var DefaultChatKinds = []ChatKind{ChatKindQuestion, ChatKindInsight}

// AllChatKinds returns every kind the service recognizes.
func AllChatKinds() []ChatKind {
	return []ChatKind{ChatKindQuestion, ChatKindInsight, ChatKindDocumentQnA}
}

// ParseChatKind validates a kind string. Empty input defaults to "question".
func ParseChatKind(s string) (ChatKind, error) {
	switch ChatKind(s) {
	case "":
		return ChatKindQuestion, nil
	case ChatKindQuestion, ChatKindInsight, ChatKindDocumentQnA:
		return ChatKind(s), nil
	default:
		return "", fmt.Errorf("unknown chat kind %q", s)
	}
}

// =============================================================================
// Timestamps
// =============================================================================

// TimestampLayout is the canonical wire format for all persisted timestamps.
// Second precision, always UTC, trailing Z.
const TimestampLayout = "2006-01-02T15:04:05Z"

// NowISO returns the current UTC time in the canonical layout.
func NowISO() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// ParseISO parses a canonical timestamp. Returns an error for empty or
// malformed input; callers decide the fallback.
func ParseISO(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// =============================================================================
// Turn Records
// =============================================================================

// Tag is a display label attached to an answer, pointing at the material
// that produced it.
type Tag struct {
	// Name is the human-readable label shown with the answer.
	Name string `json:"name"`

	// SourceRef identifies where the tag came from: a document id on the
	// document path, or a knowledge-entry file URL on the vector path.
	// May be empty.
	SourceRef string `json:"source_ref,omitempty"`
}

// Turn is one question/answer exchange within a conversation. Turns are
// immutable once appended; history is strictly append-only.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`

	// Ts is the turn timestamp in TimestampLayout.
	Ts string `json:"ts"`

	// Tags are the source labels for the answer. Empty on fallback turns.
	Tags []Tag `json:"tags,omitempty"`

	// DocumentIDs are the documents this specific turn was grounded in.
	// Empty on the vector path and on fallback turns.
	DocumentIDs []string `json:"document_ids,omitempty"`

	// FollowUpQuestions are model- or knowledge-base-suggested next
	// questions, capped at three.
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`
}

// EncodeTurn serializes a turn for storage.
func EncodeTurn(t Turn) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode turn: %w", err)
	}
	return data, nil
}

// DecodeTurn deserializes a stored turn. Records written by earlier
// iterations of the service may lack the tag/document/follow-up fields;
// those decode to empty slices, which every reader treats as valid.
func DecodeTurn(data []byte) (Turn, error) {
	var t Turn
	if err := json.Unmarshal(data, &t); err != nil {
		return Turn{}, fmt.Errorf("decode turn: %w", err)
	}
	return t, nil
}

// =============================================================================
// Chat Metadata
// =============================================================================

// OwnerPlaceholder is the fixed pseudo-user recorded on every conversation.
// The service is single-tenant; authentication is handled upstream.
const OwnerPlaceholder = "admin"

// DefaultTitle is used when no question text is available to derive a
// title from.
const DefaultTitle = "Conversation"

// ChatMeta is the per-conversation metadata record.
type ChatMeta struct {
	// Created is set exactly once, on the first write, and never changes.
	Created string `json:"created"`

	// LastActivity is refreshed on every turn.
	LastActivity string `json:"last_activity"`

	// Title is the display title. Empty until resolved.
	Title string `json:"title,omitempty"`

	// UserID is always OwnerPlaceholder.
	UserID string `json:"user_id"`

	// DocumentIDs are the documents bound to the conversation, deduplicated
	// in first-seen order.
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// Touch refreshes LastActivity, setting Created if this is the first write.
func (m *ChatMeta) Touch(ts string) {
	if m.Created == "" {
		m.Created = ts
	}
	m.LastActivity = ts
	if m.UserID == "" {
		m.UserID = OwnerPlaceholder
	}
}

// MergeDocumentIDs appends ids not already present, preserving first-seen
// order. Re-adding a bound id is a no-op, so the merge is idempotent.
func (m *ChatMeta) MergeDocumentIDs(ids []string) {
	if len(ids) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(m.DocumentIDs)+len(ids))
	for _, id := range m.DocumentIDs {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		m.DocumentIDs = append(m.DocumentIDs, id)
	}
}

// EncodeChatMeta serializes metadata for storage.
func EncodeChatMeta(m ChatMeta) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode chat meta: %w", err)
	}
	return data, nil
}

// DecodeChatMeta deserializes stored metadata.
func DecodeChatMeta(data []byte) (ChatMeta, error) {
	var m ChatMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return ChatMeta{}, fmt.Errorf("decode chat meta: %w", err)
	}
	return m, nil
}
