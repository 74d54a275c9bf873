// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Search (turn submission)
// =============================================================================

// SearchRequest is the POST /v1/search payload. One request is one
// conversation turn.
type SearchRequest struct {
	// Question is the user's question. Must be non-empty after trimming.
	Question string `json:"question" binding:"required" validate:"required,maxbytes=8192"`

	// ChatID continues an existing conversation. Empty starts a new one.
	ChatID string `json:"chat_id,omitempty"`

	// ChatKind selects the conversation namespace. Empty means "question".
	ChatKind string `json:"chat_kind,omitempty" binding:"omitempty,oneof=question insight document-qna"`

	// DocumentIDs explicitly scope this turn to the given documents,
	// taking precedence over the conversation's bound documents.
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// SearchResponse is the answer for one turn.
type SearchResponse struct {
	ChatID   string `json:"chat_id"`
	ChatKind string `json:"chat_kind"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Title    string `json:"title"`

	// Fallback is true when the answer is a could-not-answer response
	// rather than a grounded one.
	Fallback bool `json:"fallback"`

	// Tags label the sources behind the answer. Empty on fallback.
	Tags []Tag `json:"tags,omitempty"`

	// DocumentIDs are the documents this turn was answered from.
	DocumentIDs []string `json:"document_ids,omitempty"`

	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`

	// FileURL is the source link of the matched knowledge entry on the
	// vector path. Empty on the document path and on fallback.
	FileURL string `json:"file_url,omitempty"`
}

// =============================================================================
// History and Listing
// =============================================================================

// HistoryItem is one turn as returned by GET /v1/chats/:chatId.
type HistoryItem struct {
	Question          string   `json:"question"`
	Answer            string   `json:"answer"`
	Ts                string   `json:"ts"`
	Tags              []Tag    `json:"tags,omitempty"`
	DocumentIDs       []string `json:"document_ids,omitempty"`
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`
}

// HistoryResponse is the full history payload for one conversation.
type HistoryResponse struct {
	ChatID      string        `json:"chat_id"`
	ChatKind    string        `json:"chat_kind"`
	Title       string        `json:"title"`
	Created     string        `json:"created,omitempty"`
	DocumentIDs []string      `json:"document_ids,omitempty"`
	History     []HistoryItem `json:"history"`
}

// ChatListItem is one conversation in the GET /v1/chats listing,
// newest-first.
type ChatListItem struct {
	ChatID       string `json:"chat_id"`
	ChatKind     string `json:"chat_kind"`
	Title        string `json:"title"`
	Created      string `json:"created,omitempty"`
	LastActivity string `json:"last_activity,omitempty"`

	// LastAnswer is a preview of the most recent answer.
	LastAnswer string `json:"last_answer,omitempty"`
}

// ChatListResponse wraps the listing.
type ChatListResponse struct {
	Chats []ChatListItem `json:"chats"`
}

// =============================================================================
// Deletion
// =============================================================================

// DeleteResponse reports what a delete actually removed. Counts reflect
// work done, not work intended; partial failures leave the counts short.
type DeleteResponse struct {
	ChatID           string `json:"chat_id,omitempty"`
	DeletedHistories int    `json:"deleted_histories"`
	DeletedMetas     int    `json:"deleted_metas"`
	DeletedIndex     int    `json:"deleted_index_entries"`
}

// =============================================================================
// Document Registration
// =============================================================================

// RegisterDocumentRequest is the POST /v1/documents payload. The caller is
// responsible for extracting text from the original file; the service
// stores text only.
type RegisterDocumentRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
	FileName   string `json:"file_name" binding:"required"`
	Text       string `json:"text" binding:"required" validate:"required,maxbytes=1048576"`
}

// RegisterDocumentResponse acknowledges a stored document.
type RegisterDocumentResponse struct {
	DocumentID string `json:"document_id"`
	FileName   string `json:"file_name"`
}
