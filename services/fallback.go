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

import "strings"

// NoIndexedMatchAnswer is the canonical response when no knowledge entry
// clears the similarity threshold. Written verbatim; the classifier's
// phrase list must keep matching it.
const NoIndexedMatchAnswer = "I cannot answer based on stored knowledge: " +
	"no relevant indexed documents were found. You may upload a document " +
	"related to your question."

// NoDocumentAnswer opens document-path responses that found no evidence.
const NoDocumentAnswer = "I cannot answer based on the provided documents."

// fallbackPhrases are matched case-insensitively as substrings. The list
// covers the service's own canonical responses and the refusal formulas
// models produce when the prompt context has no answer.
var fallbackPhrases = []string{
	"i cannot answer based on stored knowledge",
	"i cannot answer based on the provided documents",
	"no relevant indexed documents were found",
	"i'm sorry, but the provided context does not contain",
	"i do not have that specific information",
	"do not have that specific information",
}

// IsFallbackAnswer reports whether an answer is a could-not-answer
// response rather than a grounded one. Empty or whitespace-only answers
// are fallbacks.
func IsFallbackAnswer(answer string) bool {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return true
	}
	lowered := strings.ToLower(trimmed)
	for _, phrase := range fallbackPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
