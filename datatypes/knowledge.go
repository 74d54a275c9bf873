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

// KnowledgeMatch is the best pre-indexed knowledge entry for a query
// vector, as returned by the retrieval layer.
type KnowledgeMatch struct {
	Question          string
	Answer            string
	Tags              []string
	FileURL           string
	FollowUpQuestions []string

	// Certainty is Weaviate's similarity score in [0, 1].
	Certainty float64
}

// UploadedDocument is the stored text of a caller-registered document.
type UploadedDocument struct {
	DocumentID string
	FileName   string
	Text       string
}
