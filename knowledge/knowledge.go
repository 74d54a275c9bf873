// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge wraps the Weaviate retrieval surfaces behind
// interfaces: similarity search over the pre-indexed knowledge base and
// the uploaded-document text store.
package knowledge

import (
	"context"

	"github.com/sattisatya/search-service/datatypes"
)

// Searcher finds the best knowledge-base match for a query vector.
type Searcher interface {
	// TopMatch returns the single best entry with certainty >= minCertainty,
	// or (nil, nil) when nothing clears the threshold. A nil result is a
	// routing outcome, not an error.
	TopMatch(ctx context.Context, vector []float32, minCertainty float64) (*datatypes.KnowledgeMatch, error)
}

// DocumentStore reads and writes caller-registered document text.
type DocumentStore interface {
	// FetchByIDs returns the stored documents for the given ids, in the
	// order the store yields them. Missing ids are simply absent from the
	// result.
	FetchByIDs(ctx context.Context, ids []string) ([]datatypes.UploadedDocument, error)

	// Put stores a document's extracted text.
	Put(ctx context.Context, doc datatypes.UploadedDocument) error

	// Delete removes every stored object for the given document id.
	Delete(ctx context.Context, id string) error
}
