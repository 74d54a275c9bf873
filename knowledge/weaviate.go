// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sattisatya/search-service/datatypes"
)

var tracer = otel.Tracer("search-service.knowledge")

// maxFollowUps caps the follow-up suggestions carried from a knowledge
// entry.
const maxFollowUps = 3

// WeaviateSearcher implements Searcher against the KnowledgeEntry class.
type WeaviateSearcher struct {
	client *weaviate.Client
}

func NewWeaviateSearcher(client *weaviate.Client) (*WeaviateSearcher, error) {
	if client == nil {
		return nil, errors.New("weaviate client must not be nil")
	}
	return &WeaviateSearcher{client: client}, nil
}

// TopMatch runs a nearVector query for the single closest knowledge entry
// at or above minCertainty. A below-threshold or empty result returns
// (nil, nil); the caller decides what a miss means.
func (s *WeaviateSearcher) TopMatch(ctx context.Context, vector []float32, minCertainty float64) (*datatypes.KnowledgeMatch, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.TopMatch")
	defer span.End()
	span.SetAttributes(attribute.Float64("search.min_certainty", minCertainty))

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithCertainty(float32(minCertainty))

	// Request certainty (always [0,1]) instead of distance which varies by metric
	fields := []graphql.Field{
		{Name: "question"},
		{Name: "answer"},
		{Name: "tags"},
		{Name: "file_url"},
		{Name: "follow_up_questions"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.KnowledgeEntryClass).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate search failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.KnowledgeQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	entries := parsed.Get.KnowledgeEntry
	if len(entries) == 0 {
		slog.Debug("No knowledge entry cleared the certainty threshold",
			"min_certainty", minCertainty)
		return nil, nil
	}

	best := entries[0]
	if best.Additional.Certainty < minCertainty {
		// The server-side certainty cut should already exclude this, but
		// certainty is re-checked here so the threshold holds even when
		// the server ignores the hint.
		return nil, nil
	}

	followUps := best.FollowUpQuestions
	if len(followUps) > maxFollowUps {
		followUps = followUps[:maxFollowUps]
	}
	return &datatypes.KnowledgeMatch{
		Question:          best.Question,
		Answer:            best.Answer,
		Tags:              best.Tags,
		FileURL:           best.FileURL,
		FollowUpQuestions: followUps,
		Certainty:         best.Additional.Certainty,
	}, nil
}

// WeaviateDocumentStore implements DocumentStore against the
// UploadedDocument class.
type WeaviateDocumentStore struct {
	client *weaviate.Client
}

func NewWeaviateDocumentStore(client *weaviate.Client) (*WeaviateDocumentStore, error) {
	if client == nil {
		return nil, errors.New("weaviate client must not be nil")
	}
	return &WeaviateDocumentStore{client: client}, nil
}

// FetchByIDs loads document text for the given ids with a single
// ContainsAny filter query.
func (d *WeaviateDocumentStore) FetchByIDs(ctx context.Context, ids []string) ([]datatypes.UploadedDocument, error) {
	ctx, span := tracer.Start(ctx, "WeaviateDocumentStore.FetchByIDs")
	defer span.End()
	span.SetAttributes(attribute.Int("documents.requested", len(ids)))

	if len(ids) == 0 {
		return nil, nil
	}

	where := filters.Where().
		WithPath([]string{"doc_id"}).
		WithOperator(filters.ContainsAny).
		WithValueText(ids...)

	fields := []graphql.Field{
		{Name: "doc_id"},
		{Name: "file_name"},
		{Name: "text"},
	}

	result, err := d.client.GraphQL().Get().
		WithClassName(datatypes.UploadedDocumentClass).
		WithFields(fields...).
		WithWhere(where).
		WithLimit(len(ids)).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate fetch failed")
		return nil, fmt.Errorf("weaviate document fetch failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.UploadedDocumentQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse document results: %w", err)
	}

	docs := make([]datatypes.UploadedDocument, 0, len(parsed.Get.UploadedDocument))
	for _, obj := range parsed.Get.UploadedDocument {
		docs = append(docs, datatypes.UploadedDocument{
			DocumentID: obj.DocID,
			FileName:   obj.FileName,
			Text:       obj.Text,
		})
	}
	slog.Debug("Fetched uploaded documents", "requested", len(ids), "found", len(docs))
	return docs, nil
}

// Put stores a document's text. Re-registering an id replaces the stored
// text: existing objects for the id are removed first.
func (d *WeaviateDocumentStore) Put(ctx context.Context, doc datatypes.UploadedDocument) error {
	ctx, span := tracer.Start(ctx, "WeaviateDocumentStore.Put")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", doc.DocumentID))

	if doc.DocumentID == "" {
		return errors.New("document id must not be empty")
	}

	if err := d.Delete(ctx, doc.DocumentID); err != nil {
		return err
	}

	props := datatypes.UploadedDocumentProperties{
		DocID:    doc.DocumentID,
		FileName: doc.FileName,
		Text:     doc.Text,
	}
	_, err := d.client.Data().Creator().
		WithClassName(datatypes.UploadedDocumentClass).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate create failed")
		return fmt.Errorf("weaviate document create failed: %w", err)
	}
	return nil
}

// Delete removes every stored object carrying the document id.
func (d *WeaviateDocumentStore) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "WeaviateDocumentStore.Delete")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"doc_id"}).
		WithOperator(filters.Equal).
		WithValueString(id)

	_, err := d.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.UploadedDocumentClass).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate delete failed")
		return fmt.Errorf("weaviate document delete failed: %w", err)
	}
	return nil
}
