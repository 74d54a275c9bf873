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
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sattisatya/search-service/datatypes"
	"github.com/sattisatya/search-service/knowledge"
)

// DocumentService registers caller-extracted document text so the
// document path has something to read. Parsing bytes into text is the
// caller's job.
type DocumentService struct {
	docs knowledge.DocumentStore
}

func NewDocumentService(docs knowledge.DocumentStore) (*DocumentService, error) {
	if docs == nil {
		return nil, errors.New("document store must not be nil")
	}
	return &DocumentService{docs: docs}, nil
}

// Register stores a document's text under its caller-assigned id.
// Re-registering an id replaces the stored text.
func (d *DocumentService) Register(ctx context.Context, req datatypes.RegisterDocumentRequest) (*datatypes.RegisterDocumentResponse, error) {
	ctx, span := tracer.Start(ctx, "DocumentService.Register")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", req.DocumentID))

	if strings.TrimSpace(req.DocumentID) == "" {
		return nil, errors.New("document id must not be empty")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("document text must not be empty")
	}

	err := d.docs.Put(ctx, datatypes.UploadedDocument{
		DocumentID: req.DocumentID,
		FileName:   req.FileName,
		Text:       req.Text,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "document store write failed")
		return nil, &UpstreamStoreError{Operation: "document_put", Err: err}
	}

	return &datatypes.RegisterDocumentResponse{
		DocumentID: req.DocumentID,
		FileName:   req.FileName,
	}, nil
}
