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

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// KnowledgeEntryClass is the Weaviate class holding the pre-indexed
// knowledge base queried on the vector path.
const KnowledgeEntryClass = "KnowledgeEntry"

// UploadedDocumentClass is the Weaviate class holding caller-registered
// document text read on the document path.
const UploadedDocumentClass = "UploadedDocument"

func GetKnowledgeEntrySchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       KnowledgeEntryClass,
		Description: "A pre-indexed question/answer pair with source metadata.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "question",
				DataType:     []string{"text"},
				Description:  "The canonical question this entry answers.",
				Tokenization: "word",
			},
			{
				Name:         "answer",
				DataType:     []string{"text"},
				Description:  "The stored answer text.",
				Tokenization: "word",
			},
			{
				Name:            "tags",
				DataType:        []string{"text[]"},
				Description:     "Display labels for the answer's sources.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "file_url",
				DataType:        []string{"text"},
				Description:     "Link to the source material, if any.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "follow_up_questions",
				DataType:    []string{"text[]"},
				Description: "Suggested next questions for this entry.",
			},
		},
	}
}

func GetUploadedDocumentSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       UploadedDocumentClass,
		Description: "Extracted text of a document registered by a caller.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "doc_id",
				DataType:        []string{"text"},
				Description:     "Caller-assigned document identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "file_name",
				DataType:        []string{"text"},
				Description:     "Original file name, for display.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "The extracted document text.",
				Tokenization: "word",
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes at startup. Existing
// classes are left untouched.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetKnowledgeEntrySchema,
		GetUploadedDocumentSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
