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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target
// type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required
// to convert Weaviate's dynamic response (map[string]models.JSONObject) into
// a strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response
//     structure.
//   - Type mismatches will result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// KnowledgeQueryResponse is the typed shape of a KnowledgeEntry nearVector
// query result.
type KnowledgeQueryResponse struct {
	Get struct {
		KnowledgeEntry []struct {
			Question          string   `json:"question"`
			Answer            string   `json:"answer"`
			Tags              []string `json:"tags"`
			FileURL           string   `json:"file_url"`
			FollowUpQuestions []string `json:"follow_up_questions"`
			Additional        struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"KnowledgeEntry"`
	} `json:"Get"`
}

// UploadedDocumentQueryResponse is the typed shape of an UploadedDocument
// fetch-by-id query result.
type UploadedDocumentQueryResponse struct {
	Get struct {
		UploadedDocument []struct {
			DocID    string `json:"doc_id"`
			FileName string `json:"file_name"`
			Text     string `json:"text"`
		} `json:"UploadedDocument"`
	} `json:"Get"`
}

// UploadedDocumentProperties is the property map written when registering
// a document.
type UploadedDocumentProperties struct {
	DocID    string `json:"doc_id"`
	FileName string `json:"file_name"`
	Text     string `json:"text"`
}

// ToMap converts the properties to the map shape the Weaviate data client
// expects.
func (p UploadedDocumentProperties) ToMap() map[string]any {
	return map[string]any{
		"doc_id":    p.DocID,
		"file_name": p.FileName,
		"text":      p.Text,
	}
}
