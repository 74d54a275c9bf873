// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services implements the answering pipeline: retrieval routing,
// fallback classification, title resolution, and conversation management.
package services

import (
	"errors"
	"fmt"
)

// ErrEmptyQuestion rejects a turn before any upstream call is made.
var ErrEmptyQuestion = errors.New("question must not be empty")

// ErrNotFound marks a delete that removed nothing.
var ErrNotFound = errors.New("conversation not found")

// UpstreamModelError wraps a failure of the language model or embedder.
// The turn cannot be answered; nothing is persisted.
type UpstreamModelError struct {
	Operation string // "generate", "embed", "title"
	Err       error
}

func (e *UpstreamModelError) Error() string {
	return fmt.Sprintf("model %s failed: %v", e.Operation, e.Err)
}

func (e *UpstreamModelError) Unwrap() error {
	return e.Err
}

// IsUpstreamModelError checks if an error is an UpstreamModelError.
func IsUpstreamModelError(err error) bool {
	var target *UpstreamModelError
	return errors.As(err, &target)
}

// UpstreamStoreError wraps a failure of the retrieval store (knowledge
// search or document fetch). Distinct from bookkeeping failures, which
// degrade silently.
type UpstreamStoreError struct {
	Operation string // "knowledge_search", "document_fetch", "document_put"
	Err       error
}

func (e *UpstreamStoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Operation, e.Err)
}

func (e *UpstreamStoreError) Unwrap() error {
	return e.Err
}

// IsUpstreamStoreError checks if an error is an UpstreamStoreError.
func IsUpstreamStoreError(err error) bool {
	var target *UpstreamStoreError
	return errors.As(err, &target)
}
