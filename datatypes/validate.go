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
	"strconv"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxQuestionBytes caps a single question. Checked in bytes, not
	// runes, so oversized payloads are rejected before any model call.
	MaxQuestionBytes = 8 * 1024 // 8KB

	// MaxDocumentTextBytes caps a registered document's extracted text.
	MaxDocumentTextBytes = 1024 * 1024 // 1MB
)

// apiValidate is the shared validator for request payloads.
// Initialized in init() with custom validators.
var apiValidate *validator.Validate

func init() {
	apiValidate = validator.New()
	_ = apiValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces a byte-length cap given as the tag parameter,
// e.g. `validate:"maxbytes=8192"`. Byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}

// Validate checks the payload limits gin's binding tags do not cover.
func (r *SearchRequest) Validate() error {
	return apiValidate.Struct(r)
}

// Validate checks the payload limits gin's binding tags do not cover.
func (r *RegisterDocumentRequest) Validate() error {
	return apiValidate.Struct(r)
}
