// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sattisatya/search-service/datatypes"
	"github.com/sattisatya/search-service/observability"
	"github.com/sattisatya/search-service/services"
)

// HandleRegisterDocument stores a document's extracted text so
// conversations can ground answers in it.
func HandleRegisterDocument(documents *services.DocumentService, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RegisterDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.RecordRequest("documents", "error")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			metrics.RecordRequest("documents", "error")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		resp, err := documents.Register(c.Request.Context(), req)
		if err != nil {
			metrics.RecordRequest("documents", "error")
			if services.IsUpstreamStoreError(err) {
				slog.Error("Document store write failed", "document_id", req.DocumentID, "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document store unavailable"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		metrics.RecordRequest("documents", "success")
		c.JSON(http.StatusCreated, resp)
	}
}
