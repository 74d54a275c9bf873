// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the HTTP surface: turn submission, history,
// listing, deletion, and document registration.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sattisatya/search-service/datatypes"
	"github.com/sattisatya/search-service/observability"
	"github.com/sattisatya/search-service/services"
)

// HandleSearch answers one conversation turn.
//
// Status mapping:
//
//	400 - empty question or malformed request
//	502 - the model or embedder failed
//	503 - the retrieval store failed
//	500 - anything else
func HandleSearch(answers *services.AnswerService, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.RecordRequest("search", "error")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			metrics.RecordRequest("search", "error")
			c.JSON(http.StatusBadRequest, gin.H{"error": "question must not be empty"})
			return
		}
		if err := req.Validate(); err != nil {
			metrics.RecordRequest("search", "error")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		resp, err := answers.Answer(c.Request.Context(), req)
		if err != nil {
			metrics.RecordRequest("search", "error")
			switch {
			case errors.Is(err, services.ErrEmptyQuestion):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case services.IsUpstreamModelError(err):
				slog.Error("Model upstream failed", "error", err)
				c.JSON(http.StatusBadGateway, gin.H{"error": "language model unavailable"})
			case services.IsUpstreamStoreError(err):
				slog.Error("Retrieval store failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "retrieval store unavailable"})
			default:
				slog.Error("Search failed", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}

		metrics.RecordRequest("search", "success")
		c.JSON(http.StatusOK, resp)
	}
}
