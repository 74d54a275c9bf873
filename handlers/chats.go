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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sattisatya/search-service/datatypes"
	"github.com/sattisatya/search-service/observability"
	"github.com/sattisatya/search-service/services"
)

// HandleGetHistory returns a conversation's history.
// Query param chat_kind is required to disambiguate the id namespace.
func HandleGetHistory(chats *services.ChatService, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("chatId")
		kind, err := datatypes.ParseChatKind(c.Query("chat_kind"))
		if err != nil {
			metrics.RecordRequest("history", "error")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := chats.History(c.Request.Context(), kind, chatID)
		if err != nil {
			metrics.RecordRequest("history", "error")
			slog.Error("History fetch failed", "chat_id", chatID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "conversation store unavailable"})
			return
		}
		metrics.RecordRequest("history", "success")
		c.JSON(http.StatusOK, resp)
	}
}

// HandleListChats returns conversations newest-first. The include_question
// and include_insight flags default to true, matching the listing's
// default kinds.
func HandleListChats(chats *services.ChatService, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		includeQuestion := boolQuery(c, "include_question", true)
		includeInsight := boolQuery(c, "include_insight", true)

		var kinds []datatypes.ChatKind
		if includeQuestion {
			kinds = append(kinds, datatypes.ChatKindQuestion)
		}
		if includeInsight {
			kinds = append(kinds, datatypes.ChatKindInsight)
		}
		if kinds == nil {
			metrics.RecordRequest("list", "success")
			c.JSON(http.StatusOK, datatypes.ChatListResponse{Chats: []datatypes.ChatListItem{}})
			return
		}

		items, err := chats.List(c.Request.Context(), kinds)
		if err != nil {
			metrics.RecordRequest("list", "error")
			slog.Error("Chat listing failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "conversation store unavailable"})
			return
		}
		if items == nil {
			items = []datatypes.ChatListItem{}
		}
		metrics.RecordRequest("list", "success")
		c.JSON(http.StatusOK, datatypes.ChatListResponse{Chats: items})
	}
}

// HandleDeleteChat deletes one conversation. Without a chat_kind query
// param the id is deleted across the default kinds.
func HandleDeleteChat(chats *services.ChatService, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("chatId")

		var kind *datatypes.ChatKind
		if raw := c.Query("chat_kind"); raw != "" {
			parsed, err := datatypes.ParseChatKind(raw)
			if err != nil {
				metrics.RecordRequest("delete", "error")
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			kind = &parsed
		}

		resp, err := chats.Delete(c.Request.Context(), kind, chatID)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				metrics.RecordRequest("delete", "error")
				c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
				return
			}
			metrics.RecordRequest("delete", "error")
			slog.Error("Chat deletion failed", "chat_id", chatID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "conversation store unavailable"})
			return
		}
		metrics.RecordRequest("delete", "success")
		c.JSON(http.StatusOK, resp)
	}
}

// HandleDeleteAllChats wipes every conversation.
func HandleDeleteAllChats(chats *services.ChatService, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := chats.DeleteAll(c.Request.Context())
		if err != nil {
			metrics.RecordRequest("delete", "error")
			slog.Error("Bulk chat deletion failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":  "conversation store unavailable",
				"result": resp,
			})
			return
		}
		metrics.RecordRequest("delete", "success")
		c.JSON(http.StatusOK, resp)
	}
}

func boolQuery(c *gin.Context, name string, def bool) bool {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
