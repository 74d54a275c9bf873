// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sattisatya/search-service/handlers"
	"github.com/sattisatya/search-service/observability"
	"github.com/sattisatya/search-service/services"
)

// Services bundles the wired service layer for route registration.
type Services struct {
	Answers   *services.AnswerService
	Chats     *services.ChatService
	Documents *services.DocumentService
	Metrics   *observability.Metrics
}

func SetupRoutes(router *gin.Engine, svc Services) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/search", handlers.HandleSearch(svc.Answers, svc.Metrics))
		v1.POST("/documents", handlers.HandleRegisterDocument(svc.Documents, svc.Metrics))

		chats := v1.Group("/chats")
		{
			chats.GET("", handlers.HandleListChats(svc.Chats, svc.Metrics))
			chats.GET("/:chatId", handlers.HandleGetHistory(svc.Chats, svc.Metrics))
			chats.DELETE("/:chatId", handlers.HandleDeleteChat(svc.Chats, svc.Metrics))
			chats.DELETE("", handlers.HandleDeleteAllChats(svc.Chats, svc.Metrics))
		}
	}
}
