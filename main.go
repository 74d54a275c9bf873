// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/sattisatya/search-service/datatypes"
	"github.com/sattisatya/search-service/knowledge"
	"github.com/sattisatya/search-service/llm"
	"github.com/sattisatya/search-service/observability"
	"github.com/sattisatya/search-service/routes"
	"github.com/sattisatya/search-service/services"
	"github.com/sattisatya/search-service/session"
	storage "github.com/sattisatya/search-service/storage/badger"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "search-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("search-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func newWeaviateClient() *weaviate.Client {
	weaviateURL := os.Getenv("WEAVIATE_SERVICE_URL")
	// Sanitize: Trim quotes and whitespace in case the runtime passes them literally
	weaviateURL = strings.Trim(weaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Warn("WEAVIATE_SERVICE_URL not set or empty; retrieval requires it")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid", "url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	datatypes.EnsureWeaviateSchema(client)
	return client
}

func newLLMClient() (llm.LLMClient, llm.Embedder, error) {
	log.Println("Configuring the LLM Client")
	llmBackendType := os.Getenv("LLM_BACKEND_TYPE")

	switch llmBackendType {
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		client, err := llm.NewOllamaClient()
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	case "openai":
		slog.Info("Using OpenAI LLM backend")
		client, err := llm.NewOpenAIClient()
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to openai")
		client, err := llm.NewOpenAIClient()
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	}
}

func main() {
	port := os.Getenv("SEARCH_SERVICE_PORT")
	if port == "" {
		port = "12230"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	// --- Conversation store ---
	dbPath := os.Getenv("SESSION_DB_PATH")
	if dbPath == "" {
		dbPath = "/data/sessions"
		slog.Warn("SESSION_DB_PATH not set, defaulting", "path", dbPath)
	}
	dbConfig := storage.DefaultConfig()
	dbConfig.Path = dbPath
	dbConfig.Logger = logger
	db, err := storage.OpenDB(dbConfig)
	if err != nil {
		log.Fatalf("Failed to open session database: %v", err)
	}
	defer db.Close()

	store, err := session.NewStore(db)
	if err != nil {
		log.Fatalf("Failed to create session store: %v", err)
	}
	recency, err := session.NewRecencyIndex(db, store)
	if err != nil {
		log.Fatalf("Failed to create recency index: %v", err)
	}

	// --- Retrieval backends ---
	weaviateClient := newWeaviateClient()
	if weaviateClient == nil {
		log.Fatalf("A reachable Weaviate instance is required; set WEAVIATE_SERVICE_URL")
	}
	searcher, err := knowledge.NewWeaviateSearcher(weaviateClient)
	if err != nil {
		log.Fatalf("Failed to create knowledge searcher: %v", err)
	}
	docStore, err := knowledge.NewWeaviateDocumentStore(weaviateClient)
	if err != nil {
		log.Fatalf("Failed to create document store: %v", err)
	}

	llmClient, embedder, err := newLLMClient()
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	// --- Service layer ---
	metrics := observability.NewMetrics()
	titles, err := services.NewTitleResolver(llmClient)
	if err != nil {
		log.Fatalf("Failed to create title resolver: %v", err)
	}
	answers, err := services.NewAnswerService(services.AnswerServiceConfig{
		Store:        store,
		Recency:      recency,
		Titles:       titles,
		LLMClient:    llmClient,
		Embedder:     embedder,
		Searcher:     searcher,
		Documents:    docStore,
		Metrics:      metrics,
		MinCertainty: services.MinCertaintyFromEnv(),
	})
	if err != nil {
		log.Fatalf("Failed to create answer service: %v", err)
	}
	chats, err := services.NewChatService(store, recency)
	if err != nil {
		log.Fatalf("Failed to create chat service: %v", err)
	}
	documents, err := services.NewDocumentService(docStore)
	if err != nil {
		log.Fatalf("Failed to create document service: %v", err)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("search-service"))

	routes.SetupRoutes(router, routes.Services{
		Answers:   answers,
		Chats:     chats,
		Documents: documents,
		Metrics:   metrics,
	})

	log.Println("Starting the search service on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
