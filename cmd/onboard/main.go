// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command onboard starts the client onboarding API server.
//
// The service pulls a client's CSV export, maps its columns onto the CRM
// schema using learned mappings plus an LLM classifier, phones a human
// for the mappings it is unsure about, and deploys the transformed
// records. Confirmed mappings are remembered, so each onboarding teaches
// the next one.
//
// Usage:
//
//	go run ./cmd/onboard
//	go run ./cmd/onboard -port 9090 -config ./onboard.yaml
//
// With a live classifier and embedder:
//
//	GEMINI_API_KEY=... EMBEDDING_SERVICE_URL=http://localhost:11434 go run ./cmd/onboard
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/health
//
//	# Onboard the bundled demo client
//	curl -X POST http://localhost:8080/v1/onboard/acme
//
//	# Inspect learned mappings
//	curl http://localhost:8080/v1/memory | jq
//
//	# Watch a run live
//	curl -N http://localhost:8080/v1/events
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/onboard/services/onboard"
	"github.com/AleutianAI/onboard/services/onboard/arbiter"
	"github.com/AleutianAI/onboard/services/onboard/classify"
	"github.com/AleutianAI/onboard/services/onboard/config"
	"github.com/AleutianAI/onboard/services/onboard/deploy"
	"github.com/AleutianAI/onboard/services/onboard/events"
	"github.com/AleutianAI/onboard/services/onboard/memory"
	"github.com/AleutianAI/onboard/services/onboard/research"
	"github.com/AleutianAI/onboard/services/onboard/resolve"
	"github.com/AleutianAI/onboard/services/onboard/schema"
	"github.com/AleutianAI/onboard/services/onboard/source"
	badgerstore "github.com/AleutianAI/onboard/services/onboard/storage/badger"
)

func main() {
	port := flag.Int("port", 0, "Server port (overrides config)")
	configPath := flag.String("config", "", "Path to a YAML config file")
	debug := flag.Bool("debug", false, "Enable debug logging and Gin debug mode")
	traceStdout := flag.Bool("trace-stdout", false, "Export OTel spans to stdout")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	// Trace context flows from incoming headers through all handlers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	shutdownTracing := setupTracing(*traceStdout, logger)
	defer shutdownTracing()

	db, err := badgerstore.Open(cfg.Server.DataDir, logger)
	if err != nil {
		logger.Error("Failed to open mapping memory database",
			slog.String("path", cfg.Server.DataDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	components, err := buildComponents(cfg, db, logger)
	if err != nil {
		logger.Error("Failed to assemble pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Re-embed stored mappings if the embedding backend changed since the
	// last run. Non-fatal: a failed warm just means slower first lookups.
	if err := components.memory.Warm(context.Background()); err != nil {
		logger.Warn("Memory warm-up failed", slog.String("error", err.Error()))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("onboard"))
	if *debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	onboard.RegisterRoutes(v1, components.handlers)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutting down onboarding server")
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close mapping memory database", slog.String("error", err.Error()))
		}
		shutdownTracing()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Starting onboarding server",
		slog.String("address", addr),
		slog.Bool("voice_simulated", cfg.Resolve.Simulate),
	)
	if err := router.Run(addr); err != nil {
		logger.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// components bundles everything main wires together.
type components struct {
	memory   *memory.Store
	handlers *onboard.Handlers
}

// buildComponents assembles the pipeline from configuration. Every
// external dependency degrades to a local stand-in: no Gemini key means
// rule-based classification, no Plivo credentials mean the voice
// simulator, no Sheets token means the logging sink.
func buildComponents(cfg *config.Config, db *badgerstore.DB, logger *slog.Logger) (*components, error) {
	targetSchema, err := schema.Default()
	if err != nil {
		return nil, fmt.Errorf("loading target schema: %w", err)
	}

	fallback := memory.NewFallbackEmbedder(memory.NewOllamaEmbedder(logger), memory.NewHashEmbedder(), logger)
	embedder := memory.NewCachedEmbedder(db, fallback, logger)
	store := memory.NewStore(db, embedder, memory.Config{
		DistanceThreshold: cfg.Memory.DistanceThreshold,
		LowUsePenalty:     cfg.Memory.LowUsePenalty,
		MinVerifiedUses:   cfg.Memory.MinVerifiedUses,
	}, logger)

	var classifier classify.Classifier
	if gemini, err := classify.NewGemini(logger); err == nil {
		classifier = gemini
	} else {
		logger.Warn("Gemini unavailable, using rule-based classification",
			slog.String("error", err.Error()))
		classifier = classify.NewRuleTable()
	}

	sessions := resolve.NewManager(resolve.ManagerConfig{
		RetryCeiling:    cfg.Resolve.RetryCeiling,
		ConfidenceFloor: cfg.Resolve.ConfidenceFloor,
	}, logger)

	var dialer resolve.Dialer
	if cfg.Resolve.Simulate {
		dialer = resolve.NewSimDialer(sessions, nil, 0, logger)
	} else {
		plivo, err := resolve.NewPlivoDialer(logger)
		if err != nil {
			logger.Warn("Plivo unavailable, falling back to voice simulator",
				slog.String("error", err.Error()))
			dialer = resolve.NewSimDialer(sessions, nil, 0, logger)
		} else {
			dialer = plivo
		}
	}
	resolver := resolve.NewResolver(sessions, dialer, resolve.ResolverConfig{
		ToNumber:       cfg.Resolve.OperatorNumber,
		QuestionWindow: cfg.Resolve.QuestionWindow(),
		SessionTimeout: cfg.Resolve.SessionTimeout(),
	}, logger)

	local := source.NewLocalSource()
	var dataSource source.DataSource = local
	if cfg.Source.PortalURLTemplate != "" {
		dataSource = source.NewChain(source.NewPortalSource(cfg.Source.PortalURLTemplate, logger), local)
	}

	var sink deploy.Sink
	if sheets, err := deploy.NewSheetsSink(logger); err == nil {
		sink = deploy.NewChain(logger, sheets, deploy.NewLogSink(logger))
	} else {
		logger.Warn("Google Sheets unavailable, deployments will be logged",
			slog.String("error", err.Error()))
		sink = deploy.NewLogSink(logger)
	}

	var researcher *research.Engine
	if cfg.Research.Enabled {
		researcher = research.NewEngine(logger)
	}

	broker := events.NewBroker()

	pipeline, err := onboard.NewPipeline(onboard.PipelineOptions{
		Source:     dataSource,
		Memory:     store,
		Classifier: classifier,
		Arbiter:    arbiter.New(logger),
		Resolver:   resolver,
		Research:   researcher,
		Sink:       sink,
		Schema:     targetSchema,
		Broker:     broker,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &components{
		memory:   store,
		handlers: onboard.NewHandlers(pipeline, store, sessions, broker, local, logger),
	}, nil
}

// setupTracing installs a stdout span exporter when requested. The
// returned func flushes and shuts the provider down; it is a no-op when
// tracing is disabled.
func setupTracing(enabled bool, logger *slog.Logger) func() {
	if !enabled {
		return func() {}
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		logger.Warn("Failed to create stdout trace exporter", slog.String("error", err.Error()))
		return func() {}
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("Failed to shut down trace provider", slog.String("error", err.Error()))
		}
	}
}
