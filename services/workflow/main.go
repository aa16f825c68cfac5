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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
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

	"github.com/AleutianAI/kodiak/services/workflow/audit"
	"github.com/AleutianAI/kodiak/services/workflow/authority"
	"github.com/AleutianAI/kodiak/services/workflow/collaborator"
	"github.com/AleutianAI/kodiak/services/workflow/config"
	"github.com/AleutianAI/kodiak/services/workflow/resilience"
	"github.com/AleutianAI/kodiak/services/workflow/routes"
	"github.com/AleutianAI/kodiak/services/workflow/scheduler"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("workflow-service")))
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

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	// --- Init the tracer ---
	cleanup, err := initTracer(cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	// --- Audit trail ---
	var sink audit.Sink
	if cfg.AuditPath != "" {
		sink, err = audit.NewBadgerSink(audit.BadgerConfig{
			Path:       cfg.AuditPath,
			SyncWrites: true,
			Logger:     logger.With(slog.String("component", "audit_badger")),
		})
		if err != nil {
			log.Fatalf("FATAL: could not open the audit sink: %v", err)
		}
		slog.Info("durable audit sink opened", "path", cfg.AuditPath)
	} else {
		sink = audit.NewMemorySink()
		slog.Warn("KODIAK_AUDIT_PATH not set, audit trail is in-memory only")
	}
	defer sink.Close()

	// --- Authority matrix ---
	matrix := authority.EmptyMatrix()
	if cfg.AuthorityMatrixPath != "" {
		matrix, err = authority.LoadMatrixFile(cfg.AuthorityMatrixPath)
		if err != nil {
			log.Fatalf("FATAL: could not load the authority matrix: %v", err)
		}
		slog.Info("authority matrix loaded",
			"path", cfg.AuthorityMatrixPath, "rules", matrix.RuleCount())
	} else {
		slog.Warn("KODIAK_AUTHORITY_MATRIX not set, every authority check passes")
	}
	enforcer := authority.NewEnforcer(matrix, sink, logger)

	if cfg.AuthorityMatrixPath != "" {
		watcher, err := authority.NewMatrixWatcher(cfg.AuthorityMatrixPath, enforcer, logger)
		if err != nil {
			slog.Error("matrix hot reload disabled", "error", err)
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	// --- Collaborator registry ---
	router, err := collaborator.LoadRouter(cfg.CollaboratorsPath)
	if err != nil {
		log.Fatalf("FATAL: could not load the collaborator registry: %v", err)
	}
	slog.Info("collaborators registered", "task_types", router.TaskTypes())

	// --- Scheduler engine ---
	engine, err := scheduler.NewEngine(scheduler.Config{
		Workers:         cfg.Workers,
		DispatchTimeout: cfg.DispatchTimeout,
		MaxRetries:      cfg.MaxRetries,
		RetryBaseDelay:  cfg.RetryBaseDelay,
		RetryMaxDelay:   cfg.RetryMaxDelay,
		Breaker: resilience.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			ResetTimeout:     cfg.BreakerResetTimeout,
		},
	}, router, enforcer, sink, logger)
	if err != nil {
		log.Fatalf("FATAL: could not create the scheduler engine: %v", err)
	}

	ginRouter := gin.Default()
	ginRouter.Use(otelgin.Middleware("workflow-service"))
	routes.SetupRoutes(ginRouter, engine)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: ginRouter,
	}

	go func() {
		slog.Info("starting the workflow server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received, draining runs")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		slog.Error("engine drain incomplete", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}
