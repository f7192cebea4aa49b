// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
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
	"github.com/spf13/cobra"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jaggannadhan/VibeForge/pkg/logging"
	"github.com/jaggannadhan/VibeForge/services/api"
	"github.com/jaggannadhan/VibeForge/services/browser"
	"github.com/jaggannadhan/VibeForge/services/engine"
	"github.com/jaggannadhan/VibeForge/services/provider"
	"github.com/jaggannadhan/VibeForge/services/sandbox"
	"github.com/jaggannadhan/VibeForge/services/snapshot"
	"github.com/jaggannadhan/VibeForge/services/tracebus"
)

var serveFlags struct {
	port        string
	storageRoot string
	configPath  string
	templateDir string
	logLevel    string
	logDir      string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the refinement service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.port, "port", "12300", "HTTP listen port")
	serveCmd.Flags().StringVar(&serveFlags.storageRoot, "storage-root", "./data", "storage root for projects, snapshots, and artifacts")
	serveCmd.Flags().StringVar(&serveFlags.configPath, "config", "", "engine config YAML (defaults used when empty)")
	serveCmd.Flags().StringVar(&serveFlags.templateDir, "template-dir", "", "workspace template for manifest self-heal")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&serveFlags.logDir, "log-dir", "", "optional log file directory")
}

// initTracer wires the OTLP trace exporter when a collector endpoint is
// configured; without one, tracing stays local-only.
func initTracer() (func(context.Context), error) {
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		return func(context.Context) {}, nil
	}

	ctx := context.Background()
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
		resource.WithAttributes(semconv.ServiceNameKey.String("vibeforge")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// initMeter exposes OTel metrics through the Prometheus registry serving
// /metrics.
func initMeter() error {
	exporter, err := otelprom.New()
	if err != nil {
		return err
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(serveFlags.logLevel),
		LogDir:  serveFlags.logDir,
		Service: "vibeforge",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	if err := initMeter(); err != nil {
		log.Fatalf("failed to setup the metrics exporter: %v", err)
	}

	cfg, err := engine.LoadConfig(serveFlags.configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(serveFlags.storageRoot, 0755); err != nil {
		return err
	}

	codegen, err := provider.NewOpenAICodeGen()
	if err != nil {
		return err
	}
	scorer, err := provider.NewOpenAIScorer()
	if err != nil {
		return err
	}

	capturer := browser.NewChromeCapturer(0, logger.Slog())
	defer capturer.Close()

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.TemplateDir = serveFlags.templateDir
	sandboxes := sandbox.NewManager(sandboxCfg, logger.Slog())
	defer sandboxes.StopAll()

	snapshots := snapshot.NewStore(serveFlags.storageRoot, logger.Slog())

	eventStore, err := tracebus.OpenBadgerStore(serveFlags.storageRoot + "/events")
	if err != nil {
		return err
	}
	bus := tracebus.NewBus(eventStore, logger.Slog())
	defer bus.Close()

	runs := engine.NewRunManager(logger.Slog())
	defer runs.StopAll()

	server := api.NewServer(cfg, serveFlags.storageRoot, runs, sandboxes, snapshots, bus,
		codegen, scorer, capturer, logger.Slog())

	router := gin.Default()
	router.Use(otelgin.Middleware("vibeforge"))
	api.SetupRoutes(router, server)

	httpServer := &http.Server{
		Addr:    ":" + serveFlags.port,
		Handler: router,
	}

	go func() {
		slog.Info("starting the refinement service", "port", serveFlags.port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
