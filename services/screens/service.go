// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package screens assembles the screen generation service.
//
// The Service wires configuration, the LLM backend, the tool catalog, the
// system prompt store, Prometheus metrics, tracing and the HTTP router.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := screens.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package screens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianScreens/services/llm"
	"github.com/AleutianAI/AleutianScreens/services/screens/config"
	"github.com/AleutianAI/AleutianScreens/services/screens/handlers"
	"github.com/AleutianAI/AleutianScreens/services/screens/middleware"
	"github.com/AleutianAI/AleutianScreens/services/screens/observability"
	"github.com/AleutianAI/AleutianScreens/services/screens/routes"
	"github.com/AleutianAI/AleutianScreens/services/screens/tools"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceName is the OpenTelemetry service name and otelgin server name.
const serviceName = "screens-service"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the lifecycle of the screens service.
//
// # Thread Safety
//
// Run blocks and should be called once per instance. Router may be called
// from tests at any time after New.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the server fails, then shuts
	// down gracefully and releases background resources.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service is the default Service implementation.
type service struct {
	config        config.Config
	router        *gin.Engine
	registry      *prometheus.Registry
	metrics       *observability.Metrics
	llmClient     llm.Client
	prompts       *config.PromptStore
	limiter       *middleware.RateLimiter
	tracerCleanup func(context.Context)
}

// Option customizes New. Used by tests to inject a model backend.
type Option func(*service)

// WithLLMClient uses client instead of building one from the configuration.
func WithLLMClient(client llm.Client) Option {
	return func(s *service) {
		s.llmClient = client
	}
}

// New builds the service from cfg.
//
// # Description
//
// Initialization order: tracer (only with an OTLP endpoint), metrics
// registry, system prompt store, LLM backend, tool catalog, router. Missing
// API credentials do not fail startup: the service runs and the generation
// endpoints answer with a configuration error, while /apply and /validate
// keep working.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Invalid configuration, unreadable prompt file, unknown backend,
//     or tracer setup failure.
func New(cfg config.Config, opts ...Option) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s := &service{config: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	} else {
		slog.Info("OTLP endpoint not configured, trace export disabled")
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)

	prompts, err := config.NewPromptStore(cfg.SystemPromptPath)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load system prompt: %w", err)
	}
	s.prompts = prompts

	if s.llmClient == nil {
		if err := s.initLLMClient(); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
	}

	catalog, err := tools.NewCatalog()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build tool catalog: %w", err)
	}

	s.limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, s.metrics)
	s.initRouter(handlers.NewScreensHandler(s.llmClient, catalog, s.prompts, s.metrics, handlers.Settings{
		StepBudget:        cfg.StepBudget,
		MaxRounds:         cfg.MaxRounds,
		KeepAliveInterval: cfg.KeepAliveInterval,
		Params: llm.GenerationParams{
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
	}))

	return s, nil
}

// Run starts the HTTP server and background workers.
//
// # Description
//
// The prompt watcher and rate limiter cleanup run until Run returns. When
// ctx is cancelled the server stops accepting connections and waits up to
// shutdownTimeout for in-flight turns.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := s.prompts.Watch(ctx); err != nil {
			slog.Warn("System prompt hot reload disabled", "error", err)
		}
	}()
	go s.limiter.RunCleanup(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting screens server", "port", s.config.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down screens server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// Router returns the Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Initialization Helpers
// =============================================================================

// stdoutEndpoint as the OTLP endpoint prints spans instead of exporting them.
const stdoutEndpoint = "stdout"

// initTracer exports spans over OTLP gRPC to the configured collector, or
// pretty-prints them to stdout for local debugging.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	traceExporter, err := newSpanExporter(ctx, s.config.OTelEndpoint)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
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
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// initLLMClient builds the configured backend. Missing credentials leave
// the client nil.
func (s *service) initLLMClient() error {
	client, err := llm.New(llm.Options{
		Backend: s.config.LLM.Backend,
		Model:   s.config.LLM.Model,
		BaseURL: s.config.LLM.BaseURL,
	})
	if errors.Is(err, llm.ErrMissingCredentials) {
		slog.Warn("LLM credentials not configured, generation endpoints disabled",
			"backend", s.config.LLM.Backend)
		return nil
	}
	if err != nil {
		return err
	}
	s.llmClient = client
	slog.Info("Using LLM backend", "backend", s.config.LLM.Backend, "model", client.Model())
	return nil
}

func (s *service) initRouter(h *handlers.ScreensHandler) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(serviceName))
	routes.SetupRoutes(s.router, h, s.limiter, s.registry)
}

func newSpanExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == stdoutEndpoint {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, nil
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return exporter, nil
}

func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// Compile-time interface check.
var _ Service = (*service)(nil)
