// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command screens starts the screen generation HTTP server.
//
// # Environment Variables
//
//   - SCREENS_CONFIG: Optional YAML file, applied before the variables below
//   - SCREENS_PORT: HTTP server port (default: 12220)
//   - LLM_BACKEND_TYPE: openai, anthropic (claude), ollama (default: openai)
//   - SCREENS_STEP_BUDGET: Structural operations per turn (default: 25)
//   - SCREENS_SYSTEM_PROMPT_PATH: Agent prompt file, hot-reloaded
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (empty disables)
//
// API keys are read by each backend from its own variable or /run/secrets.
//
// # Usage
//
//	go build -o screens ./cmd/screens
//	OPENAI_API_KEY=... ./screens
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianScreens/services/screens"
	"github.com/AleutianAI/AleutianScreens/services/screens/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	slog.Info("Starting screens service",
		"port", cfg.Port,
		"llm_backend", cfg.LLM.Backend,
		"step_budget", cfg.StepBudget,
	)

	svc, err := screens.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create screens service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("Screens service error: %v", err)
	}
}
