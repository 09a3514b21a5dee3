// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the gin handlers of the screens service.
//
// # Endpoints
//
//	POST /v1/screens/stream    one turn as Server-Sent Events
//	GET  /v1/screens/ws        one turn per message over a WebSocket
//	POST /v1/screens/generate  one model call, whole Screen or Patch as JSON
//	POST /v1/screens/apply     pure reducer
//	POST /v1/screens/validate  invariant check
//	GET  /health
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianScreens/services/llm"
	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/observability"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/AleutianAI/AleutianScreens/services/screens/session"
	"github.com/AleutianAI/AleutianScreens/services/screens/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.screens.handlers")

// errConfiguration is the client-facing message when no model backend is
// configured.
const errConfiguration = "server configuration error"

// PromptSource supplies the agent system prompt. config.PromptStore
// implements it.
type PromptSource interface {
	SystemPrompt() string
}

// Settings tunes every turn the handler runs.
type Settings struct {
	StepBudget        int
	MaxRounds         int
	KeepAliveInterval time.Duration
	Params            llm.GenerationParams
}

// ScreensHandler serves the /v1/screens endpoints.
//
// # Description
//
// A nil LLM client is allowed: the reducer endpoints keep working and the
// generation endpoints answer 500 with a configuration error. This is how
// the service behaves when no API key is present.
//
// # Thread Safety
//
// Safe for concurrent use. Each turn gets its own Controller.
type ScreensHandler struct {
	client   llm.Client
	catalog  *tools.Catalog
	prompts  PromptSource
	metrics  *observability.Metrics
	settings Settings
}

// NewScreensHandler creates the handler.
//
// # Inputs
//
//   - client: Model backend. May be nil.
//   - catalog: Structural operation catalog. Must not be nil.
//   - prompts: System prompt source. Must not be nil.
//   - metrics: May be nil to disable metrics.
//   - settings: Zero values fall back to package defaults.
func NewScreensHandler(
	client llm.Client,
	catalog *tools.Catalog,
	prompts PromptSource,
	metrics *observability.Metrics,
	settings Settings,
) *ScreensHandler {
	if catalog == nil {
		panic("NewScreensHandler: catalog must not be nil")
	}
	if prompts == nil {
		panic("NewScreensHandler: prompts must not be nil")
	}
	if settings.StepBudget <= 0 {
		settings.StepBudget = session.DefaultStepBudget
	}
	if settings.MaxRounds <= 0 {
		settings.MaxRounds = session.DefaultMaxRounds
	}
	return &ScreensHandler{
		client:   client,
		catalog:  catalog,
		prompts:  prompts,
		metrics:  metrics,
		settings: settings,
	}
}

// runTurn runs one validated request to completion on emitter and records
// session metrics. Errors have already been reported on the stream when
// possible.
func (h *ScreensHandler) runTurn(
	ctx context.Context,
	req datatypes.TurnRequest,
	emitter session.Emitter,
	endpoint observability.Endpoint,
) (*datatypes.FinalEvent, error) {
	ctx, span := tracer.Start(ctx, "ScreensHandler.runTurn")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("session.endpoint", string(endpoint)),
		attribute.Int("request.message_count", len(req.Messages)),
	)

	start := req.StartingScreen()
	ctrl := session.NewController(start, emitter,
		session.WithSessionID(req.RequestID),
		session.WithModel(h.client.Model()),
		session.WithStepBudget(h.settings.StepBudget),
		session.WithMetrics(h.metrics),
		session.WithHistory(req.Messages, req.Prompt),
	)
	agent := &session.Agent{
		Client:  h.client,
		Catalog: h.catalog,
		Input: session.AgentInput{
			SystemPrompt: h.prompts.SystemPrompt(),
			History:      req.Messages,
			Prompt:       req.Prompt,
			Screen:       start,
		},
		Params:    h.settings.Params,
		MaxRounds: h.settings.MaxRounds,
		Metrics:   h.metrics,
	}

	startTime := time.Now()
	h.metrics.SessionStarted(endpoint)
	final, err := session.RunTurn(ctx, ctrl, agent)

	reason := ""
	if final != nil {
		reason = final.FinishReason
	}
	h.metrics.SessionEnded(endpoint, time.Since(startTime).Seconds(), reason)
	if err != nil {
		h.metrics.RecordError(endpoint, errorCode(ctx, err))
		slog.Warn("Screen turn failed", "request_id", req.RequestID, "endpoint", endpoint, "error", err)
		return nil, err
	}
	slog.Info("Screen turn completed",
		"request_id", req.RequestID,
		"endpoint", endpoint,
		"finish_reason", final.FinishReason,
		"operations", final.Operations,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return final, nil
}

// errorCode maps a turn error to its metrics label.
func errorCode(ctx context.Context, err error) observability.ErrorCode {
	switch {
	case ctx.Err() != nil:
		return observability.ErrorCodeClientDisconnect
	case errors.Is(err, session.ErrFinalValidation):
		return observability.ErrorCodeFinalValidation
	case errors.Is(err, session.ErrUpstream):
		return observability.ErrorCodeLLMError
	default:
		return observability.ErrorCodeInternal
	}
}

// requestErrorResponse builds the 400 body for a request that failed
// binding or validation.
func requestErrorResponse(err error) datatypes.ErrorResponse {
	return datatypes.ErrorResponse{Error: "invalid request", Details: violationsOf(err)}
}

func violationsOf(err error) []screen.Violation {
	if ve, ok := screen.AsValidationError(err); ok {
		return ve.Violations
	}
	return screen.ViolationsFrom(err)
}
