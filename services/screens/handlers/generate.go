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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianScreens/services/llm"
	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/observability"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// generateInstructions is appended to the system prompt for one-shot
// generation, where no tools are available.
const generateInstructions = `

Tools are not available for this request. Answer with one JSON object and nothing else.
Either regenerate the whole screen:
  {"mode": "screen", "screen": {"title": "...", "globalCss": "...", "components": {"<id>": {"name": "...", "html": "..."}}, "layout": ["<id>", ...]}}
or describe an edit to the current screen:
  {"mode": "patch", "patch": {"upsert_components": [{"id": "...", "name": "...", "html": "..."}], "delete_components": ["<id>"], "layout_patch": [{"op": "insert", "component_id": "<id>", "index": 9999}], "title": "...", "globalCss": "..."}}
Prefer a patch when the current screen already has components.`

// errModelOutput marks a model reply that is not a usable Screen or Patch.
var errModelOutput = errors.New("model returned an invalid screen")

// generation is the JSON object the model is asked to produce.
type generation struct {
	Mode   string         `json:"mode"`
	Screen *screen.Screen `json:"screen"`
	Patch  *screen.Patch  `json:"patch"`
}

// HandleGenerate produces a Screen with a single model call.
//
// # Description
//
// Handles POST /v1/screens/generate. The model answers with either a whole
// Screen or a Patch against the request's Screen. A whole Screen is
// normalized; a Patch is shape-checked and folded with screen.Apply. Either
// way the result must pass screen.Validate before it is returned.
//
// # Outputs
//
//   - 200: datatypes.GenerateResponse.
//   - 400: Malformed request, with details.
//   - 500: No model backend configured.
//   - 502: Model call failed, or the reply is not a valid Screen or Patch.
func (h *ScreensHandler) HandleGenerate(c *gin.Context) {
	endpoint := observability.EndpointGenerate
	startTime := time.Now()

	ctx, span := tracer.Start(c.Request.Context(), "ScreensHandler.HandleGenerate")
	defer span.End()

	var req datatypes.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, requestErrorResponse(err))
		return
	}
	if err := req.Validate(); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, requestErrorResponse(err))
		return
	}
	if h.client == nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeConfiguration)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: errConfiguration})
		return
	}
	req.EnsureDefaults()
	span.SetAttributes(attribute.String("request.id", req.RequestID))

	h.metrics.SessionStarted(endpoint)
	reason := ""
	defer func() {
		h.metrics.SessionEnded(endpoint, time.Since(startTime).Seconds(), reason)
	}()

	start := req.StartingScreen()
	messages, err := h.generateMessages(req, start)
	if err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
		return
	}

	reply, err := h.client.Chat(ctx, messages, h.settings.Params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		slog.Error("Screen generation model call failed", "request_id", req.RequestID, "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeLLMError)
		c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "upstream generation failed"})
		return
	}

	mode, result, patch, err := foldGeneration(start, reply)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid model output")
		slog.Warn("Model output rejected", "request_id", req.RequestID, "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeLLMError)
		c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: errModelOutput.Error(), Details: violationsOf(err)})
		return
	}
	digest, err := screen.Digest(result)
	if err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
		return
	}

	reason = datatypes.FinishReasonFinalize
	slog.Info("Screen generated",
		"request_id", req.RequestID,
		"mode", mode,
		"components", len(result.Components),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	c.JSON(http.StatusOK, datatypes.NewGenerateResponse(req.RequestID, mode, result, patch, digest))
}

func (h *ScreensHandler) generateMessages(req datatypes.TurnRequest, start screen.Screen) ([]llm.Message, error) {
	current, err := json.Marshal(start)
	if err != nil {
		return nil, fmt.Errorf("marshal current screen: %w", err)
	}
	messages := []llm.Message{{Role: llm.RoleSystem, Content: h.prompts.SystemPrompt() + generateInstructions}}
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("Current screen:\n```json\n%s\n```\n\nRequest: %s", current, req.Prompt),
	})
	return messages, nil
}

// foldGeneration turns a model reply into the resulting Screen.
//
// # Outputs
//
//   - string: datatypes.GenerateModeScreen or datatypes.GenerateModePatch.
//   - screen.Screen: The validated result.
//   - *screen.Patch: The applied Patch in patch mode, nil otherwise.
//   - error: Wraps errModelOutput; carries a *screen.ValidationError when
//     the shape was readable but broke an invariant.
func foldGeneration(start screen.Screen, reply string) (string, screen.Screen, *screen.Patch, error) {
	raw, ok := extractJSONObject(reply)
	if !ok {
		return "", screen.Screen{}, nil, fmt.Errorf("%w: no JSON object in reply", errModelOutput)
	}
	var g generation
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return "", screen.Screen{}, nil, fmt.Errorf("%w: %w", errModelOutput, err)
	}

	mode := g.Mode
	if mode == "" {
		switch {
		case g.Screen != nil:
			mode = datatypes.GenerateModeScreen
		case g.Patch != nil:
			mode = datatypes.GenerateModePatch
		}
	}

	var (
		result screen.Screen
		patch  *screen.Patch
	)
	switch {
	case mode == datatypes.GenerateModeScreen && g.Screen != nil:
		result = screen.Normalize(*g.Screen)
	case mode == datatypes.GenerateModePatch && g.Patch != nil:
		if err := screen.ValidatePatch(*g.Patch); err != nil {
			return "", screen.Screen{}, nil, fmt.Errorf("%w: %w", errModelOutput, err)
		}
		result = screen.Apply(start, *g.Patch)
		patch = g.Patch
	default:
		return "", screen.Screen{}, nil, fmt.Errorf("%w: mode %q without matching payload", errModelOutput, g.Mode)
	}

	if err := screen.Validate(result); err != nil {
		return "", screen.Screen{}, nil, fmt.Errorf("%w: %w", errModelOutput, err)
	}
	return mode, result, patch, nil
}

// extractJSONObject returns the outermost {...} span of s, which tolerates
// code fences and chatter around the object.
func extractJSONObject(s string) (string, bool) {
	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first < 0 || last <= first {
		return "", false
	}
	return s[first : last+1], true
}
