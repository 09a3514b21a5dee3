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
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/observability"
	"github.com/gin-gonic/gin"
)

// HandleStream runs one turn and streams its events as SSE.
//
// # Description
//
// Handles POST /v1/screens/stream. The request is bound and validated
// before any header is written, so malformed bodies get a plain 400 with
// field-level details and a missing model backend gets a 500. After that
// the response is an event stream: ready, tool_call/patch pairs, then
// exactly one final or error event.
//
// # Inputs
//
//   - c: Gin context with a datatypes.TurnRequest body.
//
// # Limitations
//
//   - One turn per request. Multi-turn conversations resend the messages
//     returned in the final event.
func (h *ScreensHandler) HandleStream(c *gin.Context) {
	endpoint := observability.EndpointSSE

	var req datatypes.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("Failed to parse screen stream request", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, requestErrorResponse(err))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Screen stream request validation failed", "error", err)
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

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		slog.Error("Failed to create SSE writer", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
		return
	}
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	done := make(chan struct{})
	var heartbeat sync.WaitGroup
	heartbeat.Add(1)
	go func() {
		defer heartbeat.Done()
		h.runHeartbeat(ctx, writer, endpoint, done)
	}()
	// The heartbeat must be gone before the handler returns the writer to gin.
	defer heartbeat.Wait()
	defer close(done)

	_, _ = h.runTurn(ctx, req, writer, endpoint)
}

// runHeartbeat writes keepalive comments until done is closed or ctx ends.
//
// # Limitations
//
//   - A failed keepalive write stops the heartbeat; the next event write
//     will surface the broken connection.
func (h *ScreensHandler) runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	interval := h.settings.KeepAliveInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			h.metrics.RecordKeepAlive(endpoint)
		}
	}
}
