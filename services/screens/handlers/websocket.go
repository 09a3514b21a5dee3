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
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/observability"
	"github.com/AleutianAI/AleutianScreens/services/screens/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// maxWSMessageBytes bounds one client message. A request carries a whole
// Screen, so this is generous.
const maxWSMessageBytes = 16 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsEmitter writes each event as one JSON text message {id, event, data}.
// Only the turn goroutine writes data frames; pings use WriteControl, which
// gorilla allows concurrently.
type wsEmitter struct {
	ws *websocket.Conn
}

// Emit implements session.Emitter.
func (e wsEmitter) Emit(ctx context.Context, ev datatypes.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.ws.WriteJSON(ev)
}

// HandleWebSocket runs turns over a WebSocket.
//
// # Description
//
// Handles GET /v1/screens/ws. Every text message from the client is one
// datatypes.TurnRequest; the turn's events are sent back in order as
// {"id", "event", "data"} messages, using the same event names and payloads
// as the SSE endpoint. Turns run one at a time; a request sent while a turn
// is running waits for it to finish. Closing the socket cancels the running
// turn.
//
// An invalid request is answered with a single error event (id 0) and the
// connection stays open.
func (h *ScreensHandler) HandleWebSocket(c *gin.Context) {
	endpoint := observability.EndpointWebSocket

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxWSMessageBytes)
	slog.Info("Websocket client connected", "remote", c.ClientIP())

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	requests := make(chan []byte, 1)
	go func() {
		defer close(requests)
		defer cancel()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				slog.Info("Websocket client disconnected", "error", err.Error())
				return
			}
			select {
			case requests <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	go h.runPinger(ctx, ws, endpoint)

	for data := range requests {
		var req datatypes.TurnRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
			if h.rejectWS(ws, "invalid request body", datatypes.ErrorCodeInvalidRequest) != nil {
				return
			}
			continue
		}
		if err := req.Validate(); err != nil {
			h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
			if h.rejectWS(ws, err.Error(), datatypes.ErrorCodeInvalidRequest) != nil {
				return
			}
			continue
		}
		if h.client == nil {
			h.metrics.RecordError(endpoint, observability.ErrorCodeConfiguration)
			_ = h.rejectWS(ws, errConfiguration, datatypes.ErrorCodeConfiguration)
			return
		}
		req.EnsureDefaults()

		if _, err := h.runTurn(ctx, req, wsEmitter{ws: ws}, endpoint); err != nil && ctx.Err() != nil {
			return
		}
	}
}

// rejectWS sends an error event that is not part of any turn.
func (h *ScreensHandler) rejectWS(ws *websocket.Conn, message, code string) error {
	err := ws.WriteJSON(datatypes.Event{
		Type: datatypes.EventError,
		Data: datatypes.ErrorEvent{Message: message, Code: code},
	})
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// runPinger sends ping control frames at the keepalive interval until ctx
// ends.
func (h *ScreensHandler) runPinger(ctx context.Context, ws *websocket.Conn, endpoint observability.Endpoint) {
	interval := h.settings.KeepAliveInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				slog.Debug("Failed to write websocket ping", "error", err)
				return
			}
			h.metrics.RecordKeepAlive(endpoint)
		}
	}
}

var _ session.Emitter = wsEmitter{}
