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
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/session"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes turn events to an HTTP response as Server-Sent Events.
//
// # Description
//
// Each event is written in the wire format
//
//	id: {seq}
//	event: {type}
//	data: {json}
//
// followed by a blank line, and flushed immediately. SSEWriter is also a
// session.Emitter so a Controller can write to it directly.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The heartbeat goroutine
// writes keepalive comments while the Controller writes events.
//
// # Assumptions
//
//   - Caller has set the SSE headers via SetSSEHeaders before the first write.
type SSEWriter interface {
	session.Emitter

	// WriteEvent writes one event and flushes.
	//
	// # Outputs
	//
	//   - error: Non-nil if JSON marshaling or writing failed.
	WriteEvent(ev datatypes.Event) error

	// WriteKeepAlive sends an SSE comment (": ping") so proxies with idle
	// timeouts keep the connection open while the model is thinking. Comments
	// are ignored by clients and carry no id.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// # Fields
//
//   - writer: Underlying http.ResponseWriter
//   - flusher: http.Flusher for immediate send
//   - mu: Serializes writes from the Controller and the heartbeat
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter creates a new SSEWriter for the given ResponseWriter.
//
// # Outputs
//
//   - SSEWriter: Ready to write events.
//   - error: Non-nil if the ResponseWriter doesn't support flushing.
//
// # Examples
//
//	SetSSEHeaders(c.Writer)
//	writer, err := NewSSEWriter(c.Writer)
//	if err != nil {
//	    c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
//	    return
//	}
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// WriteEvent writes a single event. The payload is marshaled onto one data
// line; encoding/json never emits raw newlines.
func (w *sseWriter) WriteEvent(ev datatypes.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// Emit implements session.Emitter. Nothing is written once ctx is done.
func (w *sseWriter) Emit(ctx context.Context, ev datatypes.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.WriteEvent(ev)
}

// WriteKeepAlive sends a comment line.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the required headers for SSE streaming.
//
// X-Accel-Buffering disables nginx response buffering.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
