// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/gorilla/websocket"
)

// maxEventBytes bounds one SSE line. A final event carries the whole Screen.
const maxEventBytes = 16 << 20

// =============================================================================
// Stream Reader Interface
// =============================================================================

// StreamReader reads a turn stream and invokes callbacks.
//
// The stream is considered complete when:
//   - EOF is reached
//   - A terminal event (final/error) is received
//   - Context is cancelled
//   - Callback returns an error
//
// Example:
//
//	reader := NewSSEStreamReader()
//	err := reader.Read(ctx, httpResp.Body, func(event StreamEvent) error {
//	    fmt.Println(event.ID, event.Type)
//	    return nil
//	})
type StreamReader interface {
	// Read processes a stream, invoking callback for each event.
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error

	// ReadAll reads the whole stream and returns the aggregated result.
	//
	// If the stream ends with an error event, it is captured in
	// StreamResult.Error and this method returns nil.
	ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error)
}

// StreamResult aggregates one turn.
type StreamResult struct {
	Ready       *datatypes.ReadyEvent
	TotalEvents int
	Patches     []datatypes.PatchEvent
	Final       *datatypes.FinalEvent
	Error       *datatypes.ErrorEvent
}

// =============================================================================
// SSE Stream Reader
// =============================================================================

// sseStreamReader implements StreamReader for Server-Sent Events. Each Read
// uses a fresh parser, so one reader may serve several streams in sequence.
type sseStreamReader struct{}

// NewSSEStreamReader creates a new SSE stream reader.
func NewSSEStreamReader() StreamReader {
	return &sseStreamReader{}
}

// Read implements StreamReader.
func (r *sseStreamReader) Read(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	parser := NewSSEParser()
	eventIndex := 0

	deliver := func(event *StreamEvent) (bool, error) {
		if event == nil {
			return false, nil
		}
		event.Index = eventIndex
		eventIndex++
		if err := callback(*event); err != nil {
			return true, err
		}
		return event.IsTerminal(), nil
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, err := parser.ParseLine(scanner.Text())
		if err != nil {
			return err
		}
		if stop, err := deliver(event); stop || err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	event, err := parser.Flush()
	if err != nil {
		return err
	}
	_, err = deliver(event)
	return err
}

// ReadAll implements StreamReader.
func (r *sseStreamReader) ReadAll(ctx context.Context, reader io.Reader) (*StreamResult, error) {
	result := &StreamResult{}
	err := r.Read(ctx, reader, result.collect)
	return result, err
}

// collect folds one event into the result.
func (res *StreamResult) collect(event StreamEvent) error {
	res.TotalEvents++
	switch event.Type {
	case datatypes.EventReady:
		v, err := event.Ready()
		if err != nil {
			return err
		}
		res.Ready = &v
	case datatypes.EventPatch:
		v, err := event.Patch()
		if err != nil {
			return err
		}
		res.Patches = append(res.Patches, v)
	case datatypes.EventFinal:
		v, err := event.Final()
		if err != nil {
			return err
		}
		res.Final = &v
	case datatypes.EventError:
		v, err := event.Error()
		if err != nil {
			return err
		}
		res.Error = &v
	}
	return nil
}

// =============================================================================
// WebSocket Reader
// =============================================================================

// ReadWebSocket reads one turn's events from conn, which has already been
// sent the request. It stops after a terminal event. Cancelling ctx closes
// conn.
func ReadWebSocket(ctx context.Context, conn *websocket.Conn, callback StreamCallback) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for index := 0; ; index++ {
		var event StreamEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read websocket event: %w", err)
		}
		event.Index = index
		if err := callback(event); err != nil {
			return err
		}
		if event.IsTerminal() {
			return nil
		}
	}
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamReader = (*sseStreamReader)(nil)
