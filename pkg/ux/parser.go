// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides the client side of the screens event stream.
//
// This file contains the SSE parser. Parsers are responsible for converting
// raw lines into StreamEvent structs.
//
// Single Responsibility:
//
//	Parsers ONLY parse. They do not perform I/O, rendering, or replay.
package ux

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
)

// =============================================================================
// SSE Parser Interface
// =============================================================================

// SSEParser assembles Server-Sent Events from lines.
//
// SSE Format Reference (https://developer.mozilla.org/en-US/docs/Web/API/Server-sent_events):
//
//	id: 3
//	event: patch
//	data: {"patch":{...},"step":1}
//
// A blank line dispatches the event built so far. Lines starting with ":"
// are comments (keepalives) and are ignored. Multiple data lines are joined
// with "\n".
//
// Thread Safety:
//
//	Parsers hold the partially built event and are NOT safe for concurrent
//	use. Create one per stream.
//
// Example:
//
//	parser := NewSSEParser()
//	for scanner.Scan() {
//	    event, err := parser.ParseLine(scanner.Text())
//	    if err != nil {
//	        return err
//	    }
//	    if event != nil {
//	        handle(*event)
//	    }
//	}
//	event, _ := parser.Flush()
type SSEParser interface {
	// ParseLine consumes one line (without trailing newline).
	//
	// Returns:
	//   - *StreamEvent: The completed event on a blank line, otherwise nil
	//   - error: Non-nil for a malformed id or a data payload that is not JSON
	ParseLine(line string) (*StreamEvent, error)

	// Flush dispatches a pending event when the stream ends without a
	// trailing blank line. Returns nil if nothing is pending.
	Flush() (*StreamEvent, error)
}

// sseParser is the default SSEParser.
type sseParser struct {
	id      int64
	event   string
	data    []string
	pending bool
}

// NewSSEParser creates a new SSE parser.
func NewSSEParser() SSEParser {
	return &sseParser{}
}

// ParseLine implements SSEParser.
func (p *sseParser) ParseLine(line string) (*StreamEvent, error) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return p.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return nil, nil
	}

	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")
	switch field {
	case "id":
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			p.reset()
			return nil, fmt.Errorf("invalid event id %q: %w", value, err)
		}
		p.id = id
	case "event":
		p.event = value
	case "data":
		p.data = append(p.data, value)
	default:
		// Unknown fields are ignored, as EventSource does.
		return nil, nil
	}
	p.pending = true
	return nil, nil
}

// Flush implements SSEParser.
func (p *sseParser) Flush() (*StreamEvent, error) {
	return p.dispatch()
}

func (p *sseParser) dispatch() (*StreamEvent, error) {
	if !p.pending {
		return nil, nil
	}
	defer p.reset()

	raw := strings.Join(p.data, "\n")
	if raw == "" {
		raw = "null"
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("event %d (%s): data is not JSON", p.id, p.event)
	}
	eventType := p.event
	if eventType == "" {
		eventType = "message"
	}
	return &StreamEvent{
		ID:   p.id,
		Type: datatypes.EventType(eventType),
		Data: json.RawMessage(raw),
	}, nil
}

func (p *sseParser) reset() {
	p.id = 0
	p.event = ""
	p.data = nil
	p.pending = false
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEParser = (*sseParser)(nil)
