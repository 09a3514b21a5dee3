// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
)

// StreamEvent is one record read from a turn stream. Data is left raw so
// the payload is decoded only by whoever needs it.
type StreamEvent struct {
	ID    int64               `json:"id"`
	Type  datatypes.EventType `json:"event"`
	Data  json.RawMessage     `json:"data"`
	Index int                 `json:"-"`
}

// StreamCallback is invoked for each event. Returning an error stops reading.
type StreamCallback func(event StreamEvent) error

// IsTerminal reports whether no event can follow.
func (e StreamEvent) IsTerminal() bool {
	return e.Type.IsTerminal()
}

// Ready decodes a ready payload.
func (e StreamEvent) Ready() (datatypes.ReadyEvent, error) {
	var v datatypes.ReadyEvent
	return v, e.decode(datatypes.EventReady, &v)
}

// ToolCall decodes a tool_call payload.
func (e StreamEvent) ToolCall() (datatypes.ToolCallEvent, error) {
	var v datatypes.ToolCallEvent
	return v, e.decode(datatypes.EventToolCall, &v)
}

// Patch decodes a patch payload.
func (e StreamEvent) Patch() (datatypes.PatchEvent, error) {
	var v datatypes.PatchEvent
	return v, e.decode(datatypes.EventPatch, &v)
}

// Final decodes a final payload.
func (e StreamEvent) Final() (datatypes.FinalEvent, error) {
	var v datatypes.FinalEvent
	return v, e.decode(datatypes.EventFinal, &v)
}

// Error decodes an error payload.
func (e StreamEvent) Error() (datatypes.ErrorEvent, error) {
	var v datatypes.ErrorEvent
	return v, e.decode(datatypes.EventError, &v)
}

func (e StreamEvent) decode(want datatypes.EventType, v any) error {
	if e.Type != want {
		return fmt.Errorf("event %d is %q, not %q", e.ID, e.Type, want)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s event %d: %w", e.Type, e.ID, err)
	}
	return nil
}
