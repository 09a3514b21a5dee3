// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
)

// =============================================================================
// Event Names
// =============================================================================

// EventType names one record on the turn event stream.
type EventType string

const (
	// EventReady acknowledges the turn. Always the first event.
	EventReady EventType = "ready"

	// EventToolCall announces the structural operation about to be applied.
	EventToolCall EventType = "tool_call"

	// EventPatch carries the exact Patch that was folded into the Screen.
	EventPatch EventType = "patch"

	// EventFinal carries the authoritative Screen. Terminal.
	EventFinal EventType = "final"

	// EventError reports a failure. Terminal.
	EventError EventType = "error"
)

// IsTerminal reports whether no event can follow t.
func (t EventType) IsTerminal() bool {
	return t == EventFinal || t == EventError
}

// Finish reasons carried by FinalEvent.
const (
	FinishReasonFinalize     = "finalize"
	FinishReasonBudget       = "budget"
	FinishReasonAgentStopped = "agent_stopped"
)

// Error codes carried by ErrorEvent.
const (
	ErrorCodeUpstream        = "upstream_error"
	ErrorCodeFinalValidation = "final_validation_failed"
	ErrorCodeInternal        = "internal_error"
	ErrorCodeInvalidRequest  = "invalid_request"
	ErrorCodeConfiguration   = "configuration_error"
)

// =============================================================================
// Event Payloads
// =============================================================================

// ReadyEvent is the payload of "ready".
type ReadyEvent struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
}

// ToolCallEvent is the payload of "tool_call". Informational only.
//
// Args holds identifying arguments (ids, indexes, layout); component HTML is
// never included.
type ToolCallEvent struct {
	Tool   string         `json:"tool"`
	CallID string         `json:"call_id,omitempty"`
	Step   int            `json:"step"`
	Args   map[string]any `json:"args"`
}

// PatchEvent is the payload of "patch". A consumer applies Patch with the
// same reducer to stay in sync.
type PatchEvent struct {
	Patch screen.Patch `json:"patch"`
	Step  int          `json:"step"`
}

// FinalEvent is the payload of "final".
//
// # Fields
//
//   - Summary: 1-500 characters; from finalize or derived from trailing text.
//   - Screen: The re-validated Screen. Authoritative over any replayed state.
//   - Digest: SHA-256 of the canonical JSON of Screen.
//   - FinishReason: finalize, budget, or agent_stopped.
//   - Operations: Number of structural operations applied.
//   - Messages: Conversation history to send back with the next turn.
type FinalEvent struct {
	Summary      string        `json:"summary"`
	Screen       screen.Screen `json:"screen"`
	Digest       string        `json:"digest"`
	FinishReason string        `json:"finish_reason"`
	Operations   int           `json:"operations"`
	Messages     []ChatMessage `json:"messages"`
}

// ErrorEvent is the payload of "error".
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// =============================================================================
// Envelope
// =============================================================================

// Event is one record on the turn event stream.
//
// ID increases by one per event within a session, starting at 1. Data holds
// one of the payload types above, matching Type.
type Event struct {
	ID   int64     `json:"id"`
	Type EventType `json:"event"`
	Data any       `json:"data"`
}
