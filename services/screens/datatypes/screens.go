// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the screens service.
//
// This file contains the HTTP request and response bodies. Event payloads
// live in events.go.
package datatypes

import (
	"time"

	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxPromptLength bounds the prompt of a turn request, in characters.
	MaxPromptLength = 10000

	// MaxMessageLength bounds the content of one history message.
	MaxMessageLength = 10000

	// MaxMessagesPerRequest bounds the chat history carried by a turn request.
	MaxMessagesPerRequest = 50
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// screensValidate is the validator instance for request bodies.
// Initialized in init() with the screen-specific tags so that an embedded
// Screen or Patch is checked with the same rules the reducer uses.
var screensValidate *validator.Validate

func init() {
	screensValidate = validator.New(validator.WithRequiredStructEnabled())
	screen.RegisterValidations(screensValidate)
}

// validateStruct runs screensValidate and converts failures into a
// *screen.ValidationError so handlers can report field-level details.
func validateStruct(v any) error {
	if err := screensValidate.Struct(v); err != nil {
		return &screen.ValidationError{Violations: screen.ViolationsFrom(err)}
	}
	return nil
}

// =============================================================================
// Turn Request
// =============================================================================

// ChatMessage is one prior turn of the conversation.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,min=1,max=10000"`
}

// TurnRequest starts one generation turn.
//
// # Description
//
// Carries the user's prompt, the prior conversation, and optionally the
// Screen the client currently shows. When Screen is nil the turn starts from
// an empty Screen. The same body is used by the SSE, WebSocket, and
// non-streaming endpoints.
//
// # Validation
//
//   - Prompt: required, 1-10000 characters
//   - Messages: at most 50, each with role user|assistant and 1-10000 chars
//   - Screen: field shapes only; layout references are repaired by Normalize
//
// # Examples
//
//	{
//	    "prompt": "Add a pricing table under the hero",
//	    "messages": [{"role": "user", "content": "Build a landing page"}],
//	    "screen": {"components": {...}, "layout": ["hero"]}
//	}
type TurnRequest struct {
	RequestID string         `json:"request_id,omitempty"`
	Prompt    string         `json:"prompt" validate:"required,min=1,max=10000"`
	Messages  []ChatMessage  `json:"messages" validate:"max=50,dive"`
	Screen    *screen.Screen `json:"screen,omitempty"`
}

// Validate validates the TurnRequest fields.
func (r *TurnRequest) Validate() error {
	return validateStruct(r)
}

// EnsureDefaults generates a RequestID when the client did not send one.
func (r *TurnRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
}

// StartingScreen returns the normalized Screen the turn begins from.
func (r *TurnRequest) StartingScreen() screen.Screen {
	if r.Screen == nil {
		return screen.Empty()
	}
	return screen.Normalize(*r.Screen)
}

// =============================================================================
// Reducer Endpoints
// =============================================================================

// ApplyRequest is the body of POST /v1/screens/apply.
type ApplyRequest struct {
	Screen screen.Screen `json:"screen"`
	Patch  screen.Patch  `json:"patch"`
}

// Validate validates the ApplyRequest fields.
func (r *ApplyRequest) Validate() error {
	return validateStruct(r)
}

// ApplyResponse returns the folded Screen and its digest.
type ApplyResponse struct {
	Screen screen.Screen `json:"screen"`
	Digest string        `json:"digest"`
}

// ValidateRequest is the body of POST /v1/screens/validate.
type ValidateRequest struct {
	Screen screen.Screen `json:"screen"`
}

// ValidateResponse reports whether the Screen satisfies every invariant.
type ValidateResponse struct {
	Valid      bool               `json:"valid"`
	Violations []screen.Violation `json:"violations"`
}

// =============================================================================
// Non-streaming Generation
// =============================================================================

// Generation modes reported by GenerateResponse.
const (
	GenerateModeScreen = "screen"
	GenerateModePatch  = "patch"
)

// GenerateResponse is the result of POST /v1/screens/generate.
//
// # Fields
//
//   - Mode: "screen" when the model regenerated the whole Screen, "patch"
//     when it returned an edit that was folded into the request's Screen.
//   - Patch: Set only in patch mode.
//   - Digest: SHA-256 of the canonical JSON of Screen.
type GenerateResponse struct {
	ResponseID string        `json:"response_id"`
	RequestID  string        `json:"request_id"`
	Timestamp  int64         `json:"timestamp"`
	Mode       string        `json:"mode"`
	Screen     screen.Screen `json:"screen"`
	Patch      *screen.Patch `json:"patch,omitempty"`
	Digest     string        `json:"digest"`
}

// NewGenerateResponse fills in the response id and timestamp.
func NewGenerateResponse(requestID, mode string, s screen.Screen, p *screen.Patch, digest string) *GenerateResponse {
	return &GenerateResponse{
		ResponseID: uuid.New().String(),
		RequestID:  requestID,
		Timestamp:  time.Now().UnixMilli(),
		Mode:       mode,
		Screen:     s,
		Patch:      p,
		Digest:     digest,
	}
}

// =============================================================================
// Errors
// =============================================================================

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string             `json:"error"`
	Details []screen.Violation `json:"details,omitempty"`
}
