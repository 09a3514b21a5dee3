// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session drives one generation turn from agent output to events.
//
// # Description
//
// A Controller owns the running Screen for exactly one turn. Structural
// operations arrive one at a time; each is folded through screen.Apply and
// announced as a tool_call event followed by a patch event carrying the exact
// Patch that was applied. A consumer that applies every patch event in order
// with the same reducer reaches the same Screen the Controller holds.
//
// The turn ends with one final event carrying the re-validated Screen, or
// with one error event. Nothing is emitted after either.
//
// # State Machine
//
//	Ready -> Streaming -> Finalizing -> Terminal
//	              \            \
//	               +-----------+--> Failed
//
// # Thread Safety
//
// A Controller is not safe for concurrent use. RunTurn confines it to one
// goroutine at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/observability"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/AleutianAI/AleutianScreens/services/screens/tools"
	"github.com/google/uuid"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUpstream wraps model or transport failures during a turn.
	ErrUpstream = errors.New("upstream generation failed")

	// ErrFinalValidation is returned when the final Screen breaks an invariant.
	ErrFinalValidation = errors.New("final screen failed validation")

	// ErrSessionClosed is returned by calls made in the wrong state.
	ErrSessionClosed = errors.New("session is closed")
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultStepBudget caps the structural operations applied in one turn.
	DefaultStepBudget = 25

	// FallbackSummary is used when the turn ends without finalize and the
	// model produced no free text.
	FallbackSummary = "Updated the screen."
)

// State is the Controller's lifecycle position.
type State int

const (
	StateReady State = iota
	StateStreaming
	StateFinalizing
	StateTerminal
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateTerminal:
		return "terminal"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// =============================================================================
// Emitter
// =============================================================================

// Emitter delivers events to the client. An error from Emit fails the turn.
type Emitter interface {
	Emit(ctx context.Context, ev datatypes.Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev datatypes.Event) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, ev datatypes.Event) error {
	return f(ctx, ev)
}

// =============================================================================
// Controller
// =============================================================================

// Option configures a Controller.
type Option func(*Controller)

// WithStepBudget sets the operation cap. Values below 1 keep the default.
func WithStepBudget(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.budget = n
		}
	}
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.id = id
		}
	}
}

// WithModel names the model in the ready event.
func WithModel(name string) Option {
	return func(c *Controller) { c.model = name }
}

// WithMetrics records operation counters on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithHistory sets the conversation the final event extends with this
// turn's prompt and summary.
func WithHistory(history []datatypes.ChatMessage, prompt string) Option {
	return func(c *Controller) {
		c.history = append([]datatypes.ChatMessage(nil), history...)
		c.prompt = prompt
	}
}

// Controller owns one turn's Screen and event sequence.
type Controller struct {
	id      string
	model   string
	budget  int
	emitter Emitter
	metrics *observability.Metrics
	logger  *slog.Logger

	history []datatypes.ChatMessage
	prompt  string

	state    State
	current  screen.Screen
	seq      int64
	steps    int
	trailing string
	summary  string
	reason   string
}

// NewController creates a Controller in the Ready state.
//
// # Inputs
//
//   - start: The Screen the turn begins from. It is normalized and copied.
//   - emitter: Receives every event, in order.
//   - opts: Optional settings.
func NewController(start screen.Screen, emitter Emitter, opts ...Option) *Controller {
	c := &Controller{
		id:      uuid.New().String(),
		budget:  DefaultStepBudget,
		emitter: emitter,
		current: screen.Normalize(start),
		state:   StateReady,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = slog.Default().With("session_id", c.id)
	return c
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.state }

// Steps returns the number of structural operations applied so far.
func (c *Controller) Steps() int { return c.steps }

// Screen returns a copy of the running Screen.
func (c *Controller) Screen() screen.Screen { return c.current.Clone() }

// Start emits the ready event and enters Streaming.
func (c *Controller) Start(ctx context.Context) error {
	if c.state != StateReady {
		return fmt.Errorf("start in state %s: %w", c.state, ErrSessionClosed)
	}
	if err := c.emit(ctx, datatypes.EventReady, datatypes.ReadyEvent{OK: true, SessionID: c.id, Model: c.model}); err != nil {
		return c.fail(ctx, err)
	}
	c.state = StateStreaming
	c.logger.Info("Session started", "step_budget", c.budget, "components", len(c.current.Components))
	return nil
}

// NoteText records free text produced by the model. The most recent
// non-empty text becomes the fallback summary if the turn ends without
// finalize.
func (c *Controller) NoteText(text string) {
	if t := strings.TrimSpace(text); t != "" {
		c.trailing = t
	}
}

// Accept applies one structural operation.
//
// # Description
//
// A finalize operation records its summary and moves to Finalizing. Any
// other operation emits tool_call, folds its Patch into the Screen, and emits
// patch. When the step budget is reached the Controller moves to Finalizing.
//
// # Outputs
//
//   - bool: True when the turn should stop consuming operations.
//   - error: ErrSessionClosed outside Streaming, or an emit failure. On emit
//     failure the Controller has already moved to Failed.
func (c *Controller) Accept(ctx context.Context, op tools.Operation) (bool, error) {
	if c.state != StateStreaming {
		return true, fmt.Errorf("accept %s in state %s: %w", op.Tool, c.state, ErrSessionClosed)
	}
	c.metrics.RecordOperation(string(op.Tool), true)

	if op.IsFinalize() {
		c.summary = op.Summary
		c.reason = datatypes.FinishReasonFinalize
		c.state = StateFinalizing
		c.logger.Info("Agent finalized", "steps", c.steps)
		return true, nil
	}

	c.steps++
	args := op.Args
	if args == nil {
		args = map[string]any{}
	}
	if err := c.emit(ctx, datatypes.EventToolCall, datatypes.ToolCallEvent{
		Tool:   string(op.Tool),
		CallID: op.CallID,
		Step:   c.steps,
		Args:   args,
	}); err != nil {
		return true, c.fail(ctx, err)
	}

	c.current = screen.Apply(c.current, op.Patch)
	c.metrics.RecordPatchApplied()
	if err := c.emit(ctx, datatypes.EventPatch, datatypes.PatchEvent{Patch: op.Patch, Step: c.steps}); err != nil {
		return true, c.fail(ctx, err)
	}
	c.logger.Debug("Operation applied", "tool", op.Tool, "step", c.steps, "layout_len", len(c.current.Layout))

	if c.steps >= c.budget {
		c.reason = datatypes.FinishReasonBudget
		c.state = StateFinalizing
		c.logger.Info("Step budget reached", "steps", c.steps)
		return true, nil
	}
	return false, nil
}

// Consume reads steps until the turn should finalize or steps is closed.
//
// # Outputs
//
//   - string: The finish reason. A closed channel without finalize yields
//     agent_stopped.
//   - error: From Accept, or ctx.Err() if ctx ends first.
func (c *Controller) Consume(ctx context.Context, steps <-chan Step) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case step, ok := <-steps:
			if !ok {
				if c.state == StateStreaming {
					c.reason = datatypes.FinishReasonAgentStopped
					c.state = StateFinalizing
				}
				return c.reason, nil
			}
			c.NoteText(step.Text)
			if step.Operation == nil {
				continue
			}
			done, err := c.Accept(ctx, *step.Operation)
			if err != nil {
				return "", err
			}
			if done {
				return c.reason, nil
			}
		}
	}
}

// Finalize re-validates the Screen and emits the final event.
//
// # Description
//
// Moves from Streaming or Finalizing to Terminal. If the turn did not end
// with finalize, the summary is derived from the last free text, truncated
// to 500 characters, or FallbackSummary. A Screen that fails validation is a
// hard failure: an error event is emitted and ErrFinalValidation returned.
//
// # Outputs
//
//   - *datatypes.FinalEvent: The emitted payload.
//   - error: ErrSessionClosed, ErrFinalValidation, or an emit failure.
func (c *Controller) Finalize(ctx context.Context) (*datatypes.FinalEvent, error) {
	switch c.state {
	case StateStreaming:
		c.reason = datatypes.FinishReasonAgentStopped
		c.state = StateFinalizing
	case StateFinalizing:
	default:
		return nil, fmt.Errorf("finalize in state %s: %w", c.state, ErrSessionClosed)
	}

	summary := c.summary
	if summary == "" {
		summary = fallbackSummary(c.trailing)
	}

	if err := screen.Validate(c.current); err != nil {
		return nil, c.fail(ctx, fmt.Errorf("%w: %w", ErrFinalValidation, err))
	}
	digest, err := screen.Digest(c.current)
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("computing digest: %w", err))
	}

	final := &datatypes.FinalEvent{
		Summary:      summary,
		Screen:       c.current.Clone(),
		Digest:       digest,
		FinishReason: c.reason,
		Operations:   c.steps,
		Messages:     c.transcript(summary),
	}
	if err := c.emit(ctx, datatypes.EventFinal, *final); err != nil {
		return nil, c.fail(ctx, err)
	}
	c.state = StateTerminal
	c.logger.Info("Session finished", "finish_reason", c.reason, "steps", c.steps, "digest", digest)
	return final, nil
}

// Fail ends the turn with an error event, unless ctx is already done (the
// client is gone) or the turn already ended. Returns err.
func (c *Controller) Fail(ctx context.Context, err error) error {
	return c.fail(ctx, err)
}

func (c *Controller) fail(ctx context.Context, err error) error {
	if c.state == StateTerminal || c.state == StateFailed {
		return err
	}
	c.state = StateFailed
	if ctx.Err() != nil {
		c.logger.Info("Session cancelled", "steps", c.steps, "error", err)
		return err
	}
	c.logger.Error("Session failed", "steps", c.steps, "error", err)
	payload := ErrorPayload(err)
	if emitErr := c.emit(ctx, datatypes.EventError, payload); emitErr != nil {
		c.logger.Warn("Failed to emit error event", "error", emitErr)
	}
	return err
}

// ErrorPayload maps err to the client-facing error event. Upstream details
// are not forwarded.
func ErrorPayload(err error) datatypes.ErrorEvent {
	switch {
	case errors.Is(err, ErrFinalValidation):
		return datatypes.ErrorEvent{Message: err.Error(), Code: datatypes.ErrorCodeFinalValidation}
	case errors.Is(err, ErrUpstream):
		return datatypes.ErrorEvent{Message: ErrUpstream.Error(), Code: datatypes.ErrorCodeUpstream}
	default:
		return datatypes.ErrorEvent{Message: "internal error", Code: datatypes.ErrorCodeInternal}
	}
}

func (c *Controller) emit(ctx context.Context, typ datatypes.EventType, data any) error {
	c.seq++
	if err := c.emitter.Emit(ctx, datatypes.Event{ID: c.seq, Type: typ, Data: data}); err != nil {
		return fmt.Errorf("emitting %s event: %w", typ, err)
	}
	return nil
}

// transcript is the history plus this turn, trimmed to what a follow-up
// request may carry.
func (c *Controller) transcript(summary string) []datatypes.ChatMessage {
	out := append([]datatypes.ChatMessage(nil), c.history...)
	if c.prompt != "" {
		out = append(out, datatypes.ChatMessage{Role: "user", Content: truncateRunes(c.prompt, datatypes.MaxMessageLength)})
	}
	out = append(out, datatypes.ChatMessage{Role: "assistant", Content: summary})
	if len(out) > datatypes.MaxMessagesPerRequest {
		out = out[len(out)-datatypes.MaxMessagesPerRequest:]
	}
	return out
}

func fallbackSummary(trailing string) string {
	if t := strings.TrimSpace(trailing); t != "" {
		return truncateRunes(t, tools.MaxSummaryLength)
	}
	return FallbackSummary
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
