// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/AleutianAI/AleutianScreens/services/screens/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// recorder is an Emitter that keeps every event. failOn makes Emit fail for
// one event type.
type recorder struct {
	mu     sync.Mutex
	events []datatypes.Event
	failOn datatypes.EventType
}

func (r *recorder) Emit(_ context.Context, ev datatypes.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && ev.Type == r.failOn {
		return errors.New("client went away")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []datatypes.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]datatypes.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) last() datatypes.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// replay folds every patch event into start, the way a client would.
func (r *recorder) replay(start screen.Screen) screen.Screen {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := start
	for _, ev := range r.events {
		if ev.Type == datatypes.EventPatch {
			s = screen.Apply(s, ev.Data.(datatypes.PatchEvent).Patch)
		}
	}
	return s
}

func upsertOp(id string) tools.Operation {
	return tools.Operation{
		Tool:  tools.KindUpsertComponent,
		Patch: screen.Patch{UpsertComponents: []screen.ComponentUpsert{{ID: id, Name: "Component " + id, HTML: "<div>" + id + "</div>"}}},
		Args:  map[string]any{"id": id},
	}
}

func finalizeOp(summary string) tools.Operation {
	return tools.Operation{Tool: tools.KindFinalize, Summary: summary}
}

func started(t *testing.T, rec *recorder, opts ...Option) *Controller {
	t.Helper()
	c := NewController(screen.Empty(), rec, opts...)
	require.NoError(t, c.Start(context.Background()))
	return c
}

// =============================================================================
// Controller Tests
// =============================================================================

func TestController_StartEmitsReady(t *testing.T) {
	rec := &recorder{}
	c := started(t, rec, WithSessionID("s-1"), WithModel("test-model"))

	assert.Equal(t, StateStreaming, c.State())
	require.Len(t, rec.events, 1)
	assert.Equal(t, datatypes.EventReady, rec.events[0].Type)
	assert.Equal(t, int64(1), rec.events[0].ID)
	assert.Equal(t, datatypes.ReadyEvent{OK: true, SessionID: "s-1", Model: "test-model"}, rec.events[0].Data)

	assert.ErrorIs(t, c.Start(context.Background()), ErrSessionClosed)
}

func TestController_AcceptEmitsToolCallThenPatch(t *testing.T) {
	rec := &recorder{}
	c := started(t, rec)

	done, err := c.Accept(context.Background(), upsertOp("hero"))
	require.NoError(t, err)
	assert.False(t, done)

	assert.Equal(t, []datatypes.EventType{datatypes.EventReady, datatypes.EventToolCall, datatypes.EventPatch}, rec.types())
	tc := rec.events[1].Data.(datatypes.ToolCallEvent)
	assert.Equal(t, "upsert_component", tc.Tool)
	assert.Equal(t, 1, tc.Step)
	assert.Equal(t, int64(2), rec.events[1].ID)
	assert.Equal(t, int64(3), rec.events[2].ID)

	assert.Equal(t, []string{"hero"}, c.Screen().Layout)
}

func TestController_ReplayMatchesFinalScreen(t *testing.T) {
	rec := &recorder{}
	start := screen.Empty()
	start.Components["nav"] = screen.Component{Name: "Nav", HTML: "<nav/>"}
	start.Layout = []string{"nav"}
	c := NewController(start, rec)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	ops := []tools.Operation{
		upsertOp("hero"),
		upsertOp("footer"),
		{Tool: tools.KindMoveInLayout, Patch: screen.Patch{LayoutPatch: []screen.LayoutOp{screen.Move("footer", 0)}}},
		{Tool: tools.KindRemoveFromLayout, Patch: screen.Patch{LayoutPatch: []screen.LayoutOp{screen.Remove("nav")}}},
		{Tool: tools.KindUpdateScreenMeta, Patch: screen.Patch{Title: screen.StringPtr("Home")}},
		{Tool: tools.KindDeleteComponent, Patch: screen.Patch{DeleteComponents: []string{"ghost"}}},
	}
	for _, op := range ops {
		_, err := c.Accept(ctx, op)
		require.NoError(t, err)
	}
	final, err := c.Finalize(ctx)
	require.NoError(t, err)

	replayed := rec.replay(start)
	assert.Equal(t, final.Screen, replayed)
	digest, err := screen.Digest(replayed)
	require.NoError(t, err)
	assert.Equal(t, final.Digest, digest)
	assert.Equal(t, []string{"footer", "hero"}, final.Screen.Layout)
}

func TestController_FinalizeWithSummary(t *testing.T) {
	rec := &recorder{}
	c := started(t, rec, WithHistory([]datatypes.ChatMessage{{Role: "user", Content: "earlier"}}, "make it blue"))
	ctx := context.Background()

	_, err := c.Accept(ctx, upsertOp("hero"))
	require.NoError(t, err)
	done, err := c.Accept(ctx, finalizeOp("Added a hero."))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, StateFinalizing, c.State())

	final, err := c.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateTerminal, c.State())
	assert.Equal(t, "Added a hero.", final.Summary)
	assert.Equal(t, datatypes.FinishReasonFinalize, final.FinishReason)
	assert.Equal(t, 1, final.Operations)
	assert.Equal(t, []datatypes.ChatMessage{
		{Role: "user", Content: "earlier"},
		{Role: "user", Content: "make it blue"},
		{Role: "assistant", Content: "Added a hero."},
	}, final.Messages)

	last := rec.last()
	assert.Equal(t, datatypes.EventFinal, last.Type)
	assert.Equal(t, *final, last.Data)

	_, err = c.Accept(ctx, upsertOp("late"))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestController_BudgetEndsTurnWithFallbackSummary(t *testing.T) {
	rec := &recorder{}
	c := started(t, rec)
	ctx := context.Background()

	c.NoteText("Working on the layout now.")
	for i := 0; i < DefaultStepBudget; i++ {
		done, err := c.Accept(ctx, upsertOp(fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
		assert.Equal(t, i == DefaultStepBudget-1, done, "step %d", i)
	}

	final, err := c.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, datatypes.FinishReasonBudget, final.FinishReason)
	assert.Equal(t, "Working on the layout now.", final.Summary)
	assert.Len(t, final.Screen.Layout, DefaultStepBudget)
	assert.Equal(t, datatypes.EventFinal, rec.last().Type)
}

func TestController_FallbackSummary(t *testing.T) {
	assert.Equal(t, FallbackSummary, fallbackSummary("   "))
	assert.Equal(t, "done", fallbackSummary("  done \n"))

	long := strings.Repeat("é", tools.MaxSummaryLength+20)
	got := fallbackSummary(long)
	assert.Equal(t, tools.MaxSummaryLength, len([]rune(got)))
}

func TestController_FinalValidationFailureIsHardError(t *testing.T) {
	rec := &recorder{}
	c := started(t, rec)
	ctx := context.Background()

	bad := tools.Operation{
		Tool:  tools.KindUpsertComponent,
		Patch: screen.Patch{UpsertComponents: []screen.ComponentUpsert{{ID: "hero", Name: strings.Repeat("n", screen.MaxComponentNameLength+1), HTML: "x"}}},
	}
	_, err := c.Accept(ctx, bad)
	require.NoError(t, err)

	final, err := c.Finalize(ctx)
	assert.Nil(t, final)
	assert.ErrorIs(t, err, ErrFinalValidation)
	assert.Equal(t, StateFailed, c.State())

	last := rec.last()
	require.Equal(t, datatypes.EventError, last.Type)
	payload := last.Data.(datatypes.ErrorEvent)
	assert.Equal(t, datatypes.ErrorCodeFinalValidation, payload.Code)
	assert.True(t, strings.HasPrefix(payload.Message, "final screen failed validation"))
}

func TestController_EmitFailureFails(t *testing.T) {
	rec := &recorder{failOn: datatypes.EventPatch}
	c := started(t, rec)

	_, err := c.Accept(context.Background(), upsertOp("hero"))
	require.Error(t, err)
	assert.Equal(t, StateFailed, c.State())

	_, err = c.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestController_CancelledContextEmitsNothing(t *testing.T) {
	rec := &recorder{}
	c := started(t, rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Fail(ctx, context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []datatypes.EventType{datatypes.EventReady}, rec.types())
	assert.Equal(t, StateFailed, c.State())
}

func TestController_ConsumeStopsWhenChannelCloses(t *testing.T) {
	rec := &recorder{}
	c := started(t, rec)

	steps := make(chan Step, 3)
	op := upsertOp("hero")
	steps <- Step{Text: "Let me add a hero."}
	steps <- Step{Operation: &op}
	close(steps)

	reason, err := c.Consume(context.Background(), steps)
	require.NoError(t, err)
	assert.Equal(t, datatypes.FinishReasonAgentStopped, reason)

	final, err := c.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Let me add a hero.", final.Summary)
}

func TestController_TranscriptIsBounded(t *testing.T) {
	var history []datatypes.ChatMessage
	for i := 0; i < datatypes.MaxMessagesPerRequest; i++ {
		history = append(history, datatypes.ChatMessage{Role: "user", Content: fmt.Sprintf("m%d", i)})
	}
	c := NewController(screen.Empty(), &recorder{}, WithHistory(history, "next"))

	out := c.transcript("summary")
	require.Len(t, out, datatypes.MaxMessagesPerRequest)
	assert.Equal(t, "m2", out[0].Content)
	assert.Equal(t, "summary", out[len(out)-1].Content)
}

func TestErrorPayload(t *testing.T) {
	up := ErrorPayload(fmt.Errorf("%w: %w", ErrUpstream, errors.New("api key sk-secret rejected")))
	assert.Equal(t, datatypes.ErrorCodeUpstream, up.Code)
	assert.NotContains(t, up.Message, "sk-secret")

	internal := ErrorPayload(errors.New("boom"))
	assert.Equal(t, datatypes.ErrorCodeInternal, internal.Code)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "State(42)", State(42).String())
}
