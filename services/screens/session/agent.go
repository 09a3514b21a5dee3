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
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/AleutianAI/AleutianScreens/services/llm"
	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/observability"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/AleutianAI/AleutianScreens/services/screens/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.screens.session")

// Step is one unit of agent output delivered to the Controller, in order.
// Either field may be empty.
type Step struct {
	Operation *tools.Operation
	Text      string
}

// Source produces the steps of one turn. Run sends on steps until it is done
// or ctx ends. Run must not close steps; RunTurn closes it after Run returns.
type Source interface {
	Run(ctx context.Context, steps chan<- Step) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, steps chan<- Step) error

// Run implements Source.
func (f SourceFunc) Run(ctx context.Context, steps chan<- Step) error {
	return f(ctx, steps)
}

// DefaultMaxRounds caps model calls per turn. Rejected tool calls do not
// count against the step budget, so this is what stops a model that keeps
// sending bad arguments.
const DefaultMaxRounds = 40

// AgentInput is what the agent is asked to do.
type AgentInput struct {
	SystemPrompt string
	History      []datatypes.ChatMessage
	Prompt       string
	Screen       screen.Screen
}

// Agent is the tool-calling loop that turns a prompt into structural
// operations.
//
// # Description
//
// Each round sends the conversation to the model with the tool catalog.
// Every returned tool call is validated by the catalog: rejected calls are
// answered with the validation error so the model can retry; accepted calls
// are sent to the Controller and answered with the resulting layout. The
// agent keeps its own copy of the Screen, folded with the same reducer, so
// its answers match what the Controller holds. The loop ends when the model
// calls finalize, answers without tool calls, or MaxRounds is reached.
type Agent struct {
	Client    llm.Client
	Catalog   *tools.Catalog
	Input     AgentInput
	Params    llm.GenerationParams
	MaxRounds int
	Metrics   *observability.Metrics
}

// Run implements Source.
func (a *Agent) Run(ctx context.Context, steps chan<- Step) error {
	ctx, span := tracer.Start(ctx, "Agent.Run")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", a.Client.Model()))

	maxRounds := a.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	mirror := screen.Normalize(a.Input.Screen)
	messages, err := a.initialMessages(mirror)
	if err != nil {
		return err
	}
	defs := a.Catalog.Definitions()

	for round := 1; round <= maxRounds; round++ {
		resp, err := a.Client.ChatWithTools(ctx, messages, defs, a.Params)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "model call failed")
			return fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		span.AddEvent("model_round", trace.WithAttributes(
			attribute.Int("round", round),
			attribute.Int("tool_calls", len(resp.ToolCalls)),
		))
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if resp.Content != "" {
			if err := send(ctx, steps, Step{Text: resp.Content}); err != nil {
				return err
			}
		}
		if len(resp.ToolCalls) == 0 {
			slog.Debug("Agent stopped without tool calls", "round", round)
			return nil
		}

		for _, call := range resp.ToolCalls {
			op, perr := a.Catalog.Parse(call.ID, call.Name, call.Arguments)
			if perr != nil {
				a.Metrics.RecordOperation(call.Name, false)
				slog.Info("Rejected tool call", "tool", call.Name, "error", perr)
				messages = append(messages, toolResult(call, perr.Error()))
				continue
			}
			if err := send(ctx, steps, Step{Operation: &op}); err != nil {
				return err
			}
			if op.IsFinalize() {
				return nil
			}
			mirror = screen.Apply(mirror, op.Patch)
			messages = append(messages, toolResult(call, describeState(mirror)))
		}
	}
	slog.Warn("Agent reached round limit", "max_rounds", maxRounds)
	return nil
}

func (a *Agent) initialMessages(current screen.Screen) ([]llm.Message, error) {
	var messages []llm.Message
	if a.Input.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: a.Input.SystemPrompt})
	}
	for _, m := range a.Input.History {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	raw, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding current screen: %w", err)
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("Current screen:\n```json\n%s\n```\n\nRequest: %s", raw, a.Input.Prompt),
	})
	return messages, nil
}

func toolResult(call llm.ToolCall, content string) llm.Message {
	return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Name: call.Name, Content: content}
}

// describeState is the tool result for an accepted call: the component ids
// and the layout after the edit.
func describeState(s screen.Screen) string {
	ids := slices.Sorted(maps.Keys(s.Components))
	state := struct {
		Status     string   `json:"status"`
		Components []string `json:"components"`
		Layout     []string `json:"layout"`
	}{Status: "applied", Components: ids, Layout: s.Layout}
	raw, _ := json.Marshal(state)
	return string(raw)
}

func send(ctx context.Context, steps chan<- Step, step Step) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case steps <- step:
		return nil
	}
}
