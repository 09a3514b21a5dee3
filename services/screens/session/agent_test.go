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
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianScreens/services/llm"
	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/AleutianAI/AleutianScreens/services/screens/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient is an llm.Client that returns scripted responses in order and
// records the conversation it was sent each round.
type mockClient struct {
	mu        sync.Mutex
	responses []*llm.ToolResponse
	err       error
	calls     [][]llm.Message
}

func (m *mockClient) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	resp, err := m.ChatWithTools(ctx, messages, nil, params)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (m *mockClient) ChatWithTools(ctx context.Context, messages []llm.Message, _ []llm.ToolDefinition, _ llm.GenerationParams) (*llm.ToolResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]llm.Message(nil), messages...))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &llm.ToolResponse{Content: "Nothing more to do."}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *mockClient) Model() string { return "mock" }

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func newAgent(t *testing.T, client llm.Client, prompt string) *Agent {
	t.Helper()
	catalog, err := tools.NewCatalog()
	require.NoError(t, err)
	return &Agent{
		Client:  client,
		Catalog: catalog,
		Input: AgentInput{
			SystemPrompt: "You build screens.",
			History:      []datatypes.ChatMessage{{Role: "user", Content: "hello"}},
			Prompt:       prompt,
			Screen:       screen.Empty(),
		},
	}
}

func TestAgent_FullTurn(t *testing.T) {
	client := &mockClient{responses: []*llm.ToolResponse{
		{Content: "Adding a hero.", ToolCalls: []llm.ToolCall{
			call("1", "upsert_component", `{"id":"hero","name":"Hero","html":"<h1>Hi</h1>"}`),
			call("2", "upsert_component", `{"id":"Bad Id","name":"x","html":"y"}`),
		}},
		{ToolCalls: []llm.ToolCall{
			call("3", "insert_into_layout", `{"component_id":"hero","index":0}`),
			call("4", "finalize", `{"summary":"Added a hero."}`),
		}},
	}}
	rec := &recorder{}
	c := NewController(screen.Empty(), rec)

	final, err := RunTurn(context.Background(), c, newAgent(t, client, "Make a landing page"))
	require.NoError(t, err)

	assert.Equal(t, "Added a hero.", final.Summary)
	assert.Equal(t, datatypes.FinishReasonFinalize, final.FinishReason)
	assert.Equal(t, 2, final.Operations)
	assert.Equal(t, []string{"hero"}, final.Screen.Layout)

	require.Len(t, client.calls, 2)
	first := client.calls[0]
	assert.Equal(t, llm.RoleSystem, first[0].Role)
	assert.Equal(t, "hello", first[1].Content)
	assert.Contains(t, first[2].Content, "Request: Make a landing page")

	second := client.calls[1]
	var results []llm.Message
	for _, m := range second {
		if m.Role == llm.RoleTool {
			results = append(results, m)
		}
	}
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].ToolCallID)
	assert.Contains(t, results[0].Content, `"layout":["hero"]`)
	assert.Equal(t, "2", results[1].ToolCallID)
	assert.True(t, strings.HasPrefix(results[1].Content, "invalid arguments for upsert_component"))
}

func TestAgent_StopsWhenModelStopsCallingTools(t *testing.T) {
	client := &mockClient{responses: []*llm.ToolResponse{
		{ToolCalls: []llm.ToolCall{call("1", "upsert_component", `{"id":"a","name":"A","html":"a"}`)}},
		{Content: "All done, added section A."},
	}}
	c := NewController(screen.Empty(), &recorder{})

	final, err := RunTurn(context.Background(), c, newAgent(t, client, "add A"))
	require.NoError(t, err)

	assert.Equal(t, datatypes.FinishReasonAgentStopped, final.FinishReason)
	assert.Equal(t, "All done, added section A.", final.Summary)
}

func TestAgent_UpstreamError(t *testing.T) {
	client := &mockClient{err: errors.New("connection reset")}
	rec := &recorder{}
	c := NewController(screen.Empty(), rec)

	_, err := RunTurn(context.Background(), c, newAgent(t, client, "anything"))

	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, datatypes.EventError, rec.last().Type)
}

func TestAgent_RoundLimit(t *testing.T) {
	var responses []*llm.ToolResponse
	for i := 0; i < 10; i++ {
		responses = append(responses, &llm.ToolResponse{ToolCalls: []llm.ToolCall{call("x", "finalize", `{}`)}})
	}
	client := &mockClient{responses: responses}
	agent := newAgent(t, client, "loop")
	agent.MaxRounds = 3
	c := NewController(screen.Empty(), &recorder{})

	final, err := RunTurn(context.Background(), c, agent)
	require.NoError(t, err)

	assert.Len(t, client.calls, 3)
	assert.Equal(t, datatypes.FinishReasonAgentStopped, final.FinishReason)
	assert.Equal(t, 0, final.Operations)
}
