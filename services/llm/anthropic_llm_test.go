// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// newMockAnthropicServer creates a test server for the Messages API.
//
// # Description
//
// Decodes each request body into anthropicRequest, hands it to inspect, and
// writes body back with status 200.
//
// # Inputs
//
//   - t: Test handle used to report decode failures.
//   - body: Raw JSON response.
//   - inspect: Called with every decoded request. May be nil.
//
// # Outputs
//
//   - *httptest.Server: Test server. Caller must call Close().
func newMockAnthropicServer(t *testing.T, body string, inspect func(*http.Request, anthropicRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req anthropicRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Errorf("request is not valid JSON: %v", err)
		}
		if inspect != nil {
			inspect(r, req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func newTestAnthropicClient(t *testing.T, endpoint string) *AnthropicClient {
	t.Helper()
	c, err := NewAnthropicClient(Options{APIKey: "test-key", Model: "claude-test", BaseURL: endpoint})
	if err != nil {
		t.Fatalf("NewAnthropicClient: %v", err)
	}
	return c
}

// =============================================================================
// Tests
// =============================================================================

func TestAnthropicChatWithTools_ParsesToolUse(t *testing.T) {
	t.Parallel()

	server := newMockAnthropicServer(t, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "Adding a hero."},
			{"type": "tool_use", "id": "toolu_1", "name": "upsert_component", "input": {"id": "hero"}}
		]
	}`, func(r *http.Request, req anthropicRequest) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected x-api-key header, got %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("Expected anthropic-version %s, got %q", anthropicAPIVersion, r.Header.Get("anthropic-version"))
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "upsert_component" {
			t.Errorf("Expected one tool named upsert_component, got %+v", req.Tools)
		}
		if len(req.System) != 1 || req.System[0].Text != "be brief" {
			t.Errorf("Expected system prompt to be lifted, got %+v", req.System)
		}
	})
	defer server.Close()

	client := newTestAnthropicClient(t, server.URL)
	tools := []ToolDefinition{{
		Name:        "upsert_component",
		Description: "upsert",
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}}
	resp, err := client.ChatWithTools(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "make a page"},
	}, tools, GenerationParams{})
	if err != nil {
		t.Fatalf("ChatWithTools returned error: %v", err)
	}

	if resp.Content != "Adding a hero." {
		t.Errorf("Expected text content, got %q", resp.Content)
	}
	if resp.FinishReason != "tool_use" {
		t.Errorf("Expected finish reason tool_use, got %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "toolu_1" || call.Name != "upsert_component" || string(call.Arguments) != `{"id": "hero"}` {
		t.Errorf("Unexpected tool call %+v (args %s)", call, call.Arguments)
	}
}

func TestAnthropicChat_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestAnthropicClient(t, server.URL).Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{})
	if err == nil {
		t.Fatal("Expected error for 429 response")
	}
}

func TestToAnthropicMessages_FoldsToolResults(t *testing.T) {
	t.Parallel()

	msgs, system := toAnthropicMessages([]Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "build"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "a", Name: "upsert_component", Arguments: json.RawMessage(`{"id":"x"}`)},
			{ID: "b", Name: "finalize", Arguments: json.RawMessage(`not-json`)},
		}},
		{Role: RoleTool, ToolCallID: "a", Name: "upsert_component", Content: "ok"},
		{Role: RoleTool, ToolCallID: "b", Name: "finalize", Content: "ok"},
	})

	if system != "sys" {
		t.Errorf("Expected system prompt 'sys', got %q", system)
	}
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d: %+v", len(msgs), msgs)
	}
	assistant := msgs[1]
	if assistant.Role != RoleAssistant || len(assistant.Content) != 2 {
		t.Fatalf("Expected assistant turn with 2 tool_use blocks, got %+v", assistant)
	}
	if string(assistant.Content[1].Input) != "{}" {
		t.Errorf("Expected invalid arguments replaced by {}, got %s", assistant.Content[1].Input)
	}
	results := msgs[2]
	if results.Role != RoleUser || len(results.Content) != 2 {
		t.Fatalf("Expected one user turn with 2 tool_result blocks, got %+v", results)
	}
	if results.Content[0].ToolUseID != "a" || results.Content[1].ToolUseID != "b" {
		t.Errorf("Unexpected tool_result ids: %+v", results.Content)
	}
}
