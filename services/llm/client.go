// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides LLM backends behind a single tool-calling interface.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ErrMissingCredentials is returned by constructors when no API key is
// configured for a backend that requires one.
var ErrMissingCredentials = errors.New("llm credentials are not configured")

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ToolDefinition describes one callable function offered to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one conversation turn.
//
// Assistant messages may carry ToolCalls; tool messages answer one call and
// set ToolCallID and Name.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolResponse is one model step: free text, tool calls, or both.
type ToolResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// Client defines the standard interface for any LLM backend.
type Client interface {
	// Chat returns the model's text reply to messages.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatWithTools runs one model step with the given tools available.
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, params GenerationParams) (*ToolResponse, error)

	// Model returns the model identifier used for requests.
	Model() string
}

// readSecret returns the value of envKey, falling back to a Podman/Docker
// secret file. Empty means not configured.
func readSecret(envKey, secretPath string) string {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}
	if secretPath == "" {
		return ""
	}
	content, err := os.ReadFile(secretPath)
	if err != nil {
		return ""
	}
	slog.Info("Read API key from secret file", "path", secretPath)
	return strings.TrimSpace(string(content))
}

// Options selects and configures a backend. Empty fields fall back to the
// backend's environment variables and defaults.
type Options struct {
	Backend string
	Model   string
	BaseURL string
	APIKey  string
}

// New builds the backend named by opts.Backend.
//
// Valid backends: "openai", "anthropic" (alias "claude"), "ollama".
func New(opts Options) (Client, error) {
	var (
		client Client
		err    error
	)
	switch strings.ToLower(opts.Backend) {
	case "openai":
		client, err = asClient(NewOpenAIClient(opts))
	case "anthropic", "claude":
		client, err = asClient(NewAnthropicClient(opts))
	case "ollama":
		client, err = asClient(NewOllamaClient(opts))
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// asClient keeps a typed nil pointer from leaking out as a non-nil Client.
func asClient[T Client](c T, err error) (Client, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}
