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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	anthropicAPIVersion = "2023-06-01"
	defaultBaseURL      = "https://api.anthropic.com/v1/messages"
	defaultMaxTokens    = 8192
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"` // Top-level system prompt
	MaxTokens int                `json:"max_tokens"`
	Tools     []toolsDefinition  `json:"tools,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
}

// anthropicMessage always uses the block form of content so that tool_use
// and tool_result blocks can ride alongside text.
type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type toolsDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`

	Thinking string `json:"thinking,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- Client Implementation ---

type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	endpoint   string
}

func NewAnthropicClient(opts Options) (*AnthropicClient, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = readSecret("ANTHROPIC_API_KEY", "/run/secrets/anthropic_api_key")
	}
	if apiKey == "" {
		slog.Warn("Anthropic API Key is missing.")
		return nil, fmt.Errorf("anthropic: %w", ErrMissingCredentials)
	}

	model := opts.Model
	if model == "" {
		model = os.Getenv("CLAUDE_MODEL")
	}
	if model == "" {
		model = "claude-sonnet-4-5"
		slog.Info("CLAUDE_MODEL not set, defaulting to", "model", model)
	}

	endpoint := opts.BaseURL
	if endpoint == "" {
		endpoint = os.Getenv("ANTHROPIC_BASE_URL")
	}
	if endpoint == "" {
		endpoint = defaultBaseURL
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		endpoint:   endpoint,
	}, nil
}

// Model implements Client.
func (a *AnthropicClient) Model() string {
	return a.model
}

// Chat implements Client.
func (a *AnthropicClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	resp, err := a.ChatWithTools(ctx, messages, nil, params)
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", fmt.Errorf("received content but no text block found")
	}
	return resp.Content, nil
}

// ChatWithTools implements Client.
func (a *AnthropicClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, params GenerationParams) (*ToolResponse, error) {
	ctx, span := otel.Tracer("llm").Start(ctx, "AnthropicClient.ChatWithTools")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", a.model),
		attribute.Int("llm.message_count", len(messages)),
		attribute.Int("llm.tool_count", len(tools)),
	)

	apiMessages, systemPrompt := toAnthropicMessages(messages)

	// Handle System Prompt with Caching
	var systemBlocks []systemBlock
	if systemPrompt != "" {
		block := systemBlock{Type: "text", Text: systemPrompt}
		if len(systemPrompt) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	reqPayload := anthropicRequest{
		Model:       a.model,
		Messages:    apiMessages,
		System:      systemBlocks,
		MaxTokens:   defaultMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		StopSeqs:    params.Stop,
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}
	for _, t := range tools {
		reqPayload.Tools = append(reqPayload.Tools, toolsDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Anthropic", "model", a.model, "tools", len(tools))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http request failed")
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, "non-200 response")
		slog.Error("Anthropic returned error status", "status", resp.StatusCode, "body_length", len(bodyBytes))
		return nil, fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	out := &ToolResponse{FinishReason: apiResp.StopReason}
	var text strings.Builder
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		case "thinking":
			slog.Debug("Claude Thoughts", "thinking", block.Thinking)
		}
	}
	out.Content = text.String()
	return out, nil
}

// toAnthropicMessages splits out the system prompt and folds consecutive tool
// results into a single user turn, which is what the Messages API expects.
func toAnthropicMessages(messages []Message) ([]anthropicMessage, string) {
	var out []anthropicMessage
	var system []string
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)

		case RoleTool:
			block := anthropicContent{Type: "tool_result", ToolUseID: msg.ToolCallID, Content: msg.Content}
			if n := len(out); n > 0 && out[n-1].Role == RoleUser && isToolResultTurn(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropicMessage{Role: RoleUser, Content: []anthropicContent{block}})

		case RoleAssistant:
			var blocks []anthropicContent
			if msg.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 || !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropicContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			out = append(out, anthropicMessage{Role: RoleAssistant, Content: blocks})

		default:
			out = append(out, anthropicMessage{
				Role:    RoleUser,
				Content: []anthropicContent{{Type: "text", Text: msg.Content}},
			})
		}
	}
	return out, strings.Join(system, "\n\n")
}

func isToolResultTurn(m anthropicMessage) bool {
	for _, b := range m.Content {
		if b.Type != "tool_result" {
			return false
		}
	}
	return len(m.Content) > 0
}
