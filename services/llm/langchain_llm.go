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
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.llm.ollama")

// LangchainClient adapts any langchaingo llms.Model to Client.
//
// # Description
//
// Used for the Ollama backend, and by tests with a scripted llms.Model.
// Tool calls round-trip through llms.ToolCall and llms.ToolCallResponse
// message parts.
type LangchainClient struct {
	model llms.Model
	name  string
}

// NewLangchainClient wraps an existing llms.Model.
func NewLangchainClient(model llms.Model, name string) *LangchainClient {
	return &LangchainClient{model: model, name: name}
}

// NewOllamaClient connects to an Ollama server.
//
// # Inputs
//
//   - opts: BaseURL falls back to OLLAMA_BASE_URL, Model to OLLAMA_MODEL.
//
// # Outputs
//
//   - *LangchainClient: Ready client.
//   - error: When no base URL is configured or langchaingo rejects the options.
func NewOllamaClient(opts Options) (*LangchainClient, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	model := opts.Model
	if model == "" {
		model = os.Getenv("OLLAMA_MODEL")
	}
	if model == "" {
		slog.Warn("OLLAMA_MODEL not set, defaulting to gpt-oss")
		model = "gpt-oss"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	slog.Info("Initializing Ollama client", "base_url", baseURL, "default_model", model)
	return NewLangchainClient(llm, model), nil
}

// Model implements Client.
func (l *LangchainClient) Model() string {
	return l.name
}

// Chat implements Client.
func (l *LangchainClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	resp, err := l.ChatWithTools(ctx, messages, nil, params)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ChatWithTools implements Client.
func (l *LangchainClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, params GenerationParams) (*ToolResponse, error) {
	ctx, span := tracer.Start(ctx, "LangchainClient.ChatWithTools")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", l.name),
		attribute.Int("llm.message_count", len(messages)),
		attribute.Int("llm.tool_count", len(tools)),
	)

	options := callOptions(params)
	if len(tools) > 0 {
		lcTools := make([]llms.Tool, 0, len(tools))
		for _, t := range tools {
			var schema map[string]any
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %s has invalid parameters schema: %w", t.Name, err)
			}
			lcTools = append(lcTools, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  schema,
				},
			})
		}
		options = append(options, llms.WithTools(lcTools))
	}

	resp, err := l.model.GenerateContent(ctx, toLangchainMessages(messages), options...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		slog.Error("langchain GenerateContent failed", "model", l.name, "error", err)
		return nil, fmt.Errorf("generate content failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	choice := resp.Choices[0]
	out := &ToolResponse{Content: choice.Content, FinishReason: choice.StopReason}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		args := json.RawMessage(tc.FunctionCall.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Arguments: args})
	}
	return out, nil
}

func callOptions(params GenerationParams) []llms.CallOption {
	var opts []llms.CallOption
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.TopP != nil {
		opts = append(opts, llms.WithTopP(float64(*params.TopP)))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}
	return opts
}

func toLangchainMessages(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, mc)
		case RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    m.Content,
				}},
			})
		default:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		}
	}
	return out
}
