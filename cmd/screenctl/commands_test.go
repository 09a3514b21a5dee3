// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianScreens/pkg/logging"
	"github.com/AleutianAI/AleutianScreens/pkg/screenstore"
	"github.com/AleutianAI/AleutianScreens/pkg/ux"
	"github.com/AleutianAI/AleutianScreens/services/llm"
	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/handlers"
	"github.com/AleutianAI/AleutianScreens/services/screens/observability"
	"github.com/AleutianAI/AleutianScreens/services/screens/routes"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/AleutianAI/AleutianScreens/services/screens/tools"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Doubles
// =============================================================================

// scriptedModel answers ChatWithTools with one scripted response per call
// and records the history it was sent.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*llm.ToolResponse
	err       error
	seen      [][]llm.Message
}

func (m *scriptedModel) Chat(context.Context, []llm.Message, llm.GenerationParams) (string, error) {
	return "", errors.New("not scripted")
}

func (m *scriptedModel) ChatWithTools(_ context.Context, messages []llm.Message, _ []llm.ToolDefinition, _ llm.GenerationParams) (*llm.ToolResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, messages)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &llm.ToolResponse{Content: "Done."}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *scriptedModel) Model() string { return "scripted" }

type staticPrompt string

func (p staticPrompt) SystemPrompt() string { return string(p) }

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// =============================================================================
// Helpers
// =============================================================================

func newTestServer(t *testing.T, model llm.Client) *httptest.Server {
	t.Helper()
	catalog, err := tools.NewCatalog()
	require.NoError(t, err)
	registry := prometheus.NewRegistry()
	h := handlers.NewScreensHandler(model, catalog, staticPrompt("You build screens."),
		observability.NewMetrics(registry), handlers.Settings{})

	router := gin.New()
	routes.SetupRoutes(router, h, nil, registry)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, serverURL string) (*app, *bytes.Buffer) {
	t.Helper()
	store, err := screenstore.Open(screenstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var out bytes.Buffer
	return &app{
		name:    "test",
		printer: ux.NewPrinter(&out, ux.ModeMachine),
		logger:  logging.New(logging.Config{Quiet: true}),
		store:   store,
		client:  newScreensClient(serverURL),
	}, &out
}

// =============================================================================
// generate
// =============================================================================

func TestGenerate_TwoTurnsOverSSE(t *testing.T) {
	model := &scriptedModel{responses: []*llm.ToolResponse{
		{ToolCalls: []llm.ToolCall{
			call("c1", "upsert_component", `{"id":"hero","name":"Hero","html":"<h1>Bakery</h1>"}`),
			call("c2", "finalize", `{"summary":"Added a hero."}`),
		}},
		{ToolCalls: []llm.ToolCall{
			call("c3", "upsert_component", `{"id":"pricing","name":"Pricing","html":"<table></table>"}`),
			call("c4", "move_in_layout", `{"component_id":"pricing","to_index":0}`),
			call("c5", "finalize", `{"summary":"Added pricing on top."}`),
		}},
	}}
	a, out := newTestApp(t, newTestServer(t, model).URL)
	ctx := context.Background()

	first, err := a.generate(ctx, "Build a bakery page", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"hero"}, first.Screen.Layout)

	second, err := a.generate(ctx, "Add pricing on top", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"pricing", "hero"}, second.Screen.Layout)

	rec, err := a.store.Load("test")
	require.NoError(t, err)
	assert.Equal(t, second.Digest, rec.Digest)
	assert.Len(t, rec.Messages, 4)

	require.Len(t, model.seen, 2)
	var sentHistory bool
	for _, m := range model.seen[1] {
		if m.Role == llm.RoleUser && m.Content == "Build a bakery page" {
			sentHistory = true
		}
	}
	assert.True(t, sentHistory, "second turn carries the first prompt")

	assert.Contains(t, out.String(), "final\tfinalize")
	assert.NotContains(t, out.String(), "WARN", "replay matches the server")
}

func TestGenerate_WebSocket(t *testing.T) {
	model := &scriptedModel{responses: []*llm.ToolResponse{
		{ToolCalls: []llm.ToolCall{
			call("c1", "upsert_component", `{"id":"hero","name":"Hero","html":"<h1>Hi</h1>"}`),
			call("c2", "update_screen_meta", `{"title":"Home"}`),
			call("c3", "finalize", `{"summary":"Done."}`),
		}},
	}}
	a, _ := newTestApp(t, newTestServer(t, model).URL)

	final, err := a.generate(context.Background(), "Make a home page", true)
	require.NoError(t, err)
	require.NotNil(t, final.Screen.Title)
	assert.Equal(t, "Home", *final.Screen.Title)

	rec, err := a.store.Load("test")
	require.NoError(t, err)
	assert.Equal(t, final.Digest, rec.Digest)
}

func TestGenerate_ErrorEventStoresNothing(t *testing.T) {
	a, out := newTestApp(t, newTestServer(t, &scriptedModel{err: errors.New("provider down")}).URL)

	_, err := a.generate(context.Background(), "anything", false)
	assert.ErrorIs(t, err, errTurnFailed)
	assert.NotContains(t, err.Error(), "provider down")
	assert.Contains(t, out.String(), "error\tupstream_error")

	_, err = a.store.Load("test")
	assert.ErrorIs(t, err, screenstore.ErrNotFound)
}

func TestGenerate_RejectedRequest(t *testing.T) {
	a, _ := newTestApp(t, newTestServer(t, &scriptedModel{}).URL)
	_, err := a.generate(context.Background(), strings.Repeat("x", 10001), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request")
}

// TestGenerate_DriftAdoptsServerSnapshot uses a server whose patches do not
// add up to its final screen.
func TestGenerate_DriftAdoptsServerSnapshot(t *testing.T) {
	authoritative := screen.Apply(screen.Empty(), screen.Patch{
		UpsertComponents: []screen.ComponentUpsert{{ID: "b", Name: "B", HTML: "<p>b</p>"}},
	})
	digest, err := screen.Digest(authoritative)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.SetSSEHeaders(w)
		writer, err := handlers.NewSSEWriter(w)
		require.NoError(t, err)
		_ = writer.WriteEvent(datatypes.Event{ID: 1, Type: datatypes.EventReady, Data: datatypes.ReadyEvent{OK: true, SessionID: "s"}})
		_ = writer.WriteEvent(datatypes.Event{ID: 2, Type: datatypes.EventPatch, Data: datatypes.PatchEvent{
			Step:  1,
			Patch: screen.Patch{UpsertComponents: []screen.ComponentUpsert{{ID: "a", Name: "A", HTML: "<p>a</p>"}}},
		}})
		_ = writer.WriteEvent(datatypes.Event{ID: 3, Type: datatypes.EventFinal, Data: datatypes.FinalEvent{
			Summary:      "Done.",
			Screen:       authoritative,
			Digest:       digest,
			FinishReason: datatypes.FinishReasonFinalize,
			Operations:   1,
			Messages:     []datatypes.ChatMessage{{Role: "user", Content: "go"}, {Role: "assistant", Content: "Done."}},
		}})
	}))
	t.Cleanup(srv.Close)

	a, out := newTestApp(t, srv.URL)
	final, err := a.generate(context.Background(), "go", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, final.Screen.Layout)
	assert.Contains(t, out.String(), "WARN\t")

	rec, err := a.store.Load("test")
	require.NoError(t, err)
	assert.True(t, rec.Screen.Has("b"))
	assert.False(t, rec.Screen.Has("a"))
}

// =============================================================================
// apply, render
// =============================================================================

func TestApply_LocalAndRemote(t *testing.T) {
	a, out := newTestApp(t, newTestServer(t, &scriptedModel{}).URL)
	ctx := context.Background()

	s, err := a.apply(ctx, screen.Patch{
		UpsertComponents: []screen.ComponentUpsert{{ID: "hero", Name: "Hero", HTML: "<h1/>"}},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"hero"}, s.Layout)

	s, err = a.apply(ctx, screen.Patch{
		UpsertComponents: []screen.ComponentUpsert{{ID: "cta", Name: "CTA", HTML: "<a>Go</a>"}},
		LayoutPatch:      []screen.LayoutOp{screen.Insert("cta", 0)},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"cta", "hero"}, s.Layout)
	assert.NotContains(t, out.String(), "WARN", "server and local reducers agree")
}

func TestReadPatch(t *testing.T) {
	p, err := readPatch(strings.NewReader(`{"delete_components":["hero"]}`), "-")
	require.NoError(t, err)
	assert.Equal(t, []string{"hero"}, p.DeleteComponents)

	_, err = readPatch(strings.NewReader(`{"upsert_components":[{"id":"Not Valid","name":"x","html":"x"}]}`), "-")
	assert.Error(t, err)

	p, err = readPatch(strings.NewReader(`{"delete_components":["Hero"],"layout_patch":[{"op":"remove","component_id":"Hero"}]}`), "-")
	require.NoError(t, err, "unknown references are left to the reducer")
	assert.Equal(t, []string{"Hero"}, p.DeleteComponents)

	_, err = readPatch(nil, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestRender_WritesSanitizedPage(t *testing.T) {
	a, _ := newTestApp(t, "http://unused")
	_, err := a.store.Save("test", screen.Apply(screen.Empty(), screen.Patch{
		UpsertComponents: []screen.ComponentUpsert{{ID: "hero", Name: "Hero", HTML: `<h1 onclick="x()">Hi</h1><script>bad()</script>`}},
	}), nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, a.render(nil, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<h1>Hi</h1>")
	assert.NotContains(t, string(data), "bad()")

	var stdout bytes.Buffer
	require.NoError(t, a.render(&stdout, ""))
	assert.Equal(t, string(data), stdout.String())
}

func TestReset_Confirmation(t *testing.T) {
	a, _ := newTestApp(t, "http://unused")
	_, err := a.store.Save("test", screen.Empty(), nil)
	require.NoError(t, err)

	orig := confirm
	t.Cleanup(func() { confirm = orig })

	var asked int
	confirm = func(string) (bool, error) { asked++; return false, nil }
	require.NoError(t, a.reset(false))
	assert.Equal(t, 1, asked)
	_, err = a.store.Load("test")
	require.NoError(t, err, "declined reset keeps the screen")

	require.NoError(t, a.reset(true))
	assert.Equal(t, 1, asked, "--yes skips the prompt")
	_, err = a.store.Load("test")
	assert.ErrorIs(t, err, screenstore.ErrNotFound)
}
