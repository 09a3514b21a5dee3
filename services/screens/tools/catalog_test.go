// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog()
	require.NoError(t, err)
	return c
}

func TestCatalog_Definitions(t *testing.T) {
	defs := newCatalog(t).Definitions()

	require.Len(t, defs, 8)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
		assert.NotEmpty(t, d.Description, d.Name)
		assert.True(t, json.Valid(d.Parameters), d.Name)
	}
	assert.Equal(t, "upsert_component", names[0])
	assert.Equal(t, "finalize", names[len(names)-1])
}

func TestParse_UpsertComponent(t *testing.T) {
	op, err := newCatalog(t).Parse("call_1", "upsert_component",
		json.RawMessage(`{"id":"hero","name":"Hero","html":"<h1>Hi</h1>"}`))
	require.NoError(t, err)

	assert.Equal(t, KindUpsertComponent, op.Tool)
	assert.Equal(t, "call_1", op.CallID)
	assert.Equal(t, []screen.ComponentUpsert{{ID: "hero", Name: "Hero", HTML: "<h1>Hi</h1>"}}, op.Patch.UpsertComponents)
	assert.Equal(t, "hero", op.Args["id"])
	assert.NotContains(t, op.Args, "html")
}

func TestParse_InsertDefaultsToAppend(t *testing.T) {
	c := newCatalog(t)

	op, err := c.Parse("", "insert_into_layout", json.RawMessage(`{"component_id":"hero"}`))
	require.NoError(t, err)
	require.Len(t, op.Patch.LayoutPatch, 1)
	assert.Equal(t, float64(screen.AppendIndex), op.Patch.LayoutPatch[0].Index)

	op, err = c.Parse("", "insert_into_layout", json.RawMessage(`{"component_id":"hero","index":0}`))
	require.NoError(t, err)
	assert.Equal(t, screen.Insert("hero", 0), op.Patch.LayoutPatch[0])
}

func TestParse_EachToolProducesOneEdit(t *testing.T) {
	c := newCatalog(t)
	cases := []struct {
		name string
		args string
		want screen.Patch
	}{
		{"delete_component", `{"id":"a"}`, screen.Patch{DeleteComponents: []string{"a"}}},
		{"move_in_layout", `{"component_id":"a","to_index":2}`, screen.Patch{LayoutPatch: []screen.LayoutOp{screen.Move("a", 2)}}},
		{"remove_from_layout", `{"component_id":"a"}`, screen.Patch{LayoutPatch: []screen.LayoutOp{screen.Remove("a")}}},
		{"set_layout", `{"layout":["b","a"]}`, screen.Patch{LayoutPatch: []screen.LayoutOp{screen.Set([]string{"b", "a"})}}},
		{"update_screen_meta", `{"title":"Home"}`, screen.Patch{Title: screen.StringPtr("Home")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op, err := c.Parse("", tc.name, json.RawMessage(tc.args))
			require.NoError(t, err)
			assert.Equal(t, tc.want, op.Patch)
			assert.False(t, op.IsFinalize())
		})
	}
}

func TestParse_Finalize(t *testing.T) {
	op, err := newCatalog(t).Parse("", "finalize", json.RawMessage(`{"summary":"Built a landing page."}`))
	require.NoError(t, err)

	assert.True(t, op.IsFinalize())
	assert.Equal(t, "Built a landing page.", op.Summary)
	assert.True(t, op.Patch.IsEmpty())
}

func TestParse_RejectsInvalidArguments(t *testing.T) {
	c := newCatalog(t)
	cases := []struct {
		tool string
		args string
	}{
		{"upsert_component", `{"id":"Bad Id","name":"x","html":"y"}`},
		{"upsert_component", `{"id":"ok","name":"","html":"y"}`},
		{"upsert_component", `{"id":"ok","name":"x"}`},
		{"upsert_component", `{"id":"ok","name":"x","html":"y","extra":1}`},
		{"insert_into_layout", `{"component_id":"a","index":"first"}`},
		{"move_in_layout", `{"component_id":"a"}`},
		{"update_screen_meta", `{}`},
		{"finalize", `{"summary":""}`},
		{"set_layout", `not json`},
	}
	for _, tc := range cases {
		t.Run(tc.tool+" "+tc.args, func(t *testing.T) {
			_, err := c.Parse("", tc.tool, json.RawMessage(tc.args))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArguments))

			var ae *ArgumentError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, Kind(tc.tool), ae.Tool)
			assert.NotEmpty(t, ae.Violations)
			assert.Contains(t, err.Error(), tc.tool)
		})
	}
}

func TestParse_EmptyArgumentsTreatedAsObject(t *testing.T) {
	_, err := newCatalog(t).Parse("", "finalize", nil)

	var ae *ArgumentError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "required", ae.Violations[0].Rule)
}

func TestParse_UnknownTool(t *testing.T) {
	_, err := newCatalog(t).Parse("", "drop_tables", json.RawMessage(`{}`))

	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.NotErrorIs(t, err, ErrInvalidArguments)
}
