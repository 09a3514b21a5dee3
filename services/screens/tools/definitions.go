// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools defines the structural operations an agent may invoke.
//
// # Description
//
// Each operation is exposed to the model as a function tool with a JSON
// Schema. The same schema is compiled and used to validate the arguments the
// model sends back, so the model and the server agree on one contract. A
// validated call is normalized into an Operation whose Patch holds exactly
// that one edit.
//
// # Thread Safety
//
// Catalog is immutable after NewCatalog and safe for concurrent use.
package tools

// Kind names a structural operation. It doubles as the tool name.
type Kind string

const (
	KindUpsertComponent  Kind = "upsert_component"
	KindDeleteComponent  Kind = "delete_component"
	KindInsertIntoLayout Kind = "insert_into_layout"
	KindMoveInLayout     Kind = "move_in_layout"
	KindRemoveFromLayout Kind = "remove_from_layout"
	KindSetLayout        Kind = "set_layout"
	KindUpdateScreenMeta Kind = "update_screen_meta"
	KindFinalize         Kind = "finalize"
)

// MaxSummaryLength bounds the human-readable summary carried by finalize.
const MaxSummaryLength = 500

type toolSpec struct {
	kind        Kind
	description string
	schema      string
}

// specs is the catalog in the order tools are offered to the model.
var specs = []toolSpec{
	{
		kind: KindUpsertComponent,
		description: "Create a component or replace an existing one with the same id. " +
			"The html must be static markup: never include <script> tags or inline event handler " +
			"attributes such as onclick. A new component that is not placed with a layout tool is " +
			"appended to the end of the layout.",
		schema: `{
  "type": "object",
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[a-z0-9][a-z0-9_-]{0,63}$",
      "description": "Stable component id: lowercase letters, digits, '-' or '_', starting with a letter or digit."
    },
    "name": {"type": "string", "minLength": 1, "maxLength": 80, "description": "Short human-readable name."},
    "html": {"type": "string", "minLength": 1, "maxLength": 50000, "description": "Static HTML fragment for the component."}
  },
  "required": ["id", "name", "html"],
  "additionalProperties": false
}`,
	},
	{
		kind:        KindDeleteComponent,
		description: "Delete a component and remove it from the layout.",
		schema: `{
  "type": "object",
  "properties": {
    "id": {"type": "string", "minLength": 1, "maxLength": 64}
  },
  "required": ["id"],
  "additionalProperties": false
}`,
	},
	{
		kind: KindInsertIntoLayout,
		description: "Place an existing component in the layout at index. If it is already placed it is moved. " +
			"Use index 9999 to append.",
		schema: `{
  "type": "object",
  "properties": {
    "component_id": {"type": "string", "minLength": 1, "maxLength": 64},
    "index": {"type": "integer", "description": "Zero-based position; 9999 appends."}
  },
  "required": ["component_id"],
  "additionalProperties": false
}`,
	},
	{
		kind:        KindMoveInLayout,
		description: "Move a component that is already in the layout to to_index. Does nothing if it is not placed.",
		schema: `{
  "type": "object",
  "properties": {
    "component_id": {"type": "string", "minLength": 1, "maxLength": 64},
    "to_index": {"type": "integer"}
  },
  "required": ["component_id", "to_index"],
  "additionalProperties": false
}`,
	},
	{
		kind:        KindRemoveFromLayout,
		description: "Remove a component from the layout. The component stays stored and can be placed again.",
		schema: `{
  "type": "object",
  "properties": {
    "component_id": {"type": "string", "minLength": 1, "maxLength": 64}
  },
  "required": ["component_id"],
  "additionalProperties": false
}`,
	},
	{
		kind:        KindSetLayout,
		description: "Replace the entire layout with the given ordered list of component ids. Unknown ids are ignored.",
		schema: `{
  "type": "object",
  "properties": {
    "layout": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["layout"],
  "additionalProperties": false
}`,
	},
	{
		kind:        KindUpdateScreenMeta,
		description: "Set the screen title and/or the global stylesheet shared by every component.",
		schema: `{
  "type": "object",
  "properties": {
    "title": {"type": "string", "minLength": 1, "maxLength": 120},
    "globalCss": {"type": "string", "maxLength": 20000}
  },
  "minProperties": 1,
  "additionalProperties": false
}`,
	},
	{
		kind:        KindFinalize,
		description: "Call exactly once when the screen is complete, with a short summary of what changed.",
		schema: `{
  "type": "object",
  "properties": {
    "summary": {"type": "string", "minLength": 1, "maxLength": 500}
  },
  "required": ["summary"],
  "additionalProperties": false
}`,
	},
}
