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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianScreens/services/llm"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrUnknownTool is returned by Parse for a tool name outside the catalog.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is wrapped by every *ArgumentError.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// ArgumentError describes why a tool call's arguments were rejected.
// The message is meant to be sent back to the model verbatim.
type ArgumentError struct {
	Tool       Kind
	Violations []screen.Violation
}

func (e *ArgumentError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Field == "" {
			parts = append(parts, v.Message)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(parts, "; "))
}

func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArguments
}

// Operation is one validated tool call.
//
// For every kind except finalize, Patch holds exactly that one edit. Args
// carries the identifying arguments (ids, indexes, layout) for display; it
// never includes component HTML or stylesheet bodies.
type Operation struct {
	Tool    Kind           `json:"tool"`
	CallID  string         `json:"call_id,omitempty"`
	Patch   screen.Patch   `json:"patch"`
	Summary string         `json:"summary,omitempty"`
	Args    map[string]any `json:"args"`
}

// IsFinalize reports whether the operation ends the session.
func (o Operation) IsFinalize() bool {
	return o.Tool == KindFinalize
}

// Catalog holds the compiled tool schemas.
type Catalog struct {
	order   []Kind
	specs   map[Kind]toolSpec
	schemas map[Kind]*jsonschema.Schema
}

// NewCatalog compiles every tool schema.
//
// # Outputs
//
//   - *Catalog: Ready for Definitions and Parse.
//   - error: Non-nil only if an embedded schema is malformed.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{
		specs:   make(map[Kind]toolSpec, len(specs)),
		schemas: make(map[Kind]*jsonschema.Schema, len(specs)),
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	for _, s := range specs {
		url := fmt.Sprintf("https://screens.local/tools/%s.schema.json", s.kind)
		if err := compiler.AddResource(url, strings.NewReader(s.schema)); err != nil {
			return nil, fmt.Errorf("adding schema for %s: %w", s.kind, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compiling schema for %s: %w", s.kind, err)
		}
		c.order = append(c.order, s.kind)
		c.specs[s.kind] = s
		c.schemas[s.kind] = compiled
	}
	return c, nil
}

// MustCatalog is NewCatalog for package-level initialisation.
func MustCatalog() *Catalog {
	c, err := NewCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

// Definitions returns the tools in the form offered to the model.
func (c *Catalog) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(c.order))
	for _, k := range c.order {
		s := c.specs[k]
		out = append(out, llm.ToolDefinition{
			Name:        string(k),
			Description: s.description,
			Parameters:  json.RawMessage(s.schema),
		})
	}
	return out
}

// Parse validates a tool call and normalizes it into an Operation.
//
// # Description
//
// The arguments are checked against the tool's JSON Schema. A call that
// passes is decoded into a single-edit Patch. Empty arguments are treated as
// "{}" so that tools with no required fields still validate.
//
// # Outputs
//
//   - Operation: The normalized call.
//   - error: ErrUnknownTool (wrapped) or *ArgumentError.
func (c *Catalog) Parse(callID, name string, args json.RawMessage) (Operation, error) {
	kind := Kind(name)
	schema, ok := c.schemas[kind]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return Operation{}, &ArgumentError{Tool: kind, Violations: []screen.Violation{{
			Rule:    "json",
			Message: fmt.Sprintf("arguments are not valid JSON: %v", err),
		}}}
	}
	if err := schema.Validate(instance); err != nil {
		return Operation{}, &ArgumentError{Tool: kind, Violations: schemaViolations(err)}
	}

	op := Operation{Tool: kind, CallID: callID, Args: map[string]any{}}
	if err := decodeInto(kind, args, &op); err != nil {
		return Operation{}, &ArgumentError{Tool: kind, Violations: []screen.Violation{{
			Rule:    "decode",
			Message: err.Error(),
		}}}
	}
	return op, nil
}

type upsertArgs struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	HTML string `json:"html"`
}

type idArgs struct {
	ID string `json:"id"`
}

type componentArgs struct {
	ComponentID string   `json:"component_id"`
	Index       *float64 `json:"index"`
	ToIndex     float64  `json:"to_index"`
}

type setArgs struct {
	Layout []string `json:"layout"`
}

type metaArgs struct {
	Title     *string `json:"title"`
	GlobalCSS *string `json:"globalCss"`
}

type finalizeArgs struct {
	Summary string `json:"summary"`
}

func decodeInto(kind Kind, args json.RawMessage, op *Operation) error {
	switch kind {
	case KindUpsertComponent:
		var a upsertArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		op.Patch.UpsertComponents = []screen.ComponentUpsert{{ID: a.ID, Name: a.Name, HTML: a.HTML}}
		op.Args["id"] = a.ID
		op.Args["name"] = a.Name

	case KindDeleteComponent:
		var a idArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		op.Patch.DeleteComponents = []string{a.ID}
		op.Args["id"] = a.ID

	case KindInsertIntoLayout:
		var a componentArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		index := float64(screen.AppendIndex)
		if a.Index != nil {
			index = *a.Index
		}
		op.Patch.LayoutPatch = []screen.LayoutOp{{Op: screen.LayoutInsert, ComponentID: a.ComponentID, Index: index}}
		op.Args["component_id"] = a.ComponentID
		op.Args["index"] = index

	case KindMoveInLayout:
		var a componentArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		op.Patch.LayoutPatch = []screen.LayoutOp{{Op: screen.LayoutMove, ComponentID: a.ComponentID, ToIndex: a.ToIndex}}
		op.Args["component_id"] = a.ComponentID
		op.Args["to_index"] = a.ToIndex

	case KindRemoveFromLayout:
		var a componentArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		op.Patch.LayoutPatch = []screen.LayoutOp{screen.Remove(a.ComponentID)}
		op.Args["component_id"] = a.ComponentID

	case KindSetLayout:
		var a setArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		op.Patch.LayoutPatch = []screen.LayoutOp{screen.Set(a.Layout)}
		op.Args["layout"] = append([]string{}, a.Layout...)

	case KindUpdateScreenMeta:
		var a metaArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		op.Patch.Title = a.Title
		op.Patch.GlobalCSS = a.GlobalCSS
		if a.Title != nil {
			op.Args["title"] = *a.Title
		}
		if a.GlobalCSS != nil {
			op.Args["globalCss_length"] = len(*a.GlobalCSS)
		}

	case KindFinalize:
		var a finalizeArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		op.Summary = a.Summary
	}
	return nil
}

// schemaViolations flattens a jsonschema error tree into its leaf causes.
func schemaViolations(err error) []screen.Violation {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []screen.Violation{{Rule: "schema", Message: err.Error()}}
	}
	var out []screen.Violation
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, screen.Violation{
				Field:   e.InstanceLocation,
				Rule:    keywordOf(e.KeywordLocation),
				Message: e.Message,
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

func keywordOf(location string) string {
	if i := strings.LastIndex(location, "/"); i >= 0 {
		return location[i+1:]
	}
	return location
}
