// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package screen contains the Screen data model and the patch reducer.
//
// # Description
//
// A Screen is a mapping of reusable HTML components plus an ordered layout
// of component ids. Screens are never edited in place: every change is
// expressed as a Patch and folded into a new Screen by Apply.
//
// # Invariants
//
// Every Screen returned by Apply or Normalize satisfies:
//  1. Every id in Layout is a key of Components.
//  2. Layout contains no duplicate ids (first occurrence wins).
//  3. len(Layout) <= MaxLayoutEntries (earliest entries kept).
//  4. Every key of Components is a well-formed ComponentID.
//
// # Thread Safety
//
// Screen and Patch are plain values. Apply never mutates its inputs, so a
// Screen may be shared across goroutines as long as nobody writes to it.
package screen

import (
	"regexp"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxComponentIDLength is the maximum length of a component id.
	MaxComponentIDLength = 64

	// MaxComponentNameLength is the maximum length of a component name.
	MaxComponentNameLength = 80

	// MaxComponentHTMLLength is the maximum length of a component's markup.
	MaxComponentHTMLLength = 50000

	// MaxTitleLength is the maximum length of a screen title.
	MaxTitleLength = 120

	// MaxGlobalCSSLength is the maximum length of the screen-wide stylesheet.
	MaxGlobalCSSLength = 20000

	// MaxLayoutEntries is the maximum number of entries in a layout.
	MaxLayoutEntries = 200

	// MaxPatchUpserts is the maximum number of upserts a single patch may carry.
	MaxPatchUpserts = 50

	// MaxPatchDeletes is the maximum number of deletes a single patch may carry.
	MaxPatchDeletes = 50

	// MaxPatchLayoutOps is the maximum number of layout operations in a patch.
	MaxPatchLayoutOps = 200

	// AppendIndex is the sentinel index agents use to mean "append".
	// Any index past the end clamps to the end, so this is only a convention.
	AppendIndex = 9999
)

// componentIDPattern matches lowercase alphanumerics plus '-' and '_',
// starting with an alphanumeric, 1-64 characters.
var componentIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// IsValidComponentID reports whether id is a well-formed component id.
func IsValidComponentID(id string) bool {
	return componentIDPattern.MatchString(id)
}

// =============================================================================
// Screen
// =============================================================================

// Component is a named, reusable fragment of markup.
//
// The component id is the key under which it is stored in Screen.Components.
type Component struct {
	Name string `json:"name" validate:"required,min=1,max=80"`
	HTML string `json:"html" validate:"required,min=1,max=50000"`
}

// Screen is the full generated page state.
//
// Title and GlobalCSS are optional; nil means "not set". Components is keyed
// by component id and Layout lists ids in render order.
type Screen struct {
	Title      *string              `json:"title,omitempty" validate:"omitempty,min=1,max=120"`
	GlobalCSS  *string              `json:"globalCss,omitempty" validate:"omitempty,max=20000"`
	Components map[string]Component `json:"components" validate:"dive,keys,componentid,endkeys"`
	Layout     []string             `json:"layout" validate:"max=200,dive,componentid"`
}

// Empty returns a Screen with no components and an empty layout.
func Empty() Screen {
	return Screen{
		Components: map[string]Component{},
		Layout:     []string{},
	}
}

// Clone returns a deep copy of s. Nil collections become empty ones.
func (s Screen) Clone() Screen {
	out := Screen{
		Title:      cloneString(s.Title),
		GlobalCSS:  cloneString(s.GlobalCSS),
		Components: make(map[string]Component, len(s.Components)),
		Layout:     make([]string, len(s.Layout)),
	}
	for id, c := range s.Components {
		out.Components[id] = c
	}
	copy(out.Layout, s.Layout)
	return out
}

// Has reports whether a component with the given id exists.
func (s Screen) Has(id string) bool {
	_, ok := s.Components[id]
	return ok
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}

// =============================================================================
// Patch
// =============================================================================

// ComponentUpsert creates or overwrites one component.
type ComponentUpsert struct {
	ID   string `json:"id" validate:"required,componentid"`
	Name string `json:"name" validate:"required,min=1,max=80"`
	HTML string `json:"html" validate:"required,min=1,max=50000"`
}

// Patch is a batch of structural edits applied atomically by Apply.
//
// Title and GlobalCSS overwrite the previous value when non-nil and are
// carried over otherwise. They are never merged.
type Patch struct {
	UpsertComponents []ComponentUpsert `json:"upsert_components,omitempty" validate:"max=50,dive"`
	DeleteComponents []string          `json:"delete_components,omitempty" validate:"max=50"`
	LayoutPatch      []LayoutOp        `json:"layout_patch,omitempty" validate:"max=200,dive"`
	Title            *string           `json:"title,omitempty" validate:"omitempty,min=1,max=120"`
	GlobalCSS        *string           `json:"globalCss,omitempty" validate:"omitempty,max=20000"`
}

// IsEmpty reports whether the patch carries no edits at all.
func (p Patch) IsEmpty() bool {
	return len(p.UpsertComponents) == 0 &&
		len(p.DeleteComponents) == 0 &&
		len(p.LayoutPatch) == 0 &&
		p.Title == nil &&
		p.GlobalCSS == nil
}

// =============================================================================
// Layout operations
// =============================================================================

// LayoutOpKind tags a LayoutOp variant.
type LayoutOpKind string

const (
	// LayoutInsert places a component at an index, moving it if already placed.
	LayoutInsert LayoutOpKind = "insert"

	// LayoutRemove strips every occurrence of a component from the layout.
	LayoutRemove LayoutOpKind = "remove"

	// LayoutMove relocates a component that is already in the layout.
	LayoutMove LayoutOpKind = "move"

	// LayoutSet replaces the layout wholesale.
	LayoutSet LayoutOpKind = "set"
)

// LayoutOp is a tagged layout edit. Which fields are meaningful depends on Op:
//
//	insert: ComponentID, Index
//	remove: ComponentID
//	move:   ComponentID, ToIndex
//	set:    Layout
//
// Indexes are float64 so that non-finite or fractional values coming from
// loosely-typed producers can be clamped instead of rejected. Ids are not
// shape-checked: unknown or malformed ids are dropped by Apply, and a set
// longer than MaxLayoutEntries is truncated there.
type LayoutOp struct {
	Op          LayoutOpKind `json:"op" validate:"required,oneof=insert remove move set"`
	ComponentID string       `json:"component_id,omitempty"`
	Index       float64      `json:"index,omitempty"`
	ToIndex     float64      `json:"to_index,omitempty"`
	Layout      []string     `json:"layout,omitempty"`
}

// Insert builds an insert layout operation.
func Insert(id string, index int) LayoutOp {
	return LayoutOp{Op: LayoutInsert, ComponentID: id, Index: float64(index)}
}

// Remove builds a remove layout operation.
func Remove(id string) LayoutOp {
	return LayoutOp{Op: LayoutRemove, ComponentID: id}
}

// Move builds a move layout operation.
func Move(id string, toIndex int) LayoutOp {
	return LayoutOp{Op: LayoutMove, ComponentID: id, ToIndex: float64(toIndex)}
}

// Set builds a set layout operation. The given slice is copied.
func Set(layout []string) LayoutOp {
	l := make([]string, len(layout))
	copy(l, layout)
	return LayoutOp{Op: LayoutSet, Layout: l}
}
