// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package screen

import (
	"math"
)

// Apply folds patch into prev and returns the resulting Screen.
//
// # Description
//
// Apply is pure and total: it never fails and never mutates prev. Bad
// references (unknown ids in the layout, inserts or moves of components that
// do not exist) are dropped or ignored rather than reported.
//
// Processing order is fixed:
//  1. Copy prev; Title/GlobalCSS are overwritten when the patch carries them.
//  2. Upserts overwrite components; ids not present in prev are "newly added".
//  3. Deletes remove components and strip them from the layout.
//  4. Layout operations run in order against the already-mutated layout.
//  5. Newly added components still missing from the layout are appended in
//     upsert order.
//  6. Normalize: dedupe (first wins), drop dangling ids, truncate.
//
// # Inputs
//
//   - prev: The current screen. Not modified.
//   - patch: The edits to apply. Not modified.
//
// # Outputs
//
//   - Screen: A new screen satisfying all layout invariants.
//
// # Examples
//
//	next := screen.Apply(screen.Empty(), screen.Patch{
//	    UpsertComponents: []screen.ComponentUpsert{{ID: "hero", Name: "Hero", HTML: "<div>Hi</div>"}},
//	})
//	// next.Layout == []string{"hero"}
//
// # Limitations
//
//   - Layout operations are position dependent and not idempotent.
//   - Apply does not validate names, markup or lengths; see Validate.
//
// # Assumptions
//
//   - prev may be any Screen, including one decoded from untrusted input.
func Apply(prev Screen, patch Patch) Screen {
	next := prev.Clone()
	if patch.Title != nil {
		next.Title = cloneString(patch.Title)
	}
	if patch.GlobalCSS != nil {
		next.GlobalCSS = cloneString(patch.GlobalCSS)
	}

	var added []string
	seenAdded := make(map[string]bool)
	for _, u := range patch.UpsertComponents {
		if !IsValidComponentID(u.ID) {
			continue
		}
		if _, existed := prev.Components[u.ID]; !existed && !seenAdded[u.ID] {
			added = append(added, u.ID)
			seenAdded[u.ID] = true
		}
		next.Components[u.ID] = Component{Name: u.Name, HTML: u.HTML}
	}

	for _, id := range patch.DeleteComponents {
		delete(next.Components, id)
		next.Layout = without(next.Layout, id)
	}

	for _, op := range patch.LayoutPatch {
		next.Layout = applyLayoutOp(next.Layout, next.Components, op)
	}

	if len(added) > 0 {
		placed := make(map[string]bool, len(next.Layout))
		for _, id := range next.Layout {
			placed[id] = true
		}
		for _, id := range added {
			if _, ok := next.Components[id]; ok && !placed[id] {
				next.Layout = append(next.Layout, id)
				placed[id] = true
			}
		}
	}

	return Normalize(next)
}

// Normalize repairs a Screen so that it satisfies the layout invariants.
//
// Components under malformed ids are dropped, then the layout is
// deduplicated (first occurrence wins), stripped of ids that do not name a
// component, and truncated to MaxLayoutEntries. The input is not modified.
func Normalize(s Screen) Screen {
	out := Screen{
		Title:      cloneString(s.Title),
		GlobalCSS:  cloneString(s.GlobalCSS),
		Components: make(map[string]Component, len(s.Components)),
		Layout:     make([]string, 0, min(len(s.Layout), MaxLayoutEntries)),
	}
	for id, c := range s.Components {
		if IsValidComponentID(id) {
			out.Components[id] = c
		}
	}

	seen := make(map[string]bool, len(s.Layout))
	for _, id := range s.Layout {
		if len(out.Layout) == MaxLayoutEntries {
			break
		}
		if seen[id] {
			continue
		}
		if _, ok := out.Components[id]; !ok {
			continue
		}
		seen[id] = true
		out.Layout = append(out.Layout, id)
	}
	return out
}

// applyLayoutOp applies one layout edit. layout is owned by the caller's
// working copy and may be reused; components is the post-upsert, post-delete
// mapping used to filter unknown ids.
func applyLayoutOp(layout []string, components map[string]Component, op LayoutOp) []string {
	switch op.Op {
	case LayoutSet:
		out := make([]string, 0, len(op.Layout))
		for _, id := range op.Layout {
			if _, ok := components[id]; ok {
				out = append(out, id)
			}
		}
		return out

	case LayoutRemove:
		return without(layout, op.ComponentID)

	case LayoutInsert:
		if _, ok := components[op.ComponentID]; !ok {
			return layout
		}
		layout = without(layout, op.ComponentID)
		return insertAt(layout, op.ComponentID, clampIndex(op.Index, len(layout)))

	case LayoutMove:
		if _, ok := components[op.ComponentID]; !ok {
			return layout
		}
		if !contains(layout, op.ComponentID) {
			return layout
		}
		layout = without(layout, op.ComponentID)
		return insertAt(layout, op.ComponentID, clampIndex(op.ToIndex, len(layout)))
	}

	// Unknown kinds are ignored.
	return layout
}

// clampIndex maps an arbitrary index onto [0, n]. NaN, infinities and
// negative values mean "append" and resolve to n.
func clampIndex(index float64, n int) int {
	if math.IsNaN(index) || math.IsInf(index, 0) || index < 0 {
		return n
	}
	if index >= float64(n) {
		return n
	}
	return int(math.Floor(index))
}

// without returns layout with every occurrence of id removed.
func without(layout []string, id string) []string {
	out := layout[:0:0]
	for _, v := range layout {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func insertAt(layout []string, id string, index int) []string {
	out := make([]string, 0, len(layout)+1)
	out = append(out, layout[:index]...)
	out = append(out, id)
	return append(out, layout[index:]...)
}

func contains(layout []string, id string) bool {
	for _, v := range layout {
		if v == id {
			return true
		}
	}
	return false
}
