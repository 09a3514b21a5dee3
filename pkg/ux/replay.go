// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
)

// ErrOutOfOrder is returned when an event id does not follow the previous one.
var ErrOutOfOrder = errors.New("event out of order")

// Replayer keeps a local Screen in sync with a turn stream.
//
// Every patch event is folded with screen.Apply, the same reducer the
// server uses, so the local Screen tracks the server's running Screen while
// the turn is in progress. On the final event the server's snapshot is
// adopted as-is; the replayed Screen's digest is compared with the server's
// to detect drift.
//
// Not safe for concurrent use.
type Replayer struct {
	current screen.Screen
	lastID  int64
	drift   bool
	done    bool
}

// NewReplayer starts from the Screen that was sent with the request.
func NewReplayer(start screen.Screen) *Replayer {
	return &Replayer{current: screen.Normalize(start)}
}

// Screen returns a copy of the local Screen.
func (r *Replayer) Screen() screen.Screen { return r.current.Clone() }

// Drift reports whether the replayed Screen differed from the final snapshot.
func (r *Replayer) Drift() bool { return r.drift }

// Done reports whether a terminal event has been seen.
func (r *Replayer) Done() bool { return r.done }

// Handle folds one event. It is a StreamCallback.
//
// Returns ErrOutOfOrder when ids skip or repeat, and an error for events
// after a terminal one. An error event is not an error here; callers read it
// from the stream.
func (r *Replayer) Handle(event StreamEvent) error {
	if r.done {
		return fmt.Errorf("event %d after terminal event", event.ID)
	}
	if event.ID != 0 {
		if event.ID != r.lastID+1 {
			return fmt.Errorf("%w: got id %d after %d", ErrOutOfOrder, event.ID, r.lastID)
		}
		r.lastID = event.ID
	}

	switch event.Type {
	case datatypes.EventPatch:
		p, err := event.Patch()
		if err != nil {
			return err
		}
		r.current = screen.Apply(r.current, p.Patch)

	case datatypes.EventFinal:
		final, err := event.Final()
		if err != nil {
			return err
		}
		replayed, err := screen.Digest(r.current)
		if err != nil {
			return err
		}
		r.drift = replayed != final.Digest
		r.current = screen.Normalize(final.Screen)
		r.done = true

	case datatypes.EventError:
		r.done = true
	}
	return nil
}
