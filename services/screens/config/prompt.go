// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DefaultSystemPrompt instructs the agent when no prompt file is configured.
const DefaultSystemPrompt = `You are a UI builder. You edit a web page ("screen") made of components.

A screen has an optional title, an optional global stylesheet, a set of components
addressed by id, and a layout: the ordered list of component ids that are shown.

Work only through the tools:
- upsert_component creates or replaces a component. Use short lowercase ids such as
  "hero" or "pricing-table". The html must be static markup styled with classes from
  the global stylesheet. Never write <script> tags or inline event handlers (onclick etc.).
- insert_into_layout, move_in_layout, remove_from_layout and set_layout arrange components.
  A new component you do not place is appended to the end of the layout.
- update_screen_meta sets the title and the global stylesheet.
- delete_component removes a component entirely.

Make the smallest set of edits that satisfies the request. When the screen is done,
call finalize exactly once with a one or two sentence summary of what you changed.`

// PromptStore serves the agent system prompt.
//
// # Description
//
// Without a path the store always returns DefaultSystemPrompt. With a path,
// the file is read at construction and re-read whenever it is written or
// recreated while Watch runs. A file that becomes unreadable or empty keeps
// the last good prompt.
//
// # Thread Safety
//
// Safe for concurrent use.
type PromptStore struct {
	path string

	mu     sync.RWMutex
	prompt string
}

// NewPromptStore creates a store for path. An empty path uses the default.
//
// # Outputs
//
//   - *PromptStore: Ready store.
//   - error: When path is set but cannot be read or is empty.
func NewPromptStore(path string) (*PromptStore, error) {
	s := &PromptStore{path: path, prompt: DefaultSystemPrompt}
	if path == "" {
		return s, nil
	}
	prompt, err := readPrompt(path)
	if err != nil {
		return nil, err
	}
	s.prompt = prompt
	return s, nil
}

// SystemPrompt returns the current prompt.
func (s *PromptStore) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

// Reload re-reads the prompt file. It is a no-op without a path.
func (s *PromptStore) Reload() error {
	if s.path == "" {
		return nil
	}
	prompt, err := readPrompt(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.prompt = prompt
	s.mu.Unlock()
	slog.Info("Reloaded system prompt", "path", s.path, "length", len(prompt))
	return nil
}

// Watch reloads the prompt on file changes until ctx is cancelled.
//
// # Description
//
// Watches the parent directory rather than the file so that editors that
// replace the file by rename are handled. Blocks; run it in a goroutine.
// Returns immediately without a path.
//
// # Outputs
//
//   - error: When the watcher cannot be created. nil on cancellation.
func (s *PromptStore) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating prompt watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)
	slog.Debug("Watching system prompt", "path", target)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				slog.Warn("Keeping previous system prompt", "path", s.path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("System prompt watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}

func readPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading system prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("system prompt file %s is empty", path)
	}
	return prompt, nil
}
