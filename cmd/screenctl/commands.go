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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianScreens/pkg/logging"
	"github.com/AleutianAI/AleutianScreens/pkg/render"
	"github.com/AleutianAI/AleutianScreens/pkg/screenstore"
	"github.com/AleutianAI/AleutianScreens/pkg/ux"
	"github.com/AleutianAI/AleutianScreens/pkg/validation"
	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// errTurnFailed is returned when the server ends a turn with an error event.
var errTurnFailed = errors.New("turn failed")

// =============================================================================
// Application State
// =============================================================================

// app bundles what every command needs. Commands build one with newApp and
// close it when done.
type app struct {
	name    string
	printer *ux.Printer
	logger  *logging.Logger
	store   *screenstore.Store
	client  *screensClient
}

func newApp(out io.Writer) (*app, error) {
	if err := screenstore.ValidateName(opts.name); err != nil {
		return nil, err
	}
	if err := validation.ValidateServerURL(opts.server); err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return nil, err
	}
	home := expandHome(opts.home)

	logCfg := logging.Config{Level: level, Service: "screenctl"}
	if opts.logFile {
		logCfg.LogDir = filepath.Join(home, "logs")
	}
	logger := logging.New(logCfg)

	store, err := screenstore.Open(screenstore.Config{Path: filepath.Join(home, "db"), Logger: logger.Slog()})
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	return &app{
		name:    opts.name,
		printer: ux.NewPrinter(out, outputMode(out)),
		logger:  logger.With("screen", opts.name),
		store:   store,
		client:  newScreensClient(opts.server),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Closing local store failed", "error", err)
	}
	_ = a.logger.Close()
}

func outputMode(w io.Writer) ux.Mode {
	switch {
	case opts.machine:
		return ux.ModeMachine
	case opts.plain:
		return ux.ModePlain
	default:
		return ux.DetectMode(w)
	}
}

func newErrorPrinter() *ux.Printer {
	return ux.NewPrinter(os.Stderr, outputMode(os.Stderr))
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// withApp runs fn with an app on the command's output.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// =============================================================================
// generate
// =============================================================================

var generateWS bool

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Run one generation turn against the stored screen",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			_, err := a.generate(cmd.Context(), strings.Join(args, " "), generateWS)
			return err
		})
	},
}

func init() {
	generateCmd.Flags().BoolVar(&generateWS, "ws", false, "stream over WebSocket instead of SSE")
}

// generate runs one turn, replaying patches locally as they arrive.
//
// # Description
//
// The stored Screen and history are sent with the prompt. Every patch event
// is folded into a local copy with screen.Apply. On the final event the
// local digest is compared with the server's; a mismatch is reported as
// drift, and the server's snapshot is stored either way. Nothing is stored
// when the turn ends with an error event or the stream breaks.
//
// # Outputs
//
//   - *datatypes.FinalEvent: The terminal snapshot.
//   - error: Transport failures, out-of-order events, errTurnFailed, or a
//     store write failure.
func (a *app) generate(ctx context.Context, prompt string, useWS bool) (*datatypes.FinalEvent, error) {
	rec, err := a.store.LoadOrEmpty(a.name)
	if err != nil {
		return nil, err
	}
	req := datatypes.TurnRequest{Prompt: prompt, Messages: rec.Messages, Screen: &rec.Screen}

	replayer := ux.NewReplayer(rec.Screen)
	spinner := ux.NewSpinner(a.printer, "Waiting for the agent...")
	spinner.Start()
	defer spinner.Stop()

	var (
		final     *datatypes.FinalEvent
		turnError *datatypes.ErrorEvent
	)
	callback := func(event ux.StreamEvent) error {
		spinner.Stop()
		a.logger.Debug("Stream event", "id", event.ID, "event", event.Type)
		a.printer.Event(event)
		if err := replayer.Handle(event); err != nil {
			return err
		}
		switch event.Type {
		case datatypes.EventFinal:
			f, err := event.Final()
			if err != nil {
				return err
			}
			final = &f
		case datatypes.EventError:
			e, err := event.Error()
			if err != nil {
				return err
			}
			turnError = &e
		}
		return nil
	}

	if useWS {
		err = a.client.streamWS(ctx, req, callback)
	} else {
		err = a.client.stream(ctx, req, callback)
	}
	if err != nil {
		return nil, err
	}
	if turnError != nil {
		return nil, fmt.Errorf("%w: %s", errTurnFailed, turnError.Message)
	}
	if final == nil {
		return nil, errors.New("stream ended without a final event")
	}

	if replayer.Drift() {
		local, _ := screen.Digest(replayer.Screen())
		a.logger.Warn("Replayed screen differs from final snapshot", "local_digest", local, "server_digest", final.Digest)
		a.printer.Warning("Local replay drifted from the server; using the server's screen")
	}

	if _, err := a.store.Save(a.name, final.Screen, final.Messages); err != nil {
		return nil, err
	}
	a.logger.Info("Stored screen", "components", len(final.Screen.Components), "finish_reason", final.FinishReason)
	a.printer.Screen(final.Screen)
	a.printer.Success(final.Summary)
	return final, nil
}

// =============================================================================
// apply
// =============================================================================

var applyRemote bool

var applyCmd = &cobra.Command{
	Use:   "apply <patch.json>",
	Short: "Apply a patch file to the stored screen",
	Long: `Apply a patch file to the stored screen with the local reducer.

Use - to read the patch from stdin. With --remote the server's /apply
endpoint folds the patch instead, and its digest is checked against the
local result.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := readPatch(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			_, err := a.apply(cmd.Context(), patch, applyRemote)
			return err
		})
	},
}

func init() {
	applyCmd.Flags().BoolVar(&applyRemote, "remote", false, "fold the patch on the server and compare digests")
}

func readPatch(stdin io.Reader, path string) (screen.Patch, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return screen.Patch{}, fmt.Errorf("read patch: %w", err)
	}
	var patch screen.Patch
	if err := json.Unmarshal(data, &patch); err != nil {
		return screen.Patch{}, fmt.Errorf("parse patch: %w", err)
	}
	if err := screen.ValidatePatch(patch); err != nil {
		return screen.Patch{}, err
	}
	return patch, nil
}

// apply folds patch into the stored Screen and stores the result. The chat
// history is kept unchanged.
func (a *app) apply(ctx context.Context, patch screen.Patch, remote bool) (screen.Screen, error) {
	rec, err := a.store.LoadOrEmpty(a.name)
	if err != nil {
		return screen.Screen{}, err
	}
	next := screen.Apply(rec.Screen, patch)

	if remote {
		resp, err := a.client.apply(ctx, rec.Screen, patch)
		if err != nil {
			return screen.Screen{}, err
		}
		local, err := screen.Digest(next)
		if err != nil {
			return screen.Screen{}, err
		}
		if local != resp.Digest {
			a.logger.Warn("Server fold differs from local fold", "local_digest", local, "server_digest", resp.Digest)
			a.printer.Warning("Server result differs from the local reducer; using the server's screen")
		}
		next = resp.Screen
	}

	saved, err := a.store.Save(a.name, next, rec.Messages)
	if err != nil {
		return screen.Screen{}, err
	}
	a.printer.Screen(saved.Screen)
	a.printer.Success("Applied patch: " + saved.Digest[:12])
	return saved.Screen, nil
}

// =============================================================================
// show, render, reset, list
// =============================================================================

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored screen's layout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			rec, err := a.store.Load(a.name)
			if err != nil {
				return err
			}
			a.printer.Screen(rec.Screen)
			a.printer.Info(fmt.Sprintf("digest %s, %d history message(s), updated %s",
				rec.Digest, len(rec.Messages), rec.UpdatedAt.Format("2006-01-02 15:04:05")))
			return nil
		})
	},
}

var renderOutput string

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the stored screen as an HTML page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			return a.render(cmd.OutOrStdout(), renderOutput)
		})
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "write the page to a file instead of stdout")
}

// render writes the stored Screen as a page to path, or to stdout when path
// is empty.
func (a *app) render(stdout io.Writer, path string) error {
	rec, err := a.store.Load(a.name)
	if err != nil {
		return err
	}
	page, err := render.Page(rec.Screen)
	if err != nil {
		return err
	}
	if path == "" {
		_, err := io.WriteString(stdout, page)
		return err
	}
	if err := os.WriteFile(path, []byte(page), 0644); err != nil {
		return fmt.Errorf("write page: %w", err)
	}
	a.printer.Success("Wrote " + path)
	return nil
}

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the stored screen and its history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			return a.reset(resetYes || !isatty.IsTerminal(os.Stdin.Fd()))
		})
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "skip the confirmation prompt")
}

// confirm asks a yes/no question on the terminal.
var confirm = func(title string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Delete").
		Negative("Keep").
		Value(&ok).
		Run()
	return ok, err
}

// reset deletes the stored Screen, asking first unless skipConfirm is set.
func (a *app) reset(skipConfirm bool) error {
	if !skipConfirm {
		ok, err := confirm(fmt.Sprintf("Delete screen %q and its history?", a.name))
		if err != nil {
			return err
		}
		if !ok {
			a.printer.Info("Kept screen " + a.name)
			return nil
		}
	}
	if err := a.store.Delete(a.name); err != nil {
		return err
	}
	a.printer.Success("Reset screen " + a.name)
	return nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored screens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			names, err := a.store.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				a.printer.Info("No stored screens")
				return nil
			}
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ux.IconBullet, name)
			}
			return nil
		})
	},
}
