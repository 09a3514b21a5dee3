// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command screenctl drives a screens server from the terminal.
//
// It streams generation turns, replays every patch locally with the same
// reducer the server uses, checks the result against the server's final
// digest, and keeps the final Screen and chat history in a local store so
// that the next turn continues where the last one ended.
//
// # Usage
//
//	screenctl generate "Build a landing page for a bakery"
//	screenctl generate --ws "Add a pricing table under the hero"
//	screenctl show
//	screenctl render -o bakery.html
//	screenctl apply patch.json
//	screenctl reset --yes
//	screenctl list
//
// # Environment Variables
//
//   - SCREENCTL_SERVER: Server base URL (default: http://localhost:12220)
//   - SCREENCTL_HOME: State directory (default: ~/.aleutian/screens)
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// options holds the persistent flags.
type options struct {
	server   string
	home     string
	name     string
	logLevel string
	logFile  bool
	plain    bool
	machine  bool
}

var opts options

var rootCmd = &cobra.Command{
	Use:           "screenctl",
	Short:         "Generate and manage screens with a screens server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("SCREENCTL_SERVER", "http://localhost:12220"), "screens server base URL")
	flags.StringVar(&opts.home, "home", envOr("SCREENCTL_HOME", "~/.aleutian/screens"), "directory for the local store and logs")
	flags.StringVarP(&opts.name, "screen", "s", "default", "name of the local screen to work on")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flags.BoolVar(&opts.logFile, "log-file", false, "also write JSON logs under <home>/logs")
	flags.BoolVar(&opts.plain, "plain", false, "disable colors and boxes")
	flags.BoolVar(&opts.machine, "machine", false, "print tab-separated records for scripts")

	rootCmd.AddCommand(generateCmd, applyCmd, showCmd, renderCmd, resetCmd, listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		newErrorPrinter().Error(err.Error())
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
