// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation checks user-provided inputs before they reach the local
// store or the network.
//
// Screen names become database keys and server URLs become HTTP and
// WebSocket endpoints, so both are checked at the edge of screenctl rather
// than deep inside the store or client.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
)

// screenNamePattern matches valid screen names.
// Allows: letters, digits, dots, underscores, hyphens. Must start with a
// letter or digit. Max length: 64 characters.
var screenNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateScreenName validates the name a screen is stored under.
//
// Example:
//
//	if err := validation.ValidateScreenName(name); err != nil {
//	    return err
//	}
func ValidateScreenName(name string) error {
	if name == "" {
		return fmt.Errorf("screen name cannot be empty")
	}
	if !screenNamePattern.MatchString(name) {
		return fmt.Errorf("invalid screen name %q: use 1-64 letters, digits, '.', '_' or '-'", name)
	}
	return nil
}

// ValidateServerURL validates a screens server base URL. Only absolute
// http and https URLs without a query or fragment are accepted; the
// WebSocket endpoint is derived from the same URL.
func ValidateServerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("server URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server URL %q: missing host", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid server URL %q: query and fragment are not allowed", raw)
	}
	return nil
}
