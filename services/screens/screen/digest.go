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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Digest returns the hex SHA-256 of the RFC 8785 canonical JSON form of s.
//
// Two screens with equal content always produce the same digest regardless
// of map iteration order, which lets a consumer that replayed patches check
// that it reached the same state as the producer.
func Digest(s Screen) (string, error) {
	canonical, err := CanonicalJSON(s)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON encodes s as RFC 8785 canonical JSON.
func CanonicalJSON(s Screen) ([]byte, error) {
	// Encode nil collections as empty ones so that a freshly decoded screen
	// and one built in memory canonicalize identically.
	if s.Components == nil || s.Layout == nil {
		s = s.Clone()
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal screen: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize screen: %w", err)
	}
	return canonical, nil
}
