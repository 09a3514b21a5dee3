// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package render turns a Screen into a standalone HTML page.
//
// # Description
//
// Before any component markup is emitted, every <script> element and every
// inline on* event handler attribute is removed. This filter is applied on
// display only; stored Screens keep the markup exactly as the model wrote
// it, and the reducer never rewrites HTML.
//
// The filter is not a security boundary. Pages are still expected to be
// shown in a sandboxed frame.
package render

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// styleCloser matches a closing style tag in any case, so that globalCss
// cannot end the <style> element early.
var styleCloser = regexp.MustCompile(`(?i)</style`)

// Sanitize strips <script> elements and on* attributes from an HTML fragment.
//
// # Description
//
// The fragment is parsed in a <body> context with golang.org/x/net/html,
// filtered, and re-serialized. Serialization normalizes the markup (quotes
// attributes, closes open elements), so the output is not byte-identical to
// the input even when nothing was removed.
//
// # Outputs
//
//   - string: The filtered fragment.
//   - error: When the fragment cannot be parsed or serialized.
func Sanitize(fragment string) (string, error) {
	context := &nethtml.Node{Type: nethtml.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := nethtml.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return "", fmt.Errorf("parse fragment: %w", err)
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if isScript(n) {
			continue
		}
		strip(n)
		if err := nethtml.Render(&buf, n); err != nil {
			return "", fmt.Errorf("render fragment: %w", err)
		}
	}
	return buf.String(), nil
}

// strip removes script children and handler attributes below n, in place.
func strip(n *nethtml.Node) {
	if n.Type == nethtml.ElementNode {
		n.Attr = withoutHandlers(n.Attr)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if isScript(c) {
			n.RemoveChild(c)
		} else {
			strip(c)
		}
		c = next
	}
}

func isScript(n *nethtml.Node) bool {
	return n.Type == nethtml.ElementNode && (n.DataAtom == atom.Script || strings.EqualFold(n.Data, "script"))
}

func withoutHandlers(attrs []nethtml.Attribute) []nethtml.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if strings.HasPrefix(strings.ToLower(a.Key), "on") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Page assembles the full document for s.
//
// # Description
//
// Components are emitted in layout order, each wrapped in a <section> whose
// data-component-id names it. Components that exist but are not in the
// layout are not rendered. The title is escaped, and globalCss goes into a
// single <style> element in the head.
//
// # Outputs
//
//   - string: A complete HTML5 document.
//   - error: When a component fragment cannot be sanitized.
func Page(s screen.Screen) (string, error) {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	if s.Title != nil {
		fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(*s.Title))
	}
	if s.GlobalCSS != nil && *s.GlobalCSS != "" {
		fmt.Fprintf(&b, "<style>\n%s\n</style>\n", styleCloser.ReplaceAllString(*s.GlobalCSS, `<\/style`))
	}
	b.WriteString("</head>\n<body>\n")

	for _, id := range s.Layout {
		c, ok := s.Components[id]
		if !ok {
			continue
		}
		body, err := Sanitize(c.HTML)
		if err != nil {
			return "", fmt.Errorf("component %s: %w", id, err)
		}
		fmt.Fprintf(&b, "<section data-component-id=\"%s\">\n%s\n</section>\n", html.EscapeString(id), body)
	}

	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}
