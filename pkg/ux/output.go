// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Mode selects how a Printer formats output.
type Mode int

const (
	// ModeStyled uses colors and boxes. Chosen for terminals.
	ModeStyled Mode = iota
	// ModePlain prints the same lines without escape codes.
	ModePlain
	// ModeMachine prints one tab-separated record per line for scripts.
	ModeMachine
)

// DetectMode returns ModeStyled when w is a terminal, ModePlain otherwise.
func DetectMode(w io.Writer) Mode {
	if f, ok := w.(*os.File); ok {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			return ModeStyled
		}
	}
	return ModePlain
}

// Printer writes CLI output in one Mode.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter creates a Printer on w.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Mode returns the output mode.
func (p *Printer) Mode() Mode { return p.mode }

func (p *Printer) style(s lipgloss.Style, text string) string {
	if p.mode != ModeStyled {
		return text
	}
	return s.Render(text)
}

// Title prints a styled title. Machine mode prints nothing.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.w, p.style(Styles.Title, text))
}

// Success prints a success message with checkmark.
func (p *Printer) Success(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "OK\t%s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.style(Styles.Success, string(IconSuccess)), p.style(Styles.Success, text))
}

// Warning prints a warning message.
func (p *Printer) Warning(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "WARN\t%s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.style(Styles.Warning, string(IconWarning)), p.style(Styles.Warning, text))
}

// Error prints an error message.
func (p *Printer) Error(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "ERROR\t%s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.style(Styles.Error, string(IconError)), p.style(Styles.Error, text))
}

// Info prints an informational message.
func (p *Printer) Info(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.style(Styles.Muted, "│"), text)
}

// Box prints text in a rounded box.
func (p *Printer) Box(title, content string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.w, "%s\t%s\n", title, strings.ReplaceAll(content, "\n", " "))
	case ModePlain:
		fmt.Fprintf(p.w, "%s\n%s\n", title, content)
	default:
		fmt.Fprintln(p.w, Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
	}
}

// Event prints one line per stream event.
func (p *Printer) Event(event StreamEvent) {
	switch event.Type {
	case datatypes.EventReady:
		if v, err := event.Ready(); err == nil {
			p.line("ready", v.SessionID, v.Model)
		}
	case datatypes.EventToolCall:
		if v, err := event.ToolCall(); err == nil {
			p.line("tool_call", fmt.Sprintf("%d", v.Step), v.Tool, describeArgs(v.Args))
		}
	case datatypes.EventPatch:
		if v, err := event.Patch(); err == nil {
			p.line("patch", fmt.Sprintf("%d", v.Step), describePatch(v.Patch))
		}
	case datatypes.EventFinal:
		if v, err := event.Final(); err == nil {
			p.line("final", v.FinishReason, fmt.Sprintf("%d ops", v.Operations), v.Summary)
		}
	case datatypes.EventError:
		if v, err := event.Error(); err == nil {
			p.line("error", v.Code, v.Message)
		}
	}
}

func (p *Printer) line(kind string, fields ...string) {
	if p.mode == ModeMachine {
		fmt.Fprintln(p.w, strings.Join(append([]string{kind}, fields...), "\t"))
		return
	}
	label := p.style(Styles.Subtitle, fmt.Sprintf("%-9s", kind))
	if kind == "error" {
		label = p.style(Styles.Error, fmt.Sprintf("%-9s", kind))
	}
	fmt.Fprintf(p.w, "%s %s %s\n", p.style(Styles.Muted, string(IconArrow)), label, strings.Join(nonEmpty(fields), " "))
}

// Screen prints the title and layout of s.
func (p *Printer) Screen(s screen.Screen) {
	title := "(untitled)"
	if s.Title != nil {
		title = *s.Title
	}
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "title\t%s\n", title)
		for i, id := range s.Layout {
			fmt.Fprintf(p.w, "layout\t%d\t%s\t%s\n", i, id, s.Components[id].Name)
		}
		return
	}

	var b strings.Builder
	for i, id := range s.Layout {
		fmt.Fprintf(&b, "%2d. %s %s\n", i+1, id, p.style(Styles.Muted, s.Components[id].Name))
	}
	hidden := len(s.Components) - len(s.Layout)
	if hidden > 0 {
		fmt.Fprintf(&b, "%s\n", p.style(Styles.Muted, fmt.Sprintf("%d stored component(s) not in layout", hidden)))
	}
	if len(s.Layout) == 0 {
		b.WriteString(p.style(Styles.Muted, "empty layout") + "\n")
	}
	p.Box(title, strings.TrimRight(b.String(), "\n"))
}

func describeArgs(args map[string]any) string {
	for _, key := range []string{"id", "component_id"} {
		if v, ok := args[key]; ok {
			return fmt.Sprint(v)
		}
	}
	if v, ok := args["layout"]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func describePatch(p screen.Patch) string {
	var parts []string
	if n := len(p.UpsertComponents); n > 0 {
		parts = append(parts, fmt.Sprintf("+%d component(s)", n))
	}
	if n := len(p.DeleteComponents); n > 0 {
		parts = append(parts, fmt.Sprintf("-%d component(s)", n))
	}
	for _, op := range p.LayoutPatch {
		parts = append(parts, "layout "+string(op.Op))
	}
	if p.Title != nil || p.GlobalCSS != nil {
		parts = append(parts, "meta")
	}
	return strings.Join(parts, ", ")
}

func nonEmpty(fields []string) []string {
	out := fields[:0:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
