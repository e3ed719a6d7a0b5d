// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the homeostat CLI.
//
// Output runs in one of two modes. Styled mode renders colors, icons,
// and spinners for interactive terminals. Plain mode emits prefixed
// single-line text suitable for scripts, pipes, and log capture. The
// mode is detected from the environment at startup and can be forced
// with SetMode.
package ux

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Mode selects between styled terminal output and plain text.
type Mode string

const (
	// ModeStyled renders colors, icons, and spinners.
	ModeStyled Mode = "styled"

	// ModePlain emits prefixed plain text for scripting and pipes.
	ModePlain Mode = "plain"
)

var (
	currentMode = ModeStyled
	modeMu      sync.RWMutex
)

// CurrentMode returns the active output mode.
func CurrentMode() Mode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return currentMode
}

// SetMode overrides the active output mode.
func SetMode(m Mode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	currentMode = m
}

// Plain reports whether output should skip styling.
func Plain() bool {
	return CurrentMode() == ModePlain
}

// InitMode picks the output mode from the environment: plain when
// NO_COLOR or HOMEOSTAT_PLAIN is set, or when stdout is not a
// terminal.
func InitMode() {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("HOMEOSTAT_PLAIN") != "" {
		SetMode(ModePlain)
		return
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		SetMode(ModePlain)
		return
	}
	SetMode(ModeStyled)
}

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	// Semantic colors (keeping standard conventions for clarity)
	ColorSuccess = lipgloss.Color("#2CD7C7") // Bright teal for success
	ColorWarning = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
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
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	if Plain() {
		return string(i)
	}
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Print helpers that respect the output mode

// Title prints a styled title
func Title(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	if Plain() {
		fmt.Fprintf(os.Stdout, "OK: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func Warning(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func Error(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational message
func Info(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints muted/secondary text
func Muted(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// KV prints an aligned label/value line.
func KV(label, value string) {
	if Plain() {
		fmt.Printf("%s: %s\n", label, value)
		return
	}
	fmt.Printf("  %s %s\n", Styles.Muted.Render(fmt.Sprintf("%-14s", label)), value)
}

// ShortHash truncates a hex hash for display, keeping the first 8 and
// last 4 characters. Full 64-character hashes are unwieldy on a
// status line; the truncated form is for human reading only and is
// never fed back into verification.
func ShortHash(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:8] + "..." + hash[len(hash)-4:]
}

// ChainVerdict formats the result of an audit chain verification as a
// single status line.
func ChainVerdict(valid bool, entries int64, head string) string {
	headDisplay := ShortHash(head)
	if head == "" {
		headDisplay = "N/A"
	}
	if valid {
		line := fmt.Sprintf("chain intact | %d entries | head %s", entries, headDisplay)
		if Plain() {
			return "OK: " + line
		}
		return IconSuccess.Render() + " " + line
	}
	line := fmt.Sprintf("chain BROKEN | %d entries | head %s", entries, headDisplay)
	if Plain() {
		return "ERROR: " + line
	}
	return IconError.Render() + " " + Styles.Error.Render(line)
}
