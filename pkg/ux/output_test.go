// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// Helper to capture stdout
func captureStdout(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// Helper to capture stderr
func captureStderr(f func()) string {
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	f()

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// =============================================================================
// Mode Tests
// =============================================================================

func TestSetMode_AndCurrent(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)

	SetMode(ModePlain)
	if CurrentMode() != ModePlain {
		t.Errorf("expected ModePlain, got %v", CurrentMode())
	}

	SetMode(ModeStyled)
	if CurrentMode() != ModeStyled {
		t.Errorf("expected ModeStyled, got %v", CurrentMode())
	}
}

func TestPlain(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)

	SetMode(ModePlain)
	if !Plain() {
		t.Error("expected Plain() true in ModePlain")
	}

	SetMode(ModeStyled)
	if Plain() {
		t.Error("expected Plain() false in ModeStyled")
	}
}

func TestInitMode_PlainEnvOverride(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)

	t.Setenv("HOMEOSTAT_PLAIN", "1")
	InitMode()

	if CurrentMode() != ModePlain {
		t.Errorf("expected ModePlain with HOMEOSTAT_PLAIN set, got %v", CurrentMode())
	}
}

func TestInitMode_NoColorOverride(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)

	t.Setenv("NO_COLOR", "1")
	InitMode()

	if CurrentMode() != ModePlain {
		t.Errorf("expected ModePlain with NO_COLOR set, got %v", CurrentMode())
	}
}

func TestInitMode_NonTerminal(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)

	t.Setenv("HOMEOSTAT_PLAIN", "")
	t.Setenv("NO_COLOR", "")
	InitMode()

	// go test runs without a TTY on stdout, so detection lands on
	// plain even with the overrides unset.
	if CurrentMode() != ModePlain {
		t.Errorf("expected ModePlain without a TTY, got %v", CurrentMode())
	}
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render_PlainMode(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)
	SetMode(ModePlain)

	if got := IconSuccess.Render(); got != "✓" {
		t.Errorf("expected bare checkmark in plain mode, got %q", got)
	}
	if got := IconError.Render(); got != "✗" {
		t.Errorf("expected bare cross in plain mode, got %q", got)
	}
	if got := IconArrow.Render(); got != "→" {
		t.Errorf("expected bare arrow in plain mode, got %q", got)
	}
}

func TestIcon_Render_StyledNonEmpty(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)
	SetMode(ModeStyled)

	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconBullet} {
		if icon.Render() == "" {
			t.Errorf("expected non-empty render for icon %q", string(icon))
		}
	}
}

// =============================================================================
// Print Helper Tests
// =============================================================================

func TestSuccess_PlainPrefix(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)
	SetMode(ModePlain)

	out := captureStdout(func() {
		Success("canary promoted")
	})

	if out != "OK: canary promoted\n" {
		t.Errorf("unexpected plain success output: %q", out)
	}
}

func TestWarning_PlainGoesToStderr(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)
	SetMode(ModePlain)

	errOut := captureStderr(func() {
		Warning("window closed")
	})

	if errOut != "WARN: window closed\n" {
		t.Errorf("unexpected plain warning output: %q", errOut)
	}
}

func TestError_PlainGoesToStderr(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)
	SetMode(ModePlain)

	errOut := captureStderr(func() {
		Error("budget exhausted")
	})

	if errOut != "ERROR: budget exhausted\n" {
		t.Errorf("unexpected plain error output: %q", errOut)
	}
}

func TestKV_Plain(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)
	SetMode(ModePlain)

	out := captureStdout(func() {
		KV("queue depth", "3")
	})

	if out != "queue depth: 3\n" {
		t.Errorf("unexpected plain KV output: %q", out)
	}
}

func TestKV_StyledContainsValue(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)
	SetMode(ModeStyled)

	out := captureStdout(func() {
		KV("remaining", "42.5s")
	})

	if !strings.Contains(out, "remaining") || !strings.Contains(out, "42.5s") {
		t.Errorf("expected label and value in styled KV output, got %q", out)
	}
}

// =============================================================================
// ShortHash Tests
// =============================================================================

func TestShortHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
		want string
	}{
		{
			name: "full sha256 hash",
			hash: "abc123def456abc123def456abc123def456abc123def456abc123def456abc1",
			want: "abc123de...abc1",
		},
		{
			name: "short hash unchanged",
			hash: "abc123",
			want: "abc123",
		},
		{
			name: "sixteen chars unchanged",
			hash: "0123456789abcdef",
			want: "0123456789abcdef",
		},
		{
			name: "empty",
			hash: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShortHash(tt.hash); got != tt.want {
				t.Errorf("ShortHash(%q) = %q, want %q", tt.hash, got, tt.want)
			}
		})
	}
}

// =============================================================================
// ChainVerdict Tests
// =============================================================================

func TestChainVerdict_ValidPlain(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)
	SetMode(ModePlain)

	got := ChainVerdict(true, 47,
		"abc123def456abc123def456abc123def456abc123def456abc123def456abc1")

	want := "OK: chain intact | 47 entries | head abc123de...abc1"
	if got != want {
		t.Errorf("ChainVerdict = %q, want %q", got, want)
	}
}

func TestChainVerdict_BrokenPlain(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)
	SetMode(ModePlain)

	got := ChainVerdict(false, 12, "deadbeef")

	if !strings.HasPrefix(got, "ERROR: chain BROKEN") {
		t.Errorf("expected ERROR prefix for a broken chain, got %q", got)
	}
	if !strings.Contains(got, "12 entries") {
		t.Errorf("expected entry count in verdict, got %q", got)
	}
}

func TestChainVerdict_EmptyHead(t *testing.T) {
	orig := CurrentMode()
	defer SetMode(orig)
	SetMode(ModePlain)

	got := ChainVerdict(true, 0, "")

	if !strings.Contains(got, "head N/A") {
		t.Errorf("expected N/A head for an empty chain, got %q", got)
	}
}
