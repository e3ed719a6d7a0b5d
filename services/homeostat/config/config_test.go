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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() should validate: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() = %v, want nil for missing file", err)
	}
	if cfg.Queue.MaxDepth != Default().Queue.MaxDepth {
		t.Error("missing file should fall back to defaults")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homeostat.yaml")
	content := `
service:
  listen_addr: "127.0.0.1:9999"
  tick_interval: 10s
queue:
  max_depth: 7
budget:
  daily_seconds: 120
canary:
  test_timeout: 45s
actuators:
  gpu:
    - name: gpu_clock
      min: 800
      max: 1600
      step: 50
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Service.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %v", cfg.Service.ListenAddr)
	}
	if cfg.Service.TickInterval != 10*time.Second {
		t.Errorf("TickInterval = %v", cfg.Service.TickInterval)
	}
	if cfg.Queue.MaxDepth != 7 {
		t.Errorf("MaxDepth = %v", cfg.Queue.MaxDepth)
	}
	if cfg.Budget.DailySeconds != 120 {
		t.Errorf("DailySeconds = %v", cfg.Budget.DailySeconds)
	}
	if cfg.Canary.TestTimeout != 45*time.Second {
		t.Errorf("TestTimeout = %v", cfg.Canary.TestTimeout)
	}
	specs := cfg.Actuators["gpu"]
	if len(specs) != 1 || specs[0].Name != "gpu_clock" || specs[0].Step != 50 {
		t.Errorf("Actuators[gpu] = %+v", specs)
	}

	// Unset fields keep defaults
	if cfg.Lock.AcquireTimeout != Default().Lock.AcquireTimeout {
		t.Error("unset lock timeout should keep default")
	}
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("{{{not yaml or json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unparseable file")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homeostat.yaml")
	if err := os.WriteFile(path, []byte("queue:\n  max_depth: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HOMEOSTAT_QUEUE_MAX_DEPTH", "11")
	t.Setenv("HOMEOSTAT_DAILY_BUDGET_SECONDS", "90.5")
	t.Setenv("HOMEOSTAT_WINDOW_START", "23:00")
	t.Setenv("HOMEOSTAT_WINDOW_END", "04:00")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Queue.MaxDepth != 11 {
		t.Errorf("env should override file: MaxDepth = %v", cfg.Queue.MaxDepth)
	}
	if cfg.Budget.DailySeconds != 90.5 {
		t.Errorf("DailySeconds = %v", cfg.Budget.DailySeconds)
	}
	if cfg.Window.Start != "23:00" || cfg.Window.End != "04:00" {
		t.Errorf("window = %v-%v", cfg.Window.Start, cfg.Window.End)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short tick interval", func(c *Config) { c.Service.TickInterval = 100 * time.Millisecond }},
		{"zero queue depth", func(c *Config) { c.Queue.MaxDepth = 0 }},
		{"negative budget", func(c *Config) { c.Budget.DailySeconds = -1 }},
		{"zero lock timeout", func(c *Config) { c.Lock.AcquireTimeout = 0 }},
		{"zero canary timeout", func(c *Config) { c.Canary.TestTimeout = 0 }},
		{"zero restore sla", func(c *Config) { c.Canary.RestoreSLA = 0 }},
		{"zero scope guard", func(c *Config) { c.Canary.MaxParamsPerChange = 0 }},
		{"fitness above one", func(c *Config) { c.Lifecycle.FitnessThreshold = 1.5 }},
		{"zero min evidence", func(c *Config) { c.Lifecycle.MinEvidence = 0 }},
		{"bad window format", func(c *Config) { c.Window.Start = "2am" }},
		{"bad timezone", func(c *Config) { c.Window.Timezone = "Mars/Olympus" }},
		{"bad telemetry source", func(c *Config) { c.Probe.Telemetry = "carrier-pigeon" }},
		{"bad actuator", func(c *Config) {
			c.Actuators = map[string][]ActuatorConfig{
				"gpu": {{Name: "clock", Min: 10, Max: 5, Step: 1}},
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRateLimitConfig_ForSubsystem(t *testing.T) {
	cfg := RateLimitConfig{
		MaxPerDay: 4,
		Cooldown:  2 * time.Hour,
		Subsystems: map[string]SubsystemRateLimit{
			"gpu":   {MaxPerDay: 2, Cooldown: 6 * time.Hour},
			"audio": {Cooldown: time.Hour}, // partial override
		},
	}

	t.Run("full override", func(t *testing.T) {
		got := cfg.ForSubsystem("gpu")
		if got.MaxPerDay != 2 || got.Cooldown != 6*time.Hour {
			t.Errorf("ForSubsystem(gpu) = %+v", got)
		}
	})

	t.Run("partial override inherits global", func(t *testing.T) {
		got := cfg.ForSubsystem("audio")
		if got.MaxPerDay != 4 {
			t.Errorf("MaxPerDay = %v, want global 4", got.MaxPerDay)
		}
		if got.Cooldown != time.Hour {
			t.Errorf("Cooldown = %v, want override 1h", got.Cooldown)
		}
	})

	t.Run("unknown subsystem gets global", func(t *testing.T) {
		got := cfg.ForSubsystem("llm")
		if got.MaxPerDay != 4 || got.Cooldown != 2*time.Hour {
			t.Errorf("ForSubsystem(llm) = %+v", got)
		}
	})
}

func TestActuatorConfig_ToSpec(t *testing.T) {
	a := ActuatorConfig{Name: "gpu_clock", Min: 800, Max: 1600, Step: 50}
	spec := a.ToSpec()
	if spec.Name != "gpu_clock" || spec.Min != 800 || spec.Max != 1600 || spec.Step != 50 {
		t.Errorf("ToSpec() = %+v", spec)
	}
}

func TestLoad_WindowWrapsMidnight(t *testing.T) {
	cfg := Default()
	cfg.Window.Start = "23:00"
	cfg.Window.End = "04:00"
	if err := cfg.Validate(); err != nil {
		t.Errorf("midnight-wrapping window should validate: %v", err)
	}
}
