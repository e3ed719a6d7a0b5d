// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates homeostat configuration.
//
// Priority order is environment > file > defaults. The file may be YAML
// or JSON; environment variables use the HOMEOSTAT_ prefix.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
)

// Config contains all homeostat configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Service contains the HTTP listener and tick loop settings.
	Service ServiceConfig `json:"service" yaml:"service"`

	// Storage contains the durable state store settings.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Queue contains intent queue settings.
	Queue QueueConfig `json:"queue" yaml:"queue"`

	// Budget contains downtime budget settings.
	Budget BudgetConfig `json:"budget" yaml:"budget"`

	// Lock contains resource lock settings.
	Lock LockConfig `json:"lock" yaml:"lock"`

	// Window contains the maintenance window definition.
	Window WindowConfig `json:"window" yaml:"window"`

	// RateLimit contains per-subsystem action rate limits.
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// Canary contains live-test settings.
	Canary CanaryConfig `json:"canary" yaml:"canary"`

	// Actuators maps subsystem name to its tunable parameters.
	Actuators map[string][]ActuatorConfig `json:"actuators" yaml:"actuators"`

	// Lifecycle contains graduation gate settings.
	Lifecycle LifecycleConfig `json:"lifecycle" yaml:"lifecycle"`

	// Bioreactor contains tournament settings.
	Bioreactor BioreactorConfig `json:"bioreactor" yaml:"bioreactor"`

	// Probe contains health/telemetry probe settings.
	Probe ProbeConfig `json:"probe" yaml:"probe"`

	// Control contains production/canary process control commands.
	Control ControlConfig `json:"control" yaml:"control"`

	// Audit contains audit trail settings.
	Audit AuditConfig `json:"audit" yaml:"audit"`

	// Auth contains API authentication settings.
	Auth AuthConfig `json:"auth" yaml:"auth"`

	// Observability contains tracing and metrics settings.
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// ServiceConfig contains listener and scheduler settings.
type ServiceConfig struct {
	// ListenAddr is the HTTP bind address, e.g. "0.0.0.0:8095".
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	// TickInterval is the orchestrator's fixed tick period. A tick that
	// outruns the interval delays the next tick; ticks never overlap.
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level"`

	// LogDir enables file logging when non-empty.
	LogDir string `json:"log_dir" yaml:"log_dir"`
}

// StorageConfig contains BadgerDB settings for the durable state store.
type StorageConfig struct {
	// Dir is the on-disk database directory. Ignored when InMemory.
	Dir string `json:"dir" yaml:"dir"`

	// InMemory runs the store without disk persistence. Test use only:
	// a crash loses the queue, budget, and registry.
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// SyncWrites forces fsync on every write. Slower but loses nothing
	// on power failure.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`

	// GCInterval is the value-log garbage collection period.
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval"`
}

// QueueConfig contains intent queue settings.
type QueueConfig struct {
	// MaxDepth caps live queue entries; excess is archived lowest
	// priority first. Enqueue never blocks on a full queue.
	MaxDepth int `json:"max_depth" yaml:"max_depth"`

	// DedupWindow is how long an intent fingerprint suppresses
	// duplicates after enqueue.
	DedupWindow time.Duration `json:"dedup_window" yaml:"dedup_window"`

	// MaxAge archives intents not dequeued within this duration.
	MaxAge time.Duration `json:"max_age" yaml:"max_age"`

	// SpoolDir, when set, is watched for detector-written intent JSON
	// files ("<name>.json"); files are ingested and moved aside.
	SpoolDir string `json:"spool_dir" yaml:"spool_dir"`
}

// BudgetConfig contains downtime budget settings.
type BudgetConfig struct {
	// DailySeconds is the per-day downtime allowance consumed by
	// quiesced canary tests.
	DailySeconds float64 `json:"daily_seconds" yaml:"daily_seconds"`
}

// LockConfig contains resource lock settings.
type LockConfig struct {
	// Dir holds the lock files, one per resource id.
	Dir string `json:"dir" yaml:"dir"`

	// AcquireTimeout bounds how long TryAcquire waits for a held lock.
	AcquireTimeout time.Duration `json:"acquire_timeout" yaml:"acquire_timeout"`

	// PollInterval is the retry period while waiting for a held lock.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// WindowConfig defines the maintenance window in which quiesced canary
// tests may stop production. Start and End are "HH:MM" in the given
// timezone; a window may wrap midnight (e.g. 23:00 to 04:00).
type WindowConfig struct {
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Timezone string `json:"timezone" yaml:"timezone"`
}

// SubsystemRateLimit overrides the global rate limit for one subsystem.
type SubsystemRateLimit struct {
	MaxPerDay int           `json:"max_per_day" yaml:"max_per_day"`
	Cooldown  time.Duration `json:"cooldown" yaml:"cooldown"`
}

// RateLimitConfig contains per-subsystem action rate limits enforced by
// the orchestrator: at most MaxPerDay actions in a rolling 24h window and
// at least Cooldown between consecutive actions.
type RateLimitConfig struct {
	MaxPerDay int           `json:"max_per_day" yaml:"max_per_day"`
	Cooldown  time.Duration `json:"cooldown" yaml:"cooldown"`

	// Subsystems holds per-subsystem overrides keyed by subsystem name.
	Subsystems map[string]SubsystemRateLimit `json:"subsystems" yaml:"subsystems"`
}

// ForSubsystem resolves the effective limit for a subsystem.
func (c RateLimitConfig) ForSubsystem(name string) SubsystemRateLimit {
	if o, ok := c.Subsystems[name]; ok {
		if o.MaxPerDay == 0 {
			o.MaxPerDay = c.MaxPerDay
		}
		if o.Cooldown == 0 {
			o.Cooldown = c.Cooldown
		}
		return o
	}
	return SubsystemRateLimit{MaxPerDay: c.MaxPerDay, Cooldown: c.Cooldown}
}

// CanaryConfig contains live-test settings.
type CanaryConfig struct {
	// TestTimeout is the hard per-test deadline. A canary that exceeds
	// it is forcibly torn down, not waited on.
	TestTimeout time.Duration `json:"test_timeout" yaml:"test_timeout"`

	// RestoreSLA bounds how long production may take to pass its health
	// check after a quiesced test. Exceeding it raises a restore
	// failure and latches the subsystem's breaker.
	RestoreSLA time.Duration `json:"restore_sla" yaml:"restore_sla"`

	// WorstCaseSeconds is the budget reserved before a quiesced test:
	// test timeout plus teardown and restart allowance.
	WorstCaseSeconds float64 `json:"worst_case_seconds" yaml:"worst_case_seconds"`

	// SpareResource enables the zero-budget path running the canary on
	// a secondary device in parallel with production.
	SpareResource bool `json:"spare_resource" yaml:"spare_resource"`

	// ResourceID names the scarce resource guarded by the lock during
	// quiesced tests, e.g. "gpu0".
	ResourceID string `json:"resource_id" yaml:"resource_id"`

	// StartupGrace is how long a spawned canary gets to become healthy
	// before measurement begins.
	StartupGrace time.Duration `json:"startup_grace" yaml:"startup_grace"`

	// ProbeSamples is the number of synthetic completions measured per
	// canary evaluation.
	ProbeSamples int `json:"probe_samples" yaml:"probe_samples"`

	// MaxErrors is the error count at or above which a canary fails.
	MaxErrors int `json:"max_errors" yaml:"max_errors"`

	// LatencyMultiple fails a canary whose median latency exceeds this
	// multiple of the production baseline.
	LatencyMultiple float64 `json:"latency_multiple" yaml:"latency_multiple"`

	// MaxParamsPerChange is the scope guard: a candidate never mutates
	// more than this many actuators at once.
	MaxParamsPerChange int `json:"max_params_per_change" yaml:"max_params_per_change"`

	// GridRadius is how many grid steps the runner expands around a
	// previously promoted value when no seed fix is supplied.
	GridRadius int `json:"grid_radius" yaml:"grid_radius"`
}

// ActuatorConfig declares one tunable parameter in the config file.
type ActuatorConfig struct {
	Name string  `json:"name" yaml:"name"`
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
	Step float64 `json:"step" yaml:"step"`
}

// ToSpec converts the config entry to a runtime actuator spec.
func (a ActuatorConfig) ToSpec() datatypes.ActuatorSpec {
	return datatypes.ActuatorSpec{Name: a.Name, Min: a.Min, Max: a.Max, Step: a.Step}
}

// LifecycleConfig contains graduation gate settings.
//
// The fitness threshold is workload-dependent: real fitness distributions
// have been observed to sit far below naive expectations, so the default
// is deliberately low and deployments should tune it after observing
// their own distribution.
type LifecycleConfig struct {
	// FitnessThreshold is the minimum evaluation fitness for promotion.
	FitnessThreshold float64 `json:"fitness_threshold" yaml:"fitness_threshold"`

	// MinEvidence is the minimum evaluation sample count for promotion.
	MinEvidence int `json:"min_evidence" yaml:"min_evidence"`

	// ProductionMinOKRate is the production gate threshold. Only
	// enforced when ProductionMinEvidence > 0.
	ProductionMinOKRate float64 `json:"production_min_ok_rate" yaml:"production_min_ok_rate"`

	// ProductionMinEvidence is the production gate sample minimum. Zero
	// disables the production gate, which is the only way a first
	// cohort can ever graduate.
	ProductionMinEvidence int `json:"production_min_evidence" yaml:"production_min_evidence"`

	// MaxFailedCycles retires a probation zooid after this many
	// consecutive evaluations without graduating.
	MaxFailedCycles int `json:"max_failed_cycles" yaml:"max_failed_cycles"`

	// BatchTopK is how many dormant zooids the batch selector promotes
	// to probation per pass.
	BatchTopK int `json:"batch_top_k" yaml:"batch_top_k"`

	// MaxProbationPerNiche caps concurrent probation slots per niche.
	MaxProbationPerNiche int `json:"max_probation_per_niche" yaml:"max_probation_per_niche"`
}

// BioreactorConfig contains tournament settings.
type BioreactorConfig struct {
	// ReplaceMargin is how far a challenger's score must exceed the
	// incumbent's before replacement.
	ReplaceMargin float64 `json:"replace_margin" yaml:"replace_margin"`

	// ExplorationBonus scales the low-evidence exploration term added
	// to challenger scores.
	ExplorationBonus float64 `json:"exploration_bonus" yaml:"exploration_bonus"`

	// RetireLosers retires defeated challengers instead of returning
	// them to dormant.
	RetireLosers bool `json:"retire_losers" yaml:"retire_losers"`
}

// ProbeConfig contains health and telemetry probe settings.
type ProbeConfig struct {
	// ProductionURL is the base URL of the tuned inference service
	// (OpenAI-compatible API assumed for the synthetic probe).
	ProductionURL string `json:"production_url" yaml:"production_url"`

	// CanaryURL is the base URL where a spawned canary listens.
	CanaryURL string `json:"canary_url" yaml:"canary_url"`

	// Model is the model name used for synthetic completions.
	Model string `json:"model" yaml:"model"`

	// APIKey authenticates against the inference API. Local backends
	// commonly accept any value.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Timeout bounds a single probe request.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Telemetry selects the utilization source: "http", "influx", or
	// "none".
	Telemetry string `json:"telemetry" yaml:"telemetry"`

	// TelemetryURL is the metrics endpoint for the "http" source.
	TelemetryURL string `json:"telemetry_url" yaml:"telemetry_url"`

	// Influx configures the "influx" telemetry source.
	Influx InfluxConfig `json:"influx" yaml:"influx"`
}

// InfluxConfig contains InfluxDB telemetry source settings.
type InfluxConfig struct {
	URL         string        `json:"url" yaml:"url"`
	Token       string        `json:"token" yaml:"token"`
	Org         string        `json:"org" yaml:"org"`
	Bucket      string        `json:"bucket" yaml:"bucket"`
	Measurement string        `json:"measurement" yaml:"measurement"`
	Lookback    time.Duration `json:"lookback" yaml:"lookback"`
}

// ControlConfig contains the shell commands used to control the tuned
// service and its canary instance. Commands run through the platform
// shell with a bounded timeout.
type ControlConfig struct {
	StopCommand        string        `json:"stop_command" yaml:"stop_command"`
	StartCommand       string        `json:"start_command" yaml:"start_command"`
	SpawnCanaryCommand string        `json:"spawn_canary_command" yaml:"spawn_canary_command"`
	StopCanaryCommand  string        `json:"stop_canary_command" yaml:"stop_canary_command"`
	CommandTimeout     time.Duration `json:"command_timeout" yaml:"command_timeout"`
}

// AuditConfig contains audit trail settings.
type AuditConfig struct {
	// Dir holds the append-only audit log segments.
	Dir string `json:"dir" yaml:"dir"`

	// RotateBytes rotates the active segment when it exceeds this size.
	// Zero disables rotation.
	RotateBytes int64 `json:"rotate_bytes" yaml:"rotate_bytes"`

	// GCS configures optional upload of rotated segments.
	GCS GCSConfig `json:"gcs" yaml:"gcs"`
}

// GCSConfig configures the optional Google Cloud Storage audit exporter.
type GCSConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// AuthConfig contains API authentication and ingest limits.
type AuthConfig struct {
	// Token enables bearer-token auth on mutating endpoints when
	// non-empty.
	Token string `json:"token" yaml:"token"`

	// IngestRPS rate-limits POST /v1/intents.
	IngestRPS float64 `json:"ingest_rps" yaml:"ingest_rps"`

	// IngestBurst is the limiter burst size.
	IngestBurst int `json:"ingest_burst" yaml:"ingest_burst"`
}

// ObservabilityConfig contains tracing and metrics settings.
type ObservabilityConfig struct {
	// TracingEnabled exports OTLP traces when true.
	TracingEnabled bool `json:"tracing_enabled" yaml:"tracing_enabled"`

	// OTLPEndpoint is the collector address, e.g. "localhost:4317".
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`

	// MetricsEnabled exposes Prometheus metrics on /metrics when true.
	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled"`

	// ServiceName is the trace resource service name.
	ServiceName string `json:"service_name" yaml:"service_name"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			ListenAddr:   "0.0.0.0:8095",
			TickInterval: 30 * time.Second,
			LogLevel:     "info",
		},
		Storage: StorageConfig{
			Dir:        "~/.homeostat/state",
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Queue: QueueConfig{
			MaxDepth:    64,
			DedupWindow: time.Hour,
			MaxAge:      24 * time.Hour,
		},
		Budget: BudgetConfig{
			DailySeconds: 60,
		},
		Lock: LockConfig{
			Dir:            "~/.homeostat/locks",
			AcquireTimeout: 10 * time.Second,
			PollInterval:   250 * time.Millisecond,
		},
		Window: WindowConfig{
			Start:    "02:00",
			End:      "05:00",
			Timezone: "Local",
		},
		RateLimit: RateLimitConfig{
			MaxPerDay: 4,
			Cooldown:  2 * time.Hour,
		},
		Canary: CanaryConfig{
			TestTimeout:        30 * time.Second,
			RestoreSLA:         15 * time.Second,
			WorstCaseSeconds:   45,
			SpareResource:      false,
			ResourceID:         "gpu0",
			StartupGrace:       5 * time.Second,
			ProbeSamples:       3,
			MaxErrors:          1,
			LatencyMultiple:    1.5,
			MaxParamsPerChange: 3,
			GridRadius:         1,
		},
		Lifecycle: LifecycleConfig{
			FitnessThreshold:      0.05,
			MinEvidence:           1,
			ProductionMinOKRate:   0.90,
			ProductionMinEvidence: 0,
			MaxFailedCycles:       5,
			BatchTopK:             5,
			MaxProbationPerNiche:  10,
		},
		Bioreactor: BioreactorConfig{
			ReplaceMargin:    0.02,
			ExplorationBonus: 1.41,
			RetireLosers:     false,
		},
		Probe: ProbeConfig{
			ProductionURL: "http://localhost:8080",
			CanaryURL:     "http://localhost:8081",
			Model:         "local-model",
			APIKey:        "none",
			Timeout:       5 * time.Second,
			Telemetry:     "none",
			Influx: InfluxConfig{
				Measurement: "inference",
				Lookback:    5 * time.Minute,
			},
		},
		Control: ControlConfig{
			CommandTimeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			Dir:         "~/.homeostat/audit",
			RotateBytes: 32 * 1024 * 1024,
		},
		Auth: AuthConfig{
			IngestRPS:   5,
			IngestBurst: 10,
		},
		Observability: ObservabilityConfig{
			TracingEnabled: false,
			OTLPEndpoint:   "localhost:4317",
			MetricsEnabled: true,
			ServiceName:    "aleutian-homeostat",
		},
	}
}

// Load loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - configPath: Path to YAML/JSON config file (optional, can be empty).
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but is invalid, or validation fails.
func Load(configPath string) (Config, error) {
	config := Default()

	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}

	return nil
}

func loadConfigFromEnv(config *Config) {
	if v := os.Getenv("HOMEOSTAT_LISTEN_ADDR"); v != "" {
		config.Service.ListenAddr = v
	}
	if v := os.Getenv("HOMEOSTAT_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Service.TickInterval = d
		}
	}
	if v := os.Getenv("HOMEOSTAT_LOG_LEVEL"); v != "" {
		config.Service.LogLevel = v
	}
	if v := os.Getenv("HOMEOSTAT_LOG_DIR"); v != "" {
		config.Service.LogDir = v
	}

	if v := os.Getenv("HOMEOSTAT_STATE_DIR"); v != "" {
		config.Storage.Dir = v
	}
	if v := os.Getenv("HOMEOSTAT_SYNC_WRITES"); v != "" {
		config.Storage.SyncWrites = v == "true" || v == "1"
	}

	if v := os.Getenv("HOMEOSTAT_QUEUE_MAX_DEPTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Queue.MaxDepth = i
		}
	}
	if v := os.Getenv("HOMEOSTAT_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Queue.DedupWindow = d
		}
	}
	if v := os.Getenv("HOMEOSTAT_SPOOL_DIR"); v != "" {
		config.Queue.SpoolDir = v
	}

	if v := os.Getenv("HOMEOSTAT_DAILY_BUDGET_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Budget.DailySeconds = f
		}
	}

	if v := os.Getenv("HOMEOSTAT_LOCK_DIR"); v != "" {
		config.Lock.Dir = v
	}
	if v := os.Getenv("HOMEOSTAT_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Lock.AcquireTimeout = d
		}
	}

	if v := os.Getenv("HOMEOSTAT_WINDOW_START"); v != "" {
		config.Window.Start = v
	}
	if v := os.Getenv("HOMEOSTAT_WINDOW_END"); v != "" {
		config.Window.End = v
	}
	if v := os.Getenv("HOMEOSTAT_WINDOW_TZ"); v != "" {
		config.Window.Timezone = v
	}

	if v := os.Getenv("HOMEOSTAT_RATE_MAX_PER_DAY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.RateLimit.MaxPerDay = i
		}
	}
	if v := os.Getenv("HOMEOSTAT_RATE_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.RateLimit.Cooldown = d
		}
	}

	if v := os.Getenv("HOMEOSTAT_CANARY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Canary.TestTimeout = d
		}
	}
	if v := os.Getenv("HOMEOSTAT_RESTORE_SLA"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Canary.RestoreSLA = d
		}
	}
	if v := os.Getenv("HOMEOSTAT_SPARE_RESOURCE"); v != "" {
		config.Canary.SpareResource = v == "true" || v == "1"
	}

	if v := os.Getenv("HOMEOSTAT_FITNESS_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Lifecycle.FitnessThreshold = f
		}
	}
	if v := os.Getenv("HOMEOSTAT_MIN_EVIDENCE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Lifecycle.MinEvidence = i
		}
	}
	if v := os.Getenv("HOMEOSTAT_PRODUCTION_MIN_EVIDENCE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Lifecycle.ProductionMinEvidence = i
		}
	}

	if v := os.Getenv("HOMEOSTAT_PRODUCTION_URL"); v != "" {
		config.Probe.ProductionURL = v
	}
	if v := os.Getenv("HOMEOSTAT_CANARY_URL"); v != "" {
		config.Probe.CanaryURL = v
	}
	if v := os.Getenv("HOMEOSTAT_PROBE_MODEL"); v != "" {
		config.Probe.Model = v
	}
	if v := os.Getenv("HOMEOSTAT_INFLUX_URL"); v != "" {
		config.Probe.Telemetry = "influx"
		config.Probe.Influx.URL = v
	}
	if v := os.Getenv("HOMEOSTAT_INFLUX_TOKEN"); v != "" {
		config.Probe.Influx.Token = v
	}

	if v := os.Getenv("HOMEOSTAT_AUDIT_DIR"); v != "" {
		config.Audit.Dir = v
	}
	if v := os.Getenv("HOMEOSTAT_GCS_BUCKET"); v != "" {
		config.Audit.GCS.Enabled = true
		config.Audit.GCS.Bucket = v
	}

	if v := os.Getenv("HOMEOSTAT_API_TOKEN"); v != "" {
		config.Auth.Token = v
	}

	if v := os.Getenv("HOMEOSTAT_TRACING_ENABLED"); v != "" {
		config.Observability.TracingEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("HOMEOSTAT_OTLP_ENDPOINT"); v != "" {
		config.Observability.OTLPEndpoint = v
	}
	if v := os.Getenv("HOMEOSTAT_METRICS_ENABLED"); v != "" {
		config.Observability.MetricsEnabled = v == "true" || v == "1"
	}
}

// Validate checks that the configuration is valid.
//
// Outputs:
//   - error: Non-nil if configuration is invalid.
func (c Config) Validate() error {
	if c.Service.TickInterval < time.Second {
		return fmt.Errorf("tick_interval must be >= 1s")
	}
	if c.Queue.MaxDepth < 1 {
		return fmt.Errorf("queue max_depth must be >= 1")
	}
	if c.Queue.DedupWindow <= 0 {
		return fmt.Errorf("dedup_window must be > 0")
	}
	if c.Budget.DailySeconds < 0 {
		return fmt.Errorf("daily_seconds must be >= 0")
	}
	if c.Lock.AcquireTimeout <= 0 {
		return fmt.Errorf("lock acquire_timeout must be > 0")
	}
	if c.Lock.PollInterval <= 0 {
		return fmt.Errorf("lock poll_interval must be > 0")
	}
	if c.Canary.TestTimeout <= 0 {
		return fmt.Errorf("canary test_timeout must be > 0")
	}
	if c.Canary.RestoreSLA <= 0 {
		return fmt.Errorf("canary restore_sla must be > 0")
	}
	if c.Canary.MaxParamsPerChange < 1 {
		return fmt.Errorf("max_params_per_change must be >= 1")
	}
	if c.Canary.ProbeSamples < 1 {
		return fmt.Errorf("probe_samples must be >= 1")
	}
	if c.Lifecycle.FitnessThreshold < 0 || c.Lifecycle.FitnessThreshold > 1 {
		return fmt.Errorf("fitness_threshold must be between 0 and 1")
	}
	if c.Lifecycle.MinEvidence < 1 {
		return fmt.Errorf("min_evidence must be >= 1")
	}
	if c.Lifecycle.ProductionMinEvidence < 0 {
		return fmt.Errorf("production_min_evidence must be >= 0")
	}
	if c.Lifecycle.MaxFailedCycles < 1 {
		return fmt.Errorf("max_failed_cycles must be >= 1")
	}
	if c.RateLimit.MaxPerDay < 1 {
		return fmt.Errorf("rate limit max_per_day must be >= 1")
	}
	if _, err := time.Parse("15:04", c.Window.Start); err != nil {
		return fmt.Errorf("window start %q: want HH:MM", c.Window.Start)
	}
	if _, err := time.Parse("15:04", c.Window.End); err != nil {
		return fmt.Errorf("window end %q: want HH:MM", c.Window.End)
	}
	if c.Window.Timezone != "Local" {
		if _, err := time.LoadLocation(c.Window.Timezone); err != nil {
			return fmt.Errorf("window timezone %q: %w", c.Window.Timezone, err)
		}
	}
	for subsystem, acts := range c.Actuators {
		for _, a := range acts {
			if err := a.ToSpec().Validate(); err != nil {
				return fmt.Errorf("actuator %s/%s: %w", subsystem, a.Name, err)
			}
		}
	}
	switch c.Probe.Telemetry {
	case "", "none", "http", "influx":
	default:
		return fmt.Errorf("probe telemetry %q: want none, http, or influx", c.Probe.Telemetry)
	}
	return nil
}
