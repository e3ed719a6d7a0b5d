// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package homeostat assembles the closed-loop controller service.
//
// This package contains the main Service type that coordinates all
// components of the controller: the durable state store, the intent
// queue and spool watcher, the downtime budget ledger, the candidate
// runner with its probes and process control, the zooid lifecycle
// engines, the orchestrator tick loop, the HTTP API, and observability
// infrastructure.
//
// # Usage
//
//	cfg, err := config.Load(configPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := homeostat.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// Run blocks until SIGINT or SIGTERM, then shuts the HTTP server,
// orchestrator, and spool watcher down in order and releases every
// resource the constructor opened.
package homeostat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianHomeostat/pkg/logging"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/bioreactor"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/budget"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/lifecycle"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/lock"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/observability"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/orchestrator"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/probe"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/queue"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/registry"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/routes"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/runner"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/servicectl"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/window"
)

// shutdownGrace bounds how long in-flight HTTP requests get to finish
// after a termination signal.
const shutdownGrace = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the homeostat service.
//
// # Description
//
// Service abstracts the controller lifecycle, enabling testing and
// alternative implementations. The interface follows the minimal surface
// area principle - only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
//
// # Assumptions
//
//   - Service is fully initialized before Run() is called
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the controller and blocks until shutdown.
	//
	// # Description
	//
	// Starts the HTTP server, the orchestrator tick loop, and the spool
	// watcher (when configured), then blocks until SIGINT, SIGTERM, or a
	// fatal component error. Resources opened by New are released before
	// Run returns.
	//
	// # Outputs
	//
	//   - error: Non-nil if a component failed; nil on clean signal-driven
	//     shutdown.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Description
	//
	// Provides access to the configured Gin router, primarily for
	// integration testing where direct HTTP calls are needed.
	//
	// # Outputs
	//
	//   - *gin.Engine: The configured router with all routes registered
	//
	// # Assumptions
	//
	//   - Caller will not modify the router
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service owns every long-lived component and wires them together:
//   - Durable state store (BadgerDB)
//   - Append-only audit trail, optionally uploading rotated segments to GCS
//   - Intent queue with dedup, priority ordering, and the spool watcher
//   - Downtime budget ledger
//   - Zooid registry and actuator specs
//   - Candidate runner with health/latency probes and process control
//   - Lifecycle graduator, batch selector, and bioreactor tournaments
//   - Orchestrator tick loop
//   - Gin HTTP API with optional OTel tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	cfg    config.Config
	log    *logging.Logger
	router *gin.Engine

	store     *store.Store
	trail     *audit.Trail
	uploader  *audit.Uploader
	queue     *queue.Queue
	ledger    *budget.Ledger
	registry  *registry.Zooids
	window    *window.Window
	telemetry probe.TelemetrySource
	orch      *orchestrator.Orchestrator
	spool     *queue.SpoolWatcher

	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a homeostat Service from a validated configuration.
//
// # Description
//
// New initializes all controller components:
//  1. Validates the configuration
//  2. Installs the process logger
//  3. Initializes OpenTelemetry tracing (when enabled)
//  4. Initializes Prometheus metrics
//  5. Opens the durable state store
//  6. Opens the audit trail, with optional GCS segment upload
//  7. Builds the queue, budget ledger, window, lock, and registries
//  8. Builds the probes and process controller
//  9. Builds the policy engines: runner, graduator, selector, bioreactor
//  10. Builds the orchestrator
//  11. Builds the spool watcher (when a spool directory is configured)
//  12. Sets up the HTTP router
//
// Optional integrations degrade rather than fail: a GCS uploader or
// spool watcher that cannot start is logged and skipped, because the
// control loop works without either.
//
// # Inputs
//
//   - cfg: Full service configuration, normally from config.Load.
//
// # Outputs
//
//   - Service: Ready-to-run controller.
//   - error: Non-nil if a required component fails to initialize. Any
//     resources opened before the failure are released.
func New(cfg config.Config) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &service{cfg: cfg}

	// Install the process logger first so every later step logs through it.
	s.log = logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Service.LogLevel),
		LogDir:  cfg.Service.LogDir,
		Service: "homeostat",
	})
	slog.SetDefault(s.log.Slog())
	logger := s.log.Slog()

	// Initialize OpenTelemetry tracer
	if cfg.Observability.TracingEnabled {
		cleanup, err := s.initTracer()
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	// Initialize Prometheus metrics. When the endpoint is disabled the
	// components still record into a private registry nothing scrapes.
	var metrics *observability.HomeostatMetrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.InitMetrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	// Open the durable state store.
	st, err := store.Open(store.Config{
		Path:       cfg.Storage.Dir,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
		GCInterval: cfg.Storage.GCInterval,
		Logger:     logger,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	s.store = st

	// Initialize GCS segment upload (optional).
	if cfg.Audit.GCS.Enabled {
		up, err := audit.NewUploader(context.Background(),
			cfg.Audit.GCS.Bucket, cfg.Audit.GCS.Prefix, cfg.Audit.GCS.CredentialsFile)
		if err != nil {
			slog.Warn("GCS audit upload unavailable, segments stay local",
				"bucket", cfg.Audit.GCS.Bucket, "error", err)
		} else {
			s.uploader = up
		}
	}

	// Open the audit trail.
	trail, err := audit.New(audit.Config{
		Dir:         expandPath(cfg.Audit.Dir),
		RotateBytes: cfg.Audit.RotateBytes,
		Uploader:    s.uploader,
		Logger:      logger,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}
	s.trail = trail

	// Build the intent queue.
	q, err := queue.New(st, trail, metrics, queue.Config{
		MaxDepth:    cfg.Queue.MaxDepth,
		DedupWindow: cfg.Queue.DedupWindow,
		MaxAge:      cfg.Queue.MaxAge,
	}, logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build intent queue: %w", err)
	}
	s.queue = q

	// The ledger day and the maintenance window share a timezone so
	// "today's budget" and "tonight's window" agree on the date.
	loc, err := time.LoadLocation(cfg.Window.Timezone)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("invalid window timezone: %w", err)
	}
	ledger, err := budget.New(st, trail, cfg.Budget.DailySeconds, loc, logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build budget ledger: %w", err)
	}
	s.ledger = ledger

	win, err := window.New(cfg.Window.Start, cfg.Window.End, cfg.Window.Timezone)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build maintenance window: %w", err)
	}
	s.window = win

	resourceLock, err := lock.New(lock.Config{
		Path:           filepath.Join(expandPath(cfg.Lock.Dir), cfg.Canary.ResourceID+".lock"),
		AcquireTimeout: cfg.Lock.AcquireTimeout,
		PollInterval:   cfg.Lock.PollInterval,
		Logger:         logger,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build resource lock: %w", err)
	}

	zooids, err := registry.NewZooids(st, trail, metrics, logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build zooid registry: %w", err)
	}
	s.registry = zooids

	specs := make(map[string][]datatypes.ActuatorSpec, len(cfg.Actuators))
	for subsystem, acts := range cfg.Actuators {
		for _, a := range acts {
			specs[subsystem] = append(specs[subsystem], a.ToSpec())
		}
	}
	actuators, err := registry.NewActuators(specs)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build actuator registry: %w", err)
	}

	// Build the probes and process controller.
	prodHealth, err := probe.NewHealthProber(cfg.Probe.ProductionURL, cfg.Probe.Timeout, logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build production health probe: %w", err)
	}
	canaryHealth, err := probe.NewHealthProber(cfg.Probe.CanaryURL, cfg.Probe.Timeout, logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build canary health probe: %w", err)
	}
	prodLatency, err := probe.NewCompletionProber(cfg.Probe.ProductionURL,
		cfg.Probe.APIKey, cfg.Probe.Model, cfg.Probe.Timeout, logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build production latency probe: %w", err)
	}
	canaryLatency, err := probe.NewCompletionProber(cfg.Probe.CanaryURL,
		cfg.Probe.APIKey, cfg.Probe.Model, cfg.Probe.Timeout, logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build canary latency probe: %w", err)
	}
	telemetry, err := probe.NewTelemetrySource(cfg.Probe, logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build telemetry source: %w", err)
	}
	s.telemetry = telemetry

	control := servicectl.NewExecController(cfg.Control, logger)

	// Build the policy engines.
	exec, err := runner.New(runner.Deps{
		Store:     st,
		Actuators: actuators,
		Budget:    ledger,
		Lock:      resourceLock,
		Window:    win,
		Control:   control,
		Probes: runner.Probes{
			ProductionHealth: prodHealth,
			CanaryHealth:     canaryHealth,
			Production:       prodLatency,
			Canary:           canaryLatency,
			Telemetry:        telemetry,
		},
		Trail:       trail,
		Metrics:     metrics,
		Canary:      cfg.Canary,
		LockTimeout: cfg.Lock.AcquireTimeout,
		HolderID:    fmt.Sprintf("homeostat:%d", os.Getpid()),
		Logger:      logger,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build candidate runner: %w", err)
	}

	grad, err := lifecycle.NewGraduator(zooids, trail, cfg.Lifecycle, logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build graduator: %w", err)
	}
	sel, err := lifecycle.NewBatchSelector(zooids, cfg.Lifecycle, logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build batch selector: %w", err)
	}
	bio, err := bioreactor.New(zooids, trail, metrics, cfg.Bioreactor, logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build bioreactor: %w", err)
	}

	// Build the orchestrator. Quiesced deployments gate tuning on the
	// maintenance window; spare-resource deployments tune around the clock.
	ocfg := orchestrator.DefaultConfig()
	ocfg.TickInterval = cfg.Service.TickInterval
	ocfg.RateLimit = cfg.RateLimit
	ocfg.RequireWindow = !cfg.Canary.SpareResource

	orch, err := orchestrator.New(orchestrator.Deps{
		Queue:      q,
		Runner:     exec,
		Graduator:  grad,
		Selector:   sel,
		Bioreactor: bio,
		Store:      st,
		Window:     win,
		Clock:      window.NewClockChecker(),
		Trail:      trail,
		Metrics:    metrics,
		Config:     ocfg,
		Logger:     logger,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}
	s.orch = orch

	// Initialize the spool watcher (optional).
	if cfg.Queue.SpoolDir != "" {
		spool, err := queue.NewSpoolWatcher(expandPath(cfg.Queue.SpoolDir), q, logger)
		if err != nil {
			slog.Warn("spool watcher unavailable, file ingestion disabled",
				"dir", cfg.Queue.SpoolDir, "error", err)
		} else {
			s.spool = spool
		}
	}

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the controller and blocks until shutdown.
//
// # Description
//
// Runs three (or four) concurrent members under one errgroup: the HTTP
// server, its signal-driven shutdown, the orchestrator tick loop, and
// the spool watcher when configured. A SIGINT or SIGTERM cancels the
// shared context; each member winds down and Run returns after all of
// them have. Cleanup of constructor-opened resources is automatic.
//
// # Outputs
//
//   - error: Non-nil if any member failed; nil on clean shutdown.
func (s *service) Run() error {
	defer s.cleanup()

	ctx, stop := signalContext()
	defer stop()

	srv := &http.Server{
		Addr:    s.cfg.Service.ListenAddr,
		Handler: s.router,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("homeostat listening",
			"addr", s.cfg.Service.ListenAddr,
			"window", s.window.String(),
			"tick_interval", s.cfg.Service.TickInterval.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.orch.Start(gCtx); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		<-gCtx.Done()
		s.orch.Stop()
		return nil
	})

	if s.spool != nil {
		g.Go(func() error {
			return s.spool.Run(gCtx)
		})
	}

	err := g.Wait()
	slog.Info("homeostat stopped")
	return err
}

// Router returns the underlying Gin engine for testing.
//
// # Outputs
//
//   - *gin.Engine: The configured router
//
// # Assumptions
//
//   - Caller will not modify the router
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up OTLP trace exporter to send spans to the configured collector.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
//
// # Assumptions
//
//   - OTel collector is reachable at configured endpoint
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.cfg.Observability.OTLPEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.cfg.Observability.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initRouter sets up the Gin HTTP router with all routes.
//
// # Description
//
// Creates the Gin engine, applies middleware, and registers all routes.
// The tracing middleware is engine-level so every handler span hangs off
// a request span.
//
// # Assumptions
//
//   - All components referenced by the routes are initialized
func (s *service) initRouter() {
	s.router = gin.Default()
	if s.cfg.Observability.TracingEnabled {
		s.router.Use(otelgin.Middleware(s.cfg.Observability.ServiceName))
	}

	routes.SetupRoutes(s.router, routes.Deps{
		Queue:        s.queue,
		Store:        s.store,
		Trail:        s.trail,
		Ledger:       s.ledger,
		Registry:     s.registry,
		Window:       s.window,
		Auth:         s.cfg.Auth,
		ServeMetrics: s.cfg.Observability.MetricsEnabled,
		Ticker:       s.orch,
	})
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure, so every close
// tolerates the field never having been set. The logger closes last:
// the other closes log through it.
func (s *service) cleanup() {
	if s.spool != nil {
		if err := s.spool.Close(); err != nil {
			slog.Warn("spool watcher close error", "error", err)
		}
	}

	if s.trail != nil {
		if err := s.trail.Close(); err != nil {
			slog.Warn("audit trail close error", "error", err)
		}
	}

	if s.uploader != nil {
		if err := s.uploader.Close(); err != nil {
			slog.Warn("GCS uploader close error", "error", err)
		}
	}

	if s.telemetry != nil {
		s.telemetry.Close()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("state store close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}

	if s.log != nil {
		if err := s.log.Close(); err != nil {
			slog.Warn("logger close error", "error", err)
		}
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
}

// expandPath expands a leading "~" to the user's home directory. Paths
// the store opens expand internally; the audit, lock, and spool
// directories are prepared here instead.
func expandPath(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
