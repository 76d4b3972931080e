// SPDX-License-Identifier: MIT

// Command cardforged runs the cardforge daemon: the kiosk-facing API, the
// queue dispatcher and the capacity sweeper in a single process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventkiosk/cardforge/internal/api"
	"github.com/eventkiosk/cardforge/internal/bedrock"
	"github.com/eventkiosk/cardforge/internal/capacity"
	"github.com/eventkiosk/cardforge/internal/config"
	"github.com/eventkiosk/cardforge/internal/daemon"
	"github.com/eventkiosk/cardforge/internal/dispatch"
	"github.com/eventkiosk/cardforge/internal/health"
	"github.com/eventkiosk/cardforge/internal/jobs"
	"github.com/eventkiosk/cardforge/internal/ledger"
	cflog "github.com/eventkiosk/cardforge/internal/log"
	"github.com/eventkiosk/cardforge/internal/objstore"
	"github.com/eventkiosk/cardforge/internal/queue"
	"github.com/eventkiosk/cardforge/internal/resilience"
	"github.com/eventkiosk/cardforge/internal/telemetry"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Determine config path:
	// - Explicit via --config
	// - Otherwise auto-load ${CARDFORGE_DATA_DIR}/config.yaml if it exists
	explicitConfigPath := strings.TrimSpace(*configPath)
	effectiveConfigPath := explicitConfigPath
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("CARDFORGE_DATA_DIR", ""))
		if dataDir != "" {
			autoPath := filepath.Join(dataDir, "config.yaml")
			if _, err := os.Stat(autoPath); err == nil {
				effectiveConfigPath = autoPath
			}
		}
	}

	// Load configuration with precedence: ENV > File > Defaults. The global
	// logger is configured exactly once, so the failure path installs the
	// defaults before it can Fatal.
	cfg, err := config.Load(effectiveConfigPath)
	if err != nil {
		cflog.Configure(cflog.Config{Level: "info", Service: "cardforge", Version: version})
		cflog.WithComponent("daemon").Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}
	cfg.Version = version

	cflog.Configure(cflog.Config{
		Level:   cfg.LogLevel,
		Service: "cardforge",
		Version: version,
	})
	logger := cflog.WithComponent("daemon")

	switch {
	case explicitConfigPath != "":
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", explicitConfigPath).
			Msg("loaded configuration from file")
	case effectiveConfigPath != "":
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file(auto)").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	default:
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("configuration rejected")
	}

	// Create a context that listens for the interrupt signal from the OS
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// Pre-flight Checks (Fail Fast)
	// -------------------------------------------------------------------------
	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}
	// -------------------------------------------------------------------------

	serverCfg := cfg.Server()

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", serverCfg.ListenAddr).
		Msg("starting cardforge")

	// Log key configuration
	logger.Info().Msgf("→ Event: %s", cfg.Event)
	logger.Info().Msgf("→ Quota: %d cards / %d videos / %d prints per session", cfg.LimitCards, cfg.LimitVideos, cfg.LimitPrints)
	logger.Info().Msgf("→ Queue: %s (visibility %s)", cfg.QueueBackend, cfg.QueueVisibility)
	logger.Info().Msgf("→ Job store: %s", cfg.StoreBackend)
	if cfg.ObjectBackend == config.BackendS3 {
		logger.Info().Msgf("→ Artifacts: s3://%s (%s)", cfg.S3Bucket, cfg.S3Region)
	} else {
		logger.Info().Msgf("→ Artifacts: %s", cfg.ObjectBackend)
	}
	logger.Info().Msgf("→ Image model: %s (capacity %d..%d)", cfg.ImageModelID, cfg.CapacityInitial, cfg.CapacityCeiling)
	if cfg.VideoModelID != "" {
		logger.Info().Msgf("→ Video model: %s", cfg.VideoModelID)
	} else {
		logger.Warn().Msg("→ Video: disabled (no model configured)")
	}
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	if cfg.MetricsAddr != "" {
		logger.Info().Msgf("→ Metrics: %s", cfg.MetricsAddr)
	}
	if cfg.OTELEnabled {
		logger.Info().Msgf("→ Tracing: %s via %s (ratio %.2f)", cfg.OTELEndpoint, cfg.OTELProtocol, cfg.OTELSampleRatio)
	}

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTELEnabled,
		ServiceName:    "cardforge",
		ServiceVersion: version,
		Environment:    cfg.Event,
		Protocol:       cfg.OTELProtocol,
		Endpoint:       cfg.OTELEndpoint,
		SampleRatio:    cfg.OTELSampleRatio,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialize tracing")
	}

	store, err := jobs.NewStore(cfg.StoreBackend, cfg.StorePath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str("path", cfg.StorePath).
			Msg("failed to open job store")
	}

	objects, err := objstore.New(ctx, objstore.Config{
		Backend:   cfg.ObjectBackend,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "objstore.open_failed").
			Msg("failed to open object store")
	}

	led := ledger.New(objects, ledger.Limits{
		Cards:  cfg.LimitCards,
		Videos: cfg.LimitVideos,
		Prints: cfg.LimitPrints,
	})

	q, err := queue.New(ctx, queue.Config{
		Backend:       cfg.QueueBackend,
		Name:          cfg.QueueName,
		URL:           cfg.QueueURL,
		Region:        cfg.S3Region,
		Visibility:    cfg.QueueVisibility,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "queue.open_failed").
			Msg("failed to open job queue")
	}

	capStore, err := capacity.NewStore(cfg.StoreBackend, filepath.Join(cfg.DataDir, "capacity"))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "capacity.open_failed").
			Msg("failed to open capacity store")
	}
	ctrl := capacity.NewController(capStore, capacity.Config{
		InitialSlots: cfg.CapacityInitial,
		Ceiling:      cfg.CapacityCeiling,
		SuccessStep:  cfg.CapacitySuccessStep,
		StaleAfter:   cfg.CapacityStaleAfter,
	})

	runtime, err := bedrock.NewRuntime(ctx, cfg.BedrockRegion)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "bedrock.init_failed").
			Msg("failed to initialize model runtime")
	}
	imageModel := bedrock.NewImageClient(runtime, cfg.ImageModelID)

	var video api.VideoProvider
	if cfg.VideoModelID != "" {
		video = bedrock.NewVideoClient(runtime, cfg.VideoModelID, cfg.VideoOutputURI)
	}
	breaker := resilience.New("video", cfg.BreakerThreshold, cfg.BreakerCooldown)

	healthMgr := health.NewManager("cardforge", version)
	healthMgr.RegisterChecker(health.NewPingChecker("jobs", store.Ping))
	healthMgr.RegisterChecker(health.NewPingChecker("queue", q.Ping))
	healthMgr.RegisterChecker(health.NewPingChecker("objects", objects.Ping))

	s := api.New(api.Deps{
		Config:  cfg,
		Jobs:    store,
		Queue:   q,
		Ledger:  led,
		Objects: objects,
		Video:   video,
		Breaker: breaker,
		Health:  healthMgr,
	})

	disp := dispatch.New(q, store, ctrl, led, imageModel, dispatch.Config{
		Workers:     cfg.DispatchWorkers,
		BatchSize:   cfg.QueueBatchSize,
		WaitTime:    cfg.QueueWaitTime,
		IdleDelay:   cfg.DispatchIdleWait,
		RetryBudget: cfg.TransientRetryLimit,
	})

	deps := daemon.Deps{
		Logger:         logger,
		APIHandler:     s.Handler(),
		MetricsAddr:    cfg.MetricsAddr,
		MetricsHandler: promhttp.Handler(),
		Workers: []daemon.Worker{
			{Name: "dispatcher", Run: disp.Run},
			{Name: "capacity-sweeper", Run: func(ctx context.Context) error {
				ctrl.RunSweeper(ctx, cfg.CapacitySweepEvery)
				return ctx.Err()
			}},
		},
	}

	mgr, err := daemon.NewManager(serverCfg, deps)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation.failed").
			Msg("failed to create daemon manager")
	}

	// Hooks run LIFO on shutdown. Worker stop hooks are registered during
	// Start, so the stores close only after the dispatcher has stopped.
	mgr.RegisterShutdownHook("telemetry_shutdown", tel.Shutdown)
	mgr.RegisterShutdownHook("object_store_close", func(context.Context) error { return objects.Close() })
	mgr.RegisterShutdownHook("queue_close", func(context.Context) error { return q.Close() })
	mgr.RegisterShutdownHook("capacity_store_close", func(context.Context) error { return capStore.Close() })
	mgr.RegisterShutdownHook("job_store_close", func(context.Context) error { return store.Close() })

	if err := mgr.Start(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.failed").
			Msg("daemon failed")
	}

	logger.Info().Msg("server exiting")
}
