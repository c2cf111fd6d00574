package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/artifact-agent/internal/agent"
	"github.com/p-blackswan/artifact-agent/internal/artifact"
	"github.com/p-blackswan/artifact-agent/internal/bus"
	"github.com/p-blackswan/artifact-agent/internal/config"
	"github.com/p-blackswan/artifact-agent/internal/extract"
	"github.com/p-blackswan/artifact-agent/internal/faillog"
	"github.com/p-blackswan/artifact-agent/internal/health"
	"github.com/p-blackswan/artifact-agent/internal/llm"
	"github.com/p-blackswan/artifact-agent/internal/metrics"
	"github.com/p-blackswan/artifact-agent/internal/mgmt"
	"github.com/p-blackswan/artifact-agent/internal/pipeline"
	"github.com/p-blackswan/artifact-agent/internal/project"
	"github.com/p-blackswan/artifact-agent/internal/runner"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("model", cfg.LLMModel).
		Int("workers", cfg.PipelineWorkers).
		Msg("starting artifact agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for _, dir := range []string{cfg.ArtifactsDir, cfg.ScratchDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal().Err(err).Str("dir", dir).Msg("failed to create directory")
		}
	}

	// Parse-failure log with SQLite index
	failures, err := faillog.New(filepath.Join(cfg.ScratchDir, "parse_failures"), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open parse-failure log")
	}
	defer failures.Close()

	// Agent role profiles, optionally overridden from YAML
	roles := agent.NewRoles()
	if cfg.RolesFile != "" {
		roles, err = agent.LoadRoles(cfg.RolesFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.RolesFile).Msg("failed to load role overrides")
		}
		logger.Info().Str("path", cfg.RolesFile).Msg("role overrides loaded")
	}

	// LLM client with retry and model fallback
	provider := llm.NewAnthropicProvider(cfg.LLMAPIKey,
		llm.WithModel(cfg.LLMModel),
		llm.WithMaxTokens(cfg.LLMMaxTokens),
		llm.WithBaseLogger(logger),
	)
	client := llm.NewClient(provider, llm.ClientConfig{
		Model:         cfg.LLMModel,
		FallbackModel: cfg.LLMFallbackModel,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		RetryBackoff:  cfg.RetryBackoff,
		MaxRetryDelay: cfg.MaxRetryDelay,
		CallTimeout:   cfg.AgentTimeout,
	}, logger)

	collector := metrics.New()
	eventBus := bus.New(logger)
	registry := project.NewRegistry(logger)
	extractor := extract.New(failures, logger)
	materializer := artifact.NewMaterializer(logger)
	tester := runner.New(logger,
		runner.WithPythonBin(cfg.PythonBin),
		runner.WithTimeout(cfg.TestTimeout),
		runner.WithLivenessThreshold(cfg.LivenessThreshold),
	)

	orchestrator := pipeline.NewOrchestrator(
		client, extractor, roles, tester, materializer, eventBus, collector,
		pipeline.Config{
			ArtifactsDir:      cfg.ArtifactsDir,
			MaxRepairAttempts: cfg.MaxRepairAttempts,
			MaxSlides:         cfg.MaxSlides,
			ModelLabel:        cfg.LLMModel,
		},
		logger,
	)
	engine := pipeline.NewEngine(pipeline.EngineConfig{
		Workers:   cfg.PipelineWorkers,
		QueueSize: 100,
	}, orchestrator, eventBus, logger)
	engine.Start(ctx)

	checker := health.NewChecker(logger)
	checker.Register("artifacts_dir", health.DirWritable(cfg.ArtifactsDir))
	checker.Register("scratch_dir", health.DirWritable(cfg.ScratchDir))
	checker.Register("faillog_index", health.Database(failures.Ping))

	server := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		AuthConfig: mgmt.AuthConfig{
			Mode:      cfg.AuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
		},
		RateLimit: mgmt.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSOrigins,
	}, registry, engine, eventBus, checker, failures, client, collector, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}

	cancel()
	engine.Stop()

	shutdownDone := make(chan struct{})
	go func() {
		_ = server.Shutdown()
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
	case <-time.After(cfg.ShutdownGrace):
		logger.Warn().Msg("shutdown grace period expired")
	}

	logger.Info().Msg("artifact agent stopped")
}
