package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/parley-org/parley/internal/eventbus"
	"github.com/parley-org/parley/internal/fileutil"
	"github.com/parley-org/parley/internal/frontend"
	"github.com/parley-org/parley/internal/llm"
	_ "github.com/parley-org/parley/internal/llm/providers/local"
	_ "github.com/parley-org/parley/internal/llm/providers/remote"
	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/models"
	"github.com/parley-org/parley/internal/orchestrator"
	"github.com/parley-org/parley/internal/prompt"
	"github.com/parley-org/parley/internal/storage"
	"github.com/parley-org/parley/internal/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second

	// discussionCacheTTL expires read-cache entries in the long-running
	// server; the CLI's short-lived store commands skip the cache.
	discussionCacheTTL = 12 * time.Hour
)

func serverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the discussion server",
		Long: `Start the HTTP server that hosts discussions.

Serves the REST API and the WebSocket event stream under /api/v1 and
prometheus metrics under /metrics. Interrupted discussions found on
disk are marked stopped so they can be resumed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := NewContext(cmd)
			if err != nil {
				return err
			}
			if host, _ := cmd.Flags().GetString("host"); host != "" {
				ctx.Config.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				ctx.Config.Server.Port, _ = cmd.Flags().GetInt("port")
			}
			return runServer(ctx)
		},
	}
	cmd.Flags().String("host", "", "bind address (overrides config)")
	cmd.Flags().Int("port", 0, "bind port (overrides config)")
	return cmd
}

func runServer(ctx *Context) error {
	cfg := ctx.Config

	local, err := llm.NewProvider(llm.ProviderLocal,
		llm.WithBaseURL(cfg.LLM.LocalBaseURL),
		llm.WithLocalPorts(cfg.LLM.LocalPorts),
		llm.WithTimeout(cfg.LLM.Timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create local provider: %w", err)
	}
	remote, err := llm.NewProvider(llm.ProviderRemote,
		llm.WithBaseURL(cfg.LLM.RemoteBaseURL),
		llm.WithAPIKey(cfg.LLM.RemoteAPIKey),
		llm.WithTimeout(cfg.LLM.Timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create remote provider: %w", err)
	}
	router := llm.NewRouter(local, remote)

	cache := fileutil.NewCache[*models.Discussion]("discussions", cfg.Performance.MaxCacheSize, discussionCacheTTL)
	store, err := storage.Open(cfg.Paths.DataDir,
		storage.WithBackupRetention(cfg.Storage.BackupRetention),
		storage.WithCache(cache),
	)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error(ctx, "Failed to close storage", "err", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := orchestrator.NewMetrics(registry)

	bus := eventbus.NewBus(eventbus.WithDropHandler(func(eventbus.Event) {
		metrics.EventDropped()
	}))

	estimator := prompt.NewEstimator(cfg.TokenEstimation.CharsPerToken, cfg.TokenEstimation.TokensPerWord, cfg.Performance.MaxCacheSize)
	builder := prompt.NewBuilder(estimator, cfg.Performance.MaxCacheSize)

	tracer, err := telemetry.New(ctx, cfg.Telemetry.OTel)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	orc := orchestrator.New(ctx, cfg, router, store, bus, builder,
		orchestrator.WithMetrics(metrics),
		orchestrator.WithTracer(tracer.Tracer()),
		orchestrator.WithSummaryDeadlineCap(cfg.Orchestrator.SummaryTurnTimeout),
	)

	recovered, err := store.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted discussions: %w", err)
	}
	if recovered > 0 {
		logger.Info(ctx, "Recovered interrupted discussions", "count", recovered)
	}

	if cfg.Storage.BackupOnStart {
		if path, err := store.Backup(ctx); err != nil {
			logger.Warn(ctx, "Startup backup failed", "err", err)
		} else {
			logger.Info(ctx, "Startup backup written", "path", path)
		}
	}

	maintenance, err := storage.NewMaintenance(ctx, storage.MaintenanceConfig{
		Store:              store,
		AutoSaveInterval:   cfg.Storage.AutoSaveInterval,
		ActiveDiscussions:  orc.ActiveDiscussions,
		CachePurgeInterval: cfg.Performance.CacheCleanupInterval,
		PurgeCaches:        orc.PurgeCaches,

		MemoryReleaseInterval: cfg.Performance.MemoryCleanupInterval,
		ReleaseIdle:           orc.ReleaseIdle,

		BackupSchedule: cfg.Storage.BackupSchedule,
	})
	if err != nil {
		return fmt.Errorf("failed to set up maintenance jobs: %w", err)
	}
	maintenance.Start()
	defer maintenance.Stop()

	if err := store.Watch(ctx); err != nil {
		logger.Warn(ctx, "Storage watcher unavailable", "err", err)
	}

	srv := frontend.NewServer(cfg, orc, bus, registry)
	if err := srv.Serve(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := orc.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Orchestrator shutdown incomplete", "err", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Tracer shutdown failed", "err", err)
	}
	return nil
}
