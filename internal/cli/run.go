package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/partvault/datasheet-harvester/internal/batch"
	"github.com/partvault/datasheet-harvester/internal/config"
	"github.com/partvault/datasheet-harvester/internal/fetcher/direct"
	"github.com/partvault/datasheet-harvester/internal/harvest"
	"github.com/partvault/datasheet-harvester/internal/identity"
	"github.com/partvault/datasheet-harvester/internal/logging"
	"github.com/partvault/datasheet-harvester/internal/metrics"
	"github.com/partvault/datasheet-harvester/internal/renderer"
	"github.com/partvault/datasheet-harvester/internal/scheduler"
	"github.com/partvault/datasheet-harvester/internal/server"
	"github.com/partvault/datasheet-harvester/internal/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every batch in the input directory",
		Long: `Discovers batch files matching invalid_datasheet_urls_<slug>.json in the
input directory and downloads each item, resuming from persisted progress.`,
		RunE: runCommand,
	}
	return cmd
}

func runCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsSrv = server.New(cfg.Server.MetricsAddr)
		go func() {
			logger.Info("metrics server started", zap.String("addr", cfg.Server.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	sched, loader, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	exitErr := runBatches(ctx, cfg, logger, sched, loader)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}
	return exitErr
}

func buildPipeline(cfg config.Config, logger *zap.Logger) (*scheduler.Scheduler, *batch.Loader, error) {
	progress, err := store.NewFileProgressStore(cfg.Paths.StateDir, logger.Named("progress"))
	if err != nil {
		return nil, nil, err
	}
	failures, err := store.NewFileFailureSink(cfg.Paths.StateDir)
	if err != nil {
		return nil, nil, err
	}

	pool := identity.NewDefaultPool()
	fetcher := direct.New(direct.Config{
		Timeout:     cfg.RequestTimeout(),
		RetryLimit:  cfg.Fetch.RetryLimit,
		BackoffBase: cfg.BackoffBase(),
		MaxBackoff:  cfg.MaxBackoff(),
		PerHostQPS:  cfg.Fetch.PerHostQPS,
	}, logger.Named("fetcher"))

	var rendererFactory harvest.RendererFactory
	factory, err := renderer.NewFactory(renderer.Config{
		Enabled:           cfg.Renderer.Enabled,
		UserAgent:         cfg.Renderer.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
		PollInterval:      cfg.PollInterval(),
		StableChecks:      cfg.Renderer.StableChecks,
	}, logger.Named("renderer"))
	switch {
	case err == nil:
		rendererFactory = factory
	case errors.Is(err, renderer.ErrRendererDisabled):
		logger.Warn("renderer disabled; cookie harvest and fallback unavailable")
	default:
		return nil, nil, err
	}

	chain := harvest.NewChain(fetcher, pool.Profiles(), rendererFactory, failures, logger.Named("chain"))
	sched := scheduler.New(progress, chain, scheduler.Config{
		Concurrency: cfg.Fetch.Concurrency,
	}, logger.Named("scheduler"))
	loader := batch.NewLoader(cfg.Paths.InputDir, logger.Named("batch"))
	return sched, loader, nil
}

func runBatches(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
	sched *scheduler.Scheduler,
	loader *batch.Loader,
) error {
	batches, err := loader.Discover()
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		logger.Warn("no batch files found", zap.String("input_dir", cfg.Paths.InputDir))
		return nil
	}

	for _, b := range batches {
		outputDir := filepath.Join(cfg.Paths.OutputDir, b.Slug)
		summary, err := sched.RunBatch(ctx, b, outputDir)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("run interrupted", zap.String("slug", b.Slug))
				return nil
			}
			// One bad batch never aborts the rest.
			logger.Error("batch failed", zap.String("slug", b.Slug), zap.Error(err))
			continue
		}
		logger.Info("batch summary",
			zap.String("slug", summary.Slug),
			zap.Int("completed", summary.Completed),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
		)
	}
	return nil
}
