// Package scheduler drives the fetch strategy chain over a batch with
// bounded concurrency, persisting every resolution.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/partvault/datasheet-harvester/internal/fileutil"
	"github.com/partvault/datasheet-harvester/internal/harvest"
	"github.com/partvault/datasheet-harvester/internal/metrics"
)

// Resolver resolves one item to its terminal task record. It never returns
// an error; failures are terminal records.
type Resolver interface {
	Resolve(ctx context.Context, slug string, item harvest.DownloadItem, dest string) harvest.TaskRecord
}

// Config controls Scheduler behavior.
type Config struct {
	Concurrency int
}

// Scheduler owns the per-batch execution loop. Retry and fallback live
// entirely inside the resolver; this layer only records outcomes.
type Scheduler struct {
	progress harvest.ProgressStore
	resolver Resolver
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Scheduler.
func New(progress harvest.ProgressStore, resolver Resolver, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Scheduler{
		progress: progress,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
	}
}

// RunBatch resolves every unresolved item of the batch, writing artifacts
// into outputDir. Already-resolved items are skipped without any fetch
// attempt; a fully settled batch short-circuits immediately.
func (s *Scheduler) RunBatch(
	ctx context.Context,
	batch harvest.Batch,
	outputDir string,
) (harvest.BatchSummary, error) {
	summary := harvest.BatchSummary{Slug: batch.Slug}

	state, err := s.progress.Load(batch.Slug)
	if err != nil {
		return summary, fmt.Errorf("load progress: %w", err)
	}

	ids := make([]int64, len(batch.Items))
	for i, item := range batch.Items {
		ids[i] = item.ID
	}
	state, err = s.progress.Reconcile(batch.Slug, state, ids)
	if err != nil {
		return summary, fmt.Errorf("reconcile progress: %w", err)
	}

	if state.Settled() {
		summary.Skipped = len(batch.Items)
		s.logger.Info("batch already settled, skipping",
			zap.String("slug", batch.Slug),
			zap.Int("total", state.TotalTasks),
		)
		return summary, nil
	}

	if err := fileutil.EnsureDir(outputDir); err != nil {
		return summary, err
	}

	resolved := state.ResolvedIDs()
	pending := make([]harvest.DownloadItem, 0, len(batch.Items))
	for _, item := range batch.Items {
		if _, ok := resolved[item.ID]; ok {
			summary.Skipped++
			continue
		}
		pending = append(pending, item)
	}
	s.logger.Info("batch started",
		zap.String("slug", batch.Slug),
		zap.Int("total", len(batch.Items)),
		zap.Int("pending", len(pending)),
		zap.Int("skipped", summary.Skipped),
	)

	jobs := make(chan harvest.DownloadItem)
	results := make(chan harvest.TaskRecord, len(pending))

	workers := s.cfg.Concurrency
	if workers > len(pending) {
		workers = len(pending)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				results <- s.resolveItem(ctx, batch.Slug, item, outputDir)
			}
		}()
	}

feed:
	for _, item := range pending {
		select {
		case jobs <- item:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	for record := range results {
		switch record.Status {
		case harvest.TaskStatusCompleted:
			summary.Completed++
		case harvest.TaskStatusFailed:
			summary.Failed++
		}
	}

	if err := ctx.Err(); err != nil {
		s.logger.Warn("batch interrupted",
			zap.String("slug", batch.Slug),
			zap.Int("completed", summary.Completed),
			zap.Int("failed", summary.Failed),
		)
		return summary, fmt.Errorf("batch %s interrupted: %w", batch.Slug, err)
	}

	s.logger.Info("batch finished",
		zap.String("slug", batch.Slug),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

func (s *Scheduler) resolveItem(
	ctx context.Context,
	slug string,
	item harvest.DownloadItem,
	outputDir string,
) harvest.TaskRecord {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	dest := fileutil.ArtifactPath(outputDir, item.Title)
	record := s.resolver.Resolve(ctx, slug, item, dest)

	if _, err := s.progress.Append(slug, record); err != nil {
		s.logger.Error("progress append failed",
			zap.String("slug", slug),
			zap.Int64("item_id", item.ID),
			zap.Error(err),
		)
	}
	return record
}
