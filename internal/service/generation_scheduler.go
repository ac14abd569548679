package service

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-schedule-api/internal/models"
)

const generationPageSize = 100

// GenerationReport summarises one generation pass.
type GenerationReport struct {
	SeriesScanned int      `json:"seriesScanned"`
	Materialized  int      `json:"materialized"`
	Completed     int      `json:"completed"`
	Ended         []string `json:"ended"`
	Failures      int      `json:"failures"`
}

// GenerationScheduler periodically extends every active series to the horizon,
// completes past occurrences and closes finished series.
type GenerationScheduler struct {
	store   *SeriesStore
	spec    string
	cron    *cron.Cron
	metrics *MetricsService
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewGenerationScheduler builds a scheduler running on the given cron spec
// (for example "@every 1h" or "0 3 * * *").
func NewGenerationScheduler(store *SeriesStore, spec string, metrics *MetricsService, logger *zap.Logger) *GenerationScheduler {
	if spec == "" {
		spec = "@every 1h"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationScheduler{
		store:   store,
		spec:    spec,
		cron:    cron.New(cron.WithLocation(store.location)),
		metrics: metrics,
		logger:  logger,
	}
}

// Start registers the job and runs one pass immediately.
func (g *GenerationScheduler) Start(ctx context.Context) error {
	if _, err := g.cron.AddFunc(g.spec, func() { g.run(ctx) }); err != nil {
		return err
	}
	g.cron.Start()
	g.logger.Info("generation scheduler started", zap.String("spec", g.spec))
	go g.run(ctx)
	return nil
}

// Stop waits for a running pass to finish.
func (g *GenerationScheduler) Stop() {
	<-g.cron.Stop().Done()
	g.logger.Info("generation scheduler stopped")
}

func (g *GenerationScheduler) run(ctx context.Context) {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		g.logger.Debug("generation pass skipped, previous pass still running")
		return
	}
	g.running = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
	}()

	report, err := g.RunOnce(ctx)
	if err != nil {
		g.logger.Error("generation pass failed", zap.Error(err))
		return
	}
	g.logger.Info("generation pass finished",
		zap.Int("series", report.SeriesScanned),
		zap.Int("materialized", report.Materialized),
		zap.Int("completed", report.Completed),
		zap.Int("ended", len(report.Ended)),
		zap.Int("failures", report.Failures),
	)
}

// RunOnce performs a single generation pass. Per-series failures are logged and
// counted without aborting the pass.
func (g *GenerationScheduler) RunOnce(ctx context.Context) (*GenerationReport, error) {
	start := time.Now()
	defer func() { g.metrics.ObserveGenerationRun(time.Since(start)) }()

	report := &GenerationReport{Ended: []string{}}
	completed, err := g.store.CompletePast(ctx)
	if err != nil {
		return nil, err
	}
	report.Completed = completed

	ended, err := g.store.CloseFinished(ctx)
	if err != nil {
		return nil, err
	}
	report.Ended = append(report.Ended, ended...)

	horizon := g.store.HorizonDate()
	filter := models.SeriesFilter{Status: []models.SeriesStatus{models.SeriesStatusActive}, Page: 1, PageSize: generationPageSize}
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, total, err := g.store.repo.ListSeries(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, series := range page {
			report.SeriesScanned++
			created, err := g.store.MaterializeUntil(ctx, series.ID, horizon)
			if err != nil {
				report.Failures++
				g.logger.Warn("materialize failed", zap.String("series_id", series.ID), zap.Error(err))
				continue
			}
			report.Materialized += len(created)
		}
		if filter.Page*filter.PageSize >= total || len(page) == 0 {
			break
		}
		filter.Page++
	}
	return report, nil
}
