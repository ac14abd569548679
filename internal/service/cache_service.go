package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// PreviewCache stores impact previews keyed by series version so a commit
// naturally retires every entry computed before it.
type PreviewCache struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewPreviewCache constructs a preview cache.
func NewPreviewCache(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *PreviewCache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreviewCache{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (c *PreviewCache) Enabled() bool {
	return c != nil && c.enabled && c.repo != nil
}

// PreviewKey builds the cache key for a preview request.
func PreviewKey(seriesID string, version int, parts ...any) string {
	key := fmt.Sprintf("preview:%s:v%d", seriesID, version)
	for _, p := range parts {
		key += fmt.Sprintf(":%v", p)
	}
	return key
}

// Get attempts to retrieve a cached preview. It returns true on a hit.
func (c *PreviewCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	err := c.repo.Get(ctx, key, dest)
	if err != nil {
		c.metrics.RecordCacheOperation(false)
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		c.logger.Warn("preview cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	c.metrics.RecordCacheOperation(true)
	return true, nil
}

// Set stores a preview. A non-positive ttl uses the default.
func (c *PreviewCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	err := c.repo.Set(ctx, key, value, ttl)
	if err != nil {
		c.logger.Warn("preview cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// InvalidateSeries drops every cached preview of a series.
func (c *PreviewCache) InvalidateSeries(ctx context.Context, seriesID string) error {
	if !c.Enabled() {
		return nil
	}
	pattern := fmt.Sprintf("preview:%s:*", seriesID)
	if err := c.repo.DeleteByPattern(ctx, pattern); err != nil {
		c.logger.Warn("preview cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}
