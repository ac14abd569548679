package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/studio-schedule-api/api/swagger"
	"github.com/noah-isme/studio-schedule-api/internal/handler"
	"github.com/noah-isme/studio-schedule-api/internal/middleware"
	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/repository"
	"github.com/noah-isme/studio-schedule-api/internal/service"
	"github.com/noah-isme/studio-schedule-api/internal/store/memory"
	"github.com/noah-isme/studio-schedule-api/pkg/cache"
	"github.com/noah-isme/studio-schedule-api/pkg/config"
	"github.com/noah-isme/studio-schedule-api/pkg/database"
	"github.com/noah-isme/studio-schedule-api/pkg/feedtoken"
	"github.com/noah-isme/studio-schedule-api/pkg/jobs"
	"github.com/noah-isme/studio-schedule-api/pkg/lock"
	"github.com/noah-isme/studio-schedule-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/studio-schedule-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/studio-schedule-api/pkg/middleware/requestid"
)

// @title Studio Schedule API
// @version 1.0.0
// @description Recurring class series, occurrences and scoped edits
// @BasePath /api/v1
// @schemes http

// seriesReader is the persistence surface shared by the store, the scope
// resolver and the impact calculator.
type seriesReader interface {
	GetSeries(ctx context.Context, id string) (*models.Series, error)
	ListSeries(ctx context.Context, filter models.SeriesFilter) ([]models.Series, int, error)
	GetOccurrence(ctx context.Context, id string) (*models.Occurrence, error)
	ListOccurrences(ctx context.Context, seriesID string, window models.DateRange) ([]models.Occurrence, error)
	ListOccurrencesByIDs(ctx context.Context, ids []string) ([]models.Occurrence, error)
	ListDueOccurrences(ctx context.Context, through time.Time) ([]models.Occurrence, error)
	Commit(ctx context.Context, cs models.ChangeSet) ([]models.Series, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	loc := time.UTC
	if cfg.Generation.Timezone != "" {
		loaded, err := time.LoadLocation(cfg.Generation.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", cfg.Generation.Timezone, err)
		}
		loc = loaded
	}

	metrics := service.NewMetricsService()
	checks := map[string]handler.Pinger{}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	storeOpts := []service.SeriesStoreOption{
		service.WithHorizon(cfg.Generation.Horizon),
		service.WithLocation(loc),
		service.WithStoreMetrics(metrics),
		service.WithLocker(seriesLocker(redisClient, cfg.Lock.TTL, logr)),
	}
	applierOpts := []service.ChangeApplierOption{service.WithApplierMetrics(metrics)}
	serviceOpts := []service.SeriesServiceOption{}

	var (
		reads    seriesReader
		bookings interface {
			service.BookingSource
			service.BookingNotifier
		}
	)
	switch cfg.Store.Driver {
	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck
		if cfg.Database.AutoMigrate {
			if err := repository.Migrate(ctx, db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logr.Info("database migrations applied")
		}
		checks["postgres"] = handler.PingFunc(db.PingContext)

		reads = repository.NewSeriesRepository(db)
		bookings = repository.NewBookingRepository(db)
		audit := repository.NewAuditRepository(db)
		applierOpts = append(applierOpts, service.WithAuditLogger(audit))
		serviceOpts = append(serviceOpts,
			service.WithDirectory(repository.NewDirectoryRepository(db)),
			service.WithServiceAudit(audit),
		)
	case config.StoreMemory, "":
		logr.Warn("using in-memory series store, data is lost on restart")
		reads = memory.New()
		bookings = service.NewBookingLedger()
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	store := service.NewSeriesStore(reads, logr, storeOpts...)

	dispatcher := service.NewNotificationDispatcher(bookings, service.NewLogNotifier(logr), metrics, logr)
	queue := jobs.NewQueue("notifications", dispatcher.Handle, jobs.QueueConfig{
		Workers:     cfg.Notify.Workers,
		MaxRetries:  cfg.Notify.Retries,
		RetryDelay:  cfg.Notify.RetryDelay,
		OnExhausted: dispatcher.Exhausted,
		Logger:      logr,
	})
	dispatcher.AttachQueue(queue)
	queue.Start(ctx)
	defer queue.Stop()

	var previewRepo service.CacheRepository
	if redisClient != nil {
		previewRepo = repository.NewCacheRepository(redisClient, "studio-schedule", logr)
	}
	preview := service.NewPreviewCache(previewRepo, metrics, cfg.Preview.CacheTTL, logr, redisClient != nil)

	resolver := service.NewEditScopeResolver(reads)
	impact := service.NewImpactCalculator(reads, bookings)
	applierOpts = append(applierOpts, service.WithNotifier(dispatcher))
	applier := service.NewChangeApplier(store, impact, bookings, logr, applierOpts...)
	serviceOpts = append(serviceOpts,
		service.WithPreviewCache(preview),
		service.WithServiceNotifier(dispatcher),
	)
	seriesSvc := service.NewSeriesService(store, resolver, impact, applier, bookings, service.NewValidator(), logr, serviceOpts...)

	var signer *feedtoken.Signer
	if cfg.Feed.TokenSecret != "" {
		signer = feedtoken.NewSigner(cfg.Feed.TokenSecret, cfg.Feed.TokenTTL)
	} else {
		logr.Warn("FEED_TOKEN_SECRET not set, calendar feeds are public")
	}
	feed := service.NewCalendarFeed(store, signer)

	scheduler := service.NewGenerationScheduler(store, cfg.Generation.Cron, metrics, logr)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start generation scheduler: %w", err)
	}
	defer scheduler.Stop()

	router := newRouter(cfg, logr, metrics, checks, routes{
		series:      handler.NewSeriesHandler(seriesSvc),
		occurrences: handler.NewOccurrenceHandler(seriesSvc),
		calendar:    handler.NewCalendarHandler(feed),
		generation:  handler.NewGenerationHandler(scheduler),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// seriesLocker serialises writers per series in-process, and across instances
// when Redis is available.
func seriesLocker(client *redis.Client, ttl time.Duration, logr *zap.Logger) lock.Locker {
	local := lock.NewKeyedMutex()
	if client == nil {
		return local
	}
	return lock.Chain{local, lock.NewRedisLocker(client, ttl, logr)}
}

type routes struct {
	series      *handler.SeriesHandler
	occurrences *handler.OccurrenceHandler
	calendar    *handler.CalendarHandler
	generation  *handler.GenerationHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, checks map[string]handler.Pinger, h routes) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics", "/health", "/ready"))

	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.GET("/metrics/summary", metricsHandler.Summary)
	h.series.Register(api)
	h.occurrences.Register(api)
	h.calendar.Register(api)
	api.POST("/generation/run", h.generation.Run)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	return r
}
