package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/rewards/config"
	"example.com/backstage/services/rewards/internal/api/handlers"
	"example.com/backstage/services/rewards/internal/cache"
	"example.com/backstage/services/rewards/internal/catalog"
	"example.com/backstage/services/rewards/internal/claims"
	"example.com/backstage/services/rewards/internal/database"
	"example.com/backstage/services/rewards/internal/messaging"
	"example.com/backstage/services/rewards/internal/metrics"
	"example.com/backstage/services/rewards/internal/notify"
	"example.com/backstage/services/rewards/internal/payload"
	"example.com/backstage/services/rewards/internal/repositories"
	"example.com/backstage/services/rewards/internal/search"
	"example.com/backstage/services/rewards/internal/tracing"
)

// app bundles the wired collaborators shared by every command
type app struct {
	cfg        config.Config
	db         *gorm.DB
	readOnlyDB *gorm.DB
	cache      *cache.RedisCache
	metrics    *metrics.Metrics
	tracer     *tracing.NewRelicTracer
	catalog    *catalog.Catalog
	engine     *claims.Engine
	dispatcher *notify.Dispatcher
	awards     messaging.AwardPublisher
}

// newApp connects to the stores and builds the claim engine. Delivery
// collaborators are only created when withDelivery is set.
func newApp(cfg config.Config, withDelivery bool) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.NewMetrics()}

	db, err := database.Open(cfg.DB, a.metrics)
	if err != nil {
		return nil, err
	}
	a.db = db

	a.readOnlyDB, err = database.OpenReadOnly(cfg.DB, db, a.metrics)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	a.cache, err = cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		a.cache = &cache.RedisCache{}
	}

	a.tracer, err = tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		a.tracer = tracing.Disabled()
	}

	a.catalog, err = loadCatalog(cfg.Catalog)
	if err != nil {
		a.Close()
		return nil, err
	}

	items := repositories.NewScarceItemRepository(a.db, a.readOnlyDB)
	claimRepo := repositories.NewClaimRepository(a.db, a.readOnlyDB)
	notifications := repositories.NewNotificationRepository(a.db)

	a.engine = claims.NewEngine(
		payload.NewValidator(a.catalog, cfg.Claims.FreshnessCeiling),
		items,
		claimRepo,
		notifications,
		a.cache,
		a.metrics,
		claims.Options{
			AllocationTimeout: cfg.DB.AllocationTimeout,
			StatusTTL:         cfg.Redis.StatusTTL,
			Production:        cfg.IsProduction(),
		},
	)

	if !withDelivery {
		return a, nil
	}

	a.awards, err = messaging.NewAwardPublisher(cfg.Azure)
	if err != nil {
		a.Close()
		return nil, err
	}

	sink, err := search.NewActivitySink(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, activity will only be logged")
		sink = search.LogSink{}
	}

	a.dispatcher = notify.NewDispatcher(notifications, a.awards, sink, a.metrics, notify.Options{
		MaxAttempts:  cfg.Worker.MaxAttempts,
		RetryBackoff: cfg.Worker.RetryBackoff,
	})

	return a, nil
}

// healthChecks returns the dependency probes served on /health
func (a *app) healthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"database": func(context.Context) error { return database.Ping(a.db) },
	}
	if a.cache.Enabled() {
		checks["redis"] = a.cache.Ping
	}
	return checks
}

// Close releases every connection held by the app
func (a *app) Close() {
	if a.awards != nil {
		if err := a.awards.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close award publisher")
		}
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.tracer != nil {
		a.tracer.Close()
	}
	if a.readOnlyDB != nil && a.readOnlyDB != a.db {
		_ = database.Close(a.readOnlyDB)
	}
	if a.db != nil {
		_ = database.Close(a.db)
	}
}

func loadCatalog(cfg config.CatalogConfig) (*catalog.Catalog, error) {
	if cfg.Path == "" {
		log.Warn().Msg("No catalog configured, every redemption will report an unknown item")
		return catalog.New(nil)
	}
	c, err := catalog.Load(cfg.Path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", cfg.Path).Int("items", len(c.Entries())).Msg("Catalog loaded")
	return c, nil
}
