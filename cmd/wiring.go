package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/example/availability-orchestrator/internal/application/notify"
	"github.com/example/availability-orchestrator/internal/application/protection"
	"github.com/example/availability-orchestrator/internal/application/regeneration"
	"github.com/example/availability-orchestrator/internal/application/staleness"
	"github.com/example/availability-orchestrator/internal/config"
	"github.com/example/availability-orchestrator/internal/db"
	"github.com/example/availability-orchestrator/internal/domain/availability"
	"github.com/example/availability-orchestrator/internal/flight"
	"github.com/example/availability-orchestrator/internal/infrastructure/ags"
	"github.com/example/availability-orchestrator/internal/infrastructure/memstore"
	"github.com/example/availability-orchestrator/internal/infrastructure/postgres"
	"github.com/example/availability-orchestrator/internal/infrastructure/redisstore"
	"github.com/example/availability-orchestrator/internal/infrastructure/sqlitestore"
	"github.com/example/availability-orchestrator/internal/logging"
	"github.com/example/availability-orchestrator/internal/metrics"
)

// app holds every wired component of one process.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	db     *db.DB
	redis  *redisstore.Client
	sqlite *sqlitestore.Store
	ags    *ags.Client

	registry  *prometheus.Registry
	flags     availability.StaleFlagStore
	schedules *postgres.ScheduleRepo
	slots     *postgres.SlotRepo
	detector  *staleness.Detector
	protector *protection.Protector
	coord     *regeneration.Coordinator
}

func loadConfig(v *viper.Viper) (config.Config, *zap.Logger, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// openDB connects and pings Postgres.
func openDB(ctx context.Context, cfg config.Config) (*db.DB, error) {
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return d, nil
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, registry: metrics.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.db, err = openDB(ctx, cfg); err != nil {
		return nil, err
	}
	if cfg.RedisURL != "" {
		if a.redis, err = redisstore.NewClient(cfg.RedisURL); err != nil {
			return nil, err
		}
		if err = a.redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	switch cfg.StaleStore {
	case config.StaleStoreRedis:
		a.flags = redisstore.NewFlagStore(a.redis)
	case config.StaleStoreSQLite:
		if a.sqlite, err = sqlitestore.Open(ctx, cfg.SQLitePath); err != nil {
			return nil, err
		}
		a.flags = a.sqlite
	default:
		a.flags = memstore.NewFlagStore()
	}

	if a.ags, err = ags.New(ags.Config{BaseURL: cfg.AGSBaseURL, Token: cfg.AGSToken, Timeout: cfg.AGSTimeout}, logger); err != nil {
		return nil, err
	}

	publishers := notify.Fanout{notify.LogPresenter{Logger: logger}}
	if a.redis != nil {
		publishers = append(publishers, redisstore.NewPublisher(a.redis, logger))
	}

	clock := clockwork.NewRealClock()
	guard := flight.New()
	exceptions := postgres.NewExceptionRepo(a.db)
	a.schedules = postgres.NewScheduleRepo(a.db)

	a.slots = postgres.NewSlotRepo(a.db)
	a.detector = staleness.New(a.slots, a.flags, guard,
		staleness.WithClock(clock),
		staleness.WithLogger(logger),
		staleness.WithMetrics(metrics.NewStalenessMetrics(a.registry)),
		staleness.WithPublisher(publishers))

	a.protector = protection.New(postgres.NewReservationRepo(a.db), exceptions, cfg.DefaultHours,
		protection.WithClock(clock),
		protection.WithLogger(logger),
		protection.WithLocation(cfg.Location))

	a.coord, err = regeneration.New(regeneration.Deps{
		Service:    a.ags,
		Policies:   postgres.NewPolicyRepo(a.db),
		Guard:      guard,
		Stale:      a.detector,
		Protector:  a.protector,
		Schedules:  a.schedules,
		Tables:     postgres.NewTableRepo(a.db),
		Exceptions: exceptions,
		Cache:      a.outcomeCache(),
		Publisher:  publishers,
		Metrics:    metrics.NewRegenerationMetrics(a.registry),
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// outcomeCache records every outcome in Postgres and, when available, in a
// faster store that answers reads first.
func (a *app) outcomeCache() availability.OutcomeCache {
	runs := postgres.NewRunRepo(a.db)
	switch {
	case a.redis != nil:
		return tieredCache{fast: redisstore.NewOutcomeCache(a.redis, a.cfg.OutcomeTTL), durable: runs}
	case a.sqlite != nil:
		return tieredCache{fast: a.sqlite.Outcomes(), durable: runs}
	}
	return runs
}

func (a *app) Close() {
	if a.sqlite != nil {
		_ = a.sqlite.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	_ = a.logger.Sync()
}

type tieredCache struct {
	fast    availability.OutcomeCache
	durable availability.OutcomeCache
}

func (c tieredCache) Put(ctx context.Context, o availability.RegenerationOutcome) error {
	return errors.Join(c.durable.Put(ctx, o), c.fast.Put(ctx, o))
}

func (c tieredCache) Get(ctx context.Context, restaurantID string) (availability.RegenerationOutcome, bool, error) {
	if o, ok, err := c.fast.Get(ctx, restaurantID); err == nil && ok {
		return o, true, nil
	}
	return c.durable.Get(ctx, restaurantID)
}
