package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pointdist/internal/directory"
	membermodels "pointdist/internal/member/models"
	memberservice "pointdist/internal/member/service"
	memberstore "pointdist/internal/member/store"
	"pointdist/internal/platform/config"
	"pointdist/internal/platform/database"
	"pointdist/internal/platform/kafka/producer"
	"pointdist/internal/platform/redis"
	"pointdist/internal/points/events"
	pointsmetrics "pointdist/internal/points/metrics"
	pointsservice "pointdist/internal/points/service"
	pointsstore "pointdist/internal/points/store"
	httptransport "pointdist/internal/transport/http"
	"pointdist/pkg/identity"
	"pointdist/pkg/platform/circuit"
)

// memberStore is what both services need from the member backend.
type memberStore interface {
	Create(ctx context.Context, m *membermodels.Member) error
	FindByIdentifier(ctx context.Context, group string, id identity.Identifier) (*membermodels.Member, error)
	FindByEmail(ctx context.Context, group, address string) (*membermodels.Member, error)
	ListByGroup(ctx context.Context, group string) ([]*membermodels.Member, error)
}

type app struct {
	members  *memberservice.Service
	points   *pointsservice.Service
	producer *producer.Producer
	registry *prometheus.Registry
	checks   map[string]httptransport.HealthCheck
	closers  []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// openStores opens the configured backend and applies its schema.
func openStores(ctx context.Context, cfg config.Database, a *app) (memberStore, pointsservice.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memberstore.NewInMemory(), pointsstore.NewInMemory(), nil

	case config.DriverPostgres, config.DriverPgx:
		db, err := database.OpenSQL(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.checks["database"] = db.PingContext
		if err := database.Migrate(ctx, db); err != nil {
			return nil, nil, err
		}
		return memberstore.NewPostgres(db), pointsstore.NewPostgres(db, cfg.TxTimeout), nil

	case config.DriverSQLite:
		gdb, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite handle: %w", err)
		}
		a.closers = append(a.closers, sqlDB.Close)
		a.checks["database"] = sqlDB.PingContext

		members, points := memberstore.NewSQLite(gdb), pointsstore.NewSQLite(gdb)
		if err := members.Migrate(); err != nil {
			return nil, nil, fmt.Errorf("migrate members: %w", err)
		}
		if err := points.Migrate(); err != nil {
			return nil, nil, fmt.Errorf("migrate distributions: %w", err)
		}
		return members, points, nil
	}
	return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// openDirectory returns nil when no directory is configured. Lookups go
// through Redis when a Redis URL is set.
func openDirectory(ctx context.Context, cfg config.Config, logger *slog.Logger, a *app) (memberservice.Directory, error) {
	if cfg.Directory.BaseURL == "" {
		return nil, nil
	}
	client, err := directory.NewClient(cfg.Directory.BaseURL, cfg.Directory.Token, cfg.Directory.Timeout)
	if err != nil {
		return nil, err
	}
	rdb, err := redis.New(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	if rdb == nil {
		return client, nil
	}
	a.closers = append(a.closers, rdb.Close)
	a.checks["redis"] = rdb.Health
	breaker := circuit.New("redis", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(1))
	return directory.NewCachedClient(client, rdb.Client, cfg.Redis.CacheTTL, logger, directory.WithBreaker(breaker)), nil
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		registry: prometheus.NewRegistry(),
		checks:   make(map[string]httptransport.HealthCheck),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	members, points, err := openStores(ctx, cfg.Database, a)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	dir, err := openDirectory(ctx, cfg, logger, a)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.producer, err = producer.New(ctx, cfg.Kafka)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	memberOpts := []memberservice.Option{memberservice.WithLogger(logger)}
	if dir != nil {
		memberOpts = append(memberOpts, memberservice.WithDirectory(dir, cfg.Directory.Concurrency))
	}
	a.members = memberservice.New(members, memberOpts...)
	pointsOpts := []pointsservice.Option{
		pointsservice.WithLogger(logger),
		pointsservice.WithMetrics(pointsmetrics.New(a.registry)),
		pointsservice.WithPastFinalization(cfg.Points.AllowPastFinalization),
	}
	if a.producer != nil {
		a.closers = append(a.closers, a.producer.Close)
		a.checks["kafka"] = a.producer.Health
		pointsOpts = append(pointsOpts, pointsservice.WithEvents(events.NewPublisher(a.producer)))
	}
	a.points = pointsservice.New(points, members, pointsOpts...)
	return a, nil
}
