// Package app wires configuration, logging, the two storage tiers and the
// reading plan together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/willswire/mcheyne/internal/cloud"
	"github.com/willswire/mcheyne/internal/config"
	"github.com/willswire/mcheyne/internal/database"
	"github.com/willswire/mcheyne/internal/kvstore"
	"github.com/willswire/mcheyne/internal/metrics"
	"github.com/willswire/mcheyne/internal/plan"
)

// App holds everything a command needs.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Location *time.Location
	Metrics  *metrics.Metrics
	Local    kvstore.Store
	Cloud    kvstore.CloudStore
	Plan     *plan.Plan

	closers []io.Closer
}

// Open builds the stores and loads the plan. A configured cloud store that
// cannot be reached starts offline and the plan stays on the local tier; only
// a misconfigured one is an error.
//
// The caller is responsible for calling Close() when done.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a, err := OpenLocal(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.openCloud(ctx); err != nil {
		a.Close()
		return nil, err
	}

	p, err := plan.New(ctx, plan.Options{
		Local:    a.Local,
		Cloud:    a.Cloud,
		Location: a.Location,
		Logger:   logger,
		Metrics:  a.Metrics,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load plan: %w", err)
	}
	a.Plan = p

	logger.Info("app ready",
		slog.String("local_store", cfg.LocalStore),
		slog.String("cloud_store", cfg.CloudStore),
		slog.Bool("cloud_authoritative", p.IsCloudAuthoritative()),
		slog.Int("selections", p.Len()),
	)

	return a, nil
}

// OpenLocal opens the local store only. The plan is not loaded, so commands
// can edit the store before the next load migrates it.
//
// The caller is responsible for calling Close() when done.
func OpenLocal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve timezone: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Location: loc,
		Metrics:  metrics.New(),
	}
	if err := a.openLocal(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openLocal(ctx context.Context) error {
	switch a.Config.LocalStore {
	case config.LocalSQLite:
		db, err := database.Open(database.DefaultConfig(a.Config.DatabasePath), a.Logger)
		if err != nil {
			return fmt.Errorf("open local store: %w", err)
		}
		a.closers = append(a.closers, db)

		if _, err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate local store: %w", err)
		}
		a.Local = db

	case config.LocalBadger:
		s, err := kvstore.OpenBadger(a.Config.BadgerDir, a.Logger)
		if err != nil {
			return fmt.Errorf("open local store: %w", err)
		}
		a.closers = append(a.closers, s)
		a.Local = s

	case config.LocalMemory:
		a.Local = kvstore.NewMemoryStore()

	default:
		return fmt.Errorf("unknown local store %q", a.Config.LocalStore)
	}
	return nil
}

func (a *App) openCloud(ctx context.Context) error {
	switch a.Config.CloudStore {
	case config.CloudNone, "":
		return nil

	case config.CloudRedis:
		r, err := cloud.NewRedis(ctx, cloud.RedisOptions{
			Addr:     a.Config.RedisAddr,
			Password: a.Config.RedisPassword,
			Prefix:   a.Config.RedisPrefix,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("open cloud store: %w", err)
		}
		a.closers = append(a.closers, r)
		a.Cloud = r

	case config.CloudFile:
		f, err := cloud.OpenFile(a.Config.CloudFile, a.Logger)
		if err != nil {
			return fmt.Errorf("open cloud store: %w", err)
		}
		a.closers = append(a.closers, f)
		a.Cloud = f

	default:
		return fmt.Errorf("unknown cloud store %q", a.Config.CloudStore)
	}
	return nil
}

// Close stops the plan, then closes the stores in reverse order.
func (a *App) Close() error {
	if a.Plan != nil {
		a.Plan.Close()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// HealthChecker returns the local store when it can report its health.
func (a *App) HealthChecker() interface{ Health(context.Context) error } {
	if h, ok := a.Local.(interface{ Health(context.Context) error }); ok {
		return h
	}
	return nil
}
