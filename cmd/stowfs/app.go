package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/config"
	"github.com/sagarc03/stowfs/credcache"
	"github.com/sagarc03/stowfs/database"
	"github.com/sagarc03/stowfs/metrics"
	"github.com/sagarc03/stowfs/objectstore"
	"github.com/sagarc03/stowfs/objectstore/backends"
)

// app holds what every storage command needs: the parsed stores, the
// metadata database and the shared token cache.
type app struct {
	cfg      *config.Config
	db       database.Database
	registry *objectstore.Registry
	resolver *objectstore.Resolver
	tokens   *credcache.Cache
	prom     *prometheus.Registry
	metrics  *metrics.Metrics
	closers  []io.Closer
}

// openApp connects to the database and parses the object store
// configuration from the config stored in ctx.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	registry := backends.Default()
	stores, err := cfg.ObjectStores(registry)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	slog.Debug("connected to database", "type", cfg.Database.Type)

	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &app{
		cfg:      cfg,
		db:       db,
		registry: registry,
		resolver: objectstore.NewResolver(stores, db.Preferences(), slog.Default()),
		tokens:   credcache.New(cfg.Tokens.Size, cfg.Tokens.TTL),
		prom:     prom,
		metrics:  metrics.New(prom),
		closers:  []io.Closer{db},
	}, nil
}

// resolve returns the store configuration for the configured user, or the
// root store when no user is set.
func (a *app) resolve(ctx context.Context) (objectstore.Config, error) {
	var (
		oc  objectstore.Config
		ok  bool
		err error
	)
	if user := a.cfg.Storage.User; user != "" {
		oc, ok, err = a.resolver.ForUser(ctx, user)
	} else {
		oc, ok, err = a.resolver.ForRoot()
	}
	if err != nil {
		return objectstore.Config{}, err
	}
	if !ok {
		return objectstore.Config{}, fmt.Errorf("no objectstore configured: %w", stowfs.ErrConfiguration)
	}
	return oc, nil
}

// storage opens the object store and binds it to its metadata cache.
func (a *app) storage(ctx context.Context) (*stowfs.Storage, error) {
	oc, err := a.resolve(ctx)
	if err != nil {
		return nil, err
	}

	store, err := a.registry.Open(ctx, oc, objectstore.Deps{
		Logger:  slog.Default(),
		Tokens:  a.tokens,
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, err
	}
	if c, ok := unwrapStore(store).(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	s, err := stowfs.NewStorage(ctx, store, a.db, stowfs.Options{
		ObjectPrefix:   a.cfg.Storage.ObjectPrefix,
		UserID:         a.cfg.Storage.User,
		TempDir:        a.cfg.Storage.TempDir,
		ValidateWrites: a.cfg.Storage.ValidateWrites,
		Logger:         slog.Default(),
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("mounted storage", "id", s.ID(), "store", oc.Name, "kind", oc.Kind)
	return s, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

func unwrapStore(store stowfs.ObjectStore) stowfs.ObjectStore {
	for {
		u, ok := store.(interface{ Unwrap() stowfs.ObjectStore })
		if !ok {
			return store
		}
		store = u.Unwrap()
	}
}

// withStorage runs fn against the mounted storage and closes everything
// afterwards.
func withStorage(ctx context.Context, fn func(*stowfs.Storage) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	s, err := a.storage(ctx)
	if err != nil {
		return err
	}
	return fn(s)
}
