package app

import (
	"context"
	"fmt"
	"time"

	"github.com/aquamarket/dispatch/config"
	"github.com/aquamarket/dispatch/core/store"
	"github.com/aquamarket/dispatch/infra/logger"
	"github.com/aquamarket/dispatch/infra/store/mongostore"
	"github.com/aquamarket/dispatch/infra/store/postgres"
	"github.com/aquamarket/dispatch/qa/scenarios"
)

// openStore connects the configured backend and registers its closer.
func (s *Service) openStore(ctx context.Context) (store.Store, error) {
	st, closeFn, err := OpenStore(ctx, s.cfg.Store, s.log)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closer{s.cfg.Store.Backend, closeFn})
	return st, nil
}

// OpenStore connects the backend selected by cfg. The returned function
// releases it.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (store.Store, func() error, error) {
	switch cfg.Backend {
	case config.StoreMongo:
		ms, err := mongostore.Connect(ctx, cfg.Mongo, logger.New("mongo"))
		if err != nil {
			return nil, nil, err
		}
		return ms, func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ms.Close(closeCtx)
		}, nil
	case config.StorePostgres:
		ps, err := postgres.Open(ctx, cfg.Postgres, logger.New("postgres"))
		if err != nil {
			return nil, nil, err
		}
		return ps, ps.Close, nil
	case config.StoreMemory:
		mem, err := newMemoryStore(cfg.Fixture, log)
		if err != nil {
			return nil, nil, err
		}
		return mem, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// newMemoryStore returns an empty store, or one seeded from a scenario file.
func newMemoryStore(fixture string, log logger.Logger) (*store.MemoryStore, error) {
	st := store.NewMemoryStore()
	if fixture == "" {
		log.Warnf("memory store without fixture: nothing to dispatch until orders arrive")
		return st, nil
	}
	sc, err := scenarios.Load(fixture)
	if err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	sc.Seed(st, time.Now())
	log.Infof("memory store seeded from %s: %d orders, %d couriers", fixture, len(sc.Orders), len(sc.Couriers))
	return st, nil
}
