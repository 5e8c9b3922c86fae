package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aquamarket/dispatch/config"
	"github.com/aquamarket/dispatch/core/dispatch"
	"github.com/aquamarket/dispatch/core/dispatch/logging"
	coremetrics "github.com/aquamarket/dispatch/core/metrics"
	coremon "github.com/aquamarket/dispatch/core/monitoring"
	"github.com/aquamarket/dispatch/core/notify"
	"github.com/aquamarket/dispatch/core/routing"
	"github.com/aquamarket/dispatch/core/scheduler"
	"github.com/aquamarket/dispatch/core/store"
	"github.com/aquamarket/dispatch/core/zones"
	"github.com/aquamarket/dispatch/infra/lock"
	"github.com/aquamarket/dispatch/infra/logger"
	"github.com/aquamarket/dispatch/infra/metrics"
	"github.com/aquamarket/dispatch/infra/monitoring"
	"github.com/aquamarket/dispatch/infra/mqtt"
	"github.com/aquamarket/dispatch/infra/solver"
	"github.com/aquamarket/dispatch/internal/eventbus"
)

// startupTimeout bounds connecting to the store and the broker.
const startupTimeout = 30 * time.Second

// Service wires the dispatch engine and its adapters.
type Service struct {
	Coordinator *dispatch.Coordinator
	Protocol    *notify.Protocol
	Scheduler   *scheduler.Scheduler
	Store       store.Store

	cfg       *config.Config
	bus       *eventbus.Bus
	ledger    *notify.Ledger
	logStore  logging.LogStore
	listener  *mqtt.EventListener
	collector *metrics.EventCollector
	log       logger.Logger

	closeOnce sync.Once
	closers   []closer
}

type closer struct {
	name string
	fn   func() error
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (svc *Service, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil parameter provided to app.New")
	}
	s := &Service{cfg: cfg, bus: eventbus.New(), log: logger.New("service")}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sinks: %w", err)
	}
	if s.collector, err = metrics.NewEventCollector(nil); err != nil {
		return nil, fmt.Errorf("event collector: %w", err)
	}

	if s.Store, err = s.openStore(ctx); err != nil {
		return nil, err
	}

	coord, err := dispatch.NewCoordinator(s.Store,
		zones.NewBuilder(cfg.Zones),
		routing.NewSequencer(cfg.Routing, logger.New("routing")),
		cfg.Dispatch, logger.New("dispatch"))
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	s.Coordinator = coord
	s.closers = append(s.closers, closer{"coordinator", coord.Close})
	s.ledger = notify.NewLedger(time.Duration(cfg.Notify.ExclusionTTLMinutes) * time.Minute)
	coord.SetExclusions(s.ledger)
	coord.SetBus(s.bus)
	coord.SetMetrics(sink)

	if s.logStore, err = logging.Open(cfg.RunLog); err != nil {
		return nil, fmt.Errorf("run log: %w", err)
	}
	if s.logStore != nil {
		coord.SetLogStore(s.logStore)
	}
	if cfg.Solver.URL != "" {
		sv, err := solver.NewHTTPSolver(cfg.Solver, logger.New("solver"))
		if err != nil {
			return nil, fmt.Errorf("solver: %w", err)
		}
		coord.SetSolver(sv)
	}
	if cfg.Lock.URL != "" {
		locker, err := lock.NewRedisLocker(cfg.Lock, logger.New("lock"))
		if err != nil {
			return nil, fmt.Errorf("lock: %w", err)
		}
		s.closers = append(s.closers, closer{"lock", locker.Close})
		if err := locker.Ping(ctx); err != nil {
			return nil, fmt.Errorf("lock: %w", err)
		}
		coord.SetLocker(locker)
	}

	gw, err := s.openGateway()
	if err != nil {
		return nil, err
	}
	proto, err := notify.NewProtocol(s.Store, gw, s.ledger, cfg.Notify, logger.New("notify"))
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	proto.SetBus(s.bus)
	proto.SetMetrics(sink)
	s.Protocol = proto

	sched, err := scheduler.New(coord, proto, s.Store, cfg.Scheduler, logger.New("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	sched.SetBus(s.bus)
	s.Scheduler = sched
	return s, nil
}

// openGateway dials the broker when configured. Without a broker offers are
// only logged.
func (s *Service) openGateway() (notify.Gateway, error) {
	if s.cfg.MQTT.Broker == "" {
		s.log.Warnf("no mqtt broker configured: offers are logged, not delivered")
		return notify.LogGateway{Log: logger.New("offers")}, nil
	}
	conn, err := mqtt.Dial(s.cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	s.closers = append(s.closers, closer{"mqtt", func() error { conn.Disconnect(); return nil }})
	gw, err := mqtt.NewOfferGateway(conn, s.cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("offer gateway: %w", err)
	}
	if s.listener, err = mqtt.NewEventListener(conn, s.cfg.MQTT, s.bus); err != nil {
		return nil, fmt.Errorf("event listener: %w", err)
	}
	return gw, nil
}

// Ledger returns the exclusion ledger shared by the coordinator and the
// offer protocol.
func (s *Service) Ledger() *notify.Ledger { return s.ledger }

// Bus returns the in-process event bus.
func (s *Service) Bus() eventbus.EventBus { return s.bus }

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.collector.Start(ctx, s.bus)
	if s.listener != nil {
		go func() {
			if err := s.listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Errorf("event listener: %v", err)
				coremon.CaptureException(err, map[string]string{"component": "mqtt"})
			}
		}()
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.cfg.API.Addr != "" {
		go func() {
			if err := s.serveAPI(ctx); err != nil {
				s.log.Errorf("api server: %v", err)
				coremon.CaptureException(err, map[string]string{"component": "api"})
			}
		}()
	}
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	<-ctx.Done()
	if err := s.Scheduler.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		s.log.Warnf("scheduler stop: %v", err)
	}
	return nil
}

// Close releases resources held by the service in reverse order of
// acquisition.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.Scheduler != nil {
			if err := s.Scheduler.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
				errs = append(errs, fmt.Errorf("scheduler: %w", err))
			}
		}
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i].fn(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.closers[i].name, err))
			}
		}
		if n := s.bus.Dropped(); n > 0 {
			s.log.Warnf("event bus dropped %d deliveries", n)
		}
		s.bus.Close()
		coremon.Flush(2 * time.Second)
	})
	return errors.Join(errs...)
}
