package app

import (
	"context"
	"time"

	apidispatch "github.com/aquamarket/dispatch/api/dispatch"
	"github.com/aquamarket/dispatch/infra/logger"
)

func (s *Service) serveAPI(ctx context.Context) error {
	mux := apidispatch.NewMux(ctx, apidispatch.Deps{
		Scheduler: s.Scheduler,
		Runs:      s.Coordinator,
		Ledger:    s.ledger,
		LogStore:  s.logStore,
		Bus:       s.bus,
		Token:     s.cfg.API.Token,
	})
	return apidispatch.Serve(ctx, apidispatch.ServerConfig{
		Addr:         s.cfg.API.Addr,
		ReadTimeout:  time.Duration(s.cfg.API.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.API.WriteTimeoutSeconds) * time.Second,
	}, mux, logger.New("api"))
}
