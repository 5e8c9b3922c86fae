package dispatch

import (
	"context"
	"net/http"

	"github.com/aquamarket/dispatch/core/dispatch/logging"
	"github.com/aquamarket/dispatch/internal/eventbus"
)

// Deps are the engine components served by the API. Runs and Bus may be nil.
type Deps struct {
	Scheduler Controller
	Runs      RunObserver
	Ledger    ExclusionLedger
	LogStore  logging.LogStore
	Bus       eventbus.EventBus
	Token     string
}

// NewMux registers every endpoint. base bounds the work started by requests
// beyond their own lifetime.
func NewMux(base context.Context, d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", NewHealthHandler())
	mux.Handle("GET /api/dispatch/stats", NewStatsHandler(d.Scheduler, d.Runs, d.Token))
	mux.Handle("POST /api/dispatch/trigger", NewTriggerHandler(base, d.Scheduler, d.Token))
	mux.Handle("POST /api/dispatch/scheduler/{action}", NewControlHandler(base, d.Scheduler, d.Token))
	mux.Handle("GET /api/dispatch/runs", NewLogHandler(d.LogStore, d.Token))
	if d.Ledger != nil {
		h := NewExclusionsHandler(d.Ledger, d.Token)
		mux.Handle("GET /api/dispatch/exclusions", h)
		mux.Handle("DELETE /api/dispatch/exclusions", h)
	}
	if d.Bus != nil {
		mux.Handle("POST /api/dispatch/events", NewEventHandler(d.Bus, d.Token))
	}
	return mux
}
