package dispatch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aquamarket/dispatch/core/dispatch"
	"github.com/aquamarket/dispatch/core/events"
	"github.com/aquamarket/dispatch/core/scheduler"
)

// Controller drives the scheduler.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Restart(ctx context.Context) error
	Trigger(ctx context.Context, kind events.TriggerKind) dispatch.RunResult
	Stats() scheduler.Stats
}

// RunObserver reports the coordinator state.
type RunObserver interface {
	Stage() dispatch.Stage
	LastRun() (dispatch.RunResult, bool)
}

// StatsResponse is returned by GET /api/dispatch/stats.
type StatsResponse struct {
	scheduler.Stats
	AvgProcessingMS int64               `json:"avg_processing_ms"`
	Stage           dispatch.Stage      `json:"stage"`
	LastRun         *dispatch.RunResult `json:"last_run,omitempty"`
}

// NewStatsHandler serves scheduler counters and the current run stage.
func NewStatsHandler(ctrl Controller, obs RunObserver, token string) http.Handler {
	return requireToken(token, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := ctrl.Stats()
		resp := StatsResponse{Stats: st, AvgProcessingMS: st.AvgProcessingTime.Milliseconds(), Stage: dispatch.StageIdle}
		if obs != nil {
			resp.Stage = obs.Stage()
			if last, ok := obs.LastRun(); ok {
				resp.LastRun = &last
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}))
}

// NewTriggerHandler runs one distribution and returns its result. Runs are
// bound to base rather than the request so the offer round that follows
// outlives the response.
func NewTriggerHandler(base context.Context, ctrl Controller, token string) http.Handler {
	return requireToken(token, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := ctrl.Trigger(base, events.TriggerManual)
		status := http.StatusOK
		switch {
		case res.Skipped:
			status = http.StatusConflict
		case !res.Success:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, res)
	}))
}

type controlResponse struct {
	Action  string `json:"action"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// NewControlHandler serves POST /api/dispatch/scheduler/{action} where
// action is start, stop or restart.
func NewControlHandler(base context.Context, ctrl Controller, token string) http.Handler {
	return requireToken(token, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := r.PathValue("action")
		var err error
		switch action {
		case "start":
			err = ctrl.Start(base)
		case "stop":
			err = ctrl.Stop()
		case "restart":
			err = ctrl.Restart(base)
		default:
			http.Error(w, "unknown action "+action, http.StatusNotFound)
			return
		}
		resp := controlResponse{Action: action, Running: ctrl.Stats().Running}
		status := http.StatusOK
		if err != nil {
			resp.Error = err.Error()
			status = http.StatusInternalServerError
			if errors.Is(err, scheduler.ErrAlreadyRunning) || errors.Is(err, scheduler.ErrNotRunning) {
				status = http.StatusConflict
			}
		}
		writeJSON(w, status, resp)
	}))
}

// started is the process start reported by /healthz.
var started = time.Now()

// NewHealthHandler answers liveness checks without authentication.
func NewHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	})
}
