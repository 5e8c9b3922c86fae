package dispatch

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aquamarket/dispatch/core/dispatch/logging"
)

// NewLogHandler returns an HTTP handler exposing run records via GET /api/dispatch/runs.
// Filters: start and end (RFC3339), trigger, courier_id, failed=true and limit.
func NewLogHandler(store logging.LogStore, token string) http.Handler {
	return requireToken(token, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "run log disabled", http.StatusNotFound)
			return
		}
		q, err := parseLogQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []logging.LogRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}))
}

func parseLogQuery(r *http.Request) (logging.LogQuery, error) {
	v := r.URL.Query()
	q := logging.LogQuery{
		Trigger:   v.Get("trigger"),
		CourierID: v.Get("courier_id"),
	}
	var err error
	if s := v.Get("start"); s != "" {
		if q.Start, err = time.Parse(time.RFC3339, s); err != nil {
			return q, fmt.Errorf("start: %w", err)
		}
	}
	if s := v.Get("end"); s != "" {
		if q.End, err = time.Parse(time.RFC3339, s); err != nil {
			return q, fmt.Errorf("end: %w", err)
		}
	}
	if s := v.Get("failed"); s != "" {
		if q.FailedOnly, err = strconv.ParseBool(s); err != nil {
			return q, fmt.Errorf("failed: %w", err)
		}
	}
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil || q.Limit < 0 {
			return q, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	return q, nil
}
