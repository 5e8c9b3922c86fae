package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aquamarket/dispatch/core/dispatch/logging"
)

type memStore struct{ recs []logging.LogRecord }

func (m *memStore) Append(ctx context.Context, r logging.LogRecord) error {
	m.recs = append(m.recs, r)
	return nil
}

func (m *memStore) Query(ctx context.Context, q logging.LogQuery) ([]logging.LogRecord, error) {
	var res []logging.LogRecord
	for _, r := range m.recs {
		if q.Match(r) {
			res = append(res, r)
		}
	}
	if q.Limit > 0 && len(res) > q.Limit {
		res = res[len(res)-q.Limit:]
	}
	return res, nil
}

func (m *memStore) Close() error { return nil }

func TestLogHandler_AuthAndFilters(t *testing.T) {
	store := &memStore{}
	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	for _, rec := range []logging.LogRecord{
		{Timestamp: base, RunID: "r1", Trigger: "tick", Success: true, Couriers: []string{"c1"}},
		{Timestamp: base.Add(time.Minute), RunID: "r2", Trigger: "manual", Success: false, Kind: "input_exhaustion"},
		{Timestamp: base.Add(2 * time.Minute), RunID: "r3", Trigger: "tick", Success: true, Couriers: []string{"c1", "c2"}},
	} {
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	h := NewLogHandler(store, "tok")

	cases := []struct {
		query string
		want  []string
	}{
		{"", []string{"r1", "r2", "r3"}},
		{"?courier_id=c1", []string{"r1", "r3"}},
		{"?courier_id=c2", []string{"r3"}},
		{"?failed=true", []string{"r2"}},
		{"?trigger=tick&limit=1", []string{"r3"}},
		{"?start=2026-10-19T09:00:30Z&end=2026-10-19T09:01:30Z", []string{"r2"}},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/api/dispatch/runs"+tc.query, nil)
		req.Header.Set("Authorization", "Bearer tok")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status %d", tc.query, rr.Code)
		}
		var out []logging.LogRecord
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(out) != len(tc.want) {
			t.Fatalf("%s: got %d records, want %d", tc.query, len(out), len(tc.want))
		}
		for i, id := range tc.want {
			if out[i].RunID != id {
				t.Fatalf("%s: record %d is %s, want %s", tc.query, i, out[i].RunID, id)
			}
		}
	}

	// unauthorized
	req := httptest.NewRequest("GET", "/api/dispatch/runs", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestLogHandler_BadQuery(t *testing.T) {
	h := NewLogHandler(&memStore{}, "")
	for _, q := range []string{"?start=yesterday", "?failed=maybe", "?limit=-2"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/dispatch/runs"+q, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", q, rr.Code)
		}
	}
}

func TestLogHandler_Disabled(t *testing.T) {
	rr := httptest.NewRecorder()
	NewLogHandler(nil, "").ServeHTTP(rr, httptest.NewRequest("GET", "/api/dispatch/runs", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}
