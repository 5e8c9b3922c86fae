// Package logging persists one record per distribution run.
package logging

import (
	"context"
	"time"
)

// LogRecord captures the outcome of one distribution run.
type LogRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	RunID       string    `json:"run_id"`
	Trigger     string    `json:"trigger"`
	Success     bool      `json:"success"`
	Stage       string    `json:"stage"`
	Kind        string    `json:"kind,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Zones       int       `json:"zones"`
	Distributed int       `json:"distributed"`
	Unassigned  int       `json:"unassigned"`
	Couriers    []string  `json:"couriers"`
	// Assignments maps order id to courier id.
	Assignments map[string]string `json:"assignments,omitempty"`
	Leftovers   []string          `json:"leftovers,omitempty"`
	DurationMS  int64             `json:"duration_ms"`
}

// LogQuery defines filters for retrieving records.
type LogQuery struct {
	Start      time.Time
	End        time.Time
	CourierID  string
	Trigger    string
	FailedOnly bool
	// Limit keeps only the most recent records when positive.
	Limit int
}

// Match reports whether r passes every filter of q.
func (q LogQuery) Match(r LogRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Trigger != "" && r.Trigger != q.Trigger {
		return false
	}
	if q.FailedOnly && r.Success {
		return false
	}
	if q.CourierID != "" {
		for _, id := range r.Couriers {
			if id == q.CourierID {
				return true
			}
		}
		return false
	}
	return true
}

func (q LogQuery) limit(res []LogRecord) []LogRecord {
	if q.Limit > 0 && len(res) > q.Limit {
		return res[len(res)-q.Limit:]
	}
	return res
}

// LogStore persists LogRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}

// Config selects and configures a LogStore.
type Config struct {
	// Backend is one of "jsonl", "rotating", "sqlite" or empty to disable.
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}
