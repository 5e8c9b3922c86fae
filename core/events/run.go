package events

import "time"

// StageEvent is published when a run enters a stage.
type StageEvent struct {
	RunID string
	Stage string
}

// RunEvent summarises a finished distribution run.
type RunEvent struct {
	RunID       string
	Trigger     string
	Success     bool
	Stage       string
	Reason      string
	Distributed int
	Unassigned  int
	Couriers    int
	Duration    time.Duration
}
