package dispatch

import (
	"context"
	"errors"
)

// Kind classifies run and per-order failures.
type Kind string

const (
	KindNone               Kind = ""
	KindInputExhaustion    Kind = "input_exhaustion"
	KindCapacityExhaustion Kind = "capacity_exhaustion"
	KindSolverUnavailable  Kind = "solver_unavailable"
	KindCourierSilence     Kind = "courier_silence"
	KindStoreWriteFailure  Kind = "store_write_failure"
	KindStoreReadFailure   Kind = "store_read_failure"
	KindCancelled          Kind = "cancelled"
)

var (
	// ErrRunInProgress is reported when a trigger arrives during an active run.
	ErrRunInProgress = errors.New("dispatch: run already in progress")
	ErrNoZones       = errors.New("no zones: nothing to distribute")
	ErrNoCouriers    = errors.New("no couriers")
	ErrNoDepot       = errors.New("no depot")
)

// stageError aborts a run with a failure kind.
type stageError struct {
	kind Kind
	err  error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func abort(kind Kind, err error) error { return &stageError{kind: kind, err: err} }

func kindOf(err error) Kind {
	var se *stageError
	if errors.As(err, &se) {
		return se.kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindStoreReadFailure
}
