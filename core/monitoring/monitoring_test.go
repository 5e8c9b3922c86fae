package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	errs    []error
	tags    []map[string]string
	panics  []any
	flushes int
}

func (r *recorder) CaptureException(err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}
func (r *recorder) CapturePanic(v any)  { r.panics = append(r.panics, v) }
func (r *recorder) Flush(time.Duration) { r.flushes++ }

func withRecorder(t *testing.T) *recorder {
	t.Helper()
	rec := &recorder{}
	prev := current
	Init(rec)
	t.Cleanup(func() { current = prev })
	return rec
}

func TestCaptureExceptionSkipsNil(t *testing.T) {
	rec := withRecorder(t)
	CaptureException(nil, nil)
	CaptureException(errors.New("boom"), map[string]string{"stage": "allocating"})
	assert.Len(t, rec.errs, 1)
	assert.Equal(t, "allocating", rec.tags[0]["stage"])
}

func TestRecoverReportsAndRepanics(t *testing.T) {
	rec := withRecorder(t)
	assert.PanicsWithValue(t, "bad", func() {
		defer Recover()
		panic("bad")
	})
	assert.Equal(t, []any{"bad"}, rec.panics)
	assert.Equal(t, 1, rec.flushes)
}

func TestInitIgnoresNil(t *testing.T) {
	rec := withRecorder(t)
	Init(nil)
	CaptureException(errors.New("x"), nil)
	assert.Len(t, rec.errs, 1)
}
