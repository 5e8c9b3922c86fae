package metrics

import (
	"errors"
	"testing"
)

type recordSink struct {
	runs   int
	offers int
	err    error
}

func (r *recordSink) RecordRun(RunRecord) error {
	r.runs++
	return r.err
}

func (r *recordSink) RecordOffer(OfferRecord) error {
	r.offers++
	return nil
}

type runOnly struct{ runs int }

func (r *runOnly) RecordRun(RunRecord) error { r.runs++; return nil }

// TestMultiSink ensures records reach every sink even when one fails.
func TestMultiSink(t *testing.T) {
	boom := errors.New("boom")
	s1 := &recordSink{err: boom}
	s2 := &recordSink{}
	s3 := &runOnly{}
	m := NewMultiSink(s1, s2, s3)
	if err := m.RecordRun(RunRecord{RunID: "r"}); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if err := m.RecordOffer(OfferRecord{}); err != nil {
		t.Fatalf("record offer: %v", err)
	}
	if s1.runs != 1 || s2.runs != 1 || s3.runs != 1 {
		t.Fatalf("runs not forwarded")
	}
	if s1.offers != 1 || s2.offers != 1 {
		t.Fatalf("offers not forwarded")
	}
}
