package logging

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingJSONLStore_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	reason := strings.Repeat("x", 4096)
	for i := 0; i < 400; i++ {
		rec := LogRecord{Timestamp: time.Now(), RunID: fmt.Sprintf("r%d", i), Reason: reason}
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	files, _ := filepath.Glob(filepath.Join(dir, "runs*.jsonl"))
	if len(files) < 2 {
		t.Fatalf("expected rotated files, got %v", files)
	}
}

func TestRotatingJSONLStore_Query(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	now := time.Now()
	_ = store.Append(context.Background(), LogRecord{Timestamp: now, RunID: "a", Success: true, Couriers: []string{"c1"}})
	_ = store.Append(context.Background(), LogRecord{Timestamp: now, RunID: "b", Stage: "failed"})
	out, err := store.Query(context.Background(), LogQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	out, _ = store.Query(context.Background(), LogQuery{FailedOnly: true})
	if len(out) != 1 || out[0].RunID != "b" {
		t.Fatalf("unexpected failed records %+v", out)
	}
}
