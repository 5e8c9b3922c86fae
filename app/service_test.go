package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquamarket/dispatch/config"
	"github.com/aquamarket/dispatch/core/dispatch/logging"
	"github.com/aquamarket/dispatch/core/events"
	"github.com/aquamarket/dispatch/core/factory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Store.Fixture = filepath.Join("..", "qa", "scenarios", "testdata", "b_separated_clusters.yaml")
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "nop"}}
	cfg.RunLog = logging.Config{Backend: "jsonl", Path: filepath.Join(t.TempDir(), "runs.jsonl")}
	cfg.Scheduler.DisableTicker = true
	cfg.Scheduler.RetryDelayMS = 10
	cfg.Notify.WindowMS = 60
	cfg.Notify.PollIntervalMS = 10
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestServiceDistributesFixture(t *testing.T) {
	svc, err := New(testConfig(t))
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.Close()) }()

	res := svc.Scheduler.Trigger(context.Background(), events.TriggerManual)
	require.True(t, res.Success, "run failed: %s %s", res.Kind, res.Reason)
	assert.Equal(t, 8, res.OrdersDistributed)

	// offers only reach the log, so every courier times out and is excluded
	svc.Scheduler.Wait()
	assert.GreaterOrEqual(t, svc.Scheduler.Stats().TotalDistributions, 2)
	assert.NotEmpty(t, svc.Ledger().Snapshot())

	recs, err := svc.logStore.Query(context.Background(), logging.LogQuery{Trigger: string(events.TriggerManual)})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res.ID, recs[0].RunID)
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	svc, err := New(testConfig(t))
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	require.Eventually(t, svc.Scheduler.Running, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, svc.Scheduler.Running())
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Store.Fixture = "missing.yaml"
	_, err = New(cfg)
	assert.ErrorContains(t, err, "fixture")

	cfg = testConfig(t)
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "carrier-pigeon"}}
	_, err = New(cfg)
	assert.ErrorContains(t, err, "metrics sinks")
}
