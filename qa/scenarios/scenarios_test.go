package scenarios

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no scenario files")
	}
	for _, f := range files {
		sc, err := Load(f)
		if err != nil {
			t.Fatalf("load %s: %v", f, err)
		}
		t.Run(sc.Name, func(t *testing.T) {
			RunScenario(t, sc)
		})
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.yaml")
	data := []byte("name: dup\norders:\n  - {id: o1, lat: 43.2, lon: 76.9}\n  - {id: o1, lat: 43.3, lon: 76.9}\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "duplicated")
}

func TestOrderDefDefaultsToOneBottle(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	o := OrderDef{ID: "o1", Lat: 43.2, Lon: 76.9, AgeMinutes: 15}.ToModel(now)
	assert.Equal(t, 1, o.Products.Units())
	assert.Equal(t, "o1", o.Address)
	assert.True(t, o.Eligible())
	assert.Equal(t, now.Add(-15*time.Minute), o.CreatedAt)
}

func TestReplayWithoutNotify(t *testing.T) {
	sc, err := Load(filepath.Join("testdata", "b_separated_clusters.yaml"))
	require.NoError(t, err)
	rep, err := Replay(context.Background(), sc, ReplayOptions{})
	require.NoError(t, err)
	assert.True(t, rep.Run.Success)
	assert.Nil(t, rep.Outcome)
	assert.Nil(t, rep.Retry)
	assert.Equal(t, 8, rep.Run.OrdersDistributed)
	assert.Equal(t, []string{"c1", "c2"}, rep.Run.CourierIDs())
}
