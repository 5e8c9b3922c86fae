package cmd

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquamarket/dispatch/core/dispatch"
)

const fixture = "../qa/scenarios/testdata/b_separated_clusters.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", ""))
	t.Cleanup(func() {
		planOpts.csv, planOpts.json, planOpts.html = "", "", ""
		apiURL = ""
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPlanPrintsRoutesAndWritesFiles(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "routes.csv")
	htmlPath := filepath.Join(dir, "routes.html")
	out, err := execute(t, "plan", fixture, "--csv", csvPath, "--html", htmlPath)
	require.NoError(t, err)
	assert.Contains(t, out, "plan separated_clusters")
	assert.Contains(t, out, "distributed=8")
	assert.Contains(t, out, "c1: ")
	assert.Contains(t, out, "c2: ")

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 9)

	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "separated_clusters")
}

func TestPlanMissingFixture(t *testing.T) {
	_, err := execute(t, "plan", filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestTriggerCallsService(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/dispatch/trigger" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(dispatch.RunResult{ID: "run-1", Success: true, OrdersDistributed: 4, CouriersUsed: 2})
	}))
	defer srv.Close()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("api:\n  token: secret\n"), 0o644))
	out, err := execute(t, "trigger", "-c", cfgPath, "--api", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Contains(t, out, "run run-1: success=true skipped=false distributed=4")
}

func TestTriggerReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("api:\n  addr: \":0\"\n"), 0o644))
	_, err := execute(t, "trigger", "-c", cfgPath, "--api", srv.URL)
	assert.ErrorContains(t, err, "status 401")
}
