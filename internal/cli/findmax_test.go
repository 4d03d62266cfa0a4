package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/flywheel/internal/config"
	"github.com/wesleyorama2/flywheel/internal/output"
	"github.com/wesleyorama2/flywheel/internal/search"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFindmax_SyntheticRun(t *testing.T) {
	if testing.Short() {
		t.Skip("drives a live workload")
	}

	cfgPath := writeConfig(t, "run.yaml", `
name: synthetic-e2e
workload:
  threads: 64
  synthetic:
    capacity: 2000
capture:
  min_attainment: 0.5
  stable_intervals: 1
search:
  base_value: 400
  step_value: 400
  value_incr: 2
  sample_time_ms: 200
  min_settling_ms: 50
  max_steps: 10
`)
	reportPath := filepath.Join(t.TempDir(), "report.json")

	stdout, _, err := runCommand(t, "findmax", "--config", cfgPath, "--json", reportPath, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Best frame")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)

	var report output.Report
	require.NoError(t, json.Unmarshal(data, &report))

	assert.Equal(t, "synthetic-e2e", report.Name)
	assert.Equal(t, string(search.StopConverged), report.StopReason)
	assert.Empty(t, report.Error)
	require.NotNil(t, report.Best)
	assert.GreaterOrEqual(t, len(report.Frames), 2)

	best, err := strconv.ParseFloat(report.Best.Params["rate"], 64)
	require.NoError(t, err)
	// 3200 ops/s overloads a 2000 ops/s service, so the best rate is one
	// of the climbing points below it.
	assert.GreaterOrEqual(t, best, 400.0)
	assert.LessOrEqual(t, best, 1600.0)
	assert.Greater(t, report.Best.Value, 0.0)
}

func TestFindmax_QuietOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("drives a live workload")
	}

	stdout, _, err := runCommand(t, "findmax", "-q",
		"--synthetic-capacity", "1000",
		"--threads", "16",
		"-p", "base_value=100",
		"-p", "step_value=2000",
		"-p", "sample_time_ms=100",
		"-p", "min_settling_ms=20",
		"-p", "max_steps=3",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "rate=100")
}

func TestFindmax_StoppedTargetIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfgPath := writeConfig(t, "run.json", `{
  "target": {"url": "`+server.URL+`", "timeout": "1s"},
  "workload": {"threads": 2, "max_consecutive_errors": 3},
  "capture": {"stable_intervals": 1},
  "search": {"base_value": 200, "sample_time_ms": 200, "min_settling_ms": 50}
}`)
	reportPath := filepath.Join(t.TempDir(), "failed.yaml")

	stdout, _, err := runCommand(t, "findmax", "-c", cfgPath, "--report", reportPath, "--no-color")
	require.Error(t, err)
	assert.ErrorIs(t, err, search.ErrTargetStopped)
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, stdout, "stopped running")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stopped running")
	assert.Contains(t, string(data), "frames:")
}

func TestFindmax_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no target", []string{"findmax"}},
		{"url and synthetic", []string{"findmax", "--url", "http://localhost:1", "--synthetic-capacity", "10"}},
		{"bad url scheme", []string{"findmax", "--url", "ftp://localhost/file"}},
		{"malformed param", []string{"findmax", "--synthetic-capacity", "10", "-p", "base_value"}},
		{"unknown param", []string{"findmax", "--synthetic-capacity", "10", "-p", "warp_factor=9"}},
		{"bad param value", []string{"findmax", "--synthetic-capacity", "10", "-p", "step_value=fast"}},
		{"bad header", []string{"findmax", "--url", "http://localhost:1", "-H", "no-colon"}},
		{"missing config", []string{"findmax", "-c", "/nonexistent/flywheel.yaml"}},
		{"stray argument", []string{"findmax", "--synthetic-capacity", "10", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCommand(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestFindmax_UnknownParamReportsField(t *testing.T) {
	_, _, err := runCommand(t, "findmax", "--synthetic-capacity", "10", "-p", "warp_factor=9")
	require.Error(t, err)

	var verrs *config.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs.Fields(), "search.warp_factor")
}

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"Authorization: Bearer abc", "X-Trace:  1 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc", "X-Trace": "1"}, headers)

	headers, err = parseHeaders(nil)
	require.NoError(t, err)
	assert.Nil(t, headers)

	_, err = parseHeaders([]string{": value"})
	assert.Error(t, err)
}

func TestCaptureOptions(t *testing.T) {
	maxErr := 0.05
	minSuccess := 0.9

	opts := captureOptions(config.CaptureConfig{MaxErrorRate: &maxErr, StableIntervals: 5})
	assert.Equal(t, 5, opts.StableIntervals)
	assert.Equal(t, 0.1, opts.Tolerance)

	opts = captureOptions(config.CaptureConfig{Scorer: config.ScorerSuccessRate, MinSuccessRate: &minSuccess})
	require.NotNil(t, opts.Scorer)
}
