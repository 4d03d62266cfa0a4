package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/flywheel/internal/capture"
	"github.com/wesleyorama2/flywheel/internal/search"
)

func journalOf(t *testing.T, points ...[2]float64) *search.SimFrameJournal {
	t.Helper()
	model := search.NewParamModel()
	_, err := model.Add("rate", 0, 0, 1e6, nil)
	require.NoError(t, err)

	j := search.NewSimFrameJournal()
	for _, p := range points {
		params, err := model.Apply([]float64{p[0]})
		require.NoError(t, err)
		j.Record(params, p[1])
	}
	return j
}

func resultOf(t *testing.T, j *search.SimFrameJournal) *search.Result {
	t.Helper()
	best, err := j.BestRun()
	require.NoError(t, err)
	return &search.Result{
		Best:       best,
		Frames:     j.Frames(),
		StopReason: search.StopConverged,
		Steps:      j.Len() - 1,
		Elapsed:    1500 * time.Millisecond,
		Config:     search.DefaultSearchConfig(),
	}
}

func TestConsole_FramesMarkBestAndRegressions(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Name: "demo", Target: "synthetic", Writer: &buf})
	assert.False(t, c.IsTTY())

	cfg := search.DefaultSearchConfig()
	c.PrintHeader(cfg)

	j := journalOf(t, [2]float64{100, 100}, [2]float64{200, 200}, [2]float64{400, 0})
	for _, f := range j.Frames() {
		c.OnFrame(f, cfg)
	}

	out := buf.String()
	assert.Contains(t, out, "flywheel findmax - demo")
	assert.Contains(t, out, "Target:   synthetic")
	assert.Contains(t, out, "▲ #0   rate=100 [0..1000000]  value 100")
	assert.Contains(t, out, "▲ #1   rate=200")
	assert.Contains(t, out, "▼ #2   rate=400")
	assert.Contains(t, out, "[sample 10.0s, settle 2.0s]")
	assert.NotContains(t, out, "\x1b[", "no ANSI codes on a non-terminal")
}

func TestConsole_FrameDetails(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{
		Writer: &buf,
		Details: func() (capture.WindowResult, bool) {
			return capture.WindowResult{
				Throughput: 512,
				ErrorRate:  0.0125,
				Latency:    capture.LatencyStats{P99: 12 * time.Millisecond},
			}, true
		},
	})

	j := journalOf(t, [2]float64{500, 512})
	c.OnFrame(j.Frames()[0], search.DefaultSearchConfig())

	assert.Contains(t, buf.String(), "512 ops/s  err 1.25%  p99 12ms")
}

func TestConsole_Quiet(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, Quiet: true})

	j := journalOf(t, [2]float64{100, 100}, [2]float64{200, 150})
	c.PrintHeader(search.DefaultSearchConfig())
	for _, f := range j.Frames() {
		c.OnFrame(f, search.DefaultSearchConfig())
	}
	assert.Empty(t, buf.String())

	c.PrintResult(resultOf(t, j))
	assert.Equal(t, "rate=200 [0..1000000] 150\n", buf.String())
}

func TestConsole_PrintResult(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf})

	j := journalOf(t, [2]float64{100, 100}, [2]float64{300, 290.5}, [2]float64{700, 0})
	c.PrintResult(resultOf(t, j))

	out := buf.String()
	assert.Contains(t, out, "Best frame #1: rate=300")
	assert.Contains(t, out, "290.50")
	assert.Contains(t, out, "converged")
	assert.Contains(t, out, "3 frames, 2 steps in 1.5s")
}

func TestConsole_PrintError(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf})

	j := journalOf(t, [2]float64{100, 100}, [2]float64{200, 180})
	c.PrintError(errors.New("target stopped"), j)

	out := buf.String()
	assert.Contains(t, out, "✗ target stopped")
	assert.Contains(t, out, "Best so far: #1 rate=200")
	assert.Contains(t, out, "(2 frames recorded)")

	buf.Reset()
	c.PrintError(errors.New("bad config"), nil)
	assert.Contains(t, buf.String(), "bad config")
	assert.NotContains(t, buf.String(), "Best so far")
}

func TestConsole_ForceColors(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, ForceColors: true})
	c.PrintHeader(search.DefaultSearchConfig())
	assert.Contains(t, buf.String(), "\x1b[")
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{100, "100"},
		{262.5, "262.50"},
		{1e6, "1e+06"},
		{0.001, "0.001"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{500 * time.Microsecond, "500µs"},
		{250 * time.Millisecond, "250ms"},
		{2500 * time.Millisecond, "2.5s"},
		{90 * time.Second, "1m30s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReport_JSON(t *testing.T) {
	j := journalOf(t, [2]float64{100, 100}, [2]float64{200, 180}, [2]float64{400, 0})
	r := NewReport("demo", "http://svc", resultOf(t, j))

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteJSON(r, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "converged", decoded["stopReason"])
	assert.Equal(t, "http://svc", decoded["target"])

	best := decoded["best"].(map[string]any)
	assert.Equal(t, float64(1), best["index"])
	assert.Equal(t, "200", best["params"].(map[string]any)["rate"])
	assert.Len(t, decoded["frames"], 3)
}

func TestReport_YAMLByExtension(t *testing.T) {
	j := journalOf(t, [2]float64{100, 100})
	r := NewReport("demo", "synthetic", resultOf(t, j))

	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, WriteReport(r, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "demo", decoded["name"])
	assert.Equal(t, "converged", decoded["stopReason"])
}

func TestNewFailedReport(t *testing.T) {
	j := journalOf(t, [2]float64{100, 50}, [2]float64{200, 80})
	r := NewFailedReport("demo", "svc", j, search.DefaultSearchConfig(), time.Second, errors.New("boom"))

	assert.Equal(t, "boom", r.Error)
	require.NotNil(t, r.Best)
	assert.Equal(t, 1, r.Best.Index)
	assert.Len(t, r.Frames, 2)

	empty := NewFailedReport("demo", "svc", nil, search.DefaultSearchConfig(), 0, errors.New("early"))
	assert.Nil(t, empty.Best)
	assert.NotNil(t, empty.Frames)

	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, empty))
	assert.True(t, strings.Contains(buf.String(), `"frames": []`))
}
