package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/flywheel/internal/search"
)

// Report is the machine-readable outcome of a search.
type Report struct {
	Name       string              `json:"name,omitempty" yaml:"name,omitempty"`
	Target     string              `json:"target" yaml:"target"`
	StopReason string              `json:"stopReason,omitempty" yaml:"stopReason,omitempty"`
	Error      string              `json:"error,omitempty" yaml:"error,omitempty"`
	Steps      int                 `json:"steps" yaml:"steps"`
	Elapsed    string              `json:"elapsed" yaml:"elapsed"`
	Best       *FrameReport        `json:"best,omitempty" yaml:"best,omitempty"`
	Frames     []FrameReport       `json:"frames" yaml:"frames"`
	Config     search.SearchConfig `json:"config" yaml:"config"`
	Timestamp  time.Time           `json:"timestamp" yaml:"timestamp"`
}

// FrameReport is one journal entry.
type FrameReport struct {
	Index  int               `json:"index" yaml:"index"`
	Params map[string]string `json:"params" yaml:"params"`
	Value  float64           `json:"value" yaml:"value"`
}

// NewReport builds a report from a finished search.
func NewReport(name, target string, res *search.Result) *Report {
	best := frameReport(res.Best)
	return &Report{
		Name:       name,
		Target:     target,
		StopReason: string(res.StopReason),
		Steps:      res.Steps,
		Elapsed:    res.Elapsed.Round(time.Millisecond).String(),
		Best:       &best,
		Frames:     frameReports(res.Frames),
		Config:     res.Config,
		Timestamp:  time.Now(),
	}
}

// NewFailedReport builds a report from a search that ended in err,
// keeping whatever the journal recorded.
func NewFailedReport(name, target string, journal *search.SimFrameJournal, cfg search.SearchConfig, elapsed time.Duration, err error) *Report {
	r := &Report{
		Name:      name,
		Target:    target,
		Error:     err.Error(),
		Elapsed:   elapsed.Round(time.Millisecond).String(),
		Frames:    []FrameReport{},
		Config:    cfg,
		Timestamp: time.Now(),
	}
	if journal == nil {
		return r
	}
	r.Frames = frameReports(journal.Frames())
	if best, berr := journal.BestRun(); berr == nil {
		fr := frameReport(best)
		r.Best = &fr
	}
	return r
}

func frameReport(f search.SimFrame) FrameReport {
	fr := FrameReport{Index: f.Index, Value: f.Value}
	if f.Params != nil {
		fr.Params = f.Params.AsResult()
	}
	return fr
}

func frameReports(frames []search.SimFrame) []FrameReport {
	out := make([]FrameReport, len(frames))
	for i, f := range frames {
		out[i] = frameReport(f)
	}
	return out
}

// EncodeJSON writes the report as indented JSON.
func EncodeJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// EncodeYAML writes the report as YAML.
func EncodeYAML(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// WriteJSON writes the report as JSON to path, or to stdout for "-".
func WriteJSON(r *Report, path string) error {
	return writeFile(path, func(w io.Writer) error { return EncodeJSON(w, r) })
}

// WriteReport writes the report to path, as YAML for .yaml/.yml and as
// JSON otherwise.
func WriteReport(r *Report, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return writeFile(path, func(w io.Writer) error { return EncodeYAML(w, r) })
	default:
		return WriteJSON(r, path)
	}
}

func writeFile(path string, encode func(io.Writer) error) error {
	if path == "-" {
		return encode(os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := encode(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
