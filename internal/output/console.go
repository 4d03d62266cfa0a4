// Package output renders search progress and results for humans and
// writes machine-readable reports.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/flywheel/internal/capture"
	"github.com/wesleyorama2/flywheel/internal/search"
)

const ruleWidth = 60

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	Name   string
	Target string
	Writer io.Writer
	Quiet  bool

	// ForceColors colors output even when Writer is not a terminal.
	ForceColors bool

	// NoColor disables colors and wins over ForceColors.
	NoColor bool

	// Details returns the most recently closed capture window, printed
	// next to each frame when set.
	Details func() (capture.WindowResult, bool)
}

// Console prints one line per frame and a summary at the end. It
// implements search.FrameObserver.
type Console struct {
	name    string
	target  string
	writer  io.Writer
	quiet   bool
	isTTY   bool
	color   bool
	colors  *ColorScheme
	details func() (capture.WindowResult, bool)

	mu       sync.Mutex
	best     float64
	haveBest bool
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := isTerminal(cfg.Writer)
	useColors := !cfg.NoColor && (cfg.ForceColors || (isTTY && supportsColors()))

	scheme := NoColorScheme()
	if useColors {
		scheme = DefaultColorScheme()
		for _, c := range []*color.Color{
			scheme.Title, scheme.Label, scheme.Value, scheme.Best,
			scheme.Regressed, scheme.Dim, scheme.Success, scheme.Error,
		} {
			c.EnableColor()
		}
	}

	return &Console{
		name:    cfg.Name,
		target:  cfg.Target,
		writer:  cfg.Writer,
		quiet:   cfg.Quiet,
		isTTY:   isTTY,
		color:   useColors,
		colors:  scheme,
		details: cfg.Details,
	}
}

// IsTTY reports whether the console writes to a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run banner and the starting configuration.
func (c *Console) PrintHeader(cfg search.SearchConfig) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rule := strings.Repeat("━", ruleWidth)
	c.writeln(c.colors.Title.Sprint(rule))
	title := "flywheel findmax"
	if c.name != "" {
		title += " - " + c.name
	}
	c.writeln(c.colors.Title.Sprint(title))
	c.writeln(c.colors.Title.Sprint(rule))
	if c.target != "" {
		c.writeln(fmt.Sprintf("%s %s", c.colors.Label.Sprint("Target:  "), c.target))
	}
	c.writeln(fmt.Sprintf("%s base %s, step %s ×%s, ceiling %s",
		c.colors.Label.Sprint("Search:  "),
		formatValue(cfg.BaseValue), formatValue(cfg.StepValue),
		formatValue(cfg.ValueIncrement), formatValue(cfg.SampleCeiling)))
	c.writeln(fmt.Sprintf("%s sample %s ×%s, settle %s",
		c.colors.Label.Sprint("Windows: "),
		formatDuration(cfg.SampleTime), formatValue(cfg.SampleIncrement),
		formatDuration(cfg.MinSettling)))
	c.writeln("")
}

// OnFrame prints one recorded frame.
func (c *Console) OnFrame(frame search.SimFrame, cfg search.SearchConfig) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	marker := " "
	value := c.colors.Value.Sprint(formatValue(frame.Value))
	switch {
	case !c.haveBest || frame.Value > c.best:
		c.best = frame.Value
		c.haveBest = true
		marker = c.colors.Best.Sprint("▲")
		value = c.colors.Best.Sprint(formatValue(frame.Value))
	case frame.Value < c.best:
		marker = c.colors.Regressed.Sprint("▼")
		value = c.colors.Regressed.Sprint(formatValue(frame.Value))
	}

	line := fmt.Sprintf("%s #%-3d %s  value %s", marker, frame.Index, frame.Params.String(), value)

	if c.details != nil {
		if r, ok := c.details(); ok {
			line += c.colors.Dim.Sprintf("  %s ops/s  err %.2f%%  p99 %s",
				formatValue(r.Throughput), r.ErrorRate*100, formatDuration(r.Latency.P99))
		}
	}
	line += c.colors.Dim.Sprintf("  [sample %s, settle %s]", formatDuration(cfg.SampleTime), formatDuration(cfg.MinSettling))

	c.writeln(line)
}

// PrintResult prints the search outcome.
func (c *Console) PrintResult(res *search.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		c.writeln(fmt.Sprintf("%s %s", res.Best.Params.String(), formatValue(res.Best.Value)))
		return
	}

	c.writeln("")
	c.writeln(c.colors.Title.Sprint(strings.Repeat("━", ruleWidth)))
	c.writeln(fmt.Sprintf("%s Best frame #%d: %s",
		SuccessIcon(!c.color), res.Best.Index, c.colors.Best.Sprint(res.Best.Params.String())))
	c.writeln(fmt.Sprintf("  %s %s", c.colors.Label.Sprint("Value:   "), c.colors.Value.Sprint(formatValue(res.Best.Value))))
	c.writeln(fmt.Sprintf("  %s %s", c.colors.Label.Sprint("Stopped: "), res.StopReason))
	c.writeln(fmt.Sprintf("  %s %d frames, %d steps in %s",
		c.colors.Label.Sprint("Effort:  "), len(res.Frames), res.Steps, formatDuration(res.Elapsed)))
}

// PrintError reports a failed search together with the best frame
// recorded before the failure, if any.
func (c *Console) PrintError(err error, journal *search.SimFrameJournal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln("")
	c.writeln(fmt.Sprintf("%s %s", ErrorIcon(!c.color), c.colors.Error.Sprint(err.Error())))
	if journal == nil {
		return
	}
	if best, berr := journal.BestRun(); berr == nil {
		c.writeln(fmt.Sprintf("  %s #%d %s value %s (%d frames recorded)",
			c.colors.Label.Sprint("Best so far:"), best.Index, best.Params.String(),
			formatValue(best.Value), journal.Len()))
	}
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func formatValue(v float64) string {
	switch {
	case v == 0:
		return "0"
	case v >= 1e6 || (v < 0.01 && v > -0.01):
		return fmt.Sprintf("%.3g", v)
	case v == float64(int64(v)):
		return fmt.Sprintf("%d", int64(v))
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}
