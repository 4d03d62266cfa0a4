package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/flywheel/internal/capture"
	"github.com/wesleyorama2/flywheel/internal/config"
	"github.com/wesleyorama2/flywheel/internal/flywheel"
	"github.com/wesleyorama2/flywheel/internal/output"
	"github.com/wesleyorama2/flywheel/internal/search"
)

const defaultThreads = 16

func newFindmaxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "findmax",
		Short: "Search for the highest operation rate the target sustains",
		Long: `Drive a target at increasing rates and report the highest rate that
still scores well. The score of a window is its successful operations per
second, or 0 when too many operations fail or the target falls behind the
offered rate.

Config file mode:
  flywheel findmax --config run.yaml

Quick CLI mode:
  flywheel findmax --url http://localhost:8080/health --threads 64 \
    --param base_value=200 --param step_value=100

In-process demo:
  flywheel findmax --synthetic-capacity 2000 --param sample_time_ms=1000`,
		Args: cobra.NoArgs,
		RunE: runFindmax,
	}

	cmd.Flags().StringP("config", "c", "", "Configuration file (.yaml, .yml or .json)")
	cmd.Flags().String("url", "", "Target URL (alternative to --config)")
	cmd.Flags().String("method", "GET", "HTTP method for --url")
	cmd.Flags().StringArrayP("header", "H", nil, "Request header 'Name: value' for --url (repeatable)")
	cmd.Flags().String("body", "", "Request body for --url")
	cmd.Flags().DurationP("timeout", "t", 30*time.Second, "Request timeout for --url")
	cmd.Flags().Int("expect-status", 0, "Required status code (default: any below 400)")
	cmd.Flags().Float64("synthetic-capacity", 0, "Drive an in-process service of this capacity (ops/sec) instead of a URL")
	cmd.Flags().Int("threads", 0, fmt.Sprintf("Number of workers (default %d)", defaultThreads))
	cmd.Flags().StringArrayP("param", "p", nil, "Search parameter key=value (repeatable, overrides the config file)")
	cmd.Flags().Float64("max-error-rate", 0, "Highest error rate a window may have and still score")
	cmd.Flags().Float64("min-attainment", 0, "Fraction of the offered rate a window must achieve to score")
	cmd.Flags().String("json", "", "Write a JSON report to this file ('-' for stdout)")
	cmd.Flags().String("report", "", "Write a report to this file (YAML for .yaml/.yml, JSON otherwise)")
	cmd.Flags().BoolP("quiet", "q", false, "Only print the final result")

	return cmd
}

func runFindmax(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	fc, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	flagParams, _ := cmd.Flags().GetStringArray("param")
	overrides, err := config.ParseParams(flagParams)
	if err != nil {
		return err
	}
	searchCfg, err := config.SearchConfigFromParams(config.ParamsFromMap(fc.Search).Merge(overrides), logger)
	if err != nil {
		return err
	}

	op, targetName, err := buildOp(fc)
	if err != nil {
		return err
	}

	// The window reports the flywheel's offered rate, and the flywheel
	// reports every outcome to the window.
	var fw *flywheel.Flywheel
	captureOpts := captureOptions(fc.Capture)
	captureOpts.TargetRate = func() float64 { return fw.Rate() }
	captureOpts.Logger = logger
	window := capture.New(captureOpts)

	threads := fc.Workload.Threads
	if threads == 0 {
		threads = defaultThreads
	}
	fw, err = flywheel.New(op, window, flywheel.Options{
		Alias:                targetName,
		Threads:              threads,
		MaxConsecutiveErrors: fc.Workload.MaxConsecutiveErrors,
		Logger:               logger,
	})
	if err != nil {
		return err
	}

	model := search.NewParamModel()
	if _, err := model.Add("rate", 0, searchCfg.BaseValue, searchCfg.SampleCeiling, fw.SetRate); err != nil {
		return err
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")
	console := output.NewConsole(output.ConsoleConfig{
		Name:    fc.Name,
		Target:  targetName,
		Writer:  cmd.OutOrStdout(),
		Quiet:   quiet,
		NoColor: noColor,
		Details: window.Result,
	})

	opt, err := search.NewOptimizer(model, &searchCfg, window, fw)
	if err != nil {
		return err
	}
	opt.SetLogger(logger)
	opt.WithObserver(console)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console.PrintHeader(searchCfg)

	start := time.Now()
	if err := fw.Start(ctx); err != nil {
		return err
	}
	result, runErr := opt.Run(ctx)
	fw.Stop()
	if werr := fw.Wait(); werr != nil {
		logger.Warn("flywheel workers exited with an error", "error", werr)
	}
	stats := fw.LimiterStats()
	logger.Debug("flywheel stopped",
		"ops", fw.Ops(),
		"admitted", stats.Admitted,
		"limiter_wait", stats.TotalWait)
	if c, ok := op.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}

	if runErr != nil {
		console.PrintError(runErr, opt.Journal())
		report := output.NewFailedReport(fc.Name, targetName, opt.Journal(), opt.Config(), time.Since(start), runErr)
		if err := writeReports(cmd, report, logger); err != nil {
			logger.Error("failed to write report", "error", err)
		}
		return &reportedError{err: runErr}
	}

	console.PrintResult(result)
	return writeReports(cmd, output.NewReport(fc.Name, targetName, result), logger)
}

// loadRunConfig reads --config if given and applies the target and
// workload flags on top.
func loadRunConfig(cmd *cobra.Command) (*config.FileConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	url, _ := cmd.Flags().GetString("url")
	capacity, _ := cmd.Flags().GetFloat64("synthetic-capacity")

	fc := &config.FileConfig{}
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		fc = loaded
	} else if url == "" && capacity == 0 {
		return nil, fmt.Errorf("one of --config, --url or --synthetic-capacity is required")
	}
	if url != "" && capacity != 0 {
		return nil, fmt.Errorf("--url and --synthetic-capacity are mutually exclusive")
	}

	flags := cmd.Flags()
	if url != "" {
		method, _ := flags.GetString("method")
		body, _ := flags.GetString("body")
		timeout, _ := flags.GetDuration("timeout")
		status, _ := flags.GetInt("expect-status")
		rawHeaders, _ := flags.GetStringArray("header")

		headers, err := parseHeaders(rawHeaders)
		if err != nil {
			return nil, err
		}
		fc.Target = &config.TargetConfig{
			URL:     url,
			Method:  strings.ToUpper(method),
			Headers: headers,
			Body:    body,
			Timeout: config.Duration(timeout),
			Expect:  config.ExpectConfig{Status: status},
		}
		fc.Workload.Synthetic = nil
	}
	if capacity != 0 {
		fc.Workload.Synthetic = &config.SyntheticConfig{Capacity: capacity}
		fc.Target = nil
	}
	if flags.Changed("threads") {
		fc.Workload.Threads, _ = flags.GetInt("threads")
	}
	if flags.Changed("max-error-rate") {
		v, _ := flags.GetFloat64("max-error-rate")
		fc.Capture.MaxErrorRate = &v
	}
	if flags.Changed("min-attainment") {
		v, _ := flags.GetFloat64("min-attainment")
		fc.Capture.MinAttainment = &v
	}

	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return fc, nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// buildOp creates the operation the flywheel drives and a display name
// for it.
func buildOp(fc *config.FileConfig) (flywheel.Op, string, error) {
	if s := fc.Workload.Synthetic; s != nil {
		latency := s.Latency.GetDuration(0)
		if latency == 0 {
			op, err := flywheel.NewSyntheticCapacity(s.Capacity)
			return op, fmt.Sprintf("synthetic(%g ops/s)", s.Capacity), err
		}
		slots := int(s.Capacity*latency.Seconds() + 0.5)
		op, err := flywheel.NewSyntheticOp(slots, latency, s.Timeout.GetDuration(5*latency))
		return op, fmt.Sprintf("synthetic(%g ops/s)", s.Capacity), err
	}

	t := fc.Target
	op, err := flywheel.NewHTTPOp(flywheel.HTTPConfig{
		Method:             t.Method,
		URL:                t.URL,
		Headers:            t.Headers,
		Body:               t.Body,
		Timeout:            t.Timeout.GetDuration(0),
		InsecureSkipVerify: t.InsecureSkipVerify,
		Expect: flywheel.Expect{
			Status: t.Expect.Status,
			Path:   t.Expect.Path,
			Value:  t.Expect.Value,
		},
	})
	if err != nil {
		return nil, "", err
	}
	name := t.URL
	if t.Method != "" {
		name = t.Method + " " + t.URL
	}
	return op, name, nil
}

// captureOptions maps the capture section onto window options.
func captureOptions(c config.CaptureConfig) capture.Options {
	opts := capture.DefaultOptions()

	switch c.Scorer {
	case config.ScorerSuccessRate:
		s := capture.SuccessRateScorer{MinSuccessRate: 0.99}
		if c.MinSuccessRate != nil {
			s.MinSuccessRate = *c.MinSuccessRate
		}
		opts.Scorer = s
	default:
		s := capture.DefaultThroughputScorer()
		if c.MaxErrorRate != nil {
			s.MaxErrorRate = *c.MaxErrorRate
		}
		if c.MinAttainment != nil {
			s.MinAttainment = *c.MinAttainment
		}
		opts.Scorer = s
	}

	if c.Tolerance > 0 {
		opts.Tolerance = c.Tolerance
	}
	if c.StableIntervals > 0 {
		opts.StableIntervals = c.StableIntervals
	}
	opts.PollInterval = c.PollInterval.GetDuration(opts.PollInterval)
	opts.MaxSettle = c.MaxSettle.GetDuration(opts.MaxSettle)
	return opts
}

func writeReports(cmd *cobra.Command, report *output.Report, logger *slog.Logger) error {
	if path, _ := cmd.Flags().GetString("json"); path != "" {
		if err := output.WriteJSON(report, path); err != nil {
			return err
		}
		logger.Info("report written", "path", path)
	}
	if path, _ := cmd.Flags().GetString("report"); path != "" {
		if err := output.WriteReport(report, path); err != nil {
			return err
		}
		logger.Info("report written", "path", path)
	}
	return nil
}

var (
	_ search.FrameObserver = (*output.Console)(nil)
	_ search.Target        = (*flywheel.Flywheel)(nil)
	_ search.Capture       = (*capture.Window)(nil)
	_ flywheel.Recorder    = (*capture.Window)(nil)
)
