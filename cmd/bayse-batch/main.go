package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"baysebatch/internal/adapters/bayse"
	"baysebatch/internal/adapters/localstorage"
	"baysebatch/internal/config"
	"baysebatch/internal/core/domain"
	"baysebatch/internal/logging"
	"baysebatch/internal/metrics"
	"baysebatch/internal/service"
)

const usage = `Usage: bayse-batch <command> [flags]

Commands:
  submit   submit every URL in the input file for interpretation
  save     poll each request id and append finished results to the results file

Run "bayse-batch <command> -h" for the flags of a command.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch args[0] {
	case "submit":
		err = runSubmit(ctx, args[1:], stdout, stderr)
	case "save":
		err = runSave(ctx, args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "bayse-batch: %v\n", err)
		return 1
	}
	return 0
}

// commonFlags are shared by both commands.
type commonFlags struct {
	configPath  string
	metricsAddr string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "path to TOML config (default "+config.DefaultConfigPath+" if present)")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running (e.g. :2112)")
}

// env is the wiring shared by both flows.
type env struct {
	cfg     config.Config
	logger  *log.Logger
	client  *bayse.Client
	metrics *metrics.Recorder
	stop    func()
}

func setup(flags commonFlags, prefix string, stderr io.Writer, override func(*config.Config)) (*env, error) {
	// It's okay if .env doesn't exist, environment variables might be set manually
	envErr := godotenv.Load()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	override(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}

	logger, err := logging.New(stderr, prefix, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if envErr != nil {
		logger.Debug("No .env file found")
	}

	client, err := bayse.NewClient(bayse.Options{
		APIKey:                 cfg.APIKey,
		InterpretationEndpoint: cfg.InterpretationEndpoint,
		StatusEndpoint:         cfg.StatusEndpoint,
		ResultEndpoint:         cfg.ResultEndpoint,
		Timeout:                cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bayse client: %w", err)
	}

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	stop := serveMetrics(flags.metricsAddr, reg, logger)

	return &env{cfg: cfg, logger: logger, client: client, metrics: rec, stop: stop}, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *log.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func runSubmit(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	input := fs.String("input", "", "file with one URL per line (overrides batch_input_file)")
	ids := fs.String("ids", "", "file receiving one submission response per line (overrides uuids_file)")
	tag := fs.String("tag", "", "trial tag attached to every submission (overrides trial_tag)")
	appendIDs := fs.Bool("append", false, "keep existing lines in the ids file instead of truncating it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(common, "batch_submit", stderr, func(c *config.Config) {
		setIf(&c.BatchInputFile, *input)
		setIf(&c.UUIDsFile, *ids)
		setIf(&c.TrialTag, *tag)
	})
	if err != nil {
		return err
	}
	defer e.stop()

	lines, err := localstorage.ReadLines(e.cfg.BatchInputFile)
	if err != nil {
		return fmt.Errorf("failed to process input file: %w", err)
	}

	open := localstorage.Create
	if *appendIDs {
		open = localstorage.OpenAppend
	}
	sink, err := open(e.cfg.UUIDsFile)
	if err != nil {
		return fmt.Errorf("%w. Quitting", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			e.logger.Error("Failed to close file", "err", err)
		}
	}()

	submitter := service.NewSubmitter(e.client, sink, service.ContextSleeper{}, e.metrics, e.logger, service.SubmitterConfig{
		DefaultTags:     e.cfg.DefaultTags,
		SourceTag:       e.cfg.TrialTag,
		PacingDelay:     e.cfg.PacingDelay,
		PacingIncrement: e.cfg.PacingIncrement,
		RateLimitPause:  e.cfg.RateLimitPause,
	})

	summary, runErr := submitter.Run(ctx, lines)
	printSubmitSummary(stdout, summary, sink.Path())
	if runErr != nil {
		return fmt.Errorf("submission run interrupted: %w", runErr)
	}
	return nil
}

func runSave(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	ids := fs.String("ids", "", "file with one {\"request_id\": ...} record per line (overrides uuids_file)")
	output := fs.String("output", "", "results file, appended to (overrides results_file)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(common, "batch_save", stderr, func(c *config.Config) {
		setIf(&c.UUIDsFile, *ids)
		setIf(&c.ResultsFile, *output)
	})
	if err != nil {
		return err
	}
	defer e.stop()

	lines, err := localstorage.ReadLines(e.cfg.UUIDsFile)
	if err != nil {
		return fmt.Errorf("failed to process results file: %w", err)
	}

	sink, err := localstorage.OpenAppend(e.cfg.ResultsFile)
	if err != nil {
		return fmt.Errorf("%w. Quitting", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			e.logger.Error("Failed to close file", "err", err)
		}
	}()

	retriever := service.NewRetriever(e.client, sink, service.ContextSleeper{}, e.metrics, e.logger, service.RetrieverConfig{
		SleepTime:  e.cfg.SleepTime,
		MaxRetries: e.cfg.MaxPollRetries,
	})

	summary, runErr := retriever.Run(ctx, lines)
	printSaveSummary(stdout, summary, sink.Path())
	if runErr != nil {
		return fmt.Errorf("save run interrupted: %w", runErr)
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func printSubmitSummary(w io.Writer, s *domain.SubmitSummary, idsPath string) {
	fmt.Fprintln(w, "\n=== Submit Summary ===")
	fmt.Fprintf(w, "Run ID:        %s\n", s.RunID)
	fmt.Fprintf(w, "Accepted:      %d\n", s.Accepted)
	fmt.Fprintf(w, "Skipped:       %d\n", s.Skipped)
	fmt.Fprintf(w, "Submitted:     %d\n", s.Submitted)
	fmt.Fprintf(w, "Failed:        %d\n", s.Failed)
	fmt.Fprintf(w, "Rate limited:  %d\n", s.RateLimited)
	fmt.Fprintf(w, "Final delay:   %s\n", s.FinalDelay)
	fmt.Fprintf(w, "Request IDs:   %s\n", idsPath)
	fmt.Fprintf(w, "Completed At:  %s\n", s.CompletedAt.Format(time.RFC3339))
}

func printSaveSummary(w io.Writer, s *domain.SaveSummary, resultsPath string) {
	fmt.Fprintln(w, "\n=== Save Summary ===")
	fmt.Fprintf(w, "Run ID:        %s\n", s.RunID)
	fmt.Fprintf(w, "Identifiers:   %d\n", s.Total)
	fmt.Fprintf(w, "Saved:         %d\n", s.Saved)
	fmt.Fprintf(w, "Failed:        %d\n", s.Failed)
	fmt.Fprintf(w, "Not ready:     %d\n", s.Exhausted)
	fmt.Fprintf(w, "Malformed:     %d\n", s.Malformed)
	fmt.Fprintf(w, "Results:       %s\n", resultsPath)
	fmt.Fprintf(w, "Completed At:  %s\n", s.CompletedAt.Format(time.RFC3339))
}
