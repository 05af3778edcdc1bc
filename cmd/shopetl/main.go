// Command shopetl runs one orders + inventory load. It is meant to be
// invoked by an external scheduler; the exit status is 0 when the run
// completed, 1 when it failed and 2 on bad configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"shopetl/internal/config"
	"shopetl/internal/datasource"
	"shopetl/internal/datasource/httpds"
	"shopetl/internal/metrics"
	"shopetl/internal/metrics/datadog"
	"shopetl/internal/metrics/prompush"
	"shopetl/internal/parser/csv"
	"shopetl/internal/pipeline"
	"shopetl/internal/report"
	"shopetl/internal/storage"

	// register all backends with the storage factory.
	_ "shopetl/internal/storage/all"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

const defaultDogStatsD = "127.0.0.1:8125"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

type cliFlags struct {
	cfgPath       string
	orders        string
	inventory     string
	dsn           string
	storage       string
	strict        bool
	maxRejectRate float64
	validate      bool
	verbose       bool
	logFormat     string

	// set records flags given explicitly on the command line.
	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("shopetl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.cfgPath, "config", "", "pipeline config JSON path")
	fs.StringVar(&f.orders, "orders", "", "orders file path or URL (overrides config)")
	fs.StringVar(&f.inventory, "inventory", "", "inventory file path or URL (overrides config)")
	fs.StringVar(&f.dsn, "dsn", "", "storage DSN (overrides config and SHOPETL_DSN)")
	fs.StringVar(&f.storage, "storage", "", "storage kind: "+fmt.Sprint(storage.ListKinds()))
	fs.BoolVar(&f.strict, "strict", true, "exclude orders whose product is not in this run's inventory")
	fs.Float64Var(&f.maxRejectRate, "max-reject-rate", config.DefaultMaxRejectRate, "highest tolerated fraction of rejected rows")
	fs.BoolVar(&f.validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&f.verbose, "v", false, "enable debug logs")
	fs.StringVar(&f.logFormat, "log-format", "json", "log format: json or text")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	f.set = map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

func newLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// loadPipeline reads the config file, if any, and layers env and flags on
// top: flag > env > file > default.
func loadPipeline(f cliFlags, getenv func(string) string) (config.Pipeline, error) {
	p := config.Default()
	if f.cfgPath != "" {
		var err error
		if p, err = config.Load(f.cfgPath); err != nil {
			return p, err
		}
	}

	if v := getenv("SHOPETL_DSN"); v != "" && p.Storage.DSN == "" {
		p.Storage.DSN = v
	}
	if n, ok := envInt(getenv, "SHOPETL_WORKERS"); ok {
		p.Runtime.Workers = n
	}
	if n, ok := envInt(getenv, "SHOPETL_BATCH_SIZE"); ok {
		p.Runtime.BatchSize = n
	}
	if v := getenv("PUSHGATEWAY_URL"); v != "" && p.Metrics.PushgatewayURL == "" {
		p.Metrics.PushgatewayURL = v
	}
	if v := getenv("DD_AGENT_ADDR"); v != "" && p.Metrics.DatadogAddr == "" {
		p.Metrics.DatadogAddr = v
	}

	if f.orders != "" {
		p.Sources.Orders.Location = f.orders
		p.Sources.Orders.Kind = ""
	}
	if f.inventory != "" {
		p.Sources.Inventory.Location = f.inventory
		p.Sources.Inventory.Kind = ""
	}
	if f.dsn != "" {
		p.Storage.DSN = f.dsn
	}
	if f.storage != "" {
		p.Storage.Kind = f.storage
	}
	if f.set["strict"] {
		p.Policy.Mode = config.ModeLenient
		if f.strict {
			p.Policy.Mode = config.ModeStrict
		}
	}
	if f.set["max-reject-rate"] {
		rate := f.maxRejectRate
		p.Policy.MaxRejectRate = &rate
	}
	p.ApplyDefaults()
	return p, nil
}

func envInt(getenv func(string) string, key string) (int, bool) {
	v := getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func input(s config.Source, rt config.RuntimeConfig) pipeline.Input {
	var client *httpds.Client
	if s.Kind == "http" {
		hdr := http.Header{}
		for k, v := range s.Headers {
			hdr.Set(k, v)
		}
		client = httpds.NewClient(httpds.Config{
			Timeout:     rt.HTTP.Timeout.Std(),
			MaxRetries:  rt.HTTP.MaxRetries,
			BaseHeaders: hdr,
		})
	}
	return pipeline.Input{
		Source: datasource.FromLocation(s.Location, client),
		CSV:    csv.OptionsFrom(s.Parser.Options),
	}
}

func params(p config.Pipeline) pipeline.Params {
	return pipeline.Params{
		Job:       p.Job,
		Orders:    input(p.Sources.Orders, p.Runtime),
		Inventory: input(p.Sources.Inventory, p.Runtime),
		Storage: storage.Config{
			Kind:     p.Storage.Kind,
			DSN:      p.Storage.DSN,
			MaxConns: p.Storage.MaxConns,
		},
		Strict:        p.Policy.Strict(),
		MaxRejectRate: p.Policy.RejectRate(),
		Workers:       p.Runtime.Workers,
		Retry: storage.RetryPolicy{
			MaxAttempts:    p.Runtime.Retry.MaxAttempts,
			InitialBackoff: p.Runtime.Retry.InitialBackoff.Std(),
			MaxBackoff:     p.Runtime.Retry.MaxBackoff.Std(),
		},
		BatchSize:        p.Runtime.BatchSize,
		UnitTimeout:      p.Runtime.UnitTimeout.Std(),
		AutoCreateSchema: p.Storage.AutoCreateSchema,
		DateLayouts:      p.Policy.DateLayouts,
	}
}

// setupMetrics installs the configured backend. It returns a cleanup that
// flushes and closes it; metrics failures are logged, never fatal.
func setupMetrics(p config.Pipeline, logger *slog.Logger) func() {
	nop := func() {}
	switch p.Metrics.Backend {
	case "prometheus":
		b, err := prompush.NewBackend(p.Job, p.Metrics.PushgatewayURL)
		if err != nil {
			logger.Warn("metrics: prometheus backend unavailable; metrics disabled", "err", err)
			return nop
		}
		metrics.SetBackend(b)
		logger.Debug("metrics: enabled", "backend", "prometheus", "url", p.Metrics.PushgatewayURL)
		return func() {
			if err := metrics.Flush(); err != nil {
				logger.Warn("metrics: flush failed", "err", err)
			}
		}
	case "datadog":
		addr := p.Metrics.DatadogAddr
		if addr == "" {
			addr = defaultDogStatsD
		}
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			Namespace:  "shopetl.",
			GlobalTags: []string{"job:" + p.Job},
		})
		if err != nil {
			logger.Warn("metrics: datadog backend unavailable; metrics disabled", "err", err)
			return nop
		}
		metrics.SetBackend(b)
		logger.Debug("metrics: enabled", "backend", "datadog", "addr", addr)
		return func() {
			if err := metrics.Flush(); err != nil {
				logger.Warn("metrics: flush failed", "err", err)
			}
			_ = b.Close()
		}
	default:
		return nop
	}
}

// sinks builds the summary destinations: always stdout, plus the report
// file and Kafka topic when configured.
func sinks(p config.Pipeline, stdout io.Writer) (report.Sink, func()) {
	ms := report.MultiSink{report.WriterSink{W: stdout}}
	closeFn := func() {}
	if p.Report.File != "" {
		ms = append(ms, report.FileSink{Path: p.Report.File})
	}
	if k := p.Report.Kafka; len(k.Brokers) > 0 {
		ks := report.NewKafkaSink(k.Brokers, k.Topic)
		ms = append(ms, ks)
		closeFn = func() { _ = ks.Close() }
	}
	return ms, closeFn
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}
	logger := newLogger(stderr, f.logFormat, f.verbose)
	slog.SetDefault(logger)

	p, err := loadPipeline(f, getenv)
	if err != nil {
		logger.Error("config: load failed", "path", f.cfgPath, "err", err)
		return exitConfig
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		lvl := slog.LevelWarn
		if iss.Severity == config.SeverityError {
			lvl = slog.LevelError
		}
		logger.Log(ctx, lvl, "config: "+iss.Message, "path", iss.Path)
	}
	if config.HasErrors(issues) {
		logger.Error("config: invalid", "path", f.cfgPath)
		return exitConfig
	}
	if f.validate {
		logger.Info("config: valid", "path", f.cfgPath)
		return exitOK
	}

	flush := setupMetrics(p, logger)
	defer flush()

	d := &pipeline.Driver{Logger: logger}
	sum, runErr := d.Run(ctx, params(p))

	sink, closeSinks := sinks(p, stdout)
	defer closeSinks()
	// the summary is emitted even when the run was canceled.
	if err := sink.Emit(context.WithoutCancel(ctx), sum); err != nil {
		logger.Error("report: emit failed", "err", err)
	}
	report.Log(logger, sum)

	if runErr != nil {
		return exitFailed
	}
	return exitOK
}
