package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/crimson-sun/speedtrace/internal/config"
	"github.com/crimson-sun/speedtrace/internal/engine"
	"github.com/crimson-sun/speedtrace/internal/engine/urlclass"
	"github.com/crimson-sun/speedtrace/internal/logging"
	"github.com/crimson-sun/speedtrace/internal/metrics"
	"github.com/crimson-sun/speedtrace/internal/model"
	"github.com/crimson-sun/speedtrace/internal/netlog"
	"github.com/crimson-sun/speedtrace/internal/output"
	"github.com/crimson-sun/speedtrace/internal/output/async"
	"github.com/crimson-sun/speedtrace/internal/output/file"
	"github.com/crimson-sun/speedtrace/internal/output/multi"
	"github.com/crimson-sun/speedtrace/internal/output/postgres"
	"github.com/crimson-sun/speedtrace/internal/output/redis"
	"github.com/crimson-sun/speedtrace/internal/output/stdout"
	"github.com/crimson-sun/speedtrace/internal/output/webhook"
	"github.com/crimson-sun/speedtrace/internal/pipeline"
)

var version = "dev"

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

const usageText = `usage: speedtrace <command> [flags]

commands:
  classify  -netlog FILE [-out DIR]                      write download_urls.json / upload_urls.json
  analyze   -netlog FILE -urls FILE [-direction D] [-out DIR]
  run       -netlog FILE [-direction D] [-out DIR]       classify + analyze
  repair    -netlog FILE                                 repair a truncated capture in place
  version

D is download, upload, both or auto (default auto).
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdoutW, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return exitUsage
	}
	switch args[0] {
	case "version":
		fmt.Fprintf(stdoutW, "speedtrace %s\n", version)
		return exitOK
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdoutW, usageText)
		return exitOK
	}

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(stderr, "speedtrace: %v\n", err)
		return exitFatal
	}
	logging.Init(cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cmdErr error
	switch args[0] {
	case "classify":
		cmdErr = classifyCmd(ctx, cfg, args[1:], stderr)
	case "analyze":
		cmdErr = analyzeCmd(ctx, cfg, args[1:], true, stdoutW, stderr)
	case "run":
		cmdErr = analyzeCmd(ctx, cfg, args[1:], false, stdoutW, stderr)
	case "repair":
		cmdErr = repairCmd(args[1:], stderr)
	default:
		fmt.Fprintf(stderr, "speedtrace: unknown command %q\n\n%s", args[0], usageText)
		return exitUsage
	}

	var usage usageError
	switch {
	case cmdErr == nil:
		return exitOK
	case errors.As(cmdErr, &usage), errors.Is(cmdErr, flag.ErrHelp):
		if !errors.Is(cmdErr, flag.ErrHelp) {
			fmt.Fprintf(stderr, "speedtrace: %v\n", cmdErr)
		}
		return exitUsage
	default:
		log.Error().Err(cmdErr).Str("command", args[0]).Msg("command failed")
		fmt.Fprintf(stderr, "speedtrace: %v\n", cmdErr)
		return exitFatal
	}
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err.Error()}
	}
	if fs.NArg() > 0 {
		return usageError{fmt.Sprintf("%s: unexpected arguments %v", fs.Name(), fs.Args())}
	}
	return nil
}

func newEngine(cfg config.Config, m *metrics.Metrics) *engine.Engine {
	return engine.New(engine.Options{
		OpeningEvent: cfg.Engine.OpeningEvent,
		Patterns: urlclass.Patterns{
			Download: cfg.Engine.DownloadFragment,
			Upload:   cfg.Engine.UploadFragment,
			Hello:    cfg.Engine.HelloFragment,
			Hosts:    cfg.Engine.Hosts,
		},
		IntervalMs: cfg.Engine.IntervalMs,
		Metrics:    m,
	})
}

func classifyCmd(ctx context.Context, cfg config.Config, args []string, stderr io.Writer) error {
	fs := newFlagSet("classify", stderr)
	netlogPath := fs.String("netlog", "", "netlog capture `file`")
	outDir := fs.String("out", cfg.Output.Dir, "output `dir`")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *netlogPath == "" {
		return usageError{"classify: -netlog is required"}
	}

	p := pipeline.New(newEngine(cfg, nil), multi.New(), pipeline.WithURLListDir(*outDir, cfg.Output.Pretty))
	defer p.Close()
	r, err := p.Classify(ctx, *netlogPath)
	if err != nil {
		return err
	}
	fmt.Fprint(stderr, renderURLs(r))
	return nil
}

func analyzeCmd(ctx context.Context, cfg config.Config, args []string, needURLs bool, stdoutW, stderr io.Writer) error {
	name := "run"
	if needURLs {
		name = "analyze"
	}
	fs := newFlagSet(name, stderr)
	netlogPath := fs.String("netlog", "", "netlog capture `file`")
	var urlsPath *string
	if needURLs {
		urlsPath = fs.String("urls", "", "url list `file` (download_urls.json or upload_urls.json)")
	}
	direction := fs.String("direction", "auto", "download, upload, both or auto")
	outDir := fs.String("out", cfg.Output.Dir, "output `dir`")
	verbosity := fs.String("verbosity", cfg.Output.Verbosity, "minimal, standard or full")
	pretty := fs.Bool("pretty", cfg.Output.Pretty, "indent JSON output")
	toStdout := fs.Bool("stdout", false, "also print each summary as JSON on stdout")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *netlogPath == "" {
		return usageError{name + ": -netlog is required"}
	}
	if needURLs && *urlsPath == "" {
		return usageError{"analyze: -urls is required"}
	}
	dirs, err := pipeline.ParseDirections(*direction)
	if err != nil {
		return usageError{err.Error()}
	}

	out, err := buildOutput(cfg, outputSettings{
		dir:          *outDir,
		verbosity:    output.ParseVerbosity(*verbosity),
		pretty:       *pretty,
		perDirection: len(dirs) != 1,
		stdout:       *toStdout,
		stdoutW:      stdoutW,
	})
	if err != nil {
		return err
	}

	m := metrics.New()
	opts := []pipeline.Option{pipeline.WithMetrics(m), pipeline.WithMetricsFile(cfg.Output.MetricsFile)}
	if !needURLs {
		opts = append(opts, pipeline.WithURLListDir(*outDir, *pretty))
	}
	p := pipeline.New(newEngine(cfg, m), out, opts...)

	req := pipeline.Request{NetlogPath: *netlogPath, Directions: dirs}
	if needURLs {
		req.URLsPath = *urlsPath
	}
	r, runErr := p.Run(ctx, req)
	closeErr := p.Close()
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("close outputs: %w", closeErr)
	}
	fmt.Fprint(stderr, renderReport(r))
	return nil
}

func repairCmd(args []string, stderr io.Writer) error {
	fs := newFlagSet("repair", stderr)
	netlogPath := fs.String("netlog", "", "netlog capture `file`")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *netlogPath == "" {
		return usageError{"repair: -netlog is required"}
	}
	c, err := netlog.Load(*netlogPath)
	if err != nil {
		return err
	}
	fmt.Fprint(stderr, renderRepair(c))
	return nil
}

type outputSettings struct {
	dir          string
	verbosity    output.Verbosity
	pretty       bool
	perDirection bool
	stdout       bool
	stdoutW      io.Writer
}

// buildOutput assembles the configured sinks. Network sinks run behind an
// async wrapper so a slow endpoint only delays shutdown.
func buildOutput(cfg config.Config, s outputSettings) (output.Output, error) {
	fileOpts := []file.Option{file.WithPretty(s.pretty)}
	if s.perDirection {
		fileOpts = append(fileOpts, file.WithDirectionDirs())
	}
	f, err := file.New(s.dir, s.verbosity, fileOpts...)
	if err != nil {
		return nil, err
	}

	m := multi.New().Add("file", f)
	if s.stdout {
		m.Add("stdout", stdout.New(s.pretty, stdout.WithWriter(s.stdoutW)))
	}
	if cfg.Output.WebhookURL != "" {
		m.Add("webhook", async.New(webhook.New(cfg.Output.WebhookURL)))
	}
	if cfg.Output.RedisURL != "" {
		r, err := redis.New(cfg.Output.RedisURL)
		if err != nil {
			return nil, err
		}
		m.Add("redis", async.New(r))
	}
	if cfg.Output.PostgresURL != "" {
		m.Add("postgres", async.New(postgres.New(cfg.Output.PostgresURL)))
	}
	log.Debug().Strs("sinks", m.Names()).Str("verbosity", s.verbosity.String()).Msg("outputs configured")
	return m, nil
}

// directionsOf lists the directions a run produced results for.
func directionsOf(r *pipeline.Run) []model.Direction {
	dirs := make([]model.Direction, 0, len(r.Results))
	for _, res := range r.Results {
		dirs = append(dirs, res.Direction)
	}
	return dirs
}
