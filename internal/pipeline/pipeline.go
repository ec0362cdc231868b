package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crimson-sun/speedtrace/internal/engine"
	"github.com/crimson-sun/speedtrace/internal/metrics"
	"github.com/crimson-sun/speedtrace/internal/model"
	"github.com/crimson-sun/speedtrace/internal/netlog"
	"github.com/crimson-sun/speedtrace/internal/output"
	"github.com/crimson-sun/speedtrace/internal/output/file"
)

// ErrUnknownDirection is returned by ParseDirections.
var ErrUnknownDirection = errors.New("unknown direction")

// Analyzer is the engine surface the pipeline drives.
type Analyzer interface {
	Classify(c *model.Capture) model.URLSet
	Analyze(c *model.Capture, urls model.URLList, dir model.Direction) (*model.Result, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records run counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithMetricsFile writes the metrics in textfile format after each run.
// It has no effect without WithMetrics.
func WithMetricsFile(path string) Option {
	return func(p *Pipeline) { p.metricsFile = path }
}

// WithURLListDir writes classified URL lists into dir.
func WithURLListDir(dir string, pretty bool) Option {
	return func(p *Pipeline) {
		p.urlDir = dir
		p.pretty = pretty
	}
}

// Pipeline connects capture loading, the engine, and an output.
type Pipeline struct {
	analyzer    Analyzer
	output      output.Output
	metrics     *metrics.Metrics
	metricsFile string
	urlDir      string
	pretty      bool
}

// New creates a Pipeline from the given components.
func New(a Analyzer, out output.Output, opts ...Option) *Pipeline {
	p := &Pipeline{analyzer: a, output: out}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Request names the inputs of one run.
type Request struct {
	NetlogPath string
	URLsPath   string            // empty: classify the capture itself
	Directions []model.Direction // empty: every direction the URL list has payload URLs for
}

// Run is the outcome of one request.
type Run struct {
	ID       string
	Capture  *model.Capture
	URLs     model.URLList
	URLFiles []string
	Results  []*model.Result
	Duration time.Duration

	started time.Time
	set     *model.URLSet // nil when the URL list came from a file
}

// URLsFor returns the URL list direction d is analyzed against. A classified
// capture gets a list per direction; a URL list file is shared.
func (r *Run) URLsFor(d model.Direction) model.URLList {
	if r.set == nil {
		return r.URLs
	}
	return r.set.ListFor(d)
}

func (r *Run) classify(a Analyzer) {
	set := a.Classify(r.Capture)
	r.set = &set
	r.URLs = set.ToList()
}

// Classify loads a capture and writes its URL lists without analyzing it.
func (p *Pipeline) Classify(ctx context.Context, netlogPath string) (*Run, error) {
	run, logger, err := p.start(netlogPath)
	if err != nil {
		return nil, err
	}
	run.classify(p.analyzer)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.writeURLLists(run, engine.DetectDirections(run.URLs)); err != nil {
		return nil, err
	}
	p.finish(run, logger)
	return run, nil
}

// Run loads, correlates and writes one capture. Every requested direction
// is analyzed before anything is written, so a fatal error leaves no
// partial output behind.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Run, error) {
	run, logger, err := p.start(req.NetlogPath)
	if err != nil {
		return nil, err
	}

	classified := req.URLsPath == ""
	if classified {
		run.classify(p.analyzer)
	} else if run.URLs, err = netlog.LoadURLList(req.URLsPath); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	dirs := req.Directions
	if len(dirs) == 0 {
		dirs = engine.DetectDirections(run.URLs)
	}
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := p.analyzer.Analyze(run.Capture, run.URLsFor(d), d)
		if err != nil {
			return nil, fmt.Errorf("pipeline: analyze %s: %w", d, err)
		}
		res.RunID = run.ID
		for _, w := range res.Warnings {
			logger.Warn().Str("direction", string(d)).Str("kind", w.Kind).Msg(w.Message)
		}
		run.Results = append(run.Results, res)
	}

	if classified {
		if err := p.writeURLLists(run, dirs); err != nil {
			return nil, err
		}
	}
	for _, res := range run.Results {
		if err := p.output.Write(ctx, res); err != nil {
			return nil, fmt.Errorf("pipeline output: %w", err)
		}
	}
	p.finish(run, logger)
	return run, nil
}

// Close shuts down the output.
func (p *Pipeline) Close() error {
	return p.output.Close()
}

func (p *Pipeline) start(netlogPath string) (*Run, zerolog.Logger, error) {
	started := time.Now()
	id, err := uuid.NewV7()
	if err != nil {
		return nil, log.Logger, fmt.Errorf("pipeline: run id: %w", err)
	}
	logger := log.With().Str("run_id", id.String()).Logger()

	c, err := netlog.Load(netlogPath)
	if err != nil {
		return nil, logger, fmt.Errorf("pipeline: %w", err)
	}
	if p.metrics != nil {
		p.metrics.EventsTotal.Add(float64(len(c.Events)))
		p.metrics.DecodeErrors.Add(float64(len(c.DecodeErrors)))
		if c.Repaired {
			p.metrics.RepairsTotal.Inc()
		}
	}
	logger.Info().
		Str("path", netlogPath).
		Int("events", len(c.Events)).
		Int("decode_errors", len(c.DecodeErrors)).
		Bool("repaired", c.Repaired).
		Str("client", c.Client.Name).
		Msg("capture loaded")

	return &Run{ID: id.String(), Capture: c, started: started}, logger, nil
}

func (p *Pipeline) finish(run *Run, logger zerolog.Logger) {
	run.Duration = time.Since(run.started)
	if p.metrics != nil {
		p.metrics.RunSeconds.Set(run.Duration.Seconds())
		if p.metricsFile != "" {
			if err := p.metrics.WriteTextfile(p.metricsFile); err != nil {
				logger.Warn().Err(err).Msg("metrics textfile not written")
			}
		}
	}
	logger.Info().Int("results", len(run.Results)).Dur("elapsed", run.Duration).Msg("run complete")
}

func (p *Pipeline) writeURLLists(run *Run, dirs []model.Direction) error {
	if p.urlDir == "" {
		return nil
	}
	for _, d := range dirs {
		path, err := file.WriteURLList(p.urlDir, d, run.URLsFor(d), p.pretty)
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		run.URLFiles = append(run.URLFiles, path)
	}
	return nil
}

// ParseDirections converts "download", "upload", "both", or "auto" (or
// empty) to the directions to analyze. Auto yields nil, leaving the choice
// to the URL list.
func ParseDirections(s string) ([]model.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return nil, nil
	case "download":
		return []model.Direction{model.Download}, nil
	case "upload":
		return []model.Direction{model.Upload}, nil
	case "both":
		return []model.Direction{model.Download, model.Upload}, nil
	default:
		return nil, fmt.Errorf("pipeline: %w: %q", ErrUnknownDirection, s)
	}
}
