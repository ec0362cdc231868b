package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/crimson-sun/speedtrace/internal/engine/correlator"
	"github.com/crimson-sun/speedtrace/internal/engine/eventtypes"
	"github.com/crimson-sun/speedtrace/internal/engine/latency"
	"github.com/crimson-sun/speedtrace/internal/engine/series"
	"github.com/crimson-sun/speedtrace/internal/engine/sockets"
	"github.com/crimson-sun/speedtrace/internal/engine/urlclass"
	"github.com/crimson-sun/speedtrace/internal/metrics"
	"github.com/crimson-sun/speedtrace/internal/model"
	"github.com/crimson-sun/speedtrace/internal/throughput"
)

// ErrInvalidDirection is returned for a direction other than download or upload.
var ErrInvalidDirection = errors.New("invalid direction")

// Options configures an Engine.
type Options struct {
	OpeningEvent string
	Patterns     urlclass.Patterns
	IntervalMs   int64
	Metrics      *metrics.Metrics // optional
}

// Engine runs one capture through the correlation stages and the
// throughput post-processing.
type Engine struct {
	opening    string
	classifier *urlclass.Classifier
	intervalMs int64
	metrics    *metrics.Metrics
}

// New creates an Engine. Zero options fall back to the defaults.
func New(opts Options) *Engine {
	if opts.OpeningEvent == "" {
		opts.OpeningEvent = eventtypes.RequestAlive
	}
	if opts.Patterns.Download == "" && opts.Patterns.Upload == "" && opts.Patterns.Hello == "" {
		hosts := opts.Patterns.Hosts
		opts.Patterns = urlclass.DefaultPatterns()
		opts.Patterns.Hosts = hosts
	}
	if opts.IntervalMs <= 0 {
		opts.IntervalMs = throughput.DefaultIntervalMs
	}
	return &Engine{
		opening:    opts.OpeningEvent,
		classifier: urlclass.New(opts.Patterns),
		intervalMs: opts.IntervalMs,
		metrics:    opts.Metrics,
	}
}

// Classify returns the speed-test URLs of a capture.
func (e *Engine) Classify(c *model.Capture) model.URLSet {
	set := e.classifier.Classify(c.Events)
	log.Debug().
		Int("download", len(set.Download)).
		Int("upload", len(set.Upload)).
		Int("idle", len(set.IdleLatency)).
		Int("loaded", len(set.LoadedLatency)).
		Msg("classified request urls")
	return set
}

// DetectDirections returns the directions urls has payload URLs for. A list
// with none yields download alone so the run still reports its latency.
func DetectDirections(urls model.URLList) []model.Direction {
	var dirs []model.Direction
	for _, d := range []model.Direction{model.Download, model.Upload} {
		if len(urls.Payload(d)) > 0 {
			dirs = append(dirs, d)
		}
	}
	if len(dirs) == 0 {
		dirs = []model.Direction{model.Download}
	}
	return dirs
}

// session holds the per-direction builders that share one pass over events.
type session struct {
	series  *series.Builder
	latency *latency.Builder
	sockets *sockets.Index
}

func (s *session) observe(ev model.Event) {
	s.series.Observe(ev)
	s.latency.Observe(ev)
	s.sockets.Observe(ev)
}

// Analyze correlates one direction of a capture against its URL list. An
// unusable symbol table is fatal; gaps in the correlation become warnings
// on the result.
func (e *Engine) Analyze(c *model.Capture, urls model.URLList, dir model.Direction) (*model.Result, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("engine: %w: %q", ErrInvalidDirection, dir)
	}
	table, err := eventtypes.Resolve(c)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	res := &model.Result{
		CapturePath:  c.Path,
		Client:       c.Client,
		Direction:    dir,
		EventCount:   len(c.Events),
		DecodeErrors: len(c.DecodeErrors),
	}
	if n := len(c.DecodeErrors); n > 0 {
		res.Warn(model.WarnEventDecode, fmt.Sprintf("%d events could not be decoded and were skipped", n))
	}

	payload := urls.Payload(dir)
	corr, err := correlator.New(table, e.opening, payload)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	recognized := corr.Recognize(c.Events)

	s := &session{}
	if s.series, err = series.New(table, dir, recognized); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if s.latency, err = latency.New(table, payload, urls.Idle(), urls.Loaded()); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if s.sockets, err = sockets.NewIndex(table); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if missing := s.sockets.Missing(); len(missing) > 0 {
		res.Warn(model.WarnPartialCorrelation,
			fmt.Sprintf("capture has no %s events, socket chains stay empty", strings.Join(missing, " or ")))
	}
	for _, ev := range c.Events {
		s.observe(ev)
	}

	res.Recognized = recognized.IDs()
	res.Streams = s.series.Records()
	res.Latency = s.latency.Data()
	res.JobBindings = s.sockets.ResolveHTTPStreamJobIDs(res.Recognized)
	res.Sockets = s.sockets.ResolveSocketIDs(res.JobBindings)
	res.Throughput = throughput.Report(res.Streams, res.Latency.Test.Streams, res.Sockets, e.intervalMs)

	e.checkCorrelation(res, urls, len(payload))
	e.record(res)

	log.Info().
		Str("direction", string(dir)).
		Int("events", res.EventCount).
		Int("recognized", len(res.Recognized)).
		Int("streams", len(res.Streams)).
		Int("sockets", len(res.Sockets)).
		Int("warnings", len(res.Warnings)).
		Msg("analysis complete")
	return res, nil
}

// checkCorrelation turns incomplete stages into warnings.
func (e *Engine) checkCorrelation(res *model.Result, urls model.URLList, payload int) {
	dir := res.Direction
	switch {
	case payload == 0:
		res.Warn(model.WarnPartialCorrelation, fmt.Sprintf("url list has no %s payload urls", dir))
	case len(res.Recognized) == 0:
		res.Warn(model.WarnPartialCorrelation, fmt.Sprintf("none of the %d %s urls was opened in the capture", payload, dir))
	}
	if n := len(res.Recognized) - len(res.Streams); len(res.Recognized) > 0 && n > 0 {
		res.Warn(model.WarnPartialCorrelation, fmt.Sprintf("%d of %d recognized streams carried no progress samples", n, len(res.Recognized)))
	}
	if len(res.Recognized) > 0 && len(res.Sockets) == 0 {
		res.Warn(model.WarnPartialCorrelation, "no recognized stream resolved to a socket")
	}

	pools := []struct {
		class model.LatencyClass
		urls  int
	}{
		{model.LatencyTest, payload},
		{model.LatencyIdle, len(urls.Idle())},
		{model.LatencyLoaded, len(urls.Loaded())},
	}
	for _, p := range pools {
		pool := res.Latency.Pool(p.class)
		if p.urls > 0 && pool.Stats.Count == 0 {
			res.Warn(model.WarnPartialCorrelation, fmt.Sprintf("no %s latency samples", p.class))
		}
		if n := latency.NegativeRTTs(pool.Streams); n > 0 {
			res.Warn(model.WarnNegativeRTT, fmt.Sprintf("%d %s latency samples had a negative rtt and were excluded", n, p.class))
		}
	}
}

func (e *Engine) record(res *model.Result) {
	if e.metrics == nil {
		return
	}
	m := e.metrics
	m.StreamsTotal.WithLabelValues(string(res.Direction)).Add(float64(len(res.Streams)))
	for _, c := range []model.LatencyClass{model.LatencyTest, model.LatencyIdle, model.LatencyLoaded} {
		m.LatencySamples.WithLabelValues(string(c)).Add(float64(res.Latency.Pool(c).Stats.Count))
	}
	for _, w := range res.Warnings {
		m.WarningsTotal.WithLabelValues(w.Kind).Inc()
	}
	m.SocketsResolved.Add(float64(len(res.Sockets)))
}
