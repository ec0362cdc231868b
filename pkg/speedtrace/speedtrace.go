package speedtrace

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/crimson-sun/speedtrace/internal/engine"
	"github.com/crimson-sun/speedtrace/internal/engine/eventtypes"
	"github.com/crimson-sun/speedtrace/internal/model"
	"github.com/crimson-sun/speedtrace/internal/netlog"
)

// Public names for the engine's data types.
type (
	Capture          = model.Capture
	Direction        = model.Direction
	URLs             = model.URLList
	Summary          = model.Summary
	Warning          = model.Warning
	ThroughputSample = model.ThroughputSample
	IdentityChain    = model.IdentityChain
	LatencyData      = model.LatencyData
)

// Payload directions.
const (
	Download = model.Download
	Upload   = model.Upload
)

// Errors callers can match with errors.Is.
var (
	ErrMissingFile      = netlog.ErrMissingFile
	ErrMalformedCapture = netlog.ErrMalformedCapture
	ErrMissingSchema    = eventtypes.ErrMissingSchema
)

// Report is the outcome of analyzing one direction of a capture.
type Report struct {
	Summary Summary
	Latency LatencyData
	Samples []ThroughputSample
	Sockets []IdentityChain
}

// Analyzer correlates captures.
type Analyzer struct {
	engine *engine.Engine
}

// New creates an Analyzer.
func New(opts ...Option) *Analyzer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Analyzer{engine: engine.New(engine.Options{
		OpeningEvent: o.openingEvent,
		Patterns:     o.patterns,
		IntervalMs:   o.intervalMs,
	})}
}

// Load reads a capture file, repairing a truncated one in place.
func (a *Analyzer) Load(path string) (*Capture, error) {
	c, err := netlog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("speedtrace: %w", err)
	}
	return c, nil
}

// Decode parses a complete capture document held in memory.
func (a *Analyzer) Decode(data []byte) (*Capture, error) {
	c, err := netlog.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("speedtrace: %w", err)
	}
	return c, nil
}

// Classify returns the speed-test URLs found in a capture.
func (a *Analyzer) Classify(c *Capture) URLs {
	return a.engine.Classify(c).ToList()
}

// Directions returns the directions urls has payload URLs for.
func (a *Analyzer) Directions(urls URLs) []Direction {
	return engine.DetectDirections(urls)
}

// Analyze correlates one direction of a capture against a URL list. Each
// call gets a fresh run id.
func (a *Analyzer) Analyze(c *Capture, urls URLs, dir Direction) (*Report, error) {
	res, err := a.engine.Analyze(c, urls, dir)
	if err != nil {
		return nil, fmt.Errorf("speedtrace: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("speedtrace: run id: %w", err)
	}
	res.RunID = id.String()
	return &Report{
		Summary: res.Summary(),
		Latency: res.Latency,
		Samples: res.Throughput.Samples,
		Sockets: res.Sockets,
	}, nil
}

// AnalyzeFile loads a capture, classifies it and analyzes every direction
// it carries payload for, each against its own URL list.
func (a *Analyzer) AnalyzeFile(path string) ([]*Report, error) {
	c, err := a.Load(path)
	if err != nil {
		return nil, err
	}
	set := a.engine.Classify(c)
	var reports []*Report
	for _, d := range a.Directions(set.ToList()) {
		r, err := a.Analyze(c, set.ListFor(d), d)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}
