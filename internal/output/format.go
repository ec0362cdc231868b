package output

import (
	"encoding/json"
	"strings"

	"github.com/crimson-sun/speedtrace/internal/model"
)

// Output file names.
const (
	SummaryFile         = "test_summary.json"
	ByteTimeFile        = "byte_time_list.json"
	CurrentPositionFile = "current_position_list.json"
	LatencyFile         = "latency_data.json"
	JobIDsFile          = "httpStreamJobIds.json"
	SocketIDsFile       = "socketIds.json"
	ThroughputFile      = "throughput.json"
	SpansFile           = "stream_spans.json"
)

// Verbosity controls how many documents a result expands into.
type Verbosity int

const (
	Minimal  Verbosity = iota // summary only
	Standard                  // summary and the per-direction series files
	Full                      // everything, including the throughput timeline
)

// ParseVerbosity converts "minimal", "standard" or "full" to a Verbosity.
// Unknown strings default to Standard.
func ParseVerbosity(s string) Verbosity {
	switch strings.ToLower(s) {
	case "minimal":
		return Minimal
	case "full":
		return Full
	default:
		return Standard
	}
}

func (v Verbosity) String() string {
	switch v {
	case Minimal:
		return "minimal"
	case Full:
		return "full"
	default:
		return "standard"
	}
}

// Document is one named JSON file of a result.
type Document struct {
	Name  string
	Value any
}

// Documents expands a result into the files written for its verbosity.
// The summary always comes first. Empty collections encode as [].
func Documents(res *model.Result, verbosity Verbosity) []Document {
	docs := []Document{{Name: SummaryFile, Value: res.Summary()}}
	if verbosity == Minimal {
		return docs
	}

	byteTimes := []model.ByteTimeEntry{}
	positions := []model.PositionEntry{}
	for _, r := range res.Streams {
		if r.Type == model.Upload {
			positions = append(positions, r.PositionEntry())
		} else {
			byteTimes = append(byteTimes, r.ByteTimeEntry())
		}
	}
	docs = append(docs, Document{Name: ByteTimeFile, Value: byteTimes})
	if res.Direction == model.Upload {
		docs = append(docs, Document{Name: CurrentPositionFile, Value: positions})
	}
	docs = append(docs,
		Document{Name: LatencyFile, Value: latencyData(res.Latency)},
		Document{Name: JobIDsFile, Value: nonNil(res.JobBindings)},
		Document{Name: SocketIDsFile, Value: nonNil(res.Sockets)},
	)
	if verbosity < Full {
		return docs
	}

	tp := res.Throughput
	tp.Samples = nonNil(tp.Samples)
	tp.Spans = nonNil(tp.Spans)
	tp.SocketLevel.Samples = nonNil(tp.SocketLevel.Samples)
	return append(docs,
		Document{Name: ThroughputFile, Value: tp},
		Document{Name: SpansFile, Value: tp.Spans},
	)
}

// Marshal encodes v as JSON, indented when pretty.
func Marshal(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

func latencyData(d model.LatencyData) model.LatencyData {
	d.Test.Streams = nonNil(d.Test.Streams)
	d.Unloaded.Streams = nonNil(d.Unloaded.Streams)
	d.Loaded.Streams = nonNil(d.Loaded.Streams)
	return d
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
