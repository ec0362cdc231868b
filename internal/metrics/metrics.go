package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "speedtrace"

// Metrics holds the counters of one analysis run on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	EventsTotal     prometheus.Counter
	DecodeErrors    prometheus.Counter
	RepairsTotal    prometheus.Counter
	StreamsTotal    *prometheus.CounterVec
	LatencySamples  *prometheus.CounterVec
	WarningsTotal   *prometheus.CounterVec
	SocketsResolved prometheus.Counter
	RunSeconds      prometheus.Gauge
}

// New creates a Metrics set registered on a fresh registry.
func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Netlog events decoded",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_decode_errors_total",
			Help:      "Netlog events skipped because they could not be decoded",
		}),
		RepairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_repairs_total",
			Help:      "Truncated captures repaired before analysis",
		}),
		StreamsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "HTTP streams recognized per direction",
		}, []string{"direction"}),
		LatencySamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latency_samples_total",
			Help:      "Valid RTT samples per latency class",
		}, []string{"class"}),
		WarningsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Non-fatal conditions by kind",
		}, []string{"kind"}),
		SocketsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_chains_total",
			Help:      "HTTP stream to socket chains resolved",
		}),
		RunSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last analysis run",
		}),
	}
	r.MustRegister(m.EventsTotal, m.DecodeErrors, m.RepairsTotal, m.StreamsTotal,
		m.LatencySamples, m.WarningsTotal, m.SocketsResolved, m.RunSeconds)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes the current values in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
