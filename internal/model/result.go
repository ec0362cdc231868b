package model

// Warning kinds recorded for non-fatal conditions.
const (
	WarnPartialCorrelation = "partial_correlation"
	WarnEventDecode        = "event_decode"
	WarnNegativeRTT        = "negative_rtt"
)

// Warning is a non-fatal condition observed during a run.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ThroughputSample is one interval throughput point.
type ThroughputSample struct {
	Time float64 `json:"time"` // seconds since the first aggregated timestamp
	Mbps float64 `json:"throughput"`
}

// ThroughputStats summarizes a throughput series in Mbps.
type ThroughputStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P10    float64 `json:"p10"`
	P90    float64 `json:"p90"`
}

// StreamSpan is the active window of one stream.
type StreamSpan struct {
	ID         SourceID  `json:"id"`
	Begin      int64     `json:"begin"`
	End        int64     `json:"end"`
	SocketID   *SourceID `json:"socket,omitempty"`
	TotalBytes int64     `json:"total_bytes"`
}

// ByteValidation compares the bytes the streams reported with the bytes the
// proportional split attributed to sub-intervals.
type ByteValidation struct {
	RawBytes             int64   `json:"total_raw_bytes"`
	ProcessedBytes       int64   `json:"total_processed_bytes"`
	ListDurationSeconds  float64 `json:"list_duration_sec"`
	CountDurationSeconds float64 `json:"count_duration_sec"`
	PercentByteLoss      float64 `json:"percent_byte_loss"`
}

// DiscardedData is what the interval walk accumulated and then threw away,
// either because the flow count dropped or the capture ended first.
type DiscardedData struct {
	Intervals int     `json:"discarded_intervals"`
	Objects   int     `json:"discarded_objects"`
	Bytes     float64 `json:"discarded_bytes"`
	TimeMs    int64   `json:"discarded_time_ms"`
}

// SocketThroughput is the throughput timeline with streams merged per socket.
type SocketThroughput struct {
	Sockets           int                `json:"sockets"`
	ConcurrentSockets int                `json:"concurrent_sockets"`
	Samples           []ThroughputSample `json:"samples"`
	Stats             ThroughputStats    `json:"stats"`
}

// ThroughputReport is the post-processed view of a direction's streams.
type ThroughputReport struct {
	Flows           int                `json:"flows"`
	ConcurrentFlows int                `json:"concurrent_flows"`
	Sockets         int                `json:"sockets"`
	TotalBytes      int64              `json:"total_bytes"`
	DurationSeconds float64            `json:"duration_seconds"`
	IntervalMs      int64              `json:"interval_ms"`
	Samples         []ThroughputSample `json:"samples"`
	Stats           ThroughputStats    `json:"stats"`
	Validation      ByteValidation     `json:"validation"`
	Discarded       DiscardedData      `json:"discarded"`
	SocketLevel     SocketThroughput   `json:"socket_level"`
	Spans           []StreamSpan       `json:"spans"`
}

// Result is everything one analysis run produced for one direction.
type Result struct {
	RunID        string
	CapturePath  string
	Client       ClientInfo
	Direction    Direction
	EventCount   int
	DecodeErrors int
	Recognized   []SourceID
	Streams      []StreamRecord
	Latency      LatencyData
	JobBindings  []JobBinding
	Sockets      []IdentityChain
	Throughput   ThroughputReport
	Warnings     []Warning
}

// Summary is the on-disk shape of test_summary.json.
type Summary struct {
	RunID            string          `json:"run_id"`
	Capture          string          `json:"capture"`
	Client           ClientInfo      `json:"client"`
	Direction        Direction       `json:"direction"`
	Events           int             `json:"events"`
	DecodeErrors     int             `json:"decode_errors"`
	Streams          int             `json:"streams"`
	Sockets          int             `json:"sockets"`
	TotalBytes       int64           `json:"total_bytes"`
	DurationSeconds  float64         `json:"duration_seconds"`
	ConcurrentFlows  int             `json:"concurrent_flows"`
	Throughput       ThroughputStats `json:"throughput_mbps"`
	SocketThroughput ThroughputStats `json:"socket_throughput_mbps"`
	Validation       ByteValidation  `json:"byte_validation"`
	Discarded        DiscardedData   `json:"discarded"`
	TestLatency      LatencyStats    `json:"test_latency_ms"`
	IdleLatency      LatencyStats    `json:"unloaded_latency_ms"`
	LoadedLatency    LatencyStats    `json:"loaded_latency_ms"`
	Warnings         []Warning       `json:"warnings"`
}

// Summary condenses the result into its summary record.
func (r *Result) Summary() Summary {
	warnings := r.Warnings
	if warnings == nil {
		warnings = []Warning{}
	}
	return Summary{
		RunID:            r.RunID,
		Capture:          r.CapturePath,
		Client:           r.Client,
		Direction:        r.Direction,
		Events:           r.EventCount,
		DecodeErrors:     r.DecodeErrors,
		Streams:          len(r.Streams),
		Sockets:          r.Throughput.Sockets,
		TotalBytes:       r.Throughput.TotalBytes,
		DurationSeconds:  r.Throughput.DurationSeconds,
		ConcurrentFlows:  r.Throughput.ConcurrentFlows,
		Throughput:       r.Throughput.Stats,
		SocketThroughput: r.Throughput.SocketLevel.Stats,
		Validation:       r.Throughput.Validation,
		Discarded:        r.Throughput.Discarded,
		TestLatency:      r.Latency.Test.Stats,
		IdleLatency:      r.Latency.Unloaded.Stats,
		LoadedLatency:    r.Latency.Loaded.Stats,
		Warnings:         warnings,
	}
}

// Warn appends a warning to the result.
func (r *Result) Warn(kind, msg string) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Message: msg})
}
