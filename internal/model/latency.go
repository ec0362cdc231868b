package model

// LatencyClass selects one of the three independent latency pools.
type LatencyClass string

const (
	LatencyTest   LatencyClass = "test"
	LatencyIdle   LatencyClass = "idle"
	LatencyLoaded LatencyClass = "loaded"
)

// LatencyStream pairs the request-sent and response-received times of one
// source. RTT is set only when both are known.
type LatencyStream struct {
	ID       SourceID `json:"id"`
	SendTime *int64   `json:"send_time"`
	RecvTime *int64   `json:"recv_time"`
	RTT      *int64   `json:"rtt"`
}

// LatencyStats summarizes the non-negative RTTs of one pool, in milliseconds.
type LatencyStats struct {
	Count  int     `json:"count_rtt"`
	Mean   float64 `json:"mean_rtt"`
	Median float64 `json:"median_rtt"`
}

// LatencyPool is one class of latency_data.json.
type LatencyPool struct {
	Streams []LatencyStream `json:"streams"`
	Stats   LatencyStats    `json:"latency_ms"`
}

// LatencyData is the on-disk shape of latency_data.json.
type LatencyData struct {
	Test     LatencyPool `json:"test_latency"`
	Unloaded LatencyPool `json:"unloaded_latency"`
	Loaded   LatencyPool `json:"loaded_latency"`
}

// Pool returns the pool for a class.
func (d *LatencyData) Pool(c LatencyClass) *LatencyPool {
	switch c {
	case LatencyIdle:
		return &d.Unloaded
	case LatencyLoaded:
		return &d.Loaded
	default:
		return &d.Test
	}
}
