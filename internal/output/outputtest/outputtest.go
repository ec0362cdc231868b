// Package outputtest provides result fixtures shared by the output sink tests.
package outputtest

import "github.com/crimson-sun/speedtrace/internal/model"

func ms(v int64) *int64 { return &v }

// Result returns a small, fully populated result for one direction.
func Result(dir model.Direction) *model.Result {
	socket := model.SourceID(60)
	res := &model.Result{
		RunID:       "0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b",
		CapturePath: "netlog.json",
		Client:      model.ClientInfo{Name: "Chromium", Version: "126.0", OS: "Linux"},
		Direction:   dir,
		EventCount:  25,
		Recognized:  []model.SourceID{20},
		Streams: []model.StreamRecord{{
			ID:       20,
			Type:     dir,
			Progress: []model.Progress{{Value: 65536, Time: 1160}, {Value: 131072, Time: 1210}},
		}},
		Latency: model.LatencyData{
			Test: model.LatencyPool{
				Streams: []model.LatencyStream{{ID: 20, SendTime: ms(1100), RecvTime: ms(1140), RTT: ms(40)}},
				Stats:   model.LatencyStats{Count: 1, Mean: 40, Median: 40},
			},
			Unloaded: model.LatencyPool{
				Streams: []model.LatencyStream{{ID: 10, SendTime: ms(1000), RecvTime: ms(1012), RTT: ms(12)}},
				Stats:   model.LatencyStats{Count: 1, Mean: 12, Median: 12},
			},
		},
		JobBindings: []model.JobBinding{{HTTPSourceID: 20, JobID: 40}},
		Sockets:     []model.IdentityChain{{HTTPSourceID: 20, JobID: 40, SocketID: 60}},
		Throughput: model.ThroughputReport{
			Flows:           1,
			Sockets:         1,
			TotalBytes:      196608,
			DurationSeconds: 0.07,
			IntervalMs:      50,
			Samples:         []model.ThroughputSample{{Time: 0, Mbps: 15.73}},
			Stats:           model.ThroughputStats{Count: 1, Mean: 15.73, Median: 15.73, Min: 15.73, Max: 15.73, P10: 15.73, P90: 15.73},
			Spans:           []model.StreamSpan{{ID: 20, Begin: 1140, End: 1210, SocketID: &socket, TotalBytes: 196608}},
		},
	}
	res.Warn(model.WarnPartialCorrelation, "no loaded latency samples")
	return res
}
