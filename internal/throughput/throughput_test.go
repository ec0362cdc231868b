package throughput

import (
	"math"
	"reflect"
	"testing"

	"github.com/crimson-sun/speedtrace/internal/model"
)

func ptr(v int64) *int64 { return &v }

func flows() []Flow {
	return []Flow{
		{ID: 1, Points: []Point{{0, 0}, {10, 1000}, {20, 1000}}},
		{ID: 2, Points: []Point{{0, 0}, {20, 2000}}},
	}
}

func TestNormalizeDownloadPrependsStart(t *testing.T) {
	records := []model.StreamRecord{{
		ID:       7,
		Type:     model.Download,
		Progress: []model.Progress{{Value: 300, Time: 130}, {Value: 100, Time: 110}, {Value: 50, Time: 110}},
	}}
	latency := []model.LatencyStream{{ID: 7, SendTime: ptr(90), RecvTime: ptr(100)}}

	got := Normalize(records, latency)
	want := []Flow{{ID: 7, Points: []Point{{100, 0}, {110, 150}, {130, 300}}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("flows = %+v, want %+v", got, want)
	}
	// The input is not reordered.
	if records[0].Progress[0].Time != 130 {
		t.Fatal("Normalize reordered the record")
	}
}

func TestNormalizeUploadIncrements(t *testing.T) {
	records := []model.StreamRecord{{
		ID:   3,
		Type: model.Upload,
		Progress: []model.Progress{
			{Value: 100, Time: 1}, {Value: 300, Time: 2}, {Value: 250, Time: 3}, {Value: 400, Time: 4},
		},
	}}
	latency := []model.LatencyStream{{ID: 3, SendTime: ptr(0), RecvTime: ptr(9)}}

	got := Normalize(records, latency)
	want := []Flow{{ID: 3, Points: []Point{{1, 100}, {2, 200}, {3, 0}, {4, 100}}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("flows = %+v, want %+v", got, want)
	}
	if got[0].Bytes() != 400 {
		t.Fatalf("bytes = %d, want the final cursor 400", got[0].Bytes())
	}
}

func TestNormalizeUploadStartsAtFirstCursor(t *testing.T) {
	records := []model.StreamRecord{{
		ID:       9,
		Type:     model.Upload,
		Progress: []model.Progress{{Value: 65536, Time: 1000}, {Value: 131072, Time: 1100}},
	}}
	latency := []model.LatencyStream{{ID: 9, SendTime: ptr(900), RecvTime: ptr(1200)}}

	flows := Normalize(records, latency)
	want := []Flow{{ID: 9, Points: []Point{{1000, 65536}, {1100, 65536}}}}
	if !reflect.DeepEqual(flows, want) {
		t.Fatalf("flows = %+v, want %+v", flows, want)
	}
	times := Aggregate(flows)
	buckets := SumByteCounts(flows, times)
	if buckets[1100].Bytes != 65536 {
		t.Fatalf("bucket 1100 = %+v, want only the second chunk", buckets[1100])
	}
}

func TestNormalizeSkipsLateStartAndEmpty(t *testing.T) {
	records := []model.StreamRecord{
		{ID: 1, Type: model.Download, Progress: []model.Progress{{Value: 10, Time: 50}}},
		{ID: 2, Type: model.Download},
	}
	latency := []model.LatencyStream{{ID: 1, RecvTime: ptr(60)}}
	got := Normalize(records, latency)
	if len(got) != 1 || len(got[0].Points) != 1 {
		t.Fatalf("flows = %+v", got)
	}
}

func TestAggregate(t *testing.T) {
	got := Aggregate(flows())
	if want := []int64{0, 10, 20}; !reflect.DeepEqual(got, want) {
		t.Fatalf("times = %v, want %v", got, want)
	}
}

func TestSumByteCounts(t *testing.T) {
	fs := flows()
	got := SumByteCounts(fs, Aggregate(fs))
	want := map[int64]Bucket{
		0:  {},
		10: {Bytes: 2000, Flows: 2},
		20: {Bytes: 2000, Flows: 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("buckets = %+v, want %+v", got, want)
	}
}

func TestSumByteCountsPartialOverlap(t *testing.T) {
	fs := []Flow{
		{ID: 1, Points: []Point{{0, 0}, {30, 3000}}},
		{ID: 2, Points: []Point{{10, 0}, {20, 500}}},
	}
	got := SumByteCounts(fs, Aggregate(fs))
	if got[10].Flows != 1 || got[20].Flows != 2 || got[30].Flows != 1 {
		t.Fatalf("flows per bucket = %d %d %d", got[10].Flows, got[20].Flows, got[30].Flows)
	}
	if got[20].Bytes != 1500 {
		t.Fatalf("bytes at 20 = %v, want 1500", got[20].Bytes)
	}
	var total float64
	for _, b := range got {
		total += b.Bytes
	}
	if total != 3500 {
		t.Fatalf("total = %v, want every byte attributed once (3500)", total)
	}
}

func TestIntervalThroughput(t *testing.T) {
	fs := flows()
	times := Aggregate(fs)
	buckets := SumByteCounts(fs, times)

	got := IntervalThroughput(times, buckets, 2, 20)
	if want := []model.ThroughputSample{{Time: 0, Mbps: 1.6}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("samples = %+v, want %+v", got, want)
	}

	got = IntervalThroughput(times, buckets, 2, 10)
	if want := []model.ThroughputSample{{Time: 0, Mbps: 1.6}, {Time: 0.01, Mbps: 1.6}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("samples = %+v, want %+v", got, want)
	}
}

func TestIntervalThroughputResetsOnMissingFlow(t *testing.T) {
	times := []int64{0, 10, 20, 30, 40}
	buckets := map[int64]Bucket{
		10: {Bytes: 1000, Flows: 2},
		20: {Bytes: 1000, Flows: 1},
		30: {Bytes: 1000, Flows: 2},
		40: {Bytes: 1000, Flows: 2},
	}
	got := IntervalThroughput(times, buckets, 2, 20)
	// The window opened at 0 is discarded at 20; the next opens at 20.
	if len(got) != 1 || got[0].Time != 0.02 {
		t.Fatalf("samples = %+v", got)
	}
	if got[0].Mbps != 0.8 {
		t.Fatalf("mbps = %v, want 0.8", got[0].Mbps)
	}
}

func TestIntervalThroughputTracksDiscarded(t *testing.T) {
	times := []int64{0, 10, 20, 30}
	buckets := map[int64]Bucket{
		10: {Bytes: 1000, Flows: 2},
		20: {Bytes: 1000, Flows: 1},
		30: {Bytes: 1000, Flows: 2},
	}
	samples, discarded := IntervalThroughputDiscarded(times, buckets, 2, 20)
	if len(samples) != 0 {
		t.Fatalf("samples = %+v", samples)
	}
	want := model.DiscardedData{Intervals: 2, Objects: 2, Bytes: 2000, TimeMs: 20}
	if discarded != want {
		t.Fatalf("discarded = %+v, want %+v", discarded, want)
	}
}

func TestMaxFlows(t *testing.T) {
	buckets := map[int64]Bucket{1: {Flows: 1}, 2: {Flows: 3}, 3: {Flows: 2}}
	if got := MaxFlows(buckets); got != 3 {
		t.Fatalf("MaxFlows = %d, want 3", got)
	}
	if got := MaxFlows(nil); got != 0 {
		t.Fatalf("MaxFlows(nil) = %d", got)
	}
}

func TestIntervalThroughputEmpty(t *testing.T) {
	if got := IntervalThroughput(nil, nil, 0, 50); got == nil || len(got) != 0 {
		t.Fatalf("samples = %#v, want empty non-nil", got)
	}
}

func TestStatistics(t *testing.T) {
	var samples []model.ThroughputSample
	for _, v := range []float64{5, 1, 4, 2, 3} {
		samples = append(samples, model.ThroughputSample{Mbps: v})
	}
	got := Statistics(samples)
	if got.Count != 5 || got.Mean != 3 || got.Median != 3 || got.Min != 1 || got.Max != 5 {
		t.Fatalf("stats = %+v", got)
	}
	if got.P10 < got.Min || got.P10 > got.Median || got.P90 < got.Median || got.P90 > got.Max {
		t.Fatalf("percentiles out of order: %+v", got)
	}
	if (Statistics(nil) != model.ThroughputStats{}) {
		t.Fatal("empty series should give zero stats")
	}
}

func TestReport(t *testing.T) {
	records := []model.StreamRecord{
		{ID: 20, Type: model.Download, Progress: []model.Progress{{Value: 65536, Time: 1160}, {Value: 131072, Time: 1210}, {Value: 196608, Time: 1260}}},
		{ID: 24, Type: model.Download, Progress: []model.Progress{{Value: 32768, Time: 1170}, {Value: 98304, Time: 1220}, {Value: 229376, Time: 1270}}},
	}
	latency := []model.LatencyStream{
		{ID: 20, SendTime: ptr(1100), RecvTime: ptr(1140)},
		{ID: 24, SendTime: ptr(1110), RecvTime: ptr(1145)},
	}
	chains := []model.IdentityChain{{HTTPSourceID: 20, JobID: 40, SocketID: 60}, {HTTPSourceID: 24, JobID: 41, SocketID: 61}}

	r := Report(records, latency, chains, 0)
	if r.Flows != 2 || r.Sockets != 2 {
		t.Errorf("flows = %d, sockets = %d", r.Flows, r.Sockets)
	}
	if r.TotalBytes != 753664 {
		t.Errorf("total bytes = %d", r.TotalBytes)
	}
	if math.Abs(r.DurationSeconds-0.13) > 1e-9 {
		t.Errorf("duration = %v", r.DurationSeconds)
	}
	if r.IntervalMs != DefaultIntervalMs {
		t.Errorf("interval = %d", r.IntervalMs)
	}
	if len(r.Spans) != 2 || r.Spans[0].SocketID == nil || *r.Spans[0].SocketID != 60 {
		t.Errorf("spans = %+v", r.Spans)
	}
	if r.Spans[0].Begin != 1140 || r.Spans[0].End != 1260 {
		t.Errorf("span 20 = %d..%d", r.Spans[0].Begin, r.Spans[0].End)
	}
	if len(r.Samples) == 0 || r.Stats.Count != len(r.Samples) {
		t.Errorf("samples = %d, stats count = %d", len(r.Samples), r.Stats.Count)
	}
}

// sequentialRecords has streams 1 and 2 overlapping over 0-300 ms and
// stream 3 running alone over 400-700 ms.
func sequentialRecords() []model.StreamRecord {
	return []model.StreamRecord{
		{ID: 1, Type: model.Download, Progress: []model.Progress{{Value: 0, Time: 0}, {Value: 1000, Time: 100}, {Value: 1000, Time: 200}, {Value: 1000, Time: 300}}},
		{ID: 2, Type: model.Download, Progress: []model.Progress{{Value: 0, Time: 0}, {Value: 1500, Time: 150}, {Value: 1500, Time: 300}}},
		{ID: 3, Type: model.Download, Progress: []model.Progress{{Value: 0, Time: 400}, {Value: 1500, Time: 550}, {Value: 1500, Time: 700}}},
	}
}

func TestReportStreamsThatNeverAllOverlap(t *testing.T) {
	r := Report(sequentialRecords(), nil, nil, 50)
	if r.Flows != 3 || r.ConcurrentFlows != 2 {
		t.Fatalf("flows = %d, concurrent = %d", r.Flows, r.ConcurrentFlows)
	}
	if len(r.Samples) != 4 {
		t.Fatalf("samples = %+v, want 4 over the overlapping window", r.Samples)
	}
	for _, s := range r.Samples {
		if s.Time >= 0.3 || math.Abs(s.Mbps-0.16) > 1e-9 {
			t.Errorf("sample = %+v", s)
		}
	}
	if r.Stats.Count != 4 || r.Stats.Mean != 0.16 {
		t.Errorf("stats = %+v", r.Stats)
	}
}

func TestValidate(t *testing.T) {
	flows := Normalize(sequentialRecords(), nil)
	times := Aggregate(flows)
	v := Validate(flows, SumByteCounts(flows, times))
	want := model.ByteValidation{
		RawBytes:             9000,
		ProcessedBytes:       9000,
		ListDurationSeconds:  0.7,
		CountDurationSeconds: 0.7,
	}
	if v != want {
		t.Fatalf("validation = %+v, want %+v", v, want)
	}

	// Without a zero point the first sample is only a baseline.
	flows = []Flow{{ID: 1, Points: []Point{{0, 500}, {100, 1500}}}}
	v = Validate(flows, SumByteCounts(flows, Aggregate(flows)))
	if v.RawBytes != 2000 || v.ProcessedBytes != 1500 || v.PercentByteLoss != 25 {
		t.Fatalf("validation = %+v", v)
	}
}

func TestSocketFlowsMergesSharedSocket(t *testing.T) {
	flows := []Flow{
		{ID: 20, Points: []Point{{0, 0}, {100, 1000}}},
		{ID: 24, Points: []Point{{50, 0}, {100, 500}, {150, 500}}},
		{ID: 28, Points: []Point{{0, 0}, {100, 9}}},
	}
	chains := []model.IdentityChain{{HTTPSourceID: 20, JobID: 40, SocketID: 60}, {HTTPSourceID: 24, JobID: 41, SocketID: 60}}
	got := SocketFlows(flows, chains)
	want := []Flow{{ID: 60, Points: []Point{{0, 0}, {50, 0}, {100, 1500}, {150, 500}}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("socket flows = %+v, want %+v", got, want)
	}
	if flows[0].Points[1].Bytes != 1000 {
		t.Fatal("SocketFlows modified its input")
	}
}

func TestSocketLevel(t *testing.T) {
	flows := Normalize(sequentialRecords(), nil)
	chains := []model.IdentityChain{{HTTPSourceID: 1, JobID: 11, SocketID: 60}, {HTTPSourceID: 2, JobID: 12, SocketID: 61}, {HTTPSourceID: 3, JobID: 13, SocketID: 60}}
	got := SocketLevel(flows, chains, 50)
	if got.Sockets != 2 || got.ConcurrentSockets != 2 {
		t.Fatalf("socket level = %+v", got)
	}
	if len(got.Samples) == 0 || got.Stats.Count != len(got.Samples) {
		t.Fatalf("samples = %+v, stats = %+v", got.Samples, got.Stats)
	}

	empty := SocketLevel(flows, nil, 50)
	if empty.Sockets != 0 || empty.Samples == nil || len(empty.Samples) != 0 {
		t.Fatalf("no chains = %#v", empty)
	}
}
