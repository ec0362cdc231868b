// Package throughput turns the per-stream progress series of one direction
// into an aggregate throughput timeline and its summary statistics.
package throughput

import (
	"math"
	"sort"

	"github.com/influxdata/tdigest"

	"github.com/crimson-sun/speedtrace/internal/model"
)

// DefaultIntervalMs is the minimum window a throughput sample covers.
const DefaultIntervalMs = 50

// Point is a byte increment observed at Time (ms).
type Point struct {
	Time  int64
	Bytes int64
}

// Flow is the normalized progress of one stream: sorted, one point per
// timestamp, values as byte increments.
type Flow struct {
	ID     model.SourceID
	Points []Point
}

// Begin returns the first timestamp of the flow.
func (f Flow) Begin() int64 { return f.Points[0].Time }

// End returns the last timestamp of the flow.
func (f Flow) End() int64 { return f.Points[len(f.Points)-1].Time }

// Bytes returns the bytes the flow carried.
func (f Flow) Bytes() int64 {
	var n int64
	for _, p := range f.Points {
		n += p.Bytes
	}
	return n
}

// Normalize converts stream records into flows. Upload cursors become
// increments (a cursor moving backwards contributes nothing). A download
// flow gets a zero point at its response headers when the test-latency pool
// knows them; an upload flow starts at its first cursor sample, whose bytes
// then serve as the baseline. Records without samples are dropped.
func Normalize(records []model.StreamRecord, testLatency []model.LatencyStream) []Flow {
	starts := make(map[model.SourceID]model.LatencyStream, len(testLatency))
	for _, s := range testLatency {
		starts[s.ID] = s
	}

	flows := make([]Flow, 0, len(records))
	for _, r := range records {
		if len(r.Progress) == 0 {
			continue
		}
		progress := append([]model.Progress(nil), r.Progress...)
		sort.SliceStable(progress, func(i, j int) bool { return progress[i].Time < progress[j].Time })

		points := make([]Point, 0, len(progress)+1)
		var cursor int64
		for _, p := range progress {
			v := p.Value
			if r.Type == model.Upload {
				v = 0
				if p.Value > cursor {
					v = p.Value - cursor
					cursor = p.Value
				}
			}
			points = append(points, Point{Time: p.Time, Bytes: v})
		}

		if s, ok := starts[r.ID]; ok && r.Type == model.Download {
			if s.RecvTime != nil && *s.RecvTime <= points[0].Time {
				points = append([]Point{{Time: *s.RecvTime}}, points...)
			}
		}
		flows = append(flows, Flow{ID: r.ID, Points: merge(points)})
	}
	return flows
}

// merge sums points that share a timestamp. points must be sorted.
func merge(points []Point) []Point {
	out := points[:0]
	for _, p := range points {
		if n := len(out); n > 0 && out[n-1].Time == p.Time {
			out[n-1].Bytes += p.Bytes
			continue
		}
		out = append(out, p)
	}
	return out
}

// Aggregate returns every distinct timestamp across flows, ascending.
func Aggregate(flows []Flow) []int64 {
	seen := make(map[int64]struct{})
	var times []int64
	for _, f := range flows {
		for _, p := range f.Points {
			if _, ok := seen[p.Time]; ok {
				continue
			}
			seen[p.Time] = struct{}{}
			times = append(times, p.Time)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times
}

// Bucket is the traffic attributed to the sub-interval ending at a timestamp.
type Bucket struct {
	Bytes float64
	Flows int
}

// SumByteCounts spreads each flow's increments over the aggregated
// sub-intervals. A point's bytes were received between the flow's previous
// point and itself, so a sub-interval (prev, cur] inside that span gets the
// share (cur-prev)/(span length). Each flow active over a sub-interval
// counts once toward its Flows.
func SumByteCounts(flows []Flow, times []int64) map[int64]Bucket {
	buckets := make(map[int64]Bucket, len(times))
	for _, t := range times {
		buckets[t] = Bucket{}
	}
	for _, f := range flows {
		pts := f.Points
		if len(pts) < 2 {
			continue
		}
		j := 1
		for i := 1; i < len(times); i++ {
			prev, cur := times[i-1], times[i]
			if prev < f.Begin() {
				continue
			}
			if cur > f.End() {
				break
			}
			for pts[j].Time < cur {
				j++
			}
			span := pts[j].Time - pts[j-1].Time
			b := buckets[cur]
			b.Bytes += float64(pts[j].Bytes) * float64(cur-prev) / float64(span)
			b.Flows++
			buckets[cur] = b
		}
	}
	return buckets
}

// MaxFlows returns the highest number of flows active together over any
// sub-interval.
func MaxFlows(buckets map[int64]Bucket) int {
	n := 0
	for _, b := range buckets {
		if b.Flows > n {
			n = b.Flows
		}
	}
	return n
}

// IntervalThroughput walks the aggregated timestamps and emits one sample
// per window of at least intervalMs during which exactly numFlows flows were
// active. A sub-interval with another flow count discards the open window.
// Sample times are seconds from the first aggregated timestamp.
func IntervalThroughput(times []int64, buckets map[int64]Bucket, numFlows int, intervalMs int64) []model.ThroughputSample {
	samples, _ := IntervalThroughputDiscarded(times, buckets, numFlows, intervalMs)
	return samples
}

// IntervalThroughputDiscarded is IntervalThroughput that also reports the
// windows it threw away: those cut short by a flow-count change and the one
// still open when the timestamps run out.
func IntervalThroughputDiscarded(times []int64, buckets map[int64]Bucket, numFlows int, intervalMs int64) ([]model.ThroughputSample, model.DiscardedData) {
	samples := []model.ThroughputSample{}
	var discarded model.DiscardedData
	if len(times) < 2 || numFlows == 0 {
		return samples, discarded
	}
	if intervalMs <= 0 {
		intervalMs = DefaultIntervalMs
	}
	begin := times[0]

	var (
		accBytes float64
		accTime  int64
		objects  int
		start    int64
		open     bool
	)
	drop := func() {
		if accBytes > 0 {
			discarded.Intervals++
			discarded.Objects += objects
			discarded.Bytes += accBytes
			discarded.TimeMs += accTime
		}
		accBytes, accTime, objects, open = 0, 0, 0, false
	}
	for i := 1; i < len(times); i++ {
		prev, cur := times[i-1], times[i]
		b, ok := buckets[cur]
		if !ok || b.Flows != numFlows {
			drop()
			continue
		}
		if !open {
			start, open = prev, true
		}
		accBytes += b.Bytes
		accTime += cur - prev
		objects++
		if accTime >= intervalMs {
			samples = append(samples, model.ThroughputSample{
				Time: float64(start-begin) / 1000,
				Mbps: accBytes / float64(accTime) * 1000 * 8 / 1e6,
			})
			accBytes, accTime, objects, open = 0, 0, 0, false
		}
	}
	drop()
	discarded.Bytes = round2(discarded.Bytes)
	return samples, discarded
}

// Validate compares the bytes the flows carried with the bytes attributed to
// the buckets. The difference is the first sample of every flow that had no
// zero point before it.
func Validate(flows []Flow, buckets map[int64]Bucket) model.ByteValidation {
	var v model.ByteValidation
	first, last := int64(math.MaxInt64), int64(math.MinInt64)
	for _, f := range flows {
		v.RawBytes += f.Bytes()
		first = min(first, f.Begin())
		last = max(last, f.End())
	}
	if len(flows) > 0 {
		v.ListDurationSeconds = float64(last-first) / 1000
	}

	var processed float64
	first, last = int64(math.MaxInt64), int64(math.MinInt64)
	for t, b := range buckets {
		processed += b.Bytes
		first = min(first, t)
		last = max(last, t)
	}
	if len(buckets) > 0 {
		v.CountDurationSeconds = float64(last-first) / 1000
	}
	v.ProcessedBytes = int64(math.Round(processed))
	if v.RawBytes > 0 {
		v.PercentByteLoss = round2(float64(v.RawBytes-v.ProcessedBytes) / float64(v.RawBytes) * 100)
	}
	return v
}

// SocketFlows merges the flows that ran on the same socket into one flow per
// socket, keyed by the socket id, in order of first appearance. Flows whose
// chain did not resolve are left out.
func SocketFlows(flows []Flow, chains []model.IdentityChain) []Flow {
	sockets := make(map[model.SourceID]model.SourceID, len(chains))
	for _, c := range chains {
		sockets[c.HTTPSourceID] = c.SocketID
	}
	index := make(map[model.SourceID]int)
	var merged []Flow
	for _, f := range flows {
		socket, ok := sockets[f.ID]
		if !ok {
			continue
		}
		i, seen := index[socket]
		if !seen {
			i = len(merged)
			index[socket] = i
			merged = append(merged, Flow{ID: socket})
		}
		merged[i].Points = append(merged[i].Points, f.Points...)
	}
	for i := range merged {
		pts := merged[i].Points
		sort.SliceStable(pts, func(a, b int) bool { return pts[a].Time < pts[b].Time })
		merged[i].Points = merge(pts)
	}
	return merged
}

// SocketLevel computes the throughput timeline over per-socket flows.
func SocketLevel(flows []Flow, chains []model.IdentityChain, intervalMs int64) model.SocketThroughput {
	sf := SocketFlows(flows, chains)
	times := Aggregate(sf)
	buckets := SumByteCounts(sf, times)
	concurrent := MaxFlows(buckets)
	samples := IntervalThroughput(times, buckets, concurrent, intervalMs)
	return model.SocketThroughput{
		Sockets:           len(sf),
		ConcurrentSockets: concurrent,
		Samples:           samples,
		Stats:             Statistics(samples),
	}
}

// Statistics summarizes the sample series. Percentiles come from a t-digest
// over the samples.
func Statistics(samples []model.ThroughputSample) model.ThroughputStats {
	if len(samples) == 0 {
		return model.ThroughputStats{}
	}
	values := make([]float64, len(samples))
	td := tdigest.NewWithCompression(100)
	var sum float64
	for i, s := range samples {
		values[i] = s.Mbps
		sum += s.Mbps
		td.Add(s.Mbps, 1)
	}
	sort.Float64s(values)

	return model.ThroughputStats{
		Count:  len(values),
		Mean:   round2(sum / float64(len(values))),
		Median: round2(median(values)),
		Min:    round2(values[0]),
		Max:    round2(values[len(values)-1]),
		P10:    round2(td.Quantile(0.1)),
		P90:    round2(td.Quantile(0.9)),
	}
}

// Spans returns the active window and byte total of each flow, with the
// socket it ran on when the chain resolved.
func Spans(flows []Flow, chains []model.IdentityChain) []model.StreamSpan {
	sockets := make(map[model.SourceID]model.SourceID, len(chains))
	for _, c := range chains {
		sockets[c.HTTPSourceID] = c.SocketID
	}
	spans := make([]model.StreamSpan, 0, len(flows))
	for _, f := range flows {
		span := model.StreamSpan{ID: f.ID, Begin: f.Begin(), End: f.End(), TotalBytes: f.Bytes()}
		if s, ok := sockets[f.ID]; ok {
			span.SocketID = &s
		}
		spans = append(spans, span)
	}
	return spans
}

// Report runs the whole post-processing chain for one direction.
func Report(records []model.StreamRecord, testLatency []model.LatencyStream, chains []model.IdentityChain, intervalMs int64) model.ThroughputReport {
	if intervalMs <= 0 {
		intervalMs = DefaultIntervalMs
	}
	flows := Normalize(records, testLatency)
	times := Aggregate(flows)
	buckets := SumByteCounts(flows, times)
	concurrent := MaxFlows(buckets)
	samples, discarded := IntervalThroughputDiscarded(times, buckets, concurrent, intervalMs)

	sockets := make(map[model.SourceID]struct{}, len(chains))
	for _, c := range chains {
		sockets[c.SocketID] = struct{}{}
	}

	report := model.ThroughputReport{
		Flows:           len(flows),
		ConcurrentFlows: concurrent,
		Sockets:         len(sockets),
		IntervalMs:      intervalMs,
		Samples:         samples,
		Stats:           Statistics(samples),
		Validation:      Validate(flows, buckets),
		Discarded:       discarded,
		SocketLevel:     SocketLevel(flows, chains, intervalMs),
		Spans:           Spans(flows, chains),
	}
	for _, f := range flows {
		report.TotalBytes += f.Bytes()
	}
	if len(times) > 1 {
		report.DurationSeconds = float64(times[len(times)-1]-times[0]) / 1000
	}
	return report
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
