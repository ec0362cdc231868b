// Package latency pairs request-header and response-header events into
// round-trip samples for each class of latency probe.
package latency

import (
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/crimson-sun/speedtrace/internal/engine/eventtypes"
	"github.com/crimson-sun/speedtrace/internal/model"
)

// Matcher decides whether a request-header event belongs to a URL list.
// It keys both the full URLs and their request targets (path and query) so
// each event costs one or two map lookups.
type Matcher struct {
	urls    map[string]struct{}
	targets map[string]struct{}
}

// NewMatcher indexes urls.
func NewMatcher(urls []string) Matcher {
	m := Matcher{
		urls:    make(map[string]struct{}, len(urls)),
		targets: make(map[string]struct{}, len(urls)),
	}
	for _, raw := range urls {
		m.urls[raw] = struct{}{}
		if u, err := url.Parse(raw); err == nil && u.Path != "" {
			m.targets[u.RequestURI()] = struct{}{}
		}
	}
	return m
}

// Empty reports whether the matcher has no URLs.
func (m Matcher) Empty() bool { return len(m.urls) == 0 }

// Match reports whether p names one of the URLs, either through params.url
// or through the request target of its request line or :path header.
func (m Matcher) Match(p model.Params) bool {
	if p.URL != "" {
		if _, ok := m.urls[p.URL]; ok {
			return true
		}
	}
	target := requestTarget(p.RequestTarget())
	if target == "" {
		return false
	}
	if _, ok := m.targets[target]; ok {
		return true
	}
	_, ok := m.urls[target]
	return ok
}

// requestTarget extracts the target from "METHOD target HTTP/x" or returns
// a bare :path value as is.
func requestTarget(line string) string {
	fields := strings.Fields(line)
	switch len(fields) {
	case 0:
		return ""
	case 1:
		return fields[0]
	default:
		return fields[1]
	}
}

// Pool holds the streams of one latency class.
type Pool struct {
	class   model.LatencyClass
	matcher Matcher
	streams map[model.SourceID]*model.LatencyStream
	order   []model.SourceID
}

// NewPool returns an empty pool matching urls.
func NewPool(class model.LatencyClass, urls []string) *Pool {
	return &Pool{
		class:   class,
		matcher: NewMatcher(urls),
		streams: make(map[model.SourceID]*model.LatencyStream),
	}
}

// Send records a request-header send when p matches the pool. A later send on
// the same source overwrites the earlier one.
func (p *Pool) Send(ev model.Event) bool {
	if !p.matcher.Match(ev.Params) {
		return false
	}
	s, ok := p.streams[ev.Source.ID]
	if !ok {
		s = &model.LatencyStream{ID: ev.Source.ID}
		p.streams[ev.Source.ID] = s
		p.order = append(p.order, ev.Source.ID)
	}
	t := ev.Time
	s.SendTime = &t
	pair(s)
	return true
}

// Recv records a response-header receive on a source that already sent.
func (p *Pool) Recv(ev model.Event) bool {
	s, ok := p.streams[ev.Source.ID]
	if !ok {
		return false
	}
	t := ev.Time
	s.RecvTime = &t
	pair(s)
	return true
}

// pair recomputes the RTT once both ends are known.
func pair(s *model.LatencyStream) {
	if s.SendTime == nil || s.RecvTime == nil {
		return
	}
	rtt := *s.RecvTime - *s.SendTime
	s.RTT = &rtt
}

// Streams returns the pool's streams in the order they were first sent.
func (p *Pool) Streams() []model.LatencyStream {
	out := make([]model.LatencyStream, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.streams[id])
	}
	return out
}

// Class returns the pool's latency class.
func (p *Pool) Class() model.LatencyClass { return p.class }

// Builder routes header events into the test, idle and loaded pools.
type Builder struct {
	send  eventtypes.CodeSet
	recv  int
	pools []*Pool
}

// New returns a Builder over the header event types of table. It fails with
// ErrMissingSchema when the HTTP/1 send or receive names are absent; the
// HTTP/2 and QUIC send variants are used when present.
func New(table *eventtypes.Table, test, idle, loaded []string) (*Builder, error) {
	if err := table.Require(eventtypes.SendRequestHeaders, eventtypes.ReadResponseHeaders); err != nil {
		return nil, err
	}
	recv, _ := table.Code(eventtypes.ReadResponseHeaders)
	return &Builder{
		send: table.Codes(eventtypes.SendRequestHeaders, eventtypes.HTTP2SendRequestHeaders, eventtypes.QUICSendRequestHeaders),
		recv: recv,
		pools: []*Pool{
			NewPool(model.LatencyTest, test),
			NewPool(model.LatencyIdle, idle),
			NewPool(model.LatencyLoaded, loaded),
		},
	}, nil
}

// Observe feeds one event to every pool.
func (b *Builder) Observe(ev model.Event) {
	if !ev.HasSource {
		return
	}
	switch {
	case b.send.Has(ev.Type):
		for _, p := range b.pools {
			p.Send(ev)
		}
	case ev.Type == b.recv:
		for _, p := range b.pools {
			p.Recv(ev)
		}
	}
}

// Pool returns the pool for class.
func (b *Builder) Pool(class model.LatencyClass) *Pool {
	for _, p := range b.pools {
		if p.class == class {
			return p
		}
	}
	return nil
}

// Data assembles the latency document with statistics per class.
func (b *Builder) Data() model.LatencyData {
	pool := func(c model.LatencyClass) model.LatencyPool {
		streams := b.Pool(c).Streams()
		return model.LatencyPool{Streams: streams, Stats: CalculateStatistics(streams)}
	}
	return model.LatencyData{
		Test:     pool(model.LatencyTest),
		Unloaded: pool(model.LatencyIdle),
		Loaded:   pool(model.LatencyLoaded),
	}
}

// CalculateStatistics summarizes the non-negative RTTs of streams. Mean and
// median are rounded to two decimals; no samples yields all zeros.
func CalculateStatistics(streams []model.LatencyStream) model.LatencyStats {
	rtts := make([]float64, 0, len(streams))
	for _, s := range streams {
		if s.RTT != nil && *s.RTT >= 0 {
			rtts = append(rtts, float64(*s.RTT))
		}
	}
	if len(rtts) == 0 {
		return model.LatencyStats{}
	}
	sort.Float64s(rtts)

	var sum float64
	for _, r := range rtts {
		sum += r
	}
	return model.LatencyStats{
		Count:  len(rtts),
		Mean:   Round2(sum / float64(len(rtts))),
		Median: Round2(Median(rtts)),
	}
}

// NegativeRTTs counts streams whose RTT came out below zero.
func NegativeRTTs(streams []model.LatencyStream) int {
	n := 0
	for _, s := range streams {
		if s.RTT != nil && *s.RTT < 0 {
			n++
		}
	}
	return n
}

// Median returns the median of sorted values.
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
