package latency

import (
	"errors"
	"testing"

	"github.com/crimson-sun/speedtrace/internal/engine/eventtypes"
	"github.com/crimson-sun/speedtrace/internal/engine/testdata"
	"github.com/crimson-sun/speedtrace/internal/model"
	"github.com/crimson-sun/speedtrace/internal/netlog"
)

func build(t *testing.T, b *testdata.Builder, test, idle, loaded []string) *Builder {
	t.Helper()
	c, err := netlog.Decode(b.JSON())
	if err != nil {
		t.Fatal(err)
	}
	table, err := eventtypes.Resolve(c)
	if err != nil {
		t.Fatal(err)
	}
	lb, err := New(table, test, idle, loaded)
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range c.Events {
		lb.Observe(ev)
	}
	return lb
}

func rtt(v int64) *int64 { return &v }

func streams(rtts ...int64) []model.LatencyStream {
	out := make([]model.LatencyStream, 0, len(rtts))
	for i, r := range rtts {
		out = append(out, model.LatencyStream{ID: model.SourceID(i + 1), RTT: rtt(r)})
	}
	return out
}

func TestCalculateStatistics(t *testing.T) {
	tests := []struct {
		name    string
		streams []model.LatencyStream
		want    model.LatencyStats
	}{
		{"odd", streams(10, 20, 30), model.LatencyStats{Count: 3, Mean: 20, Median: 20}},
		{"even", streams(10, 20, 30, 40), model.LatencyStats{Count: 4, Mean: 25, Median: 25}},
		{"unsorted", streams(30, 10, 20), model.LatencyStats{Count: 3, Mean: 20, Median: 20}},
		{"rounding", streams(1, 2, 2), model.LatencyStats{Count: 3, Mean: 1.67, Median: 2}},
		{"negative excluded", streams(-5, 10, 20), model.LatencyStats{Count: 2, Mean: 15, Median: 15}},
		{"empty", nil, model.LatencyStats{}},
		{"unpaired only", []model.LatencyStream{{ID: 1, SendTime: rtt(5)}}, model.LatencyStats{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateStatistics(tt.streams); got != tt.want {
				t.Fatalf("stats = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNegativeRTTs(t *testing.T) {
	if n := NegativeRTTs(streams(-1, 0, 5, -3)); n != 2 {
		t.Fatalf("NegativeRTTs = %d, want 2", n)
	}
}

func TestRecvWithoutSendIsDropped(t *testing.T) {
	b := testdata.NewCapture()
	b.Add("HTTP_TRANSACTION_READ_RESPONSE_HEADERS", 50, 7, nil)
	b.Add("HTTP_TRANSACTION_SEND_REQUEST_HEADERS", 60, 7, map[string]any{"line": "GET /hello?nocache=1 HTTP/1.1\r\n"})

	lb := build(t, b, nil, []string{testdata.HelloURL("1")}, nil)
	got := lb.Pool(model.LatencyIdle).Streams()
	if len(got) != 1 {
		t.Fatalf("streams = %+v", got)
	}
	if got[0].RecvTime != nil || got[0].RTT != nil {
		t.Fatalf("receive before send was paired: %+v", got[0])
	}
}

func TestPairing(t *testing.T) {
	b := testdata.NewCapture()
	line := "GET /hello?nocache=1 HTTP/1.1\r\n"
	b.Add("HTTP_TRANSACTION_SEND_REQUEST_HEADERS", 100, 7, map[string]any{"line": line})
	b.Add("HTTP_TRANSACTION_READ_RESPONSE_HEADERS", 130, 7, nil)
	// A second receive replaces the first.
	b.Add("HTTP_TRANSACTION_READ_RESPONSE_HEADERS", 140, 7, nil)

	lb := build(t, b, nil, []string{testdata.HelloURL("1")}, nil)
	s := lb.Pool(model.LatencyIdle).Streams()[0]
	if *s.SendTime != 100 || *s.RecvTime != 140 || *s.RTT != 40 {
		t.Fatalf("stream = send %d recv %d rtt %d", *s.SendTime, *s.RecvTime, *s.RTT)
	}
}

func TestPoolsAreIndependent(t *testing.T) {
	lb := build(t, testdata.SpeedTest("download"),
		[]string{testdata.DownloadURL("s1"), testdata.DownloadURL("s2")},
		[]string{testdata.HelloURL("idle")},
		[]string{testdata.HelloURL("loaded"), testdata.HelloURL("after")},
	)
	data := lb.Data()

	if got := data.Test.Stats; got != (model.LatencyStats{Count: 2, Mean: 37.5, Median: 37.5}) {
		t.Errorf("test stats = %+v", got)
	}
	if got := data.Unloaded.Stats; got != (model.LatencyStats{Count: 1, Mean: 12, Median: 12}) {
		t.Errorf("idle stats = %+v", got)
	}
	if got := data.Loaded.Stats; got != (model.LatencyStats{Count: 2, Mean: 30, Median: 30}) {
		t.Errorf("loaded stats = %+v", got)
	}
	for _, s := range data.Test.Streams {
		if s.ID != 20 && s.ID != 24 {
			t.Errorf("test pool holds probe %d", s.ID)
		}
	}
}

func TestHTTP2PathHeader(t *testing.T) {
	b := testdata.NewCapture()
	b.Add("HTTP_TRANSACTION_HTTP2_SEND_REQUEST_HEADERS", 100, 7, map[string]any{
		"headers": []string{":method: GET", ":path: /hello?nocache=9", ":scheme: https"},
	})
	b.Add("HTTP_TRANSACTION_READ_RESPONSE_HEADERS", 108, 7, nil)

	lb := build(t, b, nil, nil, []string{testdata.HelloURL("9")})
	if got := lb.Data().Loaded.Stats; got.Count != 1 || got.Mean != 8 {
		t.Fatalf("loaded stats = %+v", got)
	}
}

func TestMatcher(t *testing.T) {
	m := NewMatcher([]string{testdata.HelloURL("1")})
	tests := []struct {
		name string
		p    model.Params
		want bool
	}{
		{"request line", model.Params{Line: "GET /hello?nocache=1 HTTP/1.1\r\n"}, true},
		{"absolute form", model.Params{Line: "GET " + testdata.HelloURL("1") + " HTTP/1.1"}, true},
		{"url param", model.Params{URL: testdata.HelloURL("1")}, true},
		{"other query", model.Params{Line: "GET /hello?nocache=2 HTTP/1.1"}, false},
		{"empty", model.Params{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Match(tt.p); got != tt.want {
				t.Fatalf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewMissingSchema(t *testing.T) {
	c, err := netlog.Decode(testdata.NewCapture().Omit("HTTP_TRANSACTION_READ_RESPONSE_HEADERS").JSON())
	if err != nil {
		t.Fatal(err)
	}
	table, err := eventtypes.Resolve(c)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(table, nil, nil, nil); !errors.Is(err, eventtypes.ErrMissingSchema) {
		t.Fatalf("err = %v, want ErrMissingSchema", err)
	}
}
