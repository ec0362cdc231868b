// Package testdata provides netlog captures for tests: an embedded sample
// recorded from a two-stream download test, and a Builder for synthetic
// captures.
package testdata

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

//go:embed sample_capture.json
var sampleCapture []byte

// SampleCapture returns a copy of the embedded sample capture. It holds an
// idle probe (source 10), download streams 20 and 24 bound to sockets 60 and
// 61 through jobs 40 and 41, a loaded probe during the transfer (22) and one
// after it (30).
func SampleCapture() []byte {
	return append([]byte(nil), sampleCapture...)
}

// DefaultCodes is the symbol table synthetic captures start from.
var DefaultCodes = map[string]int{
	"REQUEST_ALIVE":                               2,
	"URL_REQUEST_JOB_FILTERED_BYTES_READ":         120,
	"URL_REQUEST_BYTES_READ":                      119,
	"UPLOAD_DATA_STREAM_READ":                     442,
	"HTTP_TRANSACTION_SEND_REQUEST_HEADERS":       163,
	"HTTP_TRANSACTION_HTTP2_SEND_REQUEST_HEADERS": 164,
	"HTTP_TRANSACTION_READ_RESPONSE_HEADERS":      170,
	"HTTP_STREAM_REQUEST_BOUND_TO_JOB":            181,
	"SOCKET_POOL_BOUND_TO_SOCKET":                 74,
}

// Table placement for Builder.
const (
	TableNested = "logEventTypes"
	TableFlat   = "event_types"
	TableNone   = ""
)

// Builder assembles a capture document event by event.
type Builder struct {
	codes     map[string]int
	omit      map[string]bool
	table     string
	typeNames bool
	client    map[string]any
	events    []any
}

// NewCapture returns a builder using DefaultCodes in constants.logEventTypes.
func NewCapture() *Builder {
	codes := make(map[string]int, len(DefaultCodes))
	for k, v := range DefaultCodes {
		codes[k] = v
	}
	return &Builder{
		codes: codes,
		omit:  make(map[string]bool),
		table: TableNested,
		client: map[string]any{
			"name":    "Chromium",
			"version": "126.0.6478.126",
			"os_type": "Linux",
		},
	}
}

// Table selects where the symbol table is written. TableNone also turns on
// per-event type names so the table can be inferred.
func (b *Builder) Table(placement string) *Builder {
	b.table = placement
	if placement == TableNone {
		b.typeNames = true
	}
	return b
}

// TypeNames writes type_name on every event.
func (b *Builder) TypeNames(on bool) *Builder {
	b.typeNames = on
	return b
}

// Omit leaves names out of the symbol table. Events of those types are still
// emitted with their codes.
func (b *Builder) Omit(names ...string) *Builder {
	for _, n := range names {
		b.omit[n] = true
	}
	return b
}

// Code returns the code used for name, assigning a fresh one on first use.
func (b *Builder) Code(name string) int {
	if code, ok := b.codes[name]; ok {
		return code
	}
	next := 1000
	for _, c := range b.codes {
		if c >= next {
			next = c + 1
		}
	}
	b.codes[name] = next
	return next
}

// Add appends an event of the named type on source id. A zero source omits
// the source object. params may be nil.
func (b *Builder) Add(name string, t int64, source int64, params map[string]any) *Builder {
	ev := map[string]any{
		"phase": 0,
		"time":  fmt.Sprint(t),
		"type":  b.Code(name),
	}
	if source != 0 {
		ev["source"] = map[string]any{"id": source, "type": 1, "start_time": fmt.Sprint(t)}
	}
	if params != nil {
		ev["params"] = params
	}
	if b.typeNames {
		ev["type_name"] = name
	}
	b.events = append(b.events, ev)
	return b
}

// AddRaw appends v as-is to the events array.
func (b *Builder) AddRaw(v any) *Builder {
	b.events = append(b.events, v)
	return b
}

// Len returns the number of events added so far.
func (b *Builder) Len() int { return len(b.events) }

// Stream describes one request and its transfer samples.
type Stream struct {
	ID     int64
	URL    string
	Job    int64 // 0 skips the stream-to-job binding
	Socket int64 // 0 skips the job-to-socket binding
	Send   int64
	Recv   int64 // 0 skips the response headers
	Reads  []Read
}

// Read is a transfer sample: a byte count for downloads, a cumulative
// position for uploads.
type Read struct {
	Time  int64
	Value int64
}

// Request emits the opening event, bindings and request/response headers
// for s without any transfer samples.
func (b *Builder) Request(s Stream) *Builder {
	method := "GET"
	if isUpload(s.URL) {
		method = "POST"
	}
	b.Add("REQUEST_ALIVE", s.Send-1, s.ID, map[string]any{"url": s.URL, "method": method})
	if s.Job != 0 {
		b.Add("HTTP_STREAM_REQUEST_BOUND_TO_JOB", s.Send-1, s.ID, map[string]any{
			"source_dependency": map[string]any{"id": s.Job, "type": 9},
		})
		if s.Socket != 0 {
			b.Add("SOCKET_POOL_BOUND_TO_SOCKET", s.Send-1, s.Job, map[string]any{
				"source_dependency": map[string]any{"id": s.Socket, "type": 11},
			})
		}
	}
	b.Add("HTTP_TRANSACTION_SEND_REQUEST_HEADERS", s.Send, s.ID, map[string]any{
		"line": fmt.Sprintf("%s %s HTTP/1.1\r\n", method, requestURI(s.URL)),
	})
	if s.Recv != 0 {
		b.Add("HTTP_TRANSACTION_READ_RESPONSE_HEADERS", s.Recv, s.ID, map[string]any{
			"headers": []string{"HTTP/1.1 200"},
		})
	}
	return b
}

// Download emits s as a download stream.
func (b *Builder) Download(s Stream) *Builder {
	b.Request(s)
	for _, r := range s.Reads {
		b.Add("URL_REQUEST_JOB_FILTERED_BYTES_READ", r.Time, s.ID, map[string]any{"byte_count": r.Value})
	}
	return b
}

// Upload emits s as an upload stream.
func (b *Builder) Upload(s Stream) *Builder {
	b.Request(s)
	for _, r := range s.Reads {
		b.Add("UPLOAD_DATA_STREAM_READ", r.Time, s.ID, map[string]any{"current_position": r.Value})
	}
	return b
}

// Probe emits a latency probe request with send and receive headers.
func (b *Builder) Probe(id int64, rawURL string, send, recv int64) *Builder {
	return b.Request(Stream{ID: id, URL: rawURL, Send: send, Recv: recv})
}

// JSON renders the capture document.
func (b *Builder) JSON() []byte {
	constants := map[string]any{"clientInfo": b.client}
	if b.table != TableNone {
		table := make(map[string]int, len(b.codes))
		for name, code := range b.codes {
			if !b.omit[name] {
				table[name] = code
			}
		}
		constants[b.table] = table
	}
	events := b.events
	if events == nil {
		events = []any{}
	}
	data, err := json.Marshal(map[string]any{"constants": constants, "events": events})
	if err != nil {
		panic(fmt.Sprintf("testdata: marshal capture: %v", err))
	}
	return data
}

// WriteFile writes data to name inside a fresh temp dir and returns the path.
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Host is the server every canned URL points at.
const Host = "https://speed.example.net"

// DownloadURL, UploadURL and HelloURL build canned request URLs.
func DownloadURL(tag string) string { return Host + "/download?nocache=" + tag }
func UploadURL(tag string) string   { return Host + "/upload?nocache=" + tag }
func HelloURL(tag string) string    { return Host + "/hello?nocache=" + tag }

// SpeedTest builds a two-stream test in direction ("download" or "upload")
// with one idle probe (10), payload streams 20 and 24 on jobs 40/41 and
// sockets 60/61, a loaded probe during the transfer (22) and one after (30).
func SpeedTest(direction string) *Builder {
	b := NewCapture()
	b.Probe(10, HelloURL("idle"), 1000, 1012)

	emit := b.Download
	payload := DownloadURL
	if direction == "upload" {
		emit = b.Upload
		payload = UploadURL
	}
	emit(Stream{ID: 20, URL: payload("s1"), Job: 40, Socket: 60, Send: 1100, Recv: 1140,
		Reads: []Read{{1160, 65536}, {1210, 131072}, {1260, 196608}}})
	b.Probe(22, HelloURL("loaded"), 1150, 1190)
	emit(Stream{ID: 24, URL: payload("s2"), Job: 41, Socket: 61, Send: 1110, Recv: 1145,
		Reads: []Read{{1170, 32768}, {1220, 98304}, {1270, 229376}}})
	b.Probe(30, HelloURL("after"), 1400, 1420)
	return b
}

// SortedNames returns the names in b's table, sorted.
func (b *Builder) SortedNames() []string {
	names := make([]string, 0, len(b.codes))
	for n := range b.codes {
		if !b.omit[n] {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func requestURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.RequestURI()
}

func isUpload(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Path == "/upload"
}
