// Package eventtypes resolves netlog event-type names to the numeric codes of
// one capture. Codes drift between browser builds, so every lookup goes
// through the table embedded in the capture being analyzed.
package eventtypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/crimson-sun/speedtrace/internal/model"
)

// ErrMissingSchema is returned when a capture carries no usable symbol table
// or lacks a name a component needs.
var ErrMissingSchema = errors.New("missing event type schema")

// Event-type names the engine refers to.
const (
	RequestAlive                   = "REQUEST_ALIVE"
	URLRequestJobFilteredBytesRead = "URL_REQUEST_JOB_FILTERED_BYTES_READ"
	URLRequestBytesRead            = "URL_REQUEST_BYTES_READ"
	UploadDataStreamRead           = "UPLOAD_DATA_STREAM_READ"
	SendRequestHeaders             = "HTTP_TRANSACTION_SEND_REQUEST_HEADERS"
	HTTP2SendRequestHeaders        = "HTTP_TRANSACTION_HTTP2_SEND_REQUEST_HEADERS"
	QUICSendRequestHeaders         = "HTTP_TRANSACTION_QUIC_SEND_REQUEST_HEADERS"
	ReadResponseHeaders            = "HTTP_TRANSACTION_READ_RESPONSE_HEADERS"
	StreamRequestBoundToJob        = "HTTP_STREAM_REQUEST_BOUND_TO_JOB"
	SocketPoolBoundToSocket        = "SOCKET_POOL_BOUND_TO_SOCKET"
)

// Origin says where a table was read from.
type Origin string

const (
	OriginLogEventTypes Origin = "logEventTypes"
	OriginEventTypes    Origin = "event_types"
	OriginInferred      Origin = "inferred"
)

// Table maps event-type names to codes for one capture.
type Table struct {
	codes  map[string]int
	names  map[int]string
	origin Origin
}

// CodeSet is a set of resolved codes.
type CodeSet map[int]struct{}

// Has reports whether code is in the set.
func (s CodeSet) Has(code int) bool {
	_, ok := s[code]
	return ok
}

// New builds a table from a name->code map.
func New(codes map[string]int, origin Origin) *Table {
	t := &Table{
		codes:  make(map[string]int, len(codes)),
		names:  make(map[int]string, len(codes)),
		origin: origin,
	}
	for name, code := range codes {
		t.codes[name] = code
		t.names[code] = name
	}
	return t
}

// Resolve builds the table for a capture. It prefers constants.logEventTypes,
// then a flat constants.event_types map, and finally infers pairs from events
// that carry both a numeric type and a type_name.
func Resolve(c *model.Capture) (*Table, error) {
	if len(c.Constants) > 0 {
		var constants map[string]json.RawMessage
		if err := json.Unmarshal(c.Constants, &constants); err == nil {
			for _, key := range []Origin{OriginLogEventTypes, OriginEventTypes} {
				codes, ok := decodeCodes(constants[string(key)])
				if ok {
					return New(codes, key), nil
				}
			}
		}
	}

	codes := infer(c.Events)
	if len(codes) == 0 {
		return nil, fmt.Errorf("eventtypes: %w: no symbol table and no type_name on any event", ErrMissingSchema)
	}
	log.Warn().Int("names", len(codes)).Msg("capture has no symbol table, inferred event types from events")
	return New(codes, OriginInferred), nil
}

func decodeCodes(raw json.RawMessage) (map[string]int, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var codes map[string]int
	if err := json.Unmarshal(raw, &codes); err != nil || len(codes) == 0 {
		return nil, false
	}
	return codes, true
}

func infer(events []model.Event) map[string]int {
	codes := make(map[string]int)
	for _, ev := range events {
		if ev.TypeName == "" {
			continue
		}
		if prev, ok := codes[ev.TypeName]; ok {
			if prev != ev.Type {
				log.Debug().Str("name", ev.TypeName).Int("kept", prev).Int("ignored", ev.Type).
					Msg("conflicting inferred event type code")
			}
			continue
		}
		codes[ev.TypeName] = ev.Type
	}
	return codes
}

// Code returns the code for name.
func (t *Table) Code(name string) (int, bool) {
	code, ok := t.codes[name]
	return code, ok
}

// Name returns the name for code, or "" when unknown.
func (t *Table) Name(code int) string {
	return t.names[code]
}

// Is reports whether ev is of the named type. Unresolved names never match.
func (t *Table) Is(ev model.Event, name string) bool {
	code, ok := t.codes[name]
	return ok && ev.Type == code
}

// Require returns ErrMissingSchema naming every absent name.
func (t *Table) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := t.codes[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("eventtypes: %w: unresolved %s", ErrMissingSchema, strings.Join(missing, ", "))
	}
	return nil
}

// RequireAny returns the codes of the names that resolve, or
// ErrMissingSchema when none do.
func (t *Table) RequireAny(names ...string) (CodeSet, error) {
	set := t.Codes(names...)
	if len(set) == 0 {
		return nil, fmt.Errorf("eventtypes: %w: none of %s resolved", ErrMissingSchema, strings.Join(names, ", "))
	}
	return set, nil
}

// Codes returns the codes of the names that resolve, skipping the rest.
func (t *Table) Codes(names ...string) CodeSet {
	set := make(CodeSet, len(names))
	for _, n := range names {
		if code, ok := t.codes[n]; ok {
			set[code] = struct{}{}
		}
	}
	return set
}

// Len returns the number of names in the table.
func (t *Table) Len() int { return len(t.codes) }

// Origin returns where the table came from.
func (t *Table) Origin() Origin { return t.origin }

// Names returns every name in the table, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.codes))
	for n := range t.codes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
