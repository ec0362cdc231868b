package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// SourceID is the opaque per-capture key the browser assigns to each internal
// object (URL request, stream job, socket). It is only meaningful inside the
// capture it was read from.
type SourceID int64

// Source identifies the browser object an event was logged against.
type Source struct {
	ID   SourceID `json:"id"`
	Type int      `json:"type,omitempty"`
}

// Event is one decoded netlog entry.
type Event struct {
	Index     int    // position in the capture's events array
	Type      int    // build-specific numeric code, resolve via the symbol table
	TypeName  string // set only when the capture embeds type_name per event
	Phase     int
	Time      int64 // milliseconds
	Source    Source
	HasSource bool
	Params    Params
}

// Params holds the payload fields the engine reads. Anything else in the
// event's params object is discarded during decoding.
type Params struct {
	URL              string          `json:"url,omitempty"`
	Method           string          `json:"method,omitempty"`
	ByteCount        *int64          `json:"byte_count,omitempty"`
	CurrentPosition  *int64          `json:"current_position,omitempty"`
	Line             string          `json:"line,omitempty"`
	Key              string          `json:"key,omitempty"`
	SourceDependency *Source         `json:"source_dependency,omitempty"`
	Created          *bool           `json:"created,omitempty"`
	Headers          json.RawMessage `json:"headers,omitempty"`
	Opcode           *int            `json:"opcode,omitempty"`
}

// UnmarshalJSON decodes the known fields one by one. A field whose JSON type
// does not match is left unset rather than failing the whole event, since
// unrelated event types reuse the same keys with other shapes.
func (p *Params) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New("params is not an object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}
	p.URL, _ = field[string](fields, "url")
	p.Method, _ = field[string](fields, "method")
	p.Line, _ = field[string](fields, "line")
	p.Key, _ = field[string](fields, "key")
	if v, ok := field[int64](fields, "byte_count"); ok {
		p.ByteCount = &v
	}
	if v, ok := field[int64](fields, "current_position"); ok {
		p.CurrentPosition = &v
	}
	if v, ok := field[Source](fields, "source_dependency"); ok {
		p.SourceDependency = &v
	}
	if v, ok := field[bool](fields, "created"); ok {
		p.Created = &v
	}
	if v, ok := field[int](fields, "opcode"); ok {
		p.Opcode = &v
	}
	if raw, ok := fields["headers"]; ok {
		p.Headers = append(json.RawMessage(nil), raw...)
	}
	return nil
}

// field decodes fields[key] into a T, reporting false when the key is
// absent, null, or of another JSON type.
func field[T any](fields map[string]json.RawMessage, key string) (T, bool) {
	var v T
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// HeaderLines returns the request headers as "name: value" lines. Captures
// store headers either as a list of lines or as an object.
func (p Params) HeaderLines() []string {
	if len(p.Headers) == 0 {
		return nil
	}
	var lines []string
	if err := json.Unmarshal(p.Headers, &lines); err == nil {
		return lines
	}
	var obj map[string]string
	if err := json.Unmarshal(p.Headers, &obj); err != nil {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines = make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+obj[k])
	}
	return lines
}

// RequestTarget returns the text a request-header event exposes for URL
// matching: the HTTP/1 request line when present, otherwise the HTTP/2 or
// QUIC ":path" pseudo-header.
func (p Params) RequestTarget() string {
	if p.Line != "" {
		return p.Line
	}
	for _, h := range p.HeaderLines() {
		if rest, ok := strings.CutPrefix(h, ":path: "); ok {
			return rest
		}
	}
	return ""
}

// DependencyID returns the id of params.source_dependency, if present.
func (p Params) DependencyID() (SourceID, bool) {
	if p.SourceDependency == nil {
		return 0, false
	}
	return p.SourceDependency.ID, true
}
