// Package netlog loads browser network-log captures: it reads the file,
// repairs the well-known truncation, persists the repair, and decodes every
// event it can while isolating the ones it cannot.
package netlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/crimson-sun/speedtrace/internal/atomicfile"
	"github.com/crimson-sun/speedtrace/internal/model"
)

var (
	// ErrMissingFile is returned when an input file does not exist.
	ErrMissingFile = errors.New("input file not found")
	// ErrMalformedCapture is returned when a capture cannot be parsed even
	// after repair.
	ErrMalformedCapture = errors.New("malformed capture")
)

type wireCapture struct {
	Constants json.RawMessage   `json:"constants"`
	Events    []json.RawMessage `json:"events"`
}

type wireSource struct {
	ID   *model.SourceID `json:"id"`
	Type int             `json:"type"`
}

type wireEvent struct {
	Type     *int            `json:"type"`
	TypeName string          `json:"type_name"`
	Phase    int             `json:"phase"`
	Time     json.RawMessage `json:"time"`
	Source   *wireSource     `json:"source"`
	Params   model.Params    `json:"params"`
}

// Load reads the capture at path. A truncated capture is repaired and the
// repaired bytes are written back to path before decoding; a capture that
// cannot be repaired is left untouched on disk.
func Load(path string) (*model.Capture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("netlog: %w: %s", ErrMissingFile, path)
		}
		return nil, fmt.Errorf("netlog: read %s: %w", path, err)
	}

	fixed, repaired, err := Repair(data)
	if err != nil {
		return nil, fmt.Errorf("netlog: %s: %w", path, err)
	}
	if repaired {
		info, statErr := os.Stat(path)
		perm := os.FileMode(0o644)
		if statErr == nil {
			perm = info.Mode().Perm()
		}
		if err := atomicfile.Write(path, fixed, perm); err != nil {
			return nil, fmt.Errorf("netlog: persist repair: %w", err)
		}
		log.Warn().Str("path", path).Msg("repaired truncated capture")
	}

	capture, err := Decode(fixed)
	if err != nil {
		return nil, fmt.Errorf("netlog: %s: %w", path, err)
	}
	capture.Path = path
	capture.Repaired = repaired
	return capture, nil
}

// Decode parses a complete capture document. Events that fail to decode are
// logged, recorded in DecodeErrors and skipped.
func Decode(data []byte) (*model.Capture, error) {
	var wc wireCapture
	if err := json.Unmarshal(data, &wc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCapture, err)
	}

	c := &model.Capture{
		Constants: wc.Constants,
		Events:    make([]model.Event, 0, len(wc.Events)),
	}
	c.Client = decodeClientInfo(wc.Constants)

	for i, raw := range wc.Events {
		ev, err := decodeEvent(i, raw)
		if err != nil {
			log.Error().Int("index", i).Err(err).Msg("skipping malformed event")
			c.DecodeErrors = append(c.DecodeErrors, model.DecodeError{Index: i, Err: err.Error()})
			continue
		}
		c.Events = append(c.Events, ev)
	}
	return c, nil
}

func decodeEvent(index int, raw json.RawMessage) (model.Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return model.Event{}, errors.New("event is not an object")
	}

	var we wireEvent
	if err := json.Unmarshal(trimmed, &we); err != nil {
		return model.Event{}, err
	}
	if we.Type == nil {
		return model.Event{}, errors.New("event has no type")
	}
	ts, err := parseTime(we.Time)
	if err != nil {
		return model.Event{}, err
	}

	ev := model.Event{
		Index:    index,
		Type:     *we.Type,
		TypeName: we.TypeName,
		Phase:    we.Phase,
		Time:     ts,
		Params:   we.Params,
	}
	if we.Source != nil && we.Source.ID != nil {
		ev.Source = model.Source{ID: *we.Source.ID, Type: we.Source.Type}
		ev.HasSource = true
	}
	return ev, nil
}

// parseTime accepts the millisecond timestamp as a JSON string or number.
func parseTime(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("event has no time")
	}
	s := string(raw)
	if raw[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return 0, fmt.Errorf("bad time %s: %w", s, err)
		}
		s = unq
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return int64(f), nil
}

func decodeClientInfo(constants json.RawMessage) model.ClientInfo {
	if len(constants) == 0 {
		return model.ClientInfo{}
	}
	var wrapper struct {
		ClientInfo model.ClientInfo `json:"clientInfo"`
	}
	if err := json.Unmarshal(constants, &wrapper); err != nil {
		log.Debug().Err(err).Msg("constants carry no readable clientInfo")
		return model.ClientInfo{}
	}
	return wrapper.ClientInfo
}
