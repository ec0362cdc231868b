package model

import (
	"encoding/json"
	"fmt"
)

// Progress is one transfer sample of a stream. Value is a byte count for
// download streams and a cumulative upload cursor for upload streams.
type Progress struct {
	Value int64
	Time  int64
}

// StreamRecord is the progress series of one recognized HTTP stream.
// Entries stay in arrival order.
type StreamRecord struct {
	ID       SourceID
	Type     Direction
	Progress []Progress
}

// ByteTimeEntry is one element of byte_time_list.json.
type ByteTimeEntry struct {
	ID       SourceID       `json:"id"`
	Type     Direction      `json:"type"`
	Progress []ByteProgress `json:"progress"`
}

// ByteProgress is a download read sample.
type ByteProgress struct {
	ByteCount int64 `json:"bytecount"`
	Time      int64 `json:"time"`
}

// PositionEntry is one element of current_position_list.json.
type PositionEntry struct {
	ID       SourceID           `json:"id"`
	Type     Direction          `json:"type"`
	Progress []PositionProgress `json:"progress"`
}

// PositionProgress is an upload cursor sample.
type PositionProgress struct {
	CurrentPosition int64 `json:"current_position"`
	Time            int64 `json:"time"`
}

// ByteTimeEntry converts the record into its byte_time_list.json shape.
func (r StreamRecord) ByteTimeEntry() ByteTimeEntry {
	out := ByteTimeEntry{ID: r.ID, Type: r.Type, Progress: make([]ByteProgress, 0, len(r.Progress))}
	for _, p := range r.Progress {
		out.Progress = append(out.Progress, ByteProgress{ByteCount: p.Value, Time: p.Time})
	}
	return out
}

// PositionEntry converts the record into its current_position_list.json shape.
func (r StreamRecord) PositionEntry() PositionEntry {
	out := PositionEntry{ID: r.ID, Type: r.Type, Progress: make([]PositionProgress, 0, len(r.Progress))}
	for _, p := range r.Progress {
		out.Progress = append(out.Progress, PositionProgress{CurrentPosition: p.Value, Time: p.Time})
	}
	return out
}

// JobBinding links an HTTP stream source to the stream job it was bound to.
// It encodes as a two-element array.
type JobBinding struct {
	HTTPSourceID SourceID
	JobID        SourceID
}

func (b JobBinding) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]SourceID{b.HTTPSourceID, b.JobID})
}

func (b *JobBinding) UnmarshalJSON(data []byte) error {
	var pair [2]SourceID
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("job binding: %w", err)
	}
	b.HTTPSourceID, b.JobID = pair[0], pair[1]
	return nil
}

// IdentityChain is the resolved HTTP stream -> job -> socket chain. It
// encodes as a three-element array.
type IdentityChain struct {
	HTTPSourceID SourceID
	JobID        SourceID
	SocketID     SourceID
}

func (c IdentityChain) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]SourceID{c.HTTPSourceID, c.JobID, c.SocketID})
}

func (c *IdentityChain) UnmarshalJSON(data []byte) error {
	var triple [3]SourceID
	if err := json.Unmarshal(data, &triple); err != nil {
		return fmt.Errorf("identity chain: %w", err)
	}
	c.HTTPSourceID, c.JobID, c.SocketID = triple[0], triple[1], triple[2]
	return nil
}
