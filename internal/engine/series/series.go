// Package series builds per-stream transfer progress for recognized streams.
package series

import (
	"fmt"

	"github.com/crimson-sun/speedtrace/internal/engine/correlator"
	"github.com/crimson-sun/speedtrace/internal/engine/eventtypes"
	"github.com/crimson-sun/speedtrace/internal/model"
)

// Builder accumulates progress samples for one direction.
type Builder struct {
	direction  model.Direction
	codes      eventtypes.CodeSet
	recognized *correlator.Set
	records    map[model.SourceID]*model.StreamRecord
	order      []model.SourceID
}

// New returns a Builder for direction. Download streams are fed by the
// byte-read events and upload streams by upload cursor reads; it fails with
// ErrMissingSchema when none of the relevant names resolve.
func New(table *eventtypes.Table, direction model.Direction, recognized *correlator.Set) (*Builder, error) {
	var names []string
	switch direction {
	case model.Download:
		names = []string{eventtypes.URLRequestJobFilteredBytesRead, eventtypes.URLRequestBytesRead}
	case model.Upload:
		names = []string{eventtypes.UploadDataStreamRead}
	default:
		return nil, fmt.Errorf("series: unknown direction %q", direction)
	}
	codes, err := table.RequireAny(names...)
	if err != nil {
		return nil, fmt.Errorf("series: %w", err)
	}
	return &Builder{
		direction:  direction,
		codes:      codes,
		recognized: recognized,
		records:    make(map[model.SourceID]*model.StreamRecord),
	}, nil
}

// Observe appends a sample when ev is a qualifying read on a recognized
// stream and reports whether it did.
func (b *Builder) Observe(ev model.Event) bool {
	if !ev.HasSource || !b.codes.Has(ev.Type) || !b.recognized.Has(ev.Source.ID) {
		return false
	}
	value := ev.Params.ByteCount
	if b.direction == model.Upload {
		value = ev.Params.CurrentPosition
	}
	if value == nil {
		return false
	}

	rec, ok := b.records[ev.Source.ID]
	if !ok {
		rec = &model.StreamRecord{ID: ev.Source.ID, Type: b.direction}
		b.records[ev.Source.ID] = rec
		b.order = append(b.order, ev.Source.ID)
	}
	rec.Progress = append(rec.Progress, model.Progress{Value: *value, Time: ev.Time})
	return true
}

// Records returns one record per stream that received a sample, in the
// order streams first appeared.
func (b *Builder) Records() []model.StreamRecord {
	out := make([]model.StreamRecord, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.records[id])
	}
	return out
}

// Build runs a Builder over events.
func Build(table *eventtypes.Table, direction model.Direction, recognized *correlator.Set, events []model.Event) ([]model.StreamRecord, error) {
	b, err := New(table, direction, recognized)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		b.Observe(ev)
	}
	return b.Records(), nil
}
