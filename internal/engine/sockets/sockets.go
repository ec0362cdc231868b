// Package sockets resolves recognized HTTP streams to their stream jobs and
// then to the sockets those jobs were bound to.
package sockets

import (
	"fmt"

	"github.com/crimson-sun/speedtrace/internal/engine/eventtypes"
	"github.com/crimson-sun/speedtrace/internal/model"
)

// Index holds the binding events of a capture keyed by source id. It is
// built in one pass so resolution is a lookup per stream rather than a scan.
type Index struct {
	boundCode  int
	socketCode int
	hasBound   bool
	hasSocket  bool
	streamJob  map[model.SourceID]model.SourceID
	jobSocket  map[model.SourceID]model.SourceID
}

// NewIndex returns an empty index for the binding event types of table. A
// binding name the table lacks means the capture has no such events: the
// index stays empty for that hop and Missing reports the name.
func NewIndex(table *eventtypes.Table) (*Index, error) {
	if table == nil {
		return nil, fmt.Errorf("sockets: %w: no event type table", eventtypes.ErrMissingSchema)
	}
	ix := &Index{
		streamJob: make(map[model.SourceID]model.SourceID),
		jobSocket: make(map[model.SourceID]model.SourceID),
	}
	ix.boundCode, ix.hasBound = table.Code(eventtypes.StreamRequestBoundToJob)
	ix.socketCode, ix.hasSocket = table.Code(eventtypes.SocketPoolBoundToSocket)
	return ix, nil
}

// Missing returns the binding event names the table did not resolve.
func (ix *Index) Missing() []string {
	var names []string
	if !ix.hasBound {
		names = append(names, eventtypes.StreamRequestBoundToJob)
	}
	if !ix.hasSocket {
		names = append(names, eventtypes.SocketPoolBoundToSocket)
	}
	return names
}

// Observe records ev if it is a binding event. The last binding seen for a
// source wins.
func (ix *Index) Observe(ev model.Event) {
	if !ev.HasSource {
		return
	}
	switch {
	case ix.hasBound && ev.Type == ix.boundCode:
		if dep, ok := ev.Params.DependencyID(); ok {
			ix.streamJob[ev.Source.ID] = dep
		}
	case ix.hasSocket && ev.Type == ix.socketCode:
		if dep, ok := ev.Params.DependencyID(); ok {
			ix.jobSocket[ev.Source.ID] = dep
		}
	}
}

// ResolveHTTPStreamJobIDs returns one (stream, job) pair for every stream in
// ids that was bound to a job, in the order of ids.
func (ix *Index) ResolveHTTPStreamJobIDs(ids []model.SourceID) []model.JobBinding {
	out := make([]model.JobBinding, 0, len(ids))
	for _, id := range ids {
		if job, ok := ix.streamJob[id]; ok {
			out = append(out, model.JobBinding{HTTPSourceID: id, JobID: job})
		}
	}
	return out
}

// ResolveSocketIDs extends each binding whose job was bound to a socket into
// a (stream, job, socket) chain. No bindings yields an empty result without
// looking at the index.
func (ix *Index) ResolveSocketIDs(bindings []model.JobBinding) []model.IdentityChain {
	out := make([]model.IdentityChain, 0, len(bindings))
	if len(bindings) == 0 {
		return out
	}
	for _, b := range bindings {
		if socket, ok := ix.jobSocket[b.JobID]; ok {
			out = append(out, model.IdentityChain{HTTPSourceID: b.HTTPSourceID, JobID: b.JobID, SocketID: socket})
		}
	}
	return out
}

// Build indexes events in one pass.
func Build(table *eventtypes.Table, events []model.Event) (*Index, error) {
	ix, err := NewIndex(table)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		ix.Observe(ev)
	}
	return ix, nil
}
