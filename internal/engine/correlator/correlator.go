// Package correlator finds the source ids that belong to a speed test's
// payload requests.
package correlator

import (
	"fmt"

	"github.com/crimson-sun/speedtrace/internal/engine/eventtypes"
	"github.com/crimson-sun/speedtrace/internal/model"
)

// Set is an insertion-ordered set of source ids.
type Set struct {
	ids   []model.SourceID
	index map[model.SourceID]struct{}
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{index: make(map[model.SourceID]struct{})}
}

// Add inserts id and reports whether it was new.
func (s *Set) Add(id model.SourceID) bool {
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

// Has reports whether id is in the set.
func (s *Set) Has(id model.SourceID) bool {
	_, ok := s.index[id]
	return ok
}

// IDs returns the ids in insertion order.
func (s *Set) IDs() []model.SourceID {
	return append([]model.SourceID{}, s.ids...)
}

// Len returns the number of ids.
func (s *Set) Len() int { return len(s.ids) }

// Correlator recognizes the requests that opened a target URL.
type Correlator struct {
	opening int
	targets map[string]struct{}
}

// New returns a Correlator matching targets on events of the named opening
// type. It fails with ErrMissingSchema when that name does not resolve.
func New(table *eventtypes.Table, openingEvent string, targets []string) (*Correlator, error) {
	code, ok := table.Code(openingEvent)
	if !ok {
		return nil, fmt.Errorf("correlator: %w: opening event %s", eventtypes.ErrMissingSchema, openingEvent)
	}
	c := &Correlator{opening: code, targets: make(map[string]struct{}, len(targets))}
	for _, u := range targets {
		c.targets[u] = struct{}{}
	}
	return c, nil
}

func (c *Correlator) urlMatches(ev model.Event) bool {
	if ev.Params.URL == "" {
		return false
	}
	_, ok := c.targets[ev.Params.URL]
	return ok
}

func (c *Correlator) typeMatches(ev model.Event) bool {
	return ev.Type == c.opening
}

// Recognize returns the source ids of every event that both names a target
// URL and is of the opening type, in first-seen order.
func (c *Correlator) Recognize(events []model.Event) *Set {
	set := NewSet()
	if len(c.targets) == 0 {
		return set
	}
	for _, ev := range events {
		if ev.HasSource && c.urlMatches(ev) && c.typeMatches(ev) {
			set.Add(ev.Source.ID)
		}
	}
	return set
}
