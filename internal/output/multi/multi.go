package multi

import (
	"context"
	"errors"
	"fmt"

	"github.com/crimson-sun/speedtrace/internal/model"
	"github.com/crimson-sun/speedtrace/internal/output"
)

type sink struct {
	name string
	out  output.Output
}

// Multi fans a result out to every configured sink in the order they were
// added. A failing sink does not stop delivery to the rest; errors are
// joined and prefixed with the sink's name.
type Multi struct {
	sinks []sink
}

// New creates an empty Multi.
func New() *Multi {
	return &Multi{}
}

// Add registers a named sink. A nil output is ignored.
func (m *Multi) Add(name string, o output.Output) *Multi {
	if o != nil {
		m.sinks = append(m.sinks, sink{name: name, out: o})
	}
	return m
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Names returns the sink names in delivery order.
func (m *Multi) Names() []string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.name
	}
	return names
}

// Write delivers the result to every sink.
func (m *Multi) Write(ctx context.Context, res *model.Result) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.out.Write(ctx, res); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink, collecting errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
