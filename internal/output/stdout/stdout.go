package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/crimson-sun/speedtrace/internal/model"
)

// Option configures a stdout Output.
type Option func(*Output)

// WithWriter redirects the output. Default: os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(o *Output) { o.w = w }
}

// Output writes one JSON summary per result to stdout.
type Output struct {
	w   io.Writer
	enc *json.Encoder
}

// New creates a stdout Output with optional pretty-printed JSON.
func New(pretty bool, opts ...Option) *Output {
	o := &Output{w: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}
	o.enc = json.NewEncoder(o.w)
	if pretty {
		o.enc.SetIndent("", "  ")
	}
	return o
}

func (o *Output) Write(_ context.Context, res *model.Result) error {
	if err := o.enc.Encode(res.Summary()); err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	return nil
}
