package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/crimson-sun/speedtrace/internal/atomicfile"
	"github.com/crimson-sun/speedtrace/internal/model"
	"github.com/crimson-sun/speedtrace/internal/output"
)

const filePerm = 0644

// Option configures a file Output.
type Option func(*Output)

// WithPretty indents the written JSON.
func WithPretty(pretty bool) Option {
	return func(o *Output) { o.pretty = pretty }
}

// WithDirectionDirs writes each result under <dir>/<direction>/ instead of
// <dir>/ itself. Runs that analyze both directions need it, since both
// sets share file names.
func WithDirectionDirs() Option {
	return func(o *Output) { o.perDirection = true }
}

// Output writes each result as a directory of JSON documents. Every document
// is encoded before the first one is written, and each file is replaced
// atomically.
type Output struct {
	mu           sync.Mutex
	dir          string
	verbosity    output.Verbosity
	pretty       bool
	perDirection bool
}

// New creates a file output rooted at dir. The directory is created if needed.
func New(dir string, verbosity output.Verbosity, opts ...Option) (*Output, error) {
	o := &Output{dir: dir, verbosity: verbosity}
	for _, opt := range opts {
		opt(o)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("file output: mkdir %s: %w", dir, err)
	}
	return o, nil
}

// Write encodes the result's documents and writes them into the output directory.
func (o *Output) Write(_ context.Context, res *model.Result) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	dir := o.Dir(res.Direction)
	docs := output.Documents(res, o.verbosity)
	encoded := make([][]byte, len(docs))
	for i, d := range docs {
		data, err := output.Marshal(d.Value, o.pretty)
		if err != nil {
			return fmt.Errorf("file output: marshal %s: %w", d.Name, err)
		}
		encoded[i] = append(data, '\n')
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("file output: mkdir %s: %w", dir, err)
	}
	for i, d := range docs {
		if err := atomicfile.Write(filepath.Join(dir, d.Name), encoded[i], filePerm); err != nil {
			return fmt.Errorf("file output: %w", err)
		}
	}
	return nil
}

// Dir returns the directory a result for direction d is written to.
func (o *Output) Dir(d model.Direction) string {
	if o.perDirection {
		return filepath.Join(o.dir, string(d))
	}
	return o.dir
}

// Close is a no-op; every Write completes its files.
func (o *Output) Close() error {
	return nil
}

// URLListName returns the file name of a direction's URL list.
func URLListName(d model.Direction) string {
	return string(d) + "_urls.json"
}

// WriteURLList writes a classified URL list to <dir>/<direction>_urls.json.
func WriteURLList(dir string, d model.Direction, urls model.URLList, pretty bool) (string, error) {
	data, err := output.Marshal(urls, pretty)
	if err != nil {
		return "", fmt.Errorf("file output: marshal url list: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("file output: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, URLListName(d))
	if err := atomicfile.Write(path, append(data, '\n'), filePerm); err != nil {
		return "", fmt.Errorf("file output: %w", err)
	}
	return path, nil
}
