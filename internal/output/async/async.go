package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crimson-sun/speedtrace/internal/model"
	"github.com/crimson-sun/speedtrace/internal/output"
)

const (
	defaultBufferSize   = 16
	defaultDrainTimeout = 30 * time.Second
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("async output closed")

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the channel buffer capacity. Default: 16.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithDrainTimeout bounds how long Close waits for queued results. Default: 30s.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Async) { a.drainTimeout = d }
}

// WithOnError sets the callback invoked when the inner output's Write fails.
// Default: logs a warning.
func WithOnError(f func(error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// WithDropOnFull makes Write drop the result instead of blocking when the
// buffer is full.
func WithDropOnFull() Option {
	return func(a *Async) { a.dropOnFull = true }
}

// Async hands results to a background goroutine that writes them to the
// wrapped output, so slow network sinks do not hold up the run. Errors from
// the inner output go to errFunc instead of the caller.
type Async struct {
	inner        output.Output
	ch           chan *model.Result
	done         chan struct{}
	errFunc      func(error)
	bufSize      int
	drainTimeout time.Duration
	dropOnFull   bool

	mu     sync.RWMutex
	closed bool
}

// New wraps an output.Output. The drain goroutine starts immediately.
func New(inner output.Output, opts ...Option) *Async {
	a := &Async{
		inner:        inner,
		bufSize:      defaultBufferSize,
		drainTimeout: defaultDrainTimeout,
		errFunc:      func(err error) { log.Warn().Err(err).Msg("async output write error") },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan *model.Result, a.bufSize)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// Write queues the result. It blocks while the buffer is full unless
// WithDropOnFull was given.
func (a *Async) Write(_ context.Context, res *model.Result) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	if a.dropOnFull {
		select {
		case a.ch <- res:
		default:
			log.Warn().
				Str("run_id", res.RunID).
				Str("direction", string(res.Direction)).
				Msg("async output buffer full, dropping result")
		}
		return nil
	}
	a.ch <- res
	return nil
}

// Close stops accepting results, waits for the queue to drain (bounded by
// the drain timeout) and closes the inner output. Later calls return nil.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-time.After(a.drainTimeout):
		log.Warn().Dur("timeout", a.drainTimeout).Msg("async output drain timed out")
	}
	return a.inner.Close()
}

func (a *Async) drain() {
	defer close(a.done)
	for res := range a.ch {
		if err := a.inner.Write(context.Background(), res); err != nil {
			a.errFunc(err)
		}
	}
}
