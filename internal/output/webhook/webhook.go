package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crimson-sun/speedtrace/internal/model"
)

const (
	defaultBatchSize     = 10
	defaultFlushInterval = 5 * time.Second
	defaultTimeout       = 10 * time.Second
	maxRetries           = 3
	maxErrorBody         = 512
	source               = "speedtrace"
)

// Payload is the body of one POST.
type Payload struct {
	Source string          `json:"source"`
	SentAt time.Time       `json:"sent_at"`
	Runs   []model.Summary `json:"runs"`
}

// StatusError is a non-2xx response from the endpoint.
type StatusError struct {
	StatusCode int
	Body       string

	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook: HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Option configures a webhook Output.
type Option func(*Output)

// WithHeaders sets custom HTTP headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(o *Output) { o.headers = h }
}

// WithBatchSize sets how many summaries are held before a flush. Default: 10.
func WithBatchSize(n int) Option {
	return func(o *Output) { o.batchSize = n }
}

// WithFlushInterval sets the maximum age of a pending batch. Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Output) { o.flushInterval = d }
}

// WithTimeout sets the per-request timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(o *Output) { o.client.Timeout = d }
}

// WithRetryDelay sets the backoff base: retry n waits base<<(n-1) unless the
// endpoint sent Retry-After. Default: 1s.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Output) { o.retryDelay = d }
}

// WithOnError sets the callback for failed timer flushes. Default: a warning
// log line.
func WithOnError(f func(error)) Option {
	return func(o *Output) { o.errFunc = f }
}

// Output POSTs run summaries to an HTTP endpoint in batches. A batch goes
// out when it is full, when its timer fires, or on Close. 429 and 5xx
// responses are retried.
type Output struct {
	client        *http.Client
	url           string
	headers       map[string]string
	batchSize     int
	flushInterval time.Duration
	retryDelay    time.Duration
	errFunc       func(error)

	mu      sync.Mutex
	pending []model.Summary
	timer   *time.Timer
	now     func() time.Time

	sendMu sync.Mutex
}

// New creates a webhook output for url.
func New(url string, opts ...Option) *Output {
	o := &Output{
		client:        &http.Client{Timeout: defaultTimeout},
		url:           url,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		retryDelay:    time.Second,
		errFunc:       func(err error) { log.Warn().Err(err).Str("url", url).Msg("webhook flush failed") },
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.batchSize < 1 {
		o.batchSize = 1
	}
	return o
}

// Write queues the result's summary. A write that fills the batch sends it
// before returning; other writes never wait on the network.
func (o *Output) Write(_ context.Context, res *model.Result) error {
	o.mu.Lock()
	o.pending = append(o.pending, res.Summary())
	if len(o.pending) < o.batchSize {
		if o.timer == nil {
			o.timer = time.AfterFunc(o.flushInterval, o.onTimer)
		}
		o.mu.Unlock()
		return nil
	}
	runs := o.takeLocked()
	o.mu.Unlock()
	return o.deliver(runs)
}

func (o *Output) onTimer() {
	o.mu.Lock()
	runs := o.takeLocked()
	o.mu.Unlock()
	if err := o.deliver(runs); err != nil {
		o.errFunc(err)
	}
}

// Close sends whatever is still pending.
func (o *Output) Close() error {
	o.mu.Lock()
	runs := o.takeLocked()
	o.mu.Unlock()
	return o.deliver(runs)
}

// takeLocked detaches the pending batch and stops its timer. Caller must
// hold o.mu.
func (o *Output) takeLocked() []model.Summary {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	runs := o.pending
	o.pending = nil
	return runs
}

// deliver sends one detached batch. Batches go out one at a time.
func (o *Output) deliver(runs []model.Summary) error {
	if len(runs) == 0 {
		return nil
	}
	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	body, err := json.Marshal(Payload{Source: source, SentAt: o.now().UTC(), Runs: runs})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	return o.send(body)
}

// send POSTs body, retrying temporary failures up to maxRetries times.
func (o *Output) send(body []byte) error {
	var last *StatusError
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(o.backoff(attempt, last))
		}
		err := o.post(body)
		if err == nil {
			return nil
		}
		var se *StatusError
		if !errors.As(err, &se) || !se.Temporary() {
			return err
		}
		last = se
		log.Debug().Int("attempt", attempt+1).Int("status", se.StatusCode).Msg("webhook post failed, retrying")
	}
	return last
}

func (o *Output) post(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		se.retryAfter = time.Duration(secs) * time.Second
	}
	return se
}

// backoff returns the wait before retry attempt.
func (o *Output) backoff(attempt int, last *StatusError) time.Duration {
	if last != nil && last.retryAfter > 0 {
		return last.retryAfter
	}
	return o.retryDelay << (attempt - 1)
}
