// Package postgres records one row per analyzed direction in a
// speedtrace_runs table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crimson-sun/speedtrace/internal/model"
)

const schema = `CREATE TABLE IF NOT EXISTS speedtrace_runs (
	run_id            uuid             NOT NULL,
	direction         text             NOT NULL,
	capture           text             NOT NULL,
	client            text             NOT NULL,
	events            integer          NOT NULL,
	decode_errors     integer          NOT NULL,
	streams           integer          NOT NULL,
	sockets           integer          NOT NULL,
	total_bytes       bigint           NOT NULL,
	duration_seconds  double precision NOT NULL,
	mean_mbps         double precision NOT NULL,
	median_mbps       double precision NOT NULL,
	test_rtt_ms       double precision NOT NULL,
	idle_rtt_ms       double precision NOT NULL,
	loaded_rtt_ms     double precision NOT NULL,
	warnings          integer          NOT NULL,
	summary           jsonb            NOT NULL,
	created_at        timestamptz      NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, direction)
)`

// runColumns lists the columns rowArgs fills, in order. The first two form
// the primary key.
var runColumns = []string{
	"run_id", "direction", "capture", "client", "events", "decode_errors", "streams", "sockets",
	"total_bytes", "duration_seconds", "mean_mbps", "median_mbps",
	"test_rtt_ms", "idle_rtt_ms", "loaded_rtt_ms", "warnings", "summary",
}

// insertRun writes a row, replacing every non-key column of an existing
// (run_id, direction) row.
var insertRun = upsertSQL(runColumns, 2)

func upsertSQL(columns []string, keyColumns int) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	updates := make([]string, 0, len(columns)-keyColumns)
	for _, c := range columns[keyColumns:] {
		updates = append(updates, c+" = EXCLUDED."+c)
	}
	return fmt.Sprintf("INSERT INTO speedtrace_runs (%s) VALUES (%s)\nON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(columns[:keyColumns], ", "),
		strings.Join(updates, ", "))
}

// Execer is the subset of *pgxpool.Pool the output uses.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Option configures a postgres Output.
type Option func(*Output)

// WithDB uses db instead of connecting to the URL. The schema is still
// created on first use.
func WithDB(db Execer) Option {
	return func(o *Output) { o.db = db }
}

// WithMaxConns sets the pool size. Default: 4.
func WithMaxConns(n int32) Option {
	return func(o *Output) { o.maxConns = n }
}

// Output inserts run rows. The pool is opened and the table created lazily
// on the first Write.
type Output struct {
	url      string
	maxConns int32
	db       Execer
	pool     *pgxpool.Pool
	once     sync.Once
	initErr  error
	mu       sync.Mutex
}

// New creates a postgres output for a connection URL.
func New(url string, opts ...Option) *Output {
	o := &Output{url: url, maxConns: 4}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Output) connect(ctx context.Context) error {
	o.once.Do(func() {
		if o.db == nil {
			config, err := pgxpool.ParseConfig(o.url)
			if err != nil {
				o.initErr = fmt.Errorf("postgres output: parse url: %w", err)
				return
			}
			config.MaxConns = o.maxConns
			pool, err := pgxpool.NewWithConfig(ctx, config)
			if err != nil {
				o.initErr = fmt.Errorf("postgres output: connect: %w", err)
				return
			}
			o.pool = pool
			o.db = pool
		}
		if _, err := o.db.Exec(ctx, schema); err != nil {
			o.initErr = fmt.Errorf("postgres output: create table: %w", err)
		}
	})
	return o.initErr
}

// Write inserts the result's row, replacing the stored summary when the
// run and direction already exist.
func (o *Output) Write(ctx context.Context, res *model.Result) error {
	args, err := rowArgs(res)
	if err != nil {
		return err
	}
	if err := o.connect(ctx); err != nil {
		return err
	}
	if _, err := o.db.Exec(ctx, insertRun, args...); err != nil {
		return fmt.Errorf("postgres output: insert: %w", err)
	}
	return nil
}

// Close closes the pool if this output opened it.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pool != nil {
		o.pool.Close()
		o.pool = nil
	}
	return nil
}

func rowArgs(res *model.Result) ([]any, error) {
	id, err := uuid.Parse(res.RunID)
	if err != nil {
		return nil, fmt.Errorf("postgres output: run id %q: %w", res.RunID, err)
	}
	s := res.Summary()
	summary, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("postgres output: marshal: %w", err)
	}
	client := s.Client.Name
	if s.Client.Version != "" {
		client += "/" + s.Client.Version
	}
	return []any{
		pgtype.UUID{Bytes: id, Valid: true},
		string(s.Direction),
		s.Capture,
		client,
		s.Events,
		s.DecodeErrors,
		s.Streams,
		s.Sockets,
		s.TotalBytes,
		s.DurationSeconds,
		s.Throughput.Mean,
		s.Throughput.Median,
		s.TestLatency.Mean,
		s.IdleLatency.Mean,
		s.LoadedLatency.Mean,
		len(s.Warnings),
		summary,
	}, nil
}
