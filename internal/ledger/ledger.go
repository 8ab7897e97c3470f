// Package ledger is an ambient, best-effort audit trail of terminal task
// outcomes. It is not part of the dispatch core: an outage here never
// blocks a task's terminal event. When AUDIT_DSN is unset the ledger is a
// no-op, following the teacher's pattern of disabling storage adapters
// rather than failing when unconfigured.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/visiondispatch/core/internal/model"
)

const (
	writeQueueSize   = 1024
	bootstrapTimeout = 10 * time.Second
)

// Ledger records terminal TaskResults asynchronously, out-of-band from the
// dispatch path. Record never blocks the caller past enqueuing onto an
// internal buffered channel; a full buffer drops the record rather than
// applying backpressure to the dispatcher.
type Ledger struct {
	db      *sql.DB
	log     zerolog.Logger
	writes  chan model.TaskResult
	done    chan struct{}
	enabled bool
}

// New opens a connection to dsn and starts the background writer. An
// empty dsn disables the ledger entirely.
func New(ctx context.Context, dsn string, log zerolog.Logger) (*Ledger, error) {
	if dsn == "" {
		return &Ledger{enabled: false}, nil
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}

	l := &Ledger{
		db:      db,
		log:     log.With().Str("component", "ledger").Logger(),
		writes:  make(chan model.TaskResult, writeQueueSize),
		done:    make(chan struct{}),
		enabled: true,
	}

	go func() {
		bootstrapCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
		defer cancel()
		if err := l.bootstrap(bootstrapCtx); err != nil {
			l.log.Warn().Err(err).Msg("ledger schema bootstrap failed")
		}
	}()

	go l.run()
	return l, nil
}

func (l *Ledger) bootstrap(ctx context.Context) error {
	for _, stmt := range defaultDDLStatements() {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// Enabled reports whether the ledger is writing to a real backing store.
func (l *Ledger) Enabled() bool {
	return l.enabled
}

// Record enqueues result for asynchronous persistence. Non-blocking; a
// full write buffer drops the record and logs a warning rather than
// slowing the dispatcher.
func (l *Ledger) Record(result model.TaskResult) {
	if !l.enabled {
		return
	}
	select {
	case l.writes <- result:
	default:
		l.log.Warn().Str("taskId", result.TaskID).Msg("ledger write buffer full, dropping record")
	}
}

func (l *Ledger) run() {
	defer close(l.done)
	const insertSQL = `
INSERT INTO task_results (task_id, status, description, error_kind, message, worker_id, partition, elapsed_ms, attempts)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (task_id) DO NOTHING`

	for result := range l.writes {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := l.db.ExecContext(ctx, insertSQL,
			result.TaskID, result.Status, nullableString(result.Description), nullableString(string(result.ErrorKind)),
			nullableString(result.Message), result.WorkerID, result.Partition, result.ElapsedMS, result.Attempts)
		cancel()
		if err != nil {
			l.log.Warn().Err(err).Str("taskId", result.TaskID).Msg("ledger write failed")
		}
	}
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Close stops accepting new records, drains the write queue, and closes
// the database connection. A disabled ledger closes immediately.
func (l *Ledger) Close(ctx context.Context) error {
	if !l.enabled {
		return nil
	}
	close(l.writes)
	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return l.db.Close()
}
