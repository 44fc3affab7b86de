package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultBatchSize caps how many events one flush drains from the
	// queue, matching the teacher's COPY-based bulk-insert sizing.
	DefaultBatchSize = 2000

	// DefaultFlushInterval is how often queued events are flushed even if
	// the batch isn't full.
	DefaultFlushInterval = 2 * time.Second

	// queueCapacity bounds the in-memory queue. Once full, Enqueue drops
	// the event rather than block the caller — the control loop must never
	// stall on audit I/O.
	queueCapacity = 10000
)

// Writer batches Events in memory and flushes them to Postgres via COPY.
type Writer struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	interval time.Duration
	batch    int

	queue   chan Event
	dropped uint64
	mu      sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWriter creates a Writer. pool may be nil, in which case Enqueue is a
// no-op — this lets the daemon construct a Writer unconditionally and skip
// wiring it only when Postgres isn't configured.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:     pool,
		logger:   logger.With("component", "audit_writer"),
		interval: DefaultFlushInterval,
		batch:    DefaultBatchSize,
		queue:    make(chan Event, queueCapacity),
		stopCh:   make(chan struct{}),
	}
}

// Enqueue queues an event for eventual persistence. Never blocks: if the
// queue is full, the event is dropped and counted.
func (w *Writer) Enqueue(ev Event) {
	if w == nil || w.pool == nil {
		return
	}
	select {
	case w.queue <- ev:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
}

// Start begins the background flush loop. No-op if pool is nil.
func (w *Writer) Start() {
	if w == nil || w.pool == nil {
		return
	}
	w.wg.Add(1)
	go w.run()
	w.logger.Info("audit writer started", "interval", w.interval, "batch_size", w.batch)
}

// Stop drains and flushes any remaining queued events, then returns.
func (w *Writer) Stop() {
	if w == nil || w.pool == nil {
		return
	}
	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("audit writer stopped")
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			// flush drains at most one batch, so repeat until the queue
			// is empty.
			for len(w.queue) > 0 {
				w.flush()
			}
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Writer) flush() {
	events := w.drain()
	if len(events) == 0 {
		return
	}

	w.mu.Lock()
	dropped := w.dropped
	w.dropped = 0
	w.mu.Unlock()
	if dropped > 0 {
		w.logger.Warn("audit queue overflowed, events dropped", "dropped", dropped)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := w.copyEvents(ctx, events); err != nil {
		w.logger.Error("failed to write audit events", "error", err, "count", len(events))
		return
	}

	w.logger.Debug("flushed audit events", "count", len(events), "duration", time.Since(start))
}

func (w *Writer) drain() []Event {
	events := make([]Event, 0, w.batch)
	for len(events) < w.batch {
		select {
		case ev := <-w.queue:
			events = append(events, ev)
		default:
			return events
		}
	}
	return events
}

// copyEvents bulk-inserts via a temp table, same pattern as the teacher's
// probe-result ingestion: COPY into a session-local staging table, then
// INSERT ... ON CONFLICT DO NOTHING so a crash-and-retry never double-counts.
func (w *Writer) copyEvents(ctx context.Context, events []Event) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		CREATE TEMP TABLE audit_events_staging (
			id UUID NOT NULL,
			time TIMESTAMPTZ NOT NULL,
			event_type TEXT NOT NULL,
			host_id BIGINT NOT NULL,
			host_name TEXT NOT NULL,
			detail JSONB
		) ON COMMIT DROP
	`)
	if err != nil {
		return err
	}

	rows := make([][]any, len(events))
	for i, ev := range events {
		detail, jerr := json.Marshal(ev.Detail)
		if jerr != nil {
			detail = []byte("{}")
		}
		rows[i] = []any{ev.ID, ev.Time, string(ev.Type), ev.HostID, ev.HostName, detail}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"audit_events_staging"},
		[]string{"id", "time", "event_type", "host_id", "host_name", "detail"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_events (id, time, event_type, host_id, host_name, detail)
		SELECT id, time, event_type, host_id, host_name, detail
		FROM audit_events_staging
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
