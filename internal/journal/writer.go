package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"alerthub/internal/clock"
	"alerthub/internal/domain"
	"alerthub/internal/metrics"
)

const writeTimeout = 5 * time.Second

// Writer records critical alerts asynchronously on top of a Store.
// Params: backing store, bounded buffer, logger, and clock.
// Returns: non-blocking journal front end owned by the engine.
type Writer struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending chan Entry
	done    chan struct{}
}

// NewWriter starts the background write loop.
// Params: store, buffer size (minimum 1), optional logger and clock.
// Returns: running writer; call Close to drain.
func NewWriter(store Store, buffer int, logger *slog.Logger, clk clock.Clock) *Writer {
	if buffer <= 0 {
		buffer = 1
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	w := &Writer{
		store:   store,
		clock:   clk,
		logger:  logger,
		pending: make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// Record enqueues one alert snapshot.
// Params: critical alert record.
// Returns: none; a full buffer or closed writer drops the entry.
func (w *Writer) Record(alert domain.AlertRecord) {
	entry := Entry{Alert: alert.Clone(), RecordedAt: w.clock.Now()}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.drop(entry, "closed")
		return
	}
	select {
	case w.pending <- entry:
	default:
		w.drop(entry, "buffer full")
	}
}

func (w *Writer) drop(entry Entry, reason string) {
	metrics.JournalWritesTotal.WithLabelValues("dropped").Inc()
	if w.logger != nil {
		w.logger.Warn("journal entry dropped", "alert_id", entry.Alert.ID, "reason", reason)
	}
}

// Prune removes entries older than retention relative to now.
// Params: ctx and retention window.
// Returns: removed count and store error.
func (w *Writer) Prune(ctx context.Context, retention time.Duration) (int, error) {
	removed, err := w.store.Prune(ctx, w.clock.Now().Add(-retention))
	if removed > 0 {
		metrics.JournalPrunedTotal.Add(float64(removed))
	}
	return removed, err
}

// Entries lists stored journal entries.
func (w *Writer) Entries(ctx context.Context) ([]Entry, error) {
	return w.store.List(ctx)
}

// Close stops accepting entries and waits for buffered writes.
// Params: none.
// Returns: nil; the store itself is closed by its owner.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return nil
	}
	w.closed = true
	close(w.pending)
	w.mu.Unlock()
	<-w.done
	return nil
}

func (w *Writer) loop() {
	defer close(w.done)
	for entry := range w.pending {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := w.store.Append(ctx, entry)
		cancel()
		if err != nil {
			metrics.JournalWritesTotal.WithLabelValues("error").Inc()
			if w.logger != nil {
				w.logger.Error("journal write failed", "alert_id", entry.Alert.ID, "error", err.Error())
			}
			continue
		}
		metrics.JournalWritesTotal.WithLabelValues("ok").Inc()
	}
}
