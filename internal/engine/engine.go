package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"alerthub/internal/clock"
	"alerthub/internal/config"
	"alerthub/internal/domain"
	"alerthub/internal/metrics"
	"alerthub/internal/notify"

	"golang.org/x/sync/errgroup"
)

const defaultActor = "user"

// ErrStopped is returned by operations issued after the engine loop exited.
var ErrStopped = errors.New("engine stopped")

// Journal receives critical alerts on a best-effort side channel.
// Params: Record must not block; Prune removes entries older than retention.
// Returns: side-channel hooks used by admission and cleanup.
type Journal interface {
	Record(alert domain.AlertRecord)
	Prune(ctx context.Context, retention time.Duration) (int, error)
}

// Engine owns the active set and history on a single actor goroutine.
// Params: engine config, logger, clock, publisher, queue, and optional journal.
// Returns: alert lifecycle engine; start it with Loop or Run.
//
// Subscriber callbacks run on the actor goroutine. They may call Submit at any
// priority but must not wait on other engine operations.
type Engine struct {
	cfg       config.EngineConfig
	logger    *slog.Logger
	clock     clock.Clock
	enricher  *Enricher
	queue     *Queue
	active    *ActiveStore
	dedup     *Deduplicator
	history   *History
	publisher *notify.Publisher

	escalations map[domain.Category][]Escalation
	journal     Journal
	retention   time.Duration

	urgent  urgentLane
	wake    chan struct{}
	inbox   chan func()
	running atomic.Bool
	stopped chan struct{}
	started chan struct{}
}

// New creates engine with built-in escalations enabled by config.
// Params: engine config with defaults applied, logger, and clock (nil means real UTC clock).
// Returns: engine ready for Loop/Run.
func New(cfg config.EngineConfig, logger *slog.Logger, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		clock:       clk,
		enricher:    NewEnricher(cfg, clk, logger),
		queue:       NewQueue(cfg.BacklogWarnThreshold, logger),
		active:      NewActiveStore(),
		dedup:       NewDeduplicator(cfg.DedupWindow()),
		history:     NewHistory(cfg.MaxHistory),
		publisher:   notify.NewPublisher(logger),
		escalations: make(map[domain.Category][]Escalation),
		wake:        make(chan struct{}, 1),
		inbox:       make(chan func()),
		stopped:     make(chan struct{}),
		started:     make(chan struct{}),
	}
	if cfg.StockOutEnabled() {
		e.RegisterEscalation(domain.CategoryInventory, StockOut{})
	}
	return e
}

// AttachJournal sets the critical-alert side channel; call before Loop/Run.
func (e *Engine) AttachJournal(journal Journal, retention time.Duration) {
	e.journal = journal
	e.retention = retention
}

// RegisterEscalation adds handler for category; call before Loop/Run.
func (e *Engine) RegisterEscalation(category domain.Category, handler Escalation) {
	if handler == nil {
		return
	}
	e.escalations[category] = append(e.escalations[category], handler)
}

// Subscribe registers lifecycle callback.
// Params: handler invoked synchronously on the actor goroutine.
// Returns: idempotent unsubscribe func.
func (e *Engine) Subscribe(handler notify.Handler) func() {
	return e.publisher.Subscribe(handler)
}

// Started is closed once the actor loop accepts work.
func (e *Engine) Started() <-chan struct{} {
	return e.started
}

// Stopped is closed once the actor loop has exited.
func (e *Engine) Stopped() <-chan struct{} {
	return e.stopped
}

// QueueDepth returns submissions not yet admitted, critical ones included.
func (e *Engine) QueueDepth() int {
	return e.queue.Len() + e.urgent.len()
}

// Loop runs the actor until ctx is cancelled.
// Params: lifecycle context.
// Returns: nil after cancellation, once every pending submission is admitted;
// a second call returns ErrStopped.
func (e *Engine) Loop(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		select {
		case <-e.stopped:
			return ErrStopped
		default:
			return errors.New("engine loop already running")
		}
	}
	close(e.started)
	defer close(e.stopped)

	e.logger.Info("engine loop started")
	for {
		e.runTask(e.admitUrgent)
		select {
		case <-ctx.Done():
			drained := e.drainPending()
			e.logger.Info("engine loop stopped", "drained", drained, "active", e.active.Len())
			return nil
		case <-e.wake:
		case task := <-e.inbox:
			e.runTask(e.admitUrgent)
			e.runTask(task)
		}
	}
}

// admitUrgent admits critical alerts submitted since the last pass.
func (e *Engine) admitUrgent() {
	for _, record := range e.urgent.take() {
		e.admit(record)
	}
}

// drainPending admits everything still waiting when the loop stops.
// Returns: number of admitted submissions.
func (e *Engine) drainPending() int {
	drained := 0
	for {
		critical := e.urgent.take()
		batch := e.queue.PopN(e.queue.Len())
		if len(critical) == 0 && len(batch) == 0 {
			return drained
		}
		for _, record := range append(critical, batch...) {
			e.runTask(func() { e.admit(record) })
		}
		drained += len(critical) + len(batch)
	}
}

// Run starts the actor plus batch, expiration, and cleanup timers.
// Params: lifecycle context.
// Returns: first non-cancellation error from the supervised goroutines.
func (e *Engine) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return e.Loop(groupCtx) })
	group.Go(func() error {
		return e.every(groupCtx, e.cfg.BatchInterval(), func(ctx context.Context) error {
			_, err := e.ProcessBatch(ctx)
			return err
		})
	})
	group.Go(func() error {
		return e.every(groupCtx, e.cfg.ExpireInterval(), func(ctx context.Context) error {
			_, err := e.ExpireDue(ctx)
			return err
		})
	})
	group.Go(func() error {
		return e.every(groupCtx, e.cfg.CleanupInterval(), func(ctx context.Context) error {
			_, err := e.Cleanup(ctx)
			return err
		})
	})
	err := group.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

// every runs tick on interval until ctx ends.
func (e *Engine) every(ctx context.Context, interval time.Duration, tick func(context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("non-positive engine interval %s", interval)
	}
	select {
	case <-ctx.Done():
		return nil
	case <-e.started:
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := tick(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, ErrStopped) {
					return nil
				}
				e.logger.Error("engine tick failed", "interval", interval.String(), "error", err.Error())
			}
		}
	}
}

// do executes fn on the actor goroutine and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case e.inbox <- task:
	}
	<-done
	return nil
}

func (e *Engine) runTask(task func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Error("engine task panicked", "error", fmt.Sprint(recovered), "stack", string(debug.Stack()))
		}
	}()
	task()
}

// Submit enriches raw and enqueues it without waiting for the actor.
// Params: raw alert; ctx is accepted for the Submitter contract.
// Returns: assigned id. Critical alerts skip the batch tick and are admitted
// before any engine operation issued after Submit returns; everything else
// waits for the next batch tick.
func (e *Engine) Submit(_ context.Context, raw domain.RawAlert) string {
	record := e.enricher.Enrich(raw)
	select {
	case <-e.stopped:
		e.logger.Warn("alert not admitted, engine stopped", "alert_id", record.ID, "priority", record.Priority)
		return record.ID
	default:
	}
	if record.Priority != domain.PriorityCritical {
		e.queue.Push(record)
		return record.ID
	}
	e.urgent.push(record)
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return record.ID
}

// ProcessBatch admits up to batch_size queued alerts in submission order.
// Returns: number of admitted alerts.
func (e *Engine) ProcessBatch(ctx context.Context) (int, error) {
	processed := 0
	err := e.do(ctx, func() {
		batch := e.queue.PopN(e.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}
		started := time.Now()
		for _, record := range batch {
			e.admit(record)
		}
		processed = len(batch)
		metrics.BatchDuration.Observe(time.Since(started).Seconds())
	})
	return processed, err
}

// Acknowledge marks an active alert as acknowledged.
// Params: alert id and actor (empty means "user").
// Returns: false when id is not active or already acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, id, actor string) (bool, error) {
	if actor == "" {
		actor = defaultActor
	}
	acknowledged := false
	err := e.do(ctx, func() {
		current, ok := e.active.Get(id)
		if !ok || current.Acknowledged {
			return
		}
		now := e.clock.Now()
		updated, _ := e.active.Mutate(id, func(record *domain.AlertRecord) {
			record.Acknowledged = true
			record.AcknowledgedAt = &now
			record.AcknowledgedBy = actor
		})
		acknowledged = true
		metrics.AlertsAcknowledgedTotal.Inc()
		e.transition(domain.EventAcknowledged, updated)
	})
	return acknowledged, err
}

// Dismiss removes an active alert.
// Params: alert id and reason text (unknown values mean "user").
// Returns: true on the first dismissal of an active id, false afterwards.
func (e *Engine) Dismiss(ctx context.Context, id, reason string) (bool, error) {
	dismissed := false
	err := e.do(ctx, func() {
		dismissed = e.dismiss(id, domain.ParseDismissReason(reason))
	})
	return dismissed, err
}

// ExpireDue dismisses every active alert past its deadline with reason expired.
// Returns: number of dismissed alerts.
func (e *Engine) ExpireDue(ctx context.Context) (int, error) {
	count := 0
	err := e.do(ctx, func() {
		count = e.dismissOverdue(domain.DismissExpired)
	})
	return count, err
}

// CleanupReport summarizes one janitor pass.
type CleanupReport struct {
	Dismissed      int `json:"dismissed"`
	HistoryTrimmed int `json:"historyTrimmed"`
	JournalPruned  int `json:"journalPruned"`
}

// Cleanup runs the janitor pass.
// Params: ctx for actor access and journal pruning.
// Returns: report; journal failures are logged, not returned.
func (e *Engine) Cleanup(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport
	err := e.do(ctx, func() {
		report.Dismissed = e.dismissOverdue(domain.DismissCleanup)
		report.HistoryTrimmed = e.history.Trim(e.cfg.MaxHistory)
		metrics.HistoryEntries.Set(float64(e.history.Len()))
	})
	if err != nil {
		return report, err
	}
	if e.journal != nil && e.retention > 0 {
		pruned, pruneErr := e.journal.Prune(ctx, e.retention)
		report.JournalPruned = pruned
		if pruneErr != nil {
			e.logger.Error("journal prune failed", "error", pruneErr.Error())
		}
	}
	if report.Dismissed > 0 || report.HistoryTrimmed > 0 || report.JournalPruned > 0 {
		e.logger.Info(
			"cleanup completed",
			"dismissed", report.Dismissed,
			"history_trimmed", report.HistoryTrimmed,
			"journal_pruned", report.JournalPruned,
		)
	}
	return report, nil
}

// List returns active alerts in priority order.
func (e *Engine) List(ctx context.Context, filter domain.Filter) ([]domain.AlertRecord, error) {
	var out []domain.AlertRecord
	err := e.do(ctx, func() {
		out = e.active.List(filter)
	})
	return out, err
}

// History returns newest-first lifecycle snapshots.
// Params: limit (<=0 means 50) and filter.
func (e *Engine) History(ctx context.Context, limit int, filter domain.Filter) ([]domain.HistoryEntry, error) {
	var out []domain.HistoryEntry
	err := e.do(ctx, func() {
		out = e.history.Newest(limit, filter)
	})
	return out, err
}

// Statistics summarizes alerts created in the last windowHours (<=0 means 24).
func (e *Engine) Statistics(ctx context.Context, windowHours float64) (domain.Statistics, error) {
	var stats domain.Statistics
	err := e.do(ctx, func() {
		stats = ComputeStatistics(e.history, e.clock.Now(), windowHours)
	})
	return stats, err
}

// admit runs dedup, insertion, journaling, and escalation for one record.
func (e *Engine) admit(record domain.AlertRecord) {
	if id, ok := e.dedup.FindDuplicate(record, e.active); ok {
		merged, _ := e.active.Mutate(id, func(existing *domain.AlertRecord) {
			Merge(existing, record)
		})
		metrics.DedupMergesTotal.Inc()
		e.transition(domain.EventUpdated, merged)
		return
	}

	e.active.Add(record)
	e.dedup.Track(record)
	e.transition(domain.EventAdded, record)
	if record.Priority == domain.PriorityCritical && e.journal != nil {
		e.journal.Record(record)
	}
	e.escalate(record)
}

// escalate admits alerts derived from record; derived alerts never escalate.
func (e *Engine) escalate(record domain.AlertRecord) {
	if record.Derived() {
		return
	}
	for _, handler := range e.escalations[record.Category] {
		for _, raw := range e.deriveSafely(handler, record) {
			derived := e.enricher.Enrich(raw)
			if derived.Metadata == nil {
				derived.Metadata = make(map[string]any, 1)
			}
			if !derived.Derived() {
				derived.Metadata[domain.MetaDerivedFrom] = record.ID
			}
			metrics.EscalationsTotal.WithLabelValues(handler.Name()).Inc()
			e.logger.Info(
				"alert escalated",
				"handler", handler.Name(),
				"source_id", record.ID,
				"derived_id", derived.ID,
				"priority", derived.Priority,
			)
			e.admit(derived)
		}
	}
}

func (e *Engine) deriveSafely(handler Escalation, record domain.AlertRecord) (derived []domain.RawAlert) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Error("escalation handler panicked", "handler", handler.Name(), "alert_id", record.ID, "error", fmt.Sprint(recovered))
			derived = nil
		}
	}()
	return handler.Derive(record.Clone())
}

// dismiss removes id and publishes the dismissal after removal.
func (e *Engine) dismiss(id string, reason domain.DismissReason) bool {
	record, ok := e.active.Remove(id)
	if !ok {
		return false
	}
	e.dedup.Forget(record)
	now := e.clock.Now()
	record.Dismissed = true
	record.DismissedAt = &now
	record.DismissalReason = reason
	metrics.AlertsDismissedTotal.WithLabelValues(string(reason)).Inc()
	e.transition(domain.EventDismissed, record)
	return true
}

func (e *Engine) dismissOverdue(reason domain.DismissReason) int {
	now := e.clock.Now()
	due := e.active.Select(func(record domain.AlertRecord) bool {
		return record.Expired(now)
	})
	for _, id := range due {
		e.dismiss(id, reason)
	}
	return len(due)
}

// transition records history, updates gauges, and notifies subscribers.
func (e *Engine) transition(kind domain.EventKind, record domain.AlertRecord) {
	snapshot := record.Clone()
	e.history.Append(domain.HistoryEntry{Alert: snapshot, Event: kind, ProcessedAt: e.clock.Now()})
	metrics.ActiveAlerts.Set(float64(e.active.Len()))
	metrics.HistoryEntries.Set(float64(e.history.Len()))
	e.logger.Debug("alert transition", "event", kind, "alert_id", record.ID, "priority", record.Priority, "count", record.Count)
	e.publisher.Publish(kind, snapshot)
}
