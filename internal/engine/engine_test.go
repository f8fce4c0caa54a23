package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"alerthub/internal/clock"
	"alerthub/internal/config"
	"alerthub/internal/domain"
	"alerthub/internal/ingest"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type eventLog struct {
	mu     sync.Mutex
	events []domain.HistoryEntry
}

func (l *eventLog) handle(kind domain.EventKind, alert domain.AlertRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, domain.HistoryEntry{Alert: alert, Event: kind})
}

func (l *eventLog) count(kind domain.EventKind, id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, event := range l.events {
		if event.Event == kind && event.Alert.ID == id {
			total++
		}
	}
	return total
}

type fakeJournal struct {
	mu        sync.Mutex
	recorded  []domain.AlertRecord
	pruneErr  error
	pruned    int
	retention time.Duration
}

func (j *fakeJournal) Record(alert domain.AlertRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recorded = append(j.recorded, alert)
}

func (j *fakeJournal) Prune(_ context.Context, retention time.Duration) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.retention = retention
	return j.pruned, j.pruneErr
}

func startEngine(t *testing.T, mutate func(*config.EngineConfig)) (*Engine, *clock.Manual) {
	t.Helper()

	cfg := config.Default().Engine
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewManual(testStart)
	eng := New(cfg, nil, clk)
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- eng.Loop(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-loopDone; err != nil {
			t.Errorf("loop returned %v", err)
		}
	})
	<-eng.Started()
	return eng, clk
}

func drain(t *testing.T, eng *Engine) {
	t.Helper()
	for {
		processed, err := eng.ProcessBatch(context.Background())
		if err != nil {
			t.Fatalf("process batch: %v", err)
		}
		if processed == 0 {
			return
		}
	}
}

func listAll(t *testing.T, eng *Engine, filter domain.Filter) []domain.AlertRecord {
	t.Helper()
	alerts, err := eng.List(context.Background(), filter)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return alerts
}

func TestDedupMergesWithinWindow(t *testing.T) {
	t.Parallel()

	eng, clk := startEngine(t, nil)
	events := &eventLog{}
	eng.Subscribe(events.handle)
	ctx := context.Background()

	first := eng.Submit(ctx, domain.RawAlert{Message: "Low stock on aisle 4", Category: "inventory"})
	clk.Advance(10 * time.Second)
	second := eng.Submit(ctx, domain.RawAlert{Message: "Low stock on aisle 4", Category: "inventory"})
	drain(t, eng)

	alerts := listAll(t, eng, domain.Filter{})
	if len(alerts) != 1 {
		t.Fatalf("expected one merged alert, got %d", len(alerts))
	}
	merged := alerts[0]
	if merged.ID != first || merged.Count != 2 {
		t.Fatalf("unexpected merged alert: id=%s count=%d", merged.ID, merged.Count)
	}
	if !merged.LastOccurrence.Equal(testStart.Add(10 * time.Second)) {
		t.Fatalf("lastOccurrence = %s", merged.LastOccurrence)
	}
	if !merged.ExpiresAt.Equal(testStart.Add(15 * time.Second)) {
		t.Fatalf("merge must not move expiresAt, got %s", merged.ExpiresAt)
	}
	if events.count(domain.EventAdded, first) != 1 || events.count(domain.EventUpdated, first) != 1 {
		t.Fatalf("expected one added and one updated event for %s", first)
	}
	if events.count(domain.EventAdded, second) != 0 {
		t.Fatalf("merged submission must not emit alert_added")
	}
}

func TestDedupRequiresSameCategory(t *testing.T) {
	t.Parallel()

	eng, _ := startEngine(t, nil)
	ctx := context.Background()
	eng.Submit(ctx, domain.RawAlert{Message: "threshold crossed", Category: "sales"})
	eng.Submit(ctx, domain.RawAlert{Message: "threshold crossed", Category: "cost"})
	drain(t, eng)

	if alerts := listAll(t, eng, domain.Filter{}); len(alerts) != 2 {
		t.Fatalf("expected distinct alerts per category, got %d", len(alerts))
	}
}

func TestDedupWindowElapsedCreatesNewAlert(t *testing.T) {
	t.Parallel()

	eng, clk := startEngine(t, nil)
	ctx := context.Background()
	raw := domain.RawAlert{Message: "POS terminal offline", Category: "system", Priority: "critical"}

	first := eng.Submit(ctx, raw)
	clk.Advance(61 * time.Second)
	second := eng.Submit(ctx, raw)

	alerts := listAll(t, eng, domain.Filter{})
	if len(alerts) != 2 {
		t.Fatalf("expected two independent alerts, got %d", len(alerts))
	}
	if alerts[0].ID != second || alerts[1].ID != first {
		t.Fatalf("expected newest first, got %s then %s", alerts[0].ID, alerts[1].ID)
	}
	for _, alert := range alerts {
		if alert.Count != 1 {
			t.Fatalf("expected count 1, got %d for %s", alert.Count, alert.ID)
		}
	}

	clk.Advance(5 * time.Second)
	eng.Submit(ctx, raw)
	alerts = listAll(t, eng, domain.Filter{})
	if len(alerts) != 2 || alerts[0].ID != second || alerts[0].Count != 2 {
		t.Fatalf("expected merge into newest alert, got %+v", alerts)
	}
}

func TestListOrdersByPriorityThenRecency(t *testing.T) {
	t.Parallel()

	eng, clk := startEngine(t, nil)
	ctx := context.Background()
	eng.Submit(ctx, domain.RawAlert{Message: "a", Priority: "low"})
	clk.Advance(time.Second)
	eng.Submit(ctx, domain.RawAlert{Message: "b", Priority: "critical"})
	clk.Advance(time.Second)
	eng.Submit(ctx, domain.RawAlert{Message: "c", Priority: "medium"})
	clk.Advance(time.Second)
	eng.Submit(ctx, domain.RawAlert{Message: "d", Priority: "medium"})
	drain(t, eng)

	alerts := listAll(t, eng, domain.Filter{})
	got := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		got = append(got, string(alert.Priority)+":"+alert.Message)
	}
	want := "critical:b,medium:d,medium:c,low:a"
	if strings.Join(got, ",") != want {
		t.Fatalf("order = %v, want %s", got, want)
	}

	mediums := listAll(t, eng, domain.Filter{Priority: domain.PriorityMedium})
	if len(mediums) != 2 {
		t.Fatalf("expected two medium alerts, got %d", len(mediums))
	}
}

func TestCriticalNeverAutoExpires(t *testing.T) {
	t.Parallel()

	eng, clk := startEngine(t, nil)
	ctx := context.Background()
	id := eng.Submit(ctx, domain.RawAlert{Message: "freezer failure", Priority: "critical"})

	alerts := listAll(t, eng, domain.Filter{})
	if len(alerts) != 1 || alerts[0].ExpiresAt != nil {
		t.Fatalf("critical alert must be active immediately with nil expiresAt: %+v", alerts)
	}

	clk.Advance(time.Hour)
	if _, err := eng.ExpireDue(ctx); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if _, err := eng.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	alerts = listAll(t, eng, domain.Filter{})
	if len(alerts) != 1 || alerts[0].ID != id {
		t.Fatalf("critical alert must stay active, got %+v", alerts)
	}
}

func TestMediumAlertExpiresOnce(t *testing.T) {
	t.Parallel()

	eng, clk := startEngine(t, nil)
	events := &eventLog{}
	eng.Subscribe(events.handle)
	ctx := context.Background()

	id := eng.Submit(ctx, domain.RawAlert{Message: "checkout latency high", Category: "performance"})
	drain(t, eng)

	clk.Advance(14 * time.Second)
	if n, _ := eng.ExpireDue(ctx); n != 0 {
		t.Fatalf("expired too early: %d", n)
	}
	clk.Advance(2 * time.Second)
	if n, _ := eng.ExpireDue(ctx); n != 1 {
		t.Fatalf("expected one expiration by t0+16s, got %d", n)
	}
	if n, _ := eng.ExpireDue(ctx); n != 0 {
		t.Fatalf("second scan must be a no-op, got %d", n)
	}

	if listed := listAll(t, eng, domain.Filter{}); len(listed) != 0 {
		t.Fatalf("expired alert still active: %+v", listed)
	}
	if got := events.count(domain.EventDismissed, id); got != 1 {
		t.Fatalf("expected exactly one dismissed event, got %d", got)
	}
	history, err := eng.History(ctx, 1, domain.Filter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	last := history[0]
	if last.Event != domain.EventDismissed || last.Alert.DismissalReason != domain.DismissExpired || !last.Alert.Dismissed {
		t.Fatalf("unexpected last history entry: %+v", last)
	}
}

func TestDismissIsIdempotent(t *testing.T) {
	t.Parallel()

	eng, _ := startEngine(t, nil)
	events := &eventLog{}
	eng.Subscribe(events.handle)
	ctx := context.Background()
	id := eng.Submit(ctx, domain.RawAlert{Message: "door sensor", Priority: "critical", Category: "security"})

	first, err := eng.Dismiss(ctx, id, "")
	if err != nil || !first {
		t.Fatalf("first dismiss = %v, %v", first, err)
	}
	second, err := eng.Dismiss(ctx, id, "user")
	if err != nil || second {
		t.Fatalf("second dismiss = %v, %v", second, err)
	}
	if events.count(domain.EventDismissed, id) != 1 {
		t.Fatalf("expected one dismissed event")
	}

	history, _ := eng.History(ctx, 1, domain.Filter{})
	if history[0].Alert.DismissalReason != domain.DismissUser {
		t.Fatalf("expected default reason user, got %q", history[0].Alert.DismissalReason)
	}
}

func TestDismissedEventSeesAlertRemoved(t *testing.T) {
	t.Parallel()

	eng, _ := startEngine(t, nil)
	ctx := context.Background()
	id := eng.Submit(ctx, domain.RawAlert{Message: "lost connection", Priority: "critical"})

	stillActive := make(chan bool, 1)
	eng.Subscribe(func(kind domain.EventKind, alert domain.AlertRecord) {
		if kind != domain.EventDismissed {
			return
		}
		_, ok := eng.active.Get(alert.ID)
		stillActive <- ok
	})
	if ok, _ := eng.Dismiss(ctx, id, "weird-reason"); !ok {
		t.Fatalf("dismiss failed")
	}
	if <-stillActive {
		t.Fatalf("alert must be removed before alert_dismissed is published")
	}
}

func TestAcknowledge(t *testing.T) {
	t.Parallel()

	eng, clk := startEngine(t, nil)
	events := &eventLog{}
	eng.Subscribe(events.handle)
	ctx := context.Background()
	id := eng.Submit(ctx, domain.RawAlert{Message: "refund spike", Priority: "critical", Category: "sales"})

	if ok, _ := eng.Acknowledge(ctx, "missing", "ops"); ok {
		t.Fatalf("unknown id must not acknowledge")
	}
	clk.Advance(7 * time.Second)
	ok, err := eng.Acknowledge(ctx, id, "")
	if err != nil || !ok {
		t.Fatalf("acknowledge = %v, %v", ok, err)
	}
	if ok, _ := eng.Acknowledge(ctx, id, "ops"); ok {
		t.Fatalf("second acknowledge must return false")
	}

	acked := true
	alerts := listAll(t, eng, domain.Filter{Acknowledged: &acked})
	if len(alerts) != 1 {
		t.Fatalf("expected acknowledged alert to stay active, got %d", len(alerts))
	}
	alert := alerts[0]
	if alert.AcknowledgedBy != "user" || alert.AcknowledgedAt == nil || !alert.AcknowledgedAt.Equal(testStart.Add(7*time.Second)) {
		t.Fatalf("unexpected acknowledgement fields: %+v", alert)
	}
	if events.count(domain.EventAcknowledged, id) != 1 {
		t.Fatalf("expected one acknowledged event")
	}
}

func TestStatisticsAverageResponseTime(t *testing.T) {
	t.Parallel()

	eng, clk := startEngine(t, nil)
	ctx := context.Background()
	a := eng.Submit(ctx, domain.RawAlert{Message: "a", Priority: "critical", Category: "inventory"})
	b := eng.Submit(ctx, domain.RawAlert{Message: "b", Priority: "critical", Category: "sales"})
	eng.Submit(ctx, domain.RawAlert{Message: "c", Priority: "high", Category: "sales"})
	drain(t, eng)

	clk.Advance(10 * time.Second)
	if ok, _ := eng.Acknowledge(ctx, a, "ops"); !ok {
		t.Fatalf("ack a failed")
	}
	clk.Advance(10 * time.Second)
	if ok, _ := eng.Acknowledge(ctx, b, "ops"); !ok {
		t.Fatalf("ack b failed")
	}
	if ok, _ := eng.Dismiss(ctx, b, "user"); !ok {
		t.Fatalf("dismiss b failed")
	}

	stats, err := eng.Statistics(ctx, 0)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Total != 3 || stats.Acknowledged != 2 || stats.Dismissed != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.AverageResponseTimeSeconds != 15 {
		t.Fatalf("average response = %v, want 15", stats.AverageResponseTimeSeconds)
	}
	if stats.ByCategory[domain.CategorySales] != 2 || stats.ByPriority[domain.PriorityCritical] != 2 {
		t.Fatalf("unexpected breakdown: %+v %+v", stats.ByCategory, stats.ByPriority)
	}
	if _, ok := stats.ByCategory[domain.CategoryCost]; !ok {
		t.Fatalf("expected zero-filled category breakdown")
	}
	if stats.WindowHours != 24 {
		t.Fatalf("default window = %v", stats.WindowHours)
	}
}

func TestStatisticsWindowExcludesOldAlerts(t *testing.T) {
	t.Parallel()

	eng, clk := startEngine(t, nil)
	ctx := context.Background()
	eng.Submit(ctx, domain.RawAlert{Message: "old", Priority: "critical"})
	clk.Advance(2 * time.Hour)
	eng.Submit(ctx, domain.RawAlert{Message: "new", Priority: "critical"})

	stats, err := eng.Statistics(ctx, 1)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Total != 1 || stats.AverageResponseTimeSeconds != 0 {
		t.Fatalf("unexpected windowed stats: %+v", stats)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()

	eng, _ := startEngine(t, nil)
	ctx := context.Background()
	total := config.Default().Engine.MaxHistory + 50
	for i := 0; i < total; i++ {
		eng.Submit(ctx, domain.RawAlert{Message: fmt.Sprintf("alert %d", i), Priority: "info"})
	}
	drain(t, eng)

	history, err := eng.History(ctx, total, domain.Filter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != total-50 {
		t.Fatalf("history size = %d, want %d", len(history), total-50)
	}
	if history[0].Alert.Message != fmt.Sprintf("alert %d", total-1) {
		t.Fatalf("newest entry = %q", history[0].Alert.Message)
	}
	if history[len(history)-1].Alert.Message != "alert 50" {
		t.Fatalf("oldest retained entry = %q", history[len(history)-1].Alert.Message)
	}

	defaultPage, _ := eng.History(ctx, 0, domain.Filter{})
	if len(defaultPage) != 50 {
		t.Fatalf("default history limit = %d", len(defaultPage))
	}
}

func TestSubscriberIsolation(t *testing.T) {
	t.Parallel()

	eng, _ := startEngine(t, nil)
	eng.Subscribe(func(domain.EventKind, domain.AlertRecord) {
		panic("broken dashboard widget")
	})
	events := &eventLog{}
	eng.Subscribe(events.handle)

	id := eng.Submit(context.Background(), domain.RawAlert{Message: "isolation", Priority: "critical"})
	if alerts := listAll(t, eng, domain.Filter{}); len(alerts) != 1 {
		t.Fatalf("state transition must commit despite subscriber panic")
	}
	if events.count(domain.EventAdded, id) != 1 {
		t.Fatalf("second subscriber must still receive alert_added")
	}
}

func TestStockOutCascadeEndToEnd(t *testing.T) {
	t.Parallel()

	eng, _ := startEngine(t, nil)
	ctx := context.Background()
	ids, err := ingest.SubmitPayload(ctx, eng, []byte(`{"message":"Widget X out of stock","category":"inventory","metadata":{"stockLevel":0,"sku":"WX-1"}}`))
	if err != nil || len(ids) != 1 {
		t.Fatalf("submit payload: %v %v", ids, err)
	}
	sourceID := ids[0]
	drain(t, eng)

	all := listAll(t, eng, domain.Filter{})
	if len(all) != 2 {
		t.Fatalf("expected source and derived alert, got %d", len(all))
	}
	critical := listAll(t, eng, domain.Filter{Priority: domain.PriorityCritical})
	if len(critical) != 1 {
		t.Fatalf("expected exactly one critical alert, got %d", len(critical))
	}
	derived := critical[0]
	if derived.Title != "Emergency Restocking Required" || derived.Category != domain.CategoryInventory {
		t.Fatalf("unexpected derived alert: %+v", derived)
	}
	if derived.Metadata[domain.MetaDerivedFrom] != sourceID || derived.Metadata["sku"] != "WX-1" {
		t.Fatalf("unexpected derived metadata: %v", derived.Metadata)
	}
	if derived.ExpiresAt != nil {
		t.Fatalf("derived critical alert must not expire")
	}
	source := all[1]
	if source.ID != sourceID || source.Priority != domain.PriorityMedium {
		t.Fatalf("source alert keeps default priority, got %+v", source)
	}
}

func TestStockOutIgnoresPositiveStockAndDisabledConfig(t *testing.T) {
	t.Parallel()

	eng, _ := startEngine(t, nil)
	ctx := context.Background()
	eng.Submit(ctx, domain.RawAlert{Message: "low", Category: "inventory", Metadata: map[string]any{"quantity": 3}})
	drain(t, eng)
	if alerts := listAll(t, eng, domain.Filter{}); len(alerts) != 1 {
		t.Fatalf("positive stock must not escalate, got %d alerts", len(alerts))
	}

	disabled := false
	quiet, _ := startEngine(t, func(cfg *config.EngineConfig) { cfg.Escalation.StockOut = &disabled })
	quiet.Submit(ctx, domain.RawAlert{Message: "empty", Category: "inventory", Metadata: map[string]any{"stockLevel": 0}})
	drain(t, quiet)
	if alerts := listAll(t, quiet, domain.Filter{}); len(alerts) != 1 {
		t.Fatalf("disabled escalation must not derive alerts, got %d", len(alerts))
	}
}

type echoEscalation struct{}

func (echoEscalation) Name() string { return "echo" }

func (echoEscalation) Derive(alert domain.AlertRecord) []domain.RawAlert {
	return []domain.RawAlert{{
		Message:  "echo of " + alert.Message,
		Category: string(alert.Category),
		Priority: "critical",
		Metadata: map[string]any{"stockLevel": 0},
	}}
}

func TestEscalationCascadeIsOneLevel(t *testing.T) {
	t.Parallel()

	eng, _ := startEngine(t, func(cfg *config.EngineConfig) {
		disabled := false
		cfg.Escalation.StockOut = &disabled
	})
	eng.RegisterEscalation(domain.CategorySupplier, echoEscalation{})

	id := eng.Submit(context.Background(), domain.RawAlert{Message: "late delivery", Category: "supplier", Priority: "critical"})
	alerts := listAll(t, eng, domain.Filter{})
	if len(alerts) != 2 {
		t.Fatalf("expected one derived level only, got %d alerts", len(alerts))
	}
	for _, alert := range alerts {
		if alert.ID != id && alert.Metadata[domain.MetaDerivedFrom] != id {
			t.Fatalf("derived alert not linked to source: %+v", alert.Metadata)
		}
	}
}

func TestCleanupDismissesOverdueAndPrunesJournal(t *testing.T) {
	t.Parallel()

	eng, clk := startEngine(t, nil)
	journal := &fakeJournal{pruned: 2}
	eng.AttachJournal(journal, 7*24*time.Hour)
	ctx := context.Background()

	critical := eng.Submit(ctx, domain.RawAlert{Message: "critical", Priority: "critical"})
	eng.Submit(ctx, domain.RawAlert{Message: "info", Priority: "info"})
	drain(t, eng)

	clk.Advance(time.Minute)
	report, err := eng.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if report.Dismissed != 1 || report.JournalPruned != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	history, _ := eng.History(ctx, 1, domain.Filter{})
	if history[0].Alert.DismissalReason != domain.DismissCleanup {
		t.Fatalf("expected cleanup reason, got %q", history[0].Alert.DismissalReason)
	}
	if journal.retention != 7*24*time.Hour {
		t.Fatalf("prune retention = %s", journal.retention)
	}
	if len(journal.recorded) != 1 || journal.recorded[0].ID != critical {
		t.Fatalf("expected only the critical alert journaled, got %+v", journal.recorded)
	}
}

func TestCleanupSwallowsJournalFailure(t *testing.T) {
	t.Parallel()

	eng, _ := startEngine(t, nil)
	eng.AttachJournal(&fakeJournal{pruneErr: errors.New("kv unavailable")}, time.Hour)
	if _, err := eng.Cleanup(context.Background()); err != nil {
		t.Fatalf("journal failure must not propagate, got %v", err)
	}
}

func submitWithin(t *testing.T, eng *Engine, raw domain.RawAlert) string {
	t.Helper()
	done := make(chan string, 1)
	go func() { done <- eng.Submit(context.Background(), raw) }()
	select {
	case id := <-done:
		return id
	case <-time.After(2 * time.Second):
		t.Fatalf("submit blocked for %q", raw.Message)
		return ""
	}
}

func TestCriticalSubmitBeforeLoopIsAdmittedOnStart(t *testing.T) {
	t.Parallel()

	eng := New(config.Default().Engine, nil, clock.NewManual(testStart))
	id := submitWithin(t, eng, domain.RawAlert{Message: "no loop yet", Priority: "critical"})
	if id == "" {
		t.Fatalf("submit must always return an id")
	}
	if eng.QueueDepth() != 1 {
		t.Fatalf("expected critical alert pending, depth=%d", eng.QueueDepth())
	}

	loopCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go eng.Loop(loopCtx)
	<-eng.Started()
	if alerts := listAll(t, eng, domain.Filter{}); len(alerts) != 1 || alerts[0].ID != id {
		t.Fatalf("pending critical alert not admitted before list: %+v", alerts)
	}
	if eng.QueueDepth() != 0 {
		t.Fatalf("expected nothing pending, depth=%d", eng.QueueDepth())
	}
}

func TestSubscriberMaySubmitCriticalAlert(t *testing.T) {
	t.Parallel()

	eng, _ := startEngine(t, nil)
	var followUp string
	var once sync.Once
	eng.Subscribe(func(kind domain.EventKind, alert domain.AlertRecord) {
		if kind != domain.EventAdded || alert.Category != domain.CategorySupplier {
			return
		}
		once.Do(func() {
			followUp = eng.Submit(context.Background(), domain.RawAlert{Message: "page on-call buyer", Priority: "critical", Category: "system"})
		})
	})

	submitWithin(t, eng, domain.RawAlert{Message: "truck missed slot", Priority: "critical", Category: "supplier"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	deadline := time.Now().Add(2 * time.Second)
	for {
		alerts, err := eng.List(ctx, domain.Filter{})
		if err != nil {
			t.Fatalf("engine stuck after subscriber submit: %v", err)
		}
		if len(alerts) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("follow-up alert not admitted, got %d alerts", len(alerts))
		}
		time.Sleep(5 * time.Millisecond)
	}
	system := listAll(t, eng, domain.Filter{Category: domain.CategorySystem})
	if len(system) != 1 || system[0].ID != followUp {
		t.Fatalf("unexpected follow-up alert: %+v", system)
	}
}

func TestLoopAdmitsPendingAlertsOnStop(t *testing.T) {
	t.Parallel()

	eng := New(config.Default().Engine, nil, clock.NewManual(testStart))
	events := &eventLog{}
	eng.Subscribe(events.handle)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Loop(ctx) }()
	<-eng.Started()

	const pending = 7
	ids := make([]string, 0, pending+1)
	for i := 0; i < pending; i++ {
		ids = append(ids, eng.Submit(ctx, domain.RawAlert{Message: fmt.Sprintf("shelf %d low", i), Category: "inventory"}))
	}
	ids = append(ids, eng.Submit(ctx, domain.RawAlert{Message: "alarm", Priority: "critical"}))
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("loop: %v", err)
	}

	for _, id := range ids {
		if events.count(domain.EventAdded, id) != 1 {
			t.Fatalf("pending alert %s dropped at shutdown", id)
		}
	}
	if eng.QueueDepth() != 0 {
		t.Fatalf("expected empty queue after stop, depth=%d", eng.QueueDepth())
	}
}

func TestOperationsAfterStopReturnErrStopped(t *testing.T) {
	t.Parallel()

	eng := New(config.Default().Engine, nil, clock.NewManual(testStart))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Loop(ctx) }()
	<-eng.Started()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("loop: %v", err)
	}

	if _, err := eng.List(context.Background(), domain.Filter{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := eng.Loop(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("restart must return ErrStopped, got %v", err)
	}
}

func TestExportFormats(t *testing.T) {
	t.Parallel()

	eng, _ := startEngine(t, nil)
	ctx := context.Background()
	eng.Submit(ctx, domain.RawAlert{Title: "Cooler", Message: "temperature rising", Priority: "high", Category: "system"})
	drain(t, eng)

	body, err := eng.Export(ctx, "")
	if err != nil {
		t.Fatalf("export json: %v", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(snapshot.Active) != 1 || len(snapshot.History) != 1 || snapshot.Statistics.Total != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if !snapshot.ExportedAt.Equal(testStart) {
		t.Fatalf("exportedAt = %s", snapshot.ExportedAt)
	}

	text, err := eng.Export(ctx, "TEXT")
	if err != nil {
		t.Fatalf("export text: %v", err)
	}
	if !strings.Contains(string(text), "active alerts: 1") || !strings.Contains(string(text), "Cooler") {
		t.Fatalf("unexpected text export:\n%s", text)
	}

	if _, err := eng.Export(ctx, "xml"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestRunDrivesTimers(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Engine
	cfg.BatchIntervalMS = 10
	cfg.ExpireIntervalMS = 20
	cfg.CleanupIntervalSec = 1
	eng := New(cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	<-eng.Started()

	id := eng.Submit(ctx, domain.RawAlert{Message: "batched", Priority: "low"})
	deadline := time.Now().Add(2 * time.Second)
	for {
		alerts, err := eng.List(ctx, domain.Filter{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(alerts) == 1 && alerts[0].ID == id {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch timer did not admit alert")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
}
