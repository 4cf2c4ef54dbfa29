package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pilot-tracker/internal/alerting"
	"pilot-tracker/internal/config"
	"pilot-tracker/internal/feed"
	"pilot-tracker/internal/flight"
	"pilot-tracker/internal/storage"
)

type memStore struct {
	mu       sync.Mutex
	outcomes map[string]storage.FlightRecord
	alerts   map[string]storage.AlertRecord
	cutoff   time.Time
	lockFree bool
	locks    int
}

func newMemStore() *memStore {
	return &memStore{
		outcomes: make(map[string]storage.FlightRecord),
		alerts:   make(map[string]storage.AlertRecord),
		lockFree: true,
	}
}

func (m *memStore) InsertOutcomes(_ context.Context, records []storage.FlightRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var inserted int64
	for _, r := range records {
		if _, ok := m.outcomes[r.OutcomeID]; ok {
			continue
		}
		m.outcomes[r.OutcomeID] = r
		inserted++
	}
	return inserted, nil
}

func (m *memStore) ListOutcomesBetween(context.Context, time.Time, time.Time) ([]storage.FlightRecord, error) {
	return nil, nil
}

func (m *memStore) ListRecentOutcomes(context.Context, int) ([]storage.FlightRecord, error) {
	return nil, nil
}

func (m *memStore) CountOutcomes(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.outcomes)), nil
}

func (m *memStore) CategoryCounts(context.Context, time.Time) (map[string]int64, error) {
	return nil, nil
}

func (m *memStore) DeleteOutcomesBefore(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoff = olderThan
	var removed int64
	for id, r := range m.outcomes {
		if r.ObservedAt.Before(olderThan) {
			delete(m.outcomes, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memStore) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := alert.OutcomeID + "/" + alert.Kind
	if _, ok := m.alerts[key]; ok {
		return storage.AlertRecord{}, false, nil
	}
	m.alerts[key] = alert
	return alert, true, nil
}

func (m *memStore) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (m *memStore) DeleteAlertsBefore(context.Context, time.Time) error {
	return nil
}

func (m *memStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks++
	if !m.lockFree {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

func (r *recordingNotifier) kinds() []alerting.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alerting.Kind, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n.Kind)
	}
	return out
}

type chanSource struct {
	ch chan feed.Event
}

func (c chanSource) Subscribe(int) (<-chan feed.Event, func()) {
	return c.ch, func() {}
}

func testConfig() *config.Config {
	return &config.Config{
		Feed: config.FeedConfig{MaxHistory: 10},
		Archive: config.ArchiveConfig{
			Retention:       24 * time.Hour,
			AdvisoryLockKey: 42,
		},
		Alerting: config.AlertingConfig{
			Enabled:             true,
			HighFlightThreshold: 100,
			NotifyFeedState:     true,
			Channels:            []string{"log"},
		},
	}
}

func liveOutcome(id string, m float64) feed.Event {
	return feed.Event{
		Kind:    feed.EventOutcome,
		Source:  feed.SourceLive,
		Outcome: flight.Outcome{ID: id, Multiplier: m, Timestamp: time.Now().UTC()},
	}
}

func TestHandleEventArchivesLiveOutcomes(t *testing.T) {
	store := newMemStore()
	svc := New(testConfig(), nil, nil, nil, store, store, nil, zerolog.Nop())
	ctx := context.Background()

	svc.HandleEvent(ctx, liveOutcome("a", 2.5))
	svc.HandleEvent(ctx, feed.Event{
		Kind:   feed.EventHistory,
		Source: feed.SourceLive,
		History: []flight.Outcome{
			{ID: "a", Multiplier: 2.5},
			{ID: "b", Multiplier: 1.2},
		},
	})

	if n, _ := store.CountOutcomes(ctx); n != 2 {
		t.Fatalf("期望归档 2 条, 实际 %d", n)
	}
	if store.locks != 2 {
		t.Fatalf("advisory lock should guard every write, got %d", store.locks)
	}
}

func TestHandleEventSkipsDemoData(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	svc := New(testConfig(), nil, nil, nil, store, store, notifier, zerolog.Nop())
	ctx := context.Background()

	demoOutcome := liveOutcome("d", 500)
	demoOutcome.Source = feed.SourceDemo
	svc.HandleEvent(ctx, demoOutcome)
	svc.HandleEvent(ctx, feed.Event{
		Kind:    feed.EventHistory,
		Source:  feed.SourceDemo,
		History: []flight.Outcome{{ID: "demo-1", Multiplier: 3}},
	})

	if n, _ := store.CountOutcomes(ctx); n != 0 {
		t.Fatalf("demo data must not be archived, got %d", n)
	}
	if len(notifier.kinds()) != 0 {
		t.Fatalf("demo data must not alert: %v", notifier.kinds())
	}
}

func TestArchiveSkippedWhenLockHeld(t *testing.T) {
	store := newMemStore()
	store.lockFree = false
	svc := New(testConfig(), nil, nil, nil, store, store, nil, zerolog.Nop())

	svc.HandleEvent(context.Background(), liveOutcome("a", 2))
	if n, _ := store.CountOutcomes(context.Background()); n != 0 {
		t.Fatalf("non-leader must not write, got %d", n)
	}
}

func TestHighFlightAlertDeduplicated(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	svc := New(testConfig(), nil, nil, nil, store, store, notifier, zerolog.Nop())
	ctx := context.Background()

	svc.HandleEvent(ctx, liveOutcome("low", 99.99))
	svc.HandleEvent(ctx, liveOutcome("high", 100))
	svc.HandleEvent(ctx, liveOutcome("high", 100))

	kinds := notifier.kinds()
	if len(kinds) != 1 || kinds[0] != alerting.KindHighFlight {
		t.Fatalf("期望 1 条高倍告警, 实际 %v", kinds)
	}
	note := notifier.notes[0]
	if note.Outcome == nil || note.Outcome.ID != "high" || note.Threshold.String() != "100" {
		t.Fatalf("unexpected notification %+v", note)
	}
}

func TestFeedFailureAndRecoveryAlerts(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := New(testConfig(), nil, nil, nil, nil, nil, notifier, zerolog.Nop())
	ctx := context.Background()

	svc.HandleEvent(ctx, feed.Event{Kind: feed.EventState, State: feed.Connected})
	svc.HandleEvent(ctx, feed.Event{Kind: feed.EventError, Err: errors.New("drop")})
	svc.HandleEvent(ctx, feed.Event{Kind: feed.EventError, Err: feed.ErrMaxReconnect, Terminal: true})
	svc.HandleEvent(ctx, feed.Event{Kind: feed.EventState, State: feed.Connected})

	kinds := notifier.kinds()
	if len(kinds) != 2 || kinds[0] != alerting.KindFeedFailed || kinds[1] != alerting.KindFeedRecovered {
		t.Fatalf("unexpected feed alerts %v", kinds)
	}
	if notifier.notes[0].Reason != feed.ErrMaxReconnect.Error() {
		t.Fatalf("failure reason = %q", notifier.notes[0].Reason)
	}
}

func TestPruneRemovesExpiredRecords(t *testing.T) {
	store := newMemStore()
	svc := New(testConfig(), nil, nil, nil, store, store, nil, zerolog.Nop())
	ctx := context.Background()
	now := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	_, _ = store.InsertOutcomes(ctx, []storage.FlightRecord{
		{OutcomeID: "old", ObservedAt: now.Add(-48 * time.Hour)},
		{OutcomeID: "new", ObservedAt: now.Add(-time.Hour)},
	})

	if err := svc.Prune(ctx, now); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !store.cutoff.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("cutoff = %s", store.cutoff)
	}
	if n, _ := store.CountOutcomes(ctx); n != 1 {
		t.Fatalf("期望保留 1 条, 实际 %d", n)
	}
}

func TestRunConsumesUntilFeedCloses(t *testing.T) {
	store := newMemStore()
	src := chanSource{ch: make(chan feed.Event, 4)}
	svc := New(testConfig(), src, nil, nil, store, store, nil, zerolog.Nop())

	src.ch <- liveOutcome("a", 3)
	src.ch <- liveOutcome("b", 4)
	close(src.ch)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n, _ := store.CountOutcomes(ctx); n != 2 {
		t.Fatalf("期望归档 2 条, 实际 %d", n)
	}
}

func TestRunRequiresSomething(t *testing.T) {
	svc := New(testConfig(), nil, nil, nil, nil, nil, nil, zerolog.Nop())
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected an error when nothing is enabled")
	}
}

type revivingSource struct {
	chanSource
	connects chan struct{}
	mu       *sync.Mutex
	calls    *[]string
}

func newRevivingSource(buffer int) revivingSource {
	return revivingSource{
		chanSource: chanSource{ch: make(chan feed.Event, buffer)},
		connects:   make(chan struct{}, 4),
		mu:         &sync.Mutex{},
		calls:      &[]string{},
	}
}

func (r revivingSource) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.calls = append(*r.calls, call)
}

func (r revivingSource) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), *r.calls...)
}

func (r revivingSource) Subscribe(n int) (<-chan feed.Event, func()) {
	r.record("subscribe")
	return r.chanSource.Subscribe(n)
}

func (r revivingSource) Connect() error {
	r.record("connect")
	r.connects <- struct{}{}
	return nil
}

func waitConnect(t *testing.T, src revivingSource) {
	t.Helper()
	select {
	case <-src.connects:
	case <-time.After(2 * time.Second):
		t.Fatal("等待连接超时")
	}
}

func TestRunSubscribesBeforeConnecting(t *testing.T) {
	store := newMemStore()
	src := newRevivingSource(4)
	svc := New(testConfig(), src, nil, nil, store, store, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitConnect(t, src)
	if got := src.order(); len(got) != 2 || got[0] != "subscribe" || got[1] != "connect" {
		t.Fatalf("subscription must precede connect, got %v", got)
	}

	src.ch <- feed.Event{
		Kind:    feed.EventHistory,
		Source:  feed.SourceLive,
		History: []flight.Outcome{{ID: "h1", Multiplier: 2}, {ID: "h2", Multiplier: 3}},
	}
	close(src.ch)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if n, _ := store.CountOutcomes(ctx); n != 2 {
		t.Fatalf("startup history should be archived, got %d", n)
	}
}

func TestRunRevivesFailedFeed(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.ReviveAfter = 10 * time.Millisecond
	src := newRevivingSource(1)
	svc := New(cfg, src, nil, nil, nil, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitConnect(t, src)
	src.ch <- feed.Event{Kind: feed.EventError, Err: feed.ErrMaxReconnect, Terminal: true}
	waitConnect(t, src)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := src.order(); len(got) != 3 || got[2] != "connect" {
		t.Fatalf("失败后应重新连接, got %v", got)
	}
}
