package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pilot-tracker/internal/alerting"
	"pilot-tracker/internal/config"
	"pilot-tracker/internal/feed"
	"pilot-tracker/internal/flight"
	"pilot-tracker/internal/scheduler"
	"pilot-tracker/internal/storage"
)

// EventSource is the feed surface the service consumes.
type EventSource interface {
	Subscribe(buffer int) (<-chan feed.Event, func())
}

// Reconnector opens the feed. The service calls it once its subscription is
// in place, and again to restart a feed that gave up.
type Reconnector interface {
	Connect() error
}

// Runner is a long-lived background job such as the stats aggregator.
type Runner interface {
	Run(ctx context.Context) error
}

// Service orchestrates archiving, alerting and pruning around the live feed.
type Service struct {
	events     EventSource
	revive     Reconnector
	stats      Runner
	pruner     *scheduler.Scheduler
	store      storage.OutcomeStore
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	threshold   decimal.Decimal
	channels    []string
	alertsOn    bool
	feedAlerts  bool
	retention   time.Duration
	locker      storage.AdvisoryLocker
	lockKey     int64
	now         func() time.Time
	feedFailed  bool
	subscribeSz int
	reviveAfter time.Duration
}

// New constructs the tracking service. Every collaborator except events may
// be nil, which disables the corresponding duty.
func New(cfg *config.Config, events EventSource, stats Runner, pruner *scheduler.Scheduler, store storage.OutcomeStore, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.HighFlightThreshold > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.HighFlightThreshold)
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	var revive Reconnector
	if r, ok := events.(Reconnector); ok {
		revive = r
	}

	return &Service{
		events:      events,
		revive:      revive,
		stats:       stats,
		pruner:      pruner,
		store:       store,
		alertStore:  alertStore,
		notifier:    notifier,
		logger:      logger.With().Str("component", "service").Logger(),
		threshold:   threshold,
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled,
		feedAlerts:  cfg.Alerting.Enabled && cfg.Alerting.NotifyFeedState,
		retention:   cfg.Archive.Retention,
		locker:      locker,
		lockKey:     cfg.Archive.AdvisoryLockKey,
		now:         time.Now,
		subscribeSz: 2 * max(cfg.Feed.MaxHistory, 32),
		reviveAfter: cfg.Feed.ReviveAfter,
	}
}

// Run consumes feed events and drives the background jobs until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if s.events == nil && s.stats == nil {
		return fmt.Errorf("nothing to run: feed and stats are both disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.events != nil {
		g.Go(func() error { return s.consume(gctx) })
	}
	if s.stats != nil {
		g.Go(func() error { return s.stats.Run(gctx) })
	}
	if s.pruner != nil && s.store != nil && s.retention > 0 {
		g.Go(func() error { return s.pruner.Run(gctx, s.Prune) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) consume(ctx context.Context) error {
	events, unsubscribe := s.events.Subscribe(s.subscribeSz)
	defer unsubscribe()

	if s.revive != nil {
		if err := s.revive.Connect(); err != nil {
			return fmt.Errorf("connect feed: %w", err)
		}
	}

	var (
		reviveTimer *time.Timer
		revive      <-chan time.Time
	)
	defer func() {
		if reviveTimer != nil {
			reviveTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-revive:
			revive, reviveTimer = nil, nil
			s.logger.Info().Msg("retrying live feed after failure")
			if err := s.revive.Connect(); err != nil {
				s.logger.Error().Err(err).Msg("live feed retry failed")
			}
		case ev, ok := <-events:
			if !ok {
				s.logger.Info().Msg("feed closed, event loop stopping")
				return nil
			}
			s.HandleEvent(ctx, ev)
			if ev.Kind == feed.EventError && ev.Terminal && revive == nil && s.revive != nil && s.reviveAfter > 0 {
				reviveTimer = time.NewTimer(s.reviveAfter)
				revive = reviveTimer.C
			}
		}
	}
}

// HandleEvent reacts to one feed event. Demo outcomes are never archived or
// alerted on.
func (s *Service) HandleEvent(ctx context.Context, ev feed.Event) {
	switch ev.Kind {
	case feed.EventOutcome:
		if ev.Source != feed.SourceLive {
			return
		}
		s.archive(ctx, []flight.Outcome{ev.Outcome})
		s.checkHighFlight(ctx, ev.Outcome)
	case feed.EventHistory:
		if ev.Source != feed.SourceLive {
			s.logger.Debug().Int("count", len(ev.History)).Msg("demo history not archived")
			return
		}
		s.archive(ctx, ev.History)
	case feed.EventState:
		if ev.State == feed.Connected && s.feedFailed {
			s.feedFailed = false
			s.notifyFeed(ctx, alerting.KindFeedRecovered, "live feed connected again", ev.At)
		}
	case feed.EventError:
		if ev.Terminal {
			s.feedFailed = true
			reason := "reconnect attempts exhausted"
			if ev.Err != nil {
				reason = ev.Err.Error()
			}
			s.notifyFeed(ctx, alerting.KindFeedFailed, reason, ev.At)
		}
	}
}

func (s *Service) archive(ctx context.Context, outcomes []flight.Outcome) {
	if s.store == nil || len(outcomes) == 0 {
		return
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("archive skipped")
		return
	}
	if !proceed {
		s.logger.Debug().Int("count", len(outcomes)).Msg("skip archive because advisory lock held elsewhere")
		return
	}
	if unlock != nil {
		defer unlock()
	}

	records := make([]storage.FlightRecord, 0, len(outcomes))
	for _, o := range outcomes {
		records = append(records, storage.NewFlightRecord(o))
	}
	inserted, err := s.store.InsertOutcomes(ctx, records)
	if err != nil {
		s.logger.Error().Err(err).Int("count", len(records)).Msg("failed to archive outcomes")
		return
	}
	s.logger.Debug().Int("received", len(records)).Int64("inserted", inserted).Msg("outcomes archived")
}

func (s *Service) checkHighFlight(ctx context.Context, o flight.Outcome) {
	if !s.alertsOn || s.notifier == nil || s.threshold.IsZero() {
		return
	}
	multiplier := decimal.NewFromFloat(o.Multiplier)
	if multiplier.LessThan(s.threshold) {
		return
	}

	if s.alertStore != nil {
		record := storage.AlertRecord{
			OutcomeID:  o.ID,
			Kind:       string(alerting.KindHighFlight),
			Multiplier: multiplier.Round(2),
			Channels:   s.channels,
		}
		_, inserted, err := s.alertStore.InsertAlert(ctx, record)
		if err != nil {
			s.logger.Error().Err(err).Str("outcome", o.ID).Msg("failed to persist alert record")
		} else if !inserted {
			s.logger.Debug().Str("outcome", o.ID).Msg("high flight already alerted")
			return
		}
	}

	outcome := o
	note := alerting.Notification{
		Kind:       alerting.KindHighFlight,
		OccurredAt: o.Timestamp,
		Outcome:    &outcome,
		Threshold:  s.threshold,
		Channels:   s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("outcome", o.ID).Msg("failed to dispatch alert")
		return
	}
	s.logger.Info().Str("outcome", o.ID).Float64("multiplier", o.Multiplier).Msg("high flight alert sent")
}

func (s *Service) notifyFeed(ctx context.Context, kind alerting.Kind, reason string, at time.Time) {
	if !s.feedAlerts || s.notifier == nil {
		return
	}
	if at.IsZero() {
		at = s.now()
	}
	note := alerting.Notification{
		Kind:       kind,
		OccurredAt: at,
		Reason:     reason,
		Channels:   s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to dispatch feed alert")
	}
}

// Prune deletes archived outcomes and alerts older than the retention window.
func (s *Service) Prune(ctx context.Context, at time.Time) error {
	if s.store == nil || s.retention <= 0 {
		return nil
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", at).Msg("skip prune because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	cutoff := at.Add(-s.retention)
	removed, err := s.store.DeleteOutcomesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune outcomes: %w", err)
	}
	if s.alertStore != nil {
		if err := s.alertStore.DeleteAlertsBefore(ctx, cutoff); err != nil {
			return fmt.Errorf("prune alerts: %w", err)
		}
	}
	s.logger.Info().Time("cutoff", cutoff).Int64("removed", removed).Msg("archive pruned")
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
