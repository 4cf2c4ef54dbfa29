package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pilot-tracker/internal/alerting"
	"pilot-tracker/internal/cache"
	"pilot-tracker/internal/config"
	"pilot-tracker/internal/demo"
	"pilot-tracker/internal/feed"
	"pilot-tracker/internal/httpapi"
	"pilot-tracker/internal/scheduler"
	"pilot-tracker/internal/service"
	"pilot-tracker/internal/stats"
	"pilot-tracker/internal/storage"
	"pilot-tracker/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFeed() (*feed.Manager, error) {
	url, err := a.Config.API.WebSocketURL()
	if err != nil {
		return nil, err
	}
	fc := a.Config.Feed

	header := http.Header{}
	if a.Config.API.UserAgent != "" {
		header.Set("User-Agent", a.Config.API.UserAgent)
	}
	dialer := feed.NewWebSocketDialer(fc.HandshakeTimeout, header)

	return feed.New(feed.Options{
		URL:                  url,
		MaxHistory:           fc.MaxHistory,
		BaseDelay:            fc.ReconnectInterval,
		BackoffFactor:        fc.BackoffFactor,
		MaxReconnectAttempts: fc.MaxReconnectAttempts,
		DemoGrace:            fc.DemoGrace,
		DemoCount:            fc.DemoCount,
		DisableDemo:          !fc.DemoFallback,
	}, dialer, demo.New(demo.Options{}), a.Logger), nil
}

func (a *App) newAggregator(snapshots stats.Cache) *stats.Aggregator {
	client := stats.NewClient(stats.ClientOptions{
		BaseURL:   a.Config.API.BaseURL,
		Path:      a.Config.API.StatsPath,
		Timeout:   a.Config.API.RequestTimeout,
		UserAgent: a.Config.API.UserAgent,
	}, a.Logger)

	return stats.New(stats.Options{
		Interval:       a.Config.Stats.RefreshInterval,
		MinRefreshGap:  a.Config.Stats.MinRefreshGap,
		RequestTimeout: a.Config.API.RequestTimeout,
	}, client, snapshots, demo.New(demo.Options{}), a.Logger)
}

func (a *App) openCache(ctx context.Context) (*cache.SnapshotCache, error) {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return nil, nil
	}
	return cache.Open(ctx, cache.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		Key:      rc.Key,
		TTL:      rc.TTL,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if !a.Config.ArchiveEnabled() {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running tracker: live feed, stats polling, archive,
// alerts and the optional status API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.Logger.Info().Str("version", version.Version).Str("env", a.Config.App.Environment).Msg("starting pilot tracker")

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; archive disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var events service.EventSource
	var feedSrc httpapi.FeedSource
	if a.Config.Feed.Enabled {
		manager, err := a.newFeed()
		if err != nil {
			return err
		}
		defer manager.Teardown()
		// service.Run connects the manager once its subscription exists
		events, feedSrc = manager, manager
	}

	var statsRunner service.Runner
	var statsSrc httpapi.StatsSource
	if a.Config.Stats.Enabled {
		var snapshots stats.Cache
		redisCache, err := a.openCache(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("redis unavailable; snapshot cache disabled")
		} else if redisCache != nil {
			defer redisCache.Close()
			snapshots = redisCache
		}
		aggregator := a.newAggregator(snapshots)
		aggregator.Warm(ctx)
		statsRunner, statsSrc = aggregator, aggregator
	}

	var pruner *scheduler.Scheduler
	var outcomes storage.OutcomeStore
	var alertStore storage.AlertStore
	if store != nil {
		outcomes, alertStore = store, store
		pruner, err = scheduler.New(scheduler.Options{
			Name:         "prune",
			Interval:     a.Config.Archive.PruneInterval,
			AlignToStart: true,
			StartupDelay: time.Minute,
		}, a.Logger)
		if err != nil {
			return err
		}
	}

	if a.Config.HTTP.Address != "" {
		api := httpapi.New(httpapi.Options{
			Address:        a.Config.HTTP.Address,
			AllowedOrigins: a.Config.HTTP.AllowedOrigins,
		}, feedSrc, statsSrc, a.Logger)
		go func() {
			if err := api.Run(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("status api stopped")
			}
		}()
	}

	svc := service.New(a.Config, events, statsRunner, pruner, outcomes, alertStore, a.newNotifier(), a.Logger)

	a.Logger.Info().Msg("tracker running")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("tracker stopped")
	return nil
}

// ExportOptions hold parameters for exporting archived outcomes.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// DemoOptions configure the demo command.
type DemoOptions struct {
	Count int
	Seed  uint64
	Stats bool
}
