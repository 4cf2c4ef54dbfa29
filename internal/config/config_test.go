package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("默认配置应可加载: %v", err)
	}
	if cfg.Feed.MaxHistory != 100 || cfg.Feed.ReconnectInterval != 3*time.Second || cfg.Feed.BackoffFactor != 1.5 {
		t.Fatalf("unexpected feed defaults %+v", cfg.Feed)
	}
	if cfg.Feed.MaxReconnectAttempts != 10 || cfg.Feed.DemoGrace != 5*time.Second || cfg.Feed.DemoCount != 50 {
		t.Fatalf("unexpected feed defaults %+v", cfg.Feed)
	}
	if cfg.Feed.ReviveAfter != 5*time.Minute {
		t.Fatalf("revive_after = %s", cfg.Feed.ReviveAfter)
	}
	if cfg.Stats.RefreshInterval != 30*time.Second {
		t.Fatalf("stats interval = %s", cfg.Stats.RefreshInterval)
	}
	if cfg.ArchiveEnabled() {
		t.Fatal("archive should be off without a dsn")
	}
	if ws, _ := cfg.API.WebSocketURL(); ws != "ws://localhost:8016/ws" {
		t.Fatalf("derived ws url = %s", ws)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
api:
  base_url: https://tracker.example.com/api
feed:
  max_history: 40
alerting:
  channels: telegram,log
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PILOTTRACKER_FEED_DEMO_GRACE", "9s")
	t.Setenv("PILOTTRACKER_DATABASE_DSN", "postgres://localhost/pilot")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Feed.MaxHistory != 40 {
		t.Fatalf("file value ignored: %d", cfg.Feed.MaxHistory)
	}
	if cfg.Feed.DemoGrace != 9*time.Second {
		t.Fatalf("env override ignored: %s", cfg.Feed.DemoGrace)
	}
	if !cfg.ArchiveEnabled() {
		t.Fatal("dsn from env should enable the archive")
	}
	if len(cfg.Alerting.Channels) != 2 || cfg.Alerting.Channels[1] != "log" {
		t.Fatalf("comma list not decoded: %v", cfg.Alerting.Channels)
	}
	if ws, _ := cfg.API.WebSocketURL(); ws != "wss://tracker.example.com/ws" {
		t.Fatalf("derived ws url = %s", ws)
	}
}

func TestWebSocketURL(t *testing.T) {
	cases := []struct {
		api     APIConfig
		want    string
		wantErr bool
	}{
		{APIConfig{BaseURL: "http://host:8016"}, "ws://host:8016/ws", false},
		{APIConfig{BaseURL: "https://host/api?x=1"}, "wss://host/ws", false},
		{APIConfig{BaseURL: "http://host", WSURL: "wss://feed.host/live"}, "wss://feed.host/live", false},
		{APIConfig{BaseURL: "http://host", WSURL: "http://feed.host/live"}, "", true},
		{APIConfig{BaseURL: "ftp://host"}, "", true},
	}
	for _, tc := range cases {
		got, err := tc.api.WebSocketURL()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%+v: err = %v", tc.api, err)
		}
		if got != tc.want {
			t.Fatalf("%+v: got %q want %q", tc.api, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			API:      APIConfig{BaseURL: "http://localhost:8016"},
			Feed:     FeedConfig{Enabled: true, MaxHistory: 100, ReconnectInterval: time.Second, BackoffFactor: 1.5, MaxReconnectAttempts: 3},
			Stats:    StatsConfig{Enabled: true, RefreshInterval: time.Second},
			Alerting: AlertingConfig{HighFlightThreshold: 100},
			Export:   ExportConfig{MaxDataPoints: 10},
		}
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	mutations := map[string]func(*Config){
		"backoff":   func(c *Config) { c.Feed.BackoffFactor = 0.5 },
		"attempts":  func(c *Config) { c.Feed.MaxReconnectAttempts = 0 },
		"interval":  func(c *Config) { c.Stats.RefreshInterval = 0 },
		"threshold": func(c *Config) { c.Alerting.HighFlightThreshold = 0 },
		"telegram":  func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"base url":  func(c *Config) { c.API.BaseURL = "not a url" },
		"export":    func(c *Config) { c.Export.MaxDataPoints = 0 },
		"revive":    func(c *Config) { c.Feed.ReviveAfter = -time.Second },
	}
	for name, mutate := range mutations {
		cfg := base()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	if got := cfg.ResolveMaxPoints(5); got != 5 {
		t.Fatalf("override ignored: %d", got)
	}
	if got := cfg.ResolveMaxPoints(0); got != 10 {
		t.Fatalf("default ignored: %d", got)
	}
}
