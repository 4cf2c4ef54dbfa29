package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pilot-tracker/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. PILOTTRACKER_API_BASE_URL.
const EnvPrefix = "PILOTTRACKER"

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	API      APIConfig      `mapstructure:"api"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// APIConfig locates the upstream stats endpoint and live feed.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	StatsPath      string        `mapstructure:"stats_path"`
	WSURL          string        `mapstructure:"ws_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// FeedConfig tunes the live connection manager.
type FeedConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	MaxHistory           int           `mapstructure:"max_history"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	BackoffFactor        float64       `mapstructure:"backoff_factor"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	DemoFallback         bool          `mapstructure:"demo_fallback"`
	DemoGrace            time.Duration `mapstructure:"demo_grace"`
	DemoCount            int           `mapstructure:"demo_count"`
	ReviveAfter          time.Duration `mapstructure:"revive_after"`
}

// StatsConfig governs snapshot polling.
type StatsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MinRefreshGap   time.Duration `mapstructure:"min_refresh_gap"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables
// the archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig enables the snapshot cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Key      string        `mapstructure:"key"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ArchiveConfig controls how live outcomes are persisted.
type ArchiveConfig struct {
	Retention       time.Duration `mapstructure:"retention"`
	PruneInterval   time.Duration `mapstructure:"prune_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled             bool           `mapstructure:"enabled"`
	HighFlightThreshold float64        `mapstructure:"high_flight_threshold"`
	NotifyFeedState     bool           `mapstructure:"notify_feed_state"`
	Channels            []string       `mapstructure:"channels"`
	Telegram            TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HTTPConfig exposes the read-only status API when Address is set.
type HTTPConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pilottracker")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("api.base_url", "http://localhost:8016")
	v.SetDefault("api.stats_path", "/api/stats")
	v.SetDefault("api.ws_url", "")
	v.SetDefault("api.request_timeout", "10s")
	v.SetDefault("api.user_agent", "pilottracker/1.0")

	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.max_history", 100)
	v.SetDefault("feed.reconnect_interval", "3s")
	v.SetDefault("feed.backoff_factor", 1.5)
	v.SetDefault("feed.max_reconnect_attempts", 10)
	v.SetDefault("feed.handshake_timeout", "10s")
	v.SetDefault("feed.demo_fallback", true)
	v.SetDefault("feed.demo_grace", "5s")
	v.SetDefault("feed.demo_count", 50)
	v.SetDefault("feed.revive_after", "5m")

	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.refresh_interval", "30s")
	v.SetDefault("stats.min_refresh_gap", "5s")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "pilottracker:stats:snapshot")
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("archive.retention", "720h")
	v.SetDefault("archive.prune_interval", "1h")
	v.SetDefault("archive.advisory_lock_key", int64(0x50494c54))

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.high_flight_threshold", 100.0)
	v.SetDefault("alerting.notify_feed_state", true)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("http.address", "")
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Feed.Enabled || c.Stats.Enabled {
		if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
			return fmt.Errorf("api.base_url is invalid: %w", err)
		}
	}
	if c.Feed.Enabled {
		if c.Feed.MaxHistory <= 0 {
			return fmt.Errorf("feed.max_history must be greater than zero")
		}
		if c.Feed.ReconnectInterval <= 0 {
			return fmt.Errorf("feed.reconnect_interval must be greater than zero")
		}
		if c.Feed.BackoffFactor < 1 {
			return fmt.Errorf("feed.backoff_factor must be at least 1")
		}
		if c.Feed.MaxReconnectAttempts <= 0 {
			return fmt.Errorf("feed.max_reconnect_attempts must be greater than zero")
		}
		if c.Feed.ReviveAfter < 0 {
			return fmt.Errorf("feed.revive_after must not be negative")
		}
		if _, err := c.API.WebSocketURL(); err != nil {
			return err
		}
	}
	if c.Stats.Enabled && c.Stats.RefreshInterval <= 0 {
		return fmt.Errorf("stats.refresh_interval must be greater than zero")
	}
	if c.Alerting.HighFlightThreshold < 1 {
		return fmt.Errorf("alerting.high_flight_threshold must be at least 1")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// WebSocketURL returns api.ws_url, or derives it from the API origin: the
// scheme maps http→ws and https→wss and the path becomes /ws.
func (a APIConfig) WebSocketURL() (string, error) {
	if a.WSURL != "" {
		u, err := url.Parse(a.WSURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return "", fmt.Errorf("api.ws_url must be a ws:// or wss:// url")
		}
		return a.WSURL, nil
	}

	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse api.base_url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("api.base_url scheme %q cannot derive a websocket url", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api.base_url has no host")
	}
	u.Path = "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// ArchiveEnabled reports whether a database is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.Database.DSN != ""
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
