package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full environment surface of one hub instance. All values
// are read from CLASSHUB_* variables with the defaults below.
type Config struct {
	HTTP      HTTPConfig      `envconfig:"HTTP"`
	Auth      AuthConfig      `envconfig:"AUTH"`
	Backplane BackplaneConfig `envconfig:"BACKPLANE"`
	Store     StoreConfig     `envconfig:"STORE"`
	Heartbeat HeartbeatConfig `envconfig:"HEARTBEAT"`
	RateLimit RateLimitConfig `envconfig:"RATELIMIT"`
	Limits    LimitsConfig    `envconfig:"LIMITS"`
}

type HTTPConfig struct {
	Host         string        `envconfig:"HOST" default:"0.0.0.0"`
	Port         int           `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
}

// AuthConfig points at the external auth collaborator. Verification must
// never block a connecting client past Timeout.
type AuthConfig struct {
	URL     string        `envconfig:"URL" default:"http://localhost:9000"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

type BackplaneConfig struct {
	URL     string `envconfig:"URL" default:""`
	Enabled bool   `envconfig:"ENABLED" default:"false"`
}

type StoreConfig struct {
	Path          string `envconfig:"PATH" default:"./classhub.db"`
	Enabled       bool   `envconfig:"ENABLED" default:"true"`
	RetentionDays int    `envconfig:"RETENTION_DAYS" default:"30"`
}

type HeartbeatConfig struct {
	Interval       time.Duration `envconfig:"INTERVAL" default:"30s"`
	SessionTimeout time.Duration `envconfig:"SESSION_TIMEOUT" default:"90s"`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`
}

type RateLimitConfig struct {
	Window         time.Duration `envconfig:"WINDOW" default:"1m"`
	MaxEvents      int           `envconfig:"MAX_EVENTS" default:"100"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"10000"`
}

// LimitsConfig holds per-feature limits for the domain services.
type LimitsConfig struct {
	WhiteboardHistory    int           `envconfig:"WHITEBOARD_HISTORY" default:"1000"`
	MaxRoomMembers       int           `envconfig:"MAX_ROOM_MEMBERS" default:"200"`
	NotificationQueue    int           `envconfig:"NOTIFICATION_QUEUE" default:"100"`
	NotificationTTL      time.Duration `envconfig:"NOTIFICATION_TTL" default:"72h"`
	LocationStale        time.Duration `envconfig:"LOCATION_STALE" default:"10m"`
	LocationMinInterval  time.Duration `envconfig:"LOCATION_MIN_INTERVAL" default:"2s"`
	LocationMinAccuracy  float64       `envconfig:"LOCATION_MIN_ACCURACY" default:"100"`
	EmergencyAckTimeout  time.Duration `envconfig:"EMERGENCY_ACK_TIMEOUT" default:"30s"`
	ScreenShareBitrate   int           `envconfig:"SCREENSHARE_BITRATE" default:"1500"`
	ScreenShareFrameRate int           `envconfig:"SCREENSHARE_FRAMERATE" default:"15"`
}

// Load reads configuration from the environment, after loading a local
// .env file if one exists. Missing .env is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("classhub", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in defaults without touching the environment.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			URL:     "http://localhost:9000",
			Timeout: 5 * time.Second,
		},
		Backplane: BackplaneConfig{},
		Store: StoreConfig{
			Path:          "./classhub.db",
			Enabled:       true,
			RetentionDays: 30,
		},
		Heartbeat: HeartbeatConfig{
			Interval:       30 * time.Second,
			SessionTimeout: 90 * time.Second,
			SweepInterval:  30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Window:         time.Minute,
			MaxEvents:      100,
			MaxConnections: 10000,
		},
		Limits: LimitsConfig{
			WhiteboardHistory:    1000,
			MaxRoomMembers:       200,
			NotificationQueue:    100,
			NotificationTTL:      72 * time.Hour,
			LocationStale:        10 * time.Minute,
			LocationMinInterval:  2 * time.Second,
			LocationMinAccuracy:  100,
			EmergencyAckTimeout:  30 * time.Second,
			ScreenShareBitrate:   1500,
			ScreenShareFrameRate: 15,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.Auth.URL == "" {
		return fmt.Errorf("auth URL cannot be empty")
	}
	if c.Auth.Timeout <= 0 {
		return fmt.Errorf("auth timeout must be positive")
	}
	if c.Backplane.Enabled && c.Backplane.URL == "" {
		return fmt.Errorf("backplane URL required when backplane is enabled")
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store path cannot be empty when persistence is enabled")
	}
	if c.Store.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.SessionTimeout <= 0 || c.Heartbeat.SweepInterval <= 0 {
		return fmt.Errorf("heartbeat intervals must be positive")
	}
	if c.Heartbeat.SessionTimeout <= c.Heartbeat.Interval {
		return fmt.Errorf("session timeout must exceed heartbeat interval")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MaxEvents <= 0 || c.RateLimit.MaxConnections <= 0 {
		return fmt.Errorf("rate limit values must be positive")
	}
	if c.Limits.WhiteboardHistory <= 0 {
		return fmt.Errorf("whiteboard history limit must be positive")
	}
	if c.Limits.MaxRoomMembers <= 0 {
		return fmt.Errorf("max room members must be positive")
	}
	if c.Limits.NotificationQueue <= 0 || c.Limits.NotificationTTL <= 0 {
		return fmt.Errorf("notification queue limits must be positive")
	}
	if c.Limits.LocationStale <= 0 {
		return fmt.Errorf("location staleness threshold must be positive")
	}
	if c.Limits.EmergencyAckTimeout <= 0 {
		return fmt.Errorf("emergency ack timeout must be positive")
	}
	return nil
}
