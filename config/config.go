package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
)

const DefaultPath = "/etc/billboard.toml"

type Config struct {
	Player   PlayerConfig   `toml:"player"`
	Store    StoreConfig    `toml:"store"`
	Display  DisplayConfig  `toml:"display"`
	Playback PlaybackConfig `toml:"playback"`
	Website  WebsiteConfig  `toml:"website"`
	Text     TextConfig     `toml:"text"`
	Cleanup  CleanupConfig  `toml:"cleanup"`
	Status   StatusConfig   `toml:"status"`
	Pushover PushoverConfig `toml:"pushover"`
}

type PlayerConfig struct {
	DeviceID   string `toml:"device_id" env:"BILLBOARD_DEVICE_ID"`
	ManagerURL string `toml:"manager_url" env:"BILLBOARD_MANAGER_URL"`
	LogLevel   string `toml:"log_level" env:"LOG_LEVEL"`
	LockPath   string `toml:"lock_path" env:"BILLBOARD_LOCK_PATH"`
	TempDir    string `toml:"temp_dir" env:"BILLBOARD_TEMP_DIR"`
	DbPath     string `toml:"db_path" env:"DB_PATH"`
}

type StoreConfig struct {
	URL                   string `toml:"url" env:"BILLBOARD_STORE_URL"`
	Database              string `toml:"database" env:"BILLBOARD_STORE_DATABASE"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds" env:"BILLBOARD_STORE_REQUEST_TIMEOUT"`
	VideoTimeoutSeconds   int    `toml:"video_timeout_seconds" env:"BILLBOARD_STORE_VIDEO_TIMEOUT"`
	HeartbeatMillis       int    `toml:"heartbeat_ms" env:"BILLBOARD_STORE_HEARTBEAT_MS"`
	ReconnectSeconds      int    `toml:"reconnect_seconds" env:"BILLBOARD_STORE_RECONNECT_SECONDS"`
}

type DisplayConfig struct {
	Framebuffer string `toml:"framebuffer" env:"BILLBOARD_FRAMEBUFFER"`
	PixelFormat string `toml:"pixel_format" env:"BILLBOARD_PIXEL_FORMAT"`
	Width       int    `toml:"width" env:"BILLBOARD_WIDTH"`
	Height      int    `toml:"height" env:"BILLBOARD_HEIGHT"`
	FPS         int    `toml:"fps" env:"BILLBOARD_FPS"`
}

type PlaybackConfig struct {
	DefaultDurationSeconds float64 `toml:"default_duration_seconds" env:"BILLBOARD_DEFAULT_DURATION"`
	MaxDurationSeconds     float64 `toml:"max_duration_seconds" env:"BILLBOARD_MAX_DURATION"`
	DefaultTransitionMs    int     `toml:"default_transition_ms" env:"BILLBOARD_DEFAULT_TRANSITION_MS"`
	MaxTransitionMs        int     `toml:"max_transition_ms" env:"BILLBOARD_MAX_TRANSITION_MS"`
	FadeSteps              int     `toml:"fade_steps" env:"BILLBOARD_FADE_STEPS"`
	ScrollSpeed            float64 `toml:"scroll_speed" env:"BILLBOARD_SCROLL_SPEED"`
	RetrySeconds           int     `toml:"retry_seconds" env:"BILLBOARD_RETRY_SECONDS"`
}

type WebsiteConfig struct {
	TTLSeconds       int    `toml:"ttl_seconds" env:"BILLBOARD_WEBSITE_TTL"`
	Capacity         int    `toml:"capacity" env:"BILLBOARD_WEBSITE_CAPACITY"`
	CaptureWidth     int    `toml:"capture_width" env:"BILLBOARD_WEBSITE_WIDTH"`
	CaptureHeight    int    `toml:"capture_height" env:"BILLBOARD_WEBSITE_HEIGHT"`
	LoadTimeoutSecs  int    `toml:"load_timeout_seconds" env:"BILLBOARD_WEBSITE_LOAD_TIMEOUT"`
	ReadyTimeoutSecs int    `toml:"ready_timeout_seconds" env:"BILLBOARD_WEBSITE_READY_TIMEOUT"`
	ChromePath       string `toml:"chrome_path" env:"BILLBOARD_CHROME_PATH"`
}

type TextConfig struct {
	Fonts         []string `toml:"fonts"`
	CacheCapacity int      `toml:"cache_capacity" env:"BILLBOARD_TEXT_CACHE"`
}

type CleanupConfig struct {
	IntervalMinutes int `toml:"interval_minutes" env:"BILLBOARD_CLEANUP_INTERVAL"`
	ImmediateBatch  int `toml:"immediate_batch" env:"BILLBOARD_CLEANUP_IMMEDIATE_BATCH"`
	PeriodicBatch   int `toml:"periodic_batch" env:"BILLBOARD_CLEANUP_PERIODIC_BATCH"`
}

type StatusConfig struct {
	Address        string   `toml:"address" env:"BILLBOARD_STATUS_ADDRESS"`
	WebhookSecret  string   `toml:"webhook_secret" env:"BILLBOARD_WEBHOOK_SECRET"`
	AllowedOrigins []string `toml:"allowed_origins"`
	HistoryDays    int      `toml:"history_days" env:"BILLBOARD_HISTORY_DAYS"`
}

type PushoverConfig struct {
	Recipient string `toml:"recipient" env:"PUSHOVER_RECIPIENT"`
	Token     string `toml:"token" env:"PUSHOVER_TOKEN"`
}

func Default() Config {
	return Config{
		Player: PlayerConfig{
			LogLevel: "info",
			LockPath: "/tmp/billboard.lock",
			TempDir:  os.TempDir(),
			DbPath:   "/var/lib/billboard/history.db",
		},
		Store: StoreConfig{
			Database:              "slideshows",
			RequestTimeoutSeconds: 10,
			VideoTimeoutSeconds:   120,
			HeartbeatMillis:       30000,
			ReconnectSeconds:      10,
		},
		Display: DisplayConfig{
			Framebuffer: "/dev/fb0",
			PixelFormat: "bgra",
			Width:       1920,
			Height:      1080,
			FPS:         30,
		},
		Playback: PlaybackConfig{
			DefaultDurationSeconds: 10,
			MaxDurationSeconds:     3600,
			DefaultTransitionMs:    500,
			MaxTransitionMs:        10000,
			FadeSteps:              25,
			ScrollSpeed:            100,
			RetrySeconds:           30,
		},
		Website: WebsiteConfig{
			TTLSeconds:       3600,
			Capacity:         10,
			CaptureWidth:     1920,
			CaptureHeight:    1080,
			LoadTimeoutSecs:  30,
			ReadyTimeoutSecs: 10,
		},
		Text: TextConfig{
			Fonts: []string{
				"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
				"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
				"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
			},
			CacheCapacity: 50,
		},
		Cleanup: CleanupConfig{
			IntervalMinutes: 15,
			ImmediateBatch:  5,
			PeriodicBatch:   20,
		},
		Status: StatusConfig{
			Address:        "127.0.0.1:8080",
			AllowedOrigins: []string{"http://localhost:8080"},
			HistoryDays:    30,
		},
	}
}

// Load reads the TOML file at path (if it exists) and then applies
// environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	c := config.New()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			c.AddFeeder(feeder.Toml{Path: path})
		} else if !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	c.AddFeeder(feeder.Env{})
	c.AddStruct(&cfg)
	if err := c.Feed(); err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.Store.URL == "" {
		missing = append(missing, "store.url")
	}
	if c.Player.DeviceID == "" {
		missing = append(missing, "player.device_id")
	}
	if c.Player.ManagerURL == "" {
		missing = append(missing, "player.manager_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("invalid display size %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.Display.FPS <= 0 {
		return fmt.Errorf("invalid fps %d", c.Display.FPS)
	}
	return nil
}

// PlaylistID is the document holding this device's slides.
func (c *Config) PlaylistID() string {
	return c.Player.DeviceID
}

func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.Display.FPS)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c *Config) RequestTimeout() time.Duration { return seconds(c.Store.RequestTimeoutSeconds) }
func (c *Config) VideoTimeout() time.Duration   { return seconds(c.Store.VideoTimeoutSeconds) }
func (c *Config) ReconnectDelay() time.Duration { return seconds(c.Store.ReconnectSeconds) }
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Store.HeartbeatMillis) * time.Millisecond
}
func (c *Config) RetryInterval() time.Duration { return seconds(c.Playback.RetrySeconds) }
func (c *Config) WebsiteTTL() time.Duration    { return seconds(c.Website.TTLSeconds) }
func (c *Config) PageLoadTimeout() time.Duration {
	return seconds(c.Website.LoadTimeoutSecs)
}
func (c *Config) PageReadyTimeout() time.Duration {
	return seconds(c.Website.ReadyTimeoutSecs)
}
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalMinutes) * time.Minute
}

// HistoryRetention is how long play history is kept. Zero keeps it forever.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.Status.HistoryDays) * 24 * time.Hour
}

func (c *Config) GetLogLevel() slog.Leveler {
	logLevel := strings.ToLower(c.Player.LogLevel)
	if logLevel == "error" {
		return slog.LevelError
	}
	if logLevel == "warning" || logLevel == "warn" {
		return slog.LevelWarn
	}
	if logLevel == "info" {
		return slog.LevelInfo
	}
	if logLevel == "debug" {
		return slog.LevelDebug
	}
	// default to info if unknown
	slog.With(slog.String("log_level", logLevel)).Info("Received invalid log level. Defaulting to INFO.")
	return slog.LevelInfo
}
