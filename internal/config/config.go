// Package config loads the bot and HTTP server settings from the environment.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/placefinder/placefinder/internal/cache"
	"github.com/placefinder/placefinder/internal/control"
	"github.com/placefinder/placefinder/internal/database"
	"github.com/placefinder/placefinder/internal/errtrack"
	"github.com/placefinder/placefinder/internal/geocoding"
	"github.com/placefinder/placefinder/internal/telemetry"
)

// ConfigError describes one invalid setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

type TelegramConfig struct {
	Token      string
	WebhookURL string

	// WebhookSecret is checked against X-Telegram-Bot-Api-Secret-Token.
	WebhookSecret string
}

type RateLimitConfig struct {
	Burst    int
	Interval time.Duration
}

type Config struct {
	Telegram TelegramConfig
	Port     string

	Geocoder geocoding.Options
	Control  control.Options

	HistoryEnabled bool
	Database       database.Config

	CacheEnabled bool
	CacheTTL     time.Duration
	Redis        *cache.RedisConfig

	RateLimit  RateLimitConfig
	SessionTTL time.Duration

	Log           *telemetry.LogConfig
	Telemetry     *telemetry.Config
	ErrorTracking *errtrack.Config
}

// Load reads the given .env files (".env" when none are named) and then the
// process environment. Missing env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigError{Field: "env_file", Message: err.Error()}
		}
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from the process environment without validating it.
func FromEnv() (*Config, error) {
	var errs []error
	p := parser{errs: &errs}

	cfg := &Config{
		Telegram: TelegramConfig{
			Token:         os.Getenv("TELEGRAM_BOT_TOKEN"),
			WebhookURL:    strings.TrimRight(os.Getenv("TELEGRAM_WEBHOOK_URL"), "/"),
			WebhookSecret: os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
		},
		Port: getEnv("BOT_PORT", "8081"),
		Geocoder: geocoding.Options{
			ServiceURL:           os.Getenv("GEOCODER_SERVICE_URL"),
			ProxyURL:             os.Getenv("GEOCODER_PROXY_URL"),
			Key:                  os.Getenv("OPENCAGE_API_KEY"),
			Limit:                p.int("GEOCODER_LIMIT", geocoding.DefaultLimit),
			GeocodingQueryParams: p.params("GEOCODER_QUERY_PARAMS"),
			ReverseQueryParams:   p.params("GEOCODER_REVERSE_QUERY_PARAMS"),
			ResultExtension:      p.extensions("GEOCODER_RESULT_EXTENSION"),
			Timeout:              p.duration("GEOCODER_TIMEOUT", 10*time.Second),
			UserAgent:            os.Getenv("GEOCODER_USER_AGENT"),
		},
		HistoryEnabled: os.Getenv("DB_NAME") != "",
		Database: database.Config{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			DBName:   os.Getenv("DB_NAME"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		CacheEnabled: os.Getenv("REDIS_HOST") != "",
		CacheTTL:     p.duration("GEOCODE_CACHE_TTL", cache.DefaultGeocodeTTL),
		Redis:        cache.ConfigFromEnv(),
		RateLimit: RateLimitConfig{
			Burst:    p.int("RATE_LIMIT_BURST", 5),
			Interval: p.duration("RATE_LIMIT_INTERVAL", 2*time.Second),
		},
		SessionTTL:    p.duration("SESSION_TTL", 30*time.Minute),
		Log:           logConfigFromEnv(),
		Telemetry:     telemetry.LoadConfigFromEnv(),
		ErrorTracking: errtrack.ConfigFromEnv(),
	}

	ctl := control.DefaultOptions()
	ctl.Placeholder = getEnv("SEARCH_PLACEHOLDER", ctl.Placeholder)
	ctl.ErrorMessage = getEnv("SEARCH_ERROR_MESSAGE", ctl.ErrorMessage)
	ctl.ShowResultIcons = p.bool("SHOW_RESULT_ICONS", false)
	// Chats have no hover, and a list is shown as soon as a search runs.
	ctl.Collapsed = false
	cfg.Control = ctl

	if len(errs) > 0 {
		return nil, stderrors.Join(errs...)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, &ConfigError{Field: "TELEGRAM_BOT_TOKEN", Message: "is required"})
	}
	if c.Geocoder.Key == "" && c.Geocoder.ProxyURL == "" {
		errs = append(errs, &ConfigError{Field: "OPENCAGE_API_KEY", Message: "is required unless GEOCODER_PROXY_URL is set"})
	}
	for field, raw := range map[string]string{
		"GEOCODER_SERVICE_URL": c.Geocoder.ServiceURL,
		"GEOCODER_PROXY_URL":   c.Geocoder.ProxyURL,
		"TELEGRAM_WEBHOOK_URL": c.Telegram.WebhookURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ConfigError{Field: field, Message: "must be an absolute URL"})
		}
	}
	if c.Geocoder.Limit < 1 {
		errs = append(errs, &ConfigError{Field: "GEOCODER_LIMIT", Message: "must be positive"})
	}
	if c.RateLimit.Burst < 1 {
		errs = append(errs, &ConfigError{Field: "RATE_LIMIT_BURST", Message: "must be positive"})
	}
	if c.RateLimit.Interval <= 0 {
		errs = append(errs, &ConfigError{Field: "RATE_LIMIT_INTERVAL", Message: "must be positive"})
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, &ConfigError{Field: "SESSION_TTL", Message: "must be positive"})
	}
	if c.HistoryEnabled && c.Database.User == "" {
		errs = append(errs, &ConfigError{Field: "DB_USER", Message: "is required when DB_NAME is set"})
	}
	if err := c.Control.Validate(); err != nil {
		errs = append(errs, &ConfigError{Field: "control", Message: err.Error()})
	}
	return stderrors.Join(errs...)
}

// ParseQueryParams parses "k=v&k2=v2" into a map. Later duplicates win.
func ParseQueryParams(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if k == "" {
			return nil, fmt.Errorf("empty parameter name")
		}
		out[k] = v[len(v)-1]
	}
	return out, nil
}

// ParseExtensions parses "name=dotted.path,other=path" into an extension map.
func ParseExtensions(raw string) (geocoding.Extensions, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := geocoding.Extensions{}
	for _, pair := range strings.Split(raw, ",") {
		name, path, ok := strings.Cut(strings.TrimSpace(pair), "=")
		name, path = strings.TrimSpace(name), strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("malformed extension %q, want name=path", pair)
		}
		out[name] = path
	}
	return out, nil
}

func logConfigFromEnv() *telemetry.LogConfig {
	cfg := telemetry.DefaultLogConfig()
	cfg.Level = telemetry.ParseLogLevel(getEnv("LOG_LEVEL", string(cfg.Level)))
	cfg.Format = getEnv("LOG_FORMAT", cfg.Format)
	cfg.Output = getEnv("LOG_OUTPUT", cfg.Output)
	cfg.Rotation = os.Getenv("LOG_ROTATION") == "true"
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser collects conversion errors so FromEnv can report all of them.
type parser struct {
	errs *[]error
}

func (p parser) fail(key string, err error) {
	*p.errs = append(*p.errs, &ConfigError{Field: key, Message: err.Error()})
}

func (p parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p parser) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p parser) params(key string) map[string]string {
	v, err := ParseQueryParams(os.Getenv(key))
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func (p parser) extensions(key string) geocoding.Extensions {
	v, err := ParseExtensions(os.Getenv(key))
	if err != nil {
		p.fail(key, err)
	}
	return v
}
