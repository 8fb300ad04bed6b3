package terminal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/placefinder/placefinder/internal/geocoding"
)

// KeyEnv is read when neither the flag nor the config file sets a key.
const KeyEnv = "OPENCAGE_API_KEY"

// Config is the geosearch config file.
type Config struct {
	Key        string `toml:"key"`
	ServiceURL string `toml:"service_url"`
	ProxyURL   string `toml:"proxy_url"`
	Limit      int    `toml:"limit"`
	// Near is a default proximity hint, "lat,lng".
	Near string `toml:"near"`

	// QueryParams are added to every forward lookup, e.g. language = "de".
	QueryParams        map[string]string `toml:"query_params"`
	ReverseQueryParams map[string]string `toml:"reverse_query_params"`
	// Extensions map result extension names to dotted raw-result paths.
	Extensions map[string]string `toml:"extensions"`
}

// DefaultConfigPath returns ~/.config/geosearch/config.toml.
func DefaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "geosearch", "config.toml")
	}
	return "config.toml"
}

// LoadConfig reads path. A missing file at the default location yields an
// empty config; an explicitly named file must exist.
func LoadConfig(path string) (*Config, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) && !explicit {
		return &Config{}, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// GeocoderOptions merges the file settings under any flag overrides and
// falls back to the environment for the key.
func (c *Config) GeocoderOptions(flags Flags) (geocoding.Options, error) {
	opts := geocoding.Options{
		Key:                  firstNonEmpty(flags.Key, c.Key, os.Getenv(KeyEnv)),
		ServiceURL:           c.ServiceURL,
		ProxyURL:             firstNonEmpty(flags.ProxyURL, c.ProxyURL),
		Limit:                c.Limit,
		GeocodingQueryParams: c.QueryParams,
		ReverseQueryParams:   c.ReverseQueryParams,
		ResultExtension:      geocoding.Extensions(c.Extensions),
		UserAgent:            "geosearch",
	}
	if flags.Limit > 0 {
		opts.Limit = flags.Limit
	}
	if opts.Limit < 0 {
		return geocoding.Options{}, fmt.Errorf("limit must be positive, got %d", opts.Limit)
	}
	return opts, nil
}

// NearPoint resolves the proximity hint from the flag or the file.
func (c *Config) NearPoint(flag string) (*geocoding.LatLng, error) {
	raw := firstNonEmpty(flag, c.Near)
	if raw == "" {
		return nil, nil
	}
	ll, err := geocoding.ParseLatLng(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --near: %w", err)
	}
	return &ll, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
