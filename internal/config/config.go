// Package config loads service configuration from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/i474232898/ski-conditions/internal/common"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

const ConfigPathEnvVar = "CONFIG_PATH"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Logging  LoggingConfig  `koanf:"logging"`
	Sources  SourcesConfig  `koanf:"sources"`
	Cache    CacheConfig    `koanf:"cache"`
	Refresh  RefreshConfig  `koanf:"refresh"`
	Alerts   AlertsConfig   `koanf:"alerts"`
}

type ServerConfig struct {
	Port string `koanf:"port"`
	// Timeout bounds every outbound HTTP call.
	Timeout time.Duration `koanf:"timeout"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type SourcesConfig struct {
	// Timeout bounds a single source attempt inside the fallback chain.
	Timeout             time.Duration `koanf:"timeout"`
	ScraperEnabled      bool          `koanf:"scraper_enabled"`
	ScraperBaseURL      string        `koanf:"scraper_base_url"`
	AIBaseURL           string        `koanf:"ai_base_url"`
	AIAPIKey            string        `koanf:"ai_api_key"`
	AIModel             string        `koanf:"ai_model"`
	AIRequestsPerMinute int           `koanf:"ai_requests_per_minute"`
	GeocoderAPIKey      string        `koanf:"geocoder_api_key"`
}

type CacheConfig struct {
	ResortTTL   time.Duration `koanf:"resort_ttl"`
	ForecastTTL time.Duration `koanf:"forecast_ttl"`
	MemoryTTL   time.Duration `koanf:"memory_ttl"`
	// RedisURL switches the memory tier to Redis when set.
	RedisURL string `koanf:"redis_url"`
}

type RefreshConfig struct {
	Enabled          bool          `koanf:"enabled"`
	OnStartup        bool          `koanf:"on_startup"`
	StartupDelay     time.Duration `koanf:"startup_delay"`
	Interval         time.Duration `koanf:"interval"`
	MaxResorts       int           `koanf:"max_resorts"` // 0 = all
	Delay            time.Duration `koanf:"delay"`
	DiscoveryRegions []string      `koanf:"discovery_regions"`
}

type AlertsConfig struct {
	CheckInterval time.Duration `koanf:"check_interval"`
	SMTPHost      string        `koanf:"smtp_host"`
	SMTPPort      int           `koanf:"smtp_port"`
	SMTPUsername  string        `koanf:"smtp_username"`
	SMTPPassword  string        `koanf:"smtp_password"`
	SMTPFrom      string        `koanf:"smtp_from"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    "8080",
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			URL: "sqlite://data/ski.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Sources: SourcesConfig{
			Timeout:             45 * time.Second,
			ScraperEnabled:      true,
			ScraperBaseURL:      "https://www.onthesnow.com",
			AIBaseURL:           "https://api.openai.com/v1",
			AIModel:             "gpt-4o-mini",
			AIRequestsPerMinute: 20,
		},
		Cache: CacheConfig{
			ResortTTL:   time.Hour,
			ForecastTTL: 3 * time.Hour,
			MemoryTTL:   10 * time.Minute,
		},
		Refresh: RefreshConfig{
			Enabled:      true,
			OnStartup:    true,
			StartupDelay: time.Minute,
			Interval:     6 * time.Hour,
			Delay:        2 * time.Second,
		},
		Alerts: AlertsConfig{
			CheckInterval: time.Hour,
			SMTPPort:      587,
		},
	}
}

// Load reads .env (if present), then layers defaults, the config file and
// environment variables, and validates the result.
func Load() (*Config, error) {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"PORT":                   "server.port",
	"HTTP_TIMEOUT":           "server.timeout",
	"DATABASE_URL":           "database.url",
	"LOG_LEVEL":              "logging.level",
	"LOG_FORMAT":             "logging.format",
	"SOURCE_TIMEOUT":         "sources.timeout",
	"SCRAPER_ENABLED":        "sources.scraper_enabled",
	"SCRAPER_BASE_URL":       "sources.scraper_base_url",
	"AI_BASE_URL":            "sources.ai_base_url",
	"AI_API_KEY":             "sources.ai_api_key",
	"AI_MODEL":               "sources.ai_model",
	"AI_REQUESTS_PER_MINUTE": "sources.ai_requests_per_minute",
	"GEOCODER_API_KEY":       "sources.geocoder_api_key",
	"RESORT_TTL":             "cache.resort_ttl",
	"FORECAST_TTL":           "cache.forecast_ttl",
	"MEMORY_CACHE_TTL":       "cache.memory_ttl",
	"REDIS_URL":              "cache.redis_url",
	"REFRESH_ENABLED":        "refresh.enabled",
	"REFRESH_ON_STARTUP":     "refresh.on_startup",
	"REFRESH_STARTUP_DELAY":  "refresh.startup_delay",
	"REFRESH_INTERVAL":       "refresh.interval",
	"REFRESH_MAX_RESORTS":    "refresh.max_resorts",
	"REFRESH_DELAY":          "refresh.delay",
	"DISCOVERY_REGIONS":      "refresh.discovery_regions",
	"ALERT_CHECK_INTERVAL":   "alerts.check_interval",
	"SMTP_HOST":              "alerts.smtp_host",
	"SMTP_PORT":              "alerts.smtp_port",
	"SMTP_USERNAME":          "alerts.smtp_username",
	"SMTP_PASSWORD":          "alerts.smtp_password",
	"SMTP_FROM":              "alerts.smtp_from",
}

// envTransformFunc maps known variables to config paths. Anything else is
// dropped so unrelated environment does not leak into the config.
func envTransformFunc(key string) string {
	return envMappings[strings.ToUpper(key)]
}

var listPaths = []string{"refresh.discovery_regions"}

// splitListFields turns comma-separated env values into slices. Values that
// came from YAML are already slices.
func splitListFields(k *koanf.Koanf) error {
	for _, path := range listPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		if err := k.Set(path, common.SplitList(s)); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks the values the service cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if !c.Sources.ScraperEnabled && c.Sources.AIAPIKey == "" {
		errs = append(errs, errors.New("no resort source configured: enable the scraper or set AI_API_KEY"))
	}
	if c.Sources.ScraperEnabled {
		if u, err := url.Parse(c.Sources.ScraperBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("SCRAPER_BASE_URL %q is not an absolute URL", c.Sources.ScraperBaseURL))
		}
	}

	positive := map[string]time.Duration{
		"HTTP_TIMEOUT":     c.Server.Timeout,
		"SOURCE_TIMEOUT":   c.Sources.Timeout,
		"RESORT_TTL":       c.Cache.ResortTTL,
		"FORECAST_TTL":     c.Cache.ForecastTTL,
		"MEMORY_CACHE_TTL": c.Cache.MemoryTTL,
	}
	if c.Refresh.Enabled {
		positive["REFRESH_INTERVAL"] = c.Refresh.Interval
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	if c.Cache.MemoryTTL > 0 && (c.Cache.MemoryTTL >= c.Cache.ResortTTL || c.Cache.MemoryTTL >= c.Cache.ForecastTTL) {
		errs = append(errs, fmt.Errorf("MEMORY_CACHE_TTL (%s) must be shorter than RESORT_TTL and FORECAST_TTL", c.Cache.MemoryTTL))
	}

	if c.Refresh.MaxResorts < 0 {
		errs = append(errs, errors.New("REFRESH_MAX_RESORTS must not be negative"))
	}
	if c.Refresh.Delay < 0 || c.Refresh.StartupDelay < 0 {
		errs = append(errs, errors.New("refresh delays must not be negative"))
	}
	if c.Alerts.CheckInterval < 0 {
		errs = append(errs, errors.New("ALERT_CHECK_INTERVAL must not be negative"))
	}
	if c.Alerts.SMTPHost != "" && c.Alerts.SMTPFrom == "" {
		errs = append(errs, errors.New("SMTP_FROM is required when SMTP_HOST is set"))
	}

	return errors.Join(errs...)
}
