package core

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TRACKER_STATS"

type Config struct {
	StatsURL           string  `json:"stats_url" mapstructure:"stats_url"`
	FetchTimeoutSec    int     `json:"fetch_timeout_sec" mapstructure:"fetch_timeout_sec"`
	DatabasePath       string  `json:"database_path" mapstructure:"database_path"`
	ListenAddr         string  `json:"listen_addr" mapstructure:"listen_addr"`
	UsePoller          bool    `json:"use_poller" mapstructure:"use_poller"`
	PollIntervalSec    int     `json:"poll_interval_sec" mapstructure:"poll_interval_sec"`
	LiveFetch          bool    `json:"live_fetch" mapstructure:"live_fetch"`
	RetentionEnabled   bool    `json:"retention_enabled" mapstructure:"retention_enabled"`
	RetentionDays      int     `json:"retention_days" mapstructure:"retention_days"`
	DefaultWindow      string  `json:"default_window" mapstructure:"default_window"`
	DefaultGranularity string  `json:"default_granularity" mapstructure:"default_granularity"`
	CacheTTLSec        int     `json:"cache_ttl_sec" mapstructure:"cache_ttl_sec"`
	APIKey             string  `json:"api_key" mapstructure:"api_key"`
	JWTSecret          string  `json:"jwt_secret" mapstructure:"jwt_secret"`
	AdminUser          string  `json:"admin_user" mapstructure:"admin_user"`
	AdminPasswordHash  string  `json:"admin_password_hash" mapstructure:"admin_password_hash"`
	RateLimitRPS       float64 `json:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst     int     `json:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	LogLevel           string  `json:"log_level" mapstructure:"log_level"`
	LogDevelopment     bool    `json:"log_development" mapstructure:"log_development"`
	ConfigPath         string  `json:"-" mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stats_url", "http://localhost:8088/stats/data")
	v.SetDefault("fetch_timeout_sec", 5)
	v.SetDefault("database_path", "/var/lib/tracker-stats/stats.db")
	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("use_poller", true)
	v.SetDefault("poll_interval_sec", 60)
	v.SetDefault("live_fetch", true)
	v.SetDefault("retention_enabled", false)
	v.SetDefault("retention_days", 30)
	v.SetDefault("default_window", string(LastThreeDays))
	v.SetDefault("default_granularity", string(Hours))
	v.SetDefault("cache_ttl_sec", 15)
	v.SetDefault("api_key", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_password_hash", "")
	v.SetDefault("rate_limit_rps", 20.0)
	v.SetDefault("rate_limit_burst", 40)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_development", false)
}

// LoadConfig reads defaults, then the JSON config file (if present), then
// TRACKER_STATS_* environment variables. A .env file in the working
// directory is loaded into the environment first.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load() // optional

	v := viper.New()
	setDefaults(v)

	configPath := "config.json"
	if path != "" {
		configPath = path
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigPath = configPath
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.StatsURL == "" {
		return fmt.Errorf("stats_url is required")
	}
	u, err := url.Parse(c.StatsURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid stats_url: %s", c.StatsURL)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if _, err := ParseWindow(c.DefaultWindow); err != nil {
		return fmt.Errorf("invalid default_window: %w", err)
	}
	if _, err := ParseGranularity(c.DefaultGranularity); err != nil {
		return fmt.Errorf("invalid default_granularity: %w", err)
	}
	if c.RetentionEnabled && c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive when retention is enabled")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	return nil
}
