package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
	"github.com/samber/oops"

	apperrors "github.com/creatorpulse/patreon-notify/internal/shared/errors"
)

// CreatorSettings holds the per-creator filter overrides. A creator with its
// own keywords or content types bypasses the corresponding global filter
// entirely.
type CreatorSettings struct {
	Enabled      *bool    `koanf:"enabled"`
	Keywords     []string `koanf:"keywords"`
	VideoOnly    bool     `koanf:"video_only"`
	ContentTypes []string `koanf:"content_types"`
}

// IsEnabled reports whether the creator is enabled. An absent flag counts as
// enabled.
func (c CreatorSettings) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ContentTypeFilters holds the global content-type flags. Only the first
// enabled flag, in declaration order, is applied.
type ContentTypeFilters struct {
	VideoOnly   bool `koanf:"video_only"`
	ImageOnly   bool `koanf:"image_only"`
	TextOnly    bool `koanf:"text_only"`
	AudioOnly   bool `koanf:"audio_only"`
	ExcludeText bool `koanf:"exclude_text"`
}

// HealthConfig controls failure alerting.
type HealthConfig struct {
	Enabled                    bool `koanf:"enabled"`
	AlertOnAuthFailure         bool `koanf:"alert_on_auth_failure"`
	AlertOnAPIErrors           bool `koanf:"alert_on_api_errors"`
	AlertOnNotificationErrors  bool `koanf:"alert_on_notification_errors"`
	MaxConsecutiveFailures     int  `koanf:"max_consecutive_failures"`
	AlertCooldownSeconds       int  `koanf:"alert_cooldown"`
	CookieAlertCooldownSeconds int  `koanf:"cookie_alert_cooldown"`
}

// AlertCooldown returns the per-category alert cooldown as a duration.
func (h HealthConfig) AlertCooldown() time.Duration {
	return time.Duration(h.AlertCooldownSeconds) * time.Second
}

// CookieAlertCooldown returns the cookie-expiry alert cooldown as a duration.
func (h HealthConfig) CookieAlertCooldown() time.Duration {
	return time.Duration(h.CookieAlertCooldownSeconds) * time.Second
}

// Config holds the application configuration.
type Config struct {
	CookiesDir  string `koanf:"cookies_dir"`
	CookiesFile string `koanf:"cookies_file"`

	CheckInterval  int    `koanf:"check_interval"`
	OnlyNewPosts   bool   `koanf:"only_new_posts"`
	RequestTimeout int    `koanf:"request_timeout"`
	LogLevel       string `koanf:"log_level"`
	ShowFullErrors bool   `koanf:"show_full_errors"`
	UserAgent      string `koanf:"user_agent"`
	AcceptLanguage string `koanf:"accept_language"`

	StateFile          string `koanf:"state_file"`
	StateRetentionDays int    `koanf:"state_retention_days"`
	StoragePath        string `koanf:"storage_path"`
	HTTPPort           string `koanf:"http_port"`

	NotifyURLs       []string `koanf:"notify_urls"`
	HealthNotifyURLs []string `koanf:"health_notify_urls"`

	EnabledCreators []string                   `koanf:"enabled_creators"`
	GlobalKeywords  []string                   `koanf:"global_keywords"`
	CreatorSettings map[string]CreatorSettings `koanf:"creator_settings"`
	ContentFilters  ContentTypeFilters         `koanf:"content_filters"`

	Health HealthConfig `koanf:"health"`
}

// Load reads configuration from the first config file found in the working
// directory, with environment variables overriding file values.
func Load() (*Config, error) {
	k := koanf.New(".")

	configFiles := []string{
		"config.yaml",
		"config.yml",
		"config.json",
		"config.toml",
	}

	configFile, found := lo.Find(configFiles, func(file string) bool {
		_, err := os.Stat(file)
		return err == nil
	})

	if found {
		var parser koanf.Parser
		ext := filepath.Ext(configFile)

		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		case ".toml":
			parser = toml.Parser()
		default:
			return nil, oops.Errorf("unsupported config file extension: %s", ext)
		}

		if err := k.Load(file.Provider(configFile), parser); err != nil {
			return nil, oops.With("config_file", configFile).Wrap(err)
		}
	}

	// Environment variables override config file values
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, oops.With("context", "loading environment variables").Wrap(err)
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.With("context", "unmarshaling config").Wrap(err)
	}

	// List settings set via env arrive as comma-separated strings
	cfg.NotifyURLs = normalizeList(k, "notify_urls", cfg.NotifyURLs)
	cfg.HealthNotifyURLs = normalizeList(k, "health_notify_urls", cfg.HealthNotifyURLs)
	cfg.EnabledCreators = normalizeList(k, "enabled_creators", cfg.EnabledCreators)
	cfg.GlobalKeywords = normalizeList(k, "global_keywords", cfg.GlobalKeywords)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		"cookies_dir":          "cookies",
		"cookies_file":         "cookies.json",
		"check_interval":       300,
		"only_new_posts":       true,
		"request_timeout":      30,
		"log_level":            "info",
		"user_agent":           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"accept_language":      "en-GB,en;q=0.9",
		"state_file":           "notification_state.json",
		"state_retention_days": 30,
		"storage_path":         "./data",

		"health.enabled":                      true,
		"health.alert_on_auth_failure":        true,
		"health.alert_on_api_errors":          true,
		"health.alert_on_notification_errors": true,
		"health.max_consecutive_failures":     3,
		"health.alert_cooldown":               3600,
		"health.cookie_alert_cooldown":        86400,
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

// Validate checks the configuration for values the monitor cannot run with.
func (c *Config) Validate() error {
	if len(c.NotifyURLs) == 0 {
		return apperrors.ErrMissingChannels
	}
	if c.CheckInterval < 0 {
		return oops.With("check_interval", c.CheckInterval).Errorf("check_interval must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return oops.With("request_timeout", c.RequestTimeout).Errorf("request_timeout must be positive")
	}
	if c.StateRetentionDays < 0 {
		return oops.With("state_retention_days", c.StateRetentionDays).Errorf("state_retention_days must not be negative")
	}
	return nil
}

// normalizeList re-reads a list setting, splitting a comma-separated string
// when the value came from the environment.
func normalizeList(k *koanf.Koanf, key string, current []string) []string {
	if raw, ok := k.Get(key).(string); ok {
		return ParseList(raw)
	}
	return lo.Filter(current, func(s string, _ int) bool {
		return strings.TrimSpace(s) != ""
	})
}

// ParseList parses a comma-separated string into a slice, dropping empty
// entries.
func ParseList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	return lo.FilterMap(parts, func(part string, _ int) (string, bool) {
		part = strings.TrimSpace(part)
		return part, part != ""
	})
}

// CookiesPath returns the full path of the exported cookies file.
func (c *Config) CookiesPath() string {
	return filepath.Join(c.CookiesDir, c.CookiesFile)
}

// Interval returns the poll interval as a duration. Zero means run once.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// Timeout returns the upstream request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// Retention returns the seen-state retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.StateRetentionDays) * 24 * time.Hour
}

// AlertURLs returns the channel URLs used for health alerts, falling back to
// the main notify URLs when no dedicated set is configured.
func (c *Config) AlertURLs() []string {
	if len(c.HealthNotifyURLs) > 0 {
		return c.HealthNotifyURLs
	}
	return c.NotifyURLs
}
