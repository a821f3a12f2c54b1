package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenPort                 int            `json:"listen_port" yaml:"listen_port"`
	MetricsPort                int            `json:"metrics_port" yaml:"metrics_port"`
	WindowSeconds              int            `json:"window_seconds" yaml:"window_seconds"`
	BaseRateLimitRPS           float64        `json:"base_rate_limit_rps" yaml:"base_rate_limit_rps"`
	BaseBurst                  int            `json:"base_burst" yaml:"base_burst"`
	BlockTTL                   Duration       `json:"block_ttl" yaml:"block_ttl"`
	UpstreamTimeout            Duration       `json:"upstream_timeout" yaml:"upstream_timeout"`
	UpstreamInsecureSkipVerify bool           `json:"upstream_insecure_skip_verify" yaml:"upstream_insecure_skip_verify"`
	GeoIPDBPath                string         `json:"geoip_db_path" yaml:"geoip_db_path"`
	BlockedCountries           []string       `json:"blocked_countries" yaml:"blocked_countries"`
	Targets                    []TargetConfig `json:"targets" yaml:"targets"`
	Alerts                     AlertConfig    `json:"alerts" yaml:"alerts"`
	JanitorInterval            Duration       `json:"janitor_interval" yaml:"janitor_interval"`
	TrustIdleTTL               Duration       `json:"trust_idle_ttl" yaml:"trust_idle_ttl"`
	LogLevel                   string         `json:"log_level" yaml:"log_level"`

	RedisAddr     string `json:"-" yaml:"-"`
	RedisPassword string `json:"-" yaml:"-"`
}

type TargetConfig struct {
	ID    string `json:"id" yaml:"id"`
	URL   string `json:"url" yaml:"url"`
	Label string `json:"label" yaml:"label"`
}

type AlertConfig struct {
	Telegram   TelegramConfig `json:"telegram" yaml:"telegram"`
	WebhookURL string         `json:"webhook_url" yaml:"webhook_url"`
	Cooldown   Duration       `json:"cooldown" yaml:"cooldown"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	ChatID   string `json:"chat_id" yaml:"chat_id"`
}

// Duration reads "90s"-style strings or plain seconds.
type Duration struct {
	time.Duration
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		d.Duration = time.Duration(v * float64(time.Second))
	case string:
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	d.Duration = parsed
	return nil
}

// LoadConfig reads path if it exists, applies AEGISGATE_* overrides and
// fills defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &cfg)
		default:
			err = json.Unmarshal(data, &cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	ints := map[string]*int{
		"AEGISGATE_PORT":           &c.ListenPort,
		"AEGISGATE_METRICS_PORT":   &c.MetricsPort,
		"AEGISGATE_WINDOW_SECONDS": &c.WindowSeconds,
		"AEGISGATE_BASE_BURST":     &c.BaseBurst,
	}
	for key, dst := range ints {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if val := os.Getenv("AEGISGATE_BASE_RATE_LIMIT_RPS"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("AEGISGATE_BASE_RATE_LIMIT_RPS: %w", err)
		}
		c.BaseRateLimitRPS = f
	}

	durations := map[string]*Duration{
		"AEGISGATE_BLOCK_TTL":        &c.BlockTTL,
		"AEGISGATE_UPSTREAM_TIMEOUT": &c.UpstreamTimeout,
		"AEGISGATE_ALERT_COOLDOWN":   &c.Alerts.Cooldown,
		"AEGISGATE_JANITOR_INTERVAL": &c.JanitorInterval,
		"AEGISGATE_TRUST_IDLE_TTL":   &c.TrustIdleTTL,
	}
	for key, dst := range durations {
		if val := os.Getenv(key); val != "" {
			d, err := parseDuration(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			dst.Duration = d
		}
	}

	if val := os.Getenv("AEGISGATE_UPSTREAM_INSECURE_SKIP_VERIFY"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("AEGISGATE_UPSTREAM_INSECURE_SKIP_VERIFY: %w", err)
		}
		c.UpstreamInsecureSkipVerify = b
	}
	if val := os.Getenv("AEGISGATE_GEOIP_DB_PATH"); val != "" {
		c.GeoIPDBPath = val
	}
	if val := os.Getenv("AEGISGATE_BLOCKED_COUNTRIES"); val != "" {
		c.BlockedCountries = strings.Split(val, ",")
	}
	if val := os.Getenv("AEGISGATE_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}

	if val := os.Getenv("AEGISGATE_TELEGRAM_BOT_TOKEN"); val != "" {
		c.Alerts.Telegram.BotToken = val
		c.Alerts.Telegram.Enabled = true
	}
	if val := os.Getenv("AEGISGATE_TELEGRAM_CHAT_ID"); val != "" {
		c.Alerts.Telegram.ChatID = val
	}
	if val := os.Getenv("AEGISGATE_WEBHOOK_URL"); val != "" {
		c.Alerts.WebhookURL = val
	}

	c.RedisAddr = os.Getenv("AEGISGATE_REDIS_ADDR")
	c.RedisPassword = os.Getenv("AEGISGATE_REDIS_PASSWORD")
	return nil
}

func (c *Config) applyDefaults() {
	if c.ListenPort == 0 {
		c.ListenPort = 3000
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9090
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 60
	}
	if c.BaseRateLimitRPS <= 0 {
		c.BaseRateLimitRPS = 120
	}
	if c.BaseBurst <= 0 {
		c.BaseBurst = 200
	}
	if c.BlockTTL.Duration <= 0 {
		c.BlockTTL.Duration = 60 * time.Second
	}
	if c.UpstreamTimeout.Duration <= 0 {
		c.UpstreamTimeout.Duration = 15 * time.Second
	}
	if c.Alerts.Cooldown.Duration <= 0 {
		c.Alerts.Cooldown.Duration = 60 * time.Second
	}
	if c.JanitorInterval.Duration <= 0 {
		c.JanitorInterval.Duration = time.Minute
	}
	if c.TrustIdleTTL.Duration <= 0 {
		c.TrustIdleTTL.Duration = time.Hour
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for i, cc := range c.BlockedCountries {
		c.BlockedCountries[i] = strings.ToUpper(strings.TrimSpace(cc))
	}
}
