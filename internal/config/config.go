package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const envPrefix = "LETSPING"

// Config root configuration
type Config struct {
	Service  ServiceConfig  `mapstructure:"service" json:"service"`
	Realtime RealtimeConfig `mapstructure:"realtime" json:"realtime"`
	Approval ApprovalConfig `mapstructure:"approval" json:"approval"`
	Gateway  GatewayConfig  `mapstructure:"gateway" json:"gateway"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
	Audit    AuditConfig    `mapstructure:"audit" json:"audit"`
}

// ServiceConfig LetsPing API settings
type ServiceConfig struct {
	APIURL                string `mapstructure:"api_url" json:"api_url"`
	AskPath               string `mapstructure:"ask_path" json:"ask_path"`
	Secret                string `mapstructure:"secret" json:"secret"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" json:"request_timeout_seconds"`
}

// RealtimeConfig Supabase realtime settings
type RealtimeConfig struct {
	URL              string `mapstructure:"url" json:"url"`
	AnonKey          string `mapstructure:"anon_key" json:"anon_key"`
	Schema           string `mapstructure:"schema" json:"schema"`
	Table            string `mapstructure:"table" json:"table"`
	EventsPerSecond  int    `mapstructure:"events_per_second" json:"events_per_second"`
	HeartbeatSeconds int    `mapstructure:"heartbeat_seconds" json:"heartbeat_seconds"`
}

// ApprovalConfig decision wait settings
type ApprovalConfig struct {
	TimeoutSeconds        int  `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	ConnectTimeoutSeconds int  `mapstructure:"connect_timeout_seconds" json:"connect_timeout_seconds"`
	EncryptPayload        bool `mapstructure:"encrypt_payload" json:"encrypt_payload"`
}

// GatewayConfig server settings
type GatewayConfig struct {
	Host  string `mapstructure:"host" json:"host"`
	Port  int    `mapstructure:"port" json:"port"`
	Token string `mapstructure:"token" json:"token"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// AuditConfig audit trail settings
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path"`
}

// Environment variable names shared with existing LetsPing integrations.
const (
	EnvSecret       = "LETS_PING_SECRET"
	EnvSupabaseURL  = "SUPABASE_URL"
	EnvSupabaseAnon = "SUPABASE_ANON_KEY"
)

// MissingConfigError lists every required setting that has no value.
type MissingConfigError struct {
	Keys []string
}

func (e *MissingConfigError) Error() string {
	return "missing required configuration: " + strings.Join(e.Keys, ", ")
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			APIURL:                "https://letsping.co",
			AskPath:               "/api/openclaw/ask",
			RequestTimeoutSeconds: 30,
		},
		Realtime: RealtimeConfig{
			Schema:           "public",
			Table:            "openclaw_requests",
			EventsPerSecond:  10,
			HeartbeatSeconds: 25,
		},
		Approval: ApprovalConfig{
			TimeoutSeconds:        600,
			ConnectTimeoutSeconds: 5,
			EncryptPayload:        true,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Log: LogConfig{
			Level: "info",
		},
		Audit: AuditConfig{
			Enabled: true,
		},
	}
}

// ConfigDir returns the letsping config directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return filepath.Join(homeDir, ".letsping")
}

// ConfigPath returns the default config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load loads config from the default path.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom loads config from path, overlaid with environment variables. A
// missing file is not an error: defaults and environment still apply.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.BindEnv("service.secret", envPrefix+"_SERVICE_SECRET", EnvSecret); err != nil {
		return cfg, err
	}
	if err := v.BindEnv("realtime.url", envPrefix+"_REALTIME_URL", EnvSupabaseURL); err != nil {
		return cfg, err
	}
	if err := v.BindEnv("realtime.anon_key", envPrefix+"_REALTIME_ANON_KEY", EnvSupabaseAnon); err != nil {
		return cfg, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.api_url", cfg.Service.APIURL)
	v.SetDefault("service.ask_path", cfg.Service.AskPath)
	v.SetDefault("service.secret", cfg.Service.Secret)
	v.SetDefault("service.request_timeout_seconds", cfg.Service.RequestTimeoutSeconds)
	v.SetDefault("realtime.url", cfg.Realtime.URL)
	v.SetDefault("realtime.anon_key", cfg.Realtime.AnonKey)
	v.SetDefault("realtime.schema", cfg.Realtime.Schema)
	v.SetDefault("realtime.table", cfg.Realtime.Table)
	v.SetDefault("realtime.events_per_second", cfg.Realtime.EventsPerSecond)
	v.SetDefault("realtime.heartbeat_seconds", cfg.Realtime.HeartbeatSeconds)
	v.SetDefault("approval.timeout_seconds", cfg.Approval.TimeoutSeconds)
	v.SetDefault("approval.connect_timeout_seconds", cfg.Approval.ConnectTimeoutSeconds)
	v.SetDefault("approval.encrypt_payload", cfg.Approval.EncryptPayload)
	v.SetDefault("gateway.host", cfg.Gateway.Host)
	v.SetDefault("gateway.port", cfg.Gateway.Port)
	v.SetDefault("gateway.token", cfg.Gateway.Token)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("audit.enabled", cfg.Audit.Enabled)
	v.SetDefault("audit.path", cfg.Audit.Path)
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to the default path
func Save(cfg *Config) error {
	return SaveTo(cfg, ConfigPath())
}

// SaveTo writes config to path with owner-only permissions.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Service.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("service.request_timeout_seconds must not be negative, got %d", c.Service.RequestTimeoutSeconds)
	}
	if c.Service.RequestTimeoutSeconds == 0 {
		c.Service.RequestTimeoutSeconds = 30
	}
	if api := strings.TrimSpace(c.Service.APIURL); api != "" {
		u, err := url.Parse(api)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("service.api_url must be an http(s) URL, got %q", c.Service.APIURL)
		}
	}
	if strings.TrimSpace(c.Service.AskPath) == "" {
		c.Service.AskPath = "/api/openclaw/ask"
	}

	if strings.TrimSpace(c.Realtime.Schema) == "" {
		c.Realtime.Schema = "public"
	}
	if strings.TrimSpace(c.Realtime.Table) == "" {
		c.Realtime.Table = "openclaw_requests"
	}
	if c.Realtime.EventsPerSecond < 0 {
		return fmt.Errorf("realtime.events_per_second must not be negative, got %d", c.Realtime.EventsPerSecond)
	}
	if c.Realtime.HeartbeatSeconds < 0 {
		return fmt.Errorf("realtime.heartbeat_seconds must not be negative, got %d", c.Realtime.HeartbeatSeconds)
	}
	if c.Realtime.HeartbeatSeconds == 0 {
		c.Realtime.HeartbeatSeconds = 25
	}

	if c.Approval.TimeoutSeconds < 0 {
		return fmt.Errorf("approval.timeout_seconds must not be negative, got %d", c.Approval.TimeoutSeconds)
	}
	if c.Approval.TimeoutSeconds == 0 {
		c.Approval.TimeoutSeconds = 600
	}
	if c.Approval.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("approval.connect_timeout_seconds must not be negative, got %d", c.Approval.ConnectTimeoutSeconds)
	}
	if c.Approval.ConnectTimeoutSeconds == 0 {
		c.Approval.ConnectTimeoutSeconds = 5
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	return nil
}

// RequireCredentials reports every missing setting needed to reach the
// approval service, naming the environment variable that can supply it.
func (c *Config) RequireCredentials() error {
	var missing []string
	if strings.TrimSpace(c.Service.Secret) == "" {
		missing = append(missing, "service.secret ("+EnvSecret+")")
	}
	if strings.TrimSpace(c.Realtime.URL) == "" {
		missing = append(missing, "realtime.url ("+EnvSupabaseURL+")")
	}
	if strings.TrimSpace(c.Realtime.AnonKey) == "" {
		missing = append(missing, "realtime.anon_key ("+EnvSupabaseAnon+")")
	}
	if len(missing) > 0 {
		return &MissingConfigError{Keys: missing}
	}
	return nil
}

// DecisionTimeout returns approval.timeout_seconds as a duration.
func (c *Config) DecisionTimeout() time.Duration {
	return time.Duration(c.Approval.TimeoutSeconds) * time.Second
}

// ConnectTimeout returns approval.connect_timeout_seconds as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Approval.ConnectTimeoutSeconds) * time.Second
}

// RequestTimeout returns service.request_timeout_seconds as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Service.RequestTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns realtime.heartbeat_seconds as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Realtime.HeartbeatSeconds) * time.Second
}

// AuditPath returns the audit log path, defaulting under the config dir.
func (c *Config) AuditPath() string {
	path := strings.TrimSpace(c.Audit.Path)
	if path == "" {
		return filepath.Join(ConfigDir(), "state", "audit.jsonl")
	}
	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		rest := strings.TrimPrefix(strings.TrimPrefix(path[1:], string(filepath.Separator)), "/")
		return filepath.Join(homeDir, rest)
	}
	return path
}
