package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envConfigPath        = "BOTSERVER_CONFIG"
	envCacheAddress      = "BOTSERVER_CACHE_ADDRESS"
	envStorePath         = "BOTSERVER_STORE_PATH"
	envBotsRoot          = "BOTSERVER_BOTS_ROOT"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

// ErrConfigNotFound is returned by LoadConfig when no config file exists.
var ErrConfigNotFound = errors.New("config.json not found")

const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Channels ChannelsConfig `json:"channels"`
	Cache    CacheConfig    `json:"cache"`
	Store    StoreConfig    `json:"store"`
	Bots     BotsConfig     `json:"bots"`
	Services ServicesConfig `json:"services"`
	Dialog   DialogConfig   `json:"dialog"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// GatewayConfig configures the status server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Web      WebConfig      `json:"web"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	Bot       string   `json:"bot"`
	AllowFrom []string `json:"allow_from"`
}

// WebConfig configures the HTTP JSON channel.
type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// CacheConfig selects where wait descriptors live.
type CacheConfig struct {
	Backend        string `json:"backend"`
	Address        string `json:"address"`
	DB             int    `json:"db"`
	PasswordEnv    string `json:"password_env"`
	HearTTLSeconds int    `json:"hear_ttl_seconds"`
}

// Password resolves the cache password from the configured env variable.
func (c CacheConfig) Password() string {
	name := strings.TrimSpace(c.PasswordEnv)
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// StoreConfig locates the SQLite database for dialog runs and transcripts.
type StoreConfig struct {
	Path string `json:"path"`
}

// BotsConfig locates bot packages on disk.
type BotsConfig struct {
	Root    string `json:"root"`
	Default string `json:"default"`
}

// ServicesConfig holds the media service endpoints used when resolving
// attachment waits.
type ServicesConfig struct {
	QRDecodeURL      string `json:"qr_decode_url"`
	TranscribeURL    string `json:"transcribe_url"`
	VideoDescribeURL string `json:"video_describe_url"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
	MaxMediaBytes    int64  `json:"max_media_bytes"`

	// FetchAllowedHosts limits attachment downloads to these hosts and their
	// subdomains. Empty allows any public host.
	FetchAllowedHosts []string `json:"fetch_allowed_hosts,omitempty"`

	// AllowPrivateFetch lets attachment downloads reach loopback and private
	// addresses. Development only.
	AllowPrivateFetch bool `json:"allow_private_fetch,omitempty"`
}

// DialogConfig tunes HEAR behavior.
type DialogConfig struct {
	MaxRetries int `json:"max_retries"`
}

// LoadConfig loads .env, resolves config.json, unmarshals it, and applies
// defaults and environment overrides.
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration usable without a config file: in-memory
// cache, local SQLite file, bots under ./bots.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if strings.TrimSpace(c.Cache.Address) == "" {
			return errors.New("cache.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not one of %q, %q", c.Cache.Backend, CacheBackendRedis, CacheBackendMemory)
	}
	if c.Dialog.MaxRetries < 0 {
		return errors.New("dialog.max_retries must not be negative")
	}
	return nil
}

// loadDotEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18790
	}
	if cfg.Channels.Web.Port == 0 {
		cfg.Channels.Web.Port = 18791
	}
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheBackendMemory
	}
	if cfg.Cache.HearTTLSeconds <= 0 {
		cfg.Cache.HearTTLSeconds = 3600
	}
	if strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = "botserver.db"
	}
	if strings.TrimSpace(cfg.Bots.Root) == "" {
		cfg.Bots.Root = "bots"
	}
	if cfg.Services.TimeoutSeconds <= 0 {
		cfg.Services.TimeoutSeconds = 30
	}
	if cfg.Dialog.MaxRetries == 0 {
		cfg.Dialog.MaxRetries = 3
	}
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if address := strings.TrimSpace(os.Getenv(envCacheAddress)); address != "" {
		cfg.Cache.Address = address
		cfg.Cache.Backend = CacheBackendRedis
	}

	if path := strings.TrimSpace(os.Getenv(envStorePath)); path != "" {
		cfg.Store.Path = path
	}

	if root := strings.TrimSpace(os.Getenv(envBotsRoot)); root != "" {
		cfg.Bots.Root = root
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is BOTSERVER_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w (checked %s and %s)", ErrConfigNotFound, candidates[0], candidates[1])
}
