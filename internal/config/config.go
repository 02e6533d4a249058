// Package config loads the wallet daemon configuration from a JSON file with .env and
// environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvLogLevel     = "WALLET_LOG_LEVEL"
	EnvStoreBackend = "WALLET_STORE_BACKEND"
	EnvNatsURL      = "WALLET_NATS_URL"
	EnvRedisAddr    = "WALLET_REDIS_ADDR"
	EnvPrivKey      = "WALLET_PRIV_KEY"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend       string `json:"backend"` // memory, leveldb or redis
	LevelDBPath   string `json:"leveldb_path"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
}

// ExchangeConfig points at the exchange backend.
type ExchangeConfig struct {
	Backend          string  `json:"backend"` // memory or nats
	NatsURL          string  `json:"nats_url"`
	SubjectPrefix    string  `json:"subject_prefix"`
	RequestTimeoutMs int     `json:"request_timeout_ms"`
	SubmitRate       float64 `json:"submit_rate"`
	SubmitBurst      int     `json:"submit_burst"`
}

// RequestTimeout is RequestTimeoutMs as a duration.
func (c ExchangeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// PersistConfig tunes the asynchronous persistence queue.
type PersistConfig struct {
	QueueSize   int `json:"queue_size"`
	MaxAttempts int `json:"max_attempts"`
	BackoffMs   int `json:"backoff_ms"`
}

// Backoff is BackoffMs as a duration.
func (c PersistConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// Config represents the wallet daemon configuration
type Config struct {
	// Logging
	LogLevel     string `json:"log_level"`
	LogFile      string `json:"log_file"`
	EnableAudit  bool   `json:"enable_audit"`
	AuditLogPath string `json:"audit_log_path"`

	Store    StoreConfig    `json:"store"`
	Exchange ExchangeConfig `json:"exchange"`
	Persist  PersistConfig  `json:"persist"`

	KeyCacheSize         int    `json:"key_cache_size"`
	DisclosureKeyDir     string `json:"disclosure_key_dir"`
	ReconcileIntervalSec int    `json:"reconcile_interval_sec"`

	// PrivKey is only ever read from the environment.
	PrivKey string `json:"-"`
}

// ReconcileInterval is ReconcileIntervalSec as a duration.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSec) * time.Second
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "info",
		LogFile:      "wallet.log",
		EnableAudit:  true,
		AuditLogPath: "audit.log",
		Store: StoreConfig{
			Backend:     "leveldb",
			LevelDBPath: "walletdb",
			RedisAddr:   "localhost:6379",
		},
		Exchange: ExchangeConfig{
			Backend:          "nats",
			NatsURL:          "nats://127.0.0.1:4222",
			SubjectPrefix:    "invisible",
			RequestTimeoutMs: 5000,
			SubmitRate:       10,
			SubmitBurst:      5,
		},
		Persist: PersistConfig{
			QueueSize:   256,
			MaxAttempts: 5,
			BackoffMs:   200,
		},
		KeyCacheSize:         128,
		DisclosureKeyDir:     "keys",
		ReconcileIntervalSec: 30,
	}
}

// LoadConfig loads configuration from file, writing the defaults there if it does not exist.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		config := DefaultConfig()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// Load reads configPath, then applies .env files and the environment.
func Load(configPath string, envFiles ...string) (*Config, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(envFiles...); err != nil {
		return nil, err
	}
	return config, config.Validate()
}

// ApplyEnv loads the given .env files (missing files are skipped) and applies WALLET_*
// overrides. Variables already set in the process environment win over .env values.
func (c *Config) ApplyEnv(envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvStoreBackend); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv(EnvNatsURL); v != "" {
		c.Exchange.NatsURL = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv(EnvPrivKey); v != "" {
		c.PrivKey = v
	}
	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "leveldb":
		if c.Store.LevelDBPath == "" {
			return fmt.Errorf("store.leveldb_path must be set for the leveldb backend")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Exchange.Backend {
	case "memory":
	case "nats":
		if c.Exchange.NatsURL == "" {
			return fmt.Errorf("exchange.nats_url must be set for the nats backend")
		}
	default:
		return fmt.Errorf("unknown exchange backend %q", c.Exchange.Backend)
	}

	if c.Exchange.RequestTimeoutMs <= 0 {
		return fmt.Errorf("exchange.request_timeout_ms must be positive")
	}
	if c.Exchange.SubmitRate <= 0 || c.Exchange.SubmitBurst <= 0 {
		return fmt.Errorf("exchange submit rate and burst must be positive")
	}
	if c.Persist.QueueSize <= 0 {
		return fmt.Errorf("persist.queue_size must be positive")
	}
	if c.Persist.MaxAttempts <= 0 {
		return fmt.Errorf("persist.max_attempts must be positive")
	}
	if c.KeyCacheSize <= 0 {
		return fmt.Errorf("key_cache_size must be positive")
	}
	if c.ReconcileIntervalSec <= 0 {
		return fmt.Errorf("reconcile_interval_sec must be positive")
	}
	return nil
}

// PrivKeyInt parses PrivKey as a decimal or 0x-prefixed hex integer.
func (c *Config) PrivKeyInt() (*big.Int, error) {
	if c.PrivKey == "" {
		return nil, fmt.Errorf("%s is not set", EnvPrivKey)
	}
	k, ok := new(big.Int).SetString(c.PrivKey, 0)
	if !ok {
		return nil, fmt.Errorf("%s is not an integer", EnvPrivKey)
	}
	return k, nil
}
