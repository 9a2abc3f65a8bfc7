// Package config holds the server configuration and its YAML loader.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage and fan-out drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	FanoutLocal = "local"
	FanoutRedis = "redis"
)

// Config is the complete server configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	GRPC    GRPCConfig    `yaml:"grpc"`
	Storage StorageConfig `yaml:"storage"`
	Fanout  FanoutConfig  `yaml:"fanout"`
	Session SessionConfig `yaml:"session"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
	Limiter LimiterConfig `yaml:"limiter"`
}

// HTTPConfig configures the websocket and health/metrics listener.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	SendQueue         int           `yaml:"send_queue"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PongWait          time.Duration `yaml:"pong_wait"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes"`
}

// GRPCConfig configures the token and admin API listener.
type GRPCConfig struct {
	Addr       string `yaml:"addr"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	Reflection bool   `yaml:"reflection"`
}

// StorageConfig selects the content log backend.
type StorageConfig struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	MaxEntryBytes int    `yaml:"max_entry_bytes"`
}

// FanoutConfig selects the cross-node broker.
type FanoutConfig struct {
	Driver    string `yaml:"driver"`
	RedisAddr string `yaml:"redis_addr"`
	Prefix    string `yaml:"prefix"`
}

// SessionConfig tunes editing sessions.
type SessionConfig struct {
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	RollupTimeout   time.Duration `yaml:"rollup_timeout"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// AuthConfig holds signing material.
type AuthConfig struct {
	JWTKey      string        `yaml:"jwt_key"`
	IdentityTTL time.Duration `yaml:"identity_ttl"`
	TokenSalt   string        `yaml:"token_salt"`
}

// LogConfig configures zap output and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LimiterConfig tunes handshake failure throttling.
type LimiterConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxFailures int           `yaml:"max_failures"`
	BlockFor    time.Duration `yaml:"block_for"`
	CacheSize   int           `yaml:"cache_size"`
}

// Default returns a configuration that runs a single node in memory.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			SendQueue:         256,
			WriteTimeout:      10 * time.Second,
			PongWait:          60 * time.Second,
			MaxMessageBytes:   1 << 20,
		},
		GRPC:    GRPCConfig{Addr: ":8443"},
		Storage: StorageConfig{Driver: StorageMemory, MaxEntryBytes: 1 << 20},
		Fanout:  FanoutConfig{Driver: FanoutLocal, Prefix: "collab"},
		Session: SessionConfig{
			DispatchTimeout: 10 * time.Second,
			RollupTimeout:   30 * time.Second,
			TokenTTL:        60 * time.Second,
			SweepInterval:   time.Minute,
		},
		Auth: AuthConfig{IdentityTTL: 15 * time.Minute},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 7,
		},
		Limiter: LimiterConfig{
			Window:      15 * time.Minute,
			MaxFailures: 5,
			BlockFor:    15 * time.Minute,
			CacheSize:   10000,
		},
	}
}

// Load reads path over Default. The result is not validated, callers apply
// their overrides first.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var problems []error
	if c.HTTP.Addr == "" {
		problems = append(problems, errors.New("http.addr is required"))
	}
	if c.GRPC.Addr == "" {
		problems = append(problems, errors.New("grpc.addr is required"))
	}
	if c.HTTP.SendQueue <= 0 {
		problems = append(problems, errors.New("http.send_queue must be positive"))
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DSN == "" {
			problems = append(problems, errors.New("storage.dsn is required for postgres"))
		}
	default:
		problems = append(problems, fmt.Errorf("storage.driver %q is unknown", c.Storage.Driver))
	}
	switch c.Fanout.Driver {
	case FanoutLocal:
	case FanoutRedis:
		if c.Fanout.RedisAddr == "" {
			problems = append(problems, errors.New("fanout.redis_addr is required for redis"))
		}
	default:
		problems = append(problems, fmt.Errorf("fanout.driver %q is unknown", c.Fanout.Driver))
	}
	if (c.GRPC.CertFile == "") != (c.GRPC.KeyFile == "") {
		problems = append(problems, errors.New("grpc.cert_file and grpc.key_file go together"))
	}
	if c.Session.TokenTTL <= 0 {
		problems = append(problems, errors.New("session.token_ttl must be positive"))
	}
	if c.Auth.JWTKey == "" {
		problems = append(problems, errors.New("auth.jwt_key is required"))
	}
	if c.Auth.TokenSalt == "" {
		problems = append(problems, errors.New("auth.token_salt is required"))
	}
	return errors.Join(problems...)
}
