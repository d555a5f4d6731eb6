package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// FileEnv names the optional configuration file overlay.
const FileEnv = "UIBLOCKS_CONFIG"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Engine    EngineConfig
	Assets    AssetConfig
	History   HistoryConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// GRPCConfig holds the health service listener.
type GRPCConfig struct {
	Address string `envconfig:"GRPC_ADDR" default:"localhost:50061"`
	Enabled bool   `envconfig:"GRPC_ENABLED" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// EngineConfig tunes block extraction and session scheduling.
type EngineConfig struct {
	Marker       string        `envconfig:"UIBLOCKS_MARKER" default:"@ui{"`
	Tick         time.Duration `envconfig:"UIBLOCKS_TICK" default:"16ms"`
	ReadyTimeout time.Duration `envconfig:"UIBLOCKS_READY_TIMEOUT" default:"2s"`
	MaxCarry     int           `envconfig:"UIBLOCKS_MAX_CARRY" default:"65536"`
	StepBudget   int           `envconfig:"UIBLOCKS_STEP_BUDGET" default:"100000"`
	Parallelism  int           `envconfig:"UIBLOCKS_PARALLELISM" default:"1"`
}

// AssetConfig locates files scripts may reference.
type AssetConfig struct {
	Root  string   `envconfig:"ASSET_ROOT" default:"./assets"`
	Allow []string `envconfig:"ASSET_ALLOW" default:"**/*"`
}

// HistoryConfig enables the fragment history store. An empty path
// disables it.
type HistoryConfig struct {
	Path string `envconfig:"HISTORY_PATH" default:""`
}

// Load loads configuration from environment variables, on top of the
// file named by UIBLOCKS_CONFIG when set. Environment variables win.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if path := os.Getenv(FileEnv); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		GRPC: GRPCConfig{
			Address: "localhost:50061",
			Enabled: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Engine: EngineConfig{
			Marker:       "@ui{",
			Tick:         16 * time.Millisecond,
			ReadyTimeout: 2 * time.Second,
			MaxCarry:     65536,
			StepBudget:   100000,
			Parallelism:  1,
		},
		Assets: AssetConfig{
			Root:  "./assets",
			Allow: []string{"**/*"},
		},
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	e := c.Engine
	switch {
	case len(e.Marker) == 0 || e.Marker[len(e.Marker)-1] != '{':
		return fmt.Errorf("invalid config: UIBLOCKS_MARKER %q must end with '{'", e.Marker)
	case e.Tick <= 0:
		return fmt.Errorf("invalid config: UIBLOCKS_TICK must be positive")
	case e.ReadyTimeout == 0:
		return fmt.Errorf("invalid config: UIBLOCKS_READY_TIMEOUT must not be zero; use a negative value to disable waiting")
	case e.MaxCarry <= 0:
		return fmt.Errorf("invalid config: UIBLOCKS_MAX_CARRY must be positive")
	case e.StepBudget <= 0:
		return fmt.Errorf("invalid config: UIBLOCKS_STEP_BUDGET must be positive")
	case e.Parallelism <= 0:
		return fmt.Errorf("invalid config: UIBLOCKS_PARALLELISM must be positive")
	}
	return nil
}
