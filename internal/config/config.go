// Package config loads the daemon configuration from YAML with EQS_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/eqs/internal/core/observability/log"
	"github.com/zeusync/eqs/internal/core/spatial"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server ServerConfig `yaml:"server"`
	Engine EngineConfig `yaml:"engine"`
	Log    LogConfig    `yaml:"log"`
	// Scenes is the path of the YAML scene file served to InitializeEnvironment.
	Scenes string `yaml:"scenes"`
}

type ServerConfig struct {
	ListenAddr      string          `yaml:"listen_addr"`
	CORSOrigins     []string        `yaml:"cors_origins"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	MaxWSClients    int             `yaml:"max_ws_clients"`
	MaxBodyBytes    int64           `yaml:"max_body_bytes"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

type EngineConfig struct {
	DefaultCellSize float64       `yaml:"default_cell_size"`
	BoundsMargin    float64       `yaml:"bounds_margin"`
	MaxCells        int           `yaml:"max_cells"`
	Workers         int           `yaml:"workers"`
	DefaultBounds   *spatial.AABB `yaml:"default_bounds,omitempty"`
	// InitOnStart initializes the first scene with default options at startup.
	InitOnStart bool `yaml:"init_on_start"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// Default returns a configuration that runs without a file.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8080",
			CORSOrigins: []string{
				"http://localhost:*",
				"http://127.0.0.1:*",
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 20,
				Burst:             40,
				CleanupInterval:   5 * time.Minute,
			},
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxWSClients:    256,
			MaxBodyBytes:    1 << 20,
		},
		Engine: EngineConfig{
			DefaultCellSize: 1,
			Workers:         1,
		},
		Log: LogConfig{Level: "info", Encoding: "json"},
	}
}

// Load reads path over the defaults, then applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err = dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from EQS_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("EQS_LISTEN_ADDR", &c.Server.ListenAddr)
	str("EQS_SCENES", &c.Scenes)
	str("EQS_LOG_LEVEL", &c.Log.Level)
	str("EQS_LOG_ENCODING", &c.Log.Encoding)
	if v, ok := lookup("EQS_CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = strings.Split(v, ",")
	}

	var errs []error
	num := func(key string, set func(string) error) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		if err := set(v); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err))
		}
	}
	num("EQS_WORKERS", func(v string) (err error) {
		c.Engine.Workers, err = strconv.Atoi(v)
		return
	})
	num("EQS_MAX_CELLS", func(v string) (err error) {
		c.Engine.MaxCells, err = strconv.Atoi(v)
		return
	})
	num("EQS_CELL_SIZE", func(v string) (err error) {
		c.Engine.DefaultCellSize, err = strconv.ParseFloat(v, 64)
		return
	})
	num("EQS_RATE_LIMIT", func(v string) (err error) {
		c.Server.RateLimit.RequestsPerSecond, err = strconv.ParseFloat(v, 64)
		return
	})
	num("EQS_INIT_ON_START", func(v string) (err error) {
		c.Engine.InitOnStart, err = strconv.ParseBool(v)
		return
	})
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}
	if c.Server.ListenAddr == "" {
		bad("server.listen_addr is required")
	}
	if c.Server.RateLimit.RequestsPerSecond <= 0 || c.Server.RateLimit.Burst <= 0 {
		bad("server.rate_limit needs positive requests_per_second and burst")
	}
	if c.Server.RateLimit.CleanupInterval <= 0 {
		bad("server.rate_limit.cleanup_interval must be positive")
	}
	if c.Server.MaxWSClients < 0 {
		bad("server.max_ws_clients must not be negative")
	}
	if !(c.Engine.DefaultCellSize > 0) {
		bad("engine.default_cell_size must be positive")
	}
	if c.Engine.BoundsMargin < 0 {
		bad("engine.bounds_margin must not be negative")
	}
	if c.Engine.MaxCells < 0 {
		bad("engine.max_cells must not be negative")
	}
	if c.Engine.Workers < 1 {
		bad("engine.workers must be at least 1")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		bad("log.level: %v", err)
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		bad("log.encoding must be json or console, got %q", c.Log.Encoding)
	}
	return errors.Join(errs...)
}
