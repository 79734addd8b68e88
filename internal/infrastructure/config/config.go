package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// EnvConfigFile names the environment variable holding the config file path.
const EnvConfigFile = "TERMMUX_CONFIG"

// Config holds all application configuration.
//
// Values are layered: Default, then the optional config file, then environment
// variables. The env tags carry no defaults so unset variables keep file values.
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Terminal  TerminalConfig  `toml:"terminal" yaml:"terminal"`
	Logging   LogConfig       `toml:"logging" yaml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	WebSocket WebSocketConfig `toml:"websocket" yaml:"websocket"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" toml:"port" yaml:"port"`
	Host string `envconfig:"HOST" toml:"host" yaml:"host"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// TerminalConfig holds multiplexer and pty configuration.
type TerminalConfig struct {
	Shell                 string   `envconfig:"TERMINAL_SHELL" toml:"shell" yaml:"shell"`
	WorkingDir            string   `envconfig:"TERMINAL_CWD" toml:"working_dir" yaml:"working_dir"`
	Cols                  uint16   `envconfig:"TERMINAL_COLS" toml:"cols" yaml:"cols"`
	Rows                  uint16   `envconfig:"TERMINAL_ROWS" toml:"rows" yaml:"rows"`
	KillGrace             Duration `envconfig:"TERMINAL_KILL_GRACE" toml:"kill_grace" yaml:"kill_grace"`
	ScrollbackBytes       int      `envconfig:"TERMINAL_SCROLLBACK_BYTES" toml:"scrollback_bytes" yaml:"scrollback_bytes"`
	ShutdownTimeout       Duration `envconfig:"TERMINAL_SHUTDOWN_TIMEOUT" toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	SpawnFailureThreshold uint32   `envconfig:"TERMINAL_SPAWN_FAILURE_THRESHOLD" toml:"spawn_failure_threshold" yaml:"spawn_failure_threshold"`
	SpawnCooldown         Duration `envconfig:"TERMINAL_SPAWN_COOLDOWN" toml:"spawn_cooldown" yaml:"spawn_cooldown"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" toml:"level" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" toml:"development" yaml:"development"`
}

// RateLimitConfig holds HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" toml:"requests_per_second" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" toml:"burst" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" toml:"enabled" yaml:"enabled"`
}

// WebSocketConfig holds per-connection message limits.
type WebSocketConfig struct {
	MessagesPerSecond float64 `envconfig:"WS_MESSAGES_PER_SECOND" toml:"messages_per_second" yaml:"messages_per_second"`
	MessageBurst      int     `envconfig:"WS_MESSAGE_BURST" toml:"message_burst" yaml:"message_burst"`
}

// Duration is a time.Duration read from strings such as "3s" in files and env.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load builds configuration from defaults, the file at path (or $TERMMUX_CONFIG
// when path is empty), and environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load("")
	if err != nil {
		return Default()
	}
	return cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Terminal.Cols == 0 || c.Terminal.Rows == 0 {
		errs = append(errs, errors.New("terminal cols and rows must be positive"))
	}
	if c.Terminal.ScrollbackBytes < 0 {
		errs = append(errs, errors.New("terminal scrollback must not be negative"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate limit rps and burst must be positive when enabled"))
	}
	if c.WebSocket.MessagesPerSecond <= 0 || c.WebSocket.MessageBurst <= 0 {
		errs = append(errs, errors.New("websocket message rate and burst must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "127.0.0.1",
		},
		Terminal: TerminalConfig{
			Cols:                  80,
			Rows:                  24,
			KillGrace:             Duration{3 * time.Second},
			ScrollbackBytes:       256 * 1024,
			ShutdownTimeout:       Duration{5 * time.Second},
			SpawnFailureThreshold: 5,
			SpawnCooldown:         Duration{30 * time.Second},
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
		WebSocket: WebSocketConfig{
			MessagesPerSecond: 200,
			MessageBurst:      400,
		},
	}
}
