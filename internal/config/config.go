// Package config loads the service configuration from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Server struct {
	Port        string `toml:"port"`
	GRPCPort    string `toml:"grpc_port"`
	DebugRoutes bool   `toml:"debug_routes"`
}

type Database struct {
	// Driver is "memory", "postgres" or "sqlite3".
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type AMQP struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

type Responder struct {
	// Addr of the remote responder. Empty selects the local canned one.
	Addr         string   `toml:"addr"`
	Timeout      Duration `toml:"timeout"`
	HistoryLimit int      `toml:"history_limit"`
}

type Telemetry struct {
	ServiceName  string `toml:"service_name"`
	Environment  string `toml:"environment"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

type Logging struct {
	Path string `toml:"path"`
}

type Presence struct {
	QueueSize int `toml:"queue_size"`
}

// Config represents zenj.toml.
type Config struct {
	Server    Server    `toml:"server"`
	Database  Database  `toml:"database"`
	AMQP      AMQP      `toml:"amqp"`
	Responder Responder `toml:"responder"`
	Telemetry Telemetry `toml:"telemetry"`
	Logging   Logging   `toml:"logging"`
	Presence  Presence  `toml:"presence"`
}

const DriverMemory = "memory"

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:    Server{Port: "8083", GRPCPort: "9083"},
		Database:  Database{Driver: DriverMemory},
		AMQP:      AMQP{Exchange: "zenj.events"},
		Responder: Responder{Timeout: Duration{30 * time.Second}, HistoryLimit: 20},
		Telemetry: Telemetry{ServiceName: "zenj-service", Environment: "dev"},
		Presence:  Presence{QueueSize: 64},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOptional behaves like Load but treats a missing file as empty.
func LoadOptional(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	return Load(path)
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Server.Port)
	str("GRPC_PORT", &c.Server.GRPCPort)
	str("DB_DRIVER", &c.Database.Driver)
	str("DB_DSN", &c.Database.DSN)
	str("AMQP_URL", &c.AMQP.URL)
	str("AMQP_EXCHANGE", &c.AMQP.Exchange)
	str("RESPONDER_GRPC_ADDR", &c.Responder.Addr)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	str("APP_ENV", &c.Telemetry.Environment)
	str("LOG_PATH", &c.Logging.Path)

	if v, ok := lookup("DEBUG_ROUTES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEBUG_ROUTES: %w", err)
		}
		c.Server.DebugRoutes = b
	}
	if v, ok := lookup("RESPONDER_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RESPONDER_TIMEOUT: %w", err)
		}
		c.Responder.Timeout = Duration{d}
	}
	return nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case "postgres", "sqlite3":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New("server.port is required")
	}
	if c.Responder.Timeout.Duration <= 0 {
		return errors.New("responder.timeout must be positive")
	}
	return nil
}

// Save writes cfg to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
