// Package config loads the YAML configuration of the asynctask binary.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/deepnoodle-ai/asynctask"
	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMySQL    = "mysql"
)

// Config is the root of the configuration file.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Store    StoreConfig    `yaml:"store"`
	HTTP     HTTPConfig     `yaml:"http"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// DispatchConfig sizes the executor running dispatched work.
type DispatchConfig struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	Delay      time.Duration `yaml:"delay"`
	MaxRetries int           `yaml:"max_retries"`

	// SignalBus routes completion signals through an in-process message bus
	// instead of calling the engine directly.
	SignalBus   bool   `yaml:"signal_bus"`
	SignalTopic string `yaml:"signal_topic"`
}

// StoreConfig selects where checkpoints and activity logs are kept.
type StoreConfig struct {
	// Driver is memory, file, sqlite, postgres or mysql.
	Driver string `yaml:"driver"`
	// Dir is the directory of the file driver.
	Dir string `yaml:"dir"`
	// DSN is the data source name of the SQL drivers.
	DSN string `yaml:"dsn"`
}

// Persistent reports whether executions outlive the process.
func (c StoreConfig) Persistent() bool {
	return c.Driver != "" && c.Driver != StoreMemory
}

// HTTPConfig configures the callback API. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// JobsConfig configures the continuation job runner.
type JobsConfig struct {
	Schedule   string        `yaml:"schedule"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Dispatch: DispatchConfig{
			Workers:   dispatch.DefaultWorkers,
			QueueSize: dispatch.DefaultQueueSize,
			Delay:     asynctask.DefaultDispatchDelay,
		},
		Store: StoreConfig{Driver: StoreMemory},
		Jobs:  JobsConfig{Schedule: asynctask.DefaultJobSchedule},
	}
}

// Load reads the file at path and applies it over Default.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result. Unknown keys are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the binary cannot run with.
func (c *Config) Validate() error {
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf(`config: log.format must be "text" or "json", got %q`, c.Log.Format)
	}
	if c.Dispatch.Workers < 0 || c.Dispatch.QueueSize < 0 {
		return errors.New("config: dispatch.workers and dispatch.queue_size must not be negative")
	}
	if c.Dispatch.Delay < 0 {
		return errors.New("config: dispatch.delay must not be negative")
	}
	switch c.Store.Driver {
	case "", StoreMemory:
	case StoreFile:
		if c.Store.Dir == "" {
			return errors.New(`config: store.dir is required for the "file" driver`)
		}
	case StoreSQLite, StorePostgres, StoreMySQL:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for the %q driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Jobs.Schedule != "" {
		if _, err := cron.ParseStandard(c.Jobs.Schedule); err != nil {
			return fmt.Errorf("config: jobs.schedule: %w", err)
		}
	}
	if c.Jobs.StaleAfter < 0 {
		return errors.New("config: jobs.stale_after must not be negative")
	}
	return nil
}

// SlogLevel returns the configured level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log.level %q", c.Level)
}

// Logger returns a logger writing to w in the configured format.
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	level, err := c.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	if c.Format == "json" {
		return asynctask.NewJSONLogger(w, level)
	}
	return asynctask.NewLogger(w, level)
}
