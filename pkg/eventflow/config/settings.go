package config

import (
	"errors"
	"fmt"
	"time"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Settings is the top-level eventflow configuration.
type Settings struct {
	Processors    map[string]ProcessorSettings `yaml:"processors" mapstructure:"processors"`
	Dispatcher    DispatcherSettings           `yaml:"dispatcher" mapstructure:"dispatcher"`
	Tasks         TaskSettings                 `yaml:"tasks" mapstructure:"tasks"`
	Storage       StorageSettings              `yaml:"storage" mapstructure:"storage"`
	Ledger        StorageSettings              `yaml:"ledger" mapstructure:"ledger"`
	Lock          LockSettings                 `yaml:"lock" mapstructure:"lock"`
	Observability ObservabilitySettings        `yaml:"observability" mapstructure:"observability"`
}

// ProcessorSettings overrides a registered processor.
type ProcessorSettings struct {
	// Enabled defaults to true when nil.
	Enabled *bool `yaml:"enabled" mapstructure:"enabled"`
	// Order replaces the processor's declared order when set.
	Order      *int           `yaml:"order" mapstructure:"order"`
	Properties map[string]any `yaml:"properties" mapstructure:"properties"`
}

// DispatcherSettings configures dispatch and the async worker pool.
type DispatcherSettings struct {
	// AsyncEnabled allows envelopes to be deferred. When false every
	// envelope runs synchronously.
	AsyncEnabled bool          `yaml:"async_enabled" mapstructure:"async_enabled"`
	Workers      int           `yaml:"workers" mapstructure:"workers"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size"`
	LockTTL      time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

// TaskSettings configures the task runner.
type TaskSettings struct {
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
	// ItemRateLimit caps processed items per second. Zero disables it.
	ItemRateLimit float64 `yaml:"item_rate_limit" mapstructure:"item_rate_limit"`
	MaxAttempts   int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// StorageSettings selects a persistence backend.
type StorageSettings struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// LockSettings selects the explicit lock backend.
type LockSettings struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// ObservabilitySettings toggles OpenTelemetry instrumentation.
type ObservabilitySettings struct {
	Metrics bool `yaml:"metrics" mapstructure:"metrics"`
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`
}

// Defaults returns settings usable without a config file.
func Defaults() Settings {
	return Settings{
		Processors: map[string]ProcessorSettings{},
		Dispatcher: DispatcherSettings{
			AsyncEnabled: true,
			Workers:      4,
			PollInterval: time.Second,
			BatchSize:    50,
			LockTTL:      time.Minute,
		},
		Tasks: TaskSettings{
			PageSize:    100,
			MaxAttempts: 3,
		},
		Storage: StorageSettings{Driver: DriverMemory},
		Ledger:  StorageSettings{Driver: DriverMemory},
		Lock:    LockSettings{Driver: DriverMemory},
	}
}

// ErrInvalidSettings is wrapped by every Validate failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Validate reports the first invalid combination found.
func (s Settings) Validate() error {
	if s.Dispatcher.Workers < 1 {
		return fmt.Errorf("%w: dispatcher.workers must be at least 1", ErrInvalidSettings)
	}
	if s.Dispatcher.BatchSize < 1 {
		return fmt.Errorf("%w: dispatcher.batch_size must be at least 1", ErrInvalidSettings)
	}
	if s.Tasks.PageSize < 1 {
		return fmt.Errorf("%w: tasks.page_size must be at least 1", ErrInvalidSettings)
	}
	if s.Tasks.ItemRateLimit < 0 {
		return fmt.Errorf("%w: tasks.item_rate_limit cannot be negative", ErrInvalidSettings)
	}
	if err := validateStorage("storage", s.Storage, DriverMemory, DriverSQLite); err != nil {
		return err
	}
	if err := validateStorage("ledger", s.Ledger, DriverMemory, DriverSQLite, DriverPostgres); err != nil {
		return err
	}
	switch s.Lock.Driver {
	case DriverMemory:
	case DriverRedis:
		if s.Lock.Addr == "" {
			return fmt.Errorf("%w: lock.addr is required for redis", ErrInvalidSettings)
		}
	default:
		return fmt.Errorf("%w: unknown lock driver %q", ErrInvalidSettings, s.Lock.Driver)
	}
	return nil
}

func validateStorage(section string, s StorageSettings, allowed ...string) error {
	for _, d := range allowed {
		if s.Driver != d {
			continue
		}
		if d != DriverMemory && s.DSN == "" {
			return fmt.Errorf("%w: %s.dsn is required for %s", ErrInvalidSettings, section, d)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown %s driver %q", ErrInvalidSettings, section, s.Driver)
}

// ProcessorEnabled reports whether processor id should be registered.
func (s Settings) ProcessorEnabled(id string) bool {
	p, ok := s.Processors[id]
	if !ok || p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

// ProcessorOrder returns the configured order override for id.
func (s Settings) ProcessorOrder(id string) (int, bool) {
	p, ok := s.Processors[id]
	if !ok || p.Order == nil {
		return 0, false
	}
	return *p.Order, true
}

// ProcessorProperties returns the free-form properties for id.
func (s Settings) ProcessorProperties(id string) Config {
	return New(s.Processors[id].Properties)
}
