package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/config"
	"github.com/randalmurphal/eventflow/pkg/eventflow/ledger"
	"github.com/randalmurphal/eventflow/pkg/eventflow/lock"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
	"github.com/randalmurphal/eventflow/pkg/eventflow/task"
	"github.com/randalmurphal/eventflow/pkg/eventflow/tasks"
	"gopkg.in/yaml.v3"
)

// settings resolves configuration: defaults, then the settings file, then
// environment variables and flags.
func (c *cli) settings() (config.Settings, error) {
	s := config.Defaults()
	if path := c.v.GetString("config"); path != "" {
		loaded, err := config.LoadSettings(path)
		if err != nil {
			return config.Settings{}, err
		}
		s = loaded
	}

	// Viper resolves environment variables only for keys it knows, so the
	// file's values are registered first.
	base, err := settingsMap(s)
	if err != nil {
		return config.Settings{}, err
	}
	if err := c.v.MergeConfigMap(base); err != nil {
		return config.Settings{}, fmt.Errorf("merge settings: %w", err)
	}
	if err := c.v.Unmarshal(&s); err != nil {
		return config.Settings{}, fmt.Errorf("resolve settings: %w", err)
	}

	// The ledger shares the storage database unless configured apart.
	if s.Ledger.Driver == config.DriverMemory && s.Storage.Driver != config.DriverMemory {
		s.Ledger = s.Storage
	}
	if s.Ledger.DSN == "" && s.Ledger.Driver == s.Storage.Driver {
		s.Ledger.DSN = s.Storage.DSN
	}

	if err := s.Validate(); err != nil {
		return config.Settings{}, err
	}
	return s, nil
}

// settingsMap flattens s into the nested map viper merges. Processor
// settings are left out because viper lowercases map keys.
func settingsMap(s config.Settings) (map[string]any, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	delete(m, "processors")
	return m, nil
}

// app holds the stores opened for one command.
type app struct {
	settings  config.Settings
	logger    *slog.Logger
	envelopes checkpoint.Store
	tasks     task.Store
	ledger    ledger.Ledger
	locker    lock.Locker
	closers   []func() error
}

func (c *cli) open(ctx context.Context) (*app, error) {
	s, err := c.settings()
	if err != nil {
		return nil, err
	}
	a := &app{
		settings: s,
		logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	if err := a.openStores(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	s := a.settings
	switch s.Storage.Driver {
	case config.DriverSQLite:
		envelopes, err := checkpoint.NewSQLiteStore(s.Storage.DSN)
		if err != nil {
			return fmt.Errorf("open envelope store: %w", err)
		}
		a.envelopes = envelopes
		a.closers = append(a.closers, envelopes.Close)

		tasksStore, err := task.NewSQLiteStore(s.Storage.DSN)
		if err != nil {
			return fmt.Errorf("open task store: %w", err)
		}
		a.tasks = tasksStore
		a.closers = append(a.closers, tasksStore.Close)
	default:
		a.envelopes = checkpoint.NewMemoryStore()
		a.tasks = task.NewMemoryStore()
	}

	var (
		l   *ledger.SQLLedger
		err error
	)
	switch s.Ledger.Driver {
	case config.DriverSQLite:
		l, err = ledger.OpenSQLite(ctx, s.Ledger.DSN)
	case config.DriverPostgres:
		l, err = ledger.OpenPostgres(ctx, s.Ledger.DSN)
	default:
		a.ledger = ledger.NewMemoryLedger()
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if l != nil {
		a.ledger = ledger.NewRetrying(l)
		a.closers = append(a.closers, a.ledger.Close)
	}

	switch s.Lock.Driver {
	case config.DriverRedis:
		rl, err := lock.DialRedis(ctx, s.Lock.Addr, s.Lock.Password, s.Lock.DB)
		if err != nil {
			return fmt.Errorf("connect lock backend: %w", err)
		}
		a.locker = rl
		a.closers = append(a.closers, rl.Close)
	default:
		a.locker = lock.NewMemoryLocker()
	}
	return nil
}

// runner builds a task runner with the built-in executors registered.
func (a *app) runner() *task.Runner {
	s := a.settings
	opts := []task.Option{
		task.WithLogger(a.logger),
		task.WithLedger(a.ledger),
		task.WithPageSize(s.Tasks.PageSize),
		task.WithRateLimit(s.Tasks.ItemRateLimit, 1),
		task.WithLocker(a.locker, s.Dispatcher.LockTTL),
	}
	if s.Observability.Metrics {
		opts = append(opts, task.WithMetrics(observability.NewMetricsRecorder()))
	}
	if s.Observability.Tracing {
		opts = append(opts, task.WithTracing(observability.NewSpanManager()))
	}
	r := task.NewRunner(a.tasks, opts...)
	tasks.Register(r, a.envelopes, nil, s.Tasks)
	return r
}

// Close releases everything opened, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
