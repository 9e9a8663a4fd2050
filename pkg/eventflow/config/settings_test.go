package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Valid(t *testing.T) {
	s := config.Defaults()
	require.NoError(t, s.Validate())
	assert.Equal(t, 100, s.Tasks.PageSize)
	assert.True(t, s.Dispatcher.AsyncEnabled)
}

func TestParseSettings(t *testing.T) {
	data := []byte(`
processors:
  audit:
    order: 100
  password-policy:
    enabled: false
  notify:
    properties:
      channel: ops
dispatcher:
  workers: 8
  poll_interval: 2s
storage:
  driver: sqlite
  dsn: ./eventflow.db
`)
	s, err := config.ParseSettings(data)
	require.NoError(t, err)

	assert.Equal(t, 8, s.Dispatcher.Workers)
	assert.Equal(t, 2*time.Second, s.Dispatcher.PollInterval)
	assert.Equal(t, 50, s.Dispatcher.BatchSize, "unset fields keep defaults")
	assert.Equal(t, config.DriverSQLite, s.Storage.Driver)

	assert.True(t, s.ProcessorEnabled("audit"))
	assert.True(t, s.ProcessorEnabled("unknown"))
	assert.False(t, s.ProcessorEnabled("password-policy"))

	order, ok := s.ProcessorOrder("audit")
	assert.True(t, ok)
	assert.Equal(t, 100, order)
	_, ok = s.ProcessorOrder("notify")
	assert.False(t, ok)

	assert.Equal(t, "ops", s.ProcessorProperties("notify").String("channel", ""))
	assert.Equal(t, "d", s.ProcessorProperties("missing").String("channel", "d"))
}

func TestParseSettings_JSON(t *testing.T) {
	s, err := config.ParseSettings([]byte(`{"tasks": {"page_size": 10}}`))
	require.NoError(t, err)
	assert.Equal(t, 10, s.Tasks.PageSize)
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Settings)
		want   string
	}{
		{"workers", func(s *config.Settings) { s.Dispatcher.Workers = 0 }, "dispatcher.workers"},
		{"batch size", func(s *config.Settings) { s.Dispatcher.BatchSize = 0 }, "dispatcher.batch_size"},
		{"page size", func(s *config.Settings) { s.Tasks.PageSize = 0 }, "tasks.page_size"},
		{"rate", func(s *config.Settings) { s.Tasks.ItemRateLimit = -1 }, "item_rate_limit"},
		{"storage driver", func(s *config.Settings) { s.Storage.Driver = "mongo" }, "unknown storage driver"},
		{"postgres storage unsupported", func(s *config.Settings) {
			s.Storage = config.StorageSettings{Driver: config.DriverPostgres, DSN: "x"}
		}, "unknown storage driver"},
		{"ledger dsn", func(s *config.Settings) { s.Ledger.Driver = config.DriverPostgres }, "ledger.dsn"},
		{"redis addr", func(s *config.Settings) { s.Lock.Driver = config.DriverRedis }, "lock.addr"},
		{"lock driver", func(s *config.Settings) { s.Lock.Driver = "etcd" }, "unknown lock driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := config.Defaults()
			tt.modify(&s)
			err := s.Validate()
			require.ErrorIs(t, err, config.ErrInvalidSettings)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks:\n  page_size: 0\n"), 0o600))

	_, err := config.LoadSettings(path)
	assert.ErrorIs(t, err, config.ErrInvalidSettings)

	_, err = config.LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
