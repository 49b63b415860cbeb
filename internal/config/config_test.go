package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadValid(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(filepath.Join("testdata", "valid_config.yaml"))
	require.NoError(t, err)
	return cfg
}

func TestLoad(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := loadValid(t)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, "verify_exchange", cfg.RabbitMQ.Exchange.Name)
		assert.Equal(t, "verify_jobs", cfg.RabbitMQ.Queue.Name)
		assert.Equal(t, "verify.job", cfg.RabbitMQ.RoutingKey)
		assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
		assert.Equal(t, DispatchModeQueue, cfg.Dispatch.Mode)
		assert.Equal(t, 30*time.Minute, cfg.Worker.JobTimeout)
		assert.Equal(t, "solana-verify", cfg.Verifier.Command)
		assert.Equal(t, 5*time.Minute, cfg.Sweep.Interval)
		assert.Equal(t, time.Hour, cfg.Sweep.StaleAfter)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join("testdata", "does_not_exist.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(filepath.Join("testdata", "malformed.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})
}

func TestValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid queue mode",
			mutate: func(c *Config) {},
		},
		{
			name: "empty mode defaults to queue",
			mutate: func(c *Config) {
				c.Dispatch.Mode = ""
			},
		},
		{
			name: "inline mode skips broker validation",
			mutate: func(c *Config) {
				c.Dispatch.Mode = DispatchModeInline
				c.RabbitMQ.Host = ""
			},
		},
		{
			name: "invalid server port",
			mutate: func(c *Config) {
				c.Server.Port = 0
			},
			wantErr: "invalid server port",
		},
		{
			name: "missing database host",
			mutate: func(c *Config) {
				c.Database.Host = ""
			},
			wantErr: "database host is required",
		},
		{
			name: "missing database name",
			mutate: func(c *Config) {
				c.Database.Database = ""
			},
			wantErr: "database name is required",
		},
		{
			name: "queue mode requires broker host",
			mutate: func(c *Config) {
				c.RabbitMQ.Host = ""
			},
			wantErr: "rabbitmq host is required",
		},
		{
			name: "queue mode requires exchange name",
			mutate: func(c *Config) {
				c.RabbitMQ.Exchange.Name = ""
			},
			wantErr: "rabbitmq exchange name is required",
		},
		{
			name: "unknown dispatch mode",
			mutate: func(c *Config) {
				c.Dispatch.Mode = "sideways"
			},
			wantErr: "invalid dispatch mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadValid(t)
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "sweep disabled skips stale_after check",
			mutate: func(c *Config) {
				c.Sweep.Interval = 0
				c.Sweep.StaleAfter = 0
			},
		},
		{
			name: "zero concurrency",
			mutate: func(c *Config) {
				c.Worker.Concurrency = 0
			},
			wantErr: "worker concurrency must be greater than 0",
		},
		{
			name: "zero job timeout",
			mutate: func(c *Config) {
				c.Worker.JobTimeout = 0
			},
			wantErr: "worker job_timeout must be greater than 0",
		},
		{
			name: "zero heartbeat interval",
			mutate: func(c *Config) {
				c.Worker.HeartbeatInterval = 0
			},
			wantErr: "worker heartbeat_interval must be greater than 0",
		},
		{
			name: "missing queue name",
			mutate: func(c *Config) {
				c.RabbitMQ.Queue.Name = ""
			},
			wantErr: "rabbitmq queue name is required",
		},
		{
			name: "sweep enabled without stale_after",
			mutate: func(c *Config) {
				c.Sweep.Interval = time.Minute
				c.Sweep.StaleAfter = 0
			},
			wantErr: "sweep stale_after must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadValid(t)
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
