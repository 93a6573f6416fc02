package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "referral_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "referral_analytics",
			},
		},
		Platform: PlatformConfig{
			BaseURL: "https://connect.squareupsandbox.com",
		},
		Rewards: RewardsConfig{
			FriendRewardCents:   1000,
			ReferrerRewardCents: 1500,
			Currency:            "USD",
		},
		Dispatcher: DispatcherConfig{
			Concurrency:  4,
			BatchSize:    10,
			PollInterval: 2 * time.Second,
			JobTimeout:   2 * time.Minute,
			BackoffBase:  30 * time.Second,
			BackoffMax:   time.Hour,
		},
		Reaper: ReaperConfig{
			Interval:          time.Minute,
			LivenessThreshold: 10 * time.Minute,
		},
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "referral_db", cfg.Database.Database)
				assert.Equal(t, "referral_analytics", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, int64(1000), cfg.Rewards.FriendRewardCents)
				assert.Equal(t, int64(1500), cfg.Rewards.ReferrerRewardCents)
				assert.Equal(t, 30*time.Second, cfg.Dispatcher.BackoffBase)
				assert.Equal(t, time.Hour, cfg.Dispatcher.BackoffMax)
				assert.Equal(t, 10*time.Minute, cfg.Reaper.LivenessThreshold)
				assert.Equal(t, "referral-api-service", cfg.App.Name)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "server port too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "server port too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty platform base url",
			mutate:    func(c *Config) { c.Platform.BaseURL = "" },
			wantErr:   true,
			errString: "platform base_url is required",
		},
		{
			name:      "zero friend reward",
			mutate:    func(c *Config) { c.Rewards.FriendRewardCents = 0 },
			wantErr:   true,
			errString: "reward amounts must be greater than 0",
		},
		{
			name:      "negative referrer reward",
			mutate:    func(c *Config) { c.Rewards.ReferrerRewardCents = -500 },
			wantErr:   true,
			errString: "reward amounts must be greater than 0",
		},
		{
			name:      "empty currency",
			mutate:    func(c *Config) { c.Rewards.Currency = "" },
			wantErr:   true,
			errString: "rewards currency is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Dispatcher.Concurrency = 0 },
			wantErr:   true,
			errString: "dispatcher concurrency must be greater than 0",
		},
		{
			name:      "zero poll interval",
			mutate:    func(c *Config) { c.Dispatcher.PollInterval = 0 },
			wantErr:   true,
			errString: "dispatcher poll_interval must be greater than 0",
		},
		{
			name:      "zero job timeout",
			mutate:    func(c *Config) { c.Dispatcher.JobTimeout = 0 },
			wantErr:   true,
			errString: "dispatcher job_timeout must be greater than 0",
		},
		{
			name:      "zero backoff base",
			mutate:    func(c *Config) { c.Dispatcher.BackoffBase = 0 },
			wantErr:   true,
			errString: "dispatcher backoff_base must be greater than 0",
		},
		{
			name:      "zero reaper interval",
			mutate:    func(c *Config) { c.Reaper.Interval = 0 },
			wantErr:   true,
			errString: "reaper interval must be greater than 0",
		},
		{
			name: "liveness threshold not beyond job timeout",
			mutate: func(c *Config) {
				c.Reaper.LivenessThreshold = c.Dispatcher.JobTimeout
			},
			wantErr:   true,
			errString: "must exceed dispatcher job_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
