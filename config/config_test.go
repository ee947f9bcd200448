package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.False(t, cfg.Server.TLS.Enabled)
				assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)
				assert.False(t, cfg.Database.Enabled())

				assert.Equal(t, "openai", cfg.Failover.PrimaryProvider)
				assert.Equal(t, 5, cfg.Failover.BreakerThreshold)
				assert.Equal(t, 60*time.Second, cfg.Failover.BreakerResetTimeout)
				assert.Equal(t, 3, cfg.Failover.MaxRetries)
				assert.Equal(t, time.Second, cfg.Failover.RetryDelay)
				assert.Equal(t, 2.0, cfg.Failover.RetryMultiplier)
				assert.Equal(t, 30*time.Second, cfg.Failover.RetryMaxDelay)
				assert.True(t, cfg.Failover.RetryJitter)

				assert.Equal(t, "gpt-4o-mini", cfg.Providers.OpenAI.Model)
				assert.Equal(t, "claude-3-5-sonnet-latest", cfg.Providers.Anthropic.Model)
				assert.Equal(t, 60*time.Second, cfg.Providers.OpenAI.Timeout)
				assert.Empty(t, cfg.ProviderEntries())
			},
		},
		{
			name: "millisecond settings",
			envVars: map[string]string{
				"CIRCUIT_BREAKER_THRESHOLD":     "3",
				"CIRCUIT_BREAKER_RESET_TIMEOUT": "30000",
				"MAX_RETRIES":                   "1",
				"RETRY_DELAY_MS":                "250",
				"OPENAI_TIMEOUT":                "30000",
				"ANTHROPIC_TIMEOUT":             "45s",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.Failover.BreakerThreshold)
				assert.Equal(t, 30*time.Second, cfg.Failover.BreakerResetTimeout)
				assert.Equal(t, 1, cfg.Failover.MaxRetries)
				assert.Equal(t, 250*time.Millisecond, cfg.Failover.RetryDelay)
				assert.Equal(t, 30*time.Second, cfg.Providers.OpenAI.Timeout)
				assert.Equal(t, 45*time.Second, cfg.Providers.Anthropic.Timeout)
			},
		},
		{
			name: "production configuration with all providers",
			envVars: map[string]string{
				"ENVIRONMENT":       "production",
				"SERVER_PORT":       "9000",
				"DATABASE_URL":      "postgres://u:p@db.example.com:5433/attempts",
				"OPENAI_API_KEY":    "sk-xxxxx",
				"ANTHROPIC_API_KEY": "sk-ant-xxxxx",
				"ADMIN_JWT_SECRET":  "secret",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsProduction())
				assert.False(t, cfg.IsDevelopment())
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.True(t, cfg.Database.Enabled())
				assert.Equal(t, "host=db.example.com port=5433 database=attempts", cfg.Database.LogString())
				assert.Len(t, cfg.ProviderEntries(), 2)
			},
		},
		{
			name: "observability configuration",
			envVars: map[string]string{
				"LOG_LEVEL":       "debug",
				"LOG_FORMAT":      "text",
				"METRICS_ENABLED": "false",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Observability.LogLevel)
				assert.Equal(t, "text", cfg.Observability.LogFormat)
				assert.False(t, cfg.Observability.MetricsEnabled)
			},
		},
		{
			name: "PORT env var takes precedence over SERVER_PORT",
			envVars: map[string]string{
				"PORT":        "9443",
				"SERVER_PORT": "9000",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9443, cfg.Server.Port)
			},
		},
		{
			name: "primary provider is case insensitive",
			envVars: map[string]string{
				"PRIMARY_PROVIDER": "Anthropic",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "anthropic", cfg.Failover.PrimaryProvider)
			},
		},
		{
			name: "unknown primary provider",
			envVars: map[string]string{
				"PRIMARY_PROVIDER": "mistral",
			},
			wantErr: true,
		},
		{
			name: "zero breaker threshold",
			envVars: map[string]string{
				"CIRCUIT_BREAKER_THRESHOLD": "0",
			},
			wantErr: true,
		},
		{
			name: "unknown log format",
			envVars: map[string]string{
				"LOG_FORMAT": "xml",
			},
			wantErr: true,
		},
		{
			name: "production without any provider",
			envVars: map[string]string{
				"ENVIRONMENT":      "production",
				"ADMIN_JWT_SECRET": "secret",
			},
			wantErr: true,
		},
		{
			name: "production without admin secret",
			envVars: map[string]string{
				"ENVIRONMENT":    "production",
				"OPENAI_API_KEY": "sk-xxxxx",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			// Set test environment variables
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			// Create config
			cfg, err := New(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestConfig_ProviderEntries(t *testing.T) {
	both := ProvidersConfig{
		OpenAI:    ProviderConfig{APIKey: "sk-o", Model: "gpt-4o-mini", Timeout: time.Minute},
		Anthropic: ProviderConfig{APIKey: "sk-a", Model: "claude", Timeout: 30 * time.Second},
	}

	tests := []struct {
		name      string
		primary   string
		providers ProvidersConfig
		wantIDs   []string
	}{
		{"openai primary", ProviderOpenAI, both, []string{"openai", "anthropic"}},
		{"anthropic primary", ProviderAnthropic, both, []string{"anthropic", "openai"}},
		{
			name:      "missing key is skipped",
			primary:   ProviderAnthropic,
			providers: ProvidersConfig{OpenAI: both.OpenAI},
			wantIDs:   []string{"openai"},
		},
		{"no keys", ProviderOpenAI, ProvidersConfig{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Failover:  FailoverConfig{PrimaryProvider: tt.primary},
				Providers: tt.providers,
			}

			entries := cfg.ProviderEntries()
			var ids []string
			for i, e := range entries {
				ids = append(ids, e.ID)
				assert.Equal(t, i+1, e.Priority)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	t.Run("settings are carried", func(t *testing.T) {
		cfg := &Config{Failover: FailoverConfig{PrimaryProvider: ProviderAnthropic}, Providers: both}
		first := cfg.ProviderEntries()[0]
		assert.Equal(t, "claude", first.Model)
		assert.Equal(t, 30*time.Second, first.Timeout)
		assert.Equal(t, "sk-a", first.APIKey)
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: "development",
			Server:      ServerConfig{Port: 8080},
			Failover: FailoverConfig{
				PrimaryProvider:     ProviderOpenAI,
				BreakerThreshold:    5,
				BreakerResetTimeout: time.Minute,
				RetryMultiplier:     2,
			},
			Observability: ObservabilityConfig{LogLevel: "info", LogFormat: "json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid development config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "partial database config",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Host: "localhost", Database: "db"}
			},
			wantErr: true,
			errMsg:  "database user is required",
		},
		{
			name: "missing database name",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Host: "localhost", User: "user"}
			},
			wantErr: true,
			errMsg:  "database name is required",
		},
		{
			name: "non-positive provider timeout",
			mutate: func(c *Config) {
				c.Providers.OpenAI = ProviderConfig{APIKey: "sk", Timeout: 0}
			},
			wantErr: true,
			errMsg:  "provider timeout must be positive",
		},
		{
			name: "multiplier below one",
			mutate: func(c *Config) {
				c.Failover.RetryMultiplier = 0.5
			},
			wantErr: true,
			errMsg:  "RetryMultiplier",
		},
		{
			name: "zero reset timeout",
			mutate: func(c *Config) {
				c.Failover.BreakerResetTimeout = 0
			},
			wantErr: true,
			errMsg:  "BreakerResetTimeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsProduction())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	assert.Equal(t, expected, cfg.DSN())
	assert.Equal(t, "host=localhost port=5432 database=testdb", cfg.LogString())

	url := DatabaseConfig{ConnectionString: "postgres://u:p@h/db"}
	assert.Equal(t, "postgres://u:p@h/db", url.DSN())
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}

	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"milliseconds", "1500", 1500 * time.Millisecond},
		{"go duration", "2m", 2 * time.Minute},
		{"empty value", "", 10 * time.Second},
		{"invalid", "soon", 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv("TEST_DURATION", tt.value)
			}
			assert.Equal(t, tt.want, getEnvAsDuration("TEST_DURATION", 10*time.Second))
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue int
		want         int
	}{
		{"valid int", "TEST_INT", "42", 10, 42},
		{"empty value", "TEST_INT", "", 10, 10},
		{"invalid int", "TEST_INT", "not-a-number", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsInt(tt.key, tt.defaultValue)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", "TEST_BOOL", "true", false, true},
		{"false", "TEST_BOOL", "false", true, false},
		{"empty value", "TEST_BOOL", "", true, true},
		{"invalid bool", "TEST_BOOL", "not-a-bool", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsBool(tt.key, tt.defaultValue)
			assert.Equal(t, tt.want, got)
		})
	}
}
