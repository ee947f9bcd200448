package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/upb/llm-failover/utils"
)

// Known provider identifiers, in their default fallback order
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var knownProviders = []string{ProviderOpenAI, ProviderAnthropic}

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Failover      FailoverConfig
	Providers     ProvidersConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration // 0 disables the write deadline so streams are not cut
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds the optional PostgreSQL attempt log configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds admin route authentication
type AuthConfig struct {
	AdminJWTSecret string
}

// FailoverConfig holds circuit breaker and retry settings shared by every provider
type FailoverConfig struct {
	PrimaryProvider     string        `validate:"oneof=openai anthropic"`
	BreakerThreshold    int           `validate:"gte=1"`
	BreakerResetTimeout time.Duration `validate:"gt=0"`
	MaxRetries          int           `validate:"gte=0"`
	RetryDelay          time.Duration `validate:"gte=0"`
	RetryMultiplier     float64       `validate:"gte=1"`
	RetryMaxDelay       time.Duration `validate:"gte=0"`
	RetryJitter         bool
}

// ProvidersConfig holds LLM provider configurations
type ProvidersConfig struct {
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
}

// ProviderConfig holds one provider's credentials, model and call deadline
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// ProviderSettings is one registrable provider with its assigned priority
type ProviderSettings struct {
	ID       string
	Priority int
	ProviderConfig
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"required"`
	LogFormat      string `validate:"oneof=json text"`
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 0),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		},
		Failover: FailoverConfig{
			PrimaryProvider:     strings.ToLower(getEnv("PRIMARY_PROVIDER", ProviderOpenAI)),
			BreakerThreshold:    getEnvAsInt("CIRCUIT_BREAKER_THRESHOLD", 5),
			BreakerResetTimeout: getEnvAsDuration("CIRCUIT_BREAKER_RESET_TIMEOUT", 60*time.Second),
			MaxRetries:          getEnvAsInt("MAX_RETRIES", 3),
			RetryDelay:          getEnvAsDuration("RETRY_DELAY_MS", time.Second),
			RetryMultiplier:     getEnvAsFloat("RETRY_BACKOFF_MULTIPLIER", 2),
			RetryMaxDelay:       getEnvAsDuration("RETRY_MAX_DELAY_MS", 30*time.Second),
			RetryJitter:         getEnvAsBool("RETRY_JITTER", true),
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
				Timeout: getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
			},
			Anthropic: ProviderConfig{
				APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				Model:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
				Timeout: getEnvAsDuration("ANTHROPIC_TIMEOUT", 60*time.Second),
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct constraints and environment-dependent requirements
func (c *Config) Validate() error {
	for _, section := range []interface{}{&c.Server, &c.Failover, &c.Observability} {
		if err := utils.ValidateStruct(section); err != nil {
			return fmt.Errorf("%w: %v", err, utils.GetValidationFields(err))
		}
	}

	// Database is optional, but a partial DB_* configuration is a mistake
	if c.Database.ConnectionString == "" && c.Database.Host != "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	for _, p := range []ProviderConfig{c.Providers.OpenAI, c.Providers.Anthropic} {
		if p.APIKey != "" && p.Timeout <= 0 {
			return fmt.Errorf("provider timeout must be positive")
		}
	}

	if c.IsProduction() {
		if len(c.ProviderEntries()) == 0 {
			return fmt.Errorf("at least one LLM provider must be configured in production")
		}
		if c.Auth.AdminJWTSecret == "" {
			return fmt.Errorf("admin JWT secret is required in production")
		}
	}

	return nil
}

// ProviderEntries returns the providers with credentials, primary first.
// Priorities are assigned 1..n in that order.
func (c *Config) ProviderEntries() []ProviderSettings {
	order := []string{c.Failover.PrimaryProvider}
	for _, id := range knownProviders {
		if id != c.Failover.PrimaryProvider {
			order = append(order, id)
		}
	}

	var entries []ProviderSettings
	for _, id := range order {
		pc, ok := c.providerConfig(id)
		if !ok || pc.APIKey == "" {
			continue
		}
		entries = append(entries, ProviderSettings{
			ID:             id,
			Priority:       len(entries) + 1,
			ProviderConfig: pc,
		})
	}
	return entries
}

func (c *Config) providerConfig(id string) (ProviderConfig, bool) {
	switch id {
	case ProviderOpenAI:
		return c.Providers.OpenAI, true
	case ProviderAnthropic:
		return c.Providers.Anthropic, true
	}
	return ProviderConfig{}, false
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Enabled reports whether an attempt log database is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Nothing set means the attempt log is disabled.
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		ConnectionString: getEnv("DATABASE_URL", ""),
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if cfg.ConnectionString != "" {
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts a bare integer as milliseconds or a Go duration string
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if ms, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
