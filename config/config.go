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
	"github.com/memcrypt/console-gateway/utils"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	AuditDatabase *DatabaseConfig // Optional: separate DB for audit logs. When nil, audit uses main DB.
	Keycloak      KeycloakConfig
	Session       SessionConfig
	Authz         AuthzConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int `validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
	// AllowedOrigins lists the browser origins allowed by CORS
	AllowedOrigins []string
	RateLimit      RateLimitConfig
}

// RateLimitConfig holds the per-client request limit applied to /api
type RateLimitConfig struct {
	Enabled  bool
	Requests int `validate:"gte=0"`
	Window   time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
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

// KeycloakConfig holds the identity provider settings used for token verification.
// URL is where the gateway reaches Keycloak; PublicURL is the browser-facing
// address stamped into the iss claim and defaults to URL.
type KeycloakConfig struct {
	URL       string `validate:"required,url"`
	PublicURL string `validate:"omitempty,url"`
	Realm     string `validate:"required"`
	ClientID  string `validate:"required"`

	JWKSTimeout time.Duration
	Leeway      time.Duration

	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// SessionConfig holds the session cookie settings
type SessionConfig struct {
	CookieName string `validate:"required"`
}

// AuthzConfig holds access decision settings
type AuthzConfig struct {
	// RulesFile overrides the embedded rule table when set
	RulesFile string

	MembershipCacheSize     int `validate:"gte=1"`
	MembershipCacheTTL      time.Duration
	MembershipCleanupPeriod time.Duration
}

// AuditConfig holds the denial audit pipeline settings
type AuditConfig struct {
	Enabled      bool
	BufferSize   int `validate:"gte=0"`
	WorkerCount  int `validate:"gte=0"`
	WriteTimeout time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"required,oneof=debug info warn error"`
	LogFormat      string `validate:"omitempty,oneof=json console"`
	MetricsEnabled bool
	MetricsPath    string
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	keycloakURL := getEnv("KEYCLOAK_URL", "http://localhost:8080")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
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
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RateLimit: RateLimitConfig{
				Enabled:  getEnvAsBool("RATE_LIMIT_ENABLED", true),
				Requests: getEnvAsInt("RATE_LIMIT_REQUESTS", 300),
				Window:   getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			},
		},
		Database:      loadDatabaseConfig(),
		AuditDatabase: loadAuditDatabaseConfig(),
		Keycloak: KeycloakConfig{
			URL:                keycloakURL,
			PublicURL:          getEnv("KEYCLOAK_PUBLIC_URL", keycloakURL),
			Realm:              getEnv("KEYCLOAK_REALM", "memcrypt"),
			ClientID:           getEnv("KEYCLOAK_CLIENT_ID", "console"),
			JWKSTimeout:        getEnvAsDuration("KEYCLOAK_JWKS_TIMEOUT", 10*time.Second),
			Leeway:             getEnvAsDuration("KEYCLOAK_CLOCK_LEEWAY", 30*time.Second),
			BreakerFailures:    uint32(getEnvAsInt("KEYCLOAK_BREAKER_FAILURES", 5)),
			BreakerOpenTimeout: getEnvAsDuration("KEYCLOAK_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Session: SessionConfig{
			CookieName: getEnv("SESSION_COOKIE_NAME", "console_session"),
		},
		Authz: AuthzConfig{
			RulesFile:               getEnv("AUTHZ_RULES_FILE", ""),
			MembershipCacheSize:     getEnvAsInt("MEMBERSHIP_CACHE_SIZE", 10000),
			MembershipCacheTTL:      getEnvAsDuration("MEMBERSHIP_CACHE_TTL", 5*time.Minute),
			MembershipCleanupPeriod: getEnvAsDuration("MEMBERSHIP_CACHE_CLEANUP_INTERVAL", time.Minute),
		},
		Audit: AuditConfig{
			Enabled:      getEnvAsBool("AUDIT_ENABLED", true),
			BufferSize:   getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			WorkerCount:  getEnvAsInt("AUDIT_WORKERS", 5),
			WriteTimeout: getEnvAsDuration("AUDIT_WRITE_TIMEOUT", 5*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
			LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "json")),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPath:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if err := utils.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid configuration: %s", describe(err))
	}

	// Production runs behind a browser-facing Keycloak and must not fall back to localhost
	if c.IsProduction() {
		if strings.Contains(c.Keycloak.PublicURL, "localhost") {
			return fmt.Errorf("keycloak public URL must not point at localhost in production")
		}
		if len(c.Server.AllowedOrigins) == 0 {
			return fmt.Errorf("at least one CORS origin is required in production")
		}
	}

	return nil
}

func describe(err error) string {
	fields := utils.GetValidationFields(err)
	if len(fields) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
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
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "console"),
		Password:        getEnv("DB_PASSWORD", "console"),
		Database:        getEnv("DB_NAME", "console"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadAuditDatabaseConfig loads audit DB config from DATABASE_URL_AUDIT.
// Returns nil when not set (audit uses main DB).
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL_AUDIT", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma separated variable, dropping blank entries
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
