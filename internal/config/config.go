package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	CacheTTL          time.Duration `mapstructure:"CACHE_TTL"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`
	DocumentBodyLimit string        `mapstructure:"DOCUMENT_BODY_LIMIT"`
	TLSEnabled        bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile       string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile        string        `mapstructure:"TLS_KEY_FILE"`
	PHIEncryptionKey  string        `mapstructure:"PHI_ENCRYPTION_KEY"`

	PDGMBaseRate       float64 `mapstructure:"PDGM_BASE_RATE"`
	PDGMTablesFile     string  `mapstructure:"PDGM_TABLES_FILE"`
	PDGMCaseMixParquet string  `mapstructure:"PDGM_CASE_MIX_PARQUET"`

	AIBaseURL     string        `mapstructure:"AI_BASE_URL"`
	AIAPIKey      string        `mapstructure:"AI_API_KEY"`
	AIModel       string        `mapstructure:"AI_MODEL"`
	AITimeout     time.Duration `mapstructure:"AI_TIMEOUT"`
	AIMaxAttempts int           `mapstructure:"AI_MAX_ATTEMPTS"`

	OTELEndpoint string `mapstructure:"OTEL_ENDPOINT"`
	OTELInsecure bool   `mapstructure:"OTEL_INSECURE"`
}

var keys = []string{
	"PORT", "ENV",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"REDIS_URL", "CACHE_TTL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "DOCUMENT_BODY_LIMIT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE", "PHI_ENCRYPTION_KEY",
	"PDGM_BASE_RATE", "PDGM_TABLES_FILE", "PDGM_CASE_MIX_PARQUET",
	"AI_BASE_URL", "AI_API_KEY", "AI_MODEL", "AI_TIMEOUT", "AI_MAX_ATTEMPTS",
	"OTEL_ENDPOINT", "OTEL_INSECURE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CACHE_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1MB")
	v.SetDefault("DOCUMENT_BODY_LIMIT", "10MB")
	v.SetDefault("PDGM_BASE_RATE", 2058.16)
	v.SetDefault("AI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("AI_MODEL", "gpt-4o-mini")
	v.SetDefault("AI_TIMEOUT", "60s")
	v.SetDefault("AI_MAX_ATTEMPTS", 3)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AIEnabled reports whether document extraction is configured.
func (c *Config) AIEnabled() bool {
	return c.AIAPIKey != ""
}

// Validate checks values that would make the engine or the server misbehave.
func (c *Config) Validate() error {
	if c.PDGMBaseRate <= 0 {
		return fmt.Errorf("PDGM_BASE_RATE must be positive, got %v", c.PDGMBaseRate)
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be positive, got %s", c.AITimeout)
	}
	if c.AIMaxAttempts < 1 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be at least 1, got %d", c.AIMaxAttempts)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}
	if c.IsProduction() && c.AIEnabled() && !strings.HasPrefix(c.AIBaseURL, "https://") {
		return fmt.Errorf("AI_BASE_URL must use https in production")
	}

	// PHI encryption key validation
	if c.IsProduction() && c.PHIEncryptionKey == "" {
		return fmt.Errorf("PHI_ENCRYPTION_KEY is required in production")
	}
	if c.PHIEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.PHIEncryptionKey)
		if err != nil {
			return fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}

// RequireDatabase is checked by commands that need Postgres.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}
