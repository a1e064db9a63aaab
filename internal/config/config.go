package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	StoreBackend     string        `mapstructure:"STORE_BACKEND"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	TxMaxAttempts    int           `mapstructure:"TX_MAX_ATTEMPTS"`
	TxRetryBaseDelay time.Duration `mapstructure:"TX_RETRY_BASE_DELAY"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit        string        `mapstructure:"BODY_LIMIT"`

	RedisURL            string        `mapstructure:"REDIS_URL"`
	DirectoryCacheTTL   time.Duration `mapstructure:"DIRECTORY_CACHE_TTL"`
	DirectoryRetryCount int           `mapstructure:"DIRECTORY_RETRY_COUNT"`
	PatientDirectoryURL string        `mapstructure:"PATIENT_DIRECTORY_URL"`
	StaffDirectoryURL   string        `mapstructure:"STAFF_DIRECTORY_URL"`
	StaffAllowedRoles   []string      `mapstructure:"STAFF_ALLOWED_ROLES"`

	BillingWebhookURL    string `mapstructure:"BILLING_WEBHOOK_URL"`
	BillingWebhookSecret string `mapstructure:"BILLING_WEBHOOK_SECRET"`

	EnforceWardCapacity bool `mapstructure:"ENFORCE_WARD_CAPACITY"`

	DefaultTenant  string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"STORE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"TX_MAX_ATTEMPTS", "TX_RETRY_BASE_DELAY", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"REDIS_URL", "DIRECTORY_CACHE_TTL", "DIRECTORY_RETRY_COUNT", "PATIENT_DIRECTORY_URL", "STAFF_DIRECTORY_URL", "STAFF_ALLOWED_ROLES",
	"BILLING_WEBHOOK_URL", "BILLING_WEBHOOK_SECRET",
	"ENFORCE_WARD_CAPACITY",
	"DEFAULT_TENANT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
}

// Load reads configuration from the environment, falling back to a .env file
// in the working directory when present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_BACKEND", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("TX_MAX_ATTEMPTS", 3)
	v.SetDefault("TX_RETRY_BASE_DELAY", "25ms")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("DIRECTORY_CACHE_TTL", "5m")
	v.SetDefault("DIRECTORY_RETRY_COUNT", 0)
	v.SetDefault("ENFORCE_WARD_CAPACITY", false)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Unmarshal only sees keys viper knows about.
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.StaffAllowedRoles = splitList(cfg.StaffAllowedRoles)
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if cfg.StoreBackend == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", StorePostgres)
	}

	return cfg, nil
}

// splitList normalises a comma separated env value that viper may hand back
// as a single element.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate rejects configurations that would start a server in an unsafe or
// unusable state.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreBackend)
	}
	if c.TxMaxAttempts < 1 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be at least 1, got %d", c.TxMaxAttempts)
	}
	if c.DirectoryRetryCount < 0 {
		return fmt.Errorf("DIRECTORY_RETRY_COUNT must not be negative, got %d", c.DirectoryRetryCount)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set outside development (ENV=%q)", c.Env)
	}
	if c.BillingWebhookURL != "" && c.BillingWebhookSecret == "" && c.IsProduction() {
		return fmt.Errorf("BILLING_WEBHOOK_SECRET is required in production when BILLING_WEBHOOK_URL is set")
	}
	return nil
}
