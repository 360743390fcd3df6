package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Draft store backends.
const (
	DraftStoreMemory   = "memory"
	DraftStorePostgres = "postgres"
	DraftStoreMongo    = "mongo"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	// Hospital REST API
	APIBaseURL        string        `mapstructure:"API_BASE_URL"`
	APIToken          string        `mapstructure:"API_TOKEN"`
	APITimeout        time.Duration `mapstructure:"API_TIMEOUT"`
	APIRateLimitRPS   float64       `mapstructure:"API_RATE_LIMIT_RPS"`
	APIRateLimitBurst int           `mapstructure:"API_RATE_LIMIT_BURST"`

	ReferenceLoadTimeout     time.Duration `mapstructure:"REFERENCE_LOAD_TIMEOUT"`
	InventoryRefreshInterval time.Duration `mapstructure:"INVENTORY_REFRESH_INTERVAL"`

	DraftStore    string        `mapstructure:"DRAFT_STORE"`
	DraftTTL      time.Duration `mapstructure:"DRAFT_TTL"`
	DraftDebounce time.Duration `mapstructure:"DRAFT_DEBOUNCE"`

	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	MongoURI      string `mapstructure:"MONGODB_URI"`
	MongoDatabase string `mapstructure:"MONGODB_DATABASE"`

	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	TracingEnabled    bool    `mapstructure:"TRACING_ENABLED"`
	TracingSampleRate float64 `mapstructure:"TRACING_SAMPLE_RATE"`

	FollowUpOutcome string `mapstructure:"FOLLOW_UP_OUTCOME"`
	BillingQueue    string `mapstructure:"BILLING_QUEUE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("API_TIMEOUT", 15*time.Second)
	v.SetDefault("API_RATE_LIMIT_RPS", 20)
	v.SetDefault("API_RATE_LIMIT_BURST", 40)
	v.SetDefault("REFERENCE_LOAD_TIMEOUT", 30*time.Second)
	v.SetDefault("INVENTORY_REFRESH_INTERVAL", 5*time.Minute)
	v.SetDefault("DRAFT_STORE", DraftStoreMemory)
	v.SetDefault("DRAFT_TTL", 24*time.Hour)
	v.SetDefault("DRAFT_DEBOUNCE", 500*time.Millisecond)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("MONGODB_DATABASE", "clinicdesk")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", 60*time.Second)
	v.SetDefault("TRACING_SAMPLE_RATE", 1.0)
	v.SetDefault("FOLLOW_UP_OUTCOME", "Follow-up")
	v.SetDefault("BILLING_QUEUE", "cashier")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV",
		"API_BASE_URL", "API_TOKEN", "API_TIMEOUT", "API_RATE_LIMIT_RPS", "API_RATE_LIMIT_BURST",
		"REFERENCE_LOAD_TIMEOUT", "INVENTORY_REFRESH_INTERVAL",
		"DRAFT_STORE", "DRAFT_TTL", "DRAFT_DEBOUNCE",
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
		"MONGODB_URI", "MONGODB_DATABASE",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"REQUEST_TIMEOUT", "TRACING_ENABLED", "TRACING_SAMPLE_RATE",
		"FOLLOW_UP_OUTCOME", "BILLING_QUEUE",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.DraftStore = strings.ToLower(strings.TrimSpace(cfg.DraftStore))

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); requests without a token get admin access.")
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

// Validate checks that the selected backends have what they need and that
// authentication is configured outside development.
func (c *Config) Validate() error {
	switch c.DraftStore {
	case DraftStoreMemory:
	case DraftStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DRAFT_STORE is %q", DraftStorePostgres)
		}
	case DraftStoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required when DRAFT_STORE is %q", DraftStoreMongo)
		}
	default:
		return fmt.Errorf("DRAFT_STORE must be %q, %q or %q, got %q",
			DraftStoreMemory, DraftStorePostgres, DraftStoreMongo, c.DraftStore)
	}

	if c.DraftTTL <= 0 {
		return fmt.Errorf("DRAFT_TTL must be positive, got %s", c.DraftTTL)
	}
	if c.ReferenceLoadTimeout <= 0 {
		return fmt.Errorf("REFERENCE_LOAD_TIMEOUT must be positive, got %s", c.ReferenceLoadTimeout)
	}

	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE must be between 0 and 1, got %v", c.TracingSampleRate)
	}

	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}

	return nil
}
