package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"

	"github.com/FACorreiaa/benefactor-dues/pkg/money"
)

var functionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Import        ImportConfig
	Inbox         InboxConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	CORSOrigins        []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

type AuthConfig struct {
	JWTSecret string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
}

// ImportConfig controls how debit workbooks are read and reconciled.
type ImportConfig struct {
	MaxUploadBytes       int64
	SynonymsFile         string
	DefaultCurrency      string
	DefaultPaymentMethod string
	DefaultAccountType   string
	ReconcileFunction    string
	EligibleKind         string
	EligibleStatus       string
	EligibleActiveColumn string
	// CurrencyAliases extends the built-in moneda spellings, e.g. "DOLAR=USD".
	CurrencyAliases      map[string]string
}

// InboxConfig controls the scheduled sweep of a drop directory.
type InboxConfig struct {
	Enabled  bool
	Dir      string
	Schedule string
	ActorID  uuid.UUID
}

// Load reads configuration from environment variables for the HTTP server.
func Load() (*Config, error) {
	cfg, err := LoadForTools()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

// LoadForTools reads configuration for command line tools, which do not
// authenticate requests and so do not need a JWT secret.
func LoadForTools() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 20),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 40),
			CORSOrigins:        getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "benefactors"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("POSTGRES_MAX_CONNS", 10),
			MinConns: getEnvAsInt("POSTGRES_MIN_CONNS", 1),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
		Import: ImportConfig{
			MaxUploadBytes:       int64(getEnvAsInt("IMPORT_MAX_UPLOAD_BYTES", 10<<20)),
			SynonymsFile:         getEnv("IMPORT_SYNONYMS_FILE", ""),
			DefaultCurrency:      getEnv("IMPORT_DEFAULT_CURRENCY", "USD"),
			DefaultPaymentMethod: getEnv("IMPORT_DEFAULT_PAYMENT_METHOD", "DEBIT"),
			DefaultAccountType:   getEnv("IMPORT_DEFAULT_ACCOUNT_TYPE", "DEBIT"),
			ReconcileFunction:    getEnv("IMPORT_RECONCILE_FUNCTION", "process_debit_batch"),
			EligibleKind:         getEnv("IMPORT_ELIGIBLE_KIND", "TITULAR"),
			EligibleStatus:       getEnv("IMPORT_ELIGIBLE_STATUS", "APROBADO"),
			EligibleActiveColumn: getEnv("IMPORT_ELIGIBLE_ACTIVE_COLUMN", ""),
		},
		Inbox: InboxConfig{
			Enabled:  getEnvAsBool("INBOX_ENABLED", false),
			Dir:      getEnv("INBOX_DIR", "./inbox"),
			Schedule: getEnv("INBOX_SCHEDULE", "*/5 * * * *"),
		},
	}

	if !functionName.MatchString(cfg.Import.ReconcileFunction) {
		return nil, fmt.Errorf("IMPORT_RECONCILE_FUNCTION %q is not a valid function name", cfg.Import.ReconcileFunction)
	}

	if !money.IsKnownCurrency(cfg.Import.DefaultCurrency) {
		return nil, fmt.Errorf("IMPORT_DEFAULT_CURRENCY %q is not an ISO-4217 code", cfg.Import.DefaultCurrency)
	}

	aliases, err := getEnvAsPairs("IMPORT_CURRENCY_ALIASES")
	if err != nil {
		return nil, err
	}
	for alias, code := range aliases {
		if !money.IsKnownCurrency(code) {
			return nil, fmt.Errorf("IMPORT_CURRENCY_ALIASES maps %q to %q, which is not an ISO-4217 code", alias, code)
		}
	}
	cfg.Import.CurrencyAliases = aliases

	if cfg.Inbox.Enabled {
		actor, err := uuid.Parse(getEnv("INBOX_ACTOR_ID", ""))
		if err != nil {
			return nil, errors.New("INBOX_ACTOR_ID must be a valid UUID when INBOX_ENABLED is set")
		}
		cfg.Inbox.ActorID = actor
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.MaxConns, c.MinConns,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsPairs reads a comma separated list of KEY=VALUE pairs. Keys are
// upper-cased.
func getEnvAsPairs(key string) (map[string]string, error) {
	pairs := make(map[string]string)
	for _, part := range getEnvAsList(key, nil) {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("%s entry %q must look like KEY=VALUE", key, part)
		}
		pairs[strings.ToUpper(k)] = strings.ToUpper(v)
	}
	return pairs, nil
}
