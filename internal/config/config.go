package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// HTTP Server
	Port string `toml:"port"`

	// Database
	DBDriver     string `toml:"db_driver"`
	SQLiteDBPath string `toml:"sqlite_db_path"`
	DatabaseURL  string `toml:"database_url"`

	// AMQP
	AMQPURL      string `toml:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange"`
	AMQPQueue    string `toml:"amqp_queue"`

	// Google identity
	GoogleClientID      string   `toml:"google_client_id"`
	AllowedEmailDomains []string `toml:"allowed_email_domains"`
	AuthDisabled        bool     `toml:"auth_disabled"`
	SecureCookies       bool     `toml:"secure_cookies"`

	// Google Sheets export
	GoogleSpreadsheetID      string `toml:"google_spreadsheet_id"`
	MetricsSheetName         string `toml:"metrics_sheet_name"`
	GoogleServiceAccountFile string `toml:"google_service_account_file"`
	GoogleServiceAccountJSON string `toml:"google_service_account_json"`

	// Metrics engine
	GapPolicy      string `toml:"gap_policy"`
	Precision      int    `toml:"precision"`
	AmountExponent int    `toml:"amount_exponent"`
	LedgerCurrency string `toml:"ledger_currency"`

	// Worker
	RecomputeInterval time.Duration `toml:"recompute_interval"`

	// Dashboard
	MetricsCacheTTL time.Duration `toml:"metrics_cache_ttl"`

	// Logging
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Port:              "8081",
		DBDriver:          "sqlite",
		SQLiteDBPath:      "./data/ltv.db",
		AMQPExchange:      "ltv",
		AMQPQueue:         "metrics_recompute",
		MetricsSheetName:  "Metrics",
		GapPolicy:         "sparse",
		Precision:         16,
		AmountExponent:    2,
		RecomputeInterval: time.Hour,
		MetricsCacheTTL:   time.Minute,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// FileEnv names the optional TOML config file.
const FileEnv = "LTV_CONFIG_FILE"

// Load builds the configuration from defaults, the optional TOML file named
// by LTV_CONFIG_FILE and finally environment variables, which win.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(FileEnv); path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)

	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.SQLiteDBPath = getEnv("SQLITE_DB_PATH", cfg.SQLiteDBPath)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)

	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.AMQPQueue = getEnv("AMQP_QUEUE", cfg.AMQPQueue)

	cfg.GoogleClientID = getEnv("GOOGLE_CLIENT_ID", cfg.GoogleClientID)
	cfg.AllowedEmailDomains = getEnvList("ALLOWED_EMAIL_DOMAINS", cfg.AllowedEmailDomains)
	cfg.AuthDisabled = getEnvBool("AUTH_DISABLED", cfg.AuthDisabled)
	cfg.SecureCookies = getEnvBool("SECURE_COOKIES", cfg.SecureCookies)

	cfg.GoogleSpreadsheetID = getEnv("GOOGLE_SPREADSHEET_ID", cfg.GoogleSpreadsheetID)
	cfg.MetricsSheetName = getEnv("METRICS_SHEET_NAME", cfg.MetricsSheetName)
	cfg.GoogleServiceAccountFile = getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", getEnv("GOOGLE_APPLICATION_CREDENTIALS", cfg.GoogleServiceAccountFile))
	cfg.GoogleServiceAccountJSON = getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", cfg.GoogleServiceAccountJSON)

	cfg.GapPolicy = getEnv("GAP_POLICY", cfg.GapPolicy)
	cfg.Precision = getEnvInt("METRICS_PRECISION", cfg.Precision)
	cfg.AmountExponent = getEnvInt("AMOUNT_EXPONENT", cfg.AmountExponent)
	cfg.LedgerCurrency = strings.ToLower(getEnv("LEDGER_CURRENCY", cfg.LedgerCurrency))

	cfg.RecomputeInterval = getEnvDuration("RECOMPUTE_INTERVAL", cfg.RecomputeInterval)
	cfg.MetricsCacheTTL = getEnvDuration("METRICS_CACHE_TTL", cfg.MetricsCacheTTL)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	return cfg, nil
}

// LoadFile decodes a TOML file on top of cfg. Keys missing from the file
// keep their current values. Durations are written as strings like "90m".
func LoadFile(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %s: unknown keys %v", path, undecoded)
	}
	return nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate database driver
	switch c.DBDriver {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite driver")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case "mysql":
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using mysql driver")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid database driver '%s': must be one of [sqlite mysql]", c.DBDriver))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}


	// Validate engine configuration
	if c.GapPolicy != "sparse" && c.GapPolicy != "fill" {
		errors = append(errors, fmt.Sprintf("invalid gap policy '%s': must be 'sparse' or 'fill'", c.GapPolicy))
	}
	if c.Precision < 1 || c.Precision > 30 {
		errors = append(errors, fmt.Sprintf("invalid metrics precision %d: must be between 1 and 30", c.Precision))
	}
	if c.AmountExponent < 0 || c.AmountExponent > 4 {
		errors = append(errors, fmt.Sprintf("invalid amount exponent %d: must be between 0 and 4", c.AmountExponent))
	}
	if c.LedgerCurrency != "" && !isCurrencyCode(c.LedgerCurrency) {
		errors = append(errors, fmt.Sprintf("invalid ledger currency '%s': must be a 3-letter ISO 4217 code", c.LedgerCurrency))
	}

	// Validate worker configuration
	if c.RecomputeInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid recompute interval %v: must be at least 1 minute", c.RecomputeInterval))
	} else if c.RecomputeInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid recompute interval %v: must be at most 7 days", c.RecomputeInterval))
	}

	if c.MetricsCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid metrics cache TTL %v: must not be negative", c.MetricsCacheTTL))
	}

	// Validate logging
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateDashboard checks the settings only the dashboard server needs.
func (c *Config) ValidateDashboard() error {
	if !c.AuthDisabled && c.GoogleClientID == "" {
		return fmt.Errorf("configuration validation failed:\n- GOOGLE_CLIENT_ID is required unless AUTH_DISABLED is set")
	}
	return nil
}

// ValidateExport checks the settings the sheet export needs.
func (c *Config) ValidateExport() error {
	var errors []string
	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required for the sheet export")
	}
	if strings.TrimSpace(c.MetricsSheetName) == "" {
		errors = append(errors, "metrics sheet name cannot be empty")
	}
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}
