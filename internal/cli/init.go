// Package cli provides the bootstrap shared by cmd/ltv-etl, cmd/ltv-worker
// and cmd/ltv-dashboard.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/amqp"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/cohort"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/config"
	applog "github.com/Kazza-miya/cascade-sales-dashboard/internal/log"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/services"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/sheets/google"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads and validates configuration.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetupLogger configures the default logger from cfg for the given binary.
func SetupLogger(cfg *config.Config, component string) *applog.Logger {
	return applog.Setup(cfg.LogLevel, cfg.LogFormat, component)
}

// StorageConfig maps application configuration to the store settings.
func StorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.DBDriver,
		SQLitePath:  cfg.SQLiteDBPath,
		DatabaseURL: cfg.DatabaseURL,
	}
}

// OpenStore opens the configured database and migrates it.
func OpenStore(ctx context.Context, cfg *config.Config) (*storage.Repository, error) {
	repo, err := storage.Open(ctx, StorageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	return repo, nil
}

// ServiceConfig derives the metrics service settings.
func ServiceConfig(cfg *config.Config) services.Config {
	sc := services.DefaultConfig()
	sc.Engine = cohort.Options{
		GapPolicy: cohort.GapPolicy(cfg.GapPolicy),
		Precision: int32(cfg.Precision),
	}
	sc.AmountExponent = int32(cfg.AmountExponent)
	sc.Currency = cfg.LedgerCurrency
	return sc
}

// NewAMQPClient connects to the broker, or returns nil when AMQP_URL is unset.
func NewAMQPClient(cfg *config.Config) (*amqp.Client, error) {
	if cfg.AMQPURL == "" {
		return nil, nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return nil, fmt.Errorf("connect to AMQP: %w", err)
	}
	return client, nil
}

// Publisher returns client as a services.Publisher, keeping a nil client an
// untyped nil so the service skips publishing.
func Publisher(client *amqp.Client) services.Publisher {
	if client == nil {
		return nil
	}
	return client
}

// SheetsConfig maps the export settings to the Sheets client.
func SheetsConfig(cfg *config.Config) google.Config {
	return google.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.MetricsSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Fatal logs err and exits.
func Fatal(logger *applog.Logger, msg string, err error) {
	logger.Error(msg, applog.FieldError, err)
	os.Exit(1)
}
