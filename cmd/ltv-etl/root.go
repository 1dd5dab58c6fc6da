package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/cli"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/config"
	applog "github.com/Kazza-miya/cascade-sales-dashboard/internal/log"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/services"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/storage"
)

// app holds what every subcommand needs once PersistentPreRunE has run.
type app struct {
	configFile string
	logLevel   string
	quiet      bool

	cfg    *config.Config
	logger *applog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ltv-etl",
		Short:         "Monthly cohort metrics ETL",
		Long:          "Import billing charges into the ledger and rebuild the monthly new, repeat, churn and LTV metrics.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "TOML config file (overrides LTV_CONFIG_FILE)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Suppress progress output")

	root.AddCommand(
		newMigrateCmd(a),
		newImportCmd(a),
		newComputeCmd(a),
		newRunCmd(a),
		newShowCmd(a),
		newExportSheetCmd(a),
	)
	return root
}

func (a *app) init() error {
	cli.LoadEnvFile()
	if a.configFile != "" {
		if err := os.Setenv(config.FileEnv, a.configFile); err != nil {
			return err
		}
	}
	cfg, err := cli.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg
	a.logger = cli.SetupLogger(cfg, applog.ComponentETL)
	return nil
}

// withService opens the store, builds the metrics service and closes
// everything once fn returns.
func (a *app) withService(ctx context.Context, publish bool, fn func(*services.MetricsService, *storage.Repository) error) error {
	repo, err := cli.OpenStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	var publisher services.Publisher
	if publish {
		client, err := cli.NewAMQPClient(a.cfg)
		if err != nil {
			a.logger.WarnContext(ctx, "Recompute notifications disabled", applog.FieldError, err)
		} else if client != nil {
			defer client.Close()
			publisher = cli.Publisher(client)
		}
	}

	sc := cli.ServiceConfig(a.cfg)
	if !a.quiet {
		sc.NewProgress = newProgressBar
	}
	return fn(services.NewMetricsService(repo, repo, publisher, sc), repo)
}
