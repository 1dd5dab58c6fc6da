package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/billing"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/cli"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
	applog "github.com/Kazza-miya/cascade-sales-dashboard/internal/log"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/services"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/sheets"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/sheets/google"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/sheets/memory"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/storage"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := storage.RunMigrations(cli.StorageConfig(a.cfg)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", a.cfg.DBDriver)
			return nil
		},
	}
}

// chargeSource opens a CSV export, "-" meaning stdin.
func chargeSource(path string) billing.Source {
	if path == "-" {
		return billing.NewCSVSource(os.Stdin)
	}
	return billing.NewCSVFileSource(path)
}

func parseMode(s string) (services.SyncMode, error) {
	switch mode := services.SyncMode(s); mode {
	case services.ModeUpsert, services.ModeReplace:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid --mode %q: must be upsert or replace", s)
	}
}

func printSync(w io.Writer, res services.SyncResult) {
	fmt.Fprintf(w, "charges: %d read, %d stored, %d skipped\n", res.Charges, res.Stored, res.Skipped)
}

func printRun(w io.Writer, res services.RunResult) {
	if res.Skipped {
		fmt.Fprintln(w, "ledger is empty: metrics left unchanged")
		return
	}
	fmt.Fprintf(w, "metrics: %d months from %d transactions in %s (%d attempt(s))\n",
		res.Months, res.Transactions, res.Duration.Round(time.Millisecond), res.Attempts)
}

func newImportCmd(a *app) *cobra.Command {
	var mode string
	var noPublish bool
	cmd := &cobra.Command{
		Use:   "import <charges.csv|->",
		Short: "Import a billing charges export into the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncMode, err := parseMode(mode)
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), !noPublish, func(svc *services.MetricsService, _ *storage.Repository) error {
				res, err := svc.SyncCharges(cmd.Context(), chargeSource(args[0]), syncMode)
				if err != nil {
					return err
				}
				printSync(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(services.ModeUpsert), "Ledger write mode: upsert or replace")
	cmd.Flags().BoolVar(&noPublish, "no-publish", false, "Do not ask the worker to recompute")
	return cmd
}

func newComputeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compute",
		Short: "Rebuild the metrics table from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), false, func(svc *services.MetricsService, _ *storage.Repository) error {
				res, err := svc.Recompute(cmd.Context())
				if err != nil {
					return err
				}
				printRun(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "run <charges.csv|->",
		Short: "Import charges and rebuild the metrics in one go",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncMode, err := parseMode(mode)
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), false, func(svc *services.MetricsService, _ *storage.Repository) error {
				sync, err := svc.SyncCharges(cmd.Context(), chargeSource(args[0]), syncMode)
				if err != nil {
					return err
				}
				printSync(cmd.OutOrStdout(), sync)

				res, err := svc.Recompute(cmd.Context())
				if err != nil {
					return err
				}
				printRun(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(services.ModeUpsert), "Ledger write mode: upsert or replace")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored metrics table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), false, func(_ *services.MetricsService, repo *storage.Repository) error {
				return show(cmd.Context(), cmd.OutOrStdout(), repo, asJSON, a.logger)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newExportSheetCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "export-sheet",
		Short: "Write the stored metrics table to a Google Sheets tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var writer sheets.MetricsWriter
			if dryRun {
				writer = memory.New()
			} else {
				if err := a.cfg.ValidateExport(); err != nil {
					return err
				}
				client, err := google.New(ctx, cli.SheetsConfig(a.cfg))
				if err != nil {
					return err
				}
				writer = client
			}

			repo, err := cli.OpenStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			res, err := sheets.Export(ctx, repo, writer)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d months to %s in %s\n",
				res.Months, res.Range, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Lay out the rows without calling the Sheets API")
	return cmd
}

func show(ctx context.Context, w io.Writer, repo *storage.Repository, asJSON bool, logger *applog.Logger) error {
	metrics, err := repo.FetchAllMetricsOrdered(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(nonNil(metrics))
	}

	fmt.Fprint(w, cli.RenderTable(cli.MetricsTable(metrics)))
	if at, ok, err := repo.LastRecompute(ctx); err != nil {
		logger.WarnContext(ctx, "Last recompute unavailable", applog.FieldError, err)
	} else if ok {
		fmt.Fprintf(w, "  recomputed at %s\n", at.UTC().Format(time.RFC3339))
	}
	return nil
}

func nonNil(metrics []core.MonthlyMetric) []core.MonthlyMetric {
	if metrics == nil {
		return []core.MonthlyMetric{}
	}
	return metrics
}
