package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const timestampLayout = "2006-01-02 15:04:05"

// Repository persists payments and computed monthly metrics in SQLite or
// MySQL/MariaDB.
type Repository struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, cfg Config) (*Repository, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		db, err = sql.Open("sqlite", sqliteDSN(cfg.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// One writer at a time keeps SQLite transactions from failing with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	case DriverMySQL:
		mcfg, err := mysqlConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		db, err = sql.Open("mysql", mcfg.FormatDSN())
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db, dialect: dialectFor(cfg.Driver)}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// UpsertPayments inserts or updates payments keyed by charge id in a single
// transaction and returns the number of rows written.
func (r *Repository) UpsertPayments(ctx context.Context, payments []core.Payment) (int, error) {
	if len(payments) == 0 {
		return 0, nil
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		return insertPayments(ctx, tx, r.dialect.upsertPayment, payments)
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Payments upserted", "count", len(payments))
	return len(payments), nil
}

// ReplacePayments clears the payments table and writes payments in one
// transaction.
func (r *Repository) ReplacePayments(ctx context.Context, payments []core.Payment) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM payments`); err != nil {
			return fmt.Errorf("clear payments: %w", err)
		}
		return insertPayments(ctx, tx, r.dialect.upsertPayment, payments)
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Payments replaced", "count", len(payments))
	return nil
}

func insertPayments(ctx context.Context, tx *sql.Tx, query string, payments []core.Payment) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare payment insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range payments {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("payment %q: %w", p.ChargeID, err)
		}
		_, err := stmt.ExecContext(ctx,
			p.ChargeID,
			p.CustomerID,
			p.Amount.String(),
			p.PaidAt.UTC().Format(core.DateLayout),
		)
		if err != nil {
			return fmt.Errorf("write payment %q: %w", p.ChargeID, err)
		}
	}
	return nil
}

// CountPayments returns the number of stored payments.
func (r *Repository) CountPayments(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count payments: %w", err)
	}
	return n, nil
}

// FetchAllTransactions returns every stored payment as a transaction. The
// order of the result is unspecified.
func (r *Repository) FetchAllTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT customer_id, amount, paid_at FROM payments`)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		var (
			tx     core.Transaction
			amount string
			paidAt dbTime
		)
		if err := rows.Scan(&tx.CustomerID, &amount, &paidAt); err != nil {
			if errors.Is(err, errBadTime) {
				return nil, &core.ValidationError{Index: len(txs), CustomerID: tx.CustomerID,
					Err: fmt.Errorf("%w: %w", core.ErrMissingPaidDate, err)}
			}
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, &core.ValidationError{Index: len(txs), CustomerID: tx.CustomerID,
				Err: fmt.Errorf("parse amount %q: %w", amount, err)}
		}
		tx.PaidAt = paidAt.Time
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return txs, nil
}

// ReplaceAllMetrics swaps the whole metrics table for metrics atomically.
// On failure the previous rows stay untouched and the error wraps
// core.ErrStoreWrite.
func (r *Repository) ReplaceAllMetrics(ctx context.Context, metrics []core.MonthlyMetric) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM monthly_metrics`); err != nil {
			return fmt.Errorf("clear metrics: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO monthly_metrics
			(month, new_cnt, repeat_cnt, resurrect_cnt, churn_cnt, active_cnt, arpu, churn_rate, ltv)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare metric insert: %w", err)
		}
		defer stmt.Close()

		for _, m := range metrics {
			var ltv sql.NullString
			if m.HasLTV() {
				ltv = sql.NullString{String: m.LTV.Decimal.String(), Valid: true}
			}
			_, err := stmt.ExecContext(ctx,
				m.Month.Date(),
				m.NewCnt, m.RepeatCnt, m.ResurrectCnt, m.ChurnCnt, m.ActiveCnt,
				m.ARPU.String(), m.ChurnRate.String(), ltv,
			)
			if err != nil {
				return fmt.Errorf("insert metric %s: %w", m.Month, err)
			}
		}

		var lastRun int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(run_id), 0) FROM metrics_runs`).Scan(&lastRun); err != nil {
			return fmt.Errorf("read metrics run: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM metrics_runs`); err != nil {
			return fmt.Errorf("clear metrics run: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO metrics_runs (id, run_id, recomputed_at, row_count) VALUES (1, ?, ?, ?)`,
			lastRun+1, time.Now().UTC().Format(timestampLayout), len(metrics))
		if err != nil {
			return fmt.Errorf("record metrics run: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrStoreWrite, err)
	}

	slog.InfoContext(ctx, "Monthly metrics replaced", "rows", len(metrics))
	return nil
}

// FetchAllMetricsOrdered returns the stored metrics by ascending month.
func (r *Repository) FetchAllMetricsOrdered(ctx context.Context) ([]core.MonthlyMetric, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT month, new_cnt, repeat_cnt, resurrect_cnt, churn_cnt,
		active_cnt, arpu, churn_rate, ltv FROM monthly_metrics ORDER BY month`)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []core.MonthlyMetric
	for rows.Next() {
		var (
			m               core.MonthlyMetric
			month           dbTime
			arpu, churnRate string
			ltv             sql.NullString
		)
		if err := rows.Scan(&month, &m.NewCnt, &m.RepeatCnt, &m.ResurrectCnt, &m.ChurnCnt,
			&m.ActiveCnt, &arpu, &churnRate, &ltv); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Month = core.MonthOf(month.Time)
		if m.ARPU, err = decimal.NewFromString(arpu); err != nil {
			return nil, fmt.Errorf("parse arpu for %s: %w", m.Month, err)
		}
		if m.ChurnRate, err = decimal.NewFromString(churnRate); err != nil {
			return nil, fmt.Errorf("parse churn rate for %s: %w", m.Month, err)
		}
		if ltv.Valid {
			d, err := decimal.NewFromString(ltv.String)
			if err != nil {
				return nil, fmt.Errorf("parse ltv for %s: %w", m.Month, err)
			}
			m.LTV = decimal.NewNullDecimal(d)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return out, nil
}

// LastRun returns the last successful ReplaceAllMetrics. ok is false when
// metrics were never written.
func (r *Repository) LastRun(ctx context.Context) (run core.MetricsRun, ok bool, err error) {
	var at dbTime
	err = r.db.QueryRowContext(ctx,
		`SELECT run_id, recomputed_at, row_count FROM metrics_runs WHERE id = 1`).
		Scan(&run.ID, &at, &run.Rows)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MetricsRun{}, false, nil
	}
	if err != nil {
		return core.MetricsRun{}, false, fmt.Errorf("query last metrics run: %w", err)
	}
	run.RecomputedAt = at.Time
	return run, true, nil
}

// LastRecompute returns the time of the last successful ReplaceAllMetrics.
// ok is false when metrics were never written.
func (r *Repository) LastRecompute(ctx context.Context) (t time.Time, ok bool, err error) {
	run, ok, err := r.LastRun(ctx)
	return run.RecomputedAt, ok, err
}

func (r *Repository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
