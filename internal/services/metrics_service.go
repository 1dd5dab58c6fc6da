// Package services orchestrates charge ingestion and metric recomputation
// across the stores and the message broker.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/billing"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/cohort"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/log"
)

// TransactionStore is the payment ledger.
type TransactionStore interface {
	UpsertPayments(ctx context.Context, payments []core.Payment) (int, error)
	ReplacePayments(ctx context.Context, payments []core.Payment) error
	FetchAllTransactions(ctx context.Context) ([]core.Transaction, error)
}

// MetricsStore holds the computed monthly metrics table.
type MetricsStore interface {
	ReplaceAllMetrics(ctx context.Context, metrics []core.MonthlyMetric) error
}

// Publisher requests an asynchronous recompute.
type Publisher interface {
	PublishRecompute(ctx context.Context, reason string) error
}

// Progress receives the number of charges handled so far. It matches
// progressbar.ProgressBar.
type Progress interface {
	Add(n int) error
}

// SyncMode selects how imported payments reach the ledger.
type SyncMode string

const (
	// ModeUpsert inserts new charges and updates known ones.
	ModeUpsert SyncMode = "upsert"
	// ModeReplace clears the ledger before writing the import.
	ModeReplace SyncMode = "replace"
)

// Config tunes the metrics service.
type Config struct {
	Engine         cohort.Options
	AmountExponent int32

	// Currency is the ledger currency. Charges in any other currency are
	// skipped. Empty accepts every currency.
	Currency string

	// BatchSize is the number of payments upserted per transaction (default: 500)
	BatchSize int

	// MaxWriteAttempts bounds retries of a failed metrics replace (default: 3)
	MaxWriteAttempts int

	// RetryBackoff is the delay before the first retry, doubled each time (default: 200ms)
	RetryBackoff time.Duration

	// NewProgress builds a progress reporter for an import of total charges.
	NewProgress func(total int) Progress
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Engine:           cohort.DefaultOptions(),
		AmountExponent:   billing.DefaultExponent,
		BatchSize:        500,
		MaxWriteAttempts: 3,
		RetryBackoff:     200 * time.Millisecond,
	}
}

// SyncResult summarizes a charge import.
type SyncResult struct {
	Charges int
	Stored  int
	Skipped int
}

// RunResult summarizes a metrics recompute.
type RunResult struct {
	Transactions int
	Months       int
	Skipped      bool // the ledger was empty and nothing was written
	Attempts     int
	Duration     time.Duration
}

// MetricsService orchestrates the ETL pipeline across the stores and AMQP
type MetricsService struct {
	transactions TransactionStore
	metrics      MetricsStore
	publisher    Publisher
	config       Config
	logger       *log.Logger
}

// NewMetricsService wires the service. publisher may be nil.
func NewMetricsService(transactions TransactionStore, metrics MetricsStore, publisher Publisher, config Config) *MetricsService {
	def := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxWriteAttempts <= 0 {
		config.MaxWriteAttempts = def.MaxWriteAttempts
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = def.RetryBackoff
	}
	return &MetricsService{
		transactions: transactions,
		metrics:      metrics,
		publisher:    publisher,
		config:       config,
		logger:       log.New(log.Config{Handler: slog.Default().Handler(), Component: log.ComponentETL}),
	}
}

// SyncCharges imports the charges of src into the ledger and, when a
// publisher is configured, requests a recompute.
func (s *MetricsService) SyncCharges(ctx context.Context, src billing.Source, mode SyncMode) (SyncResult, error) {
	charges, err := src.Charges(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch charges: %w", err)
	}

	result := SyncResult{Charges: len(charges)}
	payments := make([]core.Payment, 0, len(charges))
	currencies := make(map[string]struct{})
	for _, ch := range charges {
		p, err := ch.Payment(s.config.AmountExponent)
		if err == nil {
			err = ch.CheckCurrency(s.config.Currency)
		}
		if errors.Is(err, billing.ErrForeignCurrency) {
			result.Skipped++
			s.logger.WarnContext(ctx, "Charge skipped", log.FieldChargeID, ch.ID, log.FieldReason, err.Error())
			continue
		}
		if errors.Is(err, billing.ErrSkipCharge) {
			result.Skipped++
			s.logger.DebugContext(ctx, "Charge skipped", log.FieldChargeID, ch.ID, log.FieldReason, err.Error())
			continue
		}
		if err != nil {
			return result, fmt.Errorf("convert charge: %w", err)
		}
		if ch.Currency != "" {
			currencies[ch.Currency] = struct{}{}
		}
		payments = append(payments, p)
	}
	if len(currencies) > 1 {
		s.logger.WarnContext(ctx, "Charges in several currencies are summed as one; set LEDGER_CURRENCY to keep one",
			log.FieldOperation, log.OpImport,
			"currencies", len(currencies))
	}

	var progress Progress
	if s.config.NewProgress != nil {
		progress = s.config.NewProgress(len(charges))
		if result.Skipped > 0 {
			_ = progress.Add(result.Skipped)
		}
	}

	switch mode {
	case ModeReplace:
		if err := s.transactions.ReplacePayments(ctx, payments); err != nil {
			return result, fmt.Errorf("replace payments: %w", err)
		}
		result.Stored = len(payments)
		if progress != nil {
			_ = progress.Add(len(payments))
		}
	case ModeUpsert, "":
		for start := 0; start < len(payments); start += s.config.BatchSize {
			end := min(start+s.config.BatchSize, len(payments))
			n, err := s.transactions.UpsertPayments(ctx, payments[start:end])
			if err != nil {
				return result, fmt.Errorf("upsert payments: %w", err)
			}
			result.Stored += n
			if progress != nil {
				_ = progress.Add(end - start)
			}
		}
	default:
		return result, fmt.Errorf("unknown sync mode %q", mode)
	}

	s.logger.InfoContext(ctx, "Charges synced",
		log.FieldOperation, log.OpImport,
		"mode", string(mode),
		"charges", result.Charges,
		"stored", result.Stored,
		"skipped", result.Skipped)

	s.publishRecompute(ctx, "charges synced")
	return result, nil
}

// Recompute rebuilds the whole metrics table from the ledger.
//
// An empty ledger returns a skipped result and leaves the table as it is.
// Invalid transactions abort the run before anything is written. Failed
// writes are retried with exponential backoff.
func (s *MetricsService) Recompute(ctx context.Context) (RunResult, error) {
	start := time.Now()

	txs, err := s.transactions.FetchAllTransactions(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("fetch transactions: %w", err)
	}
	result := RunResult{Transactions: len(txs)}

	metrics, err := cohort.Compute(txs, s.config.Engine)
	if errors.Is(err, core.ErrNoTransactions) {
		result.Skipped = true
		result.Duration = time.Since(start)
		s.logger.InfoContext(ctx, "No transactions, metrics left unchanged", log.FieldOperation, log.OpRecompute)
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("compute metrics: %w", err)
	}
	result.Months = len(metrics)

	backoff := s.config.RetryBackoff
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		err = s.metrics.ReplaceAllMetrics(ctx, metrics)
		if err == nil {
			break
		}
		if !errors.Is(err, core.ErrStoreWrite) || attempt >= s.config.MaxWriteAttempts {
			return result, fmt.Errorf("store metrics: %w", err)
		}

		s.logger.WarnContext(ctx, "Metrics write failed, retrying",
			log.FieldAttempt, attempt,
			"backoff", backoff,
			log.FieldError, err)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	result.Duration = time.Since(start)
	s.logger.LogFields(ctx, slog.LevelInfo, "Metrics recomputed",
		log.NewFields().WithOperation(log.OpRecompute).WithRun(result.Transactions, result.Months))
	return result, nil
}

func (s *MetricsService) publishRecompute(ctx context.Context, reason string) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not available, skipping recompute request")
		return
	}
	if err := s.publisher.PublishRecompute(ctx, reason); err != nil {
		// The import already succeeded; the periodic recompute catches up.
		s.logger.ErrorContext(ctx, "Failed to publish recompute request", log.FieldError, err)
	}
}
