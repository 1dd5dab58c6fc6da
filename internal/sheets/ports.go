// Package sheets exports the monthly metrics table to a spreadsheet so it can
// be shared outside the dashboard.
package sheets

import (
	"context"
	"fmt"
	"time"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
)

// Ports for outbound adapters.
type (
	// MetricsReader is the subset of the store Export needs.
	MetricsReader interface {
		FetchAllMetricsOrdered(ctx context.Context) ([]core.MonthlyMetric, error)
	}

	// MetricsWriter replaces the exported table with the given rows.
	MetricsWriter interface {
		WriteMetrics(ctx context.Context, metrics []core.MonthlyMetric) (rangeRef string, err error)
	}
)

// Header is the first row of every export.
var Header = []any{
	"month", "new_cnt", "repeat_cnt", "resurrect_cnt", "churn_cnt",
	"active_cnt", "arpu", "churn_rate", "ltv",
}

// Columns is the last column letter used by an export.
const Columns = "I"

// Values lays metrics out as sheet values, header first. Amounts are written
// as numbers and an undefined LTV becomes an empty cell.
func Values(metrics []core.MonthlyMetric) [][]any {
	out := make([][]any, 0, len(metrics)+1)
	out = append(out, Header)
	for _, m := range metrics {
		ltv := any("")
		if m.HasLTV() {
			ltv = m.LTV.Decimal.InexactFloat64()
		}
		out = append(out, []any{
			m.Month.String(),
			m.NewCnt,
			m.RepeatCnt,
			m.ResurrectCnt,
			m.ChurnCnt,
			m.ActiveCnt,
			m.ARPU.InexactFloat64(),
			m.ChurnRate.InexactFloat64(),
			ltv,
		})
	}
	return out
}

// ExportResult summarises one export.
type ExportResult struct {
	Months   int
	Range    string
	Duration time.Duration
}

// Export copies every stored month to w.
func Export(ctx context.Context, r MetricsReader, w MetricsWriter) (ExportResult, error) {
	start := time.Now()
	metrics, err := r.FetchAllMetricsOrdered(ctx)
	if err != nil {
		return ExportResult{}, fmt.Errorf("read metrics: %w", err)
	}
	ref, err := w.WriteMetrics(ctx, metrics)
	if err != nil {
		return ExportResult{}, fmt.Errorf("write metrics: %w", err)
	}
	return ExportResult{Months: len(metrics), Range: ref, Duration: time.Since(start)}, nil
}
