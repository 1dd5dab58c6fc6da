// Package memory keeps exported metrics in process, for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/sheets"
)

var _ sheets.MetricsWriter = (*Writer)(nil)

type Writer struct {
	mu     sync.Mutex
	writes int
	values [][]any
}

func New() *Writer {
	return &Writer{}
}

// WriteMetrics replaces the held table and returns a synthetic range.
func (w *Writer) WriteMetrics(_ context.Context, metrics []core.MonthlyMetric) (string, error) {
	values := sheets.Values(metrics)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values = values
	w.writes++
	return fmt.Sprintf("mem!A1:%s%d", sheets.Columns, len(values)), nil
}

// Values returns a copy of the last written table.
func (w *Writer) Values() [][]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]any, len(w.values))
	for i, row := range w.values {
		out[i] = append([]any(nil), row...)
	}
	return out
}

// Writes reports how many exports were received.
func (w *Writer) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}
