// Package worker consumes recompute requests and rebuilds the metrics table.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/amqp"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/services"
)

// RecomputeWorker runs a full metrics recompute for each request it receives.
// Requests issued before the start of the last successful run are already
// covered by it and are acknowledged without recomputing.
type RecomputeWorker struct {
	recomputer services.Recomputer

	mu        sync.Mutex
	lastStart time.Time
	now       func() time.Time
}

func NewRecomputeWorker(recomputer services.Recomputer) *RecomputeWorker {
	return &RecomputeWorker{
		recomputer: recomputer,
		now:        time.Now,
	}
}

// HandleRecomputeMessage processes a single recompute request from AMQP.
// A ledger that fails validation is reported as amqp.ErrPermanent so the
// request is dropped instead of redelivered.
func (w *RecomputeWorker) HandleRecomputeMessage(ctx context.Context, msg *amqp.RecomputeMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.lastStart.IsZero() && msg.RequestedAt.Before(w.lastStart) {
		slog.DebugContext(ctx, "Recompute request already covered",
			"reason", msg.Reason,
			"requested_at", msg.RequestedAt,
			"last_run", w.lastStart)
		return nil
	}

	slog.InfoContext(ctx, "Processing recompute request",
		"reason", msg.Reason,
		"requested_at", msg.RequestedAt)

	start := w.now()
	result, err := w.recomputer.Recompute(ctx)
	if errors.Is(err, core.ErrInvalidTransaction) {
		return fmt.Errorf("%w: recompute metrics: %w", amqp.ErrPermanent, err)
	}
	if err != nil {
		return fmt.Errorf("recompute metrics: %w", err)
	}
	w.lastStart = start

	slog.InfoContext(ctx, "Recompute request handled",
		"months", result.Months,
		"transactions", result.Transactions,
		"skipped", result.Skipped,
		"duration", result.Duration)
	return nil
}

// Recompute runs an unconditional recompute, for use by the periodic
// scheduler. It shares the request bookkeeping of HandleRecomputeMessage.
func (w *RecomputeWorker) Recompute(ctx context.Context) (services.RunResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := w.now()
	result, err := w.recomputer.Recompute(ctx)
	if err != nil {
		return result, err
	}
	w.lastStart = start
	return result, nil
}
