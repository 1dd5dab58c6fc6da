package http

import (
	"net/http"
	"time"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/auth"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
	applog "github.com/Kazza-miya/cascade-sales-dashboard/internal/log"
)

type dashboardData struct {
	User         string
	AuthEnabled  bool
	RecomputedAt string
	Charts       []chartPanel
	Rows         []metricRow
	ChartWidth   int
	ChartHeight  int
	Baseline     int
}

// handleDashboard renders the trend charts and the metrics table.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := applog.FromContext(ctx)

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Dashboard metrics read failed",
			applog.FieldOperation, applog.OpRead,
			applog.FieldError, err)
		http.Error(w, "metrics are temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	data := dashboardData{
		AuthEnabled:  s.verifier != nil,
		RecomputedAt: missingValue,
		Charts:       buildCharts(snap.Metrics),
		Rows:         toRows(snap.Metrics),
		ChartWidth:   chartWidth,
		ChartHeight:  chartHeight,
		Baseline:     chartHeight - chartPadding,
	}
	if snap.HasRecomputed {
		data.RecomputedAt = snap.RecomputedAt.UTC().Format("2006-01-02 15:04 MST")
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		data.User = id.Email
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.templates.ExecuteTemplate(w, "dashboard.html", data); err != nil {
		logger.ErrorContext(ctx, "Dashboard template execution failed",
			applog.FieldOperation, applog.OpRender,
			applog.FieldError, err)
	}
}

// handleMetricsAPI returns every monthly row ordered by month.
func (s *Server) handleMetricsAPI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Metrics API read failed",
			applog.FieldOperation, applog.OpRead,
			applog.FieldError, err)
		writeError(w, r, http.StatusServiceUnavailable, "metrics store unavailable")
		return
	}
	if snap.HasRecomputed {
		w.Header().Set("Last-Modified", snap.RecomputedAt.UTC().Format(http.TimeFormat))
		w.Header().Set("X-Recomputed-At", snap.RecomputedAt.UTC().Format(time.RFC3339))
	}
	metrics := snap.Metrics
	if metrics == nil {
		metrics = []core.MonthlyMetric{}
	}
	writeJSON(w, r, http.StatusOK, metrics)
}
