package http

import (
	"html/template"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
)

// missingValue is shown where a metric is undefined.
const missingValue = "—"

const (
	chartWidth   = 640
	chartHeight  = 160
	chartPadding = 24
)

var templateFuncs = template.FuncMap{
	"coord": coord,
}

func coord(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}

// metricRow is one rendered table row.
type metricRow struct {
	Month        string
	NewCnt       int
	RepeatCnt    int
	ResurrectCnt int
	ChurnCnt     int
	ActiveCnt    int
	ARPU         string
	ChurnRate    string
	LTV          string
}

type chartPoint struct {
	X, Y  float64
	Label string
}

// chartPanel is one small-multiple line chart.
type chartPanel struct {
	Title    string
	Latest   string
	Max      string
	Segments []string // polyline point lists, split where values are missing
	Points   []chartPoint
	From, To string
}

// series is a single value per month, ok=false for undefined months.
type series struct {
	title  string
	values []float64
	ok     []bool
	format func(float64) string
}

func toRows(metrics []core.MonthlyMetric) []metricRow {
	rows := make([]metricRow, 0, len(metrics))
	for _, m := range metrics {
		row := metricRow{
			Month:        m.Month.String(),
			NewCnt:       m.NewCnt,
			RepeatCnt:    m.RepeatCnt,
			ResurrectCnt: m.ResurrectCnt,
			ChurnCnt:     m.ChurnCnt,
			ActiveCnt:    m.ActiveCnt,
			ARPU:         core.FormatAmount(m.ARPU, 2),
			ChurnRate:    formatPercent(m.ChurnRate),
			LTV:          missingValue,
		}
		if m.HasLTV() {
			row.LTV = core.FormatAmount(m.LTV.Decimal, 2)
		}
		rows = append(rows, row)
	}
	return rows
}

func formatPercent(d decimal.Decimal) string {
	return d.Shift(2).StringFixed(1) + "%"
}

func formatCount(f float64) string {
	return strconv.FormatFloat(f, 'f', 0, 64)
}

func formatMoney(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func formatRate(f float64) string {
	return strconv.FormatFloat(f*100, 'f', 1, 64) + "%"
}

// buildCharts derives the trend panels for new, repeat, churn rate and LTV.
func buildCharts(metrics []core.MonthlyMetric) []chartPanel {
	if len(metrics) == 0 {
		return nil
	}
	n := len(metrics)
	all := func() []bool {
		ok := make([]bool, n)
		for i := range ok {
			ok[i] = true
		}
		return ok
	}

	newCnt := series{title: "New customers", values: make([]float64, n), ok: all(), format: formatCount}
	repeat := series{title: "Repeat customers", values: make([]float64, n), ok: all(), format: formatCount}
	churn := series{title: "Churn rate", values: make([]float64, n), ok: all(), format: formatRate}
	ltv := series{title: "LTV", values: make([]float64, n), ok: make([]bool, n), format: formatMoney}
	for i, m := range metrics {
		newCnt.values[i] = float64(m.NewCnt)
		repeat.values[i] = float64(m.RepeatCnt)
		churn.values[i] = m.ChurnRate.InexactFloat64()
		if m.HasLTV() {
			ltv.values[i] = m.LTV.Decimal.InexactFloat64()
			ltv.ok[i] = true
		}
	}

	from, to := metrics[0].Month.String(), metrics[n-1].Month.String()
	panels := make([]chartPanel, 0, 4)
	for _, s := range []series{newCnt, repeat, churn, ltv} {
		p := s.panel(metrics)
		p.From, p.To = from, to
		panels = append(panels, p)
	}
	return panels
}

func (s series) panel(metrics []core.MonthlyMetric) chartPanel {
	p := chartPanel{Title: s.title, Latest: missingValue, Max: missingValue}

	maxV := 0.0
	found := false
	for i, v := range s.values {
		if s.ok[i] && (!found || v > maxV) {
			maxV, found = v, true
		}
	}
	if !found {
		return p
	}
	p.Max = s.format(maxV)
	if last := len(s.values) - 1; s.ok[last] {
		p.Latest = s.format(s.values[last])
	}
	if maxV <= 0 {
		maxV = 1
	}

	plotW := float64(chartWidth - 2*chartPadding)
	plotH := float64(chartHeight - 2*chartPadding)
	step := 0.0
	if len(s.values) > 1 {
		step = plotW / float64(len(s.values)-1)
	}

	var seg []string
	flush := func() {
		if len(seg) > 0 {
			p.Segments = append(p.Segments, strings.Join(seg, " "))
			seg = nil
		}
	}
	for i, v := range s.values {
		if !s.ok[i] {
			flush()
			continue
		}
		x := float64(chartPadding) + float64(i)*step
		if len(s.values) == 1 {
			x = float64(chartWidth) / 2
		}
		y := float64(chartHeight-chartPadding) - v/maxV*plotH
		seg = append(seg, coord(x)+","+coord(y))
		p.Points = append(p.Points, chartPoint{X: x, Y: y, Label: metrics[i].Month.String() + ": " + s.format(v)})
	}
	flush()
	return p
}
