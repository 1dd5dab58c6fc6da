package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
)

var (
	colorBorder = lipgloss.Color("#575653")
	colorAccent = lipgloss.Color("#3AA99F")
	colorMuted  = lipgloss.Color("#6F6E69")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	dimStyle    = lipgloss.NewStyle().Foreground(colorBorder)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
)

// MissingValue is printed for undefined metrics.
const MissingValue = "—"

// MetricsHeaders are the column names of the metrics table.
var MetricsHeaders = []string{
	"month", "new_cnt", "repeat_cnt", "resurrect_cnt", "churn_cnt",
	"active_cnt", "arpu", "churn_rate", "ltv",
}

// Table represents a bordered text table for CLI output.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// MetricsTable lays out metrics rows for printing.
func MetricsTable(metrics []core.MonthlyMetric) Table {
	t := Table{Title: "Monthly cohort metrics", Headers: MetricsHeaders}
	for _, m := range metrics {
		ltv := MissingValue
		if m.HasLTV() {
			ltv = core.FormatAmount(m.LTV.Decimal, 2)
		}
		t.Rows = append(t.Rows, []string{
			m.Month.String(),
			fmt.Sprint(m.NewCnt),
			fmt.Sprint(m.RepeatCnt),
			fmt.Sprint(m.ResurrectCnt),
			fmt.Sprint(m.ChurnCnt),
			fmt.Sprint(m.ActiveCnt),
			core.FormatAmount(m.ARPU, 2),
			core.FormatAmount(m.ChurnRate, 4),
			ltv,
		})
	}
	return t
}

// RenderTable renders a bordered table with headers and rows. The first
// column is left aligned, the rest right aligned.
func RenderTable(t Table) string {
	numCols := len(t.Headers)
	if numCols == 0 {
		return ""
	}

	widths := make([]int, numCols)
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < numCols && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	rule := func(left, mid, right string) {
		b.WriteString(dimStyle.Render(left))
		for i, w := range widths {
			b.WriteString(dimStyle.Render(strings.Repeat("─", w+2)))
			if i < numCols-1 {
				b.WriteString(dimStyle.Render(mid))
			}
		}
		b.WriteString(dimStyle.Render(right))
		b.WriteString("\n")
	}
	line := func(cells []string, style lipgloss.Style) {
		b.WriteString(dimStyle.Render("│"))
		for i := 0; i < numCols; i++ {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if i == 0 {
				cell = cell + pad
			} else {
				cell = pad + cell
			}
			b.WriteString(style.Render(" " + cell + " "))
			b.WriteString(dimStyle.Render("│"))
		}
		b.WriteString("\n")
	}

	if t.Title != "" {
		b.WriteString("  " + headerStyle.Render(t.Title) + "\n")
	}
	rule("╭", "┬", "╮")
	line(t.Headers, headerStyle)
	rule("├", "┼", "┤")
	for _, row := range t.Rows {
		line(row, lipgloss.NewStyle())
	}
	rule("╰", "┴", "╯")
	if len(t.Rows) == 0 {
		b.WriteString("  " + mutedStyle.Render("no rows") + "\n")
	}
	return b.String()
}
