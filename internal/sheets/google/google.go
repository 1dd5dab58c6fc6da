// Package google writes the metrics table to a Google Sheets tab.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
	applog "github.com/Kazza-miya/cascade-sales-dashboard/internal/log"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/sheets"
)

var _ sheets.MetricsWriter = (*Client)(nil)

// DefaultSheetName is the tab written when none is configured.
const DefaultSheetName = "Metrics"

// Config selects the spreadsheet and the service account used to write it.
// With neither credential field set, application default credentials apply.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// New creates a Sheets client. Extra options are appended after the
// credential options, so tests can point it at a local endpoint.
func New(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	name := strings.TrimSpace(cfg.SheetName)
	if name == "" {
		name = DefaultSheetName
	}

	credOpts, err := credentialOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	all := append([]goption.ClientOption{goption.WithHTTPClient(newHTTPClientWithPooling())}, credOpts...)
	all = append(all, opts...)

	svc, err := gsheet.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: name}, nil
}

// credentialOptions resolves the service account, preferring inline JSON
// over a file path.
func credentialOptions(ctx context.Context, cfg Config) ([]goption.ClientOption, error) {
	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		slog.DebugContext(ctx, "No service account configured, using default credentials",
			applog.FieldComponent, applog.ComponentSheets)
		return []goption.ClientOption{goption.WithScopes(gsheet.SpreadsheetsScope)}, nil
	}
	return []goption.ClientOption{
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}, nil
}

// newHTTPClientWithPooling bounds every stage of a Sheets API call.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// WriteMetrics clears the tab and writes the header plus one row per month.
// It returns the range the API reports as updated.
func (c *Client) WriteMetrics(ctx context.Context, metrics []core.MonthlyMetric) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	tab := quoteSheetName(c.sheetName)

	clearRange := fmt.Sprintf("%s!A:%s", tab, sheets.Columns)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, clearRange, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear %s: %w", clearRange, err)
	}

	values := sheets.Values(metrics)
	dataRange := fmt.Sprintf("%s!A1:%s%d", tab, sheets.Columns, len(values))
	resp, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, dataRange, &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("update %s: %w", dataRange, err)
	}

	slog.InfoContext(ctx, "Metrics written to sheet",
		applog.FieldComponent, applog.ComponentSheets,
		applog.FieldOperation, applog.OpExport,
		applog.FieldMonths, len(metrics),
		"range", resp.UpdatedRange)
	return resp.UpdatedRange, nil
}

// quoteSheetName wraps a tab name for A1 notation, doubling single quotes.
func quoteSheetName(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
