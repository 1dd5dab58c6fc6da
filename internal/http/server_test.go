package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/auth"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/storage"
)

type fakeStore struct {
	mu         sync.Mutex
	metrics    []core.MonthlyMetric
	at         time.Time
	run        int64
	fetches    int
	pingErr    error
	readErr    error
	recomputed bool
}

func (f *fakeStore) FetchAllMetricsOrdered(context.Context) ([]core.MonthlyMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.metrics, f.readErr
}

func (f *fakeStore) LastRun(context.Context) (core.MetricsRun, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return core.MetricsRun{ID: f.run, RecomputedAt: f.at, Rows: len(f.metrics)}, f.recomputed, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (auth.Identity, error) {
	switch token {
	case "good":
		return auth.Identity{Email: "ana@example.com", ExpiresAt: time.Now().Add(time.Hour)}, nil
	case "outsider":
		return auth.Identity{}, auth.ErrForbidden
	default:
		return auth.Identity{}, auth.ErrInvalidToken
	}
}

func sampleMetrics() []core.MonthlyMetric {
	return []core.MonthlyMetric{
		{
			Month:     core.NewMonth(2025, time.January),
			NewCnt:    2,
			ActiveCnt: 2,
			ARPU:      decimal.RequireFromString("75"),
			ChurnRate: decimal.Zero,
		},
		{
			Month:     core.NewMonth(2025, time.February),
			RepeatCnt: 1,
			ChurnCnt:  1,
			ActiveCnt: 1,
			ARPU:      decimal.RequireFromString("100"),
			ChurnRate: decimal.RequireFromString("0.5"),
			LTV:       decimal.NewNullDecimal(decimal.RequireFromString("200")),
		},
	}
}

func newTestServer(t *testing.T, store MetricsReader, verifier auth.Verifier) *Server {
	t.Helper()
	srv, err := NewServer(store, Options{
		Addr:           ":0",
		Verifier:       verifier,
		GoogleClientID: "client-123.apps.googleusercontent.com",
		CacheTTL:       time.Minute,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(srv *Server, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, r)
	return rr
}

func TestDashboardRendersChartsAndTable(t *testing.T) {
	store := &fakeStore{metrics: sampleMetrics(), at: time.Now(), recomputed: true}
	srv := newTestServer(t, store, nil)

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"<svg", "<polyline", "New customers", "Churn rate", "LTV", "2025-02", "200.00", "50.0%", "<td>—</td>"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard body missing %q", want)
		}
	}
	if strings.Contains(body, "Sign out") {
		t.Error("sign out shown with authentication disabled")
	}
	if rr.Header().Get("X-Request-ID") == "" || rr.Header().Get("Content-Security-Policy") == "" {
		t.Error("tracing or security headers missing")
	}
}

func TestDashboardEmptyStore(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, nil)
	rr := do(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "No metrics yet") {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestDashboardStoreError(t *testing.T) {
	srv := newTestServer(t, &fakeStore{readErr: errors.New("db down")}, nil)
	if rr := do(srv, httptest.NewRequest(http.MethodGet, "/", nil)); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if rr := do(srv, httptest.NewRequest(http.MethodGet, "/api/metrics", nil)); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("api status = %d, want 503", rr.Code)
	}
}

func TestMetricsAPI(t *testing.T) {
	at := time.Date(2025, time.March, 1, 6, 0, 0, 0, time.UTC)
	srv := newTestServer(t, &fakeStore{metrics: sampleMetrics(), at: at, recomputed: true}, nil)

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := rr.Header().Get("X-Recomputed-At"); got != "2025-03-01T06:00:00Z" {
		t.Errorf("X-Recomputed-At = %q", got)
	}

	var rows []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0]["month"] != "2025-01" || rows[0]["ltv"] != nil {
		t.Errorf("first row = %v, want ltv null", rows[0])
	}
	if rows[1]["ltv"] != "200" || rows[1]["churn_rate"] != "0.5" || rows[1]["repeat_cnt"] != float64(1) {
		t.Errorf("second row = %v", rows[1])
	}
}

func TestMetricsCacheFollowsRecompute(t *testing.T) {
	store := &fakeStore{metrics: sampleMetrics(), at: time.Now(), run: 1, recomputed: true}
	srv := newTestServer(t, store, nil)

	for i := 0; i < 3; i++ {
		do(srv, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	}
	if store.fetches != 1 {
		t.Fatalf("fetches = %d, want 1 while unchanged", store.fetches)
	}

	// Same timestamp, new run.
	store.mu.Lock()
	store.run++
	store.mu.Unlock()
	do(srv, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if store.fetches != 2 {
		t.Fatalf("fetches = %d, want 2 after a recompute", store.fetches)
	}
}

func TestMetricsCacheFollowsSQLiteRecompute(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.Open(ctx, storage.Config{
		Driver:     storage.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "ltv.db"),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	srv := newTestServer(t, repo, nil)

	metricRows := func() int {
		rr := do(srv, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		var rows []map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
			t.Fatal(err)
		}
		return len(rows)
	}

	all := sampleMetrics()
	if err := repo.ReplaceAllMetrics(ctx, all[:1]); err != nil {
		t.Fatal(err)
	}
	if got := metricRows(); got != 1 {
		t.Fatalf("after first recompute: %d rows, want 1", got)
	}

	// Both replaces land well inside one second.
	if err := repo.ReplaceAllMetrics(ctx, all); err != nil {
		t.Fatal(err)
	}
	if got := metricRows(); got != 2 {
		t.Fatalf("after second recompute: %d rows, want 2", got)
	}
}

func TestAuthGate(t *testing.T) {
	srv := newTestServer(t, &fakeStore{metrics: sampleMetrics()}, fakeVerifier{})

	t.Run("browser is redirected to login", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Accept", "text/html")
		rr := do(srv, r)
		if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login?next=%2F" {
			t.Fatalf("status = %d, location = %q", rr.Code, rr.Header().Get("Location"))
		}
	})

	t.Run("api without token", func(t *testing.T) {
		if rr := do(srv, httptest.NewRequest(http.MethodGet, "/api/metrics", nil)); rr.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rr.Code)
		}
	})

	t.Run("api outside domain", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
		r.Header.Set("Authorization", "Bearer outsider")
		if rr := do(srv, r); rr.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rr.Code)
		}
	})

	t.Run("session cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "good"})
		rr := do(srv, r)
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "ana@example.com") {
			t.Fatalf("status = %d", rr.Code)
		}
	})

	t.Run("health checks stay open", func(t *testing.T) {
		for _, path := range []string{"/healthz", "/readyz", "/login", "/static/app.css"} {
			if rr := do(srv, httptest.NewRequest(http.MethodGet, path, nil)); rr.Code != http.StatusOK {
				t.Errorf("%s status = %d", path, rr.Code)
			}
		}
	})
}

func TestLoginPage(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, fakeVerifier{})

	r := httptest.NewRequest(http.MethodGet, "/login?next=/api/metrics&error=forbidden", nil)
	rr := do(srv, r)
	body := rr.Body.String()
	if !strings.Contains(body, `data-client_id="client-123.apps.googleusercontent.com"`) {
		t.Error("client id not rendered")
	}
	if !strings.Contains(body, "not allowed") {
		t.Error("error message not rendered")
	}
	if !strings.Contains(body, "http://example.com/auth/session?next=%2Fapi%2Fmetrics") {
		t.Errorf("login uri not rendered: %s", body)
	}

	open := newTestServer(t, &fakeStore{}, nil)
	if rr := do(open, httptest.NewRequest(http.MethodGet, "/login", nil)); rr.Code != http.StatusSeeOther {
		t.Errorf("login with auth disabled status = %d, want redirect", rr.Code)
	}
}

func sessionRequest(credential, csrfCookie, csrfForm, next string) *http.Request {
	form := url.Values{"credential": {credential}}
	if csrfForm != "" {
		form.Set(csrfField, csrfForm)
	}
	r := httptest.NewRequest(http.MethodPost, "/auth/session?next="+url.QueryEscape(next), strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if csrfCookie != "" {
		r.AddCookie(&http.Cookie{Name: csrfField, Value: csrfCookie})
	}
	return r
}

func TestCreateSession(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, fakeVerifier{})

	tests := []struct {
		name         string
		req          *http.Request
		wantStatus   int
		wantLocation string
		wantCookie   bool
	}{
		{name: "valid", req: sessionRequest("good", "c1", "c1", "/api/metrics"), wantStatus: http.StatusSeeOther, wantLocation: "/api/metrics", wantCookie: true},
		{name: "offsite next", req: sessionRequest("good", "c1", "c1", "//evil.example"), wantStatus: http.StatusSeeOther, wantLocation: "/", wantCookie: true},
		{name: "csrf mismatch", req: sessionRequest("good", "c1", "c2", "/"), wantStatus: http.StatusBadRequest},
		{name: "csrf missing", req: sessionRequest("good", "", "", "/"), wantStatus: http.StatusBadRequest},
		{name: "invalid token", req: sessionRequest("bad", "c1", "c1", "/"), wantStatus: http.StatusSeeOther, wantLocation: "/login?error=invalid&next=%2F"},
		{name: "forbidden", req: sessionRequest("outsider", "c1", "c1", "/"), wantStatus: http.StatusSeeOther, wantLocation: "/login?error=forbidden&next=%2F"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(srv, tt.req)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantLocation != "" && rr.Header().Get("Location") != tt.wantLocation {
				t.Errorf("location = %q, want %q", rr.Header().Get("Location"), tt.wantLocation)
			}
			var session *http.Cookie
			for _, c := range rr.Result().Cookies() {
				if c.Name == auth.CookieName {
					session = c
				}
			}
			if (session != nil) != tt.wantCookie {
				t.Fatalf("session cookie set = %v, want %v", session != nil, tt.wantCookie)
			}
			if session != nil && (!session.HttpOnly || session.Value != "good") {
				t.Errorf("session cookie = %+v", session)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, fakeVerifier{})
	rr := do(srv, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != loginPath {
		t.Fatalf("status = %d, location = %q", rr.Code, rr.Header().Get("Location"))
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != auth.CookieName || cookies[0].MaxAge >= 0 {
		t.Fatalf("cookies = %+v, want cleared session", cookies)
	}
}

func TestReadiness(t *testing.T) {
	srv := newTestServer(t, &fakeStore{pingErr: errors.New("locked")}, nil)
	rr := do(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "not_ready") {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                 "/",
		"/":                "/",
		"/api/metrics?x=1": "/api/metrics?x=1",
		"//evil.example":   "/",
		"https://evil":     "/",
		"/\\evil":          "/",
	}
	for in, want := range tests {
		if got := safeNext(in); got != want {
			t.Errorf("safeNext(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildChartsSplitsUndefinedLTV(t *testing.T) {
	metrics := sampleMetrics()
	metrics = append(metrics, core.MonthlyMetric{Month: core.NewMonth(2025, time.March), ARPU: decimal.Zero, ChurnRate: decimal.Zero})

	panels := buildCharts(metrics)
	if len(panels) != 4 {
		t.Fatalf("got %d panels", len(panels))
	}
	ltv := panels[3]
	if ltv.Title != "LTV" || len(ltv.Points) != 1 || len(ltv.Segments) != 1 {
		t.Fatalf("LTV panel = %+v", ltv)
	}
	if ltv.Latest != missingValue || ltv.Max != "200.00" {
		t.Errorf("LTV latest = %q, max = %q", ltv.Latest, ltv.Max)
	}
	if newCnt := panels[0]; len(newCnt.Points) != 3 || newCnt.From != "2025-01" || newCnt.To != "2025-03" {
		t.Errorf("new panel = %+v", newCnt)
	}
	if buildCharts(nil) != nil {
		t.Error("no panels expected for empty metrics")
	}
}
