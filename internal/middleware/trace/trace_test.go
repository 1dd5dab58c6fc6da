package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	applog "github.com/Kazza-miya/cascade-sales-dashboard/internal/log"
)

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	if !strings.HasPrefix(a, "req_") || len(a) != len("req_")+16 {
		t.Errorf("GenerateRequestID() = %q", a)
	}
	if a == b {
		t.Error("request ids must be unique")
	}
}

func TestMiddleware(t *testing.T) {
	m := NewMiddleware(func(r *http.Request) string { return "198.51.100.1" })

	var seenID string
	var loggerTagged bool
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		_, loggerTagged = r.Context().Value(applog.LoggerContextKey).(*applog.Logger)
		w.WriteHeader(http.StatusInternalServerError)
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))

	if seenID == "" || rr.Header().Get(HeaderRequestID) != seenID {
		t.Errorf("request id = %q, header = %q", seenID, rr.Header().Get(HeaderRequestID))
	}
	if !loggerTagged {
		t.Error("request logger not stored in context")
	}
	metrics := m.GetMetrics()
	if metrics.TotalRequests != 1 || metrics.TotalErrors != 1 {
		t.Errorf("metrics = %+v, first status must win", metrics)
	}
}

func TestMiddlewareReusesInboundID(t *testing.T) {
	m := NewMiddleware(nil)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		inbound string
		reuse   bool
	}{
		{inbound: "upstream-1234abcd", reuse: true},
		{inbound: "bad id with spaces", reuse: false},
		{inbound: "short", reuse: false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderRequestID, tt.inbound)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)

		got := rr.Header().Get(HeaderRequestID)
		if (got == tt.inbound) != tt.reuse {
			t.Errorf("inbound %q: response id %q, reuse = %v", tt.inbound, got, tt.reuse)
		}
	}
}

func TestGetRequestIDMissing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetRequestID(r.Context()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}
