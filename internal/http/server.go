// Package http serves the metrics dashboard, its JSON API and the
// sign-in endpoints.
package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/auth"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/cache"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
	applog "github.com/Kazza-miya/cascade-sales-dashboard/internal/log"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/middleware/ratelimit"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/middleware/security"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/middleware/trace"
	appweb "github.com/Kazza-miya/cascade-sales-dashboard/web"
)

const (
	loginPath   = "/login"
	readTimeout = 7 * time.Second
)

// MetricsReader is the read side of the metrics store.
type MetricsReader interface {
	FetchAllMetricsOrdered(ctx context.Context) ([]core.MonthlyMetric, error)
	LastRun(ctx context.Context) (core.MetricsRun, bool, error)
	Ping(ctx context.Context) error
}

// Options configures the dashboard server.
type Options struct {
	Addr string
	// Verifier guards every page except login and health checks. Nil
	// disables authentication.
	Verifier auth.Verifier
	// GoogleClientID is rendered into the sign-in button.
	GoogleClientID string
	// SecureCookies marks the session cookie Secure.
	SecureCookies  bool
	CacheTTL       time.Duration
	RateLimit      ratelimit.Config
	TrustedProxies []string
	Logger         *applog.Logger
}

// snapshot is what a metrics read caches.
type snapshot struct {
	Metrics       []core.MonthlyMetric
	RecomputedAt  time.Time
	HasRecomputed bool
}

// Server wraps http.Server with the dashboard's dependencies.
type Server struct {
	http.Server

	store     MetricsReader
	verifier  auth.Verifier
	clientID  string
	secure    bool
	templates *template.Template
	started   time.Time

	metricsCache *cache.LRUCache[snapshot]
	caches       *cache.Manager
	limiter      *ratelimit.Limiter
	tracer       *trace.Middleware
	detector     *security.Detector

	shutdownOnce sync.Once
}

// NewServer parses the embedded templates and mounts all routes.
func NewServer(store MetricsReader, opts Options) (*Server, error) {
	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	detector, err := security.NewDetector(opts.TrustedProxies...)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		store:     store,
		verifier:  opts.Verifier,
		clientID:  opts.GoogleClientID,
		secure:    opts.SecureCookies,
		templates: t,
		started:   time.Now(),
		caches:    cache.NewManager(),
		limiter:   ratelimit.NewLimiter(opts.RateLimit),
		detector:  detector,
	}
	s.tracer = trace.NewMiddleware(detector.ExtractClientIP)

	if opts.CacheTTL > 0 {
		// Keys are recompute timestamps, so only a handful stay live.
		s.metricsCache = cache.NewLRUCache[snapshot](8, opts.CacheTTL)
		s.caches.Register(s.metricsCache)
		s.caches.StartCleanup(opts.CacheTTL)
	}

	mux := http.NewServeMux()

	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}
	mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(
		http.StripPrefix("/static/", http.FileServer(http.FS(static)))))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET "+loginPath, s.handleLogin)
	mux.Handle("POST /auth/session", s.limiter.Middleware(detector.ExtractClientIP, nil)(http.HandlerFunc(s.handleCreateSession)))
	mux.HandleFunc("POST /auth/logout", s.handleLogout)

	mux.Handle("GET /{$}", s.protect(http.HandlerFunc(s.handleDashboard)))
	mux.Handle("GET /api/metrics", s.protect(security.NoStoreMiddleware(http.HandlerFunc(s.handleMetricsAPI))))

	var handler http.Handler = mux
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = detector.Middleware(handler)
	handler = s.tracer.Middleware(handler)
	handler = applog.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// protect applies authentication when a verifier is configured.
func (s *Server) protect(h http.Handler) http.Handler {
	if s.verifier == nil {
		return h
	}
	return auth.Middleware(s.verifier, loginPath)(h)
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// loadSnapshot reads all metrics, serving from cache while the stored run
// id is unchanged.
func (s *Server) loadSnapshot(ctx context.Context) (snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	run, ok, err := s.store.LastRun(ctx)
	if err != nil {
		return snapshot{}, fmt.Errorf("read last recompute: %w", err)
	}
	key := "never"
	if ok {
		key = strconv.FormatInt(run.ID, 10)
	}

	if s.metricsCache != nil {
		if snap, found := s.metricsCache.Get(key); found {
			applog.FromContext(ctx).DebugContext(ctx, "Metrics cache hit", "run_id", key)
			return snap, nil
		}
	}

	metrics, err := s.store.FetchAllMetricsOrdered(ctx)
	if err != nil {
		return snapshot{}, fmt.Errorf("read metrics: %w", err)
	}
	snap := snapshot{Metrics: metrics, RecomputedAt: run.RecomputedAt, HasRecomputed: ok}
	if s.metricsCache != nil {
		s.metricsCache.Set(key, snap)
	}
	return snap, nil
}
