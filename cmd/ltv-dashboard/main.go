// Command ltv-dashboard serves the metrics dashboard and JSON API.
package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/auth"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/cli"
	apphttp "github.com/Kazza-miya/cascade-sales-dashboard/internal/http"
	applog "github.com/Kazza-miya/cascade-sales-dashboard/internal/log"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/middleware/ratelimit"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/middleware/security"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadConfig()
	if err == nil {
		err = cfg.ValidateDashboard()
	}
	if err != nil {
		cli.Fatal(applog.Setup("info", "text", applog.ComponentApp), "Configuration validation failed", err)
	}
	logger := cli.SetupLogger(cfg, applog.ComponentApp)

	ctx, stop := cli.SignalContext()
	defer stop()

	repo, err := cli.OpenStore(ctx, cfg)
	if err != nil {
		cli.Fatal(logger, "Failed to open metrics store", err)
	}
	defer repo.Close()

	opts := apphttp.Options{
		Addr:           ":" + cfg.Port,
		GoogleClientID: cfg.GoogleClientID,
		SecureCookies:  cfg.SecureCookies,
		CacheTTL:       cfg.MetricsCacheTTL,
		RateLimit:      ratelimit.DefaultConfig(),
		TrustedProxies: security.DefaultTrustedProxies,
		Logger:         logger,
	}
	if cfg.AuthDisabled {
		logger.Warn("Authentication disabled - dashboard is open to anyone who can reach it")
	} else {
		verifier, err := auth.NewGoogleVerifier(ctx, cfg.GoogleClientID, cfg.AllowedEmailDomains)
		if err != nil {
			cli.Fatal(logger, "Failed to initialize Google token verifier", err)
		}
		opts.Verifier = verifier
	}

	srv, err := apphttp.NewServer(repo, opts)
	if err != nil {
		cli.Fatal(logger, "Failed to build HTTP server", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Dashboard listening", "addr", srv.Addr, "auth", opts.Verifier != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err, ok := <-errCh:
		if ok {
			cli.Fatal(logger, "HTTP server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", applog.FieldError, err)
	}
	logger.Info("Dashboard stopped")
}
