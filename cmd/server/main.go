package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gemini-bridge/internal/auth"
	"gemini-bridge/internal/config"
	"gemini-bridge/internal/proxy"
)

func main() {
	cfg := config.Load()

	slog.Info("starting gemini-bridge",
		"listen", cfg.ListenAddr,
		"endpoint", cfg.Endpoint,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := auth.NewManager(auth.Options{
		Store:       auth.NewStore(cfg.CredentialsFile),
		ProjectHint: cfg.ProjectID,
		Endpoint:    cfg.Endpoint,
		HTTPClient:  &http.Client{Timeout: cfg.RequestTimeout},
	})

	// Best-effort session restore; the gateway serves 401s until login
	// completes when no valid credential is found.
	manager.ResolveOptional(ctx)
	if status := manager.Status(); status.Authenticated {
		slog.Info("authenticated", "project", status.ProjectID, "method", status.Method)
	} else {
		slog.Warn("not authenticated; POST /auth/login to complete the OAuth flow")
	}

	srv := proxy.New(cfg, manager)
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	case err := <-srvErr:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
