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

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/zach-dev-api/internal/config"
)

const (
	maintenanceInterval = time.Hour
	shutdownTimeout     = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)
	gin.SetMode(cfg.GinMode)

	a, err := newApp(cfg)
	if err != nil {
		slog.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	a.filter.RefreshAsync()

	if err := run(a); err != nil {
		slog.Error("Server stopped", "error", err)
		_ = a.Close()
		os.Exit(1)
	}
	if err := a.Close(); err != nil {
		slog.Warn("Shutdown incomplete", "error", err)
	}
}

func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(a *app) error {
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan struct{})
	go a.maintain(stop, maintenanceInterval)
	defer close(stop)

	errc := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "port", a.cfg.Port, "store", a.cfg.StoreBackend, "admin", a.auth.Enabled())
		errc <- srv.ListenAndServe()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	return srv.Shutdown(shutdownCtx)
}
