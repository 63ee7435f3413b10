package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flowscope/flowscope/internal/api"
	"github.com/flowscope/flowscope/internal/layout"
	"github.com/flowscope/flowscope/internal/logging"
	"github.com/flowscope/flowscope/internal/poller"
	"github.com/flowscope/flowscope/internal/session"
	"github.com/flowscope/flowscope/internal/store"
	"github.com/flowscope/flowscope/internal/stream"
	"github.com/flowscope/flowscope/internal/validation"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("flowscope exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	validator, err := validation.NewGraphValidator()
	if err != nil {
		return err
	}

	hub := stream.NewMemoryHub()

	sessionCfg := session.DefaultConfig()
	sessionCfg.LayoutOptions = layout.DefaultOptions()
	sessionCfg.OverlayOptions = layout.DefaultOptions()
	sessionCfg.OverlayMargin = cfg.OverlayMargin
	sessionCfg.EventLogCapacity = cfg.EventLogCapacity
	sessionCfg.Logger = logger

	srv := api.NewServer(api.Deps{
		Store:         st,
		Validator:     validator,
		Hub:           hub,
		Logger:        logger,
		SessionConfig: sessionCfg,
	})
	defer srv.Close()

	if cfg.MetadataURL != "" {
		p, err := poller.NewPoller(poller.Options{
			URL:      cfg.MetadataURL,
			Schedule: cfg.MetadataSchedule,
			Extract:  cfg.MetadataExtract,
		}, nil, srv.HandleMetadata, logger)
		if err != nil {
			return err
		}
		if err := p.Start(ctx); err != nil {
			return err
		}
		defer p.Stop()
	}

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("flowscope listening", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
