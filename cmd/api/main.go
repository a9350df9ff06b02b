package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"peerlearn/api/internal/app"
	"peerlearn/api/internal/config"
	"peerlearn/api/internal/meeting"
	"peerlearn/api/internal/store"
	"peerlearn/api/internal/telemetry"
	"peerlearn/api/internal/visibility"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, "peerlearn-api", cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	db, dialect, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		return err
	}
	dataStore := store.NewSQLStore(db, dialect, cfg.StoreRetries)

	var cache visibility.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := visibility.NewRedisCache(cfg.RedisURL, cfg.HiddenCacheTTL)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		cache = redisCache
		logger.Info("hidden-set cache enabled", "backend", "redis")
	}
	index := visibility.NewIndex(dataStore, cache, cfg.PageSize, logger)

	var meetings meeting.Provisioner
	if strings.TrimSpace(cfg.MeetingServiceURL) != "" {
		meetings = meeting.NewHTTPClient(cfg.MeetingServiceURL, cfg.MeetingServiceToken, cfg.MeetingTimeout, nil)
	} else {
		logger.Warn("MEETING_SERVICE_URL not set; using in-process meeting rooms")
		meetings = meeting.NewLocal(cfg.MeetingJoinBaseURL)
	}

	service := app.New(cfg, dataStore, index, meetings, app.NewLogNotifier(logger), logger)
	httpServer := app.NewHTTPServer(service, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("peerlearn api listening", "addr", cfg.Addr, "dialect", string(dialect))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	return nil
}
