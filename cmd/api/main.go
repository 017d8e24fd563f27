package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"papyrus/api/internal/ai"
	"papyrus/api/internal/app"
	"papyrus/api/internal/blob"
	"papyrus/api/internal/collab"
	"papyrus/api/internal/config"
	"papyrus/api/internal/email"
	"papyrus/api/internal/store"
	"papyrus/api/internal/throttle"
	"papyrus/api/internal/treepath"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	dataStore := store.NewPostgresStore(db, treepath.Default(), cfg.MaxSubtree)

	blobs, err := blob.NewStore(blob.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		logger.Error("object storage init failed", "error", err)
		os.Exit(1)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		logger.Warn("bucket setup failed, continuing", "error", err)
	}

	var limits *throttle.Limiter
	if strings.TrimSpace(cfg.RedisURL) != "" {
		limits, err = throttle.NewLimiterFromURL(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer limits.Close()
	}

	collabClient := collab.NewClient(cfg.CollabBaseURL, cfg.CollabSecret)
	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	aiClient := ai.NewClient(cfg.AIBaseURL, cfg.AIAPIKey)

	opts := app.Options{
		TrashbinCutoff:  cfg.TrashbinCutoff(),
		AIDocumentLimit: cfg.AIDocumentLimit,
		AIUserLimit:     cfg.AIUserLimit,
		AIWindow:        cfg.AIWindow(),
	}
	var service *app.Service
	if limits != nil {
		service = app.New(dataStore, blobs, collabClient, mail, aiClient, limits, logger, opts)
	} else {
		service = app.New(dataStore, blobs, collabClient, mail, aiClient, nil, logger, opts)
	}

	httpServer := app.NewHTTPServer(service, logger, cfg.ServiceToken, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Background purge of subtrees past the restore window.
	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-purgeCtx.Done():
				return
			case <-ticker.C:
				if _, err := service.PurgeExpired(purgeCtx); err != nil {
					logger.Warn("purge failed", "error", err)
				}
			}
		}
	}()

	go func() {
		logger.Info("papyrus api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
