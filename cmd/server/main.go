package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/practsync/practsync/internal/dest/httpdest"
	"github.com/practsync/practsync/internal/engine"
	"github.com/practsync/practsync/internal/ledger/sqlite"
	"github.com/practsync/practsync/internal/server/handlers"
	"github.com/practsync/practsync/internal/server/middleware"
	"github.com/practsync/practsync/internal/source/tokencache"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	addr := flag.String("addr", envOr("PRACTSYNC_ADDR", ":8080"), "HTTP listen address")
	dbPath := flag.String("db", envOr("PRACTSYNC_DB", "practsync.db"), "Path to the ledger database")
	tokenPath := flag.String("token-cache", envOr("PRACTSYNC_TOKEN_CACHE", "practsync-tokens.db"), "Path to the source token cache")
	destURL := flag.String("dest-url", os.Getenv("PRACTSYNC_DEST_URL"), "Destination API base URL")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	if err := run(*addr, *dbPath, *tokenPath, *destURL, logger); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(addr, dbPath, tokenPath, destURL string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if destURL == "" {
		return fmt.Errorf("destination URL is required (set PRACTSYNC_DEST_URL or -dest-url)")
	}

	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("Failed to close ledger", "error", cerr)
		}
	}()

	tokens, err := tokencache.New(tokenPath)
	if err != nil {
		return fmt.Errorf("failed to open token cache: %w", err)
	}
	defer func() {
		if cerr := tokens.Close(); cerr != nil {
			logger.Error("Failed to close token cache", "error", cerr)
		}
	}()

	connector := httpdest.NewConnector(destURL, os.Getenv("PRACTSYNC_DEST_API_KEY"), logger)
	service := engine.NewService(store, connector, logger)

	syncHandler := handlers.NewSyncHandler(logger, service, tokens)
	healthHandler := handlers.NewHealthHandler(logger, store)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sync/runs", syncHandler.TriggerRun)
	mux.HandleFunc("GET /api/v1/sync/runs/{id}", syncHandler.GetRun)
	mux.HandleFunc("GET /api/v1/ledger/summary", syncHandler.LedgerSummary)
	mux.HandleFunc("GET /health", healthHandler.Health)

	handler := middleware.Recovery(logger)(
		middleware.LoggingWithSkip(logger, []string{"/health"})(mux),
	)

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
		// A run holds the request open while it drives the slow
		// destination session; the write timeout must cover a full run.
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", addr, "version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func logLevel() slog.Level {
	switch os.Getenv("PRACTSYNC_LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func printVersion() {
	fmt.Printf("PractSync Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
