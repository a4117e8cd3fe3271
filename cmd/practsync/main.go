package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/practsync/practsync/internal/dest/httpdest"
	"github.com/practsync/practsync/internal/engine"
	"github.com/practsync/practsync/internal/ledger/sqlite"
	"github.com/practsync/practsync/internal/models"
	"github.com/practsync/practsync/internal/source"
	"github.com/practsync/practsync/internal/source/tokencache"
	"github.com/practsync/practsync/internal/validation"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	dbPath := flag.String("db", envOr("PRACTSYNC_DB", "practsync.db"), "Path to the ledger database")
	tokenPath := flag.String("token-cache", envOr("PRACTSYNC_TOKEN_CACHE", "practsync-tokens.db"), "Path to the source token cache")
	sourceURL := flag.String("source-url", os.Getenv("PRACTSYNC_SOURCE_URL"), "Source API base URL")
	clientID := flag.String("client-id", os.Getenv("PRACTSYNC_SOURCE_CLIENT_ID"), "Source API client ID")
	destURL := flag.String("dest-url", os.Getenv("PRACTSYNC_DEST_URL"), "Destination API base URL")
	entities := flag.String("entities", "", "Comma-separated entity types (default: all)")
	from := flag.String("from", "", "Appointment range start (RFC 3339)")
	to := flag.String("to", "", "Appointment range end (RFC 3339)")
	dryRun := flag.Bool("dry-run", false, "Run without touching the destination")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if err := run(*dbPath, *tokenPath, *sourceURL, *clientID, *destURL, *entities, *from, *to, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath, tokenPath, sourceURL, clientID, destURL, entities, from, to string, dryRun bool) error {
	ctx := context.Background()

	if sourceURL == "" {
		return fmt.Errorf("source URL is required (set PRACTSYNC_SOURCE_URL or -source-url)")
	}
	if destURL == "" {
		return fmt.Errorf("destination URL is required (set PRACTSYNC_DEST_URL or -dest-url)")
	}

	entityTypes, err := parseEntities(entities)
	if err != nil {
		return err
	}

	dateRange, err := validation.ValidateDateRange(from, to)
	if err != nil {
		return err
	}

	secret, err := sourceSecret()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	tokens, err := tokencache.New(tokenPath)
	if err != nil {
		return fmt.Errorf("failed to open token cache: %w", err)
	}
	defer tokens.Close()

	creds := source.Credentials{ClientID: clientID, ClientSecret: secret}
	provider := source.NewClient(sourceURL, creds, tokens, logger)
	connector := httpdest.NewConnector(destURL, os.Getenv("PRACTSYNC_DEST_API_KEY"), logger)
	service := engine.NewService(store, connector, logger)

	fmt.Println("Starting synchronization...")
	if dryRun {
		fmt.Println("(dry run: the destination will not be touched)")
	}

	summary, err := service.SyncRun(ctx, provider, engine.RunRequest{
		EntityTypes: entityTypes,
		DateRange:   dateRange,
		Mode:        models.ModeInteractive,
		DryRun:      dryRun,
	})
	if err != nil {
		return fmt.Errorf("synchronization failed: %w", err)
	}

	fmt.Println()
	fmt.Printf("Run %s finished\n", summary.RunID)
	fmt.Println()
	fmt.Printf("Created: %d\n", summary.Counts.Created)
	fmt.Printf("Updated: %d\n", summary.Counts.Updated)
	fmt.Printf("Skipped: %d\n", summary.Counts.Skipped)
	fmt.Printf("Failed:  %d\n", summary.Counts.Failed)

	if summary.Counts.Failed > 0 {
		fmt.Println()
		fmt.Println("Failed items:")
		for _, r := range summary.Results {
			if r.Action == models.ActionFailed {
				fmt.Printf("  %s/%s: %s\n", r.EntityType, r.SourceID, r.Error)
			}
		}
	}

	return nil
}

// sourceSecret reads the source API secret from the environment, or
// prompts for it without echo when running interactively.
func sourceSecret() (string, error) {
	if secret := os.Getenv("PRACTSYNC_SOURCE_SECRET"); secret != "" {
		return secret, nil
	}

	fmt.Print("Source API secret: ")
	secretBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if len(secretBytes) == 0 {
		return "", fmt.Errorf("secret cannot be empty")
	}

	return string(secretBytes), nil
}

func parseEntities(s string) ([]models.EntityType, error) {
	if s == "" {
		return nil, nil
	}
	return validation.ValidateEntityTypes(strings.Split(s, ","))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printVersion() {
	fmt.Printf("PractSync CLI\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
