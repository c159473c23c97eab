// Command reconcile runs auto matching and CC consolidation as a batch
// job against the database, for cron-style use.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/eshaffer321/recon-backend/internal/domain/automatch"
	"github.com/eshaffer321/recon-backend/internal/domain/consolidation"
	"github.com/eshaffer321/recon-backend/internal/domain/scoring"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/config"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/logging"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/rates"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/storage"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Configuration file path")
		ownerFlag   = flag.String("owner", "", "Owner ID (required)")
		invoiceFlag = flag.String("invoice", "", "Invoice ID to auto match (empty = skip matching)")
		consolidate = flag.Bool("consolidate", false, "Run CC consolidation for the owner")
		dryRun      = flag.Bool("dry-run", true, "Classify without writing links")
		force       = flag.Bool("force", false, "Rematch already linked line items")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger := logging.NewLogger(config.LoggingConfig{Level: level, Format: "text"})

	_ = godotenv.Load()
	cfg := loadConfig(*configFile, logger)

	ownerID, err := uuid.Parse(*ownerFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: reconcile -owner <uuid> [-invoice <uuid>] [-consolidate]")
		os.Exit(2)
	}

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var cache *rates.Cache
	if cfg.Rates.BaseURL != "" {
		client := rates.NewClient(cfg.Rates.BaseURL, cfg.Rates.APIKey, cfg.Rates.RetryMax, logger)
		cache = rates.NewCache(client, store, logger, rates.Options{
			MaxHistoryYears: cfg.Rates.MaxHistoryYears,
		})
	}

	ctx := context.Background()

	if *invoiceFlag != "" {
		invoiceID, err := uuid.Parse(*invoiceFlag)
		if err != nil {
			logger.Error("invalid invoice id", "invoice", *invoiceFlag)
			os.Exit(2)
		}
		matcher := automatch.NewMatcher(store, scoring.NewEngine(), cache, logger, automatch.Options{
			DateRangeDays:        cfg.Matching.DateRangeDays,
			AmountTolerance:      cfg.Matching.AmountTolerance,
			AutoApproveThreshold: cfg.Matching.AutoApproveThreshold,
			CandidateThreshold:   cfg.Matching.CandidateThreshold,
			MaxCandidates:        cfg.Matching.MaxCandidates,
			ForceRematch:         *force,
		})
		runMatching(ctx, matcher, invoiceID, *dryRun, logger)
	}

	if *consolidate {
		consolidator := consolidation.NewConsolidator(store, logger, consolidation.Options{
			DateToleranceDays:  cfg.Consolidation.DateToleranceDays,
			AmountTolerancePct: cfg.Consolidation.AmountTolerancePct,
			UpdateBatchSize:    cfg.Consolidation.UpdateBatchSize,
			UpdateBatchDelay:   time.Duration(cfg.Consolidation.UpdateBatchDelayMS) * time.Millisecond,
		})
		summary, err := consolidator.Run(ctx, ownerID)
		if err != nil {
			logger.Error("consolidation run failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("consolidation: %d groups, %d matched, %d unmatched, %d failed\n",
			summary.Groups, summary.Matched, summary.Unmatched, summary.Failed)
	}
}

func runMatching(ctx context.Context, matcher *automatch.Matcher, invoiceID uuid.UUID, dryRun bool, logger *slog.Logger) {
	var summary *automatch.InvoiceSummary
	var err error
	if dryRun {
		summary, err = matcher.AutoMatchInvoice(ctx, invoiceID)
	} else {
		summary, err = matcher.ApplyAutoMatchesForInvoice(ctx, invoiceID)
	}
	if err != nil {
		logger.Error("auto match failed", "invoice_id", invoiceID, "error", err)
		os.Exit(1)
	}

	mode := "applied"
	if dryRun {
		mode = "dry-run"
	}
	fmt.Printf("automatch (%s): %d items, %d auto matched, %d candidates, %d no match, %d skipped, %d failed\n",
		mode, summary.Total, summary.AutoMatched, summary.Candidates,
		summary.NoMatch, summary.Skipped, summary.Failed)
	for _, item := range summary.Items {
		line := fmt.Sprintf("  %s: %s", item.LineItemID, item.Outcome)
		if item.TransactionID != nil {
			line += fmt.Sprintf(" -> %s", *item.TransactionID)
		}
		if item.Confidence != nil {
			line += fmt.Sprintf(" (%d)", *item.Confidence)
		}
		if item.Error != "" {
			line += " error: " + item.Error
		}
		fmt.Println(line)
	}
}

func loadConfig(path string, logger *slog.Logger) *config.Config {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			logger.Error("failed to load config", "path", path, "error", err)
			os.Exit(1)
		}
		return cfg
	}
	return config.LoadOrEnv()
}
