package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/eshaffer321/recon-backend/internal/api"
	"github.com/eshaffer321/recon-backend/internal/domain/automatch"
	"github.com/eshaffer321/recon-backend/internal/domain/consolidation"
	"github.com/eshaffer321/recon-backend/internal/domain/scoring"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/config"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/logging"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/rates"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/storage"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.LoadOrEnv()
	logger := logging.NewLogger(cfg.Observability.Logging)

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
	} else {
		logger.Warn("no rates base URL configured; cross-currency scoring degrades to the missing-rate fallback")
	}

	matcher := automatch.NewMatcher(store, scoring.NewEngine(), cache, logger, automatch.Options{
		DateRangeDays:        cfg.Matching.DateRangeDays,
		AmountTolerance:      cfg.Matching.AmountTolerance,
		AutoApproveThreshold: cfg.Matching.AutoApproveThreshold,
		CandidateThreshold:   cfg.Matching.CandidateThreshold,
		MaxCandidates:        cfg.Matching.MaxCandidates,
	})

	consolidator := consolidation.NewConsolidator(store, logger, consolidation.Options{
		DateToleranceDays:  cfg.Consolidation.DateToleranceDays,
		AmountTolerancePct: cfg.Consolidation.AmountTolerancePct,
		UpdateBatchSize:    cfg.Consolidation.UpdateBatchSize,
		UpdateBatchDelay:   time.Duration(cfg.Consolidation.UpdateBatchDelayMS) * time.Millisecond,
	})

	server := api.NewServer(api.DefaultConfig(), store, matcher, consolidator, logger)
	router := server.Router()

	addr := cfg.Server.Addr()
	logger.Info("api server starting", "addr", addr)
	if err := router.Run(addr); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
