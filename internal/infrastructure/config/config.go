// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	ratesURL := cfg.Rates.BaseURL
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Rates         RatesConfig         `yaml:"rates"`
	Matching      MatchingConfig      `yaml:"matching"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// RatesConfig holds exchange-rate source settings
type RatesConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	RetryMax        int    `yaml:"retry_max"`
	MaxHistoryYears int    `yaml:"max_history_years"`
}

// MatchingConfig holds auto-match tuning
type MatchingConfig struct {
	DateRangeDays        int     `yaml:"date_range_days"`
	AmountTolerance      float64 `yaml:"amount_tolerance"`
	AutoApproveThreshold int     `yaml:"auto_approve_threshold"`
	CandidateThreshold   int     `yaml:"candidate_threshold"`
	MaxCandidates        int     `yaml:"max_candidates"`
}

// ConsolidationConfig holds CC consolidation tuning
type ConsolidationConfig struct {
	DateToleranceDays  int     `yaml:"date_tolerance_days"`
	AmountTolerancePct float64 `yaml:"amount_tolerance_pct"`
	UpdateBatchSize    int     `yaml:"update_batch_size"`
	UpdateBatchDelayMS int     `yaml:"update_batch_delay_ms"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RATES_API_KEY})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("RECON_HOST", "0.0.0.0"),
			Port: getEnvInt("RECON_PORT", 8080),
		},
		Storage: StorageConfig{
			DatabasePath: getEnv("RECON_DB_PATH", "recon.db"),
		},
		Rates: RatesConfig{
			BaseURL:         getEnv("RATES_BASE_URL", ""),
			APIKey:          os.Getenv("RATES_API_KEY"),
			RetryMax:        getEnvInt("RATES_RETRY_MAX", 3),
			MaxHistoryYears: getEnvInt("RATES_MAX_HISTORY_YEARS", 5),
		},
		Matching: MatchingConfig{
			DateRangeDays:        getEnvInt("MATCH_DATE_RANGE_DAYS", 30),
			AmountTolerance:      0.5,
			AutoApproveThreshold: getEnvInt("MATCH_AUTO_APPROVE", 85),
			CandidateThreshold:   getEnvInt("MATCH_CANDIDATE", 50),
			MaxCandidates:        getEnvInt("MATCH_MAX_CANDIDATES", 10),
		},
		Consolidation: ConsolidationConfig{
			DateToleranceDays:  getEnvInt("CONSOLIDATION_DATE_TOLERANCE", 3),
			AmountTolerancePct: 10,
			UpdateBatchSize:    getEnvInt("CONSOLIDATION_BATCH_SIZE", 3),
			UpdateBatchDelayMS: getEnvInt("CONSOLIDATION_BATCH_DELAY_MS", 200),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}
