// Package config holds the environment-driven configuration for the import
// service. All knobs come from the environment (12-factor); a local .env file
// is honored when present so development runs need no shell setup.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// DatabaseDSN is the Postgres connection string for the catalog store.
	DatabaseDSN string `env:"DATABASE_DSN,required"`

	// PendingDir and ArchivedDir are the local staging areas the transfer
	// layer sweeps. Archiving a file moves it from the first to the second.
	PendingDir  string `env:"PENDING_DIR" envDefault:"data/pending"`
	ArchivedDir string `env:"ARCHIVED_DIR" envDefault:"data/archived"`

	// ProductChunkSize bounds how many products are reconciled per
	// transaction; FitmentChunkSize bounds distinct part numbers per fitment
	// chunk; CategoryChunkSize bounds category-lookup rows per transaction.
	ProductChunkSize  int `env:"PRODUCT_CHUNK_SIZE" envDefault:"50"`
	FitmentChunkSize  int `env:"FITMENT_CHUNK_SIZE" envDefault:"30"`
	CategoryChunkSize int `env:"CATEGORY_CHUNK_SIZE" envDefault:"100"`

	// ScratchInsertChunk is the batch size for loading fitment rows into the
	// scratch sort store.
	ScratchInsertChunk int `env:"SCRATCH_INSERT_CHUNK" envDefault:"100000"`

	// MaxImportAttempts bounds the per-file retry loop in the job runner.
	MaxImportAttempts int `env:"MAX_IMPORT_ATTEMPTS" envDefault:"10"`

	// PrefetchWorkers bounds concurrent staging of pending files.
	PrefetchWorkers int `env:"PREFETCH_WORKERS" envDefault:"4"`

	// LogMode selects the zap configuration ("dev" or "prod").
	LogMode string `env:"LOG_MODE" envDefault:"dev"`
}

// Load reads .env (if any) and the process environment into a Config.
func Load() (*Config, error) {
	// Missing .env is fine; explicit env vars always win.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ProductChunkSize < 1 {
		return fmt.Errorf("config: PRODUCT_CHUNK_SIZE must be >= 1, got %d", c.ProductChunkSize)
	}
	if c.FitmentChunkSize < 1 {
		return fmt.Errorf("config: FITMENT_CHUNK_SIZE must be >= 1, got %d", c.FitmentChunkSize)
	}
	if c.CategoryChunkSize < 1 {
		return fmt.Errorf("config: CATEGORY_CHUNK_SIZE must be >= 1, got %d", c.CategoryChunkSize)
	}
	if c.MaxImportAttempts < 1 {
		return fmt.Errorf("config: MAX_IMPORT_ATTEMPTS must be >= 1, got %d", c.MaxImportAttempts)
	}
	if c.PrefetchWorkers < 1 {
		return fmt.Errorf("config: PREFETCH_WORKERS must be >= 1, got %d", c.PrefetchWorkers)
	}
	return nil
}
