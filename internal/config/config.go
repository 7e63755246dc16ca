// Package config reads the application configuration from environment
// variables, with defaults suitable for a local run.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config represents the complete application configuration
type Config struct {
	Run      RunConfig
	Paths    PathConfig
	Output   OutputConfig
	Database DatabaseConfig
}

// RunConfig holds the ensemble shape knobs
type RunConfig struct {
	Trials      int
	HorizonDays int
	Workers     int
	BaseSeed    uint64
	NoReject    bool // CLI-only toggle, keeps every integrable trial
}

// PathConfig holds the input file locations
type PathConfig struct {
	GraphFile   string
	PriorsFile  string
	NPIFile     string // optional, empty disables interventions
	CensusFile  string // optional, empty disables hospitalization anchors
	CensusSheet string
}

// OutputConfig holds the output sink settings
type OutputConfig struct {
	Dir        string
	LedgerFile string
	QueueSize  int
}

// DatabaseConfig holds the optional postgres sink settings
type DatabaseConfig struct {
	URL string // empty selects the CSV sink
}

// Load reads configuration from environment variables. Callers that layer
// flag overrides on top should call Validate afterwards.
func Load() *Config {
	cfg := &Config{
		Run: RunConfig{
			Trials:      getEnvIntOrDefault("BUCKY_TRIALS", 100),
			HorizonDays: getEnvIntOrDefault("BUCKY_HORIZON_DAYS", 30),
			Workers:     getEnvIntOrDefault("BUCKY_WORKERS", 4),
			BaseSeed:    getEnvUintOrDefault("BUCKY_SEED", 42),
		},
		Paths: PathConfig{
			GraphFile:   os.Getenv("BUCKY_GRAPH_FILE"),
			PriorsFile:  os.Getenv("BUCKY_PRIORS_FILE"),
			NPIFile:     getEnvOrDefault("BUCKY_NPI_FILE", ""),
			CensusFile:  getEnvOrDefault("BUCKY_CENSUS_FILE", ""),
			CensusSheet: getEnvOrDefault("BUCKY_CENSUS_SHEET", ""),
		},
		Output: OutputConfig{
			Dir:        getEnvOrDefault("BUCKY_OUTPUT_DIR", "./output"),
			LedgerFile: getEnvOrDefault("BUCKY_LEDGER_FILE", "./output/ledger.db"),
			QueueSize:  getEnvIntOrDefault("BUCKY_QUEUE_SIZE", 16),
		},
		Database: DatabaseConfig{
			URL: getEnvOrDefault("DATABASE_URL", ""),
		},
	}

	return cfg
}

// Validate checks the merged configuration before any inputs are opened
func (c *Config) Validate() error {
	if c.Paths.GraphFile == "" {
		return fmt.Errorf("an input graph is required (--graph or BUCKY_GRAPH_FILE)")
	}
	if c.Paths.PriorsFile == "" {
		return fmt.Errorf("a prior file is required (--params or BUCKY_PRIORS_FILE)")
	}
	if c.Run.Trials < 1 {
		return fmt.Errorf("trials = %d, want >= 1", c.Run.Trials)
	}
	if c.Run.HorizonDays < 1 {
		return fmt.Errorf("horizon = %d days, want >= 1", c.Run.HorizonDays)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvUintOrDefault(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}
