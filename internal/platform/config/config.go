// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (shard pools, batch engine) via constructors.
  - Zero Hidden State: No global variables are used to store config.

Every threshold the batch engine consults (processing-mode cut-offs, worker
width, batch sizing, memory fractions) lives here — they are configuration,
not constants.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the Tramo API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Catalog database (PostgreSQL) — holds query templates and metadata.
	CatalogURL string `env:"CATALOG_DATABASE_URL,required"`

	// ShardDSNs lists the provincial shards as "name=dsn" pairs separated by
	// semicolons, e.g. "cordoba=postgres://...;santafe=postgres://...".
	// DSNs embed colons and commas, so a flat map env tag cannot parse them.
	ShardDSNs string `env:"SHARD_DSNS,required"`

	// MigrationPath is the filesystem path to the catalog SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value store (Redis) — task artifacts and progress snapshots.
	RedisURL string `env:"REDIS_URL,required"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`

	Engine EngineConfig
}

// EngineConfig groups the batch-engine tuning knobs.
//
// The zero env yields the documented defaults; operators override per
// deployment without a rebuild.
type EngineConfig struct {

	// Processing-mode selection thresholds (estimated rows).
	ParallelAvgThreshold   int64 `env:"ENGINE_PARALLEL_AVG_THRESHOLD"   envDefault:"50000"`
	ParallelTotalThreshold int64 `env:"ENGINE_PARALLEL_TOTAL_THRESHOLD" envDefault:"300000"`
	SequentialMaxThreshold int64 `env:"ENGINE_SEQUENTIAL_MAX_THRESHOLD" envDefault:"200000"`

	// Consolidation-type selection thresholds (estimated post-GROUP BY rows).
	AggregationThreshold int64 `env:"ENGINE_AGGREGATION_THRESHOLD" envDefault:"50000"`
	HighVolumeThreshold  int64 `env:"ENGINE_HIGH_VOLUME_THRESHOLD" envDefault:"100000"`

	// Worker pool.
	MaxParallelShards int `env:"ENGINE_MAX_PARALLEL_SHARDS" envDefault:"6"`
	WorkerQueueDepth  int `env:"ENGINE_WORKER_QUEUE_DEPTH"  envDefault:"100"`

	// Batch sizing.
	BatchSize    int `env:"ENGINE_BATCH_SIZE"     envDefault:"1000"`
	MaxBatchSize int `env:"ENGINE_MAX_BATCH_SIZE" envDefault:"10000"`
	MinBatchSize int `env:"ENGINE_MIN_BATCH_SIZE" envDefault:"500"`

	// Memory pressure fractions (of the probe's reported budget).
	MemoryHighWater float64 `env:"ENGINE_MEMORY_HIGH_WATER" envDefault:"0.85"`
	MemoryYield     float64 `env:"ENGINE_MEMORY_YIELD"      envDefault:"0.70"`

	// Timing.
	HeartbeatInterval time.Duration `env:"ENGINE_HEARTBEAT_INTERVAL" envDefault:"30s"`
	QueryTimeout      time.Duration `env:"ENGINE_QUERY_TIMEOUT"      envDefault:"30s"`
	TaskTimeout       time.Duration `env:"ENGINE_TASK_TIMEOUT"       envDefault:"0"`

	// Task retention.
	TaskResultTTL time.Duration `env:"ENGINE_TASK_RESULT_TTL" envDefault:"24h"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if _, err := cfg.Shards(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Shards parses the SHARD_DSNS pairs into an ordered name→DSN map.
//
// Order follows the declaration order in the variable so sequential
// processing walks shards deterministically.
func (c *Config) Shards() ([]ShardDSN, error) {
	raw := strings.TrimSpace(c.ShardDSNs)
	if raw == "" {
		return nil, fmt.Errorf("config: SHARD_DSNS is empty")
	}

	var shards []ShardDSN
	seen := map[string]bool{}
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, dsn, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		dsn = strings.TrimSpace(dsn)
		if !ok || name == "" || dsn == "" {
			return nil, fmt.Errorf("config: malformed SHARD_DSNS entry %q (want name=dsn)", pair)
		}
		if seen[name] {
			return nil, fmt.Errorf("config: duplicate shard name %q in SHARD_DSNS", name)
		}
		seen[name] = true
		shards = append(shards, ShardDSN{Name: name, DSN: dsn})
	}

	if len(shards) == 0 {
		return nil, fmt.Errorf("config: SHARD_DSNS contains no shards")
	}
	return shards, nil
}

// ShardDSN is one parsed provincial shard connection entry.
type ShardDSN struct {
	Name string
	DSN  string
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
