// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

/*
Package shard manages the per-province PostgreSQL instances and executes
rewritten queries against them.

# Architecture

Each province's data lives in its own database. The Registry owns one
connection pool per shard; the Executor runs one rewritten statement
against one shard, translating :name parameters to positional placeholders
and materializing rows as maps keyed by column name.
*/
package shard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tramoapp/tramo/internal/platform/config"
	"github.com/tramoapp/tramo/internal/platform/postgres"
	"github.com/tramoapp/tramo/pkg/normalize"
)

// Shard is one province database.
type Shard struct {
	Name string
	Pool *pgxpool.Pool
}

// Registry holds the connected shard set for the process lifetime.
type Registry struct {
	shards []*Shard
	byName map[string]*Shard
}

// NewRegistry connects every configured shard. A shard that fails to
// connect fails startup: a silently missing province would corrupt every
// consolidated report.
func NewRegistry(ctx context.Context, dsns []config.ShardDSN, logger *slog.Logger) (*Registry, error) {
	registry := &Registry{byName: make(map[string]*Shard, len(dsns))}

	for _, entry := range dsns {
		pool, err := postgres.NewPool(ctx, entry.DSN, 0, logger)
		if err != nil {
			registry.Close()
			return nil, fmt.Errorf("connect shard %q: %w", entry.Name, err)
		}

		s := &Shard{Name: entry.Name, Pool: pool}
		registry.shards = append(registry.shards, s)
		registry.byName[normalize.Fold(entry.Name)] = s

		logger.InfoContext(ctx, "shard_connected", slog.String("shard", entry.Name))
	}
	return registry, nil
}

// All returns every connected shard in configuration order.
func (registry *Registry) All() []*Shard {
	return registry.shards
}

// Get resolves a shard by name, accent- and case-insensitively.
func (registry *Registry) Get(name string) (*Shard, bool) {
	s, ok := registry.byName[normalize.Fold(name)]
	return s, ok
}

// Select returns the shards matching the requested province names; with an
// empty request it returns all shards. Unknown names are skipped.
func (registry *Registry) Select(provinces []string) []*Shard {
	if len(provinces) == 0 {
		return registry.shards
	}

	out := make([]*Shard, 0, len(provinces))
	for _, name := range provinces {
		if s, ok := registry.Get(name); ok {
			out = append(out, s)
		}
	}
	return out
}

// Close releases every pool. Safe on a partially constructed registry.
func (registry *Registry) Close() {
	for _, s := range registry.shards {
		s.Pool.Close()
	}
}
