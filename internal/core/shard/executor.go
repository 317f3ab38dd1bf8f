// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package shard

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tramoapp/tramo/internal/core/sqlscan"
	"github.com/tramoapp/tramo/internal/platform/dberr"
)

// Row is one result row keyed by column name.
type Row = map[string]any

// Executor runs rewritten statements against one shard.
type Executor interface {
	// Query materializes the full (bounded) result set.
	Query(ctx context.Context, sql string, params map[string]any) ([]Row, error)
	// Stream delivers rows one at a time; onRow returning an error stops
	// the scan and propagates.
	Stream(ctx context.Context, sql string, params map[string]any, onRow func(Row) error) error
	// Count runs the COUNT(*) variant of the statement.
	Count(ctx context.Context, sql string, params map[string]any) (int64, error)
}

// PgxExecutor is the production Executor over a shard's pgx pool.
type PgxExecutor struct {
	shard   *Shard
	timeout time.Duration
	logger  *slog.Logger
}

func NewExecutor(s *Shard, timeout time.Duration, logger *slog.Logger) *PgxExecutor {
	return &PgxExecutor{shard: s, timeout: timeout, logger: logger}
}

func (executor *PgxExecutor) Query(ctx context.Context, sql string, params map[string]any) ([]Row, error) {
	out := make([]Row, 0, 64)
	err := executor.Stream(ctx, sql, params, func(row Row) error {
		out = append(out, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (executor *PgxExecutor) Stream(ctx context.Context, sql string, params map[string]any, onRow func(Row) error) error {
	positional, args, err := translateNamed(sql, params)
	if err != nil {
		return err
	}

	queryCtx, cancel := executor.queryContext(ctx)
	defer cancel()

	started := time.Now()
	rows, err := executor.shard.Pool.Query(queryCtx, positional, args...)
	if err != nil {
		return executor.wrap(ctx, err, positional)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return executor.wrap(ctx, err, positional)
		}

		row := make(Row, len(fields))
		for i, field := range fields {
			row[field.Name] = values[i]
		}
		if err := onRow(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return executor.wrap(ctx, err, positional)
	}

	executor.logger.DebugContext(ctx, "shard_query_done",
		slog.String("shard", executor.shard.Name),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (executor *PgxExecutor) Count(ctx context.Context, sql string, params map[string]any) (int64, error) {
	positional, args, err := translateNamed(countVariant(sql), params)
	if err != nil {
		return 0, err
	}

	queryCtx, cancel := executor.queryContext(ctx)
	defer cancel()

	var count int64
	if err := executor.shard.Pool.QueryRow(queryCtx, positional, args...).Scan(&count); err != nil {
		return 0, executor.wrap(ctx, err, positional)
	}
	return count, nil
}

func (executor *PgxExecutor) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if executor.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, executor.timeout)
}

func (executor *PgxExecutor) wrap(ctx context.Context, err error, sql string) error {
	if err == pgx.ErrNoRows {
		return dberr.Wrap(err, "shard_query")
	}

	category := dberr.Classify(err)
	executor.logger.WarnContext(ctx, "shard_query_failed",
		slog.String("shard", executor.shard.Name),
		slog.String("category", string(category)),
		slog.String("error", err.Error()),
	)
	return dberr.Wrap(err, "shard_query")
}

// countVariant wraps the statement as SELECT COUNT(*) FROM (...) t, with
// the top-level ORDER BY, LIMIT, and OFFSET clauses removed: they do not
// affect the count and ORDER BY would reject un-projected columns.
func countVariant(sql string) string {
	inner := stripTrailingClauses(sql)
	return "SELECT COUNT(*) FROM (" + inner + ") t"
}

func stripTrailingClauses(sql string) string {
	cut := len(sql)
	for _, clause := range []string{"ORDER BY", "LIMIT", "OFFSET"} {
		if at, _ := sqlscan.FindKeyword(sql, clause, 0); at >= 0 && at < cut {
			cut = at
		}
	}
	return strings.TrimSpace(sql[:cut])
}
