// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

/*
Package dberr provides a bridge between low-level database errors and
higher-level application errors.

Shard queries run catalog-authored SQL, so execution failures are an expected
operational event, not a programming bug. This package classifies the
PostgreSQL SQLSTATE into the engine's SQL error taxonomy (syntax, missing
column, missing table, timeout, permission, connection) so the API can return
a user-facing category while keeping the technical detail server-side.
*/
package dberr

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tramoapp/tramo/internal/platform/apperr"
)

var (
	// ErrNotFound is a standard error returned when a queried row doesn't exist.
	ErrNotFound = apperr.NotFound("Resource")
)

// Category identifies the user-facing class of a SQL execution failure.
type Category string

const (
	CategorySyntax        Category = "SYNTAX"
	CategoryMissingColumn Category = "MISSING_COLUMN"
	CategoryMissingTable  Category = "MISSING_TABLE"
	CategoryTimeout       Category = "TIMEOUT"
	CategoryPermission    Category = "PERMISSION"
	CategoryConnection    Category = "CONNECTION"
	CategoryUnknown       Category = "UNKNOWN"
)

// Classify maps a driver error onto the engine's SQL error taxonomy.
func Classify(err error) Category {
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SyntaxError, pgerrcode.SyntaxErrorOrAccessRuleViolation:
			return CategorySyntax
		case pgerrcode.UndefinedColumn:
			return CategoryMissingColumn
		case pgerrcode.UndefinedTable:
			return CategoryMissingTable
		case pgerrcode.QueryCanceled:
			return CategoryTimeout
		case pgerrcode.InsufficientPrivilege:
			return CategoryPermission
		}
		// Class 08 covers all connection exceptions.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return CategoryConnection
		}
		return CategoryUnknown
	}

	if pgconn.Timeout(err) {
		return CategoryTimeout
	}

	return CategoryUnknown
}

// Wrap inspects a database error and wraps it into a meaningful [apperr.AppError].
// It hides internal database details from the client while classifying the error type.
func Wrap(err error, action string) error {
	if err == nil {
		return nil
	}

	// 1. Not Found mapping
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	// 2. Unique violations become conflicts (catalog code collisions).
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return apperr.Conflict("Resource already exists")
	}

	// 3. Classified SQL failures keep their category visible to the caller.
	if category := Classify(err); category != CategoryUnknown {
		return apperr.SQLError(string(category), messageFor(category), err)
	}

	// 4. Anything else becomes an Internal Server Error.
	return apperr.Internal(err)
}

// messageFor returns the client-safe description of a SQL failure category.
func messageFor(category Category) string {
	switch category {
	case CategorySyntax:
		return "The query contains a SQL syntax error"
	case CategoryMissingColumn:
		return "The query references a column that does not exist"
	case CategoryMissingTable:
		return "The query references a table that does not exist"
	case CategoryTimeout:
		return "The query exceeded the execution time limit"
	case CategoryPermission:
		return "The query is not permitted on this shard"
	case CategoryConnection:
		return "The shard connection was lost"
	default:
		return "The query failed to execute"
	}
}
