// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package rewriter

import (
	"strings"

	"github.com/tramoapp/tramo/internal/core/analyzer"
	"github.com/tramoapp/tramo/internal/core/catalog"
	"github.com/tramoapp/tramo/internal/core/sqlscan"
)

// appendPagination adds the cursor predicate, ORDER BY, and LIMIT that the
// chosen strategy requires. The function is idempotent: a text that already
// carries the cursor parameter or a LIMIT is left alone.
func appendPagination(sql string, strategy analyzer.Strategy) string {
	switch strategy.Kind {
	case catalog.PaginationKeysetWithID, catalog.PaginationCompositeKeyset,
		catalog.PaginationConsolidationKeyset:
		sql = appendKeyset(sql, strategy)
	case catalog.PaginationOffset:
		sql = appendLimit(sql)
		sql = appendOffset(sql)
	case catalog.PaginationLimitOnly, catalog.PaginationNone:
		sql = appendLimit(sql)
	}
	return sql
}

// appendKeyset injects the cascading cursor predicate and the matching
// ORDER BY. The predicate always lands in the WHERE clause, which for
// consolidation keysets places it before GROUP BY as required.
func appendKeyset(sql string, strategy analyzer.Strategy) string {
	cursor := cursorColumns(strategy)
	if len(cursor) == 0 {
		return appendLimit(sql)
	}

	guard := ":" + cursor[0].ParamName
	if !strings.Contains(sql, guard) {
		distinct := hasDistinct(sql)
		predicate := "(" + guard + " IS NULL OR (" + keysetChain(cursor, distinct) + "))"
		sql = insertPredicate(sql, predicate)
	}

	sql = appendOrderBy(sql, strategy)
	return appendLimit(sql)
}

// cursorColumns filters the key columns down to the ones with a bound
// parameter; trailing order-only columns do not join the cursor predicate.
func cursorColumns(strategy analyzer.Strategy) []analyzer.KeyColumn {
	out := make([]analyzer.KeyColumn, 0, len(strategy.KeyColumns))
	for _, column := range strategy.KeyColumns {
		if column.ParamName != "" {
			out = append(out, column)
		}
	}
	return out
}

// keysetChain builds the cascading comparison:
//
//	a > :pa OR (a = :pa AND b > :pb) OR (a = :pa AND b = :pb AND c > :pc)
//
// Without DISTINCT, text comparisons are made NULL-safe with COALESCE. With
// DISTINCT the raw columns are compared because ORDER BY must match the
// SELECT list exactly.
func keysetChain(columns []analyzer.KeyColumn, distinct bool) string {
	terms := make([]string, 0, len(columns))

	for i := range columns {
		parts := make([]string, 0, i+1)
		for j := 0; j < i; j++ {
			parts = append(parts, comparison(columns[j], "=", distinct))
		}
		parts = append(parts, comparison(columns[i], ">", distinct))
		terms = append(terms, "("+strings.Join(parts, " AND ")+")")
	}
	return strings.Join(terms, " OR ")
}

func comparison(column analyzer.KeyColumn, op string, distinct bool) string {
	name, param := column.Name, ":"+column.ParamName
	if !distinct && column.SQLType == "text" {
		return "COALESCE(" + name + ", '') " + op + " COALESCE(" + param + ", '')"
	}
	return name + " " + op + " " + param
}

// appendOrderBy emits ORDER BY over the full key column set (ascending),
// unless the statement already orders.
func appendOrderBy(sql string, strategy analyzer.Strategy) string {
	if at, _ := sqlscan.FindKeyword(sql, "ORDER BY", 0); at >= 0 {
		return sql
	}

	columns := make([]string, 0, len(strategy.KeyColumns))
	for _, column := range strategy.KeyColumns {
		columns = append(columns, column.Name+" ASC")
	}
	if len(columns) == 0 {
		return sql
	}

	at := clauseStart(sql, "LIMIT", "OFFSET")
	return strings.TrimSpace(sql[:at]) + " ORDER BY " + strings.Join(columns, ", ") + " " + sql[at:]
}

func appendLimit(sql string) string {
	if hasTopLevelLimit(sql) {
		return sql
	}
	at := clauseStart(sql, "OFFSET")
	return strings.TrimSpace(sql[:at]) + " LIMIT :limit " + sql[at:]
}

func appendOffset(sql string) string {
	if at, _ := sqlscan.FindKeyword(sql, "OFFSET", 0); at >= 0 {
		return sql
	}
	return strings.TrimSpace(sql) + " OFFSET :offset"
}

func hasDistinct(sql string) bool {
	_, selEnd := sqlscan.FindKeyword(sql, "SELECT", 0)
	if selEnd < 0 {
		return false
	}
	rest := strings.TrimSpace(sql[selEnd:])
	return len(rest) >= 9 && strings.EqualFold(rest[:8], "DISTINCT")
}
