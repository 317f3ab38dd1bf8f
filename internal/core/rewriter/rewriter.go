// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

/*
Package rewriter turns catalog SQL into the parameterized, paginated form
the shard executor runs.

# Architecture

Rewrite is a pure function over the SQL text. The pipeline is fixed:

 1. normalize (comments, whitespace, trailing semicolon)
 2. protect opaque subexpressions (EXISTS, scalar subselects, CASE)
 3. prepare the projection for keyset pagination
 4. detect and strip hardcoded filters of the five recognized kinds
 5. restore protected subexpressions
 6. re-inject the stripped kinds as null-passthrough parameterized predicates
 7. append the pagination clause for the chosen strategy

Anything the rewriter does not recognize travels through the protection pass
verbatim. The output is idempotent: rewriting an already-rewritten text is a
no-op modulo whitespace.

All parameters use the :name form; translation to positional placeholders
happens in the shard executor.
*/
package rewriter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tramoapp/tramo/internal/core/analyzer"
	"github.com/tramoapp/tramo/internal/core/catalog"
	"github.com/tramoapp/tramo/internal/core/filter"
	"github.com/tramoapp/tramo/internal/core/sqlscan"
)

// Shape describes which filter families a request carries, so the rewriter
// knows which parameterized predicates to inject.
type Shape struct {
	DateRange    bool
	SpecificDate bool
	States       bool
	Types        bool
	Exported     bool
	Provinces    bool
	Municipios   bool
	Places       bool
	Districts    bool
}

// ShapeOf derives the filter shape from a validated request filter.
func ShapeOf(f filter.Filter) Shape {
	return Shape{
		DateRange:    f.StartDate != nil || f.EndDate != nil,
		SpecificDate: f.SpecificDate != nil,
		States:       len(f.InfractionStateIDs) > 0,
		Types:        len(f.InfractionTypeIDs) > 0,
		Exported:     f.ExportedToExternal != nil,
		Provinces:    len(f.Provinces) > 0,
		Municipios:   len(f.Municipalities) > 0,
		Places:       len(f.Places) > 0,
		Districts:    len(f.Districts) > 0,
	}
}

// Rewrite produces the executable form of a catalog SQL text.
func Rewrite(sql string, strategy analyzer.Strategy, shape Shape) string {
	out := normalize(sql)

	protected := protect(out)
	out = protected.text

	out = prepareProjection(out, strategy)

	out, detected := stripHardcodedFilters(out)

	out = protected.restore(out)

	out = injectFilters(out, shape, detected)

	out = appendPagination(out, strategy)

	return collapseWhitespace(out)
}

var (
	lineCommentRegex  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRegex = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespaceRegex   = regexp.MustCompile(`\s+`)
)

// normalize strips comments, collapses whitespace, and drops a trailing
// semicolon.
func normalize(sql string) string {
	sql = blockCommentRegex.ReplaceAllString(sql, " ")
	sql = lineCommentRegex.ReplaceAllString(sql, " ")
	sql = collapseWhitespace(sql)
	sql = strings.TrimSuffix(sql, ";")
	return strings.TrimSpace(sql)
}

func collapseWhitespace(sql string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(sql, " "))
}

// clauseStart returns the byte offset where the trailing clauses begin
// (GROUP BY, HAVING, ORDER BY, LIMIT, OFFSET), or len(sql).
func clauseStart(sql string, clauses ...string) int {
	start := len(sql)
	for _, clause := range clauses {
		if at, _ := sqlscan.FindKeyword(sql, clause, 0); at >= 0 && at < start {
			start = at
		}
	}
	return start
}

// insertPredicate ANDs a predicate into the WHERE clause, creating one when
// the statement has none. The predicate lands before any trailing clause.
func insertPredicate(sql, predicate string) string {
	at := clauseStart(sql, "GROUP BY", "HAVING", "ORDER BY", "LIMIT", "OFFSET")
	head, tail := strings.TrimSpace(sql[:at]), sql[at:]

	if whereAt, _ := sqlscan.FindKeyword(head, "WHERE", 0); whereAt >= 0 {
		return head + " AND " + predicate + " " + tail
	}
	return head + " WHERE " + predicate + " " + tail
}

// hasTopLevelLimit reports whether the statement already carries a LIMIT.
func hasTopLevelLimit(sql string) bool {
	at, _ := sqlscan.FindKeyword(sql, "LIMIT", 0)
	return at >= 0
}

// prepareProjection readies the SELECT list for keyset paging: when the
// strategy needs the primary id and the projection lacks it, the id is
// injected as the first projected column and positional GROUP BY references
// shift by one.
func prepareProjection(sql string, strategy analyzer.Strategy) string {
	if strategy.Kind != catalog.PaginationKeysetWithID || len(strategy.KeyColumns) == 0 {
		return sql
	}

	idRef := strategy.KeyColumns[0].Name
	selStart, selEnd := sqlscan.FindKeyword(sql, "SELECT", 0)
	fromStart, _ := sqlscan.FindKeyword(sql, "FROM", selEnd)
	if selStart < 0 || fromStart < 0 {
		return sql
	}

	list := sql[selEnd:fromStart]
	if projectionContains(list, idRef) {
		return sql
	}

	sql = sql[:selEnd] + idRef + ", " + strings.TrimSpace(list) + " " + sql[fromStart:]
	return shiftPositionalGroupBy(sql, list)
}

// projectionContains reports whether the select list already projects the
// column (by full reference or bare name).
func projectionContains(list, column string) bool {
	bare := column
	if dot := strings.LastIndexByte(bare, '.'); dot >= 0 {
		bare = bare[dot+1:]
	}
	for _, item := range sqlscan.SplitTopLevel(list) {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == strings.ToLower(column) || item == strings.ToLower(bare) ||
			strings.HasSuffix(item, "."+strings.ToLower(bare)) {
			return true
		}
	}
	return false
}

var positionalRefRegex = regexp.MustCompile(`^\d+$`)

// shiftPositionalGroupBy rebases "GROUP BY 1, 2" style references after a
// column was prepended to the projection, dropping positions that point at
// aggregate expressions.
func shiftPositionalGroupBy(sql, originalList string) string {
	gbAt, gbEnd := sqlscan.FindKeyword(sql, "GROUP BY", 0)
	if gbAt < 0 {
		return sql
	}
	stop := gbEnd + clauseStart(sql[gbEnd:], "HAVING", "ORDER BY", "LIMIT", "OFFSET")

	fields := sqlscan.SplitTopLevel(originalList)
	items := sqlscan.SplitTopLevel(sql[gbEnd:stop])
	rebased := make([]string, 0, len(items))

	for _, item := range items {
		if !positionalRefRegex.MatchString(strings.TrimSpace(item)) {
			rebased = append(rebased, item)
			continue
		}
		n, _ := strconv.Atoi(strings.TrimSpace(item))
		if n >= 1 && n <= len(fields) && isAggregateExpr(fields[n-1]) {
			continue
		}
		rebased = append(rebased, strconv.Itoa(n+1))
	}

	return sql[:gbEnd] + strings.Join(rebased, ", ") + " " + strings.TrimSpace(sql[stop:])
}

var aggregateExprRegex = regexp.MustCompile(`(?i)^\s*(SUM|COUNT|AVG|MAX|MIN)\s*\(`)

func isAggregateExpr(expr string) bool {
	return aggregateExprRegex.MatchString(expr)
}
