// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package analyzer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tramoapp/tramo/internal/core/sqlscan"
)

// selectField is one item of the top-level SELECT list.
type selectField struct {
	Expr string // raw expression text, alias removed
	Name string // resolved output name, lowercased
}

// parsedQuery is the shallow structural view the analyzer works from. It is
// deliberately not a full SQL parse: only the outermost SELECT list and
// GROUP BY clause are resolved.
type parsedQuery struct {
	Fields     []selectField
	Distinct   bool
	GroupBy    []string
	HasGroupBy bool
	HasLimit   bool
}

var funcCallRegex = regexp.MustCompile(`(?is)^([a-z_][a-z0-9_]*)\s*\((.*)\)$`)

// parseQuery extracts the shallow structure of a SELECT statement.
// The bool result is false when the text has no recognizable
// top-level SELECT ... FROM pair.
func parseQuery(sql string) (parsedQuery, bool) {
	var parsed parsedQuery

	selStart, selEnd := sqlscan.FindKeyword(sql, "SELECT", 0)
	if selStart < 0 {
		return parsed, false
	}
	fromStart, _ := sqlscan.FindKeyword(sql, "FROM", selEnd)
	if fromStart < 0 {
		return parsed, false
	}

	list := strings.TrimSpace(sql[selEnd:fromStart])
	if len(list) > 9 && strings.EqualFold(list[:9], "DISTINCT ") {
		parsed.Distinct = true
		list = strings.TrimSpace(list[9:])
	}
	if list == "" {
		return parsed, false
	}

	for _, item := range sqlscan.SplitTopLevel(list) {
		expr, alias := splitAlias(item)
		name := alias
		if name == "" {
			name = deriveName(expr)
		}
		parsed.Fields = append(parsed.Fields, selectField{
			Expr: expr,
			Name: strings.ToLower(name),
		})
	}

	if at, _ := sqlscan.FindKeyword(sql, "LIMIT", fromStart); at >= 0 {
		parsed.HasLimit = true
	}

	gbStart, gbEnd := sqlscan.FindKeyword(sql, "GROUP BY", fromStart)
	if gbStart < 0 {
		return parsed, true
	}
	parsed.HasGroupBy = true

	gbStop := len(sql)
	for _, stop := range []string{"HAVING", "ORDER BY", "LIMIT", "OFFSET"} {
		if at, _ := sqlscan.FindKeyword(sql, stop, gbEnd); at >= 0 && at < gbStop {
			gbStop = at
		}
	}

	for _, item := range sqlscan.SplitTopLevel(strings.TrimSpace(sql[gbEnd:gbStop])) {
		parsed.GroupBy = append(parsed.GroupBy, parsed.resolveGroupRef(item))
	}
	return parsed, true
}

// resolveGroupRef maps a GROUP BY entry to a field name, resolving numeric
// positional references ("GROUP BY 1, 3") against the SELECT list.
func (p parsedQuery) resolveGroupRef(item string) string {
	if n, err := strconv.Atoi(strings.TrimSpace(item)); err == nil {
		if n >= 1 && n <= len(p.Fields) {
			return p.Fields[n-1].Name
		}
		return strings.TrimSpace(item)
	}
	return strings.ToLower(deriveName(item))
}

// splitAlias removes an explicit "expr AS alias" suffix.
func splitAlias(item string) (expr, alias string) {
	item = strings.TrimSpace(item)
	if at, end := sqlscan.FindKeyword(item, "AS", 0); at > 0 {
		return strings.TrimSpace(item[:at]), strings.TrimSpace(stripQuotes(item[end:]))
	}
	return item, ""
}

// deriveName derives a field's output name from its expression: wrapping
// functions are unwrapped (DATE_TRUNC('month', x) names the truncation unit,
// EXTRACT(YEAR FROM x) names the extracted part, TO_CHAR and DATE name their
// argument) and table prefixes are stripped.
func deriveName(expr string) string {
	expr = strings.TrimSpace(expr)

	if m := funcCallRegex.FindStringSubmatch(expr); m != nil {
		fn := strings.ToUpper(m[1])
		args := sqlscan.SplitTopLevel(m[2])

		switch {
		case fn == "DATE_TRUNC" && len(args) >= 1:
			return stripQuotes(args[0])
		case fn == "EXTRACT" && len(args) >= 1:
			part, _, _ := strings.Cut(strings.TrimSpace(args[0]), " ")
			return strings.ToLower(part)
		case (fn == "TO_CHAR" || fn == "DATE" || fn == "COALESCE") && len(args) >= 1:
			return deriveName(args[0])
		default:
			return strings.ToLower(m[1])
		}
	}

	// Strip the table prefix: "i.fecha" names "fecha".
	if dot := strings.LastIndexByte(expr, '.'); dot >= 0 && !strings.ContainsAny(expr, "()") {
		expr = expr[dot+1:]
	}
	return stripQuotes(expr)
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return s
}

// isPlainColumn reports whether expr is a bare (optionally table-qualified)
// column reference with no function call or operator.
func isPlainColumn(expr string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if !sqlscan.IsIdentByte(c) && c != '.' && c != '"' {
			return false
		}
	}
	return true
}
