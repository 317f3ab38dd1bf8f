// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package rewriter

import (
	"regexp"
	"strings"
)

// filterKind identifies one of the five recognized hardcoded-filter families.
type filterKind int

const (
	kindDate filterKind = iota
	kindStates
	kindTypes
	kindExported
	kindLocation
)

// detected records which filter kinds were found hardcoded in the WHERE
// clause, and the column reference each used, so the parameterized variant
// targets the same column.
type detected struct {
	kinds   map[filterKind]bool
	columns map[filterKind]string
}

// literalValue matches only literal right-hand sides (quoted strings,
// numbers, date functions). Bind parameters (:startDate) deliberately do not
// match, which keeps stripping idempotent on already-rewritten text.
const literalValue = `('[^']*'|\d[\w:.-]*|CURRENT_DATE(\s*[-+]\s*\d+)?|NOW\s*\(\s*\))`

var (
	dateBetweenRegex = regexp.MustCompile(
		`(?i)([\w.]*(?:fecha|date)[\w]*)\s+BETWEEN\s+` + literalValue + `\s+AND\s+` + literalValue)
	dateCompareRegex = regexp.MustCompile(
		`(?i)([\w.]*(?:fecha|date)[\w]*)\s*(>=|<=|<>|!=|=|>|<)\s*` + literalValue)
	statesInRegex = regexp.MustCompile(
		`(?i)([\w.]*(?:id_estado|estado|state))\s+IN\s*\(\s*[^:)][^)]*\)`)
	typesInRegex = regexp.MustCompile(
		`(?i)([\w.]*(?:id_tipo_infra[\w]*|id_tipo|tipo_infraccion))\s+IN\s*\(\s*[^:)][^)]*\)`)
	exportedRegex = regexp.MustCompile(
		`(?i)([\w.]*exporta_sacit)\s*=\s*(true|false)`)
	locationRegex = regexp.MustCompile(
		`(?i)([\w.]*(?:provincia|municipio|localidad|lugar))\s*(?:=\s*'[^']*'|IN\s*\(\s*[^:)][^)]*\))`)
)

// stripHardcodedFilters removes hardcoded predicates of the five recognized
// kinds from the WHERE clause and reports what it removed.
func stripHardcodedFilters(sql string) (string, detected) {
	d := detected{
		kinds:   make(map[filterKind]bool),
		columns: make(map[filterKind]string),
	}

	strip := func(kind filterKind, re *regexp.Regexp) {
		sql = re.ReplaceAllStringFunc(sql, func(match string) string {
			d.kinds[kind] = true
			if _, seen := d.columns[kind]; !seen {
				if m := re.FindStringSubmatch(match); len(m) > 1 {
					d.columns[kind] = m[1]
				}
			}
			return strippedMark
		})
	}

	strip(kindDate, dateBetweenRegex)
	strip(kindDate, dateCompareRegex)
	strip(kindStates, statesInRegex)
	strip(kindTypes, typesInRegex)
	strip(kindExported, exportedRegex)
	strip(kindLocation, locationRegex)

	return cleanupWhere(sql), d
}

// strippedMark stands in for a removed predicate until cleanup collapses
// the surrounding conjunction.
const strippedMark = " ___STRIPPED___ "

var (
	markAndRegex   = regexp.MustCompile(`(?i)___STRIPPED___\s+AND\s+`)
	andMarkRegex   = regexp.MustCompile(`(?i)\s+AND\s+___STRIPPED___`)
	whereMarkRegex = regexp.MustCompile(`(?i)\bWHERE\s+___STRIPPED___\s*(GROUP BY|HAVING|ORDER BY|LIMIT|OFFSET|$)`)
	whereAndRegex  = regexp.MustCompile(`(?i)\bWHERE\s+AND\b`)
	andAndRegex    = regexp.MustCompile(`(?i)\bAND\s+AND\b`)
)

// cleanupWhere collapses the residue left by stripped predicates. Each pass
// is narrow, so the fixed point is reached within three rounds.
func cleanupWhere(sql string) string {
	for i := 0; i < 3; i++ {
		prev := sql
		sql = markAndRegex.ReplaceAllString(sql, "")
		sql = andMarkRegex.ReplaceAllString(sql, "")
		sql = whereMarkRegex.ReplaceAllString(sql, "$1")
		sql = whereAndRegex.ReplaceAllString(sql, "WHERE")
		sql = andAndRegex.ReplaceAllString(sql, "AND")
		sql = collapseWhitespace(sql)
		if sql == prev {
			break
		}
	}
	// A mark that survived (e.g. alone inside parens) degrades to TRUE so
	// the statement stays well-formed.
	return strings.ReplaceAll(sql, "___STRIPPED___", "TRUE")
}

// injectFilters appends the null-passthrough parameterized predicate for
// every kind that was either stripped from the text or present in the
// request shape. A kind whose parameter already appears in the text is
// skipped, keeping Rewrite idempotent.
func injectFilters(sql string, shape Shape, d detected) string {
	dateColumn := d.columns[kindDate]
	if dateColumn == "" {
		dateColumn = "fecha"
	}
	statesColumn := d.columns[kindStates]
	if statesColumn == "" {
		statesColumn = "id_estado"
	}
	typesColumn := d.columns[kindTypes]
	if typesColumn == "" {
		typesColumn = "id_tipo_infra"
	}
	exportedColumn := d.columns[kindExported]
	if exportedColumn == "" {
		exportedColumn = "exporta_sacit"
	}

	type injection struct {
		wanted    bool
		param     string
		predicate string
	}

	injections := []injection{
		{
			wanted:    shape.SpecificDate,
			param:     ":specificDate",
			predicate: "(:specificDate IS NULL OR DATE(" + dateColumn + ") = :specificDate)",
		},
		{
			wanted: shape.DateRange || (d.kinds[kindDate] && !shape.SpecificDate),
			param:  ":startDate",
			predicate: "(:startDate IS NULL OR " + dateColumn + " >= :startDate)" +
				" AND (:endDate IS NULL OR " + dateColumn + " <= :endDate)",
		},
		{
			wanted:    shape.States || d.kinds[kindStates],
			param:     ":infractionStates",
			predicate: "(:infractionStates IS NULL OR " + statesColumn + " = ANY(:infractionStates))",
		},
		{
			wanted:    shape.Types || d.kinds[kindTypes],
			param:     ":infractionTypes",
			predicate: "(:infractionTypes IS NULL OR " + typesColumn + " = ANY(:infractionTypes))",
		},
		{
			wanted:    shape.Exported || d.kinds[kindExported],
			param:     ":exportedToExternal",
			predicate: "(:exportedToExternal IS NULL OR " + exportedColumn + " = :exportedToExternal)",
		},
	}

	for _, location := range locationInjections(shape, d) {
		injections = append(injections, injection{wanted: true, param: location.param, predicate: location.predicate})
	}

	for _, inj := range injections {
		if !inj.wanted || strings.Contains(sql, inj.param) {
			continue
		}
		sql = insertPredicate(sql, inj.predicate)
	}
	return sql
}

type locationInjection struct {
	param     string
	predicate string
}

// locationInjections builds one predicate per requested location axis. The
// column stripped from the original text (if any) wins for its own axis.
func locationInjections(shape Shape, d detected) []locationInjection {
	axes := []struct {
		wanted bool
		param  string
		column string
	}{
		{shape.Provinces, ":provinces", "provincia"},
		{shape.Municipios, ":municipalities", "municipio"},
		{shape.Districts, ":districts", "localidad"},
		{shape.Places, ":places", "lugar"},
	}

	stripped := strings.ToLower(d.columns[kindLocation])

	out := make([]locationInjection, 0, len(axes))
	anyWanted := false
	for _, axis := range axes {
		if !axis.wanted {
			continue
		}
		anyWanted = true
		column := axis.column
		if strings.Contains(stripped, axis.column) {
			column = d.columns[kindLocation]
		}
		out = append(out, locationInjection{
			param:     axis.param,
			predicate: "(" + axis.param + " IS NULL OR " + column + " = ANY(" + axis.param + "))",
		})
	}

	// A stripped location filter with no matching request axis still comes
	// back as a province predicate, so the hardcoded scope never silently
	// widens.
	if d.kinds[kindLocation] && !anyWanted {
		out = append(out, locationInjection{
			param:     ":provinces",
			predicate: "(:provinces IS NULL OR " + d.columns[kindLocation] + " = ANY(:provinces))",
		})
	}
	return out
}
