// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package analyzer

import (
	"regexp"
	"strings"

	"github.com/tramoapp/tramo/pkg/normalize"
)

// FieldType classifies one projected field of an analyzed query.
type FieldType string

const (
	FieldLocation       FieldType = "LOCATION"
	FieldTime           FieldType = "TIME"
	FieldCategorization FieldType = "CATEGORIZATION"
	FieldNumericSum     FieldType = "NUMERIC_SUM"
	FieldNumericCount   FieldType = "NUMERIC_COUNT"
	FieldIdentifier     FieldType = "IDENTIFIER"
	FieldDetail         FieldType = "DETAIL"
	FieldComputed       FieldType = "COMPUTED"
)

// IsNumeric reports whether the field carries an aggregatable measure.
func (t FieldType) IsNumeric() bool {
	return t == FieldNumericSum || t == FieldNumericCount
}

// knownFields maps exact (folded) column names of the infraction schema to
// their type. This is the first stage of the classification cascade and wins
// over every heuristic.
var knownFields = map[string]FieldType{
	"provincia": FieldLocation,
	"municipio": FieldLocation,
	"localidad": FieldLocation,
	"lugar":     FieldLocation,

	"fecha":      FieldTime,
	"mes":        FieldTime,
	"dia":        FieldTime,
	"anio":       FieldTime,
	"dia_semana": FieldTime,
	"month":      FieldTime,
	"year":       FieldTime,
	"day":        FieldTime,

	"tipo_infraccion": FieldCategorization,
	"estado":          FieldCategorization,

	"id":           FieldIdentifier,
	"serie_equipo": FieldIdentifier,

	"total":    FieldNumericSum,
	"monto":    FieldNumericSum,
	"cantidad": FieldNumericCount,
}

var (
	sumAggRegex   = regexp.MustCompile(`(?i)^\s*(SUM|AVG|MAX|MIN)\s*\(`)
	countAggRegex = regexp.MustCompile(`(?i)^\s*COUNT\s*\(`)
	caseExprRegex = regexp.MustCompile(`(?i)^\s*CASE\b`)
)

// classifyField resolves one select item to a FieldType.
//
// Cascade: exact name lookup, then aggregate-function match on the raw
// expression, then folded-name substring heuristics, else DETAIL. CASE
// expressions and unrecognized function calls classify as COMPUTED so the
// estimator treats them pessimistically.
func classifyField(field selectField) FieldType {
	folded := normalize.Fold(field.Name)

	if t, ok := knownFields[folded]; ok {
		return t
	}

	switch {
	case countAggRegex.MatchString(field.Expr):
		return FieldNumericCount
	case sumAggRegex.MatchString(field.Expr):
		return FieldNumericSum
	case caseExprRegex.MatchString(field.Expr):
		return FieldComputed
	}

	switch {
	case strings.HasPrefix(folded, "fecha"):
		return FieldTime
	case containsAny(folded, "provincia", "municipio", "localidad", "lugar"):
		return FieldLocation
	case containsAny(folded, "tipo", "estado", "categoria"):
		return FieldCategorization
	case containsAny(folded, "total", "sum", "count", "cantidad", "monto"):
		return FieldNumericSum
	case strings.HasSuffix(folded, "_id") || containsAny(folded, "codigo", "serie"):
		return FieldIdentifier
	case !isPlainColumn(field.Expr):
		return FieldComputed
	}
	return FieldDetail
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
