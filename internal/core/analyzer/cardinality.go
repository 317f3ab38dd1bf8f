// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package analyzer

import "github.com/tramoapp/tramo/pkg/normalize"

// CardinalityOracle answers how many distinct values a grouping column is
// expected to produce. Implementations may be backed by statistics tables;
// the default is the static domain table below.
type CardinalityOracle interface {
	// Cardinality returns the expected distinct-value count for a column,
	// and false when the column is unknown to the oracle.
	Cardinality(column string) (int64, bool)
}

// staticCardinalities holds the known distinct-value counts of the
// infraction schema's grouping columns. Argentina has 23 provinces plus the
// federal capital, hence 24.
var staticCardinalities = map[string]int64{
	"provincia":       24,
	"mes":             12,
	"month":           12,
	"dia":             31,
	"day":             31,
	"anio":            5,
	"year":            5,
	"dia_semana":      7,
	"tipo_infraccion": 50,
	"estado":          10,
	"serie_equipo":    100,
	"municipio":       500,
	"localidad":       2000,
	"lugar":           5000,
	"fecha":           365,
}

// StaticOracle is the default CardinalityOracle.
type StaticOracle struct{}

func (StaticOracle) Cardinality(column string) (int64, bool) {
	n, ok := staticCardinalities[normalize.Fold(column)]
	return n, ok
}

// defaultCardinality is the fallback estimate for a grouping column the
// oracle does not know, keyed on the column's classified type.
func defaultCardinality(t FieldType) int64 {
	switch t {
	case FieldLocation:
		return 500
	case FieldTime:
		return 365
	case FieldCategorization:
		return 20
	case FieldIdentifier:
		return 1000
	default:
		return 100
	}
}
