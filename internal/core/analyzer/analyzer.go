// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

/*
Package analyzer inspects catalog SQL text and produces the consolidation
verdict and pagination strategy the execution engine runs on.

# Architecture

The analyzer is deliberately not a SQL parser. It resolves only the
outermost SELECT list and GROUP BY clause, classifies each projected field
into a closed type set, and estimates the post-aggregation row count from a
cardinality oracle. Anything it cannot read yields an empty verdict rather
than an error: an unanalyzable query still executes, it just runs without
consolidation.
*/
package analyzer

import (
	"fmt"
	"strings"

	"github.com/tramoapp/tramo/internal/core/catalog"
)

// Thresholds hold the row-estimate boundaries that pick a consolidation
// type. Values come from configuration; these are only the shipped defaults.
type Thresholds struct {
	// Aggregation is the estimate below which results fit in one in-memory map.
	Aggregation int64
	// HighVolume is the estimate at or above which only the streaming fold is safe.
	HighVolume int64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Aggregation: 50_000, HighVolume: 100_000}
}

// Verdict is the analyzer's full output for one SQL text.
type Verdict struct {
	Consolidable       bool                      `json:"consolidable"`
	GroupingFields     []string                  `json:"grouping_fields"`
	NumericFields      []string                  `json:"numeric_fields"`
	TimeFields         []string                  `json:"time_fields"`
	LocationFields     []string                  `json:"location_fields"`
	FieldTypes         map[string]FieldType      `json:"field_types"`
	ConsolidationType  catalog.ConsolidationType `json:"consolidation_type"`
	EstimatedRows      *int64                    `json:"estimated_rows"`
	Confidence         float64                   `json:"confidence"`
	Explanation        string                    `json:"explanation"`
}

// Analyzer classifies queries against a cardinality oracle.
type Analyzer struct {
	oracle     CardinalityOracle
	thresholds Thresholds
}

func New(oracle CardinalityOracle, thresholds Thresholds) *Analyzer {
	if oracle == nil {
		oracle = StaticOracle{}
	}
	return &Analyzer{oracle: oracle, thresholds: thresholds}
}

// Analyze produces a Verdict for one SQL text. It never fails: any parse
// problem returns the empty (non-consolidable) verdict with an explanation.
func (analyzer *Analyzer) Analyze(sql string) Verdict {
	parsed, ok := parseQuery(sql)
	if !ok {
		return Verdict{
			ConsolidationType: catalog.ConsolidationRaw,
			FieldTypes:        map[string]FieldType{},
			Explanation:       "no top-level SELECT list found; query left unanalyzed",
		}
	}

	verdict := Verdict{
		FieldTypes: make(map[string]FieldType, len(parsed.Fields)),
	}

	for _, field := range parsed.Fields {
		t := classifyField(field)
		verdict.FieldTypes[field.Name] = t

		switch {
		case t.IsNumeric():
			verdict.NumericFields = append(verdict.NumericFields, field.Name)
		case t == FieldTime:
			verdict.TimeFields = append(verdict.TimeFields, field.Name)
		case t == FieldLocation:
			verdict.LocationFields = append(verdict.LocationFields, field.Name)
		}
	}

	verdict.GroupingFields = append(verdict.GroupingFields, parsed.GroupBy...)

	if !parsed.HasGroupBy {
		verdict.ConsolidationType = catalog.ConsolidationRaw
		verdict.Explanation = "no GROUP BY clause; rows pass through unconsolidated"
		return verdict
	}

	estimate, confidence, detail := analyzer.estimateRows(parsed.GroupBy, verdict.FieldTypes)
	verdict.EstimatedRows = &estimate
	verdict.Confidence = confidence

	switch {
	case estimate < analyzer.thresholds.Aggregation:
		verdict.ConsolidationType = catalog.ConsolidationAggregation
	case estimate < analyzer.thresholds.HighVolume:
		verdict.ConsolidationType = catalog.ConsolidationAggregationStreaming
	default:
		verdict.ConsolidationType = catalog.ConsolidationAggregationHighVolume
	}

	verdict.Consolidable = len(verdict.NumericFields) > 0 && len(verdict.GroupingFields) > 0

	if verdict.Consolidable && len(verdict.LocationFields) == 0 {
		// Shard merges need a location axis; the shard name supplies one.
		verdict.GroupingFields = append(verdict.GroupingFields, "provincia")
		detail += "; provincia injected as implicit grouping"
	}

	verdict.Explanation = fmt.Sprintf("estimated %d groups (%s)", estimate, detail)
	return verdict
}

// estimateRows multiplies per-column cardinalities for the grouping set.
// Confidence is the fraction of columns the oracle actually knew.
func (analyzer *Analyzer) estimateRows(groupBy []string, fieldTypes map[string]FieldType) (int64, float64, string) {
	estimate := int64(1)
	known := 0
	parts := make([]string, 0, len(groupBy))

	for _, column := range groupBy {
		n, ok := analyzer.oracle.Cardinality(column)
		if ok {
			known++
		} else {
			t, classified := fieldTypes[column]
			if !classified {
				t = classifyField(selectField{Expr: column, Name: column})
			}
			n = defaultCardinality(t)
		}
		estimate *= n
		parts = append(parts, fmt.Sprintf("%s:%d", column, n))
	}

	confidence := 0.0
	if len(groupBy) > 0 {
		confidence = float64(known) / float64(len(groupBy))
	}
	return estimate, confidence, strings.Join(parts, " * ")
}
