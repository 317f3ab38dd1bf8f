// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

/*
Package catalog manages the SQL template registry.

Every report the platform can produce starts from a catalog entry: the SQL
text plus declared metadata (consolidability, pagination strategy,
consolidation type, estimated rows). Entries are versioned by a monotonic
counter and soft-deleted only, so historical task runs stay explainable.
*/
package catalog

import "time"

// ConsolidationType declares how per-shard results merge into one logical set.
type ConsolidationType string

const (
	// ConsolidationAggregation folds rows into an in-memory grouped map.
	ConsolidationAggregation ConsolidationType = "AGGREGATION"
	// ConsolidationAggregationStreaming folds incrementally at flush points.
	ConsolidationAggregationStreaming ConsolidationType = "AGGREGATION_STREAMING"
	// ConsolidationAggregationHighVolume is the streaming fold for estimates ≥ the high-volume threshold.
	ConsolidationAggregationHighVolume ConsolidationType = "AGGREGATION_HIGH_VOLUME"
	// ConsolidationRaw passes rows through untouched.
	ConsolidationRaw ConsolidationType = "RAW"
	// ConsolidationDeduplication drops cross-shard duplicates by row identity.
	ConsolidationDeduplication ConsolidationType = "DEDUPLICATION"
	// ConsolidationHierarchical nests aggregates by the grouping prefix.
	ConsolidationHierarchical ConsolidationType = "HIERARCHICAL"
	// ConsolidationCombined mixes aggregation with raw detail sections.
	ConsolidationCombined ConsolidationType = "COMBINED"
	// ConsolidationUnset marks templates that have not been analyzed yet.
	ConsolidationUnset ConsolidationType = ""
)

// IsStreaming reports whether rows must be folded incrementally rather than
// materialized per shard.
func (t ConsolidationType) IsStreaming() bool {
	return t == ConsolidationAggregationStreaming || t == ConsolidationAggregationHighVolume
}

// PaginationStrategy declares how the rewriter pages a template's result set.
type PaginationStrategy string

const (
	// PaginationKeysetWithID pages on the primary integer id plus tiebreakers.
	PaginationKeysetWithID PaginationStrategy = "KEYSET_WITH_ID"
	// PaginationCompositeKeyset pages on up to four ordered non-id columns.
	PaginationCompositeKeyset PaginationStrategy = "COMPOSITE_KEYSET"
	// PaginationConsolidationKeyset pages on the GROUP BY columns.
	PaginationConsolidationKeyset PaginationStrategy = "CONSOLIDATION_KEYSET"
	// PaginationOffset pages with LIMIT/OFFSET.
	PaginationOffset PaginationStrategy = "OFFSET"
	// PaginationLimitOnly caps a single-shot bounded read.
	PaginationLimitOnly PaginationStrategy = "LIMIT_ONLY"
	// PaginationNone leaves intrinsically bounded queries unpaged.
	PaginationNone PaginationStrategy = "NONE"
)

// Template is one catalog entry.
type Template struct {
	ID                 int64              `json:"id"`
	Code               string             `json:"code"`
	Name               string             `json:"name"`
	SQLText            string             `json:"sql_text"`
	Category           string             `json:"category"`
	Consolidable       bool               `json:"consolidable"`
	ConsolidationType  ConsolidationType  `json:"consolidation_type"`
	PaginationStrategy PaginationStrategy `json:"pagination_strategy"`
	EstimatedRows      *int64             `json:"estimated_rows"`
	GroupingFields     []string           `json:"grouping_fields"`
	NumericFields      []string           `json:"numeric_fields"`
	Version            int                `json:"version"`
	UsageCount         int64              `json:"usage_count"`
	AnalyzedAt         *time.Time         `json:"analyzed_at"`
	CreatedAt          time.Time          `json:"-"`
	UpdatedAt          time.Time          `json:"-"`
	DeletedAt          *time.Time         `json:"-"`
}

// Analyzed reports whether the template's metadata was produced by the analyzer.
func (t *Template) Analyzed() bool {
	return t.AnalyzedAt != nil
}

// Analysis is the analyzer-produced metadata a template stores.
//
// The catalog package does not import the analyzer; callers adapt the
// analyzer verdict into this shape (see internal/core/report).
type Analysis struct {
	Consolidable       bool
	ConsolidationType  ConsolidationType
	PaginationStrategy PaginationStrategy
	EstimatedRows      *int64
	GroupingFields     []string
	NumericFields      []string
}
