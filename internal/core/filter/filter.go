// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

/*
Package filter defines the immutable request parameters accepted by every
report execution: date ranges, location scope, equipment and infraction
filters, pagination cursors, and consolidation flags.

Architecture:

  - Value semantics: a Filter is built once per request and never mutated.
  - Validation: invariants are enforced through the platform validator before
    any SQL is rewritten or executed.
  - Transport-agnostic: the HTTP layer parses into a Filter; the engine layers
    below never see an *http.Request.
*/
package filter

import (
	"time"

	"github.com/tramoapp/tramo/internal/platform/constants"
	"github.com/tramoapp/tramo/internal/platform/validate"
)

// Filter holds every dynamic parameter of a report request.
//
// All fields are optional unless documented otherwise; zero values mean
// "not filtered". Temporal fields are mutually exclusive between the
// specific-date form and the range form.
type Filter struct {

	// Temporal scope.
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	SpecificDate *time.Time `json:"specificDate,omitempty"`

	// Location scope. Provinces double as shard selectors.
	Provinces      []string `json:"provinces,omitempty"`
	Municipalities []string `json:"municipalities,omitempty"`
	Places         []string `json:"places,omitempty"`
	Districts      []string `json:"districts,omitempty"`

	// Equipment filters.
	DeviceTypeIDs         []int    `json:"deviceTypeIds,omitempty"`
	EquipmentPatterns     []string `json:"equipmentPatterns,omitempty"`
	ExactEquipmentSerials []string `json:"exactEquipmentSerials,omitempty"`
	IncludeRedLight       bool     `json:"includeRedLight,omitempty"`
	IncludeSpeedRadar     bool     `json:"includeSpeedRadar,omitempty"`
	FilterByEquipmentType bool     `json:"filterByEquipmentType,omitempty"`

	// Infraction filters. ExportedToExternal is tri-state: nil = no filter.
	InfractionTypeIDs  []int `json:"infractionTypeIds,omitempty"`
	InfractionStateIDs []int `json:"infractionStateIds,omitempty"`
	ExportedToExternal *bool `json:"exportedToExternal,omitempty"`

	// Output control. Zero means "not set".
	Limit        int  `json:"limit,omitempty"`
	PageSize     int  `json:"pageSize,omitempty"`
	Page         int  `json:"page,omitempty"`
	Offset       int  `json:"offset,omitempty"`
	UseAllShards bool `json:"useAllShards,omitempty"`

	// Consolidation.
	Consolidate   bool     `json:"consolidate,omitempty"`
	GroupByFields []string `json:"groupByFields,omitempty"`

	// Keyset cursor from the previous page. LastCompositeKey carries up to
	// three column values for composite and consolidation keysets.
	LastID           *int64            `json:"lastId,omitempty"`
	LastSerial       *string           `json:"lastSerial,omitempty"`
	LastLocation     *string           `json:"lastLocation,omitempty"`
	LastCompositeKey map[string]string `json:"lastCompositeKey,omitempty"`
}

// MaxCompositeKeyValues bounds the keyset cursor width.
const MaxCompositeKeyValues = 3

// HasDateRange reports whether either bound of the range form is set.
func (f Filter) HasDateRange() bool {
	return f.StartDate != nil || f.EndDate != nil
}

// HasCursor reports whether any keyset cursor value is present.
func (f Filter) HasCursor() bool {
	return f.LastID != nil || f.LastSerial != nil || f.LastLocation != nil || len(f.LastCompositeKey) > 0
}

// ForcesPagination reports whether the caller demanded paged delivery,
// which disables the single-shot aggregation fast path.
func (f Filter) ForcesPagination() bool {
	return f.Page > 0 || f.PageSize > 0 || f.Offset > 0 || f.HasCursor()
}

// EffectiveLimit returns the row limit to bind, falling back to def when unset.
func (f Filter) EffectiveLimit(def int) int {
	if f.Limit > 0 {
		return f.Limit
	}
	return def
}

// Validate enforces the Filter invariants.
//
// # Invariants
//
//   - specificDate is mutually exclusive with the startDate/endDate range.
//   - endDate must not precede startDate.
//   - limit, when set, lies in [1, 50000].
//   - page ≥ 1 and pageSize ≥ 1 when set.
//   - the composite cursor carries at most three values.
func (f Filter) Validate() error {
	v := &validate.Validator{}

	v.MutuallyExclusive("specificDate",
		f.SpecificDate != nil, f.HasDateRange(),
		"specificDate mutually exclusive with range")

	v.DateOrder("endDate", f.StartDate, f.EndDate)

	if f.Limit != 0 {
		v.Range("limit", f.Limit, 1, constants.MaxFilterLimit)
	}
	if f.Page != 0 {
		v.Custom("page", f.Page < 1, "Must be at least 1")
	}
	if f.PageSize != 0 {
		v.Custom("pageSize", f.PageSize < 1, "Must be at least 1")
	}
	v.Custom("offset", f.Offset < 0, "Must not be negative")

	v.Custom("lastCompositeKey",
		len(f.LastCompositeKey) > MaxCompositeKeyValues,
		"At most 3 cursor values are supported")

	return v.Err()
}
