// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package rewriter

import (
	"github.com/tramoapp/tramo/internal/core/analyzer"
	"github.com/tramoapp/tramo/internal/core/filter"
)

// Bind-parameter names. These are a wire contract with the SQL the rewriter
// emits; the shard executor resolves them positionally at execution time.
const (
	ParamLimit        = "limit"
	ParamOffset       = "offset"
	ParamLastID       = "lastId"
	ParamLastSerial   = "lastSerial"
	ParamLastLocation = "lastLocation"
	ParamKeysetCol0   = "keyset_col_0"
	ParamKeysetCol1   = "keyset_col_1"
	ParamKeysetCol2   = "keyset_col_2"

	ParamStartDate      = "startDate"
	ParamEndDate        = "endDate"
	ParamSpecificDate   = "specificDate"
	ParamStates         = "infractionStates"
	ParamTypes          = "infractionTypes"
	ParamExported       = "exportedToExternal"
	ParamProvinces      = "provinces"
	ParamMunicipalities = "municipalities"
	ParamDistricts      = "districts"
	ParamPlaces         = "places"
)

// Bind builds the named-parameter bag for one execution of a rewritten
// query. Absent filter fields bind as nil, which the null-passthrough
// predicates turn into no-ops.
func Bind(f filter.Filter, strategy analyzer.Strategy, limit int) map[string]any {
	params := map[string]any{
		ParamLimit:  limit,
		ParamOffset: f.Offset,

		ParamStartDate:    nilable(f.StartDate),
		ParamEndDate:      nilable(f.EndDate),
		ParamSpecificDate: nilable(f.SpecificDate),

		ParamStates:   nilableSlice(f.InfractionStateIDs),
		ParamTypes:    nilableSlice(f.InfractionTypeIDs),
		ParamExported: nilable(f.ExportedToExternal),

		ParamProvinces:      nilableSlice(f.Provinces),
		ParamMunicipalities: nilableSlice(f.Municipalities),
		ParamDistricts:      nilableSlice(f.Districts),
		ParamPlaces:         nilableSlice(f.Places),

		ParamLastID:       nilable(f.LastID),
		ParamLastSerial:   nilable(f.LastSerial),
		ParamLastLocation: nilable(f.LastLocation),
	}

	bindCompositeKey(params, f, strategy)
	return params
}

// bindCompositeKey maps the request's composite cursor values onto the
// keyset_col_N parameters in strategy column order.
func bindCompositeKey(params map[string]any, f filter.Filter, strategy analyzer.Strategy) {
	keysetParams := []string{ParamKeysetCol0, ParamKeysetCol1, ParamKeysetCol2}
	for _, name := range keysetParams {
		params[name] = nil
	}

	if len(f.LastCompositeKey) == 0 {
		return
	}

	i := 0
	for _, column := range strategy.KeyColumns {
		if i >= len(keysetParams) || column.ParamName == "" {
			continue
		}
		if value, ok := f.LastCompositeKey[bareColumn(column.Name)]; ok {
			params[keysetParams[i]] = value
		}
		i++
	}
}

// bareColumn strips a table qualifier from a column reference.
func bareColumn(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}

// nilable converts a typed nil pointer into an untyped nil so drivers bind
// SQL NULL, and dereferences present values.
func nilable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// nilableSlice binds empty slices as NULL rather than as empty arrays.
func nilableSlice[S ~[]E, E any](s S) any {
	if len(s) == 0 {
		return nil
	}
	return s
}
