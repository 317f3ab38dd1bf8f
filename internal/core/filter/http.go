// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package filter

import (
	"net/http"

	"github.com/tramoapp/tramo/pkg/convert"
	"github.com/tramoapp/tramo/pkg/query"
)

// FromRequest parses the query-string form of a report filter.
//
// Collection parameters accept the comma-separated form
// ("?provinces=cordoba,santafe"). Malformed numeric entries are dropped
// silently; structural invariants are checked later by [Filter.Validate].
func FromRequest(r *http.Request) Filter {
	q := r.URL.Query()

	f := Filter{
		StartDate:    query.Date(q.Get("startDate")),
		EndDate:      query.Date(q.Get("endDate")),
		SpecificDate: query.Date(q.Get("specificDate")),

		Provinces:      query.StringSlice(q.Get("provinces")),
		Municipalities: query.StringSlice(q.Get("municipalities")),
		Places:         query.StringSlice(q.Get("places")),
		Districts:      query.StringSlice(q.Get("districts")),

		DeviceTypeIDs:         query.IntCSV(q.Get("deviceTypeIds")),
		EquipmentPatterns:     query.StringSlice(q.Get("equipmentPatterns")),
		ExactEquipmentSerials: query.StringSlice(q.Get("equipmentSerials")),
		IncludeRedLight:       convert.ToBool(q.Get("includeRedLight")),
		IncludeSpeedRadar:     convert.ToBool(q.Get("includeSpeedRadar")),
		FilterByEquipmentType: convert.ToBool(q.Get("filterByEquipmentType")),

		InfractionTypeIDs:  query.IntCSV(q.Get("infractionTypes")),
		InfractionStateIDs: query.IntCSV(q.Get("infractionStates")),
		ExportedToExternal: convert.ToBoolP(q.Get("exportedToExternal")),

		Limit:        convert.ToInt(q.Get("limit")),
		PageSize:     convert.ToInt(q.Get("pageSize")),
		Page:         convert.ToInt(q.Get("page")),
		Offset:       convert.ToInt(q.Get("offset")),
		UseAllShards: convert.ToBool(q.Get("useAllShards")),

		Consolidate:   convert.ToBool(q.Get("consolidate")),
		GroupByFields: query.StringSlice(q.Get("groupBy")),
	}

	if raw := q.Get("lastId"); raw != "" {
		id := convert.ToInt64(raw)
		f.LastID = &id
	}
	if raw := q.Get("lastSerial"); raw != "" {
		f.LastSerial = &raw
	}
	if raw := q.Get("lastLocation"); raw != "" {
		f.LastLocation = &raw
	}

	return f
}
