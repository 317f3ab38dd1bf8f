// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package filter_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramoapp/tramo/internal/core/filter"
	"github.com/tramoapp/tramo/internal/platform/apperr"
	"github.com/tramoapp/tramo/pkg/pointer"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

/*
TestFilter_Validate covers the structural invariants of the request filter.
*/
func TestFilter_Validate(t *testing.T) {
	tests := []struct {
		name      string
		filter    filter.Filter
		wantField string
	}{
		{
			name:   "empty_filter_is_valid",
			filter: filter.Filter{},
		},
		{
			name: "range_only_is_valid",
			filter: filter.Filter{
				StartDate: date(2024, 1, 1),
				EndDate:   date(2024, 6, 1),
			},
		},
		{
			name:   "specific_date_only_is_valid",
			filter: filter.Filter{SpecificDate: date(2024, 6, 1)},
		},
		{
			name: "specific_date_with_range_fails",
			filter: filter.Filter{
				SpecificDate: date(2024, 6, 1),
				StartDate:    date(2024, 1, 1),
			},
			wantField: "specificDate",
		},
		{
			name: "reversed_range_fails",
			filter: filter.Filter{
				StartDate: date(2024, 6, 1),
				EndDate:   date(2024, 1, 1),
			},
			wantField: "endDate",
		},
		{
			name:      "limit_above_cap_fails",
			filter:    filter.Filter{Limit: 50_001},
			wantField: "limit",
		},
		{
			name:   "limit_at_cap_is_valid",
			filter: filter.Filter{Limit: 50_000},
		},
		{
			name:      "negative_page_fails",
			filter:    filter.Filter{Page: -1},
			wantField: "page",
		},
		{
			name: "oversized_composite_cursor_fails",
			filter: filter.Filter{
				LastCompositeKey: map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"},
			},
			wantField: "lastCompositeKey",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()

			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			ae := apperr.As(err)
			require.NotNil(t, ae)
			assert.Equal(t, "VALIDATION_ERROR", ae.Code)

			fields := make([]string, 0, len(ae.Details))
			for _, d := range ae.Details {
				fields = append(fields, d.Field)
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

/*
TestFilter_FromRequest checks query-string parsing of the full filter surface.
*/
func TestFilter_FromRequest(t *testing.T) {
	request := httptest.NewRequest("GET",
		"/reports/X/run?startDate=2024-01-01&endDate=2024-03-31"+
			"&provinces=cordoba,santafe&infractionStates=3,4"+
			"&exportedToExternal=false&limit=1000&consolidate=true"+
			"&groupBy=provincia,mes&lastId=42&lastSerial=RAD-001",
		nil)

	f := filter.FromRequest(request)

	assert.Equal(t, date(2024, 1, 1), f.StartDate)
	assert.Equal(t, date(2024, 3, 31), f.EndDate)
	assert.Nil(t, f.SpecificDate)
	assert.Equal(t, []string{"cordoba", "santafe"}, f.Provinces)
	assert.Equal(t, []int{3, 4}, f.InfractionStateIDs)
	assert.Equal(t, pointer.To(false), f.ExportedToExternal)
	assert.Equal(t, 1000, f.Limit)
	assert.True(t, f.Consolidate)
	assert.Equal(t, []string{"provincia", "mes"}, f.GroupByFields)
	assert.Equal(t, pointer.To(int64(42)), f.LastID)
	assert.Equal(t, pointer.To("RAD-001"), f.LastSerial)

	assert.NoError(t, f.Validate())
	assert.True(t, f.HasCursor())
	assert.True(t, f.ForcesPagination())
}

/*
TestFilter_EffectiveLimit verifies default fallback behavior.
*/
func TestFilter_EffectiveLimit(t *testing.T) {
	assert.Equal(t, 500, filter.Filter{}.EffectiveLimit(500))
	assert.Equal(t, 100, filter.Filter{Limit: 100}.EffectiveLimit(500))
}
