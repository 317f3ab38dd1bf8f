// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramoapp/tramo/internal/core/catalog"
)

func analyzeAndChoose(t *testing.T, sql string) Strategy {
	t.Helper()
	verdict := newTestAnalyzer(nil).Analyze(sql)
	return ChooseStrategy(sql, verdict)
}

/*
TestChooseStrategy_KeysetWithID covers the detail-listing shape: id in
scope, serial and location tiebreakers, no GROUP BY.
*/
func TestChooseStrategy_KeysetWithID(t *testing.T) {
	sql := `SELECT i.id, pc.serie_equipo, pc.lugar, i.fecha
	        FROM infracciones i JOIN puntos_control pc ON pc.id = i.punto_control_id
	        WHERE i.id_estado IN (1, 2)`

	strategy := analyzeAndChoose(t, sql)

	assert.Equal(t, catalog.PaginationKeysetWithID, strategy.Kind)
	require.NotEmpty(t, strategy.KeyColumns)

	assert.Equal(t, "i.id", strategy.KeyColumns[0].Name)
	assert.Equal(t, "lastId", strategy.KeyColumns[0].ParamName)
	assert.Equal(t, "bigint", strategy.KeyColumns[0].SQLType)

	params := make([]string, 0, len(strategy.KeyColumns))
	for _, c := range strategy.KeyColumns {
		params = append(params, c.ParamName)
	}
	assert.Contains(t, params, "lastSerial")
	assert.Contains(t, params, "lastLocation")
	assert.LessOrEqual(t, len(strategy.KeyColumns), maxKeyColumns)
}

func TestChooseStrategy_CompositeKeysetWithoutID(t *testing.T) {
	sql := `SELECT pc.serie_equipo, pc.lugar, i.fecha
	        FROM infracciones i JOIN puntos_control pc ON pc.id = i.punto_control_id`

	strategy := analyzeAndChoose(t, sql)

	assert.Equal(t, catalog.PaginationCompositeKeyset, strategy.Kind)
	require.NotEmpty(t, strategy.KeyColumns)
	assert.Equal(t, "keyset_col_0", strategy.KeyColumns[0].ParamName)
	assert.LessOrEqual(t, len(strategy.KeyColumns), 3)
}

func TestChooseStrategy_ConsolidationKeyset(t *testing.T) {
	sql := `SELECT provincia, mes, COUNT(*) AS cantidad
	        FROM infracciones GROUP BY provincia, mes`

	strategy := analyzeAndChoose(t, sql)

	assert.Equal(t, catalog.PaginationConsolidationKeyset, strategy.Kind)
	require.Len(t, strategy.KeyColumns, 2)
	assert.Equal(t, "provincia", strategy.KeyColumns[0].Name)
	assert.Equal(t, "keyset_col_0", strategy.KeyColumns[0].ParamName)
	assert.Equal(t, "keyset_col_1", strategy.KeyColumns[1].ParamName)
}

// Numeric projections never qualify as keyset columns, so the choice comes
// down to whether the query bounds its own result.
func TestChooseStrategy_OffsetWhenQueryBoundsItself(t *testing.T) {
	strategy := analyzeAndChoose(t, `SELECT total, monto FROM infracciones LIMIT 500`)

	assert.Equal(t, catalog.PaginationOffset, strategy.Kind)
	assert.Empty(t, strategy.KeyColumns)
}

func TestChooseStrategy_LimitOnlyWithoutSortableColumns(t *testing.T) {
	strategy := analyzeAndChoose(t, `SELECT total, monto FROM infracciones`)

	assert.Equal(t, catalog.PaginationLimitOnly, strategy.Kind)
}

func TestChooseStrategy_PureAggregationIsNone(t *testing.T) {
	strategy := analyzeAndChoose(t, `SELECT COUNT(*), SUM(monto) FROM infracciones`)

	assert.Equal(t, catalog.PaginationNone, strategy.Kind)
	assert.Empty(t, strategy.KeyColumns)
}

func TestChooseStrategy_UnparseableIsNone(t *testing.T) {
	strategy := ChooseStrategy("garbage", Verdict{})
	assert.Equal(t, catalog.PaginationNone, strategy.Kind)
}
