// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package consolidate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramoapp/tramo/internal/core/analyzer"
	"github.com/tramoapp/tramo/internal/core/shard"
)

func TestGrouped_MergesAcrossShards(t *testing.T) {
	plan := Plan{
		GroupBy:  []string{"provincia", "mes"},
		Numerics: []NumericField{{Name: "total", Op: OpSum}},
	}
	consolidator := NewGrouped(plan)

	require.NoError(t, consolidator.OnBatch([]shard.Row{
		{"provincia": "Córdoba", "mes": int64(1), "total": int64(10)},
		{"provincia": "Córdoba", "mes": int64(2), "total": int64(5)},
	}))
	require.NoError(t, consolidator.OnBatch([]shard.Row{
		{"provincia": "Córdoba", "mes": int64(1), "total": int64(7)},
		{"provincia": "Salta", "mes": int64(1), "total": int64(3)},
	}))

	rows := consolidator.Rows()
	require.Len(t, rows, 3)

	byKey := map[string]shard.Row{}
	for _, row := range rows {
		byKey[fmt.Sprintf("%s/%d", row["provincia"], row["mes"])] = row
	}
	assert.Equal(t, float64(17), byKey["Córdoba/1"]["total"])
	assert.Equal(t, float64(5), byKey["Córdoba/2"]["total"])
	assert.Equal(t, float64(3), byKey["Salta/1"]["total"])
}

func TestGrouped_MaxAndMin(t *testing.T) {
	plan := Plan{
		GroupBy: []string{"provincia"},
		Numerics: []NumericField{
			{Name: "max_monto", Op: OpMax},
			{Name: "min_monto", Op: OpMin},
		},
	}
	consolidator := NewGrouped(plan)

	require.NoError(t, consolidator.OnBatch([]shard.Row{
		{"provincia": "Chaco", "max_monto": float64(900), "min_monto": float64(50)},
	}))
	require.NoError(t, consolidator.OnBatch([]shard.Row{
		{"provincia": "Chaco", "max_monto": float64(400), "min_monto": float64(20)},
	}))

	rows := consolidator.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, float64(900), rows[0]["max_monto"])
	assert.Equal(t, float64(20), rows[0]["min_monto"])
}

/*
TestGrouped_TupleKeyDoesNotCollide guards the group key encoding: adjacent
values must not merge when their concatenation matches another tuple.
*/
func TestGrouped_TupleKeyDoesNotCollide(t *testing.T) {
	plan := Plan{
		GroupBy:  []string{"a", "b"},
		Numerics: []NumericField{{Name: "total", Op: OpSum}},
	}
	consolidator := NewGrouped(plan)

	require.NoError(t, consolidator.OnBatch([]shard.Row{
		{"a": "x", "b": "yz", "total": int64(1)},
		{"a": "xy", "b": "z", "total": int64(1)},
	}))

	assert.Equal(t, 2, consolidator.GroupCount())
}

func TestGrouped_NullNumericIsSkipped(t *testing.T) {
	plan := Plan{
		GroupBy:  []string{"provincia"},
		Numerics: []NumericField{{Name: "total", Op: OpSum}},
	}
	consolidator := NewGrouped(plan)

	require.NoError(t, consolidator.OnBatch([]shard.Row{
		{"provincia": "Jujuy", "total": nil},
		{"provincia": "Jujuy", "total": int64(4)},
	}))

	rows := consolidator.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, float64(4), rows[0]["total"])
}

func TestGrouped_RowsAreSorted(t *testing.T) {
	plan := Plan{
		GroupBy:  []string{"provincia"},
		Numerics: []NumericField{{Name: "total", Op: OpSum}},
	}
	consolidator := NewGrouped(plan)

	require.NoError(t, consolidator.OnBatch([]shard.Row{
		{"provincia": "Salta", "total": int64(1)},
		{"provincia": "Chaco", "total": int64(1)},
		{"provincia": "Formosa", "total": int64(1)},
	}))

	rows := consolidator.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "Chaco", rows[0]["provincia"])
	assert.Equal(t, "Formosa", rows[1]["provincia"])
	assert.Equal(t, "Salta", rows[2]["provincia"])
}

func TestPlanFromVerdict(t *testing.T) {
	verdict := analyzer.Verdict{
		GroupingFields: []string{"provincia", "mes"},
		NumericFields:  []string{"total", "max_monto", "min_demora"},
	}

	plan := PlanFromVerdict(verdict)
	assert.Equal(t, []string{"provincia", "mes"}, plan.GroupBy)
	require.Len(t, plan.Numerics, 3)
	assert.Equal(t, OpSum, plan.Numerics[0].Op)
	assert.Equal(t, OpMax, plan.Numerics[1].Op)
	assert.Equal(t, OpMin, plan.Numerics[2].Op)
}

func TestRaw_PassThrough(t *testing.T) {
	consolidator := NewRaw()

	require.NoError(t, consolidator.OnBatch([]shard.Row{{"id": int64(1)}}))
	require.NoError(t, consolidator.OnBatch([]shard.Row{{"id": int64(2)}}))

	rows := consolidator.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, int64(2), rows[1]["id"])
}
