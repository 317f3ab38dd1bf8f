// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramoapp/tramo/pkg/normalize"
)

func TestTranslateNamed(t *testing.T) {
	sql := "SELECT id FROM infracciones WHERE (:startDate IS NULL OR fecha >= :startDate)" +
		" AND (:infractionStates IS NULL OR id_estado = ANY(:infractionStates)) LIMIT :limit"

	params := map[string]any{
		"startDate":        "2024-01-01",
		"infractionStates": []int{3, 4},
		"limit":            1000,
		"unused":           "ignored",
	}

	positional, args, err := translateNamed(sql, params)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id FROM infracciones WHERE ($1 IS NULL OR fecha >= $1)"+
			" AND ($2 IS NULL OR id_estado = ANY($2)) LIMIT $3",
		positional)
	assert.Equal(t, []any{"2024-01-01", []int{3, 4}, 1000}, args)
}

func TestTranslateNamed_IgnoresCastsAndLiterals(t *testing.T) {
	sql := "SELECT fecha::date, ':notaparam' FROM t WHERE id = :id"

	positional, args, err := translateNamed(sql, map[string]any{"id": 7})
	require.NoError(t, err)

	assert.Equal(t, "SELECT fecha::date, ':notaparam' FROM t WHERE id = $1", positional)
	assert.Equal(t, []any{7}, args)
}

func TestTranslateNamed_UnboundParameterFails(t *testing.T) {
	_, _, err := translateNamed("SELECT 1 WHERE x = :missing", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":missing")
}

func TestCountVariant(t *testing.T) {
	sql := "SELECT i.id, i.fecha FROM infracciones i WHERE (:lastId IS NULL OR i.id > :lastId)" +
		" ORDER BY i.id ASC LIMIT :limit"

	assert.Equal(t,
		"SELECT COUNT(*) FROM (SELECT i.id, i.fecha FROM infracciones i"+
			" WHERE (:lastId IS NULL OR i.id > :lastId)) t",
		countVariant(sql))
}

func TestSelectRegistryShards(t *testing.T) {
	registry := &Registry{
		shards: []*Shard{{Name: "Córdoba"}, {Name: "Santa Fe"}, {Name: "Mendoza"}},
		byName: map[string]*Shard{},
	}
	for _, s := range registry.shards {
		registry.byName[normalize.Fold(s.Name)] = s
	}

	selected := registry.Select([]string{"cordoba", "desconocida"})
	require.Len(t, selected, 1)
	assert.Equal(t, "Córdoba", selected[0].Name)

	assert.Len(t, registry.Select(nil), 3)
}
