// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package batch

import (
	"strings"

	"github.com/tramoapp/tramo/internal/core/analyzer"
	"github.com/tramoapp/tramo/internal/core/rewriter"
	"github.com/tramoapp/tramo/internal/core/shard"
)

// captureCursor reads the keyset position out of the last row of a page,
// keyed by the strategy's parameter names. The first key column anchors the
// restart guard in the rewritten SQL, so a NULL there would reset the loop
// to page one; it degrades to the empty string instead, which the COALESCE
// comparison on the SQL side treats the same way.
func captureCursor(row shard.Row, strategy analyzer.Strategy) map[string]any {
	cursor := make(map[string]any, len(strategy.KeyColumns))

	first := true
	for _, column := range strategy.KeyColumns {
		if column.ParamName == "" {
			continue
		}
		value := row[bareColumn(column.Name)]
		if value == nil && first {
			value = ""
		}
		cursor[column.ParamName] = value
		first = false
	}

	if len(cursor) == 0 {
		if id, ok := row["id"]; ok && id != nil {
			cursor[rewriter.ParamLastID] = id
		}
	}
	return cursor
}

// bareColumn strips the table qualifier: "i.id" -> "id".
func bareColumn(name string) string {
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		return name[dot+1:]
	}
	return name
}
