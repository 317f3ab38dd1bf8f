// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package analyzer

import (
	"strings"

	"github.com/tramoapp/tramo/internal/core/catalog"
)

// KeyColumn is one member of a keyset ordering, with the bind-parameter name
// the rewriter must emit for it. Columns past the parameter budget carry an
// empty ParamName and participate in ORDER BY only.
//
// Name is the SQL-usable column reference (table-qualified when the source
// projection was), so the rewriter can splice it into WHERE clauses directly.
type KeyColumn struct {
	Name      string `json:"name"`
	ParamName string `json:"param_name"`
	SQLType   string `json:"sql_type"`
}

// Strategy is the pagination verdict for one SQL text.
type Strategy struct {
	Kind       catalog.PaginationStrategy `json:"kind"`
	KeyColumns []KeyColumn                `json:"key_columns"`
	Rationale  string                     `json:"rationale"`
}

// maxKeyColumns bounds the keyset tuple.
const maxKeyColumns = 4

// ChooseStrategy picks the pagination family for a SQL text, in priority
// order: keyset on id, composite keyset on ordered columns, consolidation
// keyset on the grouping set, offset when the query bounds its own result,
// limit-only for single-shot reads, none for pure aggregations.
func ChooseStrategy(sql string, verdict Verdict) Strategy {
	parsed, ok := parseQuery(sql)
	if !ok {
		return Strategy{
			Kind:      catalog.PaginationNone,
			Rationale: "unparseable query; left unpaged",
		}
	}

	if !parsed.HasGroupBy {
		if isPureAggregation(parsed) {
			return Strategy{
				Kind:      catalog.PaginationNone,
				Rationale: "pure aggregation returns a bounded result",
			}
		}

		if hasIDColumn(parsed) {
			return Strategy{
				Kind:       catalog.PaginationKeysetWithID,
				KeyColumns: keysetWithIDColumns(parsed, verdict),
				Rationale:  "integer id column in scope and no GROUP BY",
			}
		}

		if columns := orderedColumns(parsed, verdict); len(columns) > 0 {
			return Strategy{
				Kind:       catalog.PaginationCompositeKeyset,
				KeyColumns: columns,
				Rationale:  "no id column; paging on ordered non-null columns",
			}
		}

		if parsed.HasLimit {
			return Strategy{
				Kind:      catalog.PaginationOffset,
				Rationale: "no stable sort columns; query bounds its own result",
			}
		}

		return Strategy{
			Kind:      catalog.PaginationLimitOnly,
			Rationale: "no sortable columns; single-shot bounded read",
		}
	}

	if columns := consolidationColumns(parsed); len(columns) > 0 {
		return Strategy{
			Kind:       catalog.PaginationConsolidationKeyset,
			KeyColumns: columns,
			Rationale:  "grouping columns form a stable total order",
		}
	}

	return Strategy{
		Kind:      catalog.PaginationLimitOnly,
		Rationale: "grouped query without orderable grouping columns",
	}
}

// isPureAggregation reports whether every projected field is an aggregate.
func isPureAggregation(parsed parsedQuery) bool {
	for _, field := range parsed.Fields {
		if !sumAggRegex.MatchString(field.Expr) && !countAggRegex.MatchString(field.Expr) {
			return false
		}
	}
	return len(parsed.Fields) > 0
}

func hasIDColumn(parsed parsedQuery) bool {
	for _, field := range parsed.Fields {
		if field.Name == "id" && isPlainColumn(field.Expr) {
			return true
		}
	}
	return false
}

// keysetWithIDColumns builds the id-first keyset: id, then serial and
// location tiebreakers when projected, then one time column for ordering.
func keysetWithIDColumns(parsed parsedQuery, verdict Verdict) []KeyColumn {
	idRef := "id"
	for _, field := range parsed.Fields {
		if field.Name == "id" && isPlainColumn(field.Expr) {
			idRef = field.Expr
			break
		}
	}
	columns := []KeyColumn{{Name: idRef, ParamName: "lastId", SQLType: "bigint"}}

	for _, field := range parsed.Fields {
		if len(columns) >= maxKeyColumns {
			break
		}
		if field.Name == "id" || !isPlainColumn(field.Expr) {
			continue
		}
		folded := strings.ToLower(field.Name)
		switch {
		case strings.Contains(folded, "serie") || strings.Contains(folded, "serial"):
			columns = append(columns, KeyColumn{Name: field.Expr, ParamName: "lastSerial", SQLType: "text"})
		case verdict.FieldTypes[field.Name] == FieldLocation || strings.Contains(folded, "location"):
			columns = append(columns, KeyColumn{Name: field.Expr, ParamName: "lastLocation", SQLType: "text"})
		case verdict.FieldTypes[field.Name] == FieldTime:
			columns = append(columns, KeyColumn{Name: field.Expr, SQLType: "date"})
		}
	}
	return dedupeColumns(columns)
}

// orderedColumns selects up to three serial/location/date/type columns for a
// composite keyset, binding them to the keyset_col_N parameters in order.
func orderedColumns(parsed parsedQuery, verdict Verdict) []KeyColumn {
	candidates := make([]KeyColumn, 0, maxKeyColumns)

	appendByType := func(want FieldType, sqlType string) {
		for _, field := range parsed.Fields {
			if verdict.FieldTypes[field.Name] == want && isPlainColumn(field.Expr) {
				candidates = append(candidates, KeyColumn{Name: field.Expr, SQLType: sqlType})
			}
		}
	}

	appendByType(FieldIdentifier, "text")
	appendByType(FieldLocation, "text")
	appendByType(FieldTime, "date")
	appendByType(FieldCategorization, "text")

	candidates = dedupeColumns(candidates)
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}
	for i := range candidates {
		candidates[i].ParamName = keysetParam(i)
	}
	return candidates
}

// consolidationColumns keys the page on the GROUP BY set. The order is
// stable only when every grouping entry is a plain column.
func consolidationColumns(parsed parsedQuery) []KeyColumn {
	columns := make([]KeyColumn, 0, len(parsed.GroupBy))
	for i, name := range parsed.GroupBy {
		if !isPlainColumn(name) {
			return nil
		}
		column := KeyColumn{Name: name, SQLType: "text"}
		if i < 3 {
			column.ParamName = keysetParam(i)
		}
		columns = append(columns, column)
		if len(columns) >= maxKeyColumns {
			break
		}
	}
	return columns
}

func keysetParam(i int) string {
	return "keyset_col_" + string(rune('0'+i))
}

func dedupeColumns(columns []KeyColumn) []KeyColumn {
	seen := make(map[string]bool, len(columns))
	out := columns[:0]
	for _, c := range columns {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out
}
