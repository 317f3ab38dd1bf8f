// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

// Package consolidate merges per-shard result streams into one logical
// result set. Grouped templates fold into a map keyed by the grouping
// tuple; raw templates pass rows through. The grouped fold is incremental,
// so the streaming paths reuse it without materializing shard output.
package consolidate

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tramoapp/tramo/internal/core/analyzer"
	"github.com/tramoapp/tramo/internal/core/shard"
)

// Op is the accumulation applied to one numeric field across shards.
type Op string

const (
	OpSum Op = "SUM"
	OpMax Op = "MAX"
	OpMin Op = "MIN"
)

// NumericField pairs an output column with its accumulation.
type NumericField struct {
	Name string
	Op   Op
}

// Plan describes how grouped rows merge: which columns form the grouping
// tuple and how each numeric column accumulates.
type Plan struct {
	GroupBy  []string
	Numerics []NumericField
}

// PlanFromVerdict derives the merge plan from an analysis verdict. Counts
// and sums both accumulate by addition across shards; a column named after
// a MAX or MIN aggregate keeps that extremum instead.
func PlanFromVerdict(verdict analyzer.Verdict) Plan {
	plan := Plan{GroupBy: verdict.GroupingFields}
	for _, name := range verdict.NumericFields {
		plan.Numerics = append(plan.Numerics, NumericField{Name: name, Op: opForField(name)})
	}
	return plan
}

func opForField(name string) Op {
	folded := strings.ToLower(name)
	switch {
	case strings.HasPrefix(folded, "max"):
		return OpMax
	case strings.HasPrefix(folded, "min"):
		return OpMin
	default:
		return OpSum
	}
}

// Grouped folds row batches into one group per grouping tuple. Safe for
// concurrent OnBatch calls; Rows must only be called after the run ends.
type Grouped struct {
	plan Plan

	mu     sync.Mutex
	groups map[string]shard.Row
	order  []string
}

func NewGrouped(plan Plan) *Grouped {
	return &Grouped{plan: plan, groups: make(map[string]shard.Row)}
}

func (consolidator *Grouped) OnBatch(rows []shard.Row) error {
	consolidator.mu.Lock()
	defer consolidator.mu.Unlock()

	for _, row := range rows {
		key := consolidator.groupKey(row)
		group, ok := consolidator.groups[key]
		if !ok {
			group = make(shard.Row, len(consolidator.plan.GroupBy)+len(consolidator.plan.Numerics))
			for _, column := range consolidator.plan.GroupBy {
				group[column] = row[column]
			}
			consolidator.groups[key] = group
			consolidator.order = append(consolidator.order, key)
		}

		for _, numeric := range consolidator.plan.Numerics {
			value, ok := asFloat(row[numeric.Name])
			if !ok {
				continue
			}
			group[numeric.Name] = accumulate(numeric.Op, group[numeric.Name], value)
		}
	}
	return nil
}

// Rows returns the merged groups sorted by grouping tuple, so consolidated
// output is stable regardless of shard interleaving.
func (consolidator *Grouped) Rows() []shard.Row {
	consolidator.mu.Lock()
	defer consolidator.mu.Unlock()

	keys := make([]string, len(consolidator.order))
	copy(keys, consolidator.order)
	sort.Strings(keys)

	out := make([]shard.Row, 0, len(keys))
	for _, key := range keys {
		out = append(out, consolidator.groups[key])
	}
	return out
}

// GroupCount reports the number of distinct grouping tuples seen so far.
func (consolidator *Grouped) GroupCount() int {
	consolidator.mu.Lock()
	defer consolidator.mu.Unlock()
	return len(consolidator.groups)
}

// groupKey encodes the grouping tuple with an unprintable separator so
// adjacent values cannot collide ("a","bc" vs "ab","c").
func (consolidator *Grouped) groupKey(row shard.Row) string {
	var builder strings.Builder
	for i, column := range consolidator.plan.GroupBy {
		if i > 0 {
			builder.WriteByte(0x1f)
		}
		fmt.Fprint(&builder, row[column])
	}
	return builder.String()
}

func accumulate(op Op, current any, value float64) float64 {
	previous, ok := asFloat(current)
	if !ok {
		return value
	}
	switch op {
	case OpMax:
		return max(previous, value)
	case OpMin:
		return min(previous, value)
	default:
		return previous + value
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Raw collects rows untouched, preserving per-shard arrival order. It
// serves templates that consolidate as pass-through.
type Raw struct {
	mu   sync.Mutex
	rows []shard.Row
}

func NewRaw() *Raw {
	return &Raw{}
}

func (consolidator *Raw) OnBatch(rows []shard.Row) error {
	consolidator.mu.Lock()
	defer consolidator.mu.Unlock()
	consolidator.rows = append(consolidator.rows, rows...)
	return nil
}

func (consolidator *Raw) Rows() []shard.Row {
	consolidator.mu.Lock()
	defer consolidator.mu.Unlock()
	return consolidator.rows
}
