// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package shard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tramoapp/tramo/internal/core/sqlscan"
)

// translateNamed rewrites :name placeholders to $N positional placeholders
// and returns the argument list in placeholder order. A parameter used
// twice binds the same ordinal. Double colons (type casts) and colons
// inside quotes are left alone.
//
// Every named placeholder must have an entry in params; a missing entry is
// a programming error in the binder and fails loudly.
func translateNamed(sql string, params map[string]any) (string, []any, error) {
	var out strings.Builder
	out.Grow(len(sql))

	ordinals := make(map[string]int)
	args := make([]any, 0, len(params))

	s := sqlscan.New(sql)
	for s.Pos < len(s.Src) {
		if s.InQuote() || sql[s.Pos] != ':' {
			out.WriteByte(s.Step())
			continue
		}

		// "::" is a cast, not a parameter.
		if s.Pos+1 < len(sql) && sql[s.Pos+1] == ':' {
			out.WriteByte(s.Step())
			out.WriteByte(s.Step())
			continue
		}
		if s.Pos > 0 && sql[s.Pos-1] == ':' {
			out.WriteByte(s.Step())
			continue
		}

		start := s.Pos + 1
		end := start
		for end < len(sql) && sqlscan.IsIdentByte(sql[end]) {
			end++
		}
		if end == start {
			out.WriteByte(s.Step())
			continue
		}

		name := sql[start:end]
		ordinal, seen := ordinals[name]
		if !seen {
			value, ok := params[name]
			if !ok {
				return "", nil, fmt.Errorf("unbound query parameter :%s", name)
			}
			args = append(args, value)
			ordinal = len(args)
			ordinals[name] = ordinal
		}

		out.WriteString("$")
		out.WriteString(strconv.Itoa(ordinal))
		for s.Pos < end {
			s.Step()
		}
	}

	return out.String(), args, nil
}
