// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package rewriter

import (
	"fmt"
	"strings"

	"github.com/tramoapp/tramo/internal/core/sqlscan"
)

// protected carries the SQL text with opaque subexpressions replaced by
// sentinels, and the map needed to restore them verbatim.
type protected struct {
	text      string
	originals map[string]string
}

// protect replaces EXISTS(...) predicates, scalar (SELECT ...) subqueries,
// and CASE ... END expressions with numbered sentinels. The filter stripping
// pass then cannot touch anything inside them.
func protect(sql string) protected {
	p := protected{originals: make(map[string]string)}

	sql = p.protectExists(sql)
	sql = p.protectSubselects(sql)
	sql = p.protectCase(sql)

	p.text = sql
	return p
}

// restore swaps every sentinel back for its original text.
func (p protected) restore(sql string) string {
	// Sentinels can nest (a CASE protected after its inner subselect), so
	// keep substituting until the text stops changing.
	for i := 0; i < len(p.originals)+1; i++ {
		changed := false
		for sentinel, original := range p.originals {
			if strings.Contains(sql, sentinel) {
				sql = strings.ReplaceAll(sql, sentinel, original)
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return sql
}

func (p *protected) store(kind string, n int, original string) string {
	sentinel := fmt.Sprintf("___%s_%d___", kind, n)
	p.originals[sentinel] = original
	return sentinel
}

// protectExists replaces each top-or-nested EXISTS(...) with a sentinel.
func (p *protected) protectExists(sql string) string {
	for n := 0; ; n++ {
		at, end := findKeywordAnyDepth(sql, "EXISTS")
		if at < 0 {
			return sql
		}
		close := matchParen(sql, end)
		if close < 0 {
			return sql
		}
		sentinel := p.store("EXISTS", n, sql[at:close+1])
		sql = sql[:at] + sentinel + sql[close+1:]
	}
}

// protectSubselects replaces each remaining parenthesized SELECT with a
// sentinel. EXISTS bodies are already gone by the time this runs.
func (p *protected) protectSubselects(sql string) string {
	for n := 0; ; n++ {
		at := findSubselect(sql)
		if at < 0 {
			return sql
		}
		close := matchParen(sql, at)
		if close < 0 {
			return sql
		}
		sentinel := p.store("SUBSELECT", n, sql[at:close+1])
		sql = sql[:at] + sentinel + sql[close+1:]
	}
}

// protectCase replaces each CASE ... END with a sentinel, honoring nested
// CASE expressions by matching CASE/END pairs.
func (p *protected) protectCase(sql string) string {
	for n := 0; ; n++ {
		at, _ := findKeywordAnyDepth(sql, "CASE")
		if at < 0 {
			return sql
		}
		end := matchCaseEnd(sql, at)
		if end < 0 {
			return sql
		}
		sentinel := p.store("CASE", n, sql[at:end])
		sql = sql[:at] + sentinel + sql[end:]
	}
}

// findKeywordAnyDepth locates a keyword outside quotes at any paren depth.
func findKeywordAnyDepth(sql, keyword string) (int, int) {
	s := sqlscan.New(sql)
	for s.Pos < len(s.Src) {
		if !s.InQuote() && keywordMatches(sql, s.Pos, keyword) {
			end := s.Pos + len(keyword)
			for end < len(sql) && (sql[end] == ' ' || sql[end] == '\t') {
				end++
			}
			return s.Pos, end
		}
		s.Step()
	}
	return -1, -1
}

func keywordMatches(sql string, pos int, keyword string) bool {
	if pos+len(keyword) > len(sql) {
		return false
	}
	if !strings.EqualFold(sql[pos:pos+len(keyword)], keyword) {
		return false
	}
	if pos > 0 && sqlscan.IsIdentByte(sql[pos-1]) {
		return false
	}
	after := pos + len(keyword)
	return after >= len(sql) || !sqlscan.IsIdentByte(sql[after])
}

// matchParen returns the index of the ')' closing the '(' at or after open,
// or -1. open must point at or just before the opening paren.
func matchParen(sql string, open int) int {
	for open < len(sql) && sql[open] != '(' {
		if !(sql[open] == ' ' || sql[open] == '\t') {
			return -1
		}
		open++
	}
	if open >= len(sql) {
		return -1
	}

	s := sqlscan.New(sql)
	for s.Pos < open {
		s.Step()
	}
	baseDepth := s.Depth()
	s.Step() // consume '('
	for s.Pos < len(s.Src) {
		c := s.Step()
		if c == ')' && !s.InQuote() && s.Depth() == baseDepth {
			return s.Pos - 1
		}
	}
	return -1
}

// findSubselect locates the next "( SELECT" opening paren outside quotes.
func findSubselect(sql string) int {
	s := sqlscan.New(sql)
	for s.Pos < len(s.Src) {
		if !s.InQuote() && sql[s.Pos] == '(' {
			i := s.Pos + 1
			for i < len(sql) && (sql[i] == ' ' || sql[i] == '\t' || sql[i] == '\n') {
				i++
			}
			if keywordMatches(sql, i, "SELECT") {
				return s.Pos
			}
		}
		s.Step()
	}
	return -1
}

// matchCaseEnd returns the offset just past the END matching the CASE at
// start, skipping nested CASE/END pairs. Returns -1 when unbalanced.
func matchCaseEnd(sql string, start int) int {
	s := sqlscan.New(sql)
	for s.Pos < start {
		s.Step()
	}

	depth := 0
	for s.Pos < len(s.Src) {
		if !s.InQuote() {
			switch {
			case keywordMatches(sql, s.Pos, "CASE"):
				depth++
			case keywordMatches(sql, s.Pos, "END"):
				depth--
				if depth == 0 {
					return s.Pos + len("END")
				}
			}
		}
		s.Step()
	}
	return -1
}
