// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

// Package sqlscan provides shallow, quote- and depth-aware scanning over SQL
// text. It is shared by the analyzer and the rewriter, which both operate on
// the outermost statement level without a full parse.
package sqlscan

import "strings"

// Scanner walks SQL text tracking parenthesis depth and string/identifier
// quoting, so keyword and comma detection only fires at the top level.
type Scanner struct {
	Src string
	Pos int

	depth    int
	inSingle bool
	inDouble bool
}

func New(src string) *Scanner {
	return &Scanner{Src: src}
}

// Step consumes one byte, updating quote and depth state.
func (s *Scanner) Step() byte {
	c := s.Src[s.Pos]
	switch {
	case s.inSingle:
		if c == '\'' {
			// '' escapes a quote inside a literal.
			if s.Pos+1 < len(s.Src) && s.Src[s.Pos+1] == '\'' {
				s.Pos++
			} else {
				s.inSingle = false
			}
		}
	case s.inDouble:
		if c == '"' {
			s.inDouble = false
		}
	default:
		switch c {
		case '\'':
			s.inSingle = true
		case '"':
			s.inDouble = true
		case '(':
			s.depth++
		case ')':
			s.depth--
		}
	}
	s.Pos++
	return c
}

// TopLevel reports whether the scanner sits outside all parens and quotes.
func (s *Scanner) TopLevel() bool {
	return s.depth == 0 && !s.inSingle && !s.inDouble
}

// Depth returns the current parenthesis nesting depth.
func (s *Scanner) Depth() int {
	return s.depth
}

// InQuote reports whether the scanner sits inside a string literal or a
// quoted identifier.
func (s *Scanner) InQuote() bool {
	return s.inSingle || s.inDouble
}

// IsIdentByte reports whether c can appear in an SQL identifier.
func IsIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// KeywordAt reports whether the case-insensitive keyword starts at the
// scanner's current position with word boundaries on both sides. Multi-word
// keywords ("GROUP BY") match across any run of whitespace. The returned
// offset points past the keyword and its trailing whitespace.
func (s *Scanner) KeywordAt(keyword string) (int, bool) {
	if !s.TopLevel() {
		return 0, false
	}
	if s.Pos > 0 && IsIdentByte(s.Src[s.Pos-1]) {
		return 0, false
	}

	i := s.Pos
	for _, word := range strings.Fields(keyword) {
		if i+len(word) > len(s.Src) {
			return 0, false
		}
		if !strings.EqualFold(s.Src[i:i+len(word)], word) {
			return 0, false
		}
		i += len(word)
		if i < len(s.Src) && IsIdentByte(s.Src[i]) {
			return 0, false
		}
		for i < len(s.Src) && (s.Src[i] == ' ' || s.Src[i] == '\t' || s.Src[i] == '\n' || s.Src[i] == '\r') {
			i++
		}
	}
	return i, true
}

// FindKeyword returns the byte offsets [start, afterEnd) of the first
// top-level occurrence of keyword at or after from, or (-1, -1).
func FindKeyword(src, keyword string, from int) (int, int) {
	s := New(src)
	for s.Pos < len(s.Src) {
		if s.Pos >= from {
			if end, ok := s.KeywordAt(keyword); ok {
				return s.Pos, end
			}
		}
		s.Step()
	}
	return -1, -1
}

// SplitTopLevel splits src on top-level commas.
func SplitTopLevel(src string) []string {
	parts := make([]string, 0, 8)
	s := New(src)
	start := 0
	for s.Pos < len(s.Src) {
		if s.TopLevel() && s.Src[s.Pos] == ',' {
			parts = append(parts, strings.TrimSpace(src[start:s.Pos]))
			s.Pos++
			start = s.Pos
			continue
		}
		s.Step()
	}
	if tail := strings.TrimSpace(src[start:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}
