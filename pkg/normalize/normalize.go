// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

// Package normalize folds accented Spanish identifiers into plain ASCII.
//
// # Usage
//
// Catalog SQL is written against Spanish column names ("ubicación",
// "categoría", "año"). The analyzer heuristics match on folded forms so a
// template author's accent habits never change a field classification.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips combining marks (é → e, ñ → n).
//
// # Transformation Pipeline
//
// 1. Normalizes to NFD (decomposes accented chars: é → e + combining acute).
// 2. Removes combining marks.
// 3. Converts to lowercase and trims surrounding whitespace.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isMn))
	result, _, err := transform.String(t, s)
	if err != nil {
		result = s
	}
	return strings.ToLower(strings.TrimSpace(result))
}

// Ident folds s and keeps only identifier runes (letters, digits, underscore).
//
// Useful when a column expression still carries quoting or stray punctuation.
func Ident(s string) string {
	folded := Fold(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return -1
	}, folded)
}

// isMn reports whether r is a Unicode non-spacing mark (e.g., accents).
func isMn(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}
