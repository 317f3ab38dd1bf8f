// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

// Package query parses report filter values out of URL query parameters.
package query

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire format for all date query parameters.
const DateLayout = "2006-01-02"

// IntSlice parses a slice of string values from URL query parameters
// into a slice of integers. Invalid entries are ignored safely.
func IntSlice(vals []string) []int {
	var res []int
	for _, v := range vals {
		if i, err := strconv.Atoi(v); err == nil {
			res = append(res, i)
		}
	}
	return res
}

// StringSlice parses a single comma-separated query string
// into a trimmed slice of strings.
func StringSlice(val string) []string {
	if val == "" {
		return nil
	}
	var res []string
	for _, v := range strings.Split(val, ",") {
		clean := strings.TrimSpace(v)
		if clean != "" {
			res = append(res, clean)
		}
	}
	return res
}

// IntCSV parses a single comma-separated query string into integers,
// ignoring entries that do not parse.
func IntCSV(val string) []int {
	return IntSlice(StringSlice(val))
}

// Date parses an ISO date (YYYY-MM-DD) query parameter.
// It returns nil when the parameter is absent or malformed.
func Date(val string) *time.Time {
	if val == "" {
		return nil
	}
	t, err := time.Parse(DateLayout, val)
	if err != nil {
		return nil
	}
	return &t
}
