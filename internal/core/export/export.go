// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

// Package export serializes consolidated or raw result rows into the
// downloadable report formats. Writers implement the batch consumer
// contract and serialize concurrent flushes internally, so they can sit
// directly behind a parallel shard run.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tramoapp/tramo/internal/core/shard"
	"github.com/tramoapp/tramo/internal/platform/apperr"
)

// Format is a supported output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Writer receives row batches and renders them to the underlying stream.
// Finish must be called exactly once after the last batch; it emits the
// format's canonical empty form when no rows arrived.
type Writer interface {
	OnBatch(rows []shard.Row) error
	Finish() error
}

// ForFormat builds the writer for a format name.
func ForFormat(format Format, out io.Writer) (Writer, error) {
	switch format {
	case FormatJSON:
		return NewJSONWriter(out), nil
	case FormatCSV:
		return NewCSVWriter(out), nil
	case FormatXLSX:
		return NewXLSXWriter(out), nil
	default:
		return nil, apperr.ValidationError(fmt.Sprintf("unsupported export format %q", format))
	}
}

// ParseFormat normalizes a format name from a query parameter; empty
// defaults to JSON.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", apperr.ValidationError(fmt.Sprintf("unsupported export format %q", raw))
	}
}

// ContentType returns the MIME type for a format.
func ContentType(format Format) string {
	switch format {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json; charset=utf-8"
	}
}

// FileExtension returns the download extension for a format.
func FileExtension(format Format) string {
	return string(format)
}

// columnOrder fixes the tabular column order from the first delivered row:
// provincia first, the rest alphabetical. Shards return maps, so without
// this every run could order columns differently.
func columnOrder(row shard.Row) []string {
	columns := make([]string, 0, len(row))
	for column := range row {
		if column != "provincia" {
			columns = append(columns, column)
		}
	}
	sort.Strings(columns)

	if _, ok := row["provincia"]; ok {
		return append([]string{"provincia"}, columns...)
	}
	return columns
}

// cellString renders a row value for tabular output.
func cellString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 {
			return v.Format("2006-01-02")
		}
		return v.Format(time.RFC3339)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case float32:
		return cellString(float64(v))
	default:
		return fmt.Sprint(v)
	}
}
