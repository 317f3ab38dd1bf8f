// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package export

import (
	"encoding/csv"
	"io"
	"sync"

	"github.com/tramoapp/tramo/internal/core/shard"
)

// CSVWriter renders rows with RFC 4180 quoting. The header row and column
// order come from the first delivered row; an empty result produces an
// empty file because there are no columns to name.
type CSVWriter struct {
	mu      sync.Mutex
	csv     *csv.Writer
	columns []string
}

func NewCSVWriter(out io.Writer) *CSVWriter {
	return &CSVWriter{csv: csv.NewWriter(out)}
}

func (writer *CSVWriter) OnBatch(rows []shard.Row) error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	if writer.columns == nil && len(rows) > 0 {
		writer.columns = columnOrder(rows[0])
		if err := writer.csv.Write(writer.columns); err != nil {
			return err
		}
	}

	record := make([]string, len(writer.columns))
	for _, row := range rows {
		for i, column := range writer.columns {
			record[i] = cellString(row[column])
		}
		if err := writer.csv.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func (writer *CSVWriter) Finish() error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	writer.csv.Flush()
	return writer.csv.Error()
}
