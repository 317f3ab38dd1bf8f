// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package export

import (
	"io"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/tramoapp/tramo/internal/core/shard"
)

const (
	xlsxSheet = "Infracciones"
	// maxColumnWidth caps auto-sizing so one long detail field cannot
	// stretch its column across the screen.
	maxColumnWidth = 20
)

// XLSXWriter renders rows into a single-sheet workbook with a bold header
// and auto-sized columns. The workbook is assembled in memory and written
// on Finish; XLSX is a zip container and cannot stream row by row.
type XLSXWriter struct {
	mu      sync.Mutex
	out     io.Writer
	file    *excelize.File
	columns []string
	widths  []int
	nextRow int
}

func NewXLSXWriter(out io.Writer) *XLSXWriter {
	file := excelize.NewFile()
	file.SetSheetName("Sheet1", xlsxSheet)
	return &XLSXWriter{out: out, file: file, nextRow: 1}
}

func (writer *XLSXWriter) OnBatch(rows []shard.Row) error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	if writer.columns == nil && len(rows) > 0 {
		writer.columns = columnOrder(rows[0])
		writer.widths = make([]int, len(writer.columns))
		if err := writer.writeHeader(); err != nil {
			return err
		}
	}

	for _, row := range rows {
		for i, column := range writer.columns {
			cell, err := excelize.CoordinatesToCellName(i+1, writer.nextRow)
			if err != nil {
				return err
			}
			value := cellString(row[column])
			if err := writer.file.SetCellValue(xlsxSheet, cell, value); err != nil {
				return err
			}
			if len(value) > writer.widths[i] {
				writer.widths[i] = len(value)
			}
		}
		writer.nextRow++
	}
	return nil
}

func (writer *XLSXWriter) writeHeader() error {
	for i, column := range writer.columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := writer.file.SetCellValue(xlsxSheet, cell, column); err != nil {
			return err
		}
		writer.widths[i] = len(column)
	}

	bold, err := writer.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(writer.columns), 1)
	if err != nil {
		return err
	}
	if err := writer.file.SetCellStyle(xlsxSheet, "A1", last, bold); err != nil {
		return err
	}

	writer.nextRow = 2
	return nil
}

func (writer *XLSXWriter) Finish() error {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	defer writer.file.Close()

	for i := range writer.columns {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		width := min(writer.widths[i]+2, maxColumnWidth)
		if err := writer.file.SetColWidth(xlsxSheet, name, name, float64(width)); err != nil {
			return err
		}
	}

	_, err := writer.file.WriteTo(writer.out)
	return err
}
