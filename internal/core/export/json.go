// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package export

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/tramoapp/tramo/internal/core/shard"
)

// JSONWriter streams rows as `{"data":[...]}` without buffering the full
// result set. Map keys marshal in sorted order, which keeps output stable.
type JSONWriter struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	wrote   bool
}

func NewJSONWriter(out io.Writer) *JSONWriter {
	return &JSONWriter{out: out}
}

func (writer *JSONWriter) OnBatch(rows []shard.Row) error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	if err := writer.open(); err != nil {
		return err
	}
	for _, row := range rows {
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if writer.wrote {
			if _, err := io.WriteString(writer.out, ","); err != nil {
				return err
			}
		}
		if _, err := writer.out.Write(encoded); err != nil {
			return err
		}
		writer.wrote = true
	}
	return nil
}

func (writer *JSONWriter) Finish() error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	if err := writer.open(); err != nil {
		return err
	}
	_, err := io.WriteString(writer.out, "]}")
	return err
}

func (writer *JSONWriter) open() error {
	if writer.started {
		return nil
	}
	writer.started = true
	_, err := io.WriteString(writer.out, `{"data":[`)
	return err
}
