// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package report

import (
	"bytes"
	"context"

	"github.com/tramoapp/tramo/internal/core/batch"
	"github.com/tramoapp/tramo/internal/core/export"
	"github.com/tramoapp/tramo/internal/core/filter"
	"github.com/tramoapp/tramo/internal/core/task"
)

// RunnerFactory adapts report execution to the async task surface. The
// task type is the template code; unknown codes fail at submit time, not
// inside the worker.
func (service *Service) RunnerFactory() task.RunnerFactory {
	return func(ctx context.Context, taskType string, f filter.Filter, format export.Format) (task.Runner, error) {
		if _, err := service.catalog.GetTemplate(ctx, taskType); err != nil {
			return nil, err
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}

		return func(runCtx context.Context, report func(task.Progress)) ([]byte, string, error) {
			var artifact bytes.Buffer

			_, err := service.Execute(runCtx, taskType, f, format, &artifact, func(p batch.Progress) {
				report(task.Progress{
					ElapsedSec:  p.ElapsedSec,
					Rows:        p.Rows,
					MemPct:      p.MemPct,
					ShardsDone:  p.ShardsDone,
					TotalShards: p.TotalShards,
				})
			})
			if err != nil {
				return nil, "", err
			}
			return artifact.Bytes(), export.ContentType(format), nil
		}, nil
	}
}
