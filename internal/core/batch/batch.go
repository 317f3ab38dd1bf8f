// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

// Package batch runs one rewritten statement against every selected shard
// and feeds the rows to a consumer. It estimates per-shard volume first,
// picks an execution mode from the estimate, then pages each shard with a
// batch size that adapts to heap pressure. A failing shard never fails the
// run; it is reported as a per-shard outcome.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tramoapp/tramo/internal/core/analyzer"
	"github.com/tramoapp/tramo/internal/core/catalog"
	"github.com/tramoapp/tramo/internal/core/shard"
	"github.com/tramoapp/tramo/internal/platform/apperr"
	"github.com/tramoapp/tramo/internal/platform/config"
)

// Mode is the shard execution mode picked from the volume estimate.
type Mode string

const (
	// ModeParallel runs every shard concurrently through the worker pool.
	ModeParallel Mode = "PARALLEL"
	// ModeSequential runs shards one at a time.
	ModeSequential Mode = "SEQUENTIAL"
	// ModeHybrid runs waves of up to the pool width, yielding between waves.
	ModeHybrid Mode = "HYBRID"
)

// OutcomeStatus is the terminal state of one shard within a run.
type OutcomeStatus string

const (
	ShardDone      OutcomeStatus = "DONE"
	ShardFailed    OutcomeStatus = "FAILED"
	ShardCancelled OutcomeStatus = "CANCELLED"
)

// ShardOutcome describes how one shard finished.
type ShardOutcome struct {
	Shard  string        `json:"shard"`
	Status OutcomeStatus `json:"status"`
	Rows   int64         `json:"rows"`
	Detail string        `json:"detail,omitempty"`
}

// Estimate is the phase-one volume estimate across all targets. A shard
// whose count failed contributes zero and is listed in Failed.
type Estimate struct {
	Total    int64            `json:"total"`
	Avg      int64            `json:"avg"`
	Max      int64            `json:"max"`
	PerShard map[string]int64 `json:"per_shard"`
	Failed   []string         `json:"failed,omitempty"`
}

// Progress is a heartbeat snapshot of a running request.
type Progress struct {
	ElapsedSec  int64   `json:"elapsed_sec"`
	Rows        int64   `json:"rows"`
	MemPct      float64 `json:"mem_pct"`
	ShardsDone  int     `json:"shards_done"`
	TotalShards int     `json:"total_shards"`
}

// Consumer receives normalized row batches. Implementations must tolerate
// concurrent OnBatch calls: in parallel mode several shards flush at once.
type Consumer interface {
	OnBatch(rows []shard.Row) error
}

// Target pairs a shard name with its executor.
type Target struct {
	Name     string
	Executor shard.Executor
}

// Request is one fan-out run over a rewritten statement.
type Request struct {
	SQL    string
	Params map[string]any

	Targets []Target

	ConsolidationType catalog.ConsolidationType
	Consolidable      bool
	// ForcesPagination keeps the keyset loop even for aggregation
	// templates, for exports that must bound every fetch.
	ForcesPagination bool
	Strategy         analyzer.Strategy

	Consumer   Consumer
	OnProgress func(Progress)
}

// Result is the outcome of a run. Rows is the total delivered to the
// consumer and always equals the sum of the per-shard outcome counts.
type Result struct {
	Rows     int64          `json:"rows"`
	Mode     Mode           `json:"mode"`
	Estimate Estimate       `json:"estimate"`
	Outcomes []ShardOutcome `json:"outcomes"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Processor owns the tuning knobs shared by every run.
type Processor struct {
	cfg    config.EngineConfig
	probe  MemoryProbe
	clock  Clock
	logger *slog.Logger
}

func New(cfg config.EngineConfig, probe MemoryProbe, clock Clock, logger *slog.Logger) *Processor {
	if probe == nil {
		probe = RuntimeProbe{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Processor{cfg: cfg, probe: probe, clock: clock, logger: logger}
}

// Run executes the request across its targets and returns the folded
// result. Cancellation surfaces as CANCELLED shard outcomes, not an error.
func (processor *Processor) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Targets) == 0 {
		return nil, apperr.ValidationError("no shards selected")
	}
	if req.Consumer == nil {
		return nil, apperr.Internal(errors.New("batch run without a consumer"))
	}

	r := &run{
		Processor: processor,
		req:       req,
		started:   processor.clock.Now(),
	}

	estimate := r.estimate(ctx)
	mode := processor.selectMode(estimate)

	processor.logger.InfoContext(ctx, "batch_run_started",
		slog.String("mode", string(mode)),
		slog.Int64("estimated_total", estimate.Total),
		slog.Int("shards", len(req.Targets)),
	)

	stopBeat := r.startHeartbeat(ctx)
	defer stopBeat()

	var outcomes []ShardOutcome
	switch mode {
	case ModeSequential:
		outcomes = r.runSequential(ctx)
	case ModeHybrid:
		outcomes = r.runWaves(ctx)
	default:
		outcomes = r.runParallel(ctx)
	}

	result := &Result{
		Rows:     r.rows.Load(),
		Mode:     mode,
		Estimate: estimate,
		Outcomes: outcomes,
	}
	for _, name := range estimate.Failed {
		result.Warnings = append(result.Warnings, "estimation failed for shard "+name)
	}
	for _, outcome := range outcomes {
		if outcome.Status == ShardFailed {
			result.Warnings = append(result.Warnings, "shard "+outcome.Shard+" failed: "+outcome.Detail)
		}
	}

	processor.logger.InfoContext(ctx, "batch_run_finished",
		slog.String("mode", string(mode)),
		slog.Int64("rows", result.Rows),
		slog.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// estimate counts the candidate rows on every shard concurrently. A failed
// count degrades to zero so one unreachable province cannot block a run.
func (processor *Processor) estimateTargets(ctx context.Context, req Request) Estimate {
	estimate := Estimate{PerShard: make(map[string]int64, len(req.Targets))}

	var mutex sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(processor.cfg.MaxParallelShards)

	for _, target := range req.Targets {
		target := target
		group.Go(func() error {
			count, err := target.Executor.Count(groupCtx, req.SQL, req.Params)

			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				estimate.Failed = append(estimate.Failed, target.Name)
				estimate.PerShard[target.Name] = 0
				return nil
			}
			estimate.PerShard[target.Name] = count
			return nil
		})
	}
	_ = group.Wait()

	sort.Strings(estimate.Failed)
	for _, count := range estimate.PerShard {
		estimate.Total += count
		if count > estimate.Max {
			estimate.Max = count
		}
	}
	if n := int64(len(estimate.PerShard)); n > 0 {
		estimate.Avg = estimate.Total / n
	}
	return estimate
}

// selectMode picks the execution mode from the estimate. Small totals run
// fully parallel; one oversized shard forces sequential so its pages never
// compete for heap with the rest; everything in between runs in waves.
func (processor *Processor) selectMode(estimate Estimate) Mode {
	cfg := processor.cfg
	switch {
	case estimate.Avg < cfg.ParallelAvgThreshold && estimate.Total < cfg.ParallelTotalThreshold:
		return ModeParallel
	case estimate.Max > cfg.SequentialMaxThreshold:
		return ModeSequential
	default:
		return ModeHybrid
	}
}

// Elapsed time since the run started, using the injected clock.
func (r *run) elapsed() time.Duration {
	return r.clock.Now().Sub(r.started)
}
