// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package batch

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tramoapp/tramo/internal/core/catalog"
	"github.com/tramoapp/tramo/internal/core/rewriter"
	"github.com/tramoapp/tramo/internal/core/shard"
	"github.com/tramoapp/tramo/internal/platform/constants"
)

const (
	// streamBufferSize is the flush granularity on the streaming path.
	streamBufferSize = 1_000
	// memoryYieldPause is the wave pause under heap pressure.
	memoryYieldPause = 50 * time.Millisecond
	// memoryBackoffPause precedes giving up on a shard that stays over the
	// high-water mark at the minimum batch size.
	memoryBackoffPause = 100 * time.Millisecond
)

// errSustainedPressure aborts a shard whose heap stays over the high-water
// mark through the backoff pause.
var errSustainedPressure = errors.New("aborted under sustained memory pressure")

// run is the per-request state. The Processor stays stateless across runs.
type run struct {
	*Processor
	req     Request
	started time.Time

	rows    atomic.Int64
	done    atomic.Int64
	cursors sync.Map // shard name -> last captured cursor params

	lastBeat atomic.Int64 // unix nanos of the last emitted heartbeat
}

func (r *run) estimate(ctx context.Context) Estimate {
	return r.estimateTargets(ctx, r.req)
}

func (r *run) runParallel(ctx context.Context) []ShardOutcome {
	pool := NewWorkerPool(r.cfg.MaxParallelShards, r.cfg.WorkerQueueDepth)

	outcomes := make([]ShardOutcome, len(r.req.Targets))
	var wait sync.WaitGroup
	for i, target := range r.req.Targets {
		i, target := i, target
		wait.Add(1)
		pool.Submit(func() {
			defer wait.Done()
			outcomes[i] = r.processShard(ctx, target)
		})
	}
	wait.Wait()
	pool.Close()
	return outcomes
}

func (r *run) runSequential(ctx context.Context) []ShardOutcome {
	outcomes := make([]ShardOutcome, 0, len(r.req.Targets))
	for _, target := range r.req.Targets {
		outcomes = append(outcomes, r.processShard(ctx, target))
	}
	return outcomes
}

// runWaves processes shards in waves of the pool width. Between waves it
// yields briefly when the heap is over the yield mark, giving the collector
// room before the next burst.
func (r *run) runWaves(ctx context.Context) []ShardOutcome {
	width := r.cfg.MaxParallelShards
	if width < 1 {
		width = 1
	}

	outcomes := make([]ShardOutcome, len(r.req.Targets))
	for start := 0; start < len(r.req.Targets); start += width {
		end := min(start+width, len(r.req.Targets))

		var wait sync.WaitGroup
		for i := start; i < end; i++ {
			wait.Add(1)
			go func(i int) {
				defer wait.Done()
				outcomes[i] = r.processShard(ctx, r.req.Targets[i])
			}(i)
		}
		wait.Wait()

		if end < len(r.req.Targets) && r.probe.UsedFraction() > r.cfg.MemoryYield {
			r.clock.Sleep(memoryYieldPause)
		}
	}
	return outcomes
}

// processShard picks the inner loop for one shard. Aggregation templates
// that consolidate run single-shot: the grouped result is already small.
// Streaming consolidation and unpaginated raw templates stream. The keyset
// loop runs only when the strategy carries cursor parameters to advance;
// without them a re-issued page is identical to the last one, so the
// remaining cursor-less strategies get exactly one bounded fetch.
func (r *run) processShard(ctx context.Context, target Target) ShardOutcome {
	defer r.done.Add(1)

	switch {
	case r.req.ConsolidationType == catalog.ConsolidationAggregation &&
		r.req.Consolidable && !r.req.ForcesPagination:
		return r.singleShot(ctx, target)
	case r.req.ConsolidationType.IsStreaming():
		return r.streamShard(ctx, target)
	case r.req.ConsolidationType == catalog.ConsolidationRaw && !hasCursor(r.req):
		return r.streamShard(ctx, target)
	case !hasCursor(r.req):
		return r.fetchOnce(ctx, target, r.req.Params)
	default:
		return r.pageShard(ctx, target)
	}
}

func hasCursor(req Request) bool {
	for _, column := range req.Strategy.KeyColumns {
		if column.ParamName != "" {
			return true
		}
	}
	return false
}

// singleShot fetches the whole grouped result in one query. The LIMIT the
// rewriter appended is bound to the hard row ceiling rather than removed,
// so a wrong estimate still cannot pull an unbounded set.
func (r *run) singleShot(ctx context.Context, target Target) ShardOutcome {
	params := maps.Clone(r.req.Params)
	if params == nil {
		params = map[string]any{}
	}
	params[rewriter.ParamLimit] = constants.MaxFilterLimit
	return r.fetchOnce(ctx, target, params)
}

// fetchOnce issues a single bounded query and delivers it as one batch.
func (r *run) fetchOnce(ctx context.Context, target Target, params map[string]any) ShardOutcome {
	if ctx.Err() != nil {
		return r.cancelled(target, 0)
	}

	rows, err := target.Executor.Query(ctx, r.req.SQL, params)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancelled(target, 0)
		}
		return r.failed(ctx, target, 0, err)
	}
	delivered, err := r.flush(ctx, target, rows)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancelled(target, delivered)
		}
		return r.failed(ctx, target, delivered, err)
	}
	return ShardOutcome{Shard: target.Name, Status: ShardDone, Rows: delivered}
}

// streamShard scans the shard once and flushes fixed-size buffers as they
// fill, so memory per shard stays bounded by the buffer, not the result.
// Each flush checks heap pressure: the stream pauses over the high-water
// mark and aborts the shard when pressure survives the backoff.
func (r *run) streamShard(ctx context.Context, target Target) ShardOutcome {
	var delivered int64
	buffer := make([]shard.Row, 0, streamBufferSize)

	err := target.Executor.Stream(ctx, r.req.SQL, r.req.Params, func(row shard.Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		buffer = append(buffer, row)
		if len(buffer) < streamBufferSize {
			return nil
		}
		n, err := r.flush(ctx, target, buffer)
		delivered += n
		buffer = buffer[:0]
		if err != nil {
			return err
		}
		return r.memoryCheck()
	})
	if err == nil && len(buffer) > 0 {
		var n int64
		n, err = r.flush(ctx, target, buffer)
		delivered += n
	}

	switch {
	case err == nil:
		return ShardOutcome{Shard: target.Name, Status: ShardDone, Rows: delivered}
	case ctx.Err() != nil:
		return r.cancelled(target, delivered)
	default:
		return r.failed(ctx, target, delivered, err)
	}
}

// pageShard is the keyset loop: fetch a batch, flush it, advance the cursor
// from the last row, repeat. A short page ends the shard; a full page means
// there may be more, so one more fetch is issued.
func (r *run) pageShard(ctx context.Context, target Target) ShardOutcome {
	params := maps.Clone(r.req.Params)
	if params == nil {
		params = map[string]any{}
	}

	var delivered int64
	size := r.cfg.BatchSize

	for {
		if ctx.Err() != nil {
			return r.cancelled(target, delivered)
		}

		var ok bool
		size, ok = r.adaptiveSize(size)
		if !ok {
			return ShardOutcome{
				Shard:  target.Name,
				Status: ShardFailed,
				Rows:   delivered,
				Detail: "aborted under sustained memory pressure",
			}
		}
		params[rewriter.ParamLimit] = size

		rows, err := target.Executor.Query(ctx, r.req.SQL, params)
		if err != nil {
			if ctx.Err() != nil {
				return r.cancelled(target, delivered)
			}
			return r.failed(ctx, target, delivered, err)
		}

		if len(rows) > 0 {
			n, err := r.flush(ctx, target, rows)
			delivered += n
			if err != nil {
				if ctx.Err() != nil {
					return r.cancelled(target, delivered)
				}
				return r.failed(ctx, target, delivered, err)
			}

			cursor := captureCursor(rows[len(rows)-1], r.req.Strategy)
			maps.Copy(params, cursor)
			r.cursors.Store(target.Name, cursor)
		}

		if len(rows) < size {
			return ShardOutcome{Shard: target.Name, Status: ShardDone, Rows: delivered}
		}
	}
}

// memoryCheck pauses after a streaming flush when the heap is over the
// high-water mark, aborting the shard when the pressure outlasts the
// backoff pause.
func (r *run) memoryCheck() error {
	if r.probe.UsedFraction() <= r.cfg.MemoryHighWater {
		return nil
	}
	r.clock.Sleep(memoryBackoffPause)
	if r.probe.UsedFraction() > r.cfg.MemoryHighWater {
		return errSustainedPressure
	}
	return nil
}

// adaptiveSize resizes the next fetch from heap pressure. Over the
// high-water mark the size halves down to the floor; when it is already at
// the floor and pressure persists after a short pause, the shard gives up
// rather than push the process over. Below the mark the size resets from
// the configured base, capped while free headroom is thin.
func (r *run) adaptiveSize(current int) (int, bool) {
	used := r.probe.UsedFraction()

	if used > r.cfg.MemoryHighWater {
		if current <= r.cfg.MinBatchSize {
			r.clock.Sleep(memoryBackoffPause)
			if r.probe.UsedFraction() > r.cfg.MemoryHighWater {
				return current, false
			}
			return r.cfg.MinBatchSize, true
		}
		return max(current/2, r.cfg.MinBatchSize), true
	}

	free := 1 - used
	var next int
	switch {
	case free < 0.20:
		next = r.cfg.BatchSize / 4
	case free < 0.30:
		next = r.cfg.BatchSize / 2
	default:
		next = min(r.cfg.BatchSize, r.cfg.MaxBatchSize)
	}
	if next < 1 {
		next = 1
	}
	return next, true
}

// flush normalizes a batch and hands it to the consumer. Every delivered
// row carries the shard name as its province so downstream consolidation
// never depends on the shard projecting one.
func (r *run) flush(ctx context.Context, target Target, rows []shard.Row) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	normalized := make([]shard.Row, len(rows))
	for i, row := range rows {
		out := make(shard.Row, len(row)+1)
		maps.Copy(out, row)
		out["provincia"] = target.Name
		normalized[i] = out
	}

	if err := r.req.Consumer.OnBatch(normalized); err != nil {
		return 0, err
	}
	n := int64(len(normalized))
	r.rows.Add(n)
	return n, nil
}

func (r *run) cancelled(target Target, delivered int64) ShardOutcome {
	return ShardOutcome{Shard: target.Name, Status: ShardCancelled, Rows: delivered, Detail: "run cancelled"}
}

func (r *run) failed(ctx context.Context, target Target, delivered int64, err error) ShardOutcome {
	r.logger.WarnContext(ctx, "batch_shard_failed",
		slog.String("shard", target.Name),
		slog.String("error", err.Error()),
	)
	return ShardOutcome{Shard: target.Name, Status: ShardFailed, Rows: delivered, Detail: err.Error()}
}

// startHeartbeat emits progress on the configured interval until the
// returned stop function runs. The compare-and-swap on the last beat
// timestamp keeps overlapping tickers (or a slow callback) from emitting
// duplicates.
func (r *run) startHeartbeat(ctx context.Context) func() {
	interval := r.cfg.HeartbeatInterval
	if interval <= 0 || (r.req.OnProgress == nil && r.logger == nil) {
		return func() {}
	}

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-r.clock.After(interval):
				r.beat(ctx, interval)
			}
		}
	}()
	return func() { close(stop) }
}

func (r *run) beat(ctx context.Context, interval time.Duration) {
	now := r.clock.Now().UnixNano()
	last := r.lastBeat.Load()
	if now-last < interval.Nanoseconds()/2 || !r.lastBeat.CompareAndSwap(last, now) {
		return
	}

	progress := Progress{
		ElapsedSec:  int64(r.elapsed().Seconds()),
		Rows:        r.rows.Load(),
		MemPct:      r.probe.UsedFraction() * 100,
		ShardsDone:  int(r.done.Load()),
		TotalShards: len(r.req.Targets),
	}

	r.logger.InfoContext(ctx, "batch_heartbeat",
		slog.Int64("elapsed_sec", progress.ElapsedSec),
		slog.Int64("rows", progress.Rows),
		slog.Float64("mem_pct", progress.MemPct),
		slog.Int("shards_done", progress.ShardsDone),
		slog.Int("total_shards", progress.TotalShards),
	)
	if r.req.OnProgress != nil {
		r.req.OnProgress(progress)
	}
}
