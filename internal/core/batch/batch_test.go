// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramoapp/tramo/internal/core/analyzer"
	"github.com/tramoapp/tramo/internal/core/catalog"
	"github.com/tramoapp/tramo/internal/core/rewriter"
	"github.com/tramoapp/tramo/internal/core/shard"
	"github.com/tramoapp/tramo/internal/platform/config"
	"github.com/tramoapp/tramo/internal/platform/constants"
)

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		ParallelAvgThreshold:   50_000,
		ParallelTotalThreshold: 300_000,
		SequentialMaxThreshold: 200_000,
		AggregationThreshold:   50_000,
		HighVolumeThreshold:    100_000,
		MaxParallelShards:      6,
		WorkerQueueDepth:       100,
		BatchSize:              1_000,
		MaxBatchSize:           10_000,
		MinBatchSize:           500,
		MemoryHighWater:        0.85,
		MemoryYield:            0.70,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExecutor serves a fixed number of synthetic rows, honoring the limit
// and lastId cursor parameters the way a rewritten keyset query would.
type fakeExecutor struct {
	mu        sync.Mutex
	total     int
	failQuery bool
	failCount bool
	queries   []map[string]any
}

func (f *fakeExecutor) Query(_ context.Context, _ string, params map[string]any) ([]shard.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failQuery {
		return nil, errors.New("connection refused")
	}

	snapshot := make(map[string]any, len(params))
	for k, v := range params {
		snapshot[k] = v
	}
	f.queries = append(f.queries, snapshot)

	limit := f.total
	if v, ok := params[rewriter.ParamLimit].(int); ok {
		limit = v
	}
	after := 0
	if v, ok := params[rewriter.ParamLastID].(int64); ok {
		after = int(v)
	}

	rows := make([]shard.Row, 0, limit)
	for id := after + 1; id <= f.total && len(rows) < limit; id++ {
		rows = append(rows, shard.Row{
			"id":           int64(id),
			"serie_equipo": "EQ-7",
			"lugar":        "Av. Rivadavia 1200",
		})
	}
	return rows, nil
}

func (f *fakeExecutor) Stream(ctx context.Context, sql string, params map[string]any, onRow func(shard.Row) error) error {
	rows, err := f.Query(ctx, sql, params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := onRow(row); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeExecutor) Count(context.Context, string, map[string]any) (int64, error) {
	if f.failCount {
		return 0, errors.New("timeout")
	}
	return int64(f.total), nil
}

type fakeConsumer struct {
	mu      sync.Mutex
	batches [][]shard.Row
	onBatch func(batch []shard.Row)
}

func (f *fakeConsumer) OnBatch(rows []shard.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, rows)
	if f.onBatch != nil {
		f.onBatch(rows)
	}
	return nil
}

func (f *fakeConsumer) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, batch := range f.batches {
		total += len(batch)
	}
	return total
}

// fakeProbe pops queued readings and then sticks at the last one.
type fakeProbe struct {
	mu       sync.Mutex
	readings []float64
}

func (f *fakeProbe) UsedFraction() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.readings) == 0 {
		return 0.10
	}
	value := f.readings[0]
	if len(f.readings) > 1 {
		f.readings = f.readings[1:]
	}
	return value
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	ticks  chan time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
}

// After hands out one shared tick channel so tests fire heartbeats at will.
func (f *fakeClock) After(time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ticks == nil {
		f.ticks = make(chan time.Time)
	}
	return f.ticks
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// gatedExecutor blocks Query until its gate opens, keeping a run in flight.
type gatedExecutor struct {
	fakeExecutor
	gate chan struct{}
}

func (g *gatedExecutor) Query(ctx context.Context, sql string, params map[string]any) ([]shard.Row, error) {
	<-g.gate
	return g.fakeExecutor.Query(ctx, sql, params)
}

func keysetStrategy() analyzer.Strategy {
	return analyzer.Strategy{
		Kind: catalog.PaginationKeysetWithID,
		KeyColumns: []analyzer.KeyColumn{
			{Name: "i.id", ParamName: rewriter.ParamLastID, SQLType: "bigint"},
			{Name: "i.serie_equipo", ParamName: rewriter.ParamLastSerial, SQLType: "text"},
			{Name: "i.lugar", ParamName: rewriter.ParamLastLocation, SQLType: "text"},
		},
	}
}

func TestSelectMode_Boundaries(t *testing.T) {
	processor := New(testConfig(), &fakeProbe{}, &fakeClock{}, testLogger())

	tests := []struct {
		name     string
		estimate Estimate
		want     Mode
	}{
		{"just under both limits", Estimate{Avg: 49_999, Total: 299_999, Max: 60_000}, ModeParallel},
		{"avg at the limit", Estimate{Avg: 50_000, Total: 300_000, Max: 60_000}, ModeHybrid},
		{"total at the limit", Estimate{Avg: 49_999, Total: 300_000, Max: 60_000}, ModeHybrid},
		{"one oversized shard", Estimate{Avg: 80_000, Total: 400_000, Max: 200_001}, ModeSequential},
		{"max at the sequential limit", Estimate{Avg: 80_000, Total: 400_000, Max: 200_000}, ModeHybrid},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, processor.selectMode(test.estimate))
		})
	}
}

/*
TestRun_KeysetLoop verifies the page loop termination rule: a short page
ends the shard, a full page triggers exactly one more fetch.
*/
func TestRun_KeysetLoop(t *testing.T) {
	tests := []struct {
		name        string
		total       int
		wantQueries int
	}{
		{"short final page", 2_500, 3},
		{"exact multiple needs one extra fetch", 2_000, 3},
		{"empty shard", 0, 1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			executor := &fakeExecutor{total: test.total}
			consumer := &fakeConsumer{}

			processor := New(testConfig(), &fakeProbe{}, &fakeClock{}, testLogger())
			result, err := processor.Run(context.Background(), Request{
				SQL:               "SELECT i.id FROM infracciones i LIMIT :limit",
				Params:            map[string]any{},
				Targets:           []Target{{Name: "Buenos Aires", Executor: executor}},
				ConsolidationType: catalog.ConsolidationRaw,
				Strategy:          keysetStrategy(),
				Consumer:          consumer,
			})
			require.NoError(t, err)

			assert.Len(t, executor.queries, test.wantQueries)
			assert.Equal(t, int64(test.total), result.Rows)
			assert.Equal(t, test.total, consumer.rowCount())

			require.Len(t, result.Outcomes, 1)
			assert.Equal(t, ShardDone, result.Outcomes[0].Status)
			assert.Equal(t, int64(test.total), result.Outcomes[0].Rows)
		})
	}
}

func TestRun_CursorAdvancesBetweenPages(t *testing.T) {
	executor := &fakeExecutor{total: 1_500}
	processor := New(testConfig(), &fakeProbe{}, &fakeClock{}, testLogger())

	_, err := processor.Run(context.Background(), Request{
		SQL:               "SELECT i.id FROM infracciones i LIMIT :limit",
		Params:            map[string]any{},
		Targets:           []Target{{Name: "Chaco", Executor: executor}},
		ConsolidationType: catalog.ConsolidationRaw,
		Strategy:          keysetStrategy(),
		Consumer:          &fakeConsumer{},
	})
	require.NoError(t, err)

	require.Len(t, executor.queries, 2)
	assert.NotContains(t, executor.queries[0], rewriter.ParamLastID)
	assert.Equal(t, int64(1_000), executor.queries[1][rewriter.ParamLastID])
	assert.Equal(t, "EQ-7", executor.queries[1][rewriter.ParamLastSerial])
	assert.Equal(t, "Av. Rivadavia 1200", executor.queries[1][rewriter.ParamLastLocation])
}

func TestRun_SingleShotAggregation(t *testing.T) {
	executor := &fakeExecutor{total: 288}
	processor := New(testConfig(), &fakeProbe{}, &fakeClock{}, testLogger())

	result, err := processor.Run(context.Background(), Request{
		SQL:               "SELECT provincia, COUNT(*) FROM infracciones GROUP BY provincia LIMIT :limit",
		Params:            map[string]any{},
		Targets:           []Target{{Name: "Salta", Executor: executor}},
		ConsolidationType: catalog.ConsolidationAggregation,
		Consolidable:      true,
		Strategy:          analyzer.Strategy{Kind: catalog.PaginationLimitOnly},
		Consumer:          &fakeConsumer{},
	})
	require.NoError(t, err)

	require.Len(t, executor.queries, 1)
	assert.Equal(t, constants.MaxFilterLimit, executor.queries[0][rewriter.ParamLimit])
	assert.Equal(t, int64(288), result.Rows)
}

func TestRun_ForcedPaginationKeepsPageLoop(t *testing.T) {
	executor := &fakeExecutor{total: 1_200}
	processor := New(testConfig(), &fakeProbe{}, &fakeClock{}, testLogger())

	_, err := processor.Run(context.Background(), Request{
		SQL:               "SELECT i.id FROM infracciones i LIMIT :limit",
		Params:            map[string]any{},
		Targets:           []Target{{Name: "Salta", Executor: executor}},
		ConsolidationType: catalog.ConsolidationAggregation,
		Consolidable:      true,
		ForcesPagination:  true,
		Strategy:          keysetStrategy(),
		Consumer:          &fakeConsumer{},
	})
	require.NoError(t, err)
	assert.Len(t, executor.queries, 2)
}

/*
TestRun_CursorlessStrategyFetchesOnce guards the page loop entry: a strategy
without cursor parameters can never advance, so re-entering the loop would
re-issue the same full page forever. Forced pagination on a grouped template
therefore gets exactly one bounded fetch.
*/
func TestRun_CursorlessStrategyFetchesOnce(t *testing.T) {
	// Far more rows than the limit, so a livelock would keep finding full pages.
	executor := &fakeExecutor{total: 50_000}
	consumer := &fakeConsumer{}

	processor := New(testConfig(), &fakeProbe{}, &fakeClock{}, testLogger())
	result, err := processor.Run(context.Background(), Request{
		SQL:               "SELECT provincia, COUNT(*) FROM infracciones GROUP BY provincia LIMIT :limit",
		Params:            map[string]any{rewriter.ParamLimit: 1_000},
		Targets:           []Target{{Name: "Tucumán", Executor: executor}},
		ConsolidationType: catalog.ConsolidationAggregation,
		Consolidable:      true,
		ForcesPagination:  true,
		Strategy:          analyzer.Strategy{Kind: catalog.PaginationLimitOnly},
		Consumer:          consumer,
	})
	require.NoError(t, err)

	require.Len(t, executor.queries, 1)
	// The bound limit stays in force rather than the aggregation ceiling.
	assert.Equal(t, 1_000, executor.queries[0][rewriter.ParamLimit])
	assert.Equal(t, int64(1_000), result.Rows)

	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, ShardDone, result.Outcomes[0].Status)
}

func TestRun_ShardFailureDoesNotFailRun(t *testing.T) {
	healthy := &fakeExecutor{total: 700}
	broken := &fakeExecutor{total: 700, failQuery: true}

	processor := New(testConfig(), &fakeProbe{}, &fakeClock{}, testLogger())
	result, err := processor.Run(context.Background(), Request{
		SQL:               "SELECT i.id FROM infracciones i LIMIT :limit",
		Params:            map[string]any{},
		Targets:           []Target{{Name: "Formosa", Executor: healthy}, {Name: "Chubut", Executor: broken}},
		ConsolidationType: catalog.ConsolidationRaw,
		Strategy:          keysetStrategy(),
		Consumer:          &fakeConsumer{},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(700), result.Rows)

	byShard := map[string]ShardOutcome{}
	for _, outcome := range result.Outcomes {
		byShard[outcome.Shard] = outcome
	}
	assert.Equal(t, ShardDone, byShard["Formosa"].Status)
	assert.Equal(t, ShardFailed, byShard["Chubut"].Status)
	assert.NotEmpty(t, byShard["Chubut"].Detail)

	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "Chubut")
}

func TestRun_EstimationFailureDegradesToZero(t *testing.T) {
	executor := &fakeExecutor{total: 300, failCount: true}
	processor := New(testConfig(), &fakeProbe{}, &fakeClock{}, testLogger())

	result, err := processor.Run(context.Background(), Request{
		SQL:               "SELECT i.id FROM infracciones i LIMIT :limit",
		Params:            map[string]any{},
		Targets:           []Target{{Name: "Misiones", Executor: executor}},
		ConsolidationType: catalog.ConsolidationRaw,
		Strategy:          keysetStrategy(),
		Consumer:          &fakeConsumer{},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.Estimate.Total)
	assert.Equal(t, []string{"Misiones"}, result.Estimate.Failed)
	assert.Contains(t, result.Warnings[0], "estimation failed")
	// The run itself still proceeds.
	assert.Equal(t, int64(300), result.Rows)
}

func TestRun_CancellationStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	executor := &fakeExecutor{total: 5_000}
	consumer := &fakeConsumer{}
	consumer.onBatch = func([]shard.Row) { cancel() }

	processor := New(testConfig(), &fakeProbe{}, &fakeClock{}, testLogger())
	result, err := processor.Run(ctx, Request{
		SQL:               "SELECT i.id FROM infracciones i LIMIT :limit",
		Params:            map[string]any{},
		Targets:           []Target{{Name: "Neuquén", Executor: executor}},
		ConsolidationType: catalog.ConsolidationRaw,
		Strategy:          keysetStrategy(),
		Consumer:          consumer,
	})
	require.NoError(t, err)

	assert.Len(t, consumer.batches, 1)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, ShardCancelled, result.Outcomes[0].Status)
}

func TestRun_RowsCarryShardProvince(t *testing.T) {
	executor := &fakeExecutor{total: 3}
	consumer := &fakeConsumer{}

	processor := New(testConfig(), &fakeProbe{}, &fakeClock{}, testLogger())
	_, err := processor.Run(context.Background(), Request{
		SQL:               "SELECT i.id FROM infracciones i LIMIT :limit",
		Params:            map[string]any{},
		Targets:           []Target{{Name: "La Pampa", Executor: executor}},
		ConsolidationType: catalog.ConsolidationRaw,
		Strategy:          keysetStrategy(),
		Consumer:          consumer,
	})
	require.NoError(t, err)

	require.Len(t, consumer.batches, 1)
	for _, row := range consumer.batches[0] {
		assert.Equal(t, "La Pampa", row["provincia"])
	}
}

func TestAdaptiveSize(t *testing.T) {
	cfg := testConfig()

	t.Run("halves over the high-water mark", func(t *testing.T) {
		r := &run{Processor: New(cfg, &fakeProbe{readings: []float64{0.90}}, &fakeClock{}, testLogger())}
		size, ok := r.adaptiveSize(1_000)
		require.True(t, ok)
		assert.Equal(t, 500, size)
	})

	t.Run("never shrinks below the floor", func(t *testing.T) {
		r := &run{Processor: New(cfg, &fakeProbe{readings: []float64{0.90, 0.50}}, &fakeClock{}, testLogger())}
		size, ok := r.adaptiveSize(500)
		require.True(t, ok)
		assert.Equal(t, 500, size)
	})

	t.Run("gives up at the floor under sustained pressure", func(t *testing.T) {
		clock := &fakeClock{}
		r := &run{Processor: New(cfg, &fakeProbe{readings: []float64{0.95, 0.95}}, clock, testLogger())}
		_, ok := r.adaptiveSize(500)
		assert.False(t, ok)
		assert.NotEmpty(t, clock.sleeps)
	})

	t.Run("caps at a quarter when free memory is scarce", func(t *testing.T) {
		r := &run{Processor: New(cfg, &fakeProbe{readings: []float64{0.82}}, &fakeClock{}, testLogger())}
		size, ok := r.adaptiveSize(1_000)
		require.True(t, ok)
		assert.Equal(t, 250, size)
	})

	t.Run("caps at half with thin headroom", func(t *testing.T) {
		r := &run{Processor: New(cfg, &fakeProbe{readings: []float64{0.75}}, &fakeClock{}, testLogger())}
		size, ok := r.adaptiveSize(1_000)
		require.True(t, ok)
		assert.Equal(t, 500, size)
	})

	t.Run("recovers to the base size", func(t *testing.T) {
		r := &run{Processor: New(cfg, &fakeProbe{readings: []float64{0.10}}, &fakeClock{}, testLogger())}
		size, ok := r.adaptiveSize(250)
		require.True(t, ok)
		assert.Equal(t, 1_000, size)
	})
}

func TestRun_StreamingPathFlushesInChunks(t *testing.T) {
	executor := &fakeExecutor{total: 2_300}
	consumer := &fakeConsumer{}

	processor := New(testConfig(), &fakeProbe{}, &fakeClock{}, testLogger())
	result, err := processor.Run(context.Background(), Request{
		SQL:               "SELECT localidad, tipo, COUNT(*) FROM infracciones GROUP BY localidad, tipo",
		Params:            map[string]any{},
		Targets:           []Target{{Name: "Santa Cruz", Executor: executor}},
		ConsolidationType: catalog.ConsolidationAggregationHighVolume,
		Consolidable:      true,
		Strategy:          analyzer.Strategy{Kind: catalog.PaginationLimitOnly},
		Consumer:          consumer,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2_300), result.Rows)
	require.Len(t, consumer.batches, 3)
	assert.Len(t, consumer.batches[0], 1_000)
	assert.Len(t, consumer.batches[2], 300)
}

func TestRun_StreamingChecksMemoryAtEveryFlush(t *testing.T) {
	streamingRequest := func(executor *fakeExecutor, consumer *fakeConsumer) Request {
		return Request{
			SQL:               "SELECT localidad, tipo, COUNT(*) FROM infracciones GROUP BY localidad, tipo",
			Params:            map[string]any{},
			Targets:           []Target{{Name: "Entre Ríos", Executor: executor}},
			ConsolidationType: catalog.ConsolidationAggregationHighVolume,
			Consolidable:      true,
			Strategy:          analyzer.Strategy{Kind: catalog.PaginationLimitOnly},
			Consumer:          consumer,
		}
	}

	t.Run("pressure that passes after the backoff", func(t *testing.T) {
		clock := &fakeClock{}
		probe := &fakeProbe{readings: []float64{0.90, 0.10}}
		executor := &fakeExecutor{total: 2_500}
		consumer := &fakeConsumer{}

		processor := New(testConfig(), probe, clock, testLogger())
		result, err := processor.Run(context.Background(), streamingRequest(executor, consumer))
		require.NoError(t, err)

		assert.Equal(t, int64(2_500), result.Rows)
		require.Len(t, result.Outcomes, 1)
		assert.Equal(t, ShardDone, result.Outcomes[0].Status)
		assert.Contains(t, clock.sleeps, memoryBackoffPause)
	})

	t.Run("sustained pressure aborts the shard", func(t *testing.T) {
		clock := &fakeClock{}
		probe := &fakeProbe{readings: []float64{0.95}}
		executor := &fakeExecutor{total: 2_500}
		consumer := &fakeConsumer{}

		processor := New(testConfig(), probe, clock, testLogger())
		result, err := processor.Run(context.Background(), streamingRequest(executor, consumer))
		require.NoError(t, err)

		require.Len(t, result.Outcomes, 1)
		assert.Equal(t, ShardFailed, result.Outcomes[0].Status)
		assert.Contains(t, result.Outcomes[0].Detail, "sustained memory pressure")
		// The first buffer was already delivered before the abort.
		assert.Equal(t, int64(1_000), result.Rows)
	})
}

func TestHeartbeat_DropsBeatsCloserThanHalfInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_000, 0)}
	var beats []Progress

	r := &run{
		Processor: New(testConfig(), &fakeProbe{}, clock, testLogger()),
		req: Request{
			Targets:    []Target{{Name: "Jujuy"}},
			OnProgress: func(p Progress) { beats = append(beats, p) },
		},
		started: clock.Now(),
	}
	interval := 30 * time.Second

	r.beat(context.Background(), interval)
	require.Len(t, beats, 1)

	clock.advance(5 * time.Second)
	r.beat(context.Background(), interval)
	require.Len(t, beats, 1)

	clock.advance(20 * time.Second)
	r.beat(context.Background(), interval)
	require.Len(t, beats, 2)
	assert.Equal(t, int64(25), beats[1].ElapsedSec)
}

func TestRun_HeartbeatFiresOnClockTick(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 30 * time.Second

	clock := &fakeClock{now: time.Unix(1_000, 0), ticks: make(chan time.Time)}
	gate := make(chan struct{})
	executor := &gatedExecutor{fakeExecutor: fakeExecutor{total: 5}, gate: gate}

	progress := make(chan Progress, 1)
	processor := New(cfg, &fakeProbe{}, clock, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := processor.Run(context.Background(), Request{
			SQL:               "SELECT i.id FROM infracciones i LIMIT :limit",
			Params:            map[string]any{},
			Targets:           []Target{{Name: "Mendoza", Executor: executor}},
			ConsolidationType: catalog.ConsolidationRaw,
			Strategy:          keysetStrategy(),
			Consumer:          &fakeConsumer{},
			OnProgress: func(p Progress) {
				select {
				case progress <- p:
				default:
				}
			},
		})
		assert.NoError(t, err)
	}()

	clock.ticks <- time.Time{}
	select {
	case p := <-progress:
		assert.Equal(t, 1, p.TotalShards)
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat after a clock tick")
	}

	close(gate)
	<-done
}
