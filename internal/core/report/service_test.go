// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package report

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramoapp/tramo/internal/core/analyzer"
	"github.com/tramoapp/tramo/internal/core/batch"
	"github.com/tramoapp/tramo/internal/core/catalog"
	"github.com/tramoapp/tramo/internal/core/export"
	"github.com/tramoapp/tramo/internal/core/filter"
	"github.com/tramoapp/tramo/internal/core/shard"
	"github.com/tramoapp/tramo/internal/core/task"
	"github.com/tramoapp/tramo/internal/platform/apperr"
	"github.com/tramoapp/tramo/internal/platform/config"
)

type fakeCatalog struct {
	mu        sync.Mutex
	templates map[string]*catalog.Template
	analyses  []catalog.Analysis
	usages    []string
}

func (f *fakeCatalog) GetTemplate(_ context.Context, code string) (*catalog.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	template, ok := f.templates[code]
	if !ok {
		return nil, apperr.QueryNotFound(code)
	}
	copied := *template
	return &copied, nil
}

func (f *fakeCatalog) StoreAnalysis(_ context.Context, code string, analysis catalog.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses = append(f.analyses, analysis)
	if template, ok := f.templates[code]; ok {
		now := template.CreatedAt
		template.AnalyzedAt = &now
	}
	return nil
}

func (f *fakeCatalog) RecordUsage(_ context.Context, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usages = append(f.usages, code)
}

// fakeShardExecutor serves canned rows and honors limit/lastId paging.
type fakeShardExecutor struct {
	rows []shard.Row
}

func (f *fakeShardExecutor) Query(_ context.Context, _ string, params map[string]any) ([]shard.Row, error) {
	limit := len(f.rows)
	if v, ok := params["limit"].(int); ok {
		limit = v
	}
	after := int64(0)
	if v, ok := params["lastId"].(int64); ok {
		after = v
	}

	out := make([]shard.Row, 0, limit)
	for _, row := range f.rows {
		if id, ok := row["id"].(int64); ok && id <= after {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeShardExecutor) Stream(ctx context.Context, sql string, params map[string]any, onRow func(shard.Row) error) error {
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

func (f *fakeShardExecutor) Count(context.Context, string, map[string]any) (int64, error) {
	return int64(len(f.rows)), nil
}

// cancellingExecutor cancels the run context on its first query, the way a
// caller giving up mid-run would.
type cancellingExecutor struct {
	fakeShardExecutor
	cancel context.CancelFunc
}

func (c *cancellingExecutor) Query(ctx context.Context, sql string, params map[string]any) ([]shard.Row, error) {
	c.cancel()
	return c.fakeShardExecutor.Query(ctx, sql, params)
}

// stalledExecutor blocks every query until the run context is cancelled.
type stalledExecutor struct {
	fakeShardExecutor
}

func (s *stalledExecutor) Query(ctx context.Context, _ string, _ map[string]any) ([]shard.Row, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeTargets struct {
	targets []batch.Target
}

func (f *fakeTargets) Resolve([]string) []batch.Target { return f.targets }

func testService(templates map[string]*catalog.Template, targets []batch.Target) (*Service, *fakeCatalog) {
	cfg := config.EngineConfig{
		ParallelAvgThreshold:   50_000,
		ParallelTotalThreshold: 300_000,
		SequentialMaxThreshold: 200_000,
		MaxParallelShards:      6,
		WorkerQueueDepth:       100,
		BatchSize:              1_000,
		MaxBatchSize:           10_000,
		MinBatchSize:           500,
		MemoryHighWater:        0.85,
		MemoryYield:            0.70,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cat := &fakeCatalog{templates: templates}
	service := NewService(
		cat,
		&fakeTargets{targets: targets},
		analyzer.New(nil, analyzer.DefaultThresholds()),
		batch.New(cfg, nil, nil, logger),
		cfg,
		logger,
	)
	return service, cat
}

func groupedTemplate() *catalog.Template {
	return &catalog.Template{
		ID:      1,
		Code:    "INFRACCIONES_POR_PROVINCIA_MES",
		Name:    "Infracciones por provincia y mes",
		SQLText: "SELECT provincia, mes, COUNT(*) AS total FROM infracciones GROUP BY provincia, mes",
		Version: 1,
	}
}

func TestExecute_GroupedTemplateConsolidates(t *testing.T) {
	cordoba := &fakeShardExecutor{rows: []shard.Row{
		{"provincia": "x", "mes": int64(1), "total": int64(10)},
	}}
	salta := &fakeShardExecutor{rows: []shard.Row{
		{"provincia": "x", "mes": int64(1), "total": int64(5)},
	}}

	service, cat := testService(
		map[string]*catalog.Template{"INFRACCIONES_POR_PROVINCIA_MES": groupedTemplate()},
		[]batch.Target{
			{Name: "Córdoba", Executor: cordoba},
			{Name: "Salta", Executor: salta},
		},
	)

	var out bytes.Buffer
	summary, err := service.Execute(context.Background(), "INFRACCIONES_POR_PROVINCIA_MES",
		filter.Filter{}, export.FormatJSON, &out, nil)
	require.NoError(t, err)

	assert.Equal(t, catalog.ConsolidationAggregation, summary.Consolidation)
	// One group per shard: row normalization stamps provincia with the
	// shard name, so the two shards stay distinct.
	assert.Equal(t, int64(2), summary.Rows)

	var decoded struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded.Data, 2)
	assert.Equal(t, "Córdoba", decoded.Data[0]["provincia"])
	assert.Equal(t, float64(10), decoded.Data[0]["total"])

	assert.Equal(t, []string{"INFRACCIONES_POR_PROVINCIA_MES"}, cat.usages)
}

func TestExecute_RawTemplateStreams(t *testing.T) {
	executor := &fakeShardExecutor{rows: []shard.Row{
		{"id": int64(1), "lugar": "Ruta 9 km 42"},
		{"id": int64(2), "lugar": "Av. Colón 1500"},
	}}

	template := &catalog.Template{
		ID:      2,
		Code:    "DETALLE_INFRACCIONES",
		Name:    "Detalle de infracciones",
		SQLText: "SELECT i.id, i.lugar FROM infracciones i WHERE i.fecha >= '2024-01-01'",
		Version: 1,
	}

	service, _ := testService(
		map[string]*catalog.Template{"DETALLE_INFRACCIONES": template},
		[]batch.Target{{Name: "Chaco", Executor: executor}},
	)

	var out bytes.Buffer
	summary, err := service.Execute(context.Background(), "DETALLE_INFRACCIONES",
		filter.Filter{}, export.FormatJSON, &out, nil)
	require.NoError(t, err)

	assert.Equal(t, catalog.ConsolidationRaw, summary.Consolidation)
	assert.Equal(t, int64(2), summary.Rows)

	var decoded struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded.Data, 2)
	assert.Equal(t, "Chaco", decoded.Data[0]["provincia"])
}

func TestExecute_UnknownCode(t *testing.T) {
	service, _ := testService(map[string]*catalog.Template{}, nil)

	var out bytes.Buffer
	_, err := service.Execute(context.Background(), "NO_EXISTE", filter.Filter{}, export.FormatJSON, &out, nil)
	require.Error(t, err)
	assert.Equal(t, "QUERY_NOT_FOUND", apperr.As(err).Code)
}

func TestExecute_InvalidFilter(t *testing.T) {
	service, _ := testService(
		map[string]*catalog.Template{"INFRACCIONES_POR_PROVINCIA_MES": groupedTemplate()},
		nil,
	)

	date := time.Now()
	f := filter.Filter{SpecificDate: &date, StartDate: &date}

	var out bytes.Buffer
	_, err := service.Execute(context.Background(), "INFRACCIONES_POR_PROVINCIA_MES", f, export.FormatJSON, &out, nil)
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", apperr.As(err).Code)
}

func detailTemplate() *catalog.Template {
	return &catalog.Template{
		ID:      2,
		Code:    "DETALLE_INFRACCIONES",
		Name:    "Detalle de infracciones",
		SQLText: "SELECT i.id, i.lugar FROM infracciones i WHERE i.fecha >= '2024-01-01'",
		Version: 1,
	}
}

/*
TestExecute_CancelledRunReturnsError pins the cancellation contract: the
shard fan-out converts cancellation into per-shard outcomes and returns nil,
so Execute itself must surface the context error. Without it a cancelled run
would look like a short but successful one.
*/
func TestExecute_CancelledRunReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executor := &cancellingExecutor{
		fakeShardExecutor: fakeShardExecutor{rows: []shard.Row{{"id": int64(1), "lugar": "Ruta 3 km 8"}}},
		cancel:            cancel,
	}
	service, _ := testService(
		map[string]*catalog.Template{"DETALLE_INFRACCIONES": detailTemplate()},
		[]batch.Target{{Name: "Chaco", Executor: executor}},
	)

	var out bytes.Buffer
	_, err := service.Execute(ctx, "DETALLE_INFRACCIONES", filter.Filter{}, export.FormatJSON, &out, nil)
	require.ErrorIs(t, err, context.Canceled)
}

// TestRunnerFactory_CancelledTaskEndsCancelled runs the full async path: a
// report runner submitted through the task manager and cancelled mid-run
// must terminate CANCELLED, never COMPLETED with a truncated artifact.
func TestRunnerFactory_CancelledTaskEndsCancelled(t *testing.T) {
	executor := &stalledExecutor{}
	service, _ := testService(
		map[string]*catalog.Template{"DETALLE_INFRACCIONES": detailTemplate()},
		[]batch.Target{{Name: "Chaco", Executor: executor}},
	)

	manager := task.NewManager(task.NewMemoryStore(), time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	runner, err := service.RunnerFactory()(context.Background(), "DETALLE_INFRACCIONES", filter.Filter{}, export.FormatJSON)
	require.NoError(t, err)

	submitted, err := manager.Submit(context.Background(), "DETALLE_INFRACCIONES", runner)
	require.NoError(t, err)

	waitForTask(t, manager, submitted.ID, func(s task.Task) bool {
		return s.Status == task.StatusRunning
	})
	require.NoError(t, manager.Cancel(context.Background(), submitted.ID))

	final := waitForTask(t, manager, submitted.ID, func(s task.Task) bool {
		return s.Status.Terminal()
	})
	assert.Equal(t, task.StatusCancelled, final.Status)

	// No artifact must be downloadable for a cancelled run.
	_, _, err = manager.Fetch(context.Background(), submitted.ID)
	require.Error(t, err)
	assert.Equal(t, "NOT_READY", apperr.As(err).Code)
}

func waitForTask(t *testing.T, manager *task.Manager, id string, done func(task.Task) bool) task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snapshot, err := manager.Status(context.Background(), id)
		require.NoError(t, err)
		if done(snapshot.Task) {
			return snapshot.Task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached the expected state", id)
	return task.Task{}
}

func TestExecute_AnalysisBackfilledOnce(t *testing.T) {
	executor := &fakeShardExecutor{}
	service, cat := testService(
		map[string]*catalog.Template{"INFRACCIONES_POR_PROVINCIA_MES": groupedTemplate()},
		[]batch.Target{{Name: "Salta", Executor: executor}},
	)

	for i := 0; i < 3; i++ {
		var out bytes.Buffer
		_, err := service.Execute(context.Background(), "INFRACCIONES_POR_PROVINCIA_MES",
			filter.Filter{}, export.FormatJSON, &out, nil)
		require.NoError(t, err)
	}

	require.Len(t, cat.analyses, 1)
	stored := cat.analyses[0]
	assert.True(t, stored.Consolidable)
	assert.Equal(t, catalog.ConsolidationAggregation, stored.ConsolidationType)
	assert.Equal(t, []string{"provincia", "mes"}, stored.GroupingFields)
	assert.Equal(t, []string{"total"}, stored.NumericFields)
}
