// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

/*
Package report orchestrates one report run end to end: resolve the
template, analyze it, pick a pagination strategy, rewrite the SQL, fan out
across the province shards, consolidate, and serialize.

Analysis is computed once per template version and cached; concurrent first
requests for the same code collapse into a single analyzer pass.
*/
package report

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tramoapp/tramo/internal/core/analyzer"
	"github.com/tramoapp/tramo/internal/core/batch"
	"github.com/tramoapp/tramo/internal/core/catalog"
	"github.com/tramoapp/tramo/internal/core/consolidate"
	"github.com/tramoapp/tramo/internal/core/export"
	"github.com/tramoapp/tramo/internal/core/filter"
	"github.com/tramoapp/tramo/internal/core/rewriter"
	"github.com/tramoapp/tramo/internal/core/shard"
	"github.com/tramoapp/tramo/internal/platform/config"
	"github.com/tramoapp/tramo/pkg/slice"
)

// Catalog is the template surface the orchestrator needs.
type Catalog interface {
	GetTemplate(ctx context.Context, code string) (*catalog.Template, error)
	StoreAnalysis(ctx context.Context, code string, analysis catalog.Analysis) error
	RecordUsage(ctx context.Context, code string)
}

// Targets resolves shard names to executors. The production implementation
// wraps the shard registry.
type Targets interface {
	Resolve(provinces []string) []batch.Target
}

// Summary is the metadata of one finished run.
type Summary struct {
	Code          string                     `json:"code"`
	Rows          int64                      `json:"rows"`
	Mode          batch.Mode                 `json:"mode"`
	Consolidation catalog.ConsolidationType  `json:"consolidation"`
	Strategy      catalog.PaginationStrategy `json:"strategy"`
	Warnings      []string                   `json:"warnings,omitempty"`
	Elapsed       time.Duration              `json:"-"`
}

type analysis struct {
	verdict  analyzer.Verdict
	strategy analyzer.Strategy
}

// Service wires the engine components behind one entry point.
type Service struct {
	catalog   Catalog
	targets   Targets
	analyzer  *analyzer.Analyzer
	processor *batch.Processor
	cfg       config.EngineConfig
	logger    *slog.Logger

	flight singleflight.Group
	cache  sync.Map // code@version -> analysis
}

func NewService(
	cat Catalog,
	targets Targets,
	queryAnalyzer *analyzer.Analyzer,
	processor *batch.Processor,
	cfg config.EngineConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		catalog:   cat,
		targets:   targets,
		analyzer:  queryAnalyzer,
		processor: processor,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute runs the template named by code with the given filter and
// serializes the consolidated result into out. Shard failures surface as
// warnings in the summary, never as an error.
func (service *Service) Execute(
	ctx context.Context,
	code string,
	f filter.Filter,
	format export.Format,
	out io.Writer,
	onProgress func(batch.Progress),
) (*Summary, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	template, err := service.catalog.GetTemplate(ctx, code)
	if err != nil {
		return nil, err
	}

	plan, err := service.analyze(ctx, template)
	if err != nil {
		return nil, err
	}

	targets := service.targets.Resolve(f.Provinces)

	rewritten := rewriter.Rewrite(template.SQLText, plan.strategy, rewriter.ShapeOf(f))
	params := rewriter.Bind(f, plan.strategy, f.EffectiveLimit(service.cfg.BatchSize))

	consolidation := plan.verdict.ConsolidationType
	if !plan.verdict.Consolidable {
		consolidation = catalog.ConsolidationRaw
	}

	writer, err := export.ForFormat(format, out)
	if err != nil {
		return nil, err
	}

	// Consolidating runs fold into groups first and serialize once at the
	// end; raw runs stream straight into the format writer.
	var consumer batch.Consumer = writer
	var grouped *consolidate.Grouped
	if consolidation != catalog.ConsolidationRaw {
		grouped = consolidate.NewGrouped(consolidate.PlanFromVerdict(plan.verdict))
		consumer = grouped
	}

	started := time.Now()
	result, err := service.processor.Run(ctx, batch.Request{
		SQL:               rewritten,
		Params:            params,
		Targets:           targets,
		ConsolidationType: consolidation,
		Consolidable:      plan.verdict.Consolidable,
		ForcesPagination:  f.ForcesPagination(),
		Strategy:          plan.strategy,
		Consumer:          consumer,
		OnProgress:        onProgress,
	})
	if err != nil {
		return nil, err
	}
	// The processor folds cancellation into per-shard outcomes and returns
	// nil; surface it here so an async caller marks the task cancelled
	// instead of storing a truncated artifact.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := result.Rows
	if grouped != nil {
		merged := grouped.Rows()
		rows = int64(len(merged))
		if len(merged) > 0 {
			if err := writer.OnBatch(merged); err != nil {
				return nil, err
			}
		}
	}
	if err := writer.Finish(); err != nil {
		return nil, err
	}

	service.catalog.RecordUsage(ctx, code)

	summary := &Summary{
		Code:          code,
		Rows:          rows,
		Mode:          result.Mode,
		Consolidation: consolidation,
		Strategy:      plan.strategy.Kind,
		Warnings:      result.Warnings,
		Elapsed:       time.Since(started),
	}

	service.logger.InfoContext(ctx, "report_executed",
		slog.String("code", code),
		slog.Int64("rows", summary.Rows),
		slog.String("mode", string(summary.Mode)),
		slog.String("consolidation", string(summary.Consolidation)),
		slog.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

// analyze returns the cached verdict and strategy for a template version,
// computing it once under singleflight on first use. Freshly analyzed
// templates get their metadata written back to the catalog.
func (service *Service) analyze(ctx context.Context, template *catalog.Template) (analysis, error) {
	key := template.Code + "@" + strconv.Itoa(template.Version)
	if cached, ok := service.cache.Load(key); ok {
		return cached.(analysis), nil
	}

	computed, err, _ := service.flight.Do(key, func() (any, error) {
		verdict := service.analyzer.Analyze(template.SQLText)
		strategy := analyzer.ChooseStrategy(template.SQLText, verdict)
		result := analysis{verdict: verdict, strategy: strategy}
		service.cache.Store(key, result)

		if !template.Analyzed() {
			if err := service.catalog.StoreAnalysis(ctx, template.Code, catalog.Analysis{
				Consolidable:       verdict.Consolidable,
				ConsolidationType:  verdict.ConsolidationType,
				PaginationStrategy: strategy.Kind,
				EstimatedRows:      verdict.EstimatedRows,
				GroupingFields:     verdict.GroupingFields,
				NumericFields:      verdict.NumericFields,
			}); err != nil {
				service.logger.WarnContext(ctx, "analysis_backfill_failed",
					slog.String("code", template.Code),
					slog.String("error", err.Error()),
				)
			}
		}
		return result, nil
	})
	if err != nil {
		return analysis{}, err
	}
	return computed.(analysis), nil
}

// RegistryTargets adapts the shard registry to the Targets interface.
type RegistryTargets struct {
	registry *shard.Registry
	timeout  time.Duration
	logger   *slog.Logger
}

func NewRegistryTargets(registry *shard.Registry, queryTimeout time.Duration, logger *slog.Logger) *RegistryTargets {
	return &RegistryTargets{registry: registry, timeout: queryTimeout, logger: logger}
}

func (targets *RegistryTargets) Resolve(provinces []string) []batch.Target {
	return slice.Map(targets.registry.Select(provinces), func(s *shard.Shard) batch.Target {
		return batch.Target{
			Name:     s.Name,
			Executor: shard.NewExecutor(s, targets.timeout, targets.logger),
		}
	})
}
