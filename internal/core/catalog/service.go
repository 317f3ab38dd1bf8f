// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/tramoapp/tramo/internal/platform/validate"
)

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// CreateInput carries the operator-supplied fields of a new template.
type CreateInput struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	SQLText  string `json:"sql_text"`
	Category string `json:"category"`
}

// UpdateInput carries the mutable fields of an existing template.
type UpdateInput struct {
	Name     string `json:"name"`
	SQLText  string `json:"sql_text"`
	Category string `json:"category"`
}

func (service *Service) GetTemplate(context context.Context, code string) (*Template, error) {
	return service.repo.FindByCode(context, code)
}

func (service *Service) ListTemplates(context context.Context, limit, offset int) ([]*Template, int, error) {
	return service.repo.List(context, limit, offset)
}

func (service *Service) CreateTemplate(context context.Context, input CreateInput) (*Template, error) {
	v := &validate.Validator{}
	err := v.
		Required("code", input.Code).
		Code("code", input.Code).
		Required("name", input.Name).
		MaxLen("name", input.Name, 200).
		Required("sql_text", input.SQLText).
		Err()
	if err != nil {
		return nil, err
	}

	template := &Template{
		Code:     input.Code,
		Name:     input.Name,
		SQLText:  input.SQLText,
		Category: input.Category,
	}

	if err := service.repo.Save(context, template); err != nil {
		return nil, err
	}

	service.logger.InfoContext(context, "template_created",
		slog.String("code", template.Code),
		slog.Int("version", template.Version),
	)
	return template, nil
}

// UpdateTemplate replaces a template's SQL and metadata. Any edit to the SQL
// text invalidates prior analysis, so analyzer-produced fields are cleared
// until the next run re-analyzes the entry.
func (service *Service) UpdateTemplate(context context.Context, code string, input UpdateInput) (*Template, error) {
	v := &validate.Validator{}
	err := v.
		Required("name", input.Name).
		MaxLen("name", input.Name, 200).
		Required("sql_text", input.SQLText).
		Err()
	if err != nil {
		return nil, err
	}

	template, err := service.repo.FindByCode(context, code)
	if err != nil {
		return nil, err
	}

	sqlChanged := template.SQLText != input.SQLText

	template.Name = input.Name
	template.SQLText = input.SQLText
	template.Category = input.Category

	if sqlChanged {
		template.Consolidable = false
		template.ConsolidationType = ConsolidationUnset
		template.PaginationStrategy = PaginationNone
		template.EstimatedRows = nil
		template.GroupingFields = nil
		template.NumericFields = nil
		template.AnalyzedAt = nil
	}

	if err := service.repo.Update(context, template); err != nil {
		return nil, err
	}

	service.logger.InfoContext(context, "template_updated",
		slog.String("code", template.Code),
		slog.Int("version", template.Version),
		slog.Bool("analysis_reset", sqlChanged),
	)
	return template, nil
}

func (service *Service) DeleteTemplate(context context.Context, code string) error {
	if err := service.repo.SoftDelete(context, code); err != nil {
		return err
	}

	service.logger.InfoContext(context, "template_deleted", slog.String("code", code))
	return nil
}

func (service *Service) MostUsed(context context.Context, limit int) ([]*Template, error) {
	if limit < 1 || limit > 100 {
		limit = 10
	}
	return service.repo.MostUsed(context, limit)
}

func (service *Service) PendingAnalysis(context context.Context, limit int) ([]*Template, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	return service.repo.PendingAnalysis(context, limit)
}

// StoreAnalysis persists analyzer-derived metadata onto a template.
//
// The first runtime analysis of a template is written back so subsequent
// runs reuse the stored verdict instead of re-parsing the SQL.
func (service *Service) StoreAnalysis(context context.Context, code string, analysis Analysis) error {
	template, err := service.repo.FindByCode(context, code)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	template.Consolidable = analysis.Consolidable
	template.ConsolidationType = analysis.ConsolidationType
	template.PaginationStrategy = analysis.PaginationStrategy
	template.EstimatedRows = analysis.EstimatedRows
	template.GroupingFields = analysis.GroupingFields
	template.NumericFields = analysis.NumericFields
	template.AnalyzedAt = &now

	if err := service.repo.Update(context, template); err != nil {
		return err
	}

	service.logger.InfoContext(context, "template_analysis_stored",
		slog.String("code", code),
		slog.String("consolidation_type", string(analysis.ConsolidationType)),
		slog.String("pagination_strategy", string(analysis.PaginationStrategy)),
	)
	return nil
}

// RecordUsage bumps the usage counter. Failures are logged and swallowed:
// accounting must never fail a report run.
func (service *Service) RecordUsage(context context.Context, code string) {
	if err := service.repo.RecordUsage(context, code); err != nil {
		service.logger.WarnContext(context, "template_usage_record_failed",
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
	}
}
