package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tramoapp/tramo/internal/platform/database/schema"
	"github.com/tramoapp/tramo/internal/platform/dberr"
)

// PostgresRepository implements [Repository] against the catalog database.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// templateColumns is the SELECT list shared by every read.
func templateColumns() string {
	s := schema.CatalogQueryTemplate
	return fmt.Sprintf("%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s",
		s.ID, s.Code, s.Name, s.SQLText, s.Category,
		s.Consolidable, s.ConsolidationType, s.PaginationStrategy,
		s.EstimatedRows, s.GroupingFields, s.NumericFields,
		s.Version, s.UsageCount, s.AnalyzedAt,
		s.CreatedAt, s.UpdatedAt, s.DeletedAt)
}

func scanTemplate(row interface{ Scan(...any) error }) (*Template, error) {
	t := &Template{}
	var consolidationType, paginationStrategy *string

	err := row.Scan(
		&t.ID, &t.Code, &t.Name, &t.SQLText, &t.Category,
		&t.Consolidable, &consolidationType, &paginationStrategy,
		&t.EstimatedRows, &t.GroupingFields, &t.NumericFields,
		&t.Version, &t.UsageCount, &t.AnalyzedAt,
		&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if consolidationType != nil {
		t.ConsolidationType = ConsolidationType(*consolidationType)
	}
	if paginationStrategy != nil {
		t.PaginationStrategy = PaginationStrategy(*paginationStrategy)
	} else {
		t.PaginationStrategy = PaginationNone
	}
	return t, nil
}

func (repository *PostgresRepository) FindByCode(context context.Context, code string) (*Template, error) {
	s := schema.CatalogQueryTemplate
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND %s IS NULL`,
		templateColumns(), s.Table, s.Code, s.DeletedAt)

	template, err := scanTemplate(repository.db.QueryRow(context, query, code))
	if err != nil {
		return nil, dberr.Wrap(err, "find_template_by_code")
	}
	return template, nil
}

func (repository *PostgresRepository) List(context context.Context, limit, offset int) ([]*Template, int, error) {
	s := schema.CatalogQueryTemplate
	query := fmt.Sprintf(`SELECT %s, COUNT(*) OVER() AS total_count FROM %s WHERE %s IS NULL ORDER BY %s ASC LIMIT $1 OFFSET $2`,
		templateColumns(), s.Table, s.DeletedAt, s.Code)

	rows, err := repository.db.Query(context, query, limit, offset)
	if err != nil {
		return nil, 0, dberr.Wrap(err, "list_templates")
	}
	defer rows.Close()

	templates := make([]*Template, 0)
	total := 0

	for rows.Next() {
		t := &Template{}
		var consolidationType, paginationStrategy *string

		if err := rows.Scan(
			&t.ID, &t.Code, &t.Name, &t.SQLText, &t.Category,
			&t.Consolidable, &consolidationType, &paginationStrategy,
			&t.EstimatedRows, &t.GroupingFields, &t.NumericFields,
			&t.Version, &t.UsageCount, &t.AnalyzedAt,
			&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
			&total,
		); err != nil {
			return nil, 0, dberr.Wrap(err, "scan_template")
		}

		if consolidationType != nil {
			t.ConsolidationType = ConsolidationType(*consolidationType)
		}
		if paginationStrategy != nil {
			t.PaginationStrategy = PaginationStrategy(*paginationStrategy)
		} else {
			t.PaginationStrategy = PaginationNone
		}
		templates = append(templates, t)
	}

	return templates, total, nil
}

func (repository *PostgresRepository) Save(context context.Context, template *Template) error {
	s := schema.CatalogQueryTemplate
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, 1, $11)
		RETURNING %s, %s, %s, %s
	`,
		s.Table,
		s.Code, s.Name, s.SQLText, s.Category, s.Consolidable,
		s.ConsolidationType, s.PaginationStrategy,
		s.EstimatedRows, s.GroupingFields, s.NumericFields,
		s.Version, s.AnalyzedAt,
		s.ID, s.Version, s.CreatedAt, s.UpdatedAt,
	)

	err := repository.db.QueryRow(context, query,
		template.Code, template.Name, template.SQLText, template.Category,
		template.Consolidable, string(template.ConsolidationType), string(template.PaginationStrategy),
		template.EstimatedRows, template.GroupingFields, template.NumericFields,
		template.AnalyzedAt,
	).Scan(&template.ID, &template.Version, &template.CreatedAt, &template.UpdatedAt)

	return dberr.Wrap(err, "save_template")
}

// Update rewrites a template in place and bumps its monotonic version counter.
func (repository *PostgresRepository) Update(context context.Context, template *Template) error {
	s := schema.CatalogQueryTemplate
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = $2, %s = $3, %s = $4, %s = $5,
			%s = NULLIF($6, ''), %s = NULLIF($7, ''),
			%s = $8, %s = $9, %s = $10, %s = $11,
			%s = %s + 1, %s = NOW()
		WHERE %s = $1 AND %s IS NULL
		RETURNING %s, %s
	`,
		s.Table,
		s.Name, s.SQLText, s.Category, s.Consolidable,
		s.ConsolidationType, s.PaginationStrategy,
		s.EstimatedRows, s.GroupingFields, s.NumericFields, s.AnalyzedAt,
		s.Version, s.Version, s.UpdatedAt,
		s.Code, s.DeletedAt,
		s.Version, s.UpdatedAt,
	)

	err := repository.db.QueryRow(context, query,
		template.Code, template.Name, template.SQLText, template.Category,
		template.Consolidable, string(template.ConsolidationType), string(template.PaginationStrategy),
		template.EstimatedRows, template.GroupingFields, template.NumericFields, template.AnalyzedAt,
	).Scan(&template.Version, &template.UpdatedAt)

	return dberr.Wrap(err, "update_template")
}

// SoftDelete hides a template from lookups while keeping the row for audit.
func (repository *PostgresRepository) SoftDelete(context context.Context, code string) error {
	s := schema.CatalogQueryTemplate
	query := fmt.Sprintf(`UPDATE %s SET %s = NOW() WHERE %s = $1 AND %s IS NULL`,
		s.Table, s.DeletedAt, s.Code, s.DeletedAt)

	tag, err := repository.db.Exec(context, query, code)
	if err != nil {
		return dberr.Wrap(err, "soft_delete_template")
	}
	if tag.RowsAffected() == 0 {
		return dberr.ErrNotFound
	}
	return nil
}

func (repository *PostgresRepository) MostUsed(context context.Context, limit int) ([]*Template, error) {
	s := schema.CatalogQueryTemplate
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s IS NULL ORDER BY %s DESC, %s ASC LIMIT $1`,
		templateColumns(), s.Table, s.DeletedAt, s.UsageCount, s.Code)

	return repository.queryTemplates(context, query, "most_used_templates", limit)
}

// PendingAnalysis lists templates that have never been run through the analyzer.
func (repository *PostgresRepository) PendingAnalysis(context context.Context, limit int) ([]*Template, error) {
	s := schema.CatalogQueryTemplate
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s IS NULL AND %s IS NULL ORDER BY %s ASC LIMIT $1`,
		templateColumns(), s.Table, s.DeletedAt, s.AnalyzedAt, s.CreatedAt)

	return repository.queryTemplates(context, query, "pending_analysis_templates", limit)
}

// RecordUsage bumps the usage counter consulted by MostUsed.
func (repository *PostgresRepository) RecordUsage(context context.Context, code string) error {
	s := schema.CatalogQueryTemplate
	query := fmt.Sprintf(`UPDATE %s SET %s = %s + 1 WHERE %s = $1 AND %s IS NULL`,
		s.Table, s.UsageCount, s.UsageCount, s.Code, s.DeletedAt)

	_, err := repository.db.Exec(context, query, code)
	return dberr.Wrap(err, "record_template_usage")
}

func (repository *PostgresRepository) queryTemplates(context context.Context, query, action string, args ...any) ([]*Template, error) {
	rows, err := repository.db.Query(context, query, args...)
	if err != nil {
		return nil, dberr.Wrap(err, action)
	}
	defer rows.Close()

	templates := make([]*Template, 0)
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, dberr.Wrap(err, action)
		}
		templates = append(templates, template)
	}
	return templates, nil
}
