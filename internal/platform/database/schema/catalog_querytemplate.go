package schema

// CatalogQueryTemplateTable represents the 'catalog.query_template' table
type CatalogQueryTemplateTable struct {
	Table              string
	ID                 string
	Code               string
	Name               string
	SQLText            string
	Category           string
	Consolidable       string
	ConsolidationType  string
	PaginationStrategy string
	EstimatedRows      string
	GroupingFields     string
	NumericFields      string
	Version            string
	UsageCount         string
	AnalyzedAt         string
	CreatedAt          string
	UpdatedAt          string
	DeletedAt          string
}

// CatalogQueryTemplate is the schema definition for catalog.query_template
var CatalogQueryTemplate = CatalogQueryTemplateTable{
	Table:              "catalog.query_template",
	ID:                 "id",
	Code:               "code",
	Name:               "name",
	SQLText:            "sql_text",
	Category:           "category",
	Consolidable:       "consolidable",
	ConsolidationType:  "consolidation_type",
	PaginationStrategy: "pagination_strategy",
	EstimatedRows:      "estimated_rows",
	GroupingFields:     "grouping_fields",
	NumericFields:      "numeric_fields",
	Version:            "version",
	UsageCount:         "usage_count",
	AnalyzedAt:         "analyzed_at",
	CreatedAt:          "created_at",
	UpdatedAt:          "updated_at",
	DeletedAt:          "deleted_at",
}

func (t CatalogQueryTemplateTable) Columns() []string {
	return []string{
		t.ID, t.Code, t.Name, t.SQLText, t.Category,
		t.Consolidable, t.ConsolidationType, t.PaginationStrategy,
		t.EstimatedRows, t.GroupingFields, t.NumericFields,
		t.Version, t.UsageCount, t.AnalyzedAt,
		t.CreatedAt, t.UpdatedAt, t.DeletedAt,
	}
}
