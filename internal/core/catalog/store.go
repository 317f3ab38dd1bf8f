package catalog

import "context"

// Repository is the persistence port for query templates.
type Repository interface {
	FindByCode(context context.Context, code string) (*Template, error)
	List(context context.Context, limit, offset int) ([]*Template, int, error)
	Save(context context.Context, template *Template) error
	Update(context context.Context, template *Template) error
	SoftDelete(context context.Context, code string) error
	MostUsed(context context.Context, limit int) ([]*Template, error)
	PendingAnalysis(context context.Context, limit int) ([]*Template, error)
	RecordUsage(context context.Context, code string) error
}
