package projects

import "context"

// Repo defines persistence operations for projects. Reads never return
// soft-deleted rows.
type Repo interface {
	Create(ctx context.Context, p Project) error
	GetByID(ctx context.Context, userID, projectID string) (Project, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Project, error)
	SoftDelete(ctx context.Context, userID, projectID string) error
}
