package projects

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgCodeForeignKeyViolation = "23503"

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new project with empty version state.
func (r *PGRepo) Create(ctx context.Context, p Project) error {
	const query = `
INSERT INTO projects (
    id,
    user_id,
    title,
    content,
    section_history,
    section_pointers,
    created_at,
    updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`

	content, history, pointers, err := EncodeColumns(p)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		p.ID,
		p.UserID,
		p.Title,
		content,
		history,
		pointers,
		p.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgCodeForeignKeyViolation {
		return ErrOwnerNotFound
	}
	return err
}

// GetByID fetches a live project owned by userID.
func (r *PGRepo) GetByID(ctx context.Context, userID, projectID string) (Project, error) {
	const query = `
SELECT id, user_id, title, content, section_history, section_pointers, created_at, updated_at
FROM projects
WHERE user_id = $1 AND id = $2 AND deleted_at IS NULL
LIMIT 1`
	p, err := ScanRow(r.DB.QueryRowContext(ctx, query, userID, projectID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, err
	}
	return p, nil
}

// ListByUser returns live projects, newest first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Project, error) {
	const query = `
SELECT id, user_id, title, content, section_history, section_pointers, created_at, updated_at
FROM projects
WHERE user_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	rows, err := r.DB.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Project{}
	for rows.Next() {
		p, err := ScanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SoftDelete marks the project deleted. History and ledger records are kept.
func (r *PGRepo) SoftDelete(ctx context.Context, userID, projectID string) error {
	const query = `
UPDATE projects SET deleted_at = now(), updated_at = now()
WHERE user_id = $1 AND id = $2 AND deleted_at IS NULL`
	res, err := r.DB.ExecContext(ctx, query, userID, projectID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ScanRow reads the column list id, user_id, title, content,
// section_history, section_pointers, created_at, updated_at.
func ScanRow(row rowScanner) (Project, error) {
	var p Project
	var content, history, pointers []byte
	var updatedAt sql.NullTime
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Title,
		&content,
		&history,
		&pointers,
		&p.CreatedAt,
		&updatedAt,
	); err != nil {
		return Project{}, err
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time
	}
	if err := DecodeColumns(&p, content, history, pointers); err != nil {
		return Project{}, err
	}
	return p, nil
}
