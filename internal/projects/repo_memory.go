package projects

import (
	"context"
	"sort"
	"sync"
	"time"
)

// OwnerLookup reports whether a user row exists.
type OwnerLookup interface {
	HasUser(ctx context.Context, userID string) (bool, error)
}

// MemoryRepo is an in-memory Repo. When Owners is set, Create rejects
// projects for unknown users the way the users foreign key does in Postgres.
type MemoryRepo struct {
	Owners OwnerLookup

	mu       sync.RWMutex
	projects map[string]Project
}

// NewMemoryRepo constructs an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{projects: make(map[string]Project)}
}

func (r *MemoryRepo) Create(ctx context.Context, p Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Owners != nil {
		ok, err := r.Owners.HasUser(ctx, p.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOwnerNotFound
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[p.ID] = p.Clone()
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, userID, projectID string) (Project, error) {
	if err := ctx.Err(); err != nil {
		return Project{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[projectID]
	if !ok || p.UserID != userID || p.DeletedAt != nil {
		return Project{}, ErrNotFound
	}
	return p.Clone(), nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []Project
	for _, p := range r.projects {
		if p.UserID == userID && p.DeletedAt == nil {
			out = append(out, p.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return []Project{}, nil
	}
	end := len(out)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], nil
}

func (r *MemoryRepo) SoftDelete(ctx context.Context, userID, projectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok || p.UserID != userID || p.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	p.DeletedAt = &now
	r.projects[projectID] = p
	return nil
}

// Save replaces the live content and version state of an existing project.
// Only the ledger calls this, while holding the owner's lock.
func (r *MemoryRepo) Save(ctx context.Context, p Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.projects[p.ID]
	if !ok || existing.UserID != p.UserID || existing.DeletedAt != nil {
		return ErrNotFound
	}
	existing.Content = p.Content.Clone()
	existing.Versions = p.Versions.Clone()
	existing.UpdatedAt = time.Now().UTC()
	r.projects[p.ID] = existing
	return nil
}
