package projects

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"resume-tailor/internal/versions"
	"resume-tailor/resume/model"
)

const maxTitleLength = 200

// Service contains business logic for projects.
type Service struct {
	Repo Repo
}

// NewService constructs a Service.
func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// Create stores a new project from base resume content. Version history
// starts empty and is created lazily by the first tailoring run.
func (s *Service) Create(ctx context.Context, userID, title string, content model.Document) (Project, error) {
	if strings.TrimSpace(userID) == "" {
		return Project{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Project{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len(title) > maxTitleLength {
		return Project{}, fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, maxTitleLength)
	}
	if err := content.Validate(); err != nil {
		return Project{}, fmt.Errorf("%w: %s", ErrInvalidInput, strings.ReplaceAll(err.Error(), "\n", "; "))
	}

	now := time.Now().UTC()
	p := Project{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Content:   content.Clone(),
		Versions:  versions.NewState(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Repo.Create(ctx, p); err != nil {
		return Project{}, err
	}
	return p, nil
}

// Get returns a project owned by userID.
func (s *Service) Get(ctx context.Context, userID, projectID string) (Project, error) {
	if strings.TrimSpace(projectID) == "" {
		return Project{}, fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	return s.Repo.GetByID(ctx, userID, projectID)
}

// List returns the user's live projects, newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Project, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must be non-negative", ErrInvalidInput)
	}
	return s.Repo.ListByUser(ctx, userID, limit, offset)
}

// Delete soft-deletes a project.
func (s *Service) Delete(ctx context.Context, userID, projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	return s.Repo.SoftDelete(ctx, userID, projectID)
}
