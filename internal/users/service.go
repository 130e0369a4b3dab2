package users

import (
	"context"
	"errors"
	"strings"

	"resume-tailor/internal/shared/telemetry"
)

// ProvisionHook runs on every Ensure, for example to grant a signup bonus.
// Hooks must be idempotent and cheap once their work is done, so a failed
// run is retried by the next Ensure.
type ProvisionHook func(ctx context.Context, user User) error

type Service struct {
	Repo        Repo
	OnProvision ProvisionHook
}

func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// Ensure creates the user on first sight and returns the stored row.
func (s *Service) Ensure(ctx context.Context, identity User) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	if strings.TrimSpace(identity.ID) == "" {
		return User{}, errors.New("user id is required")
	}
	created, err := s.Repo.Upsert(ctx, identity)
	if err != nil {
		return User{}, err
	}
	if s.OnProvision == nil {
		return s.Repo.GetByID(ctx, identity.ID)
	}
	user, err := s.Repo.GetByID(ctx, identity.ID)
	if err != nil {
		return User{}, err
	}
	if err := s.OnProvision(ctx, user); err != nil {
		// A failed hook does not block sign-in.
		telemetry.Error("users.provision_hook_failed", map[string]any{
			"user_id": identity.ID,
			"created": created,
			"error":   err.Error(),
		})
	}
	return s.Repo.GetByID(ctx, identity.ID)
}

func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, errors.New("user id is required")
	}
	return s.Repo.GetByID(ctx, userID)
}
