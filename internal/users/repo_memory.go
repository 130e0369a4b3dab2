package users

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type MemoryRepo struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{users: make(map[string]User)}
}

func (r *MemoryRepo) Upsert(ctx context.Context, user User) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[user.ID]
	now := time.Now().UTC()
	if !ok {
		user.CreatedAt = now
		user.Credits = decimal.Zero
	} else {
		user.CreatedAt = existing.CreatedAt
		user.Credits = existing.Credits
		if user.Email == "" {
			user.Email = existing.Email
		}
		if user.FullName == "" {
			user.FullName = existing.FullName
		}
	}
	user.UpdatedAt = now
	r.users[user.ID] = user
	return !ok, nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

// HasUser reports whether userID has been provisioned.
func (r *MemoryRepo) HasUser(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok, nil
}

// SetCredits overwrites the stored balance. Callers must hold the ledger lock
// for the user.
func (r *MemoryRepo) SetCredits(ctx context.Context, userID string, credits decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Credits = credits
	user.UpdatedAt = time.Now().UTC()
	r.users[userID] = user
	return nil
}
