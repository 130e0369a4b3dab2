package users

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("user not found")

// Repo persists user identities. Balances are written by the ledger only.
type Repo interface {
	// Upsert creates the user or refreshes its profile fields and reports
	// whether a new row was inserted.
	Upsert(ctx context.Context, user User) (bool, error)
	GetByID(ctx context.Context, userID string) (User, error)
}
