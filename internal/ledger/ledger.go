// Package ledger owns the locked read-modify-write cycle over a user's credit
// balance, their project version columns and the append-only credit
// transaction log.
//
// Every mutation happens inside Store.WithUserLock. The callback sees a Tx
// bound to one user; nothing it writes is visible to others until the
// callback returns nil and the store commits. Any error rolls everything back.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"resume-tailor/internal/projects"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrProjectNotFound = errors.New("project not found")
	// ErrLockTimeout means the user's ledger row stayed locked past the
	// configured timeout. Callers may retry.
	ErrLockTimeout = errors.New("ledger lock not acquired in time")
	// ErrDuplicateIdempotencyKey is returned when a record with the same key
	// already exists for the user.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// Kind classifies a credit transaction.
type Kind string

const (
	KindTailor   Kind = "tailor"
	KindGrant    Kind = "grant"
	KindPurchase Kind = "purchase"
	KindRefund   Kind = "refund"
	KindBonus    Kind = "bonus"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTailor, KindGrant, KindPurchase, KindRefund, KindBonus:
		return true
	}
	return false
}

// TokenUsage is the LLM token breakdown behind a tailor charge.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Transaction is one immutable entry of the credit log. Amount is signed:
// debits are negative.
type Transaction struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	ProjectID       string          `json:"projectId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceAfter    decimal.Decimal `json:"balanceAfter"`
	Kind            Kind            `json:"kind"`
	Usage           *TokenUsage     `json:"usage,omitempty"`
	Description     string          `json:"description"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`
	ChangedSections []string        `json:"changedSections,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Tx is the view of the ledger inside a user lock.
type Tx interface {
	UserID() string
	// Balance returns the locked balance including writes made in this Tx.
	Balance() decimal.Decimal
	SetBalance(ctx context.Context, balance decimal.Decimal) error
	// LoadProject returns a live project owned by the locked user.
	LoadProject(ctx context.Context, projectID string) (projects.Project, error)
	SaveProject(ctx context.Context, p projects.Project) error
	// AppendTransaction assigns ID, UserID and CreatedAt and records t.
	AppendTransaction(ctx context.Context, t Transaction) (Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error)
}

// Store is implemented by PGStore and MemoryStore.
type Store interface {
	WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	// ListTransactions returns records newest first.
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]Transaction, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (Transaction, bool, error)
}
