package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"resume-tailor/internal/ledger"
)

var (
	// ErrInsufficientCredits is returned by the pre-check before a tailoring
	// run is started.
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidInput        = errors.New("invalid input")
	// ErrIdempotencyConflict means the key already recorded a transaction of
	// another kind or amount.
	ErrIdempotencyConflict = errors.New("idempotency key reused for a different transaction")
)

// Service exposes balance queries and non-tailoring credit movements.
type Service struct {
	Store  ledger.Store
	Policy Policy
}

// NewService constructs a Service.
func NewService(store ledger.Store, policy Policy) *Service {
	return &Service{Store: store, Policy: policy}
}

// Balance returns the current balance of a user.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.Store.Balance(ctx, userID)
}

// Transactions returns the user's credit history, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, limit, offset int) ([]ledger.Transaction, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must be non-negative", ErrInvalidInput)
	}
	return s.Store.ListTransactions(ctx, userID, limit, offset)
}

// EnsureCanTailor rejects users below the policy minimum. The balance is read
// without the ledger lock; the debit itself is never refused.
func (s *Service) EnsureCanTailor(ctx context.Context, userID string) (decimal.Decimal, error) {
	balance, err := s.Store.Balance(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if balance.LessThan(s.Policy.MinimumForTailor) {
		return balance, fmt.Errorf("%w: balance %s below minimum %s",
			ErrInsufficientCredits, balance.StringFixed(2), s.Policy.MinimumForTailor.StringFixed(2))
	}
	return balance, nil
}

// CreditInput describes a positive balance movement.
type CreditInput struct {
	UserID         string
	Amount         decimal.Decimal
	Kind           ledger.Kind
	Description    string
	IdempotencyKey string
}

// Credit adds Amount to the user's balance and records it. When the
// idempotency key already recorded the same kind and amount, that record is
// returned with created=false and the balance is left alone; any other record
// under the key is an ErrIdempotencyConflict.
func (s *Service) Credit(ctx context.Context, in CreditInput) (ledger.Transaction, bool, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return ledger.Transaction{}, false, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return ledger.Transaction{}, false, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !in.Kind.Valid() || in.Kind == ledger.KindTailor {
		return ledger.Transaction{}, false, fmt.Errorf("%w: kind %q cannot credit", ErrInvalidInput, in.Kind)
	}

	var (
		rec     ledger.Transaction
		created bool
	)
	err := s.Store.WithUserLock(ctx, in.UserID, func(ctx context.Context, tx ledger.Tx) error {
		if in.IdempotencyKey != "" {
			existing, found, err := tx.FindByIdempotencyKey(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				if existing.Kind != in.Kind || !existing.Amount.Equal(in.Amount) {
					return fmt.Errorf("%w: %s", ErrIdempotencyConflict, in.IdempotencyKey)
				}
				rec = existing
				return nil
			}
		}
		next := tx.Balance().Add(in.Amount)
		if err := tx.SetBalance(ctx, next); err != nil {
			return err
		}
		appended, err := tx.AppendTransaction(ctx, ledger.Transaction{
			Amount:         in.Amount,
			BalanceAfter:   next,
			Kind:           in.Kind,
			Description:    in.Description,
			IdempotencyKey: in.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		rec = appended
		created = true
		return nil
	})
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return rec, created, nil
}

// SignupBonus grants amount once per user. A bonus already on record,
// whatever its amount, ends the call without taking the user lock.
func (s *Service) SignupBonus(ctx context.Context, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	key := "signup:" + userID
	if _, found, err := s.Store.FindByIdempotencyKey(ctx, userID, key); err != nil || found {
		return err
	}
	_, _, err := s.Credit(ctx, CreditInput{
		UserID:         userID,
		Amount:         amount,
		Kind:           ledger.KindBonus,
		Description:    "signup bonus",
		IdempotencyKey: key,
	})
	return err
}
