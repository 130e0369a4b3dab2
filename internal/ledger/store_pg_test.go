package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

func TestPGStoreDebitCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout = '5000ms'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT credits FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow("100.0000"))
	mock.ExpectExec("UPDATE users SET credits").
		WithArgs(sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(
			sqlmock.AnyArg(), // id
			"user-1",
			"project-1",
			sqlmock.AnyArg(), // amount
			sqlmock.AnyArg(), // balance_after
			"tailor",
			1000,
			2100,
			3100,
			"tailor project-1",
			nil,
			sqlmock.AnyArg(), // changed_sections
			sqlmock.AnyArg(), // created_at
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewPGStore(db, 5*time.Second)
	var recorded Transaction
	err = store.WithUserLock(context.Background(), "user-1", func(ctx context.Context, tx Tx) error {
		charge := decimal.RequireFromString("1.5")
		next := tx.Balance().Sub(charge)
		if err := tx.SetBalance(ctx, next); err != nil {
			return err
		}
		rec, err := tx.AppendTransaction(ctx, Transaction{
			ProjectID:       "project-1",
			Amount:          charge.Neg(),
			BalanceAfter:    next,
			Kind:            KindTailor,
			Usage:           &TokenUsage{PromptTokens: 1000, CompletionTokens: 2100, TotalTokens: 3100},
			Description:     "tailor project-1",
			ChangedSections: []string{"summary", "skills"},
		})
		recorded = rec
		return err
	})
	if err != nil {
		t.Fatalf("WithUserLock: %v", err)
	}
	if !recorded.BalanceAfter.Equal(decimal.RequireFromString("98.5")) {
		t.Fatalf("expected balance after 98.5, got %s", recorded.BalanceAfter)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreMissingUserRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT credits FROM users").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}))
	mock.ExpectRollback()

	store := NewPGStore(db, 0)
	called := false
	err = store.WithUserLock(context.Background(), "ghost", func(context.Context, Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if called {
		t.Fatalf("callback must not run without the lock")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreMapsLockNotAvailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT credits FROM users").
		WithArgs("user-1").
		WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	store := NewPGStore(db, 50*time.Millisecond)
	err = store.WithUserLock(context.Background(), "user-1", func(context.Context, Tx) error { return nil })
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreCallbackErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT credits FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow("3"))
	mock.ExpectQuery("FROM projects").
		WithArgs("project-9", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "content", "section_history", "section_pointers", "created_at", "updated_at"}))
	mock.ExpectRollback()

	store := NewPGStore(db, 0)
	err = store.WithUserLock(context.Background(), "user-1", func(ctx context.Context, tx Tx) error {
		_, err := tx.LoadProject(ctx, "project-9")
		return err
	})
	if !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreListTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	now := time.Now().UTC()
	cols := []string{"id", "user_id", "project_id", "amount", "balance_after", "kind", "prompt_tokens", "completion_tokens", "total_tokens", "description", "idempotency_key", "changed_sections", "created_at"}
	mock.ExpectQuery("FROM credit_transactions").
		WithArgs("user-1", 10, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("t-2", "user-1", "project-1", "-1.5000", "98.5000", "tailor", 1000, 2100, 3100, "tailor", nil, []byte(`["summary","skills"]`), now).
			AddRow("t-1", "user-1", nil, "100.0000", "100.0000", "grant", nil, nil, nil, "grant", "signup:user-1", []byte(`null`), now.Add(-time.Minute)))

	store := NewPGStore(db, 0)
	txs, err := store.ListTransactions(context.Background(), "user-1", 10, 0)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(txs))
	}
	if txs[0].Usage == nil || txs[0].Usage.TotalTokens != 3100 || len(txs[0].ChangedSections) != 2 {
		t.Fatalf("unexpected tailor record: %+v", txs[0])
	}
	if txs[1].Usage != nil || txs[1].IdempotencyKey != "signup:user-1" || txs[1].ProjectID != "" {
		t.Fatalf("unexpected grant record: %+v", txs[1])
	}
}
