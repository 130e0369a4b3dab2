package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"resume-tailor/internal/projects"
)

const (
	pgCodeLockNotAvailable = "55P03"
	pgCodeUniqueViolation  = "23505"
)

// PGStore implements Store with row locks on the users table.
type PGStore struct {
	DB *sql.DB
	// LockTimeout bounds the wait for the user row lock. Zero waits until
	// the context is done.
	LockTimeout time.Duration
}

// NewPGStore constructs a Postgres-backed ledger store.
func NewPGStore(db *sql.DB, lockTimeout time.Duration) *PGStore {
	return &PGStore{DB: db, LockTimeout: lockTimeout}
}

func (s *PGStore) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.LockTimeout.Milliseconds())
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx, `
SELECT credits FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrUserNotFound
			return err
		}
		err = mapPGError(err)
		return err
	}

	if err = fn(ctx, &pgTx{tx: tx, userID: userID, balance: balance}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	return nil
}

func (s *PGStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.DB.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, err
	}
	return balance, nil
}

func (s *PGStore) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]Transaction, error) {
	query := `
SELECT ` + transactionColumns + `
FROM credit_transactions
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) FindByIdempotencyKey(ctx context.Context, userID, key string) (Transaction, bool, error) {
	return findByKey(ctx, s.DB, userID, key)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findByKey(ctx context.Context, q queryer, userID, key string) (Transaction, bool, error) {
	if key == "" {
		return Transaction{}, false, nil
	}
	query := `
SELECT ` + transactionColumns + `
FROM credit_transactions
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1`
	t, err := scanTransaction(q.QueryRowContext(ctx, query, userID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	return t, true, nil
}

type pgTx struct {
	tx      *sql.Tx
	userID  string
	balance decimal.Decimal
}

func (t *pgTx) UserID() string { return t.userID }

func (t *pgTx) Balance() decimal.Decimal { return t.balance }

func (t *pgTx) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	if _, err := t.tx.ExecContext(ctx, `
UPDATE users SET credits = $1, updated_at = now() WHERE id = $2`, balance, t.userID); err != nil {
		return err
	}
	t.balance = balance
	return nil
}

func (t *pgTx) LoadProject(ctx context.Context, projectID string) (projects.Project, error) {
	const query = `
SELECT id, user_id, title, content, section_history, section_pointers, created_at, updated_at
FROM projects
WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
FOR UPDATE`
	p, err := projects.ScanRow(t.tx.QueryRowContext(ctx, query, projectID, t.userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return projects.Project{}, ErrProjectNotFound
		}
		return projects.Project{}, mapPGError(err)
	}
	return p, nil
}

func (t *pgTx) SaveProject(ctx context.Context, p projects.Project) error {
	content, history, pointers, err := projects.EncodeColumns(p)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
UPDATE projects
SET content = $1, section_history = $2, section_pointers = $3, updated_at = now()
WHERE id = $4 AND user_id = $5 AND deleted_at IS NULL`,
		content, history, pointers, p.ID, t.userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, rec Transaction) (Transaction, error) {
	rec = prepareTransaction(rec, t.userID)
	var usage TokenUsage
	if rec.Usage != nil {
		usage = *rec.Usage
	}
	sections, err := json.Marshal(rec.ChangedSections)
	if err != nil {
		return Transaction{}, err
	}
	_, err = t.tx.ExecContext(ctx, `
INSERT INTO credit_transactions (
    id,
    user_id,
    project_id,
    amount,
    balance_after,
    kind,
    prompt_tokens,
    completion_tokens,
    total_tokens,
    description,
    idempotency_key,
    changed_sections,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID,
		rec.UserID,
		nullableString(rec.ProjectID),
		rec.Amount,
		rec.BalanceAfter,
		string(rec.Kind),
		nullableInt(rec.Usage != nil, usage.PromptTokens),
		nullableInt(rec.Usage != nil, usage.CompletionTokens),
		nullableInt(rec.Usage != nil, usage.TotalTokens),
		rec.Description,
		nullableString(rec.IdempotencyKey),
		sections,
		rec.CreatedAt,
	)
	if err != nil {
		return Transaction{}, mapPGError(err)
	}
	return rec, nil
}

func (t *pgTx) FindByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error) {
	return findByKey(ctx, t.tx, t.userID, key)
}

const transactionColumns = `id, user_id, project_id, amount, balance_after, kind, prompt_tokens, completion_tokens, total_tokens, description, idempotency_key, changed_sections, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	var projectID, key sql.NullString
	var prompt, completion, total sql.NullInt64
	var kind string
	var sections []byte
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&projectID,
		&t.Amount,
		&t.BalanceAfter,
		&kind,
		&prompt,
		&completion,
		&total,
		&t.Description,
		&key,
		&sections,
		&t.CreatedAt,
	); err != nil {
		return Transaction{}, err
	}
	t.Kind = Kind(kind)
	if projectID.Valid {
		t.ProjectID = projectID.String
	}
	if key.Valid {
		t.IdempotencyKey = key.String
	}
	if total.Valid {
		t.Usage = &TokenUsage{
			PromptTokens:     int(prompt.Int64),
			CompletionTokens: int(completion.Int64),
			TotalTokens:      int(total.Int64),
		}
	}
	if len(sections) > 0 {
		if err := json.Unmarshal(sections, &t.ChangedSections); err != nil {
			return Transaction{}, fmt.Errorf("decode changed sections: %w", err)
		}
	}
	return t, nil
}

func prepareTransaction(t Transaction, userID string) Transaction {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.UserID = userID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Usage != nil {
		u := *t.Usage
		t.Usage = &u
	}
	if t.ChangedSections != nil {
		t.ChangedSections = append([]string(nil), t.ChangedSections...)
	}
	return t
}

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgCodeLockNotAvailable:
			return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
		case pgCodeUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, pgErr.ConstraintName)
		}
	}
	return err
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(valid bool, value int) any {
	if !valid {
		return nil
	}
	return value
}
