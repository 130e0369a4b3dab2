package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"resume-tailor/internal/projects"
	"resume-tailor/internal/users"
)

// MemoryStore implements Store on top of the in-memory user and project
// repos. Writes are buffered in the Tx and applied only on commit, so a
// failing callback leaves no trace.
type MemoryStore struct {
	Users       *users.MemoryRepo
	Projects    *projects.MemoryRepo
	LockTimeout time.Duration

	mu    sync.Mutex
	locks map[string]chan struct{}

	logMu sync.RWMutex
	log   map[string][]Transaction
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore(usersRepo *users.MemoryRepo, projectsRepo *projects.MemoryRepo, lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		Users:       usersRepo,
		Projects:    projectsRepo,
		LockTimeout: lockTimeout,
		locks:       make(map[string]chan struct{}),
		log:         make(map[string][]Transaction),
	}
}

func (s *MemoryStore) acquire(ctx context.Context, userID string) (func(), error) {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]chan struct{})
	}
	ch, ok := s.locks[userID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[userID] = ch
	}
	s.mu.Unlock()

	var timeout <-chan time.Time
	if s.LockTimeout > 0 {
		timer := time.NewTimer(s.LockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrLockTimeout
	}
}

func (s *MemoryStore) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	release, err := s.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	tx := &memoryTx{
		store:    s,
		userID:   userID,
		balance:  user.Credits,
		projects: make(map[string]projects.Project),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	// A cancelled context before commit rolls back like a database would.
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(context.WithoutCancel(ctx), tx)
}

func (s *MemoryStore) commit(ctx context.Context, tx *memoryTx) error {
	for _, id := range tx.projectOrder {
		if err := s.Projects.Save(ctx, tx.projects[id]); err != nil {
			if errors.Is(err, projects.ErrNotFound) {
				return ErrProjectNotFound
			}
			return err
		}
	}
	if tx.balanceDirty {
		if err := s.Users.SetCredits(ctx, tx.userID, tx.balance); err != nil {
			return err
		}
	}
	if len(tx.appended) > 0 {
		s.logMu.Lock()
		if s.log == nil {
			s.log = make(map[string][]Transaction)
		}
		s.log[tx.userID] = append(s.log[tx.userID], tx.appended...)
		s.logMu.Unlock()
	}
	return nil
}

func (s *MemoryStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, err
	}
	return user.Credits, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logMu.RLock()
	entries := s.log[userID]
	out := make([]Transaction, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	s.logMu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return []Transaction{}, nil
	}
	end := len(out)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], nil
}

func (s *MemoryStore) FindByIdempotencyKey(ctx context.Context, userID, key string) (Transaction, bool, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, false, err
	}
	if key == "" {
		return Transaction{}, false, nil
	}
	s.logMu.RLock()
	defer s.logMu.RUnlock()
	for _, t := range s.log[userID] {
		if t.IdempotencyKey == key {
			return t, true, nil
		}
	}
	return Transaction{}, false, nil
}

type memoryTx struct {
	store        *MemoryStore
	userID       string
	balance      decimal.Decimal
	balanceDirty bool
	projects     map[string]projects.Project
	projectOrder []string
	appended     []Transaction
}

func (t *memoryTx) UserID() string { return t.userID }

func (t *memoryTx) Balance() decimal.Decimal { return t.balance }

func (t *memoryTx) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.balance = balance
	t.balanceDirty = true
	return nil
}

func (t *memoryTx) LoadProject(ctx context.Context, projectID string) (projects.Project, error) {
	if p, ok := t.projects[projectID]; ok {
		return p.Clone(), nil
	}
	p, err := t.store.Projects.GetByID(ctx, t.userID, projectID)
	if err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			return projects.Project{}, ErrProjectNotFound
		}
		return projects.Project{}, err
	}
	return p, nil
}

func (t *memoryTx) SaveProject(ctx context.Context, p projects.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.UserID != t.userID {
		return ErrProjectNotFound
	}
	if _, ok := t.projects[p.ID]; !ok {
		t.projectOrder = append(t.projectOrder, p.ID)
	}
	t.projects[p.ID] = p.Clone()
	return nil
}

func (t *memoryTx) AppendTransaction(ctx context.Context, rec Transaction) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	rec = prepareTransaction(rec, t.userID)
	if rec.IdempotencyKey != "" {
		if _, found, err := t.FindByIdempotencyKey(ctx, rec.IdempotencyKey); err != nil {
			return Transaction{}, err
		} else if found {
			return Transaction{}, ErrDuplicateIdempotencyKey
		}
	}
	t.appended = append(t.appended, rec)
	return rec, nil
}

func (t *memoryTx) FindByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error) {
	if key == "" {
		return Transaction{}, false, nil
	}
	for _, rec := range t.appended {
		if rec.IdempotencyKey == key {
			return rec, true, nil
		}
	}
	return t.store.FindByIdempotencyKey(ctx, t.userID, key)
}
