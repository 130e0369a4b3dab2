package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"resume-tailor/internal/projects"
	"resume-tailor/internal/users"
)

func newMemoryFixture(t *testing.T, balance string) (*MemoryStore, *users.MemoryRepo, *projects.MemoryRepo) {
	t.Helper()
	ctx := context.Background()
	usersRepo := users.NewMemoryRepo()
	if _, err := usersRepo.Upsert(ctx, users.User{ID: "user-1"}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := usersRepo.SetCredits(ctx, "user-1", decimal.RequireFromString(balance)); err != nil {
		t.Fatalf("set credits: %v", err)
	}
	projectsRepo := projects.NewMemoryRepo()
	if err := projectsRepo.Create(ctx, projects.Project{ID: "project-1", UserID: "user-1", Title: "Backend", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return NewMemoryStore(usersRepo, projectsRepo, 0), usersRepo, projectsRepo
}

func TestMemoryStoreCommitsOnSuccess(t *testing.T) {
	store, usersRepo, _ := newMemoryFixture(t, "10")
	ctx := context.Background()

	err := store.WithUserLock(ctx, "user-1", func(ctx context.Context, tx Tx) error {
		next := tx.Balance().Sub(decimal.NewFromInt(3))
		if err := tx.SetBalance(ctx, next); err != nil {
			return err
		}
		_, err := tx.AppendTransaction(ctx, Transaction{Amount: decimal.NewFromInt(-3), BalanceAfter: next, Kind: KindTailor})
		return err
	})
	if err != nil {
		t.Fatalf("WithUserLock: %v", err)
	}

	user, _ := usersRepo.GetByID(ctx, "user-1")
	if !user.Credits.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected balance 7, got %s", user.Credits)
	}
	txs, err := store.ListTransactions(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 || txs[0].ID == "" || txs[0].UserID != "user-1" {
		t.Fatalf("unexpected transactions: %+v", txs)
	}
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	store, usersRepo, projectsRepo := newMemoryFixture(t, "10")
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithUserLock(ctx, "user-1", func(ctx context.Context, tx Tx) error {
		p, err := tx.LoadProject(ctx, "project-1")
		if err != nil {
			return err
		}
		p.Title = "changed"
		p.Versions.Pointers["summary"] = 3
		if err := tx.SaveProject(ctx, p); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, decimal.Zero); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(ctx, Transaction{Kind: KindTailor}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	user, _ := usersRepo.GetByID(ctx, "user-1")
	if !user.Credits.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected balance 10, got %s", user.Credits)
	}
	p, _ := projectsRepo.GetByID(ctx, "user-1", "project-1")
	if len(p.Versions.Pointers) != 0 {
		t.Fatalf("expected untouched pointers, got %+v", p.Versions.Pointers)
	}
	txs, _ := store.ListTransactions(ctx, "user-1", 10, 0)
	if len(txs) != 0 {
		t.Fatalf("expected no records, got %d", len(txs))
	}
}

func TestMemoryStoreUnknownUserAndProject(t *testing.T) {
	store, _, _ := newMemoryFixture(t, "1")
	ctx := context.Background()

	err := store.WithUserLock(ctx, "ghost", func(context.Context, Tx) error { return nil })
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	err = store.WithUserLock(ctx, "user-1", func(ctx context.Context, tx Tx) error {
		_, err := tx.LoadProject(ctx, "missing")
		return err
	})
	if !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestMemoryStoreLockTimeout(t *testing.T) {
	store, _, _ := newMemoryFixture(t, "1")
	store.LockTimeout = 20 * time.Millisecond

	held := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = store.WithUserLock(context.Background(), "user-1", func(context.Context, Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := store.WithUserLock(context.Background(), "user-1", func(context.Context, Tx) error { return nil })
	close(release)
	wg.Wait()
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestMemoryStoreCancelledWaitReturnsContextError(t *testing.T) {
	store, _, _ := newMemoryFixture(t, "1")

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.WithUserLock(context.Background(), "user-1", func(context.Context, Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := store.WithUserLock(ctx, "user-1", func(context.Context, Tx) error { return nil })
	close(release)
	<-done
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestMemoryStoreSerializesSameUser(t *testing.T) {
	store, usersRepo, _ := newMemoryFixture(t, "100")
	ctx := context.Background()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			return store.WithUserLock(gctx, "user-1", func(ctx context.Context, tx Tx) error {
				next := tx.Balance().Sub(decimal.NewFromInt(1))
				time.Sleep(time.Millisecond)
				if err := tx.SetBalance(ctx, next); err != nil {
					return err
				}
				_, err := tx.AppendTransaction(ctx, Transaction{Amount: decimal.NewFromInt(-1), BalanceAfter: next, Kind: KindTailor})
				return err
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent debits: %v", err)
	}

	user, _ := usersRepo.GetByID(ctx, "user-1")
	if !user.Credits.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected balance 80, got %s", user.Credits)
	}
	txs, _ := store.ListTransactions(ctx, "user-1", 0, 0)
	if len(txs) != 20 {
		t.Fatalf("expected 20 records, got %d", len(txs))
	}
	seen := map[string]bool{}
	for _, tx := range txs {
		key := tx.BalanceAfter.String()
		if seen[key] {
			t.Fatalf("balance_after %s recorded twice", key)
		}
		seen[key] = true
	}
}

func TestMemoryStoreRejectsDuplicateKey(t *testing.T) {
	store, _, _ := newMemoryFixture(t, "1")
	ctx := context.Background()

	appendKeyed := func() error {
		return store.WithUserLock(ctx, "user-1", func(ctx context.Context, tx Tx) error {
			_, err := tx.AppendTransaction(ctx, Transaction{Kind: KindGrant, IdempotencyKey: "k-1"})
			return err
		})
	}
	if err := appendKeyed(); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := appendKeyed(); !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
	rec, found, err := store.FindByIdempotencyKey(ctx, "user-1", "k-1")
	if err != nil || !found || rec.Kind != KindGrant {
		t.Fatalf("expected recorded grant, got %+v found=%v err=%v", rec, found, err)
	}
}
