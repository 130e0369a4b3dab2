package tailoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"resume-tailor/internal/credits"
	"resume-tailor/internal/ledger"
	"resume-tailor/internal/llm"
	"resume-tailor/internal/projects"
	"resume-tailor/internal/shared/events"
	"resume-tailor/internal/users"
	"resume-tailor/internal/versions"
	"resume-tailor/resume/model"
)

const (
	testUser    = "user-1"
	testProject = "project-1"
)

type fixture struct {
	users    *users.MemoryRepo
	projects *projects.MemoryRepo
	store    *ledger.MemoryStore
	coord    *Coordinator
	llm      *fakeTailorer
	events   *events.MemoryPublisher
	svc      *Service
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	ctx := context.Background()
	usersRepo := users.NewMemoryRepo()
	if _, err := usersRepo.Upsert(ctx, users.User{ID: testUser, Email: "dev@example.com"}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := usersRepo.SetCredits(ctx, testUser, decimal.RequireFromString(balance)); err != nil {
		t.Fatalf("set credits: %v", err)
	}
	projectsRepo := projects.NewMemoryRepo()
	now := time.Now().UTC()
	if err := projectsRepo.Create(ctx, projects.Project{
		ID:        testProject,
		UserID:    testUser,
		Title:     "Payments backend",
		Content:   baseDocument(),
		Versions:  versions.NewState(),
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	store := ledger.NewMemoryStore(usersRepo, projectsRepo, 0)
	policy := credits.DefaultPolicy()
	coord := NewCoordinator(store, policy)
	fake := &fakeTailorer{out: llm.TailorOutput{
		Content: tailoredDocument(),
		Usage:   llm.Usage{PromptTokens: 2600, CompletionTokens: 500, TotalTokens: 3100},
		Model:   "fake-model",
	}}
	pub := &events.MemoryPublisher{}
	svc := &Service{
		Coordinator: coord,
		Credits:     credits.NewService(store, policy),
		Projects:    projects.NewService(projectsRepo),
		LLM:         fake,
		Events:      pub,
	}
	return &fixture{
		users:    usersRepo,
		projects: projectsRepo,
		store:    store,
		coord:    coord,
		llm:      fake,
		events:   pub,
		svc:      svc,
	}
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), testUser)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	return u.Credits
}

func (f *fixture) project(t *testing.T) projects.Project {
	t.Helper()
	p, err := f.projects.GetByID(context.Background(), testUser, testProject)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	return p
}

func (f *fixture) transactions(t *testing.T) []ledger.Transaction {
	t.Helper()
	txs, err := f.store.ListTransactions(context.Background(), testUser, 100, 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return txs
}

func baseDocument() model.Document {
	return model.Document{
		Summary: &model.SummaryContent{Lines: []string{"Backend engineer"}},
		Experience: &model.ExperienceContent{Entries: []model.ExperienceEntry{{
			ID:         "exp-1",
			Company:    "Acme",
			Role:       "Engineer",
			Start:      "2020-01",
			End:        "2023-06",
			Highlights: []string{"Built billing APIs"},
		}}},
		Projects: &model.ProjectsContent{Entries: []model.ProjectEntry{{
			Name:  "Ledger",
			Start: "2022-01",
			End:   "2022-12",
		}}},
		Skills: &model.SkillsContent{Skills: model.SkillSet{Languages: []string{"Go"}}},
	}
}

// tailoredDocument changes summary and skills, returns experience as-is and
// leaves projects out.
func tailoredDocument() model.Document {
	base := baseDocument()
	return model.Document{
		Summary:    &model.SummaryContent{Lines: []string{"Go backend engineer focused on payments"}},
		Experience: base.Experience,
		Skills:     &model.SkillsContent{Skills: model.SkillSet{Languages: []string{"Go", "SQL"}}},
	}
}

type fakeTailorer struct {
	mu    sync.Mutex
	out   llm.TailorOutput
	err   error
	calls int
}

func (f *fakeTailorer) Tailor(ctx context.Context, input llm.TailorInput) (llm.TailorOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return llm.TailorOutput{}, f.err
	}
	return f.out, nil
}

func (f *fakeTailorer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// faultStore injects errors into the Tx handed to the coordinator.
type faultStore struct {
	ledger.Store
	setBalanceErr error
	appendErr     error
	saveErr       error
}

func (s *faultStore) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.Store.WithUserLock(ctx, userID, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, &faultTx{Tx: tx, store: s})
	})
}

type faultTx struct {
	ledger.Tx
	store *faultStore
}

func (t *faultTx) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	if t.store.setBalanceErr != nil {
		return t.store.setBalanceErr
	}
	return t.Tx.SetBalance(ctx, balance)
}

func (t *faultTx) AppendTransaction(ctx context.Context, rec ledger.Transaction) (ledger.Transaction, error) {
	if t.store.appendErr != nil {
		return ledger.Transaction{}, t.store.appendErr
	}
	return t.Tx.AppendTransaction(ctx, rec)
}

func (t *faultTx) SaveProject(ctx context.Context, p projects.Project) error {
	if t.store.saveErr != nil {
		return t.store.saveErr
	}
	return t.Tx.SaveProject(ctx, p)
}

type failingTailorer struct{}

func (failingTailorer) Tailor(context.Context, llm.TailorInput) (llm.TailorOutput, error) {
	return llm.TailorOutput{}, llm.ErrNotImplemented
}
