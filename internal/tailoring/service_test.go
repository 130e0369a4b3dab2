package tailoring

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"resume-tailor/internal/credits"
	"resume-tailor/internal/ledger"
	"resume-tailor/internal/projects"
	"resume-tailor/internal/shared/events"
	"resume-tailor/internal/shared/telemetry"
	"resume-tailor/resume/model"
)

func creditInput(key string) credits.CreditInput {
	return credits.CreditInput{
		UserID:         testUser,
		Amount:         decimal.NewFromInt(5),
		Kind:           ledger.KindGrant,
		Description:    "test grant",
		IdempotencyKey: key,
	}
}

func tailorRequestFor(key string) TailorRequest {
	return TailorRequest{
		UserID:         testUser,
		ProjectID:      testProject,
		JobDescription: "Senior Go engineer, payments platform",
		IdempotencyKey: key,
	}
}

func TestTailorCommitsAndPublishes(t *testing.T) {
	f := newFixture(t, "100")

	res, err := f.svc.Tailor(context.Background(), tailorRequestFor(""))
	if err != nil {
		t.Fatalf("Tailor: %v", err)
	}
	if !res.Charge.Equal(decimal.RequireFromString("1.5")) || res.Usage.TotalTokens != 3100 || res.Model != "fake-model" {
		t.Fatalf("unexpected result: charge=%s usage=%+v model=%s", res.Charge, res.Usage, res.Model)
	}

	evts := f.events.Events()
	if len(evts) != 1 || evts[0].Type != events.TypeCreditsCharged || evts[0].UserID != testUser {
		t.Fatalf("unexpected events: %+v", evts)
	}
	payload, ok := evts[0].Data.(ChargedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", evts[0].Data)
	}
	if payload.Amount != "1.50" || payload.BalanceAfter != "98.50" || payload.TransactionID != res.Transaction.ID {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestTailorRejectsLowBalanceBeforeCallingProvider(t *testing.T) {
	f := newFixture(t, "0.5")

	_, err := f.svc.Tailor(context.Background(), tailorRequestFor(""))
	if !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if f.llm.Calls() != 0 {
		t.Fatalf("provider must not be called")
	}
	if txs := f.transactions(t); len(txs) != 0 {
		t.Fatalf("expected no records")
	}
}

func TestTailorProviderFailureChargesNothing(t *testing.T) {
	f := newFixture(t, "100")
	f.llm.err = errors.New("upstream 500")

	_, err := f.svc.Tailor(context.Background(), tailorRequestFor(""))
	if !errors.Is(err, ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
	if got := f.balance(t); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance changed to %s", got)
	}
	if len(f.events.Events()) != 0 {
		t.Fatalf("no event expected on failure")
	}
}

func TestTailorUnknownProjectFailsFast(t *testing.T) {
	f := newFixture(t, "100")
	req := tailorRequestFor("")
	req.ProjectID = "missing"

	_, err := f.svc.Tailor(context.Background(), req)
	if !errors.Is(err, projects.ErrNotFound) {
		t.Fatalf("expected projects.ErrNotFound, got %v", err)
	}
	if f.llm.Calls() != 0 {
		t.Fatalf("provider must not be called")
	}
}

func TestTailorReplayDoesNotCallProviderTwice(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	first, err := f.svc.Tailor(ctx, tailorRequestFor("req-1"))
	if err != nil {
		t.Fatalf("first Tailor: %v", err)
	}
	second, err := f.svc.Tailor(ctx, tailorRequestFor("req-1"))
	if err != nil {
		t.Fatalf("second Tailor: %v", err)
	}
	if !second.Replayed || second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Transaction.ID, second.Transaction)
	}
	if second.Usage.TotalTokens != 3100 {
		t.Fatalf("expected recorded usage, got %+v", second.Usage)
	}
	if f.llm.Calls() != 1 {
		t.Fatalf("expected one provider call, got %d", f.llm.Calls())
	}
	if len(f.events.Events()) != 1 {
		t.Fatalf("replay must not publish again")
	}
}

func TestTailorReplaySurvivesLowBalance(t *testing.T) {
	f := newFixture(t, "1.5")
	ctx := context.Background()

	if _, err := f.svc.Tailor(ctx, tailorRequestFor("req-1")); err != nil {
		t.Fatalf("first Tailor: %v", err)
	}
	if got := f.balance(t); !got.IsZero() {
		t.Fatalf("expected 0 balance, got %s", got)
	}
	res, err := f.svc.Tailor(ctx, tailorRequestFor("req-1"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Replayed {
		t.Fatalf("expected replay")
	}
}

func TestTailorPublishFailureIsLoggedOnly(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	defer telemetry.SetLogger(zap.New(core))()

	f := newFixture(t, "100")
	f.events.Err = errors.New("redis down")

	if _, err := f.svc.Tailor(context.Background(), tailorRequestFor("")); err != nil {
		t.Fatalf("Tailor: %v", err)
	}
	if got := f.balance(t); !got.Equal(decimal.RequireFromString("98.5")) {
		t.Fatalf("commit must stand, balance %s", got)
	}
	if logs.FilterMessage("events.publish_failed").Len() != 1 {
		t.Fatalf("expected publish failure log")
	}
	if logs.FilterMessage("tailor.committed").Len() != 1 {
		t.Fatalf("expected commit log")
	}
}

func TestTailorValidatesRequest(t *testing.T) {
	f := newFixture(t, "100")
	req := tailorRequestFor("")
	req.JobDescription = "   "
	if _, err := f.svc.Tailor(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTailorOnlyRequestedSections(t *testing.T) {
	f := newFixture(t, "100")
	f.llm.out.Content = model.Document{
		Skills: &model.SkillsContent{Skills: model.SkillSet{Languages: []string{"Go", "Rust"}}},
	}
	req := tailorRequestFor("")
	req.Sections = []model.Section{model.SectionSkills}

	res, err := f.svc.Tailor(context.Background(), req)
	if err != nil {
		t.Fatalf("Tailor: %v", err)
	}
	if len(res.ChangedSections) != 1 || res.ChangedSections[0] != model.SectionSkills {
		t.Fatalf("unexpected changed sections: %v", res.ChangedSections)
	}
	if res.Project.Versions.Pointers[model.SectionSummary] != 0 {
		t.Fatalf("summary must not move")
	}
}

func TestTailorJobDescriptionLimitCountsCharacters(t *testing.T) {
	f := newFixture(t, "100")

	req := tailorRequestFor("")
	req.JobDescription = strings.Repeat("é", maxJobDescriptionLength)
	if _, err := f.svc.Tailor(context.Background(), req); err != nil {
		t.Fatalf("expected %d two-byte characters to be accepted, got %v", maxJobDescriptionLength, err)
	}

	req.JobDescription += "é"
	if _, err := f.svc.Tailor(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput past the limit, got %v", err)
	}
	if f.llm.Calls() != 1 {
		t.Fatalf("expected one provider call, got %d", f.llm.Calls())
	}
}
