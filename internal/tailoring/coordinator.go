package tailoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-tailor/internal/credits"
	"resume-tailor/internal/ledger"
	"resume-tailor/internal/llm"
	"resume-tailor/internal/projects"
	"resume-tailor/internal/shared/tracing"
	"resume-tailor/internal/versions"
	"resume-tailor/resume/model"
)

// Coordinator applies tailoring results to the ledger. Version promotion,
// the debit and the transaction record commit together or not at all.
type Coordinator struct {
	Store  ledger.Store
	Policy credits.Policy
	tracer trace.Tracer
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(store ledger.Store, policy credits.Policy) *Coordinator {
	return &Coordinator{Store: store, Policy: policy, tracer: tracing.Tracer("resume-tailor/tailoring")}
}

// ApplyInput is a finished tailoring result for one project.
type ApplyInput struct {
	UserID    string
	ProjectID string
	// Content holds the rewritten sections; absent sections are left alone.
	Content        model.Document
	Usage          llm.Usage
	IdempotencyKey string
}

// ApplyResult is the committed outcome of Apply.
type ApplyResult struct {
	Transaction     ledger.Transaction
	Charge          decimal.Decimal
	BalanceAfter    decimal.Decimal
	ChangedSections []model.Section
	Outcomes        []versions.SectionOutcome
	Project         projects.Project
	// Replayed is set when the idempotency key matched an earlier commit and
	// nothing was written.
	Replayed bool
}

// Apply runs the ledger transaction for a tailoring result:
//
//  1. lock the user's balance row
//  2. replay an earlier commit with the same idempotency key
//  3. reconcile every section of the project
//  4. compute the charge from token usage
//  5. debit the balance, which may go negative
//  6. append the tailor transaction record
//  7. persist content, history and pointers
//
// Any error rolls back every step.
func (c *Coordinator) Apply(ctx context.Context, in ApplyInput) (ApplyResult, error) {
	ctx, span := c.startSpan(ctx, "tailoring.apply", in.UserID, in.ProjectID)
	defer span.End()

	res, err := c.apply(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ApplyResult{}, err
	}
	span.SetAttributes(
		attribute.String("ledger.charge", res.Charge.String()),
		attribute.String("ledger.balance_after", res.BalanceAfter.String()),
		attribute.Int("ledger.changed_sections", len(res.ChangedSections)),
		attribute.Bool("ledger.replayed", res.Replayed),
	)
	return res, nil
}

func (c *Coordinator) apply(ctx context.Context, in ApplyInput) (ApplyResult, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.ProjectID) == "" {
		return ApplyResult{}, fmt.Errorf("%w: user and project are required", ErrInvalidInput)
	}
	if in.Usage.PromptTokens < 0 || in.Usage.CompletionTokens < 0 || in.Usage.TotalTokens < 0 {
		return ApplyResult{}, fmt.Errorf("%w: token counts must be non-negative", ErrInvalidInput)
	}
	charge, err := c.Policy.Charge(in.Usage.TotalTokens)
	if err != nil {
		return ApplyResult{}, err
	}

	var res ApplyResult
	err = c.Store.WithUserLock(ctx, in.UserID, func(ctx context.Context, tx ledger.Tx) error {
		if in.IdempotencyKey != "" {
			existing, found, err := tx.FindByIdempotencyKey(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				res, err = replay(ctx, tx, existing, in.ProjectID)
				return err
			}
		}

		p, err := tx.LoadProject(ctx, in.ProjectID)
		if err != nil {
			return err
		}
		state := p.Versions.Clone()
		live, outcomes := state.Reconcile(p.Content, in.Content)
		changed := versions.Changed(outcomes)

		next := tx.Balance().Sub(charge)
		if err := tx.SetBalance(ctx, next); err != nil {
			return err
		}
		rec, err := tx.AppendTransaction(ctx, ledger.Transaction{
			ProjectID:    p.ID,
			Amount:       charge.Neg(),
			BalanceAfter: next,
			Kind:         ledger.KindTailor,
			Usage: &ledger.TokenUsage{
				PromptTokens:     in.Usage.PromptTokens,
				CompletionTokens: in.Usage.CompletionTokens,
				TotalTokens:      in.Usage.TotalTokens,
			},
			Description:     fmt.Sprintf("tailored %q (%d tokens)", p.Title, in.Usage.TotalTokens),
			IdempotencyKey:  in.IdempotencyKey,
			ChangedSections: sectionNames(changed),
		})
		if err != nil {
			return err
		}

		p.Content = live
		p.Versions = state
		if err := tx.SaveProject(ctx, p); err != nil {
			return err
		}

		res = ApplyResult{
			Transaction:     rec,
			Charge:          charge,
			BalanceAfter:    next,
			ChangedSections: changed,
			Outcomes:        outcomes,
			Project:         p,
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return res, nil
}

// Replay returns the outcome recorded under key without calling the
// provider. found is false when the key is unused.
func (c *Coordinator) Replay(ctx context.Context, userID, projectID, key string) (ApplyResult, bool, error) {
	if key == "" {
		return ApplyResult{}, false, nil
	}
	existing, found, err := c.Store.FindByIdempotencyKey(ctx, userID, key)
	if err != nil || !found {
		return ApplyResult{}, false, err
	}
	var res ApplyResult
	err = c.Store.WithUserLock(ctx, userID, func(ctx context.Context, tx ledger.Tx) error {
		var rerr error
		res, rerr = replay(ctx, tx, existing, projectID)
		return rerr
	})
	if err != nil {
		return ApplyResult{}, false, err
	}
	return res, true, nil
}

func replay(ctx context.Context, tx ledger.Tx, rec ledger.Transaction, projectID string) (ApplyResult, error) {
	if rec.Kind != ledger.KindTailor || rec.ProjectID != projectID {
		return ApplyResult{}, fmt.Errorf("%w: %s", ErrIdempotencyConflict, rec.IdempotencyKey)
	}
	p, err := tx.LoadProject(ctx, projectID)
	if err != nil {
		return ApplyResult{}, err
	}
	changed := make([]model.Section, 0, len(rec.ChangedSections))
	for _, raw := range rec.ChangedSections {
		if s, err := model.ParseSection(raw); err == nil {
			changed = append(changed, s)
		}
	}
	return ApplyResult{
		Transaction:     rec,
		Charge:          rec.Amount.Neg(),
		BalanceAfter:    rec.BalanceAfter,
		ChangedSections: changed,
		Project:         p,
		Replayed:        true,
	}, nil
}

// Activate points section at an existing version and makes that snapshot
// the live content. Balance is untouched.
func (c *Coordinator) Activate(ctx context.Context, userID, projectID string, section model.Section, version int) (projects.Project, error) {
	ctx, span := c.startSpan(ctx, "tailoring.activate", userID, projectID)
	defer span.End()

	var out projects.Project
	err := c.Store.WithUserLock(ctx, userID, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.LoadProject(ctx, projectID)
		if err != nil {
			return err
		}
		state := p.Versions.Clone()
		content, err := state.Activate(section, version)
		if err != nil {
			return err
		}
		if err := p.Content.Set(section, content); err != nil {
			return err
		}
		p.Versions = state
		if err := tx.SaveProject(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return projects.Project{}, err
	}
	return out, nil
}

// Reset clears the project's version history and pointers. The live content
// is kept and becomes version 0 on the next tailoring run.
func (c *Coordinator) Reset(ctx context.Context, userID, projectID string) (projects.Project, error) {
	ctx, span := c.startSpan(ctx, "tailoring.reset", userID, projectID)
	defer span.End()

	var out projects.Project
	err := c.Store.WithUserLock(ctx, userID, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.LoadProject(ctx, projectID)
		if err != nil {
			return err
		}
		p.Versions.Reset()
		if err := tx.SaveProject(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return projects.Project{}, err
	}
	return out, nil
}

func (c *Coordinator) startSpan(ctx context.Context, name, userID, projectID string) (context.Context, trace.Span) {
	tracer := c.tracer
	if tracer == nil {
		tracer = tracing.Tracer("resume-tailor/tailoring")
	}
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("project.id", projectID),
	))
}

func sectionNames(sections []model.Section) []string {
	out := make([]string, 0, len(sections))
	for _, s := range sections {
		out = append(out, string(s))
	}
	return out
}
