package tailoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"resume-tailor/internal/credits"
	"resume-tailor/internal/ledger"
	"resume-tailor/internal/llm"
	"resume-tailor/internal/projects"
	"resume-tailor/internal/shared/events"
	"resume-tailor/internal/shared/metrics"
	"resume-tailor/internal/shared/telemetry"
	"resume-tailor/resume/model"
)

const maxJobDescriptionLength = 20000

// Service runs a full tailoring request: checks, provider call, ledger
// commit and the post-commit event.
type Service struct {
	Coordinator *Coordinator
	Credits     *credits.Service
	Projects    *projects.Service
	LLM         llm.Tailorer
	Events      events.Publisher
}

// TailorRequest is one user request to tailor a project.
type TailorRequest struct {
	UserID         string
	ProjectID      string
	JobDescription string
	// Sections limits the rewrite; empty means every present section.
	Sections       []model.Section
	IdempotencyKey string
}

// TailorResult is what the caller sees after a commit or replay.
type TailorResult struct {
	ApplyResult
	Usage llm.Usage
	Model string
}

// ChargedEvent is the payload of a credits.charged event.
type ChargedEvent struct {
	TransactionID   string   `json:"transactionId"`
	ProjectID       string   `json:"projectId"`
	Amount          string   `json:"amount"`
	BalanceAfter    string   `json:"balanceAfter"`
	TotalTokens     int      `json:"totalTokens"`
	ChangedSections []string `json:"changedSections"`
}

// Tailor checks the balance and ownership, asks the provider for new
// sections and applies the result. A request repeating a committed
// idempotency key returns the recorded outcome without calling the provider.
func (s *Service) Tailor(ctx context.Context, req TailorRequest) (TailorResult, error) {
	if err := validateRequest(req); err != nil {
		return TailorResult{}, err
	}

	p, err := s.Projects.Get(ctx, req.UserID, req.ProjectID)
	if err != nil {
		return TailorResult{}, err
	}

	if res, found, err := s.Coordinator.Replay(ctx, req.UserID, req.ProjectID, req.IdempotencyKey); err != nil {
		return TailorResult{}, err
	} else if found {
		metrics.IncTailorReplayed()
		telemetry.Info("tailor.replayed", map[string]any{
			"user_id":        req.UserID,
			"project_id":     req.ProjectID,
			"transaction_id": res.Transaction.ID,
		})
		return resultFromReplay(res), nil
	}

	if _, err := s.Credits.EnsureCanTailor(ctx, req.UserID); err != nil {
		return TailorResult{}, err
	}

	metrics.IncTailorStarted()
	start := time.Now()
	res, err := s.run(ctx, req, p)
	metrics.ObserveTailorDurationMs(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.IncTailorFailed()
		if errors.Is(err, ledger.ErrLockTimeout) {
			metrics.IncLedgerBusy()
		}
		telemetry.Warn("tailor.failed", map[string]any{
			"user_id":    req.UserID,
			"project_id": req.ProjectID,
			"error":      err.Error(),
		})
		return TailorResult{}, err
	}

	if res.Replayed {
		metrics.IncTailorReplayed()
		return res, nil
	}
	metrics.IncTailorCommitted()
	metrics.AddCreditsCharged(res.Charge)
	telemetry.Info("tailor.committed", map[string]any{
		"user_id":          req.UserID,
		"project_id":       req.ProjectID,
		"transaction_id":   res.Transaction.ID,
		"charge":           res.Charge.String(),
		"balance_after":    res.BalanceAfter.String(),
		"total_tokens":     res.Usage.TotalTokens,
		"changed_sections": sectionNames(res.ChangedSections),
	})
	s.publishCharged(ctx, req.UserID, res)
	return res, nil
}

func (s *Service) run(ctx context.Context, req TailorRequest, p projects.Project) (TailorResult, error) {
	out, err := s.LLM.Tailor(ctx, llm.TailorInput{
		JobDescription: req.JobDescription,
		Sections:       req.Sections,
		Content:        p.Content,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TailorResult{}, ctxErr
		}
		return TailorResult{}, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}

	applied, err := s.Coordinator.Apply(ctx, ApplyInput{
		UserID:         req.UserID,
		ProjectID:      req.ProjectID,
		Content:        out.Content,
		Usage:          out.Usage,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return TailorResult{}, err
	}
	if applied.Replayed {
		return resultFromReplay(applied), nil
	}
	return TailorResult{ApplyResult: applied, Usage: out.Usage, Model: out.Model}, nil
}

// publishCharged runs after commit; a failure is logged and never undoes the
// ledger write.
func (s *Service) publishCharged(ctx context.Context, userID string, res TailorResult) {
	if s.Events == nil {
		return
	}
	evt := events.Event{
		Type:       events.TypeCreditsCharged,
		UserID:     userID,
		OccurredAt: res.Transaction.CreatedAt,
		Data: ChargedEvent{
			TransactionID:   res.Transaction.ID,
			ProjectID:       res.Transaction.ProjectID,
			Amount:          res.Charge.StringFixed(2),
			BalanceAfter:    res.BalanceAfter.StringFixed(2),
			TotalTokens:     res.Usage.TotalTokens,
			ChangedSections: sectionNames(res.ChangedSections),
		},
	}
	if err := s.Events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		telemetry.Error("events.publish_failed", map[string]any{
			"type":           evt.Type,
			"user_id":        userID,
			"transaction_id": res.Transaction.ID,
			"error":          err.Error(),
		})
	}
}

func resultFromReplay(res ApplyResult) TailorResult {
	out := TailorResult{ApplyResult: res}
	if u := res.Transaction.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out
}

func validateRequest(req TailorRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	jd := strings.TrimSpace(req.JobDescription)
	if jd == "" {
		return fmt.Errorf("%w: job description is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(jd) > maxJobDescriptionLength {
		return fmt.Errorf("%w: job description exceeds %d characters", ErrInvalidInput, maxJobDescriptionLength)
	}
	if len(req.IdempotencyKey) > 200 {
		return fmt.Errorf("%w: idempotency key too long", ErrInvalidInput)
	}
	return nil
}
