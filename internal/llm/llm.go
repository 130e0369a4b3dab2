package llm

import (
	"context"
	"errors"

	"resume-tailor/resume/model"
)

// Tailorer rewrites resume sections against a job description.
type Tailorer interface {
	Tailor(ctx context.Context, input TailorInput) (TailorOutput, error)
}

// TailorInput captures what the provider needs for one tailoring pass.
type TailorInput struct {
	JobDescription string
	// Sections limits the rewrite; empty means every present section.
	Sections []model.Section
	Content  model.Document
}

// Usage is the token consumption reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add returns the sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// TailorOutput is the rewritten content plus the tokens it cost. Sections
// the provider did not return are absent.
type TailorOutput struct {
	Content    model.Document
	Usage      Usage
	Model      string
	PromptHash string
}

var (
	// ErrNotImplemented is returned by the placeholder client.
	ErrNotImplemented = errors.New("LLM not implemented")
	// ErrInvalidOutput means the provider answered with content that does
	// not decode into resume sections.
	ErrInvalidOutput = errors.New("invalid LLM output")
)

// PlaceholderClient is a stub implementation until provider wiring is added.
type PlaceholderClient struct{}

// Tailor returns ErrNotImplemented.
func (PlaceholderClient) Tailor(ctx context.Context, input TailorInput) (TailorOutput, error) {
	_ = ctx
	_ = input
	return TailorOutput{}, ErrNotImplemented
}

// TargetSections resolves the sections a request applies to.
func TargetSections(input TailorInput) []model.Section {
	if len(input.Sections) == 0 {
		return input.Content.Sections()
	}
	present := map[model.Section]bool{}
	for _, s := range input.Content.Sections() {
		present[s] = true
	}
	out := make([]model.Section, 0, len(input.Sections))
	seen := map[model.Section]bool{}
	for _, s := range input.Sections {
		if present[s] && !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	return out
}
