package credits

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidPolicy is returned for non-positive ratios or increments and
// negative token counts.
var ErrInvalidPolicy = errors.New("invalid credit policy")

// ComputeCharge converts a token count into credits, rounded to the nearest
// multiple of increment. Ties round half to even, so 2500 tokens at 2000 per
// credit with a 0.5 increment charges 1.0, not 1.5.
func ComputeCharge(totalTokens, tokensPerCredit int, increment decimal.Decimal) (decimal.Decimal, error) {
	if totalTokens < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative token count %d", ErrInvalidPolicy, totalTokens)
	}
	if tokensPerCredit <= 0 {
		return decimal.Zero, fmt.Errorf("%w: tokens per credit must be positive", ErrInvalidPolicy)
	}
	if !increment.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: rounding increment must be positive", ErrInvalidPolicy)
	}
	if totalTokens == 0 {
		return decimal.Zero, nil
	}
	raw := decimal.NewFromInt(int64(totalTokens)).Div(decimal.NewFromInt(int64(tokensPerCredit)))
	steps := raw.Div(increment).RoundBank(0)
	return steps.Mul(increment), nil
}

// Policy holds the pricing knobs for tailoring.
type Policy struct {
	TokensPerCredit   int
	RoundingIncrement decimal.Decimal
	MinimumForTailor  decimal.Decimal
}

// DefaultPolicy is 2000 tokens per credit, half-credit increments and a
// one-credit minimum balance to start a tailoring run.
func DefaultPolicy() Policy {
	return Policy{
		TokensPerCredit:   2000,
		RoundingIncrement: decimal.RequireFromString("0.5"),
		MinimumForTailor:  decimal.NewFromInt(1),
	}
}

// Validate rejects policies ComputeCharge cannot work with.
func (p Policy) Validate() error {
	if p.TokensPerCredit <= 0 {
		return fmt.Errorf("%w: tokens per credit must be positive", ErrInvalidPolicy)
	}
	if !p.RoundingIncrement.IsPositive() {
		return fmt.Errorf("%w: rounding increment must be positive", ErrInvalidPolicy)
	}
	if p.MinimumForTailor.IsNegative() {
		return fmt.Errorf("%w: minimum credits must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// Charge computes the credit cost of totalTokens under the policy.
func (p Policy) Charge(totalTokens int) (decimal.Decimal, error) {
	return ComputeCharge(totalTokens, p.TokensPerCredit, p.RoundingIncrement)
}
