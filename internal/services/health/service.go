package health

import (
	"context"
	"time"

	"resume-tailor/internal/shared/telemetry"
)

// Pinger is satisfied by *sql.DB and *redis.Client wrappers.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Service reports liveness and dependency reachability.
type Service struct {
	checks  map[string]Pinger
	timeout time.Duration
}

// Status is the health payload.
type Status struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewService constructs a new health service. Nil pingers are skipped, which
// is the case for the in-memory storage mode.
func NewService(checks map[string]Pinger) *Service {
	filtered := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			filtered[name] = p
		}
	}
	return &Service{checks: filtered, timeout: 2 * time.Second}
}

// Status pings every dependency. OK is false when any of them fails.
func (s *Service) Status(ctx context.Context) Status {
	out := Status{OK: true}
	if s == nil || len(s.checks) == 0 {
		return out
	}
	out.Checks = make(map[string]string, len(s.checks))
	for name, p := range s.checks {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := p.PingContext(pctx)
		cancel()
		if err != nil {
			out.OK = false
			out.Checks[name] = "unavailable"
			telemetry.Warn("health.check_failed", map[string]any{
				"check": name,
				"error": err.Error(),
			})
			continue
		}
		out.Checks[name] = "ok"
	}
	return out
}
