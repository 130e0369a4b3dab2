package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"resume-tailor/internal/shared/metrics"
	"resume-tailor/internal/shared/server/respond"
)

// sweepEvery is how many Take calls pass between scans for idle buckets.
const sweepEvery = 1024

// RateLimitRule is a token bucket holding at most Burst tokens, refilled at
// Rate tokens per second.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

// RuleFor allows n requests per period, all of which may arrive at once.
// Non-positive inputs yield the zero rule, which never limits.
func RuleFor(n int, per time.Duration) RateLimitRule {
	if n <= 0 || per <= 0 {
		return RateLimitRule{}
	}
	return RateLimitRule{Rate: float64(n) / per.Seconds(), Burst: n}
}

func (r RateLimitRule) enabled() bool { return r.Rate > 0 && r.Burst > 0 }

// RateLimitConfig selects a rule per request. GroupFor names the group a
// request belongs to; an empty group or one without a rule is not limited.
type RateLimitConfig struct {
	Rules    map[string]RateLimitRule
	GroupFor func(*gin.Context) string
	Limiter  *RateLimiter
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter keeps one bucket per caller and group.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	calls   int
	now     func() time.Time
}

type rateBucket struct {
	tokens float64
	last   time.Time
	rule   RateLimitRule
}

// NewRateLimiter builds a limiter reading time from now, or the wall clock.
func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{buckets: make(map[string]*rateBucket), now: now}
}

// Take spends one token from key's bucket under rule.
func (l *RateLimiter) Take(key string, rule RateLimitRule) Decision {
	if l == nil || !rule.enabled() {
		return Decision{Allowed: true, Remaining: -1}
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &rateBucket{tokens: float64(rule.Burst), last: now}
		l.buckets[key] = b
	}
	b.rule = rule
	b.refill(now)

	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true, Remaining: int(b.tokens)}
	}
	wait := (1 - b.tokens) / rule.Rate
	return Decision{
		RetryAfter: time.Duration(math.Ceil(wait*1000)) * time.Millisecond,
	}
}

func (b *rateBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(float64(b.rule.Burst), b.tokens+elapsed*b.rule.Rate)
	b.last = now
}

// sweep drops buckets that would be full by now; a fresh bucket behaves the
// same. Callers hold l.mu.
func (l *RateLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		b.refill(now)
		if b.tokens >= float64(b.rule.Burst) {
			delete(l.buckets, key)
		}
	}
}

// Len reports how many buckets are tracked.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit throttles requests per user, or per client IP before auth has
// named one. Limited responses carry Retry-After and the 429 envelope.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(nil)
	}
	return func(c *gin.Context) {
		group := ""
		if cfg.GroupFor != nil {
			group = strings.TrimSpace(cfg.GroupFor(c))
		}
		rule, ok := cfg.Rules[group]
		if group == "" || !ok || !rule.enabled() {
			c.Next()
			return
		}

		caller := UserIDFromContext(c)
		if caller == "" {
			caller = "ip:" + c.ClientIP()
		}
		d := cfg.Limiter.Take(group+"|"+caller, rule)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rule.Burst))
		if d.Allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			c.Next()
			return
		}

		metrics.IncRateLimited()
		retryMs := d.RetryAfter.Milliseconds()
		if retryMs <= 0 {
			retryMs = 1000
		}
		c.Header("X-RateLimit-Remaining", "0")
		c.Header("Retry-After", strconv.FormatInt((retryMs+999)/1000, 10))
		respond.Error(c, http.StatusTooManyRequests, respond.CodeRateLimited, "too many requests", gin.H{
			"group":        strings.ToLower(group),
			"retryAfterMs": retryMs,
		})
	}
}
