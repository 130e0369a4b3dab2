package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"resume-tailor/internal/credits"
	"resume-tailor/internal/projects"
	"resume-tailor/internal/services/health"
	"resume-tailor/internal/shared/config"
	"resume-tailor/internal/shared/metrics"
	"resume-tailor/internal/shared/server/middleware"
	"resume-tailor/internal/tailoring"
	"resume-tailor/internal/users"
)

const (
	rateGroupTailor = "TAILOR"
	tailorRoute     = "/api/v1/projects/:id/tailor"
)

// RouterDeps carries the handlers the router mounts. Nil handlers are skipped.
type RouterDeps struct {
	Config         config.Config
	Verifier       middleware.TokenVerifier
	HealthHandler  *health.Handler
	UserHandler    *users.Handler
	CreditsHandler *credits.Handler
	ProjectHandler *projects.Handler
	TailorHandler  *tailoring.Handler
	RateLimiter    *middleware.RateLimiter
	ServiceName    string
	EnableTracing  bool
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if !deps.Config.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(middleware.RequestID())
	if deps.EnableTracing {
		name := deps.ServiceName
		if name == "" {
			name = "resume-tailor"
		}
		r.Use(otelgin.Middleware(name))
	}
	r.Use(
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	if deps.HealthHandler != nil {
		deps.HealthHandler.RegisterRoutes(api)
	} else {
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})
	}

	authed := api.Group("")
	authed.Use(
		middleware.Auth(deps.Verifier, deps.Config.IsDev()),
		middleware.RateLimit(rateLimitConfig(deps)),
	)
	if deps.UserHandler != nil {
		deps.UserHandler.RegisterRoutes(authed)
	}
	if deps.CreditsHandler != nil {
		deps.CreditsHandler.RegisterRoutes(authed)
	}
	if deps.ProjectHandler != nil {
		deps.ProjectHandler.RegisterRoutes(authed)
	}
	if deps.TailorHandler != nil {
		deps.TailorHandler.RegisterRoutes(authed)
	}
	if deps.Config.IsDev() && deps.CreditsHandler != nil {
		deps.CreditsHandler.RegisterDevRoutes(authed.Group("/dev"))
	}

	return r
}

func rateLimitConfig(deps RouterDeps) middleware.RateLimitConfig {
	rl := deps.Config.TailorRateLimit
	rules := map[string]middleware.RateLimitRule{}
	if rl.Capacity > 0 && rl.Per > 0 {
		rules[rateGroupTailor] = middleware.RuleFor(rl.Capacity, rl.Per)
	}
	return middleware.RateLimitConfig{
		Rules:    rules,
		GroupFor: groupFor,
		Limiter:  deps.RateLimiter,
	}
}

// groupFor charges only tailoring runs against the limit; they are the calls
// that reach the LLM.
func groupFor(c *gin.Context) string {
	if c.Request.Method == http.MethodPost && c.FullPath() == tailorRoute {
		return rateGroupTailor
	}
	return ""
}

// Addr normalizes the listen address.
func Addr(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
