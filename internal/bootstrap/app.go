package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"resume-tailor/internal/credits"
	"resume-tailor/internal/ledger"
	"resume-tailor/internal/llm"
	openai "resume-tailor/internal/llm/openai"
	"resume-tailor/internal/projects"
	"resume-tailor/internal/services/health"
	"resume-tailor/internal/shared/auth"
	"resume-tailor/internal/shared/config"
	"resume-tailor/internal/shared/events"
	"resume-tailor/internal/shared/server"
	"resume-tailor/internal/shared/storage/db"
	"resume-tailor/internal/shared/telemetry"
	"resume-tailor/internal/tailoring"
	"resume-tailor/internal/users"
)

// App holds shared dependencies and the wired router.
type App struct {
	Config          config.Config
	Router          *gin.Engine
	DB              *sql.DB
	Redis           *redis.Client
	Keys            *auth.Keys
	Store           ledger.Store
	Events          events.Publisher
	LLM             llm.Tailorer
	UsersService    *users.Service
	CreditsService  *credits.Service
	ProjectsService *projects.Service
	TailorService   *tailoring.Service
}

// Options lets tests swap collaborators that would otherwise be built from
// config.
type Options struct {
	LLM    llm.Tailorer
	Events events.Publisher
}

// Build prepares dependencies and wires routes.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	policy := credits.Policy{
		TokensPerCredit:   cfg.Credits.TokensPerCredit,
		RoundingIncrement: cfg.Credits.RoundingIncrement,
		MinimumForTailor:  cfg.Credits.MinimumForTailor,
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	keys, err := auth.NewKeys(cfg.JWTSecret, !cfg.IsDev())
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Keys: keys}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB

	var (
		userRepo    users.Repo
		projectRepo projects.Repo
	)
	if sqlDB != nil {
		userRepo = &users.PGRepo{DB: sqlDB}
		projectRepo = &projects.PGRepo{DB: sqlDB}
		app.Store = ledger.NewPGStore(sqlDB, cfg.LedgerLockTimeout)
	} else {
		memUsers := users.NewMemoryRepo()
		memProjects := projects.NewMemoryRepo()
		memProjects.Owners = memUsers
		userRepo = memUsers
		projectRepo = memProjects
		app.Store = ledger.NewMemoryStore(memUsers, memProjects, cfg.LedgerLockTimeout)
	}

	app.LLM = opts.LLM
	if app.LLM == nil {
		if app.LLM, err = buildLLM(cfg); err != nil {
			_ = app.Close()
			return nil, err
		}
	}

	app.Events = opts.Events
	if app.Events == nil {
		if app.Events, app.Redis, err = buildEvents(ctx, cfg); err != nil {
			_ = app.Close()
			return nil, err
		}
	}

	app.CreditsService = credits.NewService(app.Store, policy)
	app.ProjectsService = projects.NewService(projectRepo)
	app.UsersService = users.NewService(userRepo)
	bonus := cfg.SignupBonus()
	app.UsersService.OnProvision = func(ctx context.Context, u users.User) error {
		return app.CreditsService.SignupBonus(ctx, u.ID, bonus)
	}
	app.TailorService = &tailoring.Service{
		Coordinator: tailoring.NewCoordinator(app.Store, policy),
		Credits:     app.CreditsService,
		Projects:    app.ProjectsService,
		LLM:         app.LLM,
		Events:      app.Events,
	}

	checks := map[string]health.Pinger{}
	if app.DB != nil {
		checks["db"] = app.DB
	}
	if app.Redis != nil {
		checks["redis"] = events.RedisPinger{Client: app.Redis}
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:         cfg,
		Verifier:       keys,
		HealthHandler:  health.NewHandler(health.NewService(checks)),
		UserHandler:    users.NewHandler(app.UsersService),
		CreditsHandler: credits.NewHandler(app.CreditsService),
		ProjectHandler: projects.NewHandler(app.ProjectsService),
		TailorHandler:  tailoring.NewHandler(app.TailorService),
		EnableTracing:  cfg.Tracing.Enabled,
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":          cfg.Env,
		"storage":      storageMode(app.DB),
		"llm_provider": cfg.LLMProvider,
		"events":       eventsMode(app.Redis),
	})
	return app, nil
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		if cfg.IsDev() {
			telemetry.Warn("bootstrap.memory_storage", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.DefaultServerOptions().WithPool(cfg.DB.MaxOpenConns, cfg.DB.MaxIdleConns, cfg.DB.ConnMaxLifetime)
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if cfg.IsDev() {
			telemetry.Warn("bootstrap.memory_storage", map[string]any{
				"reason": "database connect failed",
				"error":  err.Error(),
			})
			return nil, nil
		}
		return nil, err
	}
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildLLM(cfg config.Config) (llm.Tailorer, error) {
	switch cfg.LLMProvider {
	case "", "placeholder":
		return llm.PlaceholderClient{}, nil
	case "openai":
		return openai.NewTailorClient(cfg.OpenAIAPIKey, cfg.LLMModel, openai.Options{
			Timeout:             cfg.OpenAITimeout,
			NoTemperatureModels: cfg.LLMNoTempModels,
		})
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func buildEvents(ctx context.Context, cfg config.Config) (events.Publisher, *redis.Client, error) {
	if cfg.RedisAddr == "" {
		return events.NopPublisher{}, nil, nil
	}
	pub, client, err := events.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisChannel)
	if err != nil {
		if cfg.IsDev() {
			telemetry.Warn("bootstrap.events_disabled", map[string]any{"error": err.Error()})
			return events.NopPublisher{}, nil, nil
		}
		return nil, nil, err
	}
	return pub, client, nil
}

func storageMode(sqlDB *sql.DB) string {
	if sqlDB == nil {
		return "memory"
	}
	return "postgres"
}

func eventsMode(client *redis.Client) string {
	if client == nil {
		return "none"
	}
	return "redis"
}
