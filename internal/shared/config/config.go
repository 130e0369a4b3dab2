package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Port              string
	Env               string
	DatabaseURL       string
	CORSAllowOrigin   []string
	JWTSecret         string
	LLMProvider       string
	LLMModel          string
	OpenAIAPIKey      string
	OpenAITimeout     time.Duration
	LLMNoTempModels   []string
	RedisAddr         string
	RedisChannel      string
	LogLevel          string
	LogFormat         string
	Credits           Credits
	LedgerLockTimeout time.Duration
	DB                DBPool
	Tracing           Tracing
	TailorRateLimit   RateLimit
}

// Credits holds the pricing knobs.
type Credits struct {
	TokensPerCredit   int
	RoundingIncrement decimal.Decimal
	MinimumForTailor  decimal.Decimal
	SignupBonus       decimal.Decimal
}

// DBPool mirrors database/sql pool options.
type DBPool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Tracing holds OpenTelemetry exporter settings.
type Tracing struct {
	Enabled     bool
	SampleRatio float64
	Endpoint    string
	Headers     string
	Insecure    bool
}

// RateLimit is a token bucket: Capacity requests refilled every Per.
type RateLimit struct {
	Capacity int
	Per      time.Duration
}

var defaults = map[string]any{
	"PORT":                        "8080",
	"ENV":                         "dev",
	"CORS_ALLOW_ORIGINS":          "http://localhost:5173",
	"LLM_PROVIDER":                "placeholder",
	"OPENAI_TIMEOUT_SECONDS":      120,
	"REDIS_CHANNEL":               "credits.charged",
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "json",
	"TOKENS_PER_CREDIT":           2000,
	"CREDIT_ROUNDING_INCREMENT":   "0.5",
	"MINIMUM_CREDITS_FOR_TAILOR":  "1",
	"SIGNUP_BONUS_CREDITS":        "0",
	"LEDGER_LOCK_TIMEOUT":         "5s",
	"DB_MAX_OPEN_CONNS":           10,
	"DB_MAX_IDLE_CONNS":           5,
	"DB_CONN_MAX_LIFETIME":        "30m",
	"OTEL_ENABLED":                false,
	"OTEL_SAMPLER_RATIO":          0.1,
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"TAILOR_RATE_LIMIT":           5,
	"TAILOR_RATE_PERIOD":          "1m",
}

// Load reads configuration from the environment. A local .env file is
// loaded first when present; variables already set win.
func Load() (Config, error) {
	_ = godotenv.Load(".env", "cmd/.env")
	return load(viper.New())
}

func load(v *viper.Viper) (Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about.
	for _, k := range []string{"DATABASE_URL", "JWT_SECRET", "LLM_MODEL", "OPENAI_API_KEY",
		"LLM_NO_TEMP0_MODELS", "REDIS_ADDR", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_HEADERS"} {
		_ = v.BindEnv(k)
	}

	increment, err := decimalKey(v, "CREDIT_ROUNDING_INCREMENT")
	if err != nil {
		return Config{}, err
	}
	minimum, err := decimalKey(v, "MINIMUM_CREDITS_FOR_TAILOR")
	if err != nil {
		return Config{}, err
	}
	bonus, err := decimalKey(v, "SIGNUP_BONUS_CREDITS")
	if err != nil {
		return Config{}, err
	}

	env := normalizeEnv(v.GetString("ENV"))
	cfg := Config{
		Port:            v.GetString("PORT"),
		Env:             env,
		DatabaseURL:     strings.TrimSpace(v.GetString("DATABASE_URL")),
		CORSAllowOrigin: splitAndTrim(v.GetString("CORS_ALLOW_ORIGINS")),
		JWTSecret:       strings.TrimSpace(v.GetString("JWT_SECRET")),
		LLMProvider:     strings.ToLower(strings.TrimSpace(v.GetString("LLM_PROVIDER"))),
		LLMModel:        strings.TrimSpace(v.GetString("LLM_MODEL")),
		OpenAIAPIKey:    strings.TrimSpace(v.GetString("OPENAI_API_KEY")),
		OpenAITimeout:   time.Duration(v.GetInt("OPENAI_TIMEOUT_SECONDS")) * time.Second,
		LLMNoTempModels: splitAndTrim(v.GetString("LLM_NO_TEMP0_MODELS")),
		RedisAddr:       strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisChannel:    v.GetString("REDIS_CHANNEL"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),
		Credits: Credits{
			TokensPerCredit:   v.GetInt("TOKENS_PER_CREDIT"),
			RoundingIncrement: increment,
			MinimumForTailor:  minimum,
			SignupBonus:       bonus,
		},
		LedgerLockTimeout: v.GetDuration("LEDGER_LOCK_TIMEOUT"),
		DB: DBPool{
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Tracing: Tracing{
			Enabled:     v.GetBool("OTEL_ENABLED"),
			SampleRatio: v.GetFloat64("OTEL_SAMPLER_RATIO"),
			Endpoint:    strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
			Headers:     v.GetString("OTEL_EXPORTER_OTLP_HEADERS"),
			Insecure:    v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		},
		TailorRateLimit: RateLimit{
			Capacity: v.GetInt("TAILOR_RATE_LIMIT"),
			Per:      v.GetDuration("TAILOR_RATE_PERIOD"),
		},
	}

	if env == "production" {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET is required in production")
		}
	}
	if cfg.SignupBonus().IsNegative() {
		return Config{}, fmt.Errorf("SIGNUP_BONUS_CREDITS must not be negative")
	}
	return cfg, nil
}

// SignupBonus is the one-time credit grant for new users.
func (c Config) SignupBonus() decimal.Decimal {
	return c.Credits.SignupBonus
}

// IsDev reports whether dev-only routes and headers are enabled.
func (c Config) IsDev() bool {
	return c.Env == "dev" || c.Env == "local"
}

func decimalKey(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", key, raw, err)
	}
	return d, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}
