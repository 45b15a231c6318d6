package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode is the run mode the orchestrator operates in.
type Mode string

const (
	ModeCopilot   Mode = "copilot"
	ModeAutopilot Mode = "autopilot"
	ModeDryRun    Mode = "dry-run"
)

// Valid reports whether m is one of the three run modes.
func (m Mode) Valid() bool {
	return m == ModeCopilot || m == ModeAutopilot || m == ModeDryRun
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL   string
	RedisURL      string
	MigrationsDir string

	// Agent config file (YAML)
	AgentConfigPath string

	// LLM (optional, enables the second classification stage)
	AnthropicAPIKey string
	LLMModel        string
	LLMMaxTokens    int
	LLMTimeout      time.Duration

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleRefreshToken string

	// Run behavior
	Mode                    Mode
	PersonAssignmentEnabled bool

	// Discovery
	DiscoveryWorkers int
	MailTimeout      time.Duration

	// Scheduler
	SchedulerEnabled bool
	AgentCron        string
	DigestDailyCron  string
	DigestWeeklyCron string
	CleanupCron      string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		AgentConfigPath: getEnv("AGENT_CONFIG", "agent.yaml"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		LLMModel:        getEnv("LLM_MODEL", "claude-3-5-haiku-latest"),
		LLMMaxTokens:    getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTimeout:      time.Duration(getEnvInt("LLM_TIMEOUT_SEC", 10)) * time.Second,

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		GoogleRefreshToken: getEnv("GOOGLE_REFRESH_TOKEN", ""),

		// Run behavior
		Mode:                    Mode(getEnv("AGENT_MODE", string(ModeCopilot))),
		PersonAssignmentEnabled: getEnvBool("PERSON_ASSIGNMENT_ENABLED", true),

		// Discovery
		DiscoveryWorkers: getEnvInt("DISCOVERY_WORKERS", 3),
		MailTimeout:      time.Duration(getEnvInt("MAIL_TIMEOUT_SEC", 15)) * time.Second,

		// Scheduler
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
		AgentCron:        getEnv("AGENT_CRON", "0 */4 * * *"),
		DigestDailyCron:  getEnv("DIGEST_DAILY_CRON", "0 6 * * *"),
		DigestWeeklyCron: getEnv("DIGEST_WEEKLY_CRON", "0 20 * * 0"),
		CleanupCron:      getEnv("CLEANUP_CRON", "30 3 * * *"),
	}

	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("invalid AGENT_MODE %q: must be copilot, autopilot, or dry-run", cfg.Mode)
	}
	if cfg.DiscoveryWorkers < 2 {
		cfg.DiscoveryWorkers = 2
	}
	if cfg.DiscoveryWorkers > 5 {
		cfg.DiscoveryWorkers = 5
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// StageBEnabled reports whether the LLM classification stage can run.
func (c *Config) StageBEnabled() bool {
	return c.AnthropicAPIKey != ""
}
