package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/joho/godotenv"
)

// defaultHostBlacklist is the static set of social/video/paywalled hosts
// filtered from search results before they reach the agent loop.
var defaultHostBlacklist = []string{
	"facebook.com",
	"instagram.com",
	"tiktok.com",
	"youtube.com",
	"youtu.be",
	"pinterest.com",
	"x.com",
	"twitter.com",
	"reddit.com",
	"wsj.com",
	"ft.com",
	"bloomberg.com",
}

// Initialize loads configuration from a .env file (if present) in envDir,
// then from the process environment, and validates the result. This is the
// primary entry point for configuration loading.
func Initialize(envDir string) (*Config, error) {
	log := slog.With("env_dir", envDir)

	envPath := filepath.Join(envDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Info("no .env file loaded, continuing with process environment", "path", envPath)
	}

	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized",
		"llm_mode", cfg.LLM.Mode,
		"dispatch_interval", cfg.Scheduling.DispatchInterval,
		"reap_interval", cfg.Scheduling.ReapInterval)

	return cfg, nil
}

func load() (*Config, error) {
	llmCallTimeout, err := getEnvDurationOrDefault("LLM_CALL_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	searchCallTimeout, err := getEnvDurationOrDefault("SEARCH_CALL_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	maxLoops, err := getEnvIntOrDefault("AGENT_MAX_LOOPS", 7)
	if err != nil {
		return nil, err
	}
	maxConsecutiveErrors, err := getEnvIntOrDefault("AGENT_MAX_CONSECUTIVE_ERRORS", 3)
	if err != nil {
		return nil, err
	}
	reminderEvery, err := getEnvIntOrDefault("AGENT_REMINDER_EVERY", 3)
	if err != nil {
		return nil, err
	}
	dedupThreshold, err := getEnvFloatOrDefault("DEDUP_SIMILARITY_THRESHOLD", 0.85)
	if err != nil {
		return nil, err
	}
	recentFindingsLimit, err := getEnvIntOrDefault("DEDUP_RECENT_FINDINGS_LIMIT", 20)
	if err != nil {
		return nil, err
	}
	dbMaxConns, err := getEnvIntOrDefault("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	dbConnMaxLifetime, err := getEnvDurationOrDefault("DB_CONN_MAX_LIFETIME", "1h")
	if err != nil {
		return nil, err
	}
	dispatchInterval, err := getEnvDurationOrDefault("DISPATCH_INTERVAL", "1m")
	if err != nil {
		return nil, err
	}
	reapInterval, err := getEnvDurationOrDefault("REAP_INTERVAL", "5m")
	if err != nil {
		return nil, err
	}
	executorWallLimit, err := getEnvDurationOrDefault("EXECUTOR_WALL_LIMIT", "10m")
	if err != nil {
		return nil, err
	}
	smtpPort, err := getEnvIntOrDefault("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	analyticsBuffer, err := getEnvIntOrDefault("ANALYTICS_BUFFER", 256)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LLM: LLMConfig{
			Mode:           LLMMode(getEnvOrDefault("LLM_MODE", string(LLMModeDirect))),
			APIKey:         getEnvOrDefault("LLM_API_KEY", ""),
			BaseURL:        getEnvOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
			Model:          getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
			DeploymentName: getEnvOrDefault("LLM_DEPLOYMENT_NAME", ""),
			APIVersion:     getEnvOrDefault("LLM_API_VERSION", ""),
			EmbeddingModel: getEnvOrDefault("LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
			CallTimeout:    llmCallTimeout,
		},
		Search: SearchProviderConfig{
			BaseURL:        getEnvOrDefault("SEARCH_BASE_URL", ""),
			DefaultCountry: getEnvOrDefault("SEARCH_DEFAULT_COUNTRY", "us"),
			CallTimeout:    searchCallTimeout,
			HostBlacklist:  getEnvListOrDefault("SEARCH_HOST_BLACKLIST", defaultHostBlacklist),
		},
		SMTP: SMTPConfig{
			Host:     getEnvOrDefault("SMTP_HOST", ""),
			Port:     smtpPort,
			Username: getEnvOrDefault("SMTP_USERNAME", ""),
			Password: getEnvOrDefault("SMTP_PASSWORD", ""),
			From:     getEnvOrDefault("SMTP_FROM", "scouts@scoutwatch.io"),
		},
		Database: DatabaseConfig{
			DSN:             getEnvOrDefault("DATABASE_DSN", ""),
			MaxConns:        int32(dbMaxConns),
			ConnMaxLifetime: dbConnMaxLifetime,
		},
		AgentLoop: AgentLoopConfig{
			MaxLoops:             maxLoops,
			MaxConsecutiveErrors: maxConsecutiveErrors,
			ReminderEvery:        reminderEvery,
		},
		Dedup: DedupConfig{
			SimilarityThreshold: float32(dedupThreshold),
			RecentFindingsLimit: recentFindingsLimit,
		},
		Scheduling: SchedulingConfig{
			DispatchInterval:  dispatchInterval,
			ReapInterval:      reapInterval,
			ExecutorWallLimit: executorWallLimit,
			StaleAfter:        2 * executorWallLimit,
		},
		HTTPPort:        getEnvOrDefault("HTTP_PORT", "8080"),
		AnalyticsBuffer: analyticsBuffer,
	}

	return cfg, nil
}
