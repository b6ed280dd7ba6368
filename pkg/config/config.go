// Package config loads a single, explicit configuration value for the
// scout execution pipeline. There is no process-wide mutable singleton:
// Initialize returns a *Config that callers thread through construction of
// every other component.
package config

import (
	"fmt"
	"time"
)

// LLMMode selects how the LLM adapter addresses the provider.
type LLMMode string

// Supported LLM adapter modes.
const (
	// LLMModeDirect sends the model name in the request body against a
	// single base URL.
	LLMModeDirect LLMMode = "direct"
	// LLMModeDeployment is Azure-style: the deployment name travels in the
	// URL path and an API version query parameter is required; the model
	// name is omitted from the body.
	LLMModeDeployment LLMMode = "deployment"
)

// LLMConfig configures the chat-completions and embeddings adapter.
type LLMConfig struct {
	Mode    LLMMode
	APIKey  string
	BaseURL string // direct mode: provider base URL; deployment mode: resource endpoint the deployment path is appended to
	Model   string // direct mode: model name sent in the body

	// Deployment mode only.
	DeploymentName string
	APIVersion     string

	EmbeddingModel string
	CallTimeout    time.Duration
}

// SearchProviderConfig configures the search/scrape adapter.
type SearchProviderConfig struct {
	BaseURL        string
	DefaultCountry string // appended when a location has no comma
	CallTimeout    time.Duration
	HostBlacklist  []string
}

// SMTPConfig configures the transactional email sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	ConnMaxLifetime time.Duration
}

// AgentLoopConfig bounds the agent loop's iteration and error behavior.
type AgentLoopConfig struct {
	MaxLoops             int
	MaxConsecutiveErrors int
	ReminderEvery        int // inject a step-usage reminder every N loops
}

// DedupConfig configures the deduplication threshold and history window.
type DedupConfig struct {
	SimilarityThreshold float32
	RecentFindingsLimit int
}

// SchedulingConfig configures the dispatcher and reaper cadences.
type SchedulingConfig struct {
	DispatchInterval    time.Duration
	ReapInterval        time.Duration
	ExecutorWallLimit   time.Duration // overall per-invocation wall-clock ceiling
	StaleAfter          time.Duration // reap threshold, derived default: 2x ExecutorWallLimit
}

// Config is the single explicit configuration value passed to every
// component at construction time.
type Config struct {
	LLM        LLMConfig
	Search     SearchProviderConfig
	SMTP       SMTPConfig
	Database   DatabaseConfig
	AgentLoop  AgentLoopConfig
	Dedup      DedupConfig
	Scheduling SchedulingConfig

	HTTPPort        string
	AnalyticsBuffer int
}

// Validate checks that the configuration is internally consistent. Bad
// values fail fast at startup rather than surfacing as runtime errors
// mid-dispatch.
func (c *Config) Validate() error {
	switch c.LLM.Mode {
	case LLMModeDirect:
		if c.LLM.Model == "" {
			return fmt.Errorf("%w: direct mode requires a model name", ErrInvalidConfig)
		}
	case LLMModeDeployment:
		if c.LLM.DeploymentName == "" || c.LLM.APIVersion == "" {
			return fmt.Errorf("%w: deployment mode requires deployment name and api version", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown llm mode %q", ErrInvalidConfig, c.LLM.Mode)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("%w: missing LLM API key", ErrInvalidConfig)
	}
	if c.Search.BaseURL == "" {
		return fmt.Errorf("%w: missing search provider base URL", ErrInvalidConfig)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("%w: missing database DSN", ErrInvalidConfig)
	}
	if c.AgentLoop.MaxLoops <= 0 {
		return fmt.Errorf("%w: agent loop MaxLoops must be positive", ErrInvalidConfig)
	}
	if c.AgentLoop.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("%w: agent loop MaxConsecutiveErrors must be positive", ErrInvalidConfig)
	}
	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: dedup threshold must be in (0,1]", ErrInvalidConfig)
	}
	if c.Scheduling.DispatchInterval <= 0 || c.Scheduling.ReapInterval <= 0 {
		return fmt.Errorf("%w: scheduling intervals must be positive", ErrInvalidConfig)
	}
	return nil
}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = fmt.Errorf("invalid configuration")
