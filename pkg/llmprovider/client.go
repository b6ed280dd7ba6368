// Package llmprovider wraps the OpenAI-compatible chat-completions and
// embeddings API behind the two provider shapes the process can be
// configured with: a direct provider (model in the body, single base URL) and an
// Azure-style deployment (deployment name in the URL path, API version as a
// query parameter, model omitted from the body).
package llmprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/scoutwatch/scoutd/pkg/config"
)

// ProviderError wraps an OpenAI API error, preserving its HTTP status so
// callers can pattern-match 401/402 without parsing response bodies.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider error (status %d): %v", e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsStatus reports whether err is a ProviderError carrying the given HTTP
// status code.
func IsStatus(err error, status int) bool {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr.StatusCode == status
	}
	return false
}

// Client talks to one configured LLM provider with a single API key. One
// Client is shared by every scout invocation of the process.
type Client struct {
	openai openai.Client
	cfg    config.LLMConfig
}

// New builds a Client. apiKey is the process-wide LLM provider key; cfg
// supplies the provider shape and model/deployment identifiers. In
// deployment mode the requests go to
// <BaseURL>/openai/deployments/<DeploymentName>/.
func New(cfg config.LLMConfig, apiKey string) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	switch cfg.Mode {
	case config.LLMModeDeployment:
		opts = append(opts,
			option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/openai/deployments/"+cfg.DeploymentName+"/"),
			option.WithQuery("api-version", cfg.APIVersion),
		)
	default: // config.LLMModeDirect
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}

	return &Client{
		openai: openai.NewClient(opts...),
		cfg:    cfg,
	}
}

func (c *Client) modelOrDeployment() string {
	if c.cfg.Mode == config.LLMModeDeployment {
		return c.cfg.DeploymentName
	}
	return c.cfg.Model
}

func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.cfg.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
