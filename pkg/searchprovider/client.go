package searchprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scoutwatch/scoutd/pkg/config"
)

// ProviderError wraps a non-2xx response from the search/scrape API,
// preserving the HTTP status so the credential resolver can pattern-match
// 401/402 without parsing the body.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("search provider error (status %d): %s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is a ProviderError carrying the given HTTP
// status code.
func IsStatus(err error, status int) bool {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr.StatusCode == status
	}
	return false
}

// Client is an HTTP client for the single configured search/scrape
// provider.
type Client struct {
	httpClient *http.Client
	cfg        config.SearchProviderConfig
	apiKey     string
}

// New builds a Client bound to apiKey, the per-user credential resolved for
// this run.
func New(cfg config.SearchProviderConfig, apiKey string) *Client {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		apiKey:     apiKey,
	}
}

type searchWireRequest struct {
	Query      string          `json:"query"`
	Limit      int             `json:"limit"`
	TimeFilter string          `json:"time_filter,omitempty"`
	Location   *locationParam  `json:"location,omitempty"`
	MaxAge     int             `json:"max_age"`
	ScrapeOpts *wireScrapeOpts `json:"scrape_options,omitempty"`
}

type searchWireResponse struct {
	Results []SearchResultItem `json:"results"`
}

// Search queries the provider, applies the host blacklist, and reports how
// many results were filtered out.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	limit := req.Limit
	if limit > 10 {
		limit = 10
	}

	wireReq := searchWireRequest{
		Query:      req.Query,
		Limit:      limit,
		TimeFilter: req.TimeFilter,
		Location:   resolveLocation(req.Location, c.cfg.DefaultCountry),
		MaxAge:     req.MaxAge,
		ScrapeOpts: toWireScrapeOpts(req.ScrapeOpts),
	}

	var wireResp searchWireResponse
	if err := c.post(ctx, "/search", wireReq, &wireResp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	kept, removed := filterBlacklisted(wireResp.Results, c.cfg.HostBlacklist)
	echoed := req
	echoed.Limit = limit
	return &SearchResult{
		Results:       kept,
		FilteredCount: removed,
		EchoedParams:  echoed,
	}, nil
}

type scrapeWireRequest struct {
	URL        string          `json:"url"`
	MaxAge     int             `json:"max_age"`
	ScrapeOpts *wireScrapeOpts `json:"scrape_options,omitempty"`
}

// Scrape fetches a single URL and returns its content truncated to
// ContentMaxLen characters.
func (c *Client) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResult, error) {
	wireReq := scrapeWireRequest{
		URL:        req.URL,
		MaxAge:     req.MaxAge,
		ScrapeOpts: toWireScrapeOpts(req.ScrapeOpts),
	}

	var result ScrapeResult
	if err := c.post(ctx, "/scrape", wireReq, &result); err != nil {
		return nil, fmt.Errorf("scrape %s: %w", req.URL, err)
	}
	if len(result.Content) > ContentMaxLen {
		result.Content = result.Content[:ContentMaxLen]
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
