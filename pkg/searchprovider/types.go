// Package searchprovider wraps the external search/scrape HTTP API used by
// the agent loop's two tools.
package searchprovider

import "github.com/scoutwatch/scoutd/pkg/models"

// SearchRequest is echoed back in SearchResult.EchoedParams, with Limit
// replaced by the capped value actually sent.
type SearchRequest struct {
	Query      string
	Limit      int // capped at 10
	TimeFilter string
	Location   models.Location
	MaxAge     int // seconds, freshness hint
	ScrapeOpts *models.ScrapeOptions
}

// SearchResultItem is a single filtered search hit.
type SearchResultItem struct {
	Title         string
	URL           string
	Description   string
	PublishedTime string
	Favicon       string
}

// SearchResult is the full response to a Search call.
type SearchResult struct {
	Results       []SearchResultItem
	FilteredCount int
	EchoedParams  SearchRequest
}

// ScrapeRequest is a single-URL scrape.
type ScrapeRequest struct {
	URL        string
	MaxAge     int
	ScrapeOpts *models.ScrapeOptions
}

// ScrapeResult is the full response to a Scrape call. Content is markdown,
// truncated to 2000 characters by the adapter before it is returned.
type ScrapeResult struct {
	URL        string
	Title      string
	Content    string
	Screenshot string
	Favicon    string
}

// ContentMaxLen bounds ScrapeResult.Content.
const ContentMaxLen = 2000
