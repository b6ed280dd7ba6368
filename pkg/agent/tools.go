package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scoutwatch/scoutd/pkg/models"
	"github.com/scoutwatch/scoutd/pkg/searchprovider"
)

// Tool names, the fixed two-tool surface the model may call.
const (
	ToolSearchWeb     = "searchWeb"
	ToolScrapeWebsite = "scrapeWebsite"
)

// searchArgs is the JSON argument shape for searchWeb.
type searchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
	TBS   string `json:"tbs"`
}

// scrapeArgs is the JSON argument shape for scrapeWebsite.
type scrapeArgs struct {
	URL string `json:"url"`
}

// SearchScrapeExecutor is the ToolExecutor backing the two fixed tools,
// wired to a single scout's search/scrape configuration.
type SearchScrapeExecutor struct {
	client    *searchprovider.Client
	scout     models.Scout
	blacklist []string
}

// NewSearchScrapeExecutor builds an executor scoped to one scout run.
func NewSearchScrapeExecutor(client *searchprovider.Client, scout models.Scout, blacklist []string) *SearchScrapeExecutor {
	return &SearchScrapeExecutor{client: client, scout: scout, blacklist: blacklist}
}

// ListTools returns the fixed two tool definitions.
func (e *SearchScrapeExecutor) ListTools(_ context.Context) ([]ToolDefinition, error) {
	return []ToolDefinition{
		{
			Name:        ToolSearchWeb,
			Description: "Search the web for pages matching a query.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "The search query"},
					"limit": map[string]any{"type": "integer", "description": "Max results, up to 10"},
					"tbs":   map[string]any{"type": "string", "description": "Optional time-range filter: hour, day, week, or month"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolScrapeWebsite,
			Description: "Fetch and return the markdown content of a single URL.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{"type": "string", "description": "The URL to scrape"},
				},
				"required": []string{"url"},
			},
		},
	}, nil
}

// Execute dispatches a single tool call to the search or scrape adapter.
func (e *SearchScrapeExecutor) Execute(ctx context.Context, call ToolCall) (*ToolResult, error) {
	switch call.Name {
	case ToolSearchWeb:
		return e.executeSearch(ctx, call)
	case ToolScrapeWebsite:
		return e.executeScrape(ctx, call)
	default:
		return &ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("unknown tool %q", call.Name),
			IsError: true,
		}, nil
	}
}

func (e *SearchScrapeExecutor) executeSearch(ctx context.Context, call ToolCall) (*ToolResult, error) {
	var args searchArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return errResult(call, fmt.Sprintf("invalid searchWeb arguments: %v", err), false, err), nil
	}
	if args.Limit <= 0 {
		args.Limit = 5
	}

	location := e.scout.Location
	req := searchprovider.SearchRequest{
		Query:      args.Query,
		Limit:      args.Limit,
		TimeFilter: args.TBS,
		Location:   location,
		MaxAge:     int(e.scout.MaxAge().Seconds()),
		ScrapeOpts: e.scout.ScrapeOpts,
	}

	result, err := e.client.Search(ctx, req)
	if err != nil {
		return errResult(call, err.Error(), false, err), nil
	}

	body, err := json.Marshal(result)
	if err != nil {
		return errResult(call, fmt.Sprintf("encode search result: %v", err), false, err), nil
	}
	return &ToolResult{CallID: call.ID, Name: call.Name, Content: string(body)}, nil
}

func (e *SearchScrapeExecutor) executeScrape(ctx context.Context, call ToolCall) (*ToolResult, error) {
	var args scrapeArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return errResult(call, fmt.Sprintf("invalid scrapeWebsite arguments: %v", err), false, err), nil
	}

	req := searchprovider.ScrapeRequest{
		URL:        args.URL,
		MaxAge:     int(e.scout.MaxAge().Seconds()),
		ScrapeOpts: e.scout.ScrapeOpts,
	}

	result, err := e.client.Scrape(ctx, req)
	if err != nil {
		blacklisted := searchprovider.IsBlacklistedHost(args.URL, e.blacklist)
		return errResult(call, err.Error(), blacklisted, err), nil
	}

	body, err := json.Marshal(result)
	if err != nil {
		return errResult(call, fmt.Sprintf("encode scrape result: %v", err), false, err), nil
	}
	return &ToolResult{CallID: call.ID, Name: call.Name, Content: string(body)}, nil
}

func errResult(call ToolCall, msg string, exempt bool, err error) *ToolResult {
	return &ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: msg,
		IsError: true,
		Exempt:  exempt,
		Err:     err,
	}
}
