// Package executor orchestrates one scout invocation end to end: claims
// the non-overlap slot, resolves the user's search/scrape credential,
// drives the agent loop, then performs post-loop bookkeeping (summary,
// embedding, deduplication, notification, scout counters).
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scoutwatch/scoutd/pkg/agent"
	"github.com/scoutwatch/scoutd/pkg/analytics"
	"github.com/scoutwatch/scoutd/pkg/config"
	"github.com/scoutwatch/scoutd/pkg/credential"
	"github.com/scoutwatch/scoutd/pkg/dedup"
	"github.com/scoutwatch/scoutd/pkg/llmprovider"
	"github.com/scoutwatch/scoutd/pkg/models"
	"github.com/scoutwatch/scoutd/pkg/notifier"
	"github.com/scoutwatch/scoutd/pkg/searchprovider"
	"github.com/scoutwatch/scoutd/pkg/store"
)

// Status classifies how a Run call ended.
type Status string

// Outcome statuses.
const (
	StatusRan             Status = "ran"
	StatusAlreadyRunning  Status = "already_running"
)

// ErrScoutNotFound is returned when the requested scout does not exist.
var ErrScoutNotFound = errors.New("scout not found")

// Outcome is what a single Run call reports back to its caller (the
// executor HTTP entry, or the dispatcher's fan-out).
type Outcome struct {
	Status              Status
	Title               string
	RunningExecutionID  string
	ExecutionID         string
	TaskCompleted       bool
	Duplicate           bool
}

// summaryGenerationTimeout bounds the second, summary-only LLM call.
const summaryGenerationTimeout = 60 * time.Second

// ChatEmbedder is the narrow surface the executor needs from the LLM
// provider: the agent loop's chat completions, plus embeddings for summary
// deduplication. *llmprovider.Client satisfies this structurally; tests
// drive the executor with a scripted fake instead.
type ChatEmbedder interface {
	agent.ChatCompleter
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Executor wires together the store, providers, credential resolver,
// notifier and analytics sink that back every scout invocation.
type Executor struct {
	store       store.Store
	llm         ChatEmbedder
	searchCfg   config.SearchProviderConfig
	dedupCfg    config.DedupConfig
	credentials *credential.Resolver
	notify      *notifier.Service
	events      *analytics.Sink
	logger      *slog.Logger
}

// New builds an Executor.
func New(st store.Store, llm ChatEmbedder, searchCfg config.SearchProviderConfig, dedupCfg config.DedupConfig, creds *credential.Resolver, notify *notifier.Service, events *analytics.Sink) *Executor {
	return &Executor{
		store:       st,
		llm:         llm,
		searchCfg:   searchCfg,
		dedupCfg:    dedupCfg,
		credentials: creds,
		notify:      notify,
		events:      events,
		logger:      slog.Default().With("component", "executor"),
	}
}

// Run is a single isolated invocation for scoutID. It claims the
// non-overlap slot itself; callers never need to check for an existing
// running execution first.
func (e *Executor) Run(ctx context.Context, scoutID string) (*Outcome, error) {
	scout, err := e.store.GetScout(ctx, scoutID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrScoutNotFound
		}
		return nil, fmt.Errorf("load scout %s: %w", scoutID, err)
	}

	execution, err := e.store.TryClaimRunning(ctx, scoutID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyRunning) {
			return &Outcome{
				Status:             StatusAlreadyRunning,
				Title:              scout.Title,
				RunningExecutionID: execution.ID,
			}, nil
		}
		return nil, fmt.Errorf("claim running execution for %s: %w", scoutID, err)
	}

	e.events.Emit(analytics.Event{Name: "scout.started", ScoutID: scoutID})
	outcome := e.runClaimed(ctx, *scout, execution.ID)
	return outcome, nil
}

// runClaimed performs the rest of the invocation once the running slot
// has been claimed: it always finishes the execution and updates the
// scout's counters, whatever the outcome.
func (e *Executor) runClaimed(ctx context.Context, scout models.Scout, executionID string) *Outcome {
	now := time.Now()

	apiKey, err := e.credentials.Resolve(ctx, scout.UserID)
	if err != nil {
		e.failRun(ctx, scout, executionID, now, fmt.Sprintf("credential error: %v", err))
		return &Outcome{Status: StatusRan, Title: scout.Title, ExecutionID: executionID}
	}

	recent, err := e.store.ListRecentCompletedWithEmbedding(ctx, scout.ID, models.MaxRecentFindings)
	if err != nil {
		e.logger.Warn("list recent findings failed", "error", err, "scout_id", scout.ID)
	}

	searchClient := searchprovider.New(e.searchCfg, apiKey)
	tools := agent.NewSearchScrapeExecutor(searchClient, scout, e.searchCfg.HostBlacklist)
	loop := agent.New(e.llm, tools, e.store, e.credentials, scout.UserID, scout.ID, executionID)

	systemPrompt := agent.BuildSystemPrompt(scout, recent, now)
	final, err := loop.Run(ctx, systemPrompt)
	if err != nil {
		e.failRun(ctx, scout, executionID, now, err.Error())
		return &Outcome{Status: StatusRan, Title: scout.Title, ExecutionID: executionID}
	}

	return e.finishCompleted(ctx, scout, executionID, now, *final, recent)
}

// finishCompleted runs the post-loop bookkeeping: summary generation,
// embedding, deduplication, persistence, scout counters and the success
// notification.
func (e *Executor) finishCompleted(ctx context.Context, scout models.Scout, executionID string, now time.Time, final agent.FinalResponse, recent []models.RecentFinding) *Outcome {
	summary := final.Response
	var summaryText string
	var embedding []float32
	var duplicate *dedup.DuplicateMatch

	if final.TaskCompleted {
		summaryText = e.generateSummaryText(ctx, summary)
		if summaryText != "" {
			if vec, err := e.llm.Embed(ctx, summaryText); err != nil {
				e.logger.Warn("embed summary failed, continuing without it", "error", err, "scout_id", scout.ID)
			} else {
				embedding = vec
			}
		}
		if embedding != nil {
			duplicate = dedup.Dedup(embedding, toDedupFindings(recent), e.dedupThreshold())
			if duplicate != nil {
				summary = fmt.Sprintf("%s\n\nThis finding closely resembles a previous result from %s: %q (similarity %.0f%%).",
					summary, agent.RelativeDay(duplicate.CompletedAt, now), duplicate.SummaryText, duplicate.Similarity*100)
			}
		}
	}

	var duplicateOf *string
	if duplicate != nil {
		duplicateOf = &duplicate.ExecutionID
	}

	err := e.store.FinishExecution(ctx, executionID, store.ExecutionUpdate{
		Status:           models.ExecutionStatusCompleted,
		ResultsSummary:   summary,
		SummaryText:      summaryText,
		SummaryEmbedding: embedding,
		DuplicateOf:      duplicateOf,
		CompletedAt:      time.Now(),
	})
	if err != nil {
		e.logger.Warn("finish execution failed", "error", err, "execution_id", executionID)
	}

	if uErr := e.store.UpdateScoutPostRun(ctx, scout.ID, store.ScoutRunResult{Success: true, RunAt: now}); uErr != nil {
		e.logger.Warn("update scout post-run failed", "error", uErr, "scout_id", scout.ID)
	}

	if final.TaskCompleted && duplicate == nil {
		e.notify.SendSuccess(ctx, notifier.SuccessInput{
			To:              scout.UserID,
			ScoutTitle:      scout.Title,
			ResultsSummary:  summary,
			ExecutionID:     executionID,
		})
	}

	e.events.Emit(analytics.Event{Name: "scout.completed", ScoutID: scout.ID, Properties: map[string]any{
		"task_status": string(final.TaskStatus),
		"duplicate":   duplicate != nil,
	}})

	return &Outcome{
		Status:        StatusRan,
		Title:         scout.Title,
		ExecutionID:   executionID,
		TaskCompleted: final.TaskCompleted,
		Duplicate:     duplicate != nil,
	}
}

// failRun persists a failed execution and increments the scout's failure
// counter, disabling it once three consecutive failures accrue (enforced
// by UpdateScoutPostRun's caller-visible contract).
func (e *Executor) failRun(ctx context.Context, scout models.Scout, executionID string, now time.Time, reason string) {
	if err := e.store.FinishExecution(ctx, executionID, store.ExecutionUpdate{
		Status:       models.ExecutionStatusFailed,
		ErrorMessage: reason,
		CompletedAt:  time.Now(),
	}); err != nil {
		e.logger.Warn("finish failed execution failed", "error", err, "execution_id", executionID)
	}
	if err := e.store.UpdateScoutPostRun(ctx, scout.ID, store.ScoutRunResult{Success: false, ErrorText: reason, RunAt: now}); err != nil {
		e.logger.Warn("update scout post-run failed", "error", err, "scout_id", scout.ID)
	}
	e.events.Emit(analytics.Event{Name: "scout.failed", ScoutID: scout.ID, Properties: map[string]any{"reason": reason}})
}

// generateSummaryText asks the model for a single sentence, <=150 chars,
// summarizing result. Failure here is non-fatal: the run still completes,
// just without a summary_text/embedding.
func (e *Executor) generateSummaryText(ctx context.Context, resultText string) string {
	ctx, cancel := context.WithTimeout(ctx, summaryGenerationTimeout)
	defer cancel()

	messages := []llmprovider.Message{
		{Role: llmprovider.RoleSystem, Content: "Summarize the following result in a single sentence, 150 characters or fewer, including specifics (names, numbers, dates). Respond with only the sentence."},
		{Role: llmprovider.RoleUser, Content: resultText},
	}
	result, err := e.llm.ChatComplete(ctx, messages, nil)
	if err != nil {
		e.logger.Warn("summary generation failed, continuing without it", "error", err)
		return ""
	}
	text := result.Content
	if len(text) > models.SummaryTextMaxLen {
		text = text[:models.SummaryTextMaxLen]
	}
	return text
}

func (e *Executor) dedupThreshold() float32 {
	if e.dedupCfg.SimilarityThreshold > 0 {
		return e.dedupCfg.SimilarityThreshold
	}
	return dedup.SimilarityThreshold
}

func toDedupFindings(recent []models.RecentFinding) []dedup.Finding {
	out := make([]dedup.Finding, 0, len(recent))
	for _, r := range recent {
		out = append(out, dedup.Finding{
			ExecutionID: r.ExecutionID,
			SummaryText: r.SummaryText,
			CompletedAt: r.CompletedAt,
			Embedding:   r.Embedding,
		})
	}
	return out
}
