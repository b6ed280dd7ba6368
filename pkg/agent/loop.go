package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scoutwatch/scoutd/pkg/credential"
	"github.com/scoutwatch/scoutd/pkg/llmprovider"
	"github.com/scoutwatch/scoutd/pkg/models"
	"github.com/scoutwatch/scoutd/pkg/searchprovider"
	"github.com/scoutwatch/scoutd/pkg/store"
)

// ErrAborted is returned when the loop aborts before producing a final
// response — three consecutive tool errors, or a 402 from a tool call.
var ErrAborted = errors.New("agent loop aborted")

// ChatCompleter is the narrow interface the loop needs from the LLM
// provider, so a unit test can drive the loop with a fake instead of a
// real provider client.
type ChatCompleter interface {
	ChatComplete(ctx context.Context, messages []llmprovider.Message, tools []llmprovider.ToolDefinition) (*llmprovider.ChatResult, error)
}

// Loop drives one scout's tool-calling conversation against the LLM to
// completion. It is constructed per run, scoped to a single resolved
// credential.
type Loop struct {
	llm         ChatCompleter
	tools       ToolExecutor
	store       store.Store
	creds       *credential.Resolver
	userID      string
	scoutID     string
	executionID string
	logger      *slog.Logger
}

// New builds a Loop for one execution.
func New(llm ChatCompleter, tools ToolExecutor, st store.Store, creds *credential.Resolver, userID, scoutID, executionID string) *Loop {
	return &Loop{
		llm:         llm,
		tools:       tools,
		store:       st,
		creds:       creds,
		userID:      userID,
		scoutID:     scoutID,
		executionID: executionID,
		logger:      slog.Default().With("component", "agent", "scout_id", scoutID, "execution_id", executionID),
	}
}

// Run executes the bounded AwaitModel/DispatchTools/Finalize cycle and
// returns the model's final structured response. A non-nil error means
// the run aborted (consecutive tool errors, or credits exhausted) rather
// than completed naturally or by reaching the loop bound — reaching the
// loop bound is itself a (synthetic) completion, not an error.
func (l *Loop) Run(ctx context.Context, systemPrompt string) (*FinalResponse, error) {
	messages := []llmprovider.Message{
		{Role: llmprovider.RoleSystem, Content: systemPrompt},
	}

	tools, err := l.tools.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	state := &IterationState{}
	stepNumber := 0

	for loopCount := 0; loopCount < MaxLoops; loopCount++ {
		if loopCount > 0 && loopCount%ReminderEvery == 0 {
			messages = append(messages, reminderMessage(loopCount))
		}

		result, err := l.llm.ChatComplete(ctx, messages, tools)
		if err != nil {
			return nil, fmt.Errorf("chat completion: %w", err)
		}

		messages = append(messages, llmprovider.Message{
			Role:      llmprovider.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		if len(result.ToolCalls) == 0 {
			parsed := ParseFinalResponse(result.Content)
			return &parsed, nil
		}

		for _, call := range result.ToolCalls {
			stepNumber = l.recordStepStart(ctx, stepNumber, call)

			toolResult, execErr := l.tools.Execute(ctx, call)
			if execErr != nil {
				toolResult = &ToolResult{CallID: call.ID, Name: call.Name, Content: execErr.Error(), IsError: true, Err: execErr}
			}

			l.recordStepEnd(ctx, stepNumber, toolResult)

			messages = append(messages, llmprovider.Message{
				Role:       llmprovider.RoleTool,
				Content:    toolResult.Content,
				ToolCallID: toolResult.CallID,
			})

			if !toolResult.IsError {
				state.RecordSuccess()
				continue
			}

			if abortErr := l.handleToolError(ctx, toolResult, state); abortErr != nil {
				return nil, abortErr
			}
		}
	}

	return l.forceConclusion(ctx, messages)
}

// handleToolError applies the error-accounting rule (blacklisted-scrape
// errors uncounted, everything else counted) and the credential-resolver
// side effects for 401/402 tool errors. A non-nil return means the run
// must abort immediately.
func (l *Loop) handleToolError(ctx context.Context, toolResult *ToolResult, state *IterationState) error {
	if searchprovider.IsStatus(toolResult.Err, 402) {
		hErr := l.creds.HandlePaymentRequired(ctx, l.userID, toolResult.Content)
		return fmt.Errorf("%w: %v", ErrAborted, hErr)
	}
	if searchprovider.IsStatus(toolResult.Err, 401) {
		_ = l.creds.HandleUnauthorized(ctx, l.userID, toolResult.Content)
	}

	if toolResult.Exempt {
		return nil
	}

	state.RecordFailure(toolResult.Err)
	if state.ShouldAbort() {
		return fmt.Errorf("%w: %v", ErrAborted, state.LastError)
	}
	return nil
}

// forceConclusion is invoked once the loop bound is reached without a
// natural completion. It asks the model for a final answer with no tools
// available; if that call itself fails, the run yields a synthetic
// partial result rather than propagating the error, since reaching the
// loop bound is a soft termination, not a failure.
func (l *Loop) forceConclusion(ctx context.Context, messages []llmprovider.Message) (*FinalResponse, error) {
	messages = append(messages, llmprovider.Message{
		Role:    llmprovider.RoleUser,
		Content: "You have reached the iteration limit. Respond now with only the final JSON object, no further tool calls.",
	})

	result, err := l.llm.ChatComplete(ctx, messages, nil)
	if err != nil {
		return &FinalResponse{
			TaskCompleted: false,
			TaskStatus:    TaskStatusPartial,
			Response:      "reached iteration limit before producing a conclusive result",
		}, nil
	}

	parsed := ParseFinalResponse(result.Content)
	if parsed.TaskStatus == "" {
		parsed.TaskStatus = TaskStatusPartial
	}
	return &parsed, nil
}

// recordStepStart persists a running step and returns the step number the
// store assigned to it (the store, not the caller, is authoritative on
// numbering).
func (l *Loop) recordStepStart(ctx context.Context, fallback int, call ToolCall) int {
	step := models.Step{
		ExecutionID: l.executionID,
		StepType:    stepTypeFor(call.Name),
		Description: fmt.Sprintf("%s(%s)", call.Name, call.Arguments),
		InputData:   call.Arguments,
		Status:      models.StepStatusRunning,
		CreatedAt:   time.Now(),
	}
	assigned, err := l.store.AppendStep(ctx, step)
	if err != nil {
		l.logger.Warn("append step failed", "error", err, "step_number", fallback)
		return fallback
	}
	return assigned
}

func (l *Loop) recordStepEnd(ctx context.Context, stepNumber int, result *ToolResult) {
	update := store.StepUpdate{
		OutputData: result.Content,
		Status:     models.StepStatusCompleted,
	}
	if result.IsError {
		update.Status = models.StepStatusFailed
		update.Error = result.Content
	}
	if err := l.store.UpdateStep(ctx, l.executionID, stepNumber, update); err != nil {
		l.logger.Warn("update step failed", "error", err, "step_number", stepNumber)
	}
}

func stepTypeFor(toolName string) models.StepType {
	switch toolName {
	case ToolSearchWeb:
		return models.StepTypeSearch
	case ToolScrapeWebsite:
		return models.StepTypeScrape
	default:
		return models.StepTypeToolCall
	}
}
