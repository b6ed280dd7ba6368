// Package agent runs the bounded tool-calling loop that backs a single
// scout execution: it drives the LLM through AwaitModel/DispatchTools
// cycles, dispatches the two fixed tools, and parses the model's final
// structured response.
package agent

import (
	"context"

	"github.com/scoutwatch/scoutd/pkg/llmprovider"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall = llmprovider.ToolCall

// ToolDefinition describes a callable tool to the model.
type ToolDefinition = llmprovider.ToolDefinition

// ToolResult is what a ToolExecutor returns for one call.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool

	// Exempt marks an error that must not count against
	// consecutiveErrors — currently only a failed scrape of a
	// blacklisted URL.
	Exempt bool

	// Err is the underlying error, kept for status-code classification
	// (401/402) by the loop's credential-resolver integration. Never
	// serialized into a persisted step.
	Err error
}

// ToolExecutor abstracts the fixed two-tool surface (searchWeb,
// scrapeWebsite) behind a single interface so the loop never depends on
// the search/scrape adapter directly.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
	ListTools(ctx context.Context) ([]ToolDefinition, error)
}

// MaxConsecutiveErrors is the threshold at which a run aborts with the
// last tool error.
const MaxConsecutiveErrors = 3

// MaxLoops bounds the number of tool-dispatching model round-trips. Once
// it is reached, the loop makes one more, tool-free request for the final
// answer and returns what the model sends, so the result is not
// necessarily partial; a synthetic partial result is returned only when
// that request fails.
const MaxLoops = 7

// ReminderEvery is how often (in loop count) a step-budget reminder is
// injected into the conversation.
const ReminderEvery = 3

// IterationState tracks error accounting across the loop. Mirrors the
// reset-on-success, abort-on-threshold rule: any tool error other than a
// scrape of a blacklisted URL counts against it.
type IterationState struct {
	ConsecutiveErrors int
	LastError         error
}

// RecordSuccess resets the consecutive-error counter.
func (s *IterationState) RecordSuccess() {
	s.ConsecutiveErrors = 0
}

// RecordFailure increments the consecutive-error counter and remembers
// the failing error for the abort message.
func (s *IterationState) RecordFailure(err error) {
	s.ConsecutiveErrors++
	s.LastError = err
}

// ShouldAbort reports whether consecutive tool failures have crossed the
// threshold.
func (s *IterationState) ShouldAbort() bool {
	return s.ConsecutiveErrors >= MaxConsecutiveErrors
}
