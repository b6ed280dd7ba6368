package models

import "time"

// StepType classifies an observable event within an execution.
type StepType string

// Step type values.
const (
	StepTypeToolCall  StepType = "tool_call"
	StepTypeSearch    StepType = "search"
	StepTypeScrape    StepType = "scrape"
	StepTypeSummarize StepType = "summarize"
)

// StepStatus mirrors ExecutionStatus but at the per-step granularity.
type StepStatus string

// Step status values.
const (
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Step is an ordered event within an execution. StepNumber is 1-based and
// strictly increasing per execution; persisted in that order so visible
// order matches execution order.
type Step struct {
	ExecutionID string
	StepNumber  int
	StepType    StepType
	Description string
	InputData   string // JSON
	OutputData  string // JSON
	Error       string
	Status      StepStatus
	CreatedAt   time.Time
}
