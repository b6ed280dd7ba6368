package models

import "time"

// ExecutionStatus is the terminal-or-running state of a scout run.
type ExecutionStatus string

// Execution status values. Once moved off Running, an execution is
// immutable.
const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// EmbeddingDim is the fixed dimension of summary embeddings. Rows whose
// stored vector has any other length are rejected, not coerced.
const EmbeddingDim = 1536

// SummaryTextMaxLen bounds summary_text, enforced at write time.
const SummaryTextMaxLen = 150

// Execution is a single run attempt of a scout.
type Execution struct {
	ID      string
	ScoutID string
	Status  ExecutionStatus

	CreatedAt   time.Time
	CompletedAt *time.Time

	ErrorMessage string

	ResultsSummary string // structured result, markdown + dedup annotation
	SummaryText    string // <=150 chars
	SummaryEmbedding []float32 // nil or len == EmbeddingDim

	// DuplicateOf names the execution this run was found to duplicate, if
	// any. A non-nil value is the sole machine-readable duplicate marker;
	// the human-readable annotation still lives in ResultsSummary.
	DuplicateOf *string
}

// RecentFinding is a derived view used only as deduplication input: the
// last N successful executions of a scout with a valid-dimension embedding,
// ordered by CompletedAt descending.
type RecentFinding struct {
	ExecutionID string
	SummaryText string
	Embedding   []float32
	CompletedAt time.Time
}

// MaxRecentFindings bounds the deduplication window.
const MaxRecentFindings = 20
