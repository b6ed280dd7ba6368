// Package store persists scouts, executions, steps and credentials in
// Postgres. It is the sole authority on the at-most-one-running-execution
// invariant, enforced by a database-level partial unique index rather than
// in-process locks.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/scoutwatch/scoutd/pkg/models"
)

// ErrAlreadyRunning is returned by TryClaimRunning when the scout already
// has a running execution. It is not a failure of the run itself — the
// caller (the executor) should simply decline this invocation.
var ErrAlreadyRunning = errors.New("scout already has a running execution")

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("not found")

// Store is the persistence boundary for the scout execution pipeline. All
// methods are individually context-bounded; none assume a surrounding
// transaction.
type Store interface {
	// GetScout returns a single scout by id, or ErrNotFound.
	GetScout(ctx context.Context, scoutID string) (*models.Scout, error)

	// TryClaimRunning inserts a new running execution for scoutID. It
	// returns ErrAlreadyRunning, together with the execution already
	// running, if the partial unique index on (scout_id) WHERE
	// status = 'running' rejects the insert.
	TryClaimRunning(ctx context.Context, scoutID string) (*models.Execution, error)

	// FinishExecution moves an execution out of running, recording its
	// terminal status, error (if any), summary, embedding and duplicate
	// marker. Embeddings of the wrong dimension are rejected, not stored.
	FinishExecution(ctx context.Context, executionID string, update ExecutionUpdate) error

	// AppendStep inserts the next step for an execution and returns its
	// assigned 1-based step number.
	AppendStep(ctx context.Context, step models.Step) (int, error)

	// UpdateStep transitions a previously appended step to a terminal
	// status, recording its output or error.
	UpdateStep(ctx context.Context, executionID string, stepNumber int, update StepUpdate) error

	// ListRecentCompletedWithEmbedding returns up to limit of the most
	// recent completed executions for scoutID that carry a valid-dimension
	// embedding, ordered by completion time descending.
	ListRecentCompletedWithEmbedding(ctx context.Context, scoutID string, limit int) ([]models.RecentFinding, error)

	// UpdateScoutPostRun records the outcome of a run against the scout
	// row: last_run_at, consecutive_failures (reset on success, incremented
	// on failure), and last_error. A failure that brings
	// consecutive_failures to three or more also sets is_active = false.
	UpdateScoutPostRun(ctx context.Context, scoutID string, result ScoutRunResult) error

	// DisableAllUserScouts sets is_active = false for every scout owned by
	// userID. Called when a provider reports credits exhausted (402).
	DisableAllUserScouts(ctx context.Context, userID string) error

	// ListDueScouts returns every active, fully configured scout whose
	// last_run_at plus its frequency period has elapsed by now.
	ListDueScouts(ctx context.Context, now time.Time) ([]models.Scout, error)

	// ReapStaleRunning moves executions stuck in running for longer than
	// staleAfter to failed, and returns how many rows were reclaimed.
	ReapStaleRunning(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error)

	// MarkCredentialInvalid flags a user's credential invalid with the
	// given reason, following a provider 401/402.
	MarkCredentialInvalid(ctx context.Context, userID string, reason string) error

	// ResolveCredential returns the credential record for userID whatever
	// its status, or ErrNotFound if the user has none.
	ResolveCredential(ctx context.Context, userID string) (*models.CredentialRecord, error)

	// Close releases the underlying connection pool.
	Close()
}

// ExecutionUpdate carries the terminal fields written by FinishExecution.
type ExecutionUpdate struct {
	Status           models.ExecutionStatus
	ErrorMessage     string
	ResultsSummary   string
	SummaryText      string
	SummaryEmbedding []float32
	DuplicateOf      *string
	CompletedAt      time.Time
}

// StepUpdate carries the terminal fields written by UpdateStep.
type StepUpdate struct {
	OutputData string
	Error      string
	Status     models.StepStatus
}

// ScoutRunResult is the post-run outcome recorded against a scout.
type ScoutRunResult struct {
	Success   bool
	ErrorText string
	RunAt     time.Time
}
