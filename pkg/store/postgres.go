package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvectorpgx "github.com/pgvector/pgvector-go/pgx"
	"github.com/pgvector/pgvector-go"

	"github.com/scoutwatch/scoutd/pkg/models"
)

// Postgres is the pgx-backed implementation of Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open runs pending migrations against dsn, then opens a connection pool
// with pgvector's float32[] <-> vector(n) codec registered on every
// connection.
func Open(ctx context.Context, dsn string, maxConns int32, connMaxLifetime time.Duration) (*Postgres, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = maxConns
	poolCfg.MaxConnLifetime = connMaxLifetime
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvectorpgx.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// TryClaimRunning inserts a new running execution for scoutID, relying on
// the partial unique index to reject a second concurrent claim. On
// rejection it returns the execution already running alongside
// ErrAlreadyRunning.
func (p *Postgres) TryClaimRunning(ctx context.Context, scoutID string) (*models.Execution, error) {
	id := newID()
	now := time.Now().UTC()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO executions (id, scout_id, status, created_at)
		VALUES ($1, $2, 'running', $3)`,
		id, scoutID, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			running := &models.Execution{ScoutID: scoutID, Status: models.ExecutionStatusRunning}
			// Best effort: if the running row finished in the meantime, ID stays empty.
			_ = p.pool.QueryRow(ctx, `
				SELECT id, created_at FROM executions
				WHERE scout_id = $1 AND status = 'running'`,
				scoutID).Scan(&running.ID, &running.CreatedAt)
			return running, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("claim running execution: %w", err)
	}

	return &models.Execution{
		ID:        id,
		ScoutID:   scoutID,
		Status:    models.ExecutionStatusRunning,
		CreatedAt: now,
	}, nil
}

// FinishExecution moves an execution to a terminal status. An embedding of
// the wrong dimension is dropped rather than stored, per the fixed
// embedding dimension invariant.
func (p *Postgres) FinishExecution(ctx context.Context, executionID string, update ExecutionUpdate) error {
	var vec *pgvector.Vector
	if update.SummaryEmbedding != nil && len(update.SummaryEmbedding) == models.EmbeddingDim {
		v := pgvector.NewVector(update.SummaryEmbedding)
		vec = &v
	}

	summaryText := update.SummaryText
	if len(summaryText) > models.SummaryTextMaxLen {
		summaryText = summaryText[:models.SummaryTextMaxLen]
	}

	_, err := p.pool.Exec(ctx, `
		UPDATE executions
		SET status = $2, completed_at = $3, error_message = $4,
		    results_summary = $5, summary_text = $6, summary_embedding = $7,
		    duplicate_of = $8
		WHERE id = $1`,
		executionID, string(update.Status), update.CompletedAt, update.ErrorMessage,
		update.ResultsSummary, summaryText, vec, update.DuplicateOf)
	if err != nil {
		return fmt.Errorf("finish execution %s: %w", executionID, err)
	}
	return nil
}

// AppendStep inserts the next step row for an execution, computing its
// step number from the current count so callers never race on numbering
// within a single execution (executions are processed serially).
func (p *Postgres) AppendStep(ctx context.Context, step models.Step) (int, error) {
	var next int
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(step_number), 0) + 1 FROM steps WHERE execution_id = $1`,
		step.ExecutionID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("compute next step number: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO steps (execution_id, step_number, step_type, description, input_data, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		step.ExecutionID, next, string(step.StepType), step.Description, step.InputData,
		string(models.StepStatusRunning), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("append step: %w", err)
	}
	return next, nil
}

// UpdateStep transitions a step to a terminal status.
func (p *Postgres) UpdateStep(ctx context.Context, executionID string, stepNumber int, update StepUpdate) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE steps SET output_data = $3, error = $4, status = $5
		WHERE execution_id = $1 AND step_number = $2`,
		executionID, stepNumber, update.OutputData, update.Error, string(update.Status))
	if err != nil {
		return fmt.Errorf("update step %s/%d: %w", executionID, stepNumber, err)
	}
	return nil
}

// ListRecentCompletedWithEmbedding returns the dedup window for a scout.
func (p *Postgres) ListRecentCompletedWithEmbedding(ctx context.Context, scoutID string, limit int) ([]models.RecentFinding, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, summary_text, summary_embedding, completed_at
		FROM executions
		WHERE scout_id = $1 AND status = 'completed' AND summary_embedding IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT $2`,
		scoutID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent findings: %w", err)
	}
	defer rows.Close()

	var out []models.RecentFinding
	for rows.Next() {
		var (
			f    models.RecentFinding
			vec  pgvector.Vector
			comp time.Time
		)
		if err := rows.Scan(&f.ExecutionID, &f.SummaryText, &vec, &comp); err != nil {
			return nil, fmt.Errorf("scan recent finding: %w", err)
		}
		f.Embedding = vec.Slice()
		f.CompletedAt = comp
		if len(f.Embedding) != models.EmbeddingDim {
			continue
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateScoutPostRun records the outcome of a run against the scout row.
// A failure that brings consecutive_failures to three or more also sets
// is_active = false.
func (p *Postgres) UpdateScoutPostRun(ctx context.Context, scoutID string, result ScoutRunResult) error {
	if result.Success {
		_, err := p.pool.Exec(ctx, `
			UPDATE scouts SET last_run_at = $2, consecutive_failures = 0, last_error = ''
			WHERE id = $1`,
			scoutID, result.RunAt)
		if err != nil {
			return fmt.Errorf("record scout success: %w", err)
		}
		return nil
	}

	_, err := p.pool.Exec(ctx, `
		UPDATE scouts
		SET last_run_at = $2, consecutive_failures = consecutive_failures + 1, last_error = $3,
		    is_active = CASE WHEN consecutive_failures + 1 >= 3 THEN false ELSE is_active END
		WHERE id = $1`,
		scoutID, result.RunAt, result.ErrorText)
	if err != nil {
		return fmt.Errorf("record scout failure: %w", err)
	}
	return nil
}

// DisableAllUserScouts sets is_active = false for every scout owned by
// userID, following a provider 402.
func (p *Postgres) DisableAllUserScouts(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx, `UPDATE scouts SET is_active = false WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("disable scouts for user %s: %w", userID, err)
	}
	return nil
}

// ListDueScouts returns every scout eligible for dispatch at instant now.
// Eligibility beyond the SQL-expressible parts (is_active, elapsed period)
// is re-checked in Go via Scout.Due, since configuration completeness and
// the frequency union are domain logic, not SQL predicates.
func (p *Postgres) ListDueScouts(ctx context.Context, now time.Time) ([]models.Scout, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, title, goal, description, queries, location_city,
		       location_lat, location_lon, frequency, scrape_opts, is_active,
		       last_run_at, consecutive_failures, last_error
		FROM scouts
		WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("list active scouts: %w", err)
	}
	defer rows.Close()

	var due []models.Scout
	for rows.Next() {
		s, err := scanScout(rows)
		if err != nil {
			return nil, err
		}
		if s.Due(now) {
			due = append(due, s)
		}
	}
	return due, rows.Err()
}

// rowScanner is satisfied by both pgx.Row (QueryRow) and pgx.Rows
// (Query), so scanScout can back both a single-row lookup and an
// iteration.
type rowScanner interface {
	Scan(dest ...any) error
}

// GetScout loads a single scout by id.
func (p *Postgres) GetScout(ctx context.Context, scoutID string) (*models.Scout, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, user_id, title, goal, description, queries, location_city,
		       location_lat, location_lon, frequency, scrape_opts, is_active,
		       last_run_at, consecutive_failures, last_error
		FROM scouts WHERE id = $1`, scoutID)

	s, err := scanScout(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanScout(rows rowScanner) (models.Scout, error) {
	var (
		s           models.Scout
		queriesJSON []byte
		scrapeJSON  []byte
	)
	if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.Goal, &s.Description, &queriesJSON,
		&s.Location.City, &s.Location.Lat, &s.Location.Lon, &s.Frequency, &scrapeJSON,
		&s.IsActive, &s.LastRunAt, &s.ConsecutiveFailures, &s.LastError); err != nil {
		return models.Scout{}, fmt.Errorf("scan scout: %w", err)
	}
	if len(queriesJSON) > 0 {
		if err := json.Unmarshal(queriesJSON, &s.Queries); err != nil {
			return models.Scout{}, fmt.Errorf("decode scout queries: %w", err)
		}
	}
	if len(scrapeJSON) > 0 && string(scrapeJSON) != "null" {
		var opts models.ScrapeOptions
		if err := json.Unmarshal(scrapeJSON, &opts); err != nil {
			return models.Scout{}, fmt.Errorf("decode scrape options: %w", err)
		}
		s.ScrapeOpts = &opts
	}
	return s, nil
}

// ReapStaleRunning reclaims executions stuck in running for longer than
// staleAfter, moving them to failed so the scout becomes dispatchable
// again.
func (p *Postgres) ReapStaleRunning(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	cutoff := now.Add(-staleAfter)
	tag, err := p.pool.Exec(ctx, `
		UPDATE executions
		SET status = 'failed', completed_at = $2, error_message = 'stale: exceeded wall-clock limit'
		WHERE status = 'running' AND created_at < $1`,
		cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("reap stale running executions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkCredentialInvalid flags a user's credential invalid with a reason.
func (p *Postgres) MarkCredentialInvalid(ctx context.Context, userID string, reason string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE credentials SET status = 'invalid', last_invalid_reason = $2 WHERE user_id = $1`,
		userID, reason)
	if err != nil {
		return fmt.Errorf("mark credential invalid for %s: %w", userID, err)
	}
	return nil
}

// ResolveCredential returns the credential record for userID.
func (p *Postgres) ResolveCredential(ctx context.Context, userID string) (*models.CredentialRecord, error) {
	var rec models.CredentialRecord
	err := p.pool.QueryRow(ctx, `
		SELECT user_id, key, status, last_invalid_reason FROM credentials WHERE user_id = $1`,
		userID).Scan(&rec.UserID, &rec.Key, &rec.Status, &rec.LastInvalidReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolve credential for %s: %w", userID, err)
	}
	return &rec, nil
}
