package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutwatch/scoutd/pkg/models"
	util "github.com/scoutwatch/scoutd/test/util"
)

// insertScout writes a minimal, fully-configured scout row directly, bypassing
// the Store interface (which has no scout-creation method: scouts are
// provisioned by the application that owns the user-facing CRUD surface).
func insertScout(t *testing.T, p *Postgres, scout models.Scout) {
	t.Helper()
	queriesJSON := `["widget pricing"]`
	_, err := p.pool.Exec(context.Background(), `
		INSERT INTO scouts (id, user_id, title, goal, description, queries, frequency, is_active, last_run_at)
		VALUES ($1, $2, $3, $4, '', $5, $6, $7, $8)`,
		scout.ID, scout.UserID, scout.Title, scout.Goal, queriesJSON, string(scout.Frequency), scout.IsActive, scout.LastRunAt)
	require.NoError(t, err)
}

func insertCredential(t *testing.T, p *Postgres, userID, key string) {
	t.Helper()
	_, err := p.pool.Exec(context.Background(), `
		INSERT INTO credentials (user_id, key, status) VALUES ($1, $2, 'active')`,
		userID, key)
	require.NoError(t, err)
}

func embeddingOf(seed float32) []float32 {
	vec := make([]float32, models.EmbeddingDim)
	vec[0] = seed
	return vec
}

func TestTryClaimRunningRejectsSecondConcurrentClaim(t *testing.T) {
	p := util.SetupTestStore(t)
	insertScout(t, p, models.Scout{ID: "s1", UserID: "u1", Title: "T", Goal: "G", Frequency: models.FrequencyDaily, IsActive: true})

	_, err := p.TryClaimRunning(context.Background(), "s1")
	require.NoError(t, err)

	_, err = p.TryClaimRunning(context.Background(), "s1")
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestTryClaimRunningAllowsNewClaimAfterFinish(t *testing.T) {
	p := util.SetupTestStore(t)
	insertScout(t, p, models.Scout{ID: "s1", UserID: "u1", Title: "T", Goal: "G", Frequency: models.FrequencyDaily, IsActive: true})

	first, err := p.TryClaimRunning(context.Background(), "s1")
	require.NoError(t, err)

	require.NoError(t, p.FinishExecution(context.Background(), first.ID, ExecutionUpdate{
		Status:      models.ExecutionStatusCompleted,
		CompletedAt: time.Now(),
	}))

	_, err = p.TryClaimRunning(context.Background(), "s1")
	assert.NoError(t, err)
}

func TestGetScoutRoundTrip(t *testing.T) {
	p := util.SetupTestStore(t)
	insertScout(t, p, models.Scout{ID: "s1", UserID: "u1", Title: "Competitor pricing", Goal: "track prices", Frequency: models.FrequencyHourly, IsActive: true})

	got, err := p.GetScout(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Competitor pricing", got.Title)
	assert.Equal(t, models.FrequencyHourly, got.Frequency)
	assert.True(t, got.IsActive)
}

func TestGetScoutNotFound(t *testing.T) {
	p := util.SetupTestStore(t)
	_, err := p.GetScout(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendStepAssignsIncreasingNumbers(t *testing.T) {
	p := util.SetupTestStore(t)
	insertScout(t, p, models.Scout{ID: "s1", UserID: "u1", Title: "T", Goal: "G", Frequency: models.FrequencyDaily, IsActive: true})
	exec, err := p.TryClaimRunning(context.Background(), "s1")
	require.NoError(t, err)

	n1, err := p.AppendStep(context.Background(), models.Step{ExecutionID: exec.ID, StepType: models.StepTypeSearch})
	require.NoError(t, err)
	n2, err := p.AppendStep(context.Background(), models.Step{ExecutionID: exec.ID, StepType: models.StepTypeScrape})
	require.NoError(t, err)

	assert.Equal(t, 1, n1)
	assert.Equal(t, 2, n2)

	require.NoError(t, p.UpdateStep(context.Background(), exec.ID, n1, StepUpdate{
		Status:     models.StepStatusCompleted,
		OutputData: `{"results": 3}`,
	}))
}

func TestFinishExecutionDropsWrongDimensionEmbedding(t *testing.T) {
	p := util.SetupTestStore(t)
	insertScout(t, p, models.Scout{ID: "s1", UserID: "u1", Title: "T", Goal: "G", Frequency: models.FrequencyDaily, IsActive: true})
	exec, err := p.TryClaimRunning(context.Background(), "s1")
	require.NoError(t, err)

	require.NoError(t, p.FinishExecution(context.Background(), exec.ID, ExecutionUpdate{
		Status:           models.ExecutionStatusCompleted,
		SummaryText:      "short summary",
		SummaryEmbedding: []float32{0.1, 0.2, 0.3}, // wrong dimension, must be dropped
		CompletedAt:      time.Now(),
	}))

	recent, err := p.ListRecentCompletedWithEmbedding(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, recent, "wrong-dimension embedding must not surface as a dedup candidate")
}

func TestListRecentCompletedWithEmbeddingOrdersByCompletionDescending(t *testing.T) {
	p := util.SetupTestStore(t)
	insertScout(t, p, models.Scout{ID: "s1", UserID: "u1", Title: "T", Goal: "G", Frequency: models.FrequencyDaily, IsActive: true})
	ctx := context.Background()

	older, err := p.TryClaimRunning(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, p.FinishExecution(ctx, older.ID, ExecutionUpdate{
		Status:           models.ExecutionStatusCompleted,
		SummaryText:      "older finding",
		SummaryEmbedding: embeddingOf(0.1),
		CompletedAt:      time.Now().Add(-time.Hour),
	}))

	newer, err := p.TryClaimRunning(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, p.FinishExecution(ctx, newer.ID, ExecutionUpdate{
		Status:           models.ExecutionStatusCompleted,
		SummaryText:      "newer finding",
		SummaryEmbedding: embeddingOf(0.2),
		CompletedAt:      time.Now(),
	}))

	recent, err := p.ListRecentCompletedWithEmbedding(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "newer finding", recent[0].SummaryText)
	assert.Equal(t, "older finding", recent[1].SummaryText)
}

func TestUpdateScoutPostRunTracksConsecutiveFailures(t *testing.T) {
	p := util.SetupTestStore(t)
	insertScout(t, p, models.Scout{ID: "s1", UserID: "u1", Title: "T", Goal: "G", Frequency: models.FrequencyDaily, IsActive: true})
	ctx := context.Background()

	require.NoError(t, p.UpdateScoutPostRun(ctx, "s1", ScoutRunResult{Success: false, ErrorText: "boom", RunAt: time.Now()}))
	require.NoError(t, p.UpdateScoutPostRun(ctx, "s1", ScoutRunResult{Success: false, ErrorText: "boom again", RunAt: time.Now()}))

	got, err := p.GetScout(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ConsecutiveFailures)
	assert.Equal(t, "boom again", got.LastError)

	require.NoError(t, p.UpdateScoutPostRun(ctx, "s1", ScoutRunResult{Success: true, RunAt: time.Now()}))
	got, err = p.GetScout(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.Empty(t, got.LastError)
}

func TestDisableAllUserScouts(t *testing.T) {
	p := util.SetupTestStore(t)
	insertScout(t, p, models.Scout{ID: "s1", UserID: "u1", Title: "T1", Goal: "G", Frequency: models.FrequencyDaily, IsActive: true})
	insertScout(t, p, models.Scout{ID: "s2", UserID: "u1", Title: "T2", Goal: "G", Frequency: models.FrequencyDaily, IsActive: true})
	insertScout(t, p, models.Scout{ID: "s3", UserID: "u2", Title: "T3", Goal: "G", Frequency: models.FrequencyDaily, IsActive: true})
	ctx := context.Background()

	require.NoError(t, p.DisableAllUserScouts(ctx, "u1"))

	s1, err := p.GetScout(ctx, "s1")
	require.NoError(t, err)
	s3, err := p.GetScout(ctx, "s3")
	require.NoError(t, err)

	assert.False(t, s1.IsActive)
	assert.True(t, s3.IsActive, "scouts owned by other users must be untouched")
}

func TestListDueScoutsSelectsOnlyElapsedActiveScouts(t *testing.T) {
	p := util.SetupTestStore(t)
	ctx := context.Background()
	now := time.Now()
	longAgo := now.Add(-2 * time.Hour)
	justNow := now.Add(-time.Minute)

	insertScout(t, p, models.Scout{ID: "due", UserID: "u1", Title: "Due", Goal: "G", Frequency: models.FrequencyHourly, IsActive: true, LastRunAt: &longAgo})
	insertScout(t, p, models.Scout{ID: "not-due", UserID: "u1", Title: "Not due", Goal: "G", Frequency: models.FrequencyHourly, IsActive: true, LastRunAt: &justNow})
	insertScout(t, p, models.Scout{ID: "inactive", UserID: "u1", Title: "Inactive", Goal: "G", Frequency: models.FrequencyHourly, IsActive: false, LastRunAt: &longAgo})

	due, err := p.ListDueScouts(ctx, now)
	require.NoError(t, err)

	var ids []string
	for _, s := range due {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, "due")
	assert.NotContains(t, ids, "not-due")
	assert.NotContains(t, ids, "inactive")
}

func TestReapStaleRunningReclaimsPastThreshold(t *testing.T) {
	p := util.SetupTestStore(t)
	insertScout(t, p, models.Scout{ID: "s1", UserID: "u1", Title: "T", Goal: "G", Frequency: models.FrequencyDaily, IsActive: true})
	ctx := context.Background()

	exec, err := p.TryClaimRunning(ctx, "s1")
	require.NoError(t, err)
	_, err = p.pool.Exec(ctx, `UPDATE executions SET created_at = $2 WHERE id = $1`, exec.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	reclaimed, err := p.ReapStaleRunning(ctx, time.Now(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	// reclaimed execution no longer blocks a new claim
	_, err = p.TryClaimRunning(ctx, "s1")
	assert.NoError(t, err)
}

func TestResolveCredentialAndMarkInvalid(t *testing.T) {
	p := util.SetupTestStore(t)
	insertCredential(t, p, "u1", "sk-test-key")
	ctx := context.Background()

	rec, err := p.ResolveCredential(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-key", rec.Key)
	assert.Equal(t, models.CredentialStatusActive, rec.Status)

	require.NoError(t, p.MarkCredentialInvalid(ctx, "u1", "401 from provider"))
	rec, err = p.ResolveCredential(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialStatusInvalid, rec.Status)
	assert.Equal(t, "401 from provider", rec.LastInvalidReason)
}

func TestResolveCredentialNotFound(t *testing.T) {
	p := util.SetupTestStore(t)
	_, err := p.ResolveCredential(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
