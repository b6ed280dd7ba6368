package executorapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutwatch/scoutd/pkg/analytics"
	"github.com/scoutwatch/scoutd/pkg/config"
	"github.com/scoutwatch/scoutd/pkg/credential"
	"github.com/scoutwatch/scoutd/pkg/executor"
	"github.com/scoutwatch/scoutd/pkg/llmprovider"
	"github.com/scoutwatch/scoutd/pkg/models"
	"github.com/scoutwatch/scoutd/pkg/notifier"
	"github.com/scoutwatch/scoutd/pkg/store"
)

// fakeChat scripts a single tool-free completion, so the agent loop
// finishes on its first round trip without making any network calls.
type fakeChat struct {
	content string
}

func (f *fakeChat) ChatComplete(context.Context, []llmprovider.Message, []llmprovider.ToolDefinition) (*llmprovider.ChatResult, error) {
	return &llmprovider.ChatResult{Content: f.content}, nil
}

func (f *fakeChat) Embed(context.Context, string) ([]float32, error) {
	return nil, nil
}

// fakeStore implements store.Store with just enough behavior to drive the
// executor through a single request.
type fakeStore struct {
	scout    *models.Scout
	claimErr error
}

func (f *fakeStore) GetScout(context.Context, string) (*models.Scout, error) {
	if f.scout == nil {
		return nil, store.ErrNotFound
	}
	return f.scout, nil
}

func (f *fakeStore) TryClaimRunning(context.Context, string) (*models.Execution, error) {
	if f.claimErr != nil {
		return &models.Execution{ID: "exec-prior"}, f.claimErr
	}
	return &models.Execution{ID: "exec-1"}, nil
}

func (f *fakeStore) FinishExecution(context.Context, string, store.ExecutionUpdate) error { return nil }
func (f *fakeStore) AppendStep(context.Context, models.Step) (int, error)                 { return 1, nil }
func (f *fakeStore) UpdateStep(context.Context, string, int, store.StepUpdate) error       { return nil }

func (f *fakeStore) ListRecentCompletedWithEmbedding(context.Context, string, int) ([]models.RecentFinding, error) {
	return nil, nil
}

func (f *fakeStore) UpdateScoutPostRun(context.Context, string, store.ScoutRunResult) error { return nil }
func (f *fakeStore) DisableAllUserScouts(context.Context, string) error                     { return nil }

func (f *fakeStore) ListDueScouts(context.Context, time.Time) ([]models.Scout, error) {
	panic("not used by these tests")
}

func (f *fakeStore) ReapStaleRunning(context.Context, time.Time, time.Duration) (int, error) {
	panic("not used by these tests")
}

func (f *fakeStore) MarkCredentialInvalid(context.Context, string, string) error { return nil }

func (f *fakeStore) ResolveCredential(context.Context, string) (*models.CredentialRecord, error) {
	return &models.CredentialRecord{UserID: "u1", Key: "sk-test", Status: models.CredentialStatusActive}, nil
}

func (f *fakeStore) Close() {}

var _ store.Store = (*fakeStore)(nil)

func newTestServer(fs *fakeStore) *Server {
	exec := executor.New(
		fs,
		&fakeChat{content: `{"taskCompleted": true, "taskStatus": "completed", "response": "all clear"}`},
		config.SearchProviderConfig{BaseURL: "https://search.example.com"},
		config.DedupConfig{SimilarityThreshold: 0.85},
		credential.New(fs),
		notifier.NewService(config.SMTPConfig{}),
		analytics.New(1),
	)
	return NewServer(exec)
}

func TestTriggerHandlerSuccess(t *testing.T) {
	fs := &fakeStore{scout: &models.Scout{ID: "s1", UserID: "u1", Title: "Competitor pricing"}}
	srv := newTestServer(fs)

	req := httptest.NewRequest(http.MethodGet, "/executor?scoutId=s1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"title":"Competitor pricing"`)
}

func TestTriggerHandlerAlreadyRunning(t *testing.T) {
	fs := &fakeStore{
		scout:    &models.Scout{ID: "s1", UserID: "u1", Title: "Competitor pricing"},
		claimErr: store.ErrAlreadyRunning,
	}
	srv := newTestServer(fs)

	req := httptest.NewRequest(http.MethodGet, "/executor?scoutId=s1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"already in progress"`)
	assert.Contains(t, rec.Body.String(), `"runningExecutionId":"exec-prior"`)
}

func TestTriggerHandlerScoutNotFound(t *testing.T) {
	srv := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/executor?scoutId=ghost", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerHandlerMissingScoutID(t *testing.T) {
	srv := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/executor", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerHandlerPostWithJSONBody(t *testing.T) {
	fs := &fakeStore{scout: &models.Scout{ID: "s1", UserID: "u1", Title: "Competitor pricing"}}
	srv := newTestServer(fs)

	req := httptest.NewRequest(http.MethodPost, "/executor", strings.NewReader(`{"scoutId":"s1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestCORSPreflightAccepted(t *testing.T) {
	srv := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodOptions, "/executor", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
