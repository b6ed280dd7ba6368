package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutwatch/scoutd/pkg/credential"
	"github.com/scoutwatch/scoutd/pkg/llmprovider"
	"github.com/scoutwatch/scoutd/pkg/models"
	"github.com/scoutwatch/scoutd/pkg/searchprovider"
	"github.com/scoutwatch/scoutd/pkg/store"
)

// fakeChat is a scripted ChatCompleter: each call pops the next result off
// responses, looping forever on the last one once exhausted.
type fakeChat struct {
	responses []*llmprovider.ChatResult
	calls     int
	err       error
}

func (f *fakeChat) ChatComplete(context.Context, []llmprovider.Message, []llmprovider.ToolDefinition) (*llmprovider.ChatResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

// fakeTools returns scripted results for each call, in order.
type fakeTools struct {
	results []*ToolResult
	calls   int
}

func (f *fakeTools) ListTools(context.Context) ([]ToolDefinition, error) {
	return []ToolDefinition{{Name: ToolSearchWeb}, {Name: ToolScrapeWebsite}}, nil
}

func (f *fakeTools) Execute(context.Context, ToolCall) (*ToolResult, error) {
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	return f.results[idx], nil
}

// fakeStore implements store.Store, recording only what the loop needs.
type fakeStore struct {
	steps         []models.Step
	stepUpdates   []store.StepUpdate
	invalidUsers  []string
	disabledUsers []string
}

func (f *fakeStore) AppendStep(_ context.Context, step models.Step) (int, error) {
	f.steps = append(f.steps, step)
	return len(f.steps), nil
}

func (f *fakeStore) UpdateStep(_ context.Context, _ string, _ int, update store.StepUpdate) error {
	f.stepUpdates = append(f.stepUpdates, update)
	return nil
}

func (f *fakeStore) MarkCredentialInvalid(_ context.Context, userID string, _ string) error {
	f.invalidUsers = append(f.invalidUsers, userID)
	return nil
}

func (f *fakeStore) DisableAllUserScouts(_ context.Context, userID string) error {
	f.disabledUsers = append(f.disabledUsers, userID)
	return nil
}

func (f *fakeStore) GetScout(context.Context, string) (*models.Scout, error) {
	panic("not used by these tests")
}
func (f *fakeStore) TryClaimRunning(context.Context, string) (*models.Execution, error) {
	panic("not used by these tests")
}
func (f *fakeStore) FinishExecution(context.Context, string, store.ExecutionUpdate) error {
	panic("not used by these tests")
}
func (f *fakeStore) ListRecentCompletedWithEmbedding(context.Context, string, int) ([]models.RecentFinding, error) {
	panic("not used by these tests")
}
func (f *fakeStore) UpdateScoutPostRun(context.Context, string, store.ScoutRunResult) error {
	panic("not used by these tests")
}
func (f *fakeStore) ResolveCredential(context.Context, string) (*models.CredentialRecord, error) {
	panic("not used by these tests")
}
func (f *fakeStore) ListDueScouts(context.Context, time.Time) ([]models.Scout, error) {
	panic("not used by these tests")
}
func (f *fakeStore) ReapStaleRunning(context.Context, time.Time, time.Duration) (int, error) {
	panic("not used by these tests")
}
func (f *fakeStore) Close() {}

var _ store.Store = (*fakeStore)(nil)

func textResult(text string) *llmprovider.ChatResult {
	return &llmprovider.ChatResult{Content: text}
}

func toolCallResult(callID, name, args string) *llmprovider.ChatResult {
	return &llmprovider.ChatResult{
		ToolCalls: []llmprovider.ToolCall{{ID: callID, Name: name, Arguments: args}},
	}
}

func TestLoopCompletesOnFirstNonToolMessage(t *testing.T) {
	chat := &fakeChat{responses: []*llmprovider.ChatResult{
		textResult(`{"taskCompleted": true, "taskStatus": "completed", "response": "found it"}`),
	}}
	tools := &fakeTools{}
	fs := &fakeStore{}
	loop := New(chat, tools, fs, credential.New(fs), "u1", "s1", "e1")

	result, err := loop.Run(context.Background(), "system prompt")

	require.NoError(t, err)
	assert.True(t, result.TaskCompleted)
	assert.Equal(t, TaskStatusCompleted, result.TaskStatus)
	assert.Equal(t, "found it", result.Response)
	assert.Empty(t, fs.steps)
}

func TestLoopDispatchesToolCallsThenFinishes(t *testing.T) {
	chat := &fakeChat{responses: []*llmprovider.ChatResult{
		toolCallResult("c1", ToolSearchWeb, `{"query":"ai news"}`),
		textResult(`{"taskCompleted": true, "taskStatus": "completed", "response": "done"}`),
	}}
	tools := &fakeTools{results: []*ToolResult{
		{CallID: "c1", Name: ToolSearchWeb, Content: `{"results":[]}`},
	}}
	fs := &fakeStore{}
	loop := New(chat, tools, fs, credential.New(fs), "u1", "s1", "e1")

	result, err := loop.Run(context.Background(), "system prompt")

	require.NoError(t, err)
	assert.True(t, result.TaskCompleted)
	require.Len(t, fs.steps, 1)
	assert.Equal(t, models.StepTypeSearch, fs.steps[0].StepType)
	require.Len(t, fs.stepUpdates, 1)
	assert.Equal(t, models.StepStatusCompleted, fs.stepUpdates[0].Status)
}

func TestLoopAbortsAfterThreeConsecutiveToolErrors(t *testing.T) {
	toolCall := toolCallResult("c1", ToolScrapeWebsite, `{"url":"https://example.com"}`)
	chat := &fakeChat{responses: []*llmprovider.ChatResult{toolCall}}
	errResult := &ToolResult{CallID: "c1", Name: ToolScrapeWebsite, Content: "boom", IsError: true, Err: errors.New("boom")}
	tools := &fakeTools{results: []*ToolResult{errResult, errResult, errResult}}
	fs := &fakeStore{}
	loop := New(chat, tools, fs, credential.New(fs), "u1", "s1", "e1")

	result, err := loop.Run(context.Background(), "system prompt")

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, 3, tools.calls)
}

func TestLoopBlacklistedScrapeErrorIsExemptFromAccounting(t *testing.T) {
	toolCall := toolCallResult("c1", ToolScrapeWebsite, `{"url":"https://reddit.com/r/foo"}`)
	final := textResult(`{"taskCompleted": false, "taskStatus": "partial", "response": "gave up"}`)
	// Four consecutive exempt tool errors would abort a normal run after
	// three; because they are blacklisted-scrape errors, none count, and
	// the model is free to give up on its own on the fifth call.
	chat := &fakeChat{responses: []*llmprovider.ChatResult{toolCall, toolCall, toolCall, toolCall, final}}
	blacklistedErr := &ToolResult{CallID: "c1", Name: ToolScrapeWebsite, Content: "blocked", IsError: true, Exempt: true, Err: errors.New("blocked")}
	tools := &fakeTools{results: []*ToolResult{blacklistedErr, blacklistedErr, blacklistedErr, blacklistedErr}}
	fs := &fakeStore{}
	loop := New(chat, tools, fs, credential.New(fs), "u1", "s1", "e1")

	result, err := loop.Run(context.Background(), "system prompt")

	require.NoError(t, err)
	assert.Equal(t, TaskStatusPartial, result.TaskStatus)
	assert.Equal(t, 4, tools.calls)
}

func TestLoopPaymentRequiredAbortsImmediatelyAndDisablesScouts(t *testing.T) {
	toolCall := toolCallResult("c1", ToolSearchWeb, `{"query":"ai news"}`)
	chat := &fakeChat{responses: []*llmprovider.ChatResult{toolCall}}
	paymentErr := &searchprovider.ProviderError{StatusCode: 402, Body: "insufficient credits"}
	tools := &fakeTools{results: []*ToolResult{
		{CallID: "c1", Name: ToolSearchWeb, Content: paymentErr.Error(), IsError: true, Err: paymentErr},
	}}
	fs := &fakeStore{}
	loop := New(chat, tools, fs, credential.New(fs), "u1", "s1", "e1")

	result, err := loop.Run(context.Background(), "system prompt")

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, []string{"u1"}, fs.invalidUsers)
	assert.Equal(t, []string{"u1"}, fs.disabledUsers)
}

func TestLoopReachesMaxLoopsAndForcesConclusion(t *testing.T) {
	toolCall := toolCallResult("c1", ToolSearchWeb, `{"query":"ai news"}`)
	responses := make([]*llmprovider.ChatResult, 0, MaxLoops+1)
	for i := 0; i < MaxLoops; i++ {
		responses = append(responses, toolCall)
	}
	responses = append(responses, textResult(`{"taskCompleted": false, "taskStatus": "partial", "response": "forced"}`))
	chat := &fakeChat{responses: responses}

	okResult := &ToolResult{CallID: "c1", Name: ToolSearchWeb, Content: `{"results":[]}`}
	results := make([]*ToolResult, 0, MaxLoops)
	for i := 0; i < MaxLoops; i++ {
		results = append(results, okResult)
	}
	tools := &fakeTools{results: results}
	fs := &fakeStore{}
	loop := New(chat, tools, fs, credential.New(fs), "u1", "s1", "e1")

	result, err := loop.Run(context.Background(), "system prompt")

	require.NoError(t, err)
	assert.Equal(t, TaskStatusPartial, result.TaskStatus)
	assert.Equal(t, MaxLoops+1, chat.calls)
}

func TestLoopChatCompletionErrorIsFatal(t *testing.T) {
	chat := &fakeChat{err: errors.New("connection reset")}
	tools := &fakeTools{}
	fs := &fakeStore{}
	loop := New(chat, tools, fs, credential.New(fs), "u1", "s1", "e1")

	result, err := loop.Run(context.Background(), "system prompt")

	assert.Nil(t, result)
	require.Error(t, err)
}
