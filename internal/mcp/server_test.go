package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prflow/internal/lock"
	"github.com/joescharf/prflow/internal/models"
	"github.com/joescharf/prflow/internal/store"
	"github.com/joescharf/prflow/internal/workflow"
)

type fakeRunner struct {
	lastReq workflow.Request
	result  *models.WorkflowResult
}

func (r *fakeRunner) Run(ctx context.Context, req workflow.Request) *models.WorkflowResult {
	r.lastReq = req
	return r.result
}

type fakeLocks struct {
	infos   []lock.Info
	removed int
	err     error
}

func (l *fakeLocks) List() ([]lock.Info, error) { return l.infos, l.err }
func (l *fakeLocks) CleanupStale() (int, error) { return l.removed, l.err }

type fakeHistory struct {
	runs       []*models.WorkflowRun
	lastFilter store.RunListFilter
}

func (h *fakeHistory) ListRuns(ctx context.Context, filter store.RunListFilter) ([]*models.WorkflowRun, error) {
	h.lastFilter = filter
	return h.runs, nil
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// textContent extracts the text payload from a tool result.
func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestHandleReviewRun(t *testing.T) {
	runner := &fakeRunner{result: &models.WorkflowResult{
		Target:       models.ReviewTarget{Repo: "acme/widgets", Number: 42},
		Status:       models.RunCompleted,
		ActionsTaken: []string{"approve", "merge:abc"},
	}}
	s := NewServer(runner, &fakeLocks{}, nil, "acme/widgets")

	result, err := s.handleReviewRun(context.Background(), callRequest(map[string]any{
		"number": float64(42),
		"author": "alice",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, "acme/widgets", runner.lastReq.Target.Repo, "repo defaults from config")
	assert.Equal(t, 42, runner.lastReq.Target.Number)
	assert.Equal(t, "mcp", runner.lastReq.Requester)
	assert.Equal(t, "alice", runner.lastReq.Author)

	var out models.WorkflowResult
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.Equal(t, models.RunCompleted, out.Status)
}

func TestHandleReviewRun_MissingNumber(t *testing.T) {
	s := NewServer(&fakeRunner{result: &models.WorkflowResult{}}, &fakeLocks{}, nil, "acme/widgets")

	result, err := s.handleReviewRun(context.Background(), callRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListLocks(t *testing.T) {
	locks := &fakeLocks{infos: []lock.Info{{
		Name:   "acme-widgets-pr-42.lock",
		Record: lock.Record{Requester: "poller", AcquiredAt: time.Now().Add(-time.Minute)},
		Age:    time.Minute,
	}}}
	s := NewServer(&fakeRunner{}, locks, nil, "acme/widgets")

	result, err := s.handleListLocks(context.Background(), callRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out []map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "acme-widgets-pr-42.lock", out[0]["name"])
	assert.Equal(t, "poller", out[0]["requester"])
}

func TestHandleListLocks_Error(t *testing.T) {
	s := NewServer(&fakeRunner{}, &fakeLocks{err: errors.New("boom")}, nil, "acme/widgets")

	result, err := s.handleListLocks(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCleanupLocks(t *testing.T) {
	s := NewServer(&fakeRunner{}, &fakeLocks{removed: 3}, nil, "acme/widgets")

	result, err := s.handleCleanupLocks(context.Background(), callRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.JSONEq(t, `{"removed":3}`, textContent(t, result))
}

func TestHandleRunHistory(t *testing.T) {
	history := &fakeHistory{runs: []*models.WorkflowRun{{
		ID:     "01ABC",
		Repo:   "acme/widgets",
		Number: 42,
		Status: models.RunCompleted,
		Action: models.ActionMergeOnly,
	}}}
	s := NewServer(&fakeRunner{}, &fakeLocks{}, history, "acme/widgets")

	result, err := s.handleRunHistory(context.Background(), callRequest(map[string]any{
		"repo":   "acme/widgets",
		"status": "completed",
		"limit":  float64(5),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, "acme/widgets", history.lastFilter.Repo)
	assert.Equal(t, models.RunCompleted, history.lastFilter.Status)
	assert.Equal(t, 5, history.lastFilter.Limit)

	var out []map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "merge_only", out[0]["action"])
}

func TestHandleRunHistory_Disabled(t *testing.T) {
	s := NewServer(&fakeRunner{}, &fakeLocks{}, nil, "acme/widgets")

	result, err := s.handleRunHistory(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPServer_RegistersTools(t *testing.T) {
	s := NewServer(&fakeRunner{}, &fakeLocks{}, &fakeHistory{}, "acme/widgets")
	assert.NotNil(t, s.MCPServer())
}
