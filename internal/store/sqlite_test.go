package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prflow/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "prflow.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRun(repo string, number int, status models.RunStatus) *models.WorkflowRun {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.WorkflowRun{
		Repo:           repo,
		Number:         number,
		Requester:      "poller",
		Status:         status,
		Recommendation: models.RecommendAutoMerge,
		Action:         models.ActionMergeOnly,
		ActionsTaken:   []string{"approve", "merge:abc123"},
		StartedAt:      now,
		FinishedAt:     now.Add(3 * time.Second),
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("acme/widgets", 42, models.RunCompleted)
	require.NoError(t, s.CreateRun(ctx, run))
	require.NotEmpty(t, run.ID, "CreateRun assigns a ULID")

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", got.Repo)
	assert.Equal(t, 42, got.Number)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, models.RecommendAutoMerge, got.Recommendation)
	assert.Equal(t, []string{"approve", "merge:abc123"}, got.ActionsTaken)
	assert.Empty(t, got.Errors)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	assert.Error(t, err)
}

func TestListRuns_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, sampleRun("acme/widgets", 1, models.RunCompleted)))
	require.NoError(t, s.CreateRun(ctx, sampleRun("acme/widgets", 2, models.RunSkipped)))
	require.NoError(t, s.CreateRun(ctx, sampleRun("acme/gadgets", 1, models.RunFailed)))

	runs, err := s.ListRuns(ctx, RunListFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	runs, err = s.ListRuns(ctx, RunListFilter{Repo: "acme/widgets"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(ctx, RunListFilter{Repo: "acme/widgets", Number: 2})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunSkipped, runs[0].Status)

	runs, err = s.ListRuns(ctx, RunListFilter{Status: models.RunFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "acme/gadgets", runs[0].Repo)

	runs, err = s.ListRuns(ctx, RunListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestCreateRun_ErrorsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("acme/widgets", 7, models.RunFailed)
	run.Errors = []string{"review: model timeout", "release lock: permission denied"}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Errors, got.Errors)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}
