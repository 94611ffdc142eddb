package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prflow/internal/forge"
	"github.com/joescharf/prflow/internal/models"
	"github.com/joescharf/prflow/internal/policy"
)

// fakeForge records every call and serves canned responses. Setting an
// entry in fail makes the named call return that error.
type fakeForge struct {
	pr    *forge.PullRequest
	calls []string
	fail  map[string]error
}

func (f *fakeForge) called(name string) error {
	f.calls = append(f.calls, name)
	return f.fail[name]
}

func (f *fakeForge) count(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeForge) GetPullRequest(ctx context.Context, number int) (*forge.PullRequest, error) {
	if err := f.called("GetPullRequest"); err != nil {
		return nil, err
	}
	return f.pr, nil
}

func (f *fakeForge) ListFiles(ctx context.Context, number int) ([]forge.PullFile, error) {
	if err := f.called("ListFiles"); err != nil {
		return nil, err
	}
	return []forge.PullFile{{Filename: "main.go", Status: "modified"}}, nil
}

func (f *fakeForge) CreateComment(ctx context.Context, number int, body string) (*forge.Comment, error) {
	if err := f.called("CreateComment"); err != nil {
		return nil, err
	}
	return &forge.Comment{ID: 1, Body: body}, nil
}

func (f *fakeForge) SubmitReview(ctx context.Context, number int, event, body string) error {
	return f.called("SubmitReview:" + event)
}

func (f *fakeForge) AddLabels(ctx context.Context, number int, labels ...string) error {
	return f.called("AddLabels")
}

func (f *fakeForge) RemoveLabel(ctx context.Context, number int, label string) error {
	return f.called("RemoveLabel")
}

func (f *fakeForge) RequestReviewers(ctx context.Context, number int, reviewers []string) error {
	return f.called("RequestReviewers")
}

func (f *fakeForge) AddAssignees(ctx context.Context, number int, assignees []string) error {
	return f.called("AddAssignees")
}

func (f *fakeForge) ConvertToDraft(ctx context.Context, nodeID string) error {
	return f.called("ConvertToDraft")
}

func (f *fakeForge) MergePullRequest(ctx context.Context, number int, method, commitTitle string) (*forge.MergeResult, error) {
	if err := f.called("MergePullRequest"); err != nil {
		return nil, err
	}
	return &forge.MergeResult{SHA: "abc123", Merged: true}, nil
}

func (f *fakeForge) CreateIssue(ctx context.Context, title, body string, labels []string) (*forge.Issue, error) {
	if err := f.called("CreateIssue"); err != nil {
		return nil, err
	}
	return &forge.Issue{Number: 99, Title: title}, nil
}

// fakeLock is an in-memory Lock that tracks acquire/release pairing.
type fakeLock struct {
	held       bool
	denyNext   bool
	acquireErr error
	acquires   int
	releases   int
}

func (l *fakeLock) Acquire(target models.ReviewTarget, requester string) (bool, error) {
	l.acquires++
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	if l.denyNext || l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLock) Release(target models.ReviewTarget) error {
	l.releases++
	l.held = false
	return nil
}

func (l *fakeLock) Refresh(target models.ReviewTarget) error { return nil }

// fakeEngine returns a fixed outcome, an error, or panics.
type fakeEngine struct {
	outcome *models.ReviewOutcome
	err     error
	panics  bool
}

func (e *fakeEngine) Review(ctx context.Context, target models.ReviewTarget, files []forge.PullFile) (*models.ReviewOutcome, error) {
	if e.panics {
		panic("engine exploded")
	}
	return e.outcome, e.err
}

type fakeRecorder struct {
	runs []*models.WorkflowRun
}

func (r *fakeRecorder) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	r.runs = append(r.runs, run)
	return nil
}

func openPR() *forge.PullRequest {
	mergeable := true
	return &forge.PullRequest{
		Number:    42,
		NodeID:    "PR_node42",
		Title:     "Add widget cache",
		State:     "open",
		Mergeable: &mergeable,
		User:      &forge.User{Login: "alice"},
		Base:      forge.Ref{Ref: "main"},
		Head:      forge.Ref{Ref: "feature", SHA: "deadbeef"},
	}
}

func approvedOutcome(critical, warning, info int) *models.ReviewOutcome {
	o := &models.ReviewOutcome{Approved: critical == 0}
	emit := func(n int, sev models.Severity) {
		for i := 0; i < n; i++ {
			o.Findings = append(o.Findings, models.Finding{
				Severity: sev, Category: "style", Description: fmt.Sprintf("finding %d", i),
			})
		}
	}
	emit(critical, models.SeverityCritical)
	emit(warning, models.SeverityWarning)
	emit(info, models.SeverityInfo)
	return o
}

var testTarget = models.ReviewTarget{Repo: "acme/widgets", Number: 42}

func newTestOrchestrator(f *fakeForge, l *fakeLock, e *fakeEngine) *Orchestrator {
	return New(f, l, e, policy.Policy{AutoMergeOnApproval: true, MergeWithMinorFindings: true}, Config{
		ReviewerIdentity: "prflow-bot",
		MergeMethod:      forge.MergeMethodSquash,
		DefaultReviewers: []string{"alice", "bob"},
	})
}

func TestRun_SelfReviewSkipsWithoutNetworkOrLock(t *testing.T) {
	f := &fakeForge{pr: openPR()}
	l := &fakeLock{}
	o := newTestOrchestrator(f, l, &fakeEngine{outcome: approvedOutcome(0, 0, 0)})

	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "poller", Author: "prflow-bot"})

	assert.Equal(t, models.RunSkipped, res.Status)
	assert.Equal(t, ReasonSelfReview, res.Reason)
	assert.Empty(t, f.calls, "self-review skip must issue zero network calls")
	assert.Zero(t, l.acquires, "self-review skip must not touch the lock")
}

func TestRun_LateSelfReviewReleasesLock(t *testing.T) {
	pr := openPR()
	pr.User = &forge.User{Login: "prflow-bot"}
	f := &fakeForge{pr: pr}
	l := &fakeLock{}
	o := newTestOrchestrator(f, l, &fakeEngine{outcome: approvedOutcome(0, 0, 0)})

	// Author unknown to the trigger; resolved from the fetched PR.
	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "webhook"})

	assert.Equal(t, models.RunSkipped, res.Status)
	assert.Equal(t, ReasonSelfReview, res.Reason)
	assert.Equal(t, 1, l.releases, "lock must be released on late skip")
	assert.False(t, l.held)
}

func TestRun_LockContentionSkips(t *testing.T) {
	f := &fakeForge{pr: openPR()}
	l := &fakeLock{denyNext: true}
	o := newTestOrchestrator(f, l, &fakeEngine{outcome: approvedOutcome(0, 0, 0)})

	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "poller"})

	assert.Equal(t, models.RunSkipped, res.Status)
	assert.Equal(t, ReasonLocked, res.Reason)
	assert.Empty(t, f.calls)
	assert.Zero(t, l.releases, "a lock that was never acquired is not released")
}

func TestRun_LockErrorFails(t *testing.T) {
	l := &fakeLock{acquireErr: errors.New("disk full")}
	o := newTestOrchestrator(&fakeForge{pr: openPR()}, l, &fakeEngine{})

	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "poller"})

	assert.Equal(t, models.RunFailed, res.Status)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "acquire lock")
}

func TestRun_CleanApprovalMerges(t *testing.T) {
	f := &fakeForge{pr: openPR()}
	l := &fakeLock{}
	o := newTestOrchestrator(f, l, &fakeEngine{outcome: approvedOutcome(0, 0, 0)})

	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "poller"})

	assert.Equal(t, models.RunCompleted, res.Status)
	require.NotNil(t, res.Decision)
	assert.Equal(t, models.ActionMergeOnly, res.Decision.Action)
	assert.Contains(t, res.ActionsTaken, "approve")
	assert.Contains(t, res.ActionsTaken, "merge:abc123")
	assert.Equal(t, 1, f.count("SubmitReview:"+forge.ReviewEventApprove))
	assert.Equal(t, 1, f.count("MergePullRequest"))
	assert.Zero(t, f.count("CreateIssue"))
	assert.Equal(t, 1, l.releases)
}

func TestRun_ManyWarningsMergeAndFileIssue(t *testing.T) {
	f := &fakeForge{pr: openPR()}
	o := newTestOrchestrator(f, &fakeLock{}, &fakeEngine{outcome: approvedOutcome(0, 6, 0)})

	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "poller"})

	assert.Equal(t, models.RunCompleted, res.Status)
	assert.Equal(t, models.ActionMergeAndFileIssue, res.Decision.Action)
	assert.Equal(t, 1, f.count("MergePullRequest"))
	assert.Equal(t, 1, f.count("CreateIssue"))
	assert.Contains(t, res.ActionsTaken, "file_follow_up:#99")
}

func TestRun_CriticalFindingsConvertToDraft(t *testing.T) {
	f := &fakeForge{pr: openPR()}
	o := newTestOrchestrator(f, &fakeLock{}, &fakeEngine{outcome: approvedOutcome(2, 0, 0)})

	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "poller"})

	assert.Equal(t, models.RunCompleted, res.Status)
	assert.Equal(t, models.ActionConvertToDraft, res.Decision.Action)
	assert.Equal(t, 1, f.count("SubmitReview:"+forge.ReviewEventRequestChanges))
	assert.Equal(t, 1, f.count("ConvertToDraft"))
	assert.Equal(t, 1, f.count("RequestReviewers"))
	assert.Zero(t, f.count("MergePullRequest"))
}

func TestRun_ConflictOverridesApproval(t *testing.T) {
	pr := openPR()
	conflicted := false
	pr.Mergeable = &conflicted
	pr.MergeableState = "dirty"
	f := &fakeForge{pr: pr}
	o := newTestOrchestrator(f, &fakeLock{}, &fakeEngine{outcome: approvedOutcome(0, 0, 0)})

	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "poller"})

	assert.Equal(t, models.RunCompleted, res.Status)
	assert.Equal(t, models.ActionMergeOnly, res.Decision.Action, "decision itself is unchanged")
	assert.Contains(t, res.ActionsTaken, "conflict_override")
	assert.Equal(t, 1, f.count("CreateComment"))
	assert.Equal(t, 1, f.count("AddLabels"))
	assert.Equal(t, 1, f.count("ConvertToDraft"))
	assert.Zero(t, f.count("MergePullRequest"), "conflicted PR must never merge")
}

func TestRun_EngineErrorReleasesLock(t *testing.T) {
	l := &fakeLock{}
	o := newTestOrchestrator(&fakeForge{pr: openPR()}, l, &fakeEngine{err: errors.New("model timeout")})

	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "poller"})

	assert.Equal(t, models.RunFailed, res.Status)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "review")
	assert.Equal(t, 1, l.releases, "lock must be released on engine failure")
	assert.False(t, l.held)
}

func TestRun_EnginePanicReleasesLock(t *testing.T) {
	l := &fakeLock{}
	o := newTestOrchestrator(&fakeForge{pr: openPR()}, l, &fakeEngine{panics: true})

	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "poller"})

	assert.Equal(t, models.RunFailed, res.Status)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "panicked")
	assert.Equal(t, 1, l.releases)
}

func TestRun_ActionFailuresCollectedNotFatal(t *testing.T) {
	f := &fakeForge{pr: openPR(), fail: map[string]error{"MergePullRequest": errors.New("405 not mergeable")}}
	o := newTestOrchestrator(f, &fakeLock{}, &fakeEngine{outcome: approvedOutcome(0, 0, 0)})

	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "poller"})

	// The run completed; the failed merge is reported, the approval stands.
	assert.Equal(t, models.RunCompleted, res.Status)
	assert.Contains(t, res.ActionsTaken, "approve")
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "merge")
}

func TestRun_AlreadyMergedSkips(t *testing.T) {
	pr := openPR()
	pr.Merged = true
	l := &fakeLock{}
	o := newTestOrchestrator(&fakeForge{pr: pr}, l, &fakeEngine{outcome: approvedOutcome(0, 0, 0)})

	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "poller"})

	assert.Equal(t, models.RunSkipped, res.Status)
	assert.Equal(t, ReasonAlreadyMerged, res.Reason)
	assert.Equal(t, 1, l.releases)
}

func TestRun_DryRunTakesNoActions(t *testing.T) {
	f := &fakeForge{pr: openPR()}
	o := New(f, &fakeLock{}, &fakeEngine{outcome: approvedOutcome(0, 0, 0)},
		policy.Policy{AutoMergeOnApproval: true, MergeWithMinorFindings: true},
		Config{ReviewerIdentity: "prflow-bot", DryRun: true})

	res := o.Run(context.Background(), Request{Target: testTarget, Requester: "poller"})

	assert.Equal(t, models.RunCompleted, res.Status)
	assert.Contains(t, res.ActionsTaken, "would:approve")
	assert.Contains(t, res.ActionsTaken, "would:merge")
	assert.Zero(t, f.count("SubmitReview:"+forge.ReviewEventApprove))
	assert.Zero(t, f.count("MergePullRequest"))
}

func TestRun_RecordsRun(t *testing.T) {
	rec := &fakeRecorder{}
	o := newTestOrchestrator(&fakeForge{pr: openPR()}, &fakeLock{}, &fakeEngine{outcome: approvedOutcome(0, 0, 0)}).
		WithRecorder(rec)

	o.Run(context.Background(), Request{Target: testTarget, Requester: "poller"})

	require.Len(t, rec.runs, 1)
	run := rec.runs[0]
	assert.Equal(t, "acme/widgets", run.Repo)
	assert.Equal(t, 42, run.Number)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, models.RecommendAutoMerge, run.Recommendation)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
}
