// Package workflow composes the forge client, review lock, merge policy,
// and action executors into the review-and-merge state machine.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/joescharf/prflow/internal/forge"
	"github.com/joescharf/prflow/internal/lock"
	"github.com/joescharf/prflow/internal/models"
	"github.com/joescharf/prflow/internal/policy"
)

// State names the phases of one orchestrator run.
type State string

const (
	StateStart            State = "start"
	StateSelfReviewCheck  State = "self_review_check"
	StateLockPending      State = "lock_pending"
	StateReviewing        State = "reviewing"
	StateDeciding         State = "deciding"
	StateConvertingDraft  State = "converting_draft"
	StateMerging          State = "merging"
	StateMergingAndFiling State = "merging_and_filing"
	StateNoOp             State = "no_op"
	StateReleased         State = "released"
	StateDone             State = "done"
	StateSkipped          State = "skipped"
)

// Skip reasons returned in WorkflowResult.Reason.
const (
	ReasonSelfReview    = "self-review"
	ReasonLocked        = "locked by another process"
	ReasonAlreadyMerged = "already merged"
	ReasonClosed        = "pull request is closed"
)

// ReviewEngine produces the content-level review outcome for a target.
// The implementation is an external collaborator; this package only
// consumes its result.
type ReviewEngine interface {
	Review(ctx context.Context, target models.ReviewTarget, files []forge.PullFile) (*models.ReviewOutcome, error)
}

// Forge is the subset of the forge client the orchestrator needs.
type Forge interface {
	GetPullRequest(ctx context.Context, number int) (*forge.PullRequest, error)
	ListFiles(ctx context.Context, number int) ([]forge.PullFile, error)
	CreateComment(ctx context.Context, number int, body string) (*forge.Comment, error)
	SubmitReview(ctx context.Context, number int, event, body string) error
	AddLabels(ctx context.Context, number int, labels ...string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	RequestReviewers(ctx context.Context, number int, reviewers []string) error
	AddAssignees(ctx context.Context, number int, assignees []string) error
	ConvertToDraft(ctx context.Context, nodeID string) error
	MergePullRequest(ctx context.Context, number int, method, commitTitle string) (*forge.MergeResult, error)
	CreateIssue(ctx context.Context, title, body string, labels []string) (*forge.Issue, error)
}

// RunRecorder persists finished runs; nil disables recording.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *models.WorkflowRun) error
}

// Request describes one unit of work for the orchestrator.
type Request struct {
	Target    models.ReviewTarget
	Requester string // identity written into the lock artifact

	// Author is the change author's login when the trigger already knows
	// it (poller and webhook payloads carry it). Empty means the author
	// is resolved from the fetched PR instead, after the lock is held.
	Author string
}

// Config holds the orchestrator's behavioral knobs.
type Config struct {
	// ReviewerIdentity is the login this orchestrator reviews as; a
	// change authored by it is never reviewed.
	ReviewerIdentity string

	// MergeMethod is merge, squash, or rebase.
	MergeMethod string

	// DefaultReviewers are requested on changes held in draft.
	DefaultReviewers []string

	// ConflictLabel is applied when a merge conflict redirects the run.
	ConflictLabel string

	// DryRun reports intended actions without executing them.
	DryRun bool
}

// Orchestrator drives one review target through the workflow state machine.
// All collaborators are injected; there is no package-level state.
type Orchestrator struct {
	forge    Forge
	lock     lock.Lock
	engine   ReviewEngine
	policy   policy.Policy
	recorder RunRecorder
	cfg      Config

	// Logf receives state-transition traces. Nil disables tracing.
	Logf func(format string, args ...any)
}

// New creates an orchestrator with the given collaborators.
func New(f Forge, l lock.Lock, e ReviewEngine, p policy.Policy, cfg Config) *Orchestrator {
	if cfg.MergeMethod == "" {
		cfg.MergeMethod = forge.MergeMethodSquash
	}
	if cfg.ConflictLabel == "" {
		cfg.ConflictLabel = "has-conflicts"
	}
	return &Orchestrator{forge: f, lock: l, engine: e, policy: p, cfg: cfg}
}

// WithRecorder sets the run recorder and returns the orchestrator.
func (o *Orchestrator) WithRecorder(r RunRecorder) *Orchestrator {
	o.recorder = r
	return o
}

func (o *Orchestrator) transition(s State) {
	if o.Logf != nil {
		o.Logf("workflow state: %s", s)
	}
}

// Run processes one target end to end and returns a structured result.
// It never returns an error: failures are folded into the result, and the
// lock is released no matter which path the run takes.
func (o *Orchestrator) Run(ctx context.Context, req Request) *models.WorkflowResult {
	started := time.Now()
	result := o.execute(ctx, req)
	o.record(ctx, req, result, started)
	o.transition(StateDone)
	return result
}

// execute is the state machine body. The caller owns run recording.
func (o *Orchestrator) execute(ctx context.Context, req Request) *models.WorkflowResult {
	target := req.Target
	o.transition(StateStart)

	// Self-review guard: no network call, no lock attempt.
	o.transition(StateSelfReviewCheck)
	if req.Author != "" && req.Author == o.cfg.ReviewerIdentity {
		o.transition(StateSkipped)
		return models.SkippedResult(target, ReasonSelfReview)
	}

	// Non-blocking lock: a losing run gives up immediately; the trigger
	// source (poll interval, webhook redelivery) retries naturally.
	o.transition(StateLockPending)
	acquired, err := o.lock.Acquire(target, req.Requester)
	if err != nil {
		return &models.WorkflowResult{
			Target: target,
			Status: models.RunFailed,
			Errors: []string{fmt.Sprintf("acquire lock: %v", err)},
		}
	}
	if !acquired {
		o.transition(StateSkipped)
		return models.SkippedResult(target, ReasonLocked)
	}

	result := &models.WorkflowResult{Target: target, Status: models.RunCompleted}
	defer func() {
		// Release is guaranteed regardless of which path the run took,
		// including panics out of the review engine.
		if err := o.lock.Release(target); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("release lock: %v", err))
		}
		o.transition(StateReleased)
	}()

	o.transition(StateReviewing)
	pr, err := o.forge.GetPullRequest(ctx, target.Number)
	if err != nil {
		return fail(result, fmt.Sprintf("fetch pull request: %v", err))
	}

	// Late self-review check for triggers that did not know the author.
	if pr.User != nil && pr.User.Login == o.cfg.ReviewerIdentity {
		result.Status = models.RunSkipped
		result.Reason = ReasonSelfReview
		return result
	}
	if pr.Merged {
		result.Status = models.RunSkipped
		result.Reason = ReasonAlreadyMerged
		return result
	}
	if pr.State == "closed" {
		result.Status = models.RunSkipped
		result.Reason = ReasonClosed
		return result
	}

	files, err := o.forge.ListFiles(ctx, target.Number)
	if err != nil {
		return fail(result, fmt.Sprintf("list changed files: %v", err))
	}

	outcome, err := o.review(ctx, target, files)
	if err != nil {
		return fail(result, fmt.Sprintf("review: %v", err))
	}
	result.Outcome = outcome

	o.transition(StateDeciding)
	decision := o.policy.Decide(outcome)
	result.Decision = &decision

	// Conflict override: mergeability is queried independently of the
	// computed decision. A conflicted PR always goes to draft.
	conflicted := false
	if fresh, err := o.forge.GetPullRequest(ctx, target.Number); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("check mergeability: %v", err))
	} else {
		conflicted = fresh.HasConflicts()
		pr = fresh
	}

	if conflicted {
		o.transition(StateConvertingDraft)
		o.executeConflictOverride(ctx, pr, result)
		return result
	}

	o.dispatch(ctx, pr, decision, result)
	return result
}

// dispatch routes the decision to its action executor.
func (o *Orchestrator) dispatch(ctx context.Context, pr *forge.PullRequest, decision models.Decision, result *models.WorkflowResult) {
	switch decision.Action {
	case models.ActionConvertToDraft:
		o.transition(StateConvertingDraft)
		o.executeConvertToDraft(ctx, pr, decision, result)
	case models.ActionMergeOnly:
		o.transition(StateMerging)
		o.executeMerge(ctx, pr, decision, result)
	case models.ActionMergeAndFileIssue:
		o.transition(StateMergingAndFiling)
		o.executeMerge(ctx, pr, decision, result)
		o.executeFileFollowUp(ctx, pr, result)
	default:
		// Unreachable by construction: the policy is total over its
		// inputs. Observing this is a programming defect.
		o.transition(StateNoOp)
		result.Errors = append(result.Errors, fmt.Sprintf("no executor for action %q", decision.Action))
	}
}

// review invokes the injected engine, converting panics into errors so the
// deferred lock release and structured result still happen.
func (o *Orchestrator) review(ctx context.Context, target models.ReviewTarget, files []forge.PullFile) (outcome *models.ReviewOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = fmt.Errorf("review engine panicked: %v", r)
		}
	}()
	return o.engine.Review(ctx, target, files)
}

// record persists the finished run when a recorder is configured.
func (o *Orchestrator) record(ctx context.Context, req Request, result *models.WorkflowResult, started time.Time) {
	if o.recorder == nil {
		return
	}

	run := &models.WorkflowRun{
		Repo:         req.Target.Repo,
		Number:       req.Target.Number,
		Requester:    req.Requester,
		Status:       result.Status,
		Reason:       result.Reason,
		ActionsTaken: result.ActionsTaken,
		Errors:       result.Errors,
		StartedAt:    started.UTC(),
		FinishedAt:   time.Now().UTC(),
	}
	if result.Decision != nil {
		run.Recommendation = result.Decision.Recommendation
		run.Action = result.Decision.Action
	}

	if err := o.recorder.CreateRun(ctx, run); err != nil && o.Logf != nil {
		o.Logf("record run: %v", err)
	}
}

// fail marks the result failed with the given error entry.
func fail(result *models.WorkflowResult, msg string) *models.WorkflowResult {
	result.Status = models.RunFailed
	result.Errors = append(result.Errors, msg)
	return result
}
