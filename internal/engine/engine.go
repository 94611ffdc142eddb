// Package engine derives a review outcome from the signals already present
// on the forge: submitted reviews, CI check runs, and discussion comments.
//
// It performs no content analysis of its own. Blocking reviews surface as
// critical findings, failing checks as warnings, and open discussion as
// informational findings, which is enough for the merge policy to act on.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/joescharf/prflow/internal/forge"
	"github.com/joescharf/prflow/internal/models"
)

// Forge is the read-only subset of the forge client the engine needs.
type Forge interface {
	GetPullRequest(ctx context.Context, number int) (*forge.PullRequest, error)
	ListReviews(ctx context.Context, number int) ([]forge.Review, error)
	ListComments(ctx context.Context, number int) ([]forge.Comment, error)
	ListCheckRuns(ctx context.Context, ref string) ([]forge.CheckRun, error)
}

// Engine aggregates forge review state into a ReviewOutcome.
type Engine struct {
	forge Forge

	// SelfLogin filters out this orchestrator's own reviews and comments
	// so a previous run's output never feeds back into the next outcome.
	SelfLogin string
}

// New creates an engine backed by the given forge.
func New(f Forge, selfLogin string) *Engine {
	return &Engine{forge: f, SelfLogin: selfLogin}
}

// Review implements the orchestrator's ReviewEngine contract.
func (e *Engine) Review(ctx context.Context, target models.ReviewTarget, files []forge.PullFile) (*models.ReviewOutcome, error) {
	pr, err := e.forge.GetPullRequest(ctx, target.Number)
	if err != nil {
		return nil, fmt.Errorf("fetch pull request: %w", err)
	}

	reviews, err := e.forge.ListReviews(ctx, target.Number)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}

	comments, err := e.forge.ListComments(ctx, target.Number)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	checks, err := e.forge.ListCheckRuns(ctx, pr.Head.SHA)
	if err != nil {
		return nil, fmt.Errorf("list check runs: %w", err)
	}

	outcome := &models.ReviewOutcome{}

	approvals, blocking := e.foldReviews(reviews, outcome)
	failing := e.foldChecks(checks, outcome)
	e.foldComments(comments, outcome)

	outcome.Approved = approvals > 0 && blocking == 0 && failing == 0
	outcome.Summary = fmt.Sprintf("%d approval(s), %d change request(s), %d failing check(s) across %d changed file(s)",
		approvals, blocking, failing, len(files))
	return outcome, nil
}

// foldReviews reduces the review history to one state per reviewer (the
// latest submission wins) and emits a critical finding per blocking review.
func (e *Engine) foldReviews(reviews []forge.Review, outcome *models.ReviewOutcome) (approvals, blocking int) {
	latest := map[string]forge.Review{}
	for _, r := range reviews {
		if r.User == nil || r.User.Login == e.SelfLogin {
			continue
		}
		// COMMENTED reviews never supersede a verdict.
		if r.State != "APPROVED" && r.State != "CHANGES_REQUESTED" {
			continue
		}
		prev, ok := latest[r.User.Login]
		if !ok || prev.SubmittedAt == nil || (r.SubmittedAt != nil && r.SubmittedAt.After(*prev.SubmittedAt)) {
			latest[r.User.Login] = r
		}
	}

	for login, r := range latest {
		switch r.State {
		case "APPROVED":
			approvals++
		case "CHANGES_REQUESTED":
			blocking++
			outcome.Findings = append(outcome.Findings, models.Finding{
				Severity:    models.SeverityCritical,
				Category:    "review",
				Description: fmt.Sprintf("%s requested changes: %s", login, firstLine(r.Body)),
			})
		}
	}
	return approvals, blocking
}

// foldChecks emits a warning finding per failed check run.
func (e *Engine) foldChecks(checks []forge.CheckRun, outcome *models.ReviewOutcome) (failing int) {
	for _, c := range checks {
		if c.Status != "completed" {
			continue
		}
		switch c.Conclusion {
		case "failure", "timed_out", "cancelled":
			failing++
			outcome.Findings = append(outcome.Findings, models.Finding{
				Severity:    models.SeverityWarning,
				Category:    "ci",
				Description: fmt.Sprintf("check %q concluded %s", c.Name, c.Conclusion),
			})
		}
	}
	return failing
}

// foldComments emits an info finding per discussion comment from others.
func (e *Engine) foldComments(comments []forge.Comment, outcome *models.ReviewOutcome) {
	for _, c := range comments {
		if c.User == nil || c.User.Login == e.SelfLogin {
			continue
		}
		if strings.TrimSpace(c.Body) == "" {
			continue
		}
		outcome.Findings = append(outcome.Findings, models.Finding{
			Severity:    models.SeverityInfo,
			Category:    "discussion",
			Description: fmt.Sprintf("%s commented: %s", c.User.Login, firstLine(c.Body)),
		})
	}
}

// firstLine truncates a body to its first line for finding descriptions.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	if s == "" {
		s = "(no comment)"
	}
	return s
}
