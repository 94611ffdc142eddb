// Package watch runs the review workflow continuously: it polls the forge
// for open pull requests and feeds each one through the orchestrator. The
// workflow's own guards (self-review, locks, skip reasons) make repeated
// sweeps over the same PR harmless.
package watch

import (
	"context"
	"time"

	"github.com/joescharf/prflow/internal/forge"
	"github.com/joescharf/prflow/internal/models"
	"github.com/joescharf/prflow/internal/workflow"
)

// DefaultInterval is the default time between sweeps.
const DefaultInterval = 60 * time.Second

// Forge is the listing subset of the forge client the poller needs.
type Forge interface {
	ListPullRequests(ctx context.Context, state string) ([]forge.PullRequest, error)
}

// Runner triggers one workflow run. Satisfied by workflow.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req workflow.Request) *models.WorkflowResult
}

// Poller sweeps open pull requests through the workflow on an interval.
type Poller struct {
	forge  Forge
	runner Runner

	// Repo is the owner/name the swept targets belong to.
	Repo string

	// Interval between sweeps; non-positive falls back to DefaultInterval.
	Interval time.Duration

	// Logf receives sweep traces. Nil disables tracing.
	Logf func(format string, args ...any)

	// OnResult is invoked after each run when set.
	OnResult func(result *models.WorkflowResult)
}

// New creates a poller for the given repository.
func New(f Forge, r Runner, repo string) *Poller {
	return &Poller{forge: f, runner: r, Repo: repo, Interval: DefaultInterval}
}

// Run sweeps immediately, then on every interval tick until ctx is
// cancelled. It returns ctx.Err() on shutdown.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	p.Sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs the workflow once over every open, non-draft pull request.
// Listing failures are logged and the sweep is retried on the next tick.
func (p *Poller) Sweep(ctx context.Context) {
	prs, err := p.forge.ListPullRequests(ctx, "open")
	if err != nil {
		if p.Logf != nil {
			p.Logf("sweep: list open PRs: %v", err)
		}
		return
	}

	for _, pr := range prs {
		if ctx.Err() != nil {
			return
		}
		// Drafts are by definition not ready for review.
		if pr.Draft {
			continue
		}

		req := workflow.Request{
			Target:    models.ReviewTarget{Repo: p.Repo, Number: pr.Number},
			Requester: "watch",
		}
		if pr.User != nil {
			req.Author = pr.User.Login
		}

		result := p.runner.Run(ctx, req)
		if p.OnResult != nil {
			p.OnResult(result)
		}
	}
}
