package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/joescharf/prflow/internal/forge"
	"github.com/joescharf/prflow/internal/models"
)

// Action executors. Each step's failure is appended to result.Errors and
// the executor carries on; one failed API call never aborts the run.

func (o *Orchestrator) step(result *models.WorkflowResult, action string, err error) {
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", action, err))
		return
	}
	result.ActionsTaken = append(result.ActionsTaken, action)
}

// skipDry records the would-be action when dry-run is on.
func (o *Orchestrator) skipDry(result *models.WorkflowResult, action string) bool {
	if !o.cfg.DryRun {
		return false
	}
	result.ActionsTaken = append(result.ActionsTaken, "would:"+action)
	return true
}

// executeConvertToDraft holds the change back: a changes-requested review
// with the reasoning, conversion to draft, and a request for human eyes.
func (o *Orchestrator) executeConvertToDraft(ctx context.Context, pr *forge.PullRequest, decision models.Decision, result *models.WorkflowResult) {
	body := reviewBody(decision, result.Outcome)

	if !o.skipDry(result, "request_changes") {
		o.step(result, "request_changes",
			o.forge.SubmitReview(ctx, pr.Number, forge.ReviewEventRequestChanges, body))
	}

	if pr.Draft {
		result.ActionsTaken = append(result.ActionsTaken, "already_draft")
	} else if !o.skipDry(result, "convert_to_draft") {
		o.step(result, "convert_to_draft", o.forge.ConvertToDraft(ctx, pr.NodeID))
	}

	if len(o.cfg.DefaultReviewers) > 0 && !o.skipDry(result, "request_reviewers") {
		o.step(result, "request_reviewers",
			o.forge.RequestReviewers(ctx, pr.Number, o.cfg.DefaultReviewers))
	}

	// Hand the change back to its author.
	if pr.User != nil && !o.skipDry(result, "assign_author") {
		o.step(result, "assign_author",
			o.forge.AddAssignees(ctx, pr.Number, []string{pr.User.Login}))
	}
}

// executeConflictOverride handles the merge-conflict redirect: explanatory
// comment, conflict label, and conversion to draft. The computed decision is
// bypassed entirely.
func (o *Orchestrator) executeConflictOverride(ctx context.Context, pr *forge.PullRequest, result *models.WorkflowResult) {
	result.ActionsTaken = append(result.ActionsTaken, "conflict_override")

	body := fmt.Sprintf("This pull request has merge conflicts with `%s` and was converted to draft. "+
		"Rebase or merge the base branch and mark it ready for review to re-trigger the workflow.", pr.Base.Ref)

	if !o.skipDry(result, "comment_conflicts") {
		_, err := o.forge.CreateComment(ctx, pr.Number, body)
		o.step(result, "comment_conflicts", err)
	}
	if !o.skipDry(result, "label:"+o.cfg.ConflictLabel) {
		o.step(result, "label:"+o.cfg.ConflictLabel,
			o.forge.AddLabels(ctx, pr.Number, o.cfg.ConflictLabel))
	}
	if pr.Draft {
		result.ActionsTaken = append(result.ActionsTaken, "already_draft")
	} else if !o.skipDry(result, "convert_to_draft") {
		o.step(result, "convert_to_draft", o.forge.ConvertToDraft(ctx, pr.NodeID))
	}
}

// executeMerge approves and merges the change.
func (o *Orchestrator) executeMerge(ctx context.Context, pr *forge.PullRequest, decision models.Decision, result *models.WorkflowResult) {
	body := reviewBody(decision, result.Outcome)

	if !o.skipDry(result, "approve") {
		o.step(result, "approve",
			o.forge.SubmitReview(ctx, pr.Number, forge.ReviewEventApprove, body))
	}

	if o.skipDry(result, "merge") {
		return
	}
	title := fmt.Sprintf("%s (#%d)", pr.Title, pr.Number)
	res, err := o.forge.MergePullRequest(ctx, pr.Number, o.cfg.MergeMethod, title)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("merge: %v", err))
		return
	}
	if !res.Merged {
		result.Errors = append(result.Errors, fmt.Sprintf("merge refused by forge: %s", res.Message))
		return
	}
	result.ActionsTaken = append(result.ActionsTaken, "merge:"+res.SHA)

	// A conflict label from a previous run is stale once merged.
	if err := o.forge.RemoveLabel(ctx, pr.Number, o.cfg.ConflictLabel); err != nil && o.Logf != nil {
		o.Logf("remove label %s: %v", o.cfg.ConflictLabel, err)
	}
}

// executeFileFollowUp opens a tracking issue for the findings that did not
// block the merge.
func (o *Orchestrator) executeFileFollowUp(ctx context.Context, pr *forge.PullRequest, result *models.WorkflowResult) {
	if o.skipDry(result, "file_follow_up") {
		return
	}

	title := fmt.Sprintf("Follow-up findings from #%d: %s", pr.Number, pr.Title)
	issue, err := o.forge.CreateIssue(ctx, title, followUpBody(pr, result.Outcome), []string{"follow-up", "code-review"})
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("file follow-up issue: %v", err))
		return
	}
	result.ActionsTaken = append(result.ActionsTaken, fmt.Sprintf("file_follow_up:#%d", issue.Number))
}

// reviewBody renders the decision and findings into a review comment.
func reviewBody(decision models.Decision, outcome *models.ReviewOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Automated review\n\n**Recommendation:** %s\n\n", decision.Recommendation)

	for _, reason := range decision.Reasoning {
		fmt.Fprintf(&b, "- %s\n", reason)
	}

	if outcome != nil && len(outcome.Findings) > 0 {
		b.WriteString("\n### Findings\n\n")
		writeFindings(&b, outcome.Findings)
	}
	if outcome != nil && outcome.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", outcome.Summary)
	}
	return b.String()
}

// followUpBody renders the non-blocking findings for a tracking issue.
func followUpBody(pr *forge.PullRequest, outcome *models.ReviewOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pull request #%d merged with open findings.\n\n", pr.Number)
	if outcome != nil {
		writeFindings(&b, outcome.Findings)
	}
	return b.String()
}

func writeFindings(b *strings.Builder, findings []models.Finding) {
	for _, f := range findings {
		loc := ""
		if f.File != "" {
			loc = " (" + f.File
			if f.Line > 0 {
				loc += fmt.Sprintf(":%d", f.Line)
			}
			loc += ")"
		}
		fmt.Fprintf(b, "- **%s** [%s] %s%s\n", f.Severity, f.Category, f.Description, loc)
	}
}
