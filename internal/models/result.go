package models

// RunStatus tags the terminal state of a workflow run.
type RunStatus string

const (
	RunSkipped   RunStatus = "skipped"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// WorkflowResult is the structured outcome of Orchestrator.Run. The Status
// tag tells callers which of the optional fields are meaningful:
//
//	skipped:   Reason set, nothing else
//	completed: Outcome, Decision, ActionsTaken set; Errors may list
//	           non-fatal action failures
//	failed:    Errors non-empty; Outcome/Decision set as far as the run got
//
// The orchestrator always returns a result, never an error, so callers
// branch on Status instead of on exceptions.
type WorkflowResult struct {
	Target       ReviewTarget   `json:"target"`
	Status       RunStatus      `json:"status"`
	Reason       string         `json:"reason,omitempty"`
	Outcome      *ReviewOutcome `json:"outcome,omitempty"`
	Decision     *Decision      `json:"decision,omitempty"`
	ActionsTaken []string       `json:"actions_taken,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
}

// Skipped reports whether the run terminated without doing any work.
func (r *WorkflowResult) Skipped() bool {
	return r.Status == RunSkipped
}

// SkippedResult builds a skip result for the given target.
func SkippedResult(target ReviewTarget, reason string) *WorkflowResult {
	return &WorkflowResult{Target: target, Status: RunSkipped, Reason: reason}
}
