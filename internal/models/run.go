package models

import "time"

// WorkflowRun is the persisted record of one orchestrator run.
type WorkflowRun struct {
	ID             string
	Repo           string
	Number         int
	Requester      string
	Status         RunStatus
	Reason         string
	Recommendation Recommendation
	Action         Action
	ActionsTaken   []string
	Errors         []string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Target reconstructs the ReviewTarget this run processed.
func (r *WorkflowRun) Target() ReviewTarget {
	return ReviewTarget{Repo: r.Repo, Number: r.Number}
}
