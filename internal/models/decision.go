package models

// Recommendation is the top-level merge verdict.
type Recommendation string

const (
	RecommendAutoMerge  Recommendation = "auto_merge"
	RecommendDoNotMerge Recommendation = "do_not_merge"
)

// Action is the concrete step the orchestrator should execute.
type Action string

const (
	ActionConvertToDraft    Action = "convert_to_draft"
	ActionMergeOnly         Action = "merge_only"
	ActionMergeAndFileIssue Action = "merge_and_file_issue"
)

// SeverityCounts holds per-severity finding totals.
type SeverityCounts struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

// Total returns the combined finding count.
func (c SeverityCounts) Total() int {
	return c.Critical + c.Warning + c.Info
}

// Decision is the deterministic output of the merge policy for one outcome.
// It is derived, never persisted as-is; the run history stores a projection.
type Decision struct {
	Recommendation Recommendation `json:"recommendation"`
	Action         Action         `json:"action"`
	Reasoning      []string       `json:"reasoning"`
	Counts         SeverityCounts `json:"counts"`
}
