package models

// Severity classifies how serious a review finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Finding is a single issue surfaced by content-level review.
type Finding struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"` // 0 = not line-specific
}

// ReviewOutcome is the result of one review pass over a target.
type ReviewOutcome struct {
	Approved bool      `json:"approved"`
	Findings []Finding `json:"findings"`
	Summary  string    `json:"summary"`
}

// CountBySeverity tallies findings into per-severity counts.
func (o *ReviewOutcome) CountBySeverity() SeverityCounts {
	var c SeverityCounts
	for _, f := range o.Findings {
		switch f.Severity {
		case SeverityCritical:
			c.Critical++
		case SeverityWarning:
			c.Warning++
		case SeverityInfo:
			c.Info++
		}
	}
	return c
}
