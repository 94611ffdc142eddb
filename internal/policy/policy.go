// Package policy maps a review outcome to a merge decision.
package policy

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/joescharf/prflow/internal/models"
)

// Thresholds for the finding-count rules.
const (
	// maxWarningsForMerge is the warning count above which an approved
	// change still merges but gets a follow-up issue.
	maxWarningsForMerge = 5

	// maxMinorForCleanMerge is the combined warning+info count up to
	// which an approved change merges without a follow-up issue.
	maxMinorForCleanMerge = 2
)

// Policy holds the configuration gates applied ahead of the severity rules.
type Policy struct {
	// AutoMergeOnApproval enables merging at all. When false, every
	// outcome holds the change in draft regardless of findings.
	AutoMergeOnApproval bool

	// MergeWithMinorFindings allows merging an approved change that
	// still carries warnings or info findings. When false, any finding
	// holds the change in draft.
	MergeWithMinorFindings bool
}

// Default returns the policy configured via viper, with merging enabled
// when the keys are unset.
func Default() Policy {
	p := Policy{AutoMergeOnApproval: true, MergeWithMinorFindings: true}
	if viper.IsSet("merge.auto_merge_on_approval") {
		p.AutoMergeOnApproval = viper.GetBool("merge.auto_merge_on_approval")
	}
	if viper.IsSet("merge.merge_with_minor_findings") {
		p.MergeWithMinorFindings = viper.GetBool("merge.merge_with_minor_findings")
	}
	return p
}

// Decide maps a review outcome to a merge decision. It is pure and total:
// identical outcomes always produce identical decisions, and every outcome
// matches a rule. First matching rule wins; reasons are informational only
// and never affect branching.
func (p Policy) Decide(outcome *models.ReviewOutcome) models.Decision {
	counts := outcome.CountBySeverity()
	d := models.Decision{Counts: counts}
	minor := counts.Warning + counts.Info

	hold := func(reason string) models.Decision {
		d.Recommendation = models.RecommendDoNotMerge
		d.Action = models.ActionConvertToDraft
		d.Reasoning = append(d.Reasoning, reason)
		return d
	}
	merge := func(action models.Action, reason string) models.Decision {
		d.Recommendation = models.RecommendAutoMerge
		d.Action = action
		d.Reasoning = append(d.Reasoning, reason)
		return d
	}

	switch {
	case !outcome.Approved:
		return hold("review did not approve the change")

	case counts.Critical > 0:
		// An approved outcome with critical findings is inconsistent
		// input; safety wins over the approval flag.
		return hold(fmt.Sprintf("%d critical finding(s) override the approval", counts.Critical))

	case !p.AutoMergeOnApproval:
		return hold("auto-merge on approval is disabled by configuration")

	case minor > 0 && !p.MergeWithMinorFindings:
		return hold(fmt.Sprintf("%d minor finding(s) and merging with findings is disabled", minor))

	case counts.Warning > maxWarningsForMerge:
		return merge(models.ActionMergeAndFileIssue,
			fmt.Sprintf("approved with %d warnings (> %d): merge and file a follow-up issue", counts.Warning, maxWarningsForMerge))

	case minor > 0:
		if minor <= maxMinorForCleanMerge {
			return merge(models.ActionMergeOnly,
				fmt.Sprintf("approved with %d minor finding(s) (<= %d): merge directly", minor, maxMinorForCleanMerge))
		}
		return merge(models.ActionMergeAndFileIssue,
			fmt.Sprintf("approved with %d minor findings: merge and file a follow-up issue", minor))

	default:
		return merge(models.ActionMergeOnly, "approved with no findings: merge directly")
	}
}
