package models

import (
	"fmt"
	"strings"
)

// ReviewTarget identifies a single pull request under consideration.
// It is the unit of mutual exclusion: one lock artifact per target.
type ReviewTarget struct {
	Repo   string // "owner/name"
	Number int
}

// String returns the canonical "owner/name#number" form.
func (t ReviewTarget) String() string {
	return fmt.Sprintf("%s#%d", t.Repo, t.Number)
}

// LockKey returns a filesystem-safe name for the target's lock artifact.
// Path separators in the repo identifier are normalized to dashes.
func (t ReviewTarget) LockKey() string {
	repo := strings.ReplaceAll(t.Repo, "/", "-")
	repo = strings.ReplaceAll(repo, `\`, "-")
	return fmt.Sprintf("%s-pr-%d.lock", repo, t.Number)
}
