// Package forge provides a rate-limit-aware client for GitHub-compatible
// REST APIs.
//
// The client owns retry and backoff behavior: 429 and quota-exhausted 403
// responses are retried after the server-mandated wait, 5xx and transport
// failures are retried with exponential backoff, and rate-limit headers are
// recorded on every response. Exhausting retries returns the last observed
// status with a nil body rather than an error, so callers branch on status.
package forge

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the maximum number of retries per request.
	DefaultMaxRetries = 3

	// DefaultBackoff is the base delay for exponential backoff on
	// transient failures.
	DefaultBackoff = 5 * time.Second

	// DefaultWarnThreshold is the remaining-quota level below which the
	// client emits a warning event.
	DefaultWarnThreshold = 10

	// resetBuffer is added to the quota reset time before retrying, so a
	// retry never lands just ahead of the actual reset.
	resetBuffer = 2 * time.Second
)

// ErrPermissionDenied marks a 403 response that is not rate limiting.
// It is not retryable.
var ErrPermissionDenied = errors.New("permission denied")

// RateLimitState is the quota snapshot read from the most recent response.
// It is never persisted across process restarts.
type RateLimitState struct {
	Remaining int
	Reset     time.Time
}

// Client provides rate-limit-aware access to a forge's REST API.
type Client struct {
	Token      string
	Owner      string
	Repo       string
	BaseURL    string
	HTTPClient *http.Client

	MaxRetries    int
	Backoff       time.Duration
	WarnThreshold int

	// WarnFunc receives warning-level events (low remaining quota).
	// Nil disables warnings.
	WarnFunc func(format string, args ...any)

	mu        sync.Mutex
	rateLimit RateLimitState
}

// User is a forge account.
type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
}

// Label is a repository label attached to an issue or pull request.
type Label struct {
	Name string `json:"name"`
}

// Ref is one side of a pull request (head or base).
type Ref struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// PullRequest is a pull request as returned by the forge.
type PullRequest struct {
	Number         int     `json:"number"`
	NodeID         string  `json:"node_id"`
	Title          string  `json:"title"`
	Body           string  `json:"body"`
	State          string  `json:"state"` // "open" or "closed"
	Draft          bool    `json:"draft"`
	Merged         bool    `json:"merged"`
	Mergeable      *bool   `json:"mergeable"` // nil while the forge computes it
	MergeableState string  `json:"mergeable_state,omitempty"`
	User           *User   `json:"user,omitempty"`
	Head           Ref     `json:"head"`
	Base           Ref     `json:"base"`
	Labels         []Label `json:"labels,omitempty"`
	HTMLURL        string  `json:"html_url"`
}

// HasConflicts reports whether the forge has marked the PR unmergeable.
// A nil Mergeable field means the forge is still computing mergeability
// and is treated as not conflicted.
func (pr *PullRequest) HasConflicts() bool {
	if pr.Mergeable != nil && !*pr.Mergeable {
		return true
	}
	return pr.MergeableState == "dirty"
}

// PullFile is one changed file in a pull request.
type PullFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"` // added, modified, removed, renamed
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// Comment is an issue or pull request comment.
type Comment struct {
	ID   int    `json:"id"`
	Body string `json:"body"`
	User *User  `json:"user,omitempty"`
}

// Review is a submitted pull request review.
type Review struct {
	ID          int        `json:"id"`
	State       string     `json:"state"` // APPROVED, CHANGES_REQUESTED, COMMENTED
	Body        string     `json:"body"`
	User        *User      `json:"user,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// CheckRun is a single CI check run on a commit.
type CheckRun struct {
	Name       string `json:"name"`
	Status     string `json:"status"`     // queued, in_progress, completed
	Conclusion string `json:"conclusion"` // success, failure, neutral, ...
}

// Issue is a forge issue (used for filed follow-ups).
type Issue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
}

// MergeResult is the forge's response to a merge request.
type MergeResult struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// Review event values accepted by SubmitReview.
const (
	ReviewEventApprove        = "APPROVE"
	ReviewEventRequestChanges = "REQUEST_CHANGES"
	ReviewEventComment        = "COMMENT"
)

// Merge methods accepted by MergePullRequest.
const (
	MergeMethodMerge  = "merge"
	MergeMethodSquash = "squash"
	MergeMethodRebase = "rebase"
)
