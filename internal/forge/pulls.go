package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// prPath returns the pulls API path for a PR number.
func (c *Client) prPath(number int) string {
	return "/repos/" + c.repoPath() + "/pulls/" + strconv.Itoa(number)
}

// issuePath returns the issues API path for an issue/PR number.
// Comments, labels, and assignees live on the issues side of the API.
func (c *Client) issuePath(number int) string {
	return "/repos/" + c.repoPath() + "/issues/" + strconv.Itoa(number)
}

// apiError formats a non-2xx response into an error.
func apiError(op string, status int, body []byte) error {
	return fmt.Errorf("%s: API error (status %d): %s", op, status, string(body))
}

// GetPullRequest fetches a pull request, including mergeability state.
func (c *Client) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	status, body, err := c.Do(ctx, http.MethodGet, c.buildURL(c.prPath(number), nil), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch PR #%d: %w", number, err)
	}
	if status < 200 || status >= 300 {
		return nil, apiError(fmt.Sprintf("fetch PR #%d", number), status, body)
	}

	var pr PullRequest
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("parse PR response: %w", err)
	}
	return &pr, nil
}

// ListPullRequests fetches pull requests in the given state
// ("open", "closed", or "all"), newest first.
func (c *Client) ListPullRequests(ctx context.Context, state string) ([]PullRequest, error) {
	if state == "" {
		state = "open"
	}
	params := map[string]string{"state": state, "per_page": "100", "sort": "created", "direction": "desc"}
	status, body, err := c.Do(ctx, http.MethodGet, c.buildURL("/repos/"+c.repoPath()+"/pulls", params), nil)
	if err != nil {
		return nil, fmt.Errorf("list PRs: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, apiError("list PRs", status, body)
	}

	var prs []PullRequest
	if err := json.Unmarshal(body, &prs); err != nil {
		return nil, fmt.Errorf("parse PR list response: %w", err)
	}
	return prs, nil
}

// ListFiles fetches the changed files of a pull request.
func (c *Client) ListFiles(ctx context.Context, number int) ([]PullFile, error) {
	params := map[string]string{"per_page": "100"}
	status, body, err := c.Do(ctx, http.MethodGet, c.buildURL(c.prPath(number)+"/files", params), nil)
	if err != nil {
		return nil, fmt.Errorf("list PR files: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, apiError("list PR files", status, body)
	}

	var files []PullFile
	if err := json.Unmarshal(body, &files); err != nil {
		return nil, fmt.Errorf("parse files response: %w", err)
	}
	return files, nil
}

// ListComments fetches issue comments on a pull request.
func (c *Client) ListComments(ctx context.Context, number int) ([]Comment, error) {
	params := map[string]string{"per_page": "100"}
	status, body, err := c.Do(ctx, http.MethodGet, c.buildURL(c.issuePath(number)+"/comments", params), nil)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, apiError("list comments", status, body)
	}

	var comments []Comment
	if err := json.Unmarshal(body, &comments); err != nil {
		return nil, fmt.Errorf("parse comments response: %w", err)
	}
	return comments, nil
}

// CreateComment posts a comment on a pull request.
func (c *Client) CreateComment(ctx context.Context, number int, body string) (*Comment, error) {
	req := map[string]string{"body": body}
	status, respBody, err := c.Do(ctx, http.MethodPost, c.buildURL(c.issuePath(number)+"/comments", nil), req)
	if err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, apiError("create comment", status, respBody)
	}

	var comment Comment
	if err := json.Unmarshal(respBody, &comment); err != nil {
		return nil, fmt.Errorf("parse comment response: %w", err)
	}
	return &comment, nil
}

// ListReviews fetches submitted reviews on a pull request, oldest first.
func (c *Client) ListReviews(ctx context.Context, number int) ([]Review, error) {
	params := map[string]string{"per_page": "100"}
	status, body, err := c.Do(ctx, http.MethodGet, c.buildURL(c.prPath(number)+"/reviews", params), nil)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, apiError("list reviews", status, body)
	}

	var reviews []Review
	if err := json.Unmarshal(body, &reviews); err != nil {
		return nil, fmt.Errorf("parse reviews response: %w", err)
	}
	return reviews, nil
}

// SubmitReview submits a review with the given event
// (APPROVE, REQUEST_CHANGES, or COMMENT).
func (c *Client) SubmitReview(ctx context.Context, number int, event, body string) error {
	req := map[string]string{"event": event, "body": body}
	status, respBody, err := c.Do(ctx, http.MethodPost, c.buildURL(c.prPath(number)+"/reviews", nil), req)
	if err != nil {
		return fmt.Errorf("submit review: %w", err)
	}
	if status < 200 || status >= 300 {
		return apiError("submit review", status, respBody)
	}
	return nil
}

// AddLabels attaches labels to a pull request.
func (c *Client) AddLabels(ctx context.Context, number int, labels ...string) error {
	req := map[string][]string{"labels": labels}
	status, respBody, err := c.Do(ctx, http.MethodPost, c.buildURL(c.issuePath(number)+"/labels", nil), req)
	if err != nil {
		return fmt.Errorf("add labels: %w", err)
	}
	if status < 200 || status >= 300 {
		return apiError("add labels", status, respBody)
	}
	return nil
}

// RemoveLabel detaches a single label. A 404 means the label was not
// present, which is not an error for our purposes.
func (c *Client) RemoveLabel(ctx context.Context, number int, label string) error {
	status, respBody, err := c.Do(ctx, http.MethodDelete, c.buildURL(c.issuePath(number)+"/labels/"+label, nil), nil)
	if err != nil {
		return fmt.Errorf("remove label: %w", err)
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status < 200 || status >= 300 {
		return apiError("remove label", status, respBody)
	}
	return nil
}

// RequestReviewers asks the given users to review a pull request.
func (c *Client) RequestReviewers(ctx context.Context, number int, reviewers []string) error {
	if len(reviewers) == 0 {
		return nil
	}
	req := map[string][]string{"reviewers": reviewers}
	status, respBody, err := c.Do(ctx, http.MethodPost, c.buildURL(c.prPath(number)+"/requested_reviewers", nil), req)
	if err != nil {
		return fmt.Errorf("request reviewers: %w", err)
	}
	if status < 200 || status >= 300 {
		return apiError("request reviewers", status, respBody)
	}
	return nil
}

// AddAssignees sets assignees on a pull request.
func (c *Client) AddAssignees(ctx context.Context, number int, assignees []string) error {
	if len(assignees) == 0 {
		return nil
	}
	req := map[string][]string{"assignees": assignees}
	status, respBody, err := c.Do(ctx, http.MethodPost, c.buildURL(c.issuePath(number)+"/assignees", nil), req)
	if err != nil {
		return fmt.Errorf("add assignees: %w", err)
	}
	if status < 200 || status >= 300 {
		return apiError("add assignees", status, respBody)
	}
	return nil
}

// convertToDraftMutation is the GraphQL mutation for draft conversion.
// The REST API has no draft toggle, so this is the one GraphQL call the
// client makes; it goes through the same rate-limited Do path.
const convertToDraftMutation = `mutation($id: ID!) { convertPullRequestToDraft(input: {pullRequestId: $id}) { pullRequest { isDraft } } }`

// ConvertToDraft converts a pull request to draft state. nodeID is the
// PR's GraphQL node ID from GetPullRequest.
func (c *Client) ConvertToDraft(ctx context.Context, nodeID string) error {
	req := map[string]any{
		"query":     convertToDraftMutation,
		"variables": map[string]string{"id": nodeID},
	}
	status, respBody, err := c.Do(ctx, http.MethodPost, c.buildURL("/graphql", nil), req)
	if err != nil {
		return fmt.Errorf("convert to draft: %w", err)
	}
	if status < 200 || status >= 300 {
		return apiError("convert to draft", status, respBody)
	}

	// GraphQL reports errors in a 200 body.
	var parsed struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &parsed); err == nil && len(parsed.Errors) > 0 {
		return fmt.Errorf("convert to draft: %s", parsed.Errors[0].Message)
	}
	return nil
}

// MergePullRequest merges a pull request using the given method
// (merge, squash, or rebase).
func (c *Client) MergePullRequest(ctx context.Context, number int, method, commitTitle string) (*MergeResult, error) {
	req := map[string]string{"merge_method": method}
	if commitTitle != "" {
		req["commit_title"] = commitTitle
	}
	status, respBody, err := c.Do(ctx, http.MethodPut, c.buildURL(c.prPath(number)+"/merge", nil), req)
	if err != nil {
		return nil, fmt.Errorf("merge PR #%d: %w", number, err)
	}
	if status < 200 || status >= 300 {
		return nil, apiError(fmt.Sprintf("merge PR #%d", number), status, respBody)
	}

	var result MergeResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse merge response: %w", err)
	}
	return &result, nil
}

// CreateIssue files a new issue, used for follow-up tracking tickets.
func (c *Client) CreateIssue(ctx context.Context, title, body string, labels []string) (*Issue, error) {
	req := map[string]any{"title": title, "body": body}
	if len(labels) > 0 {
		req["labels"] = labels
	}
	status, respBody, err := c.Do(ctx, http.MethodPost, c.buildURL("/repos/"+c.repoPath()+"/issues", nil), req)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, apiError("create issue", status, respBody)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("parse issue response: %w", err)
	}
	return &issue, nil
}

// ListCheckRuns fetches CI check runs for a commit ref.
func (c *Client) ListCheckRuns(ctx context.Context, ref string) ([]CheckRun, error) {
	params := map[string]string{"per_page": "100"}
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/commits/"+ref+"/check-runs", params)
	status, body, err := c.Do(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("list check runs: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, apiError("list check runs", status, body)
	}

	var parsed struct {
		CheckRuns []CheckRun `json:"check_runs"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse check runs response: %w", err)
	}
	return parsed.CheckRuns, nil
}
