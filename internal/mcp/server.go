// Package mcp exposes the review workflow over the Model Context Protocol
// so coding agents can trigger runs and inspect state.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/prflow/internal/lock"
	"github.com/joescharf/prflow/internal/models"
	"github.com/joescharf/prflow/internal/store"
	"github.com/joescharf/prflow/internal/workflow"
)

// Runner triggers one workflow run. Satisfied by workflow.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req workflow.Request) *models.WorkflowResult
}

// LockManager is the lock inspection surface the server needs.
type LockManager interface {
	List() ([]lock.Info, error)
	CleanupStale() (int, error)
}

// RunHistory is the store subset used by the history tool.
type RunHistory interface {
	ListRuns(ctx context.Context, filter store.RunListFilter) ([]*models.WorkflowRun, error)
}

// Server wraps the workflow layer and exposes it as MCP tools.
type Server struct {
	runner  Runner
	locks   LockManager
	history RunHistory
	repo    string
}

// NewServer creates the MCP server wrapper. history may be nil when run
// recording is disabled.
func NewServer(runner Runner, locks LockManager, history RunHistory, repo string) *Server {
	return &Server{runner: runner, locks: locks, history: history, repo: repo}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("prflow", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.reviewRunTool())
	srv.AddTool(s.listLocksTool())
	srv.AddTool(s.cleanupLocksTool())
	srv.AddTool(s.runHistoryTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// pr_review_run
func (s *Server) reviewRunTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pr_review_run",
		mcp.WithDescription("Run the review-and-merge workflow on a pull request. Returns the structured result: status (skipped/completed/failed), decision, actions taken, and any errors."),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Pull request number")),
		mcp.WithString("repo", mcp.Description("Repository as owner/name; defaults to the configured repository")),
		mcp.WithString("author", mcp.Description("PR author login when already known; enables the self-review skip without an API call")),
	)
	return tool, s.handleReviewRun
}

func (s *Server) handleReviewRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number, err := request.RequireInt("number")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: number"), nil
	}
	repo := request.GetString("repo", s.repo)

	result := s.runner.Run(ctx, workflow.Request{
		Target:    models.ReviewTarget{Repo: repo, Number: number},
		Requester: "mcp",
		Author:    request.GetString("author", ""),
	})

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// pr_list_locks
func (s *Server) listLocksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pr_list_locks",
		mcp.WithDescription("List review locks currently held, with holder and age."),
	)
	return tool, s.handleListLocks
}

func (s *Server) handleListLocks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	locks, err := s.locks.List()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list locks: %v", err)), nil
	}

	type lockOut struct {
		Name       string `json:"name"`
		Requester  string `json:"requester"`
		AcquiredAt string `json:"acquired_at"`
		AgeSeconds int    `json:"age_seconds"`
	}

	out := make([]lockOut, len(locks))
	for i, l := range locks {
		out[i] = lockOut{
			Name:       l.Name,
			Requester:  l.Requester,
			AcquiredAt: l.AcquiredAt.UTC().Format(time.RFC3339),
			AgeSeconds: int(l.Age.Seconds()),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal locks: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// pr_cleanup_locks
func (s *Server) cleanupLocksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pr_cleanup_locks",
		mcp.WithDescription("Remove review locks older than the configured TTL. Returns the number removed."),
	)
	return tool, s.handleCleanupLocks
}

func (s *Server) handleCleanupLocks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	removed, err := s.locks.CleanupStale()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to clean up locks: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"removed":%d}`, removed)), nil
}

// pr_run_history
func (s *Server) runHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pr_run_history",
		mcp.WithDescription("List recorded workflow runs, newest first. Optional filters by repo, PR number, and status."),
		mcp.WithString("repo", mcp.Description("Filter by repository (owner/name)")),
		mcp.WithNumber("number", mcp.Description("Filter by pull request number")),
		mcp.WithString("status", mcp.Description("Filter by run status: skipped, completed, or failed")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
	)
	return tool, s.handleRunHistory
}

func (s *Server) handleRunHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return mcp.NewToolResultError("run history is not enabled"), nil
	}

	filter := store.RunListFilter{
		Repo:   request.GetString("repo", ""),
		Number: request.GetInt("number", 0),
		Status: models.RunStatus(request.GetString("status", "")),
		Limit:  request.GetInt("limit", 20),
	}

	runs, err := s.history.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	type runOut struct {
		ID             string   `json:"id"`
		Repo           string   `json:"repo"`
		Number         int      `json:"number"`
		Status         string   `json:"status"`
		Reason         string   `json:"reason,omitempty"`
		Recommendation string   `json:"recommendation,omitempty"`
		Action         string   `json:"action,omitempty"`
		ActionsTaken   []string `json:"actions_taken,omitempty"`
		Errors         []string `json:"errors,omitempty"`
		StartedAt      string   `json:"started_at"`
	}

	out := make([]runOut, len(runs))
	for i, r := range runs {
		out[i] = runOut{
			ID:             r.ID,
			Repo:           r.Repo,
			Number:         r.Number,
			Status:         string(r.Status),
			Reason:         r.Reason,
			Recommendation: string(r.Recommendation),
			Action:         string(r.Action),
			ActionsTaken:   r.ActionsTaken,
			Errors:         r.Errors,
			StartedAt:      r.StartedAt.UTC().Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal runs: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
