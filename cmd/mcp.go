package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/prflow/internal/mcp"
	"github.com/joescharf/prflow/internal/store"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for coding agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets a coding agent trigger review runs and inspect locks and run
history natively. Configure with:

  {
    "mcpServers": {
      "prflow": { "command": "prflow", "args": ["mcp"] }
    }
  }

Available tools: pr_review_run, pr_list_locks, pr_cleanup_locks,
pr_run_history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoFlag, _ := cmd.Flags().GetString("repo")
		owner, name, err := resolveRepo(repoFlag)
		if err != nil {
			return err
		}

		client, err := getForge(owner, name)
		if err != nil {
			return err
		}
		o, err := getOrchestrator(client)
		if err != nil {
			return err
		}

		fileLock, err := getLock()
		if err != nil {
			return err
		}

		var history store.Store
		if s, err := getStore(); err == nil {
			history = s
		}

		srv := mcp.NewServer(o, fileLock, history, owner+"/"+name)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	mcpCmd.Flags().String("repo", "", "Repository as owner/name (default from config)")
	rootCmd.AddCommand(mcpCmd)
}
