package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/prflow/internal/models"
	"github.com/joescharf/prflow/internal/output"
	"github.com/joescharf/prflow/internal/store"
)

var (
	historyRepo   string
	historyNumber int
	historyStatus string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded workflow runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun(cmd)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyRepo, "repo", "", "Filter by repository (owner/name)")
	historyCmd.Flags().IntVar(&historyNumber, "pr", 0, "Filter by pull request number")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status: skipped, completed, failed")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to show")
	rootCmd.AddCommand(historyCmd)
}

func historyRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	runs, err := s.ListRuns(cmd.Context(), store.RunListFilter{
		Repo:   historyRepo,
		Number: historyNumber,
		Status: models.RunStatus(historyStatus),
		Limit:  historyLimit,
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No recorded runs")
		return nil
	}

	table := ui.Table([]string{"When", "Target", "Status", "Action", "Actions", "Errors"})
	for _, r := range runs {
		detail := strings.Join(r.ActionsTaken, ", ")
		if r.Status == models.RunSkipped {
			detail = r.Reason
		}
		table.Append([]string{
			r.StartedAt.Local().Format(time.RFC3339),
			r.Target().String(),
			output.RunStatusColor(string(r.Status)),
			output.ActionColor(string(r.Action)),
			detail,
			fmt.Sprintf("%d", len(r.Errors)),
		})
	}
	return table.Render()
}
