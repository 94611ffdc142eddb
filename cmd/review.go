package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/prflow/internal/models"
	"github.com/joescharf/prflow/internal/output"
	"github.com/joescharf/prflow/internal/workflow"
)

var (
	reviewRepo   string
	reviewAuthor string
)

var reviewCmd = &cobra.Command{
	Use:   "review <pr-number>",
	Short: "Review a pull request and execute the merge decision",
	Long: `Run the full review-and-merge workflow on one pull request:
acquire the review lock, gather findings from submitted reviews and CI
checks, apply the merge policy, and execute the decided action.

With --dry-run the decision is computed and printed but no forge-side
action is taken.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[0])
		if err != nil || number <= 0 {
			return fmt.Errorf("invalid pull request number: %s", args[0])
		}
		return reviewRun(cmd, number)
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewRepo, "repo", "", "Repository as owner/name (default from config)")
	reviewCmd.Flags().StringVar(&reviewAuthor, "author", "", "PR author login, if known (enables skipping own PRs without an API call)")
	rootCmd.AddCommand(reviewCmd)
}

func reviewRun(cmd *cobra.Command, number int) error {
	owner, name, err := resolveRepo(reviewRepo)
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

	target := models.ReviewTarget{Repo: owner + "/" + name, Number: number}
	ui.Info("Reviewing %s", target)

	result := o.Run(cmd.Context(), workflow.Request{
		Target:    target,
		Requester: "cli",
		Author:    reviewAuthor,
	})
	printResult(result)

	if result.Status == models.RunFailed {
		return fmt.Errorf("workflow failed for %s", target)
	}
	return nil
}

// resolveRepo picks the flag value over the configured repository.
func resolveRepo(flag string) (owner, name string, err error) {
	if flag != "" {
		return splitRepo(flag)
	}
	return configuredRepo()
}

func printResult(result *models.WorkflowResult) {
	switch result.Status {
	case models.RunSkipped:
		ui.Warning("Skipped: %s", result.Reason)
		return
	case models.RunFailed:
		ui.Error("Failed")
	default:
		ui.Success("Completed")
	}

	if result.Decision != nil {
		d := result.Decision
		fmt.Fprintf(ui.Out, "\n  Recommendation: %s\n", d.Recommendation)
		fmt.Fprintf(ui.Out, "  Action:         %s\n", output.ActionColor(string(d.Action)))
		fmt.Fprintf(ui.Out, "  Findings:       %d critical, %d warning, %d info\n",
			d.Counts.Critical, d.Counts.Warning, d.Counts.Info)
		for _, reason := range d.Reasoning {
			fmt.Fprintf(ui.Out, "  - %s\n", reason)
		}
	}

	if len(result.ActionsTaken) > 0 {
		fmt.Fprintln(ui.Out)
		for _, action := range result.ActionsTaken {
			ui.Success("%s", action)
		}
	}
	for _, e := range result.Errors {
		ui.Error("%s", e)
	}
}
