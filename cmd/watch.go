package cmd

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prflow/internal/models"
	"github.com/joescharf/prflow/internal/watch"
)

var watchInterval int

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously review open pull requests",
	Long: `Poll the configured repository for open pull requests and run the
review-and-merge workflow on each. Drafts and the reviewer's own PRs are
skipped; locks keep concurrent watchers from double-processing a PR.

Runs in the foreground until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchRun(cmd)
	},
}

func init() {
	watchCmd.Flags().IntVar(&watchInterval, "interval", 60, "Seconds between sweeps")
	rootCmd.AddCommand(watchCmd)
}

func watchRun(cmd *cobra.Command) error {
	owner, name, err := configuredRepo()
	if err != nil {
		return err
	}

	pf := watch.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "prflow.pid"))
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("watcher already running (pid %d)", pid)
	}
	if err := pf.Write(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = pf.Remove() }()

	client, err := getForge(owner, name)
	if err != nil {
		return err
	}
	o, err := getOrchestrator(client)
	if err != nil {
		return err
	}

	p := watch.New(client, o, owner+"/"+name)
	p.Interval = time.Duration(watchInterval) * time.Second
	p.Logf = ui.VerboseLog
	p.OnResult = func(result *models.WorkflowResult) {
		switch result.Status {
		case models.RunSkipped:
			ui.VerboseLog("%s skipped: %s", result.Target, result.Reason)
		case models.RunFailed:
			ui.Error("%s failed: %v", result.Target, result.Errors)
		default:
			ui.Success("%s completed: %v", result.Target, result.ActionsTaken)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ui.Info("Watching %s/%s every %ds", owner, name, watchInterval)
	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	ui.Info("Watcher stopped")
	return nil
}
