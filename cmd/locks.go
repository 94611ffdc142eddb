package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List or clean up review locks",
	Long: `Inspect the review locks held on the lock directory.

Running bare 'prflow locks' is the same as 'prflow locks list'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return locksListRun()
	},
}

var locksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List currently held review locks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return locksListRun()
	},
}

var locksCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove locks older than the configured TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		return locksCleanupRun()
	},
}

func init() {
	locksCmd.AddCommand(locksListCmd)
	locksCmd.AddCommand(locksCleanupCmd)
	rootCmd.AddCommand(locksCmd)
}

func locksListRun() error {
	fileLock, err := getLock()
	if err != nil {
		return err
	}

	locks, err := fileLock.List()
	if err != nil {
		return err
	}
	if len(locks) == 0 {
		ui.Info("No review locks held")
		return nil
	}

	table := ui.Table([]string{"Lock", "Holder", "Acquired", "Age"})
	for _, l := range locks {
		table.Append([]string{
			l.Name,
			l.Requester,
			l.AcquiredAt.Local().Format(time.RFC3339),
			l.Age.Round(time.Second).String(),
		})
	}
	return table.Render()
}

func locksCleanupRun() error {
	fileLock, err := getLock()
	if err != nil {
		return err
	}

	if dryRun {
		locks, err := fileLock.List()
		if err != nil {
			return err
		}
		stale := 0
		for _, l := range locks {
			if l.Age > fileLock.TTL {
				stale++
			}
		}
		ui.DryRunMsg("Would remove %d stale lock(s)", stale)
		return nil
	}

	removed, err := fileLock.CleanupStale()
	if err != nil {
		return err
	}
	ui.Success("Removed %d stale lock(s)", removed)
	if removed == 0 {
		fmt.Fprintln(ui.Out, "  (locks within TTL are left in place)")
	}
	return nil
}
