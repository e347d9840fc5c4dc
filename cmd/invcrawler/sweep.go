package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"invcrawler/pkg/reconcile"
	"invcrawler/pkg/ui"
)

var sweepDryRun bool

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete item stacks no inventory references",
	Long: `Delete orphaned item stacks: stacks written by a crawl whose account was
never committed, because it went over quota or the process stopped between
the two writes. The crawl sweeps once after every run; this command is for
stores left behind by a crash.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "count orphans without deleting them")
	addStoreFlags(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cmd, crawlFlags(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	r := reconcile.New(a.store, a.cfg.Store.SweepBatch, a.log, a.metrics)
	if sweepDryRun {
		orphans, err := r.Orphans(ctx)
		if err != nil {
			return err
		}
		ui.PrintInfo("Orphaned item stacks", fmt.Sprintf("%d", len(orphans)))
		return nil
	}

	deleted, err := r.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed after %d deletions: %w", deleted, err)
	}
	ui.PrintSuccess(fmt.Sprintf("Deleted %d orphaned item stacks", deleted))
	return nil
}
