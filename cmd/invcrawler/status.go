package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"invcrawler/pkg/checkpoint"
	"invcrawler/pkg/store"
	"invcrawler/pkg/ui"
)

var statusJSON bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store totals and the last run",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print machine-readable JSON")
	addStoreFlags(statusCmd)
}

// statusReport is the JSON shape of the status command
type statusReport struct {
	Store   *store.Stats         `json:"store"`
	LastRun *checkpoint.RunState `json:"last_run,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cmd, crawlFlags(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read store stats: %w", err)
	}

	var last *checkpoint.RunState
	if m, err := checkpoint.NewManager(a.cfg.Crawl.StateDir, a.log); err == nil {
		if last, err = m.Load(); err != nil {
			a.log.WithError(err).Warn("Failed to read last run state")
		}
	}

	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statusReport{Store: stats, LastRun: last})
	}

	ui.PrintHighlight("Store")
	ui.PrintInfo("  Accounts", fmt.Sprintf("%d (%d claimed)", stats.Accounts, stats.Claimed))
	ui.PrintInfo("  Mapped", fmt.Sprintf("%d (%d with inventory)", stats.Mapped, stats.MappedWithInventory))
	ui.PrintInfo("  Item types", fmt.Sprintf("%d", stats.ItemTypes))
	ui.PrintInfo("  Item stacks", fmt.Sprintf("%d", stats.ItemStacks))
	ui.PrintInfo("  Stickers", fmt.Sprintf("%d", stats.Stickers))

	if last == nil {
		ui.PrintInfo("Last run", "none recorded")
		return nil
	}

	ui.PrintHighlight("Last run")
	ui.PrintInfo("  Run", last.RunID.String())
	ui.PrintInfo("  Started", last.StartedAt.Format(time.DateTime))
	if last.Finished() {
		ui.PrintInfo("  Stopped", fmt.Sprintf("%s after %s", last.StopReason, last.Duration().Round(time.Second)))
	} else {
		ui.PrintWarning("  Run did not finish cleanly")
	}
	ui.PrintInfo("  Mapped", fmt.Sprintf("%d/%d (%d this run)", last.Mapped, last.Target, last.MappedThisRun))
	ui.PrintInfo("  Empty", fmt.Sprintf("%d", last.Empty))
	ui.PrintInfo("  Discarded", fmt.Sprintf("%d", last.Discarded))
	ui.PrintInfo("  Failed", fmt.Sprintf("%d", last.Failed))
	ui.PrintInfo("  Orphans swept", fmt.Sprintf("%d", last.OrphansDeleted))
	if last.Error != "" {
		ui.PrintError("  Error", last.Error)
	}
	return nil
}
