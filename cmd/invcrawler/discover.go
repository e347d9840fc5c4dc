package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"invcrawler/pkg/discovery"
	"invcrawler/pkg/ui"
)

var discoverCount int

// discoverCmd represents the discover command
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Grow the candidate pool without mapping inventories",
	Long: `Walk the member listings of the seed groups until the requested number of
new accounts is known, or every group is exhausted. Discovery uses the first
configured proxy and respects the rate-limit gate.`,
	Example: `  # Find 10000 new accounts through two groups
  invcrawler discover --count 10000 --group csgolounge --group steamtrades`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().IntVarP(&discoverCount, "count", "n", 1000, "number of new accounts to find")
	discoverCmd.Flags().StringSliceVarP(&groups, "group", "g", nil, "seed group for account discovery")
	discoverCmd.Flags().StringSliceVar(&proxies, "proxy", nil, "proxy URL; only the first one is used")
	addStoreFlags(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	if discoverCount <= 0 {
		return errors.New("count must be positive")
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cmd, crawlFlags(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	if len(a.cfg.Crawl.Groups) == 0 {
		return errors.New("no seed groups configured; pass --group or set crawl.groups")
	}

	a.cfg.Crawl.Proxies = a.cfg.Crawl.Proxies[:1]
	pool, err := a.newPool()
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	w := pool.Workers()[0]

	feed := discovery.NewFeed(a.store, a.cfg.Steam.MemberPageSize, a.log, a.metrics)
	before, err := a.store.CountAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count accounts: %w", err)
	}

	ui.PrintInfo("Groups", fmt.Sprintf("%v", a.cfg.Crawl.Groups))
	ui.PrintInfo("Known accounts", fmt.Sprintf("%d", before))

	known, err := feed.Grow(ctx, w.Client, w.Gate, a.cfg.Crawl.Groups, discoverCount)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	found := known - before
	if found < discoverCount && ctx.Err() == nil {
		ui.PrintWarning("Every seed group is exhausted", fmt.Sprintf("found %d of %d", found, discoverCount))
		return nil
	}
	ui.PrintSuccess(fmt.Sprintf("Found %d new accounts (%d known)", found, known))
	return nil
}
