package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"invcrawler/pkg/canonical"
	"invcrawler/pkg/checkpoint"
	"invcrawler/pkg/crawler"
	"invcrawler/pkg/discovery"
	"invcrawler/pkg/inventory"
	"invcrawler/pkg/reconcile"
	"invcrawler/pkg/ui"
)

var (
	// Crawl command flags
	targetCount int
	proxies     []string
	groups      []string
	seedFile    string
	sharedGate  bool
	storeDriver string
	storePath   string
	storeDSN    string
	metricsAddr string
)

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Map inventories until the target count is reached",
	Long: `Map account inventories until the store holds the target number of
accounts with a visible inventory, or until no candidate account is left.

Accounts already mapped by earlier runs count towards the target, so an
interrupted crawl continues where it stopped. When the candidate pool runs
dry the crawler walks the member listings of the configured groups.

Press Ctrl+C to stop cleanly; claimed accounts are handed back.`,
	Example: `  # Map 5000 accounts through two proxies
  invcrawler crawl --target 5000 --proxy http://10.0.0.1:3128 --proxy http://10.0.0.2:3128

  # Seed from a file and discover through a group
  invcrawler crawl --seed-file ids.txt --group csgolounge

  # Give every proxy its own backoff
  invcrawler crawl --shared-gate=false`,
	Args: cobra.NoArgs,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().IntVarP(&targetCount, "target", "t", 0, "accounts with inventory to map (default from config)")
	crawlCmd.Flags().StringSliceVar(&proxies, "proxy", nil, "proxy URL, one worker each; \"direct\" for no proxy")
	crawlCmd.Flags().StringSliceVarP(&groups, "group", "g", nil, "seed group for account discovery")
	crawlCmd.Flags().StringVar(&seedFile, "seed-file", "", "file with one SteamID64 per line")
	crawlCmd.Flags().BoolVar(&sharedGate, "shared-gate", true, "share one rate-limit gate across all workers")
	addStoreFlags(crawlCmd)
	crawlCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
}

// addStoreFlags registers the store selection flags on cmd
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&storeDriver, "store", "", "store driver (sqlite, postgres, memory)")
	cmd.Flags().StringVar(&storePath, "db", "", "sqlite database path")
	cmd.Flags().StringVar(&storeDSN, "dsn", "", "postgres connection string")
}

// crawlFlags collects the explicitly set flags of cmd
func crawlFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if targetCount > 0 {
		flags["target"] = targetCount
	}
	if len(proxies) > 0 {
		flags["proxies"] = proxies
	}
	if len(groups) > 0 {
		flags["groups"] = groups
	}
	if seedFile != "" {
		flags["seed-file"] = seedFile
	}
	if f := cmd.Flags().Lookup("shared-gate"); f != nil && f.Changed {
		flags["shared-gate"] = sharedGate
	}
	if storeDriver != "" {
		flags["store-driver"] = storeDriver
	}
	if storePath != "" {
		flags["store-path"] = storePath
	}
	if storeDSN != "" {
		flags["store-dsn"] = storeDSN
	}
	if metricsAddr != "" {
		flags["metrics-addr"] = metricsAddr
	}
	return flags
}

func runCrawl(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cmd, crawlFlags(cmd))
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	ui.PrintBanner()
	a.serveMetrics(ctx)

	pool, err := a.newPool()
	if err != nil {
		return fmt.Errorf("failed to create workers: %w", err)
	}

	feed := discovery.NewFeed(a.store, cfg.Steam.MemberPageSize, a.log, a.metrics)
	if cfg.Crawl.SeedFile != "" {
		ids, err := discovery.LoadSeedFile(cfg.Crawl.SeedFile, a.log)
		if err != nil {
			return err
		}
		added, err := feed.Seed(ctx, ids)
		if err != nil {
			return err
		}
		ui.PrintInfo("Seeded accounts", fmt.Sprintf("%d new of %d", added, len(ids)))
	}

	mapped, err := a.store.CountMappedWithInventory(ctx)
	if err != nil {
		return fmt.Errorf("failed to count mapped accounts: %w", err)
	}

	ui.PrintInfo("Target", fmt.Sprintf("%d accounts (%d already mapped)", cfg.Crawl.TargetCount, mapped))
	ui.PrintInfo("Workers", fmt.Sprintf("%d (shared gate: %t)", pool.Size(), cfg.Gate.Shared))
	ui.PrintInfo("Store", cfg.Store.Driver)

	progress := ui.NewCrawlProgress(cfg.Crawl.TargetCount, mapped, verbose)
	o := crawler.New(
		a.store,
		feed,
		inventory.NewFetcher(cfg.Steam.MaxPages, a.log),
		canonical.New(a.store, a.log, a.metrics),
		reconcile.New(a.store, cfg.Store.SweepBatch, a.log, a.metrics),
		crawler.Options{
			Groups:        cfg.Crawl.Groups,
			BatchCap:      cfg.Crawl.BatchCap,
			DiscoveryStep: cfg.Crawl.DiscoveryStep,
			MaxAttempts:   cfg.Crawl.MaxAttempts,
			Observer:      progress,
			Logger:        a.log,
			Metrics:       a.metrics,
		},
	)

	checkpoints, err := checkpoint.NewManager(cfg.Crawl.StateDir, a.log)
	if err != nil {
		a.log.WithError(err).Warn("Run state will not be saved")
	}

	state, runErr := o.Run(ctx, cfg.Crawl.TargetCount, pool)
	if state == nil {
		return runErr
	}

	progress.Complete(state.StopReason)
	if checkpoints != nil {
		if err := checkpoints.Save(state); err != nil {
			a.log.WithError(err).Warn("Failed to save run state")
		}
	}

	if runErr != nil {
		return fmt.Errorf("crawl failed: %w", runErr)
	}

	switch state.StopReason {
	case checkpoint.StopTargetReached:
		ui.PrintSuccess(fmt.Sprintf("Target reached in %s", state.Duration().Round(time.Second)))
	case checkpoint.StopExhausted:
		ui.PrintWarning("No candidate accounts left", "add seed groups or a seed file to continue")
	case checkpoint.StopCancelled:
		ui.PrintWarning("Crawl interrupted", "run the same command again to continue")
	}
	return nil
}
