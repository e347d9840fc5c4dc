package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"invcrawler/pkg/discovery"
	"invcrawler/pkg/ui"
)

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Add candidate accounts from a file",
	Long: `Add the SteamID64s listed in a file to the candidate pool.

The file holds one 17-digit id per line. Blank lines and lines starting
with # are ignored; anything else that is not an id is reported and skipped.`,
	Example: `  invcrawler seed ids.txt`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	addStoreFlags(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cmd, crawlFlags(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := discovery.LoadSeedFile(args[0], a.log)
	if err != nil {
		return err
	}

	added, err := discovery.NewFeed(a.store, a.cfg.Steam.MemberPageSize, a.log, a.metrics).Seed(ctx, ids)
	if err != nil {
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Added %d new accounts (%d already known)", added, len(ids)-added))
	return nil
}
