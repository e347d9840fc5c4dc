package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"invcrawler/pkg/ui"
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "invcrawler",
	Short: "Crawl public game inventories into a canonical item store",
	Long: `invcrawler discovers accounts through public group member listings and
maps their inventories into a deduplicated item database.

Features:
  - One worker per proxy, each with its own request pacing
  - Shared rate-limit gate with API key rotation on throttling
  - Exact quota: never more mapped accounts than requested
  - Canonical item types, names, sets and stickers stored once
  - SQLite or PostgreSQL storage, resumable across runs
  - Optional Prometheus metrics endpoint`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			ui.SetQuiet(true)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./invcrawler.yaml or ~/.config/invcrawler/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print every account and keep logs on the console")

	rootCmd.SetVersionTemplate(versionText())

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func versionText() string {
	return `invcrawler {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`
}
