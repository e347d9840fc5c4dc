package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"invcrawler/pkg/config"
	"invcrawler/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage invcrawler configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (INVCRAWLER_*)
  - .env file
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write a configuration file holding every option with its default value.

The file is created as 'invcrawler.yaml' in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging every source. The postgres
connection string is masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "invcrawler.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Add your proxies and seed groups under 'crawl'")
	fmt.Println("2. Run 'invcrawler config validate' to check the configuration")
	fmt.Println("3. Start crawling with 'invcrawler crawl'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	display := *cfg
	if display.Store.DSN != "" {
		display.Store.DSN = "***"
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	var warnings []string
	if len(cfg.Crawl.Groups) == 0 && cfg.Crawl.SeedFile == "" {
		warnings = append(warnings, "no seed groups or seed file; the crawl can only use accounts already stored")
	}
	if cfg.Crawl.SeedFile != "" {
		if _, err := os.Stat(cfg.Crawl.SeedFile); err != nil {
			warnings = append(warnings, fmt.Sprintf("seed file is not readable: %v", err))
		}
	}
	if len(cfg.Crawl.Proxies) > 1 && !cfg.Gate.Shared {
		warnings = append(warnings, "gates are per proxy; one throttled proxy will not slow the others")
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Target: %d accounts\n", cfg.Crawl.TargetCount)
	fmt.Printf("  Workers: %d\n", len(cfg.Crawl.Proxies))
	fmt.Printf("  Seed groups: %d\n", len(cfg.Crawl.Groups))
	fmt.Printf("  Gate backoff: %s to %s (shared: %t)\n", cfg.Gate.MinBackoff, cfg.Gate.MaxBackoff, cfg.Gate.Shared)
	fmt.Printf("  Store: %s\n", cfg.Store.Driver)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}
