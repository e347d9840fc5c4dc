package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"invcrawler/pkg/auth"
	"invcrawler/pkg/ui"
)

var apiKeyRe = regexp.MustCompile(`^[0-9A-Fa-f]{32}$`)

// keysCmd represents the keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage upstream API keys",
	Long: `Manage the upstream API keys the crawler rotates through when it is
throttled.

Keys are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - INVCRAWLER_API_KEYS environment variable (read-only)`,
}

var keysAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Store an API key securely",
	Long: `Store an API key under a name. The key is read from the terminal without
echo, or from stdin when it is not a terminal.`,
	Example: `  invcrawler keys add primary
  echo "$KEY" | invcrawler keys add ci`,
	Args: cobra.ExactArgs(1),
	RunE: runKeysAdd,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored API keys",
	Args:  cobra.NoArgs,
	RunE:  runKeysList,
}

var keysRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a stored API key",
	Args:    cobra.ExactArgs(1),
	RunE:    runKeysRemove,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysAddCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRemoveCmd)
}

func runKeysAdd(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize key manager: %w", err)
	}

	name := strings.TrimSpace(args[0])
	if _, err := manager.Retrieve(name); err == nil {
		ui.PrintWarning("Replacing existing key", name)
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		auth.ShowAPIKeyGuide()
		fmt.Print("API key (hidden): ")
	}
	value, err := readSecret()
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}
	if !apiKeyRe.MatchString(value) {
		return errors.New("that does not look like an API key; expected 32 hex characters")
	}

	if err := manager.Store(&auth.APIKey{Name: name, Value: value}); err != nil {
		return err
	}
	ui.PrintSuccess("Key stored: " + name)
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize key manager: %w", err)
	}

	keys, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}
	if len(keys) == 0 {
		ui.PrintInfo("No stored keys", "Use 'invcrawler keys add <name>' to add one")
		return nil
	}

	ui.PrintHighlight("Stored API keys")
	for i, key := range keys {
		sanitized := auth.Sanitize(key)
		fmt.Fprintf(cmd.OutOrStdout(), "%d. %s  %s", i+1, sanitized.Name, sanitized.Value)
		if !sanitized.LastModified.IsZero() {
			fmt.Fprintf(cmd.OutOrStdout(), "  (modified %s)", sanitized.LastModified.Format("2006-01-02 15:04"))
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

func runKeysRemove(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize key manager: %w", err)
	}
	if err := manager.Delete(args[0]); err != nil {
		return err
	}
	ui.PrintSuccess("Key removed: " + args[0])
	return nil
}

// readSecret reads a secret from stdin without echoing
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
