package auth

import (
	"fmt"
	"strings"
)

// ShowAPIKeyGuide prints how to obtain and register an upstream API key
func ShowAPIKeyGuide() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("STEAM WEB API KEYS")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println()
	fmt.Println("Keys are optional. When several are registered the crawler switches")
	fmt.Println("to the next one every time the upstream starts throttling.")
	fmt.Println()
	fmt.Println("  1. Log in at https://steamcommunity.com/dev/apikey")
	fmt.Println("  2. Register a domain name and copy the 32-character key")
	fmt.Println("  3. Run: invcrawler keys add <name>")
	fmt.Println()
	fmt.Println("For CI, set " + EnvKeys + "=key1,key2 instead.")
	fmt.Println("Keys are kept in the system keyring, or in an encrypted file when no")
	fmt.Println("keyring is available (passphrase from " + EnvPassphrase + ").")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println()
}
