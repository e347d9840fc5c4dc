package discovery

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"invcrawler/pkg/logger"
	"invcrawler/pkg/model"
)

var (
	steamIDRe    = regexp.MustCompile(`\b7656119\d{10}\b`)
	totalPagesRe = regexp.MustCompile(`<totalPages>(\d+)</totalPages>`)
)

// ParseSteamIDs extracts every distinct SteamID64 from a raw page, in order
// of first appearance
func ParseSteamIDs(body []byte) []string {
	return lo.Uniq(steamIDRe.FindAllString(string(body), -1))
}

// parseTotalPages reads the page count of a member listing, 0 when absent
func parseTotalPages(body []byte) int {
	m := totalPagesRe.FindSubmatch(body)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0
	}
	return n
}

// LoadSeedFile reads one SteamID64 per line. Blank lines and lines starting
// with # are skipped; invalid ids are logged and skipped.
func LoadSeedFile(path string, log logger.Logger) ([]string, error) {
	log = logger.OrNop(log)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if !model.ValidID64(text) {
			log.WarnWithFields("skipping invalid account id", map[string]interface{}{
				"file":  path,
				"line":  line,
				"value": text,
			})
			continue
		}
		ids = append(ids, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	return lo.Uniq(ids), nil
}
