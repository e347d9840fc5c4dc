package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	ProgressBar   = "━"
	ProgressEmpty = "─"
	barWidth      = 20
)

// CrawlProgress renders a single updating progress line for a crawl run.
// It is safe for concurrent use by all workers.
type CrawlProgress struct {
	mu        sync.Mutex
	target    int
	mapped    int
	empty     int
	discarded int
	failed    int
	startTime time.Time
	verbose   bool
}

// NewCrawlProgress creates a display counting towards target, starting at
// the already mapped count
func NewCrawlProgress(target, mapped int, verbose bool) *CrawlProgress {
	return &CrawlProgress{
		target:    target,
		mapped:    mapped,
		startTime: time.Now(),
		verbose:   verbose,
	}
}

// AccountDone records one processed account. result is one of mapped,
// empty, discarded or failed; mapped is the global mapped count.
func (p *CrawlProgress) AccountDone(id64, result string, mapped int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch result {
	case "mapped":
		p.mapped = mapped
	case "empty":
		p.empty++
	case "discarded":
		p.discarded++
	case "failed":
		p.failed++
	}

	if Quiet() {
		return
	}
	if p.verbose {
		fmt.Fprintf(output, "%s %s %s\n", p.marker(result), id64, Dim(result))
		return
	}
	fmt.Fprintf(output, "\r%s\r%s", strings.Repeat(" ", 100), p.line())
}

// Complete prints the run summary
func (p *CrawlProgress) Complete(reason string) {
	if Quiet() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(output, "\n\n%s %d/%d accounts mapped with inventory (%s)\n",
		Green("✓"), p.mapped, p.target, reason)
	fmt.Fprintf(output, "  %s %d private or empty, %d discarded over quota, %d failed\n",
		Dim("•"), p.empty, p.discarded, p.failed)
	fmt.Fprintf(output, "  %s %s elapsed\n", Dim("•"), formatDuration(time.Since(p.startTime)))
}

func (p *CrawlProgress) line() string {
	progress := 0.0
	if p.target > 0 {
		progress = float64(p.mapped) / float64(p.target)
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * barWidth)
	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled)

	line := fmt.Sprintf("%s [%s] %d/%d • %d empty", Cyan("mapped"), bar, p.mapped, p.target, p.empty)
	if p.failed > 0 {
		line += " • " + Red(fmt.Sprintf("%d failed", p.failed))
	}
	return line
}

func (p *CrawlProgress) marker(result string) string {
	switch result {
	case "mapped":
		return Green("✓")
	case "failed":
		return Red("✗")
	default:
		return Dim("·")
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
