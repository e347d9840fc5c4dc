// Package ui holds the terminal output helpers of the crawler CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// Banner is printed at the start of a crawl
const Banner = `
  ┌─────────────────────────────────────────────┐
  │  invcrawler · inventory discovery crawler   │
  └─────────────────────────────────────────────┘
`

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

var (
	quiet  atomic.Bool
	output io.Writer = os.Stdout
)

// SetQuiet suppresses everything except errors
func SetQuiet(q bool) {
	quiet.Store(q)
}

// Quiet reports whether quiet mode is on
func Quiet() bool {
	return quiet.Load()
}

// SetOutput redirects terminal output and returns the previous writer
func SetOutput(w io.Writer) io.Writer {
	prev := output
	output = w
	return prev
}

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		return fmt.Sprintf(colorString, text)
	}
}

func writeln(s string) {
	fmt.Fprintln(output, s)
}

// PrintBanner prints the banner in cyan
func PrintBanner() {
	if Quiet() {
		return
	}
	fmt.Fprint(output, Cyan(Banner))
}

// PrintError prints an error message in red. Errors are printed in quiet mode.
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		writeln(Red(msg + ": " + fmt.Sprintf("%v", args[0])))
	} else {
		writeln(Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	if Quiet() {
		return
	}
	writeln(Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	if Quiet() {
		return
	}
	fmt.Fprintf(output, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if Quiet() {
		return
	}
	if len(args) > 0 {
		writeln(Yellow(msg + ": " + fmt.Sprintf("%v", args[0])))
	} else {
		writeln(Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	if Quiet() {
		return
	}
	writeln(Magenta(msg))
}
