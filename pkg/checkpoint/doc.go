// Package checkpoint records the outcome of the last crawl run.
//
// A run state is written when a crawl starts and rewritten as it finishes, so
// an interrupted run still leaves its id, target and start time behind. The
// file lives in the configured state directory or, when none is set, in the
// platform data directory:
//   - Linux: ~/.local/share/invcrawler/
//   - macOS: ~/Library/Application Support/invcrawler/
//   - Windows: %APPDATA%/invcrawler/
//
// Writes go through a temporary file and a rename so a crash never leaves a
// half-written state behind.
package checkpoint
