// Package logger provides the structured logging interface used across the crawler.
//
// It wraps zerolog. Console output is colored and human readable, or raw JSON
// when logging.json is set. A logging.file additionally receives JSON lines.
//
//	err := logger.Initialize(&cfg.Logging)
//	log := logger.GetLogger().WithField("component", "crawler")
//	log.WithError(err).Warn("inventory fetch failed")
//
// Components take a Logger in their constructor; tests pass NewTestLogger or
// NewNopLogger.
package logger
