package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LogRateLimit logs a gate trip
func LogRateLimit(l Logger, reason string, until time.Time) {
	l.WithFields(map[string]interface{}{
		"reason":         reason,
		"cooldown_until": until.Format(time.RFC3339),
		"cooldown":       time.Until(until).Round(time.Second).String(),
		"action":         "rate_limited",
	}).Warn("Rate limit reached, backing off")
}

// LogCrawlProgress logs quota progress
func LogCrawlProgress(l Logger, mapped, target int) {
	percentage := 0.0
	if target > 0 {
		percentage = float64(mapped) / float64(target) * 100
	}

	l.WithFields(map[string]interface{}{
		"mapped":     mapped,
		"target":     target,
		"percentage": fmt.Sprintf("%.1f%%", percentage),
	}).Info("Crawl progress")
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	l = l.WithField("component", component)
	if len(config) > 0 {
		l = l.WithFields(config)
	}
	l.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(string)                                    {}
func (n *nopLogger) Info(string)                                     {}
func (n *nopLogger) Warn(string)                                     {}
func (n *nopLogger) Error(string)                                    {}
func (n *nopLogger) Fatal(string)                                    {}
func (n *nopLogger) WithField(string, interface{}) Logger            { return n }
func (n *nopLogger) WithFields(map[string]interface{}) Logger        { return n }
func (n *nopLogger) WithError(error) Logger                          { return n }
func (n *nopLogger) WithContext(context.Context) Logger              { return n }
func (n *nopLogger) DebugWithFields(string, map[string]interface{})  {}
func (n *nopLogger) InfoWithFields(string, map[string]interface{})   {}
func (n *nopLogger) WarnWithFields(string, map[string]interface{})   {}
func (n *nopLogger) ErrorWithFields(string, map[string]interface{})  {}
func (n *nopLogger) FatalWithFields(string, map[string]interface{})  {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                     { nop := zerolog.Nop(); return &nop }
