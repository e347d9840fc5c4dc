// Package retry provides exponential backoff and retry logic for transient
// failures, mainly store connections and orphan deletion batches.
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return db.PingContext(ctx)
//	}, retry.DefaultConfig())
//
// Classified errors from pkg/errors are retried only when their type is
// retryable; context cancellation is never retried.
package retry
