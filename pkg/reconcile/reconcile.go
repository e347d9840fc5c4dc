// Package reconcile deletes item stacks that no inventory owns.
//
// Stacks are written before the mapped account that owns them, so work
// discarded over quota, a failed commit or a crash leaves orphans behind.
// The sweep runs once after every worker has stopped.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"invcrawler/pkg/logger"
	"invcrawler/pkg/metrics"
	"invcrawler/pkg/retry"
	"invcrawler/pkg/store"
)

const (
	// DefaultBatchSize is the number of stacks deleted per store call
	DefaultBatchSize = 500

	// batchRetryDelay separates attempts at deleting one batch
	batchRetryDelay = 200 * time.Millisecond
)

// Reconciler sweeps orphaned item stacks
type Reconciler struct {
	store     store.StackStore
	batchSize int
	retry     *retry.Config
	logger    logger.Logger
	metrics   *metrics.Metrics
}

// New creates a reconciler over s
func New(s store.StackStore, batchSize int, log logger.Logger, m *metrics.Metrics) *Reconciler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	log = logger.OrNop(log).WithField("component", "reconcile")

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 3
	retryCfg.Backoff = &retry.ConstantBackoff{Delay: batchRetryDelay}
	retryCfg.Logger = log

	return &Reconciler{
		store:     s,
		batchSize: batchSize,
		retry:     retryCfg,
		logger:    log,
		metrics:   m,
	}
}

// Orphans returns the ids of stacks not reachable from any inventory
func (r *Reconciler) Orphans(ctx context.Context) ([]int64, error) {
	all, err := r.store.ItemStackIDs(ctx)
	if err != nil {
		return nil, err
	}
	owned, err := r.store.OwnedItemStackIDs(ctx)
	if err != nil {
		return nil, err
	}
	orphans, _ := lo.Difference(all, owned)
	return orphans, nil
}

// Sweep deletes every orphaned stack and returns how many were removed
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	orphans, err := r.Orphans(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to find orphaned item stacks: %w", err)
	}
	if len(orphans) == 0 {
		r.logger.Debug("No orphaned item stacks")
		return 0, nil
	}

	deleted := 0
	for _, batch := range lo.Chunk(orphans, r.batchSize) {
		n, err := retry.DoWithResult(ctx, func(ctx context.Context) (int, error) {
			return r.store.DeleteItemStacks(ctx, batch)
		}, r.retry)
		if err != nil {
			r.metrics.OrphansDeleted(deleted)
			return deleted, fmt.Errorf("failed to delete orphaned item stacks: %w", err)
		}
		deleted += n
	}

	r.metrics.OrphansDeleted(deleted)
	r.logger.WithFields(map[string]interface{}{
		"found":   len(orphans),
		"deleted": deleted,
	}).Info("Orphaned item stacks swept")
	return deleted, nil
}
