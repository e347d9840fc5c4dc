// Package crawler runs a crawl: a fixed set of proxy-bound workers claim
// candidate accounts, map their inventories and commit them against one
// exact quota.
package crawler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"invcrawler/internal/worker"
	"invcrawler/pkg/canonical"
	"invcrawler/pkg/checkpoint"
	"invcrawler/pkg/discovery"
	"invcrawler/pkg/errors"
	"invcrawler/pkg/inventory"
	"invcrawler/pkg/logger"
	"invcrawler/pkg/metrics"
	"invcrawler/pkg/model"
	"invcrawler/pkg/reconcile"
	"invcrawler/pkg/store"
)

// Account results reported to metrics and observers
const (
	ResultMapped    = "mapped"
	ResultEmpty     = "empty"
	ResultDiscarded = "discarded"
	ResultFailed    = "failed"
)

const defaultSweepTimeout = 5 * time.Minute

// Observer is told about every processed account. mapped is the global
// count of accounts mapped with an inventory after this one.
type Observer interface {
	AccountDone(id64, result string, mapped int)
}

// Options configures an Orchestrator
type Options struct {
	// Groups are the seed groups walked when the candidate pool runs dry
	Groups []string
	// BatchCap caps how many candidates a worker claims at once
	BatchCap int
	// DiscoveryStep is how many new accounts one discovery round looks for
	DiscoveryStep int
	// MaxAttempts is how often one account may fail transiently per run
	MaxAttempts int
	// SweepTimeout bounds the orphan sweep after the workers stop
	SweepTimeout time.Duration

	Observer Observer
	Logger   logger.Logger
	Metrics  *metrics.Metrics
}

// Orchestrator runs the crawl: workers claim candidates, fetch and
// canonicalize inventories, and commit them under one quota lock.
type Orchestrator struct {
	store      store.Store
	feed       *discovery.Feed
	fetcher    *inventory.Fetcher
	canon      *canonical.Canonicalizer
	reconciler *reconcile.Reconciler
	opts       Options
	logger     logger.Logger
	metrics    *metrics.Metrics

	// mu guards the quota counter and the run state counters
	mu      sync.Mutex
	target  int
	mapped  int
	workers int
	state   *checkpoint.RunState

	// stopped is the advisory fast check; it is only set under mu
	stopped atomic.Bool

	attemptsMu sync.Mutex
	attempts   map[string]int
}

// New creates an orchestrator over its collaborators
func New(s store.Store, feed *discovery.Feed, fetcher *inventory.Fetcher, canon *canonical.Canonicalizer, reconciler *reconcile.Reconciler, opts Options) *Orchestrator {
	if opts.BatchCap <= 0 {
		opts.BatchCap = 50
	}
	if opts.DiscoveryStep <= 0 {
		opts.DiscoveryStep = 1000
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.SweepTimeout <= 0 {
		opts.SweepTimeout = defaultSweepTimeout
	}
	return &Orchestrator{
		store:      s,
		feed:       feed,
		fetcher:    fetcher,
		canon:      canon,
		reconciler: reconciler,
		opts:       opts,
		logger:     logger.OrNop(opts.Logger).WithField("component", "crawler"),
		metrics:    opts.Metrics,
	}
}

// Run crawls with every worker of pool until target accounts are mapped
// with an inventory or no candidate is left, then sweeps orphaned stacks
// once. Cancelling ctx is a clean stop; invariant violations are returned.
func (o *Orchestrator) Run(ctx context.Context, target int, pool *worker.Pool) (*checkpoint.RunState, error) {
	if target <= 0 {
		return nil, fmt.Errorf("target must be positive, got %d", target)
	}

	mapped, err := o.store.CountMappedWithInventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count mapped accounts: %w", err)
	}
	if err := o.store.ResetClaims(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset claims: %w", err)
	}

	o.mu.Lock()
	o.target = target
	o.mapped = mapped
	o.workers = pool.Size()
	o.state = checkpoint.NewRunState(target, pool.Size())
	o.state.Mapped = mapped
	o.mu.Unlock()
	o.stopped.Store(mapped >= target)
	o.attempts = make(map[string]int)
	o.metrics.SetMapped(mapped)

	logger.LogComponentStart(o.logger, "crawler", map[string]interface{}{
		"run_id":  o.state.RunID.String(),
		"target":  target,
		"mapped":  mapped,
		"workers": pool.Size(),
	})

	runErr := pool.Run(ctx, o.work)

	sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.SweepTimeout)
	deleted, sweepErr := o.reconciler.Sweep(sweepCtx)
	cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	state := o.state
	state.OrphansDeleted = deleted

	switch {
	case runErr != nil && ctx.Err() != nil && stderrors.Is(runErr, ctx.Err()):
		state.Finish(checkpoint.StopCancelled, nil)
		runErr = nil
	case runErr != nil:
		state.Finish(checkpoint.StopFailed, runErr)
	case o.stopped.Load():
		state.Finish(checkpoint.StopTargetReached, nil)
	default:
		state.Finish(checkpoint.StopExhausted, nil)
	}

	if sweepErr != nil {
		o.logger.WithError(sweepErr).Error("Orphan sweep failed")
		if runErr == nil {
			runErr = sweepErr
			state.Finish(checkpoint.StopFailed, sweepErr)
		}
	}

	logger.LogComponentStop(o.logger, "crawler", state.StopReason)
	o.logger.InfoWithFields("Crawl finished", map[string]interface{}{
		"run_id":          state.RunID.String(),
		"mapped":          state.Mapped,
		"mapped_this_run": state.MappedThisRun,
		"empty":           state.Empty,
		"discarded":       state.Discarded,
		"failed":          state.Failed,
		"orphans_deleted": state.OrphansDeleted,
	})

	return state, runErr
}

// work is the loop of one worker: claim a batch, process it, repeat until
// the quota is met or no candidate is left
func (o *Orchestrator) work(ctx context.Context, w *worker.Worker) error {
	for {
		if o.stopped.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := o.claim(ctx, w)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			w.Logger.Debug("No candidates left")
			return nil
		}

		for i, id := range batch {
			if o.stopped.Load() || ctx.Err() != nil {
				o.release(ctx, batch[i:])
				break
			}
			if err := o.process(ctx, w, id); err != nil {
				o.release(ctx, batch[i+1:])
				return err
			}
		}
	}
}

// batchSize splits what is left of the quota evenly across workers
func (o *Orchestrator) batchSize() int {
	o.mu.Lock()
	remaining := o.target - o.mapped
	workers := o.workers
	o.mu.Unlock()

	if workers < 1 {
		workers = 1
	}
	size := (remaining + workers - 1) / workers
	if size > o.opts.BatchCap {
		size = o.opts.BatchCap
	}
	if size < 1 {
		size = 1
	}
	return size
}

// claim takes the next batch of candidates, growing the pool through
// discovery once when none are left
func (o *Orchestrator) claim(ctx context.Context, w *worker.Worker) ([]string, error) {
	size := o.batchSize()
	batch, err := o.store.NextUnclaimedCandidateIDs(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("failed to claim candidates: %w", err)
	}
	if len(batch) > 0 || len(o.opts.Groups) == 0 {
		return batch, nil
	}

	pool, err := o.feed.Grow(ctx, w.Client, w.Gate, o.opts.Groups, o.opts.DiscoveryStep)
	if err != nil {
		return nil, fmt.Errorf("failed to discover accounts: %w", err)
	}
	w.Logger.WithField("pool", pool).Debug("Candidate pool grown")

	batch, err = o.store.NextUnclaimedCandidateIDs(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("failed to claim candidates: %w", err)
	}
	return batch, nil
}

// process fetches and records one account. Only fatal errors and
// cancellation are returned; everything else is counted and logged.
func (o *Orchestrator) process(ctx context.Context, w *worker.Worker, id64 string) error {
	log := w.Logger.WithField("id64", id64)

	stacks, outcome, err := o.fetcher.FetchInventory(ctx, w.Client, w.Gate, id64)
	if ctx.Err() != nil {
		o.release(ctx, []string{id64})
		return ctx.Err()
	}
	if err != nil {
		return o.failed(ctx, log, id64, fmt.Errorf("%s: %w", outcome, err))
	}

	if outcome == inventory.OutcomeForbidden || len(stacks) == 0 {
		if err := o.store.SaveMappedAccount(ctx, &model.MappedAccount{ID64: id64}); err != nil {
			return o.failed(ctx, log, id64, fmt.Errorf("failed to save account: %w", err))
		}
		o.done(id64, ResultEmpty, func(s *checkpoint.RunState) { s.Empty++ })
		log.WithField("outcome", outcome.String()).Debug("Account has no visible inventory")
		return nil
	}

	if err := o.canon.Stacks(ctx, stacks); err != nil {
		return o.failed(ctx, log, id64, fmt.Errorf("failed to canonicalize: %w", err))
	}
	if err := o.store.InsertItemStacks(ctx, stacks); err != nil {
		return o.failed(ctx, log, id64, fmt.Errorf("failed to insert item stacks: %w", err))
	}

	return o.commit(ctx, log, id64, stacks)
}

// commit is the quota critical section. Work finished after the target was
// reached is discarded; its stacks are left for the sweep.
func (o *Orchestrator) commit(ctx context.Context, log logger.Logger, id64 string, stacks []*model.ItemStack) error {
	o.mu.Lock()
	if o.mapped >= o.target {
		o.stopped.Store(true)
		o.state.Discarded++
		mapped := o.mapped
		o.mu.Unlock()

		o.release(ctx, []string{id64})
		o.report(id64, ResultDiscarded, mapped)
		log.Debug("Quota already reached, discarding inventory")
		return nil
	}

	o.mapped++
	acc := &model.MappedAccount{ID64: id64, Inventory: &model.Inventory{Stacks: stacks}}
	if err := o.store.SaveMappedAccount(ctx, acc); err != nil {
		o.mapped--
		o.mu.Unlock()
		return o.failed(ctx, log, id64, fmt.Errorf("failed to save account: %w", err))
	}
	if o.mapped >= o.target {
		o.stopped.Store(true)
	}
	mapped := o.mapped
	o.state.Mapped = mapped
	o.state.MappedThisRun++
	target := o.target
	o.mu.Unlock()

	o.metrics.SetMapped(mapped)
	o.report(id64, ResultMapped, mapped)
	logger.LogCrawlProgress(log, mapped, target)
	return nil
}

// failed handles a failed account. Fatal errors are returned; anything else
// releases the claim until the account has used up its attempts.
func (o *Orchestrator) failed(ctx context.Context, log logger.Logger, id64 string, err error) error {
	if errors.IsFatal(err) {
		log.WithError(err).Error("Fatal error while processing account")
		return err
	}
	if ctx.Err() != nil {
		o.release(ctx, []string{id64})
		return ctx.Err()
	}

	o.attemptsMu.Lock()
	o.attempts[id64]++
	attempts := o.attempts[id64]
	o.attemptsMu.Unlock()

	log = log.WithError(err).WithField("attempt", attempts)
	if attempts < o.opts.MaxAttempts {
		o.release(ctx, []string{id64})
		log.Warn("Account failed, will retry")
	} else {
		log.Warn("Account failed too often, skipping it for this run")
	}

	o.done(id64, ResultFailed, func(s *checkpoint.RunState) { s.Failed++ })
	return nil
}

// release hands claims back. It outlives ctx so a shutdown does not strand
// claimed accounts.
func (o *Orchestrator) release(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := o.store.ReleaseCandidates(context.WithoutCancel(ctx), ids); err != nil {
		o.logger.WithError(err).WithField("count", len(ids)).Warn("Failed to release candidates")
	}
}

// done updates the run state and reports a non-quota result
func (o *Orchestrator) done(id64, result string, update func(*checkpoint.RunState)) {
	o.mu.Lock()
	update(o.state)
	mapped := o.mapped
	o.mu.Unlock()
	o.report(id64, result, mapped)
}

func (o *Orchestrator) report(id64, result string, mapped int) {
	o.metrics.AccountProcessed(result)
	if o.opts.Observer != nil {
		o.opts.Observer.AccountDone(id64, result, mapped)
	}
}
