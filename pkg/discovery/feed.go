// Package discovery grows the pool of candidate accounts by walking the
// member listings of seed groups.
package discovery

import (
	"context"
	"fmt"
	"sync"

	"invcrawler/pkg/errors"
	"invcrawler/pkg/gate"
	"invcrawler/pkg/logger"
	"invcrawler/pkg/metrics"
	"invcrawler/pkg/store"
)

const (
	// DefaultPageSize is the number of members per listing page
	DefaultPageSize = 1000

	// maxGroupFailures consecutive failures that the gate does not cover give
	// up on a group for this run
	maxGroupFailures = 5
)

// Source returns raw group member listing pages. Pages start at 1.
type Source interface {
	GetGroupMembersPage(ctx context.Context, group string, page int) ([]byte, error)
}

// groupCursor tracks how far a group's listing has been read. Pages are
// 0-based here and requested as page+1. A group whose end was seen still has
// work while failed pages wait for a retry.
type groupCursor struct {
	next     int
	retry    []int
	failures int
	ended    bool
	dropped  bool
}

// available reports whether the group has a page left to fetch
func (c *groupCursor) available() bool {
	return !c.dropped && (len(c.retry) > 0 || !c.ended)
}

// take returns the next page to fetch, preferring pages that failed before
func (c *groupCursor) take() int {
	if n := len(c.retry); n > 0 {
		page := c.retry[n-1]
		c.retry = c.retry[:n-1]
		return page
	}
	page := c.next
	c.next++
	return page
}

// Feed is the shared account discovery state. It is safe for concurrent use
// and may be called repeatedly; each call resumes where the last stopped.
type Feed struct {
	mu         sync.Mutex
	store      store.AccountStore
	pageSize   int
	pool       int
	poolLoaded bool
	cursors    map[string]*groupCursor

	logger  logger.Logger
	metrics *metrics.Metrics
}

// NewFeed creates a feed over s
func NewFeed(s store.AccountStore, pageSize int, log logger.Logger, m *metrics.Metrics) *Feed {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Feed{
		store:    s,
		pageSize: pageSize,
		cursors:  make(map[string]*groupCursor),
		logger:   logger.OrNop(log).WithField("component", "discovery"),
		metrics:  m,
	}
}

// Pool returns the known number of accounts
func (f *Feed) Pool() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pool
}

// loadPool reads the pool size from the store once. Must hold f.mu.
func (f *Feed) loadPool(ctx context.Context) error {
	if f.poolLoaded {
		return nil
	}
	n, err := f.store.CountAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count accounts: %w", err)
	}
	f.pool = n
	f.poolLoaded = true
	return nil
}

// cursor returns the cursor of group. A new cursor starts where the known
// pool would end if every account came from this group. Must hold f.mu.
func (f *Feed) cursor(group string) *groupCursor {
	c, ok := f.cursors[group]
	if !ok {
		c = &groupCursor{next: f.pool / f.pageSize}
		f.cursors[group] = c
	}
	return c
}

// Seed adds ids to the pool and returns how many were new
func (f *Feed) Seed(ctx context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadPool(ctx); err != nil {
		return 0, err
	}
	added, err := f.store.InsertAccounts(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to insert accounts: %w", err)
	}
	f.pool += added
	f.metrics.AccountsDiscovered(added)
	return added, nil
}

// Grow walks the member listings of groups until n more accounts than the
// current pool are known, or every group is exhausted
func (f *Feed) Grow(ctx context.Context, src Source, g *gate.Gate, groups []string, n int) (int, error) {
	f.mu.Lock()
	if err := f.loadPool(ctx); err != nil {
		f.mu.Unlock()
		return 0, err
	}
	target := f.pool + n
	f.mu.Unlock()
	return f.FindAccounts(ctx, src, g, groups, target)
}

// FindAccounts walks the member listings of groups until the pool holds at
// least target accounts or every group is exhausted, and returns the pool
// size. Pages are fetched outside the lock and wait on g.
func (f *Feed) FindAccounts(ctx context.Context, src Source, g *gate.Gate, groups []string, target int) (int, error) {
	f.mu.Lock()
	if err := f.loadPool(ctx); err != nil {
		f.mu.Unlock()
		return 0, err
	}
	for _, group := range groups {
		f.cursor(group)
	}
	f.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return f.Pool(), err
		}

		f.mu.Lock()
		if f.pool >= target {
			pool := f.pool
			f.mu.Unlock()
			return pool, nil
		}
		group, page, ok := f.nextPage(groups)
		f.mu.Unlock()
		if !ok {
			f.logger.WithField("pool", f.Pool()).Info("Every seed group is exhausted")
			return f.Pool(), nil
		}

		if err := g.AwaitClear(ctx); err != nil {
			f.requeue(group, page)
			return f.Pool(), err
		}

		body, err := src.GetGroupMembersPage(ctx, group, page+1)
		if err != nil {
			if ctx.Err() != nil {
				f.requeue(group, page)
				return f.Pool(), ctx.Err()
			}
			f.pageFailed(g, group, page, err)
			continue
		}

		if err := f.pageFetched(ctx, group, page, body); err != nil {
			return f.Pool(), err
		}
	}
}

// nextPage picks the first group with pages left. Must hold f.mu.
func (f *Feed) nextPage(groups []string) (string, int, bool) {
	for _, group := range groups {
		c := f.cursor(group)
		if !c.available() {
			continue
		}
		return group, c.take(), true
	}
	return "", 0, false
}

func (f *Feed) requeue(group string, page int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.cursor(group)
	c.retry = append(c.retry, page)
}

// pageFailed hands the page back for a retry. Groups that do not exist are
// dropped immediately; anything else trips the gate first. Throttled and
// unparsable pages wait out the gate and never count towards giving up.
func (f *Feed) pageFailed(g *gate.Gate, group string, page int, err error) {
	log := f.logger.WithFields(map[string]interface{}{
		"group": group,
		"page":  page + 1,
	}).WithError(err)

	errType := errors.TypeOf(err)

	f.mu.Lock()
	c := f.cursor(group)
	c.retry = append(c.retry, page)
	if !errors.TripsGate(errType) {
		c.failures++
	}
	giveUp := errType == errors.ErrorTypeNotFound || errType == errors.ErrorTypeForbidden || c.failures >= maxGroupFailures
	if giveUp {
		c.dropped = true
	}
	f.mu.Unlock()

	if giveUp {
		log.Warn("Giving up on group")
		return
	}
	log.Warn("Member page failed, backing off")
	g.Trip(string(errType))
}

// pageFetched stores the ids of a page and grows the pool in one critical
// section. A page without ids, or the last page, exhausts the group.
func (f *Feed) pageFetched(ctx context.Context, group string, page int, body []byte) error {
	ids := ParseSteamIDs(body)
	total := parseTotalPages(body)

	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.cursor(group)
	c.failures = 0
	if len(ids) == 0 || (total > 0 && page+1 >= total) {
		c.ended = true
	}
	if len(ids) == 0 {
		return nil
	}

	added, err := f.store.InsertAccounts(ctx, ids)
	if err != nil {
		c.retry = append(c.retry, page)
		return fmt.Errorf("failed to insert accounts: %w", err)
	}
	f.pool += added
	f.metrics.AccountsDiscovered(added)

	f.logger.DebugWithFields("member page processed", map[string]interface{}{
		"group": group,
		"page":  page + 1,
		"ids":   len(ids),
		"added": added,
		"pool":  f.pool,
	})
	return nil
}
