package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invcrawler/internal/worker"
	"invcrawler/pkg/canonical"
	"invcrawler/pkg/checkpoint"
	"invcrawler/pkg/discovery"
	"invcrawler/pkg/errors"
	"invcrawler/pkg/gate"
	"invcrawler/pkg/inventory"
	"invcrawler/pkg/logger"
	"invcrawler/pkg/model"
	"invcrawler/pkg/reconcile"
	"invcrawler/pkg/steam"
	"invcrawler/pkg/store"
)

func id64(n int) string {
	return fmt.Sprintf("765611980%08d", n)
}

func itemPage(name string) *steam.InventoryPage {
	return &steam.InventoryPage{
		Assets: []steam.Asset{{ClassID: "1", InstanceID: "0", Amount: "1"}},
		Descriptions: []steam.Description{{
			ClassID:        "1",
			InstanceID:     "0",
			Name:           name,
			MarketHashName: name,
			Type:           "Base Grade Container",
		}},
		Success: true,
	}
}

// fakeSteam is the upstream shared by every fake client
type fakeSteam struct {
	mu        sync.Mutex
	items     map[string]string // id64 -> item name; absent means empty inventory
	forbidden map[string]bool
	throttle  map[string]int // 429s left before success
	broken    map[string]bool
	members   map[string][][]string
	delay     time.Duration
	calls     []string
}

func newFakeSteam() *fakeSteam {
	return &fakeSteam{
		items:     map[string]string{},
		forbidden: map[string]bool{},
		throttle:  map[string]int{},
		broken:    map[string]bool{},
		members:   map[string][][]string{},
	}
}

func (f *fakeSteam) GetInventoryPage(ctx context.Context, id, _ string) (*steam.InventoryPage, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)

	switch {
	case f.forbidden[id]:
		return nil, errors.New(errors.ErrorTypeForbidden, "403")
	case f.broken[id]:
		return nil, errors.New(errors.ErrorTypeNetwork, "connection reset")
	case f.throttle[id] > 0:
		f.throttle[id]--
		return nil, errors.New(errors.ErrorTypeRateLimit, "429")
	}
	if name, ok := f.items[id]; ok {
		return itemPage(name), nil
	}
	return &steam.InventoryPage{Success: true}, nil
}

func (f *fakeSteam) GetGroupMembersPage(_ context.Context, group string, page int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := f.members[group]

	var b strings.Builder
	fmt.Fprintf(&b, "<memberList><totalPages>%d</totalPages><members>", len(pages))
	if page-1 < len(pages) {
		for _, id := range pages[page-1] {
			fmt.Fprintf(&b, "<steamID64>%s</steamID64>", id)
		}
	}
	b.WriteString("</members></memberList>")
	return []byte(b.String()), nil
}

func (f *fakeSteam) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == id {
			n++
		}
	}
	return n
}

type fakeClient struct {
	*fakeSteam
	name string
}

func (c fakeClient) Label() string { return c.name }

func newPool(t *testing.T, upstream *fakeSteam, workers int) *worker.Pool {
	t.Helper()
	clients := make([]worker.Client, workers)
	for i := range clients {
		clients[i] = fakeClient{fakeSteam: upstream, name: fmt.Sprintf("proxy-%d", i)}
	}
	p, err := worker.NewPoolWithClients(clients, worker.Options{
		Gate:       gate.Options{MinBackoff: 10 * time.Millisecond, MaxBackoff: 10 * time.Millisecond, PollInterval: time.Millisecond},
		SharedGate: true,
	})
	require.NoError(t, err)
	return p
}

func newOrchestrator(s store.Store, opts Options) *Orchestrator {
	return New(
		s,
		discovery.NewFeed(s, 2, nil, nil),
		inventory.NewFetcher(3, nil),
		canonical.New(s, nil, nil),
		reconcile.New(s, 100, nil, nil),
		opts,
	)
}

// recorder is an Observer collecting results
type recorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (r *recorder) AccountDone(_, result string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = map[string]int{}
	}
	r.results[result]++
}

func seed(t *testing.T, s store.Store, ids ...string) {
	t.Helper()
	_, err := s.InsertAccounts(context.Background(), ids)
	require.NoError(t, err)
}

func TestQuotaIsExactForAnyWorkerCount(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 8} {
		t.Run(fmt.Sprintf("%d workers", workers), func(t *testing.T) {
			ctx := context.Background()
			s := store.NewMemoryStore()
			upstream := newFakeSteam()
			upstream.delay = time.Millisecond
			for i := 0; i < 40; i++ {
				seed(t, s, id64(i))
				upstream.items[id64(i)] = "Case A"
			}

			rec := &recorder{}
			o := newOrchestrator(s, Options{BatchCap: 3, Observer: rec, Logger: logger.NewTestLogger()})
			state, err := o.Run(ctx, 7, newPool(t, upstream, workers))
			require.NoError(t, err)

			mapped, err := s.CountMappedWithInventory(ctx)
			require.NoError(t, err)
			assert.Equal(t, 7, mapped)
			assert.Equal(t, 7, state.Mapped)
			assert.Equal(t, 7, state.MappedThisRun)
			assert.Equal(t, 7, rec.results[ResultMapped])
			assert.Equal(t, checkpoint.StopTargetReached, state.StopReason)
			assert.Equal(t, state.Discarded, rec.results[ResultDiscarded])
			assert.Equal(t, state.Discarded, state.OrphansDeleted, "discarded work leaves only orphans")

			all, err := s.ItemStackIDs(ctx)
			require.NoError(t, err)
			owned, err := s.OwnedItemStackIDs(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, owned, all, "no orphan survives the run")
		})
	}
}

func TestForbiddenAccountIsMappedWithoutInventory(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	upstream := newFakeSteam()
	seed(t, s, id64(1), id64(2), id64(3))
	upstream.forbidden[id64(1)] = true
	upstream.items[id64(3)] = "Case A"

	rec := &recorder{}
	state, err := newOrchestrator(s, Options{Observer: rec}).Run(ctx, 1, newPool(t, upstream, 1))
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Mapped)
	assert.Equal(t, 1, stats.MappedWithInventory)
	assert.Equal(t, 2, state.Empty, "forbidden and empty inventories do not count")
	assert.Equal(t, 1, state.Mapped)
	assert.Equal(t, 2, rec.results[ResultEmpty])
}

func TestThrottledAccountIsRetried(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	upstream := newFakeSteam()
	seed(t, s, id64(1))
	upstream.items[id64(1)] = "Case A"
	upstream.throttle[id64(1)] = 1

	pool := newPool(t, upstream, 1)
	start := time.Now()
	state, err := newOrchestrator(s, Options{}).Run(ctx, 1, pool)
	require.NoError(t, err)

	assert.Equal(t, 1, state.Mapped)
	assert.Equal(t, 1, state.Failed)
	assert.Equal(t, 2, upstream.callCount(id64(1)))
	assert.Equal(t, 1, pool.Gates().For(0).Trips())
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond, "the retry waited for the cooldown")
}

func TestAccountSkippedAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	upstream := newFakeSteam()
	seed(t, s, id64(1))
	upstream.broken[id64(1)] = true

	state, err := newOrchestrator(s, Options{MaxAttempts: 2}).Run(ctx, 5, newPool(t, upstream, 2))
	require.NoError(t, err)

	assert.Equal(t, 2, upstream.callCount(id64(1)))
	assert.Equal(t, 2, state.Failed)
	assert.Equal(t, 0, state.Mapped)
	assert.Equal(t, checkpoint.StopExhausted, state.StopReason)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Mapped)
	assert.Equal(t, 1, stats.Claimed, "an exhausted account stays claimed until the next run")
}

func TestDiscoveryFeedsWorkers(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	upstream := newFakeSteam()
	upstream.members["alpha"] = [][]string{{id64(1), id64(2)}, {id64(3), id64(4)}, {id64(5)}}
	for i := 1; i <= 5; i++ {
		upstream.items[id64(i)] = "Case A"
	}

	o := newOrchestrator(s, Options{Groups: []string{"alpha"}, DiscoveryStep: 2})
	state, err := o.Run(ctx, 3, newPool(t, upstream, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, state.Mapped)
	assert.Equal(t, checkpoint.StopTargetReached, state.StopReason)

	n, err := s.CountAccounts(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 3)
}

func TestExhaustedCandidatesEndTheRun(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	upstream := newFakeSteam()
	upstream.members["alpha"] = [][]string{{id64(1)}}
	upstream.items[id64(1)] = "Case A"

	state, err := newOrchestrator(s, Options{Groups: []string{"alpha"}}).Run(ctx, 10, newPool(t, upstream, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, state.Mapped)
	assert.Equal(t, checkpoint.StopExhausted, state.StopReason)
}

// mapAccount stores id as mapped with one item stack
func mapAccount(t *testing.T, s store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	seed(t, s, id)
	stack := &model.ItemStack{
		Type:   &model.ItemType{Name: &model.Name{Value: "Case A"}, Category: &model.Category{Value: "Container"}},
		Amount: 1,
	}
	require.NoError(t, canonical.New(s, nil, nil).Stacks(ctx, []*model.ItemStack{stack}))
	require.NoError(t, s.InsertItemStacks(ctx, []*model.ItemStack{stack}))
	require.NoError(t, s.SaveMappedAccount(ctx, &model.MappedAccount{
		ID64:      id,
		Inventory: &model.Inventory{Stacks: []*model.ItemStack{stack}},
	}))
}

func TestResumeCountsEarlierRuns(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	mapAccount(t, s, id64(1))
	mapAccount(t, s, id64(2))
	upstream := newFakeSteam()
	seed(t, s, id64(3), id64(4))
	upstream.items[id64(3)] = "Case B"
	upstream.items[id64(4)] = "Case B"

	state, err := newOrchestrator(s, Options{}).Run(ctx, 3, newPool(t, upstream, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, state.Mapped)
	assert.Equal(t, 1, state.MappedThisRun)

	// a finished quota does no upstream work at all
	upstream.calls = nil
	state, err = newOrchestrator(s, Options{}).Run(ctx, 3, newPool(t, upstream, 1))
	require.NoError(t, err)
	assert.Empty(t, upstream.calls)
	assert.Equal(t, 0, state.MappedThisRun)
	assert.Equal(t, checkpoint.StopTargetReached, state.StopReason)
}

func TestOrphansAreSweptAfterRun(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	upstream := newFakeSteam()

	orphan := &model.ItemStack{
		Type:   &model.ItemType{Name: &model.Name{Value: "Case Z"}, Category: &model.Category{Value: "Container"}},
		Amount: 1,
	}
	require.NoError(t, canonical.New(s, nil, nil).Stacks(ctx, []*model.ItemStack{orphan}))
	require.NoError(t, s.InsertItemStacks(ctx, []*model.ItemStack{orphan}))

	state, err := newOrchestrator(s, Options{}).Run(ctx, 1, newPool(t, upstream, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, state.OrphansDeleted)

	all, err := s.ItemStackIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// duplicateStore reports two rows for every item type lookup
type duplicateStore struct {
	*store.MemoryStore
}

func (duplicateStore) FindItemTypes(context.Context, store.ItemTypeRecord) ([]int64, error) {
	return []int64{1, 2}, nil
}

func TestInvariantViolationAbortsRun(t *testing.T) {
	s := duplicateStore{store.NewMemoryStore()}
	upstream := newFakeSteam()
	for i := 0; i < 10; i++ {
		seed(t, s, id64(i))
		upstream.items[id64(i)] = "Case A"
	}

	state, err := newOrchestrator(s, Options{}).Run(context.Background(), 5, newPool(t, upstream, 2))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, checkpoint.StopFailed, state.StopReason)
	assert.NotEmpty(t, state.Error)
}

func TestCancelledRunStopsCleanly(t *testing.T) {
	s := store.NewMemoryStore()
	upstream := newFakeSteam()
	seed(t, s, id64(1))
	upstream.items[id64(1)] = "Case A"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := newOrchestrator(s, Options{}).Run(ctx, 1, newPool(t, upstream, 2))
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StopCancelled, state.StopReason)
	assert.Empty(t, upstream.calls)

	batch, err := s.NextUnclaimedCandidateIDs(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{id64(1)}, batch, "nothing is left claimed")
}

func TestRunRejectsNonPositiveTarget(t *testing.T) {
	_, err := newOrchestrator(store.NewMemoryStore(), Options{}).Run(context.Background(), 0, newPool(t, newFakeSteam(), 1))
	assert.Error(t, err)
}

func TestBatchSize(t *testing.T) {
	o := newOrchestrator(store.NewMemoryStore(), Options{BatchCap: 10})
	o.target, o.mapped, o.workers = 100, 0, 4
	assert.Equal(t, 10, o.batchSize(), "capped")

	o.mapped = 90
	assert.Equal(t, 3, o.batchSize(), "ceil(10/4)")

	o.mapped = 100
	assert.Equal(t, 1, o.batchSize(), "never below one")
}
