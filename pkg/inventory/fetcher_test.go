package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invcrawler/pkg/errors"
	"invcrawler/pkg/gate"
	"invcrawler/pkg/logger"
	"invcrawler/pkg/model"
	"invcrawler/pkg/steam"
)

// scriptedSource serves pages keyed by start asset id
type scriptedSource struct {
	mu     sync.Mutex
	pages  map[string]*steam.InventoryPage
	errs   map[string]error
	err    error
	calls  []string
	onCall func()
}

func (s *scriptedSource) GetInventoryPage(ctx context.Context, id64, start string) (*steam.InventoryPage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, start)
	onCall := s.onCall
	s.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	if s.err != nil {
		return nil, s.err
	}
	if err := s.errs[start]; err != nil {
		return nil, err
	}
	return s.pages[start], nil
}

func desc(class, name string) steam.Description {
	return steam.Description{
		ClassID:        class,
		InstanceID:     "0",
		Name:           name,
		MarketHashName: name,
		Type:           "Base Grade Container",
	}
}

func assets(class string, n int) []steam.Asset {
	out := make([]steam.Asset, n)
	for i := range out {
		out[i] = steam.Asset{ClassID: class, InstanceID: "0", Amount: "1"}
	}
	return out
}

func clearGate() *gate.Gate {
	return gate.New(gate.Options{MinBackoff: time.Hour, MaxBackoff: time.Hour, PollInterval: time.Millisecond})
}

func amounts(stacks []*model.ItemStack) map[string]int {
	out := make(map[string]int)
	for _, s := range stacks {
		out[s.Type.Name.Value] += s.Amount
	}
	return out
}

func TestFetchMergesPages(t *testing.T) {
	page1 := &steam.InventoryPage{
		Assets:       append(assets("1", 3), assets("2", 2)...),
		Descriptions: []steam.Description{desc("1", "Case A"), desc("2", "Case B")},
		MoreItems:    true,
		LastAssetID:  "p1",
		Success:      true,
	}
	page2 := &steam.InventoryPage{
		Assets:       append(assets("1", 1), assets("3", 5)...),
		Descriptions: []steam.Description{desc("1", "Case A"), desc("3", "Case C")},
		Success:      true,
	}
	src := &scriptedSource{pages: map[string]*steam.InventoryPage{"": page1, "p1": page2}}

	f := NewFetcher(3, logger.NewTestLogger())
	stacks, outcome, err := f.FetchInventory(context.Background(), src, clearGate(), "76561198000000001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)

	assert.Equal(t, map[string]int{"Case A": 4, "Case B": 2, "Case C": 5}, amounts(stacks))
	require.Len(t, stacks, 3)
	assert.Equal(t, "Case A", stacks[0].Type.Name.Value, "stacks keep first-appearance order")
	assert.Equal(t, []string{"", "p1"}, src.calls)
}

func TestFetchSumsClassesWithEqualStackKeys(t *testing.T) {
	// two instance ids that describe the same item
	a := desc("7", "Sticker | Crown (Foil)")
	b := a
	b.InstanceID = "188530139"
	page := &steam.InventoryPage{
		Assets: []steam.Asset{
			{ClassID: "7", InstanceID: "0", Amount: "2"},
			{ClassID: "7", InstanceID: "188530139", Amount: "3"},
		},
		Descriptions: []steam.Description{a, b},
		Success:      true,
	}
	src := &scriptedSource{pages: map[string]*steam.InventoryPage{"": page}}

	stacks, _, err := NewFetcher(3, nil).FetchInventory(context.Background(), src, clearGate(), "76561198000000001")
	require.NoError(t, err)
	require.Len(t, stacks, 1)
	assert.Equal(t, 5, stacks[0].Amount)
}

func TestFetchFirstDescriptionWins(t *testing.T) {
	log := logger.NewTestLogger()
	page1 := &steam.InventoryPage{
		Assets:       assets("1", 1),
		Descriptions: []steam.Description{desc("1", "Original")},
		MoreItems:    true,
		LastAssetID:  "p1",
		Success:      true,
	}
	page2 := &steam.InventoryPage{
		Assets:       assets("1", 1),
		Descriptions: []steam.Description{desc("1", "Impostor")},
		Success:      true,
	}
	src := &scriptedSource{pages: map[string]*steam.InventoryPage{"": page1, "p1": page2}}

	stacks, _, err := NewFetcher(3, log).FetchInventory(context.Background(), src, clearGate(), "76561198000000001")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Original": 2}, amounts(stacks))
	assert.True(t, log.HasMessage("conflicting description for class, keeping the first"))
}

func TestFetchConflictInStickersIsDetected(t *testing.T) {
	log := logger.NewTestLogger()
	plain := desc("1", "AK-47 | Redline")
	stickered := plain
	stickered.Descriptions = []steam.DescriptionRow{
		{Type: "html", Value: `<br><div id="sticker_info"><center>Sticker: Crown (Foil)</center></div>`},
	}
	page1 := &steam.InventoryPage{
		Assets:       assets("1", 1),
		Descriptions: []steam.Description{plain},
		MoreItems:    true,
		LastAssetID:  "p1",
		Success:      true,
	}
	page2 := &steam.InventoryPage{
		Assets:       assets("1", 1),
		Descriptions: []steam.Description{stickered},
		Success:      true,
	}
	src := &scriptedSource{pages: map[string]*steam.InventoryPage{"": page1, "p1": page2}}

	stacks, _, err := NewFetcher(3, log).FetchInventory(context.Background(), src, clearGate(), "76561198000000001")
	require.NoError(t, err)
	require.Len(t, stacks, 1)
	assert.Empty(t, stacks[0].Stickers, "the first description is kept")
	assert.True(t, log.HasMessage("conflicting description for class, keeping the first"))
}

func TestFetchForbiddenAfterFirstPageIsRetryable(t *testing.T) {
	page1 := &steam.InventoryPage{
		Assets:       assets("1", 2),
		Descriptions: []steam.Description{desc("1", "Case A")},
		MoreItems:    true,
		LastAssetID:  "p1",
		Success:      true,
	}
	src := &scriptedSource{
		pages: map[string]*steam.InventoryPage{"": page1},
		errs:  map[string]error{"p1": errors.New(errors.ErrorTypeForbidden, "private")},
	}

	stacks, outcome, err := NewFetcher(3, nil).FetchInventory(context.Background(), src, clearGate(), "76561198000000001")
	assert.Error(t, err)
	assert.Nil(t, stacks)
	assert.Equal(t, OutcomeUnsuccessful, outcome)
	assert.True(t, outcome.Retryable())
	assert.Equal(t, []string{"", "p1"}, src.calls)
}

func TestFetchStopsAtPageLimit(t *testing.T) {
	pages := map[string]*steam.InventoryPage{}
	starts := []string{"", "p1", "p2", "p3"}
	for i, start := range starts {
		next := ""
		if i+1 < len(starts) {
			next = starts[i+1]
		}
		pages[start] = &steam.InventoryPage{
			Assets:       assets("1", 1),
			Descriptions: []steam.Description{desc("1", "Case A")},
			MoreItems:    steam.Flag(next != ""),
			LastAssetID:  next,
			Success:      true,
		}
	}
	src := &scriptedSource{pages: pages}
	log := logger.NewTestLogger()

	stacks, outcome, err := NewFetcher(3, log).FetchInventory(context.Background(), src, clearGate(), "76561198000000001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, []string{"", "p1", "p2"}, src.calls, "a fourth page is never requested")
	assert.Equal(t, 3, stacks[0].Amount)
	assert.True(t, log.HasMessage("inventory truncated"))
}

func TestFetchOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     Outcome
		wantErr  bool
		wantTrip bool
	}{
		{"forbidden", errors.New(errors.ErrorTypeForbidden, "private"), OutcomeForbidden, false, false},
		{"rate limited", errors.New(errors.ErrorTypeRateLimit, "429"), OutcomeRateLimited, true, true},
		{"unsuccessful", errors.New(errors.ErrorTypeUnsuccessful, "success 0"), OutcomeUnsuccessful, true, true},
		{"malformed", errors.New(errors.ErrorTypeMalformed, "bad json"), OutcomeUnsuccessful, true, true},
		{"transport", errors.New(errors.ErrorTypeNetwork, "reset"), OutcomeTransport, true, false},
		{"server error", errors.New(errors.ErrorTypeServerError, "502"), OutcomeTransport, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := clearGate()
			src := &scriptedSource{err: tt.err}

			stacks, outcome, err := NewFetcher(3, nil).FetchInventory(context.Background(), src, g, "76561198000000001")
			assert.Nil(t, stacks)
			assert.Equal(t, tt.want, outcome)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.wantTrip, g.Blocked())
		})
	}
}

func TestOutcomeRetryable(t *testing.T) {
	assert.False(t, OutcomeOK.Retryable())
	assert.False(t, OutcomeForbidden.Retryable())
	assert.True(t, OutcomeRateLimited.Retryable())
	assert.True(t, OutcomeUnsuccessful.Retryable())
	assert.True(t, OutcomeTransport.Retryable())
}

func TestThrottledWorkerPausesGateSharers(t *testing.T) {
	g := gate.New(gate.Options{MinBackoff: 60 * time.Millisecond, MaxBackoff: 80 * time.Millisecond, PollInterval: 2 * time.Millisecond})

	var (
		mu       sync.Mutex
		requests []time.Time
	)
	record := func() {
		mu.Lock()
		requests = append(requests, time.Now())
		mu.Unlock()
	}

	throttled := &scriptedSource{err: errors.New(errors.ErrorTypeRateLimit, "429"), onCall: record}
	_, outcome, _ := NewFetcher(3, nil).FetchInventory(context.Background(), throttled, g, "76561198000000001")
	require.Equal(t, OutcomeRateLimited, outcome)
	until := g.CooldownUntil()

	mu.Lock()
	requests = nil
	mu.Unlock()

	ok := &steam.InventoryPage{Assets: assets("1", 1), Descriptions: []steam.Description{desc("1", "Case A")}, Success: true}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src := &scriptedSource{pages: map[string]*steam.InventoryPage{"": ok}, onCall: record}
			_, outcome, err := NewFetcher(3, nil).FetchInventory(context.Background(), src, g, "76561198000000002")
			assert.NoError(t, err)
			assert.Equal(t, OutcomeOK, outcome)
		}()
	}
	wg.Wait()

	require.Len(t, requests, 4)
	for _, at := range requests {
		assert.False(t, at.Before(until), "request issued during cooldown")
	}
}
