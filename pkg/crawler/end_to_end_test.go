package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
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
	"invcrawler/pkg/gate"
	"invcrawler/pkg/inventory"
	"invcrawler/pkg/reconcile"
	"invcrawler/pkg/steam"
	"invcrawler/pkg/store"
)

const inventoryJSON = `{
  "assets": [
    {"appid": 730, "contextid": "2", "assetid": "101", "classid": "1", "instanceid": "0", "amount": "1"},
    {"appid": 730, "contextid": "2", "assetid": "102", "classid": "2", "instanceid": "0", "amount": "1"},
    {"appid": 730, "contextid": "2", "assetid": "103", "classid": "2", "instanceid": "0", "amount": "1"}
  ],
  "descriptions": [
    {
      "appid": 730, "classid": "1", "instanceid": "0",
      "name": "StatTrak™ AK-47 | Redline",
      "market_hash_name": "StatTrak™ AK-47 | Redline (Field-Tested)",
      "type": "StatTrak™ Classified Rifle",
      "tags": [
        {"category": "Type", "localized_tag_name": "Rifle"},
        {"category": "Exterior", "localized_tag_name": "Field-Tested"},
        {"category": "Rarity", "localized_tag_name": "Classified"}
      ],
      "descriptions": [
        {"type": "html", "value": "<br><div id=\"sticker_info\"><center>Sticker: Crown (Foil), Titan | Katowice 2014</center></div>"}
      ]
    },
    {
      "appid": 730, "classid": "2", "instanceid": "0",
      "name": "Operation Breakout Weapon Case",
      "market_hash_name": "Operation Breakout Weapon Case",
      "type": "Base Grade Container"
    }
  ],
  "total_inventory_count": 3,
  "success": 1
}`

// mockSteam serves inventory and member listing pages over HTTP
type mockSteam struct {
	server *httptest.Server

	mu        sync.Mutex
	members   []string
	private   map[string]bool
	throttle  map[string]int
	requests  map[string]int
	throttled int
}

func newMockSteam(t *testing.T, members []string) *mockSteam {
	m := &mockSteam{
		members:  members,
		private:  make(map[string]bool),
		throttle: make(map[string]int),
		requests: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/inventory/", m.handleInventory)
	mux.HandleFunc("/groups/", m.handleMembers)
	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockSteam) handleInventory(w http.ResponseWriter, r *http.Request) {
	// /inventory/{id64}/730/2
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 {
		http.NotFound(w, r)
		return
	}
	id := parts[1]

	m.mu.Lock()
	m.requests[id]++
	private := m.private[id]
	throttled := m.throttle[id] > 0
	if throttled {
		m.throttle[id]--
		m.throttled++
	}
	m.mu.Unlock()

	switch {
	case throttled:
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "null")
	case private:
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "null")
	default:
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, inventoryJSON)
	}
}

func (m *mockSteam) handleMembers(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("p")
	w.Header().Set("Content-Type", "text/xml")

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?><memberList>`)
	b.WriteString(`<groupID64>103582791429521408</groupID64><totalPages>1</totalPages><members>`)
	if page == "1" {
		for _, id := range m.members {
			fmt.Fprintf(&b, "<steamID64>%s</steamID64>", id)
		}
	}
	b.WriteString(`</members></memberList>`)
	fmt.Fprint(w, b.String())
}

func TestEndToEndOverHTTPWithSQLite(t *testing.T) {
	ctx := context.Background()

	s, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "crawl.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	ids := []string{id64(1), id64(2), id64(3), id64(4), id64(5), id64(6)}
	upstream := newMockSteam(t, ids)
	upstream.private[id64(1)] = true
	upstream.throttle[id64(3)] = 1

	pool, err := worker.NewPool(worker.Options{
		Proxies:    []string{"direct", "direct"},
		Steam:      steam.Options{BaseURL: upstream.server.URL, Timeout: 5 * time.Second},
		Gate:       gate.Options{MinBackoff: 20 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, PollInterval: time.Millisecond},
		SharedGate: true,
	})
	require.NoError(t, err)

	o := New(
		s,
		discovery.NewFeed(s, steam.MemberPageSize, nil, nil),
		inventory.NewFetcher(3, nil),
		canonical.New(s, nil, nil),
		reconcile.New(s, 100, nil, nil),
		Options{Groups: []string{"alpha"}},
	)

	state, err := o.Run(ctx, 4, pool)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StopTargetReached, state.StopReason)
	assert.Equal(t, 4, state.Mapped)
	assert.GreaterOrEqual(t, state.Empty, 1, "the private inventory is recorded")

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Accounts)
	assert.Equal(t, 4, stats.MappedWithInventory)
	assert.Equal(t, state.Empty, stats.Mapped-stats.MappedWithInventory)
	assert.Equal(t, 2, stats.ItemTypes, "item types are shared across inventories")
	assert.Equal(t, 2, stats.Stickers)
	assert.Equal(t, 0, stats.Claimed)

	all, err := s.ItemStackIDs(ctx)
	require.NoError(t, err)
	owned, err := s.OwnedItemStackIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, owned, all)
	assert.Len(t, owned, 8, "two stacks per mapped inventory")

	upstream.mu.Lock()
	defer upstream.mu.Unlock()
	assert.Equal(t, 1, upstream.requests[id64(1)], "a private inventory is not retried")
	if upstream.throttled > 0 {
		assert.Equal(t, 1, pool.Gates().For(0).Trips())
	}
}
