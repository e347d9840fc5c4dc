package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"invcrawler/pkg/model"
)

type stickerKey struct {
	name   string
	finish model.StickerFinish
}

type memAccount struct {
	seq       int64
	claimed   bool
	createdAt time.Time
}

type memMapped struct {
	inventoryID int64
	mappedAt    time.Time
}

type memStack struct {
	itemTypeID  int64
	amount      int
	nameTag     string
	storedCount *int
	stickerIDs  []int64
}

// MemoryStore keeps everything in process memory
type MemoryStore struct {
	mu sync.Mutex

	leaves    map[model.LeafKind]map[string]int64
	stickers  map[stickerKey]int64
	itemTypes map[ItemTypeRecord]int64

	accounts    map[string]*memAccount
	mapped      map[string]memMapped
	inventories map[int64][]int64
	stacks      map[int64]*memStack

	nextID int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leaves: map[model.LeafKind]map[string]int64{
			model.LeafName:     {},
			model.LeafSet:      {},
			model.LeafCategory: {},
		},
		stickers:    make(map[stickerKey]int64),
		itemTypes:   make(map[ItemTypeRecord]int64),
		accounts:    make(map[string]*memAccount),
		mapped:      make(map[string]memMapped),
		inventories: make(map[int64][]int64),
		stacks:      make(map[int64]*memStack),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func found(id int64, ok bool) []int64 {
	if !ok {
		return nil
	}
	return []int64{id}
}

func (m *MemoryStore) FindLeaf(_ context.Context, kind model.LeafKind, value string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.leaves[kind][value]
	return found(id, ok), nil
}

func (m *MemoryStore) InsertLeaf(_ context.Context, kind model.LeafKind, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.leaves[kind]
	if !ok {
		return 0, fmt.Errorf("unknown leaf kind %d", kind)
	}
	if id, ok := table[value]; ok {
		return id, nil
	}
	id := m.id()
	table[value] = id
	return id, nil
}

func (m *MemoryStore) FindStickers(_ context.Context, name string, finish model.StickerFinish) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.stickers[stickerKey{name, finish}]
	return found(id, ok), nil
}

func (m *MemoryStore) InsertSticker(_ context.Context, name string, finish model.StickerFinish) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stickerKey{name, finish}
	if id, ok := m.stickers[key]; ok {
		return id, nil
	}
	id := m.id()
	m.stickers[key] = id
	return id, nil
}

func (m *MemoryStore) FindItemTypes(_ context.Context, rec ItemTypeRecord) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.itemTypes[rec]
	return found(id, ok), nil
}

func (m *MemoryStore) InsertItemType(_ context.Context, rec ItemTypeRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.itemTypes[rec]; ok {
		return id, nil
	}
	id := m.id()
	m.itemTypes[rec] = id
	return id, nil
}

func (m *MemoryStore) InsertAccounts(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	added := 0
	for _, id64 := range ids {
		if _, ok := m.accounts[id64]; ok {
			continue
		}
		m.accounts[id64] = &memAccount{seq: m.id(), createdAt: now}
		added++
	}
	return added, nil
}

func (m *MemoryStore) AccountExists(_ context.Context, id64 string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[id64]
	return ok, nil
}

func (m *MemoryStore) CountAccounts(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts), nil
}

func (m *MemoryStore) CountMappedWithInventory(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countMappedWithInventory(), nil
}

func (m *MemoryStore) countMappedWithInventory() int {
	n := 0
	for _, mm := range m.mapped {
		if mm.inventoryID != 0 {
			n++
		}
	}
	return n
}

func (m *MemoryStore) NextUnclaimedCandidateIDs(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		return nil, nil
	}

	var candidates []string
	for id64, acc := range m.accounts {
		if acc.claimed {
			continue
		}
		if _, done := m.mapped[id64]; done {
			continue
		}
		candidates = append(candidates, id64)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return m.accounts[candidates[i]].seq < m.accounts[candidates[j]].seq
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, id64 := range candidates {
		m.accounts[id64].claimed = true
	}
	return candidates, nil
}

func (m *MemoryStore) ReleaseCandidates(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id64 := range ids {
		if acc, ok := m.accounts[id64]; ok {
			acc.claimed = false
		}
	}
	return nil
}

func (m *MemoryStore) ResetClaims(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		acc.claimed = false
	}
	return nil
}

func (m *MemoryStore) SaveMappedAccount(_ context.Context, acc *model.MappedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.mapped[acc.ID64]; ok {
		return fmt.Errorf("account %s is already mapped", acc.ID64)
	}
	if acc.MappedAt.IsZero() {
		acc.MappedAt = time.Now()
	}

	var inventoryID int64
	if acc.Inventory != nil {
		stackIDs := make([]int64, 0, len(acc.Inventory.Stacks))
		for _, s := range acc.Inventory.Stacks {
			if _, ok := m.stacks[s.ID]; !ok {
				return fmt.Errorf("item stack %d does not exist", s.ID)
			}
			stackIDs = append(stackIDs, s.ID)
		}
		inventoryID = m.id()
		m.inventories[inventoryID] = stackIDs
		acc.Inventory.ID = inventoryID
	}

	m.mapped[acc.ID64] = memMapped{inventoryID: inventoryID, mappedAt: acc.MappedAt}
	if a, ok := m.accounts[acc.ID64]; ok {
		a.claimed = false
	}
	return nil
}

func (m *MemoryStore) InsertItemStacks(_ context.Context, stacks []*model.ItemStack) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range stacks {
		if s.Type == nil || s.Type.ID == 0 {
			return fmt.Errorf("item stack has no canonical item type")
		}
		stickerIDs := make([]int64, len(s.Stickers))
		for i, st := range s.Stickers {
			if st.ID == 0 {
				return fmt.Errorf("sticker %q is not canonical", st.Name)
			}
			stickerIDs[i] = st.ID
		}
		s.ID = m.id()
		m.stacks[s.ID] = &memStack{
			itemTypeID:  s.Type.ID,
			amount:      s.Amount,
			nameTag:     s.NameTag,
			storedCount: s.StoredCount,
			stickerIDs:  stickerIDs,
		}
	}
	return nil
}

func (m *MemoryStore) ItemStackIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.stacks))
	for id := range m.stacks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) OwnedItemStackIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, stackIDs := range m.inventories {
		for _, id := range stackIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) DeleteItemStacks(_ context.Context, ids []int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := m.stacks[id]; ok {
			delete(m.stacks, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &Stats{
		Accounts:            len(m.accounts),
		Mapped:              len(m.mapped),
		MappedWithInventory: m.countMappedWithInventory(),
		ItemTypes:           len(m.itemTypes),
		ItemStacks:          len(m.stacks),
		Stickers:            len(m.stickers),
	}
	for _, acc := range m.accounts {
		if acc.claimed {
			st.Claimed++
		}
	}
	return st, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
