package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invcrawler/pkg/config"
	"invcrawler/pkg/logger"
	"invcrawler/pkg/model"
)

// backends runs fn against every backend that needs no external service
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"), logger.NewNopLogger())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func id64(n int) string {
	return fmt.Sprintf("765611980%08d", n)
}

func TestLeafInsertIsIdempotent(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		ids, err := s.FindLeaf(ctx, model.LeafName, "AK-47 | Redline")
		require.NoError(t, err)
		assert.Empty(t, ids)

		first, err := s.InsertLeaf(ctx, model.LeafName, "AK-47 | Redline")
		require.NoError(t, err)
		again, err := s.InsertLeaf(ctx, model.LeafName, "AK-47 | Redline")
		require.NoError(t, err)
		assert.Equal(t, first, again)

		ids, err = s.FindLeaf(ctx, model.LeafName, "AK-47 | Redline")
		require.NoError(t, err)
		assert.Equal(t, []int64{first}, ids)

		// same value in another table is another row
		_, err = s.InsertLeaf(ctx, model.LeafCategory, "AK-47 | Redline")
		require.NoError(t, err)
		ids, err = s.FindLeaf(ctx, model.LeafSet, "AK-47 | Redline")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestStickerAndItemTypeInsert(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		holo, err := s.InsertSticker(ctx, "Crown", model.FinishHolo)
		require.NoError(t, err)
		foil, err := s.InsertSticker(ctx, "Crown", model.FinishFoil)
		require.NoError(t, err)
		assert.NotEqual(t, holo, foil)

		ids, err := s.FindStickers(ctx, "Crown", model.FinishHolo)
		require.NoError(t, err)
		assert.Equal(t, []int64{holo}, ids)

		rec := ItemTypeRecord{NameID: 1, CategoryID: 2, Exterior: "Field-Tested", Rarity: "Classified", Variant: model.VariantStatTrak}
		it, err := s.InsertItemType(ctx, rec)
		require.NoError(t, err)
		again, err := s.InsertItemType(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, it, again)

		ids, err = s.FindItemTypes(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, []int64{it}, ids)

		other := rec
		other.Variant = model.VariantNone
		ids, err = s.FindItemTypes(ctx, other)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestAccountsAndClaims(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		added, err := s.InsertAccounts(ctx, []string{id64(1), id64(2), id64(3), id64(1)})
		require.NoError(t, err)
		assert.Equal(t, 3, added)

		added, err = s.InsertAccounts(ctx, []string{id64(3), id64(4)})
		require.NoError(t, err)
		assert.Equal(t, 1, added)

		n, err := s.CountAccounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		exists, err := s.AccountExists(ctx, id64(2))
		require.NoError(t, err)
		assert.True(t, exists)
		exists, err = s.AccountExists(ctx, id64(99))
		require.NoError(t, err)
		assert.False(t, exists)

		batch, err := s.NextUnclaimedCandidateIDs(ctx, 2)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{id64(1), id64(2)}, batch, "candidates come in discovery order")

		batch, err = s.NextUnclaimedCandidateIDs(ctx, 10)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{id64(3), id64(4)}, batch)

		batch, err = s.NextUnclaimedCandidateIDs(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, batch)

		require.NoError(t, s.ReleaseCandidates(ctx, []string{id64(2)}))
		batch, err = s.NextUnclaimedCandidateIDs(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{id64(2)}, batch)

		require.NoError(t, s.ResetClaims(ctx))
		batch, err = s.NextUnclaimedCandidateIDs(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, batch, 4)
	})
}

func TestConcurrentClaimsNeverOverlap(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var ids []string
		for i := 0; i < 100; i++ {
			ids = append(ids, id64(i))
		}
		_, err := s.InsertAccounts(ctx, ids)
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed = map[string]int{}
		)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					batch, err := s.NextUnclaimedCandidateIDs(ctx, 7)
					if !assert.NoError(t, err) || len(batch) == 0 {
						return
					}
					mu.Lock()
					for _, id := range batch {
						claimed[id]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, claimed, 100)
		for id, n := range claimed {
			assert.Equal(t, 1, n, "account %s claimed twice", id)
		}
	})
}

func canonicalStack(t *testing.T, s Store, name string, amount int) *model.ItemStack {
	t.Helper()
	ctx := context.Background()
	nameID, err := s.InsertLeaf(ctx, model.LeafName, name)
	require.NoError(t, err)
	catID, err := s.InsertLeaf(ctx, model.LeafCategory, "Container")
	require.NoError(t, err)
	typeID, err := s.InsertItemType(ctx, ItemTypeRecord{NameID: nameID, CategoryID: catID})
	require.NoError(t, err)
	stickerID, err := s.InsertSticker(ctx, "Crown", model.FinishFoil)
	require.NoError(t, err)

	stored := 3
	return &model.ItemStack{
		Type:        &model.ItemType{ID: typeID},
		Amount:      amount,
		NameTag:     "tagged",
		StoredCount: &stored,
		Stickers:    []*model.Sticker{{ID: stickerID, Name: "Crown", Finish: model.FinishFoil}},
	}
}

func TestMappedAccounts(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.InsertAccounts(ctx, []string{id64(1), id64(2), id64(3)})
		require.NoError(t, err)

		// forbidden: mapped without inventory
		require.NoError(t, s.SaveMappedAccount(ctx, &model.MappedAccount{ID64: id64(1)}))

		stack := canonicalStack(t, s, "Case A", 4)
		require.NoError(t, s.InsertItemStacks(ctx, []*model.ItemStack{stack}))
		require.NotZero(t, stack.ID)

		inv := &model.Inventory{Stacks: []*model.ItemStack{stack}}
		require.NoError(t, s.SaveMappedAccount(ctx, &model.MappedAccount{ID64: id64(2), Inventory: inv}))
		assert.NotZero(t, inv.ID)

		n, err := s.CountMappedWithInventory(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		batch, err := s.NextUnclaimedCandidateIDs(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{id64(3)}, batch, "mapped accounts are no longer candidates")

		assert.Error(t, s.SaveMappedAccount(ctx, &model.MappedAccount{ID64: id64(1)}), "an account maps once")

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Accounts)
		assert.Equal(t, 2, stats.Mapped)
		assert.Equal(t, 1, stats.MappedWithInventory)
		assert.Equal(t, 1, stats.ItemStacks)
		assert.Equal(t, 1, stats.Claimed)
	})
}

func TestStackOwnershipAndDelete(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.InsertAccounts(ctx, []string{id64(1)})
		require.NoError(t, err)

		owned := canonicalStack(t, s, "Case A", 1)
		orphan := canonicalStack(t, s, "Case B", 2)
		require.NoError(t, s.InsertItemStacks(ctx, []*model.ItemStack{owned, orphan}))
		require.NoError(t, s.SaveMappedAccount(ctx, &model.MappedAccount{
			ID64:      id64(1),
			Inventory: &model.Inventory{Stacks: []*model.ItemStack{owned}},
		}))

		all, err := s.ItemStackIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{owned.ID, orphan.ID}, all)

		ownedIDs, err := s.OwnedItemStackIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{owned.ID}, ownedIDs)

		n, err := s.DeleteItemStacks(ctx, []int64{orphan.ID, 987654})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		all, err = s.ItemStackIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{owned.ID}, all)
	})
}

func TestInsertItemStacksRejectsNonCanonical(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		err := s.InsertItemStacks(context.Background(), []*model.ItemStack{{Type: &model.ItemType{}, Amount: 1}})
		assert.Error(t, err)
	})
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT 1 WHERE a = ? AND b = ?", sqliteDialect.rebind("SELECT 1 WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", postgresDialect.rebind("SELECT 1 WHERE a = ? AND b = ?"))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Driver: DriverMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(context.Background(), config.StoreConfig{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "nested", "x.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), config.StoreConfig{Driver: "mongo"}, nil)
	assert.Error(t, err)
}
