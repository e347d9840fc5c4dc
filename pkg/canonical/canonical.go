// Package canonical collapses repeated item descriptors into shared rows.
//
// Every resolution runs under one process-wide mutex, so two workers that
// see the same new item at the same time still produce a single row. A
// natural-key cache sits behind the same lock and spares the store repeat
// lookups.
package canonical

import (
	"context"
	"fmt"
	"sync"

	"invcrawler/pkg/errors"
	"invcrawler/pkg/logger"
	"invcrawler/pkg/metrics"
	"invcrawler/pkg/model"
	"invcrawler/pkg/store"
)

type stickerKey struct {
	name   string
	finish model.StickerFinish
}

// Canonicalizer resolves item entities to their canonical rows
type Canonicalizer struct {
	mu    sync.Mutex
	store store.CanonicalStore

	leaves    map[model.LeafKind]map[string]int64
	stickers  map[stickerKey]int64
	itemTypes map[store.ItemTypeRecord]int64

	logger  logger.Logger
	metrics *metrics.Metrics
}

// New creates a canonicalizer over s
func New(s store.CanonicalStore, log logger.Logger, m *metrics.Metrics) *Canonicalizer {
	return &Canonicalizer{
		store: s,
		leaves: map[model.LeafKind]map[string]int64{
			model.LeafName:     {},
			model.LeafSet:      {},
			model.LeafCategory: {},
		},
		stickers:  make(map[stickerKey]int64),
		itemTypes: make(map[store.ItemTypeRecord]int64),
		logger:    logger.OrNop(log),
		metrics:   m,
	}
}

// Name returns the canonical name row for value
func (c *Canonicalizer) Name(ctx context.Context, value string) (*model.Name, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.leaf(ctx, model.LeafName, value)
	if err != nil {
		return nil, err
	}
	return &model.Name{ID: id, Value: value}, nil
}

// Set returns the canonical set row for value
func (c *Canonicalizer) Set(ctx context.Context, value string) (*model.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.leaf(ctx, model.LeafSet, value)
	if err != nil {
		return nil, err
	}
	return &model.Set{ID: id, Value: value}, nil
}

// Category returns the canonical category row for value
func (c *Canonicalizer) Category(ctx context.Context, value string) (*model.Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.leaf(ctx, model.LeafCategory, value)
	if err != nil {
		return nil, err
	}
	return &model.Category{ID: id, Value: value}, nil
}

// Sticker returns the canonical sticker row for name and finish
func (c *Canonicalizer) Sticker(ctx context.Context, name string, finish model.StickerFinish) (*model.Sticker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.sticker(ctx, name, finish)
	if err != nil {
		return nil, err
	}
	return &model.Sticker{ID: id, Name: name, Finish: finish}, nil
}

// Stickers canonicalizes a sticker list in place, keeping slot order
func (c *Canonicalizer) Stickers(ctx context.Context, stickers []*model.Sticker) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stickerList(ctx, stickers)
}

// Canonicalize resolves every leaf of it and then it itself, filling in the
// ids. More than one persisted row for the natural key is an invariant
// violation and is returned as a fatal error.
func (c *Canonicalizer) Canonicalize(ctx context.Context, it *model.ItemType) (*model.ItemType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.itemType(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// Stacks canonicalizes the item type and stickers of every stack. The lock
// is taken per stack so concurrent workers interleave.
func (c *Canonicalizer) Stacks(ctx context.Context, stacks []*model.ItemStack) error {
	for _, s := range stacks {
		if err := c.stack(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Canonicalizer) stack(ctx context.Context, s *model.ItemStack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.itemType(ctx, s.Type); err != nil {
		return err
	}
	return c.stickerList(ctx, s.Stickers)
}

func (c *Canonicalizer) stickerList(ctx context.Context, stickers []*model.Sticker) error {
	for _, st := range stickers {
		id, err := c.sticker(ctx, st.Name, st.Finish)
		if err != nil {
			return err
		}
		st.ID = id
	}
	return nil
}

// single reduces a find result to at most one id
func single(what string, key interface{}, ids []int64) (int64, bool, error) {
	switch len(ids) {
	case 0:
		return 0, false, nil
	case 1:
		return ids[0], true, nil
	default:
		return 0, false, errors.Invariantf("%d %s rows share the key %v", len(ids), what, key)
	}
}

func (c *Canonicalizer) leaf(ctx context.Context, kind model.LeafKind, value string) (int64, error) {
	if id, ok := c.leaves[kind][value]; ok {
		return id, nil
	}

	ids, err := c.store.FindLeaf(ctx, kind, value)
	if err != nil {
		return 0, err
	}
	id, ok, err := single(kind.String(), value, ids)
	if err != nil {
		return 0, err
	}
	if !ok {
		if id, err = c.store.InsertLeaf(ctx, kind, value); err != nil {
			return 0, err
		}
		c.metrics.CanonicalCreated(kind.String())
	}

	c.leaves[kind][value] = id
	return id, nil
}

func (c *Canonicalizer) sticker(ctx context.Context, name string, finish model.StickerFinish) (int64, error) {
	key := stickerKey{name, finish}
	if id, ok := c.stickers[key]; ok {
		return id, nil
	}

	ids, err := c.store.FindStickers(ctx, name, finish)
	if err != nil {
		return 0, err
	}
	id, ok, err := single("sticker", fmt.Sprintf("%s/%s", name, finish), ids)
	if err != nil {
		return 0, err
	}
	if !ok {
		if id, err = c.store.InsertSticker(ctx, name, finish); err != nil {
			return 0, err
		}
		c.metrics.CanonicalCreated("sticker")
	}

	c.stickers[key] = id
	return id, nil
}

func (c *Canonicalizer) itemType(ctx context.Context, it *model.ItemType) error {
	if it == nil || it.Name == nil || it.Category == nil {
		return fmt.Errorf("item type needs a name and a category")
	}

	rec := store.ItemTypeRecord{
		Exterior: it.Exterior,
		Rarity:   it.Rarity,
		Variant:  it.Variant,
	}

	var err error
	if rec.NameID, err = c.leaf(ctx, model.LeafName, it.Name.Value); err != nil {
		return err
	}
	it.Name.ID = rec.NameID

	if rec.CategoryID, err = c.leaf(ctx, model.LeafCategory, it.Category.Value); err != nil {
		return err
	}
	it.Category.ID = rec.CategoryID

	if it.Set != nil {
		if rec.SetID, err = c.leaf(ctx, model.LeafSet, it.Set.Value); err != nil {
			return err
		}
		it.Set.ID = rec.SetID
	}
	if it.MarketHashName != nil {
		if rec.MarketHashNameID, err = c.leaf(ctx, model.LeafName, it.MarketHashName.Value); err != nil {
			return err
		}
		it.MarketHashName.ID = rec.MarketHashNameID
	}

	if id, ok := c.itemTypes[rec]; ok {
		it.ID = id
		return nil
	}

	ids, err := c.store.FindItemTypes(ctx, rec)
	if err != nil {
		return err
	}
	id, ok, err := single("item type", it.Key(), ids)
	if err != nil {
		c.logger.WithError(err).Error("duplicate item type rows")
		return err
	}
	if !ok {
		if id, err = c.store.InsertItemType(ctx, rec); err != nil {
			return err
		}
		c.metrics.CanonicalCreated("item_type")
	}

	c.itemTypes[rec] = id
	it.ID = id
	return nil
}
