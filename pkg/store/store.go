// Package store persists accounts, canonical item entities and inventories.
//
// Three backends implement Store: an in-memory store used by tests and dry
// runs, SQLite (modernc.org/sqlite, no cgo) and PostgreSQL through pgx.
// Canonical rows are only ever inserted; item stacks are the one entity the
// crawler deletes, and only when no inventory owns them.
package store

import (
	"context"
	"fmt"
	"time"

	"invcrawler/pkg/config"
	"invcrawler/pkg/logger"
	"invcrawler/pkg/model"
	"invcrawler/pkg/retry"
)

// ItemTypeRecord is the persisted natural key of an item type. Absent
// references are zero and absent strings are empty.
type ItemTypeRecord struct {
	NameID           int64
	SetID            int64
	CategoryID       int64
	Exterior         string
	Rarity           string
	Variant          model.SpecialVariant
	MarketHashNameID int64
}

// CanonicalStore finds and inserts the shared, immutable item entities.
// Find methods return every matching row so callers can detect duplicates.
type CanonicalStore interface {
	FindLeaf(ctx context.Context, kind model.LeafKind, value string) ([]int64, error)
	InsertLeaf(ctx context.Context, kind model.LeafKind, value string) (int64, error)
	FindStickers(ctx context.Context, name string, finish model.StickerFinish) ([]int64, error)
	InsertSticker(ctx context.Context, name string, finish model.StickerFinish) (int64, error)
	FindItemTypes(ctx context.Context, rec ItemTypeRecord) ([]int64, error)
	InsertItemType(ctx context.Context, rec ItemTypeRecord) (int64, error)
}

// AccountStore tracks discovered accounts, their claims and their mapping
type AccountStore interface {
	// InsertAccounts adds unknown ids and returns how many were new
	InsertAccounts(ctx context.Context, ids []string) (int, error)
	AccountExists(ctx context.Context, id64 string) (bool, error)
	CountAccounts(ctx context.Context) (int, error)
	CountMappedWithInventory(ctx context.Context) (int, error)
	// NextUnclaimedCandidateIDs claims up to limit unmapped, unclaimed
	// accounts in discovery order
	NextUnclaimedCandidateIDs(ctx context.Context, limit int) ([]string, error)
	ReleaseCandidates(ctx context.Context, ids []string) error
	ResetClaims(ctx context.Context) error
	// SaveMappedAccount persists the mapped account together with its
	// inventory in one transaction. The inventory's stacks must already be
	// inserted.
	SaveMappedAccount(ctx context.Context, acc *model.MappedAccount) error
}

// StackStore persists item stacks
type StackStore interface {
	// InsertItemStacks assigns ids to stacks whose type and stickers are canonical
	InsertItemStacks(ctx context.Context, stacks []*model.ItemStack) error
	ItemStackIDs(ctx context.Context) ([]int64, error)
	// OwnedItemStackIDs returns the ids of stacks reachable from an inventory
	OwnedItemStackIDs(ctx context.Context) ([]int64, error)
	DeleteItemStacks(ctx context.Context, ids []int64) (int, error)
}

// Store is the full persistence surface of the crawler
type Store interface {
	CanonicalStore
	AccountStore
	StackStore
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Stats summarizes the stored data
type Stats struct {
	Accounts            int `json:"accounts"`
	Claimed             int `json:"claimed"`
	Mapped              int `json:"mapped"`
	MappedWithInventory int `json:"mapped_with_inventory"`
	ItemTypes           int `json:"item_types"`
	ItemStacks          int `json:"item_stacks"`
	Stickers            int `json:"stickers"`
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open creates the store selected by cfg.Driver and checks the connection,
// retrying while the database is unreachable.
func Open(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (Store, error) {
	log = logger.OrNop(log)

	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Backoff = &retry.ExponentialBackoff{
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
	retryCfg.Logger = log
	retryCfg.RetryIf = func(err error) bool {
		return retry.DefaultRetryIf(err) && cfg.Driver == DriverPostgres
	}

	s, err := retry.DoWithResult(ctx, func(ctx context.Context) (*SQLStore, error) {
		if cfg.Driver == DriverSQLite {
			return OpenSQLite(ctx, cfg.Path, log)
		}
		return OpenPostgres(ctx, cfg.DSN, cfg.MaxOpenConns, log)
	}, retryCfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
