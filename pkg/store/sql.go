package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"invcrawler/pkg/logger"
	"invcrawler/pkg/model"
)

// maxInList bounds the ids bound into one IN (...) clause
const maxInList = 500

var leafTables = map[model.LeafKind]string{
	model.LeafName:     "names",
	model.LeafSet:      "sets",
	model.LeafCategory: "categories",
}

// SQLStore implements Store on database/sql
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  logger.Logger
}

// OpenSQLite opens (and creates) the SQLite database at path in WAL mode
func OpenSQLite(ctx context.Context, path string, log logger.Logger) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLStore{db: db, dialect: sqliteDialect, logger: logger.OrNop(log)}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.WithField("path", path).Info("SQLite store ready")
	return s, nil
}

// OpenPostgres connects to PostgreSQL through the pgx stdlib driver
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int, log logger.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 10
	}

	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	s := &SQLStore{db: db, dialect: postgresDialect, logger: logger.OrNop(log)}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.WithField("max_open_conns", maxOpenConns).Info("PostgreSQL store ready")
	return s, nil
}

func (s *SQLStore) init(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping %s: %w", s.dialect.name, err)
	}

	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

// queryIDs runs a query returning a single integer column
func (s *SQLStore) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// insertOrFind inserts a row keyed by a unique constraint and returns its
// id, falling back to the existing row when the insert conflicts
func (s *SQLStore) insertOrFind(ctx context.Context, insert, find string, args ...interface{}) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(insert), args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err := s.db.QueryRowContext(ctx, s.q(find), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLStore) FindLeaf(ctx context.Context, kind model.LeafKind, value string) ([]int64, error) {
	table, ok := leafTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown leaf kind %d", kind)
	}
	ids, err := s.queryIDs(ctx, `SELECT id FROM `+table+` WHERE value = ?`, value)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", kind, err)
	}
	return ids, nil
}

func (s *SQLStore) InsertLeaf(ctx context.Context, kind model.LeafKind, value string) (int64, error) {
	table, ok := leafTables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown leaf kind %d", kind)
	}
	id, err := s.insertOrFind(ctx,
		`INSERT INTO `+table+` (value) VALUES (?) ON CONFLICT (value) DO NOTHING RETURNING id`,
		`SELECT id FROM `+table+` WHERE value = ?`,
		value)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s: %w", kind, err)
	}
	return id, nil
}

func (s *SQLStore) FindStickers(ctx context.Context, name string, finish model.StickerFinish) ([]int64, error) {
	ids, err := s.queryIDs(ctx, `SELECT id FROM stickers WHERE name = ? AND finish = ?`, name, int(finish))
	if err != nil {
		return nil, fmt.Errorf("failed to find sticker: %w", err)
	}
	return ids, nil
}

func (s *SQLStore) InsertSticker(ctx context.Context, name string, finish model.StickerFinish) (int64, error) {
	id, err := s.insertOrFind(ctx,
		`INSERT INTO stickers (name, finish) VALUES (?, ?) ON CONFLICT (name, finish) DO NOTHING RETURNING id`,
		`SELECT id FROM stickers WHERE name = ? AND finish = ?`,
		name, int(finish))
	if err != nil {
		return 0, fmt.Errorf("failed to insert sticker: %w", err)
	}
	return id, nil
}

func itemTypeArgs(rec ItemTypeRecord) []interface{} {
	return []interface{}{rec.NameID, rec.SetID, rec.CategoryID, rec.Exterior, rec.Rarity, int(rec.Variant), rec.MarketHashNameID}
}

const itemTypeWhere = `name_id = ? AND set_id = ? AND category_id = ? AND exterior = ? AND rarity = ? AND variant = ? AND market_hash_name_id = ?`

func (s *SQLStore) FindItemTypes(ctx context.Context, rec ItemTypeRecord) ([]int64, error) {
	ids, err := s.queryIDs(ctx, `SELECT id FROM item_types WHERE `+itemTypeWhere, itemTypeArgs(rec)...)
	if err != nil {
		return nil, fmt.Errorf("failed to find item type: %w", err)
	}
	return ids, nil
}

func (s *SQLStore) InsertItemType(ctx context.Context, rec ItemTypeRecord) (int64, error) {
	id, err := s.insertOrFind(ctx,
		`INSERT INTO item_types (name_id, set_id, category_id, exterior, rarity, variant, market_hash_name_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name_id, set_id, category_id, exterior, rarity, variant, market_hash_name_id) DO NOTHING
		RETURNING id`,
		`SELECT id FROM item_types WHERE `+itemTypeWhere,
		itemTypeArgs(rec)...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert item type: %w", err)
	}
	return id, nil
}

func (s *SQLStore) InsertAccounts(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO accounts (id64, claimed, created_at) VALUES (?, 0, ?) ON CONFLICT (id64) DO NOTHING`))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	added := 0
	for _, id64 := range lo.Uniq(ids) {
		res, err := stmt.ExecContext(ctx, id64, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert account %s: %w", id64, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			added += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return added, nil
}

func (s *SQLStore) AccountExists(ctx context.Context, id64 string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM accounts WHERE id64 = ?`), id64).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up account: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) CountAccounts(ctx context.Context) (int, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM accounts`)
	if err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

func (s *SQLStore) CountMappedWithInventory(ctx context.Context) (int, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM mapped_accounts WHERE inventory_id IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to count mapped accounts: %w", err)
	}
	return n, nil
}

func (s *SQLStore) NextUnclaimedCandidateIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `UPDATE accounts SET claimed = 1
		WHERE seq IN (
			SELECT a.seq FROM accounts a
			WHERE a.claimed = 0
			AND NOT EXISTS (SELECT 1 FROM mapped_accounts m WHERE m.id64 = a.id64)
			ORDER BY a.seq
			LIMIT ?` + s.dialect.lockCandidates + `
		)
		RETURNING id64`

	rows, err := s.db.QueryContext(ctx, s.q(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id64 string
		if err := rows.Scan(&id64); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		ids = append(ids, id64)
	}
	return ids, rows.Err()
}

func (s *SQLStore) ReleaseCandidates(ctx context.Context, ids []string) error {
	for _, chunk := range lo.Chunk(ids, maxInList) {
		args := lo.Map(chunk, func(id string, _ int) interface{} { return id })
		query := `UPDATE accounts SET claimed = 0 WHERE id64 IN (` + placeholders(len(chunk)) + `)`
		if _, err := s.db.ExecContext(ctx, s.q(query), args...); err != nil {
			return fmt.Errorf("failed to release candidates: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) ResetClaims(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE accounts SET claimed = 0 WHERE claimed <> 0`); err != nil {
		return fmt.Errorf("failed to reset claims: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveMappedAccount(ctx context.Context, acc *model.MappedAccount) error {
	if acc.MappedAt.IsZero() {
		acc.MappedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inventoryID sql.NullInt64
	if acc.Inventory != nil {
		var id int64
		err := tx.QueryRowContext(ctx, s.q(`INSERT INTO inventories (created_at) VALUES (?) RETURNING id`), acc.MappedAt.Unix()).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert inventory: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO inventory_stacks (inventory_id, position, stack_id) VALUES (?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for pos, stack := range acc.Inventory.Stacks {
			if stack.ID == 0 {
				return fmt.Errorf("item stack at position %d was never inserted", pos)
			}
			if _, err := stmt.ExecContext(ctx, id, pos, stack.ID); err != nil {
				return fmt.Errorf("failed to link item stack %d: %w", stack.ID, err)
			}
		}
		inventoryID = sql.NullInt64{Int64: id, Valid: true}
	}

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO mapped_accounts (id64, inventory_id, mapped_at) VALUES (?, ?, ?)`),
		acc.ID64, inventoryID, acc.MappedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert mapped account %s: %w", acc.ID64, err)
	}

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE accounts SET claimed = 0 WHERE id64 = ?`), acc.ID64); err != nil {
		return fmt.Errorf("failed to release account %s: %w", acc.ID64, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	if acc.Inventory != nil {
		acc.Inventory.ID = inventoryID.Int64
	}
	return nil
}

func (s *SQLStore) InsertItemStacks(ctx context.Context, stacks []*model.ItemStack) error {
	if len(stacks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stackStmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO item_stacks (item_type_id, amount, name_tag, stored_count) VALUES (?, ?, ?, ?) RETURNING id`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stackStmt.Close()

	stickerStmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO item_stack_stickers (stack_id, slot, sticker_id) VALUES (?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stickerStmt.Close()

	ids := make([]int64, len(stacks))
	for i, stack := range stacks {
		if stack.Type == nil || stack.Type.ID == 0 {
			return fmt.Errorf("item stack has no canonical item type")
		}

		nameTag := sql.NullString{String: stack.NameTag, Valid: stack.NameTag != ""}
		var storedCount sql.NullInt64
		if stack.StoredCount != nil {
			storedCount = sql.NullInt64{Int64: int64(*stack.StoredCount), Valid: true}
		}

		if err := stackStmt.QueryRowContext(ctx, stack.Type.ID, stack.Amount, nameTag, storedCount).Scan(&ids[i]); err != nil {
			return fmt.Errorf("failed to insert item stack: %w", err)
		}
		for slot, st := range stack.Stickers {
			if st.ID == 0 {
				return fmt.Errorf("sticker %q is not canonical", st.Name)
			}
			if _, err := stickerStmt.ExecContext(ctx, ids[i], slot, st.ID); err != nil {
				return fmt.Errorf("failed to insert sticker slot: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for i, stack := range stacks {
		stack.ID = ids[i]
	}
	return nil
}

func (s *SQLStore) ItemStackIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.queryIDs(ctx, `SELECT id FROM item_stacks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list item stacks: %w", err)
	}
	return ids, nil
}

func (s *SQLStore) OwnedItemStackIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.queryIDs(ctx, `SELECT DISTINCT stack_id FROM inventory_stacks ORDER BY stack_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owned item stacks: %w", err)
	}
	return ids, nil
}

func (s *SQLStore) DeleteItemStacks(ctx context.Context, ids []int64) (int, error) {
	deleted := 0
	for _, chunk := range lo.Chunk(ids, maxInList) {
		n, err := s.deleteStackChunk(ctx, chunk)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

func (s *SQLStore) deleteStackChunk(ctx context.Context, ids []int64) (int, error) {
	args := lo.Map(ids, func(id int64, _ int) interface{} { return id })
	in := placeholders(len(ids))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM item_stack_stickers WHERE stack_id IN (`+in+`)`), args...); err != nil {
		return 0, fmt.Errorf("failed to delete sticker slots: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM item_stacks WHERE id IN (`+in+`)`), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete item stacks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted item stacks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	counts := []struct {
		dst   *int
		query string
	}{
		{&st.Accounts, `SELECT COUNT(*) FROM accounts`},
		{&st.Claimed, `SELECT COUNT(*) FROM accounts WHERE claimed <> 0`},
		{&st.Mapped, `SELECT COUNT(*) FROM mapped_accounts`},
		{&st.MappedWithInventory, `SELECT COUNT(*) FROM mapped_accounts WHERE inventory_id IS NOT NULL`},
		{&st.ItemTypes, `SELECT COUNT(*) FROM item_types`},
		{&st.ItemStacks, `SELECT COUNT(*) FROM item_stacks`},
		{&st.Stickers, `SELECT COUNT(*) FROM stickers`},
	}
	for _, c := range counts {
		n, err := s.count(ctx, c.query)
		if err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
		*c.dst = n
	}
	return st, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var _ Store = (*SQLStore)(nil)
