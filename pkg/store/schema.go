package store

import (
	"strconv"
	"strings"
)

// dialect captures the SQL differences between the supported databases
type dialect struct {
	name   string
	driver string
	// serial is the auto-increment primary key column type
	serial string
	// lockCandidates is appended to the candidate subquery
	lockCandidates string
	numbered       bool
}

var (
	sqliteDialect = dialect{
		name:   DriverSQLite,
		driver: "sqlite",
		serial: "INTEGER PRIMARY KEY AUTOINCREMENT",
	}
	postgresDialect = dialect{
		name:           DriverPostgres,
		driver:         "pgx",
		serial:         "BIGSERIAL PRIMARY KEY",
		lockCandidates: " FOR UPDATE SKIP LOCKED",
		numbered:       true,
	}
)

// rebind turns ? placeholders into $1, $2, ... for databases that need it
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// schema returns the DDL statements, executed one by one
func (d dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS names (
			id ` + d.serial + `,
			value TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS sets (
			id ` + d.serial + `,
			value TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id ` + d.serial + `,
			value TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS stickers (
			id ` + d.serial + `,
			name TEXT NOT NULL,
			finish INTEGER NOT NULL,
			UNIQUE (name, finish)
		)`,
		`CREATE TABLE IF NOT EXISTS item_types (
			id ` + d.serial + `,
			name_id BIGINT NOT NULL,
			set_id BIGINT NOT NULL DEFAULT 0,
			category_id BIGINT NOT NULL,
			exterior TEXT NOT NULL DEFAULT '',
			rarity TEXT NOT NULL DEFAULT '',
			variant INTEGER NOT NULL DEFAULT 0,
			market_hash_name_id BIGINT NOT NULL DEFAULT 0,
			UNIQUE (name_id, set_id, category_id, exterior, rarity, variant, market_hash_name_id)
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			seq ` + d.serial + `,
			id64 TEXT NOT NULL UNIQUE,
			claimed INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_claimed ON accounts(claimed)`,
		`CREATE TABLE IF NOT EXISTS inventories (
			id ` + d.serial + `,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mapped_accounts (
			id64 TEXT PRIMARY KEY,
			inventory_id BIGINT NULL,
			mapped_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS item_stacks (
			id ` + d.serial + `,
			item_type_id BIGINT NOT NULL,
			amount INTEGER NOT NULL,
			name_tag TEXT NULL,
			stored_count INTEGER NULL
		)`,
		`CREATE TABLE IF NOT EXISTS item_stack_stickers (
			stack_id BIGINT NOT NULL,
			slot INTEGER NOT NULL,
			sticker_id BIGINT NOT NULL,
			PRIMARY KEY (stack_id, slot)
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_stacks (
			inventory_id BIGINT NOT NULL,
			position INTEGER NOT NULL,
			stack_id BIGINT NOT NULL,
			PRIMARY KEY (inventory_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_stacks_stack ON inventory_stacks(stack_id)`,
	}
}
