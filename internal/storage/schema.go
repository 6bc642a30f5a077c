package storage

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS sbc_sets (
		id           BIGSERIAL PRIMARY KEY,
		slug         TEXT NOT NULL UNIQUE,
		url          TEXT NOT NULL DEFAULT '',
		name         TEXT NOT NULL,
		expires_at   TIMESTAMPTZ,
		site_cost    INTEGER,
		rewards      TEXT NOT NULL DEFAULT '[]',
		last_seen_at TIMESTAMPTZ NOT NULL,
		is_active    BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sbc_sets_active ON sbc_sets (is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_sbc_sets_last_seen ON sbc_sets (last_seen_at)`,
	`CREATE TABLE IF NOT EXISTS sbc_challenges (
		id          BIGSERIAL PRIMARY KEY,
		sbc_set_id  BIGINT NOT NULL REFERENCES sbc_sets (id) ON DELETE CASCADE,
		name        TEXT NOT NULL,
		site_cost   INTEGER,
		reward_text TEXT,
		order_index INTEGER NOT NULL DEFAULT 0,
		UNIQUE (sbc_set_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS sbc_requirements (
		id           BIGSERIAL PRIMARY KEY,
		challenge_id BIGINT NOT NULL REFERENCES sbc_challenges (id) ON DELETE CASCADE,
		order_index  INTEGER NOT NULL DEFAULT 0,
		kind         TEXT NOT NULL,
		req_key      TEXT,
		req_op       TEXT,
		req_value    INTEGER,
		req_count    INTEGER,
		rarity       TEXT,
		text         TEXT NOT NULL,
		data         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sbc_requirements_challenge ON sbc_requirements (challenge_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sbc_requirements_kind ON sbc_requirements (kind)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS sbc_sets (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		slug         TEXT NOT NULL UNIQUE,
		url          TEXT NOT NULL DEFAULT '',
		name         TEXT NOT NULL,
		expires_at   TEXT,
		site_cost    INTEGER,
		rewards      TEXT NOT NULL DEFAULT '[]',
		last_seen_at TEXT NOT NULL,
		is_active    INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sbc_sets_active ON sbc_sets (is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_sbc_sets_last_seen ON sbc_sets (last_seen_at)`,
	`CREATE TABLE IF NOT EXISTS sbc_challenges (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		sbc_set_id  INTEGER NOT NULL REFERENCES sbc_sets (id) ON DELETE CASCADE,
		name        TEXT NOT NULL,
		site_cost   INTEGER,
		reward_text TEXT,
		order_index INTEGER NOT NULL DEFAULT 0,
		UNIQUE (sbc_set_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS sbc_requirements (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		challenge_id INTEGER NOT NULL REFERENCES sbc_challenges (id) ON DELETE CASCADE,
		order_index  INTEGER NOT NULL DEFAULT 0,
		kind         TEXT NOT NULL,
		req_key      TEXT,
		req_op       TEXT,
		req_value    INTEGER,
		req_count    INTEGER,
		rarity       TEXT,
		text         TEXT NOT NULL,
		data         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sbc_requirements_challenge ON sbc_requirements (challenge_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sbc_requirements_kind ON sbc_requirements (kind)`,
}

// Migrate creates the catalog schema if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if db.driver == DriverSQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
