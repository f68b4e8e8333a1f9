package storage

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'user',
	plan_id TEXT NOT NULL,
	storage_used BIGINT NOT NULL DEFAULT 0,
	usage_seconds BIGINT NOT NULL DEFAULT 0,
	last_usage_reset TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	max_storage_mb BIGINT NOT NULL DEFAULT 0,
	allowed_kinds TEXT[] NOT NULL DEFAULT '{}',
	daily_limit_hours INTEGER NOT NULL DEFAULT 0,
	max_active_streams INTEGER NOT NULL DEFAULT 0,
	max_destinations INTEGER NOT NULL DEFAULT 0,
	price_text TEXT NOT NULL DEFAULT '',
	features_text TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS folders (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	parent_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS folders_owner_idx ON folders (owner_id)`,
	`CREATE TABLE IF NOT EXISTS media_items (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	path TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	kind TEXT NOT NULL,
	folder_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS media_items_owner_idx ON media_items (owner_id)`,
	`CREATE TABLE IF NOT EXISTS destinations (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	platform TEXT NOT NULL DEFAULT '',
	ingest_url TEXT NOT NULL,
	stream_key TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS destinations_owner_idx ON destinations (owner_id)`,
}

// ensureSchema creates the tables on first start. Statements are idempotent
// so replicas racing on boot do not conflict.
func (r *PostgresRepository) ensureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// seedPlans inserts the built-in tiers without touching rows an operator may
// have tuned since.
func (r *PostgresRepository) seedPlans(ctx context.Context) error {
	for _, plan := range defaultPlans() {
		_, err := r.pool.Exec(ctx, `
INSERT INTO plans (id, name, max_storage_mb, allowed_kinds, daily_limit_hours, max_active_streams, max_destinations, price_text, features_text)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING
`, plan.ID, plan.Name, plan.MaxStorageMB, kindsToStrings(plan.AllowedKinds), plan.DailyLimitHours, plan.MaxActiveStreams, plan.MaxDestinations, plan.PriceText, plan.FeaturesText)
		if err != nil {
			return fmt.Errorf("seed plan %s: %w", plan.ID, err)
		}
	}
	return nil
}
