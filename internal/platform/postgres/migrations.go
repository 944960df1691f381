package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id                     TEXT PRIMARY KEY,
		order_number           TEXT NOT NULL UNIQUE,
		store_id               TEXT NOT NULL,
		user_id                TEXT NOT NULL,
		total_price            BIGINT NOT NULL CHECK (total_price >= 0),
		status                 TEXT NOT NULL,
		payment_method         TEXT,
		transaction_id         TEXT,
		paid_at                TIMESTAMPTZ,
		pickup_number          TEXT,
		note                   TEXT,
		stock_deduction_status TEXT NOT NULL DEFAULT 'PENDING',
		created_at             TIMESTAMPTZ NOT NULL,
		updated_at             TIMESTAMPTZ NOT NULL,
		production_started_at  TIMESTAMPTZ,
		completed_at           TIMESTAMPTZ,
		delivered_at           TIMESTAMPTZ,
		cancelled_at           TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS orders_deduction_status_idx ON orders (stock_deduction_status) WHERE stock_deduction_status = 'FAILED'`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id              TEXT PRIMARY KEY,
		order_id        TEXT NOT NULL REFERENCES orders (id),
		position        INT NOT NULL,
		catalog_item_id TEXT NOT NULL,
		name            TEXT NOT NULL,
		image_url       TEXT NOT NULL DEFAULT '',
		options         JSONB NOT NULL DEFAULT '{}'::jsonb,
		quantity        INT NOT NULL CHECK (quantity > 0),
		unit_price      BIGINT NOT NULL,
		subtotal        BIGINT NOT NULL,
		note            TEXT,
		UNIQUE (order_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS pickup_numbers (
		id            TEXT PRIMARY KEY,
		store_id      TEXT NOT NULL,
		order_id      TEXT NOT NULL UNIQUE REFERENCES orders (id),
		ticket        TEXT NOT NULL,
		sequence      INT NOT NULL CHECK (sequence BETWEEN 1 AND 999),
		business_date DATE NOT NULL,
		status        TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		UNIQUE (store_id, business_date, sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_items (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		image_url  TEXT NOT NULL DEFAULT '',
		base_price BIGINT NOT NULL CHECK (base_price >= 0),
		active     BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_item_options (
		item_id          TEXT NOT NULL REFERENCES catalog_items (id),
		option_group     TEXT NOT NULL,
		choice           TEXT NOT NULL,
		price_adjustment BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (item_id, option_group, choice)
	)`,
	`CREATE TABLE IF NOT EXISTS materials (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS recipe_components (
		catalog_item_id   TEXT NOT NULL REFERENCES catalog_items (id),
		material_id       TEXT NOT NULL REFERENCES materials (id),
		position          INT NOT NULL DEFAULT 0,
		quantity_per_unit NUMERIC(18, 4) NOT NULL CHECK (quantity_per_unit > 0),
		PRIMARY KEY (catalog_item_id, material_id)
	)`,
	`CREATE TABLE IF NOT EXISTS material_stocks (
		material_id TEXT NOT NULL REFERENCES materials (id),
		store_id    TEXT NOT NULL,
		on_hand     NUMERIC(18, 4) NOT NULL DEFAULT 0,
		reserved    NUMERIC(18, 4) NOT NULL DEFAULT 0,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (material_id, store_id)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_adjustments (
		id              BIGSERIAL PRIMARY KEY,
		material_id     TEXT NOT NULL,
		store_id        TEXT NOT NULL,
		adjustment_type TEXT NOT NULL,
		quantity        NUMERIC(18, 4) NOT NULL,
		reason_code     TEXT NOT NULL,
		reason_text     TEXT NOT NULL,
		note            TEXT NOT NULL DEFAULT '',
		order_id        TEXT,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stock_adjustments_order_idx ON stock_adjustments (order_id)`,
}

// Migrate applies the idempotent schema statements in order.
func Migrate(ctx context.Context, source PoolSource) error {
	pool, err := source.Pool(ctx)
	if err != nil {
		return err
	}
	for i, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i+1, WrapError("migrate", err))
		}
	}
	return nil
}
