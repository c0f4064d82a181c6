package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the engine's table layout. Monetary and share columns are
// NUMERIC so decimal values round-trip exactly.
const schema = `
CREATE TABLE IF NOT EXISTS markets (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	category      TEXT NOT NULL DEFAULT '',
	yes_reserve   NUMERIC NOT NULL,
	no_reserve    NUMERIC NOT NULL,
	total_volume  NUMERIC NOT NULL DEFAULT 0,
	spread_bps    BIGINT NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	resolution    TEXT,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	market_id     TEXT NOT NULL REFERENCES markets(id),
	side          TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	quantity      NUMERIC NOT NULL,
	price         NUMERIC NOT NULL,
	filled        NUMERIC NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	seq           BIGINT NOT NULL,
	cancel_reason TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS orders_user_idx ON orders (user_id, seq DESC);
CREATE INDEX IF NOT EXISTS orders_market_open_idx ON orders (market_id) WHERE status IN ('open', 'partially_filled');

CREATE TABLE IF NOT EXISTS fills (
	id             TEXT PRIMARY KEY,
	market_id      TEXT NOT NULL REFERENCES markets(id),
	taker_order_id TEXT NOT NULL,
	maker_order_id TEXT NOT NULL DEFAULT '',
	taker_user_id  TEXT NOT NULL,
	maker_user_id  TEXT NOT NULL DEFAULT '',
	kind           TEXT NOT NULL,
	side           TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	quantity       NUMERIC NOT NULL,
	price          NUMERIC NOT NULL,
	executed_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS fills_market_idx ON fills (market_id, executed_at DESC);
CREATE INDEX IF NOT EXISTS fills_recent_idx ON fills (executed_at DESC);
`

// Migrate applies the schema. Safe to call on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
