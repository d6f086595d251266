package db

import (
	"context"
	"fmt"
	"strings"
)

// schema is written once for both dialects; the {{...}} tokens are
// substituted per driver by dialectSchema.
const schema = `
CREATE TABLE IF NOT EXISTS bots (
    id BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    strategy_type TEXT NOT NULL DEFAULT 'rsi_trend',
    strategy_config TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'active',
    max_drawdown_limit {{dec}} NOT NULL DEFAULT '20',
    monthly_fee {{dec}} NOT NULL DEFAULT '0',
    created_at {{ts}} NOT NULL,
    evicted_at {{ts}}
);

CREATE TABLE IF NOT EXISTS bot_subscriptions (
    id {{serial}},
    user_id TEXT NOT NULL,
    bot_id BIGINT NOT NULL REFERENCES bots(id),
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    allocated_usdt {{dec}} NOT NULL DEFAULT '100',
    started_at {{ts}} NOT NULL,
    ended_at {{ts}},
    expires_at {{ts}}
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_bot_active ON bot_subscriptions(bot_id, is_active);
CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON bot_subscriptions(user_id);

CREATE TABLE IF NOT EXISTS bot_performance (
    id {{serial}},
    bot_id BIGINT NOT NULL REFERENCES bots(id),
    period TEXT NOT NULL,
    win_rate {{dec}} NOT NULL DEFAULT '0',
    monthly_return_pct {{dec}} NOT NULL DEFAULT '0',
    max_drawdown_pct {{dec}} NOT NULL DEFAULT '0',
    sharpe_ratio {{dec}} NOT NULL DEFAULT '0',
    total_trades INTEGER NOT NULL DEFAULT 0,
    calculated_at {{ts}},
    UNIQUE (bot_id, period)
);

CREATE TABLE IF NOT EXISTS wallets (
    id {{serial}},
    user_id TEXT NOT NULL,
    asset TEXT NOT NULL,
    balance {{dec}} NOT NULL DEFAULT '0',
    locked_balance {{dec}} NOT NULL DEFAULT '0',
    CONSTRAINT uq_wallet_user_asset UNIQUE (user_id, asset)
);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    bot_id BIGINT,
    pair TEXT NOT NULL,
    side TEXT NOT NULL,
    type TEXT NOT NULL,
    price {{dec}},
    quantity {{dec}} NOT NULL,
    filled_quantity {{dec}} NOT NULL DEFAULT '0',
    status TEXT NOT NULL,
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user_status ON orders(user_id, status);
CREATE INDEX IF NOT EXISTS idx_orders_bot_status ON orders(bot_id, status);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL REFERENCES orders(id),
    user_id TEXT NOT NULL,
    pair TEXT NOT NULL,
    side TEXT NOT NULL,
    price {{dec}} NOT NULL,
    quantity {{dec}} NOT NULL,
    created_at {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);
`

func dialectSchema(driver string) string {
	r := strings.NewReplacer(
		// Decimals stay TEXT on SQLite so values round-trip without float loss.
		"{{dec}}", "TEXT",
		"{{ts}}", "DATETIME",
		"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
	)
	if driver == DriverPostgres {
		r = strings.NewReplacer(
			"{{dec}}", "NUMERIC(28,10)",
			"{{ts}}", "TIMESTAMPTZ",
			"{{serial}}", "BIGSERIAL PRIMARY KEY",
		)
	}
	return r.Replace(schema)
}

// ApplyMigrations bootstraps the schema; safe to run on every start.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	ctx := context.Background()
	if d.driver == DriverSQLite {
		if _, err := d.DB.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
			return fmt.Errorf("sqlite pragmas: %w", err)
		}
	}
	for _, stmt := range splitStatements(dialectSchema(d.driver)) {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	// Columns added after the first release.
	if err := d.ensureColumn(ctx, "orders", "exchange_order_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

func splitStatements(s string) []string {
	var out []string
	for _, stmt := range strings.Split(s, ";") {
		if strings.TrimSpace(stmt) != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// ensureColumn adds a column if it does not already exist.
func (d *Database) ensureColumn(ctx context.Context, table, column, definition string) error {
	if d.driver == DriverPostgres {
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, column, definition)
		if _, err := d.DB.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
		}
		return nil
	}

	exists, err := d.columnExists(ctx, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := d.DB.ExecContext(ctx, alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func (d *Database) columnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := d.DB.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
