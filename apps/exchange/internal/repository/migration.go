package repository

import (
	"database/sql"
	"fmt"
)

// InitMigration creates the orders, log and event_outbox tables if they are missing.
func InitMigration(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			sender_pk VARCHAR(128) NOT NULL,
			receiver_pk VARCHAR(128) NOT NULL,
			buy_currency VARCHAR(50) NOT NULL,
			sell_currency VARCHAR(50) NOT NULL,
			buy_amount NUMERIC NOT NULL CHECK (buy_amount > 0),
			sell_amount NUMERIC NOT NULL CHECK (sell_amount > 0),
			signature TEXT NOT NULL DEFAULT '',
			filled TIMESTAMPTZ,
			counterparty_id BIGINT REFERENCES orders (id),
			creator_id BIGINT REFERENCES orders (id),
			CONSTRAINT filled_with_counterparty CHECK ((filled IS NULL) = (counterparty_id IS NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_unfilled_pair ON orders (buy_currency, sell_currency, id) WHERE filled IS NULL`,
		`CREATE TABLE IF NOT EXISTS log (
			id BIGSERIAL PRIMARY KEY,
			logtime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			message TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
			event_id UUID PRIMARY KEY,
			event_type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			order_id BIGINT NOT NULL REFERENCES orders (id),
			pair_key VARCHAR(101) NOT NULL,
			event_blob JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_outbox_unsent ON event_outbox (created_at, order_id) WHERE status = 'unsent'`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}
