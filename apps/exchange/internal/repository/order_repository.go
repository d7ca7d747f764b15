package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"exchange/apps/exchange/internal/events"
	"exchange/apps/exchange/internal/model"
)

const orderColumns = `id, sender_pk, receiver_pk, buy_currency, sell_currency, buy_amount, sell_amount, signature, filled, counterparty_id, creator_id`

// OrderRepository is the Postgres ledger. Units of work for one pair are serialized
// with a transaction-scoped advisory lock, so concurrent service instances never
// match the same resting order twice.
type OrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOrderRepository(db *sql.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

func (r *OrderRepository) WithinTx(ctx context.Context, pairKey string, fn func(tx LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", model.ErrStorageFailure, err)
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	// Every statement after the lock sees all commits made by earlier holders.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, pairKey); err != nil {
		return fmt.Errorf("%w: failed to lock pair %s: %w", model.ErrStorageFailure, pairKey, err)
	}

	if err := fn(&orderTx{tx: tx, logger: r.logger}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %w", model.ErrStorageFailure, err)
	}
	return nil
}

func (r *OrderRepository) ListOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list orders: %w", model.ErrStorageFailure, err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// GetOrderByID returns nil when the order does not exist.
func (r *OrderRepository) GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)

	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to get order by ID: %w", model.ErrStorageFailure, err)
	}
	return order, nil
}

type orderTx struct {
	tx     *sql.Tx
	logger *zap.Logger
}

func (t *orderTx) Insert(ctx context.Context, order *model.Order) (int64, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO orders (sender_pk, receiver_pk, buy_currency, sell_currency, buy_amount, sell_amount, signature, filled, counterparty_id, creator_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, $8)
		RETURNING id
	`, order.SenderPK, order.ReceiverPK, order.BuyCurrency, order.SellCurrency, order.BuyAmount, order.SellAmount, order.Signature, order.CreatorID).Scan(&order.ID)

	if err != nil {
		return 0, fmt.Errorf("%w: failed to create order: %w", model.ErrStorageFailure, err)
	}

	t.logger.Info("Created order",
		zap.Int64("order_id", order.ID),
		zap.String("buy_currency", order.BuyCurrency),
		zap.String("sell_currency", order.SellCurrency),
		zap.String("buy_amount", order.BuyAmount.String()),
		zap.String("sell_amount", order.SellAmount.String()))
	return order.ID, nil
}

func (t *orderTx) UpdateFill(ctx context.Context, orderID int64, filledAt time.Time, counterpartyID int64) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET filled = $2, counterparty_id = $3
		WHERE id = $1 AND filled IS NULL
	`, orderID, filledAt, counterpartyID)
	if err != nil {
		return fmt.Errorf("%w: failed to update order fill: %w", model.ErrStorageFailure, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to read affected rows: %w", model.ErrStorageFailure, err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("%w: failed to check order existence: %w", model.ErrStorageFailure, err)
	}
	if !exists {
		return fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	return fmt.Errorf("order %d: %w", orderID, ErrAlreadyFilled)
}

func (t *orderTx) QueryUnfilled(ctx context.Context, buyCurrency, sellCurrency string) ([]model.Order, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE filled IS NULL AND buy_currency = $1 AND sell_currency = $2
		ORDER BY id
		FOR UPDATE
	`, buyCurrency, sellCurrency)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query unfilled orders: %w", model.ErrStorageFailure, err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (t *orderTx) RecordFill(ctx context.Context, event events.FillEvent) error {
	blob, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal fill event: %w", err)
	}

	return storeOutboxEvent(ctx, t.tx, model.OutboxEvent{
		EventID:   event.EventID,
		EventType: event.EventType,
		OrderID:   event.OrderID,
		PairKey:   model.PairKey(event.BuyCurrency, event.SellCurrency),
		EventBlob: blob,
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var order model.Order
	err := row.Scan(&order.ID, &order.SenderPK, &order.ReceiverPK, &order.BuyCurrency, &order.SellCurrency,
		&order.BuyAmount, &order.SellAmount, &order.Signature, &order.Filled, &order.CounterpartyID, &order.CreatorID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan order: %w", model.ErrStorageFailure, err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating orders: %w", model.ErrStorageFailure, err)
	}
	return orders, nil
}
