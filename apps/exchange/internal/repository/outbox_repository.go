package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"exchange/apps/exchange/internal/model"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OutboxRepository hands fill events from the outbox table to the publisher.
type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

func storeOutboxEvent(ctx context.Context, db execer, event model.OutboxEvent) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO event_outbox (event_id, event_type, status, order_id, pair_key, event_blob)
		VALUES ($1, $2, 'unsent', $3, $4, $5)
	`, event.EventID, event.EventType, event.OrderID, event.PairKey, []byte(event.EventBlob))

	if err != nil {
		return fmt.Errorf("%w: failed to store outbox event: %w", model.ErrStorageFailure, err)
	}
	return nil
}

func (o *OutboxRepository) GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	// Use a transaction to ensure atomicity
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	// Select and lock unsent events for processing
	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, event_type, status, order_id, pair_key, event_blob, created_at
		FROM event_outbox
		WHERE status = 'unsent'
		ORDER BY created_at, order_id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outboxEvents []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.EventType, &event.Status,
			&event.OrderID, &event.PairKey, &event.EventBlob, &event.CreatedAt); err != nil {
			return nil, err
		}
		outboxEvents = append(outboxEvents, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	// Mark selected events as 'processing' to prevent other instances from picking them up
	for _, event := range outboxEvents {
		_, err = tx.ExecContext(ctx, `
			UPDATE event_outbox
			SET status = 'processing'
			WHERE event_id = $1 AND status = 'unsent'
		`, event.EventID)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return outboxEvents, nil
}

func (o *OutboxRepository) MarkEventAsSent(ctx context.Context, eventID string) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'sent'
		WHERE event_id = $1
	`, eventID)
	return err
}

// MarkEventAsFailed returns the event to 'unsent' so the next tick retries it.
func (o *OutboxRepository) MarkEventAsFailed(ctx context.Context, eventID string) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'unsent'
		WHERE event_id = $1 AND status = 'processing'
	`, eventID)
	return err
}
