package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"exchange/apps/exchange/internal/model"
)

// LogRepository is the Postgres audit log of rejected submissions.
type LogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewLogRepository(db *sql.DB, logger *zap.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

func (r *LogRepository) Record(ctx context.Context, raw []byte) error {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO log (message) VALUES ($1) RETURNING id
	`, string(raw)).Scan(&id)

	if err != nil {
		return fmt.Errorf("%w: failed to record log message: %w", model.ErrStorageFailure, err)
	}

	r.logger.Info("Recorded rejected submission", zap.Int64("log_id", id), zap.Int("size", len(raw)))
	return nil
}

// GetRecentEntries returns the newest entries first.
func (r *LogRepository) GetRecentEntries(ctx context.Context, limit int) ([]model.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, logtime, message
		FROM log
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get log entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var entry model.LogEntry
		if err := rows.Scan(&entry.ID, &entry.LogTime, &entry.Message); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log entries: %w", err)
	}

	return entries, nil
}
