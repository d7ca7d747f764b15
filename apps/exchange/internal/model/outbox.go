package model

import (
	"encoding/json"
	"time"
)

// OutboxEvent is a fill event waiting to be shipped to Kafka.
type OutboxEvent struct {
	EventID   string          `db:"event_id"`
	EventType string          `db:"event_type"`
	Status    string          `db:"status"` // "unsent", "processing" or "sent"
	OrderID   int64           `db:"order_id"`
	PairKey   string          `db:"pair_key"`
	EventBlob json.RawMessage `db:"event_blob"`
	CreatedAt time.Time       `db:"created_at"`
}
