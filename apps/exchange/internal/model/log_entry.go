package model

import (
	"time"
)

// LogEntry is an audit row for a submission rejected by the admission gate.
type LogEntry struct {
	ID      int64     `db:"id"`
	LogTime time.Time `db:"logtime"`
	Message string    `db:"message"`
}
