package repository

import (
	"context"
	"fmt"
	"time"

	"exchange/apps/exchange/internal/events"
	"exchange/apps/exchange/internal/model"
)

var (
	// ErrAlreadyFilled is returned when a fill would overwrite an existing fill.
	ErrAlreadyFilled = fmt.Errorf("%w: order already filled", model.ErrInvariantViolation)

	// ErrOrderNotFound is returned when a fill targets an order the ledger does not hold.
	ErrOrderNotFound = fmt.Errorf("%w: order not found", model.ErrInvariantViolation)
)

// LedgerTx is the view of the ledger inside one isolated unit of work.
type LedgerTx interface {
	// Insert stores a resting order, assigns its id and returns it.
	Insert(ctx context.Context, order *model.Order) (int64, error)
	// UpdateFill marks a resting order filled. It fails with ErrAlreadyFilled instead of overwriting.
	UpdateFill(ctx context.Context, orderID int64, filledAt time.Time, counterpartyID int64) error
	// QueryUnfilled returns resting orders buying buyCurrency with sellCurrency, ascending id.
	QueryUnfilled(ctx context.Context, buyCurrency, sellCurrency string) ([]model.Order, error)
	// RecordFill queues a fill event for publication, committed with the fill itself.
	RecordFill(ctx context.Context, event events.FillEvent) error
}

// Ledger is the durable order collection used by the matching engine.
type Ledger interface {
	// WithinTx runs fn as one atomic unit, serialized against other units for the same pair.
	// Nothing fn wrote is observable if it returns an error.
	WithinTx(ctx context.Context, pairKey string, fn func(tx LedgerTx) error) error
	// ListOrders returns every order, filled or not, ascending id.
	ListOrders(ctx context.Context) ([]model.Order, error)
}

// AuditLog records submissions rejected before reaching the engine.
type AuditLog interface {
	Record(ctx context.Context, raw []byte) error
}
