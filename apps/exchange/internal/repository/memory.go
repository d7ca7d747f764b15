package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"exchange/apps/exchange/internal/events"
	"exchange/apps/exchange/internal/model"
)

// MemoryLedger is a process-local Ledger. Units of work are serialized by a single
// mutex and undone in reverse order when fn fails.
type MemoryLedger struct {
	mu     sync.Mutex
	orders []model.Order // orders[i].ID == i+1
	fills  []events.FillEvent
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) WithinTx(ctx context.Context, pairKey string, fn func(tx LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	tx := &memoryTx{ledger: l}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (l *MemoryLedger) ListOrders(ctx context.Context) ([]model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	orders := make([]model.Order, len(l.orders))
	for i := range l.orders {
		orders[i] = cloneOrder(l.orders[i])
	}
	return orders, nil
}

// Fills returns the committed fill events in match order.
func (l *MemoryLedger) Fills() []events.FillEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	fills := make([]events.FillEvent, len(l.fills))
	copy(fills, l.fills)
	return fills
}

type memoryTx struct {
	ledger *MemoryLedger
	undo   []func()
}

func (t *memoryTx) Insert(ctx context.Context, order *model.Order) (int64, error) {
	l := t.ledger
	order.ID = int64(len(l.orders) + 1)
	l.orders = append(l.orders, cloneOrder(*order))

	t.undo = append(t.undo, func() { l.orders = l.orders[:len(l.orders)-1] })
	return order.ID, nil
}

func (t *memoryTx) UpdateFill(ctx context.Context, orderID int64, filledAt time.Time, counterpartyID int64) error {
	l := t.ledger
	if orderID < 1 || orderID > int64(len(l.orders)) {
		return fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}

	idx := orderID - 1
	if !l.orders[idx].IsResting() {
		return fmt.Errorf("order %d: %w", orderID, ErrAlreadyFilled)
	}

	l.orders[idx].Filled = &filledAt
	l.orders[idx].CounterpartyID = &counterpartyID

	// Later inserts may reallocate l.orders, so undo by index.
	t.undo = append(t.undo, func() {
		l.orders[idx].Filled = nil
		l.orders[idx].CounterpartyID = nil
	})
	return nil
}

func (t *memoryTx) QueryUnfilled(ctx context.Context, buyCurrency, sellCurrency string) ([]model.Order, error) {
	var orders []model.Order
	for _, order := range t.ledger.orders {
		if order.IsResting() && order.BuyCurrency == buyCurrency && order.SellCurrency == sellCurrency {
			orders = append(orders, cloneOrder(order))
		}
	}
	return orders, nil
}

func (t *memoryTx) RecordFill(ctx context.Context, event events.FillEvent) error {
	l := t.ledger
	l.fills = append(l.fills, event)

	t.undo = append(t.undo, func() { l.fills = l.fills[:len(l.fills)-1] })
	return nil
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func cloneOrder(o model.Order) model.Order {
	if o.Filled != nil {
		filled := *o.Filled
		o.Filled = &filled
	}
	if o.CounterpartyID != nil {
		id := *o.CounterpartyID
		o.CounterpartyID = &id
	}
	if o.CreatorID != nil {
		id := *o.CreatorID
		o.CreatorID = &id
	}
	return o
}

// MemoryAuditLog keeps rejected submissions in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []model.LogEntry
}

func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (a *MemoryAuditLog) Record(ctx context.Context, raw []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, model.LogEntry{
		ID:      int64(len(a.entries) + 1),
		LogTime: time.Now().UTC(),
		Message: string(raw),
	})
	return nil
}

func (a *MemoryAuditLog) Entries() []model.LogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := make([]model.LogEntry, len(a.entries))
	copy(entries, a.entries)
	return entries
}
