package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"exchange/apps/exchange/internal/events"
	"exchange/apps/exchange/internal/model"
	"exchange/apps/exchange/internal/repository"
)

// Engine matches admitted orders against the resting book of the ledger.
//
// A submission and every residual it spawns are processed while holding the
// pair's lock, and each match step runs in one ledger unit of work: the candidate
// query, both fill updates, the residual insert and the fill event either all
// commit or none do.
type Engine struct {
	ledger repository.Ledger
	locks  *pairLocks
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates an engine over ledger with lockShards pair lock shards.
func NewEngine(ledger repository.Ledger, lockShards int, logger *zap.Logger) *Engine {
	return &Engine{
		ledger: ledger,
		locks:  newPairLocks(lockShards),
		logger: logger,
		now:    time.Now,
	}
}

// Submit persists a newly admitted order and matches it, then matches any residual
// child orders until one rests or is fully filled. On success order carries its
// assigned id and, if matched, its fill fields.
//
// A context that is already done rejects the order. Once processing starts the
// chain runs to completion even if ctx is canceled later.
func (e *Engine) Submit(ctx context.Context, order *model.Order) error {
	if order == nil {
		return fmt.Errorf("%w: nil order", model.ErrInvariantViolation)
	}
	if order.ID != 0 || !order.IsResting() {
		return fmt.Errorf("%w: submitted order must be new and unfilled", model.ErrInvariantViolation)
	}
	if err := order.Validate(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}
	ctx = context.WithoutCancel(ctx)

	pairKey := order.PairKey()
	unlock := e.locks.Lock(pairKey)
	defer unlock()

	// Residuals are worked off iteratively; each child has strictly smaller
	// amounts than its parent and every match retires a resting order.
	depth := 0
	for current := order; current != nil; depth++ {
		child, err := e.processOrder(ctx, current)
		if err != nil {
			e.logger.Error("Failed to process order",
				zap.String("pair", pairKey),
				zap.Int64("order_id", current.ID),
				zap.Int("depth", depth),
				zap.Error(err))
			return err
		}
		current = child
	}

	return nil
}

// processOrder runs one match step for order and returns the residual child it
// created, if any. order is updated only after the step commits.
func (e *Engine) processOrder(ctx context.Context, order *model.Order) (*model.Order, error) {
	var (
		working model.Order
		child   *model.Order
	)

	err := e.ledger.WithinTx(ctx, order.PairKey(), func(tx repository.LedgerTx) error {
		working, child = *order, nil

		if working.ID == 0 {
			if _, err := tx.Insert(ctx, &working); err != nil {
				return err
			}
		}

		candidates, err := tx.QueryUnfilled(ctx, working.SellCurrency, working.BuyCurrency)
		if err != nil {
			return err
		}

		resting := firstCrossing(&working, candidates)
		if resting == nil {
			e.logger.Debug("Order resting",
				zap.Int64("order_id", working.ID),
				zap.Int("candidates", len(candidates)))
			return nil
		}

		filledAt := e.now().UTC()
		if err := tx.UpdateFill(ctx, working.ID, filledAt, resting.ID); err != nil {
			return err
		}
		if err := tx.UpdateFill(ctx, resting.ID, filledAt, working.ID); err != nil {
			return err
		}

		parent, buyAmount, sellAmount, partial := residual(&working, resting)
		working.Filled, working.CounterpartyID = &filledAt, &resting.ID

		// When order is the one left short it only received what resting offered.
		filledBuy, filledSell := working.BuyAmount, working.SellAmount
		if partial && parent == &working {
			filledBuy, filledSell = resting.SellAmount, resting.BuyAmount
		}

		if partial {
			child, err = model.NewChildOrder(parent, buyAmount, sellAmount)
			if err != nil {
				return err
			}
			if _, err := tx.Insert(ctx, child); err != nil {
				return err
			}
		}

		event := events.FillEvent{
			EventID:        uuid.New().String(),
			EventType:      events.FillEventType,
			OrderID:        working.ID,
			CounterpartyID: resting.ID,
			BuyCurrency:    working.BuyCurrency,
			SellCurrency:   working.SellCurrency,
			BuyAmount:      filledBuy,
			SellAmount:     filledSell,
			FilledAt:       filledAt,
			Timestamp:      time.Now().UTC(),
		}
		if child != nil {
			event.ChildOrderID = &child.ID
		}
		if err := tx.RecordFill(ctx, event); err != nil {
			return err
		}

		fields := []zap.Field{
			zap.Int64("order_id", working.ID),
			zap.Int64("counterparty_id", resting.ID),
			zap.String("buy_currency", working.BuyCurrency),
			zap.String("sell_currency", working.SellCurrency),
		}
		if child != nil {
			fields = append(fields,
				zap.Int64("child_order_id", child.ID),
				zap.Int64("creator_id", *child.CreatorID),
				zap.String("residual_buy", child.BuyAmount.String()),
				zap.String("residual_sell", child.SellAmount.String()))
		}
		e.logger.Info("Matched order", fields...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	*order = working
	return child, nil
}

// Snapshot returns the public projection of every order in the book, filled or not.
func (e *Engine) Snapshot(ctx context.Context) ([]model.PublicOrder, error) {
	orders, err := e.ledger.ListOrders(ctx)
	if err != nil {
		return nil, err
	}

	book := make([]model.PublicOrder, 0, len(orders))
	for i := range orders {
		book = append(book, orders[i].Public())
	}
	return book, nil
}

// firstCrossing returns the earliest candidate whose offered rate is at least as
// good as the one order asks for. The comparison is cross-multiplied so it stays exact.
func firstCrossing(order *model.Order, candidates []model.Order) *model.Order {
	for i := range candidates {
		if crosses(order, &candidates[i]) {
			return &candidates[i]
		}
	}
	return nil
}

// crosses reports resting.sell * order.sell >= order.buy * resting.buy for a
// resting order on the opposite side of the pair.
func crosses(order, resting *model.Order) bool {
	if resting.ID == order.ID || !resting.IsResting() {
		return false
	}
	if resting.SellCurrency != order.BuyCurrency || resting.BuyCurrency != order.SellCurrency {
		return false
	}
	offered := resting.SellAmount.Mul(order.SellAmount)
	asked := order.BuyAmount.Mul(resting.BuyAmount)
	return offered.GreaterThanOrEqual(asked)
}

// residual computes the unmatched remainder of a match. At most one side is left
// partially satisfied; the submitted order is checked first. Under the crossing
// condition both branches cannot hold together, since they would imply
// resting.sell * order.sell < order.buy * resting.buy.
func residual(order, resting *model.Order) (parent *model.Order, buyAmount, sellAmount decimal.Decimal, ok bool) {
	switch {
	case resting.SellAmount.LessThan(order.BuyAmount):
		return order, order.BuyAmount.Sub(resting.SellAmount), order.SellAmount.Sub(resting.BuyAmount), true
	case order.SellAmount.LessThan(resting.BuyAmount):
		return resting, resting.BuyAmount.Sub(order.SellAmount), resting.SellAmount.Sub(order.BuyAmount), true
	default:
		return nil, decimal.Zero, decimal.Zero, false
	}
}
