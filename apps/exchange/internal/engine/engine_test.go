package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"exchange/apps/exchange/internal/events"
	"exchange/apps/exchange/internal/model"
	"exchange/apps/exchange/internal/repository"
)

func newTestEngine(t *testing.T) (*Engine, *repository.MemoryLedger) {
	t.Helper()
	ledger := repository.NewMemoryLedger()
	return NewEngine(ledger, 8, zap.NewNop()), ledger
}

// newOrder builds an order buying buy units of buyCurrency for sell units of sellCurrency.
func newOrder(t testing.TB, buyCurrency, sellCurrency, buy, sell string) *model.Order {
	t.Helper()
	order, err := model.NewOrder(model.Submission{
		SenderPK:     "sender-" + sellCurrency,
		ReceiverPK:   "receiver-" + buyCurrency,
		BuyCurrency:  buyCurrency,
		SellCurrency: sellCurrency,
		BuyAmount:    decimal.RequireFromString(buy),
		SellAmount:   decimal.RequireFromString(sell),
		Signature:    "sig",
	})
	if err != nil {
		t.Fatalf("failed to build order: %v", err)
	}
	return order
}

func ordersByID(t *testing.T, ledger *repository.MemoryLedger) map[int64]model.Order {
	t.Helper()
	orders, err := ledger.ListOrders(context.Background())
	require.NoError(t, err)

	byID := make(map[int64]model.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	return byID
}

func TestSubmit_ExactMatchFillsBothWithoutChild(t *testing.T) {
	ctx := context.Background()
	e, ledger := newTestEngine(t)

	resting := newOrder(t, "B", "A", "5", "10") // sells 10 A for 5 B
	require.NoError(t, e.Submit(ctx, resting))
	assert.True(t, resting.IsResting())

	incoming := newOrder(t, "A", "B", "10", "5")
	require.NoError(t, e.Submit(ctx, incoming))

	orders := ordersByID(t, ledger)
	require.Len(t, orders, 2)

	r, i := orders[resting.ID], orders[incoming.ID]
	require.NotNil(t, r.Filled)
	require.NotNil(t, i.Filled)
	assert.True(t, r.Filled.Equal(*i.Filled))
	assert.Equal(t, incoming.ID, *r.CounterpartyID)
	assert.Equal(t, resting.ID, *i.CounterpartyID)

	// The caller's value reflects the committed state.
	require.NotNil(t, incoming.CounterpartyID)
	assert.Equal(t, resting.ID, *incoming.CounterpartyID)

	fills := ledger.Fills()
	require.Len(t, fills, 1)
	assert.Nil(t, fills[0].ChildOrderID)
	assert.Equal(t, events.FillEventType, fills[0].EventType)
	assert.NotEmpty(t, fills[0].EventID)
}

func TestSubmit_RestingOrderPartiallyFilledSpawnsChild(t *testing.T) {
	ctx := context.Background()
	e, ledger := newTestEngine(t)

	resting := newOrder(t, "B", "A", "5", "10")
	require.NoError(t, e.Submit(ctx, resting))

	incoming := newOrder(t, "A", "B", "4", "2")
	require.NoError(t, e.Submit(ctx, incoming))

	orders := ordersByID(t, ledger)
	require.Len(t, orders, 3)

	child := orders[3]
	require.NotNil(t, child.CreatorID)
	assert.Equal(t, resting.ID, *child.CreatorID)
	assert.True(t, child.IsResting())
	assert.Equal(t, "B", child.BuyCurrency)
	assert.Equal(t, "A", child.SellCurrency)
	assert.Equal(t, resting.SenderPK, child.SenderPK)
	assert.Equal(t, resting.ReceiverPK, child.ReceiverPK)

	// buy = E.buy - O.sell, sell = E.sell - O.buy
	assert.True(t, child.BuyAmount.Equal(decimal.NewFromInt(3)), "residual buy %s", child.BuyAmount)
	assert.True(t, child.SellAmount.Equal(decimal.NewFromInt(6)), "residual sell %s", child.SellAmount)

	assert.NotNil(t, orders[resting.ID].Filled)
	assert.NotNil(t, orders[incoming.ID].Filled)

	fills := ledger.Fills()
	require.Len(t, fills, 1)
	require.NotNil(t, fills[0].ChildOrderID)
	assert.Equal(t, child.ID, *fills[0].ChildOrderID)
	assert.True(t, fills[0].BuyAmount.Equal(decimal.NewFromInt(4)))
	assert.True(t, fills[0].SellAmount.Equal(decimal.NewFromInt(2)))
}

func TestSubmit_IncomingOrderPartiallyFilledChildRematches(t *testing.T) {
	ctx := context.Background()
	e, ledger := newTestEngine(t)

	first := newOrder(t, "B", "A", "2", "4")  // sells 4 A for 2 B
	second := newOrder(t, "B", "A", "3", "6") // sells 6 A for 3 B
	require.NoError(t, e.Submit(ctx, first))
	require.NoError(t, e.Submit(ctx, second))

	incoming := newOrder(t, "A", "B", "10", "5")
	require.NoError(t, e.Submit(ctx, incoming))

	orders := ordersByID(t, ledger)
	require.Len(t, orders, 4)

	// incoming matched first (insertion order) leaving buy 6 A / sell 3 B,
	// which exactly fills second.
	child := orders[4]
	require.NotNil(t, child.CreatorID)
	assert.Equal(t, incoming.ID, *child.CreatorID)
	assert.True(t, child.BuyAmount.Equal(decimal.NewFromInt(6)))
	assert.True(t, child.SellAmount.Equal(decimal.NewFromInt(3)))

	assert.Equal(t, first.ID, *orders[incoming.ID].CounterpartyID)
	assert.Equal(t, second.ID, *child.CounterpartyID)
	assert.Equal(t, child.ID, *orders[second.ID].CounterpartyID)

	for id, o := range orders {
		assert.False(t, o.IsResting(), "order %d still resting", id)
	}

	// Each event carries what changed hands, not the full amounts of the order.
	fills := ledger.Fills()
	require.Len(t, fills, 2)
	assert.Equal(t, incoming.ID, fills[0].OrderID)
	assert.True(t, fills[0].BuyAmount.Equal(decimal.NewFromInt(4)), "filled buy %s", fills[0].BuyAmount)
	assert.True(t, fills[0].SellAmount.Equal(decimal.NewFromInt(2)), "filled sell %s", fills[0].SellAmount)
	assert.Equal(t, child.ID, fills[1].OrderID)
	assert.True(t, fills[1].BuyAmount.Equal(decimal.NewFromInt(6)), "filled buy %s", fills[1].BuyAmount)
	assert.True(t, fills[1].SellAmount.Equal(decimal.NewFromInt(3)), "filled sell %s", fills[1].SellAmount)
}

func TestSubmit_NoCrossingRests(t *testing.T) {
	ctx := context.Background()
	e, ledger := newTestEngine(t)

	resting := newOrder(t, "B", "A", "20", "10") // sells 10 A for 20 B
	require.NoError(t, e.Submit(ctx, resting))

	incoming := newOrder(t, "A", "B", "10", "1") // wants 10 A for 1 B
	require.NoError(t, e.Submit(ctx, incoming))

	orders := ordersByID(t, ledger)
	assert.True(t, orders[resting.ID].IsResting())
	assert.True(t, orders[incoming.ID].IsResting())
	assert.Empty(t, ledger.Fills())

	book, err := e.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, book, 2)
	assert.Equal(t, "A", book[1].BuyCurrency)
	assert.True(t, book[1].BuyAmount.Equal(decimal.NewFromInt(10)))
}

func TestSubmit_IgnoresSameSideAndOtherPairs(t *testing.T) {
	ctx := context.Background()
	e, ledger := newTestEngine(t)

	require.NoError(t, e.Submit(ctx, newOrder(t, "A", "B", "1", "100")))
	require.NoError(t, e.Submit(ctx, newOrder(t, "B", "C", "1", "100")))

	incoming := newOrder(t, "A", "B", "1", "100")
	require.NoError(t, e.Submit(ctx, incoming))

	assert.True(t, incoming.IsResting())
	assert.Empty(t, ledger.Fills())
}

func TestSubmit_PicksFirstCompatibleInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	tooExpensive := newOrder(t, "B", "A", "50", "10")
	better := newOrder(t, "B", "A", "1", "10")
	best := newOrder(t, "B", "A", "1", "100")
	for _, o := range []*model.Order{tooExpensive, better, best} {
		require.NoError(t, e.Submit(ctx, o))
	}

	incoming := newOrder(t, "A", "B", "10", "5")
	require.NoError(t, e.Submit(ctx, incoming))

	require.NotNil(t, incoming.CounterpartyID)
	assert.Equal(t, better.ID, *incoming.CounterpartyID)
}

func TestSubmit_RejectsInvalidOrders(t *testing.T) {
	ctx := context.Background()
	e, ledger := newTestEngine(t)

	assert.ErrorIs(t, e.Submit(ctx, nil), model.ErrInvariantViolation)

	bad := newOrder(t, "A", "B", "1", "1")
	bad.SellAmount = decimal.Zero
	assert.ErrorIs(t, e.Submit(ctx, bad), model.ErrInvariantViolation)

	persisted := newOrder(t, "A", "B", "1", "1")
	persisted.ID = 5
	assert.ErrorIs(t, e.Submit(ctx, persisted), model.ErrInvariantViolation)

	filled := newOrder(t, "A", "B", "1", "1")
	now, other := time.Now(), int64(1)
	filled.Filled, filled.CounterpartyID = &now, &other
	assert.ErrorIs(t, e.Submit(ctx, filled), model.ErrInvariantViolation)

	orders, err := ledger.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

// faultyLedger fails selected ledger operations to exercise rollback.
type faultyLedger struct {
	*repository.MemoryLedger
	failRecordFill  bool
	failChildInsert bool
}

func (l *faultyLedger) WithinTx(ctx context.Context, pairKey string, fn func(tx repository.LedgerTx) error) error {
	return l.MemoryLedger.WithinTx(ctx, pairKey, func(tx repository.LedgerTx) error {
		return fn(&faultyTx{LedgerTx: tx, ledger: l})
	})
}

type faultyTx struct {
	repository.LedgerTx
	ledger *faultyLedger
}

func (t *faultyTx) Insert(ctx context.Context, order *model.Order) (int64, error) {
	if t.ledger.failChildInsert && order.CreatorID != nil {
		return 0, fmt.Errorf("%w: connection reset", model.ErrStorageFailure)
	}
	return t.LedgerTx.Insert(ctx, order)
}

func (t *faultyTx) RecordFill(ctx context.Context, event events.FillEvent) error {
	if t.ledger.failRecordFill {
		return fmt.Errorf("%w: disk full", model.ErrStorageFailure)
	}
	return t.LedgerTx.RecordFill(ctx, event)
}

func TestSubmit_StorageFailureLeavesNoPartialFill(t *testing.T) {
	tests := []struct {
		name   string
		ledger *faultyLedger
		buy    string
		sell   string
	}{
		{"RecordFillFails", &faultyLedger{MemoryLedger: repository.NewMemoryLedger(), failRecordFill: true}, "10", "5"},
		{"ChildInsertFails", &faultyLedger{MemoryLedger: repository.NewMemoryLedger(), failChildInsert: true}, "4", "2"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx := context.Background()
			e := NewEngine(test.ledger, 4, zap.NewNop())

			resting := newOrder(t, "B", "A", "5", "10")
			require.NoError(t, e.Submit(ctx, resting))

			incoming := newOrder(t, "A", "B", test.buy, test.sell)
			err := e.Submit(ctx, incoming)
			require.ErrorIs(t, err, model.ErrStorageFailure)

			assert.Zero(t, incoming.ID)
			assert.True(t, incoming.IsResting())

			orders, err := test.ledger.ListOrders(ctx)
			require.NoError(t, err)
			require.Len(t, orders, 1)
			assert.True(t, orders[0].IsResting())
			assert.Empty(t, test.ledger.Fills())
		})
	}
}

func TestSubmit_ConcurrentSubmissionsFillRestingOrderOnce(t *testing.T) {
	ctx := context.Background()
	ledger := repository.NewMemoryLedger()

	// Two engines over one ledger stand in for two service instances.
	engines := []*Engine{
		NewEngine(ledger, 8, zap.NewNop()),
		NewEngine(ledger, 8, zap.NewNop()),
	}

	resting := newOrder(t, "B", "A", "5", "10")
	require.NoError(t, engines[0].Submit(ctx, resting))

	const submitters = 32
	var wg sync.WaitGroup
	errs := make(chan error, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- engines[i%2].Submit(ctx, newOrder(t, "A", "B", "10", "5"))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	orders := ordersByID(t, ledger)
	require.Len(t, orders, submitters+1)

	filled := 0
	for _, o := range orders {
		if !o.IsResting() {
			filled++
		}
	}
	assert.Equal(t, 2, filled)

	counterparty := orders[resting.ID].CounterpartyID
	require.NotNil(t, counterparty)
	assert.Equal(t, resting.ID, *orders[*counterparty].CounterpartyID)
	assert.Len(t, ledger.Fills(), 1)
}

func TestSubmit_ConcurrentPairsDoNotInterfere(t *testing.T) {
	ctx := context.Background()
	e, ledger := newTestEngine(t)

	pairs := [][2]string{{"A", "B"}, {"C", "D"}, {"E", "F"}, {"G", "H"}}
	var wg sync.WaitGroup
	for _, p := range pairs {
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func(a, b string) {
				defer wg.Done()
				assert.NoError(t, e.Submit(ctx, newOrder(t, a, b, "2", "2")))
			}(p[0], p[1])
			go func(a, b string) {
				defer wg.Done()
				assert.NoError(t, e.Submit(ctx, newOrder(t, b, a, "2", "2")))
			}(p[0], p[1])
		}
	}
	wg.Wait()

	orders := ordersByID(t, ledger)
	assert.Len(t, orders, 80)
	for id, o := range orders {
		assert.False(t, o.IsResting(), "order %d resting", id)
	}
	assert.Len(t, ledger.Fills(), 40)
}

func TestSubmit_ContextCanceledIsStorageFailure(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Submit(ctx, newOrder(t, "A", "B", "1", "1"))
	assert.True(t, errors.Is(err, model.ErrStorageFailure))
	assert.True(t, errors.Is(err, context.Canceled))
}

// cancelingLedger cancels the caller's context once the first unit of work after
// arm has committed.
type cancelingLedger struct {
	*repository.MemoryLedger
	cancel context.CancelFunc
}

func (l *cancelingLedger) arm(cancel context.CancelFunc) {
	l.cancel = cancel
}

func (l *cancelingLedger) WithinTx(ctx context.Context, pairKey string, fn func(tx repository.LedgerTx) error) error {
	err := l.MemoryLedger.WithinTx(ctx, pairKey, fn)
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	return err
}

func TestSubmit_CancellationMidChainStillResolvesResiduals(t *testing.T) {
	ledger := &cancelingLedger{MemoryLedger: repository.NewMemoryLedger()}
	e := NewEngine(ledger, 4, zap.NewNop())

	first := newOrder(t, "B", "A", "2", "4")  // sells 4 A for 2 B
	second := newOrder(t, "B", "A", "3", "6") // sells 6 A for 3 B
	require.NoError(t, e.Submit(context.Background(), first))
	require.NoError(t, e.Submit(context.Background(), second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger.arm(cancel)

	incoming := newOrder(t, "A", "B", "10", "5")
	require.NoError(t, e.Submit(ctx, incoming))
	require.Error(t, ctx.Err())

	orders, err := ledger.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 4)
	for _, o := range orders {
		assert.False(t, o.IsResting(), "order %d still resting", o.ID)
	}
	require.NotNil(t, incoming.CounterpartyID)
	assert.Equal(t, first.ID, *incoming.CounterpartyID)
	assert.Len(t, ledger.Fills(), 2)
}

func TestSnapshotIncludesFilledOrders(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	require.NoError(t, e.Submit(ctx, newOrder(t, "B", "A", "5", "10")))
	require.NoError(t, e.Submit(ctx, newOrder(t, "A", "B", "10", "5")))
	require.NoError(t, e.Submit(ctx, newOrder(t, "A", "C", "1", "1")))

	book, err := e.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, book, 3)
	assert.Equal(t, "B", book[0].BuyCurrency)
	assert.Equal(t, "C", book[2].SellCurrency)
}
