package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a signed request to exchange SellAmount of SellCurrency for BuyAmount of BuyCurrency.
// An order is resting while Filled and CounterpartyID are nil and is never mutated after both are set.
type Order struct {
	ID             int64           `db:"id"`
	SenderPK       string          `db:"sender_pk"`
	ReceiverPK     string          `db:"receiver_pk"`
	BuyCurrency    string          `db:"buy_currency"`
	SellCurrency   string          `db:"sell_currency"`
	BuyAmount      decimal.Decimal `db:"buy_amount"`
	SellAmount     decimal.Decimal `db:"sell_amount"`
	Signature      string          `db:"signature"`
	Filled         *time.Time      `db:"filled"`          // nil while resting
	CounterpartyID *int64          `db:"counterparty_id"` // nil while resting
	CreatorID      *int64          `db:"creator_id"`      // parent of a residual, nil for submitted orders
}

// Submission carries the fields of an admitted order, after signature verification.
type Submission struct {
	SenderPK     string
	ReceiverPK   string
	BuyCurrency  string
	SellCurrency string
	BuyAmount    decimal.Decimal
	SellAmount   decimal.Decimal
	Signature    string
}

// PublicOrder is the order book projection. It never carries id, fill or lineage fields.
type PublicOrder struct {
	SenderPK     string          `json:"sender_pk"`
	ReceiverPK   string          `json:"receiver_pk"`
	BuyCurrency  string          `json:"buy_currency"`
	SellCurrency string          `json:"sell_currency"`
	BuyAmount    decimal.Decimal `json:"buy_amount"`
	SellAmount   decimal.Decimal `json:"sell_amount"`
	Signature    string          `json:"signature"`
}

// NewOrder builds a resting order from an admitted submission.
func NewOrder(s Submission) (*Order, error) {
	order := &Order{
		SenderPK:     s.SenderPK,
		ReceiverPK:   s.ReceiverPK,
		BuyCurrency:  s.BuyCurrency,
		SellCurrency: s.SellCurrency,
		BuyAmount:    s.BuyAmount,
		SellAmount:   s.SellAmount,
		Signature:    s.Signature,
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// NewChildOrder builds the residual of a partially satisfied parent. The child inherits
// the parent's currencies and keys and points back to it through CreatorID.
func NewChildOrder(parent *Order, buyAmount, sellAmount decimal.Decimal) (*Order, error) {
	if parent == nil || parent.ID == 0 {
		return nil, fmt.Errorf("%w: residual parent must be persisted", ErrInvariantViolation)
	}
	if err := checkAmounts(buyAmount, sellAmount); err != nil {
		return nil, fmt.Errorf("residual of order %d: %w", parent.ID, err)
	}

	creatorID := parent.ID
	return &Order{
		SenderPK:     parent.SenderPK,
		ReceiverPK:   parent.ReceiverPK,
		BuyCurrency:  parent.BuyCurrency,
		SellCurrency: parent.SellCurrency,
		BuyAmount:    buyAmount,
		SellAmount:   sellAmount,
		CreatorID:    &creatorID,
	}, nil
}

func checkAmounts(buyAmount, sellAmount decimal.Decimal) error {
	if !buyAmount.IsPositive() {
		return fmt.Errorf("%w: buy amount %s is not positive", ErrInvariantViolation, buyAmount)
	}
	if !sellAmount.IsPositive() {
		return fmt.Errorf("%w: sell amount %s is not positive", ErrInvariantViolation, sellAmount)
	}
	return nil
}

// Validate checks the structural invariants every stored order satisfies.
func (o Order) Validate() error {
	switch {
	case o.SenderPK == "" || o.ReceiverPK == "":
		return fmt.Errorf("%w: order requires sender and receiver keys", ErrInvariantViolation)
	case o.BuyCurrency == "" || o.SellCurrency == "":
		return fmt.Errorf("%w: order requires buy and sell currencies", ErrInvariantViolation)
	case o.BuyCurrency == o.SellCurrency:
		return fmt.Errorf("%w: buy and sell currency are both %s", ErrInvariantViolation, o.BuyCurrency)
	case (o.Filled == nil) != (o.CounterpartyID == nil):
		return fmt.Errorf("%w: filled and counterparty must be set together", ErrInvariantViolation)
	}
	return checkAmounts(o.BuyAmount, o.SellAmount)
}

// IsResting reports whether the order is still eligible for matching.
func (o Order) IsResting() bool {
	return o.Filled == nil && o.CounterpartyID == nil
}

// PairKey identifies the currency pair regardless of direction, so both sides of a
// market share one key.
func (o Order) PairKey() string {
	return PairKey(o.BuyCurrency, o.SellCurrency)
}

// PairKey returns the direction-independent key for two currencies.
func PairKey(a, b string) string {
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	if a > b {
		a, b = b, a
	}
	return a + "/" + b
}

// Public returns the order book projection of the order.
func (o Order) Public() PublicOrder {
	return PublicOrder{
		SenderPK:     o.SenderPK,
		ReceiverPK:   o.ReceiverPK,
		BuyCurrency:  o.BuyCurrency,
		SellCurrency: o.SellCurrency,
		BuyAmount:    o.BuyAmount,
		SellAmount:   o.SellAmount,
		Signature:    o.Signature,
	}
}
