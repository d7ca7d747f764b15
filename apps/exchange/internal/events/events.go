package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const FillEventType = "order_filled"

// FillEvent describes one match between a submitted order and a resting counterparty.
// BuyAmount and SellAmount are what changed hands from OrderID's side of the match.
type FillEvent struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OrderID        int64           `json:"order_id"`
	CounterpartyID int64           `json:"counterparty_id"`
	ChildOrderID   *int64          `json:"child_order_id,omitempty"`
	BuyCurrency    string          `json:"buy_currency"`
	SellCurrency   string          `json:"sell_currency"`
	BuyAmount      decimal.Decimal `json:"buy_amount"`
	SellAmount     decimal.Decimal `json:"sell_amount"`
	FilledAt       time.Time       `json:"filled_at"`
	Timestamp      time.Time       `json:"timestamp"`
}

// TradeRequest is the signed submission envelope, shared by the HTTP and Kafka entry points.
type TradeRequest struct {
	Sig     *string         `json:"sig"`
	Payload json.RawMessage `json:"payload"`
}
