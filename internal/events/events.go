// Package events defines the closed event taxonomy appended to the
// durable event log (spec §4.4, §6). Every event type has a single
// concrete payload struct — the store never persists an untyped map.
package events

import "github.com/duskmarket/exchange/internal/model"

// EventType is an alias of model.EventType so call sites can write
// events.OrderAccepted without importing model directly.
type EventType = model.EventType

const (
	OrderAccepted   = model.OrderAccepted
	OrderCanceled   = model.OrderCanceled
	OrderFilled     = model.OrderFilled
	TradeExecuted   = model.TradeExecuted
	MarketCreated   = model.MarketCreated
	MarketResolved  = model.MarketResolvedEvent
	MarketPromoted  = model.MarketPromoted
	PositionSettled = model.PositionSettled
	Deposit         = model.Deposit
)

// OrderAcceptedPayload is recorded once an order clears validation and
// collateral locking, before any matching is attempted.
type OrderAcceptedPayload struct {
	OrderID  string          `json:"order_id"`
	UserID   string          `json:"user_id"`
	Side     model.OrderSide `json:"side"`
	Type     model.OrderType `json:"type"`
	Price    *int            `json:"price_cents"`
	Qty      int             `json:"qty"`
	ClientID *string         `json:"client_order_id,omitempty"`
}

// OrderCanceledPayload is recorded when a resting order is removed
// from the book and its remaining lock released.
type OrderCanceledPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

// OrderFilledPayload describes an order whose remaining quantity reached
// zero (the order transitions to FILLED). No code path appends an
// OrderFilled event; fills are recorded as TradeExecuted events.
type OrderFilledPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

// TradeExecutedPayload mirrors one inserted Trade row.
type TradeExecutedPayload struct {
	TradeID      string `json:"trade_id"`
	PriceCents   int    `json:"price_cents"`
	Qty          int    `json:"qty"`
	FeeCents     int64  `json:"fee_cents"`
	TakerSide    string `json:"taker_side"`
	MakerOrderID string `json:"maker_order_id"`
	TakerOrderID string `json:"taker_order_id"`
}

// MarketCreatedPayload describes a market opened for trading. Creating a
// market does not append a MarketCreated event.
type MarketCreatedPayload struct {
	MarketID string `json:"market_id"`
	Slug     string `json:"slug"`
	Category string `json:"category"`
}

// MarketResolvedPayload is recorded once, the moment a market transitions
// OPEN -> RESOLVED.
type MarketResolvedPayload struct {
	ResolvedTo       model.Outcome `json:"resolved_to"`
	AdminID          string        `json:"admin_id"`
	SettledPositions int           `json:"settled_positions"`
	TotalPayoutCents int64         `json:"total_payout_cents"`
}

// MarketPromotedPayload describes an external event graduating into a
// tradeable market (mirrors the dropped anchor-bet -> market promotion
// flow in original_source). No code path appends a MarketPromoted event.
type MarketPromotedPayload struct {
	SourceID string `json:"source_id"`
	MarketID string `json:"market_id"`
}

// PositionSettledPayload is recorded per user per market at settlement,
// one event per non-flat position.
type PositionSettledPayload struct {
	UserID           string `json:"user_id"`
	YesSharesAtClose int    `json:"yes_shares_at_close"`
	PayoutCents      int64  `json:"payout_cents"`
	LockReleaseCents int64  `json:"lock_release_cents"`
	RealizedPnlCents int64  `json:"realized_pnl_cents"`
}

// DepositPayload describes a wallet balance credited from outside the
// matching path (funding, not a trade). Deposits do not append a Deposit
// event.
type DepositPayload struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount_cents"`
}
