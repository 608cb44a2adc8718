// Package model defines the domain entities shared by the book, ledger,
// engine, and store packages. Wallet and order money fields are plain
// int64 cents — no floats, no decimal type — the exchange settles in
// whole cents only (spec §9).
package model

import "time"

// ── Enums ────────────────────────────────────────────

type MarketStatus string

const (
	MarketOpen     MarketStatus = "OPEN"
	MarketResolved MarketStatus = "RESOLVED"
)

type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

type OrderStatus string

const (
	StatusOpen     OrderStatus = "OPEN"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
)

// EventType enumerates the exhaustive set of event-log entries this
// exchange ever appends (spec §4.4, §6). No other string value is valid.
type EventType string

const (
	OrderAccepted       EventType = "OrderAccepted"
	OrderCanceled       EventType = "OrderCanceled"
	OrderFilled         EventType = "OrderFilled"
	TradeExecuted       EventType = "TradeExecuted"
	MarketCreated       EventType = "MarketCreated"
	MarketResolvedEvent EventType = "MarketResolved"
	MarketPromoted      EventType = "MarketPromoted"
	PositionSettled     EventType = "PositionSettled"
	Deposit             EventType = "Deposit"
)

// MinPriceCents/MaxPriceCents bound every LIMIT price and the worst-case
// fill price assumed for a MARKET order (spec §9, Open Question 2).
const (
	MinPriceCents = 1
	MaxPriceCents = 99
	FullPayCents  = 100
)

// ── Domain objects ───────────────────────────────────

// Wallet holds a user's cash balance and the portion currently locked
// against resting orders and short positions.
type Wallet struct {
	UserID       string `json:"user_id" db:"user_id"`
	BalanceCents int64  `json:"balance_cents" db:"balance_cents"`
	LockedCents  int64  `json:"locked_cents" db:"locked_cents"`
}

// Available returns spendable balance: total minus locked.
func (w Wallet) Available() int64 { return w.BalanceCents - w.LockedCents }

// Market is a single binary-outcome question with its own order book.
type Market struct {
	ID            string       `json:"id" db:"id"`
	Slug          string       `json:"slug" db:"slug"`
	Title         string       `json:"title" db:"title"`
	Description   string       `json:"description" db:"description"`
	Category      string       `json:"category" db:"category"`
	Status        MarketStatus `json:"status" db:"status"`
	ResolvedTo    *Outcome     `json:"resolved_to,omitempty" db:"resolved_to"`
	TickSizeCents int          `json:"tick_size_cents" db:"tick_size_cents"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Order is a single resting or historical order.
type Order struct {
	ID            string      `json:"id" db:"id"`
	MarketID      string      `json:"market_id" db:"market_id"`
	UserID        string      `json:"user_id" db:"user_id"`
	Side          OrderSide   `json:"side" db:"side"`
	OrderType     OrderType   `json:"order_type" db:"order_type"`
	PriceCents    *int        `json:"price_cents" db:"price_cents"`
	Qty           int         `json:"qty" db:"qty"`
	RemainingQty  int         `json:"remaining_qty" db:"remaining_qty"`
	LockedCents   int64       `json:"locked_cents" db:"locked_cents"`
	Status        OrderStatus `json:"status" db:"status"`
	Seq           int64       `json:"seq" db:"seq"`
	ClientOrderID *string     `json:"client_order_id,omitempty" db:"client_order_id"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// Trade is an immutable fill record between a maker and a taker order.
type Trade struct {
	ID           string    `json:"id" db:"id"`
	MarketID     string    `json:"market_id" db:"market_id"`
	MakerOrderID string    `json:"maker_order_id" db:"maker_order_id"`
	TakerOrderID string    `json:"taker_order_id" db:"taker_order_id"`
	MakerUserID  string    `json:"maker_user_id" db:"maker_user_id"`
	TakerUserID  string    `json:"taker_user_id" db:"taker_user_id"`
	PriceCents   int       `json:"price_cents" db:"price_cents"`
	Qty          int       `json:"qty" db:"qty"`
	FeeCents     int64     `json:"fee_cents" db:"fee_cents"`
	Seq          int64     `json:"seq" db:"seq"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Position is a user's net YES-share holding in one market, carried with
// weighted-average cost basis and cumulative realized PnL so collateral
// and settlement math never needs to re-derive history from trades.
type Position struct {
	MarketID         string `json:"market_id" db:"market_id"`
	UserID           string `json:"user_id" db:"user_id"`
	YesShares        int    `json:"yes_shares" db:"yes_shares"` // negative = net short
	AvgCostCents     int64  `json:"avg_cost_cents" db:"avg_cost_cents"`
	RealizedPnlCents int64  `json:"realized_pnl_cents" db:"realized_pnl_cents"`
}

// EventLog is a closed-taxonomy, append-only audit record. Seq is
// populated for order and trade events and shares its counter with
// Order.Seq within that market (spec §4.4); settlement events
// (PositionSettled, MarketResolved) carry no Seq.
type EventLog struct {
	ID        int64     `json:"id" db:"id"`
	MarketID  *string   `json:"market_id,omitempty" db:"market_id"`
	Seq       *int64    `json:"seq,omitempty" db:"seq"`
	Type      EventType `json:"type" db:"type"`
	Payload   any       `json:"payload" db:"payload"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PlatformFeeWallet accumulates taker fees collected across all markets.
type PlatformFeeWallet struct {
	BalanceCents int64 `json:"balance_cents" db:"balance_cents"`
}

// ── API-facing request/response types ───────────────

type PlaceOrderReq struct {
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	PriceCents    *int      `json:"price_cents"`
	Qty           int       `json:"qty"`
	ClientOrderID *string   `json:"client_order_id"`
}

type PlaceOrderResult struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
	Trades  []Trade     `json:"trades"`
	Reason  string      `json:"reason,omitempty"`
}

// CancelOrderResult reports a cancel outcome. A cancel of an
// already-terminal order (FILLED/CANCELED/REJECTED) is not an error —
// it succeeds idempotently and sets AlreadyTerminal so the caller can
// tell the difference from a fresh cancel.
type CancelOrderResult struct {
	Success         bool   `json:"success"`
	AlreadyTerminal bool   `json:"already_terminal,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type BookLevel struct {
	Price int `json:"price"`
	Qty   int `json:"qty"`
}

type BookSnapshot struct {
	Bids                  []BookLevel `json:"bids"`
	Asks                  []BookLevel `json:"asks"`
	TheoreticalPriceCents *int        `json:"theoretical_price_cents,omitempty"`
}
