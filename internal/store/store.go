// Package store defines the persistence interface for the exchange.
// PostgresStore is the source of truth; CachedStore layers a Redis
// read-through cache in front of it; MemoryStore is a transactional
// in-memory store used by the engine's and the store's unit tests, and
// by cmd/server when no database URL is configured.
package store

import (
	"context"

	"github.com/duskmarket/exchange/internal/model"
)

// Tx is an in-flight transaction handle. Every store implementation
// returns its own concrete type from BeginTx and type-asserts it back
// in the Tx-scoped methods below — the same shape as original_source's
// db.Store passing a concrete *sql.Tx, generalized so MemoryStore can
// participate without a real database driver.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the durable persistence interface every matching-engine
// Manager is built against (spec §6).
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)

	// --- Markets ---
	CreateMarket(ctx context.Context, m *model.Market) error
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	GetMarketBySlug(ctx context.Context, slug string) (*model.Market, error)
	ListMarkets(ctx context.Context) ([]model.Market, error)
	GetOpenMarkets(ctx context.Context) ([]model.Market, error)
	ResolveMarketTx(ctx context.Context, tx Tx, marketID string, resolvesTo model.Outcome) error

	// --- Wallets ---
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)
	CreateWallet(ctx context.Context, userID string) error
	DepositWallet(ctx context.Context, userID string, cents int64) (*model.Wallet, error)
	GetWalletForUpdate(ctx context.Context, tx Tx, userID string) (*model.Wallet, error)
	WalletAddLocked(ctx context.Context, tx Tx, userID string, delta int64) error
	WalletAddBalance(ctx context.Context, tx Tx, userID string, delta int64) error
	RecalcLocked(ctx context.Context, tx Tx, userID string) error

	// --- Orders ---
	InsertOrder(ctx context.Context, tx Tx, o *model.Order) error
	UpdateOrderFill(ctx context.Context, tx Tx, orderID string, remainingQty int, lockedCents int64, status model.OrderStatus) error
	// CancelOrderTx reads the order's current locked_cents before
	// zeroing it, then marks it CANCELED, returning the amount the
	// caller must unlock from the owner's wallet. original_source's
	// CancelOrderTx tries to RETURNING the pre-update value from the
	// same UPDATE statement that just zeroed it — this reads first.
	CancelOrderTx(ctx context.Context, tx Tx, orderID string) (lockedCents int64, err error)
	GetOpenOrders(ctx context.Context, marketID string) ([]model.Order, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	// GetOrderByClientID looks up a prior order by the caller-supplied
	// idempotency key, scoped to one market. A nil result with no error
	// means no such order exists yet.
	GetOrderByClientID(ctx context.Context, marketID, clientOrderID string) (*model.Order, error)
	MaxSeq(ctx context.Context, marketID string) (int64, error)

	// --- Trades ---
	InsertTrade(ctx context.Context, tx Tx, t *model.Trade) error
	ListTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error)

	// --- Positions ---
	// PutPosition overwrites a user's position row with the fully
	// computed value (internal/ledger already folded the weighted-avg
	// cost and realized-PnL math in-process — the store just persists
	// the result, unlike original_source's UpsertPosition which only
	// ever applies a raw share delta in SQL).
	PutPosition(ctx context.Context, tx Tx, p model.Position) error
	GetPosition(ctx context.Context, marketID, userID string) (*model.Position, error)
	ListPositions(ctx context.Context, marketID string) ([]model.Position, error)
	// ListPositionsByUser returns a user's non-flat positions across
	// every market, the cross-market view internal/risk needs to
	// evaluate correlated-category exposure (spec's supplemented
	// position-limit control).
	ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)

	// --- Event log ---
	AppendEvent(ctx context.Context, tx Tx, marketID *string, seq *int64, evType model.EventType, payload any) error
	ListEvents(ctx context.Context, marketID *string, limit int) ([]model.EventLog, error)

	// --- Platform fee ---
	AddPlatformFee(ctx context.Context, tx Tx, cents int64) error
	GetPlatformFee(ctx context.Context) (int64, error)
}
