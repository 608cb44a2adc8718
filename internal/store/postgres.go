package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duskmarket/exchange/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Every monetary field is stored as a plain BIGINT count of cents — no
// NUMERIC, no floating point anywhere on the money path (spec §9).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// pgTx wraps a pgx.Tx so it satisfies the store-agnostic Tx interface and
// so Tx-scoped methods below can recover the real transaction to run
// queries against.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func asPgTx(tx Tx) pgx.Tx {
	pt, ok := tx.(*pgTx)
	if !ok {
		panic("store: postgres store given a foreign Tx")
	}
	return pt.tx
}

func (s *PostgresStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// ── Markets ──────────────────────────────────────────

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO markets (slug, title, description, category, status, tick_size_cents, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 RETURNING id, created_at`,
		m.Slug, m.Title, m.Description, m.Category, model.MarketOpen, m.TickSizeCents,
	).Scan(&m.ID, &m.CreatedAt)
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return scanMarket(s.pool.QueryRow(ctx,
		`SELECT id, slug, title, description, category, status, resolved_to, tick_size_cents, created_at, resolved_at
		 FROM markets WHERE id = $1`, id))
}

func (s *PostgresStore) GetMarketBySlug(ctx context.Context, slug string) (*model.Market, error) {
	return scanMarket(s.pool.QueryRow(ctx,
		`SELECT id, slug, title, description, category, status, resolved_to, tick_size_cents, created_at, resolved_at
		 FROM markets WHERE slug = $1`, slug))
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, slug, title, description, category, status, resolved_to, tick_size_cents, created_at, resolved_at
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarkets(rows)
}

func (s *PostgresStore) GetOpenMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, slug, title, description, category, status, resolved_to, tick_size_cents, created_at, resolved_at
		 FROM markets WHERE status = $1 ORDER BY created_at`, model.MarketOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarkets(rows)
}

func (s *PostgresStore) ResolveMarketTx(ctx context.Context, tx Tx, marketID string, resolvesTo model.Outcome) error {
	_, err := asPgTx(tx).Exec(ctx,
		`UPDATE markets SET status = $2, resolved_to = $3, resolved_at = now() WHERE id = $1`,
		marketID, model.MarketResolved, resolvesTo,
	)
	return err
}

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var resolvedTo *model.Outcome
	if err := row.Scan(&m.ID, &m.Slug, &m.Title, &m.Description, &m.Category,
		&m.Status, &resolvedTo, &m.TickSizeCents, &m.CreatedAt, &m.ResolvedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m.ResolvedTo = resolvedTo
	return &m, nil
}

func scanMarkets(rows pgx.Rows) ([]model.Market, error) {
	var out []model.Market
	for rows.Next() {
		var m model.Market
		var resolvedTo *model.Outcome
		if err := rows.Scan(&m.ID, &m.Slug, &m.Title, &m.Description, &m.Category,
			&m.Status, &resolvedTo, &m.TickSizeCents, &m.CreatedAt, &m.ResolvedAt); err != nil {
			return nil, err
		}
		m.ResolvedTo = resolvedTo
		out = append(out, m)
	}
	return out, rows.Err()
}

// ── Wallets ──────────────────────────────────────────

func (s *PostgresStore) CreateWallet(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (user_id, balance_cents, locked_cents) VALUES ($1, 0, 0)
		 ON CONFLICT (user_id) DO NOTHING`, userID)
	return err
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance_cents, locked_cents FROM wallets WHERE user_id = $1`, userID,
	).Scan(&w.UserID, &w.BalanceCents, &w.LockedCents)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) DepositWallet(ctx context.Context, userID string, cents int64) (*model.Wallet, error) {
	var w model.Wallet
	err := s.pool.QueryRow(ctx,
		`UPDATE wallets SET balance_cents = balance_cents + $2 WHERE user_id = $1
		 RETURNING user_id, balance_cents, locked_cents`, userID, cents,
	).Scan(&w.UserID, &w.BalanceCents, &w.LockedCents)
	if err != nil {
		return nil, fmt.Errorf("deposit wallet %s: %w", userID, err)
	}
	return &w, nil
}

// GetWalletForUpdate takes the row-level lock that serializes every
// collateral mutation for a user within the transaction. A fill can
// touch the taker's wallet plus one wallet per resting maker it
// matches against; internal/engine.processOrder acquires every one of
// those wallets through this method, in ascending user_id order,
// before calling WalletAddLocked/WalletAddBalance on any of them — so
// those two methods never take their own row lock, they rely on the
// caller having already taken it here.
func (s *PostgresStore) GetWalletForUpdate(ctx context.Context, tx Tx, userID string) (*model.Wallet, error) {
	var w model.Wallet
	err := asPgTx(tx).QueryRow(ctx,
		`SELECT user_id, balance_cents, locked_cents FROM wallets WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&w.UserID, &w.BalanceCents, &w.LockedCents)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) WalletAddLocked(ctx context.Context, tx Tx, userID string, delta int64) error {
	_, err := asPgTx(tx).Exec(ctx,
		`UPDATE wallets SET locked_cents = locked_cents + $2 WHERE user_id = $1`, userID, delta)
	return err
}

func (s *PostgresStore) WalletAddBalance(ctx context.Context, tx Tx, userID string, delta int64) error {
	_, err := asPgTx(tx).Exec(ctx,
		`UPDATE wallets SET balance_cents = balance_cents + $2 WHERE user_id = $1`, userID, delta)
	return err
}

// RecalcLocked recomputes a user's locked_cents from scratch as the sum
// of open-order locks plus short-position locks, healing any drift a
// bug might have introduced. The engine invokes it at the end of every
// order placement, for the taker and each matched maker; the cancel path
// does not call it.
func (s *PostgresStore) RecalcLocked(ctx context.Context, tx Tx, userID string) error {
	var orderLock, posLock int64
	pt := asPgTx(tx)
	if err := pt.QueryRow(ctx,
		`SELECT COALESCE(SUM(locked_cents), 0) FROM orders
		 WHERE user_id = $1 AND status IN ('OPEN','PARTIAL')`, userID,
	).Scan(&orderLock); err != nil {
		return err
	}
	// A short position's lock is the per-share worst-case shortfall it
	// would owe on a YES resolution beyond the sale proceeds already sitting
	// unlocked in balance: (100 - avgSellPrice) per share (spec §8 scenario
	// 6, GLOSSARY "Position lock").
	if err := pt.QueryRow(ctx,
		`SELECT COALESCE(SUM((-yes_shares) * ($2 - avg_cost_cents)), 0) FROM positions
		 WHERE user_id = $1 AND yes_shares < 0`, userID, model.FullPayCents,
	).Scan(&posLock); err != nil {
		return err
	}
	_, err := pt.Exec(ctx,
		`UPDATE wallets SET locked_cents = $2 WHERE user_id = $1`, userID, orderLock+posLock)
	return err
}

// ── Orders ───────────────────────────────────────────

func (s *PostgresStore) InsertOrder(ctx context.Context, tx Tx, o *model.Order) error {
	return asPgTx(tx).QueryRow(ctx,
		`INSERT INTO orders (id, market_id, user_id, side, order_type, price_cents, qty, remaining_qty,
		                     locked_cents, status, seq, client_order_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		 RETURNING created_at, updated_at`,
		o.ID, o.MarketID, o.UserID, o.Side, o.OrderType, o.PriceCents, o.Qty, o.RemainingQty,
		o.LockedCents, o.Status, o.Seq, o.ClientOrderID,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (s *PostgresStore) UpdateOrderFill(ctx context.Context, tx Tx, orderID string, remainingQty int, lockedCents int64, status model.OrderStatus) error {
	_, err := asPgTx(tx).Exec(ctx,
		`UPDATE orders SET remaining_qty = $2, locked_cents = $3, status = $4, updated_at = now() WHERE id = $1`,
		orderID, remainingQty, lockedCents, status)
	return err
}

// CancelOrderTx reads locked_cents with a SELECT ... FOR UPDATE and then
// zeroes it with a separate UPDATE in the same transaction, rather than
// trying to RETURNING a column from the very UPDATE that just overwrote it.
func (s *PostgresStore) CancelOrderTx(ctx context.Context, tx Tx, orderID string) (int64, error) {
	pt := asPgTx(tx)
	var locked int64
	if err := pt.QueryRow(ctx,
		`SELECT locked_cents FROM orders WHERE id = $1 FOR UPDATE`, orderID,
	).Scan(&locked); err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}
	_, err := pt.Exec(ctx,
		`UPDATE orders SET status = $2, remaining_qty = 0, locked_cents = 0, updated_at = now() WHERE id = $1`,
		orderID, model.StatusCanceled)
	if err != nil {
		return 0, err
	}
	return locked, nil
}

func (s *PostgresStore) GetOpenOrders(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, user_id, side, order_type, price_cents, qty, remaining_qty,
		        locked_cents, status, seq, client_order_id, created_at, updated_at
		 FROM orders WHERE market_id = $1 AND status IN ('OPEN','PARTIAL') ORDER BY seq ASC`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, market_id, user_id, side, order_type, price_cents, qty, remaining_qty,
		        locked_cents, status, seq, client_order_id, created_at, updated_at
		 FROM orders WHERE id = $1`, id)
	var o model.Order
	if err := row.Scan(&o.ID, &o.MarketID, &o.UserID, &o.Side, &o.OrderType, &o.PriceCents, &o.Qty,
		&o.RemainingQty, &o.LockedCents, &o.Status, &o.Seq, &o.ClientOrderID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) GetOrderByClientID(ctx context.Context, marketID, clientOrderID string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, market_id, user_id, side, order_type, price_cents, qty, remaining_qty,
		        locked_cents, status, seq, client_order_id, created_at, updated_at
		 FROM orders WHERE market_id = $1 AND client_order_id = $2`, marketID, clientOrderID)
	var o model.Order
	if err := row.Scan(&o.ID, &o.MarketID, &o.UserID, &o.Side, &o.OrderType, &o.PriceCents, &o.Qty,
		&o.RemainingQty, &o.LockedCents, &o.Status, &o.Seq, &o.ClientOrderID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) MaxSeq(ctx context.Context, marketID string) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx,
		`SELECT GREATEST(
			COALESCE((SELECT MAX(seq) FROM orders WHERE market_id = $1), 0),
			COALESCE((SELECT MAX(seq) FROM trades WHERE market_id = $1), 0),
			COALESCE((SELECT MAX(seq) FROM event_log WHERE market_id = $1), 0)
		 )`, marketID,
	).Scan(&max)
	return max, err
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	var out []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.MarketID, &o.UserID, &o.Side, &o.OrderType, &o.PriceCents, &o.Qty,
			&o.RemainingQty, &o.LockedCents, &o.Status, &o.Seq, &o.ClientOrderID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ── Trades ───────────────────────────────────────────

func (s *PostgresStore) InsertTrade(ctx context.Context, tx Tx, t *model.Trade) error {
	return asPgTx(tx).QueryRow(ctx,
		`INSERT INTO trades (id, market_id, maker_order_id, taker_order_id, maker_user_id, taker_user_id,
		                     price_cents, qty, fee_cents, seq, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		 RETURNING created_at`,
		t.ID, t.MarketID, t.MakerOrderID, t.TakerOrderID, t.MakerUserID, t.TakerUserID,
		t.PriceCents, t.Qty, t.FeeCents, t.Seq,
	).Scan(&t.CreatedAt)
}

func (s *PostgresStore) ListTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, maker_order_id, taker_order_id, maker_user_id, taker_user_id,
		        price_cents, qty, fee_cents, seq, created_at
		 FROM trades WHERE market_id = $1 ORDER BY seq DESC LIMIT $2`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.MarketID, &t.MakerOrderID, &t.TakerOrderID, &t.MakerUserID, &t.TakerUserID,
			&t.PriceCents, &t.Qty, &t.FeeCents, &t.Seq, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ── Positions ────────────────────────────────────────

func (s *PostgresStore) PutPosition(ctx context.Context, tx Tx, p model.Position) error {
	_, err := asPgTx(tx).Exec(ctx,
		`INSERT INTO positions (market_id, user_id, yes_shares, avg_cost_cents, realized_pnl_cents)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (market_id, user_id) DO UPDATE SET
		   yes_shares = EXCLUDED.yes_shares,
		   avg_cost_cents = EXCLUDED.avg_cost_cents,
		   realized_pnl_cents = EXCLUDED.realized_pnl_cents`,
		p.MarketID, p.UserID, p.YesShares, p.AvgCostCents, p.RealizedPnlCents)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, marketID, userID string) (*model.Position, error) {
	var p model.Position
	err := s.pool.QueryRow(ctx,
		`SELECT market_id, user_id, yes_shares, avg_cost_cents, realized_pnl_cents
		 FROM positions WHERE market_id = $1 AND user_id = $2`, marketID, userID,
	).Scan(&p.MarketID, &p.UserID, &p.YesShares, &p.AvgCostCents, &p.RealizedPnlCents)
	if err == pgx.ErrNoRows {
		return &model.Position{MarketID: marketID, UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, user_id, yes_shares, avg_cost_cents, realized_pnl_cents
		 FROM positions WHERE market_id = $1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.MarketID, &p.UserID, &p.YesShares, &p.AvgCostCents, &p.RealizedPnlCents); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, user_id, yes_shares, avg_cost_cents, realized_pnl_cents
		 FROM positions WHERE user_id = $1 AND yes_shares != 0`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.MarketID, &p.UserID, &p.YesShares, &p.AvgCostCents, &p.RealizedPnlCents); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ── Event log ────────────────────────────────────────

func (s *PostgresStore) AppendEvent(ctx context.Context, tx Tx, marketID *string, seq *int64, evType model.EventType, payload any) error {
	_, err := asPgTx(tx).Exec(ctx,
		`INSERT INTO event_log (market_id, seq, type, payload, created_at) VALUES ($1, $2, $3, $4, now())`,
		marketID, seq, evType, payload)
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context, marketID *string, limit int) ([]model.EventLog, error) {
	var rows pgx.Rows
	var err error
	if marketID != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT id, market_id, seq, type, payload, created_at FROM event_log
			 WHERE market_id = $1 ORDER BY id DESC LIMIT $2`, *marketID, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, market_id, seq, type, payload, created_at FROM event_log ORDER BY id DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EventLog
	for rows.Next() {
		var e model.EventLog
		if err := rows.Scan(&e.ID, &e.MarketID, &e.Seq, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ── Platform fee ─────────────────────────────────────

func (s *PostgresStore) AddPlatformFee(ctx context.Context, tx Tx, cents int64) error {
	_, err := asPgTx(tx).Exec(ctx,
		`UPDATE platform_fee_wallet SET balance_cents = balance_cents + $1`, cents)
	return err
}

func (s *PostgresStore) GetPlatformFee(ctx context.Context) (int64, error) {
	var cents int64
	err := s.pool.QueryRow(ctx, `SELECT balance_cents FROM platform_fee_wallet`).Scan(&cents)
	return cents, err
}
