package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duskmarket/exchange/internal/model"
)

// ErrNotFound is returned by the memory store's transaction-scoped
// operations (GetWalletForUpdate and the other Tx methods) when the row
// is missing; the plain Get-style lookups report a miss as nil, nil.
var ErrNotFound = errors.New("store: not found")

// memState is the full mutable state a MemoryStore holds. BeginTx deep
// copies it; Commit atomically swaps the copy back in; Rollback simply
// discards it. This gives the in-memory test double real transactional
// isolation without a database, something original_source's own
// database/sql-backed store gets for free from Postgres.
type memState struct {
	markets   map[string]model.Market
	wallets   map[string]model.Wallet
	orders    map[string]model.Order
	trades    []model.Trade
	positions map[string]model.Position // marketID|userID
	events    []model.EventLog
	platform  model.PlatformFeeWallet
}

func newMemState() *memState {
	return &memState{
		markets:   make(map[string]model.Market),
		wallets:   make(map[string]model.Wallet),
		orders:    make(map[string]model.Order),
		positions: make(map[string]model.Position),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.markets {
		c.markets[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	c.trades = append(c.trades, s.trades...)
	for k, v := range s.positions {
		c.positions[k] = v
	}
	c.events = append(c.events, s.events...)
	c.platform = s.platform
	return c
}

// MemoryStore is an in-memory Store implementation for tests and for
// local development without Postgres.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type memTx struct {
	store    *MemoryStore
	snapshot *memState
	done     bool
}

func (s *MemoryStore) BeginTx(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	return &memTx{store: s, snapshot: s.state.clone()}, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.state = t.snapshot
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func asMemTx(tx Tx) *memTx {
	mt, ok := tx.(*memTx)
	if !ok {
		panic("store: memory store given a foreign Tx")
	}
	return mt
}

func posKey(marketID, userID string) string { return marketID + "|" + userID }

// ── Markets ──────────────────────────────────────────

func (s *MemoryStore) CreateMarket(ctx context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()
	m.Status = model.MarketOpen
	s.state.markets[m.ID] = *m
	return nil
}

func (s *MemoryStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.markets[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MemoryStore) GetMarketBySlug(ctx context.Context, slug string) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.state.markets {
		if m.Slug == slug {
			return &m, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Market, 0, len(s.state.markets))
	for _, m := range s.state.markets {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) GetOpenMarkets(ctx context.Context) ([]model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Market
	for _, m := range s.state.markets {
		if m.Status == model.MarketOpen {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) ResolveMarketTx(ctx context.Context, tx Tx, marketID string, resolvesTo model.Outcome) error {
	mt := asMemTx(tx)
	m, ok := mt.snapshot.markets[marketID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	m.Status = model.MarketResolved
	m.ResolvedTo = &resolvesTo
	m.ResolvedAt = &now
	mt.snapshot.markets[marketID] = m
	return nil
}

// ── Wallets ──────────────────────────────────────────

func (s *MemoryStore) CreateWallet(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.wallets[userID]; ok {
		return nil
	}
	s.state.wallets[userID] = model.Wallet{UserID: userID}
	return nil
}

func (s *MemoryStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.state.wallets[userID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (s *MemoryStore) DepositWallet(ctx context.Context, userID string, cents int64) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.state.wallets[userID]
	w.UserID = userID
	w.BalanceCents += cents
	s.state.wallets[userID] = w
	return &w, nil
}

func (s *MemoryStore) GetWalletForUpdate(ctx context.Context, tx Tx, userID string) (*model.Wallet, error) {
	mt := asMemTx(tx)
	w, ok := mt.snapshot.wallets[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (s *MemoryStore) WalletAddLocked(ctx context.Context, tx Tx, userID string, delta int64) error {
	mt := asMemTx(tx)
	w, ok := mt.snapshot.wallets[userID]
	if !ok {
		return ErrNotFound
	}
	w.LockedCents += delta
	mt.snapshot.wallets[userID] = w
	return nil
}

func (s *MemoryStore) WalletAddBalance(ctx context.Context, tx Tx, userID string, delta int64) error {
	mt := asMemTx(tx)
	w, ok := mt.snapshot.wallets[userID]
	if !ok {
		return ErrNotFound
	}
	w.BalanceCents += delta
	mt.snapshot.wallets[userID] = w
	return nil
}

func (s *MemoryStore) RecalcLocked(ctx context.Context, tx Tx, userID string) error {
	mt := asMemTx(tx)
	var orderLock int64
	for _, o := range mt.snapshot.orders {
		if o.UserID == userID && (o.Status == model.StatusOpen || o.Status == model.StatusPartial) {
			orderLock += o.LockedCents
		}
	}
	var posLock int64
	for _, p := range mt.snapshot.positions {
		if p.UserID == userID && p.YesShares < 0 {
			posLock += int64(-p.YesShares) * (int64(model.FullPayCents) - p.AvgCostCents)
		}
	}
	w, ok := mt.snapshot.wallets[userID]
	if !ok {
		return ErrNotFound
	}
	w.LockedCents = orderLock + posLock
	mt.snapshot.wallets[userID] = w
	return nil
}

// ── Orders ───────────────────────────────────────────

func (s *MemoryStore) InsertOrder(ctx context.Context, tx Tx, o *model.Order) error {
	mt := asMemTx(tx)
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	mt.snapshot.orders[o.ID] = *o
	return nil
}

func (s *MemoryStore) UpdateOrderFill(ctx context.Context, tx Tx, orderID string, remainingQty int, lockedCents int64, status model.OrderStatus) error {
	mt := asMemTx(tx)
	o, ok := mt.snapshot.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.RemainingQty = remainingQty
	o.LockedCents = lockedCents
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	mt.snapshot.orders[orderID] = o
	return nil
}

func (s *MemoryStore) CancelOrderTx(ctx context.Context, tx Tx, orderID string) (int64, error) {
	mt := asMemTx(tx)
	o, ok := mt.snapshot.orders[orderID]
	if !ok {
		return 0, ErrNotFound
	}
	locked := o.LockedCents
	o.Status = model.StatusCanceled
	o.RemainingQty = 0
	o.LockedCents = 0
	o.UpdatedAt = time.Now().UTC()
	mt.snapshot.orders[orderID] = o
	return locked, nil
}

func (s *MemoryStore) GetOpenOrders(ctx context.Context, marketID string) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.state.orders {
		if o.MarketID == marketID && (o.Status == model.StatusOpen || o.Status == model.StatusPartial) {
			out = append(out, o)
		}
	}
	return sortOrdersBySeq(out), nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *MemoryStore) GetOrderByClientID(ctx context.Context, marketID, clientOrderID string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.state.orders {
		if o.MarketID == marketID && o.ClientOrderID != nil && *o.ClientOrderID == clientOrderID {
			return &o, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) MaxSeq(ctx context.Context, marketID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, o := range s.state.orders {
		if o.MarketID == marketID && o.Seq > max {
			max = o.Seq
		}
	}
	for _, t := range s.state.trades {
		if t.MarketID == marketID && t.Seq > max {
			max = t.Seq
		}
	}
	for _, e := range s.state.events {
		if e.MarketID != nil && *e.MarketID == marketID && e.Seq != nil && *e.Seq > max {
			max = *e.Seq
		}
	}
	return max, nil
}

func sortOrdersBySeq(os []model.Order) []model.Order {
	for i := 1; i < len(os); i++ {
		for j := i; j > 0 && os[j-1].Seq > os[j].Seq; j-- {
			os[j-1], os[j] = os[j], os[j-1]
		}
	}
	return os
}

// ── Trades ───────────────────────────────────────────

func (s *MemoryStore) InsertTrade(ctx context.Context, tx Tx, t *model.Trade) error {
	mt := asMemTx(tx)
	t.CreatedAt = time.Now().UTC()
	mt.snapshot.trades = append(mt.snapshot.trades, *t)
	return nil
}

func (s *MemoryStore) ListTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Trade
	for i := len(s.state.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if s.state.trades[i].MarketID == marketID {
			out = append(out, s.state.trades[i])
		}
	}
	return out, nil
}

// ── Positions ────────────────────────────────────────

func (s *MemoryStore) PutPosition(ctx context.Context, tx Tx, p model.Position) error {
	mt := asMemTx(tx)
	mt.snapshot.positions[posKey(p.MarketID, p.UserID)] = p
	return nil
}

func (s *MemoryStore) GetPosition(ctx context.Context, marketID, userID string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.positions[posKey(marketID, userID)]
	if !ok {
		return &model.Position{MarketID: marketID, UserID: userID}, nil
	}
	return &p, nil
}

func (s *MemoryStore) ListPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, p := range s.state.positions {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListPositionsByUser returns every non-flat position a user holds
// across all markets, for cross-market risk checks (internal/risk).
func (s *MemoryStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, p := range s.state.positions {
		if p.UserID == userID && p.YesShares != 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

// ── Event log ────────────────────────────────────────

func (s *MemoryStore) AppendEvent(ctx context.Context, tx Tx, marketID *string, seq *int64, evType model.EventType, payload any) error {
	mt := asMemTx(tx)
	mt.snapshot.events = append(mt.snapshot.events, model.EventLog{
		ID:        int64(len(mt.snapshot.events) + 1),
		MarketID:  marketID,
		Seq:       seq,
		Type:      evType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, marketID *string, limit int) ([]model.EventLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.EventLog
	for i := len(s.state.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.state.events[i]
		if marketID == nil || (e.MarketID != nil && *e.MarketID == *marketID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ── Platform fee ─────────────────────────────────────

func (s *MemoryStore) AddPlatformFee(ctx context.Context, tx Tx, cents int64) error {
	mt := asMemTx(tx)
	mt.snapshot.platform.BalanceCents += cents
	return nil
}

func (s *MemoryStore) GetPlatformFee(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.platform.BalanceCents, nil
}
