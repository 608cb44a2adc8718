// Package engine implements the single-writer-per-market matching
// engine: one goroutine and command mailbox per open market, strictly
// sequential within a market and fully parallel across markets (spec
// §4, §5).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/duskmarket/exchange/internal/book"
	"github.com/duskmarket/exchange/internal/events"
	"github.com/duskmarket/exchange/internal/ledger"
	"github.com/duskmarket/exchange/internal/metrics"
	"github.com/duskmarket/exchange/internal/model"
	"github.com/duskmarket/exchange/internal/pricing"
	"github.com/duskmarket/exchange/internal/risk"
	"github.com/duskmarket/exchange/internal/store"
)

// PublishFunc broadcasts a WS message for a market. The engine never
// blocks on slow subscribers — publish implementations own their own
// fan-out buffering (internal/ws).
type PublishFunc func(marketID, msgType string, data any)

// ── Manager ──────────────────────────────────────────

// Manager owns the set of running MarketEngines, one per OPEN market,
// and starts/stops them as markets are created or resolved.
type Manager struct {
	mu          sync.RWMutex
	engines     map[string]*MarketEngine
	store       store.Store
	publish     PublishFunc
	feeBps      int
	riskLimiter *risk.PositionLimiter
}

// NewManager wires up the engine supervisor. limiter may be nil, which
// disables the correlated-position-limit check entirely (spec's
// off-by-default supplemental risk control).
func NewManager(st store.Store, pub PublishFunc, feeBps int, limiter *risk.PositionLimiter) *Manager {
	return &Manager{
		engines:     make(map[string]*MarketEngine),
		store:       st,
		publish:     pub,
		feeBps:      feeBps,
		riskLimiter: limiter,
	}
}

// Boot starts one engine per currently OPEN market, rebuilding each
// in-memory book from its resting orders (spec §4.4 recovery).
func (m *Manager) Boot(ctx context.Context) error {
	markets, err := m.store.GetOpenMarkets(ctx)
	if err != nil {
		return fmt.Errorf("boot: list open markets: %w", err)
	}
	for _, mkt := range markets {
		if err := m.StartEngine(ctx, mkt.ID); err != nil {
			return fmt.Errorf("boot %s: %w", mkt.ID, err)
		}
	}
	slog.Info("engine manager booted", "markets", len(markets))
	return nil
}

// StartEngine creates and runs the engine goroutine for a market. It is
// a no-op if the engine is already running, so callers may invoke it
// idempotently right after market creation.
func (m *Manager) StartEngine(ctx context.Context, marketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[marketID]; ok {
		return nil
	}
	eng, err := newMarketEngine(ctx, marketID, m.store, m.publish, m.feeBps, m.riskLimiter)
	if err != nil {
		return err
	}
	m.engines[marketID] = eng
	go eng.run(context.Background())
	metrics.ActiveMarkets.Set(float64(len(m.engines)))
	return nil
}

// StopEngine retires a market's goroutine and book after settlement
// (spec §4.5) — the market is RESOLVED and will never trade again.
func (m *Manager) StopEngine(marketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eng, ok := m.engines[marketID]; ok {
		close(eng.stopCh)
		delete(m.engines, marketID)
	}
	metrics.ActiveMarkets.Set(float64(len(m.engines)))
}

func (m *Manager) GetEngine(marketID string) *MarketEngine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engines[marketID]
}

// ResolveMarket settles a market through its engine and, once settlement
// commits, retires the engine — a resolved market never trades again
// (spec §4.5).
func (m *Manager) ResolveMarket(marketID string, resolvesTo model.Outcome, adminID string) error {
	eng := m.GetEngine(marketID)
	if eng == nil {
		return fmt.Errorf("no running engine for market %s", marketID)
	}
	if err := eng.ResolveMarket(resolvesTo, adminID); err != nil {
		return err
	}
	m.StopEngine(marketID)
	return nil
}

// Snapshot returns the current book depth for a market.
func (m *Manager) Snapshot(marketID string, depth int) model.BookSnapshot {
	eng := m.GetEngine(marketID)
	if eng == nil {
		return model.BookSnapshot{}
	}
	return eng.snapshot(depth)
}

// ── MarketEngine ─────────────────────────────────────

// MarketEngine serializes every mutation for one market through a
// single goroutine reading off cmdCh — the only writer of e.book and
// e.seq, so no lock is needed around either (spec §4, §5).
type MarketEngine struct {
	marketID      string
	category      string
	tickSizeCents int
	book          *book.Book
	seq           int64
	cmdCh         chan command
	stopCh        chan struct{}
	store         store.Store
	publish       PublishFunc
	feeBps        int
	riskLimiter   *risk.PositionLimiter

	// flowYesCents/flowNoCents are cumulative BUY-side/SELL-side trade
	// notional, the running totals internal/pricing's ReferenceModel
	// turns into a theoretical price (informational only).
	flowYesCents int64
	flowNoCents  int64
}

func newMarketEngine(ctx context.Context, marketID string, st store.Store, pub PublishFunc, feeBps int, limiter *risk.PositionLimiter) (*MarketEngine, error) {
	tickSizeCents := 1
	category := ""
	if mkt, err := st.GetMarket(ctx, marketID); err == nil && mkt != nil {
		if mkt.TickSizeCents > 0 {
			tickSizeCents = mkt.TickSizeCents
		}
		category = mkt.Category
	}

	b := book.New()
	orders, err := st.GetOpenOrders(ctx, marketID)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		o := &orders[i]
		if o.PriceCents == nil {
			// A resting MARKET order should never exist — defensive skip
			// during recovery in case one was ever persisted.
			continue
		}
		b.Add(&book.Entry{
			OrderID:      o.ID,
			UserID:       o.UserID,
			Side:         string(o.Side),
			PriceCents:   *o.PriceCents,
			RemainingQty: o.RemainingQty,
			LockedCents:  o.LockedCents,
			Seq:          o.Seq,
		})
	}
	seq, err := st.MaxSeq(ctx, marketID)
	if err != nil {
		return nil, err
	}
	slog.Info("market engine recovered", "market_id", marketID, "orders", len(orders), "seq", seq)
	return &MarketEngine{
		marketID:      marketID,
		category:      category,
		tickSizeCents: tickSizeCents,
		book:          b,
		seq:           seq,
		cmdCh:         make(chan command, 256),
		stopCh:        make(chan struct{}),
		store:         st,
		publish:       pub,
		feeBps:        feeBps,
		riskLimiter:   limiter,
	}, nil
}

func (e *MarketEngine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case cmd := <-e.cmdCh:
			cmd.exec(e)
		}
	}
}

func (e *MarketEngine) nextSeq() int64 {
	e.seq++
	return e.seq
}

// categoryExposures builds the cross-market view internal/risk needs:
// a user's current net exposure (signed YES shares) in every category
// they already hold a position in. The target market's own category
// is folded in by the caller via CheckLimit's exposureDelta argument,
// not here.
func (e *MarketEngine) categoryExposures(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	positions, err := e.store.ListPositionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		mkt, err := e.store.GetMarket(ctx, p.MarketID)
		if err != nil || mkt == nil {
			continue
		}
		out[mkt.Category] = out[mkt.Category].Add(decimal.NewFromInt(int64(p.YesShares)))
	}
	return out, nil
}

func (e *MarketEngine) snapshot(depth int) model.BookSnapshot {
	bids, asks := e.book.Snapshot(depth)
	out := model.BookSnapshot{}
	for _, lv := range bids {
		out.Bids = append(out.Bids, model.BookLevel{Price: lv.Price, Qty: lv.TotalQty()})
	}
	for _, lv := range asks {
		out.Asks = append(out.Asks, model.BookLevel{Price: lv.Price, Qty: lv.TotalQty()})
	}
	if price, ok := e.theoreticalPriceCents(); ok {
		out.TheoreticalPriceCents = &price
	}
	return out
}

// theoreticalPriceCents derives a secondary, informational fair price
// from cumulative signed trade flow — purely a telemetry signal, never
// consulted by FindMatches/ApplyFill or any collateral/settlement math
// (spec §4.1-§4.5 own those exclusively). Liquidity is re-derived from
// total flow on every call since ReferenceModel is stateless by design.
func (e *MarketEngine) theoreticalPriceCents() (int, bool) {
	if e.flowYesCents == 0 && e.flowNoCents == 0 {
		return 0, false
	}
	qYes := decimal.NewFromInt(e.flowYesCents)
	qNo := decimal.NewFromInt(e.flowNoCents)
	b := pricing.DeriveLiquidityFromVolume(qYes.Add(qNo))
	refModel, err := pricing.NewReferenceModel(b)
	if err != nil {
		return 0, false
	}
	return refModel.PriceCents(qYes, qNo), true
}

// ── Commands ─────────────────────────────────────────

// command is the mailbox envelope every MarketEngine goroutine drains;
// each variant's exec runs exclusively inside that goroutine, giving
// every operation strict per-market ordering (spec §4, §5).
type command interface{ exec(e *MarketEngine) }

type placeCmd struct {
	req    model.PlaceOrderReq
	userID string
	ch     chan<- model.PlaceOrderResult
}

type cancelCmd struct {
	orderID string
	userID  string
	ch      chan<- model.CancelOrderResult
}

type resolveCmd struct {
	resolvesTo model.Outcome
	adminID    string
	ch         chan<- error
}

func (c placeCmd) exec(e *MarketEngine)   { c.ch <- e.processOrder(c.userID, c.req) }
func (c cancelCmd) exec(e *MarketEngine)  { c.ch <- e.cancelOrder(c.orderID, c.userID) }
func (c resolveCmd) exec(e *MarketEngine) { c.ch <- e.resolveMarket(c.resolvesTo, c.adminID) }

// PlaceOrder enqueues a place-order command and blocks for its result.
func (e *MarketEngine) PlaceOrder(userID string, req model.PlaceOrderReq) model.PlaceOrderResult {
	ch := make(chan model.PlaceOrderResult, 1)
	e.cmdCh <- placeCmd{req: req, userID: userID, ch: ch}
	return <-ch
}

// CancelOrder enqueues a cancel command and blocks for its result.
// Canceling an order already in a terminal state is not an error — it
// returns Success with AlreadyTerminal set (spec §4.2, §8).
func (e *MarketEngine) CancelOrder(orderID, userID string) model.CancelOrderResult {
	ch := make(chan model.CancelOrderResult, 1)
	e.cmdCh <- cancelCmd{orderID: orderID, userID: userID, ch: ch}
	return <-ch
}

// ResolveMarket enqueues a one-shot settlement command and blocks for
// its result.
func (e *MarketEngine) ResolveMarket(resolvesTo model.Outcome, adminID string) error {
	ch := make(chan error, 1)
	e.cmdCh <- resolveCmd{resolvesTo: resolvesTo, adminID: adminID, ch: ch}
	return <-ch
}

// ── Process Order ────────────────────────────────────

func (e *MarketEngine) processOrder(userID string, req model.PlaceOrderReq) model.PlaceOrderResult {
	reject := func(reason string) model.PlaceOrderResult {
		return model.PlaceOrderResult{Status: model.StatusRejected, Reason: reason}
	}

	if req.Type == model.TypeLimit {
		if req.PriceCents == nil || *req.PriceCents < model.MinPriceCents || *req.PriceCents > model.MaxPriceCents {
			return reject("price must be 1-99")
		}
		if *req.PriceCents%e.tickSizeCents != 0 {
			return reject(fmt.Sprintf("price must be a multiple of tick size %d", e.tickSizeCents))
		}
	}
	if req.Qty < 1 {
		return reject("qty must be >= 1")
	}

	if e.riskLimiter != nil {
		exposureDelta := decimal.NewFromInt(int64(req.Qty))
		if req.Side == model.SideSell {
			exposureDelta = exposureDelta.Neg()
		}
		existing, err := e.categoryExposures(context.Background(), userID)
		if err != nil {
			return reject("internal error")
		}
		if err := e.riskLimiter.CheckLimit(e.category, exposureDelta, existing); err != nil {
			return reject(err.Error())
		}
	}

	if req.ClientOrderID != nil {
		existing, err := e.store.GetOrderByClientID(context.Background(), e.marketID, *req.ClientOrderID)
		if err != nil {
			return reject("internal error")
		}
		if existing != nil {
			return model.PlaceOrderResult{OrderID: existing.ID, Status: model.StatusRejected, Reason: "duplicate client_order_id"}
		}
	}

	lockNeeded := ledger.CalcLock(req.Side, req.Type, req.PriceCents, req.Qty, e.feeBps)

	// Non-mutating planning walk — no book state changes until after commit.
	matches := e.book.FindMatches(string(req.Side), req.PriceCents, req.Qty, userID)

	if req.Type == model.TypeMarket && len(matches) == 0 {
		return model.PlaceOrderResult{Status: model.StatusCanceled, Reason: "no liquidity"}
	}

	orderID := uuid.New().String()
	seq := e.nextSeq()

	fillQty := 0
	for _, m := range matches {
		fillQty += m.FillQty
	}
	remainingQty := req.Qty - fillQty

	var status model.OrderStatus
	switch {
	case fillQty == req.Qty:
		status = model.StatusFilled
	case fillQty > 0 && req.Type == model.TypeLimit:
		status = model.StatusPartial
	case fillQty > 0 && req.Type == model.TypeMarket:
		status = model.StatusFilled
		remainingQty = 0
	case req.Type == model.TypeLimit:
		status = model.StatusOpen
	default:
		status = model.StatusCanceled
	}

	restingLock := int64(0)
	if (status == model.StatusOpen || status == model.StatusPartial) && remainingQty > 0 {
		restingLock = ledger.CalcLock(req.Side, model.TypeLimit, req.PriceCents, remainingQty, e.feeBps)
	}

	// Every wallet a fill can touch — the taker plus one maker per
	// match — is locked FOR UPDATE up front, in ascending user_id order,
	// before any WalletAddLocked/WalletAddBalance call below (spec §5:
	// "a multi-party fill acquires maker wallets in a canonical order
	// ... to prevent deadlock"). Two market engines racing on a shared
	// user's wallet from different markets is exactly the scenario this
	// ordering protects against.
	lockSet := map[string]bool{userID: true}
	for _, m := range matches {
		lockSet[m.Entry.UserID] = true
	}
	lockOrder := make([]string, 0, len(lockSet))
	for uid := range lockSet {
		lockOrder = append(lockOrder, uid)
	}
	sort.Strings(lockOrder)

	ctx := context.Background()
	// Positions are read before the transaction opens and carried forward
	// in memory across fills, so a user matched more than once in this
	// order accumulates every fill.
	positions := make(map[string]model.Position, len(lockOrder))
	for _, uid := range lockOrder {
		p, err := e.store.GetPosition(ctx, e.marketID, uid)
		if err != nil {
			return reject("position lookup failed")
		}
		positions[uid] = *p
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return reject("internal error")
	}
	defer tx.Rollback(ctx)

	wallets := make(map[string]*model.Wallet, len(lockOrder))
	for _, uid := range lockOrder {
		w, err := e.store.GetWalletForUpdate(ctx, tx, uid)
		if err != nil {
			return reject("wallet not found")
		}
		wallets[uid] = w
	}

	wallet := wallets[userID]
	if wallet.Available() < lockNeeded {
		return reject(fmt.Sprintf("insufficient balance: need %d, have %d", lockNeeded, wallet.Available()))
	}
	if err := e.store.WalletAddLocked(ctx, tx, userID, lockNeeded); err != nil {
		return reject("lock failed")
	}

	order := &model.Order{
		ID: orderID, MarketID: e.marketID, UserID: userID,
		Side: req.Side, OrderType: req.Type, PriceCents: req.PriceCents,
		Qty: req.Qty, RemainingQty: remainingQty,
		LockedCents: restingLock, Status: status, Seq: seq,
		ClientOrderID: req.ClientOrderID,
	}
	if err := e.store.InsertOrder(ctx, tx, order); err != nil {
		return reject("order insert failed: " + err.Error())
	}

	if err := e.store.AppendEvent(ctx, tx, &e.marketID, &seq, events.OrderAccepted, events.OrderAcceptedPayload{
		OrderID: orderID, UserID: userID, Side: req.Side, Type: req.Type,
		Price: req.PriceCents, Qty: req.Qty, ClientID: req.ClientOrderID,
	}); err != nil {
		return reject("event append failed")
	}

	type fillApplication struct {
		orderID     string
		fillQty     int
		lockedCents int64
	}
	var applications []fillApplication
	var trades []model.Trade
	affectedUsers := map[string]bool{userID: true}

	for _, m := range matches {
		tradeSeq := e.nextSeq()
		tradeID := uuid.New().String()
		ep := m.FillPrice
		fq := m.FillQty
		fee := ledger.CalcTakerFee(ep, fq, e.feeBps)

		makerRemBefore := m.Entry.RemainingQty
		makerNewRem := makerRemBefore - fq
		makerStatus := model.StatusPartial
		if makerNewRem <= 0 {
			makerStatus = model.StatusFilled
			makerNewRem = 0
		}
		makerLockRelease := ledger.MakerLockRelease(m.Entry.LockedCents, fq, makerRemBefore)
		makerNewLocked := m.Entry.LockedCents - makerLockRelease

		if err := e.store.UpdateOrderFill(ctx, tx, m.Entry.OrderID, makerNewRem, makerNewLocked, makerStatus); err != nil {
			return reject("maker update failed")
		}
		if err := e.store.WalletAddLocked(ctx, tx, m.Entry.UserID, -makerLockRelease); err != nil {
			return reject("maker wallet failed")
		}

		makerCash := int64(ep) * int64(fq)
		if m.Entry.Side == "BUY" {
			makerCash = -makerCash
		}
		if err := e.store.WalletAddBalance(ctx, tx, m.Entry.UserID, makerCash); err != nil {
			return reject("maker balance failed")
		}

		makerSide := model.SideBuy
		if m.Entry.Side == "SELL" {
			makerSide = model.SideSell
		}
		newMakerPos, _ := ledger.ApplyFillToPosition(positions[m.Entry.UserID], makerSide, ep, fq)
		positions[m.Entry.UserID] = newMakerPos
		if err := e.store.PutPosition(ctx, tx, newMakerPos); err != nil {
			return reject("maker position update failed")
		}

		takerCash := int64(0)
		if req.Side == model.SideBuy {
			takerCash = -(int64(ep)*int64(fq) + fee)
		} else {
			takerCash = int64(ep)*int64(fq) - fee
		}
		if err := e.store.WalletAddBalance(ctx, tx, userID, takerCash); err != nil {
			return reject("taker balance failed")
		}

		newTakerPos, _ := ledger.ApplyFillToPosition(positions[userID], req.Side, ep, fq)
		positions[userID] = newTakerPos
		if err := e.store.PutPosition(ctx, tx, newTakerPos); err != nil {
			return reject("taker position update failed")
		}

		if fee > 0 {
			if err := e.store.AddPlatformFee(ctx, tx, fee); err != nil {
				return reject("fee failed")
			}
		}

		trade := &model.Trade{
			ID: tradeID, MarketID: e.marketID,
			MakerOrderID: m.Entry.OrderID, TakerOrderID: orderID,
			MakerUserID: m.Entry.UserID, TakerUserID: userID,
			PriceCents: ep, Qty: fq, FeeCents: fee, Seq: tradeSeq,
		}
		if err := e.store.InsertTrade(ctx, tx, trade); err != nil {
			return reject("trade insert failed")
		}
		trades = append(trades, *trade)

		if err := e.store.AppendEvent(ctx, tx, &e.marketID, &tradeSeq, events.TradeExecuted, events.TradeExecutedPayload{
			TradeID: tradeID, PriceCents: ep, Qty: fq, FeeCents: fee,
			TakerSide: string(req.Side), MakerOrderID: m.Entry.OrderID, TakerOrderID: orderID,
		}); err != nil {
			return reject("event append failed")
		}

		applications = append(applications, fillApplication{orderID: m.Entry.OrderID, fillQty: fq, lockedCents: makerNewLocked})
		affectedUsers[m.Entry.UserID] = true

		// Cumulative signed flow feeds internal/pricing's reference model
		// (theoreticalPriceCents) — BUY-side taker notional accrues to the
		// YES side, SELL-side to the NO side.
		notional := int64(ep) * int64(fq)
		if req.Side == model.SideBuy {
			e.flowYesCents += notional
		} else {
			e.flowNoCents += notional
		}
	}

	takerRelease := lockNeeded - restingLock
	if takerRelease != 0 {
		if err := e.store.WalletAddLocked(ctx, tx, userID, -takerRelease); err != nil {
			return reject("taker unlock failed")
		}
	}

	for uid := range affectedUsers {
		if err := e.store.RecalcLocked(ctx, tx, uid); err != nil {
			return reject("recalc failed: " + err.Error())
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return reject("commit failed: " + err.Error())
	}

	// Book mutation happens only now, after durable commit — the planning
	// walk above never touched book state.
	for _, a := range applications {
		e.book.ApplyFill(a.orderID, a.fillQty)
		if be := e.book.Get(a.orderID); be != nil {
			be.LockedCents = a.lockedCents
		}
	}
	if (status == model.StatusOpen || status == model.StatusPartial) && remainingQty > 0 {
		e.book.Add(&book.Entry{
			OrderID:      orderID,
			UserID:       userID,
			Side:         string(req.Side),
			PriceCents:   *req.PriceCents,
			RemainingQty: remainingQty,
			LockedCents:  restingLock,
			Seq:          seq,
		})
	}

	for _, t := range trades {
		metrics.TradesTotal.WithLabelValues(string(req.Side)).Inc()
		metrics.TradeNotionalCents.Add(float64(int64(t.PriceCents) * int64(t.Qty)))
	}
	bestBids, bestAsks := e.book.Snapshot(1)
	bidQty, askQty := 0, 0
	if len(bestBids) > 0 {
		bidQty = bestBids[0].TotalQty()
	}
	if len(bestAsks) > 0 {
		askQty = bestAsks[0].TotalQty()
	}
	metrics.BookDepth.WithLabelValues(e.marketID, "bid").Set(float64(bidQty))
	metrics.BookDepth.WithLabelValues(e.marketID, "ask").Set(float64(askQty))
	metrics.EngineMailboxDepth.WithLabelValues(e.marketID).Set(float64(len(e.cmdCh)))

	if e.publish != nil {
		snap := e.snapshot(20)
		e.publish(e.marketID, "book_snapshot", snap)
		for _, t := range trades {
			e.publish(e.marketID, "trade", t)
		}
	}

	return model.PlaceOrderResult{OrderID: orderID, Status: status, Trades: trades}
}

// ── Cancel ───────────────────────────────────────────

func (e *MarketEngine) cancelOrder(orderID, userID string) model.CancelOrderResult {
	ctx := context.Background()
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil || o == nil {
		return model.CancelOrderResult{Reason: "order not found"}
	}
	if o.UserID != userID {
		return model.CancelOrderResult{Reason: "not your order"}
	}
	// A terminal-status order (FILLED/CANCELED/REJECTED) can't be
	// un-filled or un-canceled, but a second cancel request against one
	// isn't a client error either — it's the idempotent no-op spec §4.2
	// and §8 both call for.
	if o.Status != model.StatusOpen && o.Status != model.StatusPartial {
		return model.CancelOrderResult{Success: true, AlreadyTerminal: true}
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return model.CancelOrderResult{Reason: err.Error()}
	}
	defer tx.Rollback(ctx)

	locked, err := e.store.CancelOrderTx(ctx, tx, orderID)
	if err != nil {
		return model.CancelOrderResult{Reason: err.Error()}
	}
	if err := e.store.WalletAddLocked(ctx, tx, userID, -locked); err != nil {
		return model.CancelOrderResult{Reason: err.Error()}
	}
	seq := e.nextSeq()
	if err := e.store.AppendEvent(ctx, tx, &e.marketID, &seq, events.OrderCanceled, events.OrderCanceledPayload{
		OrderID: orderID, UserID: userID,
	}); err != nil {
		return model.CancelOrderResult{Reason: err.Error()}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.CancelOrderResult{Reason: err.Error()}
	}

	e.book.Remove(orderID)

	if e.publish != nil {
		e.publish(e.marketID, "book_snapshot", e.snapshot(20))
	}
	return model.CancelOrderResult{Success: true}
}

// ── Settlement ───────────────────────────────────────

// resolveMarket is a one-shot OPEN->RESOLVED transition: cancel every
// resting order, pay out every position per the resolved outcome, then
// signal the caller to retire this engine (spec §4.5).
func (e *MarketEngine) resolveMarket(resolvesTo model.Outcome, adminID string) error {
	ctx := context.Background()

	openOrders, err := e.store.GetOpenOrders(ctx, e.marketID)
	if err != nil {
		return err
	}
	for _, o := range openOrders {
		if err := e.cancelOrderInternal(ctx, o.ID, o.UserID); err != nil {
			slog.Error("settlement: failed to cancel resting order", "order_id", o.ID, "err", err)
		}
	}

	positions, err := e.store.ListPositions(ctx, e.marketID)
	if err != nil {
		return err
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var totalPayout int64
	settled := 0

	// settlePriceCents is what one YES share is worth once resolved: 100
	// if the outcome is YES, 0 if NO. payout = shares * settlePriceCents
	// holds uniformly for longs and shorts alike (a short's negative
	// share count turns a YES resolution into a debit). A short's held
	// lock is (100 - avgCost) per share, matching the position_lock
	// original_source's own RecalcLocked should have computed (spec §8
	// scenario 6, §9 Open Question 3) — it always comes to exactly zero
	// once the settlement debit/credit above has been applied.
	settlePriceCents := int64(0)
	if resolvesTo == model.OutcomeYes {
		settlePriceCents = model.FullPayCents
	}

	for _, pos := range positions {
		if pos.YesShares == 0 {
			continue
		}
		payout := int64(pos.YesShares) * settlePriceCents
		realized := payout - pos.AvgCostCents*int64(pos.YesShares)
		var lockRelease int64
		if pos.YesShares < 0 {
			lockRelease = int64(-pos.YesShares) * (model.FullPayCents - pos.AvgCostCents)
		}

		if payout != 0 {
			if err := e.store.WalletAddBalance(ctx, tx, pos.UserID, payout); err != nil {
				return err
			}
		}
		if lockRelease > 0 {
			if err := e.store.WalletAddLocked(ctx, tx, pos.UserID, -lockRelease); err != nil {
				return err
			}
		}

		settledPos := pos
		settledPos.YesShares = 0
		settledPos.AvgCostCents = 0
		settledPos.RealizedPnlCents += realized
		if err := e.store.PutPosition(ctx, tx, settledPos); err != nil {
			return err
		}

		if err := e.store.AppendEvent(ctx, tx, &e.marketID, nil, events.PositionSettled, events.PositionSettledPayload{
			UserID: pos.UserID, YesSharesAtClose: pos.YesShares,
			PayoutCents: payout, LockReleaseCents: lockRelease, RealizedPnlCents: realized,
		}); err != nil {
			return err
		}

		if payout > 0 {
			totalPayout += payout
		}
		settled++
	}

	if err := e.store.ResolveMarketTx(ctx, tx, e.marketID, resolvesTo); err != nil {
		return err
	}
	if err := e.store.AppendEvent(ctx, tx, &e.marketID, nil, events.MarketResolved, events.MarketResolvedPayload{
		ResolvedTo: resolvesTo, AdminID: adminID, SettledPositions: settled, TotalPayoutCents: totalPayout,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	metrics.MarketsResolvedTotal.WithLabelValues(string(resolvesTo)).Inc()
	if e.publish != nil {
		e.publish(e.marketID, "market_resolved", map[string]any{
			"resolves_to":        resolvesTo,
			"settled_positions":  settled,
			"total_payout_cents": totalPayout,
		})
	}
	slog.Info("market resolved", "market_id", e.marketID, "resolves_to", resolvesTo,
		"settled_positions", settled, "total_payout_cents", totalPayout)
	return nil
}

func (e *MarketEngine) cancelOrderInternal(ctx context.Context, orderID, userID string) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	locked, err := e.store.CancelOrderTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if err := e.store.WalletAddLocked(ctx, tx, userID, -locked); err != nil {
		return err
	}
	seq := e.nextSeq()
	if err := e.store.AppendEvent(ctx, tx, &e.marketID, &seq, events.OrderCanceled, events.OrderCanceledPayload{
		OrderID: orderID, UserID: userID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.book.Remove(orderID)
	return nil
}
