// Package api exposes the matching engine and ledger over HTTP and
// wires the same calls into internal/ws for book/trade broadcast
// (spec §7). There is no authentication layer here — spec scopes
// login/session handling out, so every request carries its acting
// user_id directly in the body, path, or query string rather than a
// JWT claim, the same convention the teacher's own ExecuteTrade
// handler used for its trade body.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/duskmarket/exchange/internal/engine"
	"github.com/duskmarket/exchange/internal/metrics"
	"github.com/duskmarket/exchange/internal/model"
	"github.com/duskmarket/exchange/internal/store"
	"github.com/duskmarket/exchange/internal/ws"
)

// Server holds the dependencies every handler needs: the durable
// store for reads, the engine manager for anything that must go
// through a market's single-writer mailbox, and the WS hub for
// fan-out. There is no admin/session secret — admin endpoints are
// trusted callers only (spec's non-goal on auth), gated at the
// network edge rather than in this package.
type Server struct {
	store   store.Store
	manager *engine.Manager
	hub     *ws.Hub
	feeBps  int
}

func NewServer(st store.Store, mgr *engine.Manager, hub *ws.Hub, feeBps int) *Server {
	return &Server{store: st, manager: mgr, hub: hub, feeBps: feeBps}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/ws", s.hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/wallets/{user_id}", s.getWallet)
		r.Post("/wallets/{user_id}/deposit", s.deposit)

		r.Get("/markets", s.listMarkets)
		r.Post("/markets", s.createMarket)
		r.Get("/markets/{id}", s.getMarket)
		r.Get("/markets/{id}/book", s.getBook)
		r.Get("/markets/{id}/trades", s.getTrades)
		r.Post("/markets/{id}/resolve", s.resolveMarket)
		r.Get("/markets/{id}/positions", s.listPositions)
		r.Get("/markets/{id}/positions/{user_id}", s.getPosition)

		r.Post("/markets/{id}/orders", s.placeOrder)
		r.Get("/markets/{id}/orders", s.listOrders)
		r.Delete("/orders/{order_id}", s.cancelOrder)

		r.Get("/events", s.listEvents)
		r.Get("/admin/summary", s.summary)
	})

	return r
}

// ── Wallets ──────────────────────────────────────────

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "user_id")
	wallet, err := s.store.GetWallet(r.Context(), uid)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if wallet == nil {
		jsonErr(w, 404, "wallet not found")
		return
	}
	json200(w, wallet)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "user_id")
	var req struct {
		Cents int64 `json:"cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Cents <= 0 {
		jsonErr(w, 400, "cents must be > 0")
		return
	}
	if err := s.store.CreateWallet(r.Context(), uid); err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	wallet, err := s.store.DepositWallet(r.Context(), uid, req.Cents)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	json200(w, wallet)
}

// ── Markets ──────────────────────────────────────────

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	json200(w, markets)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mkt, err := s.store.GetMarket(r.Context(), id)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if mkt == nil {
		jsonErr(w, 404, "market not found")
		return
	}
	json200(w, mkt)
}

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug          string `json:"slug"`
		Title         string `json:"title"`
		Description   string `json:"description"`
		Category      string `json:"category"`
		TickSizeCents int    `json:"tick_size_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Slug == "" || req.Title == "" {
		jsonErr(w, 400, "slug and title required")
		return
	}
	if req.TickSizeCents <= 0 {
		req.TickSizeCents = 1
	}

	mkt := &model.Market{
		Slug:          req.Slug,
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		Status:        model.MarketOpen,
		TickSizeCents: req.TickSizeCents,
	}
	if err := s.store.CreateMarket(r.Context(), mkt); err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if err := s.manager.StartEngine(r.Context(), mkt.ID); err != nil {
		slog.Error("api: failed to start engine for new market", "market_id", mkt.ID, "err", err)
	}
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(mkt)
}

func (s *Server) resolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")
	var req struct {
		ResolvesTo model.Outcome `json:"resolves_to"`
		AdminID    string        `json:"admin_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.ResolvesTo != model.OutcomeYes && req.ResolvesTo != model.OutcomeNo {
		jsonErr(w, 400, "resolves_to must be YES or NO")
		return
	}
	if err := s.manager.ResolveMarket(marketID, req.ResolvesTo, req.AdminID); err != nil {
		jsonErr(w, 400, err.Error())
		return
	}
	json200(w, map[string]string{"status": "resolved", "resolves_to": string(req.ResolvesTo)})
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	depth := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("depth")); err == nil && n > 0 && n <= 500 {
		depth = n
	}
	json200(w, s.manager.Snapshot(id, depth))
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 500 {
		limit = n
	}
	trades, err := s.store.ListTrades(r.Context(), id, limit)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	json200(w, trades)
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	positions, err := s.store.ListPositions(r.Context(), id)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	json200(w, positions)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	uid := chi.URLParam(r, "user_id")
	pos, err := s.store.GetPosition(r.Context(), id, uid)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if pos == nil {
		json200(w, model.Position{MarketID: id, UserID: uid})
		return
	}
	json200(w, pos)
}

// ── Orders ───────────────────────────────────────────

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")
	var req struct {
		UserID        string  `json:"user_id"`
		Side          string  `json:"side"`
		Type          string  `json:"type"`
		PriceCents    *int    `json:"price_cents"`
		Qty           int     `json:"qty"`
		ClientOrderID *string `json:"client_order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.UserID == "" {
		jsonErr(w, 400, "user_id required")
		return
	}
	side := model.OrderSide(req.Side)
	if side != model.SideBuy && side != model.SideSell {
		jsonErr(w, 400, "side must be BUY or SELL")
		return
	}
	typ := model.OrderType(req.Type)
	if typ != model.TypeLimit && typ != model.TypeMarket {
		jsonErr(w, 400, "type must be LIMIT or MARKET")
		return
	}
	if req.Qty < 1 {
		jsonErr(w, 400, "qty must be >= 1")
		return
	}

	mkt, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if mkt == nil {
		jsonErr(w, 404, "market not found")
		return
	}
	if mkt.Status != model.MarketOpen {
		jsonErr(w, 400, "market not open")
		return
	}
	eng := s.manager.GetEngine(marketID)
	if eng == nil {
		jsonErr(w, 500, "engine not running for this market")
		return
	}

	start := time.Now()
	result := eng.PlaceOrder(req.UserID, model.PlaceOrderReq{
		Side:          side,
		Type:          typ,
		PriceCents:    req.PriceCents,
		Qty:           req.Qty,
		ClientOrderID: req.ClientOrderID,
	})
	metrics.OrderLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
	metrics.OrdersPlacedTotal.WithLabelValues(string(side), string(typ), string(result.Status)).Inc()

	if result.Status == model.StatusRejected {
		jsonErr(w, 400, result.Reason)
		return
	}
	json200(w, result)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	var req struct {
		UserID   string `json:"user_id"`
		MarketID string `json:"market_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	order, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if order == nil {
		jsonErr(w, 404, "order not found")
		return
	}
	if order.UserID != req.UserID {
		jsonErr(w, 403, "not your order")
		return
	}
	eng := s.manager.GetEngine(order.MarketID)
	if eng == nil {
		jsonErr(w, 500, "engine not running for this market")
		return
	}
	result := eng.CancelOrder(orderID, req.UserID)
	if !result.Success {
		jsonErr(w, 400, result.Reason)
		return
	}
	if !result.AlreadyTerminal {
		metrics.OrdersCanceledTotal.Inc()
	}
	json200(w, result)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")
	uid := r.URL.Query().Get("user_id")
	orders, err := s.store.GetOpenOrders(r.Context(), marketID)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if uid == "" {
		json200(w, orders)
		return
	}
	filtered := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if o.UserID == uid {
			filtered = append(filtered, o)
		}
	}
	json200(w, filtered)
}

// ── Events / admin ───────────────────────────────────

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 500 {
		limit = n
	}
	var marketID *string
	if id := r.URL.Query().Get("market_id"); id != "" {
		marketID = &id
	}
	events, err := s.store.ListEvents(r.Context(), marketID, limit)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if events == nil {
		events = []model.EventLog{}
	}
	json200(w, events)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	markets, err := s.store.ListMarkets(ctx)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	fee, err := s.store.GetPlatformFee(ctx)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	open := 0
	for _, m := range markets {
		if m.Status == model.MarketOpen {
			open++
		}
	}
	json200(w, map[string]any{
		"total_markets":      len(markets),
		"open_markets":       open,
		"platform_fee_cents": fee,
	})
}

// ── Helpers ──────────────────────────────────────────

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
