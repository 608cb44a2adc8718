// Package metrics provides Prometheus instrumentation for the matching
// engine and its HTTP/WS surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersPlacedTotal counts order placement results returned by the
	// API, partitioned by side, type, and resulting status (rejections
	// included).
	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_orders_placed_total",
		Help: "Total number of orders placed",
	}, []string{"side", "type", "status"})

	// OrdersCanceledTotal counts orders canceled by their owner.
	OrdersCanceledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_orders_canceled_total",
		Help: "Total number of orders canceled",
	})

	// TradesTotal counts trades executed, partitioned by taker side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_trades_total",
		Help: "Total number of trades executed",
	}, []string{"taker_side"})

	// TradeNotionalCents tracks cumulative traded notional in cents.
	TradeNotionalCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_trade_notional_cents_total",
		Help: "Cumulative traded notional in cents",
	})

	// OrderLatency tracks PlaceOrder round-trip latency through the
	// engine mailbox.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_order_latency_seconds",
		Help:    "PlaceOrder round-trip latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// ActiveMarkets tracks the number of currently open (tradeable) markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_active_markets",
		Help: "Number of currently open markets",
	})

	// BookDepth tracks resting quantity at best bid/ask per market.
	BookDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "exchange_book_depth",
		Help: "Resting quantity at best bid/ask",
	}, []string{"market_id", "side"})

	// EngineMailboxDepth tracks how many commands are queued in a
	// market engine's mailbox, a proxy for matching backpressure.
	EngineMailboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "exchange_engine_mailbox_depth",
		Help: "Number of queued commands in a market engine's mailbox",
	}, []string{"market_id"})

	// MarketsResolvedTotal counts settlements, partitioned by outcome.
	MarketsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_markets_resolved_total",
		Help: "Total number of markets resolved",
	}, []string{"outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
