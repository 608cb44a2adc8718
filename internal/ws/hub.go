// Package ws broadcasts book/trade/settlement updates to subscribed
// clients over WebSocket, one "room" per market (spec §7).
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duskmarket/exchange/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Msg is the envelope every subscriber receives.
type Msg struct {
	Type     string `json:"type"`
	MarketID string `json:"market_id"`
	Data     any    `json:"data"`
}

// Hub manages per-market WebSocket subscriptions. A connection joins at
// most one market room at a time; switching rooms is a subscribe
// message away.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*conn]bool // marketID -> subscribers
}

type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub
	market string
}

// NewHub creates an empty hub. There is no Run loop to start — unlike
// a single global broadcast channel, each room fans out independently
// as Publish is called, so there's no shared event loop to own.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*conn]bool)}
}

// Publish sends msgType/data to every connection subscribed to
// marketID. A message that does not fit a slow subscriber's send buffer
// is dropped for that subscriber rather than allowed to block the
// matching engine's publish call; the subscriber stays connected.
func (h *Hub) Publish(marketID, msgType string, data any) {
	b, err := json.Marshal(Msg{Type: msgType, MarketID: marketID, Data: data})
	if err != nil {
		slog.Error("ws: marshal failed", "err", err)
		return
	}
	h.mu.RLock()
	room := h.rooms[marketID]
	h.mu.RUnlock()
	for c := range room {
		select {
		case c.send <- b:
		default:
			// slow client, drop the message rather than block the publisher
		}
	}
}

// HandleWS upgrades the connection and starts its read/write pumps.
// Clients subscribe to a market by sending {"action":"subscribe","market_id":"..."}.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws: upgrade failed", "err", err)
		return
	}
	c := &conn{ws: wsConn, send: make(chan []byte, 64), hub: h}
	metrics.WebSocketClients.Inc()
	go c.writePump()
	go c.readPump()
}

func (c *conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.ws.Close()
	}()
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var sub struct {
			Action   string `json:"action"`
			MarketID string `json:"market_id"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.hub.subscribe(c, sub.MarketID)
		case "unsubscribe":
			c.hub.unsubscribe(c, sub.MarketID)
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) subscribe(c *conn, marketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.market != "" {
		h.removeFromRoomLocked(c, c.market)
	}
	c.market = marketID
	room, ok := h.rooms[marketID]
	if !ok {
		room = make(map[*conn]bool)
		h.rooms[marketID] = room
	}
	room[c] = true
}

func (h *Hub) unsubscribe(c *conn, marketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(c, marketID)
	if c.market == marketID {
		c.market = ""
	}
}

func (h *Hub) removeConn(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.market != "" {
		h.removeFromRoomLocked(c, c.market)
	}
	close(c.send)
	metrics.WebSocketClients.Dec()
}

func (h *Hub) removeFromRoomLocked(c *conn, marketID string) {
	room, ok := h.rooms[marketID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, marketID)
	}
}
