// Package notify delivers settlement notifications to interested parties.
// Notifications are fire-and-forget: they run after the settlement
// transaction has committed and can never affect its outcome.
package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lendmatch/match-engine/internal/metrics"
	"github.com/lendmatch/match-engine/internal/model"
)

// Notifier receives settled trades. Implementations must not block the
// caller for long; the engine invokes them asynchronously.
type Notifier interface {
	TradeSettled(trade *model.Trade)
}

// WSMessage is a JSON message sent to WebSocket clients when a trade
// settles.
type WSMessage struct {
	Type         string `json:"type"`
	TradeID      string `json:"trade_id"`
	InvestorID   string `json:"investor_id"`
	BorrowerID   string `json:"borrower_id"`
	InvestmentID string `json:"investment_id"`
	LoanID       string `json:"loan_id"`
	TradeAmount  string `json:"trade_amount"`
}

// WSHub manages WebSocket connections and broadcasts a message to all
// connected clients whenever a trade settles.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "total", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				metrics.WebSocketClients.Dec()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// TradeSettled implements Notifier by broadcasting the settlement to all
// connected clients.
func (h *WSHub) TradeSettled(trade *model.Trade) {
	data, err := json.Marshal(WSMessage{
		Type:         "trade_settled",
		TradeID:      trade.ID,
		InvestorID:   trade.InvestorID,
		BorrowerID:   trade.BorrowerID,
		InvestmentID: trade.InvestmentID,
		LoanID:       trade.LoanID,
		TradeAmount:  trade.TradeAmount.String(),
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking settlement.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
