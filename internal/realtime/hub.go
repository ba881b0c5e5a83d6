package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/models"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256

	WelcomeMessage = "Connected to price stream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins, auth is not required for prices
	},
}

// Hub tracks open websocket sessions and pushes price events to them
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	logger   *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[*Session]struct{}),
		logger:   logger,
	}
}

// ServeHTTP upgrades the request and serves the session until it closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	s := newSession(conn)

	welcome, _ := json.Marshal(models.Welcome{Message: WelcomeMessage})
	s.send <- welcome

	h.register(s)
	go s.writePump(h.logger)
	s.readPump()
	h.unregister(s)
}

// Broadcast sends one PRICE_UPDATE event to every ready session. It never
// blocks: a session whose buffer is full misses this event.
func (h *Hub) Broadcast(symbol string, price float64) {
	data, err := json.Marshal(models.PriceEvent{Type: models.PriceEventType, Symbol: symbol, Price: price})
	if err != nil {
		h.logger.Error("Failed to marshal price event", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.sessions {
		if !s.Ready() {
			continue
		}
		select {
		case s.send <- data:
		default:
			h.logger.Debug("Dropping price event for slow session",
				zap.String("session", s.id.String()), zap.String("symbol", symbol))
		}
	}
}

// Len returns the number of registered sessions
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close disconnects every session
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.sessions {
		s.close()
		delete(h.sessions, s)
	}
}

func (h *Hub) register(s *Session) {
	s.ready.Store(true)

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("Session opened", zap.String("session", s.id.String()))
}

func (h *Hub) unregister(s *Session) {
	s.close()

	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()

	h.logger.Debug("Session closed", zap.String("session", s.id.String()))
}
