package feed

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-sentinel/internal/tokens"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for dev; restrict in prod
	},
}

// Handler upgrades authenticated feed connections and registers them
// with the hub.
type Handler struct {
	Hub    *Hub
	Tokens *tokens.Manager
}

func NewHandler(hub *Hub, tm *tokens.Manager) *Handler {
	return &Handler{Hub: hub, Tokens: tm}
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	// Auth via query param; websocket clients cannot set headers.
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.Tokens.ValidateFeedToken(tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] Feed upgrade failed: %v", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.Hub.add(claims.TenantID, sub)
	log.Printf("[INFO] Feed connected: tenant=%s", claims.TenantID)

	go h.writePump(claims.TenantID, sub)
	h.readPump(claims.TenantID, sub)
}

// readPump discards client frames; its job is detecting disconnects
// and feeding the pong-based liveness check.
func (h *Handler) readPump(tenantID string, s *subscriber) {
	defer func() {
		h.Hub.remove(tenantID, s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WARN] Feed read error: %v", err)
			}
			return
		}
	}
}

func (h *Handler) writePump(tenantID string, s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
