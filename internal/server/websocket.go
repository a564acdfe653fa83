package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"storewatch/internal/diag"
)

// Hub fans scan progress events out to websocket subscribers, keyed by scan
// id. It implements diag.EventSink so the service can publish directly.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (h *Hub) Subscribe(scanID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[scanID] == nil {
		h.clients[scanID] = make(map[*websocket.Conn]struct{})
	}
	h.clients[scanID][conn] = struct{}{}
}

func (h *Hub) Unsubscribe(scanID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[scanID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, scanID)
		}
	}
}

// Publish sends the event to every subscriber of its scan. A failed write
// drops the subscriber.
func (h *Hub) Publish(ev diag.ScanEvent) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[ev.ScanID]))
	for conn := range h.clients[ev.ScanID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	for _, conn := range conns {
		if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
			h.Unsubscribe(ev.ScanID, conn)
			conn.Close(websocket.StatusNormalClosure, "")
		}
	}
}

var _ diag.EventSink = (*Hub)(nil)

type wsSubscribeMsg struct {
	ScanID string `json:"scan_id"`
}

// handleWebSocket upgrades the connection and subscribes it to the scan id
// named in the first message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("ws accept error", "error", err)
		return
	}
	defer conn.CloseNow()

	// First message selects the scan to follow.
	_, data, err := conn.Read(r.Context())
	if err != nil {
		return
	}

	var msg wsSubscribeMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.ScanID == "" {
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid subscribe message")
		return
	}

	s.hub.Subscribe(msg.ScanID, conn)
	defer s.hub.Unsubscribe(msg.ScanID, conn)

	// Hold the connection open until the client goes away.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}
