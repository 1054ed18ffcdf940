// Package roundfeed distribui as transições de rodada para clientes
// WebSocket, via Redis Pub/Sub entre instâncias.
package roundfeed

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// client serializa as escritas numa conexão; gorilla aceita um escritor por vez
type client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *client) write(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Hub gerencia conexões WebSocket e assinaturas por rodada
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger
	mu       sync.RWMutex
	// roundID (ou AllRounds) -> conexões inscritas
	subs map[string]map[*client]struct{}
}

// NewHub cria o hub com a política de origem informada
func NewHub(allowOrigin func(r *http.Request) bool, log *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		log:      log.Named("roundfeed"),
		subs:     make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) subscribe(key string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[key]; !ok {
		h.subs[key] = make(map[*client]struct{})
	}
	h.subs[key][c] = struct{}{}
}

func (h *Hub) unsubscribe(key string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.subs[key]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.subs, key)
		}
	}
}

// HandleWS atende uma conexão até o cliente desconectar
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	c := &client{conn: conn}

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		key := msg.RoundID
		if key == "" {
			key = AllRounds
		}
		switch msg.Type {
		case "subscribe":
			h.subscribe(key, c)
		case "unsubscribe":
			h.unsubscribe(key, c)
		case "ping":
			_ = c.write([]byte(`{"type":"pong"}`))
		}
	}

	h.mu.Lock()
	for key, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, key)
		}
	}
	h.mu.Unlock()
}

// Broadcast envia a atualização aos inscritos na rodada e em AllRounds
func (h *Hub) Broadcast(update RoundUpdate) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.subs[update.RoundID])+len(h.subs[AllRounds]))
	for c := range h.subs[update.RoundID] {
		targets = append(targets, c)
	}
	for c := range h.subs[AllRounds] {
		if _, dup := h.subs[update.RoundID][c]; !dup {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	b, err := json.Marshal(update)
	if err != nil {
		h.log.Warn("marshal round update", zap.Error(err))
		return
	}
	for _, c := range targets {
		if err := c.write(b); err != nil {
			h.log.Debug("ws write failed", zap.String("round_id", update.RoundID), zap.Error(err))
		}
	}
}
