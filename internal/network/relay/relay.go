// Package relay is the message-bus hub. Server processes connect over
// websocket and the relay fans each message out by target: ALL goes to
// every server, SERVER to the named one, PLAYER to every server except
// the origin (each receiver delivers only if the player is online
// there, so broadcast-and-filter is correct routing).
package relay

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"townforge/internal/protocol"
)

type Hub struct {
	log      *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	servers map[string]*peer
}

type peer struct {
	name string
	out  chan []byte
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // server-to-server
		},
		servers: make(map[string]*peer),
	}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.URL.Query().Get("server"))
		if name == "" {
			http.Error(rw, "missing server name", http.StatusBadRequest)
			return
		}
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		p := &peer{name: name, out: make(chan []byte, 256)}
		if !h.register(p) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "server name in use"),
				time.Now().Add(time.Second))
			return
		}
		defer h.unregister(p)
		h.log.Printf("server connected: %s", name)

		go func() {
			for b := range p.out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			msg, err := protocol.DecodeMessage(raw)
			if err != nil || msg.ProtocolVersion != protocol.Version {
				h.log.Printf("dropping bad message from %s", name)
				continue
			}
			h.route(msg, raw)
		}
		h.log.Printf("server disconnected: %s", name)
	}
}

func (h *Hub) register(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, taken := h.servers[p.name]; taken {
		return false
	}
	h.servers[p.name] = p
	return true
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.servers[p.name] == p {
		delete(h.servers, p.name)
		close(p.out)
	}
}

func (h *Hub) route(msg protocol.Message, raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch msg.Target.Scope {
	case protocol.TargetServer:
		if p, ok := h.servers[msg.Target.Selector]; ok {
			p.deliver(raw)
		}
	case protocol.TargetAll, protocol.TargetPlayer:
		for name, p := range h.servers {
			if msg.Target.Scope == protocol.TargetPlayer && name == msg.Origin {
				continue
			}
			p.deliver(raw)
		}
	default:
		h.log.Printf("unknown target scope %q from %s", msg.Target.Scope, msg.Origin)
	}
}

// deliver drops the message when the peer's queue is full; a stalled
// server must not stall the whole cluster. The peer re-converges from
// the database on its next refresh.
func (p *peer) deliver(b []byte) {
	select {
	case p.out <- b:
	default:
	}
}
