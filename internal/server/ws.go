package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hodler/internal/oracle"
)

var errHubBusy = errors.New("ws hub busy")

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type statusMessage struct {
	Exchange  string          `json:"exchange"`
	Connected bool            `json:"connected"`
	Exchanges map[string]bool `json:"exchanges"`
}

// Hub broadcasts signals and feed status to every connected browser.
type Hub struct {
	src        Source
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	logger     *slog.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func newHub(src Source, logger *slog.Logger) *Hub {
	return &Hub{
		src:        src,
		clients:    map[*client]bool{},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 1024),
		logger:     logger,
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// slow client
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

func (h *Hub) Name() string { return "ws" }

// Publish queues sig for every client; it gives up when ctx expires.
func (h *Hub) Publish(ctx context.Context, sig oracle.Signal) error {
	select {
	case h.broadcast <- marshalWS("signal", sig):
		return nil
	case <-ctx.Done():
		return errors.Join(errHubBusy, ctx.Err())
	}
}

// BroadcastStatus reports a feed connection change. It never blocks.
func (h *Hub) BroadcastStatus(exchange string, connected bool) {
	msg := marshalWS("status", statusMessage{
		Exchange:  exchange,
		Connected: connected,
		Exchanges: h.src.Status(),
	})
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws status dropped", slog.String("exchange", exchange))
	}
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade", slog.String("err", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	// greet with the current status before the hub can touch c.send
	c.send <- marshalWS("status", statusMessage{Exchanges: h.src.Status()})
	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(25 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func marshalWS(t string, v any) []byte {
	b, _ := json.Marshal(wsMessage{Type: t, Data: v})
	return b
}
