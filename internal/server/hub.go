package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/keepsake-dev/keepsake/internal/engine"
)

// MessageType defines the type of notification message
type MessageType string

const (
	// MessageTypeHello is sent once to every new client
	MessageTypeHello MessageType = "hello"

	// MessageTypeCommit indicates a commit was recorded
	MessageTypeCommit MessageType = "commit"

	// MessageTypeError indicates a folder reported an error
	MessageTypeError MessageType = "error"

	// MessageTypeRelocate indicates a history store relocation finished
	MessageTypeRelocate MessageType = "relocate"
)

// Message is one websocket notification.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	broadcastBuffer = 100
	writeTimeout    = 5 * time.Second
)

// Hub fans engine notifications out to websocket clients.
type Hub struct {
	logger *slog.Logger

	clients   map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		logger:    logger,
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan Message, broadcastBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
	h.wg.Add(1)
	go h.loop()
	return h
}

// Close disconnects every client and stops the broadcast loop.
func (h *Hub) Close() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every client. A full queue drops the message.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("broadcast queue full, dropping message", "type", msg.Type)
	}
}

func (h *Hub) publish(typ MessageType, at time.Time, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", typ, "error", err)
		return
	}
	h.Broadcast(Message{Type: typ, Timestamp: at, Data: raw})
}

func (h *Hub) OnCommit(e engine.CommitEvent)     { h.publish(MessageTypeCommit, e.At, e) }
func (h *Hub) OnError(e engine.ErrorEvent)       { h.publish(MessageTypeError, e.At, e) }
func (h *Hub) OnRelocate(e engine.RelocateEvent) { h.publish(MessageTypeRelocate, e.At, e) }

func (h *Hub) loop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-h.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("failed to marshal message", "error", err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.logger.Debug("failed to send to client", "error", err)
					h.remove(conn)
				}
			}
		}
	}
}

// ServeHTTP upgrades the request to a websocket client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	hello, _ := json.Marshal(Message{Type: MessageTypeHello, Timestamp: time.Now()})
	ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
	err = conn.Write(ctx, websocket.MessageText, hello)
	cancel()
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Debug("client connected", "clients", count)

	// Client messages are ignored; reading detects disconnects.
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			h.remove(conn)
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Debug("client disconnected", "clients", count)
}
