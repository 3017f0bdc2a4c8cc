package devserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edulms/chatkit/core"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Packet is an inbound event tagged with the sending user.
type Packet struct {
	Sender string
	Event  *core.Event
}

type wsClient struct {
	userID string
	conn   *websocket.Conn
	out    chan *core.Event
}

// Hub keeps one websocket connection per user and fans events in and
// out. A new connection for a user replaces the previous one.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient

	in       chan *Packet
	quit     chan struct{}
	logger   *slog.Logger
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
	closed   bool
}

type HubOption func(*Hub)

func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

func WithCheckOrigin(f func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = f
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[string]*wsClient),
		in:      make(chan *Packet, 100),
		quit:    make(chan struct{}),
		logger:  slog.Default(),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
			return true
		}},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// In exposes the stream of inbound packets from all connections.
func (h *Hub) In() <-chan *Packet {
	return h.in
}

// Connect upgrades the request and registers the connection under
// userID, replacing any previous connection of the same user.
func (h *Hub) Connect(userID string, w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}

	client := &wsClient{userID: userID, conn: conn, out: make(chan *core.Event, 100)}

	h.mu.Lock()
	if prev, ok := h.clients[userID]; ok {
		close(prev.out)
	}
	h.clients[userID] = client
	h.mu.Unlock()

	h.wg.Add(2)
	go h.readLoop(client)
	go h.writeLoop(client)
	h.logger.Info("user connected", slog.String("user.id", userID))
	return nil
}

// Send queues an event for userID. Events for users without a live
// connection are dropped.
func (h *Hub) Send(userID string, e *core.Event) {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case client.out <- e:
	default:
		h.logger.Error(fmt.Sprintf("dropping event for %s: write buffer full", userID))
	}
}

func (h *Hub) disconnect(client *wsClient) {
	h.mu.Lock()
	if cur, ok := h.clients[client.userID]; ok && cur == client {
		delete(h.clients, client.userID)
		close(client.out)
	}
	h.mu.Unlock()
}

func (h *Hub) readLoop(client *wsClient) {
	defer func() {
		h.disconnect(client)
		client.conn.Close()
		h.wg.Done()
		h.logger.Info("exited read loop", slog.String("user.id", client.userID))
	}()

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		mt, r, err := client.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			h.logger.Error(fmt.Sprintf("NextReader: %v", err))
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var event core.Event
		if err := core.DecodeEvent(r, &event); err != nil {
			h.logger.Error(err.Error())
			continue
		}
		select {
		case h.in <- &Packet{Sender: client.userID, Event: &event}:
		case <-h.quit:
			return
		}
	}
}

func (h *Hub) writeLoop(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.wg.Done()
		h.logger.Info("exited write loop", slog.String("user.id", client.userID))
	}()

	for {
		select {
		case event, ok := <-client.out:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				client.conn.Close()
				return
			}
			w, err := client.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				h.logger.Error(fmt.Sprintf("NextWriter: %v", err))
				return
			}
			if err := core.EncodeEvent(w, event); err != nil {
				h.logger.Error(err.Error())
			}
			w.Close()
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes all live connections and waits for their loops to exit.
// A read loop blocked on the inbound stream is released by the quit
// channel. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.quit)
	for id, client := range h.clients {
		close(client.out)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
