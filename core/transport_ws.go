package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Base delay of the fibonacci redial backoff.
	redialBase = 250 * time.Millisecond
)

type roomSub struct {
	id     uint64
	msg    MessageFunc
	typing TypingFunc
}

type TransportOption func(*WSTransport)

func WithTransportLogger(l *slog.Logger) TransportOption {
	return func(t *WSTransport) {
		t.logger = l
	}
}

// WithMaxRedials bounds the reconnection policy. When n dials in a row
// fail the transport gives up and reports a ConnectionError through the
// OnDown hook.
func WithMaxRedials(n uint64) TransportOption {
	return func(t *WSTransport) {
		t.maxRedials = n
	}
}

// WithOnDown registers a hook invoked when the reconnection policy is
// exhausted.
func WithOnDown(fn func(error)) TransportOption {
	return func(t *WSTransport) {
		t.onDown = fn
	}
}

// WSTransport is a Transport over a single websocket connection.
// Inbound events are routed to per-room callbacks on the read loop, so
// a room's events are delivered in arrival order. Subscriptions are
// kept client-side and therefore survive a reconnect; the OnReconnect
// hook still fires so the session layer can refresh its state.
type WSTransport struct {
	url        string
	token      string
	logger     *slog.Logger
	maxRedials uint64

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	stopWrite chan struct{}
	nextSubID uint64

	msgSubs    *SyncMap[string, roomSub]
	typingSubs *SyncMap[string, roomSub]

	writeStream chan *Event
	onReconnect func()
	onDown      func(error)
}

func NewWSTransport(url, token string, opts ...TransportOption) *WSTransport {
	t := &WSTransport{
		url:         url,
		token:       token,
		logger:      slog.Default(),
		maxRedials:  10,
		msgSubs:     NewSyncMap[string, roomSub](),
		typingSubs:  NewSyncMap[string, roomSub](),
		writeStream: make(chan *Event, 64),
		onDown:      func(error) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect dials the backend. Calling it while already connected is a
// no-op. Transient dial failures are retried with backoff; only an
// exhausted policy surfaces as a ConnectionError.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.dial(ctx); err != nil {
		return &ConnectionError{Err: err}
	}
	return nil
}

func (t *WSTransport) dial(ctx context.Context) error {
	var conn *websocket.Conn
	backoff := retry.WithMaxRetries(t.maxRedials, retry.NewFibonacci(redialBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		header := http.Header{}
		if t.token != "" {
			header.Set("Authorization", "Bearer "+t.token)
		}
		c, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, header)
		if err != nil {
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	t.mu.Lock()
	if t.closed {
		// Close won the race while the dial was in flight.
		t.mu.Unlock()
		conn.Close()
		return ErrTransportClosed
	}
	t.conn = conn
	t.connected = true
	t.stopWrite = stop
	t.mu.Unlock()

	go t.readLoop(conn)
	go t.writeLoop(conn, stop)
	return nil
}

// redial recovers a dropped connection. Subscriptions are untouched;
// the reconnect hook runs after the new connection's loops are up.
func (t *WSTransport) redial() {
	t.mu.Lock()
	if t.closed || !t.connected {
		t.mu.Unlock()
		return
	}
	t.connected = false
	close(t.stopWrite)
	t.conn.Close()
	t.mu.Unlock()

	if err := t.dial(context.Background()); err != nil {
		if errors.Is(err, ErrTransportClosed) {
			return
		}
		t.logger.Error(fmt.Sprintf("reconnect: %v", err))
		t.onDown(&ConnectionError{Err: err})
		return
	}
	t.logger.Info("transport reconnected")

	t.mu.Lock()
	fn := t.onReconnect
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := conn.NextReader()
		if err != nil {
			if t.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			t.logger.Error(fmt.Sprintf("NextReader: %v", err))
			go t.redial()
			return
		}
		if format != websocket.TextMessage {
			t.logger.Error(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}
		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			t.logger.Error(err.Error())
			continue
		}
		t.dispatch(&event)
	}
}

func (t *WSTransport) writeLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e := <-t.writeStream:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				t.logger.Error(fmt.Sprintf("getting next writer: %v", err))
				return
			}
			if err := EncodeEvent(w, e); err != nil {
				t.logger.Error(err.Error())
			}
			w.Close()
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.logger.Error(fmt.Sprintf("writing ping: %v", err))
				return
			}
		case <-stop:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dispatch routes an inbound event to the room's registered callback.
// Events for rooms with no live subscription are dropped.
func (t *WSTransport) dispatch(e *Event) {
	switch e.Type {
	case MessageEvent:
		var msg Message
		if err := json.Unmarshal(e.Payload, &msg); err != nil {
			t.logger.Error(fmt.Sprintf("unmarshal message payload: %v", err))
			return
		}
		if sub, ok := t.msgSubs.Load(msg.RoomID); ok && sub.msg != nil {
			sub.msg(msg)
		}
	case TypingEvent:
		var p TypingPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			t.logger.Error(fmt.Sprintf("unmarshal typing payload: %v", err))
			return
		}
		if sub, ok := t.typingSubs.Load(p.RoomID); ok && sub.typing != nil {
			sub.typing(p.RoomID, p.SenderID)
		}
	default:
		t.logger.Debug(fmt.Sprintf("dropping event of unknown type: %s", e.Type))
	}
}

func (t *WSTransport) SubscribeMessages(roomID string, fn MessageFunc) Subscription {
	id := t.subID()
	t.msgSubs.Store(roomID, roomSub{id: id, msg: fn})
	return Subscription{id: id, roomID: roomID}
}

func (t *WSTransport) SubscribeTyping(roomID string, fn TypingFunc) Subscription {
	id := t.subID()
	t.typingSubs.Store(roomID, roomSub{id: id, typing: fn})
	return Subscription{id: id, roomID: roomID, typing: true}
}

func (t *WSTransport) subID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSubID++
	return t.nextSubID
}

// Unsubscribe releases a subscription. Releasing a handle that has
// already been replaced or released is a no-op.
func (t *WSTransport) Unsubscribe(sub Subscription) {
	subs := t.msgSubs
	if sub.typing {
		subs = t.typingSubs
	}
	if cur, ok := subs.Load(sub.roomID); ok && cur.id == sub.id {
		subs.Delete(sub.roomID)
	}
}

// Publish hands an event to the write loop. Delivery is fire-and-forget.
func (t *WSTransport) Publish(ctx context.Context, msg Message) error {
	if t.isClosed() {
		return ErrTransportClosed
	}
	e, err := NewEvent(msg)
	if err != nil {
		return err
	}
	select {
	case t.writeStream <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *WSTransport) OnReconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReconnect = fn
}

func (t *WSTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	connected := t.connected
	t.connected = false
	stop := t.stopWrite
	conn := t.conn
	t.mu.Unlock()

	if !connected {
		return nil
	}
	close(stop)
	return conn.Close()
}
