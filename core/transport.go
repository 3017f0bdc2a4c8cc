package core

import "context"

// Subscription identifies a registered event callback. Releasing a
// subscription that is already released is a no-op.
type Subscription struct {
	id     uint64
	roomID string
	typing bool
}

// MessageFunc is invoked once per inbound message event, in arrival
// order.
type MessageFunc func(Message)

// TypingFunc is invoked once per inbound typing event with the room it
// was addressed to and the sender identifier.
type TypingFunc func(roomID, senderID string)

// Transport is the process-wide connection to the messaging backend.
// Its lifecycle is independent of any single room; only subscriptions
// are room-scoped. Implementations recover transient disconnects
// internally; registered subscriptions survive a reconnect.
type Transport interface {
	// Connect establishes the underlying connection. Calling it while
	// already connected is a no-op.
	Connect(ctx context.Context) error
	// SubscribeMessages registers fn for message events addressed to
	// roomID. The caller must not subscribe twice for the same room
	// without unsubscribing first.
	SubscribeMessages(roomID string, fn MessageFunc) Subscription
	// SubscribeTyping registers fn for typing events addressed to
	// roomID.
	SubscribeTyping(roomID string, fn TypingFunc) Subscription
	// Publish sends an outbound event. Delivery confirmation is out of
	// scope; an error means the event could not be handed to the
	// connection.
	Publish(ctx context.Context, msg Message) error
	// Unsubscribe releases a subscription. Idempotent.
	Unsubscribe(sub Subscription)
	// OnReconnect registers a hook invoked after the transport has
	// re-established a dropped connection.
	OnReconnect(fn func())
	Close() error
}
