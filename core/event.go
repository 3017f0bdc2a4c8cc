package core

import (
	"encoding/json"
	"fmt"
	"io"
)

const (
	// MessageEvent carries a Message payload.
	MessageEvent = "message"
	// TypingEvent carries a TypingPayload. Typing events are ephemeral
	// signals and are never persisted.
	TypingEvent = "typing"
)

// Event is the envelope exchanged over the realtime transport.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Payload.Size: %d}", e.Type, len(e.Payload))
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// TypingPayload is the payload of a TypingEvent.
type TypingPayload struct {
	RoomID   string `json:"room_id"`
	SenderID string `json:"sender_id"`
}

// NewEvent wraps a message into its wire envelope. Typing messages map
// to TypingEvent, everything else to MessageEvent.
func NewEvent(msg Message) (*Event, error) {
	if msg.Kind == TypingSignal {
		b, err := json.Marshal(TypingPayload{RoomID: msg.RoomID, SenderID: msg.SenderID})
		if err != nil {
			return nil, fmt.Errorf("marshal typing payload: %w", err)
		}
		return &Event{Type: TypingEvent, Payload: b}, nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message payload: %w", err)
	}
	return &Event{Type: MessageEvent, Payload: b}, nil
}
