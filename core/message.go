package core

import (
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Kind determines how a message payload should be interpreted.
type Kind string

const (
	// TextMessage carries a UTF-8 text body in Content.
	TextMessage Kind = "TEXT"
	// ImageMessage carries an image; Content holds the filename and
	// FileRef points at the uploaded file.
	ImageMessage Kind = "IMAGE"
	// FileMessage carries a non-image attachment; Content holds the
	// filename and FileRef points at the uploaded file.
	FileMessage Kind = "FILE"
	// TypingSignal is an ephemeral typing indicator. It is never
	// persisted and never enters a transcript.
	TypingSignal Kind = "TYPING"
)

// KindOf classifies an attachment by its media type.
func KindOf(mediaType string) Kind {
	if strings.HasPrefix(mediaType, "image/") {
		return ImageMessage
	}
	return FileMessage
}

// Participant is a chat user. It is supplied externally and immutable
// for the duration of a session.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Room is a private chat between exactly two users. It is created
// lazily on first contact and resolution is idempotent: the same
// unordered pair always yields the same room.
type Room struct {
	ID        string `json:"id"`
	UserAID   string `json:"user_a_id"`
	UserBID   string `json:"user_b_id"`
	UserAName string `json:"user_a_name,omitempty"`
	UserBName string `json:"user_b_name,omitempty"`
}

// Counterpart returns the participant on the other side of the room
// from selfID.
func (r Room) Counterpart(selfID string) Participant {
	if r.UserAID == selfID {
		return Participant{ID: r.UserBID, Name: r.UserBName}
	}
	return Participant{ID: r.UserAID, Name: r.UserAName}
}

// Message is a chat message sent between the two members of a room.
type Message struct {
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Kind       Kind      `json:"kind"`
	Content    string    `json:"content"`
	FileRef    string    `json:"file_ref,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// Attachment is a file staged for the next send. It is uploaded before
// the message event is published; its media type decides the message
// kind.
type Attachment struct {
	Name      string
	MediaType string
	Data      io.Reader
}

var validate = validator.New()

// MessageInput represents an inbound message event before it is
// accepted by the backend.
type MessageInput struct {
	RoomID     string `json:"room_id" validate:"required"`
	SenderID   string `json:"sender_id" validate:"required"`
	ReceiverID string `json:"receiver_id" validate:"required"`
	Kind       Kind   `json:"kind" validate:"required,oneof=TEXT IMAGE FILE TYPING"`
	Content    string `json:"content"`
	FileRef    string `json:"file_ref"`
}

// Validate validates the message input.
func (m *MessageInput) Validate() error {
	return validate.Struct(m)
}
