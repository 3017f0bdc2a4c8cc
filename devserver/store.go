package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edulms/chatkit/core"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrInvalidPair    = errors.New("invalid participant pair")
	ErrInvalidMessage = errors.New("invalid message")
)

// ChatStore persists pair rooms and their messages.
type ChatStore interface {
	// StartChat returns the room of the unordered pair (a, b), creating
	// it on first contact. The same pair always yields the same room.
	StartChat(ctx context.Context, a, b core.Participant) (string, error)
	GetRoom(ctx context.Context, roomID string) (core.Room, error)
	// AppendMessage persists one message. Typing signals are rejected.
	AppendMessage(ctx context.Context, msg core.Message) (core.Message, error)
	// History returns all messages of roomID in send order.
	History(ctx context.Context, roomID string) ([]core.Message, error)
}

type SQLiteChatStore struct {
	db *sql.DB
}

func NewSQLiteChatStore(db *sql.DB) *SQLiteChatStore {
	return &SQLiteChatStore{db: db}
}

// normalizePair orders the pair so the same two users always map to the
// same (user_a, user_b) row regardless of who initiated.
func normalizePair(a, b core.Participant) (core.Participant, core.Participant) {
	if b.ID < a.ID {
		return b, a
	}
	return a, b
}

func (s *SQLiteChatStore) StartChat(ctx context.Context, a, b core.Participant) (string, error) {
	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		return "", ErrInvalidPair
	}
	a, b = normalizePair(a, b)

	query := `SELECT id FROM rooms WHERE user_a_id = @user_a_id AND user_b_id = @user_b_id`
	var id string
	err := s.db.QueryRowContext(ctx, query,
		sql.Named("user_a_id", a.ID), sql.Named("user_b_id", b.ID)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("QueryRowContext(select room): %w", err)
	}

	id = uuid.New().String()
	query = `INSERT INTO rooms (id, user_a_id, user_b_id, user_a_name, user_b_name, created_at)
	         VALUES (@id, @user_a_id, @user_b_id, @user_a_name, @user_b_name, @created_at)`
	_, err = s.db.ExecContext(ctx, query,
		sql.Named("id", id),
		sql.Named("user_a_id", a.ID), sql.Named("user_b_id", b.ID),
		sql.Named("user_a_name", a.Name), sql.Named("user_b_name", b.Name),
		sql.Named("created_at", time.Now().UTC()),
	)
	if err == nil {
		return id, nil
	}

	// A concurrent StartChat for the same pair may have won the insert.
	// The unique index on (user_a_id, user_b_id) guarantees there is
	// exactly one row to fall back to.
	query = `SELECT id FROM rooms WHERE user_a_id = @user_a_id AND user_b_id = @user_b_id`
	if selErr := s.db.QueryRowContext(ctx, query,
		sql.Named("user_a_id", a.ID), sql.Named("user_b_id", b.ID)).Scan(&id); selErr == nil {
		return id, nil
	}
	return "", fmt.Errorf("ExecContext(insert room): %w", err)
}

func (s *SQLiteChatStore) GetRoom(ctx context.Context, roomID string) (core.Room, error) {
	query := `SELECT id, user_a_id, user_b_id, user_a_name, user_b_name FROM rooms WHERE id = @id`
	var room core.Room
	err := s.db.QueryRowContext(ctx, query, sql.Named("id", roomID)).
		Scan(&room.ID, &room.UserAID, &room.UserBID, &room.UserAName, &room.UserBName)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return core.Room{}, fmt.Errorf("QueryRowContext: %w", err)
	}
	return room, nil
}

func (s *SQLiteChatStore) AppendMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	if msg.Kind == core.TypingSignal {
		return core.Message{}, ErrInvalidMessage
	}
	if _, err := s.GetRoom(ctx, msg.RoomID); err != nil {
		return core.Message{}, err
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	query := `INSERT INTO messages (room_id, sender_id, receiver_id, kind, content, file_ref, sent_at)
	          VALUES (@room_id, @sender_id, @receiver_id, @kind, @content, @file_ref, @sent_at)`
	_, err := s.db.ExecContext(ctx, query,
		sql.Named("room_id", msg.RoomID),
		sql.Named("sender_id", msg.SenderID), sql.Named("receiver_id", msg.ReceiverID),
		sql.Named("kind", string(msg.Kind)),
		sql.Named("content", msg.Content), sql.Named("file_ref", msg.FileRef),
		sql.Named("sent_at", msg.SentAt),
	)
	if err != nil {
		return core.Message{}, fmt.Errorf("ExecContext(insert message): %w", err)
	}
	return msg, nil
}

func (s *SQLiteChatStore) History(ctx context.Context, roomID string) ([]core.Message, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	query := `SELECT room_id, sender_id, receiver_id, kind, content, file_ref, sent_at
	          FROM messages WHERE room_id = @room_id ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	history := make([]core.Message, 0)
	for rows.Next() {
		var msg core.Message
		var kind string
		if err := rows.Scan(&msg.RoomID, &msg.SenderID, &msg.ReceiverID,
			&kind, &msg.Content, &msg.FileRef, &msg.SentAt); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		msg.Kind = core.Kind(kind)
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return history, nil
}
