package core

import "sync"

// Transcript is the ordered message log for the currently open room.
// It is append-only: entries are never mutated or reordered, only
// replaced wholesale by Seed at room-open time. The Session owns it;
// readers get copies via Snapshot.
type Transcript struct {
	mu       sync.RWMutex
	roomID   string
	messages []Message
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Seed replaces the transcript content with the fetched history of
// roomID, preserving history order. Typing signals never enter the
// transcript.
func (t *Transcript) Seed(roomID string, history []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roomID = roomID
	t.messages = make([]Message, 0, len(history))
	for _, msg := range history {
		if msg.Kind == TypingSignal {
			continue
		}
		t.messages = append(t.messages, msg)
	}
}

// Append adds one message at the end. Messages belonging to another
// room, and typing signals, are rejected. It reports whether the
// message was appended.
func (t *Transcript) Append(msg Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if msg.RoomID != t.roomID || msg.Kind == TypingSignal {
		return false
	}
	t.messages = append(t.messages, msg)
	return true
}

// Snapshot returns a copy of the transcript in order.
func (t *Transcript) Snapshot() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

func (t *Transcript) RoomID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roomID
}

// Reset clears the transcript and its room affinity.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roomID = ""
	t.messages = nil
}
