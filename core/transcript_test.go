package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptSeedAndAppend(t *testing.T) {
	tr := NewTranscript()
	history := []Message{
		{RoomID: "r1", SenderID: "u2", Kind: TextMessage, Content: "a", SentAt: time.Unix(1, 0)},
		{RoomID: "r1", SenderID: "u1", Kind: TextMessage, Content: "b", SentAt: time.Unix(2, 0)},
	}

	tr.Seed("r1", history)
	require.Equal(t, 2, tr.Len())
	assert.Equal(t, "r1", tr.RoomID())

	ok := tr.Append(Message{RoomID: "r1", SenderID: "u2", Kind: TextMessage, Content: "c"})
	assert.True(t, ok)

	snapshot := tr.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "a", snapshot[0].Content)
	assert.Equal(t, "b", snapshot[1].Content)
	assert.Equal(t, "c", snapshot[2].Content)
}

func TestTranscriptRejectsForeignRoom(t *testing.T) {
	tr := NewTranscript()
	tr.Seed("r1", nil)

	ok := tr.Append(Message{RoomID: "r2", Kind: TextMessage, Content: "stray"})
	assert.False(t, ok)
	assert.Zero(t, tr.Len())
}

func TestTranscriptRejectsTypingSignals(t *testing.T) {
	tr := NewTranscript()
	tr.Seed("r1", []Message{
		{RoomID: "r1", Kind: TypingSignal},
		{RoomID: "r1", Kind: TextMessage, Content: "real"},
	})
	require.Equal(t, 1, tr.Len())

	ok := tr.Append(Message{RoomID: "r1", Kind: TypingSignal})
	assert.False(t, ok)
	assert.Equal(t, 1, tr.Len())
}

func TestTranscriptSeedReplacesWholesale(t *testing.T) {
	tr := NewTranscript()
	tr.Seed("r1", []Message{{RoomID: "r1", Kind: TextMessage, Content: "old"}})
	tr.Seed("r2", []Message{{RoomID: "r2", Kind: TextMessage, Content: "new"}})

	snapshot := tr.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "new", snapshot[0].Content)
	assert.Equal(t, "r2", tr.RoomID())
}

func TestTranscriptSnapshotIsACopy(t *testing.T) {
	tr := NewTranscript()
	tr.Seed("r1", []Message{{RoomID: "r1", Kind: TextMessage, Content: "a"}})

	snapshot := tr.Snapshot()
	snapshot[0].Content = "mutated"

	assert.Equal(t, "a", tr.Snapshot()[0].Content)
}

func TestTranscriptReset(t *testing.T) {
	tr := NewTranscript()
	tr.Seed("r1", []Message{{RoomID: "r1", Kind: TextMessage, Content: "a"}})

	tr.Reset()

	assert.Zero(t, tr.Len())
	assert.Empty(t, tr.RoomID())
	ok := tr.Append(Message{RoomID: "r1", Kind: TextMessage, Content: "b"})
	assert.False(t, ok, "append must not succeed without room affinity")
}
