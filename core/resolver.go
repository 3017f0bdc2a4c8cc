package core

import (
	"context"
	"io"
)

// Resolver obtains rooms and their history from the backend.
type Resolver interface {
	// ResolveOrCreate returns the room shared by the unordered pair
	// (a, b), creating it on first contact. It is idempotent: the same
	// pair always yields the same room identifier.
	ResolveOrCreate(ctx context.Context, a, b string) (string, error)
	// FetchRoom returns the participants and display metadata of a room.
	FetchRoom(ctx context.Context, roomID string) (Room, error)
	// FetchHistory returns the persisted messages of a room, oldest
	// first. A brand-new room yields an empty slice.
	FetchHistory(ctx context.Context, roomID string) ([]Message, error)
}

// Uploader stores a file with the backend and returns its reference.
type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}
