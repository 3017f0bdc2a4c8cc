package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNoOpenRoom is returned when an operation requires an open room.
	ErrNoOpenRoom = errors.New("no open room")
	// ErrEmptyMessage is returned when a send carries neither text nor
	// an attachment.
	ErrEmptyMessage = errors.New("empty message")
	// ErrTransportClosed is returned when using a transport after Close.
	ErrTransportClosed = errors.New("transport closed")
)

// ResolutionError indicates that a room could not be resolved or
// created: an invalid participant, or the backend being unreachable.
type ResolutionError struct {
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve room: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("resolve room: %s", e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// NotFoundError indicates that a room identifier does not exist.
type NotFoundError struct {
	RoomID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("room %q not found", e.RoomID)
}

// UploadError indicates that an attachment upload failed before send.
// The staged attachment is kept so the send can be retried.
type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %q: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PublishError indicates that an outbound event failed to transmit.
// It is not retried automatically.
type PublishError struct {
	RoomID string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to room %q: %v", e.RoomID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ConnectionError is raised when the transport exhausts its
// reconnection policy. Transient disconnects are recovered internally
// and never surface as errors.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport connection: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
