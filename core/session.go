package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SessionState tracks the room-open lifecycle.
type SessionState int

const (
	// StateClosed means no room is open.
	StateClosed SessionState = iota
	// StateOpening means a room is being resolved or its history fetched.
	StateOpening
	// StateOpen means subscriptions are live and the transcript is seeded.
	StateOpen
)

const (
	// DefaultTypingDebounce is the quiet window after the last compose
	// change before a typing signal is published.
	DefaultTypingDebounce = 120 * time.Millisecond
	// DefaultTypingQuiet is how long the partner-typing indicator stays
	// raised without a renewing typing event.
	DefaultTypingQuiet = 3 * time.Second
)

// Sink receives session output destined for the presentation boundary.
// It gets transcript snapshots, the partner-typing flag, and typed
// errors; never raw transport faults.
type Sink interface {
	TranscriptChanged(messages []Message)
	PartnerTyping(typing bool)
	Error(err error)
}

type SessionOption func(*Session)

func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

func WithTypingDebounce(d time.Duration) SessionOption {
	return func(s *Session) {
		s.typingDebounce = NewDebouncer(d)
	}
}

func WithTypingQuiet(d time.Duration) SessionOption {
	return func(s *Session) {
		s.typingQuiet = d
	}
}

// Session is the live binding between one user and at most one open
// room. It enforces at most one message subscription and one typing
// subscription at any instant, sequences upload before publish, and
// merges inbound events into the transcript.
type Session struct {
	self      Participant
	transport Transport
	resolver  Resolver
	uploader  Uploader
	sink      Sink
	logger    *slog.Logger

	mu           sync.Mutex
	state        SessionState
	room         Room
	counterpart  Participant
	epoch        uint64
	msgSub       Subscription
	typingSub    Subscription
	hasMsgSub    bool
	hasTypingSub bool
	staged       *Attachment
	quietTimer   *time.Timer

	transcript     *Transcript
	typingDebounce *Debouncer
	typingQuiet    time.Duration
}

func NewSession(self Participant, transport Transport, resolver Resolver, uploader Uploader, sink Sink, opts ...SessionOption) *Session {
	s := &Session{
		self:           self,
		transport:      transport,
		resolver:       resolver,
		uploader:       uploader,
		sink:           sink,
		logger:         slog.Default(),
		transcript:     NewTranscript(),
		typingDebounce: NewDebouncer(DefaultTypingDebounce),
		typingQuiet:    DefaultTypingQuiet,
	}
	for _, opt := range opts {
		opt(s)
	}
	transport.OnReconnect(s.handleReconnect)
	return s
}

// OpenWith opens the room shared with a counterpart selected from the
// participant list. Re-selecting the counterpart of the already-open
// room is a no-op, matching the deep-link path.
func (s *Session) OpenWith(ctx context.Context, counterpart Participant) error {
	roomID, err := s.resolver.ResolveOrCreate(ctx, s.self.ID, counterpart.ID)
	if err != nil {
		var rerr *ResolutionError
		if !errors.As(err, &rerr) {
			rerr = &ResolutionError{Reason: "create or get room", Err: err}
		}
		s.sink.Error(rerr)
		return rerr
	}

	s.mu.Lock()
	if s.state == StateOpen && s.room.ID == roomID {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	room := Room{ID: roomID, UserAID: s.self.ID, UserBID: counterpart.ID,
		UserAName: s.self.Name, UserBName: counterpart.Name}
	return s.switchTo(ctx, room, counterpart)
}

// Open opens a room by its identifier, the deep-link path. Opening the
// room that is already open is a no-op: no teardown, no resubscribe.
func (s *Session) Open(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if s.state == StateOpen && s.room.ID == roomID {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	room, err := s.resolver.FetchRoom(ctx, roomID)
	if err != nil {
		var nferr *NotFoundError
		if errors.As(err, &nferr) {
			s.sink.Error(nferr)
			return nferr
		}
		var rerr *ResolutionError
		if !errors.As(err, &rerr) {
			rerr = &ResolutionError{Reason: "fetch room", Err: err}
		}
		s.sink.Error(rerr)
		return rerr
	}
	return s.switchTo(ctx, room, room.Counterpart(s.self.ID))
}

// switchTo runs the switch-to-room procedure. The old subscriptions
// are released before the first await so a stale event can never race
// into the new room's transcript; the epoch guards the history fetch
// against being superseded by a newer open.
func (s *Session) switchTo(ctx context.Context, room Room, counterpart Participant) error {
	s.mu.Lock()
	s.teardownLocked()
	s.state = StateOpening
	s.room = room
	s.counterpart = counterpart
	s.transcript.Reset()
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()
	s.sink.PartnerTyping(false)

	history, err := s.resolver.FetchHistory(ctx, room.ID)
	if err != nil {
		s.mu.Lock()
		if s.epoch == epoch {
			s.state = StateClosed
			s.room = Room{}
			s.counterpart = Participant{}
		}
		s.mu.Unlock()
		var rerr *ResolutionError
		if !errors.As(err, &rerr) {
			rerr = &ResolutionError{Reason: "fetch history", Err: err}
		}
		s.sink.Error(rerr)
		return rerr
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// a newer open superseded this one while the fetch was in flight
		s.mu.Unlock()
		return nil
	}
	s.transcript.Seed(room.ID, history)
	s.msgSub = s.transport.SubscribeMessages(room.ID, s.handleMessage)
	s.typingSub = s.transport.SubscribeTyping(room.ID, s.handleTyping)
	s.hasMsgSub = true
	s.hasTypingSub = true
	s.state = StateOpen
	s.mu.Unlock()

	s.sink.TranscriptChanged(s.transcript.Snapshot())
	return nil
}

// handleMessage merges an inbound message event into the transcript in
// arrival order. Events whose room is not the open room are dropped:
// they belong to a subscription released by a concurrent switch.
func (s *Session) handleMessage(msg Message) {
	s.mu.Lock()
	if s.state != StateOpen || msg.RoomID != s.room.ID {
		s.mu.Unlock()
		return
	}
	appended := s.transcript.Append(msg)
	s.mu.Unlock()
	if appended {
		s.sink.TranscriptChanged(s.transcript.Snapshot())
	}
}

// handleTyping raises the partner-typing flag for typing events from
// the counterpart. Events whose room is not the open room are dropped,
// like message events: they belong to a subscription released by a
// concurrent switch. The flag clears itself after the quiet period
// unless another typing event renews it.
func (s *Session) handleTyping(roomID, senderID string) {
	if senderID == s.self.ID {
		return
	}
	s.mu.Lock()
	if s.state != StateOpen || roomID != s.room.ID {
		s.mu.Unlock()
		return
	}
	if s.quietTimer != nil {
		s.quietTimer.Stop()
	}
	s.quietTimer = time.AfterFunc(s.typingQuiet, func() {
		s.sink.PartnerTyping(false)
	})
	s.mu.Unlock()
	s.sink.PartnerTyping(true)
}

// TypingInput reports a change to the compose input. The outbound
// typing signal is debounced so a burst of keystrokes publishes at
// most once per quiet window; publish failures are dropped, typing
// signals are best effort.
func (s *Session) TypingInput() {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	roomID := s.room.ID
	receiverID := s.counterpart.ID
	epoch := s.epoch
	s.mu.Unlock()

	s.typingDebounce.Call(func() {
		// The room may have been switched or closed while the signal
		// sat in the debounce window; a stale signal is dropped.
		s.mu.Lock()
		stale := s.state != StateOpen || s.epoch != epoch
		s.mu.Unlock()
		if stale {
			return
		}
		msg := Message{
			RoomID:     roomID,
			SenderID:   s.self.ID,
			ReceiverID: receiverID,
			Kind:       TypingSignal,
		}
		if err := s.transport.Publish(context.Background(), msg); err != nil {
			s.logger.Debug(fmt.Sprintf("typing signal dropped: %v", err))
		}
	})
}

// StageAttachment stages a file for the next send, replacing any
// previously staged attachment.
func (s *Session) StageAttachment(a *Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = a
}

// ClearAttachment discards the staged attachment.
func (s *Session) ClearAttachment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = nil
}

func (s *Session) StagedAttachment() *Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged
}

// Send publishes exactly one message to the open room. If an
// attachment is staged it is uploaded first and the message kind is
// derived from its media type; otherwise the message is plain text.
// A send with empty text and no attachment is rejected. The staged
// attachment is cleared once the publish request is issued, but kept
// when the upload or publish fails so the send can be retried.
func (s *Session) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrNoOpenRoom
	}
	roomID := s.room.ID
	receiverID := s.counterpart.ID
	staged := s.staged
	s.mu.Unlock()

	if strings.TrimSpace(text) == "" && staged == nil {
		return ErrEmptyMessage
	}

	kind := TextMessage
	content := text
	var fileRef string
	if staged != nil {
		ref, err := s.uploader.Upload(ctx, staged.Name, staged.Data)
		if err != nil {
			var uerr *UploadError
			if !errors.As(err, &uerr) {
				uerr = &UploadError{Filename: staged.Name, Err: err}
			}
			s.sink.Error(uerr)
			return uerr
		}
		fileRef = ref
		content = staged.Name
		kind = KindOf(staged.MediaType)
	}

	msg := Message{
		RoomID:     roomID,
		SenderID:   s.self.ID,
		ReceiverID: receiverID,
		Kind:       kind,
		Content:    content,
		FileRef:    fileRef,
		SentAt:     time.Now(),
	}
	if err := s.transport.Publish(ctx, msg); err != nil {
		perr := &PublishError{RoomID: roomID, Err: err}
		s.sink.Error(perr)
		return perr
	}

	s.mu.Lock()
	s.staged = nil
	s.mu.Unlock()
	return nil
}

// handleReconnect re-runs the switch-to-room procedure for the open
// room after the transport recovered a dropped connection, refreshing
// the history and the subscriptions.
func (s *Session) handleReconnect() {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	room := s.room
	counterpart := s.counterpart
	s.mu.Unlock()

	if err := s.switchTo(context.Background(), room, counterpart); err != nil {
		s.logger.Error(fmt.Sprintf("reopen room after reconnect: %v", err))
	}
}

// Close tears the session down: both subscriptions are released and
// any in-flight open is invalidated.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.epoch++
	s.state = StateClosed
	s.room = Room{}
	s.counterpart = Participant{}
	s.staged = nil
	s.transcript.Reset()
	s.typingDebounce.Stop()
	if s.quietTimer != nil {
		s.quietTimer.Stop()
		s.quietTimer = nil
	}
}

func (s *Session) teardownLocked() {
	if s.hasMsgSub {
		s.transport.Unsubscribe(s.msgSub)
		s.hasMsgSub = false
	}
	if s.hasTypingSub {
		s.transport.Unsubscribe(s.typingSub)
		s.hasTypingSub = false
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns the currently open room; the zero Room when closed.
func (s *Session) Room() Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) Counterpart() Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpart
}

// Transcript returns a snapshot of the open room's transcript.
func (s *Session) Transcript() []Message {
	return s.transcript.Snapshot()
}
