package core

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
)

// fakeTransport records subscription lifecycle operations so tests can
// assert ordering invariants, and lets tests inject inbound events.
type fakeTransport struct {
	mu          sync.Mutex
	nextID      uint64
	msgSubs     map[string]roomSub
	typingSubs  map[string]roomSub
	ops         []string
	published   []Message
	publishErr  error
	onReconnect func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		msgSubs:    make(map[string]roomSub),
		typingSubs: make(map[string]roomSub),
	}
}

func (t *fakeTransport) Connect(ctx context.Context) error { return nil }

func (t *fakeTransport) SubscribeMessages(roomID string, fn MessageFunc) Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.msgSubs[roomID] = roomSub{id: t.nextID, msg: fn}
	t.ops = append(t.ops, "sub_msg:"+roomID)
	return Subscription{id: t.nextID, roomID: roomID}
}

func (t *fakeTransport) SubscribeTyping(roomID string, fn TypingFunc) Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.typingSubs[roomID] = roomSub{id: t.nextID, typing: fn}
	t.ops = append(t.ops, "sub_typing:"+roomID)
	return Subscription{id: t.nextID, roomID: roomID, typing: true}
}

func (t *fakeTransport) Unsubscribe(sub Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.msgSubs
	kind := "unsub_msg:"
	if sub.typing {
		subs = t.typingSubs
		kind = "unsub_typing:"
	}
	if cur, ok := subs[sub.roomID]; ok && cur.id == sub.id {
		delete(subs, sub.roomID)
		t.ops = append(t.ops, kind+sub.roomID)
	}
}

func (t *fakeTransport) Publish(ctx context.Context, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.publishErr != nil {
		return t.publishErr
	}
	t.published = append(t.published, msg)
	return nil
}

func (t *fakeTransport) OnReconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReconnect = fn
}

func (t *fakeTransport) Close() error { return nil }

// deliver injects an inbound message event, invoking the room's
// subscription if one is live.
func (t *fakeTransport) deliver(msg Message) {
	t.mu.Lock()
	sub, ok := t.msgSubs[msg.RoomID]
	t.mu.Unlock()
	if ok && sub.msg != nil {
		sub.msg(msg)
	}
}

func (t *fakeTransport) deliverTyping(roomID, senderID string) {
	t.mu.Lock()
	sub, ok := t.typingSubs[roomID]
	t.mu.Unlock()
	if ok && sub.typing != nil {
		sub.typing(roomID, senderID)
	}
}

func (t *fakeTransport) fireReconnect() {
	t.mu.Lock()
	fn := t.onReconnect
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *fakeTransport) activeMsgSubs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgSubs)
}

func (t *fakeTransport) activeTypingSubs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.typingSubs)
}

func (t *fakeTransport) opLog() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.ops))
	copy(out, t.ops)
	return out
}

func (t *fakeTransport) publishedMessages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.published))
	copy(out, t.published)
	return out
}

// fakeResolver resolves rooms from an in-memory table. FetchHistory
// can be gated per room to simulate a slow history fetch.
type fakeResolver struct {
	mu           sync.Mutex
	rooms        map[string]Room
	pairs        map[string]string
	history      map[string][]Message
	gates        map[string]chan struct{}
	resolveErr   error
	nextRoom     int
	historyCalls int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		rooms:   make(map[string]Room),
		pairs:   make(map[string]string),
		history: make(map[string][]Message),
		gates:   make(map[string]chan struct{}),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// addRoom registers a room under a fixed identifier.
func (r *fakeResolver) addRoom(roomID, a, b string, history ...Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[roomID] = Room{ID: roomID, UserAID: a, UserBID: b}
	r.pairs[pairKey(a, b)] = roomID
	r.history[roomID] = history
}

// gateHistory makes FetchHistory for roomID block until the returned
// channel is closed.
func (r *fakeResolver) gateHistory(roomID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	gate := make(chan struct{})
	r.gates[roomID] = gate
	return gate
}

func (r *fakeResolver) ResolveOrCreate(ctx context.Context, a, b string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolveErr != nil {
		return "", r.resolveErr
	}
	key := pairKey(a, b)
	if id, ok := r.pairs[key]; ok {
		return id, nil
	}
	r.nextRoom++
	id := fmt.Sprintf("room-%d", r.nextRoom)
	r.pairs[key] = id
	r.rooms[id] = Room{ID: id, UserAID: a, UserBID: b}
	return id, nil
}

func (r *fakeResolver) FetchRoom(ctx context.Context, roomID string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return Room{}, &NotFoundError{RoomID: roomID}
	}
	return room, nil
}

func (r *fakeResolver) FetchHistory(ctx context.Context, roomID string) ([]Message, error) {
	r.mu.Lock()
	gate := r.gates[roomID]
	r.historyCalls++
	history := r.history[roomID]
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	out := make([]Message, len(history))
	copy(out, history)
	return out, nil
}

func (r *fakeResolver) historyCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.historyCalls
}

type fakeUploader struct {
	mu      sync.Mutex
	ref     string
	err     error
	uploads []string
}

func (u *fakeUploader) Upload(ctx context.Context, filename string, src io.Reader) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.uploads = append(u.uploads, filename)
	return u.ref, nil
}

// recordingSink captures everything the session reports to the
// presentation boundary.
type recordingSink struct {
	mu          sync.Mutex
	transcripts [][]Message
	typing      []bool
	errs        []error
}

func (s *recordingSink) TranscriptChanged(messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, messages)
}

func (s *recordingSink) PartnerTyping(typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, typing)
}

func (s *recordingSink) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) lastTranscript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transcripts) == 0 {
		return nil
	}
	return s.transcripts[len(s.transcripts)-1]
}

func (s *recordingSink) lastTyping() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.typing) == 0 {
		return false, false
	}
	return s.typing[len(s.typing)-1], true
}

func (s *recordingSink) errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}

var (
	self        = Participant{ID: "u1", Name: "Instructor"}
	counterpart = Participant{ID: "u2", Name: "Student"}
)

type sessionFixture struct {
	t         *testing.T
	transport *fakeTransport
	resolver  *fakeResolver
	uploader  *fakeUploader
	sink      *recordingSink
	session   *Session
}

func newSessionFixture(t *testing.T, opts ...SessionOption) *sessionFixture {
	f := &sessionFixture{
		t:         t,
		transport: newFakeTransport(),
		resolver:  newFakeResolver(),
		uploader:  &fakeUploader{ref: "/uploads/ref-1"},
		sink:      &recordingSink{},
	}
	f.session = NewSession(self, f.transport, f.resolver, f.uploader, f.sink, opts...)
	return f
}
