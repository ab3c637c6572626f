package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartlink/internal/protocol"
)

type published struct {
	event string
	data  json.RawMessage
}

// fakeChannel records publishes and lets tests fire inbound events
// through the same subscription path the connection manager uses.
type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	published []published
	handlers  map[string]map[int]func(json.RawMessage)
	nextID    int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{connected: true, handlers: make(map[string]map[int]func(json.RawMessage))}
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Publish(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{event: event, data: data})
	return nil
}

func (f *fakeChannel) Subscribe(event string, h func(data json.RawMessage)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]func(json.RawMessage))
	}
	f.nextID++
	id := f.nextID
	f.handlers[event][id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *fakeChannel) fire(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	f.mu.Lock()
	hs := make([]func(json.RawMessage), 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(data)
	}
}

func (f *fakeChannel) events(name string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.event == name {
			out = append(out, p)
		}
	}
	return out
}

type fakeHistory struct {
	rooms    []protocol.Room
	messages map[string][]protocol.Message
}

func (f *fakeHistory) Rooms(context.Context) ([]protocol.Room, error) { return f.rooms, nil }

func (f *fakeHistory) Messages(_ context.Context, roomID string) ([]protocol.Message, error) {
	return f.messages[roomID], nil
}

func sessionFixture(t *testing.T) (*Session, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	hist := &fakeHistory{
		rooms: []protocol.Room{
			{RoomID: "r1", Friend: protocol.Friend{ID: "u2", FullName: "An", Status: protocol.PresenceOnline}},
			{RoomID: "r2", Friend: protocol.Friend{ID: "u9", FullName: "Binh", Status: protocol.PresenceOffline}},
		},
		messages: map[string][]protocol.Message{
			"r1": {msgFixture("h1", "r1", "u2", "earlier")},
		},
	}

	s := NewSession("me", ch, hist, time.Hour)
	s.Attach()
	t.Cleanup(s.Detach)
	require.NoError(t, s.Refresh(context.Background()))
	return s, ch
}

func TestSessionSendOptimistic(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))

	require.NoError(t, s.Send("hello", ""))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	last := msgs[1]
	assert.Equal(t, "hello", last.Content)
	assert.Equal(t, "me", last.SenderID)
	assert.Equal(t, "u2", last.ReceiverID)
	assert.False(t, last.IsRead)
	assert.False(t, last.IsRecalled)
	assert.True(t, last.Pending)

	room, _ := s.Room("r1")
	require.NotNil(t, room.LastMessage)
	assert.Equal(t, "hello", room.LastMessage.Content)

	sends := ch.events(protocol.EventSendMessage)
	require.Len(t, sends, 1)
	var payload protocol.SendMessagePayload
	require.NoError(t, json.Unmarshal(sends[0].data, &payload))
	assert.Equal(t, protocol.KindText, payload.Kind)
	assert.Equal(t, "r1", payload.RoomID)
}

func TestSessionSendValidation(t *testing.T) {
	s, ch := sessionFixture(t)

	assert.ErrorIs(t, s.Send("hi", ""), ErrNoActiveRoom)

	require.NoError(t, s.SelectRoom(context.Background(), "r1"))
	assert.ErrorIs(t, s.Send("   ", ""), ErrEmptyMessage)

	ch.mu.Lock()
	ch.connected = false
	ch.mu.Unlock()
	assert.ErrorIs(t, s.Send("hi", ""), ErrNotConnected)

	// nothing went out for any of the rejected sends
	assert.Empty(t, ch.events(protocol.EventSendMessage))
}

func TestSessionEchoReconciliation(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))
	require.NoError(t, s.Send("hello", ""))

	echo := protocol.Message{
		ID: "srv-1", RoomID: "r1", SenderID: "me", ReceiverID: "u2",
		Content: "hello", Kind: protocol.KindText, Timestamp: time.Now(),
	}
	ch.fire(t, protocol.EventReturnMessage, echo)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "srv-1", msgs[1].ID)
	assert.False(t, msgs[1].Pending)

	// reconnect replay of the same echo must not duplicate
	ch.fire(t, protocol.EventReturnMessage, echo)
	assert.Len(t, s.Messages(), 2)
}

func TestSessionInboundForInactiveRoomOnlyUpdatesPreview(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))

	ch.fire(t, protocol.EventReturnMessage, msgFixture("m9", "r2", "u9", "psst"))

	assert.Len(t, s.Messages(), 1) // timeline untouched
	room, _ := s.Room("r2")
	require.NotNil(t, room.LastMessage)
	assert.Equal(t, "psst", room.LastMessage.Content)
}

func TestSessionRoomSwitchDropsStaleAppends(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))
	require.NoError(t, s.SelectRoom(context.Background(), "r2"))

	// in-flight event for the room we just left
	ch.fire(t, protocol.EventReturnMessage, msgFixture("late", "r1", "u2", "too late"))

	assert.Empty(t, s.Messages())
	room, _ := s.Room("r1")
	require.NotNil(t, room.LastMessage)
	assert.Equal(t, "too late", room.LastMessage.Content)
}

func TestSessionSelectRoomAnnouncesRead(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))

	reads := ch.events(protocol.EventMarkMessagesRead)
	require.Len(t, reads, 1)
	var payload protocol.ReadPayload
	require.NoError(t, json.Unmarshal(reads[0].data, &payload))
	assert.Equal(t, "r1", payload.RoomID)
	assert.Equal(t, "me", payload.UserID)
}

func TestSessionSelectUnknownRoom(t *testing.T) {
	s, _ := sessionFixture(t)
	assert.ErrorIs(t, s.SelectRoom(context.Background(), "r404"), ErrRoomNotFound)
}

func TestSessionReadReceiptFlipsOnlyMyMessages(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))
	require.NoError(t, s.Send("one", ""))
	require.NoError(t, s.Send("two", ""))

	ch.fire(t, protocol.EventReturnMessagesRead, protocol.ReadPayload{RoomID: "r1", UserID: "u2"})

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.False(t, msgs[0].IsRead) // authored by u2, spared
	assert.True(t, msgs[1].IsRead)
	assert.True(t, msgs[2].IsRead)
}

func TestSessionReadReceiptFromSelfIsIgnored(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))

	ch.fire(t, protocol.EventReturnMessagesRead, protocol.ReadPayload{RoomID: "r1", UserID: "me"})
	assert.False(t, s.Messages()[0].IsRead)
}

func TestSessionRecallTombstonesPreviewOfInactiveRoom(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))

	// r2's preview arrives while r1 is active
	ch.fire(t, protocol.EventReturnMessage, msgFixture("m1", "r2", "u9", "oops"))
	// then gets recalled, still while r1 is active
	ch.fire(t, protocol.EventReturnRecall, protocol.RecallPayload{RoomID: "r2", MessageID: "m1"})

	room, _ := s.Room("r2")
	require.NotNil(t, room.LastMessage)
	assert.True(t, room.LastMessage.IsRecalled)
	assert.Equal(t, protocol.RecalledPlaceholder, room.LastMessage.Content)
}

func TestSessionPresenceFanOut(t *testing.T) {
	s, ch := sessionFixture(t)

	ch.fire(t, protocol.EventReturnUserOnline, protocol.PresencePayload{Status: protocol.PresenceOnline, UserID: "u9"})

	rooms := s.Rooms()
	assert.Equal(t, protocol.PresenceOnline, rooms[0].Friend.Status) // u2, already online
	assert.Equal(t, protocol.PresenceOnline, rooms[1].Friend.Status) // u9, flipped

	ch.fire(t, protocol.EventReturnUserOnline, protocol.PresencePayload{Status: protocol.PresenceOffline, UserID: "u9"})
	rooms = s.Rooms()
	assert.Equal(t, protocol.PresenceOnline, rooms[0].Friend.Status) // untouched
	assert.Equal(t, protocol.PresenceOffline, rooms[1].Friend.Status)
}

func TestSessionRemoteTypingScope(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))

	// wrong room: ignored
	ch.fire(t, protocol.EventReturnTyping, protocol.TypingPayload{RoomID: "r2", UserID: "u9"})
	assert.False(t, s.CounterpartTyping())

	// self echo: ignored
	ch.fire(t, protocol.EventReturnTyping, protocol.TypingPayload{RoomID: "r1", UserID: "me"})
	assert.False(t, s.CounterpartTyping())

	ch.fire(t, protocol.EventReturnTyping, protocol.TypingPayload{RoomID: "r1", UserID: "u2"})
	assert.True(t, s.CounterpartTyping())

	ch.fire(t, protocol.EventReturnStopTyping, protocol.TypingPayload{RoomID: "r1", UserID: "u2"})
	assert.False(t, s.CounterpartTyping())
}

func TestSessionRoomSwitchClearsRemoteTypingAndFlushesLocal(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))

	ch.fire(t, protocol.EventReturnTyping, protocol.TypingPayload{RoomID: "r1", UserID: "u2"})
	require.True(t, s.CounterpartTyping())

	s.Typing() // local burst announced in r1
	require.Len(t, ch.events(protocol.EventTyping), 1)

	require.NoError(t, s.SelectRoom(context.Background(), "r2"))

	assert.False(t, s.CounterpartTyping())
	// the stop went out before the switch, addressed to r1
	stops := ch.events(protocol.EventStopTyping)
	require.Len(t, stops, 1)
	var payload protocol.TypingPayload
	require.NoError(t, json.Unmarshal(stops[0].data, &payload))
	assert.Equal(t, "r1", payload.RoomID)
}

func TestSessionTypingAnnouncesOnce(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))

	s.Typing()
	s.Typing()
	s.Typing()

	assert.Len(t, ch.events(protocol.EventTyping), 1)
}

func TestSessionServerErrorSurfacesAsNotice(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))

	var notices []string
	s.OnNotice(func(msg string) { notices = append(notices, msg) })
	before := s.Messages()

	ch.fire(t, protocol.EventError, protocol.ErrorPayload{Message: "room is full"})

	assert.Equal(t, []string{"room is full"}, notices)
	assert.Equal(t, before, s.Messages()) // no state change
}

func TestSessionDetachReleasesHandlers(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))

	s.Detach()
	ch.fire(t, protocol.EventReturnMessage, msgFixture("m1", "r1", "u2", "ghost"))

	assert.Len(t, s.Messages(), 1) // only the loaded history

	// remount must not double-deliver
	s.Attach()
	ch.fire(t, protocol.EventReturnMessage, msgFixture("m2", "r1", "u2", "real"))
	assert.Len(t, s.Messages(), 2)
}

func TestSessionSendMediaKinds(t *testing.T) {
	s, ch := sessionFixture(t)
	require.NoError(t, s.SelectRoom(context.Background(), "r1"))

	require.NoError(t, s.Send("", "https://cdn.example.com/a.png"))
	require.NoError(t, s.Send("look", "https://cdn.example.com/b.png"))

	sends := ch.events(protocol.EventSendMessage)
	require.Len(t, sends, 2)

	var first, second protocol.SendMessagePayload
	require.NoError(t, json.Unmarshal(sends[0].data, &first))
	require.NoError(t, json.Unmarshal(sends[1].data, &second))
	assert.Equal(t, protocol.KindMedia, first.Kind)
	assert.Equal(t, protocol.KindMixed, second.Kind)
}

func TestSessionRecallRequiresActiveRoom(t *testing.T) {
	s, ch := sessionFixture(t)
	assert.ErrorIs(t, s.RecallMessage("m1"), ErrNoActiveRoom)

	require.NoError(t, s.SelectRoom(context.Background(), "r1"))
	require.NoError(t, s.RecallMessage("h1"))

	recalls := ch.events(protocol.EventRecallMessage)
	require.Len(t, recalls, 1)
	var payload protocol.RecallPayload
	require.NoError(t, json.Unmarshal(recalls[0].data, &payload))
	assert.Equal(t, "h1", payload.MessageID)
	assert.Equal(t, "me", payload.UserID)
}
