package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"heartlink/internal/protocol"
)

var (
	ErrNoActiveRoom = errors.New("no active room selected")
	ErrEmptyMessage = errors.New("message is empty")
	ErrNotConnected = errors.New("channel is not connected")
	ErrRoomNotFound = errors.New("room not found")
)

// Channel is the slice of the connection manager the session needs.
type Channel interface {
	Connected() bool
	Publish(event string, payload any) error
	Subscribe(event string, h func(data json.RawMessage)) func()
}

// HistoryFetcher is the HTTP collaborator the session loads cold state
// from: the room list on refresh, a room's message history on select.
type HistoryFetcher interface {
	Rooms(ctx context.Context) ([]protocol.Room, error)
	Messages(ctx context.Context, roomID string) ([]protocol.Message, error)
}

// Session is the synchronization core: it owns the room directory, the
// active timeline and the typing tracker, and routes every inbound
// channel event onto them. All mutations funnel through the channel's
// read loop or a UI call; each runs to completion under the stores'
// locks, so re-delivered events and concurrent UI intents cannot
// interleave partial state.
type Session struct {
	self    string
	channel Channel
	history HistoryFetcher

	directory *Directory
	timeline  *Timeline
	typing    *TypingTracker

	// active counterpart for outbound addressing; guarded by timeline's
	// active room (set together in SelectRoom).
	receiverID string

	cancels []func()
	onNotice func(string)
}

func NewSession(self string, ch Channel, history HistoryFetcher, typingTimeout time.Duration) *Session {
	s := &Session{
		self:      self,
		channel:   ch,
		history:   history,
		directory: NewDirectory(),
		timeline:  NewTimeline(),
	}
	s.typing = NewTypingTracker(typingTimeout, s.publishTypingStart, s.publishTypingStop)
	return s
}

// OnNotice registers the callback for server-reported errors. They are
// surfaced as transient notices and never alter local state.
func (s *Session) OnNotice(fn func(string)) { s.onNotice = fn }

// Attach binds the session's handlers to the channel. Every handler is
// released again by Detach, on every exit path, so a remounted session
// never sees duplicate delivery.
func (s *Session) Attach() {
	s.cancels = []func(){
		s.channel.Subscribe(protocol.EventReturnMessage, s.onMessage),
		s.channel.Subscribe(protocol.EventReturnUserOnline, s.onPresence),
		s.channel.Subscribe(protocol.EventReturnMessagesRead, s.onMessagesRead),
		s.channel.Subscribe(protocol.EventReturnRecall, s.onRecall),
		s.channel.Subscribe(protocol.EventReturnTyping, s.onTyping),
		s.channel.Subscribe(protocol.EventReturnStopTyping, s.onStopTyping),
		s.channel.Subscribe(protocol.EventError, s.onServerError),
	}
	log.Printf("[SESSION] Attached %d channel handlers for user %s", len(s.cancels), s.self)
}

// Detach flushes a pending typing stop and releases every subscription.
func (s *Session) Detach() {
	s.typing.Flush()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	log.Printf("[SESSION] Detached user %s", s.self)
}

// Refresh reloads the room directory from the collaborator.
func (s *Session) Refresh(ctx context.Context) error {
	rooms, err := s.history.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("refresh rooms: %w", err)
	}
	s.directory.Load(rooms)
	return nil
}

// SelectRoom switches the active timeline. The pending typing stop is
// flushed before detaching from the old room, the remote indicator is
// cleared, the new room's history is loaded wholesale, and the visit is
// announced as a read receipt. Any in-flight append still tagged with
// the old room id only refreshes that room's preview from here on.
func (s *Session) SelectRoom(ctx context.Context, roomID string) error {
	room, ok := s.directory.Get(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	s.typing.Flush()
	s.typing.SetRemote(false)

	history, err := s.history.Messages(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load history for room %s: %w", roomID, err)
	}

	s.timeline.Load(roomID, history)
	s.receiverID = room.Friend.ID

	if err := s.channel.Publish(protocol.EventMarkMessagesRead, protocol.ReadPayload{
		RoomID: roomID,
		UserID: s.self,
	}); err != nil {
		log.Printf("[SESSION] Failed to announce read state for room %s: %v", roomID, err)
	}
	return nil
}

// Send validates and publishes a message, inserting an optimistic entry
// into the timeline and the room preview before the server confirms.
// The server echo later replaces the optimistic entry in place.
func (s *Session) Send(content, imageURL string) error {
	content = strings.TrimSpace(content)
	if content == "" && imageURL == "" {
		return ErrEmptyMessage
	}
	roomID := s.timeline.ActiveRoom()
	if roomID == "" {
		return ErrNoActiveRoom
	}
	if !s.channel.Connected() {
		return ErrNotConnected
	}

	kind := protocol.KindText
	switch {
	case content != "" && imageURL != "":
		kind = protocol.KindMixed
	case imageURL != "":
		kind = protocol.KindMedia
	}

	msg := protocol.Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderID:   s.self,
		ReceiverID: s.receiverID,
		Content:    content,
		ImageURL:   imageURL,
		Kind:       kind,
		Timestamp:  time.Now(),
		Pending:    true,
	}

	s.timeline.AppendOptimistic(msg)
	s.directory.UpsertLastMessage(roomID, msg)

	return s.channel.Publish(protocol.EventSendMessage, protocol.SendMessagePayload{
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		ImageURL:   msg.ImageURL,
		Kind:       msg.Kind,
	})
}

// RecallMessage asks the server to recall a message in the active room.
// The local tombstone is applied when the recall broadcast comes back,
// so all members converge through the same event.
func (s *Session) RecallMessage(messageID string) error {
	roomID := s.timeline.ActiveRoom()
	if roomID == "" {
		return ErrNoActiveRoom
	}
	if !s.channel.Connected() {
		return ErrNotConnected
	}
	return s.channel.Publish(protocol.EventRecallMessage, protocol.RecallPayload{
		RoomID:    roomID,
		MessageID: messageID,
		UserID:    s.self,
	})
}

// Typing registers a local keystroke with the tracker.
func (s *Session) Typing() {
	if s.timeline.ActiveRoom() == "" || !s.channel.Connected() {
		return
	}
	s.typing.Keystroke()
}

func (s *Session) publishTypingStart() {
	roomID := s.timeline.ActiveRoom()
	if roomID == "" {
		return
	}
	if err := s.channel.Publish(protocol.EventTyping, protocol.TypingPayload{RoomID: roomID, UserID: s.self}); err != nil {
		log.Printf("[SESSION] Failed to publish typing start: %v", err)
	}
}

func (s *Session) publishTypingStop() {
	roomID := s.timeline.ActiveRoom()
	if roomID == "" {
		return
	}
	if err := s.channel.Publish(protocol.EventStopTyping, protocol.TypingPayload{RoomID: roomID, UserID: s.self}); err != nil {
		log.Printf("[SESSION] Failed to publish typing stop: %v", err)
	}
}

// ---- inbound event routing ----

func (s *Session) onMessage(data json.RawMessage) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[SESSION] Malformed message event: %v", err)
		return
	}
	// The preview is refreshed for the message's room no matter which
	// room is active; the timeline filters by active room itself.
	s.timeline.Append(msg)
	s.directory.UpsertLastMessage(msg.RoomID, msg)
}

func (s *Session) onPresence(data json.RawMessage) {
	var p protocol.PresencePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[SESSION] Malformed presence event: %v", err)
		return
	}
	s.directory.SetPresence(p.UserID, p.Status)
}

func (s *Session) onMessagesRead(data json.RawMessage) {
	var p protocol.ReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[SESSION] Malformed read event: %v", err)
		return
	}
	if p.RoomID != s.timeline.ActiveRoom() || p.UserID == s.self {
		return
	}
	s.timeline.MarkReadFrom(p.UserID)
}

func (s *Session) onRecall(data json.RawMessage) {
	var p protocol.RecallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[SESSION] Malformed recall event: %v", err)
		return
	}
	s.timeline.Recall(p.MessageID)
	s.directory.RecallPreview(p.RoomID, p.MessageID)
}

func (s *Session) onTyping(data json.RawMessage) {
	if _, ok := s.typingScope(data); ok {
		s.typing.SetRemote(true)
	}
}

func (s *Session) onStopTyping(data json.RawMessage) {
	if _, ok := s.typingScope(data); ok {
		s.typing.SetRemote(false)
	}
}

// typingScope parses a typing payload and reports whether it concerns
// the active room and a non-self actor.
func (s *Session) typingScope(data json.RawMessage) (protocol.TypingPayload, bool) {
	var p protocol.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[SESSION] Malformed typing event: %v", err)
		return p, false
	}
	return p, p.RoomID == s.timeline.ActiveRoom() && p.UserID != s.self
}

func (s *Session) onServerError(data json.RawMessage) {
	var p protocol.ErrorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[SESSION] Malformed error event: %v", err)
		return
	}
	log.Printf("[SESSION] Server error: %s", p.Message)
	if s.onNotice != nil {
		s.onNotice(p.Message)
	}
}

// ---- snapshots for rendering ----

func (s *Session) Rooms() []protocol.Room        { return s.directory.List() }
func (s *Session) Messages() []protocol.Message  { return s.timeline.Messages() }
func (s *Session) ActiveRoom() string            { return s.timeline.ActiveRoom() }
func (s *Session) CounterpartTyping() bool       { return s.typing.Remote() }
func (s *Session) Room(id string) (protocol.Room, bool) { return s.directory.Get(id) }
