package chat

import (
	"sync"
	"time"

	"heartlink/internal/protocol"
)

// reconcileWindow bounds how old an optimistic message may be and still
// be matched against a server echo.
const reconcileWindow = 15 * time.Second

// Timeline is the message sequence of the single active room. Switching
// rooms replaces it wholesale; messages tagged with any other room id
// are never inserted. Messages are kept in arrival order and never
// physically removed — recall tombstones in place.
type Timeline struct {
	mu       sync.RWMutex
	roomID   string
	messages []*protocol.Message
	byID     map[string]*protocol.Message
}

func NewTimeline() *Timeline {
	return &Timeline{byID: make(map[string]*protocol.Message)}
}

// Load replaces the timeline with the history of a newly selected room.
func (t *Timeline) Load(roomID string, history []protocol.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.roomID = roomID
	t.messages = make([]*protocol.Message, 0, len(history))
	t.byID = make(map[string]*protocol.Message, len(history))
	for i := range history {
		m := history[i]
		if _, ok := t.byID[m.ID]; ok {
			continue
		}
		t.messages = append(t.messages, &m)
		t.byID[m.ID] = &m
	}
}

// ActiveRoom returns the room id the timeline currently belongs to.
func (t *Timeline) ActiveRoom() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roomID
}

// Append merges an authoritative message into the timeline. Returns
// false when the message was dropped (wrong room) or already present.
//
// A server echo of an optimistic send replaces the pending entry in
// place: same position, server-issued id adopted. Re-delivery of an
// already applied message is a no-op keyed on the server id.
func (t *Timeline) Append(msg protocol.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.RoomID != t.roomID || t.roomID == "" {
		return false
	}
	if _, ok := t.byID[msg.ID]; ok {
		return false
	}

	if pending := t.findPending(msg); pending != nil {
		delete(t.byID, pending.ID)
		*pending = msg
		t.byID[msg.ID] = pending
		return true
	}

	m := msg
	t.messages = append(t.messages, &m)
	t.byID[m.ID] = &m
	return true
}

// findPending matches a server echo against an optimistic entry by
// sender, content and media ref within the reconcile window. Caller
// holds the lock.
func (t *Timeline) findPending(msg protocol.Message) *protocol.Message {
	for _, m := range t.messages {
		if !m.Pending {
			continue
		}
		if m.SenderID == msg.SenderID && m.Content == msg.Content && m.ImageURL == msg.ImageURL &&
			msg.Timestamp.Sub(m.Timestamp) < reconcileWindow {
			return m
		}
	}
	return nil
}

// AppendOptimistic inserts a locally composed message before server
// confirmation. The message must already be tagged Pending.
func (t *Timeline) AppendOptimistic(msg protocol.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.RoomID != t.roomID || t.roomID == "" {
		return false
	}
	m := msg
	t.messages = append(t.messages, &m)
	t.byID[m.ID] = &m
	return true
}

// MarkReadFrom applies a read receipt from the given actor: every unread
// message authored by anyone else flips to read. The actor's own
// messages are never touched — they read our messages, not their own.
func (t *Timeline) MarkReadFrom(actorID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, m := range t.messages {
		if m.SenderID != actorID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n
}

// Recall tombstones the message with the given id. A miss is a silent
// no-op: the message may belong to a room that is not loaded. Idempotent
// under re-delivery.
func (t *Timeline) Recall(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.byID[messageID]
	if !ok {
		return false
	}
	m.Recall()
	return true
}

// Messages returns a copy of the timeline in arrival order.
func (t *Timeline) Messages() []protocol.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]protocol.Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = *m
	}
	return out
}
