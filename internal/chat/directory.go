package chat

import (
	"sync"

	"heartlink/internal/protocol"
)

// Directory is the ordered collection of conversation rooms. Order is
// load/insertion order; List never re-sorts, recency sorting is the
// caller's business.
type Directory struct {
	mu    sync.RWMutex
	order []string
	rooms map[string]*protocol.Room
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*protocol.Room)}
}

// Load replaces the directory contents wholesale, preserving the given
// order.
func (d *Directory) Load(rooms []protocol.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.order = d.order[:0]
	d.rooms = make(map[string]*protocol.Room, len(rooms))
	for i := range rooms {
		r := rooms[i]
		if _, ok := d.rooms[r.RoomID]; ok {
			continue
		}
		d.order = append(d.order, r.RoomID)
		d.rooms[r.RoomID] = &r
	}
}

// List returns the rooms in insertion order. The returned slice holds
// copies; mutating it does not touch the directory.
func (d *Directory) List() []protocol.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]protocol.Room, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.rooms[id])
	}
	return out
}

// Get returns a copy of the room, or false when the id is unknown.
func (d *Directory) Get(roomID string) (protocol.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[roomID]
	if !ok {
		return protocol.Room{}, false
	}
	return *r, true
}

// UpsertLastMessage replaces the room's preview unconditionally. Last
// writer wins; no timestamp comparison is performed, which is sound only
// because the channel delivers events in order per room.
func (d *Directory) UpsertLastMessage(roomID string, msg protocol.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rooms[roomID]
	if !ok {
		return
	}
	r.LastMessage = &msg
}

// SetPresence updates every room whose counterpart matches. Linear scan;
// the directory holds one room per friend at this scale.
func (d *Directory) SetPresence(counterpartID string, status protocol.Presence) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range d.rooms {
		if r.Friend.ID == counterpartID {
			r.Friend.Status = status
		}
	}
}

// RecallPreview tombstones the room's preview when it is the recalled
// message. The room's timeline does not need to be loaded for the
// preview to be corrected.
func (d *Directory) RecallPreview(roomID, messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rooms[roomID]
	if !ok || r.LastMessage == nil || r.LastMessage.ID != messageID {
		return
	}
	r.LastMessage.Recall()
}
