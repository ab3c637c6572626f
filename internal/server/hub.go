package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"heartlink/internal/protocol"
	"heartlink/internal/repository"
)

const repoTimeout = 5 * time.Second

type inboundFrame struct {
	client *Client
	env    protocol.Envelope
}

// Hub is the single owner of connected-client state. All registration,
// teardown and event handling happens inside Run's select loop, so
// per-room event handling is serialized in arrival order.
type Hub struct {
	messages repository.MessageRepo
	rooms    repository.RoomRepo
	users    repository.UserRepo

	Clients    map[string]*Client // user id -> client
	Register   chan *Client
	Unregister chan *Client
	Inbound    chan inboundFrame
	Quit       chan struct{}
}

func NewHub(messages repository.MessageRepo, rooms repository.RoomRepo, users repository.UserRepo) *Hub {
	log.Println("[HUB] Initializing new Hub instance...")
	return &Hub{
		messages:   messages,
		rooms:      rooms,
		users:      users,
		Clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan inboundFrame, 256),
		Quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	log.Println("[HUB] Main loop started. Listening for events...")
	for {
		select {
		case <-h.Quit:
			log.Println("[HUB] Quit signal received. Shutting down all client connections...")
			for _, client := range h.Clients {
				h.cleanupClient(client)
			}
			return

		case client := <-h.Register:
			log.Printf("[HUB] Registration request: %s", client.UserID)
			if oldClient, ok := h.Clients[client.UserID]; ok {
				log.Printf("[HUB] Overwriting existing session for user: %s", client.UserID)
				h.cleanupClient(oldClient)
			}
			h.Clients[client.UserID] = client
			h.setPresence(client.UserID, protocol.PresenceOnline)
			log.Printf("[HUB] Successfully registered %s. Total active: %d", client.UserID, len(h.Clients))

		case client := <-h.Unregister:
			if _, ok := h.Clients[client.UserID]; ok {
				log.Printf("[HUB] Unregistering client: %s", client.UserID)
				h.cleanupClient(client)
				h.setPresence(client.UserID, protocol.PresenceOffline)
			}

		case frame := <-h.Inbound:
			h.handle(frame.client, frame.env)
		}
	}
}

func (h *Hub) cleanupClient(c *Client) {
	c.once.Do(func() {
		if client, ok := h.Clients[c.UserID]; ok {
			delete(h.Clients, c.UserID)
			client.Conn.Close()
			close(client.Send)
			log.Printf("[HUB] Session closed for %s. Active clients remaining: %d", c.UserID, len(h.Clients))
		}
	})
}

// setPresence persists the flip and broadcasts it to every connected
// client; the receivers fan it out across their own room lists.
func (h *Hub) setPresence(userID string, status protocol.Presence) {
	ctx, cancel := context.WithTimeout(context.Background(), repoTimeout)
	defer cancel()
	if err := h.users.SetPresence(ctx, userID, status); err != nil {
		log.Printf("[HUB] Failed to persist presence for %s: %v", userID, err)
	}

	payload := protocol.PresencePayload{Status: status, UserID: userID}
	for id, client := range h.Clients {
		if id == userID {
			continue
		}
		h.push(client, protocol.EventReturnUserOnline, payload)
	}
}

func (h *Hub) handle(c *Client, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventUserLogin:
		// Authentication happened at upgrade; the announcement only
		// confirms the session binding.
		log.Printf("[HUB] Login announced by %s", c.UserID)

	case protocol.EventSendMessage:
		h.handleSend(c, env.Data)

	case protocol.EventRecallMessage:
		h.handleRecall(c, env.Data)

	case protocol.EventMarkMessagesRead:
		h.handleMarkRead(c, env.Data)

	case protocol.EventTyping:
		h.relayTyping(c, env.Data, protocol.EventReturnTyping)

	case protocol.EventStopTyping:
		h.relayTyping(c, env.Data, protocol.EventReturnStopTyping)

	default:
		log.Printf("[HUB] Unknown event %q from %s", env.Event, c.UserID)
		h.pushError(c, "unknown event: "+env.Event)
	}
}

func (h *Hub) handleSend(c *Client, data json.RawMessage) {
	var p protocol.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.pushError(c, "malformed message payload")
		return
	}
	if p.Content == "" && p.ImageURL == "" {
		h.pushError(c, "message is empty")
		return
	}
	if p.SenderID != c.UserID {
		h.pushError(c, "sender does not match session")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), repoTimeout)
	defer cancel()

	ok, err := h.rooms.IsMember(ctx, p.RoomID, c.UserID)
	if err != nil {
		h.pushError(c, "failed to verify room membership")
		return
	}
	if !ok {
		h.pushError(c, "not a member of this room")
		return
	}

	kind := p.Kind
	if kind == "" {
		kind = protocol.KindText
	}

	msg := protocol.Message{
		ID:         uuid.NewString(),
		RoomID:     p.RoomID,
		SenderID:   p.SenderID,
		ReceiverID: p.ReceiverID,
		Content:    p.Content,
		ImageURL:   p.ImageURL,
		Kind:       kind,
		Timestamp:  time.Now(),
	}

	if err := h.messages.Save(ctx, &msg); err != nil {
		h.pushError(c, "failed to persist message")
		return
	}

	// Echo to both members, the sender included: the sender's client
	// reconciles the echo against its optimistic entry.
	h.pushToUsers(protocol.EventReturnMessage, msg, msg.SenderID, msg.ReceiverID)
}

func (h *Hub) handleRecall(c *Client, data json.RawMessage) {
	var p protocol.RecallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.pushError(c, "malformed recall payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), repoTimeout)
	defer cancel()

	ok, err := h.messages.Recall(ctx, p.MessageID, p.RoomID, c.UserID)
	if err != nil {
		h.pushError(c, "failed to recall message")
		return
	}
	if !ok {
		h.pushError(c, "message cannot be recalled")
		return
	}

	a, b, err := h.rooms.Members(ctx, p.RoomID)
	if err != nil {
		log.Printf("[HUB] Recall broadcast failed, members unknown for room %s: %v", p.RoomID, err)
		return
	}
	h.pushToUsers(protocol.EventReturnRecall, protocol.RecallPayload{
		RoomID:    p.RoomID,
		MessageID: p.MessageID,
	}, a, b)
}

func (h *Hub) handleMarkRead(c *Client, data json.RawMessage) {
	var p protocol.ReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.pushError(c, "malformed read payload")
		return
	}
	if p.UserID != c.UserID {
		h.pushError(c, "reader does not match session")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), repoTimeout)
	defer cancel()

	if _, err := h.messages.MarkRead(ctx, p.RoomID, p.UserID); err != nil {
		h.pushError(c, "failed to mark messages read")
		return
	}

	a, b, err := h.rooms.Members(ctx, p.RoomID)
	if err != nil {
		log.Printf("[HUB] Read broadcast failed, members unknown for room %s: %v", p.RoomID, err)
		return
	}
	h.pushToUsers(protocol.EventReturnMessagesRead, p, a, b)
}

// relayTyping forwards a typing transition to the counterpart only.
func (h *Hub) relayTyping(c *Client, data json.RawMessage, outEvent string) {
	var p protocol.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.pushError(c, "malformed typing payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), repoTimeout)
	defer cancel()

	a, b, err := h.rooms.Members(ctx, p.RoomID)
	if err != nil {
		return
	}
	other := a
	if a == c.UserID {
		other = b
	}
	if target, ok := h.Clients[other]; ok {
		h.push(target, outEvent, protocol.TypingPayload{RoomID: p.RoomID, UserID: c.UserID})
	}
}

func (h *Hub) pushToUsers(event string, payload any, userIDs ...string) {
	for _, id := range userIDs {
		if client, ok := h.Clients[id]; ok {
			h.push(client, event, payload)
		}
	}
}

func (h *Hub) push(c *Client, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Printf("[HUB] Failed to encode %s: %v", event, err)
		return
	}
	select {
	case c.Send <- frame:
	default:
		log.Printf("[HUB] WARNING: Client %s buffer full. Evicting slow consumer.", c.UserID)
		go func(c *Client) { h.Unregister <- c }(c)
	}
}

func (h *Hub) pushError(c *Client, message string) {
	log.Printf("[HUB] Rejecting input from %s: %s", c.UserID, message)
	h.push(c, protocol.EventError, protocol.ErrorPayload{Message: message})
}
