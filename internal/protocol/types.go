package protocol

import "time"

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindMedia MessageKind = "media"
	KindMixed MessageKind = "mixed"
)

type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
)

// RecalledPlaceholder replaces the content of a recalled message. The
// message keeps its id and position; only the body is blanked out.
const RecalledPlaceholder = "This message has been recalled"

type Message struct {
	ID         string      `json:"_id"`
	RoomID     string      `json:"room_id"`
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id"`
	Content    string      `json:"content,omitempty"`
	ImageURL   string      `json:"image_url,omitempty"`
	Kind       MessageKind `json:"type"`
	IsRead     bool        `json:"is_read"`
	IsRecalled bool        `json:"is_recalled"`
	Timestamp  time.Time   `json:"timestamp"`

	// Pending marks a locally composed message that has not been echoed
	// back by the server yet. Never serialized.
	Pending bool `json:"-"`
}

// Recall blanks the message body and marks it recalled. Calling it on an
// already recalled message changes nothing.
func (m *Message) Recall() {
	m.IsRecalled = true
	m.Content = RecalledPlaceholder
	m.ImageURL = ""
}

// Friend is the counterpart in a one-to-one room.
type Friend struct {
	ID        string   `json:"_id"`
	FullName  string   `json:"full_name"`
	AvatarURL string   `json:"avatar_url,omitempty"`
	Status    Presence `json:"status"`
}

// Room is a one-to-one conversation. LastMessage is a denormalized
// preview kept fresh even when the room's timeline is not loaded.
type Room struct {
	RoomID      string   `json:"room_id"`
	Friend      Friend   `json:"friend"`
	LastMessage *Message `json:"last_message,omitempty"`
}

// Match is a dating pairing with its own chat room. Matches expire seven
// days after creation; an expired match no longer resolves.
type Match struct {
	RoomID    string    `json:"room_id"`
	Friend    Friend    `json:"friend"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Payloads for events that do not carry a full Message.

type LoginPayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type SendMessagePayload struct {
	RoomID     string      `json:"room_id"`
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id"`
	Content    string      `json:"content,omitempty"`
	ImageURL   string      `json:"image_url,omitempty"`
	Kind       MessageKind `json:"type"`
}

type RecallPayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id,omitempty"`
}

type TypingPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type ReadPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type PresencePayload struct {
	Status Presence `json:"status"`
	UserID string   `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
