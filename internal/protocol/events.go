package protocol

import "encoding/json"

// Event names on the wire. The strings are part of the server contract
// and must not change.
const (
	// client -> server
	EventUserLogin        = "userLogin"
	EventSendMessage      = "CLIENT_SEND_MESSAGE"
	EventRecallMessage    = "CLIENT_RECALL_MESSAGE"
	EventTyping           = "CLIENT_TYPING"
	EventStopTyping       = "CLIENT_STOP_TYPING"
	EventMarkMessagesRead = "CLIENT_MARK_MESSAGES_READ"

	// server -> client
	EventReturnMessage      = "SERVER_RETURN_MESSAGE"
	EventReturnUserOnline   = "SERVER_RETURN_USER_ONLINE"
	EventReturnMessagesRead = "SERVER_RETURN_MESSAGES_READ"
	EventReturnRecall       = "SERVER_RETURN_RECALL_MESSAGE"
	EventReturnTyping       = "SERVER_RETURN_TYPING"
	EventReturnStopTyping   = "SERVER_RETURN_STOP_TYPING"
	EventError              = "error"
)

// Envelope frames every message on the channel, in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps a payload in an envelope and marshals the whole frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
