package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	frame, err := Encode(EventTyping, TypingPayload{RoomID: "r1", UserID: "u1"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "CLIENT_TYPING", env.Event)

	var p TypingPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "r1", p.RoomID)
}

func TestMessageWireShape(t *testing.T) {
	msg := Message{
		ID:        "m1",
		RoomID:    "r1",
		SenderID:  "u1",
		Content:   "hey",
		Kind:      KindText,
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Pending:   true,
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "m1", fields["_id"])
	assert.Equal(t, "text", fields["type"])
	assert.NotContains(t, fields, "Pending", "local-only flag must never hit the wire")
	assert.NotContains(t, fields, "image_url", "empty url is omitted")
}

func TestMessageRecall(t *testing.T) {
	msg := Message{ID: "m1", Content: "secret", ImageURL: "https://x/a.png"}

	msg.Recall()
	assert.True(t, msg.IsRecalled)
	assert.Equal(t, RecalledPlaceholder, msg.Content)
	assert.Empty(t, msg.ImageURL)

	msg.Recall() // idempotent
	assert.Equal(t, RecalledPlaceholder, msg.Content)
}
