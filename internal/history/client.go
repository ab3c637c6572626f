// Package history is the HTTP collaborator the sync core loads cold
// state from: the room list, a room's message backlog, and the current
// dating match. The core only consumes these shapes; it never caches
// beyond the directory and the active timeline.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"heartlink/internal/protocol"
)

// ErrNoMatch is returned when the user has no live dating match.
var ErrNoMatch = errors.New("no current match")

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Rooms(ctx context.Context) ([]protocol.Room, error) {
	var out struct {
		Rooms []protocol.Room `json:"rooms"`
	}
	if err := c.get(ctx, "/chats/rooms", &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

func (c *Client) Messages(ctx context.Context, roomID string) ([]protocol.Message, error) {
	var out struct {
		Messages []protocol.Message `json:"messages"`
	}
	if err := c.get(ctx, "/chats/message/"+roomID, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// CurrentMatch resolves the user's live dating match, if any. Expired
// matches are reported absent by the server.
func (c *Client) CurrentMatch(ctx context.Context) (*protocol.Match, error) {
	var out struct {
		Match *protocol.Match `json:"match"`
	}
	if err := c.get(ctx, "/datings/match", &out); err != nil {
		return nil, err
	}
	if out.Match == nil {
		return nil, ErrNoMatch
	}
	return out.Match, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("GET %s: read body: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("GET %s: %s (status %d)", path, apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
