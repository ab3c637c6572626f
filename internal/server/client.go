package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"heartlink/internal/middleware"
	"heartlink/internal/protocol"
)

type Client struct {
	Conn    *websocket.Conn
	UserID  string
	Send    chan []byte
	Hub     *Hub
	Limiter *middleware.RateLimiter

	lastWarning time.Time
	once        sync.Once
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(10 * time.Second)
	defer func() {
		ticker.Stop()
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[CLIENT] Unexpected close from %s: %v", c.UserID, err)
			}
			break
		}

		if !c.Limiter.Allow() {
			if time.Since(c.lastWarning) > 3*time.Second {
				warning, _ := protocol.Encode(protocol.EventError, protocol.ErrorPayload{
					Message: "rate limit exceeded",
				})
				select {
				case c.Send <- warning:
					c.lastWarning = time.Now()
				default:
				}
			}
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			continue
		}

		c.Hub.Inbound <- inboundFrame{client: c, env: env}
	}
}
