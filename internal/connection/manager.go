package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"heartlink/internal/protocol"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 10 * time.Second
	readLimit  = 64 * 1024
)

var (
	ErrNotConnected = errors.New("channel is not connected")
	ErrMissingCreds = errors.New("token and user id are required to connect")
)

// Handler receives the raw data of one inbound event. Handlers run on
// the read loop goroutine, one at a time, in arrival order.
type Handler func(data json.RawMessage)

// Credentials identify the session on the channel.
type Credentials struct {
	Token  string
	UserID string
}

// Manager owns one bidirectional event channel per session. Inbound
// frames are dispatched to subscribed handlers; outbound frames are
// fire-and-forget through Publish. A transient drop is retried a bounded
// number of times before the channel is declared failed.
type Manager struct {
	url      string
	attempts int
	delay    time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	creds     Credentials
	connected bool
	closing   bool
	send      chan []byte
	pumpsDone chan struct{}

	subMu     sync.Mutex
	subs      map[string]map[uint64]Handler
	nextSubID uint64

	onFailure func(error)
}

func NewManager(url string, attempts int, delay time.Duration) *Manager {
	if attempts < 1 {
		attempts = 1
	}
	return &Manager{
		url:      url,
		attempts: attempts,
		delay:    delay,
		subs:     make(map[string]map[uint64]Handler),
	}
}

// OnFailure registers the callback invoked once when reconnection
// attempts are exhausted. Must be set before Connect.
func (m *Manager) OnFailure(fn func(error)) {
	m.onFailure = fn
}

// Connect establishes the channel. Calling it while a live channel
// exists is a no-op, not an error.
func (m *Manager) Connect(creds Credentials) error {
	if creds.Token == "" || creds.UserID == "" {
		return ErrMissingCreds
	}

	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		log.Println("[CONN] Already connected, ignoring duplicate connect")
		return nil
	}
	m.creds = creds
	m.closing = false
	m.mu.Unlock()

	conn, err := m.dial()
	if err != nil {
		return err
	}

	m.startSession(conn)
	return nil
}

// Disconnect tears the channel down and releases every subscription.
// Handlers registered before the next Connect will not be re-delivered.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return
	}
	m.closing = true
	m.connected = false
	conn := m.conn
	m.conn = nil
	close(m.send)
	m.send = nil
	m.mu.Unlock()

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	conn.Close()

	m.subMu.Lock()
	m.subs = make(map[string]map[uint64]Handler)
	m.subMu.Unlock()

	log.Println("[CONN] Disconnected, all subscriptions released")
}

// Connected reports whether a live channel exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Publish sends a fire-and-forget event. The frame is dropped with an
// error when the channel is down or the outbound buffer is full.
func (m *Manager) Publish(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected || m.send == nil {
		return ErrNotConnected
	}

	select {
	case m.send <- frame:
		return nil
	default:
		return fmt.Errorf("publish %s: outbound buffer full", event)
	}
}

// Subscribe registers a handler for an event and returns its cancel
// function. Cancel is idempotent.
func (m *Manager) Subscribe(event string, h func(data json.RawMessage)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.subs[event] == nil {
		m.subs[event] = make(map[uint64]Handler)
	}
	m.nextSubID++
	id := m.nextSubID
	m.subs[event][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			delete(m.subs[event], id)
		})
	}
}

func (m *Manager) dispatch(env protocol.Envelope) {
	m.subMu.Lock()
	handlers := make([]Handler, 0, len(m.subs[env.Event]))
	for _, h := range m.subs[env.Event] {
		handlers = append(handlers, h)
	}
	m.subMu.Unlock()

	for _, h := range handlers {
		h(env.Data)
	}
}

func (m *Manager) dial() (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.Dial(m.url, nil)
		if err == nil {
			if attempt > 1 {
				log.Printf("[CONN] Connected to %s on attempt %d", m.url, attempt)
			}
			return conn, nil
		}
		lastErr = err
		log.Printf("[CONN] Dial attempt %d/%d failed: %v", attempt, m.attempts, err)
		if attempt < m.attempts {
			time.Sleep(m.delay)
		}
	}
	return nil, fmt.Errorf("channel failed after %d attempts: %w", m.attempts, lastErr)
}

func (m *Manager) startSession(conn *websocket.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.connected = true
	m.send = make(chan []byte, 256)
	m.pumpsDone = make(chan struct{})
	send := m.send
	done := m.pumpsDone
	creds := m.creds
	m.mu.Unlock()

	go m.writePump(conn, send, done)
	go m.readPump(conn, done)

	// Announce the session so the server can bind the connection to the
	// user and flip presence.
	if err := m.Publish(protocol.EventUserLogin, protocol.LoginPayload{
		UserID: creds.UserID,
		Token:  creds.Token,
	}); err != nil {
		log.Printf("[CONN] Failed to announce login: %v", err)
	}
}

func (m *Manager) readPump(conn *websocket.Conn, done chan struct{}) {
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[CONN] Unexpected close: %v", err)
			}
			close(done)
			m.handleDrop(conn, err)
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			log.Printf("[CONN] Dropping malformed frame: %v", err)
			continue
		}
		m.dispatch(env)
	}
}

func (m *Manager) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// handleDrop runs after the read loop dies. Unless the drop was a
// deliberate Disconnect, it tears the session state down and redials
// with the bounded retry policy. Exhaustion is terminal.
func (m *Manager) handleDrop(conn *websocket.Conn, cause error) {
	m.mu.Lock()
	if m.closing || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.conn = nil
	if m.send != nil {
		close(m.send)
		m.send = nil
	}
	m.mu.Unlock()

	log.Printf("[CONN] Channel dropped (%v), attempting to reconnect...", cause)

	next, err := m.dial()
	if err != nil {
		log.Printf("[CONN] Giving up: %v", err)
		if m.onFailure != nil {
			m.onFailure(err)
		}
		return
	}

	m.startSession(next)
}
