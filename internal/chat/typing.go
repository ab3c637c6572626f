package chat

import (
	"sync"
	"time"
)

// TypingTracker owns the transient "composing" state for the active
// room: the local announce/silence machine and the remote counterpart
// flag.
//
// Local side is a two-state machine. The first keystroke announces and
// arms the silence timer; further keystrokes within the window publish
// nothing (debouncing keystroke bursts is the input layer's job). When
// the timer fires, or the room is switched away mid-burst, a single stop
// is published.
type TypingTracker struct {
	mu      sync.Mutex
	timeout time.Duration
	start   func()
	stop    func()

	announced bool
	timer     *time.Timer
	remote    bool
}

func NewTypingTracker(timeout time.Duration, start, stop func()) *TypingTracker {
	return &TypingTracker{timeout: timeout, start: start, stop: stop}
}

// Keystroke registers local input. Publishes "typing started" exactly
// once per burst.
func (t *TypingTracker) Keystroke() {
	t.mu.Lock()
	if t.announced {
		t.mu.Unlock()
		return
	}
	t.announced = true
	t.timer = time.AfterFunc(t.timeout, t.expire)
	t.mu.Unlock()

	t.start()
}

func (t *TypingTracker) expire() {
	t.mu.Lock()
	if !t.announced {
		t.mu.Unlock()
		return
	}
	t.announced = false
	t.timer = nil
	t.mu.Unlock()

	t.stop()
}

// Flush publishes a pending stop immediately. Required before detaching
// from a room, otherwise the counterpart is left with a stale indicator.
func (t *TypingTracker) Flush() {
	t.mu.Lock()
	if !t.announced {
		t.mu.Unlock()
		return
	}
	t.announced = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.stop()
}

// SetRemote records whether the counterpart is composing.
func (t *TypingTracker) SetRemote(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = v
}

// Remote reports the counterpart flag.
func (t *TypingTracker) Remote() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}
