package chat

import (
	"sync"
	"time"

	"github.com/messenger/client-go/internal/realtime"
)

// DefaultTypingDebounce is how long after the last keystroke the stop
// signal fires.
const DefaultTypingDebounce = 1500 * time.Millisecond

// TypingCoordinator debounces local typing activity into start/stop
// events for the active conversation. The first Activity after a quiet
// period emits typing:start immediately; every further call re-arms the
// timer; the timer expiring emits typing:stop.
//
// Switching conversations or Close cancels a pending timer without
// emitting a stop: the room leave acts as the implicit stop for peers.
type TypingCoordinator struct {
	ch       realtime.Channel
	debounce time.Duration

	mu             sync.Mutex
	conversationID string
	timer          *time.Timer
	active         bool
}

func NewTypingCoordinator(ch realtime.Channel, debounce time.Duration) *TypingCoordinator {
	if debounce <= 0 {
		debounce = DefaultTypingDebounce
	}
	return &TypingCoordinator{ch: ch, debounce: debounce}
}

// SetConversation switches the conversation the coordinator signals for.
// An empty id deactivates it.
func (t *TypingCoordinator) SetConversation(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conversationID == conversationID {
		return
	}
	t.cancelLocked()
	t.conversationID = conversationID
}

// Activity records one keystroke's worth of typing. No-op without an
// active conversation.
func (t *TypingCoordinator) Activity() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conversationID == "" {
		return
	}
	if t.active {
		t.timer.Reset(t.debounce)
		return
	}
	t.active = true
	convID := t.conversationID
	realtime.StartTyping(t.ch, convID)
	t.timer = time.AfterFunc(t.debounce, func() { t.expire(convID) })
}

// Close cancels any pending timer without emitting a stop.
func (t *TypingCoordinator) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.conversationID = ""
}

func (t *TypingCoordinator) expire(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// The conversation may have switched between the timer firing and the
	// lock being taken; never emit a stop for a stale activation.
	if !t.active || t.conversationID != conversationID {
		return
	}
	t.active = false
	t.timer = nil
	realtime.StopTyping(t.ch, conversationID)
}

func (t *TypingCoordinator) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.active = false
}
