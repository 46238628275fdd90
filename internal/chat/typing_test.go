package chat

import (
	"testing"
	"time"

	"github.com/messenger/client-go/internal/realtime"
)

func TestTypingCoordinator(t *testing.T) {
	const debounce = 80 * time.Millisecond

	t.Run("BurstEmitsOneStartOneStop", func(t *testing.T) {
		ch := newFakeChannel()
		tc := NewTypingCoordinator(ch, debounce)
		tc.SetConversation("conv-1")

		// Three activity signals in quick succession.
		tc.Activity()
		time.Sleep(debounce / 4)
		tc.Activity()
		time.Sleep(debounce / 4)
		tc.Activity()

		if got := len(ch.callsFor(realtime.EventTypingStart)); got != 1 {
			t.Fatalf("start emits during burst = %d, want 1", got)
		}
		if got := len(ch.callsFor(realtime.EventTypingStop)); got != 0 {
			t.Fatalf("stop emitted before debounce expired: %d", got)
		}

		time.Sleep(debounce * 3)
		if got := len(ch.callsFor(realtime.EventTypingStop)); got != 1 {
			t.Fatalf("stop emits after silence = %d, want 1", got)
		}
		if got := len(ch.callsFor(realtime.EventTypingStart)); got != 1 {
			t.Fatalf("start emits after silence = %d, want 1", got)
		}

		// The next burst starts a fresh cycle.
		tc.Activity()
		if got := len(ch.callsFor(realtime.EventTypingStart)); got != 2 {
			t.Fatalf("start emits on new burst = %d, want 2", got)
		}
		tc.Close()
	})

	t.Run("SwitchCancelsWithoutStop", func(t *testing.T) {
		ch := newFakeChannel()
		tc := NewTypingCoordinator(ch, debounce)
		tc.SetConversation("conv-1")
		tc.Activity()

		tc.SetConversation("conv-2")
		time.Sleep(debounce * 3)
		if got := len(ch.callsFor(realtime.EventTypingStop)); got != 0 {
			t.Fatalf("stop emitted after switch = %d, want 0", got)
		}

		// Activity now signals for the new conversation.
		tc.Activity()
		starts := ch.callsFor(realtime.EventTypingStart)
		if len(starts) != 2 {
			t.Fatalf("start emits = %d, want 2", len(starts))
		}
		if p := starts[1].Payload.(realtime.TypingPayload); p.ConversationID != "conv-2" {
			t.Fatalf("second start for %q, want conv-2", p.ConversationID)
		}
		tc.Close()
	})

	t.Run("CloseCancelsWithoutStop", func(t *testing.T) {
		ch := newFakeChannel()
		tc := NewTypingCoordinator(ch, debounce)
		tc.SetConversation("conv-1")
		tc.Activity()
		tc.Close()

		time.Sleep(debounce * 3)
		if got := len(ch.callsFor(realtime.EventTypingStop)); got != 0 {
			t.Fatalf("stop emitted after Close = %d, want 0", got)
		}
	})

	t.Run("NoActiveConversationIsNoop", func(t *testing.T) {
		ch := newFakeChannel()
		tc := NewTypingCoordinator(ch, debounce)
		tc.Activity()
		if got := len(ch.callsFor(realtime.EventTypingStart)); got != 0 {
			t.Fatalf("start emitted with no conversation: %d", got)
		}
	})
}
