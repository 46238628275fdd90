package chat

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/messenger/client-go/internal/model"
	"github.com/messenger/client-go/internal/realtime"
)

// statusSink collects presence applications keyed by user id.
type statusSink struct {
	mu       sync.Mutex
	statuses map[string]model.PresenceStatus
}

func newStatusSink() *statusSink {
	return &statusSink{statuses: make(map[string]model.PresenceStatus)}
}

func (s *statusSink) apply(userID string, status model.PresenceStatus, _ *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[userID] = status
}

func (s *statusSink) get(userID string) model.PresenceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[userID]
}

func idsOf(c emitCall) []string {
	return c.Payload.(realtime.PresenceIDsPayload).UserIDs
}

func TestPresenceManager(t *testing.T) {
	ctx := context.Background()

	t.Run("DiffSubscribeUnsubscribe", func(t *testing.T) {
		ch := newFakeChannel()
		ch.setAckFn(func(event string, payload any) (realtime.Ack, error) {
			statuses := make(map[string]model.PresenceStatus)
			for _, id := range payload.(realtime.PresenceIDsPayload).UserIDs {
				statuses[id] = model.PresenceOnline
			}
			return realtime.Ack{OK: true, Statuses: statuses}, nil
		})
		sink := newStatusSink()
		m := NewPresenceManager(ch, sink.apply)

		m.SetWatched(ctx, []string{"A", "B"})
		if got := m.Watched(); !reflect.DeepEqual(got, []string{"A", "B"}) {
			t.Fatalf("watched = %v, want [A B]", got)
		}

		m.SetWatched(ctx, []string{"B", "C"})
		if got := m.Watched(); !reflect.DeepEqual(got, []string{"B", "C"}) {
			t.Fatalf("watched = %v, want [B C]", got)
		}

		unsubs := ch.callsFor(realtime.EventPresenceUnsubscribe)
		if len(unsubs) != 1 || !reflect.DeepEqual(idsOf(unsubs[0]), []string{"A"}) {
			t.Fatalf("unsubscribe calls = %v, want one for [A]", unsubs)
		}
		subs := ch.callsFor(realtime.EventPresenceSubscribe)
		if len(subs) != 2 {
			t.Fatalf("subscribe calls = %d, want 2", len(subs))
		}
		if !reflect.DeepEqual(idsOf(subs[1]), []string{"C"}) {
			t.Fatalf("second subscribe = %v, want [C]", idsOf(subs[1]))
		}
		whos := ch.callsFor(realtime.EventPresenceWho)
		if len(whos) != 2 || !reflect.DeepEqual(idsOf(whos[1]), []string{"C"}) {
			t.Fatalf("who calls = %v, want second for [C] only", whos)
		}
		if sink.get("C") != model.PresenceOnline {
			t.Fatalf("C status = %q, want online from who merge", sink.get("C"))
		}
	})

	t.Run("UnchangedSetEmitsNothing", func(t *testing.T) {
		ch := newFakeChannel()
		m := NewPresenceManager(ch, newStatusSink().apply)
		m.SetWatched(ctx, []string{"A"})
		before := len(ch.callsFor(realtime.EventPresenceSubscribe))
		m.SetWatched(ctx, []string{"A"})
		after := len(ch.callsFor(realtime.EventPresenceSubscribe))
		if before != 1 || after != 1 {
			t.Fatalf("subscribe calls = %d then %d, want 1 and 1", before, after)
		}
	})

	t.Run("SnapshotThenUpdateLastWriteWins", func(t *testing.T) {
		ch := newFakeChannel()
		sink := newStatusSink()
		m := NewPresenceManager(ch, sink.apply)
		m.SetWatched(ctx, []string{"A", "B"})

		ch.push(t, realtime.EventPresenceSnapshot, []realtime.PresenceEntry{
			{UserID: "A", Status: model.PresenceOnline},
			{UserID: "B", Status: model.PresenceAway},
		})
		ch.push(t, realtime.EventPresenceUpdate, realtime.PresenceEntry{
			UserID: "A", Status: model.PresenceBusy,
		})

		if sink.get("A") != model.PresenceBusy {
			t.Fatalf("A = %q, want busy (update after snapshot wins)", sink.get("A"))
		}
		if sink.get("B") != model.PresenceAway {
			t.Fatalf("B = %q, want away", sink.get("B"))
		}
	})

	t.Run("CloseUnsubscribesAllAndDeregisters", func(t *testing.T) {
		ch := newFakeChannel()
		sink := newStatusSink()
		m := NewPresenceManager(ch, sink.apply)
		m.SetWatched(ctx, []string{"A", "B"})

		m.Close()

		unsubs := ch.callsFor(realtime.EventPresenceUnsubscribe)
		if len(unsubs) != 1 || !reflect.DeepEqual(idsOf(unsubs[0]), []string{"A", "B"}) {
			t.Fatalf("unsubscribe on close = %v, want [A B]", unsubs)
		}

		// Pushed updates after Close no longer reach the sink.
		ch.push(t, realtime.EventPresenceUpdate, realtime.PresenceEntry{
			UserID: "A", Status: model.PresenceOffline,
		})
		if sink.get("A") == model.PresenceOffline {
			t.Fatal("update applied after Close")
		}
	})
}
