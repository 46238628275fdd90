package chat

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/messenger/client-go/internal/logger"
	"github.com/messenger/client-go/internal/model"
	"github.com/messenger/client-go/internal/realtime"
)

// PresenceApply writes one user's presence into whatever holds the friend
// entries. Implementations must ignore ids they do not know; presence is
// never invented locally.
type PresenceApply func(userID string, status model.PresenceStatus, lastSeen *time.Time)

// PresenceManager tracks which friend ids are being watched, diffs the
// set on change, and keeps the subscriptions on the channel symmetric
// with it. Pushed snapshots and incremental updates are applied in
// arrival order (last write wins; no timestamp comparison).
type PresenceManager struct {
	ch    realtime.Channel
	apply PresenceApply

	mu      sync.Mutex
	watched map[string]struct{}
	offs    []func()
	closed  bool
}

func NewPresenceManager(ch realtime.Channel, apply PresenceApply) *PresenceManager {
	m := &PresenceManager{
		ch:      ch,
		apply:   apply,
		watched: make(map[string]struct{}),
	}
	m.offs = []func(){
		ch.On(realtime.EventPresenceSnapshot, m.onSnapshot),
		ch.On(realtime.EventPresenceUpdate, m.onUpdate),
	}
	return m
}

// SetWatched moves the watched set to desired: unsubscribes the ids that
// left, subscribes the ids that entered, and seeds the newcomers' status
// with a one-shot who query.
func (m *PresenceManager) SetWatched(ctx context.Context, desired []string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	next := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		next[id] = struct{}{}
	}
	var added, removed []string
	for id := range next {
		if _, ok := m.watched[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range m.watched {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	m.watched = next
	m.mu.Unlock()

	sort.Strings(added)
	sort.Strings(removed)

	if len(removed) > 0 {
		realtime.PresenceUnsubscribe(m.ch, removed)
	}
	if len(added) == 0 {
		return
	}
	realtime.PresenceSubscribe(m.ch, added)

	statuses, err := realtime.PresenceWho(ctx, m.ch, added)
	if err != nil {
		// Transient: the subscription still delivers updates from here on.
		logger.Errorf("presence: who: %v", err)
		return
	}
	for id, status := range statuses {
		m.apply(id, status, nil)
	}
}

// Watched returns the currently watched ids, sorted.
func (m *PresenceManager) Watched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.watched))
	for id := range m.watched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close unsubscribes the entire watched set and deregisters the push
// handlers. The manager is unusable afterwards.
func (m *PresenceManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	var all []string
	for id := range m.watched {
		all = append(all, id)
	}
	m.watched = make(map[string]struct{})
	offs := m.offs
	m.offs = nil
	m.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if len(all) > 0 {
		sort.Strings(all)
		realtime.PresenceUnsubscribe(m.ch, all)
	}
}

func (m *PresenceManager) onSnapshot(payload json.RawMessage) {
	var entries []realtime.PresenceEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		logger.Errorf("presence: decode snapshot: %v", err)
		return
	}
	for _, e := range entries {
		m.apply(e.UserID, e.Status, e.LastOnline)
	}
}

func (m *PresenceManager) onUpdate(payload json.RawMessage) {
	var e realtime.PresenceEntry
	if err := json.Unmarshal(payload, &e); err != nil {
		logger.Errorf("presence: decode update: %v", err)
		return
	}
	m.apply(e.UserID, e.Status, e.LastOnline)
}
