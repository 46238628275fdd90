package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/messenger/client-go/internal/logger"
	"github.com/messenger/client-go/internal/model"
	"github.com/messenger/client-go/internal/realtime"
)

// ErrNoActiveConversation is returned by operations that need a selected
// conversation.
var ErrNoActiveConversation = errors.New("chat: no active conversation")

// MessageAPI is the slice of the REST client the message stream needs.
type MessageAPI interface {
	Messages(ctx context.Context, conversationID string, limit int, cursor string) (model.Page[model.Message], error)
}

// MessageStream is the single source of truth for the active
// conversation's message list. It reconciles four inputs: paginated
// history loads, optimistic local sends, server acknowledgments, and
// events pushed by other clients.
//
// Identity rule: a message is unique by server id; while a send is
// outstanding it is tracked by its correlation id instead, and the two
// representations are never visible at once. When an inbound event could
// match both, the server id wins (checked first).
type MessageStream struct {
	api    MessageAPI
	ch     realtime.Channel
	selfID string
	limit  int

	mu             sync.Mutex
	conversationID string
	pager          *Pager[model.Message]
	view           []model.Message
	pending        map[string]struct{}
	offs           []func()
	onChange       func()
}

func NewMessageStream(api MessageAPI, ch realtime.Channel, selfID string, limit int) *MessageStream {
	s := &MessageStream{
		api:     api,
		ch:      ch,
		selfID:  selfID,
		limit:   limit,
		pending: make(map[string]struct{}),
	}
	s.offs = []func(){
		ch.On(realtime.EventNewMessage, s.onNewMessage),
		ch.On(realtime.EventMessageReadBy, s.onReadBy),
	}
	return s
}

// SetOnChange installs a callback invoked after every visible mutation of
// the list. Used by the UI to re-render.
func (s *MessageStream) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Activate clears the list and loads the most recent history page for
// conversationID. A page that resolves after the stream moved to another
// conversation is discarded.
func (s *MessageStream) Activate(ctx context.Context, conversationID string) error {
	convID := conversationID
	pager := NewPager(func(ctx context.Context, limit int, cursor string) (model.Page[model.Message], error) {
		return s.api.Messages(ctx, convID, limit, cursor)
	}, s.limit)

	s.mu.Lock()
	s.conversationID = convID
	s.pager = pager
	s.view = nil
	s.pending = make(map[string]struct{})
	s.mu.Unlock()
	s.notify()

	rows, err := pager.LoadFirst(ctx)

	s.mu.Lock()
	if s.pager != pager {
		// Switched away while loading; the page is stale.
		s.mu.Unlock()
		logger.Debugf("messages: stale history page for %s", convID)
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	// The API returns newest first; display order is ascending.
	s.view = reverseMessages(rows)
	s.markMine(s.view)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Deactivate clears the stream. Pending sends are left to fail their own
// way; their completions find nothing to update.
func (s *MessageStream) Deactivate() {
	s.mu.Lock()
	s.conversationID = ""
	s.pager = nil
	s.view = nil
	s.pending = make(map[string]struct{})
	s.mu.Unlock()
	s.notify()
}

// LoadMore fetches the next-older page and prepends it. No-op while a
// load is in flight or once the history is exhausted.
func (s *MessageStream) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	pager := s.pager
	s.mu.Unlock()
	if pager == nil {
		return ErrNoActiveConversation
	}

	rows, err := pager.LoadMore(ctx)
	if errors.Is(err, ErrBusy) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.pager != pager {
		s.mu.Unlock()
		return nil
	}
	older := reverseMessages(rows)
	s.markMine(older)
	s.view = append(older, s.view...)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Send appends an optimistic entry and sends the message over the
// channel. On ack the entry is confirmed in place; on failure it is
// removed so a failed send is never left visible. Content that is empty
// after trimming is a silent no-op.
func (s *MessageStream) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	s.mu.Lock()
	convID := s.conversationID
	if convID == "" {
		s.mu.Unlock()
		return ErrNoActiveConversation
	}
	clientID := uuid.NewString()
	optimistic := model.Message{
		ConversationID: convID,
		SenderID:       s.selfID,
		Type:           model.ContentTypeText,
		Content:        content,
		ClientMsgID:    clientID,
		Status:         model.MessageStatusSent,
		CreatedAt:      time.Now().UTC(),
		Mine:           true,
	}
	s.view = append(s.view, optimistic)
	s.pending[clientID] = struct{}{}
	s.mu.Unlock()
	s.notify()

	serverID, err := realtime.SendMessage(ctx, s.ch, realtime.SendPayload{
		ConversationID: convID,
		Type:           model.ContentTypeText,
		Content:        content,
		ClientMsgID:    clientID,
	})

	s.mu.Lock()
	delete(s.pending, clientID)
	if err != nil {
		s.removeByClientIDLocked(clientID)
		s.mu.Unlock()
		s.notify()
		return err
	}
	s.confirmLocked(clientID, serverID)
	s.mu.Unlock()
	s.notify()
	return nil
}

// MarkRead reports a message in the active conversation as read.
func (s *MessageStream) MarkRead(ctx context.Context, messageID string) error {
	return realtime.ReadMessage(ctx, s.ch, messageID)
}

// Messages returns a copy of the visible list, ascending by creation time.
func (s *MessageStream) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.view...)
}

// HasMore reports whether older history may exist.
func (s *MessageStream) HasMore() bool {
	s.mu.Lock()
	pager := s.pager
	s.mu.Unlock()
	return pager != nil && pager.HasMore()
}

// Close deregisters the push handlers.
func (s *MessageStream) Close() {
	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	s.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// onNewMessage merges a pushed message. Events for other conversations
// are ignored here; the session updates their summaries. Duplicates by
// server id, then by a tracked correlation id, are dropped or folded into
// the optimistic entry they confirm.
func (s *MessageStream) onNewMessage(payload json.RawMessage) {
	var m model.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		logger.Errorf("messages: decode new message: %v", err)
		return
	}

	s.mu.Lock()
	if m.ConversationID != s.conversationID || s.conversationID == "" {
		s.mu.Unlock()
		return
	}
	for _, existing := range s.view {
		if existing.ID != "" && existing.ID == m.ID {
			s.mu.Unlock()
			return
		}
	}
	m.Mine = m.SenderID == s.selfID
	if m.ClientMsgID != "" {
		if _, tracked := s.pending[m.ClientMsgID]; tracked {
			// The push beat the send ack: confirm the optimistic entry in
			// place and let the ack find it already resolved.
			for i := range s.view {
				if s.view[i].ClientMsgID == m.ClientMsgID && s.view[i].Pending() {
					s.view[i] = m
					s.view[i].Mine = true
					if s.view[i].Status == model.MessageStatusSent {
						s.view[i].Status = model.MessageStatusDelivered
					}
					s.mu.Unlock()
					s.notify()
					return
				}
			}
			s.mu.Unlock()
			return
		}
	}
	// Channel delivers one conversation's events in creation order, so
	// appending keeps the list sorted.
	s.view = append(s.view, m)
	s.mu.Unlock()
	s.notify()
}

// onReadBy flips the referenced message to read when someone other than
// its sender read it. Pure status transition, no reconciliation.
func (s *MessageStream) onReadBy(payload json.RawMessage) {
	var ev realtime.ReadByEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Errorf("messages: decode readBy: %v", err)
		return
	}

	s.mu.Lock()
	changed := false
	for i := range s.view {
		if s.view[i].ID != ev.MessageID {
			continue
		}
		if ev.UserID != s.view[i].SenderID {
			s.view[i].Status = model.MessageStatusRead
			if !containsString(s.view[i].ReadBy, ev.UserID) {
				s.view[i].ReadBy = append(s.view[i].ReadBy, ev.UserID)
			}
			changed = true
		}
		break
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *MessageStream) confirmLocked(clientID, serverID string) {
	for i := range s.view {
		if s.view[i].ClientMsgID == clientID && s.view[i].Pending() {
			s.view[i].ID = serverID
			s.view[i].Status = model.MessageStatusDelivered
			return
		}
	}
	// Already confirmed by the push event, or the conversation switched.
}

func (s *MessageStream) removeByClientIDLocked(clientID string) {
	for i := range s.view {
		// Only the still-pending entry rolls back; if a push event already
		// confirmed it, the message exists server-side despite the ack error.
		if s.view[i].ClientMsgID == clientID && s.view[i].Pending() {
			s.view = append(s.view[:i], s.view[i+1:]...)
			return
		}
	}
}

func (s *MessageStream) markMine(msgs []model.Message) {
	for i := range msgs {
		msgs[i].Mine = msgs[i].SenderID == s.selfID
	}
}

func (s *MessageStream) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func reverseMessages(rows []model.Message) []model.Message {
	out := make([]model.Message, len(rows))
	for i, m := range rows {
		out[len(rows)-1-i] = m
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
