package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/messenger/client-go/internal/logger"
	"github.com/messenger/client-go/internal/model"
	"github.com/messenger/client-go/internal/realtime"
)

// API is the REST surface the session consumes.
type API interface {
	MessageAPI
	Conversations(ctx context.Context, limit int, cursor string) (model.Page[model.Conversation], error)
	CreateConversation(ctx context.Context, memberID string) (model.Conversation, error)
	Friends(ctx context.Context, limit int, cursor string) (model.Page[model.Friend], error)
}

// SessionOptions tune one chat session.
type SessionOptions struct {
	ConversationPageSize int
	MessagePageSize      int
	FriendPageSize       int
	TypingDebounce       time.Duration
}

// Session composes the engine for one signed-in user: it owns the
// conversation and friend lists, the derived groups view and the active
// selection, and routes selection changes into the room controller and
// the message stream.
type Session struct {
	api    API
	ch     realtime.Channel
	selfID string

	convPager   *Pager[model.Conversation]
	friendPager *Pager[model.Friend]
	presence    *PresenceManager
	typing      *TypingCoordinator
	room        *RoomController
	stream      *MessageStream

	mu          sync.Mutex
	activeID    string
	typingUsers map[string]struct{}
	offs        []func()
	onChange    func()
}

func NewSession(api API, ch realtime.Channel, selfID string, opts SessionOptions) *Session {
	if opts.ConversationPageSize <= 0 {
		opts.ConversationPageSize = 20
	}
	if opts.MessagePageSize <= 0 {
		opts.MessagePageSize = 50
	}
	if opts.FriendPageSize <= 0 {
		opts.FriendPageSize = 50
	}

	s := &Session{
		api:         api,
		ch:          ch,
		selfID:      selfID,
		room:        NewRoomController(ch),
		typing:      NewTypingCoordinator(ch, opts.TypingDebounce),
		stream:      NewMessageStream(api, ch, selfID, opts.MessagePageSize),
		typingUsers: make(map[string]struct{}),
	}
	s.convPager = NewPager(api.Conversations, opts.ConversationPageSize)
	s.friendPager = NewPager(api.Friends, opts.FriendPageSize)
	s.presence = NewPresenceManager(ch, s.applyPresence)
	s.offs = []func(){
		ch.On(realtime.EventNewMessage, s.onNewMessage),
		ch.On(realtime.EventTyping, s.onTyping),
	}
	return s
}

// SetOnChange installs a callback invoked after list or selection
// changes. The message stream has its own callback.
func (s *Session) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Stream exposes the message stream for the active conversation.
func (s *Session) Stream() *MessageStream { return s.stream }

// LoadConversations fetches the first conversation page.
func (s *Session) LoadConversations(ctx context.Context) error {
	_, err := s.convPager.LoadFirst(ctx)
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// LoadMoreConversations fetches the next conversation page, if any.
func (s *Session) LoadMoreConversations(ctx context.Context) error {
	rows, err := s.convPager.LoadMore(ctx)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		s.notify()
	}
	return nil
}

// LoadFriends fetches the first friend page and points the presence
// manager at the loaded ids.
func (s *Session) LoadFriends(ctx context.Context) error {
	_, err := s.friendPager.LoadFirst(ctx)
	if err != nil {
		return err
	}
	s.watchFriends(ctx)
	s.notify()
	return nil
}

// LoadMoreFriends fetches the next friend page and extends the watched
// presence set.
func (s *Session) LoadMoreFriends(ctx context.Context) error {
	rows, err := s.friendPager.LoadMore(ctx)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		s.watchFriends(ctx)
		s.notify()
	}
	return nil
}

// Conversations returns the loaded conversation list.
func (s *Session) Conversations() []model.Conversation {
	return s.convPager.Rows()
}

// Friends returns the loaded friend list with current presence.
func (s *Session) Friends() []model.Friend {
	return s.friendPager.Rows()
}

// Groups derives the lighter display shape from group conversations.
func (s *Session) Groups() []model.Group {
	var groups []model.Group
	for _, c := range s.convPager.Rows() {
		if c.Kind != model.ConversationGroup {
			continue
		}
		g := model.Group{
			ID:           c.ID,
			Name:         c.DisplayName(),
			MemberCount:  len(c.Members),
			LastActivity: c.UpdatedAt,
		}
		if c.LastMessage != nil {
			g.LastMessage = c.LastMessage.Content
			g.LastActivity = c.LastMessage.CreatedAt
		}
		groups = append(groups, g)
	}
	return groups
}

// ActiveConversation returns the active conversation id, empty when none.
func (s *Session) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SelectFriend activates the direct conversation with a friend, asking
// the server to create or return it when none is loaded yet. The result
// is inserted into the conversation list only if it is not already there.
func (s *Session) SelectFriend(ctx context.Context, friendID string) error {
	for _, c := range s.convPager.Rows() {
		if c.Kind == model.ConversationSingle && c.HasMember(friendID) {
			return s.activate(ctx, c.ID)
		}
	}

	conv, err := s.api.CreateConversation(ctx, friendID)
	if err != nil {
		return err
	}
	s.convPager.Update(func(rows []model.Conversation) []model.Conversation {
		for _, c := range rows {
			if c.ID == conv.ID {
				return rows
			}
		}
		return append([]model.Conversation{conv}, rows...)
	})
	s.notify()
	return s.activate(ctx, conv.ID)
}

// SelectGroup activates a group conversation. A malformed id is rejected
// silently: no selection change, no error.
func (s *Session) SelectGroup(ctx context.Context, conversationID string) error {
	if !model.IsConversationID(conversationID) {
		logger.Debugf("session: ignoring invalid conversation id %q", conversationID)
		return nil
	}
	return s.activate(ctx, conversationID)
}

// ClearSelection deactivates the current conversation, if any.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.activeID = ""
	s.typingUsers = make(map[string]struct{})
	s.mu.Unlock()

	s.room.Deactivate()
	s.stream.Deactivate()
	s.typing.SetConversation("")
	s.notify()
}

// SendMessage sends into the active conversation.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	return s.stream.Send(ctx, content)
}

// TypingActivity records local typing for the active conversation.
func (s *Session) TypingActivity() {
	s.typing.Activity()
}

// TypingUsers returns the ids currently typing in the active conversation.
func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.typingUsers))
	for id := range s.typingUsers {
		ids = append(ids, id)
	}
	return ids
}

// Close tears the session down: handlers deregistered, presence
// unsubscribed, timers cancelled, room left.
func (s *Session) Close() {
	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	s.mu.Unlock()
	for _, off := range offs {
		off()
	}
	s.room.Deactivate()
	s.stream.Close()
	s.typing.Close()
	s.presence.Close()
}

// activate switches the selection: the room membership moves first, then
// the message stream reloads. Presence and typing key off friend ids and
// the active id respectively and are not reset here.
func (s *Session) activate(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	already := s.activeID == conversationID
	s.activeID = conversationID
	if !already {
		s.typingUsers = make(map[string]struct{})
	}
	s.mu.Unlock()

	if err := s.room.Activate(ctx, conversationID); err != nil {
		// Push events will be missing until a rejoin; history is still
		// worth showing, and reselecting retries the join.
		logger.Errorf("session: join %s: %v", conversationID, err)
	}
	if err := s.stream.Activate(ctx, conversationID); err != nil {
		return err
	}
	s.typing.SetConversation(conversationID)
	s.notify()
	return nil
}

// watchFriends points the presence manager at every loaded friend id.
func (s *Session) watchFriends(ctx context.Context) {
	friends := s.friendPager.Rows()
	ids := make([]string, 0, len(friends))
	for _, f := range friends {
		ids = append(ids, f.FriendID)
	}
	s.presence.SetWatched(ctx, ids)
}

// applyPresence merges one user's status into the matching friend entry.
// Unknown ids are ignored; presence is never invented locally.
func (s *Session) applyPresence(userID string, status model.PresenceStatus, lastSeen *time.Time) {
	changed := false
	s.friendPager.Update(func(rows []model.Friend) []model.Friend {
		for i := range rows {
			if rows[i].FriendID == userID {
				rows[i].Presence = status
				if lastSeen != nil {
					rows[i].LastSeen = lastSeen
				}
				changed = true
			}
		}
		return rows
	})
	if changed {
		s.notify()
	}
}

// onNewMessage refreshes the last-message summary of the owning
// conversation and bubbles it to the top of the list. The active
// conversation's message list itself is the stream's concern.
func (s *Session) onNewMessage(payload json.RawMessage) {
	var m model.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		logger.Errorf("session: decode new message: %v", err)
		return
	}

	updated := false
	s.convPager.Update(func(rows []model.Conversation) []model.Conversation {
		for i := range rows {
			if rows[i].ID != m.ConversationID {
				continue
			}
			rows[i].LastMessage = &model.LastMessage{
				MessageID: m.ID,
				SenderID:  m.SenderID,
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			}
			rows[i].UpdatedAt = m.CreatedAt
			if i > 0 {
				c := rows[i]
				copy(rows[1:i+1], rows[0:i])
				rows[0] = c
			}
			updated = true
			return rows
		}
		return rows
	})
	if updated {
		s.notify()
	}
}

// onTyping tracks who is typing in the active conversation.
func (s *Session) onTyping(payload json.RawMessage) {
	var ev realtime.TypingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Errorf("session: decode typing: %v", err)
		return
	}

	s.mu.Lock()
	if ev.ConversationID != s.activeID || ev.UserID == s.selfID {
		s.mu.Unlock()
		return
	}
	if ev.IsTyping {
		s.typingUsers[ev.UserID] = struct{}{}
	} else {
		delete(s.typingUsers, ev.UserID)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
