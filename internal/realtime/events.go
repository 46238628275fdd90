package realtime

import (
	"time"

	"github.com/messenger/client-go/internal/model"
)

// Event names on the chat channel. Outbound names are emitted by this
// client; inbound names are pushed by the server.
const (
	// Outbound, acknowledged
	EventJoin        = "join"
	EventSendMessage = "msg:send"
	EventReadMessage = "message:read"
	EventPresenceWho = "presence:who"

	// Outbound, fire-and-forget
	EventLeave               = "leave"
	EventTypingStart         = "typing:start"
	EventTypingStop          = "typing:stop"
	EventPresenceSubscribe   = "presence:subscribe"
	EventPresenceUnsubscribe = "presence:unsubscribe"

	// Inbound
	EventNewMessage       = "msg:new"
	EventMessageReadBy    = "message:readBy"
	EventTyping           = "typing"
	EventPresenceSnapshot = "presence:snapshot"
	EventPresenceUpdate   = "presence:update"
)

// --- Outbound payloads ---

type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

type LeavePayload struct {
	ConversationID string `json:"conversationId"`
}

type SendPayload struct {
	ConversationID string            `json:"conversationId"`
	Type           model.ContentType `json:"type,omitempty"`
	Content        string            `json:"content,omitempty"`
	FileURL        string            `json:"fileUrl,omitempty"`
	ClientMsgID    string            `json:"clientMsgId,omitempty"`
}

type ReadPayload struct {
	MessageID string `json:"messageId"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
}

type PresenceIDsPayload struct {
	UserIDs []string `json:"userIds"`
}

// --- Inbound payloads ---

// NewMessageEvent carries the full message pushed to every room member.
type NewMessageEvent = model.Message

// ReadByEvent is pushed when a member reads a message.
type ReadByEvent struct {
	MessageID      string   `json:"messageId"`
	UserID         string   `json:"userId"`
	ReadBy         []string `json:"readBy"`
	ConversationID string   `json:"conversationId"`
}

// TypingEvent is pushed while another member is typing.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// PresenceEntry is one user's presence, used both in snapshots and
// incremental updates.
type PresenceEntry struct {
	UserID     string               `json:"userId"`
	Status     model.PresenceStatus `json:"status"`
	LastOnline *time.Time           `json:"lastOnline,omitempty"`
}

// Ack is the acknowledgment returned by the server for acked emits.
// Only the fields relevant to the acked event are set: ID for msg:send,
// Statuses for presence:who.
type Ack struct {
	OK       bool                            `json:"ok"`
	ID       string                          `json:"id,omitempty"`
	Error    string                          `json:"error,omitempty"`
	Statuses map[string]model.PresenceStatus `json:"statuses,omitempty"`
}
