package model

import "time"

type ContentType string

const (
	ContentTypeText   ContentType = "text"
	ContentTypeImage  ContentType = "image"
	ContentTypeFile   ContentType = "file"
	ContentTypeSystem ContentType = "system"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Message is one entry in a conversation's message list.
//
// While a send is outstanding the entry carries only ClientMsgID; once the
// server acknowledges, ID is filled in and the entry is addressed by it.
// The two identities never coexist as separate visible entries.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Type           ContentType   `json:"type"`
	Content        string        `json:"content"`
	FileURL        string        `json:"fileUrl,omitempty"`
	ClientMsgID    string        `json:"clientMsgId,omitempty"`
	Status         MessageStatus `json:"status"`
	ReadBy         []string      `json:"readBy,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	Mine           bool          `json:"-"`
}

// Pending reports whether the message is still awaiting server confirmation.
func (m *Message) Pending() bool {
	return m.ID == "" && m.ClientMsgID != ""
}
