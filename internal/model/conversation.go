package model

import "time"

type ConversationKind string

const (
	ConversationSingle ConversationKind = "single"
	ConversationGroup  ConversationKind = "group"
)

type Conversation struct {
	ID          string           `json:"id"`
	Kind        ConversationKind `json:"type"`
	Name        string           `json:"name,omitempty"`
	Members     []Member         `json:"members"`
	LastMessage *LastMessage     `json:"lastMessage,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

type Member struct {
	UserID   string    `json:"userId"`
	Role     string    `json:"role,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

// LastMessage is the summary shown in the conversation list.
type LastMessage struct {
	MessageID string    `json:"messageId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Group is the lighter display shape derived from group conversations.
type Group struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MemberCount  int       `json:"memberCount"`
	LastMessage  string    `json:"lastMessage,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
}

// DisplayName returns the conversation name, falling back to the kind.
func (c *Conversation) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Kind == ConversationGroup {
		return "group"
	}
	return "conversation"
}

// HasMember reports whether userID is in the member set.
func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// IsConversationID reports whether s is a syntactically valid conversation
// id (a 24-character hex string).
func IsConversationID(s string) bool {
	if len(s) != 24 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' {
			continue
		}
		return false
	}
	return true
}
