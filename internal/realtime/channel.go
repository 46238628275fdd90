// Package realtime is the client side of the chat event channel: the
// event vocabulary, the channel contract the sync engine consumes, and a
// websocket transport implementing it.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/messenger/client-go/internal/model"
)

// Handler receives the raw payload of one inbound event.
type Handler func(payload json.RawMessage)

// Channel is the bidirectional event channel contract. Implementations
// must deliver events for one conversation in server order; cross
// conversation ordering is not guaranteed.
//
// On returns the deregistration func for the handler it installed, so
// every registration path has a matching teardown path and re-activation
// cannot cause duplicate delivery.
type Channel interface {
	Emit(event string, payload any) error
	EmitAck(ctx context.Context, event string, payload any) (Ack, error)
	On(event string, h Handler) (off func())
}

// JoinConversation joins the room for a conversation and waits for the ack.
func JoinConversation(ctx context.Context, ch Channel, conversationID string) error {
	ack, err := ch.EmitAck(ctx, EventJoin, JoinPayload{ConversationID: conversationID})
	if err != nil {
		return fmt.Errorf("realtime.JoinConversation: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("realtime.JoinConversation: %s", ackError(ack))
	}
	return nil
}

// LeaveConversation leaves the room. Fire-and-forget: the server treats a
// leave as an implicit typing stop for the peer.
func LeaveConversation(ch Channel, conversationID string) {
	// A failed leave is harmless; the server drops dead room entries.
	_ = ch.Emit(EventLeave, LeavePayload{ConversationID: conversationID})
}

// SendMessage sends a message over the channel and returns the
// server-assigned message id from the ack.
func SendMessage(ctx context.Context, ch Channel, p SendPayload) (string, error) {
	ack, err := ch.EmitAck(ctx, EventSendMessage, p)
	if err != nil {
		return "", fmt.Errorf("realtime.SendMessage: %w", err)
	}
	if !ack.OK {
		return "", fmt.Errorf("realtime.SendMessage: %s", ackError(ack))
	}
	return ack.ID, nil
}

// ReadMessage reports a message as read and waits for the ack.
func ReadMessage(ctx context.Context, ch Channel, messageID string) error {
	ack, err := ch.EmitAck(ctx, EventReadMessage, ReadPayload{MessageID: messageID})
	if err != nil {
		return fmt.Errorf("realtime.ReadMessage: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("realtime.ReadMessage: %s", ackError(ack))
	}
	return nil
}

// StartTyping signals typing in a conversation. Fire-and-forget.
func StartTyping(ch Channel, conversationID string) {
	_ = ch.Emit(EventTypingStart, TypingPayload{ConversationID: conversationID})
}

// StopTyping signals the end of typing. Fire-and-forget.
func StopTyping(ch Channel, conversationID string) {
	_ = ch.Emit(EventTypingStop, TypingPayload{ConversationID: conversationID})
}

// PresenceSubscribe starts receiving presence updates for the ids.
func PresenceSubscribe(ch Channel, userIDs []string) {
	_ = ch.Emit(EventPresenceSubscribe, PresenceIDsPayload{UserIDs: userIDs})
}

// PresenceUnsubscribe stops receiving presence updates for the ids.
func PresenceUnsubscribe(ch Channel, userIDs []string) {
	_ = ch.Emit(EventPresenceUnsubscribe, PresenceIDsPayload{UserIDs: userIDs})
}

// PresenceWho queries the current status of the given ids.
func PresenceWho(ctx context.Context, ch Channel, userIDs []string) (map[string]model.PresenceStatus, error) {
	ack, err := ch.EmitAck(ctx, EventPresenceWho, PresenceIDsPayload{UserIDs: userIDs})
	if err != nil {
		return nil, fmt.Errorf("realtime.PresenceWho: %w", err)
	}
	if !ack.OK {
		return nil, fmt.Errorf("realtime.PresenceWho: %s", ackError(ack))
	}
	return ack.Statuses, nil
}

func ackError(ack Ack) string {
	if ack.Error != "" {
		return ack.Error
	}
	return "rejected"
}
