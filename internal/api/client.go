// Package api is the REST client for the chat service. It covers the
// paginated list endpoints and the mutating calls; realtime traffic goes
// over the event channel instead.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/messenger/client-go/internal/logger"
	"github.com/messenger/client-go/internal/model"
)

// Client is a chat REST API client. Safe for concurrent use.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client for the given base URL. An empty timeout
// falls back to 15s.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Conversations fetches one page of the caller's conversations, most
// recently active first. cursor is empty for the first page.
func (c *Client) Conversations(ctx context.Context, limit int, cursor string) (model.Page[model.Conversation], error) {
	defer logger.DeferLogDuration("api.Conversations", time.Now())()
	var page model.Page[model.Conversation]
	q := pageQuery(limit, cursor)
	if err := c.doJSON(ctx, http.MethodGet, "/chat/conversations?"+q.Encode(), nil, &page); err != nil {
		return model.Page[model.Conversation]{}, fmt.Errorf("api.Conversations: %w", err)
	}
	return page, nil
}

type createConversationRequest struct {
	MemberID string `json:"memberId"`
}

// CreateConversation creates, or returns the existing, direct conversation
// between the caller and memberID.
func (c *Client) CreateConversation(ctx context.Context, memberID string) (model.Conversation, error) {
	defer logger.DeferLogDuration("api.CreateConversation", time.Now())()
	var conv model.Conversation
	body := createConversationRequest{MemberID: memberID}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/conversations", body, &conv); err != nil {
		return model.Conversation{}, fmt.Errorf("api.CreateConversation: %w", err)
	}
	return conv, nil
}

// Messages fetches one page of a conversation's messages, newest first.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int, cursor string) (model.Page[model.Message], error) {
	defer logger.DeferLogDuration("api.Messages", time.Now())()
	var page model.Page[model.Message]
	q := pageQuery(limit, cursor)
	q.Set("conversationId", conversationID)
	if err := c.doJSON(ctx, http.MethodGet, "/chat/messages?"+q.Encode(), nil, &page); err != nil {
		return model.Page[model.Message]{}, fmt.Errorf("api.Messages: %w", err)
	}
	return page, nil
}

// SendMessageRequest is the REST analogue of the channel send.
type SendMessageRequest struct {
	ConversationID string            `json:"conversationId"`
	Type           model.ContentType `json:"type,omitempty"`
	Content        string            `json:"content,omitempty"`
	FileURL        string            `json:"fileUrl,omitempty"`
	ClientMsgID    string            `json:"clientMsgId,omitempty"`
}

// SendMessage posts a message over REST. The server echoes ClientMsgID so
// the caller can reconcile an optimistic entry.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (model.Message, error) {
	defer logger.DeferLogDuration("api.SendMessage", time.Now())()
	var msg model.Message
	if err := c.doJSON(ctx, http.MethodPost, "/chat/messages", req, &msg); err != nil {
		return model.Message{}, fmt.Errorf("api.SendMessage: %w", err)
	}
	return msg, nil
}

// MarkRead marks one message as read by the caller.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	defer logger.DeferLogDuration("api.MarkRead", time.Now())()
	path := "/chat/messages/" + url.PathEscape(messageID) + "/read"
	if err := c.doJSON(ctx, http.MethodPatch, path, nil, nil); err != nil {
		return fmt.Errorf("api.MarkRead: %w", err)
	}
	return nil
}

// friendPage matches the friend list response, which names its rows "items".
type friendPage struct {
	Items      []model.Friend `json:"items"`
	NextCursor string         `json:"nextCursor"`
}

// Friends fetches one page of accepted friends.
func (c *Client) Friends(ctx context.Context, limit int, cursor string) (model.Page[model.Friend], error) {
	defer logger.DeferLogDuration("api.Friends", time.Now())()
	q := pageQuery(limit, cursor)
	q.Set("status", "accepted")
	var fp friendPage
	if err := c.doJSON(ctx, http.MethodGet, "/friend/list?"+q.Encode(), nil, &fp); err != nil {
		return model.Page[model.Friend]{}, fmt.Errorf("api.Friends: %w", err)
	}
	return model.Page[model.Friend]{Rows: fp.Items, NextCursor: fp.NextCursor}, nil
}

func pageQuery(limit int, cursor string) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return q
}

// doJSON performs a request with a JSON body and decodes a JSON response
// into out (skipped when out is nil). Non-2xx responses become *Error.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
