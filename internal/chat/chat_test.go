package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/messenger/client-go/internal/model"
	"github.com/messenger/client-go/internal/realtime"
)

// emitCall records one outbound emit on the fake channel.
type emitCall struct {
	Event   string
	Payload any
	Acked   bool
}

// fakeChannel implements realtime.Channel for tests: it records every
// emit, answers acks via a configurable function, and lets tests push
// inbound events to registered handlers.
type fakeChannel struct {
	mu       sync.Mutex
	calls    []emitCall
	ackFn    func(event string, payload any) (realtime.Ack, error)
	handlers map[string]map[int]realtime.Handler
	nextOff  int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		ackFn: func(string, any) (realtime.Ack, error) {
			return realtime.Ack{OK: true}, nil
		},
		handlers: make(map[string]map[int]realtime.Handler),
	}
}

func (f *fakeChannel) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, emitCall{Event: event, Payload: payload})
	return nil
}

func (f *fakeChannel) EmitAck(_ context.Context, event string, payload any) (realtime.Ack, error) {
	f.mu.Lock()
	f.calls = append(f.calls, emitCall{Event: event, Payload: payload, Acked: true})
	fn := f.ackFn
	f.mu.Unlock()
	return fn(event, payload)
}

func (f *fakeChannel) On(event string, h realtime.Handler) (off func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]realtime.Handler)
	}
	f.nextOff++
	id := f.nextOff
	f.handlers[event][id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

// push delivers an inbound event to every registered handler.
func (f *fakeChannel) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	f.mu.Lock()
	hs := make([]realtime.Handler, 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

// callsFor returns the recorded emits for one event name.
func (f *fakeChannel) callsFor(event string) []emitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitCall
	for _, c := range f.calls {
		if c.Event == event {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeChannel) setAckFn(fn func(event string, payload any) (realtime.Ack, error)) {
	f.mu.Lock()
	f.ackFn = fn
	f.mu.Unlock()
}

// fakeAPI implements the API interface against in-memory fixtures.
type fakeAPI struct {
	mu            sync.Mutex
	conversations func(ctx context.Context, limit int, cursor string) (model.Page[model.Conversation], error)
	friends       func(ctx context.Context, limit int, cursor string) (model.Page[model.Friend], error)
	messages      func(ctx context.Context, conversationID string, limit int, cursor string) (model.Page[model.Message], error)
	created       []string
	createResult  func(memberID string) (model.Conversation, error)
}

func (f *fakeAPI) Conversations(ctx context.Context, limit int, cursor string) (model.Page[model.Conversation], error) {
	if f.conversations == nil {
		return model.Page[model.Conversation]{}, nil
	}
	return f.conversations(ctx, limit, cursor)
}

func (f *fakeAPI) Friends(ctx context.Context, limit int, cursor string) (model.Page[model.Friend], error) {
	if f.friends == nil {
		return model.Page[model.Friend]{}, nil
	}
	return f.friends(ctx, limit, cursor)
}

func (f *fakeAPI) Messages(ctx context.Context, conversationID string, limit int, cursor string) (model.Page[model.Message], error) {
	if f.messages == nil {
		return model.Page[model.Message]{}, nil
	}
	return f.messages(ctx, conversationID, limit, cursor)
}

func (f *fakeAPI) CreateConversation(_ context.Context, memberID string) (model.Conversation, error) {
	f.mu.Lock()
	f.created = append(f.created, memberID)
	fn := f.createResult
	f.mu.Unlock()
	if fn == nil {
		return model.Conversation{ID: "c0ffee0000000000000000aa", Kind: model.ConversationSingle}, nil
	}
	return fn(memberID)
}

func (f *fakeAPI) createdWith() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}
