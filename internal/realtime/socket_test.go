package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer is a minimal echo-style server: it records the Authorization
// header, acks every acked frame through ackData, and lets tests inject
// frames toward the client.
type wsServer struct {
	t       *testing.T
	srv     *httptest.Server
	upgr    websocket.Upgrader
	ackData func(env envelope) any

	mu    sync.Mutex
	conns []*websocket.Conn
	auth  string
	recvd []envelope
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		t: t,
		ackData: func(envelope) any {
			return Ack{OK: true}
		},
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgr.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.auth = r.Header.Get("Authorization")
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		s.mu.Lock()
		s.recvd = append(s.recvd, env)
		ackFn := s.ackData
		s.mu.Unlock()

		if env.AckID != 0 {
			data, err := json.Marshal(ackFn(env))
			if err != nil {
				s.t.Errorf("marshal ack: %v", err)
				return
			}
			reply := envelope{Event: ackEvent, Data: data, AckID: env.AckID}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}
}

// inject sends a frame from the server to the most recent client.
func (s *wsServer) inject(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.t.Fatalf("marshal %s: %v", event, err)
	}
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	if err := conn.WriteJSON(envelope{Event: event, Data: data}); err != nil {
		s.t.Fatalf("inject %s: %v", event, err)
	}
}

func (s *wsServer) received() []envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]envelope(nil), s.recvd...)
}

func (s *wsServer) authHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

func (s *wsServer) close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	s.srv.Close()
}

func dialTest(t *testing.T, srv *wsServer, opts SocketOptions) *Socket {
	t.Helper()
	sock := NewSocket(srv.url(), "test-token", opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sock.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(sock.Close)
	return sock
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSocket(t *testing.T) {
	ctx := context.Background()

	t.Run("BearerTokenOnDial", func(t *testing.T) {
		srv := newWSServer(t)
		dialTest(t, srv, SocketOptions{})
		waitFor(t, func() bool { return srv.authHeader() != "" })
		if got := srv.authHeader(); got != "Bearer test-token" {
			t.Fatalf("Authorization = %q", got)
		}
	})

	t.Run("EmitAckCorrelates", func(t *testing.T) {
		srv := newWSServer(t)
		srv.ackData = func(env envelope) any {
			var p SendPayload
			if err := json.Unmarshal(env.Data, &p); err != nil {
				t.Errorf("decode send payload: %v", err)
			}
			return Ack{OK: true, ID: "srv-" + p.ClientMsgID}
		}
		sock := dialTest(t, srv, SocketOptions{})

		ack, err := sock.EmitAck(ctx, EventSendMessage, SendPayload{
			ConversationID: "c1", Content: "hi", ClientMsgID: "local-1",
		})
		if err != nil {
			t.Fatalf("EmitAck: %v", err)
		}
		if !ack.OK || ack.ID != "srv-local-1" {
			t.Fatalf("ack = %+v", ack)
		}
	})

	t.Run("ConcurrentAcksKeepTheirIDs", func(t *testing.T) {
		srv := newWSServer(t)
		srv.ackData = func(env envelope) any {
			var p JoinPayload
			_ = json.Unmarshal(env.Data, &p)
			return Ack{OK: true, ID: p.ConversationID}
		}
		sock := dialTest(t, srv, SocketOptions{})

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			conv := string(rune('a' + i))
			wg.Add(1)
			go func() {
				defer wg.Done()
				ack, err := sock.EmitAck(ctx, EventJoin, JoinPayload{ConversationID: conv})
				if err != nil {
					errs <- err
					return
				}
				if ack.ID != conv {
					errs <- errors.New("ack answered a different request: " + ack.ID + " != " + conv)
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatal(err)
		}
	})

	t.Run("DispatchAndOff", func(t *testing.T) {
		srv := newWSServer(t)
		sock := dialTest(t, srv, SocketOptions{})

		var mu sync.Mutex
		var got []string
		off := sock.On(EventTyping, func(data json.RawMessage) {
			var ev TypingEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				t.Errorf("decode typing: %v", err)
				return
			}
			mu.Lock()
			got = append(got, ev.UserID)
			mu.Unlock()
		})

		srv.inject(EventTyping, TypingEvent{ConversationID: "c1", UserID: "u1", IsTyping: true})
		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 1
		})

		off()
		// A frame after deregistration must not reach the handler. Emit a
		// follow-up acked frame as a barrier so the silent one was surely read.
		srv.inject(EventTyping, TypingEvent{ConversationID: "c1", UserID: "u2", IsTyping: true})
		if _, err := sock.EmitAck(ctx, EventReadMessage, ReadPayload{MessageID: "m1"}); err != nil {
			t.Fatalf("barrier EmitAck: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if len(got) != 1 || got[0] != "u1" {
			t.Fatalf("handler calls = %v, want just u1", got)
		}
	})

	t.Run("EmitBeforeConnect", func(t *testing.T) {
		sock := NewSocket("ws://127.0.0.1:0", "", SocketOptions{})
		if err := sock.Emit(EventTypingStart, TypingPayload{ConversationID: "c1"}); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("err = %v, want ErrNotConnected", err)
		}
	})

	t.Run("CloseFailsPendingAcks", func(t *testing.T) {
		srv := newWSServer(t)
		block := make(chan struct{})
		srv.ackData = func(envelope) any {
			<-block
			return Ack{OK: true}
		}
		defer close(block)
		sock := dialTest(t, srv, SocketOptions{AckTimeout: 30 * time.Second})

		done := make(chan error, 1)
		go func() {
			_, err := sock.EmitAck(ctx, EventJoin, JoinPayload{ConversationID: "c1"})
			done <- err
		}()
		waitFor(t, func() bool { return len(srv.received()) == 1 })

		sock.Close()
		select {
		case err := <-done:
			if !errors.Is(err, ErrAckLost) && !errors.Is(err, ErrClosed) {
				t.Fatalf("err = %v, want ack failure on close", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("EmitAck still blocked after Close")
		}

		if err := sock.Emit(EventLeave, LeavePayload{ConversationID: "c1"}); !errors.Is(err, ErrClosed) {
			t.Fatalf("Emit after Close = %v, want ErrClosed", err)
		}
	})
}
