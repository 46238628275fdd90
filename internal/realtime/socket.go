package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/messenger/client-go/internal/logger"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultAckWait    = 10 * time.Second
	defaultSendBuf    = 256
	maxMessageSize    = 1 << 20
	reconnectBaseWait = time.Second
	reconnectMaxWait  = 30 * time.Second
)

var (
	// ErrClosed is returned after Close; the socket never reconnects.
	ErrClosed = errors.New("realtime: socket closed")
	// ErrNotConnected is returned while the socket is between connections.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrAckLost means the connection dropped before the ack arrived.
	ErrAckLost = errors.New("realtime: connection lost awaiting ack")
)

// envelope is the wire frame. Server acks reuse the frame with
// event "ack" and the AckID of the request they answer.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID uint64          `json:"ackId,omitempty"`
}

const ackEvent = "ack"

// SocketOptions tune the websocket transport. Zero values fall back to
// the defaults above.
type SocketOptions struct {
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	AckTimeout   time.Duration
	SendBuffer   int
}

// Socket is the websocket implementation of Channel. One Socket is shared
// process-wide: opened after successful authentication, closed on logout.
// It reconnects automatically with capped backoff; registered handlers
// survive reconnects, pending acks do not.
type Socket struct {
	url   string
	token string
	opts  SocketOptions

	send chan envelope
	done chan struct{}
	wg   sync.WaitGroup

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	handlers  map[string]map[uint64]Handler
	nextOff   uint64
	pending   map[uint64]chan Ack
	nextAck   uint64
}

// NewSocket creates an unconnected socket for the given URL. The token is
// sent as a bearer Authorization header on dial.
func NewSocket(url, token string, opts SocketOptions) *Socket {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteWait
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaultPongWait
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckWait
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuf
	}
	return &Socket{
		url:      url,
		token:    token,
		opts:     opts,
		send:     make(chan envelope, opts.SendBuffer),
		done:     make(chan struct{}),
		handlers: make(map[string]map[uint64]Handler),
		pending:  make(map[uint64]chan Ack),
	}
}

// Connect dials the server and starts the pump loop. It blocks only for
// the first dial so callers learn immediately whether the endpoint is
// reachable; reconnects happen in the background afterwards.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("realtime.Connect: %w", err)
	}
	s.setConn(conn)

	s.wg.Add(1)
	go s.run(conn)
	return nil
}

// Close shuts the socket down. Safe to call multiple times.
func (s *Socket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	close(s.done)
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
	s.failPending()
}

// Emit sends a fire-and-forget event.
func (s *Socket) Emit(event string, payload any) error {
	return s.emit(envelope{Event: event}, payload)
}

// EmitAck sends an event and waits for the server acknowledgment.
func (s *Socket) EmitAck(ctx context.Context, event string, payload any) (Ack, error) {
	ch := make(chan Ack, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Ack{}, ErrClosed
	}
	s.nextAck++
	id := s.nextAck
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.emit(envelope{Event: event, AckID: id}, payload); err != nil {
		s.dropPending(id)
		return Ack{}, err
	}

	timer := time.NewTimer(s.opts.AckTimeout)
	defer timer.Stop()
	select {
	case ack, ok := <-ch:
		if !ok {
			return Ack{}, ErrAckLost
		}
		return ack, nil
	case <-ctx.Done():
		s.dropPending(id)
		return Ack{}, ctx.Err()
	case <-timer.C:
		s.dropPending(id)
		return Ack{}, fmt.Errorf("realtime: ack timeout for %q", event)
	case <-s.done:
		s.dropPending(id)
		return Ack{}, ErrClosed
	}
}

// On registers a handler for an inbound event and returns its
// deregistration func.
func (s *Socket) On(event string, h Handler) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[uint64]Handler)
	}
	s.nextOff++
	id := s.nextOff
	s.handlers[event][id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers[event], id)
	}
}

func (s *Socket) emit(env envelope, payload any) error {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("realtime: encode %q: %w", env.Event, err)
		}
		env.Data = data
	}

	s.mu.RLock()
	closed, connected := s.closed, s.connected
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !connected {
		return ErrNotConnected
	}

	select {
	case s.send <- env:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		return fmt.Errorf("realtime: send buffer full for %q", env.Event)
	}
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	return conn, err
}

func (s *Socket) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
}

// run owns one connection at a time: pumps it until failure, then
// reconnects with capped backoff until Close.
func (s *Socket) run(conn *websocket.Conn) {
	defer s.wg.Done()
	wait := reconnectBaseWait
	for {
		s.pump(conn)

		s.mu.Lock()
		s.connected = false
		s.conn = nil
		closed := s.closed
		s.mu.Unlock()
		s.failPending()
		if closed {
			return
		}

		for {
			logger.Infof("socket: reconnecting in %s", wait)
			select {
			case <-s.done:
				return
			case <-time.After(wait):
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
			c, err := s.dial(ctx)
			cancel()
			if err == nil {
				conn = c
				s.setConn(conn)
				wait = reconnectBaseWait
				logger.Info("socket: reconnected")
				break
			}
			logger.Errorf("socket: redial: %v", err)
			wait *= 2
			if wait > reconnectMaxWait {
				wait = reconnectMaxWait
			}
		}
	}
}

// pump runs the write loop in a goroutine and reads until the connection
// fails, then tears both down. Mirrors a read/write pump pair with
// ping/pong deadlines.
func (s *Socket) pump(conn *websocket.Conn) {
	stop := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writePump(conn, stop)
	}()

	s.readPump(conn)
	close(stop)
	conn.Close()
	<-writeDone
}

func (s *Socket) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout)); err != nil {
		logger.Errorf("socket: set read deadline: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("socket: read: %v", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("socket: unmarshal: %v", err)
			continue
		}

		if env.Event == ackEvent {
			s.resolveAck(env)
			continue
		}
		s.dispatch(env)
	}
}

func (s *Socket) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	pingPeriod := s.opts.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(s.opts.WriteTimeout))
			return
		case env := <-s.send:
			if err := conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				logger.Errorf("socket: write %q: %v", env.Event, err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Socket) resolveAck(env envelope) {
	s.mu.Lock()
	ch, ok := s.pending[env.AckID]
	if ok {
		delete(s.pending, env.AckID)
	}
	s.mu.Unlock()
	if !ok {
		// Ack for a request that timed out or was cancelled.
		return
	}

	var ack Ack
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			logger.Errorf("socket: decode ack %d: %v", env.AckID, err)
		}
	}
	ch <- ack
}

// dispatch calls every handler registered for the event. Handlers are
// copied out under the lock so they may register or deregister freely.
func (s *Socket) dispatch(env envelope) {
	s.mu.RLock()
	hs := make([]Handler, 0, len(s.handlers[env.Event]))
	for _, h := range s.handlers[env.Event] {
		hs = append(hs, h)
	}
	s.mu.RUnlock()

	if len(hs) == 0 {
		logger.Debugf("socket: no handler for %q", env.Event)
		return
	}
	for _, h := range hs {
		h(env.Data)
	}
}

func (s *Socket) dropPending(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// failPending closes every outstanding ack channel so waiters fail fast
// instead of running into their timeouts.
func (s *Socket) failPending() {
	s.mu.Lock()
	pend := s.pending
	s.pending = make(map[uint64]chan Ack)
	s.mu.Unlock()
	for _, ch := range pend {
		close(ch)
	}
}
