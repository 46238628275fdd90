package chat

import (
	"context"
	"sync"

	"github.com/messenger/client-go/internal/logger"
	"github.com/messenger/client-go/internal/realtime"
)

type RoomState int

const (
	RoomIdle RoomState = iota
	RoomJoining
	RoomJoined
	RoomLeaving
)

func (s RoomState) String() string {
	switch s {
	case RoomJoining:
		return "joining"
	case RoomJoined:
		return "joined"
	case RoomLeaving:
		return "leaving"
	default:
		return "idle"
	}
}

// RoomController keeps the event-channel room membership in step with the
// active conversation. Activate is idempotent per id; a join ack that
// arrives after the id stopped being active is discarded, never applied.
type RoomController struct {
	ch realtime.Channel

	mu             sync.Mutex
	conversationID string
	state          RoomState
	gen            uint64
}

func NewRoomController(ch realtime.Channel) *RoomController {
	return &RoomController{ch: ch}
}

// Activate joins the room for conversationID, leaving the previous room
// first if one is active. Calling it again for the current id does not
// issue a second join.
func (r *RoomController) Activate(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	if r.conversationID == conversationID && (r.state == RoomJoining || r.state == RoomJoined) {
		r.mu.Unlock()
		return nil
	}
	prev := ""
	if r.state == RoomJoining || r.state == RoomJoined {
		prev = r.conversationID
	}
	r.gen++
	gen := r.gen
	r.conversationID = conversationID
	r.state = RoomJoining
	r.mu.Unlock()

	if prev != "" {
		realtime.LeaveConversation(r.ch, prev)
	}

	err := realtime.JoinConversation(ctx, r.ch, conversationID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		// The selection moved on while the join was in flight.
		logger.Debugf("room: discarding stale join ack for %s", conversationID)
		return nil
	}
	if err != nil {
		r.state = RoomIdle
		r.conversationID = ""
		return err
	}
	r.state = RoomJoined
	return nil
}

// Deactivate leaves the active room, if any. Pending join acks for it are
// discarded.
func (r *RoomController) Deactivate() {
	r.mu.Lock()
	if r.state != RoomJoining && r.state != RoomJoined {
		r.mu.Unlock()
		return
	}
	prev := r.conversationID
	r.gen++
	r.state = RoomLeaving
	r.mu.Unlock()

	realtime.LeaveConversation(r.ch, prev)

	r.mu.Lock()
	// Leave carries no ack; the transition to idle is immediate unless a
	// newer Activate already claimed the controller.
	if r.state == RoomLeaving {
		r.state = RoomIdle
		r.conversationID = ""
	}
	r.mu.Unlock()
}

// State returns the current membership state and conversation id.
func (r *RoomController) State() (RoomState, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.conversationID
}
