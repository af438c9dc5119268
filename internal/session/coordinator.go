package session

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"codecollab/server/internal/protocol"
	"codecollab/server/internal/room"
)

// How long a host's join-request notification is held back after the
// request is recorded. Two independent connections' streams interleave by
// arrival order, so a brand-new host may still be waiting on its own
// joined round-trip; the delay lets that settle before the host has to
// react to someone else's request.
const joinRequestDelay = 300 * time.Millisecond

// AuditRecorder persists intrusion records for operator review. The
// in-memory per-room intruder log stays authoritative for the room's
// lifetime; this is the durable trail behind it.
type AuditRecorder interface {
	Record(roomCode, userID, displayName, reason string, at time.Time) error
}

type eventKind int

const (
	evConnect eventKind = iota
	evMessage
	evDisconnect
	evJoinRequestDue
)

type event struct {
	kind eventKind
	conn Conn
	data []byte

	// set for evJoinRequestDue
	userID string
}

type sessionInfo struct {
	userID   string
	roomCode string // empty until admitted to a room
}

type pendingRequest struct {
	userID      string
	conn        Conn
	roomCode    string
	displayName string
	requestedAt time.Time
}

// Coordinator owns every room's state and processes all inbound traffic
// on a single event loop: one message runs to completion (including the
// broadcasts it triggers) before the next is picked up, so room mutation
// needs no locking.
type Coordinator struct {
	events chan event

	store *room.Store
	audit AuditRecorder

	// connection registry: loop-owned, never touched off-loop
	sessions   map[Conn]*sessionInfo
	byUser     map[string]Conn
	pending    map[string]*pendingRequest
	nextUserID int

	joinDelay time.Duration

	clientCount  atomic.Int64
	pendingCount atomic.Int64
}

// New creates a coordinator over the given room store. The audit recorder
// may be nil, in which case intrusions are only kept in memory and logged.
func New(store *room.Store, audit AuditRecorder) *Coordinator {
	if store == nil {
		panic("room store cannot be nil for Coordinator")
	}
	return &Coordinator{
		events:     make(chan event, 512),
		store:      store,
		audit:      audit,
		sessions:   make(map[Conn]*sessionInfo),
		byUser:     make(map[string]Conn),
		pending:    make(map[string]*pendingRequest),
		nextUserID: 1,
		joinDelay:  joinRequestDelay,
	}
}

// Run drives the event loop. It should be started in its own goroutine
// and runs until the event channel is closed.
func (c *Coordinator) Run() {
	log := logrus.WithField("component", "coordinator")
	log.Info("Coordinator running")

	for ev := range c.events {
		c.process(ev)
	}

	log.Info("Coordinator stopped")
}

// Connect registers a fresh transport connection. Lifecycle events are
// never shed: the send blocks until the loop has room.
func (c *Coordinator) Connect(conn Conn) {
	c.events <- event{kind: evConnect, conn: conn}
}

// Receive hands one raw inbound frame to the coordinator. Frames are
// best-effort: under backlog a frame is dropped rather than stalling the
// connection's read pump.
func (c *Coordinator) Receive(conn Conn, data []byte) {
	c.enqueue(event{kind: evMessage, conn: conn, data: data})
}

// Disconnect funnels every connection teardown through the cleanup path.
// Like Connect it blocks rather than drops: a lost disconnect would leak
// the session registry entries and could leave a headless room behind.
func (c *Coordinator) Disconnect(conn Conn) {
	c.events <- event{kind: evDisconnect, conn: conn}
}

// ClientCount reports currently registered connections.
func (c *Coordinator) ClientCount() int {
	return int(c.clientCount.Load())
}

// PendingCount reports join requests awaiting a host decision.
func (c *Coordinator) PendingCount() int {
	return int(c.pendingCount.Load())
}

// enqueue is the shedding path for inbound frames only.
func (c *Coordinator) enqueue(ev event) bool {
	select {
	case c.events <- ev:
		return true
	default:
		logrus.WithField("component", "coordinator").
			Warn("Event queue full, dropping inbound frame")
		return false
	}
}

// process runs one event to completion. A panicking handler must not take
// the loop (and every other room) down with it, so each event is isolated.
func (c *Coordinator) process(ev event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"component": "coordinator",
				"panic":     r,
			}).Errorf("Recovered from handler panic\n%s", debug.Stack())
		}
	}()

	switch ev.kind {
	case evConnect:
		c.handleConnect(ev.conn)
	case evMessage:
		c.handleMessage(ev.conn, ev.data)
	case evDisconnect:
		c.handleDisconnect(ev.conn)
	case evJoinRequestDue:
		c.handleJoinRequestDue(ev.userID)
	}
}

// Assigns a process-unique opaque user id and acknowledges the connection.
// No other state is initialized until a join arrives.
func (c *Coordinator) handleConnect(conn Conn) {
	userID := fmt.Sprintf("user-%d", c.nextUserID)
	c.nextUserID++

	c.sessions[conn] = &sessionInfo{userID: userID}
	c.byUser[userID] = conn
	c.clientCount.Add(1)

	conn.Send(protocol.Connected{Type: protocol.TypeConnected, UserID: userID})
	logrus.WithField("user_id", userID).Info("Client connected")
}

func (c *Coordinator) handleMessage(conn Conn, data []byte) {
	s, ok := c.sessions[conn]
	if !ok {
		return
	}

	in, err := protocol.Decode(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{"user_id": s.userID}).
			WithError(err).Warn("Malformed message")
		c.sendError(conn, "Invalid message format")
		return
	}

	switch in.Type {
	case protocol.TypeJoin:
		c.handleJoin(conn, s, in)
	case protocol.TypeApprove:
		c.handleApprove(conn, s, in.SocketID)
	case protocol.TypeReject:
		c.handleReject(conn, s, in.SocketID)
	case protocol.TypeLeave:
		c.removeFromRoom(s)
	case protocol.TypeEditorChange:
		c.handleEditorChange(conn, s, in)
	case protocol.TypeRemoveParticipant:
		c.handleRemoveParticipant(conn, s, in.TargetUserID)
	case protocol.TypeSetPermission:
		c.handleSetPermission(conn, s, in.TargetUserID, in.Permission)
	case protocol.TypeBypassAttempt:
		c.handleBypassAttempt(s, in.DisplayName)
	case protocol.TypeChatMessage:
		c.handleChatMessage(s, in.Text)
	case protocol.TypeInlineComment:
		c.handleInlineComment(s, in.LineNumber, in.Text)
	case protocol.TypeInlineCommentReply:
		c.handleInlineCommentReply(conn, s, in.CommentID, in.Text)
	case protocol.TypeInlineCommentResolve:
		c.handleInlineCommentResolve(conn, s, in.CommentID)
	default:
		logrus.WithFields(logrus.Fields{
			"user_id": s.userID,
			"type":    in.Type,
		}).Warn("Unknown message type")
	}
}

// handleDisconnect unwinds registry and room state for a dropped
// connection. Disconnect is the only cancellation signal in the protocol.
func (c *Coordinator) handleDisconnect(conn Conn) {
	s, ok := c.sessions[conn]
	if !ok {
		return
	}

	// A disconnect before the host decided voids the pending request.
	if p, ok := c.pending[s.userID]; ok {
		delete(c.pending, s.userID)
		c.pendingCount.Add(-1)
		if rm, ok := c.store.Get(p.roomCode); ok {
			if host, ok := c.hostConn(rm); ok {
				host.Send(protocol.RequestExpired{
					Type:     protocol.TypeRequestExpired,
					SocketID: s.userID,
					Reason:   "User disconnected while waiting",
				})
			}
		}
	}

	c.removeFromRoom(s)

	delete(c.sessions, conn)
	delete(c.byUser, s.userID)
	c.clientCount.Add(-1)
	logrus.WithField("user_id", s.userID).Info("Client disconnected")
}

// memberOf resolves the session's room and membership record, if any.
func (c *Coordinator) memberOf(s *sessionInfo) (*room.Room, *room.Participant, bool) {
	if s.roomCode == "" {
		return nil, nil, false
	}
	rm, ok := c.store.Get(s.roomCode)
	if !ok {
		return nil, nil, false
	}
	p, ok := rm.Member(s.userID)
	if !ok {
		return nil, nil, false
	}
	return rm, p, true
}

// hostConn returns the room host's connection if it is currently open.
func (c *Coordinator) hostConn(rm *room.Room) (Conn, bool) {
	conn, ok := c.byUser[rm.HostID]
	if !ok || !conn.IsOpen() {
		return nil, false
	}
	return conn, true
}

// broadcast delivers a message to every live connection in the room,
// optionally excluding one. The payload is encoded once and fanned out as
// a pre-marshaled frame. Delivery is best-effort per connection: a dead
// or slow peer is skipped and never fails the fan-out for the rest.
func (c *Coordinator) broadcast(rm *room.Room, exclude Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode broadcast")
		return
	}
	frame := json.RawMessage(data)

	for _, id := range rm.MemberIDs() {
		conn, ok := c.byUser[id]
		if !ok || conn == exclude || !conn.IsOpen() {
			continue
		}
		conn.Send(frame)
	}
}

func (c *Coordinator) broadcastParticipants(rm *room.Room) {
	users := rm.Participants()
	c.broadcast(rm, nil, protocol.ParticipantsUpdate{
		Type:  protocol.TypeParticipantsUpdate,
		Users: users,
		Count: len(users),
	})
}

func (c *Coordinator) sendError(conn Conn, message string) {
	conn.Send(protocol.Error{Type: protocol.TypeError, Message: message})
}

// recordIntrusion captures one policy violation: appended to the room's
// intruder log when the room is known, logged for operator visibility,
// pushed live to the room's host, and written to the durable audit trail.
func (c *Coordinator) recordIntrusion(roomCode, userID, displayName, reason string) {
	if displayName == "" {
		displayName = "Unknown"
	}
	entry := room.IntruderEntry{
		UserID:      userID,
		DisplayName: displayName,
		Reason:      reason,
		AttemptedAt: time.Now().UTC(),
	}

	logrus.WithFields(logrus.Fields{
		"room_code":    roomCode,
		"user_id":      userID,
		"display_name": displayName,
		"reason":       reason,
	}).Warn("Intruder detected")

	if rm, ok := c.store.Get(roomCode); ok {
		rm.LogIntruder(entry)
		if host, ok := c.hostConn(rm); ok {
			host.Send(protocol.IntruderAlert{
				Type:        protocol.TypeIntruderAlert,
				UserID:      entry.UserID,
				DisplayName: entry.DisplayName,
				Reason:      entry.Reason,
				AttemptedAt: entry.AttemptedAt,
			})
		}
	}

	if c.audit != nil {
		if err := c.audit.Record(roomCode, entry.UserID, entry.DisplayName, entry.Reason, entry.AttemptedAt); err != nil {
			logrus.WithError(err).Warn("Failed to write intrusion to audit trail")
		}
	}
}
