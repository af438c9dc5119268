package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"codecollab/server/internal/protocol"
	"codecollab/server/internal/room"
)

// handleJoin runs the entry state machine: instant promotion to host for
// an unseen room code, or the host-mediated approval flow for an existing
// room.
func (c *Coordinator) handleJoin(conn Conn, s *sessionInfo, in *protocol.Inbound) {
	if in.RoomID == "" {
		c.sendError(conn, "roomId is required")
		return
	}

	logCtx := logrus.WithFields(logrus.Fields{
		"user_id":   s.userID,
		"room_code": in.RoomID,
	})

	rm, exists := c.store.Get(in.RoomID)
	if !exists {
		// First join for this code wins the room and becomes host.
		rm = c.store.Create(in.RoomID)
		rm.AddMember(&room.Participant{
			UserID:      s.userID,
			DisplayName: in.DisplayName,
			Role:        room.RoleHost,
			JoinedAt:    time.Now().UTC(),
		})
		s.roomCode = in.RoomID

		conn.Send(protocol.Joined{Type: protocol.TypeJoined, Role: room.RoleHost})
		c.broadcastParticipants(rm)
		logCtx.Info("Room created, client promoted to host")
		return
	}

	// Without a live host there is nobody to decide; reject outright
	// instead of queueing a request that can never be answered.
	if _, ok := c.hostConn(rm); !ok {
		conn.Send(protocol.JoinRejected{
			Type:   protocol.TypeJoinRejected,
			Reason: "Host is currently unavailable. Try again later.",
		})
		return
	}

	if s.roomCode == in.RoomID {
		// Duplicate join is idempotent.
		return
	}
	if s.roomCode != "" {
		c.recordIntrusion(in.RoomID, s.userID, in.DisplayName,
			"attempted to join a different room while already connected")
		c.sendError(conn, "Already in a different room")
		return
	}

	if _, ok := c.pending[s.userID]; ok {
		conn.Send(protocol.Waiting{
			Type:    protocol.TypeWaiting,
			Message: "Your request is already pending.",
		})
		return
	}

	c.pending[s.userID] = &pendingRequest{
		userID:      s.userID,
		conn:        conn,
		roomCode:    in.RoomID,
		displayName: in.DisplayName,
		requestedAt: time.Now().UTC(),
	}
	c.pendingCount.Add(1)

	// The host is notified after a short fixed delay so its own joined
	// round-trip settles first. The timer only re-enqueues onto the loop;
	// the notification itself runs as a normal event. The send blocks on
	// its own goroutine, so a backlog delays the notification instead of
	// losing it.
	userID := s.userID
	time.AfterFunc(c.joinDelay, func() {
		c.events <- event{kind: evJoinRequestDue, userID: userID}
	})

	conn.Send(protocol.Waiting{
		Type:    protocol.TypeWaiting,
		Message: "Waiting for host approval…",
	})
	logCtx.Info("Join request queued for host approval")
}

// handleJoinRequestDue fires when the deferred join-request timer elapses.
// If the request was resolved in the meantime the notification is
// suppressed.
func (c *Coordinator) handleJoinRequestDue(userID string) {
	p, ok := c.pending[userID]
	if !ok {
		return
	}
	rm, ok := c.store.Get(p.roomCode)
	if !ok {
		return
	}
	if host, ok := c.hostConn(rm); ok {
		host.Send(protocol.JoinRequest{
			Type:        protocol.TypeJoinRequest,
			SocketID:    p.userID,
			DisplayName: p.displayName,
			RequestedAt: p.requestedAt,
		})
	}
}

func (c *Coordinator) handleApprove(conn Conn, s *sessionInfo, requestID string) {
	rm, host, ok := c.memberOf(s)
	if !ok || !host.Role.IsHost() {
		c.sendError(conn, "Only the host can approve users")
		return
	}

	p, ok := c.pending[requestID]
	if !ok {
		// Stale approval for a request that already resolved.
		conn.Send(protocol.RequestExpired{
			Type:     protocol.TypeRequestExpired,
			SocketID: requestID,
		})
		return
	}

	if p.roomCode != rm.Code {
		c.recordIntrusion(rm.Code, p.userID, p.displayName,
			"approved for wrong room — possible intrusion")
		c.dropPending(requestID)
		return
	}

	if p.conn == nil || !p.conn.IsOpen() {
		conn.Send(protocol.RequestExpired{
			Type:     protocol.TypeRequestExpired,
			SocketID: requestID,
			Reason:   "User disconnected before approval",
		})
		c.dropPending(requestID)
		return
	}

	rm.AddMember(&room.Participant{
		UserID:      p.userID,
		DisplayName: p.displayName,
		Role:        room.RoleViewer,
		JoinedAt:    time.Now().UTC(),
	})
	if ps, ok := c.sessions[p.conn]; ok {
		ps.roomCode = rm.Code
	}

	p.conn.Send(protocol.Joined{Type: protocol.TypeJoined, Role: room.RoleViewer})
	c.sendSessionHistory(p.conn, rm)
	c.broadcastParticipants(rm)
	c.dropPending(requestID)

	logrus.WithFields(logrus.Fields{
		"user_id":   p.userID,
		"room_code": rm.Code,
	}).Info("Join request approved")
}

func (c *Coordinator) handleReject(conn Conn, s *sessionInfo, requestID string) {
	_, host, ok := c.memberOf(s)
	if !ok || !host.Role.IsHost() {
		c.sendError(conn, "Only the host can reject users")
		return
	}

	p, ok := c.pending[requestID]
	if !ok {
		return
	}

	if p.conn != nil && p.conn.IsOpen() {
		p.conn.Send(protocol.JoinRejected{
			Type:   protocol.TypeJoinRejected,
			Reason: "The host has declined your request.",
		})
	}
	c.dropPending(requestID)

	conn.Send(protocol.RequestHandled{
		Type:        protocol.TypeRequestHandled,
		SocketID:    requestID,
		Action:      "rejected",
		DisplayName: p.displayName,
	})
}

func (c *Coordinator) dropPending(requestID string) {
	if _, ok := c.pending[requestID]; ok {
		delete(c.pending, requestID)
		c.pendingCount.Add(-1)
	}
}

// Replays chat history and unresolved comment threads to a newly admitted
// member. Resolved threads are not replayed; late joiners only need
// actionable context.
func (c *Coordinator) sendSessionHistory(conn Conn, rm *room.Room) {
	if log := rm.ChatLog(); len(log) > 0 {
		conn.Send(protocol.ChatHistory{
			Type:     protocol.TypeChatHistory,
			Messages: log,
		})
	}
	if comments := rm.UnresolvedComments(); len(comments) > 0 {
		conn.Send(protocol.InlineCommentsDump{
			Type:     protocol.TypeInlineCommentsDump,
			Comments: comments,
		})
	}
}

// handleEditorChange relays an opaque document payload to the rest of the
// room. Viewers are denied and the attempt is recorded as an intrusion.
func (c *Coordinator) handleEditorChange(conn Conn, s *sessionInfo, in *protocol.Inbound) {
	rm, p, ok := c.memberOf(s)
	if !ok {
		return
	}

	if !p.Role.CanEdit() {
		c.recordIntrusion(rm.Code, p.UserID, p.DisplayName,
			"attempted unauthorized editor change")
		conn.Send(protocol.PermissionDenied{
			Type:    protocol.TypePermissionDenied,
			Message: "You do not have edit permissions.",
		})
		return
	}

	c.broadcast(rm, conn, protocol.EditorUpdate{
		Type:     protocol.TypeEditorUpdate,
		Content:  in.Content,
		SenderID: p.UserID,
	})
}

func (c *Coordinator) handleSetPermission(conn Conn, s *sessionInfo, targetUserID, permission string) {
	rm, host, ok := c.memberOf(s)
	if !ok || !host.Role.IsHost() {
		c.sendError(conn, "Only the host can change permissions")
		return
	}

	target, err := rm.SetRole(targetUserID, room.RoleForPermission(permission))
	switch err {
	case nil:
	case room.ErrMemberNotFound:
		c.sendError(conn, "User not found in room")
		return
	case room.ErrTargetIsHost:
		c.sendError(conn, "Cannot change host permissions")
		return
	default:
		c.sendError(conn, "Failed to change permissions")
		return
	}

	if targetConn, ok := c.byUser[target.UserID]; ok && targetConn.IsOpen() {
		targetConn.Send(protocol.PermissionChanged{
			Type: protocol.TypePermissionChanged,
			Role: target.Role,
		})
	}
	c.broadcastParticipants(rm)

	logrus.WithFields(logrus.Fields{
		"room_code":      rm.Code,
		"target_user_id": target.UserID,
		"role":           target.Role,
	}).Info("Permission changed")
}

func (c *Coordinator) handleRemoveParticipant(conn Conn, s *sessionInfo, targetUserID string) {
	rm, host, ok := c.memberOf(s)
	if !ok || !host.Role.IsHost() {
		c.sendError(conn, "Only the host can remove participants")
		return
	}

	if targetUserID == host.UserID {
		c.sendError(conn, "Host cannot remove themselves")
		return
	}
	if _, ok := rm.Member(targetUserID); !ok {
		c.sendError(conn, "User not found in room")
		return
	}

	targetConn, connected := c.byUser[targetUserID]
	if connected && targetConn.IsOpen() {
		targetConn.Send(protocol.RemovedFromRoom{
			Type:   protocol.TypeRemovedFromRoom,
			Reason: "You have been removed from the room by the host.",
		})
	}

	// Removal performs the same cleanup as a voluntary leave.
	if ts, ok := c.sessions[targetConn]; ok {
		c.removeFromRoom(ts)
	} else {
		rm.RemoveMember(targetUserID)
		c.broadcastParticipants(rm)
	}

	logrus.WithFields(logrus.Fields{
		"room_code":      rm.Code,
		"target_user_id": targetUserID,
	}).Info("Participant removed by host")
}

// handleBypassAttempt records a client-reported bypass, e.g. an attempted
// unapproved reconnect trick.
func (c *Coordinator) handleBypassAttempt(s *sessionInfo, displayName string) {
	if displayName == "" {
		if _, p, ok := c.memberOf(s); ok {
			displayName = p.DisplayName
		}
	}
	c.recordIntrusion(s.roomCode, s.userID, displayName, "client-reported bypass")
}

// removeFromRoom is the single exit path for leave, removal and
// disconnect. A departing host tears the whole room down.
func (c *Coordinator) removeFromRoom(s *sessionInfo) {
	rm, p, ok := c.memberOf(s)
	if !ok {
		return
	}

	rm.RemoveMember(p.UserID)
	s.roomCode = ""

	logCtx := logrus.WithFields(logrus.Fields{
		"user_id":   p.UserID,
		"room_code": rm.Code,
		"role":      p.Role,
	})

	if p.Role.IsHost() {
		c.broadcast(rm, nil, protocol.HostLeft{
			Type:    protocol.TypeHostLeft,
			Message: "The host has left the room. Session ended.",
		})
		// Memberships die with the room; survivors must rejoin from
		// scratch and the code becomes available for a fresh host.
		for _, id := range rm.MemberIDs() {
			if mc, ok := c.byUser[id]; ok {
				if ms, ok := c.sessions[mc]; ok {
					ms.roomCode = ""
				}
			}
		}
		c.store.Remove(rm.Code)
		logCtx.Info("Host left, room torn down")
		return
	}

	c.broadcastParticipants(rm)
	logCtx.Info("Participant left room")
}

// handleChatMessage appends a server-stamped message to the bounded room
// log and echoes it to the entire room, sender included, so everyone sees
// the authoritative copy.
func (c *Coordinator) handleChatMessage(s *sessionInfo, text string) {
	rm, p, ok := c.memberOf(s)
	if !ok {
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	msg := room.ChatMessage{
		ID:          "msg-" + uuid.NewString(),
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Text:        truncate(text, room.MaxChatTextLen),
		SentAt:      time.Now().UTC(),
	}
	rm.AppendChat(msg)

	c.broadcast(rm, nil, protocol.ChatMessage{
		Type:    protocol.TypeChatMessage,
		Message: msg,
	})
}

func (c *Coordinator) handleInlineComment(s *sessionInfo, lineNumber int, text string) {
	rm, p, ok := c.memberOf(s)
	if !ok {
		return
	}
	if lineNumber < 1 {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	comment := &room.CommentThread{
		ID:          "cmt-" + uuid.NewString(),
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		LineNumber:  lineNumber,
		Text:        truncate(text, room.MaxCommentLen),
		CreatedAt:   time.Now().UTC(),
		Replies:     []room.Reply{},
	}
	rm.AddComment(comment)

	c.broadcast(rm, nil, protocol.InlineCommentNew{
		Type:    protocol.TypeInlineCommentNew,
		Comment: comment,
	})
}

func (c *Coordinator) handleInlineCommentReply(conn Conn, s *sessionInfo, commentID, text string) {
	rm, p, ok := c.memberOf(s)
	if !ok {
		return
	}
	text = strings.TrimSpace(text)
	if commentID == "" || text == "" {
		return
	}

	reply := room.Reply{
		ID:          "rpl-" + uuid.NewString(),
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Text:        truncate(text, room.MaxCommentLen),
		SentAt:      time.Now().UTC(),
	}

	if _, err := rm.AddReply(commentID, reply); err != nil {
		switch err {
		case room.ErrThreadResolved:
			c.sendError(conn, "Cannot reply to a resolved comment thread")
		case room.ErrThreadNotFound:
			c.sendError(conn, "Comment thread not found")
		default:
			c.sendError(conn, "Failed to add reply")
		}
		return
	}

	c.broadcast(rm, nil, protocol.InlineCommentReply{
		Type:      protocol.TypeInlineCommentReply,
		CommentID: commentID,
		Reply:     reply,
	})
}

func (c *Coordinator) handleInlineCommentResolve(conn Conn, s *sessionInfo, commentID string) {
	rm, p, ok := c.memberOf(s)
	if !ok {
		return
	}
	if commentID == "" {
		return
	}

	comment, found := rm.Comment(commentID)
	if !found {
		c.sendError(conn, "Comment thread not found")
		return
	}

	// Only the thread author or the host may resolve.
	if comment.UserID != p.UserID && !p.Role.IsHost() {
		c.recordIntrusion(rm.Code, p.UserID, p.DisplayName,
			"attempted unauthorized comment resolve")
		c.sendError(conn, "Only the comment author or host can resolve this thread")
		return
	}

	if _, err := rm.ResolveComment(commentID); err != nil {
		c.sendError(conn, "Failed to resolve comment thread")
		return
	}

	c.broadcast(rm, nil, protocol.InlineCommentResolved{
		Type:       protocol.TypeInlineCommentResolved,
		CommentID:  commentID,
		ResolvedBy: p.DisplayName,
	})
}

// truncate caps text at n characters, not bytes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
