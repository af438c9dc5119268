package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"codecollab/server/internal/room"
)

// Inbound message types accepted from clients.
const (
	TypeJoin                 = "join"
	TypeApprove              = "approve"
	TypeReject               = "reject"
	TypeLeave                = "leave"
	TypeEditorChange         = "editor-change"
	TypeRemoveParticipant    = "remove-participant"
	TypeSetPermission        = "set-permission"
	TypeBypassAttempt        = "bypass-attempt"
	TypeChatMessage          = "chat-message"
	TypeInlineComment        = "inline-comment"
	TypeInlineCommentReply   = "inline-comment-reply"
	TypeInlineCommentResolve = "inline-comment-resolve"
)

// Outbound message types sent to clients.
const (
	TypeConnected             = "connected"
	TypeJoined                = "joined"
	TypeJoinRejected          = "join-rejected"
	TypeWaiting               = "waiting"
	TypeJoinRequest           = "join-request"
	TypeRequestExpired        = "request-expired"
	TypeRequestHandled        = "request-handled"
	TypeEditorUpdate          = "editor-update"
	TypeParticipantsUpdate    = "participants-update"
	TypePermissionChanged     = "permission-changed"
	TypePermissionDenied      = "permission-denied"
	TypeRemovedFromRoom       = "removed-from-room"
	TypeHostLeft              = "host-left"
	TypeIntruderAlert         = "intruder-alert"
	TypeError                 = "error"
	TypeChatHistory           = "chat-history"
	TypeInlineCommentNew      = "inline-comment-new"
	TypeInlineCommentResolved = "inline-comment-resolved"
	TypeInlineCommentsDump    = "inline-comments-dump"
)

// Inbound is the single flat envelope every client message decodes into.
// Which fields are meaningful depends on Type; unused fields stay zero.
type Inbound struct {
	Type         string          `json:"type"`
	RoomID       string          `json:"roomId,omitempty"`
	DisplayName  string          `json:"displayName,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	Permission   string          `json:"permission,omitempty"`
	SocketID     string          `json:"socketId,omitempty"`
	Text         string          `json:"text,omitempty"`
	LineNumber   int             `json:"lineNumber,omitempty"`
	CommentID    string          `json:"commentId,omitempty"`
}

// Decodes a raw client frame. A non-JSON frame or a frame without a
// usable type is a malformed message.
func Decode(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if in.Type == "" {
		return nil, fmt.Errorf("decode message: missing type")
	}
	return &in, nil
}

// Connection acknowledgment carrying the server-assigned user id.
type Connected struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type Joined struct {
	Type string    `json:"type"`
	Role room.Role `json:"role"`
}

type JoinRejected struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type Waiting struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Sent to the host when someone asks to enter the room.
type JoinRequest struct {
	Type        string    `json:"type"`
	SocketID    string    `json:"socketId"`
	DisplayName string    `json:"displayName"`
	RequestedAt time.Time `json:"requestedAt"`
}

type RequestExpired struct {
	Type     string `json:"type"`
	SocketID string `json:"socketId"`
	Reason   string `json:"reason,omitempty"`
}

type RequestHandled struct {
	Type        string `json:"type"`
	SocketID    string `json:"socketId"`
	Action      string `json:"action"`
	DisplayName string `json:"displayName"`
}

// Document content relayed verbatim to other participants. The payload is
// opaque to the server.
type EditorUpdate struct {
	Type     string          `json:"type"`
	Content  json.RawMessage `json:"content"`
	SenderID string          `json:"senderId"`
}

type ParticipantsUpdate struct {
	Type  string                 `json:"type"`
	Users []room.ParticipantInfo `json:"users"`
	Count int                    `json:"count"`
}

type PermissionChanged struct {
	Type string    `json:"type"`
	Role room.Role `json:"role"`
}

type PermissionDenied struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type RemovedFromRoom struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type HostLeft struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type IntruderAlert struct {
	Type        string    `json:"type"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Reason      string    `json:"reason"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// A single live chat message, carrying the authoritative server-stamped copy.
type ChatMessage struct {
	Type    string           `json:"type"`
	Message room.ChatMessage `json:"message"`
}

// Full chat log replayed to a newly admitted member.
type ChatHistory struct {
	Type     string             `json:"type"`
	Messages []room.ChatMessage `json:"messages"`
}

type InlineCommentNew struct {
	Type    string              `json:"type"`
	Comment *room.CommentThread `json:"comment"`
}

type InlineCommentReply struct {
	Type      string     `json:"type"`
	CommentID string     `json:"commentId"`
	Reply     room.Reply `json:"reply"`
}

type InlineCommentResolved struct {
	Type       string `json:"type"`
	CommentID  string `json:"commentId"`
	ResolvedBy string `json:"resolvedBy"`
}

// Unresolved threads replayed to a newly admitted member.
type InlineCommentsDump struct {
	Type     string                `json:"type"`
	Comments []*room.CommentThread `json:"comments"`
}
