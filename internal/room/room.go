package room

import (
	"errors"
	"sync"
	"time"
)

// Limits enforced server-side regardless of client input.
const (
	MaxChatMessages = 200
	MaxChatTextLen  = 2000
	MaxCommentLen   = 1000
)

var (
	ErrMemberNotFound = errors.New("user not found in room")
	ErrThreadNotFound = errors.New("comment thread not found")
	ErrThreadResolved = errors.New("comment thread is resolved")
	ErrTargetIsHost   = errors.New("target is the room host")
)

// Role is a participant's capability tier within a room.
type Role string

const (
	RoleHost   Role = "Host"
	RoleEditor Role = "Editor"
	RoleViewer Role = "Viewer"
)

// Reports whether the role may broadcast document changes.
func (r Role) CanEdit() bool {
	return r == RoleHost || r == RoleEditor
}

func (r Role) IsHost() bool {
	return r == RoleHost
}

// Maps a wire permission value ("edit" / "view") to a role. Anything that
// is not "edit" demotes to viewer.
func RoleForPermission(permission string) Role {
	if permission == "edit" {
		return RoleEditor
	}
	return RoleViewer
}

// Participant is the membership record for one connection in one room.
type Participant struct {
	UserID      string
	DisplayName string
	Role        Role
	JoinedAt    time.Time
}

// ParticipantInfo is the wire shape broadcast in participants-update.
type ParticipantInfo struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
}

type ChatMessage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sentAt"`
}

type Reply struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sentAt"`
}

// CommentThread is a comment anchored to an editor line, plus its replies.
// Resolution is terminal: a resolved thread accepts no further replies.
type CommentThread struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	LineNumber  int       `json:"lineNumber"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
	Resolved    bool      `json:"resolved"`
	Replies     []Reply   `json:"replies"`
}

// IntruderEntry records one detected protocol violation.
type IntruderEntry struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Reason      string    `json:"reason"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

// Room holds all session state for one room code: the ordered member
// table, the host reference, the chat log, comment threads and the
// intruder log. Mutation happens only through its methods, and only from
// the coordinator loop.
type Room struct {
	Code   string
	HostID string

	members map[string]*Participant
	order   []string

	chat []ChatMessage

	comments     map[string]*CommentThread
	commentOrder []string

	intruders []IntruderEntry
}

func newRoom(code string) *Room {
	return &Room{
		Code:     code,
		members:  make(map[string]*Participant),
		comments: make(map[string]*CommentThread),
	}
}

// Adds a member at the end of the ordered member table.
func (r *Room) AddMember(p *Participant) {
	if _, ok := r.members[p.UserID]; !ok {
		r.order = append(r.order, p.UserID)
	}
	r.members[p.UserID] = p
	if p.Role == RoleHost {
		r.HostID = p.UserID
	}
}

func (r *Room) Member(userID string) (*Participant, bool) {
	p, ok := r.members[userID]
	return p, ok
}

// Removes a member and returns its record.
func (r *Room) RemoveMember(userID string) (*Participant, bool) {
	p, ok := r.members[userID]
	if !ok {
		return nil, false
	}
	delete(r.members, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p, true
}

func (r *Room) MemberCount() int {
	return len(r.members)
}

// Returns member ids in join order. The slice is a snapshot safe to hold
// across sends.
func (r *Room) MemberIDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Returns the member table in join order, in wire shape.
func (r *Room) Participants() []ParticipantInfo {
	users := make([]ParticipantInfo, 0, len(r.order))
	for _, id := range r.order {
		p := r.members[id]
		users = append(users, ParticipantInfo{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Role:        p.Role,
			JoinedAt:    p.JoinedAt,
		})
	}
	return users
}

// Changes a non-host member's role. The host's role is immutable.
func (r *Room) SetRole(userID string, role Role) (*Participant, error) {
	p, ok := r.members[userID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	if p.Role == RoleHost {
		return nil, ErrTargetIsHost
	}
	p.Role = role
	return p, nil
}

// Appends to the bounded chat log, evicting the oldest entry beyond the cap.
func (r *Room) AppendChat(msg ChatMessage) {
	r.chat = append(r.chat, msg)
	if len(r.chat) > MaxChatMessages {
		r.chat = r.chat[len(r.chat)-MaxChatMessages:]
	}
}

func (r *Room) ChatLog() []ChatMessage {
	log := make([]ChatMessage, len(r.chat))
	copy(log, r.chat)
	return log
}

func (r *Room) AddComment(c *CommentThread) {
	if _, ok := r.comments[c.ID]; !ok {
		r.commentOrder = append(r.commentOrder, c.ID)
	}
	r.comments[c.ID] = c
}

func (r *Room) Comment(id string) (*CommentThread, bool) {
	c, ok := r.comments[id]
	return c, ok
}

// Appends a reply to an unresolved thread.
func (r *Room) AddReply(commentID string, reply Reply) (*CommentThread, error) {
	c, ok := r.comments[commentID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	if c.Resolved {
		return nil, ErrThreadResolved
	}
	c.Replies = append(c.Replies, reply)
	return c, nil
}

// Marks a thread resolved. Resolution is terminal.
func (r *Room) ResolveComment(commentID string) (*CommentThread, error) {
	c, ok := r.comments[commentID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	c.Resolved = true
	return c, nil
}

// Returns unresolved threads in creation order, for replay to late joiners.
func (r *Room) UnresolvedComments() []*CommentThread {
	var out []*CommentThread
	for _, id := range r.commentOrder {
		if c := r.comments[id]; !c.Resolved {
			out = append(out, c)
		}
	}
	return out
}

func (r *Room) LogIntruder(entry IntruderEntry) {
	r.intruders = append(r.intruders, entry)
}

func (r *Room) IntruderLog() []IntruderEntry {
	log := make([]IntruderEntry, len(r.intruders))
	copy(log, r.intruders)
	return log
}

// Store is the sole owner of room lifecycle. All mutation of room state is
// routed through the coordinator loop; the lock only makes the map shape
// safe for concurrent stat readers.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewStore() *Store {
	return &Store{rooms: make(map[string]*Room)}
}

// Creates the room for a fresh code. The first join processed for an
// unseen code wins; racing creators of the same code are an accepted
// limitation of client-chosen codes.
func (s *Store) Create(code string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := newRoom(code)
	s.rooms[code] = r
	return r
}

func (s *Store) Get(code string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[code]
	return r, ok
}

// Tears a room down entirely.
func (s *Store) Remove(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
}

func (s *Store) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
