package room

import (
	"fmt"
	"testing"
	"time"
)

func TestRoleCapabilities(t *testing.T) {
	cases := []struct {
		role    Role
		canEdit bool
		isHost  bool
	}{
		{RoleHost, true, true},
		{RoleEditor, true, false},
		{RoleViewer, false, false},
	}

	for _, tc := range cases {
		if tc.role.CanEdit() != tc.canEdit {
			t.Errorf("%s.CanEdit() = %v, want %v", tc.role, tc.role.CanEdit(), tc.canEdit)
		}
		if tc.role.IsHost() != tc.isHost {
			t.Errorf("%s.IsHost() = %v, want %v", tc.role, tc.role.IsHost(), tc.isHost)
		}
	}
}

func TestRoleForPermission(t *testing.T) {
	if RoleForPermission("edit") != RoleEditor {
		t.Error("Expected 'edit' to map to Editor")
	}
	if RoleForPermission("view") != RoleViewer {
		t.Error("Expected 'view' to map to Viewer")
	}
	if RoleForPermission("bogus") != RoleViewer {
		t.Error("Expected unknown permission to map to Viewer")
	}
}

func member(id string, role Role) *Participant {
	return &Participant{
		UserID:      id,
		DisplayName: "name-" + id,
		Role:        role,
		JoinedAt:    time.Now().UTC(),
	}
}

func TestMemberOrdering(t *testing.T) {
	s := NewStore()
	r := s.Create("ABCDEFGH")

	r.AddMember(member("user-1", RoleHost))
	r.AddMember(member("user-2", RoleViewer))
	r.AddMember(member("user-3", RoleViewer))

	if r.HostID != "user-1" {
		t.Errorf("Expected host user-1, got %s", r.HostID)
	}

	users := r.Participants()
	if len(users) != 3 {
		t.Fatalf("Expected 3 participants, got %d", len(users))
	}
	for i, want := range []string{"user-1", "user-2", "user-3"} {
		if users[i].UserID != want {
			t.Errorf("Participant %d: expected %s, got %s", i, want, users[i].UserID)
		}
	}

	r.RemoveMember("user-2")
	users = r.Participants()
	if len(users) != 2 {
		t.Fatalf("Expected 2 participants after removal, got %d", len(users))
	}
	if users[0].UserID != "user-1" || users[1].UserID != "user-3" {
		t.Error("Join order not preserved after removal")
	}
}

func TestSetRole(t *testing.T) {
	s := NewStore()
	r := s.Create("room")
	r.AddMember(member("user-1", RoleHost))
	r.AddMember(member("user-2", RoleViewer))

	p, err := r.SetRole("user-2", RoleEditor)
	if err != nil {
		t.Fatalf("SetRole failed: %v", err)
	}
	if p.Role != RoleEditor {
		t.Errorf("Expected Editor, got %s", p.Role)
	}

	if _, err := r.SetRole("user-1", RoleViewer); err != ErrTargetIsHost {
		t.Errorf("Expected ErrTargetIsHost for host, got %v", err)
	}
	if _, err := r.SetRole("user-9", RoleEditor); err != ErrMemberNotFound {
		t.Errorf("Expected ErrMemberNotFound, got %v", err)
	}
}

func TestChatLogEviction(t *testing.T) {
	s := NewStore()
	r := s.Create("room")

	for i := 0; i < MaxChatMessages+1; i++ {
		r.AppendChat(ChatMessage{
			ID:   fmt.Sprintf("msg-%d", i),
			Text: fmt.Sprintf("message %d", i),
		})
	}

	log := r.ChatLog()
	if len(log) != MaxChatMessages {
		t.Fatalf("Expected log capped at %d, got %d", MaxChatMessages, len(log))
	}
	if log[0].ID != "msg-1" {
		t.Errorf("Expected oldest message evicted, first is %s", log[0].ID)
	}
	if log[len(log)-1].ID != fmt.Sprintf("msg-%d", MaxChatMessages) {
		t.Errorf("Expected newest message retained, last is %s", log[len(log)-1].ID)
	}
}

func TestCommentLifecycle(t *testing.T) {
	s := NewStore()
	r := s.Create("room")

	c := &CommentThread{ID: "cmt-1", UserID: "user-1", LineNumber: 3, Text: "check this"}
	r.AddComment(c)

	if _, err := r.AddReply("cmt-1", Reply{ID: "rpl-1", Text: "agreed"}); err != nil {
		t.Fatalf("AddReply failed: %v", err)
	}
	if len(c.Replies) != 1 {
		t.Fatalf("Expected 1 reply, got %d", len(c.Replies))
	}

	if _, err := r.ResolveComment("cmt-1"); err != nil {
		t.Fatalf("ResolveComment failed: %v", err)
	}
	if !c.Resolved {
		t.Error("Comment should be resolved")
	}

	// Resolved threads are terminal for replies
	if _, err := r.AddReply("cmt-1", Reply{ID: "rpl-2"}); err != ErrThreadResolved {
		t.Errorf("Expected ErrThreadResolved, got %v", err)
	}
	if len(c.Replies) != 1 {
		t.Errorf("Resolved thread mutated: %d replies", len(c.Replies))
	}

	if _, err := r.AddReply("cmt-9", Reply{}); err != ErrThreadNotFound {
		t.Errorf("Expected ErrThreadNotFound, got %v", err)
	}
}

func TestUnresolvedComments(t *testing.T) {
	s := NewStore()
	r := s.Create("room")

	r.AddComment(&CommentThread{ID: "cmt-1", LineNumber: 1})
	r.AddComment(&CommentThread{ID: "cmt-2", LineNumber: 2})
	r.AddComment(&CommentThread{ID: "cmt-3", LineNumber: 3})
	r.ResolveComment("cmt-2")

	open := r.UnresolvedComments()
	if len(open) != 2 {
		t.Fatalf("Expected 2 unresolved threads, got %d", len(open))
	}
	if open[0].ID != "cmt-1" || open[1].ID != "cmt-3" {
		t.Error("Unresolved threads not in creation order")
	}
}

func TestStoreLifecycle(t *testing.T) {
	s := NewStore()

	if s.RoomCount() != 0 {
		t.Errorf("Expected 0 rooms, got %d", s.RoomCount())
	}

	s.Create("room-a")
	s.Create("room-b")
	if s.RoomCount() != 2 {
		t.Errorf("Expected 2 rooms, got %d", s.RoomCount())
	}

	if _, ok := s.Get("room-a"); !ok {
		t.Error("room-a should exist")
	}

	s.Remove("room-a")
	if _, ok := s.Get("room-a"); ok {
		t.Error("room-a should be gone")
	}
	if s.RoomCount() != 1 {
		t.Errorf("Expected 1 room, got %d", s.RoomCount())
	}
}

func TestIntruderLog(t *testing.T) {
	s := NewStore()
	r := s.Create("room")

	r.LogIntruder(IntruderEntry{UserID: "user-5", Reason: "attempted unauthorized editor change"})
	r.LogIntruder(IntruderEntry{UserID: "user-5", Reason: "client-reported bypass"})

	log := r.IntruderLog()
	if len(log) != 2 {
		t.Fatalf("Expected 2 intruder entries, got %d", len(log))
	}
	if log[0].Reason != "attempted unauthorized editor change" {
		t.Errorf("Unexpected first entry reason: %s", log[0].Reason)
	}
}
