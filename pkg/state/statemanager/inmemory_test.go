package statemanager_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/ysntopbas/KozVer-backend/pkg/state"
	"github.com/ysntopbas/KozVer-backend/pkg/state/statemanager"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(newTestLogger())
}

// fakeLink is a minimal transport stand-in.
type fakeLink struct {
	id     uuid.UUID
	closed bool
}

func newFakeLink() *fakeLink      { return &fakeLink{id: uuid.New()} }
func (l *fakeLink) ID() uuid.UUID { return l.id }
func (l *fakeLink) Send(_ []byte) {}
func (l *fakeLink) Close(_ error) { l.closed = true }
func (l *fakeLink) Alive() bool   { return !l.closed }

var _ state.Link = (*fakeLink)(nil)

func register(t *testing.T, m *statemanager.InMemoryManager, ip string) *fakeLink {
	t.Helper()
	link := newFakeLink()
	if _, err := m.RegisterConnection(link, ip); err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	return link
}

// --- Connection Lifecycle Tests ---

func TestConnectionLifecycle(t *testing.T) {
	m := newTestManager()
	link := newFakeLink()

	// 1. Register
	stateConn, err := m.RegisterConnection(link, "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	if stateConn.ID != link.ID() {
		t.Errorf("Registered connection ID mismatch")
	}

	// 2. Double registration is rejected
	if _, err := m.RegisterConnection(link, "127.0.0.1"); err == nil {
		t.Error("Expected error registering the same connection twice")
	}

	// 3. Get
	retrieved, found := m.GetConnection(link.ID())
	if !found {
		t.Fatal("GetConnection failed to find registered connection")
	}
	if retrieved.ID != link.ID() {
		t.Errorf("Retrieved connection ID mismatch")
	}

	// 4. Deregister
	if err := m.DeregisterConnection(link.ID()); err != nil {
		t.Fatalf("DeregisterConnection failed: %v", err)
	}
	if _, found := m.GetConnection(link.ID()); found {
		t.Error("Found connection after it should have been deregistered")
	}

	// 5. Deregistering again is a no-op
	if err := m.DeregisterConnection(link.ID()); err != nil {
		t.Errorf("Second DeregisterConnection returned error: %v", err)
	}
}

func TestIPConnectionCountAndOldest(t *testing.T) {
	m := newTestManager()
	link1 := register(t, m, "1.1.1.1")
	register(t, m, "1.1.1.1")
	register(t, m, "2.2.2.2")

	count, _ := m.GetIPConnectionCount("1.1.1.1")
	if count != 2 {
		t.Errorf("Expected 2 connections for 1.1.1.1, got %d", count)
	}

	oldest, found := m.FindOldestIPConnection("1.1.1.1")
	if !found {
		t.Fatal("Expected to find oldest connection, but did not")
	}
	if oldest.ID != link1.ID() {
		t.Errorf("Expected oldest connection ID to be %s, got %s", link1.ID(), oldest.ID)
	}

	if _, found := m.FindOldestIPConnection("9.9.9.9"); found {
		t.Error("Found a connection for an IP with no connections")
	}
}

// --- Presence Registry Tests ---

func TestUsernameRegistration(t *testing.T) {
	m := newTestManager()
	link := register(t, m, "1.1.1.1")

	if err := m.RegisterUsername(link.ID(), "alice"); err != nil {
		t.Fatalf("RegisterUsername failed: %v", err)
	}

	name, ok := m.UsernameOf(link.ID())
	if !ok || name != "alice" {
		t.Errorf("UsernameOf: expected alice, got %q (ok=%v)", name, ok)
	}

	conn, found := m.ResolveUsername("alice")
	if !found {
		t.Fatal("ResolveUsername failed to find alice")
	}
	if conn.ID != link.ID() {
		t.Errorf("Resolved wrong connection for alice")
	}

	if _, found := m.ResolveUsername("bob"); found {
		t.Error("Resolved a username that was never registered")
	}

	prior, ok := m.UnregisterUsername(link.ID())
	if !ok || prior != "alice" {
		t.Errorf("UnregisterUsername: expected alice, got %q (ok=%v)", prior, ok)
	}
	if _, ok := m.UnregisterUsername(link.ID()); ok {
		t.Error("Second UnregisterUsername should report no entry")
	}
}

func TestRegisterUsernameUnknownConnection(t *testing.T) {
	m := newTestManager()
	if err := m.RegisterUsername(uuid.New(), "ghost"); err == nil {
		t.Error("Expected error registering username for unknown connection")
	}
}

func TestRosterOrderAndDuplicates(t *testing.T) {
	m := newTestManager()
	link1 := register(t, m, "1.1.1.1")
	link2 := register(t, m, "2.2.2.2")
	link3 := register(t, m, "3.3.3.3")

	m.RegisterUsername(link1.ID(), "alice")
	m.RegisterUsername(link2.ID(), "bob")
	m.RegisterUsername(link3.ID(), "alice") // duplicate name, allowed

	names := m.Usernames()
	want := []string{"alice", "bob", "alice"}
	if len(names) != len(want) {
		t.Fatalf("Expected roster %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Expected roster %v, got %v", want, names)
		}
	}

	// first registration wins on resolve
	conn, found := m.ResolveUsername("alice")
	if !found || conn.ID != link1.ID() {
		t.Error("Expected duplicate username to resolve to the earliest registration")
	}

	// roster shrinks and keeps order when the middle entry leaves
	m.UnregisterUsername(link2.ID())
	names = m.Usernames()
	if len(names) != 2 || names[0] != "alice" || names[1] != "alice" {
		t.Errorf("Expected roster [alice alice] after bob left, got %v", names)
	}
}

func TestDeregisterDropsPresence(t *testing.T) {
	m := newTestManager()
	link := register(t, m, "1.1.1.1")
	m.RegisterUsername(link.ID(), "alice")

	m.DeregisterConnection(link.ID())

	if _, found := m.ResolveUsername("alice"); found {
		t.Error("Resolved username of a deregistered connection")
	}
	if names := m.Usernames(); len(names) != 0 {
		t.Errorf("Expected empty roster, got %v", names)
	}
}

// --- Room Management Tests ---

func TestRoomMembership(t *testing.T) {
	m := newTestManager()
	link1 := register(t, m, "1.1.1.1")
	link2 := register(t, m, "2.2.2.2")
	roomID := "main"

	// Join auto-creates the room
	if err := m.JoinRoom(roomID, link1.ID()); err != nil {
		t.Fatalf("JoinRoom (1) failed: %v", err)
	}
	if err := m.JoinRoom(roomID, link2.ID()); err != nil {
		t.Fatalf("JoinRoom (2) failed: %v", err)
	}

	members, err := m.RoomMembers(roomID)
	if err != nil {
		t.Fatalf("RoomMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Expected 2 members in room, got %d", len(members))
	}

	// Leave
	if err := m.LeaveRoom(roomID, link1.ID()); err != nil {
		t.Fatalf("LeaveRoom failed: %v", err)
	}
	members, _ = m.RoomMembers(roomID)
	if len(members) != 1 {
		t.Fatalf("Expected 1 member after leave, got %d", len(members))
	}

	// Leaving a room that doesn't exist is a no-op
	if err := m.LeaveRoom("nowhere", link2.ID()); err != nil {
		t.Errorf("LeaveRoom on missing room returned error: %v", err)
	}

	// Test empty room cleanup
	m.LeaveRoom(roomID, link2.ID())
	if _, found := m.FindRoom(roomID); found {
		t.Error("Expected room to be deleted after last member left, but it was found")
	}
}

func TestRemoveEverywhere(t *testing.T) {
	m := newTestManager()
	link1 := register(t, m, "1.1.1.1")
	link2 := register(t, m, "2.2.2.2")

	m.JoinRoom("main", link1.ID())
	m.JoinRoom("side", link1.ID())
	m.JoinRoom("main", link2.ID())

	m.RemoveEverywhere(link1.ID())

	members, err := m.RoomMembers("main")
	if err != nil {
		t.Fatalf("RoomMembers failed: %v", err)
	}
	if len(members) != 1 || members[0].ID != link2.ID() {
		t.Errorf("Expected only link2 to remain in main")
	}
	if _, found := m.FindRoom("side"); found {
		t.Error("Expected emptied room to be removed")
	}
}

func TestJoinRoomUnknownConnection(t *testing.T) {
	m := newTestManager()
	if err := m.JoinRoom("main", uuid.New()); err == nil {
		t.Error("Expected error joining room with unknown connection")
	}
}

func TestStats(t *testing.T) {
	m := newTestManager()
	link1 := register(t, m, "1.1.1.1")
	register(t, m, "2.2.2.2")
	m.RegisterUsername(link1.ID(), "alice")
	m.JoinRoom("main", link1.ID())

	connections, rooms, registered := m.Stats()
	if connections != 2 || rooms != 1 || registered != 1 {
		t.Errorf("Stats: got (%d, %d, %d), want (2, 1, 1)", connections, rooms, registered)
	}
}
