package dispatch

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ProjectGrinder/network-moment/internal/chat"
	"github.com/ProjectGrinder/network-moment/pkg/protocol"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// fakeConn is an in-memory stand-in for the transport collaborator. Setting
// fail makes every Send report a dead peer.
type fakeConn struct {
	id       uuid.UUID
	sent     [][]byte
	fail     bool
	noPush   bool
	closed   bool
	closeErr error
	onClose  func(err error)
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.New()}
}

func (f *fakeConn) ID() uuid.UUID      { return f.id }
func (f *fakeConn) SupportsPush() bool { return !f.noPush }

func (f *fakeConn) Close(err error) {
	f.closed = true
	f.closeErr = err
	if f.onClose != nil {
		f.onClose(err)
	}
}

func (f *fakeConn) Send(msg []byte) error {
	if f.fail {
		return errors.New("connection closed")
	}
	f.sent = append(f.sent, msg)
	return nil
}

// events returns the names of every event delivered to this connection.
func (f *fakeConn) events() []string {
	var out []string
	for _, msg := range f.sent {
		out = append(out, gjson.GetBytes(msg, "event").Str)
	}
	return out
}

// last returns the payload of the most recent event, failing if none arrived.
func (f *fakeConn) last(t *testing.T) gjson.Result {
	t.Helper()
	require.NotEmpty(t, f.sent, "expected at least one event")
	return gjson.ParseBytes(f.sent[len(f.sent)-1])
}

func (f *fakeConn) reset() { f.sent = nil }

type harness struct {
	d        *Dispatcher
	registry *chat.Registry
	rooms    *chat.Directory
	focus    *chat.FocusTracker
}

func newHarness() *harness {
	logger := newTestLogger()
	registry := chat.NewRegistry(logger)
	rooms := chat.NewDirectory(logger)
	focus := chat.NewFocusTracker()
	bcast := NewBroadcaster(logger)
	return &harness{
		d:        New(logger, registry, rooms, focus, bcast),
		registry: registry,
		rooms:    rooms,
		focus:    focus,
	}
}

// connect attaches a fresh fake connection. Commands are stepped through the
// loop body directly, so tests stay synchronous and deterministic.
func (h *harness) connect() *fakeConn {
	f := newFakeConn()
	h.d.step(envelope{op: opAttach, conn: f, connID: f.id})
	return f
}

func (h *harness) send(f *fakeConn, cmd protocol.Command) {
	h.d.step(envelope{op: opCommand, connID: f.id, cmd: cmd})
}

func (h *harness) disconnect(f *fakeConn) {
	h.d.step(envelope{op: opDetach, connID: f.id})
}

func (h *harness) register(t *testing.T, f *fakeConn, name string, avatar int) {
	t.Helper()
	h.send(f, protocol.RegisterUser{DisplayName: name, AvatarRef: avatar})
	require.Contains(t, f.events(), protocol.EventUserList, "registration should have succeeded")
	f.reset()
}

// --- Registration ---

func TestRegisterUser_BroadcastsListsToAll(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)

	h.send(bob, protocol.RegisterUser{DisplayName: "bob", AvatarRef: 2})

	// Both connected identities see the refreshed lists.
	require.Equal(t, []string{protocol.EventUserList, protocol.EventRoomList}, bob.events())
	require.Equal(t, []string{protocol.EventUserList, protocol.EventRoomList}, alice.events())

	users := bob.last(t).Get("data.rooms")
	require.True(t, users.Exists())

	userList := gjson.ParseBytes(bob.sent[0]).Get("data.users").Array()
	require.Len(t, userList, 2)
	require.Equal(t, "alice", userList[0].Get("displayName").Str)
	require.Equal(t, int64(1), userList[0].Get("avatarRef").Int())
	require.Equal(t, "bob", userList[1].Get("displayName").Str)
}

func TestRegisterUser_DuplicateNameConflicts(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	imposter := h.connect()
	h.register(t, alice, "alice", 1)

	h.send(imposter, protocol.RegisterUser{DisplayName: "alice", AvatarRef: 9})

	last := imposter.last(t)
	require.Equal(t, protocol.EventError, last.Get("event").Str)
	require.Equal(t, protocol.KindRegisterUser, last.Get("data.command").Str)
	require.Len(t, h.registry.All(), 1)
}

func TestRegisterUser_DoubleRegistrationRejected(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	h.register(t, alice, "alice", 1)

	h.send(alice, protocol.RegisterUser{DisplayName: "alice2", AvatarRef: 2})

	require.Equal(t, protocol.EventError, alice.last(t).Get("event").Str)
	_, ok := h.registry.LookupByName("alice2")
	require.False(t, ok)
}

func TestCommandFromUnregisteredConnectionRejected(t *testing.T) {
	h := newHarness()
	conn := h.connect()

	h.send(conn, protocol.CreateRoom{Name: "team", IsPublic: true})

	require.Equal(t, protocol.EventError, conn.last(t).Get("event").Str)
	require.Empty(t, h.rooms.List())
}

// --- Rooms ---

func TestCreateRoom_WhitelistsCreatorEvenWhenPublic(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	h.register(t, alice, "alice", 1)

	h.send(alice, protocol.CreateRoom{Name: "lobby", IsPublic: true})

	require.Equal(t, []string{protocol.EventRoomList}, alice.events())
	room, ok := h.rooms.Get("lobby")
	require.True(t, ok)
	id, _ := h.registry.LookupByName("alice")
	require.True(t, room.IsAdmin(id))
	require.True(t, room.InWhitelist(id))
}

func TestCreateRoom_DuplicateNameConflicts(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)

	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	h.send(bob, protocol.CreateRoom{Name: "team", IsPublic: true})

	require.Equal(t, protocol.EventError, bob.last(t).Get("event").Str)
	room, _ := h.rooms.Get("team")
	require.False(t, room.Public, "original room must be untouched")
}

func TestOpenRoom_FocusIsIdempotent(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	h.register(t, alice, "alice", 1)
	h.send(alice, protocol.CreateRoom{Name: "lobby", IsPublic: true})

	h.send(alice, protocol.OpenRoom{Name: "lobby"})
	h.send(alice, protocol.OpenRoom{Name: "lobby"})

	require.Equal(t, []uuid.UUID{alice.id}, h.focus.Focused("lobby"))
	room, ok := h.focus.Room(alice.id)
	require.True(t, ok)
	require.Equal(t, "lobby", room)
}

func TestOpenRoom_MovesFocusBetweenRooms(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	h.register(t, alice, "alice", 1)
	h.send(alice, protocol.CreateRoom{Name: "one", IsPublic: true})
	h.send(alice, protocol.CreateRoom{Name: "two", IsPublic: true})

	h.send(alice, protocol.OpenRoom{Name: "one"})
	h.send(alice, protocol.OpenRoom{Name: "two"})

	require.Empty(t, h.focus.Focused("one"))
	require.Equal(t, []uuid.UUID{alice.id}, h.focus.Focused("two"))
}

func TestOpenRoom_PrivateRoomDeniedWithoutWhitelist(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	bob.reset()

	h.send(bob, protocol.OpenRoom{Name: "team"})

	require.Equal(t, []string{protocol.EventAccessDenied}, bob.events())
	require.Empty(t, h.focus.Focused("team"))
}

func TestOpenRoom_UnknownRoomNotFound(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	h.register(t, alice, "alice", 1)

	h.send(alice, protocol.OpenRoom{Name: "ghost"})

	require.Equal(t, protocol.EventError, alice.last(t).Get("event").Str)
}

// --- Messages ---

func TestPostMessage_AppendsAndNotifiesFocused(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "lobby", IsPublic: true})
	h.send(alice, protocol.OpenRoom{Name: "lobby"})
	h.send(bob, protocol.OpenRoom{Name: "lobby"})
	alice.reset()
	bob.reset()

	h.send(alice, protocol.PostMessage{Name: "lobby", Text: "hello"})

	room, _ := h.rooms.Get("lobby")
	require.Len(t, room.Messages, 1)
	require.Equal(t, "hello", room.Messages[0].Text)

	for _, conn := range []*fakeConn{alice, bob} {
		last := conn.last(t)
		require.Equal(t, protocol.EventRoomDetail, last.Get("event").Str)
		msgs := last.Get("data.messages").Array()
		require.Len(t, msgs, 1)
		require.Equal(t, "alice", msgs[0].Get("author.displayName").Str)
		require.Equal(t, "hello", msgs[0].Get("text").Str)
	}
}

func TestPostMessage_DeniedLeavesLogUntouched(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	bob.reset()

	h.send(bob, protocol.PostMessage{Name: "team", Text: "let me in"})

	require.Equal(t, []string{protocol.EventAccessDenied}, bob.events())
	room, _ := h.rooms.Get("team")
	require.Empty(t, room.Messages)
}

func TestPostMessage_NotDeliveredToUnfocusedConnections(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "lobby", IsPublic: true})
	h.send(alice, protocol.OpenRoom{Name: "lobby"})
	alice.reset()
	bob.reset()

	h.send(alice, protocol.PostMessage{Name: "lobby", Text: "hello"})

	require.Contains(t, alice.events(), protocol.EventRoomDetail)
	require.Empty(t, bob.events(), "room detail is scoped to focused connections")
}

// --- Join requests ---

func TestRequestJoin_NotifiesAdmins(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	alice.reset()
	bob.reset()

	h.send(bob, protocol.RequestJoin{Name: "team"})

	require.Equal(t, []string{protocol.EventJoinRequested}, alice.events())
	last := alice.last(t)
	require.Equal(t, "team", last.Get("data.name").Str)
	require.Equal(t, "bob", last.Get("data.requester.displayName").Str)
	require.Empty(t, bob.events())
}

func TestRequestJoin_DuplicateRequestNotRenotified(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	alice.reset()

	h.send(bob, protocol.RequestJoin{Name: "team"})
	h.send(bob, protocol.RequestJoin{Name: "team"})

	require.Equal(t, []string{protocol.EventJoinRequested}, alice.events())
}

func TestRequestJoin_PublicRoomRejected(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "lobby", IsPublic: true})
	bob.reset()

	h.send(bob, protocol.RequestJoin{Name: "lobby"})

	require.Equal(t, protocol.EventError, bob.last(t).Get("event").Str)
}

func TestApproveJoin_WhitelistsTargetAndResolves(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	h.send(bob, protocol.RequestJoin{Name: "team"})
	alice.reset()
	bob.reset()

	h.send(alice, protocol.ApproveJoin{Name: "team", TargetName: "bob"})

	room, _ := h.rooms.Get("team")
	bobID, _ := h.registry.LookupByName("bob")
	require.True(t, room.InWhitelist(bobID))
	require.False(t, room.IsAdmin(bobID))

	require.Contains(t, alice.events(), protocol.EventJoinResolved)
	require.Equal(t, []string{protocol.EventJoinResolved}, bob.events())
	resolved := bob.last(t)
	require.True(t, resolved.Get("data.accepted").Bool())
	require.Equal(t, "bob", resolved.Get("data.target.displayName").Str)

	// The pending mark is cleared, so a fresh request notifies again.
	alice.reset()
	h.send(bob, protocol.RequestJoin{Name: "team"})
	require.Equal(t, []string{protocol.EventJoinRequested}, alice.events())
}

func TestApproveJoin_RequiresModerator(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	bob.reset()

	h.send(bob, protocol.ApproveJoin{Name: "team", TargetName: "bob"})

	require.Equal(t, []string{protocol.EventAccessDenied}, bob.events())
	room, _ := h.rooms.Get("team")
	bobID, _ := h.registry.LookupByName("bob")
	require.False(t, room.InWhitelist(bobID))
}

func TestRejectJoin_ResolvesWithoutMutation(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	h.send(bob, protocol.RequestJoin{Name: "team"})
	alice.reset()
	bob.reset()

	h.send(alice, protocol.RejectJoin{Name: "team", TargetName: "bob"})

	room, _ := h.rooms.Get("team")
	bobID, _ := h.registry.LookupByName("bob")
	require.False(t, room.InWhitelist(bobID))

	resolved := bob.last(t)
	require.Equal(t, protocol.EventJoinResolved, resolved.Get("event").Str)
	require.False(t, resolved.Get("data.accepted").Bool())
}

// --- Admin management ---

func TestAddAdmin_RequiresWhitelistedTarget(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	alice.reset()

	// Pre-whitelist promotion must fail with zero mutation.
	h.send(alice, protocol.AddAdmin{Name: "team", TargetName: "bob"})
	require.Equal(t, protocol.EventError, alice.last(t).Get("event").Str)
	room, _ := h.rooms.Get("team")
	bobID, _ := h.registry.LookupByName("bob")
	require.False(t, room.IsAdmin(bobID))

	// After approval the same promotion succeeds.
	h.send(alice, protocol.ApproveJoin{Name: "team", TargetName: "bob"})
	bob.reset()
	h.send(alice, protocol.AddAdmin{Name: "team", TargetName: "bob"})

	require.True(t, room.IsAdmin(bobID))
	require.Equal(t, []string{protocol.EventRoomDetail}, bob.events(), "target is told about its promotion")
}

func TestAddAdmin_RequiresModerator(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	h.send(alice, protocol.ApproveJoin{Name: "team", TargetName: "bob"})
	bob.reset()

	h.send(bob, protocol.AddAdmin{Name: "team", TargetName: "bob"})

	require.Equal(t, []string{protocol.EventAccessDenied}, bob.events())
}

// --- Removal and deletion ---

func TestRemoveUser_RevokesAccessAndUnfocuses(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	h.send(alice, protocol.ApproveJoin{Name: "team", TargetName: "bob"})
	h.send(bob, protocol.OpenRoom{Name: "team"})
	alice.reset()
	bob.reset()

	h.send(alice, protocol.RemoveUser{Name: "team", TargetName: "bob"})

	room, ok := h.rooms.Get("team")
	require.True(t, ok, "room survives while alice remains admin")
	bobID, _ := h.registry.LookupByName("bob")
	require.False(t, room.InWhitelist(bobID))
	require.NotContains(t, h.focus.Focused("team"), bob.id)
	require.Equal(t, []string{protocol.EventAccessRevoked}, bob.events())
	require.Equal(t, "team", bob.last(t).Get("data.name").Str)
}

func TestRemoveUser_LastAdminDeletesRoom(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	h.send(alice, protocol.OpenRoom{Name: "team"})
	alice.reset()
	bob.reset()

	// Admin removes itself; the admin set empties and the room dies.
	h.send(alice, protocol.RemoveUser{Name: "team", TargetName: "alice"})

	_, ok := h.rooms.Get("team")
	require.False(t, ok)
	require.Empty(t, h.focus.Focused("team"))

	require.Contains(t, alice.events(), protocol.EventRoomDeleted)
	require.Contains(t, alice.events(), protocol.EventAccessRevoked)
	require.Equal(t, []string{protocol.EventRoomDeleted}, bob.events())
}

// --- Inbox ---

func TestInbox_RelaysDirectlyToTarget(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	alice.reset()
	bob.reset()

	h.send(alice, protocol.Inbox{TargetName: "bob", Text: "psst"})

	require.Empty(t, alice.events())
	last := bob.last(t)
	require.Equal(t, protocol.EventInboxMessage, last.Get("event").Str)
	require.Equal(t, "alice", last.Get("data.sender.displayName").Str)
	require.Equal(t, "psst", last.Get("data.text").Str)
}

func TestInbox_UnknownTargetNotFound(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	h.register(t, alice, "alice", 1)

	h.send(alice, protocol.Inbox{TargetName: "ghost", Text: "hello?"})

	require.Equal(t, protocol.EventError, alice.last(t).Get("event").Str)
}

// --- Snapshot and heartbeat ---

func TestSnapshot_ReturnsListsAndFocusedDetail(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	h.register(t, alice, "alice", 1)
	h.send(alice, protocol.CreateRoom{Name: "lobby", IsPublic: true})
	h.send(alice, protocol.OpenRoom{Name: "lobby"})
	alice.reset()

	h.send(alice, protocol.SnapshotRequest{})

	require.Equal(t, []string{protocol.EventUserList, protocol.EventRoomList, protocol.EventRoomDetail}, alice.events())
}

func TestSnapshot_WithoutFocusOmitsDetail(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	h.register(t, alice, "alice", 1)
	alice.reset()

	h.send(alice, protocol.SnapshotRequest{})

	require.Equal(t, []string{protocol.EventUserList, protocol.EventRoomList}, alice.events())
}

func TestHeartbeat_Acknowledged(t *testing.T) {
	h := newHarness()
	conn := h.connect()

	h.send(conn, protocol.Heartbeat{})

	require.Equal(t, []string{protocol.EventHeartbeatAck}, conn.events())
}

// --- Decode failures ---

func TestMalformedCommandReportsErrorWithoutMutation(t *testing.T) {
	h := newHarness()
	conn := h.connect()

	cmd, err := protocol.Decode([]byte(`{"kind":"register-user","payload":{"displayName":""}}`))
	require.Error(t, err)
	h.d.step(envelope{op: opCommand, connID: conn.id, cmd: cmd, decodeErr: err})

	last := conn.last(t)
	require.Equal(t, protocol.EventError, last.Get("event").Str)
	require.Equal(t, protocol.KindRegisterUser, last.Get("data.command").Str)
	require.Empty(t, h.registry.All())
}

func TestUnknownCommandKeepsConnectionOpen(t *testing.T) {
	h := newHarness()
	conn := h.connect()

	cmd, err := protocol.Decode([]byte(`{"kind":"warp-drive","payload":{}}`))
	require.Error(t, err)
	h.d.step(envelope{op: opCommand, connID: conn.id, cmd: cmd, decodeErr: err})

	require.Equal(t, protocol.EventError, conn.last(t).Get("event").Str)
	require.False(t, conn.closed)

	// The connection keeps working afterwards.
	conn.reset()
	h.send(conn, protocol.Heartbeat{})
	require.Equal(t, []string{protocol.EventHeartbeatAck}, conn.events())
}

// --- Disconnect and eviction ---

func TestDisconnect_LastAdminDeletesRoomAndFreesName(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	bob.reset()

	h.disconnect(alice)

	_, ok := h.rooms.Get("team")
	require.False(t, ok)
	require.Contains(t, bob.events(), protocol.EventRoomDeleted)
	require.Contains(t, bob.events(), protocol.EventUserList)

	// The display name is free for a newcomer immediately.
	carol := h.connect()
	h.send(carol, protocol.RegisterUser{DisplayName: "alice", AvatarRef: 3})
	require.Contains(t, carol.events(), protocol.EventUserList)
}

func TestDisconnect_SurvivingCoAdminKeepsRoom(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	h.send(alice, protocol.ApproveJoin{Name: "team", TargetName: "bob"})
	h.send(alice, protocol.AddAdmin{Name: "team", TargetName: "bob"})
	h.send(bob, protocol.OpenRoom{Name: "team"})
	bob.reset()

	h.disconnect(alice)

	room, ok := h.rooms.Get("team")
	require.True(t, ok)
	bobID, _ := h.registry.LookupByName("bob")
	require.True(t, room.IsAdmin(bobID))

	// Focused survivor sees the shrunken admin list and the user list.
	require.Contains(t, bob.events(), protocol.EventRoomDetail)
	require.Contains(t, bob.events(), protocol.EventUserList)
}

func TestDisconnect_ClearsPendingJoinRequest(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bob := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bob, "bob", 2)
	h.send(alice, protocol.CreateRoom{Name: "team", IsPublic: false})
	h.send(bob, protocol.RequestJoin{Name: "team"})

	h.disconnect(bob)

	// A fresh connection under the same name is a new requester.
	bob2 := h.connect()
	h.register(t, bob2, "bob", 2)
	alice.reset()
	h.send(bob2, protocol.RequestJoin{Name: "team"})
	require.Equal(t, []string{protocol.EventJoinRequested}, alice.events())
}

func TestFanoutIsolation_DeadRecipientDoesNotBlockSiblings(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	bobA := h.connect()
	bobB := h.connect()
	h.register(t, alice, "alice", 1)
	h.register(t, bobA, "bravo", 2)
	h.register(t, bobB, "charlie", 3)
	h.send(alice, protocol.CreateRoom{Name: "lobby", IsPublic: true})
	h.send(alice, protocol.OpenRoom{Name: "lobby"})
	h.send(bobA, protocol.OpenRoom{Name: "lobby"})
	h.send(bobB, protocol.OpenRoom{Name: "lobby"})
	alice.reset()
	bobA.reset()

	bobB.fail = true
	h.send(alice, protocol.PostMessage{Name: "lobby", Text: "hello"})

	// Healthy recipients still got the update.
	require.Contains(t, alice.events(), protocol.EventRoomDetail)
	require.Contains(t, bobA.events(), protocol.EventRoomDetail)

	// The dead peer was evicted like a disconnect.
	require.True(t, bobB.closed)
	_, ok := h.registry.LookupByName("charlie")
	require.False(t, ok)
	require.NotContains(t, h.focus.Focused("lobby"), bobB.id)
}

func TestEviction_IsIdempotent(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	h.register(t, alice, "alice", 1)

	h.disconnect(alice)
	h.disconnect(alice) // second detach must be a clean no-op

	require.Empty(t, h.registry.All())
}

func TestEviction_FullIntakeDoesNotStallTheLoop(t *testing.T) {
	h := newHarness()
	alice := h.connect()
	h.register(t, alice, "alice", 1)

	// Mirror the server's close callback: only closes the loop did not
	// initiate are fed back through Disconnect.
	alice.onClose = func(err error) {
		if errors.Is(err, ErrEvicted) {
			return
		}
		h.d.Disconnect(alice.id, err)
	}

	// Saturate intake so any re-entrant send from inside the loop would
	// block the loop on the channel only it drains.
	for i := 0; i < cap(h.d.intake); i++ {
		h.d.intake <- envelope{op: opCommand, connID: uuid.New()}
	}

	done := make(chan struct{})
	go func() {
		h.d.step(envelope{op: opDetach, connID: alice.id})
		close(done)
	}()
	select {
	case <-done:
		require.ErrorIs(t, alice.closeErr, ErrEvicted)
	case <-time.After(2 * time.Second):
		t.Fatal("eviction blocked on the intake channel it drains")
	}
}
