package dispatch

import (
	"errors"

	"github.com/ProjectGrinder/network-moment/internal/chat"
	"github.com/ProjectGrinder/network-moment/pkg/protocol"
	"github.com/google/uuid"
)

// One handler per command kind. Every handler validates and authorizes
// before the first mutation, so a returned error always means the shared
// state is untouched.

func (d *Dispatcher) requireIdentity(conn Conn) (*chat.Identity, *Error) {
	id, ok := d.registry.Lookup(conn.ID())
	if !ok {
		return nil, validationf("not registered")
	}
	return id, nil
}

func (d *Dispatcher) requireRoom(name string) (*chat.Room, *Error) {
	room, ok := d.rooms.Get(name)
	if !ok {
		return nil, notFoundf("room %q does not exist", name)
	}
	return room, nil
}

func (d *Dispatcher) requireTarget(name string) (*chat.Identity, *Error) {
	target, ok := d.registry.LookupByName(name)
	if !ok {
		return nil, notFoundf("user %q is not connected", name)
	}
	return target, nil
}

func (d *Dispatcher) handleRegisterUser(conn Conn, cmd protocol.RegisterUser) ([]outbound, error) {
	_, err := d.registry.Register(conn.ID(), cmd.DisplayName, cmd.AvatarRef)
	switch {
	case errors.Is(err, chat.ErrAlreadyBound):
		return nil, validationf("connection already registered")
	case errors.Is(err, chat.ErrNameTaken):
		return nil, conflictf("display name %q already taken", cmd.DisplayName)
	case err != nil:
		return nil, err
	}

	all := d.allConns()
	return []outbound{
		{ev: protocol.Event{Event: protocol.EventUserList, Data: userListData(d.registry.All())}, to: all},
		{ev: protocol.Event{Event: protocol.EventRoomList, Data: roomListData(d.rooms.List())}, to: all},
	}, nil
}

func (d *Dispatcher) handleCreateRoom(conn Conn, cmd protocol.CreateRoom) ([]outbound, error) {
	id, derr := d.requireIdentity(conn)
	if derr != nil {
		return nil, derr
	}

	_, err := d.rooms.Create(cmd.Name, id, cmd.IsPublic, cmd.AvatarRef)
	if errors.Is(err, chat.ErrRoomExists) {
		return nil, conflictf("room name %q already exists", cmd.Name)
	} else if err != nil {
		return nil, err
	}

	return []outbound{
		{ev: protocol.Event{Event: protocol.EventRoomList, Data: roomListData(d.rooms.List())}, to: d.allConns()},
	}, nil
}

func (d *Dispatcher) handleOpenRoom(conn Conn, cmd protocol.OpenRoom) ([]outbound, error) {
	id, derr := d.requireIdentity(conn)
	if derr != nil {
		return nil, derr
	}
	room, derr := d.requireRoom(cmd.Name)
	if derr != nil {
		return nil, derr
	}
	if !chat.CanView(id, room) {
		return nil, authorizationf("you are not whitelisted for this room; request access to join")
	}

	d.focus.Focus(conn.ID(), room.Name)

	return []outbound{
		{ev: protocol.Event{Event: protocol.EventRoomDetail, Data: roomDetail(room)}, to: []uuid.UUID{conn.ID()}},
	}, nil
}

func (d *Dispatcher) handlePostMessage(conn Conn, cmd protocol.PostMessage) ([]outbound, error) {
	id, derr := d.requireIdentity(conn)
	if derr != nil {
		return nil, derr
	}
	room, derr := d.requireRoom(cmd.Name)
	if derr != nil {
		return nil, derr
	}
	if !chat.CanView(id, room) {
		return nil, authorizationf("you are not whitelisted for this room; request access to join")
	}

	room.Append(chat.Message{Author: id, Text: cmd.Text})

	return []outbound{
		{ev: protocol.Event{Event: protocol.EventRoomDetail, Data: roomDetail(room)}, to: d.focus.Focused(room.Name)},
	}, nil
}

func (d *Dispatcher) handleRequestJoin(conn Conn, cmd protocol.RequestJoin) ([]outbound, error) {
	id, derr := d.requireIdentity(conn)
	if derr != nil {
		return nil, derr
	}
	room, derr := d.requireRoom(cmd.Name)
	if derr != nil {
		return nil, derr
	}
	if room.Public {
		return nil, validationf("room %q is public, no join request needed", room.Name)
	}

	requesters := d.pending[room.Name]
	if requesters == nil {
		requesters = make(map[uuid.UUID]struct{})
		d.pending[room.Name] = requesters
	}
	if _, dup := requesters[conn.ID()]; dup {
		// Request already pending; don't spam the admins again.
		return nil, nil
	}
	requesters[conn.ID()] = struct{}{}

	return []outbound{
		{
			ev: protocol.Event{Event: protocol.EventJoinRequested, Data: protocol.JoinRequestedData{Name: room.Name, Requester: userSummary(id)}},
			to: d.adminConns(room),
		},
	}, nil
}

func (d *Dispatcher) handleApproveJoin(conn Conn, cmd protocol.ApproveJoin) ([]outbound, error) {
	id, derr := d.requireIdentity(conn)
	if derr != nil {
		return nil, derr
	}
	room, derr := d.requireRoom(cmd.Name)
	if derr != nil {
		return nil, derr
	}
	if !chat.CanModerate(id, room) {
		return nil, authorizationf("you are not an admin of room %q", room.Name)
	}
	target, derr := d.requireTarget(cmd.TargetName)
	if derr != nil {
		return nil, derr
	}

	room.AddToWhitelist(target)
	d.clearPending(room.Name, target.ConnID)

	resolved := protocol.JoinResolvedData{Name: room.Name, Target: userSummary(target), Accepted: true}
	return []outbound{
		{ev: protocol.Event{Event: protocol.EventRoomDetail, Data: roomDetail(room)}, to: d.focus.Focused(room.Name)},
		{ev: protocol.Event{Event: protocol.EventJoinResolved, Data: resolved}, to: append(d.adminConns(room), target.ConnID)},
	}, nil
}

func (d *Dispatcher) handleRejectJoin(conn Conn, cmd protocol.RejectJoin) ([]outbound, error) {
	id, derr := d.requireIdentity(conn)
	if derr != nil {
		return nil, derr
	}
	room, derr := d.requireRoom(cmd.Name)
	if derr != nil {
		return nil, derr
	}
	if !chat.CanModerate(id, room) {
		return nil, authorizationf("you are not an admin of room %q", room.Name)
	}
	target, derr := d.requireTarget(cmd.TargetName)
	if derr != nil {
		return nil, derr
	}

	d.clearPending(room.Name, target.ConnID)

	resolved := protocol.JoinResolvedData{Name: room.Name, Target: userSummary(target), Accepted: false}
	return []outbound{
		{ev: protocol.Event{Event: protocol.EventJoinResolved, Data: resolved}, to: append(d.adminConns(room), target.ConnID)},
	}, nil
}

func (d *Dispatcher) handleAddAdmin(conn Conn, cmd protocol.AddAdmin) ([]outbound, error) {
	id, derr := d.requireIdentity(conn)
	if derr != nil {
		return nil, derr
	}
	room, derr := d.requireRoom(cmd.Name)
	if derr != nil {
		return nil, derr
	}
	if !chat.CanModerate(id, room) {
		return nil, authorizationf("you are not an admin of room %q", room.Name)
	}
	target, derr := d.requireTarget(cmd.TargetName)
	if derr != nil {
		return nil, derr
	}
	if !room.InWhitelist(target) {
		return nil, validationf("user %q is not whitelisted in room %q", target.DisplayName, room.Name)
	}

	room.AddAdmin(target)

	return []outbound{
		{ev: protocol.Event{Event: protocol.EventRoomDetail, Data: roomDetail(room)}, to: d.focus.Focused(room.Name)},
		{ev: protocol.Event{Event: protocol.EventRoomDetail, Data: roomDetail(room)}, to: []uuid.UUID{target.ConnID}},
	}, nil
}

func (d *Dispatcher) handleRemoveUser(conn Conn, cmd protocol.RemoveUser) ([]outbound, error) {
	id, derr := d.requireIdentity(conn)
	if derr != nil {
		return nil, derr
	}
	room, derr := d.requireRoom(cmd.Name)
	if derr != nil {
		return nil, derr
	}
	if !chat.CanModerate(id, room) {
		return nil, authorizationf("you are not an admin of room %q", room.Name)
	}
	target, derr := d.requireTarget(cmd.TargetName)
	if derr != nil {
		return nil, derr
	}

	room.RemoveFromWhitelist(target)
	deleted := false
	if room.IsAdmin(target) {
		deleted = d.rooms.RemoveAdmin(room, target)
	}
	if focused, ok := d.focus.Room(target.ConnID); ok && focused == room.Name {
		d.focus.Unfocus(target.ConnID)
	}
	d.clearPending(room.Name, target.ConnID)

	var outs []outbound
	if deleted {
		d.focus.DropRoom(room.Name)
		delete(d.pending, room.Name)
		outs = append(outs, outbound{
			ev: protocol.Event{Event: protocol.EventRoomDeleted, Data: protocol.RoomDeletedData{Name: room.Name}},
			to: d.allConns(),
		})
	} else {
		outs = append(outs, outbound{
			ev: protocol.Event{Event: protocol.EventRoomDetail, Data: roomDetail(room)},
			to: d.focus.Focused(room.Name),
		})
	}
	outs = append(outs, outbound{
		ev: protocol.Event{Event: protocol.EventAccessRevoked, Data: protocol.AccessRevokedData{Name: room.Name}},
		to: []uuid.UUID{target.ConnID},
	})
	return outs, nil
}

func (d *Dispatcher) handleInbox(conn Conn, cmd protocol.Inbox) ([]outbound, error) {
	sender, derr := d.requireIdentity(conn)
	if derr != nil {
		return nil, derr
	}
	target, derr := d.requireTarget(cmd.TargetName)
	if derr != nil {
		return nil, derr
	}

	// Direct relay, no persisted state.
	return []outbound{
		{
			ev: protocol.Event{Event: protocol.EventInboxMessage, Data: protocol.InboxMessageData{Sender: userSummary(sender), Text: cmd.Text}},
			to: []uuid.UUID{target.ConnID},
		},
	}, nil
}

func (d *Dispatcher) handleSnapshot(conn Conn) ([]outbound, error) {
	if _, derr := d.requireIdentity(conn); derr != nil {
		return nil, derr
	}

	self := []uuid.UUID{conn.ID()}
	outs := []outbound{
		{ev: protocol.Event{Event: protocol.EventUserList, Data: userListData(d.registry.All())}, to: self},
		{ev: protocol.Event{Event: protocol.EventRoomList, Data: roomListData(d.rooms.List())}, to: self},
	}
	if name, ok := d.focus.Room(conn.ID()); ok {
		if room, exists := d.rooms.Get(name); exists {
			outs = append(outs, outbound{ev: protocol.Event{Event: protocol.EventRoomDetail, Data: roomDetail(room)}, to: self})
		}
	}
	return outs, nil
}

func (d *Dispatcher) handleHeartbeat(conn Conn) ([]outbound, error) {
	return []outbound{
		{ev: protocol.Event{Event: protocol.EventHeartbeatAck, Data: struct{}{}}, to: []uuid.UUID{conn.ID()}},
	}, nil
}

func (d *Dispatcher) clearPending(roomName string, connID uuid.UUID) {
	if requesters, ok := d.pending[roomName]; ok {
		delete(requesters, connID)
		if len(requesters) == 0 {
			delete(d.pending, roomName)
		}
	}
}
