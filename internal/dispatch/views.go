package dispatch

import (
	"github.com/ProjectGrinder/network-moment/internal/chat"
	"github.com/ProjectGrinder/network-moment/pkg/protocol"
	"github.com/samber/lo"
)

// Wire projections of the in-memory model. Summaries go to everyone; detail
// goes only to focused connections.

func userSummary(id *chat.Identity) protocol.UserSummary {
	return protocol.UserSummary{DisplayName: id.DisplayName, AvatarRef: id.AvatarRef}
}

func userListData(ids []*chat.Identity) protocol.UserListData {
	return protocol.UserListData{Users: lo.Map(ids, func(id *chat.Identity, _ int) protocol.UserSummary {
		return userSummary(id)
	})}
}

func roomSummary(room *chat.Room) protocol.RoomSummary {
	return protocol.RoomSummary{Name: room.Name, IsPublic: room.Public, AvatarRef: room.AvatarRef}
}

func roomListData(rooms []*chat.Room) protocol.RoomListData {
	return protocol.RoomListData{Rooms: lo.Map(rooms, func(r *chat.Room, _ int) protocol.RoomSummary {
		return roomSummary(r)
	})}
}

func roomDetail(room *chat.Room) protocol.RoomDetail {
	return protocol.RoomDetail{
		Name: room.Name,
		Admins: lo.Map(room.Admins, func(id *chat.Identity, _ int) protocol.UserSummary {
			return userSummary(id)
		}),
		Whitelist: lo.Map(room.Whitelist, func(id *chat.Identity, _ int) protocol.UserSummary {
			return userSummary(id)
		}),
		Messages: lo.Map(room.Messages, func(m chat.Message, _ int) protocol.MessageView {
			return protocol.MessageView{Author: userSummary(m.Author), Text: m.Text}
		}),
	}
}
