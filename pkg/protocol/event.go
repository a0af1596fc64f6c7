package protocol

import "encoding/json"

// Outbound event kinds.
const (
	EventUserList      = "user-list-updated"
	EventRoomList      = "room-list-updated"
	EventRoomDetail    = "room-detail-updated"
	EventRoomDeleted   = "room-deleted"
	EventJoinRequested = "join-requested"
	EventJoinResolved  = "join-resolved"
	EventAccessDenied  = "access-denied"
	EventAccessRevoked = "access-revoked"
	EventInboxMessage  = "inbox-message"
	EventHeartbeatAck  = "heartbeat-ack"
	EventError         = "error"
)

// Event is the outbound envelope {event, data}.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UserSummary is the public view of an identity.
type UserSummary struct {
	DisplayName string `json:"displayName"`
	AvatarRef   int    `json:"avatarRef"`
}

// RoomSummary is visible to every connected identity.
type RoomSummary struct {
	Name      string `json:"name"`
	IsPublic  bool   `json:"isPublic"`
	AvatarRef *int   `json:"avatarRef,omitempty"`
}

// RoomDetail is delivered only to connections focused on the room.
type RoomDetail struct {
	Name      string        `json:"name"`
	Admins    []UserSummary `json:"admins"`
	Whitelist []UserSummary `json:"whitelist"`
	Messages  []MessageView `json:"messages"`
}

type MessageView struct {
	Author UserSummary `json:"author"`
	Text   string      `json:"text"`
}

type UserListData struct {
	Users []UserSummary `json:"users"`
}

type RoomListData struct {
	Rooms []RoomSummary `json:"rooms"`
}

type RoomDeletedData struct {
	Name string `json:"name"`
}

type JoinRequestedData struct {
	Name      string      `json:"name"`
	Requester UserSummary `json:"requester"`
}

type JoinResolvedData struct {
	Name     string      `json:"name"`
	Target   UserSummary `json:"target"`
	Accepted bool        `json:"accepted"`
}

type AccessDeniedData struct {
	Message string `json:"message"`
}

type AccessRevokedData struct {
	Name string `json:"name"`
}

type InboxMessageData struct {
	Sender UserSummary `json:"sender"`
	Text   string      `json:"text"`
}

type ErrorData struct {
	Command string `json:"command"`
	Message string `json:"message"`
}
