package chat

// Authorization predicates. Pure reads; handlers must check before any
// mutation so a rejected command leaves zero state change.

// CanView reports whether the identity may focus on or post into the room.
func CanView(id *Identity, room *Room) bool {
	return room.Public || room.InWhitelist(id)
}

// IsAdmin reports whether the identity administers the room.
func IsAdmin(id *Identity, room *Room) bool {
	return room.IsAdmin(id)
}

// CanModerate gates approve/reject/add-admin/remove-user.
func CanModerate(id *Identity, room *Room) bool {
	return IsAdmin(id, room)
}
