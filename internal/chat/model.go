package chat

import (
	"errors"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	ErrNameTaken    = errors.New("display name already taken")
	ErrRoomExists   = errors.New("room name already exists")
	ErrAlreadyBound = errors.New("connection already bound to an identity")
)

// Identity is a registered participant bound to exactly one live connection.
// It lives from a successful register until that connection goes away.
type Identity struct {
	ConnID      uuid.UUID
	DisplayName string
	AvatarRef   int
}

// Message is immutable once appended and owned exclusively by its room.
type Message struct {
	Author *Identity
	Text   string
}

// Room is a named channel with admins, a whitelist and an append-only log.
// Admin and whitelist sets hold identity references; membership is pointer
// identity, so a reconnected user under the same name is a fresh identity
// and does not inherit old grants.
type Room struct {
	Name      string
	Public    bool
	AvatarRef *int
	Admins    []*Identity
	Whitelist []*Identity
	Messages  []Message
}

func (r *Room) IsAdmin(id *Identity) bool {
	return lo.Contains(r.Admins, id)
}

func (r *Room) InWhitelist(id *Identity) bool {
	return lo.Contains(r.Whitelist, id)
}

// AddToWhitelist is idempotent.
func (r *Room) AddToWhitelist(id *Identity) {
	if !r.InWhitelist(id) {
		r.Whitelist = append(r.Whitelist, id)
	}
}

func (r *Room) RemoveFromWhitelist(id *Identity) {
	r.Whitelist = lo.Without(r.Whitelist, id)
}

// AddAdmin is idempotent.
func (r *Room) AddAdmin(id *Identity) {
	if !r.IsAdmin(id) {
		r.Admins = append(r.Admins, id)
	}
}

// RemoveAdmin reports whether the admin set is empty afterwards, in which
// case the room must be deleted from the directory.
func (r *Room) RemoveAdmin(id *Identity) (empty bool) {
	r.Admins = lo.Without(r.Admins, id)
	return len(r.Admins) == 0
}

func (r *Room) Append(msg Message) {
	r.Messages = append(r.Messages, msg)
}
