package chat

import (
	"log/slog"

	"github.com/samber/lo"
)

// Directory owns all live rooms. Like the registry it is single-writer:
// only the dispatch loop mutates it.
type Directory struct {
	rooms map[string]*Room
	order []*Room // creation order, kept stable for deterministic summaries

	logger *slog.Logger
}

func NewDirectory(logger *slog.Logger) *Directory {
	return &Directory{
		rooms:  make(map[string]*Room),
		logger: logger.With(slog.String("component", "room_directory")),
	}
}

// Create adds a room with the creator as sole admin. The creator is also
// whitelisted unconditionally, public or not.
func (d *Directory) Create(name string, creator *Identity, public bool, avatarRef *int) (*Room, error) {
	if _, exists := d.rooms[name]; exists {
		return nil, ErrRoomExists
	}

	room := &Room{
		Name:      name,
		Public:    public,
		AvatarRef: avatarRef,
		Admins:    []*Identity{creator},
		Whitelist: []*Identity{creator},
	}
	d.rooms[name] = room
	d.order = append(d.order, room)

	d.logger.Debug("Room created", slog.String("room", name), slog.Bool("public", public), slog.String("creator", creator.DisplayName))
	return room, nil
}

func (d *Directory) Get(name string) (*Room, bool) {
	room, ok := d.rooms[name]
	return room, ok
}

func (d *Directory) Delete(name string) {
	room, ok := d.rooms[name]
	if !ok {
		return
	}
	delete(d.rooms, name)
	d.order = lo.Without(d.order, room)
	d.logger.Debug("Room deleted", slog.String("room", name))
}

// RemoveAdmin strips admin rights and deletes the room when its admin set
// empties. A room without admins must not survive in the directory.
func (d *Directory) RemoveAdmin(room *Room, id *Identity) (deleted bool) {
	if room.RemoveAdmin(id) {
		d.Delete(room.Name)
		return true
	}
	return false
}

// List returns a snapshot in creation order.
func (d *Directory) List() []*Room {
	out := make([]*Room, len(d.order))
	copy(out, d.order)
	return out
}
