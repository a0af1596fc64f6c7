package chat

import (
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// FocusTracker maps each connection to the single room it currently
// observes. Room-detail events are scoped to a room's focus set.
type FocusTracker struct {
	byConn map[uuid.UUID]string
	byRoom map[string][]uuid.UUID // focus order, kept stable for deterministic fan-out
}

func NewFocusTracker() *FocusTracker {
	return &FocusTracker{
		byConn: make(map[uuid.UUID]string),
		byRoom: make(map[string][]uuid.UUID),
	}
}

// Focus moves the connection's observation to roomName, dropping any prior
// focus first so a connection never appears in two focus sets.
func (t *FocusTracker) Focus(connID uuid.UUID, roomName string) {
	t.Unfocus(connID)
	t.byConn[connID] = roomName
	t.byRoom[roomName] = append(t.byRoom[roomName], connID)
}

// Unfocus removes the connection from whatever room it observes, if any.
func (t *FocusTracker) Unfocus(connID uuid.UUID) {
	prev, ok := t.byConn[connID]
	if !ok {
		return
	}
	delete(t.byConn, connID)
	t.byRoom[prev] = lo.Without(t.byRoom[prev], connID)
	if len(t.byRoom[prev]) == 0 {
		delete(t.byRoom, prev)
	}
}

// DropRoom clears every focus entry for a deleted room.
func (t *FocusTracker) DropRoom(roomName string) {
	for _, connID := range t.byRoom[roomName] {
		delete(t.byConn, connID)
	}
	delete(t.byRoom, roomName)
}

// Focused returns a snapshot of the connections observing roomName.
func (t *FocusTracker) Focused(roomName string) []uuid.UUID {
	conns := t.byRoom[roomName]
	out := make([]uuid.UUID, len(conns))
	copy(out, conns)
	return out
}

// Room reports which room the connection observes, if any.
func (t *FocusTracker) Room(connID uuid.UUID) (string, bool) {
	name, ok := t.byConn[connID]
	return name, ok
}
