package chat

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Registry binds connections to identities. It is mutated only from the
// dispatch loop (single-writer discipline), so it carries no lock.
type Registry struct {
	byConn map[uuid.UUID]*Identity
	byName map[string]*Identity
	order  []*Identity // registration order, kept stable for deterministic fan-out

	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byConn: make(map[uuid.UUID]*Identity),
		byName: make(map[string]*Identity),
		logger: logger.With(slog.String("component", "identity_registry")),
	}
}

// Register binds an identity to a connection. The display name must be free
// among currently connected identities and the connection must be unbound.
func (r *Registry) Register(connID uuid.UUID, displayName string, avatarRef int) (*Identity, error) {
	if _, bound := r.byConn[connID]; bound {
		return nil, ErrAlreadyBound
	}
	if _, taken := r.byName[displayName]; taken {
		return nil, ErrNameTaken
	}

	id := &Identity{ConnID: connID, DisplayName: displayName, AvatarRef: avatarRef}
	r.byConn[connID] = id
	r.byName[displayName] = id
	r.order = append(r.order, id)

	r.logger.Debug("Identity registered", slog.String("connID", connID.String()), slog.String("name", displayName))
	return id, nil
}

// Unbind releases a connection's identity, freeing its display name
// immediately for reuse. Returns nil if the connection was never bound.
func (r *Registry) Unbind(connID uuid.UUID) *Identity {
	id, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	delete(r.byConn, connID)
	delete(r.byName, id.DisplayName)
	r.order = lo.Without(r.order, id)

	r.logger.Debug("Identity unbound", slog.String("connID", connID.String()), slog.String("name", id.DisplayName))
	return id
}

func (r *Registry) Lookup(connID uuid.UUID) (*Identity, bool) {
	id, ok := r.byConn[connID]
	return id, ok
}

func (r *Registry) LookupByName(name string) (*Identity, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// All returns a snapshot in registration order.
func (r *Registry) All() []*Identity {
	out := make([]*Identity, len(r.order))
	copy(out, r.order)
	return out
}
