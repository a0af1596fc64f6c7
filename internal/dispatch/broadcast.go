package dispatch

import (
	"log/slog"

	"github.com/ProjectGrinder/network-moment/pkg/metrics"
	"github.com/ProjectGrinder/network-moment/pkg/protocol"
	"github.com/google/uuid"
)

// Conn is the transport collaborator contract the core depends on. Send must
// not block indefinitely; a failed send means the peer is gone.
type Conn interface {
	ID() uuid.UUID
	Send(msg []byte) error
	SupportsPush() bool
	Close(err error)
}

// Broadcaster owns the table of live connections and fans events out to
// computed recipient sets. Per-recipient failure is isolated: a dead peer is
// reported back for eviction and never blocks delivery to siblings.
type Broadcaster struct {
	conns  map[uuid.UUID]Conn
	logger *slog.Logger
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		conns:  make(map[uuid.UUID]Conn),
		logger: logger.With(slog.String("component", "broadcaster")),
	}
}

func (b *Broadcaster) Attach(c Conn) {
	b.conns[c.ID()] = c
	metrics.ActiveConnections.Inc()
}

func (b *Broadcaster) Detach(connID uuid.UUID) {
	if _, ok := b.conns[connID]; ok {
		delete(b.conns, connID)
		metrics.ActiveConnections.Dec()
	}
}

func (b *Broadcaster) Get(connID uuid.UUID) (Conn, bool) {
	c, ok := b.conns[connID]
	return c, ok
}

// Deliver sends one event to every recipient, skipping connections that are
// already gone and push-incapable transports unless they originated the
// command. Returns the connections whose send failed so the caller can run
// the eviction cascade.
func (b *Broadcaster) Deliver(ev protocol.Event, recipients []uuid.UUID, origin uuid.UUID) (dead []uuid.UUID) {
	payload, err := ev.Marshal()
	if err != nil {
		b.logger.Error("Failed to marshal event", slog.String("event", ev.Event), slog.Any("error", err))
		return nil
	}

	seen := make(map[uuid.UUID]struct{}, len(recipients))
	for _, connID := range recipients {
		if _, dup := seen[connID]; dup {
			continue
		}
		seen[connID] = struct{}{}

		conn, ok := b.conns[connID]
		if !ok {
			// Recipient disconnected between commit and fan-out. Skip, don't error.
			continue
		}
		if connID != origin && !conn.SupportsPush() {
			continue
		}
		if err := conn.Send(payload); err != nil {
			b.logger.Warn("Send failed during fan-out, marking for eviction",
				slog.String("connID", connID.String()),
				slog.String("event", ev.Event),
			)
			dead = append(dead, connID)
			continue
		}
		metrics.EventsDelivered.WithLabelValues(ev.Event).Inc()
	}
	return dead
}
