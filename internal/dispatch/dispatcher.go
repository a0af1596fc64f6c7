package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ProjectGrinder/network-moment/internal/chat"
	"github.com/ProjectGrinder/network-moment/pkg/metrics"
	"github.com/ProjectGrinder/network-moment/pkg/protocol"
	"github.com/google/uuid"
)

// ErrEvicted is the close reason handed to connections torn down by the
// dispatcher itself (send failure, disconnect cleanup). Never surfaced to
// peers. Close callbacks must not feed it back through Disconnect: the loop
// has already run the cascade, and re-entering intake from inside the loop
// would block the only goroutine that drains it.
var ErrEvicted = errors.New("connection evicted")

type opKind int

const (
	opAttach opKind = iota
	opCommand
	opDetach
)

type envelope struct {
	op        opKind
	conn      Conn // attach only
	connID    uuid.UUID
	cmd       protocol.Command
	decodeErr error
}

// outbound pairs one event with its resolved recipient set.
type outbound struct {
	ev protocol.Event
	to []uuid.UUID
}

// Dispatcher is the orchestration root. All shared state (registry,
// directory, focus, pending join requests, connection table) is owned by the
// single Run loop: commands are funneled through the intake channel and
// handlers never run concurrently with each other. Handlers are
// check-then-act atomic; a returned error means zero mutation happened.
type Dispatcher struct {
	logger   *slog.Logger
	registry *chat.Registry
	rooms    *chat.Directory
	focus    *chat.FocusTracker
	bcast    *Broadcaster

	// pending join requests by room name; cleared on resolve, room
	// deletion, or requester disconnect. Repeated requests do not
	// re-notify admins.
	pending map[string]map[uuid.UUID]struct{}

	intake chan envelope
}

func New(logger *slog.Logger, registry *chat.Registry, rooms *chat.Directory, focus *chat.FocusTracker, bcast *Broadcaster) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With(slog.String("component", "dispatcher")),
		registry: registry,
		rooms:    rooms,
		focus:    focus,
		bcast:    bcast,
		pending:  make(map[string]map[uuid.UUID]struct{}),
		intake:   make(chan envelope, 1024),
	}
}

// Run processes intake until the context is cancelled. It is the only
// goroutine that touches shared chat state.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatch loop stopped")
			return
		case env := <-d.intake:
			d.step(env)
		}
	}
}

func (d *Dispatcher) step(env envelope) {
	switch env.op {
	case opAttach:
		d.bcast.Attach(env.conn)
	case opDetach:
		d.evict(env.connID)
	case opCommand:
		d.process(env.connID, env.cmd, env.decodeErr)
	}
}

// Attach registers a live connection with the broadcaster.
func (d *Dispatcher) Attach(c Conn) {
	d.intake <- envelope{op: opAttach, conn: c, connID: c.ID()}
}

// HandleMessage decodes one inbound frame and queues it for the loop. Safe
// to call from any connection goroutine; decode touches no shared state.
func (d *Dispatcher) HandleMessage(_ context.Context, connID uuid.UUID, msg []byte) {
	cmd, err := protocol.Decode(msg)
	d.intake <- envelope{op: opCommand, connID: connID, cmd: cmd, decodeErr: err}
}

// Disconnect queues the eviction cascade for a closed connection.
func (d *Dispatcher) Disconnect(connID uuid.UUID, err error) {
	d.intake <- envelope{op: opDetach, connID: connID}
}

func (d *Dispatcher) process(connID uuid.UUID, cmd protocol.Command, decodeErr error) {
	conn, ok := d.bcast.Get(connID)
	if !ok {
		// Connection already evicted; drop the stale command.
		return
	}

	if decodeErr != nil {
		d.deliverError(conn, decodeErr)
		return
	}

	metrics.CommandsTotal.WithLabelValues(cmd.Kind()).Inc()

	outs, err := d.handle(conn, cmd)
	if err != nil {
		d.deliverFailure(conn, cmd.Kind(), err)
		return
	}
	d.deliverAll(outs, connID)
}

// handle routes one command to its handler. The switch is exhaustive over
// the closed command set; Decode never produces anything else.
func (d *Dispatcher) handle(conn Conn, cmd protocol.Command) (outs []outbound, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Handler panic recovered", slog.String("command", cmd.Kind()), slog.Any("panic", r))
			outs = nil
			err = &Error{Kind: KindInternal, Message: "internal server error"}
		}
	}()

	switch c := cmd.(type) {
	case protocol.RegisterUser:
		return d.handleRegisterUser(conn, c)
	case protocol.CreateRoom:
		return d.handleCreateRoom(conn, c)
	case protocol.OpenRoom:
		return d.handleOpenRoom(conn, c)
	case protocol.PostMessage:
		return d.handlePostMessage(conn, c)
	case protocol.RequestJoin:
		return d.handleRequestJoin(conn, c)
	case protocol.ApproveJoin:
		return d.handleApproveJoin(conn, c)
	case protocol.RejectJoin:
		return d.handleRejectJoin(conn, c)
	case protocol.AddAdmin:
		return d.handleAddAdmin(conn, c)
	case protocol.RemoveUser:
		return d.handleRemoveUser(conn, c)
	case protocol.Inbox:
		return d.handleInbox(conn, c)
	case protocol.SnapshotRequest:
		return d.handleSnapshot(conn)
	case protocol.Heartbeat:
		return d.handleHeartbeat(conn)
	}
	return nil, &Error{Kind: KindInternal, Message: "unhandled command kind"}
}

// deliverAll fans out every outbound event, then runs the eviction cascade
// for any recipient whose send failed. One dead peer never blocks siblings.
func (d *Dispatcher) deliverAll(outs []outbound, origin uuid.UUID) {
	deadSet := make(map[uuid.UUID]struct{})
	for _, out := range outs {
		for _, dead := range d.bcast.Deliver(out.ev, out.to, origin) {
			deadSet[dead] = struct{}{}
		}
	}
	for connID := range deadSet {
		d.evict(connID)
	}
}

// deliverFailure maps a handler error to the originator-only event the
// taxonomy prescribes. No mutation has happened by this point.
func (d *Dispatcher) deliverFailure(conn Conn, command string, err error) {
	var derr *Error
	if !errors.As(err, &derr) {
		derr = &Error{Kind: KindInternal, Message: "internal server error"}
	}
	d.logger.Debug("Command rejected",
		slog.String("command", command),
		slog.String("kind", derr.Kind.String()),
		slog.String("reason", derr.Message),
	)

	var ev protocol.Event
	if derr.Kind == KindAuthorization {
		ev = protocol.Event{Event: protocol.EventAccessDenied, Data: protocol.AccessDeniedData{Message: derr.Message}}
	} else {
		ev = protocol.Event{Event: protocol.EventError, Data: protocol.ErrorData{Command: command, Message: derr.Message}}
	}
	d.deliverAll([]outbound{{ev: ev, to: []uuid.UUID{conn.ID()}}}, conn.ID())
}

// deliverError reports a frame that never made it past decoding.
func (d *Dispatcher) deliverError(conn Conn, decodeErr error) {
	var derr *protocol.DecodeError
	var uerr *protocol.UnknownKindError
	data := protocol.ErrorData{Message: "malformed command"}
	switch {
	case errors.As(decodeErr, &derr):
		data = protocol.ErrorData{Command: derr.Command, Message: derr.Message}
	case errors.As(decodeErr, &uerr):
		data = protocol.ErrorData{Command: uerr.Kind, Message: "unknown command"}
	}
	ev := protocol.Event{Event: protocol.EventError, Data: data}
	d.deliverAll([]outbound{{ev: ev, to: []uuid.UUID{conn.ID()}}}, conn.ID())
}

// evict runs the full cleanup cascade for a connection: transport close,
// identity unbind, defocus, pending-request cleanup, and admin removal from
// every room the identity administered (deleting rooms left adminless).
// Graceful disconnects, send timeouts and heartbeat failures all land here.
func (d *Dispatcher) evict(connID uuid.UUID) {
	conn, attached := d.bcast.Get(connID)
	id := d.registry.Unbind(connID)
	if !attached && id == nil {
		return // already fully cleaned up
	}

	d.bcast.Detach(connID)
	if attached {
		conn.Close(ErrEvicted)
	}
	d.focus.Unfocus(connID)
	for _, requesters := range d.pending {
		delete(requesters, connID)
	}

	if id == nil {
		return // never registered, nothing to announce
	}
	metrics.Evictions.Inc()
	d.logger.Info("Identity evicted", slog.String("connID", connID.String()), slog.String("name", id.DisplayName))

	var outs []outbound
	for _, room := range d.rooms.List() {
		if !room.IsAdmin(id) {
			continue
		}
		if d.rooms.RemoveAdmin(room, id) {
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
	}
	outs = append(outs, outbound{
		ev: protocol.Event{Event: protocol.EventUserList, Data: userListData(d.registry.All())},
		to: d.allConns(),
	})
	d.deliverAll(outs, connID)
}

// allConns resolves every connection currently bound to an identity.
func (d *Dispatcher) allConns() []uuid.UUID {
	ids := d.registry.All()
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		out[i] = id.ConnID
	}
	return out
}

// adminConns resolves a room's admin set to live connections. Disconnected
// admins have already been removed from the set by the eviction cascade;
// the broadcaster still skips any stale entry rather than erroring.
func (d *Dispatcher) adminConns(room *chat.Room) []uuid.UUID {
	out := make([]uuid.UUID, len(room.Admins))
	for i, id := range room.Admins {
		out[i] = id.ConnID
	}
	return out
}
