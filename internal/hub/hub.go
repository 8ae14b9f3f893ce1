package hub

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/metrics"
	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
)

// Conn is a live transport connection the hub can deliver events to.
type Conn interface {
	ID() string
	Send(event string, payload interface{}) error
	Close() error
}

// Hub keeps room membership for registered connections and fans events out
// to room members. Delivery is best-effort and at-most-once: a failed send to
// one member is logged and skipped.
type Hub struct {
	conns   map[string]Conn                // connID -> conn
	rooms   map[string]map[string]Conn     // room -> connID -> conn
	members map[string]map[string]struct{} // connID -> rooms
	mu      sync.RWMutex
	log     zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		conns:   make(map[string]Conn),
		rooms:   make(map[string]map[string]Conn),
		members: make(map[string]map[string]struct{}),
		log:     pkglog.Component("hub"),
	}
}

// Register makes a connection eligible for room membership.
func (h *Hub) Register(c Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.ID()]; ok {
		return domain.ErrDuplicateConnection
	}
	h.conns[c.ID()] = c
	h.members[c.ID()] = make(map[string]struct{})
	h.log.Debug().Str(pkglog.FieldConnID, c.ID()).Msg("connection registered")
	return nil
}

// Unregister drops every membership of the connection and forgets it.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connID]; !ok {
		return
	}
	h.leaveAllLocked(connID)
	delete(h.members, connID)
	delete(h.conns, connID)
	h.log.Debug().Str(pkglog.FieldConnID, connID).Msg("connection unregistered")
}

// Join adds a connection to a room. Joining twice has no additional effect.
func (h *Hub) Join(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return domain.ErrUnknownConnection
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]Conn)
	}
	h.rooms[room][connID] = c
	h.members[connID][room] = struct{}{}
	h.log.Debug().Str(pkglog.FieldConnID, connID).Str(pkglog.FieldRoom, room).Msg("connection joined room")
	return nil
}

// Leave removes a connection from a room. No-op if it is not a member.
func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(connID, room)
}

// LeaveAll removes a connection from every room it belongs to.
func (h *Hub) LeaveAll(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveAllLocked(connID)
}

func (h *Hub) leaveAllLocked(connID string) {
	for room := range h.members[connID] {
		h.leaveLocked(connID, room)
	}
}

func (h *Hub) leaveLocked(connID, room string) {
	if roomConns, ok := h.rooms[room]; ok {
		delete(roomConns, connID)
		if len(roomConns) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.members[connID]; ok {
		delete(rooms, room)
	}
}

// Emit delivers (event, payload) to every connection currently in room.
// Sends are non-blocking enqueues, so one caller's emits reach each member in
// call order.
func (h *Hub) Emit(room, event string, payload interface{}) {
	metrics.Emits.WithLabelValues(event).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID, c := range h.rooms[room] {
		err := c.Send(event, payload)
		metrics.RecordDelivery(err)
		if err != nil {
			h.log.Warn().Err(err).
				Str(pkglog.FieldConnID, connID).
				Str(pkglog.FieldRoom, room).
				Str(pkglog.FieldEvent, event).
				Msg("delivery failed, skipping connection")
		}
	}
}

// EmitToUser delivers to the user's private room.
func (h *Hub) EmitToUser(userID, event string, payload interface{}) {
	h.Emit(domain.UserRoom(userID), event, payload)
}

// RoomSize returns the number of connections in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms returns the sorted rooms a connection belongs to.
func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]string, 0, len(h.members[connID]))
	for room := range h.members[connID] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// IsRegistered reports whether connID is known to the hub.
func (h *Hub) IsRegistered(connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[connID]
	return ok
}

// Stop closes every registered connection. Their disconnect callbacks run the
// usual unregister path.
func (h *Hub) Stop() {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			h.log.Debug().Err(err).Str(pkglog.FieldConnID, c.ID()).Msg("close on shutdown failed")
		}
	}
}
