package service

import (
	"context"
	"encoding/json"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/hub"
	"github.com/weiawesome/wes-social-realtime/internal/presence"
	pkgjwt "github.com/weiawesome/wes-social-realtime/pkg/jwt"
)

// PresenceService is the entry point for transport callbacks, status queries
// and push requests.
type PresenceService interface {
	// HandleAuth authenticates a connection and registers its session.
	HandleAuth(ctx context.Context, c hub.Conn, token string) error

	// HandleHeartbeat refreshes the connection's session and replies pong.
	HandleHeartbeat(ctx context.Context, c hub.Conn) error

	// HandleJoin subscribes the connection to a room.
	HandleJoin(ctx context.Context, c hub.Conn, room string) error

	// HandleLeave unsubscribes the connection from a room.
	HandleLeave(ctx context.Context, c hub.Conn, room string) error

	// HandleRequestUserStatus answers a client's status query.
	HandleRequestUserStatus(ctx context.Context, c hub.Conn, userIDs []string) error

	// HandleDisconnect unregisters the connection's session.
	HandleDisconnect(ctx context.Context, c hub.Conn)

	// GetStatuses merges local, cached and persisted presence for userIDs.
	GetStatuses(ctx context.Context, userIDs []string) ([]domain.UserPresence, error)

	// Notify pushes an event to a room or user on every instance.
	Notify(ctx context.Context, req *domain.NotifyRequest) error
}

// Registry is the part of the presence registry the service drives.
type Registry interface {
	RegisterSession(conn hub.Conn, userID string) (*presence.Session, error)
	Heartbeat(connID string)
	UnregisterSession(connID string)
	Lookup(connID string) (presence.Session, bool)
	StatusBatch(userIDs []string) map[string]domain.Status
}

// RoomNotifier is the local room fan-out.
type RoomNotifier interface {
	Join(connID, room string) error
	Leave(connID, room string)
	Emit(room, event string, payload interface{})
	EmitToUser(userID, event string, payload interface{})
}

// TokenValidator validates client bearer tokens.
type TokenValidator interface {
	Validate(token string) (*pkgjwt.Claims, error)
}

// Broadcaster forwards emits to the other gateway instances.
type Broadcaster interface {
	Publish(ctx context.Context, room, event string, payload json.RawMessage) error
}
