package domain

import "encoding/json"

// WebSocket message types from client.
const (
	MsgTypeAuth              = "auth"
	MsgTypeHeartbeat         = "heartbeat"
	MsgTypeJoin              = "join"
	MsgTypeLeave             = "leave"
	MsgTypeRequestUserStatus = "requestUserStatus"
)

// WebSocket event names to client that are not part of the domain vocabulary.
const (
	EventAuthenticated = "authenticated"
	EventJoined        = "joined"
	EventLeft          = "left"
	EventPong          = "pong"
	EventError         = "error"
)

// ClientMessage is the union of all client -> server messages.
type ClientMessage struct {
	Type    string   `json:"type"`
	Token   string   `json:"token,omitempty"`    // auth
	Room    string   `json:"room,omitempty"`     // join, leave
	UserIDs []string `json:"user_ids,omitempty"` // requestUserStatus
}

// Envelope is the server -> client frame.
type Envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// ErrorPayload is sent with the error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// AuthenticatedPayload confirms a successful auth message.
type AuthenticatedPayload struct {
	UserID string `json:"user_id"`
	ConnID string `json:"conn_id"`
}

// RoomPayload confirms a join or leave.
type RoomPayload struct {
	Room string `json:"room"`
}

// NotifyRequest asks the gateway to push an event to a room or a user. It is
// accepted from the internal HTTP API and the social events topic.
type NotifyRequest struct {
	Room    string          `json:"room,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Target resolves the room the request addresses.
func (r *NotifyRequest) Target() (string, error) {
	switch {
	case r.Room != "" && r.UserID != "":
		return "", ErrInvalidTarget
	case r.Room != "":
		return r.Room, ValidateRoom(r.Room)
	case r.UserID != "":
		room := UserRoom(r.UserID)
		return room, ValidateRoom(room)
	default:
		return "", ErrInvalidTarget
	}
}

// Validate checks event name and target.
func (r *NotifyRequest) Validate() error {
	if !IsPushEvent(r.Event) {
		return ErrUnknownEvent
	}
	_, err := r.Target()
	return err
}
