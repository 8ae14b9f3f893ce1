package domain

import "time"

// Status is the derived presence classification of a user.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// StatusChange describes one presence transition of a user.
type StatusChange struct {
	UserID    string    `json:"user_id"`
	Previous  Status    `json:"previous"`
	Status    Status    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
	Timestamp time.Time `json:"timestamp"`
}

// UserStatusPayload is the payload of the userStatus event.
type UserStatusPayload struct {
	UserID   string `json:"user_id"`
	Status   Status `json:"status"`
	LastSeen int64  `json:"last_seen,omitempty"` // unix seconds
}

// NewUserStatusPayload builds the client-facing payload for a status change.
func NewUserStatusPayload(c StatusChange) UserStatusPayload {
	p := UserStatusPayload{UserID: c.UserID, Status: c.Status}
	if !c.LastSeen.IsZero() {
		p.LastSeen = c.LastSeen.Unix()
	}
	return p
}

// UserPresence is the merged view returned to status queries.
type UserPresence struct {
	UserID   string     `json:"user_id"`
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
