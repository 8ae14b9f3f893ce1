package store

import (
	"context"
	"time"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
)

// CachedStatus is the status of a user aggregated over every gateway
// instance. Status is the strongest live report (online over away over
// offline) and Instance names the instance that reported it.
type CachedStatus struct {
	Status    domain.Status
	LastSeen  time.Time
	UpdatedAt time.Time
	Instance  string
}

// StatusStore caches presence status across instances.
type StatusStore interface {
	// SetStatus records this instance's view of a status change. An offline
	// change withdraws only this instance's report. Reports expire after ttl
	// so a crashed instance cannot pin users online forever.
	SetStatus(ctx context.Context, change domain.StatusChange, ttl time.Duration) error

	// GetStatuses returns the cached entries of the given users. Missing
	// users are absent from the result.
	GetStatuses(ctx context.Context, userIDs []string) (map[string]CachedStatus, error)

	// Close closes the store connection.
	Close() error
}
