package repository

import (
	"context"
	"time"
)

// LastSeenRepository persists the last time each user was online.
type LastSeenRepository interface {
	SetLastSeen(ctx context.Context, userID string, at time.Time) error
	BatchGetLastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error)
}
