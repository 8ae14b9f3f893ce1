package kafka

import (
	"context"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
)

// NotifyHandler handles push requests read from the social events topic.
type NotifyHandler interface {
	Notify(ctx context.Context, req *domain.NotifyRequest) error
}

// SocialEventConsumer defines the interface for consuming social events.
type SocialEventConsumer interface {
	Start(ctx context.Context) error
	Close() error
}
