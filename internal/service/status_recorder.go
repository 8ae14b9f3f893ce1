package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/metrics"
	"github.com/weiawesome/wes-social-realtime/internal/repository"
	"github.com/weiawesome/wes-social-realtime/internal/store"
	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
)

const recordTimeout = 3 * time.Second

// StatusRecorder mirrors status changes into the shared status cache and
// stores last-seen timestamps of users going offline. Changes are queued
// without blocking; when the queue is full the change is dropped and the
// cache entry heals on the next transition or TTL expiry.
type StatusRecorder struct {
	store  store.StatusStore             // optional
	repo   repository.LastSeenRepository // optional
	ttl    time.Duration
	queue  chan domain.StatusChange
	quit   chan struct{}
	doneCh chan struct{}
	log    zerolog.Logger
}

// NewStatusRecorder creates a recorder. Either sink may be nil.
func NewStatusRecorder(s store.StatusStore, repo repository.LastSeenRepository, ttl time.Duration, queueSize int) *StatusRecorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &StatusRecorder{
		store:  s,
		repo:   repo,
		ttl:    ttl,
		queue:  make(chan domain.StatusChange, queueSize),
		quit:   make(chan struct{}),
		doneCh: make(chan struct{}),
		log:    pkglog.Component("status-recorder"),
	}
}

// Enqueue queues change. It never blocks.
func (r *StatusRecorder) Enqueue(change domain.StatusChange) {
	select {
	case r.queue <- change:
	default:
		r.log.Warn().Str(pkglog.FieldUserID, change.UserID).
			Str(pkglog.FieldPresence, string(change.Status)).
			Msg("status queue full, change dropped")
	}
}

// Start launches the worker in a background goroutine.
func (r *StatusRecorder) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop signals the worker to drain the queue and exit.
// Call Done() to wait for it to exit.
func (r *StatusRecorder) Stop() {
	close(r.quit)
}

// Done returns a channel that is closed when the worker has fully stopped.
func (r *StatusRecorder) Done() <-chan struct{} {
	return r.doneCh
}

func (r *StatusRecorder) run(ctx context.Context) {
	defer close(r.doneCh)

	for {
		select {
		case change := <-r.queue:
			r.record(ctx, change)
		case <-r.quit:
			r.drain(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx))
			return
		}
	}
}

func (r *StatusRecorder) drain(ctx context.Context) {
	for {
		select {
		case change := <-r.queue:
			r.record(ctx, change)
		default:
			return
		}
	}
}

func (r *StatusRecorder) record(ctx context.Context, change domain.StatusChange) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	l := r.log.With().Str(pkglog.FieldUserID, change.UserID).Str(pkglog.FieldPresence, string(change.Status)).Logger()

	if r.store != nil {
		err := r.store.SetStatus(ctx, change, r.ttl)
		metrics.RecordStatusWrite("cache", err)
		if err != nil {
			l.Warn().Err(err).Msg("failed to cache status")
		}
	}

	if r.repo != nil && change.Status == domain.StatusOffline && !change.LastSeen.IsZero() {
		err := r.repo.SetLastSeen(ctx, change.UserID, change.LastSeen)
		metrics.RecordStatusWrite("last_seen", err)
		if err != nil {
			l.Warn().Err(err).Msg("failed to store last seen")
		}
	}
}
