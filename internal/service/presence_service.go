package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/hub"
	"github.com/weiawesome/wes-social-realtime/internal/repository"
	"github.com/weiawesome/wes-social-realtime/internal/store"
	pkgjwt "github.com/weiawesome/wes-social-realtime/pkg/jwt"
	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
)

type presenceService struct {
	registry    Registry
	notifier    RoomNotifier
	validator   TokenValidator
	store       store.StatusStore             // optional
	repo        repository.LastSeenRepository // optional
	broadcaster Broadcaster                   // optional
	log         zerolog.Logger
}

// NewPresenceService creates a new PresenceService instance. store, repo and
// broadcaster may be nil on a single-instance deployment.
func NewPresenceService(
	registry Registry,
	notifier RoomNotifier,
	validator TokenValidator,
	s store.StatusStore,
	repo repository.LastSeenRepository,
	broadcaster Broadcaster,
) PresenceService {
	return &presenceService{
		registry:    registry,
		notifier:    notifier,
		validator:   validator,
		store:       s,
		repo:        repo,
		broadcaster: broadcaster,
		log:         pkglog.Component("service"),
	}
}

func (s *presenceService) HandleAuth(ctx context.Context, c hub.Conn, token string) error {
	if _, ok := s.registry.Lookup(c.ID()); ok {
		return s.replyError(c, domain.ErrAlreadyAuthed)
	}
	if token == "" {
		return s.replyError(c, errors.New("token is required"))
	}

	claims, err := s.validator.Validate(token)
	if err != nil {
		s.log.Debug().Err(err).Str(pkglog.FieldConnID, c.ID()).Msg("token rejected")
		return s.replyError(c, err)
	}
	if claims.Type != pkgjwt.TypeAccess {
		return s.replyError(c, pkgjwt.ErrInvalidToken)
	}

	if _, err := s.registry.RegisterSession(c, claims.UserID); err != nil {
		s.log.Warn().Err(err).Str(pkglog.FieldConnID, c.ID()).Str(pkglog.FieldUserID, claims.UserID).
			Msg("session registration failed")
		return s.replyError(c, err)
	}

	return c.Send(domain.EventAuthenticated, domain.AuthenticatedPayload{
		UserID: claims.UserID,
		ConnID: c.ID(),
	})
}

func (s *presenceService) HandleHeartbeat(ctx context.Context, c hub.Conn) error {
	s.registry.Heartbeat(c.ID())
	return c.Send(domain.EventPong, nil)
}

func (s *presenceService) HandleJoin(ctx context.Context, c hub.Conn, room string) error {
	if _, ok := s.registry.Lookup(c.ID()); !ok {
		return s.replyError(c, domain.ErrUnauthenticated)
	}
	if err := domain.ValidateJoinable(room); err != nil {
		return s.replyError(c, err)
	}
	if err := s.notifier.Join(c.ID(), room); err != nil {
		// the connection raced a disconnect
		s.log.Debug().Err(err).Str(pkglog.FieldConnID, c.ID()).Str(pkglog.FieldRoom, room).Msg("join failed")
		return s.replyError(c, err)
	}
	return c.Send(domain.EventJoined, domain.RoomPayload{Room: room})
}

func (s *presenceService) HandleLeave(ctx context.Context, c hub.Conn, room string) error {
	if _, ok := s.registry.Lookup(c.ID()); !ok {
		return s.replyError(c, domain.ErrUnauthenticated)
	}
	if err := domain.ValidateJoinable(room); err != nil {
		return s.replyError(c, err)
	}
	s.notifier.Leave(c.ID(), room)
	return c.Send(domain.EventLeft, domain.RoomPayload{Room: room})
}

func (s *presenceService) HandleRequestUserStatus(ctx context.Context, c hub.Conn, userIDs []string) error {
	presences, err := s.GetStatuses(ctx, userIDs)
	if err != nil {
		return s.replyError(c, err)
	}
	return c.Send(domain.EventRequestUserStatus, lo.KeyBy(presences, func(p domain.UserPresence) string {
		return p.UserID
	}))
}

func (s *presenceService) HandleDisconnect(ctx context.Context, c hub.Conn) {
	s.registry.UnregisterSession(c.ID())
}

// GetStatuses answers from the local registry first. Users offline here may be
// connected to another instance, so the shared cache and the last-seen table
// are consulted for them in parallel; the fresher last-seen wins.
func (s *presenceService) GetStatuses(ctx context.Context, userIDs []string) ([]domain.UserPresence, error) {
	ids := lo.Uniq(lo.Compact(userIDs))
	if len(ids) > domain.MaxStatusBatch {
		return nil, fmt.Errorf("%w: %d > %d", domain.ErrTooManyUserIDs, len(ids), domain.MaxStatusBatch)
	}

	local := s.registry.StatusBatch(ids)
	result := make(map[string]*domain.UserPresence, len(ids))
	for _, id := range ids {
		result[id] = &domain.UserPresence{UserID: id, Status: local[id]}
	}

	offline := lo.Filter(ids, func(id string, _ int) bool {
		return local[id] == domain.StatusOffline
	})
	if len(offline) == 0 {
		return s.collect(ids, result), nil
	}

	// Both lookups are best-effort.
	var (
		cached map[string]store.CachedStatus
		seen   map[string]time.Time
		g      errgroup.Group
	)
	if s.store != nil {
		g.Go(func() error {
			var err error
			if cached, err = s.store.GetStatuses(ctx, offline); err != nil {
				s.log.Warn().Err(err).Msg("status cache unavailable")
			}
			return nil
		})
	}
	if s.repo != nil {
		g.Go(func() error {
			var err error
			if seen, err = s.repo.BatchGetLastSeen(ctx, offline); err != nil {
				s.log.Warn().Err(err).Msg("last seen lookup failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	for id, at := range seen {
		result[id].LastSeen = lo.ToPtr(at)
	}
	for id, entry := range cached {
		p := result[id]
		p.Status = entry.Status
		if !entry.LastSeen.IsZero() && (p.LastSeen == nil || entry.LastSeen.After(*p.LastSeen)) {
			p.LastSeen = lo.ToPtr(entry.LastSeen)
		}
	}

	return s.collect(ids, result), nil
}

func (s *presenceService) collect(ids []string, result map[string]*domain.UserPresence) []domain.UserPresence {
	out := make([]domain.UserPresence, 0, len(ids))
	for _, id := range ids {
		out = append(out, *result[id])
	}
	return out
}

// Notify validates req, emits locally and forwards it to the other instances.
// Only validation errors are returned; delivery is best-effort.
func (s *presenceService) Notify(ctx context.Context, req *domain.NotifyRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	room, _ := req.Target()

	if req.UserID != "" {
		s.notifier.EmitToUser(req.UserID, req.Event, req.Payload)
	} else {
		s.notifier.Emit(room, req.Event, req.Payload)
	}

	if s.broadcaster != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.broadcaster.Publish(ctx, room, req.Event, req.Payload); err != nil {
			s.log.Warn().Err(err).Str(pkglog.FieldRoom, room).Str(pkglog.FieldEvent, req.Event).
				Msg("backplane publish failed")
		}
	}
	return nil
}

func (s *presenceService) replyError(c hub.Conn, err error) error {
	if sendErr := c.Send(domain.EventError, domain.ErrorPayload{Message: err.Error()}); sendErr != nil {
		return sendErr
	}
	return err
}
