// Package presence tracks live sessions per user and derives their
// online/away/offline status.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/hub"
	"github.com/weiawesome/wes-social-realtime/internal/metrics"
	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
)

// Notifier is the room fan-out the registry keeps in sync with its sessions.
type Notifier interface {
	Register(c hub.Conn) error
	Unregister(connID string)
	Join(connID, room string) error
	Emit(room, event string, payload interface{})
}

// Config holds the presence timing parameters.
type Config struct {
	IdleThreshold       time.Duration // online -> away
	DisconnectThreshold time.Duration // force-unregister
	SweepInterval       time.Duration
	GracePeriod         time.Duration // delay before last-session offline
}

// Session is a snapshot of one registered connection.
type Session struct {
	ConnID        string
	UserID        string
	ConnectedAt   time.Time
	LastHeartbeat time.Time
}

type session struct {
	Session
	conn hub.Conn
}

type userState struct {
	status   domain.Status
	sessions map[string]struct{}
	lastSeen time.Time

	// pending offline
	graceTimer    clockwork.Timer
	graceDeadline time.Time
	graceGen      uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithStatusListener registers fn to observe every status change. fn runs
// while the registry lock is held and must not block or call back into the
// registry.
func WithStatusListener(fn func(domain.StatusChange)) Option {
	return func(r *Registry) { r.listener = fn }
}

// Registry is the authoritative map from connections to users and from users
// to presence status. All methods are safe for concurrent use.
type Registry struct {
	sessions map[string]*session   // connID -> session
	users    map[string]*userState // userID -> state
	mu       sync.Mutex

	notifier Notifier
	clock    clockwork.Clock
	config   Config
	listener func(domain.StatusChange)
	graceSeq uint64
	log      zerolog.Logger

	quit     chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a Registry that mirrors sessions into notifier.
func NewRegistry(notifier Notifier, cfg Config, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*session),
		users:    make(map[string]*userState),
		notifier: notifier,
		clock:    clockwork.NewRealClock(),
		config:   cfg,
		log:      pkglog.Component("presence"),
		quit:     make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterSession records a live connection for userID and joins it to the
// user's private room. The user goes online if it was not already.
func (r *Registry) RegisterSession(conn hub.Conn, userID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := conn.ID()
	if _, ok := r.sessions[connID]; ok {
		r.log.Warn().Str(pkglog.FieldConnID, connID).Str(pkglog.FieldUserID, userID).
			Msg("duplicate session registration ignored")
		return nil, domain.ErrDuplicateConnection
	}
	if err := r.notifier.Register(conn); err != nil {
		return nil, err
	}
	if err := r.notifier.Join(connID, domain.UserRoom(userID)); err != nil {
		r.notifier.Unregister(connID)
		return nil, err
	}

	now := r.clock.Now()
	s := &session{
		Session: Session{ConnID: connID, UserID: userID, ConnectedAt: now, LastHeartbeat: now},
		conn:    conn,
	}
	r.sessions[connID] = s

	u, ok := r.users[userID]
	if !ok {
		u = &userState{status: domain.StatusOffline, sessions: make(map[string]struct{})}
		r.users[userID] = u
	}
	u.sessions[connID] = struct{}{}
	r.cancelGraceLocked(userID, u)
	r.setStatusLocked(userID, u, domain.StatusOnline, now)
	r.updateGaugesLocked()

	r.log.Debug().Str(pkglog.FieldConnID, connID).Str(pkglog.FieldUserID, userID).
		Int("sessions", len(u.sessions)).Msg("session registered")

	snapshot := s.Session
	return &snapshot, nil
}

// Heartbeat refreshes a session. An away user comes back online. Unknown
// connections are ignored.
func (r *Registry) Heartbeat(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	now := r.clock.Now()
	s.LastHeartbeat = now

	if u := r.users[s.UserID]; u != nil && u.status == domain.StatusAway {
		r.setStatusLocked(s.UserID, u, domain.StatusOnline, now)
	}
}

// UnregisterSession removes a session and all its room memberships. When it
// was the user's last session the user goes offline after the grace period.
// Unknown connections are ignored.
func (r *Registry) UnregisterSession(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unregisterLocked(connID)
}

// Lookup returns the session registered under connID.
func (r *Registry) Lookup(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return s.Session, true
}

// Status returns the status of userID. Unknown users are offline.
func (r *Registry) Status(userID string) domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[userID]; ok {
		return u.status
	}
	return domain.StatusOffline
}

// StatusBatch returns the status of each distinct non-empty id.
func (r *Registry) StatusBatch(userIDs []string) map[string]domain.Status {
	ids := lo.Uniq(lo.Compact(userIDs))

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]domain.Status, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out[id] = u.status
		} else {
			out[id] = domain.StatusOffline
		}
	}
	return out
}

// SessionCount returns the number of open sessions of userID.
func (r *Registry) SessionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[userID]; ok {
		return len(u.sessions)
	}
	return 0
}

// SweepIdle applies the time-based transitions: sessions past the disconnect
// threshold are dropped and their transport closed, users whose freshest
// heartbeat is past the idle threshold go away, and expired grace periods
// are finalized.
func (r *Registry) SweepIdle() {
	r.mu.Lock()

	now := r.clock.Now()
	var stale []hub.Conn

	if r.config.DisconnectThreshold > 0 {
		for connID, s := range r.sessions {
			if now.Sub(s.LastHeartbeat) > r.config.DisconnectThreshold {
				stale = append(stale, s.conn)
				r.unregisterLocked(connID)
				metrics.ForcedDisconnects.Inc()
			}
		}
	}

	for userID, u := range r.users {
		if u.graceTimer != nil && !now.Before(u.graceDeadline) {
			r.goOfflineLocked(userID, u, now)
			continue
		}
		if u.status != domain.StatusOnline || len(u.sessions) == 0 || r.config.IdleThreshold <= 0 {
			continue
		}
		if now.Sub(r.freshestLocked(u)) > r.config.IdleThreshold {
			r.setStatusLocked(userID, u, domain.StatusAway, now)
		}
	}
	r.updateGaugesLocked()

	r.mu.Unlock()

	for _, c := range stale {
		if err := c.Close(); err != nil {
			r.log.Debug().Err(err).Str(pkglog.FieldConnID, c.ID()).Msg("close stale connection failed")
		}
	}
	if len(stale) > 0 {
		r.log.Info().Int("count", len(stale)).Msg("stale sessions disconnected")
	}
}

// Start launches the sweep loop in a background goroutine.
func (r *Registry) Start(ctx context.Context) {
	go r.Run(ctx)
}

// Run calls SweepIdle every SweepInterval until ctx is done or Stop is called.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.doneCh)

	interval := r.config.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.quit:
			return
		case <-ticker.Chan():
			r.SweepIdle()
		}
	}
}

// Stop ends the sweep loop, unregisters every session and applies all
// pending offline transitions immediately. Transports are closed after the
// registry lock is released. Call Done() to wait for the loop to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.quit)

		r.mu.Lock()
		conns := make([]hub.Conn, 0, len(r.sessions))
		for connID, s := range r.sessions {
			conns = append(conns, s.conn)
			r.unregisterLocked(connID)
		}
		now := r.clock.Now()
		for userID, u := range r.users {
			r.goOfflineLocked(userID, u, now)
		}
		r.updateGaugesLocked()
		r.mu.Unlock()

		for _, c := range conns {
			c.Close()
		}
		r.log.Info().Int("sessions", len(conns)).Msg("presence registry stopped")
	})
}

// Done returns a channel that is closed when Run has returned.
func (r *Registry) Done() <-chan struct{} {
	return r.doneCh
}

func (r *Registry) unregisterLocked(connID string) {
	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	delete(r.sessions, connID)
	r.notifier.Unregister(connID)

	now := r.clock.Now()
	u := r.users[s.UserID]
	if u == nil {
		return
	}
	delete(u.sessions, connID)
	u.lastSeen = now

	r.log.Debug().Str(pkglog.FieldConnID, connID).Str(pkglog.FieldUserID, s.UserID).
		Int("sessions", len(u.sessions)).Msg("session unregistered")

	if len(u.sessions) > 0 {
		r.updateGaugesLocked()
		return
	}

	if r.config.GracePeriod <= 0 {
		r.goOfflineLocked(s.UserID, u, now)
	} else {
		r.scheduleGraceLocked(s.UserID, u, now)
	}
	r.updateGaugesLocked()
}

func (r *Registry) scheduleGraceLocked(userID string, u *userState, now time.Time) {
	r.cancelGraceLocked(userID, u)
	r.graceSeq++
	gen := r.graceSeq
	u.graceGen = gen
	u.graceDeadline = now.Add(r.config.GracePeriod)
	u.graceTimer = r.clock.AfterFunc(r.config.GracePeriod, func() {
		r.finishGrace(userID, gen)
	})
}

func (r *Registry) cancelGraceLocked(userID string, u *userState) {
	if u.graceTimer == nil {
		return
	}
	u.graceTimer.Stop()
	u.graceTimer = nil
	u.graceDeadline = time.Time{}
	r.log.Debug().Str(pkglog.FieldUserID, userID).Msg("pending offline cancelled")
}

// finishGrace runs from the grace timer. It is a no-op if the grace period
// was cancelled, rescheduled or already finalized by a sweep. It must not
// touch the clock: fake clocks may run timer callbacks while advancing.
func (r *Registry) finishGrace(userID string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok || u.graceTimer == nil || u.graceGen != gen || len(u.sessions) > 0 {
		return
	}
	u.graceTimer = nil
	r.goOfflineLocked(userID, u, u.graceDeadline)
	r.updateGaugesLocked()
}

func (r *Registry) goOfflineLocked(userID string, u *userState, now time.Time) {
	if u.graceTimer != nil {
		u.graceTimer.Stop()
		u.graceTimer = nil
	}
	r.setStatusLocked(userID, u, domain.StatusOffline, now)
	delete(r.users, userID)
}

func (r *Registry) setStatusLocked(userID string, u *userState, to domain.Status, now time.Time) {
	from := u.status
	if from == to {
		return
	}
	u.status = to

	change := domain.StatusChange{
		UserID:    userID,
		Previous:  from,
		Status:    to,
		Timestamp: now,
	}
	if to == domain.StatusOffline {
		change.LastSeen = u.lastSeen
	}

	metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
	r.log.Info().Str(pkglog.FieldUserID, userID).Str("from", string(from)).
		Str(pkglog.FieldPresence, string(to)).Msg("presence changed")

	r.notifier.Emit(domain.ProfileRoom(userID), domain.EventUserStatus, domain.NewUserStatusPayload(change))
	if r.listener != nil {
		r.listener(change)
	}
}

func (r *Registry) freshestLocked(u *userState) time.Time {
	var freshest time.Time
	for connID := range u.sessions {
		if s, ok := r.sessions[connID]; ok && s.LastHeartbeat.After(freshest) {
			freshest = s.LastHeartbeat
		}
	}
	return freshest
}

func (r *Registry) updateGaugesLocked() {
	metrics.OpenSessions.Set(float64(len(r.sessions)))
	metrics.TrackedUsers.Set(float64(len(r.users)))
}
