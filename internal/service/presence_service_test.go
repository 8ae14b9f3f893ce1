package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/hub"
	"github.com/weiawesome/wes-social-realtime/internal/presence"
	"github.com/weiawesome/wes-social-realtime/internal/store"
	pkgjwt "github.com/weiawesome/wes-social-realtime/pkg/jwt"
)

type sent struct {
	event   string
	payload interface{}
}

type recordingConn struct {
	id string

	mu   sync.Mutex
	sent []sent
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{event: event, payload: payload})
	return nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, s := range c.sent {
		out = append(out, s.event)
	}
	return out
}

func (c *recordingConn) last() sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

type fakeStatusStore struct {
	mu      sync.Mutex
	entries map[string]store.CachedStatus
	sets    []domain.StatusChange
	err     error
}

func (s *fakeStatusStore) SetStatus(_ context.Context, change domain.StatusChange, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = append(s.sets, change)
	return s.err
}

func (s *fakeStatusStore) GetStatuses(_ context.Context, ids []string) (map[string]store.CachedStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]store.CachedStatus{}
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (s *fakeStatusStore) Close() error { return nil }

type fakeLastSeenRepo struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func (r *fakeLastSeenRepo) SetLastSeen(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = map[string]time.Time{}
	}
	r.seen[userID] = at
	return nil
}

func (r *fakeLastSeenRepo) BatchGetLastSeen(_ context.Context, ids []string) (map[string]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]time.Time{}
	for _, id := range ids {
		if at, ok := r.seen[id]; ok {
			out[id] = at
		}
	}
	return out, nil
}

type fakeBroadcaster struct {
	rooms []string
	err   error
}

func (b *fakeBroadcaster) Publish(_ context.Context, room, event string, _ json.RawMessage) error {
	b.rooms = append(b.rooms, room+"/"+event)
	return b.err
}

type fixture struct {
	svc         PresenceService
	hub         *hub.Hub
	registry    *presence.Registry
	jwt         *pkgjwt.Manager
	store       *fakeStatusStore
	repo        *fakeLastSeenRepo
	broadcaster *fakeBroadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := hub.NewHub()
	reg := presence.NewRegistry(h, presence.Config{
		IdleThreshold:       5 * time.Minute,
		DisconnectThreshold: 15 * time.Minute,
	}, presence.WithClock(clockwork.NewFakeClock()))
	manager, err := pkgjwt.NewManager("test-secret", "", time.Hour)
	require.NoError(t, err)

	f := &fixture{
		hub:         h,
		registry:    reg,
		jwt:         manager,
		store:       &fakeStatusStore{entries: map[string]store.CachedStatus{}},
		repo:        &fakeLastSeenRepo{},
		broadcaster: &fakeBroadcaster{},
	}
	f.svc = NewPresenceService(reg, h, manager, f.store, f.repo, f.broadcaster)
	return f
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.jwt.Generate(userID, pkgjwt.TypeAccess, nil)
	require.NoError(t, err)
	return tok
}

func (f *fixture) authed(t *testing.T, connID, userID string) *recordingConn {
	t.Helper()
	c := &recordingConn{id: connID}
	require.NoError(t, f.svc.HandleAuth(context.Background(), c, f.token(t, userID)))
	return c
}

func TestHandleAuth_RegistersAndJoinsUserRoom(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	// Given an authenticated connection
	c := f.authed(t, "c1", "alice")
	req.Equal(domain.EventAuthenticated, c.last().event)
	req.Equal(domain.AuthenticatedPayload{UserID: "alice", ConnID: "c1"}, c.last().payload)
	req.Equal(domain.StatusOnline, f.registry.Status("alice"))

	// When a private notification is pushed to the user
	req.NoError(f.svc.Notify(ctx, &domain.NotifyRequest{
		UserID:  "alice",
		Event:   domain.EventNewNotification,
		Payload: json.RawMessage(`{"kind":"follow"}`),
	}))

	// Then the connection receives it through the user room
	req.Equal(domain.EventNewNotification, c.last().event)
}

func TestHandleAuth_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	serviceToken, err := f.jwt.Generate("svc", pkgjwt.TypeService, []string{"service"})
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", nil},
		{"garbage", "not-a-token", pkgjwt.ErrInvalidToken},
		{"service token", serviceToken, pkgjwt.ErrInvalidToken},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &recordingConn{id: fmt.Sprintf("c%d", i)}

			err := f.svc.HandleAuth(ctx, c, tc.token)

			require.Error(t, err)
			if tc.want != nil {
				require.ErrorIs(t, err, tc.want)
			}
			require.Equal(t, []string{domain.EventError}, c.events())
			_, ok := f.registry.Lookup(c.id)
			require.False(t, ok)
		})
	}
}

func TestHandleAuth_Twice(t *testing.T) {
	f := newFixture(t)
	c := f.authed(t, "c1", "alice")

	err := f.svc.HandleAuth(context.Background(), c, f.token(t, "alice"))

	require.ErrorIs(t, err, domain.ErrAlreadyAuthed)
	require.Equal(t, 1, f.registry.SessionCount("alice"))
}

func TestHandleJoin(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	anon := &recordingConn{id: "anon"}
	req.ErrorIs(f.svc.HandleJoin(ctx, anon, domain.ChatRoom("7")), domain.ErrUnauthenticated)

	c := f.authed(t, "c1", "alice")
	req.ErrorIs(f.svc.HandleJoin(ctx, c, domain.UserRoom("bob")), domain.ErrRoomNotJoinable)
	req.ErrorIs(f.svc.HandleJoin(ctx, c, "lobby"), domain.ErrInvalidRoom)

	req.NoError(f.svc.HandleJoin(ctx, c, domain.ChatRoom("7")))
	req.Equal(domain.EventJoined, c.last().event)
	req.Equal(1, f.hub.RoomSize(domain.ChatRoom("7")))
}

func TestHandleLeave_StopsDelivery(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	c := f.authed(t, "c1", "alice")
	room := domain.PostRoom("9")
	req.NoError(f.svc.HandleJoin(ctx, c, room))

	req.NoError(f.svc.HandleLeave(ctx, c, room))
	req.NoError(f.svc.Notify(ctx, &domain.NotifyRequest{Room: room, Event: domain.EventPostUpdate}))

	req.Equal(domain.EventLeft, c.last().event)
}

func TestHandleHeartbeat_Pong(t *testing.T) {
	f := newFixture(t)
	c := f.authed(t, "c1", "alice")

	require.NoError(t, f.svc.HandleHeartbeat(context.Background(), c))

	require.Equal(t, domain.EventPong, c.last().event)
}

func TestHandleDisconnect_BroadcastsOffline(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	// Given bob watching alice's profile
	watcher := f.authed(t, "w1", "bob")
	req.NoError(f.svc.HandleJoin(ctx, watcher, domain.ProfileRoom("alice")))
	c := f.authed(t, "c1", "alice")
	req.Equal(domain.EventUserStatus, watcher.last().event)

	// When alice's only connection closes
	f.svc.HandleDisconnect(ctx, c)

	// Then bob sees her go offline
	req.Equal(domain.StatusOffline, f.registry.Status("alice"))
	payload := watcher.last().payload.(domain.UserStatusPayload)
	req.Equal(domain.StatusOffline, payload.Status)
	req.Zero(f.hub.RoomSize(domain.UserRoom("alice")))
}

func TestGetStatuses_MergesSources(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	seen := time.Unix(1700000000, 0)
	f.authed(t, "c1", "alice")
	f.store.entries["bob"] = store.CachedStatus{Status: domain.StatusAway}
	f.store.entries["erin"] = store.CachedStatus{Status: domain.StatusOffline, LastSeen: seen}
	f.repo.seen = map[string]time.Time{"carol": seen.Add(-time.Hour)}

	got, err := f.svc.GetStatuses(context.Background(), []string{"alice", "bob", "carol", "dave", "erin", "alice", ""})

	req.NoError(err)
	req.Len(got, 5)
	req.Equal(domain.UserPresence{UserID: "alice", Status: domain.StatusOnline}, got[0])
	req.Equal(domain.StatusAway, got[1].Status)
	req.Equal(domain.StatusOffline, got[2].Status)
	req.True(seen.Add(-time.Hour).Equal(*got[2].LastSeen))
	req.Equal(domain.UserPresence{UserID: "dave", Status: domain.StatusOffline}, got[3])
	req.True(seen.Equal(*got[4].LastSeen))
}

func TestGetStatuses_FresherLastSeenWins(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	seen := time.Unix(1700000000, 0)
	f.store.entries["bob"] = store.CachedStatus{Status: domain.StatusOffline, LastSeen: seen.Add(-time.Minute)}
	f.store.entries["carol"] = store.CachedStatus{Status: domain.StatusOffline, LastSeen: seen}
	f.repo.seen = map[string]time.Time{"bob": seen, "carol": seen.Add(-time.Minute)}

	got, err := f.svc.GetStatuses(context.Background(), []string{"bob", "carol"})

	req.NoError(err)
	req.True(seen.Equal(*got[0].LastSeen))
	req.True(seen.Equal(*got[1].LastSeen))
}

func TestGetStatuses_CacheDownFallsBackToLocal(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("redis down")

	got, err := f.svc.GetStatuses(context.Background(), []string{"bob"})

	require.NoError(t, err)
	require.Equal(t, domain.StatusOffline, got[0].Status)
}

func TestGetStatuses_TooMany(t *testing.T) {
	f := newFixture(t)
	ids := make([]string, domain.MaxStatusBatch+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("u%d", i)
	}

	_, err := f.svc.GetStatuses(context.Background(), ids)

	require.ErrorIs(t, err, domain.ErrTooManyUserIDs)
}

func TestHandleRequestUserStatus_CoversEveryID(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.authed(t, "c1", "alice")
	asker := &recordingConn{id: "anon"}

	req.NoError(f.svc.HandleRequestUserStatus(context.Background(), asker, []string{"alice", "bob"}))

	reply := asker.last()
	req.Equal(domain.EventRequestUserStatus, reply.event)
	statuses := reply.payload.(map[string]domain.UserPresence)
	req.Len(statuses, 2)
	req.Equal(domain.StatusOnline, statuses["alice"].Status)
	req.Equal(domain.StatusOffline, statuses["bob"].Status)
}

func TestNotify_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Notify(ctx, &domain.NotifyRequest{Room: "chat_1", Event: "pokeUser"})
	require.ErrorIs(t, err, domain.ErrUnknownEvent)

	err = f.svc.Notify(ctx, &domain.NotifyRequest{Room: "chat_1", UserID: "a", Event: domain.EventNewMessage})
	require.ErrorIs(t, err, domain.ErrInvalidTarget)

	require.Empty(t, f.broadcaster.rooms)
}

func TestNotify_PublishesToBackplane(t *testing.T) {
	f := newFixture(t)
	f.broadcaster.err = errors.New("bus down")

	err := f.svc.Notify(context.Background(), &domain.NotifyRequest{Room: "chat_1", Event: domain.EventNewMessage})

	require.NoError(t, err)
	require.Equal(t, []string{"chat_1/" + domain.EventNewMessage}, f.broadcaster.rooms)
}

func TestNotify_UserTargetReachesEverySession(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	phone := f.authed(t, "c1", "alice")
	laptop := f.authed(t, "c2", "alice")
	other := f.authed(t, "c3", "bob")

	req.NoError(f.svc.Notify(context.Background(), &domain.NotifyRequest{UserID: "alice", Event: domain.EventNewMessage}))

	req.Equal(domain.EventNewMessage, phone.last().event)
	req.Equal(domain.EventNewMessage, laptop.last().event)
	req.NotContains(other.events(), domain.EventNewMessage)
	req.Equal([]string{"user_alice/" + domain.EventNewMessage}, f.broadcaster.rooms)
}
