package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/hub"
	"github.com/weiawesome/wes-social-realtime/internal/presence"
	"github.com/weiawesome/wes-social-realtime/internal/service"
	pkgjwt "github.com/weiawesome/wes-social-realtime/pkg/jwt"
	"github.com/weiawesome/wes-social-realtime/pkg/middleware"
)

type stack struct {
	svc service.PresenceService
	hub *hub.Hub
	jwt *pkgjwt.Manager
}

func newStack(t *testing.T) *stack {
	t.Helper()
	h := hub.NewHub()
	reg := presence.NewRegistry(h, presence.Config{
		IdleThreshold:       5 * time.Minute,
		DisconnectThreshold: 15 * time.Minute,
	}, presence.WithClock(clockwork.NewFakeClock()))
	m, err := pkgjwt.NewManager("test-secret", "", time.Hour)
	require.NoError(t, err)
	return &stack{
		svc: service.NewPresenceService(reg, h, m, nil, nil, nil),
		hub: h,
		jwt: m,
	}
}

func (s *stack) token(t *testing.T, userID, tokenType string, roles ...string) string {
	t.Helper()
	tok, err := s.jwt.Generate(userID, tokenType, roles)
	require.NoError(t, err)
	return tok
}

func (s *stack) notifyRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewNotifyHandler(s.svc, middleware.NewAuthMiddleware(s.jwt)).RegisterRoutes(r)
	return r
}

func (s *stack) publicRouter() *mux.Router {
	httpHandler := NewHTTPHandler(s.svc)
	wsHandler := NewWSHandler(s.svc, hub.ClientConfig{
		PingInterval:   time.Second,
		PongWait:       5 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     16,
	})

	r := mux.NewRouter()
	r.HandleFunc("/ws", wsHandler.HandleWebSocket)
	r.HandleFunc("/api/v1/users/status", httpHandler.GetStatuses).Methods("GET")
	r.HandleFunc("/api/v1/users/{user_id}/status", httpHandler.GetStatus).Methods("GET")
	r.HandleFunc("/health", httpHandler.HealthCheck).Methods("GET")
	return r
}

func postJSON(r http.Handler, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEmit_Accepted(t *testing.T) {
	s := newStack(t)
	r := s.notifyRouter()

	w := postJSON(r, "/internal/v1/emit", s.token(t, "web", pkgjwt.TypeService, RoleService),
		`{"room":"chat_7","event":"newMessage","payload":{"text":"hi"}}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.JSONEq(t, `{"success":true,"data":{"room":"chat_7","event":"newMessage"}}`, w.Body.String())
}

func TestEmit_Rejections(t *testing.T) {
	s := newStack(t)
	r := s.notifyRouter()
	serviceToken := s.token(t, "web", pkgjwt.TypeService, RoleService)

	cases := []struct {
		name  string
		token string
		body  string
		code  int
	}{
		{"no token", "", `{"room":"chat_7","event":"newMessage"}`, http.StatusUnauthorized},
		{"user token", s.token(t, "alice", pkgjwt.TypeAccess, "user"), `{"room":"chat_7","event":"newMessage"}`, http.StatusForbidden},
		{"unknown event", serviceToken, `{"room":"chat_7","event":"pokeUser"}`, http.StatusBadRequest},
		{"forged presence", serviceToken, `{"room":"profile_alice","event":"userStatus","payload":{"status":"offline"}}`, http.StatusBadRequest},
		{"two targets", serviceToken, `{"room":"chat_7","user_id":"1","event":"newMessage"}`, http.StatusBadRequest},
		{"bad room", serviceToken, `{"room":"lobby","event":"newMessage"}`, http.StatusBadRequest},
		{"bad json", serviceToken, `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(r, "/internal/v1/emit", tc.token, tc.body)
			require.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}
}

func TestInternalStatuses(t *testing.T) {
	s := newStack(t)
	r := s.notifyRouter()

	w := postJSON(r, "/internal/v1/users/status", s.token(t, "web", pkgjwt.TypeService, RoleService),
		`{"user_ids":["alice"]}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"success":true,"data":{"users":[{"user_id":"alice","status":"offline"}]}}`, w.Body.String())
}

func TestGetStatuses(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	r := s.publicRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/users/status?ids=alice,+bob,alice", nil))

	req.Equal(http.StatusOK, w.Code)
	var resp StatusResponse
	req.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	req.Len(resp.Users, 2)
	req.Equal("alice", resp.Users[0].UserID)
	req.Equal("bob", resp.Users[1].UserID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/users/status", nil))
	req.Equal(http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/users/carol/status", nil))
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), `"status":"offline"`)
}

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	newStack(t).publicRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWebSocket_AuthJoinAndReceive(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	srv := httptest.NewServer(s.publicRouter())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	req.NoError(err)
	defer conn.Close()

	// Unauthenticated joins are refused
	req.NoError(conn.WriteJSON(domain.ClientMessage{Type: domain.MsgTypeJoin, Room: "chat_7"}))
	req.Equal(domain.EventError, readFrame(t, conn).Event)

	// Given an authenticated connection in chat_7
	req.NoError(conn.WriteJSON(domain.ClientMessage{Type: domain.MsgTypeAuth, Token: s.token(t, "alice", pkgjwt.TypeAccess)}))
	req.Equal(domain.EventAuthenticated, readFrame(t, conn).Event)
	req.NoError(conn.WriteJSON(domain.ClientMessage{Type: domain.MsgTypeJoin, Room: "chat_7"}))
	req.Equal(domain.EventJoined, readFrame(t, conn).Event)

	req.NoError(conn.WriteJSON(domain.ClientMessage{Type: domain.MsgTypeHeartbeat}))
	req.Equal(domain.EventPong, readFrame(t, conn).Event)

	// When the web application pushes a message to the room
	req.NoError(s.svc.Notify(context.Background(), &domain.NotifyRequest{
		Room:    "chat_7",
		Event:   domain.EventNewMessage,
		Payload: json.RawMessage(`{"text":"hi"}`),
	}))

	// Then the browser receives it
	f := readFrame(t, conn)
	req.Equal(domain.EventNewMessage, f.Event)
	req.JSONEq(`{"text":"hi"}`, string(f.Payload))

	// And a status query covers every requested id
	req.NoError(conn.WriteJSON(domain.ClientMessage{Type: domain.MsgTypeRequestUserStatus, UserIDs: []string{"alice", "bob"}}))
	f = readFrame(t, conn)
	req.Equal(domain.EventRequestUserStatus, f.Event)
	var statuses map[string]domain.UserPresence
	req.NoError(json.Unmarshal(f.Payload, &statuses))
	req.Equal(domain.StatusOnline, statuses["alice"].Status)
	req.Equal(domain.StatusOffline, statuses["bob"].Status)
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	srv := httptest.NewServer(s.publicRouter())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	req.NoError(err)
	req.NoError(conn.WriteJSON(domain.ClientMessage{Type: domain.MsgTypeAuth, Token: s.token(t, "alice", pkgjwt.TypeAccess)}))
	req.Equal(domain.EventAuthenticated, readFrame(t, conn).Event)
	req.Equal(1, s.hub.RoomSize(domain.UserRoom("alice")))

	conn.Close()

	req.Eventually(func() bool {
		return s.hub.RoomSize(domain.UserRoom("alice")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
