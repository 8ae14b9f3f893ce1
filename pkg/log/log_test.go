package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &out))
	return out
}

func TestHTTPMiddleware_PropagatesRequestID(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	var inner string
	h := HTTPMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := Ctx(r.Context())
		l.Info().Msg("inside")
		inner = buf.String()
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/users/status", nil)
	r.Header.Set(headerRequestID, "req-1")
	r.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	req.Equal("req-1", w.Header().Get(headerRequestID))
	req.Contains(inner, `"request_id":"req-1"`)

	done := lastLine(t, &buf)
	req.Equal("request completed", done["message"])
	req.Equal(float64(http.StatusTeapot), done[FieldStatus])
	req.Equal("10.0.0.1", done[FieldClientIP])
}

func TestHTTPMiddleware_GeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	h := HTTPMiddleware(zerolog.New(&buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestCtx_FallsBackToGlobal(t *testing.T) {
	l := Ctx(context.Background())
	require.Equal(t, L().GetLevel(), l.GetLevel())
}

func TestGinMiddleware_LogsActor(t *testing.T) {
	req := require.New(t)
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer

	r := gin.New()
	r.Use(GinMiddleware(zerolog.New(&buf)))
	r.POST("/internal/v1/emit", func(c *gin.Context) {
		c.Set(FieldUserID, "web-app")
		c.Set(FieldRoles, []string{"service"})
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/v1/emit", nil))

	req.NotEmpty(w.Header().Get(headerRequestID))
	done := lastLine(t, &buf)
	req.Equal(float64(http.StatusAccepted), done[FieldStatus])
	req.Equal("web-app", done[FieldUserID])
	req.Equal([]interface{}{"service"}, done[FieldRoles])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.WarnLevel, parseLevel(" WARNING "))
	require.Equal(t, zerolog.Disabled, parseLevel("off"))
	require.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
}

func TestNew_StampsServiceAndInstance(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", ServiceName: "realtime-gateway", InstanceID: "node-1", Output: &buf})

	l.Debug().Msg("hello")

	line := lastLine(t, &buf)
	require.Equal(t, "realtime-gateway", line[FieldService])
	require.Equal(t, "node-1", line[FieldInstanceID])
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHTTPMiddleware_LogsUpgradeAtHandshake(t *testing.T) {
	req := require.New(t)
	var out syncBuffer
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})

	srv := httptest.NewServer(HTTPMiddleware(zerolog.New(&out))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// The connection is served elsewhere after the handler returns.
		go func() {
			<-release
			conn.Close()
		}()
	})))
	defer srv.Close()
	defer close(release)

	// Given an open WebSocket connection
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	req.NoError(err)
	defer conn.Close()

	// Then the request is logged as upgraded while the connection is still open
	req.Eventually(func() bool {
		return strings.Contains(out.String(), `"message":"websocket upgraded"`)
	}, 2*time.Second, 10*time.Millisecond)
	req.Contains(out.String(), `"status":101`)
	req.NotContains(out.String(), "websocket closed")
}
