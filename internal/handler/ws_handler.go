package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/hub"
	"github.com/weiawesome/wes-social-realtime/internal/service"
	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
)

// WSHandler handles WebSocket connections.
type WSHandler struct {
	service  service.PresenceService
	config   hub.ClientConfig
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(svc service.PresenceService, cfg hub.ClientConfig) *WSHandler {
	return &WSHandler{
		service: svc,
		config:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// HandleWebSocket upgrades the request and starts the connection pumps. The
// session is registered once the client sends an auth message.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := pkglog.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), conn, h.config)

	go client.WritePump()
	go client.ReadPump(h.handleMessage, h.onDisconnect)
}

func (h *WSHandler) handleMessage(c *hub.Client, message []byte) {
	ctx := context.Background()
	l := pkglog.L()

	var msg domain.ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.Send(domain.EventError, domain.ErrorPayload{Message: "invalid message format"})
		return
	}

	var err error
	switch msg.Type {
	case domain.MsgTypeAuth:
		err = h.service.HandleAuth(ctx, c, msg.Token)
	case domain.MsgTypeHeartbeat:
		err = h.service.HandleHeartbeat(ctx, c)
	case domain.MsgTypeJoin:
		err = h.service.HandleJoin(ctx, c, msg.Room)
	case domain.MsgTypeLeave:
		err = h.service.HandleLeave(ctx, c, msg.Room)
	case domain.MsgTypeRequestUserStatus:
		err = h.service.HandleRequestUserStatus(ctx, c, msg.UserIDs)
	default:
		c.Send(domain.EventError, domain.ErrorPayload{Message: "unknown message type: " + msg.Type})
		return
	}

	if err != nil {
		l.Debug().Err(err).Str(pkglog.FieldConnID, c.ID()).Str("type", msg.Type).Msg("websocket message rejected")
	}
}

func (h *WSHandler) onDisconnect(c *hub.Client) {
	h.service.HandleDisconnect(context.Background(), c)
}
