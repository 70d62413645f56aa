package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/games-society/internal/config"
	"github.com/weiawesome/games-society/internal/hub"
	pkglog "github.com/weiawesome/games-society/pkg/log"
	"github.com/weiawesome/games-society/pkg/middleware"
)

type WSHandler struct {
	hub       *hub.Hub
	core      hub.Core
	validator middleware.TokenValidator
	wsCfg     config.WebSocketConfig
	upgrader  websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, core hub.Core, validator middleware.TokenValidator, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:       h,
		core:      core,
		validator: validator,
		wsCfg:     wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsCfg.ReadBufferSize,
			WriteBufferSize: wsCfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := pkglog.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.core, h.wsCfg)
	h.hub.Register(client)

	if h.wsCfg.AuthTimeout > 0 {
		time.AfterFunc(h.wsCfg.AuthTimeout, func() {
			if !client.Session.IsAuthenticated() {
				client.Conn.Close()
			}
		})
	}

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base hub.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(hub.NewErrorMessage(hub.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	l := pkglog.L().With().Str("client_id", client.ID).Str("type", base.Type).Logger()
	ctx := pkglog.WithLogger(context.Background(), l)
	session := client.Session

	fail := func(err error) {
		l.Debug().Err(err).Msg("websocket request failed")
		if base.Ref != "" {
			client.SendMessage(&hub.AckMessage{Type: hub.MsgTypeAck, Ref: base.Ref, Code: hub.ErrorCode(err), Message: err.Error()})
			return
		}
		client.SendMessage(hub.NewErrorMessage(hub.ErrorCode(err), err.Error()))
	}
	decode := func(v any) bool {
		if err := json.Unmarshal(message, v); err != nil {
			client.SendMessage(hub.NewErrorMessage(hub.ErrCodeBadRequest, "Invalid "+base.Type+" message"))
			return false
		}
		return true
	}

	switch base.Type {
	case hub.MsgTypeAuth:
		var msg hub.AuthMessage
		if !decode(&msg) {
			return
		}
		claims, err := h.validator.ValidateToken(msg.Token)
		if err != nil {
			client.SendMessage(&hub.AuthResultMessage{Type: hub.MsgTypeAuthResult, Message: err.Error()})
			return
		}
		if err := session.Authenticate(claims.UserID, claims.Username); err != nil {
			client.SendMessage(&hub.AuthResultMessage{Type: hub.MsgTypeAuthResult, Message: err.Error()})
			return
		}
		h.hub.BindUser(client, claims.UserID)
		client.SendMessage(&hub.AuthResultMessage{
			Type:     hub.MsgTypeAuthResult,
			Success:  true,
			UserID:   claims.UserID,
			Username: claims.Username,
		})

	case hub.MsgTypeFocusConversation:
		var msg hub.FocusConversationMessage
		if !decode(&msg) {
			return
		}
		if _, err := session.FocusConversation(ctx, msg.ConversationID, msg.OtherID); err != nil {
			fail(err)
		}

	case hub.MsgTypeSendMessage:
		var msg hub.SendMessageMessage
		if !decode(&msg) {
			return
		}
		if err := session.SendMessage(base.Ref, msg.Text); err != nil {
			fail(err)
		}

	case hub.MsgTypeFocusProfile:
		var msg hub.FocusProfileMessage
		if !decode(&msg) {
			return
		}
		if err := session.FocusProfile(msg.UserID); err != nil {
			fail(err)
		}

	case hub.MsgTypeSetFollowing:
		var msg hub.SetFollowingMessage
		if !decode(&msg) {
			return
		}
		if err := session.SetFollowing(base.Ref, msg.Following); err != nil {
			fail(err)
		}

	case hub.MsgTypeWatchPost:
		var msg hub.WatchPostMessage
		if !decode(&msg) {
			return
		}
		if err := session.WatchPost(msg.PostID); err != nil {
			fail(err)
		}

	case hub.MsgTypeUnwatchPost:
		var msg hub.WatchPostMessage
		if !decode(&msg) {
			return
		}
		session.UnwatchPost(msg.PostID)

	case hub.MsgTypeToggle:
		var msg hub.ToggleMessage
		if !decode(&msg) {
			return
		}
		if err := session.Toggle(base.Ref, msg.PostID, msg.Field, msg.Desired); err != nil {
			fail(err)
		}

	case hub.MsgTypePing:
		client.SendMessage(map[string]string{"type": hub.MsgTypePong})

	default:
		client.SendMessage(hub.NewErrorMessage(hub.ErrCodeBadRequest, "Unknown message type"))
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}
