package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/site-journal/internal/audit"
	"github.com/weiawesome/site-journal/internal/config"
	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/internal/hub"
	"github.com/weiawesome/site-journal/internal/service"
	"github.com/weiawesome/site-journal/pkg/log"
	"github.com/weiawesome/site-journal/pkg/middleware"
)

type WSHandler struct {
	hub      *hub.Hub
	service  service.ChatService
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(wsCfg.AllowedOrigins),
		},
	}
}

// originChecker allows every origin when the list is empty or holds "*".
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}

func (h *WSHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/chats/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the request. The identity established by the
// middleware, if any, is bound to the connection for its lifetime.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	l := log.Ctx(c.Request.Context())

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), middleware.GetUserID(c), h.hub, conn, h.wsCfg)
	if err := h.hub.Register(client); err != nil {
		l.Warn().Err(err).Msg("websocket rejected")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleMessage)
		audit.Log(log.WithLogger(context.Background(), client.Logger), audit.ActionDisconnect, client.UserID, "", "client disconnected")
	}()
}

// handleMessage dispatches one inbound frame. Every failure is reported to
// this connection only.
func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx := log.WithLogger(context.Background(), client.Logger)

	switch base.Type {
	case domain.MsgTypeSubscribe:
		var msg domain.SubscribeMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid subscribe message"))
			return
		}
		h.subscribe(ctx, client, strings.TrimSpace(msg.ObjectID))

	case domain.MsgTypeUnsubscribe:
		var msg domain.UnsubscribeMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid unsubscribe message"))
			return
		}
		h.unsubscribe(ctx, client, strings.TrimSpace(msg.ObjectID))

	case domain.MsgTypeSendMessage:
		var msg domain.SendMessageWS
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid send_message"))
			return
		}
		h.sendMessage(ctx, client, &msg)

	case domain.MsgTypePing:
		client.SendMessage(map[string]string{"type": domain.MsgTypePong})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}
}

func (h *WSHandler) subscribe(ctx context.Context, client *hub.Client, objectID string) {
	if objectID == "" {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeValidation, "object_id is required"))
		return
	}

	joined := false
	err := h.service.Catchup(ctx, objectID, client.UserID,
		func() error {
			if client.InRoom(objectID) {
				return nil
			}
			if err := h.hub.Subscribe(client.ID, objectID); err != nil {
				return err
			}
			joined = true
			return nil
		},
		func(snap *service.Snapshot) error {
			if err := client.SendMessage(&domain.SubscriptionMessage{
				Type:     domain.MsgTypeSubscribed,
				ObjectID: objectID,
			}); err != nil {
				return err
			}
			return client.SendMessage(&domain.HistorySnapshotMessage{
				Type:        domain.MsgTypeHistorySnapshot,
				ObjectID:    objectID,
				ChatID:      snap.ChatID,
				Messages:    snap.Messages,
				UnreadCount: snap.UnreadCount,
			})
		},
	)
	if err != nil {
		if joined {
			h.hub.Unsubscribe(client.ID, objectID)
		}
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldObjectID, objectID).Msg("subscribe failed")
		client.SendMessage(errorEvent(err))
		return
	}

	audit.Log(ctx, audit.ActionSubscribe, client.UserID, objectID, "subscribed to chat")
}

func (h *WSHandler) unsubscribe(ctx context.Context, client *hub.Client, objectID string) {
	if objectID == "" {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeValidation, "object_id is required"))
		return
	}
	if !client.InRoom(objectID) {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeNotSubscribed, "not subscribed to "+objectID))
		return
	}

	if err := h.hub.Unsubscribe(client.ID, objectID); err != nil {
		client.SendMessage(errorEvent(err))
		return
	}

	audit.Log(ctx, audit.ActionUnsubscribe, client.UserID, objectID, "unsubscribed from chat")
	client.SendMessage(&domain.SubscriptionMessage{
		Type:     domain.MsgTypeUnsubscribed,
		ObjectID: objectID,
	})
}

// sendMessage acknowledges to the sender directly; the canonical message
// reaches subscribers, the sender included, only through the room broadcast.
func (h *WSHandler) sendMessage(ctx context.Context, client *hub.Client, msg *domain.SendMessageWS) {
	author, err := resolveAuthor(client.UserID, msg.Author)
	if err != nil {
		client.SendMessage(errorEvent(err))
		return
	}

	result, err := h.service.SendMessage(ctx, msg.ObjectID, domain.MessageDraft{
		AuthorID:    author,
		Body:        msg.Body,
		Attachment:  msg.Attachment,
		TaskIDs:     msg.TaskIDs,
		ClientMsgID: msg.ClientMsgID,
	}, service.SourceSocket)
	if err != nil {
		if status, _ := classify(err); serverFault(status) {
			l := log.Ctx(ctx)
			l.Error().Err(err).Str(log.FieldObjectID, msg.ObjectID).Msg("send message failed")
		}
		client.SendMessage(errorEvent(err))
		return
	}

	client.SendMessage(&domain.AckMessage{
		Type:        domain.MsgTypeAck,
		ClientMsgID: msg.ClientMsgID,
		Duplicate:   result.Duplicate,
		Message:     result.Message,
	})
}
