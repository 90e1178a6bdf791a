package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"zenj-service/internal/apperr"
	"zenj-service/internal/models"
	"zenj-service/internal/observability"
)

const (
	wsKind       = "conversation"
	wsRoutingKey = "ws_events.conversations"
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Client commands.
const (
	CommandTypingStart = "typing.start"
	CommandTypingStop  = "typing.stop"
)

// AccessChecker decides whether an actor may join a conversation's room.
type AccessChecker interface {
	CanAccess(ctx context.Context, actor, conversationID string) error
}

// ConversationWebSocketHandler serves the realtime channel of a conversation.
type ConversationWebSocketHandler struct {
	hub    *Hub
	access AccessChecker
	logger *zap.Logger
}

// NewConversationWebSocketHandler constructs a ConversationWebSocketHandler.
func NewConversationWebSocketHandler(hub *Hub, access AccessChecker, logger *zap.Logger) *ConversationWebSocketHandler {
	return &ConversationWebSocketHandler{hub: hub, access: access, logger: logger}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type command struct {
	Type string `json:"type"`
}

// Handle upgrades the connection and subscribes it to the room.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("zenj-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor := observability.ActorFromRequest(c.Request)
	if actor == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user id"})
		return
	}

	if err := h.access.CanAccess(ctx, actor, conversationID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrInvalidState) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check access"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:         newConnID(),
		ConversationID: conversationID,
		UserID:         actor,
		DeviceID:       observability.DeviceIDFromRequest(c.Request),
		IP:             observability.IPFromRequest(c.Request),
		RequestID:      observability.RequestIDFromRequest(c.Request),
		TraceID:        span.SpanContext().TraceID().String(),
		ConnectedAt:    time.Now(),
	}
	// the handshake span ends with this handler; the connection outlives it
	connCtx := context.WithoutCancel(ctx)

	sub := h.hub.Join(conversationID, actor)
	observability.IncWSActive(wsKind)
	h.publish(connCtx, info, "ws_connect", "")
	h.logger.Debug("ws connected",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", actor),
		zap.String("conn_id", info.ConnID),
	)

	go h.writeLoop(connCtx, conn, sub, info)
	go h.readLoop(connCtx, conn, sub, info)
}

func (h *ConversationWebSocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, sub *Subscription, info ConnInfo) {
	var closeReason string
	typing := false
	defer func() {
		if typing {
			h.hub.PublishTyping(info.ConversationID, info.UserID, false)
		}
		h.hub.Unsubscribe(sub)
		observability.DecWSActive(wsKind)
		h.publish(ctx, info, "ws_disconnect", closeReason)
		conn.Close()
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.publish(ctx, info, "ws_error", closeReason)
			}
			return
		}
		switch cmd.Type {
		case CommandTypingStart:
			typing = true
			h.hub.PublishTyping(info.ConversationID, info.UserID, true)
		case CommandTypingStop:
			typing = false
			h.hub.PublishTyping(info.ConversationID, info.UserID, false)
		default:
			observability.IncWSEvent(wsKind, "unknown_command")
		}
	}
}

// writeLoop is the only goroutine writing to conn.
func (h *ConversationWebSocketHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *Subscription, info ConnInfo) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	write := func(event models.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			h.publish(ctx, info, "ws_error", err.Error())
			return false
		}
		return true
	}

	for {
		select {
		case <-sub.Done():
			// drain what was queued before the room closed
			for {
				select {
				case event := <-sub.Events():
					if !write(event) {
						return
					}
				default:
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"),
						time.Now().Add(writeWait))
					return
				}
			}
		case event := <-sub.Events():
			if !write(event) {
				return
			}
		case <-sub.Notify():
			for actor, started := range sub.TakeTyping() {
				kind := models.PresenceTypingStopped
				if started {
					kind = models.PresenceTypingStarted
				}
				if !write(models.Event{Type: models.EventTyping, Payload: models.PresenceEvent{
					ConversationID: info.ConversationID,
					ActorID:        actor,
					Kind:           kind,
				}}) {
					return
				}
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *ConversationWebSocketHandler) publish(ctx context.Context, info ConnInfo, event, reason string) {
	durationMS := int64(0)
	if event != "ws_connect" {
		durationMS = time.Since(info.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        wsKind,
			"resource_id": info.ConversationID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	observability.IncWSEvent(wsKind, event)
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
