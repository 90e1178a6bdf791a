package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"zenj-service/internal/engine"
	"zenj-service/internal/models"
)

type conversationEngine interface {
	Send(ctx context.Context, actor, conversationID string, out models.OutgoingMessage) (engine.Result, error)
	SendAsync(ctx context.Context, actor, conversationID string, out models.OutgoingMessage) (models.Message, <-chan engine.TurnResult, error)
	Read(ctx context.Context, actor, conversationID string, req models.PageRequest) (models.Page, error)
	React(ctx context.Context, actor, messageID, emoji string) (models.Message, error)
	MarkStatus(ctx context.Context, actor, messageID string, status models.DeliveryStatus) (models.Message, error)
	State(ctx context.Context, actor, conversationID string) (engine.State, error)
}

// ConversationHandler manages message endpoints.
type ConversationHandler struct {
	engine conversationEngine
	logger *zap.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(engine conversationEngine, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{engine: engine, logger: logger}
}

// GetMessages returns one page of the log after the given cursor.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	var req models.PageRequest
	if raw := c.Query("after"); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		req.After = after
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		req.Limit = limit
	}

	page, err := h.engine.Read(c.Request.Context(), actorFromContext(c), c.Param("conversation_id"), req)
	if err != nil {
		respondError(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, page)
}

// PostMessage sends a message and, unless async is set, waits for the reply.
// A responder failure answers 502 with the recorded failure in the body.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	var req models.OutgoingMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := actorFromContext(c)
	conversationID := c.Param("conversation_id")

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		msg, results, err := h.engine.SendAsync(c.Request.Context(), actor, conversationID, req)
		if err != nil {
			respondError(c, err, "could not send message")
			return
		}
		go h.drain(conversationID, results)
		c.JSON(http.StatusAccepted, gin.H{"message": msg})
		return
	}

	res, err := h.engine.Send(c.Request.Context(), actor, conversationID, req)
	if err != nil {
		if isResponderError(err) {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": res})
			return
		}
		respondError(c, err, "could not send message")
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *ConversationHandler) drain(conversationID string, results <-chan engine.TurnResult) {
	r := <-results
	if r.Err != nil {
		h.logger.Warn("async turn failed", zap.String("conversation_id", conversationID), zap.Error(r.Err))
	}
}

func (h *ConversationHandler) GetState(c *gin.Context) {
	state, err := h.engine.State(c.Request.Context(), actorFromContext(c), c.Param("conversation_id"))
	if err != nil {
		respondError(c, err, "failed to load state")
		return
	}
	c.JSON(http.StatusOK, state)
}

// AddReaction records the actor's emoji on a message. Repeats are no-ops.
func (h *ConversationHandler) AddReaction(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := h.engine.React(c.Request.Context(), actorFromContext(c), c.Param("message_id"), req.Emoji)
	if err != nil {
		respondError(c, err, "could not add reaction")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// UpdateStatus advances a message's delivery status. Regressions are no-ops.
func (h *ConversationHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status models.DeliveryStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := h.engine.MarkStatus(c.Request.Context(), actorFromContext(c), c.Param("message_id"), req.Status)
	if err != nil {
		respondError(c, err, "could not update status")
		return
	}
	c.JSON(http.StatusOK, msg)
}
